/*
Package distribution splits building-level expenses across units.

PURPOSE:
  An operating-cost settlement starts from building totals (insurance,
  heating, water, reserve contributions) and has to end with one amount per
  unit. How a total is split depends on its distribution key:

    area        - usable floor area in m² (MRG default)
    mea         - ownership share in permille (WEG)
    persons     - number of registered persons
    consumption - metered, coefficient-weighted consumption
    equal       - same amount for every unit
    water       - metered water readings, see DistributeWater

ROUNDING:
  Every unit amount is rounded independently with generic.RoundMoney. This
  package never reconciles the sum back to the total; that is the caller's
  decision (settlement runs do it with generic.ReconcileRounding, MEA
  splits deliberately do not).

EMPTY BASIS:
  A total distribution value of zero yields an empty map, not an error.
  Callers must treat an empty result as "no basis for distribution", a data
  quality problem to surface, not a crash.

FILES:
  distribution.go - DistributeByKey, keys, MEA and person splits
  vacancy.go      - owner absorption of vacant area
  heating.go      - consumption/area heating split
  water.go        - metered water with provisional fallback
  category.go     - expense category mapping and VAT table
*/
package distribution

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/generic"
)

// =============================================================================
// DISTRIBUTION KEYS
// =============================================================================

// Key names the weight used to split an expense.
type Key string

const (
	KeyArea        Key = "area"
	KeyMEA         Key = "mea"
	KeyPersons     Key = "persons"
	KeyConsumption Key = "consumption"
	KeyEqual       Key = "equal"
	KeyWater       Key = "water"
)

// ParseKey validates a key name. An empty string defaults to area.
func ParseKey(s string) (Key, error) {
	switch Key(s) {
	case "":
		return KeyArea, nil
	case KeyArea, KeyMEA, KeyPersons, KeyConsumption, KeyEqual, KeyWater:
		return Key(s), nil
	default:
		return "", fmt.Errorf("%w: unknown distribution key %q", generic.ErrValidation, s)
	}
}

// Line is one unit's weight under a chosen key.
type Line struct {
	UnitID generic.UnitID
	Value  decimal.Decimal
}

// Unit carries every weight a unit can be distributed by.
type Unit struct {
	UnitID      generic.UnitID
	Area        decimal.Decimal // m²
	MEA         decimal.Decimal // permille
	Persons     decimal.Decimal
	Consumption decimal.Decimal // weighted reading
	Occupied    bool
}

// LinesForKey projects units onto the weight of key.
func LinesForKey(units []Unit, key Key) []Line {
	lines := make([]Line, 0, len(units))
	for _, u := range units {
		var v decimal.Decimal
		switch key {
		case KeyMEA:
			v = u.MEA
		case KeyPersons:
			v = u.Persons
		case KeyConsumption, KeyWater:
			v = u.Consumption
		case KeyEqual:
			v = decimal.NewFromInt(1)
		default:
			v = u.Area
		}
		lines = append(lines, Line{UnitID: u.UnitID, Value: v})
	}
	return lines
}

// =============================================================================
// PROPORTIONAL SPLIT
// =============================================================================

// DistributeByKey splits totalExpense × (value / Σvalue), each result rounded
// independently. Σvalue = 0 returns an empty map.
func DistributeByKey(totalExpense decimal.Decimal, lines []Line) map[generic.UnitID]decimal.Decimal {
	result := make(map[generic.UnitID]decimal.Decimal, len(lines))

	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Value)
	}
	if sum.IsZero() {
		return map[generic.UnitID]decimal.Decimal{}
	}

	for _, l := range lines {
		share := totalExpense.Mul(l.Value).Div(sum)
		result[l.UnitID] = generic.RoundMoney(result[l.UnitID].Add(share))
	}
	return result
}

// =============================================================================
// MEA (ownership permille) - WEG owner associations
// =============================================================================

// OwnerShare is one owner's permille share.
type OwnerShare struct {
	UnitID generic.UnitID
	Share  decimal.Decimal
}

// DistributeByMEA computes amount × (share / Σshares) per owner, rounded.
// The per-owner amounts are NOT reconciled: the sum may be a few cents off
// amount, because each owner's statement shows its own exact percentage.
func DistributeByMEA(amount decimal.Decimal, owners []OwnerShare) map[generic.UnitID]decimal.Decimal {
	lines := make([]Line, 0, len(owners))
	for _, o := range owners {
		lines = append(lines, Line{UnitID: o.UnitID, Value: o.Share})
	}
	return DistributeByKey(amount, lines)
}

// DistributeByPersons splits by registered person count.
func DistributeByPersons(amount decimal.Decimal, persons map[generic.UnitID]int) map[generic.UnitID]decimal.Decimal {
	lines := make([]Line, 0, len(persons))
	for unitID, n := range persons {
		lines = append(lines, Line{UnitID: unitID, Value: decimal.NewFromInt(int64(n))})
	}
	return DistributeByKey(amount, lines)
}

// Sum adds the amounts of a distribution result.
func Sum(shares map[generic.UnitID]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range shares {
		total = total.Add(v)
	}
	return generic.RoundMoney(total)
}
