package distribution

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/generic"
)

// =============================================================================
// HEATING COST SPLIT (HeizKG)
// =============================================================================

// DefaultHeatingRatio is the consumption part used when none is configured.
var DefaultHeatingRatio = decimal.RequireFromString("0.7")

// ErrInvalidRatio is returned for a consumption ratio outside [0, 1].
var ErrInvalidRatio = fmt.Errorf("%w: heating consumption ratio must be within [0, 1]", generic.ErrValidation)

// HeatingUnit carries the two weights of the heating split.
type HeatingUnit struct {
	UnitID      generic.UnitID
	Area        decimal.Decimal
	Consumption decimal.Decimal
}

// HeatingShare is one unit's heating cost, broken down by pool.
type HeatingShare struct {
	Consumption decimal.Decimal
	Area        decimal.Decimal
	Total       decimal.Decimal
}

// SplitHeatingCosts splits total into a consumption pool (ratio) and an area
// pool (1 - ratio). Each pool goes through DistributeByKey on its own; a
// unit's total is the sum of its two independently rounded parts.
//
// Example: 10000, ratio 0.7, A (50 m², 300) and B (50 m², 100)
//
//	consumption pool 7000 -> A 5250, B 1750
//	area pool        3000 -> A 1500, B 1500
//	A 6750, B 3250
func SplitHeatingCosts(total decimal.Decimal, ratio decimal.Decimal, units []HeatingUnit) (map[generic.UnitID]HeatingShare, error) {
	if ratio.IsNegative() || ratio.GreaterThan(decimal.NewFromInt(1)) {
		return nil, ErrInvalidRatio
	}

	consumptionPool := generic.RoundMoney(total.Mul(ratio))
	areaPool := generic.RoundMoney(total.Mul(decimal.NewFromInt(1).Sub(ratio)))

	consumptionLines := make([]Line, 0, len(units))
	areaLines := make([]Line, 0, len(units))
	for _, u := range units {
		consumptionLines = append(consumptionLines, Line{UnitID: u.UnitID, Value: u.Consumption})
		areaLines = append(areaLines, Line{UnitID: u.UnitID, Value: u.Area})
	}

	byConsumption := DistributeByKey(consumptionPool, consumptionLines)
	byArea := DistributeByKey(areaPool, areaLines)

	result := make(map[generic.UnitID]HeatingShare, len(units))
	for _, u := range units {
		c := valueOrZero(byConsumption, u.UnitID)
		a := valueOrZero(byArea, u.UnitID)
		result[u.UnitID] = HeatingShare{
			Consumption: c,
			Area:        a,
			Total:       generic.RoundMoney(c.Add(a)),
		}
	}
	return result, nil
}

func valueOrZero(m map[generic.UnitID]decimal.Decimal, id generic.UnitID) decimal.Decimal {
	if v, ok := m[id]; ok {
		return v
	}
	return decimal.Zero
}
