package distribution

import (
	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/generic"
)

// =============================================================================
// WATER - Metered consumption with provisional fallback
// =============================================================================

// WaterUnit is a unit with an optional meter reading.
// A nil Reading means no reading was captured for the billing period.
type WaterUnit struct {
	UnitID      generic.UnitID
	Reading     *decimal.Decimal
	Coefficient decimal.Decimal // zero means 1
}

// WaterShare is one unit's water cost. Provisional marks an estimate that
// must be replaced once real meter data exists.
type WaterShare struct {
	UnitID      generic.UnitID
	Amount      decimal.Decimal
	Provisional bool
}

// DistributeWater splits water costs by reading × coefficient.
//
//   - nobody has a reading: equal split, every share provisional
//   - some units have readings: those are distributed by weighted reading,
//     a unit without its own reading gets 0 and is marked provisional
//     (one missing unit cannot be estimated from building-wide data)
//
// Shares are returned in input order.
func DistributeWater(total decimal.Decimal, units []WaterUnit) []WaterShare {
	shares := make([]WaterShare, 0, len(units))
	if len(units) == 0 {
		return shares
	}

	anyReading := false
	for _, u := range units {
		if u.Reading != nil {
			anyReading = true
			break
		}
	}

	if !anyReading {
		equal := generic.RoundMoney(total.Div(decimal.NewFromInt(int64(len(units)))))
		for _, u := range units {
			shares = append(shares, WaterShare{UnitID: u.UnitID, Amount: equal, Provisional: true})
		}
		return shares
	}

	lines := make([]Line, 0, len(units))
	for _, u := range units {
		if u.Reading == nil {
			continue
		}
		coefficient := u.Coefficient
		if coefficient.IsZero() {
			coefficient = decimal.NewFromInt(1)
		}
		lines = append(lines, Line{UnitID: u.UnitID, Value: u.Reading.Mul(coefficient)})
	}
	metered := DistributeByKey(total, lines)

	for _, u := range units {
		if u.Reading == nil {
			shares = append(shares, WaterShare{UnitID: u.UnitID, Amount: decimal.Zero, Provisional: true})
			continue
		}
		shares = append(shares, WaterShare{UnitID: u.UnitID, Amount: valueOrZero(metered, u.UnitID)})
	}
	return shares
}
