package distribution

import (
	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/generic"
)

// =============================================================================
// VACANCY - Owner absorbs the share of vacant area (MRG)
// =============================================================================

// AreaUnit is a unit weighted by area with its occupancy state.
type AreaUnit struct {
	UnitID   generic.UnitID
	Area     decimal.Decimal
	Occupied bool
}

// VacancyResult separates the owner's part from the tenant shares.
type VacancyResult struct {
	OwnerShare   decimal.Decimal
	TenantPool   decimal.Decimal
	TenantShares map[generic.UnitID]decimal.Decimal
	OccupiedArea decimal.Decimal
	VacantArea   decimal.Decimal
}

// DistributeWithVacancy lets the owner absorb totalExpense × vacantArea/totalArea
// and redistributes the remaining pool across occupied units by area.
//
//   - zero vacancy: 100% through normal distribution, owner share 0
//   - 100% vacancy: everything to the owner, empty tenant shares
//   - zero total area: nothing can be distributed, empty result
func DistributeWithVacancy(totalExpense decimal.Decimal, units []AreaUnit) VacancyResult {
	total := generic.RoundMoney(totalExpense)
	result := VacancyResult{
		OwnerShare:   decimal.Zero,
		TenantPool:   decimal.Zero,
		TenantShares: map[generic.UnitID]decimal.Decimal{},
		OccupiedArea: decimal.Zero,
		VacantArea:   decimal.Zero,
	}

	var occupied []Line
	for _, u := range units {
		if u.Occupied {
			result.OccupiedArea = result.OccupiedArea.Add(u.Area)
			occupied = append(occupied, Line{UnitID: u.UnitID, Value: u.Area})
		} else {
			result.VacantArea = result.VacantArea.Add(u.Area)
		}
	}

	totalArea := result.OccupiedArea.Add(result.VacantArea)
	if totalArea.IsZero() {
		return result
	}

	if result.OccupiedArea.IsZero() {
		result.OwnerShare = total
		return result
	}

	result.OwnerShare = generic.RoundMoney(total.Mul(result.VacantArea).Div(totalArea))
	result.TenantPool = total.Sub(result.OwnerShare)
	result.TenantShares = DistributeByKey(result.TenantPool, occupied)
	return result
}
