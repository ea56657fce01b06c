/*
Package factory provides JSON to Go conversion for billing runs.

PURPOSE:
  Converts JSON run definitions into settlement and SEPA inputs. Property
  managers export expenses and unit master data from their accounting
  tools as JSON; the factory turns that into the typed inputs the engine
  consumes, with dates parsed and amounts kept as exact decimals.

JSON SCHEMA (settlement run):
  {
    "property_id": "P1",
    "year": 2025,
    "booking_date": "2026-02-15",
    "heating_ratio": "0.7",
    "units": [
      {"unit_id": "A", "area": "60", "mea": "600", "persons": "2",
       "consumption": "300", "water_reading": "42.5"}
    ],
    "expenses": [
      {"category": "Müllabfuhr", "amount": "1000.00", "key": "area"}
    ],
    "prepayments": {"T1": "500.00"}
  }

AMOUNTS:
  Money and weights accept JSON strings ("12.34") or numbers. Strings are
  preferred: they never pass through float64.

USAGE:
  f := factory.New()
  input, err := f.ParseSettlement(orgID, body)
  result, err := service.RunOperatingCostSettlement(ctx, input)

SEE ALSO:
  - sepa.go: direct debit / credit transfer batches
  - settlement/operating_costs.go: SettlementInput
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/distribution"
	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/settlement"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// SettlementJSON is the JSON representation of an operating cost settlement run.
type SettlementJSON struct {
	PropertyID   string                     `json:"property_id"`
	Year         int                        `json:"year"`
	BookingDate  string                     `json:"booking_date,omitempty"`
	HeatingRatio *decimal.Decimal           `json:"heating_ratio,omitempty"`
	Units        []UnitJSON                 `json:"units"`
	Expenses     []ExpenseJSON              `json:"expenses"`
	Prepayments  map[string]decimal.Decimal `json:"prepayments,omitempty"`
}

// UnitJSON carries the distribution weights of one unit.
type UnitJSON struct {
	UnitID           string           `json:"unit_id"`
	Area             decimal.Decimal  `json:"area"`
	MEA              decimal.Decimal  `json:"mea,omitempty"`
	Persons          decimal.Decimal  `json:"persons,omitempty"`
	Consumption      decimal.Decimal  `json:"consumption,omitempty"`
	WaterReading     *decimal.Decimal `json:"water_reading,omitempty"`
	WaterCoefficient decimal.Decimal  `json:"water_coefficient,omitempty"`
}

// ExpenseJSON is one building expense.
type ExpenseJSON struct {
	Category    string          `json:"category"`
	Description string          `json:"description,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Key         string          `json:"key,omitempty"` // area, mea, persons, consumption, equal, water
}

// MonthlyJSON is the JSON representation of a Vorschreibung run.
type MonthlyJSON struct {
	Year   int         `json:"year"`
	Month  int         `json:"month"`
	Leases []LeaseJSON `json:"leases"`
}

// LeaseJSON is one tenancy with its monthly net amounts.
type LeaseJSON struct {
	TenantID       string          `json:"tenant_id"`
	UnitID         string          `json:"unit_id"`
	MoveIn         string          `json:"move_in"`
	MoveOut        string          `json:"move_out,omitempty"`
	Grundmiete     decimal.Decimal `json:"grundmiete"`
	Betriebskosten decimal.Decimal `json:"betriebskosten"`
	Heizkosten     decimal.Decimal `json:"heizkosten"`
	Wasserkosten   decimal.Decimal `json:"wasserkosten"`
}

// =============================================================================
// FACTORY
// =============================================================================

// Factory converts JSON run definitions to engine inputs.
type Factory struct{}

// New creates a factory.
func New() *Factory {
	return &Factory{}
}

// ParseSettlement parses a JSON settlement run for an organization.
func (f *Factory) ParseSettlement(orgID generic.OrganizationID, data []byte) (settlement.SettlementInput, error) {
	var sj SettlementJSON
	if err := json.Unmarshal(data, &sj); err != nil {
		return settlement.SettlementInput{}, fmt.Errorf("%w: failed to parse settlement JSON: %v", generic.ErrValidation, err)
	}
	return f.SettlementFromJSON(orgID, sj)
}

// SettlementFromJSON validates sj and converts it. Every problem is reported
// at once.
func (f *Factory) SettlementFromJSON(orgID generic.OrganizationID, sj SettlementJSON) (settlement.SettlementInput, error) {
	var problems generic.ValidationErrors

	if strings.TrimSpace(sj.PropertyID) == "" {
		problems.Add("property_id is required")
	}
	if sj.Year < 1900 || sj.Year > 9999 {
		problems.Add("year %d is out of range", sj.Year)
	}
	if len(sj.Units) == 0 {
		problems.Add("at least one unit is required")
	}

	input := settlement.SettlementInput{
		OrganizationID: orgID,
		PropertyID:     generic.PropertyID(sj.PropertyID),
		Year:           sj.Year,
		HeatingRatio:   sj.HeatingRatio,
	}

	if sj.BookingDate != "" {
		bd, err := generic.ParseDate(sj.BookingDate)
		if err != nil {
			problems.Add("booking_date: %v", err)
		}
		input.BookingDate = bd
	}
	if sj.HeatingRatio != nil && (sj.HeatingRatio.IsNegative() || sj.HeatingRatio.GreaterThan(decimal.NewFromInt(1))) {
		problems.Add("heating_ratio must be between 0 and 1")
	}

	seen := make(map[string]bool, len(sj.Units))
	for i, u := range sj.Units {
		id := strings.TrimSpace(u.UnitID)
		switch {
		case id == "":
			problems.Add("units[%d]: unit_id is required", i)
		case seen[id]:
			problems.Add("units[%d]: duplicate unit_id %q", i, id)
		}
		seen[id] = true
		if u.Area.IsNegative() || u.MEA.IsNegative() || u.Persons.IsNegative() || u.Consumption.IsNegative() {
			problems.Add("units[%d]: weights must not be negative", i)
		}
		input.Units = append(input.Units, settlement.SettlementUnit{
			UnitID:           generic.UnitID(id),
			Area:             u.Area,
			MEA:              u.MEA,
			Persons:          u.Persons,
			Consumption:      u.Consumption,
			WaterReading:     u.WaterReading,
			WaterCoefficient: u.WaterCoefficient,
		})
	}

	for i, e := range sj.Expenses {
		if strings.TrimSpace(e.Category) == "" {
			problems.Add("expenses[%d]: category is required", i)
		}
		if e.Amount.IsNegative() {
			problems.Add("expenses[%d]: amount must not be negative", i)
		}
		if _, err := distribution.ParseKey(e.Key); err != nil {
			problems.Add("expenses[%d]: unknown key %q", i, e.Key)
		}
		input.Expenses = append(input.Expenses, settlement.Expense{
			Category:    e.Category,
			Description: e.Description,
			Amount:      e.Amount,
			Key:         e.Key,
		})
	}

	if len(sj.Prepayments) > 0 {
		input.Prepayments = make(map[generic.TenantID]decimal.Decimal, len(sj.Prepayments))
		for tenant, amount := range sj.Prepayments {
			input.Prepayments[generic.TenantID(tenant)] = amount
		}
	}

	if err := problems.OrNil(); err != nil {
		return settlement.SettlementInput{}, err
	}
	return input, nil
}

// ParseMonthly parses a JSON Vorschreibung run.
func (f *Factory) ParseMonthly(orgID generic.OrganizationID, data []byte) (settlement.MonthlyInput, error) {
	var mj MonthlyJSON
	if err := json.Unmarshal(data, &mj); err != nil {
		return settlement.MonthlyInput{}, fmt.Errorf("%w: failed to parse monthly JSON: %v", generic.ErrValidation, err)
	}
	return f.MonthlyFromJSON(orgID, mj)
}

// MonthlyFromJSON validates mj and converts it.
func (f *Factory) MonthlyFromJSON(orgID generic.OrganizationID, mj MonthlyJSON) (settlement.MonthlyInput, error) {
	var problems generic.ValidationErrors
	if mj.Month < 1 || mj.Month > 12 {
		problems.Add("month %d is out of range", mj.Month)
	}
	if mj.Year < 1900 || mj.Year > 9999 {
		problems.Add("year %d is out of range", mj.Year)
	}

	input := settlement.MonthlyInput{
		OrganizationID: orgID,
		Year:           mj.Year,
		Month:          time.Month(mj.Month),
	}
	for i, l := range mj.Leases {
		if l.TenantID == "" || l.UnitID == "" {
			problems.Add("leases[%d]: tenant_id and unit_id are required", i)
		}
		moveIn, err := generic.ParseDate(l.MoveIn)
		if err != nil {
			problems.Add("leases[%d]: move_in: %v", i, err)
		}
		moveOut, err := generic.ParseOptionalDate(l.MoveOut)
		if err != nil {
			problems.Add("leases[%d]: move_out: %v", i, err)
		}
		if moveOut != nil && moveOut.Before(moveIn) {
			problems.Add("leases[%d]: move_out before move_in", i)
		}
		input.Leases = append(input.Leases, settlement.Lease{
			TenantID:       generic.TenantID(l.TenantID),
			UnitID:         generic.UnitID(l.UnitID),
			MoveIn:         moveIn,
			MoveOut:        moveOut,
			Grundmiete:     l.Grundmiete,
			Betriebskosten: l.Betriebskosten,
			Heizkosten:     l.Heizkosten,
			Wasserkosten:   l.Wasserkosten,
		})
	}

	if err := problems.OrNil(); err != nil {
		return settlement.MonthlyInput{}, err
	}
	return input, nil
}
