package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// INVOICE - Monthly Vorschreibung with independently tracked sub-balances
// =============================================================================

type InvoiceStatus string

const (
	InvoiceOpen    InvoiceStatus = "open"
	InvoicePartial InvoiceStatus = "partial"
	InvoicePaid    InvoiceStatus = "paid"
)

// Invoice belongs to one tenant/unit/month. The four sub-balances are OPEN
// balances: payment allocation decrements them. Gesamtbetrag is the original
// invoice total and never changes after generation.
//
// Immutable once its booking period is locked.
type Invoice struct {
	ID             InvoiceID
	OrganizationID OrganizationID
	TenantID       TenantID
	UnitID         UnitID
	Year           int
	Month          time.Month

	Betriebskosten decimal.Decimal
	Heizkosten     decimal.Decimal
	Wasserkosten   decimal.Decimal
	Grundmiete     decimal.Decimal

	Gesamtbetrag decimal.Decimal
	PaidAmount   decimal.Decimal
	Status       InvoiceStatus

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Balance returns the open balance of one bucket.
func (inv Invoice) Balance(lt LineType) decimal.Decimal {
	switch lt {
	case LineBetriebskosten:
		return inv.Betriebskosten
	case LineHeizkosten:
		return inv.Heizkosten
	case LineWasserkosten:
		return inv.Wasserkosten
	case LineGrundmiete:
		return inv.Grundmiete
	default:
		return decimal.Zero
	}
}

// WithBalance returns a copy with one bucket's open balance replaced.
func (inv Invoice) WithBalance(lt LineType, value decimal.Decimal) Invoice {
	switch lt {
	case LineBetriebskosten:
		inv.Betriebskosten = value
	case LineHeizkosten:
		inv.Heizkosten = value
	case LineWasserkosten:
		inv.Wasserkosten = value
	case LineGrundmiete:
		inv.Grundmiete = value
	}
	return inv
}

// OpenAmount is the sum of all open sub-balances.
func (inv Invoice) OpenAmount() decimal.Decimal {
	return SumMoney(inv.Betriebskosten, inv.Heizkosten, inv.Wasserkosten, inv.Grundmiete)
}

// Period returns the accounting month the invoice is booked into.
func (inv Invoice) Period() PeriodKey {
	return PeriodKey{OrganizationID: inv.OrganizationID, Year: inv.Year, Month: inv.Month}
}

// DeriveStatus computes the status from open amount vs. original total.
func (inv Invoice) DeriveStatus() InvoiceStatus {
	open := inv.OpenAmount()
	switch {
	case !open.IsPositive():
		return InvoicePaid
	case open.LessThan(inv.Gesamtbetrag):
		return InvoicePartial
	default:
		return InvoiceOpen
	}
}

// NewInvoice builds an invoice whose total equals the sum of its sub-balances.
func NewInvoice(id InvoiceID, orgID OrganizationID, tenantID TenantID, unitID UnitID, year int, month time.Month,
	betriebskosten, heizkosten, wasserkosten, grundmiete decimal.Decimal) Invoice {
	inv := Invoice{
		ID:             id,
		OrganizationID: orgID,
		TenantID:       tenantID,
		UnitID:         unitID,
		Year:           year,
		Month:          month,
		Betriebskosten: RoundMoney(betriebskosten),
		Heizkosten:     RoundMoney(heizkosten),
		Wasserkosten:   RoundMoney(wasserkosten),
		Grundmiete:     RoundMoney(grundmiete),
		PaidAmount:     decimal.Zero,
	}
	inv.Gesamtbetrag = inv.OpenAmount()
	inv.Status = inv.DeriveStatus()
	return inv
}
