/*
Package generic provides the core billing and settlement engine types.

PURPOSE:
  This package contains the domain-agnostic building blocks every billing
  component shares: money rounding, calendar math, identifiers, invoice and
  booking-period records, persistence contracts, and the rounding reconciler.
  Domain packages (prorata, distribution, allocation, periodlock, sepa,
  settlement) build on these and never talk to a database directly.

KEY CONCEPTS IN THIS FILE (types.go):
  - Identifiers: OrganizationID, UnitID, TenantID, InvoiceID (type-safe)
  - OccupancyPeriod: one tenant's exclusive occupancy of a unit
  - InvoiceLine: one amount on an invoice, keyed for idempotent upserts
  - BookingPeriod: an accounting month that can be locked
  - Payment: an incoming bank transaction applied to an invoice

DESIGN PRINCIPLES:
  1. Precision: every amount is decimal.Decimal, rounded by RoundMoney
  2. Type Safety: distinct ID types prevent mixing units and tenants
  3. Idempotency: invoice lines upsert on a composite key, payments on the
     bank reference, so batch re-runs are safe
  4. Fail closed: financial writes consult the booking period first

SEE ALSO:
  - money.go: RoundMoney, the single rounding law
  - invoice.go: Invoice sub-balances
  - reconcile.go: cent-level rounding reconciliation
  - store.go: persistence contracts
*/
package generic

import (
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type OrganizationID string
type PropertyID string
type UnitID string
type TenantID string
type InvoiceID string
type PaymentID string

// =============================================================================
// OCCUPANCY
// =============================================================================

// OccupancyPeriod represents one tenant's exclusive occupancy of a unit.
// A nil MoveOut means the tenancy is still active. Overlapping periods for the
// same unit are a caller error and are not validated here.
type OccupancyPeriod struct {
	OrganizationID OrganizationID
	TenantID       TenantID
	UnitID         UnitID
	MoveIn         TimePoint
	MoveOut        *TimePoint
}

// IsActiveOn reports whether the tenant occupies the unit on day.
func (o OccupancyPeriod) IsActiveOn(day TimePoint) bool {
	if day.Before(o.MoveIn) {
		return false
	}
	return o.MoveOut == nil || day.BeforeOrEqual(*o.MoveOut)
}

// =============================================================================
// INVOICE LINES
// =============================================================================

// LineType classifies an invoice line. The string value doubles as the
// secondary sort key of the rounding reconciler.
type LineType string

const (
	LineGrundmiete     LineType = "grundmiete"
	LineBetriebskosten LineType = "betriebskosten"
	LineHeizkosten     LineType = "heizkosten"
	LineWasserkosten   LineType = "wasserkosten"
	LineRuecklage      LineType = "ruecklage"
	LineInstandhaltung LineType = "instandhaltung"
	LineVerwaltung     LineType = "verwaltung"
)

// InvoiceLine is one amount on an invoice.
type InvoiceLine struct {
	InvoiceID   InvoiceID
	UnitID      UnitID
	LineType    LineType
	Description string
	Amount      decimal.Decimal
	TaxRate     decimal.Decimal
}

// InvoiceLineKey is the idempotency boundary for invoice line upserts.
type InvoiceLineKey struct {
	InvoiceID             InvoiceID
	UnitID                UnitID
	LineType              LineType
	NormalizedDescription string
}

// Key returns the composite upsert key of the line.
func (l InvoiceLine) Key() InvoiceLineKey {
	return InvoiceLineKey{
		InvoiceID:             l.InvoiceID,
		UnitID:                l.UnitID,
		LineType:              l.LineType,
		NormalizedDescription: NormalizeDescription(l.Description),
	}
}

// TaxAmount is the VAT on the (net) line amount, rounded.
func (l InvoiceLine) TaxAmount() decimal.Decimal {
	return RoundMoney(l.Amount.Mul(l.TaxRate))
}

// NormalizeDescription folds case, umlauts and punctuation so that
// "Heizkosten  Jänner" and "heizkosten-jaenner" land on the same key.
func NormalizeDescription(description string) string {
	return slug.MakeLang(strings.TrimSpace(description), "de")
}

// =============================================================================
// BOOKING PERIOD
// =============================================================================

// BookingPeriod is one accounting month. Absence of a record means open.
// Lifecycle: unlocked -> locked. Reopening is a privileged, audited operation
// (see periodlock.Guard.Unlock).
type BookingPeriod struct {
	OrganizationID OrganizationID
	Year           int
	Month          time.Month
	IsLocked       bool
	LockedBy       string
	LockedAt       *time.Time
}

// Key returns the period key of the record.
func (b BookingPeriod) Key() PeriodKey {
	return PeriodKey{OrganizationID: b.OrganizationID, Year: b.Year, Month: b.Month}
}

// =============================================================================
// PAYMENT - Incoming bank transaction
// =============================================================================

// Payment records one bank transaction applied to an invoice. Payments are
// append-only; BankReference is the idempotency key.
type Payment struct {
	ID             PaymentID
	OrganizationID OrganizationID
	InvoiceID      InvoiceID
	BankReference  string
	Amount         decimal.Decimal
	ReceivedAt     TimePoint

	// Per-bucket allocation as applied at ingestion time.
	Allocated map[LineType]decimal.Decimal

	CreatedAt time.Time
}

// =============================================================================
// AUDIT LOG - Privileged actions, separate from financial records
// =============================================================================

// AuditEntry records who did what when.
type AuditEntry struct {
	ID             string
	Timestamp      time.Time
	ActorID        string
	Action         AuditAction
	OrganizationID OrganizationID
	Payload        map[string]string
}

type AuditAction string

const (
	AuditPeriodLocked   AuditAction = "period_locked"
	AuditPeriodUnlocked AuditAction = "period_unlocked"
)
