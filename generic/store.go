/*
store.go - Persistence contracts consumed by the engine

PURPOSE:
  Defines the interface between the billing logic and the database.
  Engine components never reach a database handle directly; services get
  these contracts injected, so every calculation is unit-testable against
  the in-memory store.

KEY INTERFACES:
  OccupancyStore:   Tenancy intervals per (organization, unit)
  InvoiceStore:     Invoices with open sub-balances (optimistic versioning)
  InvoiceLineStore: Invoice lines, upserted on their composite key
  PeriodLockStore:  Booking periods (absence = open)
  PaymentStore:     Append-only payments, unique bank reference
  AuditLog:         Privileged actions (period lock/unlock)
  TxStore:          All of the above inside one atomic transaction

WRITE CONTRACT:
  Every write must be preceded by a successful periodlock.Guard check for
  the affected period, inside the same WithTx call. The guard is a
  read-then-decide check; atomicity comes from the transaction boundary.

IDEMPOTENCY:
  - Invoice lines: (invoiceId, unitId, lineType, normalizedDescription)
    is unique; a re-run overwrites amounts instead of duplicating lines.
    ReplaceInvoiceLines also drops the lines a re-run no longer produces.
  - Invoice ids carry the organization, so two organizations never share
    an invoice or its lines.
  - Payments: the bank reference is unique per organization.

IMPLEMENTATIONS:
  - generic/store/memory.go: In-memory for testing/dev
  - store/sqlite/sqlite.go: SQLite
  - store/postgres/postgres.go: PostgreSQL, the full TxStore

SEE ALSO:
  - ledger.go: Payment ledger on top of PaymentStore
  - periodlock/guard.go: The mandatory gate before writes
*/
package generic

import "context"

// =============================================================================
// READ/WRITE CONTRACTS
// =============================================================================

// OccupancyStore provides tenancy intervals.
type OccupancyStore interface {
	// ListOccupancies returns the organization's periods of a unit that
	// intersect window, ordered by MoveIn.
	ListOccupancies(ctx context.Context, orgID OrganizationID, unitID UnitID, window Period) ([]OccupancyPeriod, error)

	// SaveOccupancy stores o under o.OrganizationID.
	SaveOccupancy(ctx context.Context, o OccupancyPeriod) error
}

// InvoiceStore persists invoices.
type InvoiceStore interface {
	// GetInvoice returns ErrInvoiceNotFound when the id is unknown.
	GetInvoice(ctx context.Context, id InvoiceID) (Invoice, error)

	// SaveInvoice inserts (Version 0) or updates an invoice. An update whose
	// Version does not match the stored one fails with ErrConcurrentModification.
	// On success the stored version is incremented.
	SaveInvoice(ctx context.Context, inv Invoice) error

	ListInvoices(ctx context.Context, orgID OrganizationID, year int, month int) ([]Invoice, error)
}

// InvoiceLineStore persists invoice lines.
type InvoiceLineStore interface {
	// UpsertInvoiceLines inserts lines or overwrites amount/description/tax
	// of lines whose composite key already exists.
	UpsertInvoiceLines(ctx context.Context, lines []InvoiceLine) error

	// ReplaceInvoiceLines makes lines the complete line set of invoiceID:
	// stored lines of that invoice whose key is not in lines are deleted,
	// the rest are upserted. Every line must belong to invoiceID.
	ReplaceInvoiceLines(ctx context.Context, invoiceID InvoiceID, lines []InvoiceLine) error

	ListInvoiceLines(ctx context.Context, invoiceID InvoiceID) ([]InvoiceLine, error)
}

// PeriodLockStore persists booking periods.
type PeriodLockStore interface {
	// GetBookingPeriod returns (nil, nil) when no record exists.
	GetBookingPeriod(ctx context.Context, key PeriodKey) (*BookingPeriod, error)

	SaveBookingPeriod(ctx context.Context, bp BookingPeriod) error
}

// PaymentStore persists payments. APPEND-ONLY: no update, no delete.
type PaymentStore interface {
	AppendPayment(ctx context.Context, p Payment) error

	// FindPaymentByReference returns (nil, nil) when the reference is unknown.
	FindPaymentByReference(ctx context.Context, orgID OrganizationID, bankReference string) (*Payment, error)

	ListPayments(ctx context.Context, invoiceID InvoiceID) ([]Payment, error)
}

// AuditLog stores audit entries. Also append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	ListAudit(ctx context.Context, orgID OrganizationID) ([]AuditEntry, error)
}

// Stores bundles every contract.
type Stores interface {
	OccupancyStore
	InvoiceStore
	InvoiceLineStore
	PeriodLockStore
	PaymentStore
	AuditLog
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic check-then-write sequences
// =============================================================================

// TxStore wraps Stores with transaction support.
type TxStore interface {
	Stores

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Stores) error) error
}
