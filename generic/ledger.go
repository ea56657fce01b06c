/*
ledger.go - Append-only payment ledger

PURPOSE:
  The payment ledger is the immutable record of every bank transaction the
  engine has applied. Invoice sub-balances are the working state; the
  ledger is what explains how they got there.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. IDEMPOTENT: Same bank reference = same payment (no double application
     when two workers ingest the same bank statement line)
  3. AUDITABLE: Each payment keeps its per-bucket allocation

CORRECTIONS:
  A mis-booked payment is corrected with a negative counter payment, never
  by editing the original entry.

SEE ALSO:
  - store.go: PaymentStore
  - allocation/service.go: Ingests payments through this ledger
*/
package generic

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PAYMENT LEDGER
// =============================================================================

// PaymentLedger guards PaymentStore writes with the idempotency check.
type PaymentLedger struct {
	Store PaymentStore
}

func NewPaymentLedger(store PaymentStore) *PaymentLedger {
	return &PaymentLedger{Store: store}
}

// Seen returns the already ingested payment for a bank reference, if any.
func (l *PaymentLedger) Seen(ctx context.Context, orgID OrganizationID, bankReference string) (*Payment, error) {
	if bankReference == "" {
		return nil, nil
	}
	return l.Store.FindPaymentByReference(ctx, orgID, bankReference)
}

// Record appends a payment. Fails with DuplicatePaymentError if the bank
// reference was already ingested.
func (l *PaymentLedger) Record(ctx context.Context, p Payment) error {
	existing, err := l.Seen(ctx, p.OrganizationID, p.BankReference)
	if err != nil {
		return err
	}
	if existing != nil {
		return &DuplicatePaymentError{BankReference: p.BankReference, ExistingID: existing.ID}
	}
	return l.Store.AppendPayment(ctx, p)
}

// Payments returns all payments of an invoice in ingestion order.
func (l *PaymentLedger) Payments(ctx context.Context, invoiceID InvoiceID) ([]Payment, error) {
	return l.Store.ListPayments(ctx, invoiceID)
}

// TotalPaid sums the allocated part of every payment of an invoice.
// This is a derived value, computed from the ledger.
func (l *PaymentLedger) TotalPaid(ctx context.Context, invoiceID InvoiceID) (decimal.Decimal, error) {
	payments, err := l.Store.ListPayments(ctx, invoiceID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, p := range payments {
		for _, amount := range p.Allocated {
			total = total.Add(amount)
		}
	}
	return RoundMoney(total), nil
}
