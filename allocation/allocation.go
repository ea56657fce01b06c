/*
Package allocation applies incoming payments to invoice sub-balances.

PURPOSE:
  A tenant's payment rarely matches the invoice exactly. The statutory
  order (MRG) decides which part of the invoice a partial payment settles:

    1. Betriebskosten (ancillary operating costs)
    2. Wasserkosten   (water, only when the invoice carries a water bucket)
    3. Heizkosten     (heating)
    4. Grundmiete     (base rent)

WATERFALL:
  For each bucket in order: allocate min(remaining, bucket balance),
  decrement remaining. Whatever exceeds the open invoice total is capped:
  it is neither returned nor tracked here (overpayment handling is the
  caller's concern).

ORDER INDEPENDENCE:
  Allocating a then b against the updated invoice equals allocating a+b
  against the original invoice in one pass. Concurrent ingestion therefore
  cannot produce different ledgers depending on arrival order, as long as
  each application re-reads the current invoice state.

STATELESS:
  Allocate is a pure function. It never mutates its input invoice; the
  updated invoice is part of the result.

SEE ALSO:
  - service.go: ingestion with idempotency and the period lock gate
*/
package allocation

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/generic"
)

// =============================================================================
// BUCKET ORDER
// =============================================================================

// BucketOrder is the statutory priority. A zero water balance makes the
// water bucket a no-op, which is how invoices without water costs behave.
var BucketOrder = []generic.LineType{
	generic.LineBetriebskosten,
	generic.LineWasserkosten,
	generic.LineHeizkosten,
	generic.LineGrundmiete,
}

// BucketAllocation is the amount one bucket received.
type BucketAllocation struct {
	Bucket        generic.LineType
	Allocated     decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
}

// Result of applying one payment.
type Result struct {
	Buckets        []BucketAllocation
	TotalAllocated decimal.Decimal
	RemainingOpen  decimal.Decimal
	Invoice        generic.Invoice
}

// ByBucket returns the allocations keyed by bucket.
func (r Result) ByBucket() map[generic.LineType]decimal.Decimal {
	m := make(map[generic.LineType]decimal.Decimal, len(r.Buckets))
	for _, b := range r.Buckets {
		m[b.Bucket] = b.Allocated
	}
	return m
}

// =============================================================================
// ALLOCATE
// =============================================================================

// Allocate applies paymentAmount to the invoice's open buckets in statutory order.
func Allocate(invoice generic.Invoice, paymentAmount decimal.Decimal) (Result, error) {
	amount := generic.RoundMoney(paymentAmount)
	if amount.IsNegative() {
		return Result{}, fmt.Errorf("%w: payment %s", generic.ErrNegativeAmount, generic.FormatMoney(amount))
	}

	updated := invoice
	remaining := amount
	total := decimal.Zero
	buckets := make([]BucketAllocation, 0, len(BucketOrder))

	for _, bucket := range BucketOrder {
		before := generic.RoundMoney(updated.Balance(bucket))
		allocated := decimal.Zero
		if before.IsPositive() && remaining.IsPositive() {
			allocated = generic.MinMoney(remaining, before)
		}
		after := generic.RoundMoney(before.Sub(allocated))

		remaining = remaining.Sub(allocated)
		total = total.Add(allocated)
		updated = updated.WithBalance(bucket, after)

		buckets = append(buckets, BucketAllocation{
			Bucket:        bucket,
			Allocated:     allocated,
			BalanceBefore: before,
			BalanceAfter:  after,
		})
	}

	total = generic.RoundMoney(total)
	updated.PaidAmount = generic.RoundMoney(invoice.PaidAmount.Add(total))
	updated.Status = updated.DeriveStatus()

	return Result{
		Buckets:        buckets,
		TotalAllocated: total,
		RemainingOpen:  updated.OpenAmount(),
		Invoice:        updated,
	}, nil
}

// AllocateSequence applies several payments one after another, each against
// the invoice state left by the previous one.
func AllocateSequence(invoice generic.Invoice, payments ...decimal.Decimal) (Result, error) {
	combined := Result{Invoice: invoice, TotalAllocated: decimal.Zero, RemainingOpen: invoice.OpenAmount()}
	perBucket := make(map[generic.LineType]decimal.Decimal)

	for _, p := range payments {
		r, err := Allocate(combined.Invoice, p)
		if err != nil {
			return Result{}, err
		}
		for _, b := range r.Buckets {
			perBucket[b.Bucket] = perBucket[b.Bucket].Add(b.Allocated)
		}
		combined.Invoice = r.Invoice
		combined.TotalAllocated = generic.RoundMoney(combined.TotalAllocated.Add(r.TotalAllocated))
		combined.RemainingOpen = r.RemainingOpen
	}

	for _, bucket := range BucketOrder {
		combined.Buckets = append(combined.Buckets, BucketAllocation{
			Bucket:        bucket,
			Allocated:     generic.RoundMoney(perBucket[bucket]),
			BalanceBefore: generic.RoundMoney(invoice.Balance(bucket)),
			BalanceAfter:  generic.RoundMoney(combined.Invoice.Balance(bucket)),
		})
	}
	return combined, nil
}
