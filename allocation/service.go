package allocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/metrics"
	"github.com/warp/settlement-engine/periodlock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// =============================================================================
// PAYMENT INGESTION
// =============================================================================

var tracer = otel.Tracer("github.com/warp/settlement-engine/allocation")

// PaymentInput is one bank transaction to apply.
type PaymentInput struct {
	InvoiceID     generic.InvoiceID
	BankReference string
	Amount        decimal.Decimal
	ReceivedAt    generic.TimePoint
}

// PaymentResult is what ApplyPayment did. Replayed is true when the bank
// reference had already been ingested; Payment is then the original entry
// and nothing was written.
type PaymentResult struct {
	Payment    generic.Payment
	Allocation Result
	Replayed   bool
}

// Service applies payments against stored invoices.
type Service struct {
	store   generic.TxStore
	guard   *periodlock.Guard
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewService wires the payment service. logger and m may be nil.
func NewService(store generic.TxStore, guard *periodlock.Guard, logger *zap.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   store,
		guard:   guard,
		logger:  logger.Named("allocation"),
		metrics: m,
		now:     time.Now,
	}
}

// ApplyPayment ingests one payment. Inside a single transaction it
//
//  1. answers a replay of a known bank reference with the original payment
//  2. re-reads the invoice (never trusts a caller's copy)
//  3. checks the invoice's and the receipt date's booking periods
//  4. allocates, saves the invoice, appends the payment to the ledger
//
// Any failure rolls the whole sequence back.
func (s *Service) ApplyPayment(ctx context.Context, orgID generic.OrganizationID, in PaymentInput) (PaymentResult, error) {
	ctx, span := tracer.Start(ctx, "allocation.ApplyPayment")
	defer span.End()
	span.SetAttributes(
		attribute.String("organization_id", string(orgID)),
		attribute.String("invoice_id", string(in.InvoiceID)),
		attribute.String("bank_reference", in.BankReference),
	)

	result, err := s.applyPayment(ctx, orgID, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "apply payment failed")
		s.metrics.ObservePayment(resultLabel(err), 0)
		s.logger.Warn("payment rejected",
			zap.String("organization_id", string(orgID)),
			zap.String("invoice_id", string(in.InvoiceID)),
			zap.String("bank_reference", in.BankReference),
			zap.Error(err),
		)
		return PaymentResult{}, err
	}

	if result.Replayed {
		s.logger.Info("payment replay ignored",
			zap.String("bank_reference", in.BankReference),
			zap.String("payment_id", string(result.Payment.ID)),
		)
		return result, nil
	}

	allocated, _ := result.Allocation.TotalAllocated.Float64()
	s.metrics.ObservePayment(metrics.ResultSuccess, allocated)
	s.logger.Info("payment applied",
		zap.String("organization_id", string(orgID)),
		zap.String("invoice_id", string(in.InvoiceID)),
		zap.String("payment_id", string(result.Payment.ID)),
		zap.String("amount", generic.FormatMoney(in.Amount)),
		zap.String("allocated", generic.FormatMoney(result.Allocation.TotalAllocated)),
		zap.String("remaining_open", generic.FormatMoney(result.Allocation.RemainingOpen)),
		zap.String("status", string(result.Allocation.Invoice.Status)),
	)
	return result, nil
}

func (s *Service) applyPayment(ctx context.Context, orgID generic.OrganizationID, in PaymentInput) (PaymentResult, error) {
	amount := generic.RoundMoney(in.Amount)
	if amount.IsNegative() {
		return PaymentResult{}, fmt.Errorf("%w: payment %s", generic.ErrNegativeAmount, generic.FormatMoney(amount))
	}
	if in.ReceivedAt.IsZero() {
		in.ReceivedAt = generic.FromTime(s.now())
	}

	var result PaymentResult
	err := s.store.WithTx(ctx, func(tx generic.Stores) error {
		ledger := generic.NewPaymentLedger(tx)

		existing, err := ledger.Seen(ctx, orgID, in.BankReference)
		if err != nil {
			return err
		}
		if existing != nil {
			result = PaymentResult{Payment: *existing, Replayed: true}
			return nil
		}

		invoice, err := tx.GetInvoice(ctx, in.InvoiceID)
		if err != nil {
			return err
		}
		if invoice.OrganizationID != orgID {
			return fmt.Errorf("%w: %s", generic.ErrInvoiceNotFound, in.InvoiceID)
		}

		guard := s.guard.Bind(tx)
		if err := guard.AssertPeriodOpen(ctx, orgID, invoice.Year, invoice.Month); err != nil {
			return err
		}
		if err := guard.AssertDateOpen(ctx, orgID, in.ReceivedAt); err != nil {
			return err
		}

		allocation, err := Allocate(invoice, amount)
		if err != nil {
			return err
		}

		updated := allocation.Invoice
		updated.UpdatedAt = s.now().UTC()
		if err := tx.SaveInvoice(ctx, updated); err != nil {
			return err
		}

		payment := generic.Payment{
			ID:             generic.PaymentID(uuid.NewString()),
			OrganizationID: orgID,
			InvoiceID:      invoice.ID,
			BankReference:  in.BankReference,
			Amount:         amount,
			ReceivedAt:     in.ReceivedAt,
			Allocated:      nonZero(allocation.ByBucket()),
			CreatedAt:      s.now().UTC(),
		}
		if err := ledger.Record(ctx, payment); err != nil {
			return err
		}

		result = PaymentResult{Payment: payment, Allocation: allocation}
		return nil
	})
	if err != nil {
		return PaymentResult{}, err
	}
	return result, nil
}

func nonZero(m map[generic.LineType]decimal.Decimal) map[generic.LineType]decimal.Decimal {
	out := make(map[generic.LineType]decimal.Decimal, len(m))
	for k, v := range m {
		if !v.IsZero() {
			out[k] = v
		}
	}
	return out
}

func resultLabel(err error) string {
	var lockErr *generic.PeriodLockError
	if errors.As(err, &lockErr) {
		return metrics.ResultLocked
	}
	return metrics.ResultError
}
