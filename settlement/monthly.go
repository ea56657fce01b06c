package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/metrics"
	"github.com/warp/settlement-engine/prorata"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// =============================================================================
// MONTHLY VORSCHREIBUNG
// =============================================================================

// Residential rent, ancillary costs and water carry 10% VAT, heating 20%.
var monthlyVAT = map[generic.LineType]decimal.Decimal{
	generic.LineGrundmiete:     decimal.RequireFromString("0.10"),
	generic.LineBetriebskosten: decimal.RequireFromString("0.10"),
	generic.LineWasserkosten:   decimal.RequireFromString("0.10"),
	generic.LineHeizkosten:     decimal.RequireFromString("0.20"),
}

// Lease is one tenancy with its monthly net amounts.
type Lease struct {
	TenantID generic.TenantID
	UnitID   generic.UnitID
	MoveIn   generic.TimePoint
	MoveOut  *generic.TimePoint

	Grundmiete     decimal.Decimal
	Betriebskosten decimal.Decimal
	Heizkosten     decimal.Decimal
	Wasserkosten   decimal.Decimal
}

// MonthlyInput selects the month and the leases to bill.
type MonthlyInput struct {
	OrganizationID generic.OrganizationID
	Year           int
	Month          time.Month
	Leases         []Lease
}

// MonthlyResult lists what was written. Skipped invoices already carry
// payments and are left untouched.
type MonthlyResult struct {
	Invoices []generic.Invoice
	Lines    []generic.InvoiceLine
	Skipped  []generic.InvoiceID
}

// MonthlyInvoiceID is the deterministic id of a lease's invoice for a month.
// Two organizations billing the same unit and tenant names never share one.
func MonthlyInvoiceID(orgID generic.OrganizationID, year int, month time.Month, unitID generic.UnitID, tenantID generic.TenantID) generic.InvoiceID {
	return generic.InvoiceID(fmt.Sprintf("VS-%s-%04d-%02d-%s-%s", orgID, year, int(month), unitID, tenantID))
}

// monthlyReference is the invoice reference printed on bank statements. It
// leaves out the organization to stay within the 35 characters of a SEPA
// end-to-end id.
func monthlyReference(inv generic.Invoice) string {
	return fmt.Sprintf("VS-%04d-%02d-%s-%s", inv.Year, int(inv.Month), inv.UnitID, inv.TenantID)
}

// GenerateMonthlyInvoices builds one invoice per lease active in the month.
// Every component is prorated by occupied days; a lease with no day in the
// month produces no invoice.
func (s *Service) GenerateMonthlyInvoices(ctx context.Context, in MonthlyInput) (MonthlyResult, error) {
	ctx, span := tracer.Start(ctx, "settlement.GenerateMonthlyInvoices")
	defer span.End()
	span.SetAttributes(
		attribute.String("organization_id", string(in.OrganizationID)),
		attribute.Int("year", in.Year),
		attribute.Int("month", int(in.Month)),
		attribute.Int("leases", len(in.Leases)),
	)

	var result MonthlyResult
	err := s.store.WithTx(ctx, func(tx generic.Stores) error {
		if err := s.guard.Bind(tx).AssertPeriodOpen(ctx, in.OrganizationID, in.Year, in.Month); err != nil {
			return err
		}

		for _, lease := range in.Leases {
			inv, lines, ok := s.buildMonthlyInvoice(in, lease)
			if !ok {
				continue
			}

			existing, err := tx.GetInvoice(ctx, inv.ID)
			switch {
			case errors.Is(err, generic.ErrInvoiceNotFound):
			case err != nil:
				return err
			case existing.OrganizationID != in.OrganizationID:
				return fmt.Errorf("%w: %s", generic.ErrInvoiceNotFound, inv.ID)
			case existing.PaidAmount.IsPositive():
				result.Skipped = append(result.Skipped, inv.ID)
				continue
			default:
				inv.Version = existing.Version
				inv.CreatedAt = existing.CreatedAt
			}

			if err := tx.SaveInvoice(ctx, inv); err != nil {
				return fmt.Errorf("save invoice %s: %w", inv.ID, err)
			}
			if err := tx.ReplaceInvoiceLines(ctx, inv.ID, lines); err != nil {
				return fmt.Errorf("replace lines of %s: %w", inv.ID, err)
			}
			result.Invoices = append(result.Invoices, inv)
			result.Lines = append(result.Lines, lines...)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate monthly invoices failed")
		s.metrics.IncInvoicesGenerated(runResult(err))
		s.logger.Warn("monthly invoice run failed",
			zap.String("organization_id", string(in.OrganizationID)),
			zap.Int("year", in.Year),
			zap.Int("month", int(in.Month)),
			zap.Error(err),
		)
		return MonthlyResult{}, err
	}

	s.metrics.IncInvoicesGenerated(metrics.ResultSuccess)
	s.logger.Info("monthly invoices generated",
		zap.String("organization_id", string(in.OrganizationID)),
		zap.Int("year", in.Year),
		zap.Int("month", int(in.Month)),
		zap.Int("invoices", len(result.Invoices)),
		zap.Int("skipped", len(result.Skipped)),
	)
	return result, nil
}

func (s *Service) buildMonthlyInvoice(in MonthlyInput, lease Lease) (generic.Invoice, []generic.InvoiceLine, bool) {
	window := generic.MonthPeriod(in.Year, in.Month)
	if prorata.OccupancyDays(lease.MoveIn, lease.MoveOut, window.Start, window.End) == 0 {
		return generic.Invoice{}, nil, false
	}

	id := MonthlyInvoiceID(in.OrganizationID, in.Year, in.Month, lease.UnitID, lease.TenantID)
	label := fmt.Sprintf("%02d/%04d", int(in.Month), in.Year)

	components := []struct {
		lineType generic.LineType
		name     string
		monthly  decimal.Decimal
	}{
		{generic.LineGrundmiete, "Grundmiete", lease.Grundmiete},
		{generic.LineBetriebskosten, "Betriebskosten-Akonto", lease.Betriebskosten},
		{generic.LineHeizkosten, "Heizkosten-Akonto", lease.Heizkosten},
		{generic.LineWasserkosten, "Wasserkosten-Akonto", lease.Wasserkosten},
	}

	gross := make(map[generic.LineType]decimal.Decimal, len(components))
	lines := make([]generic.InvoiceLine, 0, len(components))
	for _, c := range components {
		net := prorata.MonthlyProRata(lease.MoveIn, lease.MoveOut, in.Year, in.Month, c.monthly)
		if net.IsZero() {
			continue
		}
		line := generic.InvoiceLine{
			InvoiceID:   id,
			UnitID:      lease.UnitID,
			LineType:    c.lineType,
			Description: c.name + " " + label,
			Amount:      net,
			TaxRate:     monthlyVAT[c.lineType],
		}
		lines = append(lines, line)
		gross[c.lineType] = generic.RoundMoney(net.Add(line.TaxAmount()))
	}

	inv := generic.NewInvoice(id, in.OrganizationID, lease.TenantID, lease.UnitID, in.Year, in.Month,
		gross[generic.LineBetriebskosten], gross[generic.LineHeizkosten],
		gross[generic.LineWasserkosten], gross[generic.LineGrundmiete])
	now := s.now().UTC()
	inv.CreatedAt = now
	inv.UpdatedAt = now
	return inv, lines, true
}

func runResult(err error) string {
	var lockErr *generic.PeriodLockError
	if errors.As(err, &lockErr) {
		return metrics.ResultLocked
	}
	return metrics.ResultError
}
