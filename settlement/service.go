/*
Package settlement orchestrates the billing engine against persistent state.

PURPOSE:
  The calculation packages (prorata, distribution, allocation, the
  reconciler) are pure. This package is the service layer that feeds them
  from the stores, runs the period lock guard, and writes the results back:

    GenerateMonthlyInvoices     - the monthly Vorschreibung per lease
    RunOperatingCostSettlement  - the yearly Betriebskostenabrechnung
    BuildStatementXLSX          - spreadsheet export of a settlement

WRITE DISCIPLINE:
  Every run executes inside one TxStore.WithTx. The first statement in the
  transaction is the period lock check; a locked period aborts the run
  before anything is written. Invoice lines are upserted on their composite
  key, so re-running a month or a settlement year overwrites instead of
  duplicating.

SEE ALSO:
  - monthly.go: Vorschreibung
  - operating_costs.go: operating cost settlement
  - statement_export.go: XLSX export
  - sepa.go: turning invoices and credits into SEPA batches
*/
package settlement

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/distribution"
	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/metrics"
	"github.com/warp/settlement-engine/periodlock"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/warp/settlement-engine/settlement")

// Options tune a Service.
type Options struct {
	// HeatingRatio is the consumption part of heating costs. Zero means
	// distribution.DefaultHeatingRatio.
	HeatingRatio decimal.Decimal
}

// Service runs billing against a transactional store.
type Service struct {
	store        generic.TxStore
	guard        *periodlock.Guard
	logger       *zap.Logger
	metrics      *metrics.Metrics
	heatingRatio decimal.Decimal
	now          func() time.Time
}

// NewService wires a settlement service. logger and m may be nil.
func NewService(store generic.TxStore, guard *periodlock.Guard, logger *zap.Logger, m *metrics.Metrics, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	ratio := opts.HeatingRatio
	if ratio.IsZero() {
		ratio = distribution.DefaultHeatingRatio
	}
	return &Service{
		store:        store,
		guard:        guard,
		logger:       logger.Named("settlement"),
		metrics:      m,
		heatingRatio: ratio,
		now:          time.Now,
	}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}
