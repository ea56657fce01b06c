/*
handlers.go - HTTP API handlers for the billing and settlement engine

PURPOSE:
  Exposes the engine via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to the calculation packages and the
  settlement/allocation services.

ENDPOINTS:
  Calculations (stateless):
    POST   /api/prorata/shares                 Day-weighted yearly shares
    POST   /api/prorata/monthly                Month-scoped pro-rata amount
    POST   /api/distribution/by-key            Split by area/mea/persons/...
    POST   /api/distribution/vacancy           Area split, vacancy to owner
    POST   /api/distribution/heating           Consumption/area heating split
    POST   /api/distribution/water             Meter-based water split
    POST   /api/distribution/mea               Ownership share split
    GET    /api/distribution/categorize        Classify an expense text
    POST   /api/reconcile                      Cent drift correction

  Invoices and payments:
    POST   /api/invoices/generate              Monthly Vorschreibung
    GET    /api/invoices/{id}                  Invoice with lines and payments
    POST   /api/invoices/{id}/payments         Apply a bank transaction

  Booking periods:
    GET    /api/periods/{year}/{month}         Lock state
    POST   /api/periods/{year}/{month}/lock    Close a month
    POST   /api/periods/{year}/{month}/unlock  Reopen (actor + reason)

  Settlement:
    POST   /api/settlements/run                Betriebskostenabrechnung
    POST   /api/settlements/run.xlsx           Same, as workbook
    GET    /api/units/{unit}/occupancies       Tenancies of a unit
    POST   /api/units/{unit}/occupancies       Record a tenancy

  SEPA:
    POST   /api/sepa/direct-debit/validate     List every batch problem
    POST   /api/sepa/direct-debit              pain.008.001.02
    POST   /api/sepa/credit-transfer           pain.001.001.03

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input (problems listed)
  - 404: Invoice not found
  - 409: Locked period (German message verbatim), state conflicts
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/allocation"
	"github.com/warp/settlement-engine/distribution"
	"github.com/warp/settlement-engine/factory"
	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/metrics"
	"github.com/warp/settlement-engine/periodlock"
	"github.com/warp/settlement-engine/prorata"
	"github.com/warp/settlement-engine/sepa"
	"github.com/warp/settlement-engine/settlement"
	"go.uber.org/zap"
)

const (
	// OrganizationHeader scopes every stateful request.
	OrganizationHeader = "X-Organization-ID"

	// MissingMandatesHeader lists invoices a collection could not debit.
	MissingMandatesHeader = "X-Missing-Mandates"

	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	maxBodyBytes    = 4 << 20
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Options carries the handler's collaborators. Everything but the store is optional.
type Options struct {
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
	HeatingRatio decimal.Decimal
	Creditor     sepa.Creditor
	Originator   sepa.Account
	Now          func() time.Time
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       generic.TxStore
	Factory     *factory.Factory
	Guard       *periodlock.Guard
	Payments    *allocation.Service
	Settlements *settlement.Service

	logger       *zap.Logger
	metrics      *metrics.Metrics
	heatingRatio decimal.Decimal
	creditor     sepa.Creditor
	originator   sepa.Account
}

// NewHandler wires the services on top of store.
func NewHandler(store generic.TxStore, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ratio := opts.HeatingRatio
	if ratio.IsZero() {
		ratio = distribution.DefaultHeatingRatio
	}

	guard := periodlock.NewGuard(store, logger, opts.Metrics)
	settlements := settlement.NewService(store, guard, logger, opts.Metrics, settlement.Options{HeatingRatio: ratio})
	if opts.Now != nil {
		guard.WithClock(opts.Now)
		settlements.WithClock(opts.Now)
	}

	return &Handler{
		Store:        store,
		Factory:      factory.New(),
		Guard:        guard,
		Payments:     allocation.NewService(store, guard, logger, opts.Metrics),
		Settlements:  settlements,
		logger:       logger.Named("api"),
		metrics:      opts.Metrics,
		heatingRatio: ratio,
		creditor:     opts.Creditor,
		originator:   opts.Originator,
	}
}

// Health answers liveness checks. Stores that can be pinged are checked.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			h.logger.Warn("store ping failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// PRO-RATA HANDLERS
// =============================================================================

// ProRataShares splits a yearly amount over a unit's tenancies by days.
func (h *Handler) ProRataShares(w http.ResponseWriter, r *http.Request) {
	var req ProRataSharesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Year < 1900 || req.Year > 9999 {
		writeError(w, http.StatusBadRequest, "Invalid year", nil)
		return
	}

	periods := make([]generic.OccupancyPeriod, 0, len(req.Periods))
	for i, p := range req.Periods {
		o, err := parseOccupancy(p, organizationID(r), generic.UnitID(p.UnitID))
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid periods[%d]", i), err)
			return
		}
		periods = append(periods, o)
	}

	writeJSON(w, http.StatusOK, toTenantShareDTOs(prorata.ProRataShares(periods, req.Amount, req.Year)))
}

// MonthlyProRata scopes a monthly amount to the occupied days of one month.
func (h *Handler) MonthlyProRata(w http.ResponseWriter, r *http.Request) {
	var req MonthlyProRataRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Month < 1 || req.Month > 12 {
		writeError(w, http.StatusBadRequest, "Invalid month", nil)
		return
	}
	moveIn, err := generic.ParseDate(req.MoveIn)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid move_in format (use YYYY-MM-DD)", err)
		return
	}
	moveOut, err := generic.ParseOptionalDate(req.MoveOut)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid move_out format (use YYYY-MM-DD)", err)
		return
	}

	amount := prorata.MonthlyProRata(moveIn, moveOut, req.Year, time.Month(req.Month), req.Amount)
	writeJSON(w, http.StatusOK, AmountResponse{Amount: generic.FormatMoney(amount)})
}

// =============================================================================
// DISTRIBUTION HANDLERS
// =============================================================================

// DistributeByKey splits an amount by one distribution key.
func (h *Handler) DistributeByKey(w http.ResponseWriter, r *http.Request) {
	var req ByKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	key, err := distribution.ParseKey(req.Key)
	if err != nil {
		h.respondError(w, err, "Invalid distribution key")
		return
	}

	units := make([]distribution.Unit, 0, len(req.Units))
	for _, u := range req.Units {
		units = append(units, distribution.Unit{
			UnitID:      generic.UnitID(u.UnitID),
			Area:        u.Area,
			MEA:         u.MEA,
			Persons:     u.Persons,
			Consumption: u.Consumption,
			Occupied:    u.Occupied,
		})
	}

	shares := distribution.DistributeByKey(req.Amount, distribution.LinesForKey(units, key))
	writeJSON(w, http.StatusOK, toSharesResponse(shares))
}

// DistributeWithVacancy charges vacant area to the owner.
func (h *Handler) DistributeWithVacancy(w http.ResponseWriter, r *http.Request) {
	var req VacancyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	units := make([]distribution.AreaUnit, 0, len(req.Units))
	for _, u := range req.Units {
		units = append(units, distribution.AreaUnit{UnitID: generic.UnitID(u.UnitID), Area: u.Area, Occupied: u.Occupied})
	}
	res := distribution.DistributeWithVacancy(req.Amount, units)

	shares := toSharesResponse(res.TenantShares)
	writeJSON(w, http.StatusOK, VacancyResponse{
		OwnerShare:   generic.FormatMoney(res.OwnerShare),
		TenantPool:   generic.FormatMoney(res.TenantPool),
		TenantShares: shares.Shares,
		OccupiedArea: res.OccupiedArea.String(),
		VacantArea:   res.VacantArea.String(),
	})
}

// SplitHeatingCosts splits heating into consumption and area pools.
func (h *Handler) SplitHeatingCosts(w http.ResponseWriter, r *http.Request) {
	var req HeatingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ratio := h.heatingRatio
	if req.Ratio != nil {
		ratio = *req.Ratio
	}

	units := make([]distribution.HeatingUnit, 0, len(req.Units))
	for _, u := range req.Units {
		units = append(units, distribution.HeatingUnit{UnitID: generic.UnitID(u.UnitID), Area: u.Area, Consumption: u.Consumption})
	}
	shares, err := distribution.SplitHeatingCosts(req.Amount, ratio, units)
	if err != nil {
		h.respondError(w, err, "Invalid heating split")
		return
	}

	resp := HeatingResponse{Ratio: ratio.String(), Shares: make(map[string]HeatingShareDTO, len(shares))}
	for unitID, s := range shares {
		resp.Shares[string(unitID)] = HeatingShareDTO{
			Consumption: generic.FormatMoney(s.Consumption),
			Area:        generic.FormatMoney(s.Area),
			Total:       generic.FormatMoney(s.Total),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// DistributeWater splits water costs by meter reading.
func (h *Handler) DistributeWater(w http.ResponseWriter, r *http.Request) {
	var req WaterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	units := make([]distribution.WaterUnit, 0, len(req.Units))
	for _, u := range req.Units {
		units = append(units, distribution.WaterUnit{UnitID: generic.UnitID(u.UnitID), Reading: u.Reading, Coefficient: u.Coefficient})
	}

	resp := WaterResponse{Shares: []WaterShareDTO{}}
	for _, s := range distribution.DistributeWater(req.Amount, units) {
		resp.Shares = append(resp.Shares, WaterShareDTO{
			UnitID:      string(s.UnitID),
			Amount:      generic.FormatMoney(s.Amount),
			Provisional: s.Provisional,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// DistributeByMEA splits an amount over ownership shares.
func (h *Handler) DistributeByMEA(w http.ResponseWriter, r *http.Request) {
	var req MEARequest
	if !decodeJSON(w, r, &req) {
		return
	}

	owners := make([]distribution.OwnerShare, 0, len(req.Owners))
	for _, o := range req.Owners {
		owners = append(owners, distribution.OwnerShare{UnitID: generic.UnitID(o.UnitID), Share: o.Share})
	}
	writeJSON(w, http.StatusOK, toSharesResponse(distribution.DistributeByMEA(req.Amount, owners)))
}

// Categorize classifies a free-text expense.
func (h *Handler) Categorize(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("text")
	if strings.TrimSpace(text) == "" {
		writeError(w, http.StatusBadRequest, "text is required", nil)
		return
	}

	c := distribution.Categorize(text)
	writeJSON(w, http.StatusOK, CategoryResponse{
		Text:     text,
		Category: string(c),
		LineType: string(c.LineType()),
		VATRate:  distribution.VATRate(c).String(),
	})
}

// =============================================================================
// RECONCILE HANDLER
// =============================================================================

// Reconcile corrects cent drift of rounded lines against an expected total.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	lines := make([]generic.ReconcileLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, generic.ReconcileLine{
			UnitID:   generic.UnitID(l.UnitID),
			LineType: generic.LineType(l.LineType),
			Amount:   l.Amount,
		})
	}
	res := generic.ReconcileRounding(lines, req.ExpectedTotal)

	resp := ReconcileResponse{
		Lines:       make([]ReconciledLineDTO, 0, len(res.Lines)),
		Adjustments: res.Adjustments,
		Residual:    generic.FormatMoney(res.Residual),
		Sum:         generic.FormatMoney(res.Sum()),
	}
	for _, l := range res.Lines {
		resp.Lines = append(resp.Lines, ReconciledLineDTO{
			UnitID:   string(l.UnitID),
			LineType: string(l.LineType),
			Amount:   generic.FormatMoney(l.Amount),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

// GenerateInvoices writes the monthly Vorschreibung for a set of leases.
func (h *Handler) GenerateInvoices(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	input, err := h.Factory.ParseMonthly(organizationID(r), body)
	if err != nil {
		h.respondError(w, err, "Invalid monthly run")
		return
	}

	res, err := h.Settlements.GenerateMonthlyInvoices(r.Context(), input)
	if err != nil {
		h.respondError(w, err, "Failed to generate invoices")
		return
	}

	resp := GenerateInvoicesResponse{
		Invoices: make([]InvoiceDTO, 0, len(res.Invoices)),
		Lines:    len(res.Lines),
		Skipped:  make([]string, 0, len(res.Skipped)),
	}
	for _, inv := range res.Invoices {
		resp.Invoices = append(resp.Invoices, toInvoiceDTO(inv))
	}
	for _, id := range res.Skipped {
		resp.Skipped = append(resp.Skipped, string(id))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetInvoice returns an invoice with its lines and payments. Invoices of
// other organizations are reported as not found.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id := generic.InvoiceID(chi.URLParam(r, "id"))

	inv, err := h.Store.GetInvoice(r.Context(), id)
	if err != nil {
		h.respondError(w, err, "Failed to get invoice")
		return
	}
	if inv.OrganizationID != organizationID(r) {
		writeError(w, http.StatusNotFound, "Invoice not found", nil)
		return
	}

	lines, err := h.Store.ListInvoiceLines(r.Context(), id)
	if err != nil {
		h.respondError(w, err, "Failed to list invoice lines")
		return
	}
	payments, err := h.Store.ListPayments(r.Context(), id)
	if err != nil {
		h.respondError(w, err, "Failed to list payments")
		return
	}

	resp := InvoiceDetailResponse{
		Invoice:  toInvoiceDTO(inv),
		Lines:    make([]InvoiceLineDTO, 0, len(lines)),
		Payments: make([]PaymentDTO, 0, len(payments)),
	}
	for _, l := range lines {
		resp.Lines = append(resp.Lines, InvoiceLineDTO{
			UnitID:      string(l.UnitID),
			LineType:    string(l.LineType),
			Description: l.Description,
			Amount:      generic.FormatMoney(l.Amount),
			TaxRate:     l.TaxRate.String(),
			TaxAmount:   generic.FormatMoney(l.TaxAmount()),
		})
	}
	for _, p := range payments {
		resp.Payments = append(resp.Payments, toPaymentDTO(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ApplyPayment allocates a bank transaction to an invoice. A new payment
// answers 201, a replayed bank reference 200 with the original payment.
func (h *Handler) ApplyPayment(w http.ResponseWriter, r *http.Request) {
	var req ApplyPaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	receivedAt, err := generic.ParseDate(req.ReceivedAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid received_at format (use YYYY-MM-DD)", err)
		return
	}
	res, err := h.Payments.ApplyPayment(r.Context(), organizationID(r), allocation.PaymentInput{
		InvoiceID:     generic.InvoiceID(chi.URLParam(r, "id")),
		BankReference: strings.TrimSpace(req.BankReference),
		Amount:        req.Amount,
		ReceivedAt:    receivedAt,
	})
	if err != nil {
		h.respondError(w, err, "Failed to apply payment")
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, toPaymentResponse(res))
}

// =============================================================================
// BOOKING PERIOD HANDLERS
// =============================================================================

// GetPeriod returns the lock state of a month.
func (h *Handler) GetPeriod(w http.ResponseWriter, r *http.Request) {
	year, month, ok := periodParams(w, r)
	if !ok {
		return
	}
	bp, err := h.Guard.Status(r.Context(), organizationID(r), year, month)
	if err != nil {
		h.respondError(w, err, "Failed to get booking period")
		return
	}
	writeJSON(w, http.StatusOK, toBookingPeriodDTO(bp))
}

// LockPeriod closes a month.
func (h *Handler) LockPeriod(w http.ResponseWriter, r *http.Request) {
	year, month, ok := periodParams(w, r)
	if !ok {
		return
	}
	var req LockPeriodRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.LockedBy) == "" {
		writeError(w, http.StatusBadRequest, "locked_by is required", nil)
		return
	}

	bp, err := h.Guard.Lock(r.Context(), organizationID(r), year, month, strings.TrimSpace(req.LockedBy))
	if err != nil {
		h.respondError(w, err, "Failed to lock booking period")
		return
	}
	writeJSON(w, http.StatusOK, toBookingPeriodDTO(bp))
}

// UnlockPeriod reopens a month. Actor and reason are mandatory.
func (h *Handler) UnlockPeriod(w http.ResponseWriter, r *http.Request) {
	year, month, ok := periodParams(w, r)
	if !ok {
		return
	}
	var req UnlockPeriodRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	bp, err := h.Guard.Unlock(r.Context(), organizationID(r), year, month, req.Actor, req.Reason)
	if err != nil {
		h.respondError(w, err, "Failed to unlock booking period")
		return
	}
	writeJSON(w, http.StatusOK, toBookingPeriodDTO(bp))
}

// =============================================================================
// SETTLEMENT HANDLERS
// =============================================================================

// RunSettlement runs the yearly operating cost settlement of a property.
func (h *Handler) RunSettlement(w http.ResponseWriter, r *http.Request) {
	res, ok := h.runSettlement(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toSettlementResponse(res))
}

// RunSettlementXLSX runs the settlement and answers with a workbook.
func (h *Handler) RunSettlementXLSX(w http.ResponseWriter, r *http.Request) {
	res, ok := h.runSettlement(w, r)
	if !ok {
		return
	}
	data, err := settlement.BuildStatementXLSX(res)
	if err != nil {
		h.respondError(w, err, "Failed to render workbook")
		return
	}

	w.Header().Set("Content-Type", contentTypeXLSX)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="betriebskosten-%s-%d.xlsx"`, res.PropertyID, res.Year))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *Handler) runSettlement(w http.ResponseWriter, r *http.Request) (settlement.Result, bool) {
	body, ok := readBody(w, r)
	if !ok {
		return settlement.Result{}, false
	}
	input, err := h.Factory.ParseSettlement(organizationID(r), body)
	if err != nil {
		h.respondError(w, err, "Invalid settlement run")
		return settlement.Result{}, false
	}
	res, err := h.Settlements.RunOperatingCostSettlement(r.Context(), input)
	if err != nil {
		h.respondError(w, err, "Failed to run settlement")
		return settlement.Result{}, false
	}
	return res, true
}

// ListOccupancies returns the tenancies of a unit intersecting a year.
// Without ?year= every tenancy is returned.
func (h *Handler) ListOccupancies(w http.ResponseWriter, r *http.Request) {
	unitID := generic.UnitID(chi.URLParam(r, "unit"))
	window := generic.Period{Start: generic.NewTimePoint(1900, time.January, 1), End: generic.NewTimePoint(9999, time.December, 31)}
	if y := r.URL.Query().Get("year"); y != "" {
		year, err := strconv.Atoi(y)
		if err != nil || year < 1900 || year > 9999 {
			writeError(w, http.StatusBadRequest, "Invalid year", err)
			return
		}
		window = generic.YearPeriod(year)
	}

	periods, err := h.Store.ListOccupancies(r.Context(), organizationID(r), unitID, window)
	if err != nil {
		h.respondError(w, err, "Failed to list occupancies")
		return
	}
	dtos := make([]OccupancyDTO, 0, len(periods))
	for _, o := range periods {
		dtos = append(dtos, toOccupancyDTO(o))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveOccupancy records a tenancy of a unit.
func (h *Handler) SaveOccupancy(w http.ResponseWriter, r *http.Request) {
	var req OccupancyDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.TenantID) == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required", nil)
		return
	}
	o, err := parseOccupancy(req, organizationID(r), generic.UnitID(chi.URLParam(r, "unit")))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid occupancy", err)
		return
	}

	if err := h.Store.SaveOccupancy(r.Context(), o); err != nil {
		h.respondError(w, err, "Failed to save occupancy")
		return
	}
	writeJSON(w, http.StatusCreated, toOccupancyDTO(o))
}

// =============================================================================
// SEPA HANDLERS
// =============================================================================

// ValidateDirectDebit reports every problem of a batch without rendering it.
func (h *Handler) ValidateDirectDebit(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	batch, err := h.Factory.ParseDirectDebit(body, h.creditor)
	if err != nil {
		h.respondError(w, err, "Invalid direct debit batch")
		return
	}

	problems := sepa.ValidateDirectDebit(batch)
	if problems == nil {
		problems = []string{}
	}
	writeJSON(w, http.StatusOK, ValidationResponse{Valid: len(problems) == 0, Problems: problems})
}

// GenerateDirectDebit renders a pain.008 document.
func (h *Handler) GenerateDirectDebit(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	batch, err := h.Factory.ParseDirectDebit(body, h.creditor)
	if err != nil {
		h.metrics.IncSEPAExport("pain.008", metrics.ResultError)
		h.respondError(w, err, "Invalid direct debit batch")
		return
	}
	data, err := sepa.GenerateDirectDebit(batch)
	if err != nil {
		h.metrics.IncSEPAExport("pain.008", metrics.ResultError)
		h.respondError(w, err, "Failed to generate direct debit")
		return
	}

	h.metrics.IncSEPAExport("pain.008", metrics.ResultSuccess)
	h.logger.Info("direct debit exported",
		zap.Int("transactions", len(batch.Debtors)),
		zap.String("collection_date", batch.CollectionDate.String()),
	)
	writeXML(w, data)
}

// GenerateCreditTransfer renders a pain.001 document.
func (h *Handler) GenerateCreditTransfer(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	batch, err := h.Factory.ParseCreditTransfer(body, h.originator)
	if err != nil {
		h.metrics.IncSEPAExport("pain.001", metrics.ResultError)
		h.respondError(w, err, "Invalid credit transfer batch")
		return
	}
	data, err := sepa.GenerateCreditTransfer(batch)
	if err != nil {
		h.metrics.IncSEPAExport("pain.001", metrics.ResultError)
		h.respondError(w, err, "Failed to generate credit transfer")
		return
	}

	h.metrics.IncSEPAExport("pain.001", metrics.ResultSuccess)
	h.logger.Info("credit transfer exported", zap.Int("transactions", len(batch.Transfers)))
	writeXML(w, data)
}

// CollectDirectDebit renders a pain.008 for the open invoices of a month.
// Invoices of tenants without a mandate are named in the X-Missing-Mandates
// header.
func (h *Handler) CollectDirectDebit(w http.ResponseWriter, r *http.Request) {
	year, month, ok := periodParams(w, r)
	if !ok {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	col, err := h.Factory.ParseCollection(body, h.creditor)
	if err != nil {
		h.metrics.IncSEPAExport("pain.008", metrics.ResultError)
		h.respondError(w, err, "Invalid collection request")
		return
	}

	orgID := organizationID(r)
	invoices, err := h.Store.ListInvoices(r.Context(), orgID, year, int(month))
	if err != nil {
		h.respondError(w, err, "Failed to list invoices")
		return
	}

	batch := col.Batch
	debtors, missing := settlement.DebtorsForInvoices(invoices, col.Mandates)
	batch.Debtors = debtors
	data, err := sepa.GenerateDirectDebit(batch)
	if err != nil {
		h.metrics.IncSEPAExport("pain.008", metrics.ResultError)
		h.respondError(w, err, "Failed to generate direct debit")
		return
	}

	h.metrics.IncSEPAExport("pain.008", metrics.ResultSuccess)
	h.logger.Info("open invoices collected",
		zap.String("organization_id", string(orgID)),
		zap.Int("year", year),
		zap.Int("month", int(month)),
		zap.Int("transactions", len(debtors)),
		zap.Int("missing_mandates", len(missing)),
	)
	if len(missing) > 0 {
		ids := make([]string, len(missing))
		for i, id := range missing {
			ids[i] = string(id)
		}
		w.Header().Set(MissingMandatesHeader, strings.Join(ids, ","))
	}
	writeXML(w, data)
}

// =============================================================================
// HELPERS
// =============================================================================

type orgKey struct{}

// requireOrganization rejects requests without an organization header.
func requireOrganization(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID := strings.TrimSpace(r.Header.Get(OrganizationHeader))
		if orgID == "" {
			writeError(w, http.StatusBadRequest, OrganizationHeader+" header is required", nil)
			return
		}
		ctx := contextWithOrganization(r.Context(), generic.OrganizationID(orgID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func contextWithOrganization(ctx context.Context, orgID generic.OrganizationID) context.Context {
	return context.WithValue(ctx, orgKey{}, orgID)
}

func organizationID(r *http.Request) generic.OrganizationID {
	orgID, _ := r.Context().Value(orgKey{}).(generic.OrganizationID)
	return orgID
}

// respondError maps engine errors to HTTP status codes.
func (h *Handler) respondError(w http.ResponseWriter, err error, message string) {
	var lockErr *generic.PeriodLockError
	var validation *generic.ValidationErrors
	switch {
	case errors.As(err, &lockErr):
		writeJSON(w, lockErr.StatusCode(), ErrorResponse{Error: lockErr.Error()})
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Invoice not found", err)
	case generic.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: message, Problems: validation.Messages})
	case generic.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		h.logger.Error(message, zap.Error(err))
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func periodParams(w http.ResponseWriter, r *http.Request) (int, time.Month, bool) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil || year < 1900 || year > 9999 {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return 0, 0, false
	}
	month, err := strconv.Atoi(chi.URLParam(r, "month"))
	if err != nil || month < 1 || month > 12 {
		writeError(w, http.StatusBadRequest, "Invalid month", err)
		return 0, 0, false
	}
	return year, time.Month(month), true
}

func parseOccupancy(dto OccupancyDTO, orgID generic.OrganizationID, unitID generic.UnitID) (generic.OccupancyPeriod, error) {
	moveIn, err := generic.ParseDate(dto.MoveIn)
	if err != nil {
		return generic.OccupancyPeriod{}, fmt.Errorf("move_in: %w", err)
	}
	moveOut, err := generic.ParseOptionalDate(dto.MoveOut)
	if err != nil {
		return generic.OccupancyPeriod{}, fmt.Errorf("move_out: %w", err)
	}
	if moveOut != nil && moveOut.Before(moveIn) {
		return generic.OccupancyPeriod{}, errors.New("move_out before move_in")
	}
	return generic.OccupancyPeriod{
		OrganizationID: orgID,
		TenantID:       generic.TenantID(dto.TenantID),
		UnitID:         unitID,
		MoveIn:         moveIn,
		MoveOut:        moveOut,
	}, nil
}

func toOccupancyDTO(o generic.OccupancyPeriod) OccupancyDTO {
	dto := OccupancyDTO{
		TenantID: string(o.TenantID),
		UnitID:   string(o.UnitID),
		MoveIn:   o.MoveIn.String(),
	}
	if o.MoveOut != nil {
		dto.MoveOut = o.MoveOut.String()
	}
	return dto
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeXML(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
