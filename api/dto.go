/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's types from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

AMOUNTS:
  Requests take decimal.Decimal (JSON string or number). Responses render
  money as strings with exactly two decimals via generic.FormatMoney, so a
  client never sees "742" for 742.00.

VALIDATION:
  Validation is done in handlers and the factory, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/settlement.go, factory/sepa.go: run and batch request bodies
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/allocation"
	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/prorata"
	"github.com/warp/settlement-engine/settlement"
)

// ErrorResponse is returned for every non-2xx answer.
type ErrorResponse struct {
	Error    string   `json:"error"`
	Details  string   `json:"details,omitempty"`
	Problems []string `json:"problems,omitempty"`
}

// =============================================================================
// PRO-RATA
// =============================================================================

// OccupancyDTO is one tenancy interval.
type OccupancyDTO struct {
	TenantID string `json:"tenant_id"`
	UnitID   string `json:"unit_id,omitempty"`
	MoveIn   string `json:"move_in"`
	MoveOut  string `json:"move_out,omitempty"`
}

// ProRataSharesRequest splits a yearly amount over a unit's tenancies.
type ProRataSharesRequest struct {
	Year    int             `json:"year"`
	Amount  decimal.Decimal `json:"amount"`
	Periods []OccupancyDTO  `json:"periods"`
}

// TenantShareDTO is one tenancy's share.
type TenantShareDTO struct {
	TenantID string `json:"tenant_id"`
	Days     int    `json:"days"`
	Ratio    string `json:"ratio"`
	Amount   string `json:"amount"`
}

// ProRataSharesResponse mirrors prorata.Result.
type ProRataSharesResponse struct {
	TenantShares []TenantShareDTO `json:"tenant_shares"`
	OwnerShare   string           `json:"owner_share"`
	VacancyDays  int              `json:"vacancy_days"`
	DaysInYear   int              `json:"days_in_year"`
}

// MonthlyProRataRequest scopes a monthly amount to one month.
type MonthlyProRataRequest struct {
	Year    int             `json:"year"`
	Month   int             `json:"month"`
	MoveIn  string          `json:"move_in"`
	MoveOut string          `json:"move_out,omitempty"`
	Amount  decimal.Decimal `json:"amount"`
}

// AmountResponse carries a single amount.
type AmountResponse struct {
	Amount string `json:"amount"`
}

// =============================================================================
// DISTRIBUTION
// =============================================================================

// UnitWeightsDTO carries every weight a unit can be distributed by.
type UnitWeightsDTO struct {
	UnitID      string          `json:"unit_id"`
	Area        decimal.Decimal `json:"area"`
	MEA         decimal.Decimal `json:"mea"`
	Persons     decimal.Decimal `json:"persons"`
	Consumption decimal.Decimal `json:"consumption"`
	Occupied    bool            `json:"occupied"`
}

// ByKeyRequest distributes an amount by one key.
type ByKeyRequest struct {
	Amount decimal.Decimal  `json:"amount"`
	Key    string           `json:"key"`
	Units  []UnitWeightsDTO `json:"units"`
}

// SharesResponse maps unit ids to amounts. Total is the sum of the shares,
// which may differ from the input by rounding cents.
type SharesResponse struct {
	Shares map[string]string `json:"shares"`
	Total  string            `json:"total"`
}

// VacancyRequest distributes by area with vacant units charged to the owner.
type VacancyRequest struct {
	Amount decimal.Decimal  `json:"amount"`
	Units  []UnitWeightsDTO `json:"units"`
}

// VacancyResponse mirrors distribution.VacancyResult.
type VacancyResponse struct {
	OwnerShare   string            `json:"owner_share"`
	TenantPool   string            `json:"tenant_pool"`
	TenantShares map[string]string `json:"tenant_shares"`
	OccupiedArea string            `json:"occupied_area"`
	VacantArea   string            `json:"vacant_area"`
}

// HeatingRequest splits heating costs. A nil ratio uses the configured one.
type HeatingRequest struct {
	Amount decimal.Decimal  `json:"amount"`
	Ratio  *decimal.Decimal `json:"ratio,omitempty"`
	Units  []UnitWeightsDTO `json:"units"`
}

// HeatingShareDTO is one unit's heating cost by pool.
type HeatingShareDTO struct {
	Consumption string `json:"consumption"`
	Area        string `json:"area"`
	Total       string `json:"total"`
}

// HeatingResponse maps unit ids to heating shares.
type HeatingResponse struct {
	Ratio  string                     `json:"ratio"`
	Shares map[string]HeatingShareDTO `json:"shares"`
}

// WaterUnitDTO is a unit with an optional meter reading.
type WaterUnitDTO struct {
	UnitID      string           `json:"unit_id"`
	Reading     *decimal.Decimal `json:"reading,omitempty"`
	Coefficient decimal.Decimal  `json:"coefficient"`
}

// WaterRequest distributes water costs by meter reading.
type WaterRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Units  []WaterUnitDTO  `json:"units"`
}

// WaterShareDTO is one unit's water cost.
type WaterShareDTO struct {
	UnitID      string `json:"unit_id"`
	Amount      string `json:"amount"`
	Provisional bool   `json:"provisional"`
}

// WaterResponse lists water shares in input order.
type WaterResponse struct {
	Shares []WaterShareDTO `json:"shares"`
}

// OwnerShareDTO is one owner's permille share.
type OwnerShareDTO struct {
	UnitID string          `json:"unit_id"`
	Share  decimal.Decimal `json:"share"`
}

// MEARequest distributes an amount over ownership shares.
type MEARequest struct {
	Amount decimal.Decimal `json:"amount"`
	Owners []OwnerShareDTO `json:"owners"`
}

// CategoryResponse is the classification of an expense text.
type CategoryResponse struct {
	Text     string `json:"text"`
	Category string `json:"category"`
	LineType string `json:"line_type"`
	VATRate  string `json:"vat_rate"`
}

// =============================================================================
// RECONCILE
// =============================================================================

// ReconcileLineDTO is one rounded amount.
type ReconcileLineDTO struct {
	UnitID   string          `json:"unit_id"`
	LineType string          `json:"line_type"`
	Amount   decimal.Decimal `json:"amount"`
}

// ReconcileRequest corrects cent drift of lines against an expected total.
type ReconcileRequest struct {
	ExpectedTotal decimal.Decimal    `json:"expected_total"`
	Lines         []ReconcileLineDTO `json:"lines"`
}

// ReconciledLineDTO is a corrected line.
type ReconciledLineDTO struct {
	UnitID   string `json:"unit_id"`
	LineType string `json:"line_type"`
	Amount   string `json:"amount"`
}

// ReconcileResponse mirrors generic.ReconcileResult.
type ReconcileResponse struct {
	Lines       []ReconciledLineDTO `json:"lines"`
	Adjustments int                 `json:"adjustments"`
	Residual    string              `json:"residual"`
	Sum         string              `json:"sum"`
}

// =============================================================================
// INVOICES AND PAYMENTS
// =============================================================================

// InvoiceDTO represents an invoice with its open sub-balances.
type InvoiceDTO struct {
	ID             string `json:"id"`
	TenantID       string `json:"tenant_id"`
	UnitID         string `json:"unit_id"`
	Year           int    `json:"year"`
	Month          int    `json:"month"`
	Betriebskosten string `json:"betriebskosten"`
	Heizkosten     string `json:"heizkosten"`
	Wasserkosten   string `json:"wasserkosten"`
	Grundmiete     string `json:"grundmiete"`
	Gesamtbetrag   string `json:"gesamtbetrag"`
	PaidAmount     string `json:"paid_amount"`
	OpenAmount     string `json:"open_amount"`
	Status         string `json:"status"`
	Version        int    `json:"version"`
}

// InvoiceLineDTO is one stored invoice line.
type InvoiceLineDTO struct {
	UnitID      string `json:"unit_id"`
	LineType    string `json:"line_type"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	TaxRate     string `json:"tax_rate"`
	TaxAmount   string `json:"tax_amount"`
}

// PaymentDTO is one ingested payment.
type PaymentDTO struct {
	ID            string            `json:"id"`
	BankReference string            `json:"bank_reference"`
	Amount        string            `json:"amount"`
	ReceivedAt    string            `json:"received_at"`
	Allocated     map[string]string `json:"allocated"`
}

// InvoiceDetailResponse is an invoice with its lines and payments.
type InvoiceDetailResponse struct {
	Invoice  InvoiceDTO       `json:"invoice"`
	Lines    []InvoiceLineDTO `json:"lines"`
	Payments []PaymentDTO     `json:"payments"`
}

// ApplyPaymentRequest is one bank transaction.
type ApplyPaymentRequest struct {
	BankReference string          `json:"bank_reference"`
	Amount        decimal.Decimal `json:"amount"`
	ReceivedAt    string          `json:"received_at"`
}

// BucketAllocationDTO is what one bucket received.
type BucketAllocationDTO struct {
	Bucket        string `json:"bucket"`
	Allocated     string `json:"allocated"`
	BalanceBefore string `json:"balance_before"`
	BalanceAfter  string `json:"balance_after"`
}

// ApplyPaymentResponse reports the allocation. On a replay Allocations is
// empty and Payment is the originally ingested one.
type ApplyPaymentResponse struct {
	Payment        PaymentDTO            `json:"payment"`
	Replayed       bool                  `json:"replayed"`
	Allocations    []BucketAllocationDTO `json:"allocations"`
	TotalAllocated string                `json:"total_allocated"`
	RemainingOpen  string                `json:"remaining_open"`
	Invoice        *InvoiceDTO           `json:"invoice,omitempty"`
}

// GenerateInvoicesResponse lists what a Vorschreibung run wrote.
type GenerateInvoicesResponse struct {
	Invoices []InvoiceDTO `json:"invoices"`
	Lines    int          `json:"lines"`
	Skipped  []string     `json:"skipped"`
}

// =============================================================================
// BOOKING PERIODS
// =============================================================================

// BookingPeriodDTO is the lock state of one month.
type BookingPeriodDTO struct {
	Year     int    `json:"year"`
	Month    int    `json:"month"`
	IsLocked bool   `json:"is_locked"`
	LockedBy string `json:"locked_by,omitempty"`
	LockedAt string `json:"locked_at,omitempty"`
}

// LockPeriodRequest closes a month.
type LockPeriodRequest struct {
	LockedBy string `json:"locked_by"`
}

// UnlockPeriodRequest reopens a month. Both fields are mandatory.
type UnlockPeriodRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

// =============================================================================
// SETTLEMENT
// =============================================================================

// StatementLineDTO is one line of a tenant statement.
type StatementLineDTO struct {
	Category    string `json:"category"`
	LineType    string `json:"line_type"`
	Description string `json:"description"`
	Net         string `json:"net"`
	VATRate     string `json:"vat_rate"`
	VAT         string `json:"vat"`
	Gross       string `json:"gross"`
	Provisional bool   `json:"provisional,omitempty"`
}

// StatementDTO is one tenant's Betriebskostenabrechnung.
type StatementDTO struct {
	InvoiceID  string             `json:"invoice_id"`
	TenantID   string             `json:"tenant_id"`
	UnitID     string             `json:"unit_id"`
	Lines      []StatementLineDTO `json:"lines"`
	TotalNet   string             `json:"total_net"`
	TotalVAT   string             `json:"total_vat"`
	TotalGross string             `json:"total_gross"`
	Prepaid    string             `json:"prepaid"`
	Balance    string             `json:"balance"`
}

// SettlementResponse mirrors settlement.Result.
type SettlementResponse struct {
	PropertyID    string         `json:"property_id"`
	Year          int            `json:"year"`
	Statements    []StatementDTO `json:"statements"`
	OwnerShare    string         `json:"owner_share"`
	ExpenseTotal  string         `json:"expense_total"`
	Undistributed string         `json:"undistributed"`
	Warnings      []string       `json:"warnings"`
}

// =============================================================================
// SEPA
// =============================================================================

// ValidationResponse lists every problem of a batch.
type ValidationResponse struct {
	Valid    bool     `json:"valid"`
	Problems []string `json:"problems"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toTenantShareDTOs(r prorata.Result) ProRataSharesResponse {
	resp := ProRataSharesResponse{
		TenantShares: make([]TenantShareDTO, 0, len(r.TenantShares)),
		OwnerShare:   generic.FormatMoney(r.OwnerShare),
		VacancyDays:  r.VacancyDays,
		DaysInYear:   r.DaysInYear,
	}
	for _, s := range r.TenantShares {
		resp.TenantShares = append(resp.TenantShares, TenantShareDTO{
			TenantID: string(s.TenantID),
			Days:     s.Days,
			Ratio:    s.Ratio.String(),
			Amount:   generic.FormatMoney(s.Amount),
		})
	}
	return resp
}

func toSharesResponse(shares map[generic.UnitID]decimal.Decimal) SharesResponse {
	resp := SharesResponse{Shares: make(map[string]string, len(shares))}
	total := decimal.Zero
	for unitID, amount := range shares {
		resp.Shares[string(unitID)] = generic.FormatMoney(amount)
		total = total.Add(amount)
	}
	resp.Total = generic.FormatMoney(total)
	return resp
}

func toInvoiceDTO(inv generic.Invoice) InvoiceDTO {
	return InvoiceDTO{
		ID:             string(inv.ID),
		TenantID:       string(inv.TenantID),
		UnitID:         string(inv.UnitID),
		Year:           inv.Year,
		Month:          int(inv.Month),
		Betriebskosten: generic.FormatMoney(inv.Betriebskosten),
		Heizkosten:     generic.FormatMoney(inv.Heizkosten),
		Wasserkosten:   generic.FormatMoney(inv.Wasserkosten),
		Grundmiete:     generic.FormatMoney(inv.Grundmiete),
		Gesamtbetrag:   generic.FormatMoney(inv.Gesamtbetrag),
		PaidAmount:     generic.FormatMoney(inv.PaidAmount),
		OpenAmount:     generic.FormatMoney(inv.OpenAmount()),
		Status:         string(inv.Status),
		Version:        inv.Version,
	}
}

func toPaymentDTO(p generic.Payment) PaymentDTO {
	dto := PaymentDTO{
		ID:            string(p.ID),
		BankReference: p.BankReference,
		Amount:        generic.FormatMoney(p.Amount),
		ReceivedAt:    p.ReceivedAt.String(),
		Allocated:     make(map[string]string, len(p.Allocated)),
	}
	for bucket, amount := range p.Allocated {
		dto.Allocated[string(bucket)] = generic.FormatMoney(amount)
	}
	return dto
}

func toPaymentResponse(r allocation.PaymentResult) ApplyPaymentResponse {
	resp := ApplyPaymentResponse{
		Payment:        toPaymentDTO(r.Payment),
		Replayed:       r.Replayed,
		Allocations:    []BucketAllocationDTO{},
		TotalAllocated: generic.FormatMoney(r.Allocation.TotalAllocated),
		RemainingOpen:  generic.FormatMoney(r.Allocation.RemainingOpen),
	}
	for _, b := range r.Allocation.Buckets {
		resp.Allocations = append(resp.Allocations, BucketAllocationDTO{
			Bucket:        string(b.Bucket),
			Allocated:     generic.FormatMoney(b.Allocated),
			BalanceBefore: generic.FormatMoney(b.BalanceBefore),
			BalanceAfter:  generic.FormatMoney(b.BalanceAfter),
		})
	}
	if !r.Replayed {
		inv := toInvoiceDTO(r.Allocation.Invoice)
		resp.Invoice = &inv
	}
	return resp
}

func toBookingPeriodDTO(bp generic.BookingPeriod) BookingPeriodDTO {
	dto := BookingPeriodDTO{
		Year:     bp.Year,
		Month:    int(bp.Month),
		IsLocked: bp.IsLocked,
		LockedBy: bp.LockedBy,
	}
	if bp.LockedAt != nil {
		dto.LockedAt = bp.LockedAt.UTC().Format(time.RFC3339)
	}
	return dto
}

func toSettlementResponse(r settlement.Result) SettlementResponse {
	resp := SettlementResponse{
		PropertyID:    string(r.PropertyID),
		Year:          r.Year,
		Statements:    make([]StatementDTO, 0, len(r.Statements)),
		OwnerShare:    generic.FormatMoney(r.OwnerShare),
		ExpenseTotal:  generic.FormatMoney(r.ExpenseTotal),
		Undistributed: generic.FormatMoney(r.Undistributed),
		Warnings:      append([]string{}, r.Warnings...),
	}
	for _, st := range r.Statements {
		dto := StatementDTO{
			InvoiceID:  string(st.InvoiceID),
			TenantID:   string(st.TenantID),
			UnitID:     string(st.UnitID),
			Lines:      make([]StatementLineDTO, 0, len(st.Lines)),
			TotalNet:   generic.FormatMoney(st.TotalNet),
			TotalVAT:   generic.FormatMoney(st.TotalVAT),
			TotalGross: generic.FormatMoney(st.TotalGross),
			Prepaid:    generic.FormatMoney(st.Prepaid),
			Balance:    generic.FormatMoney(st.Balance),
		}
		for _, l := range st.Lines {
			dto.Lines = append(dto.Lines, StatementLineDTO{
				Category:    string(l.Category),
				LineType:    string(l.LineType),
				Description: l.Description,
				Net:         generic.FormatMoney(l.Net),
				VATRate:     l.VATRate.String(),
				VAT:         generic.FormatMoney(l.VAT),
				Gross:       generic.FormatMoney(l.Gross),
				Provisional: l.Provisional,
			})
		}
		resp.Statements = append(resp.Statements, dto)
	}
	return resp
}
