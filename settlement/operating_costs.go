package settlement

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/distribution"
	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/metrics"
	"github.com/warp/settlement-engine/prorata"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// =============================================================================
// OPERATING COST SETTLEMENT (Betriebskostenabrechnung)
// =============================================================================
//
// Per expense:
//   1. Categorize the free-text category (legal category + VAT rate)
//   2. Distribute across units:
//        heizung        -> SplitHeatingCosts (consumption/area)
//        key water      -> DistributeWater (provisional fallback)
//        key area       -> DistributeWithVacancy (owner absorbs vacant area)
//        any other key  -> DistributeByKey
//   3. Reconcile unit amounts to the expense total (minus owner share)
//   4. Split each unit amount across its tenants by occupied days; days
//      without a tenant are the owner's
//
// Tenant lines are then aggregated per (line type, description), taxed and
// written as the invoice lines of the tenant's settlement statement, replacing
// whatever an earlier run left there.

// SettlementUnit carries every weight a unit can be distributed by.
type SettlementUnit struct {
	UnitID      generic.UnitID
	Area        decimal.Decimal
	MEA         decimal.Decimal
	Persons     decimal.Decimal
	Consumption decimal.Decimal // heating consumption

	WaterReading     *decimal.Decimal
	WaterCoefficient decimal.Decimal
}

// Expense is one building-level cost of the settlement year.
type Expense struct {
	Category    string // free text, e.g. "Müllabfuhr", "Fernwärme"
	Description string
	Amount      decimal.Decimal
	Key         string // distribution key; empty means area
}

// SettlementInput describes one property's settlement year.
type SettlementInput struct {
	OrganizationID generic.OrganizationID
	PropertyID     generic.PropertyID
	Year           int

	// BookingDate decides the accounting month the statement lines are
	// booked into. Zero means today.
	BookingDate generic.TimePoint

	Units       []SettlementUnit
	Expenses    []Expense
	Prepayments map[generic.TenantID]decimal.Decimal

	// HeatingRatio overrides the service's consumption ratio when non-nil.
	HeatingRatio *decimal.Decimal
}

// StatementLine is one aggregated cost line of a tenant statement.
type StatementLine struct {
	Category    distribution.Category
	LineType    generic.LineType
	Description string
	Net         decimal.Decimal
	VATRate     decimal.Decimal
	VAT         decimal.Decimal
	Gross       decimal.Decimal
	Provisional bool
}

// TenantStatement is one tenant's settlement for one unit.
// Balance > 0 is an additional payment (Nachzahlung), < 0 a credit (Guthaben).
type TenantStatement struct {
	InvoiceID  generic.InvoiceID
	TenantID   generic.TenantID
	UnitID     generic.UnitID
	Lines      []StatementLine
	TotalNet   decimal.Decimal
	TotalVAT   decimal.Decimal
	TotalGross decimal.Decimal
	Prepaid    decimal.Decimal
	Balance    decimal.Decimal
}

// Result of a settlement run.
//
// ExpenseTotal = Σ statement TotalNet + OwnerShare + Undistributed, to the cent.
type Result struct {
	OrganizationID generic.OrganizationID
	PropertyID     generic.PropertyID
	Year           int
	Statements     []TenantStatement
	OwnerShare     decimal.Decimal
	ExpenseTotal   decimal.Decimal
	Undistributed  decimal.Decimal
	Warnings       []string
}

// StatementInvoiceID is the deterministic document id of a tenant statement.
func StatementInvoiceID(orgID generic.OrganizationID, year int, unitID generic.UnitID, tenantID generic.TenantID) generic.InvoiceID {
	return generic.InvoiceID(fmt.Sprintf("BK-%s-%04d-%s-%s", orgID, year, unitID, tenantID))
}

// statementReference is the short bank reference of a statement.
func statementReference(year int, st TenantStatement) string {
	return fmt.Sprintf("BK-%04d-%s-%s", year, st.UnitID, st.TenantID)
}

// RunOperatingCostSettlement computes and persists a settlement year.
func (s *Service) RunOperatingCostSettlement(ctx context.Context, in SettlementInput) (Result, error) {
	started := s.now()
	ctx, span := tracer.Start(ctx, "settlement.RunOperatingCostSettlement")
	defer span.End()
	span.SetAttributes(
		attribute.String("organization_id", string(in.OrganizationID)),
		attribute.String("property_id", string(in.PropertyID)),
		attribute.Int("year", in.Year),
		attribute.Int("expenses", len(in.Expenses)),
	)

	bookingDate := in.BookingDate
	if bookingDate.IsZero() {
		bookingDate = generic.FromTime(s.now())
	}
	ratio := s.heatingRatio
	if in.HeatingRatio != nil {
		ratio = *in.HeatingRatio
	}

	var result Result
	err := s.store.WithTx(ctx, func(tx generic.Stores) error {
		if err := s.guard.Bind(tx).AssertDateOpen(ctx, in.OrganizationID, bookingDate); err != nil {
			return err
		}

		occupancies := make(map[generic.UnitID][]generic.OccupancyPeriod, len(in.Units))
		year := generic.YearPeriod(in.Year)
		for _, u := range in.Units {
			periods, err := tx.ListOccupancies(ctx, in.OrganizationID, u.UnitID, year)
			if err != nil {
				return fmt.Errorf("list occupancies of %s: %w", u.UnitID, err)
			}
			occupancies[u.UnitID] = periods
		}

		computed, err := Compute(in, occupancies, ratio)
		if err != nil {
			return err
		}

		for _, st := range computed.Statements {
			lines := make([]generic.InvoiceLine, 0, len(st.Lines))
			for _, l := range st.Lines {
				lines = append(lines, generic.InvoiceLine{
					InvoiceID:   st.InvoiceID,
					UnitID:      st.UnitID,
					LineType:    l.LineType,
					Description: l.Description,
					Amount:      l.Net,
					TaxRate:     l.VATRate,
				})
			}
			if err := tx.ReplaceInvoiceLines(ctx, st.InvoiceID, lines); err != nil {
				return fmt.Errorf("replace statement %s: %w", st.InvoiceID, err)
			}
		}
		result = computed
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "settlement run failed")
		s.metrics.ObserveSettlementRun(runResult(err), started)
		s.logger.Warn("settlement run failed",
			zap.String("organization_id", string(in.OrganizationID)),
			zap.String("property_id", string(in.PropertyID)),
			zap.Int("year", in.Year),
			zap.Error(err),
		)
		return Result{}, err
	}

	s.metrics.ObserveSettlementRun(metrics.ResultSuccess, started)
	for _, w := range result.Warnings {
		s.logger.Warn("settlement warning", zap.String("property_id", string(in.PropertyID)), zap.String("warning", w))
	}
	s.logger.Info("settlement run completed",
		zap.String("organization_id", string(in.OrganizationID)),
		zap.String("property_id", string(in.PropertyID)),
		zap.Int("year", in.Year),
		zap.Int("statements", len(result.Statements)),
		zap.String("expense_total", generic.FormatMoney(result.ExpenseTotal)),
		zap.String("owner_share", generic.FormatMoney(result.OwnerShare)),
		zap.Duration("took", time.Since(started)),
	)
	return result, nil
}

// =============================================================================
// PURE COMPUTATION
// =============================================================================

type statementKey struct {
	UnitID   generic.UnitID
	TenantID generic.TenantID
}

type lineKey struct {
	LineType    generic.LineType
	Description string
}

type lineAccumulator struct {
	category    distribution.Category
	description string
	net         decimal.Decimal
	provisional bool
	order       int
}

// Compute runs the settlement arithmetic without touching a store.
// occupancies holds each unit's tenancies intersecting the settlement year.
func Compute(in SettlementInput, occupancies map[generic.UnitID][]generic.OccupancyPeriod, heatingRatio decimal.Decimal) (Result, error) {
	result := Result{
		OrganizationID: in.OrganizationID,
		PropertyID:     in.PropertyID,
		Year:           in.Year,
		OwnerShare:     decimal.Zero,
		ExpenseTotal:   decimal.Zero,
		Undistributed:  decimal.Zero,
	}
	if in.Year <= 0 {
		return Result{}, fmt.Errorf("%w: settlement year %d", generic.ErrInvalidPeriod, in.Year)
	}

	accounts := map[statementKey]map[lineKey]*lineAccumulator{}
	lineCount := 0

	for i, e := range in.Expenses {
		total := generic.RoundMoney(e.Amount)
		result.ExpenseTotal = result.ExpenseTotal.Add(total)

		category := distribution.Categorize(e.Category)
		key, err := distribution.ParseKey(strings.TrimSpace(e.Key))
		if err != nil {
			return Result{}, fmt.Errorf("expense %d (%s): %w", i+1, e.Category, err)
		}
		lineType := category.LineType()
		if key == distribution.KeyWater {
			lineType = generic.LineWasserkosten
		}
		description := strings.TrimSpace(e.Description)
		if description == "" {
			description = strings.TrimSpace(e.Category)
		}

		shares, owner, provisional, err := distributeExpense(total, category, key, in.Units, occupancies, in.Year, heatingRatio)
		if err != nil {
			return Result{}, fmt.Errorf("expense %d (%s): %w", i+1, e.Category, err)
		}
		if len(shares) == 0 && owner.IsZero() && !total.IsZero() {
			result.Undistributed = result.Undistributed.Add(total)
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("expense %q: no basis for distribution by %s, %s EUR not distributed", description, key, generic.FormatMoney(total)))
			continue
		}
		result.OwnerShare = result.OwnerShare.Add(owner)

		reconciled := reconcileShares(shares, lineType, total.Sub(owner))
		if !reconciled.Residual.IsZero() {
			result.Undistributed = result.Undistributed.Add(reconciled.Residual)
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("expense %q: rounding residual of %s EUR left undistributed", description, generic.FormatMoney(reconciled.Residual)))
		}

		for _, line := range reconciled.Lines {
			split := prorata.ProRataShares(occupancies[line.UnitID], line.Amount, in.Year)
			result.OwnerShare = result.OwnerShare.Add(split.OwnerShare)

			for _, ts := range split.TenantShares {
				if ts.Days == 0 && ts.Amount.IsZero() {
					continue
				}
				sk := statementKey{UnitID: line.UnitID, TenantID: ts.TenantID}
				if accounts[sk] == nil {
					accounts[sk] = map[lineKey]*lineAccumulator{}
				}
				lk := lineKey{LineType: lineType, Description: generic.NormalizeDescription(description)}
				acc := accounts[sk][lk]
				if acc == nil {
					acc = &lineAccumulator{category: category, description: description, net: decimal.Zero, order: lineCount}
					lineCount++
					accounts[sk][lk] = acc
				}
				acc.net = acc.net.Add(ts.Amount)
				acc.provisional = acc.provisional || provisional[line.UnitID]
			}
		}
	}

	result.Statements = buildStatements(in, accounts)
	result.ExpenseTotal = generic.RoundMoney(result.ExpenseTotal)
	result.OwnerShare = generic.RoundMoney(result.OwnerShare)
	result.Undistributed = generic.RoundMoney(result.Undistributed)
	return result, nil
}

// distributeExpense returns unit shares, the owner's direct share (vacant
// area) and which units got a provisional amount.
func distributeExpense(
	total decimal.Decimal,
	category distribution.Category,
	key distribution.Key,
	units []SettlementUnit,
	occupancies map[generic.UnitID][]generic.OccupancyPeriod,
	year int,
	heatingRatio decimal.Decimal,
) (map[generic.UnitID]decimal.Decimal, decimal.Decimal, map[generic.UnitID]bool, error) {
	provisional := map[generic.UnitID]bool{}

	switch {
	case category == distribution.CategoryHeizung:
		heating := make([]distribution.HeatingUnit, 0, len(units))
		for _, u := range units {
			heating = append(heating, distribution.HeatingUnit{UnitID: u.UnitID, Area: u.Area, Consumption: u.Consumption})
		}
		split, err := distribution.SplitHeatingCosts(total, heatingRatio, heating)
		if err != nil {
			return nil, decimal.Zero, nil, err
		}
		shares := make(map[generic.UnitID]decimal.Decimal, len(split))
		for id, share := range split {
			shares[id] = share.Total
		}
		if distribution.Sum(shares).IsZero() {
			return map[generic.UnitID]decimal.Decimal{}, decimal.Zero, provisional, nil
		}
		return shares, decimal.Zero, provisional, nil

	case key == distribution.KeyWater:
		water := make([]distribution.WaterUnit, 0, len(units))
		for _, u := range units {
			water = append(water, distribution.WaterUnit{UnitID: u.UnitID, Reading: u.WaterReading, Coefficient: u.WaterCoefficient})
		}
		shares := map[generic.UnitID]decimal.Decimal{}
		for _, ws := range distribution.DistributeWater(total, water) {
			shares[ws.UnitID] = ws.Amount
			provisional[ws.UnitID] = ws.Provisional
		}
		return shares, decimal.Zero, provisional, nil

	case key == distribution.KeyArea:
		area := make([]distribution.AreaUnit, 0, len(units))
		for _, u := range units {
			occupied := false
			for _, o := range occupancies[u.UnitID] {
				if prorata.OccupancyDays(o.MoveIn, o.MoveOut, generic.StartOfYear(year), generic.EndOfYear(year)) > 0 {
					occupied = true
					break
				}
			}
			area = append(area, distribution.AreaUnit{UnitID: u.UnitID, Area: u.Area, Occupied: occupied})
		}
		vr := distribution.DistributeWithVacancy(total, area)
		return vr.TenantShares, vr.OwnerShare, provisional, nil

	default:
		weights := make([]distribution.Unit, 0, len(units))
		for _, u := range units {
			weights = append(weights, distribution.Unit{
				UnitID:      u.UnitID,
				Area:        u.Area,
				MEA:         u.MEA,
				Persons:     u.Persons,
				Consumption: u.Consumption,
			})
		}
		return distribution.DistributeByKey(total, distribution.LinesForKey(weights, key)), decimal.Zero, provisional, nil
	}
}

func reconcileShares(shares map[generic.UnitID]decimal.Decimal, lineType generic.LineType, expected decimal.Decimal) generic.ReconcileResult {
	ids := make([]generic.UnitID, 0, len(shares))
	for id := range shares {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	lines := make([]generic.ReconcileLine, 0, len(ids))
	for _, id := range ids {
		lines = append(lines, generic.ReconcileLine{UnitID: id, LineType: lineType, Amount: shares[id]})
	}
	return generic.ReconcileRounding(lines, expected)
}

func buildStatements(in SettlementInput, accounts map[statementKey]map[lineKey]*lineAccumulator) []TenantStatement {
	keys := make([]statementKey, 0, len(accounts))
	for k := range accounts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].UnitID != keys[j].UnitID {
			return keys[i].UnitID < keys[j].UnitID
		}
		return keys[i].TenantID < keys[j].TenantID
	})

	prepaidUsed := map[generic.TenantID]bool{}
	statements := make([]TenantStatement, 0, len(keys))
	for _, k := range keys {
		st := TenantStatement{
			InvoiceID:  StatementInvoiceID(in.OrganizationID, in.Year, k.UnitID, k.TenantID),
			TenantID:   k.TenantID,
			UnitID:     k.UnitID,
			TotalNet:   decimal.Zero,
			TotalVAT:   decimal.Zero,
			TotalGross: decimal.Zero,
			Prepaid:    decimal.Zero,
		}

		accs := make([]struct {
			key lineKey
			acc *lineAccumulator
		}, 0, len(accounts[k]))
		for lk, acc := range accounts[k] {
			accs = append(accs, struct {
				key lineKey
				acc *lineAccumulator
			}{lk, acc})
		}
		sort.Slice(accs, func(i, j int) bool { return accs[i].acc.order < accs[j].acc.order })

		for _, a := range accs {
			net := generic.RoundMoney(a.acc.net)
			rate := distribution.VATRate(a.acc.category)
			vat := generic.RoundMoney(net.Mul(rate))
			st.Lines = append(st.Lines, StatementLine{
				Category:    a.acc.category,
				LineType:    a.key.LineType,
				Description: a.acc.description,
				Net:         net,
				VATRate:     rate,
				VAT:         vat,
				Gross:       net.Add(vat),
				Provisional: a.acc.provisional,
			})
			st.TotalNet = st.TotalNet.Add(net)
			st.TotalVAT = st.TotalVAT.Add(vat)
		}
		st.TotalGross = st.TotalNet.Add(st.TotalVAT)

		if prepaid, ok := in.Prepayments[k.TenantID]; ok && !prepaidUsed[k.TenantID] {
			st.Prepaid = generic.RoundMoney(prepaid)
			prepaidUsed[k.TenantID] = true
		}
		st.Balance = st.TotalGross.Sub(st.Prepaid)
		statements = append(statements, st)
	}
	return statements
}
