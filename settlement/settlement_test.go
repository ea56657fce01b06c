package settlement_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/generic/store"
	"github.com/warp/settlement-engine/periodlock"
	"github.com/warp/settlement-engine/sepa"
	"github.com/warp/settlement-engine/settlement"
	"github.com/xuri/excelize/v2"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var fixedNow = time.Date(2026, time.February, 10, 9, 0, 0, 0, time.UTC)

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertMoney(t *testing.T, expected string, actual decimal.Decimal, msg string) {
	t.Helper()
	assert.True(t, money(expected).Equal(actual), "%s: expected %s, got %s", msg, expected, actual.StringFixed(2))
}

func day(y int, m time.Month, d int) generic.TimePoint {
	return generic.NewTimePoint(y, m, d)
}

func dayPtr(y int, m time.Month, d int) *generic.TimePoint {
	tp := day(y, m, d)
	return &tp
}

func setup(t *testing.T) (*settlement.Service, *store.Memory, *periodlock.Guard) {
	t.Helper()
	mem := store.NewMemory()
	guard := periodlock.NewGuard(mem, nil, nil)
	svc := settlement.NewService(mem, guard, nil, nil, settlement.Options{}).
		WithClock(func() time.Time { return fixedNow })
	return svc, mem, guard
}

func occupy(t *testing.T, mem *store.Memory, tenant generic.TenantID, unit generic.UnitID, in generic.TimePoint, out *generic.TimePoint) {
	t.Helper()
	occupyAs(t, mem, "org-1", tenant, unit, in, out)
}

func occupyAs(t *testing.T, mem *store.Memory, orgID generic.OrganizationID, tenant generic.TenantID, unit generic.UnitID, in generic.TimePoint, out *generic.TimePoint) {
	t.Helper()
	require.NoError(t, mem.SaveOccupancy(context.Background(), generic.OccupancyPeriod{
		OrganizationID: orgID, TenantID: tenant, UnitID: unit, MoveIn: in, MoveOut: out,
	}))
}

func twoUnits() []settlement.SettlementUnit {
	return []settlement.SettlementUnit{
		{UnitID: "A", Area: money("60"), MEA: money("600"), Persons: money("2"), Consumption: money("300")},
		{UnitID: "B", Area: money("40"), MEA: money("400"), Persons: money("1"), Consumption: money("100")},
	}
}

func statementFor(t *testing.T, r settlement.Result, tenant generic.TenantID) settlement.TenantStatement {
	t.Helper()
	for _, st := range r.Statements {
		if st.TenantID == tenant {
			return st
		}
	}
	t.Fatalf("no statement for tenant %s", tenant)
	return settlement.TenantStatement{}
}

func assertBalanced(t *testing.T, r settlement.Result) {
	t.Helper()
	sum := r.OwnerShare.Add(r.Undistributed)
	for _, st := range r.Statements {
		sum = sum.Add(st.TotalNet)
	}
	assert.True(t, r.ExpenseTotal.Equal(sum), "expense total %s != distributed %s", r.ExpenseTotal, sum)
}

// =============================================================================
// MONTHLY VORSCHREIBUNG
// =============================================================================

func fullLease() settlement.Lease {
	return settlement.Lease{
		TenantID:       "T1",
		UnitID:         "A",
		MoveIn:         day(2024, time.January, 1),
		Grundmiete:     money("500"),
		Betriebskosten: money("100"),
		Heizkosten:     money("50"),
		Wasserkosten:   money("20"),
	}
}

func TestGenerateMonthlyInvoices_FullMonthWithVAT(t *testing.T) {
	// GIVEN: A lease covering all of March
	svc, mem, _ := setup(t)
	ctx := context.Background()

	// WHEN: March is billed
	r, err := svc.GenerateMonthlyInvoices(ctx, settlement.MonthlyInput{
		OrganizationID: "org-1", Year: 2025, Month: time.March,
		Leases: []settlement.Lease{fullLease()},
	})
	require.NoError(t, err)

	// THEN: Every bucket carries the gross amount
	require.Len(t, r.Invoices, 1)
	inv := r.Invoices[0]
	assert.Equal(t, settlement.MonthlyInvoiceID("org-1", 2025, time.March, "A", "T1"), inv.ID)
	assert.Equal(t, generic.InvoiceID("VS-org-1-2025-03-A-T1"), inv.ID)
	assertMoney(t, "550", inv.Grundmiete, "GM")
	assertMoney(t, "110", inv.Betriebskosten, "BK")
	assertMoney(t, "60", inv.Heizkosten, "HK")
	assertMoney(t, "22", inv.Wasserkosten, "WK")
	assertMoney(t, "742", inv.Gesamtbetrag, "total")
	assert.Equal(t, generic.InvoiceOpen, inv.Status)

	lines, err := mem.ListInvoiceLines(ctx, inv.ID)
	require.NoError(t, err)
	assert.Len(t, lines, 4)

	stored, err := mem.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assertMoney(t, "742", stored.Gesamtbetrag, "stored total")
}

func TestGenerateMonthlyInvoices_ProratesPartialMonth(t *testing.T) {
	// GIVEN: A tenant moving in on March 17 (15 of 31 days)
	svc, _, _ := setup(t)
	lease := fullLease()
	lease.MoveIn = day(2025, time.March, 17)
	lease.Betriebskosten = decimal.Zero
	lease.Heizkosten = decimal.Zero
	lease.Wasserkosten = decimal.Zero
	lease.Grundmiete = money("310")

	// WHEN: March is billed
	r, err := svc.GenerateMonthlyInvoices(context.Background(), settlement.MonthlyInput{
		OrganizationID: "org-1", Year: 2025, Month: time.March,
		Leases: []settlement.Lease{lease},
	})
	require.NoError(t, err)

	// THEN: 310 × 15/31 = 150 net, 165 gross
	require.Len(t, r.Invoices, 1)
	assertMoney(t, "165", r.Invoices[0].Grundmiete, "GM")
	require.Len(t, r.Lines, 1)
	assertMoney(t, "150", r.Lines[0].Amount, "net line")
}

func TestGenerateMonthlyInvoices_SkipsEndedLease(t *testing.T) {
	// GIVEN: A tenant who moved out in February
	svc, _, _ := setup(t)
	lease := fullLease()
	lease.MoveOut = dayPtr(2025, time.February, 28)

	// WHEN: March is billed
	r, err := svc.GenerateMonthlyInvoices(context.Background(), settlement.MonthlyInput{
		OrganizationID: "org-1", Year: 2025, Month: time.March,
		Leases: []settlement.Lease{lease},
	})

	// THEN: No invoice
	require.NoError(t, err)
	assert.Empty(t, r.Invoices)
}

func TestGenerateMonthlyInvoices_LockedPeriodWritesNothing(t *testing.T) {
	// GIVEN: March is locked
	svc, mem, guard := setup(t)
	ctx := context.Background()
	_, err := guard.Lock(ctx, "org-1", 2025, time.March, "accountant")
	require.NoError(t, err)

	// WHEN: March is billed
	_, err = svc.GenerateMonthlyInvoices(ctx, settlement.MonthlyInput{
		OrganizationID: "org-1", Year: 2025, Month: time.March,
		Leases: []settlement.Lease{fullLease()},
	})

	// THEN: Rejected, nothing stored
	var lockErr *generic.PeriodLockError
	require.True(t, errors.As(err, &lockErr))
	invoices, err := mem.ListInvoices(ctx, "org-1", 2025, 3)
	require.NoError(t, err)
	assert.Empty(t, invoices)
}

func TestGenerateMonthlyInvoices_RerunOverwrites(t *testing.T) {
	// GIVEN: March already billed
	svc, mem, _ := setup(t)
	ctx := context.Background()
	in := settlement.MonthlyInput{
		OrganizationID: "org-1", Year: 2025, Month: time.March,
		Leases: []settlement.Lease{fullLease()},
	}
	_, err := svc.GenerateMonthlyInvoices(ctx, in)
	require.NoError(t, err)

	// WHEN: The run is repeated
	r, err := svc.GenerateMonthlyInvoices(ctx, in)
	require.NoError(t, err)

	// THEN: Same invoice, no duplicate lines
	require.Len(t, r.Invoices, 1)
	lines, err := mem.ListInvoiceLines(ctx, r.Invoices[0].ID)
	require.NoError(t, err)
	assert.Len(t, lines, 4)
	stored, err := mem.GetInvoice(ctx, r.Invoices[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Version)
}

func TestGenerateMonthlyInvoices_KeepsPaidInvoices(t *testing.T) {
	// GIVEN: A March invoice that has received money
	svc, mem, _ := setup(t)
	ctx := context.Background()
	in := settlement.MonthlyInput{
		OrganizationID: "org-1", Year: 2025, Month: time.March,
		Leases: []settlement.Lease{fullLease()},
	}
	r, err := svc.GenerateMonthlyInvoices(ctx, in)
	require.NoError(t, err)
	inv, err := mem.GetInvoice(ctx, r.Invoices[0].ID)
	require.NoError(t, err)
	inv.PaidAmount = money("100")
	inv.Betriebskosten = money("10")
	require.NoError(t, mem.SaveInvoice(ctx, inv))

	// WHEN: The month is re-run with a higher rent
	in.Leases[0].Grundmiete = money("600")
	again, err := svc.GenerateMonthlyInvoices(ctx, in)
	require.NoError(t, err)

	// THEN: The paid invoice is left alone
	assert.Empty(t, again.Invoices)
	assert.Equal(t, []generic.InvoiceID{inv.ID}, again.Skipped)
	stored, err := mem.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assertMoney(t, "550", stored.Grundmiete, "GM unchanged")
}

func TestGenerateMonthlyInvoices_RerunDropsZeroedComponent(t *testing.T) {
	// GIVEN: March billed with 80 heating
	svc, mem, _ := setup(t)
	ctx := context.Background()
	lease := fullLease()
	lease.Heizkosten = money("80")
	in := settlement.MonthlyInput{
		OrganizationID: "org-1", Year: 2025, Month: time.March,
		Leases: []settlement.Lease{lease},
	}
	r, err := svc.GenerateMonthlyInvoices(ctx, in)
	require.NoError(t, err)
	id := r.Invoices[0].ID
	lines, err := mem.ListInvoiceLines(ctx, id)
	require.NoError(t, err)
	require.Len(t, lines, 4)

	// WHEN: The month is re-run without heating
	in.Leases[0].Heizkosten = decimal.Zero
	_, err = svc.GenerateMonthlyInvoices(ctx, in)
	require.NoError(t, err)

	// THEN: The heating line is gone and lines match the invoice
	lines, err = mem.ListInvoiceLines(ctx, id)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	for _, l := range lines {
		assert.NotEqual(t, generic.LineHeizkosten, l.LineType)
	}
	stored, err := mem.GetInvoice(ctx, id)
	require.NoError(t, err)
	assert.True(t, stored.Heizkosten.IsZero())
	assertMoney(t, "682", stored.Gesamtbetrag, "total without heating")
}

func TestGenerateMonthlyInvoices_OtherOrganizationLeavesLockedInvoiceAlone(t *testing.T) {
	// GIVEN: org-1 billed and locked March
	svc, mem, guard := setup(t)
	ctx := context.Background()
	first, err := svc.GenerateMonthlyInvoices(ctx, settlement.MonthlyInput{
		OrganizationID: "org-1", Year: 2025, Month: time.March,
		Leases: []settlement.Lease{fullLease()},
	})
	require.NoError(t, err)
	_, err = guard.Lock(ctx, "org-1", 2025, time.March, "accountant")
	require.NoError(t, err)

	// WHEN: org-2 bills a lease with the same unit and tenant names
	lease := fullLease()
	lease.Grundmiete = money("900")
	lease.Heizkosten = decimal.Zero
	other, err := svc.GenerateMonthlyInvoices(ctx, settlement.MonthlyInput{
		OrganizationID: "org-2", Year: 2025, Month: time.March,
		Leases: []settlement.Lease{lease},
	})

	// THEN: org-2 gets its own invoice
	require.NoError(t, err)
	require.Len(t, other.Invoices, 1)
	assert.NotEqual(t, first.Invoices[0].ID, other.Invoices[0].ID)
	assert.Equal(t, generic.OrganizationID("org-2"), other.Invoices[0].OrganizationID)

	// AND: org-1's invoice and lines are untouched
	stored, err := mem.GetInvoice(ctx, first.Invoices[0].ID)
	require.NoError(t, err)
	assert.Equal(t, generic.OrganizationID("org-1"), stored.OrganizationID)
	assert.Equal(t, 1, stored.Version)
	assertMoney(t, "742", stored.Gesamtbetrag, "org-1 total")
	lines, err := mem.ListInvoiceLines(ctx, first.Invoices[0].ID)
	require.NoError(t, err)
	assert.Len(t, lines, 4)

	invoices, err := mem.ListInvoices(ctx, "org-1", 2025, 3)
	require.NoError(t, err)
	assert.Len(t, invoices, 1)
}

func TestGenerateMonthlyInvoices_RejectsInvoiceOfAnotherOrganization(t *testing.T) {
	// GIVEN: An invoice of org-1 stored under the id org-2 would compute
	svc, mem, _ := setup(t)
	ctx := context.Background()
	id := settlement.MonthlyInvoiceID("org-2", 2025, time.March, "A", "T1")
	foreign := generic.NewInvoice(id, "org-1", "T1", "A", 2025, time.March, money("1"), decimal.Zero, decimal.Zero, decimal.Zero)
	require.NoError(t, mem.SaveInvoice(ctx, foreign))

	// WHEN: org-2 bills March
	_, err := svc.GenerateMonthlyInvoices(ctx, settlement.MonthlyInput{
		OrganizationID: "org-2", Year: 2025, Month: time.March,
		Leases: []settlement.Lease{fullLease()},
	})

	// THEN: Refused, the stored invoice keeps its owner and amounts
	assert.ErrorIs(t, err, generic.ErrInvoiceNotFound)
	stored, err := mem.GetInvoice(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, generic.OrganizationID("org-1"), stored.OrganizationID)
	assertMoney(t, "1", stored.Gesamtbetrag, "untouched")
}

// =============================================================================
// OPERATING COST SETTLEMENT
// =============================================================================

func TestRunOperatingCostSettlement_AreaKeyWithVATAndPrepayments(t *testing.T) {
	// GIVEN: Two fully let units (60 / 40 m²) and 1000 EUR waste disposal
	svc, mem, _ := setup(t)
	ctx := context.Background()
	occupy(t, mem, "T1", "A", day(2020, time.January, 1), nil)
	occupy(t, mem, "T2", "B", day(2020, time.January, 1), nil)

	// WHEN: 2025 is settled
	r, err := svc.RunOperatingCostSettlement(ctx, settlement.SettlementInput{
		OrganizationID: "org-1", PropertyID: "P1", Year: 2025,
		Units:       twoUnits(),
		Expenses:    []settlement.Expense{{Category: "Müllabfuhr", Amount: money("1000"), Key: "area"}},
		Prepayments: map[generic.TenantID]decimal.Decimal{"T1": money("500"), "T2": money("500")},
	})
	require.NoError(t, err)

	// THEN: 600 / 400 net, 10% VAT, balances against prepayments
	require.Len(t, r.Statements, 2)
	t1 := statementFor(t, r, "T1")
	assertMoney(t, "600", t1.TotalNet, "T1 net")
	assertMoney(t, "60", t1.TotalVAT, "T1 VAT")
	assertMoney(t, "660", t1.TotalGross, "T1 gross")
	assertMoney(t, "160", t1.Balance, "T1 Nachzahlung")

	t2 := statementFor(t, r, "T2")
	assertMoney(t, "440", t2.TotalGross, "T2 gross")
	assertMoney(t, "-60", t2.Balance, "T2 Guthaben")

	assert.True(t, r.OwnerShare.IsZero())
	assertBalanced(t, r)

	lines, err := mem.ListInvoiceLines(ctx, t1.InvoiceID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, generic.LineBetriebskosten, lines[0].LineType)
	assertMoney(t, "600", lines[0].Amount, "stored net")
}

func TestRunOperatingCostSettlement_VacantUnitChargedToOwner(t *testing.T) {
	// GIVEN: Unit B vacant all year
	svc, mem, _ := setup(t)
	occupy(t, mem, "T1", "A", day(2020, time.January, 1), nil)

	// WHEN: 1000 EUR is settled by area
	r, err := svc.RunOperatingCostSettlement(context.Background(), settlement.SettlementInput{
		OrganizationID: "org-1", PropertyID: "P1", Year: 2025,
		Units:    twoUnits(),
		Expenses: []settlement.Expense{{Category: "Hausbetreuung", Amount: money("1000")}},
	})
	require.NoError(t, err)

	// THEN: The owner carries the vacant 40%
	require.Len(t, r.Statements, 1)
	assertMoney(t, "600", r.Statements[0].TotalNet, "T1 net")
	assertMoney(t, "400", r.OwnerShare, "owner")
	assertBalanced(t, r)
}

func TestRunOperatingCostSettlement_IgnoresOtherOrganizationsTenancies(t *testing.T) {
	// GIVEN: org-1 lets only unit A, org-2 has a tenant in a unit also called B
	svc, mem, _ := setup(t)
	occupy(t, mem, "T1", "A", day(2020, time.January, 1), nil)
	occupyAs(t, mem, "org-2", "X", "B", day(2020, time.January, 1), nil)

	// WHEN: org-1 settles by area
	r, err := svc.RunOperatingCostSettlement(context.Background(), settlement.SettlementInput{
		OrganizationID: "org-1", PropertyID: "P1", Year: 2025,
		Units:    twoUnits(),
		Expenses: []settlement.Expense{{Category: "Hausbetreuung", Amount: money("1000")}},
	})
	require.NoError(t, err)

	// THEN: B is vacant for org-1
	require.Len(t, r.Statements, 1)
	assert.Equal(t, generic.TenantID("T1"), r.Statements[0].TenantID)
	assertMoney(t, "400", r.OwnerShare, "owner")
}

func TestRunOperatingCostSettlement_TenantChangeMidYear(t *testing.T) {
	// GIVEN: Unit A changes tenant on July 1, unit B is let all year
	svc, mem, _ := setup(t)
	occupy(t, mem, "T1", "A", day(2020, time.January, 1), dayPtr(2025, time.June, 30))
	occupy(t, mem, "T3", "A", day(2025, time.July, 1), nil)
	occupy(t, mem, "T2", "B", day(2020, time.January, 1), nil)

	// WHEN: 1000 EUR is settled by area
	r, err := svc.RunOperatingCostSettlement(context.Background(), settlement.SettlementInput{
		OrganizationID: "org-1", PropertyID: "P1", Year: 2025,
		Units:    twoUnits(),
		Expenses: []settlement.Expense{{Category: "Lift", Amount: money("1000")}},
	})
	require.NoError(t, err)

	// THEN: A's 600 is split by days between T1 and T3
	require.Len(t, r.Statements, 3)
	unitA := statementFor(t, r, "T1").TotalNet.Add(statementFor(t, r, "T3").TotalNet)
	assertMoney(t, "600", unitA, "unit A")
	assert.True(t, statementFor(t, r, "T1").TotalNet.LessThan(statementFor(t, r, "T3").TotalNet))
	assertBalanced(t, r)
}

func TestRunOperatingCostSettlement_HeatingSplit(t *testing.T) {
	// GIVEN: Equal areas, consumption 300 / 100
	svc, mem, _ := setup(t)
	occupy(t, mem, "T1", "A", day(2020, time.January, 1), nil)
	occupy(t, mem, "T2", "B", day(2020, time.January, 1), nil)
	units := twoUnits()
	units[0].Area = money("50")
	units[1].Area = money("50")

	// WHEN: 10000 EUR district heating is settled
	r, err := svc.RunOperatingCostSettlement(context.Background(), settlement.SettlementInput{
		OrganizationID: "org-1", PropertyID: "P1", Year: 2025,
		Units:    units,
		Expenses: []settlement.Expense{{Category: "Fernwärme", Amount: money("10000")}},
	})
	require.NoError(t, err)

	// THEN: 70% by consumption, 30% by area, 20% VAT
	t1 := statementFor(t, r, "T1")
	assertMoney(t, "6750", t1.TotalNet, "T1 net")
	assertMoney(t, "1350", t1.TotalVAT, "T1 VAT")
	require.Len(t, t1.Lines, 1)
	assert.Equal(t, generic.LineHeizkosten, t1.Lines[0].LineType)
	assertMoney(t, "3250", statementFor(t, r, "T2").TotalNet, "T2 net")
	assertBalanced(t, r)
}

func TestRunOperatingCostSettlement_HeatingRatioOverride(t *testing.T) {
	// GIVEN: A 50/50 heating ratio for this run
	svc, mem, _ := setup(t)
	occupy(t, mem, "T1", "A", day(2020, time.January, 1), nil)
	occupy(t, mem, "T2", "B", day(2020, time.January, 1), nil)
	units := twoUnits()
	units[0].Area = money("50")
	units[1].Area = money("50")
	ratio := money("0.5")

	// WHEN: 10000 EUR heating is settled
	r, err := svc.RunOperatingCostSettlement(context.Background(), settlement.SettlementInput{
		OrganizationID: "org-1", PropertyID: "P1", Year: 2025,
		Units:        units,
		Expenses:     []settlement.Expense{{Category: "Heizkosten", Amount: money("10000")}},
		HeatingRatio: &ratio,
	})
	require.NoError(t, err)

	// THEN: A = 3750 + 2500
	assertMoney(t, "6250", statementFor(t, r, "T1").TotalNet, "T1 net")
}

func TestRunOperatingCostSettlement_WaterWithoutReadingsIsProvisional(t *testing.T) {
	// GIVEN: No water readings at all
	svc, mem, _ := setup(t)
	occupy(t, mem, "T1", "A", day(2020, time.January, 1), nil)
	occupy(t, mem, "T2", "B", day(2020, time.January, 1), nil)

	// WHEN: 300 EUR water is settled by the water key
	r, err := svc.RunOperatingCostSettlement(context.Background(), settlement.SettlementInput{
		OrganizationID: "org-1", PropertyID: "P1", Year: 2025,
		Units:    twoUnits(),
		Expenses: []settlement.Expense{{Category: "Wasser", Amount: money("300"), Key: "water"}},
	})
	require.NoError(t, err)

	// THEN: Equal provisional split on the water line
	t1 := statementFor(t, r, "T1")
	require.Len(t, t1.Lines, 1)
	assert.Equal(t, generic.LineWasserkosten, t1.Lines[0].LineType)
	assert.True(t, t1.Lines[0].Provisional)
	assertMoney(t, "150", t1.TotalNet, "T1 net")
	assertBalanced(t, r)
}

func TestRunOperatingCostSettlement_NoBasisIsUndistributed(t *testing.T) {
	// GIVEN: A persons key but nobody registered
	svc, mem, _ := setup(t)
	occupy(t, mem, "T1", "A", day(2020, time.January, 1), nil)
	units := twoUnits()
	units[0].Persons = decimal.Zero
	units[1].Persons = decimal.Zero

	// WHEN: Settled
	r, err := svc.RunOperatingCostSettlement(context.Background(), settlement.SettlementInput{
		OrganizationID: "org-1", PropertyID: "P1", Year: 2025,
		Units:    units,
		Expenses: []settlement.Expense{{Category: "Kabel-TV", Amount: money("99.99"), Key: "persons"}},
	})
	require.NoError(t, err)

	// THEN: Reported, not silently dropped
	assertMoney(t, "99.99", r.Undistributed, "undistributed")
	require.Len(t, r.Warnings, 1)
	assert.Contains(t, r.Warnings[0], "99.99")
	assertBalanced(t, r)
}

func TestRunOperatingCostSettlement_RoundingReconciled(t *testing.T) {
	// GIVEN: Three equal units and an amount that does not divide evenly
	svc, mem, _ := setup(t)
	units := []settlement.SettlementUnit{
		{UnitID: "A", Area: money("1")},
		{UnitID: "B", Area: money("1")},
		{UnitID: "C", Area: money("1")},
	}
	for _, u := range units {
		occupy(t, mem, generic.TenantID("T-"+string(u.UnitID)), u.UnitID, day(2020, time.January, 1), nil)
	}

	// WHEN: 100 EUR is settled
	r, err := svc.RunOperatingCostSettlement(context.Background(), settlement.SettlementInput{
		OrganizationID: "org-1", PropertyID: "P1", Year: 2025,
		Units:    units,
		Expenses: []settlement.Expense{{Category: "Strom Allgemein", Amount: money("100")}},
	})
	require.NoError(t, err)

	// THEN: 33.34 + 33.33 + 33.33
	require.Len(t, r.Statements, 3)
	assertBalanced(t, r)
	assert.True(t, r.Undistributed.IsZero())
}

func TestRunOperatingCostSettlement_UnknownKey(t *testing.T) {
	svc, _, _ := setup(t)

	_, err := svc.RunOperatingCostSettlement(context.Background(), settlement.SettlementInput{
		OrganizationID: "org-1", PropertyID: "P1", Year: 2025,
		Units:    twoUnits(),
		Expenses: []settlement.Expense{{Category: "Lift", Amount: money("10"), Key: "shoe-size"}},
	})

	assert.Error(t, err)
}

func TestRunOperatingCostSettlement_LockedBookingMonth(t *testing.T) {
	// GIVEN: The booking month is locked
	svc, mem, guard := setup(t)
	ctx := context.Background()
	occupy(t, mem, "T1", "A", day(2020, time.January, 1), nil)
	_, err := guard.Lock(ctx, "org-1", 2026, time.February, "accountant")
	require.NoError(t, err)

	// WHEN: Settling with a booking date in that month
	_, err = svc.RunOperatingCostSettlement(ctx, settlement.SettlementInput{
		OrganizationID: "org-1", PropertyID: "P1", Year: 2025,
		BookingDate: day(2026, time.February, 15),
		Units:       twoUnits(),
		Expenses:    []settlement.Expense{{Category: "Lift", Amount: money("10")}},
	})

	// THEN: Rejected before anything is written
	assert.True(t, periodlock.IsLocked(err))
	lines, err := mem.ListInvoiceLines(ctx, settlement.StatementInvoiceID("org-1", 2025, "A", "T1"))
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestRunOperatingCostSettlement_RerunIsIdempotent(t *testing.T) {
	// GIVEN: A settlement already run
	svc, mem, _ := setup(t)
	ctx := context.Background()
	occupy(t, mem, "T1", "A", day(2020, time.January, 1), nil)
	in := settlement.SettlementInput{
		OrganizationID: "org-1", PropertyID: "P1", Year: 2025,
		Units: twoUnits(),
		Expenses: []settlement.Expense{
			{Category: "Müllabfuhr", Amount: money("1000")},
			{Category: "Versicherung", Amount: money("500")},
		},
	}
	_, err := svc.RunOperatingCostSettlement(ctx, in)
	require.NoError(t, err)

	// WHEN: It is run again with a corrected amount
	in.Expenses[0].Amount = money("1100")
	_, err = svc.RunOperatingCostSettlement(ctx, in)
	require.NoError(t, err)

	// THEN: The lines are overwritten, not duplicated
	lines, err := mem.ListInvoiceLines(ctx, settlement.StatementInvoiceID("org-1", 2025, "A", "T1"))
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assertMoney(t, "660", lines[0].Amount, "corrected waste line")
}

func TestRunOperatingCostSettlement_RerunDropsRemovedExpense(t *testing.T) {
	// GIVEN: A settlement with waste disposal and insurance
	svc, mem, _ := setup(t)
	ctx := context.Background()
	occupy(t, mem, "T1", "A", day(2020, time.January, 1), nil)
	in := settlement.SettlementInput{
		OrganizationID: "org-1", PropertyID: "P1", Year: 2025,
		Units: twoUnits(),
		Expenses: []settlement.Expense{
			{Category: "Müllabfuhr", Amount: money("1000")},
			{Category: "Versicherung", Amount: money("500")},
		},
	}
	_, err := svc.RunOperatingCostSettlement(ctx, in)
	require.NoError(t, err)

	// WHEN: The insurance is booked elsewhere and the year is re-run
	in.Expenses = in.Expenses[:1]
	_, err = svc.RunOperatingCostSettlement(ctx, in)
	require.NoError(t, err)

	// THEN: Only the waste line remains on the statement
	lines, err := mem.ListInvoiceLines(ctx, settlement.StatementInvoiceID("org-1", 2025, "A", "T1"))
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assertMoney(t, "600", lines[0].Amount, "waste line")
}

func TestCompute_RejectsInvalidYear(t *testing.T) {
	_, err := settlement.Compute(settlement.SettlementInput{Year: 0}, nil, money("0.7"))

	assert.ErrorIs(t, err, generic.ErrInvalidPeriod)
}

// =============================================================================
// EXPORTS
// =============================================================================

func sampleResult(t *testing.T) settlement.Result {
	t.Helper()
	svc, mem, _ := setup(t)
	occupy(t, mem, "T1", "A", day(2020, time.January, 1), nil)
	occupy(t, mem, "T2", "B", day(2020, time.January, 1), nil)
	r, err := svc.RunOperatingCostSettlement(context.Background(), settlement.SettlementInput{
		OrganizationID: "org-1", PropertyID: "P1", Year: 2025,
		Units: twoUnits(),
		Expenses: []settlement.Expense{
			{Category: "Müllabfuhr", Amount: money("1000")},
			{Category: "Fernwärme", Amount: money("2000")},
		},
		Prepayments: map[generic.TenantID]decimal.Decimal{"T1": money("5000"), "T2": money("100")},
	})
	require.NoError(t, err)
	return r
}

func TestBuildStatementXLSX(t *testing.T) {
	// GIVEN: A settlement with two statements of two lines each
	r := sampleResult(t)

	// WHEN: Exported
	data, err := settlement.BuildStatementXLSX(r)
	require.NoError(t, err)

	// THEN: The workbook opens and lists every statement and line
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"summary", "lines"}, f.GetSheetList())
	title, err := f.GetCellValue("summary", "A1")
	require.NoError(t, err)
	assert.Equal(t, "Betriebskostenabrechnung", title)
	property, err := f.GetCellValue("summary", "B2")
	require.NoError(t, err)
	assert.Equal(t, "P1", property)

	first, err := f.GetCellValue("summary", "A9")
	require.NoError(t, err)
	assert.Equal(t, string(r.Statements[0].InvoiceID), first)

	rows, err := f.GetRows("lines")
	require.NoError(t, err)
	assert.Len(t, rows, 1+4)
}

func TestRefundTransfers_OnlyCredits(t *testing.T) {
	// GIVEN: T1 prepaid far too much, T2 too little
	r := sampleResult(t)

	// WHEN: Refunds are prepared, with an account for T1 only
	transfers, missing := settlement.RefundTransfers(r, map[generic.TenantID]sepa.Account{
		"T1": {Name: "Tenant One", IBAN: "AT611904300234573201", BIC: "BKAUATWW"},
	})

	// THEN: One transfer for the credit, no one missing
	require.Len(t, transfers, 1)
	assert.True(t, transfers[0].Amount.IsPositive())
	assertMoney(t, statementFor(t, r, "T1").Balance.Neg().String(), transfers[0].Amount, "refund")
	assert.Empty(t, missing)

	// AND: The transfers render as pain.001
	xmlDoc, err := sepa.GenerateCreditTransfer(sepa.CreditTransferBatch{
		ExecutionDate: day(2026, time.March, 1),
		Originator:    sepa.Account{Name: "Hausverwaltung", IBAN: "AT483200000012345864", BIC: "RLNWATWW"},
		Transfers:     transfers,
	})
	require.NoError(t, err)
	assert.Contains(t, string(xmlDoc), "Guthaben Betriebskostenabrechnung 2025")
}

func TestRefundTransfers_ReportsMissingAccounts(t *testing.T) {
	r := sampleResult(t)

	transfers, missing := settlement.RefundTransfers(r, nil)

	assert.Empty(t, transfers)
	assert.Equal(t, []generic.TenantID{"T1"}, missing)
}

func TestDebtorsForInvoices(t *testing.T) {
	// GIVEN: An open invoice, a paid one and one without mandate
	open := generic.NewInvoice("inv-1", "org-1", "T1", "A", 2025, time.March, money("110"), money("60"), money("22"), money("550"))
	paid := generic.NewInvoice("inv-2", "org-1", "T2", "B", 2025, time.March, decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero)
	orphan := generic.NewInvoice("inv-3", "org-1", "T3", "C", 2025, time.March, money("10"), decimal.Zero, decimal.Zero, decimal.Zero)
	mandates := map[generic.TenantID]settlement.Mandate{
		"T1": {Name: "Tenant One", IBAN: "AT611904300234573201", BIC: "BKAUATWW", MandateID: "M-1", SignedOn: day(2020, time.January, 1)},
		"T2": {Name: "Tenant Two", IBAN: "AT611904300234573201", BIC: "BKAUATWW", MandateID: "M-2", SignedOn: day(2020, time.January, 1)},
	}

	// WHEN: Debtors are derived
	debtors, missing := settlement.DebtorsForInvoices([]generic.Invoice{open, paid, orphan}, mandates)

	// THEN: Only the open invoice with a mandate is collected
	require.Len(t, debtors, 1)
	assertMoney(t, "742", debtors[0].Amount, "collect")
	assert.Equal(t, "VS-2025-03-A-T1", debtors[0].EndToEndID)
	assert.Equal(t, "M-1", debtors[0].MandateID)
	assert.Equal(t, []generic.InvoiceID{"inv-3"}, missing)
}
