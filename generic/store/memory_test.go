package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/generic/store"
)

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestMemory_SaveInvoiceOptimisticLocking(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	inv := generic.NewInvoice("VS-1", "org-1", "T1", "A", 2025, time.March, money("110"), money("60"), money("22"), money("550"))

	// GIVEN: A fresh invoice saved once
	require.NoError(t, s.SaveInvoice(ctx, inv))
	stored, err := s.GetInvoice(ctx, "VS-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Version)

	// WHEN: A stale copy is written back
	err = s.SaveInvoice(ctx, inv)

	// THEN: Rejected
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)

	// AND: The current copy goes through
	stored.PaidAmount = money("100")
	require.NoError(t, s.SaveInvoice(ctx, stored))
	stored, err = s.GetInvoice(ctx, "VS-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Version)
}

func TestMemory_GetUnknownInvoice(t *testing.T) {
	_, err := store.NewMemory().GetInvoice(context.Background(), "nope")
	assert.ErrorIs(t, err, generic.ErrInvoiceNotFound)
}

func TestMemory_WithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	boom := errors.New("boom")

	// WHEN: A transaction writes and then fails
	err := s.WithTx(ctx, func(tx generic.Stores) error {
		inv := generic.NewInvoice("VS-1", "org-1", "T1", "A", 2025, time.March, money("1"), decimal.Zero, decimal.Zero, decimal.Zero)
		if err := tx.SaveInvoice(ctx, inv); err != nil {
			return err
		}
		if err := tx.AppendPayment(ctx, generic.Payment{ID: "P1", OrganizationID: "org-1", InvoiceID: "VS-1", BankReference: "R1", Amount: money("1")}); err != nil {
			return err
		}
		return boom
	})

	// THEN: Nothing is visible afterwards
	require.ErrorIs(t, err, boom)
	_, err = s.GetInvoice(ctx, "VS-1")
	assert.ErrorIs(t, err, generic.ErrInvoiceNotFound)
	p, err := s.FindPaymentByReference(ctx, "org-1", "R1")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestMemory_WithTxCommits(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	err := s.WithTx(ctx, func(tx generic.Stores) error {
		return tx.SaveBookingPeriod(ctx, generic.BookingPeriod{OrganizationID: "org-1", Year: 2025, Month: time.March, IsLocked: true, LockedBy: "accountant"})
	})
	require.NoError(t, err)

	bp, err := s.GetBookingPeriod(ctx, generic.PeriodKey{OrganizationID: "org-1", Year: 2025, Month: time.March})
	require.NoError(t, err)
	require.NotNil(t, bp)
	assert.True(t, bp.IsLocked)
}

func TestMemory_UpsertLinesKeepsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	first := generic.InvoiceLine{InvoiceID: "I", UnitID: "A", LineType: generic.LineGrundmiete, Description: "Grundmiete", Amount: money("550")}
	second := generic.InvoiceLine{InvoiceID: "I", UnitID: "A", LineType: generic.LineHeizkosten, Description: "Heizkosten Jänner", Amount: money("60")}
	require.NoError(t, s.UpsertInvoiceLines(ctx, []generic.InvoiceLine{first, second}))

	// WHEN: The first line is re-sent under another spelling
	first.Description = "GRUNDMIETE"
	first.Amount = money("560")
	require.NoError(t, s.UpsertInvoiceLines(ctx, []generic.InvoiceLine{first}))

	lines, err := s.ListInvoiceLines(ctx, "I")
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, generic.LineGrundmiete, lines[0].LineType)
	assert.True(t, lines[0].Amount.Equal(money("560")))
	assert.Equal(t, generic.LineHeizkosten, lines[1].LineType)
}

func TestMemory_ReplaceLinesDropsStaleLines(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	rent := generic.InvoiceLine{InvoiceID: "I", UnitID: "A", LineType: generic.LineGrundmiete, Description: "Grundmiete", Amount: money("550")}
	heating := generic.InvoiceLine{InvoiceID: "I", UnitID: "A", LineType: generic.LineHeizkosten, Description: "Heizkosten", Amount: money("80")}
	other := generic.InvoiceLine{InvoiceID: "J", UnitID: "A", LineType: generic.LineHeizkosten, Description: "Heizkosten", Amount: money("70")}
	require.NoError(t, s.UpsertInvoiceLines(ctx, []generic.InvoiceLine{rent, heating, other}))

	// WHEN: Invoice I is replaced by its rent line alone
	rent.Amount = money("560")
	require.NoError(t, s.ReplaceInvoiceLines(ctx, "I", []generic.InvoiceLine{rent}))

	// THEN: The heating line of I is gone, J is untouched
	lines, err := s.ListInvoiceLines(ctx, "I")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, generic.LineGrundmiete, lines[0].LineType)
	assert.True(t, lines[0].Amount.Equal(money("560")))

	lines, err = s.ListInvoiceLines(ctx, "J")
	require.NoError(t, err)
	assert.Len(t, lines, 1)
}

func TestMemory_ReplaceLinesRollsBackWithTx(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	heating := generic.InvoiceLine{InvoiceID: "I", UnitID: "A", LineType: generic.LineHeizkosten, Description: "Heizkosten", Amount: money("80")}
	require.NoError(t, s.UpsertInvoiceLines(ctx, []generic.InvoiceLine{heating}))

	err := s.WithTx(ctx, func(tx generic.Stores) error {
		if err := tx.ReplaceInvoiceLines(ctx, "I", nil); err != nil {
			return err
		}
		return errors.New("boom")
	})

	require.Error(t, err)
	lines, err := s.ListInvoiceLines(ctx, "I")
	require.NoError(t, err)
	assert.Len(t, lines, 1)
}

func TestMemory_ListOccupanciesIntersectsWindow(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	out := generic.NewTimePoint(2024, time.December, 31)
	require.NoError(t, s.SaveOccupancy(ctx, generic.OccupancyPeriod{OrganizationID: "org-1", TenantID: "T2", UnitID: "A", MoveIn: generic.NewTimePoint(2025, time.July, 1)}))
	require.NoError(t, s.SaveOccupancy(ctx, generic.OccupancyPeriod{OrganizationID: "org-1", TenantID: "T0", UnitID: "A", MoveIn: generic.NewTimePoint(2023, time.January, 1), MoveOut: &out}))
	require.NoError(t, s.SaveOccupancy(ctx, generic.OccupancyPeriod{OrganizationID: "org-1", TenantID: "T1", UnitID: "A", MoveIn: generic.NewTimePoint(2025, time.January, 1)}))
	require.NoError(t, s.SaveOccupancy(ctx, generic.OccupancyPeriod{OrganizationID: "org-1", TenantID: "X", UnitID: "B", MoveIn: generic.NewTimePoint(2025, time.January, 1)}))

	list, err := s.ListOccupancies(ctx, "org-1", "A", generic.YearPeriod(2025))
	require.NoError(t, err)

	require.Len(t, list, 2)
	assert.Equal(t, generic.TenantID("T1"), list[0].TenantID)
	assert.Equal(t, generic.TenantID("T2"), list[1].TenantID)
}

func TestMemory_OccupanciesScopedByOrganization(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	in := generic.NewTimePoint(2025, time.January, 1)
	require.NoError(t, s.SaveOccupancy(ctx, generic.OccupancyPeriod{OrganizationID: "org-1", TenantID: "T1", UnitID: "A", MoveIn: in}))
	require.NoError(t, s.SaveOccupancy(ctx, generic.OccupancyPeriod{OrganizationID: "org-2", TenantID: "T9", UnitID: "A", MoveIn: in}))

	list, err := s.ListOccupancies(ctx, "org-2", "A", generic.YearPeriod(2025))
	require.NoError(t, err)

	require.Len(t, list, 1)
	assert.Equal(t, generic.TenantID("T9"), list[0].TenantID)
}

func TestMemory_PaymentsScopedByOrganization(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	require.NoError(t, s.AppendPayment(ctx, generic.Payment{ID: "P1", OrganizationID: "org-1", InvoiceID: "VS-1", BankReference: "R1"}))
	require.NoError(t, s.AppendPayment(ctx, generic.Payment{ID: "P2", OrganizationID: "org-2", InvoiceID: "VS-2", BankReference: "R1"}))

	err := s.AppendPayment(ctx, generic.Payment{ID: "P3", OrganizationID: "org-1", InvoiceID: "VS-1", BankReference: "R1"})

	var dup *generic.DuplicatePaymentError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, generic.PaymentID("P1"), dup.ExistingID)

	payments, err := s.ListPayments(ctx, "VS-1")
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}
