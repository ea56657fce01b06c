// Package store provides in-memory implementations of the persistence contracts.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/settlement-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu    sync.RWMutex
	state memoryState
}

type memoryState struct {
	occupancies map[occupancyKey][]generic.OccupancyPeriod
	invoices    map[generic.InvoiceID]generic.Invoice
	lines       map[generic.InvoiceLineKey]generic.InvoiceLine
	lineOrder   []generic.InvoiceLineKey
	periods     map[generic.PeriodKey]generic.BookingPeriod
	payments    []generic.Payment
	references  map[referenceKey]int
	audit       []generic.AuditEntry
}

type occupancyKey struct {
	OrganizationID generic.OrganizationID
	UnitID         generic.UnitID
}

type referenceKey struct {
	OrganizationID generic.OrganizationID
	BankReference  string
}

func NewMemory() *Memory {
	return &Memory{state: newMemoryState()}
}

func newMemoryState() memoryState {
	return memoryState{
		occupancies: make(map[occupancyKey][]generic.OccupancyPeriod),
		invoices:    make(map[generic.InvoiceID]generic.Invoice),
		lines:       make(map[generic.InvoiceLineKey]generic.InvoiceLine),
		periods:     make(map[generic.PeriodKey]generic.BookingPeriod),
		references:  make(map[referenceKey]int),
	}
}

// =============================================================================
// OCCUPANCY
// =============================================================================

func (m *Memory) SaveOccupancy(_ context.Context, o generic.OccupancyPeriod) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.saveOccupancy(o)
	return nil
}

func (m *Memory) ListOccupancies(_ context.Context, orgID generic.OrganizationID, unitID generic.UnitID, window generic.Period) ([]generic.OccupancyPeriod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listOccupancies(orgID, unitID, window), nil
}

func (s *memoryState) saveOccupancy(o generic.OccupancyPeriod) {
	key := occupancyKey{OrganizationID: o.OrganizationID, UnitID: o.UnitID}
	list := s.occupancies[key]

	// Binary search for insertion point, keeps the list ordered by MoveIn
	i := sort.Search(len(list), func(i int) bool {
		return list[i].MoveIn.After(o.MoveIn)
	})
	list = append(list, generic.OccupancyPeriod{})
	copy(list[i+1:], list[i:])
	list[i] = o
	s.occupancies[key] = list
}

func (s *memoryState) listOccupancies(orgID generic.OrganizationID, unitID generic.UnitID, window generic.Period) []generic.OccupancyPeriod {
	var result []generic.OccupancyPeriod
	for _, o := range s.occupancies[occupancyKey{OrganizationID: orgID, UnitID: unitID}] {
		end := window.End
		if o.MoveOut != nil {
			end = *o.MoveOut
		}
		if _, ok := (generic.Period{Start: o.MoveIn, End: end}).Clamp(window); ok {
			result = append(result, o)
		}
	}
	return result
}

// =============================================================================
// INVOICES
// =============================================================================

func (m *Memory) GetInvoice(_ context.Context, id generic.InvoiceID) (generic.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getInvoice(id)
}

func (m *Memory) SaveInvoice(_ context.Context, inv generic.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.saveInvoice(inv)
}

func (m *Memory) ListInvoices(_ context.Context, orgID generic.OrganizationID, year int, month int) ([]generic.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listInvoices(orgID, year, month), nil
}

func (s *memoryState) getInvoice(id generic.InvoiceID) (generic.Invoice, error) {
	inv, ok := s.invoices[id]
	if !ok {
		return generic.Invoice{}, generic.ErrInvoiceNotFound
	}
	return inv, nil
}

func (s *memoryState) saveInvoice(inv generic.Invoice) error {
	existing, ok := s.invoices[inv.ID]
	if ok && existing.Version != inv.Version {
		return generic.ErrConcurrentModification
	}
	if !ok && inv.Version != 0 {
		return generic.ErrConcurrentModification
	}
	inv.Version++
	s.invoices[inv.ID] = inv
	return nil
}

func (s *memoryState) listInvoices(orgID generic.OrganizationID, year int, month int) []generic.Invoice {
	var result []generic.Invoice
	for _, inv := range s.invoices {
		if inv.OrganizationID == orgID && inv.Year == year && int(inv.Month) == month {
			result = append(result, inv)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// =============================================================================
// INVOICE LINES
// =============================================================================

func (m *Memory) UpsertInvoiceLines(_ context.Context, lines []generic.InvoiceLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.upsertLines(lines)
	return nil
}

func (m *Memory) ReplaceInvoiceLines(_ context.Context, invoiceID generic.InvoiceID, lines []generic.InvoiceLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.replaceLines(invoiceID, lines)
}

func (m *Memory) ListInvoiceLines(_ context.Context, invoiceID generic.InvoiceID) ([]generic.InvoiceLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listLines(invoiceID), nil
}

func (s *memoryState) upsertLines(lines []generic.InvoiceLine) {
	for _, l := range lines {
		k := l.Key()
		if _, ok := s.lines[k]; !ok {
			s.lineOrder = append(s.lineOrder, k)
		}
		s.lines[k] = l
	}
}

// replaceLines drops the invoice's lines missing from lines, then upserts.
// Surviving lines keep their position.
func (s *memoryState) replaceLines(invoiceID generic.InvoiceID, lines []generic.InvoiceLine) error {
	keep := make(map[generic.InvoiceLineKey]bool, len(lines))
	for _, l := range lines {
		if l.InvoiceID != invoiceID {
			return fmt.Errorf("%w: line of %s passed for %s", generic.ErrValidation, l.InvoiceID, invoiceID)
		}
		keep[l.Key()] = true
	}
	order := s.lineOrder[:0]
	for _, k := range s.lineOrder {
		if k.InvoiceID == invoiceID && !keep[k] {
			delete(s.lines, k)
			continue
		}
		order = append(order, k)
	}
	s.lineOrder = order
	s.upsertLines(lines)
	return nil
}

func (s *memoryState) listLines(invoiceID generic.InvoiceID) []generic.InvoiceLine {
	var result []generic.InvoiceLine
	for _, k := range s.lineOrder {
		if k.InvoiceID == invoiceID {
			result = append(result, s.lines[k])
		}
	}
	return result
}

// =============================================================================
// BOOKING PERIODS
// =============================================================================

func (m *Memory) GetBookingPeriod(_ context.Context, key generic.PeriodKey) (*generic.BookingPeriod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getPeriod(key), nil
}

func (m *Memory) SaveBookingPeriod(_ context.Context, bp generic.BookingPeriod) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.periods[bp.Key()] = bp
	return nil
}

func (s *memoryState) getPeriod(key generic.PeriodKey) *generic.BookingPeriod {
	bp, ok := s.periods[key]
	if !ok {
		return nil
	}
	return &bp
}

// =============================================================================
// PAYMENTS (append-only)
// =============================================================================

func (m *Memory) AppendPayment(_ context.Context, p generic.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.appendPayment(p)
}

func (m *Memory) FindPaymentByReference(_ context.Context, orgID generic.OrganizationID, bankReference string) (*generic.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.findPayment(orgID, bankReference), nil
}

func (m *Memory) ListPayments(_ context.Context, invoiceID generic.InvoiceID) ([]generic.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listPayments(invoiceID), nil
}

func (s *memoryState) appendPayment(p generic.Payment) error {
	if p.BankReference != "" {
		k := referenceKey{OrganizationID: p.OrganizationID, BankReference: p.BankReference}
		if idx, ok := s.references[k]; ok {
			return &generic.DuplicatePaymentError{BankReference: p.BankReference, ExistingID: s.payments[idx].ID}
		}
		s.references[k] = len(s.payments)
	}
	s.payments = append(s.payments, p)
	return nil
}

func (s *memoryState) findPayment(orgID generic.OrganizationID, bankReference string) *generic.Payment {
	idx, ok := s.references[referenceKey{OrganizationID: orgID, BankReference: bankReference}]
	if !ok {
		return nil
	}
	p := s.payments[idx]
	return &p
}

func (s *memoryState) listPayments(invoiceID generic.InvoiceID) []generic.Payment {
	var result []generic.Payment
	for _, p := range s.payments {
		if p.InvoiceID == invoiceID {
			result = append(result, p)
		}
	}
	return result
}

// =============================================================================
// AUDIT
// =============================================================================

func (m *Memory) AppendAudit(_ context.Context, entry generic.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.audit = append(m.state.audit, entry)
	return nil
}

func (m *Memory) ListAudit(_ context.Context, orgID generic.OrganizationID) ([]generic.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listAudit(orgID), nil
}

func (s *memoryState) listAudit(orgID generic.OrganizationID) []generic.AuditEntry {
	var result []generic.AuditEntry
	for _, e := range s.audit {
		if e.OrganizationID == orgID {
			result = append(result, e)
		}
	}
	return result
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The write lock is held for the whole call, which serializes check-then-write
// sequences the same way a database transaction would.
func (m *Memory) WithTx(_ context.Context, fn func(generic.Stores) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	view := &txView{state: &m.state}

	if err := fn(view); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (s *memoryState) clone() memoryState {
	c := newMemoryState()
	for k, v := range s.occupancies {
		c.occupancies[k] = append([]generic.OccupancyPeriod{}, v...)
	}
	for k, v := range s.invoices {
		c.invoices[k] = v
	}
	for k, v := range s.lines {
		c.lines[k] = v
	}
	c.lineOrder = append([]generic.InvoiceLineKey{}, s.lineOrder...)
	for k, v := range s.periods {
		c.periods[k] = v
	}
	c.payments = append([]generic.Payment{}, s.payments...)
	for k, v := range s.references {
		c.references[k] = v
	}
	c.audit = append([]generic.AuditEntry{}, s.audit...)
	return c
}

// txView operates on the locked state without re-acquiring the mutex.
type txView struct {
	state *memoryState
}

func (tv *txView) SaveOccupancy(_ context.Context, o generic.OccupancyPeriod) error {
	tv.state.saveOccupancy(o)
	return nil
}

func (tv *txView) ListOccupancies(_ context.Context, orgID generic.OrganizationID, unitID generic.UnitID, window generic.Period) ([]generic.OccupancyPeriod, error) {
	return tv.state.listOccupancies(orgID, unitID, window), nil
}

func (tv *txView) GetInvoice(_ context.Context, id generic.InvoiceID) (generic.Invoice, error) {
	return tv.state.getInvoice(id)
}

func (tv *txView) SaveInvoice(_ context.Context, inv generic.Invoice) error {
	return tv.state.saveInvoice(inv)
}

func (tv *txView) ListInvoices(_ context.Context, orgID generic.OrganizationID, year int, month int) ([]generic.Invoice, error) {
	return tv.state.listInvoices(orgID, year, month), nil
}

func (tv *txView) UpsertInvoiceLines(_ context.Context, lines []generic.InvoiceLine) error {
	tv.state.upsertLines(lines)
	return nil
}

func (tv *txView) ReplaceInvoiceLines(_ context.Context, invoiceID generic.InvoiceID, lines []generic.InvoiceLine) error {
	return tv.state.replaceLines(invoiceID, lines)
}

func (tv *txView) ListInvoiceLines(_ context.Context, invoiceID generic.InvoiceID) ([]generic.InvoiceLine, error) {
	return tv.state.listLines(invoiceID), nil
}

func (tv *txView) GetBookingPeriod(_ context.Context, key generic.PeriodKey) (*generic.BookingPeriod, error) {
	return tv.state.getPeriod(key), nil
}

func (tv *txView) SaveBookingPeriod(_ context.Context, bp generic.BookingPeriod) error {
	tv.state.periods[bp.Key()] = bp
	return nil
}

func (tv *txView) AppendPayment(_ context.Context, p generic.Payment) error {
	return tv.state.appendPayment(p)
}

func (tv *txView) FindPaymentByReference(_ context.Context, orgID generic.OrganizationID, bankReference string) (*generic.Payment, error) {
	return tv.state.findPayment(orgID, bankReference), nil
}

func (tv *txView) ListPayments(_ context.Context, invoiceID generic.InvoiceID) ([]generic.Payment, error) {
	return tv.state.listPayments(invoiceID), nil
}

func (tv *txView) AppendAudit(_ context.Context, entry generic.AuditEntry) error {
	tv.state.audit = append(tv.state.audit, entry)
	return nil
}

func (tv *txView) ListAudit(_ context.Context, orgID generic.OrganizationID) ([]generic.AuditEntry, error) {
	return tv.state.listAudit(orgID), nil
}

var (
	_ generic.TxStore = (*Memory)(nil)
	_ generic.Stores  = (*txView)(nil)
)
