/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence contract of generic.Stores plus TxStore
  using SQLite. PostgreSQL deployments use store/postgres, which covers
  the same full TxStore with minor dialect differences.

INTERFACES IMPLEMENTED:
  generic.OccupancyStore:   Tenancy intervals
  generic.InvoiceStore:     Invoices (optimistic versioning)
  generic.InvoiceLineStore: Invoice lines (upsert or replace on composite key)
  generic.PeriodLockStore:  Booking periods
  generic.PaymentStore:     Payments (append-only)
  generic.AuditLog:         Audit entries (append-only)
  generic.TxStore:          All of the above inside one SQL transaction

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on payments or audit_log
  - Corrections to invoices go through SaveInvoice with a matching version

KEY TABLES:
  occupancies:     Tenancy intervals per (organization, unit)
  invoices:        Open sub-balances, total, paid amount, version
  invoice_lines:   PRIMARY KEY (invoice_id, unit_id, line_type, normalized_description)
  booking_periods: PRIMARY KEY (organization_id, year, month)
  payments:        UNIQUE (organization_id, bank_reference)
  audit_log:       Lock/unlock history

AMOUNTS:
  Stored as TEXT in decimal notation and parsed back with shopspring/decimal.
  SQLite REAL would round through float64.

CONCURRENCY:
  Uses sync.Mutex to serialize WithTx. The pool is capped at one connection
  so ":memory:" databases are shared by every call.

USAGE:
  store, err := sqlite.New("./data/settlement.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  guard := periodlock.NewGuard(store, logger, metrics)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
  - store/postgres/postgres.go: PostgreSQL implementation of the full TxStore
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/generic"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements all storage interfaces using SQLite.
type Store struct {
	queries
	db *sql.DB
	mu sync.Mutex
}

// queries implements generic.Stores against a querier. Store uses the
// database handle, WithTx hands out one bound to the transaction.
type queries struct {
	q querier
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{queries: queries{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Tenancy intervals
	CREATE TABLE IF NOT EXISTS occupancies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		organization_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		unit_id TEXT NOT NULL,
		move_in TEXT NOT NULL,
		move_out TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_occupancies_org_unit_move_in
		ON occupancies(organization_id, unit_id, move_in);

	-- Invoices (open sub-balances)
	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		unit_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		betriebskosten TEXT NOT NULL,
		heizkosten TEXT NOT NULL,
		wasserkosten TEXT NOT NULL,
		grundmiete TEXT NOT NULL,
		gesamtbetrag TEXT NOT NULL,
		paid_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_invoices_org_period
		ON invoices(organization_id, year, month);

	-- Invoice lines: the composite key is the idempotency boundary
	CREATE TABLE IF NOT EXISTS invoice_lines (
		invoice_id TEXT NOT NULL,
		unit_id TEXT NOT NULL,
		line_type TEXT NOT NULL,
		normalized_description TEXT NOT NULL,
		description TEXT NOT NULL,
		amount TEXT NOT NULL,
		tax_rate TEXT NOT NULL,
		PRIMARY KEY (invoice_id, unit_id, line_type, normalized_description)
	);

	-- Booking periods (absence = open)
	CREATE TABLE IF NOT EXISTS booking_periods (
		organization_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		is_locked INTEGER NOT NULL DEFAULT 0,
		locked_by TEXT,
		locked_at TEXT,
		PRIMARY KEY (organization_id, year, month)
	);

	-- Payments (append-only)
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		invoice_id TEXT NOT NULL,
		bank_reference TEXT,
		amount TEXT NOT NULL,
		received_at TEXT NOT NULL,
		allocated_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_reference
		ON payments(organization_id, bank_reference) WHERE bank_reference IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_payments_invoice
		ON payments(invoice_id);

	-- Audit log (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		organization_id TEXT NOT NULL,
		payload_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_org
		ON audit_log(organization_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Stores) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// Reset deletes every row. Development only.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"occupancies", "invoices", "invoice_lines", "booking_periods", "payments", "audit_log"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// OCCUPANCY STORE
// =============================================================================

func (s *queries) SaveOccupancy(ctx context.Context, o generic.OccupancyPeriod) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO occupancies (organization_id, tenant_id, unit_id, move_in, move_out) VALUES (?, ?, ?, ?, ?)`,
		o.OrganizationID, o.TenantID, o.UnitID, o.MoveIn.String(), nullDate(o.MoveOut),
	)
	if err != nil {
		return fmt.Errorf("failed to save occupancy: %w", err)
	}
	return nil
}

// ListOccupancies returns periods intersecting window, ordered by move-in.
// Dates are ISO strings, so lexical comparison is chronological.
func (s *queries) ListOccupancies(ctx context.Context, orgID generic.OrganizationID, unitID generic.UnitID, window generic.Period) ([]generic.OccupancyPeriod, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT organization_id, tenant_id, unit_id, move_in, move_out
		FROM occupancies
		WHERE organization_id = ? AND unit_id = ? AND move_in <= ? AND (move_out IS NULL OR move_out >= ?)
		ORDER BY move_in ASC, id ASC
	`, orgID, unitID, window.End.String(), window.Start.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query occupancies: %w", err)
	}
	defer rows.Close()

	var result []generic.OccupancyPeriod
	for rows.Next() {
		var (
			o       generic.OccupancyPeriod
			moveIn  string
			moveOut sql.NullString
		)
		if err := rows.Scan(&o.OrganizationID, &o.TenantID, &o.UnitID, &moveIn, &moveOut); err != nil {
			return nil, fmt.Errorf("failed to scan occupancy: %w", err)
		}
		if o.MoveIn, err = generic.ParseDate(moveIn); err != nil {
			return nil, err
		}
		if o.MoveOut, err = generic.ParseOptionalDate(moveOut.String); err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

// =============================================================================
// INVOICE STORE
// =============================================================================

const invoiceColumns = `id, organization_id, tenant_id, unit_id, year, month,
	betriebskosten, heizkosten, wasserkosten, grundmiete, gesamtbetrag, paid_amount,
	status, version, created_at, updated_at`

func (s *queries) GetInvoice(ctx context.Context, id generic.InvoiceID) (generic.Invoice, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id)
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.Invoice{}, generic.ErrInvoiceNotFound
	}
	return inv, err
}

// SaveInvoice inserts version 0 invoices and updates with a version check.
func (s *queries) SaveInvoice(ctx context.Context, inv generic.Invoice) error {
	now := time.Now().UTC()
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	if inv.UpdatedAt.IsZero() {
		inv.UpdatedAt = now
	}

	if inv.Version == 0 {
		_, err := s.q.ExecContext(ctx, `INSERT INTO invoices (`+invoiceColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			inv.ID, inv.OrganizationID, inv.TenantID, inv.UnitID, inv.Year, int(inv.Month),
			inv.Betriebskosten.String(), inv.Heizkosten.String(), inv.Wasserkosten.String(),
			inv.Grundmiete.String(), inv.Gesamtbetrag.String(), inv.PaidAmount.String(),
			string(inv.Status), inv.CreatedAt.Format(time.RFC3339), inv.UpdatedAt.Format(time.RFC3339),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return generic.ErrConcurrentModification
			}
			return fmt.Errorf("failed to insert invoice: %w", err)
		}
		return nil
	}

	res, err := s.q.ExecContext(ctx, `
		UPDATE invoices SET
			organization_id = ?, tenant_id = ?, unit_id = ?, year = ?, month = ?,
			betriebskosten = ?, heizkosten = ?, wasserkosten = ?, grundmiete = ?,
			gesamtbetrag = ?, paid_amount = ?, status = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		inv.OrganizationID, inv.TenantID, inv.UnitID, inv.Year, int(inv.Month),
		inv.Betriebskosten.String(), inv.Heizkosten.String(), inv.Wasserkosten.String(), inv.Grundmiete.String(),
		inv.Gesamtbetrag.String(), inv.PaidAmount.String(), string(inv.Status),
		inv.UpdatedAt.Format(time.RFC3339),
		inv.ID, inv.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update invoice: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update invoice: %w", err)
	}
	if n == 0 {
		return generic.ErrConcurrentModification
	}
	return nil
}

func (s *queries) ListInvoices(ctx context.Context, orgID generic.OrganizationID, year int, month int) ([]generic.Invoice, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+invoiceColumns+`
		FROM invoices WHERE organization_id = ? AND year = ? AND month = ?
		ORDER BY id ASC`, orgID, year, month)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var result []generic.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, inv)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row scanner) (generic.Invoice, error) {
	var (
		inv                                 generic.Invoice
		month                               int
		bk, hk, wk, gm, total, paid, status string
		createdAt, updatedAt                string
	)
	err := row.Scan(&inv.ID, &inv.OrganizationID, &inv.TenantID, &inv.UnitID, &inv.Year, &month,
		&bk, &hk, &wk, &gm, &total, &paid, &status, &inv.Version, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return inv, err
		}
		return inv, fmt.Errorf("failed to scan invoice: %w", err)
	}

	inv.Month = time.Month(month)
	inv.Status = generic.InvoiceStatus(status)
	amounts := []struct {
		dst *decimal.Decimal
		src string
	}{
		{&inv.Betriebskosten, bk}, {&inv.Heizkosten, hk}, {&inv.Wasserkosten, wk},
		{&inv.Grundmiete, gm}, {&inv.Gesamtbetrag, total}, {&inv.PaidAmount, paid},
	}
	for _, a := range amounts {
		if *a.dst, err = decimal.NewFromString(a.src); err != nil {
			return inv, fmt.Errorf("invoice %s: invalid amount %q: %w", inv.ID, a.src, err)
		}
	}
	inv.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	inv.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return inv, nil
}

// =============================================================================
// INVOICE LINE STORE
// =============================================================================

func (s *queries) UpsertInvoiceLines(ctx context.Context, lines []generic.InvoiceLine) error {
	for _, l := range lines {
		k := l.Key()
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO invoice_lines
			(invoice_id, unit_id, line_type, normalized_description, description, amount, tax_rate)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (invoice_id, unit_id, line_type, normalized_description) DO UPDATE SET
				description = excluded.description,
				amount = excluded.amount,
				tax_rate = excluded.tax_rate`,
			k.InvoiceID, k.UnitID, k.LineType, k.NormalizedDescription,
			l.Description, l.Amount.String(), l.TaxRate.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert invoice line: %w", err)
		}
	}
	return nil
}

// ReplaceInvoiceLines runs replaceInvoiceLines in its own transaction.
func (s *Store) ReplaceInvoiceLines(ctx context.Context, invoiceID generic.InvoiceID, lines []generic.InvoiceLine) error {
	return s.WithTx(ctx, func(tx generic.Stores) error {
		return tx.ReplaceInvoiceLines(ctx, invoiceID, lines)
	})
}

// ReplaceInvoiceLines deletes the invoice's rows whose key is not among
// lines and upserts the rest. Surviving rows keep their rowid and order.
func (s *queries) ReplaceInvoiceLines(ctx context.Context, invoiceID generic.InvoiceID, lines []generic.InvoiceLine) error {
	keep := make(map[generic.InvoiceLineKey]bool, len(lines))
	for _, l := range lines {
		if l.InvoiceID != invoiceID {
			return fmt.Errorf("%w: line of %s passed for %s", generic.ErrValidation, l.InvoiceID, invoiceID)
		}
		keep[l.Key()] = true
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT unit_id, line_type, normalized_description
		FROM invoice_lines WHERE invoice_id = ?`, invoiceID)
	if err != nil {
		return fmt.Errorf("failed to query invoice lines: %w", err)
	}
	var stale []generic.InvoiceLineKey
	for rows.Next() {
		k := generic.InvoiceLineKey{InvoiceID: invoiceID}
		if err := rows.Scan(&k.UnitID, &k.LineType, &k.NormalizedDescription); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan invoice line: %w", err)
		}
		if !keep[k] {
			stale = append(stale, k)
		}
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, k := range stale {
		_, err := s.q.ExecContext(ctx, `
			DELETE FROM invoice_lines
			WHERE invoice_id = ? AND unit_id = ? AND line_type = ? AND normalized_description = ?`,
			k.InvoiceID, k.UnitID, k.LineType, k.NormalizedDescription,
		)
		if err != nil {
			return fmt.Errorf("failed to delete invoice line: %w", err)
		}
	}
	return s.UpsertInvoiceLines(ctx, lines)
}

// ListInvoiceLines returns lines in first-insert order.
func (s *queries) ListInvoiceLines(ctx context.Context, invoiceID generic.InvoiceID) ([]generic.InvoiceLine, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT invoice_id, unit_id, line_type, description, amount, tax_rate
		FROM invoice_lines WHERE invoice_id = ?
		ORDER BY rowid ASC`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoice lines: %w", err)
	}
	defer rows.Close()

	var result []generic.InvoiceLine
	for rows.Next() {
		var (
			l            generic.InvoiceLine
			amount, rate string
		)
		if err := rows.Scan(&l.InvoiceID, &l.UnitID, &l.LineType, &l.Description, &amount, &rate); err != nil {
			return nil, fmt.Errorf("failed to scan invoice line: %w", err)
		}
		l.Amount = generic.MustParseMoney(amount)
		l.TaxRate = decimal.RequireFromString(rate)
		result = append(result, l)
	}
	return result, rows.Err()
}

// =============================================================================
// PERIOD LOCK STORE
// =============================================================================

func (s *queries) GetBookingPeriod(ctx context.Context, key generic.PeriodKey) (*generic.BookingPeriod, error) {
	var (
		bp       = generic.BookingPeriod{OrganizationID: key.OrganizationID, Year: key.Year, Month: key.Month}
		locked   int
		lockedBy sql.NullString
		lockedAt sql.NullString
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT is_locked, locked_by, locked_at FROM booking_periods
		WHERE organization_id = ? AND year = ? AND month = ?`,
		key.OrganizationID, key.Year, int(key.Month),
	).Scan(&locked, &lockedBy, &lockedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking period: %w", err)
	}

	bp.IsLocked = locked != 0
	bp.LockedBy = lockedBy.String
	if lockedAt.Valid {
		t, err := time.Parse(time.RFC3339, lockedAt.String)
		if err == nil {
			bp.LockedAt = &t
		}
	}
	return &bp, nil
}

func (s *queries) SaveBookingPeriod(ctx context.Context, bp generic.BookingPeriod) error {
	var lockedAt sql.NullString
	if bp.LockedAt != nil {
		lockedAt = sql.NullString{String: bp.LockedAt.UTC().Format(time.RFC3339), Valid: true}
	}
	locked := 0
	if bp.IsLocked {
		locked = 1
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO booking_periods (organization_id, year, month, is_locked, locked_by, locked_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (organization_id, year, month) DO UPDATE SET
			is_locked = excluded.is_locked,
			locked_by = excluded.locked_by,
			locked_at = excluded.locked_at`,
		bp.OrganizationID, bp.Year, int(bp.Month), locked, nullString(bp.LockedBy), lockedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save booking period: %w", err)
	}
	return nil
}

// =============================================================================
// PAYMENT STORE (append-only)
// =============================================================================

func (s *queries) AppendPayment(ctx context.Context, p generic.Payment) error {
	allocated, err := json.Marshal(p.Allocated)
	if err != nil {
		return fmt.Errorf("failed to encode allocation: %w", err)
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO payments (id, organization_id, invoice_id, bank_reference, amount, received_at, allocated_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OrganizationID, p.InvoiceID, nullString(p.BankReference),
		p.Amount.String(), p.ReceivedAt.String(), string(allocated), createdAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) && p.BankReference != "" {
			existing, findErr := s.FindPaymentByReference(ctx, p.OrganizationID, p.BankReference)
			if findErr == nil && existing != nil {
				return &generic.DuplicatePaymentError{BankReference: p.BankReference, ExistingID: existing.ID}
			}
			return generic.ErrDuplicatePayment
		}
		return fmt.Errorf("failed to append payment: %w", err)
	}
	return nil
}

const paymentColumns = `id, organization_id, invoice_id, bank_reference, amount, received_at, allocated_json, created_at`

func (s *queries) FindPaymentByReference(ctx context.Context, orgID generic.OrganizationID, bankReference string) (*generic.Payment, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+paymentColumns+`
		FROM payments WHERE organization_id = ? AND bank_reference = ?`, orgID, bankReference)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment: %w", err)
	}
	payments, err := scanPayments(rows)
	if err != nil || len(payments) == 0 {
		return nil, err
	}
	return &payments[0], nil
}

func (s *queries) ListPayments(ctx context.Context, invoiceID generic.InvoiceID) ([]generic.Payment, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+paymentColumns+`
		FROM payments WHERE invoice_id = ? ORDER BY rowid ASC`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	return scanPayments(rows)
}

func scanPayments(rows *sql.Rows) ([]generic.Payment, error) {
	defer rows.Close()

	var result []generic.Payment
	for rows.Next() {
		var (
			p                    generic.Payment
			reference, alloc     sql.NullString
			amount, received, ts string
		)
		if err := rows.Scan(&p.ID, &p.OrganizationID, &p.InvoiceID, &reference, &amount, &received, &alloc, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		p.BankReference = reference.String
		p.Amount = generic.MustParseMoney(amount)
		var err error
		if p.ReceivedAt, err = generic.ParseDate(received); err != nil {
			return nil, err
		}
		if alloc.Valid && alloc.String != "" && alloc.String != "null" {
			if err := json.Unmarshal([]byte(alloc.String), &p.Allocated); err != nil {
				return nil, fmt.Errorf("payment %s: invalid allocation: %w", p.ID, err)
			}
		}
		p.CreatedAt, _ = time.Parse(time.RFC3339Nano, ts)
		result = append(result, p)
	}
	return result, rows.Err()
}

// =============================================================================
// AUDIT LOG (append-only)
// =============================================================================

func (s *queries) AppendAudit(ctx context.Context, entry generic.AuditEntry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode audit payload: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO audit_log (id, timestamp, actor_id, action, organization_id, payload_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Timestamp.UTC().Format(time.RFC3339Nano), entry.ActorID,
		string(entry.Action), entry.OrganizationID, string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (s *queries) ListAudit(ctx context.Context, orgID generic.OrganizationID) ([]generic.AuditEntry, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, timestamp, actor_id, action, organization_id, payload_json
		FROM audit_log WHERE organization_id = ? ORDER BY seq ASC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var result []generic.AuditEntry
	for rows.Next() {
		var (
			e       generic.AuditEntry
			ts      string
			payload sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &e.ActorID, &e.Action, &e.OrganizationID, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		if payload.Valid && payload.String != "" && payload.String != "null" {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("audit %s: invalid payload: %w", e.ID, err)
			}
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(tp *generic.TimePoint) sql.NullString {
	if tp == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: tp.String(), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
