/*
Package postgres provides a PostgreSQL implementation of the storage interfaces.

PURPOSE:
  Same contracts as store/sqlite (generic.Stores plus TxStore) on a pgx
  connection pool, for deployments where several engine instances share
  one database.

DIALECT NOTES:
  - Amounts are NUMERIC. They travel as decimal strings in both
    directions (::text on the way out) so no value passes through float64.
  - Dates are DATE, timestamps TIMESTAMPTZ, payloads JSONB.
  - Idempotent writes use ON CONFLICT instead of catching the unique
    violation: a failed statement would abort the surrounding transaction.

UPSERT:
  Invoice lines use INSERT ... ON CONFLICT on the composite key
  (invoice_id, unit_id, line_type, normalized_description), sent as one
  pgx.Batch. A batch runs in an implicit transaction of its own when no
  explicit one is open. ReplaceInvoiceLines first deletes the invoice's
  rows whose key is not in the new set, in the same transaction.

SEE ALSO:
  - store/sqlite/sqlite.go: Single-node implementation
  - generic/store.go: Interface definitions
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/generic"
)

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Store implements all storage interfaces using PostgreSQL.
type Store struct {
	queries
	pool *pgxpool.Pool
}

// queries implements generic.Stores against a querier.
type queries struct {
	q querier
}

// New connects to dsn and migrates the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	s := &Store{queries: queries{q: pool}, pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS occupancies (
		id BIGSERIAL PRIMARY KEY,
		organization_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		unit_id TEXT NOT NULL,
		move_in DATE NOT NULL,
		move_out DATE
	);

	CREATE INDEX IF NOT EXISTS idx_occupancies_org_unit_move_in ON occupancies(organization_id, unit_id, move_in);

	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		unit_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL CHECK (month BETWEEN 1 AND 12),
		betriebskosten NUMERIC(14, 2) NOT NULL,
		heizkosten NUMERIC(14, 2) NOT NULL,
		wasserkosten NUMERIC(14, 2) NOT NULL,
		grundmiete NUMERIC(14, 2) NOT NULL,
		gesamtbetrag NUMERIC(14, 2) NOT NULL,
		paid_amount NUMERIC(14, 2) NOT NULL,
		status TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_invoices_org_period ON invoices(organization_id, year, month);

	CREATE TABLE IF NOT EXISTS invoice_lines (
		seq BIGSERIAL,
		invoice_id TEXT NOT NULL,
		unit_id TEXT NOT NULL,
		line_type TEXT NOT NULL,
		normalized_description TEXT NOT NULL,
		description TEXT NOT NULL,
		amount NUMERIC(14, 2) NOT NULL,
		tax_rate NUMERIC(5, 4) NOT NULL,
		PRIMARY KEY (invoice_id, unit_id, line_type, normalized_description)
	);

	CREATE TABLE IF NOT EXISTS booking_periods (
		organization_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL CHECK (month BETWEEN 1 AND 12),
		is_locked BOOLEAN NOT NULL DEFAULT FALSE,
		locked_by TEXT,
		locked_at TIMESTAMPTZ,
		PRIMARY KEY (organization_id, year, month)
	);

	CREATE TABLE IF NOT EXISTS payments (
		seq BIGSERIAL,
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		invoice_id TEXT NOT NULL,
		bank_reference TEXT,
		amount NUMERIC(14, 2) NOT NULL,
		received_at DATE NOT NULL,
		allocated JSONB,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_reference
		ON payments(organization_id, bank_reference) WHERE bank_reference IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_payments_invoice ON payments(invoice_id);

	CREATE TABLE IF NOT EXISTS audit_log (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		organization_id TEXT NOT NULL,
		payload JSONB
	);

	CREATE INDEX IF NOT EXISTS idx_audit_org ON audit_log(organization_id);
	`)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

// WithTx executes fn within a transaction. Row locks are taken by
// PostgreSQL, so unlike the SQLite store there is no process-level mutex.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Stores) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&queries{q: tx})
	})
}

// =============================================================================
// OCCUPANCY STORE
// =============================================================================

func (s *queries) SaveOccupancy(ctx context.Context, o generic.OccupancyPeriod) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO occupancies (organization_id, tenant_id, unit_id, move_in, move_out) VALUES ($1, $2, $3, $4, $5)`,
		string(o.OrganizationID), string(o.TenantID), string(o.UnitID), o.MoveIn.Time, dateOrNil(o.MoveOut),
	)
	if err != nil {
		return fmt.Errorf("failed to save occupancy: %w", err)
	}
	return nil
}

func (s *queries) ListOccupancies(ctx context.Context, orgID generic.OrganizationID, unitID generic.UnitID, window generic.Period) ([]generic.OccupancyPeriod, error) {
	rows, err := s.q.Query(ctx, `
		SELECT tenant_id, unit_id, move_in, move_out
		FROM occupancies
		WHERE organization_id = $1 AND unit_id = $2 AND move_in <= $3 AND (move_out IS NULL OR move_out >= $4)
		ORDER BY move_in ASC, id ASC`,
		string(orgID), string(unitID), window.End.Time, window.Start.Time)
	if err != nil {
		return nil, fmt.Errorf("failed to query occupancies: %w", err)
	}
	defer rows.Close()

	var result []generic.OccupancyPeriod
	for rows.Next() {
		var (
			tenant, unit string
			moveIn       time.Time
			moveOut      *time.Time
		)
		if err := rows.Scan(&tenant, &unit, &moveIn, &moveOut); err != nil {
			return nil, fmt.Errorf("failed to scan occupancy: %w", err)
		}
		o := generic.OccupancyPeriod{
			OrganizationID: orgID,
			TenantID:       generic.TenantID(tenant),
			UnitID:         generic.UnitID(unit),
			MoveIn:         generic.FromTime(moveIn),
		}
		if moveOut != nil {
			out := generic.FromTime(*moveOut)
			o.MoveOut = &out
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

// =============================================================================
// INVOICE STORE
// =============================================================================

const invoiceSelect = `SELECT id, organization_id, tenant_id, unit_id, year, month,
	betriebskosten::text, heizkosten::text, wasserkosten::text, grundmiete::text,
	gesamtbetrag::text, paid_amount::text, status, version, created_at, updated_at
	FROM invoices`

func (s *queries) GetInvoice(ctx context.Context, id generic.InvoiceID) (generic.Invoice, error) {
	inv, err := scanInvoice(s.q.QueryRow(ctx, invoiceSelect+` WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
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
		tag, err := s.q.Exec(ctx, `
			INSERT INTO invoices (id, organization_id, tenant_id, unit_id, year, month,
				betriebskosten, heizkosten, wasserkosten, grundmiete, gesamtbetrag, paid_amount,
				status, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1, $14, $15)
			ON CONFLICT (id) DO NOTHING`,
			string(inv.ID), string(inv.OrganizationID), string(inv.TenantID), string(inv.UnitID), inv.Year, int(inv.Month),
			inv.Betriebskosten.String(), inv.Heizkosten.String(), inv.Wasserkosten.String(),
			inv.Grundmiete.String(), inv.Gesamtbetrag.String(), inv.PaidAmount.String(),
			string(inv.Status), inv.CreatedAt, inv.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert invoice: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return generic.ErrConcurrentModification
		}
		return nil
	}

	tag, err := s.q.Exec(ctx, `
		UPDATE invoices SET
			organization_id = $1, tenant_id = $2, unit_id = $3, year = $4, month = $5,
			betriebskosten = $6, heizkosten = $7, wasserkosten = $8, grundmiete = $9,
			gesamtbetrag = $10, paid_amount = $11, status = $12,
			version = version + 1, updated_at = $13
		WHERE id = $14 AND version = $15`,
		string(inv.OrganizationID), string(inv.TenantID), string(inv.UnitID), inv.Year, int(inv.Month),
		inv.Betriebskosten.String(), inv.Heizkosten.String(), inv.Wasserkosten.String(), inv.Grundmiete.String(),
		inv.Gesamtbetrag.String(), inv.PaidAmount.String(), string(inv.Status),
		inv.UpdatedAt, string(inv.ID), inv.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return generic.ErrConcurrentModification
	}
	return nil
}

func (s *queries) ListInvoices(ctx context.Context, orgID generic.OrganizationID, year int, month int) ([]generic.Invoice, error) {
	rows, err := s.q.Query(ctx, invoiceSelect+`
		WHERE organization_id = $1 AND year = $2 AND month = $3
		ORDER BY id ASC`, string(orgID), year, month)
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

func scanInvoice(row pgx.Row) (generic.Invoice, error) {
	var (
		inv                                 generic.Invoice
		id, org, tenant, unit               string
		month                               int
		bk, hk, wk, gm, total, paid, status string
	)
	err := row.Scan(&id, &org, &tenant, &unit, &inv.Year, &month,
		&bk, &hk, &wk, &gm, &total, &paid, &status, &inv.Version, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return inv, err
		}
		return inv, fmt.Errorf("failed to scan invoice: %w", err)
	}

	inv.ID = generic.InvoiceID(id)
	inv.OrganizationID = generic.OrganizationID(org)
	inv.TenantID = generic.TenantID(tenant)
	inv.UnitID = generic.UnitID(unit)
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
	return inv, nil
}

// =============================================================================
// INVOICE LINE STORE
// =============================================================================

const upsertLine = `
	INSERT INTO invoice_lines
		(invoice_id, unit_id, line_type, normalized_description, description, amount, tax_rate)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (invoice_id, unit_id, line_type, normalized_description) DO UPDATE SET
		description = EXCLUDED.description,
		amount = EXCLUDED.amount,
		tax_rate = EXCLUDED.tax_rate`

func (s *queries) UpsertInvoiceLines(ctx context.Context, lines []generic.InvoiceLine) error {
	if len(lines) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, l := range lines {
		k := l.Key()
		batch.Queue(upsertLine,
			string(k.InvoiceID), string(k.UnitID), string(k.LineType), k.NormalizedDescription,
			l.Description, l.Amount.String(), l.TaxRate.String(),
		)
	}

	results := s.q.SendBatch(ctx, batch)
	for range lines {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("failed to upsert invoice line: %w", err)
		}
	}
	return results.Close()
}

// ReplaceInvoiceLines runs the replacement in its own transaction.
func (s *Store) ReplaceInvoiceLines(ctx context.Context, invoiceID generic.InvoiceID, lines []generic.InvoiceLine) error {
	return s.WithTx(ctx, func(tx generic.Stores) error {
		return tx.ReplaceInvoiceLines(ctx, invoiceID, lines)
	})
}

// ReplaceInvoiceLines deletes the invoice's rows whose key is not among
// lines and upserts the rest. Surviving rows keep their seq.
func (s *queries) ReplaceInvoiceLines(ctx context.Context, invoiceID generic.InvoiceID, lines []generic.InvoiceLine) error {
	units := make([]string, 0, len(lines))
	types := make([]string, 0, len(lines))
	descriptions := make([]string, 0, len(lines))
	for _, l := range lines {
		if l.InvoiceID != invoiceID {
			return fmt.Errorf("%w: line of %s passed for %s", generic.ErrValidation, l.InvoiceID, invoiceID)
		}
		k := l.Key()
		units = append(units, string(k.UnitID))
		types = append(types, string(k.LineType))
		descriptions = append(descriptions, k.NormalizedDescription)
	}

	_, err := s.q.Exec(ctx, `
		DELETE FROM invoice_lines
		WHERE invoice_id = $1
		AND (unit_id, line_type, normalized_description) NOT IN (
			SELECT u, t, d FROM unnest($2::text[], $3::text[], $4::text[]) AS k(u, t, d)
		)`,
		string(invoiceID), units, types, descriptions)
	if err != nil {
		return fmt.Errorf("failed to delete stale invoice lines: %w", err)
	}
	return s.UpsertInvoiceLines(ctx, lines)
}

// ListInvoiceLines returns lines in first-insert order.
func (s *queries) ListInvoiceLines(ctx context.Context, invoiceID generic.InvoiceID) ([]generic.InvoiceLine, error) {
	rows, err := s.q.Query(ctx, `
		SELECT invoice_id, unit_id, line_type, description, amount::text, tax_rate::text
		FROM invoice_lines WHERE invoice_id = $1
		ORDER BY seq ASC`, string(invoiceID))
	if err != nil {
		return nil, fmt.Errorf("failed to query invoice lines: %w", err)
	}
	defer rows.Close()

	var result []generic.InvoiceLine
	for rows.Next() {
		var invoice, unit, lineType, description, amount, rate string
		if err := rows.Scan(&invoice, &unit, &lineType, &description, &amount, &rate); err != nil {
			return nil, fmt.Errorf("failed to scan invoice line: %w", err)
		}
		l := generic.InvoiceLine{
			InvoiceID:   generic.InvoiceID(invoice),
			UnitID:      generic.UnitID(unit),
			LineType:    generic.LineType(lineType),
			Description: description,
		}
		if l.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
		}
		if l.TaxRate, err = decimal.NewFromString(rate); err != nil {
			return nil, fmt.Errorf("invalid tax rate %q: %w", rate, err)
		}
		result = append(result, l)
	}
	return result, rows.Err()
}

// =============================================================================
// PERIOD LOCK STORE
// =============================================================================

func (s *queries) GetBookingPeriod(ctx context.Context, key generic.PeriodKey) (*generic.BookingPeriod, error) {
	bp := generic.BookingPeriod{OrganizationID: key.OrganizationID, Year: key.Year, Month: key.Month}
	var lockedBy *string
	err := s.q.QueryRow(ctx, `
		SELECT is_locked, locked_by, locked_at FROM booking_periods
		WHERE organization_id = $1 AND year = $2 AND month = $3`,
		string(key.OrganizationID), key.Year, int(key.Month),
	).Scan(&bp.IsLocked, &lockedBy, &bp.LockedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking period: %w", err)
	}
	if lockedBy != nil {
		bp.LockedBy = *lockedBy
	}
	return &bp, nil
}

func (s *queries) SaveBookingPeriod(ctx context.Context, bp generic.BookingPeriod) error {
	var lockedBy *string
	if bp.LockedBy != "" {
		lockedBy = &bp.LockedBy
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO booking_periods (organization_id, year, month, is_locked, locked_by, locked_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (organization_id, year, month) DO UPDATE SET
			is_locked = EXCLUDED.is_locked,
			locked_by = EXCLUDED.locked_by,
			locked_at = EXCLUDED.locked_at`,
		string(bp.OrganizationID), bp.Year, int(bp.Month), bp.IsLocked, lockedBy, bp.LockedAt,
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
	var reference *string
	if p.BankReference != "" {
		reference = &p.BankReference
	}

	tag, err := s.q.Exec(ctx, `
		INSERT INTO payments (id, organization_id, invoice_id, bank_reference, amount, received_at, allocated, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (organization_id, bank_reference) WHERE bank_reference IS NOT NULL DO NOTHING`,
		string(p.ID), string(p.OrganizationID), string(p.InvoiceID), reference,
		p.Amount.String(), p.ReceivedAt.Time, allocated, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		existing, err := s.FindPaymentByReference(ctx, p.OrganizationID, p.BankReference)
		if err != nil || existing == nil {
			return generic.ErrDuplicatePayment
		}
		return &generic.DuplicatePaymentError{BankReference: p.BankReference, ExistingID: existing.ID}
	}
	return nil
}

const paymentSelect = `SELECT id, organization_id, invoice_id, bank_reference, amount::text,
	received_at, allocated, created_at FROM payments`

func (s *queries) FindPaymentByReference(ctx context.Context, orgID generic.OrganizationID, bankReference string) (*generic.Payment, error) {
	rows, err := s.q.Query(ctx, paymentSelect+`
		WHERE organization_id = $1 AND bank_reference = $2`, string(orgID), bankReference)
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
	rows, err := s.q.Query(ctx, paymentSelect+`
		WHERE invoice_id = $1 ORDER BY seq ASC`, string(invoiceID))
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	return scanPayments(rows)
}

func scanPayments(rows pgx.Rows) ([]generic.Payment, error) {
	defer rows.Close()

	var result []generic.Payment
	for rows.Next() {
		var (
			p                        generic.Payment
			id, org, invoice, amount string
			reference                *string
			received                 time.Time
			allocated                []byte
		)
		if err := rows.Scan(&id, &org, &invoice, &reference, &amount, &received, &allocated, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		p.ID = generic.PaymentID(id)
		p.OrganizationID = generic.OrganizationID(org)
		p.InvoiceID = generic.InvoiceID(invoice)
		if reference != nil {
			p.BankReference = *reference
		}
		var err error
		if p.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("payment %s: invalid amount %q: %w", id, amount, err)
		}
		p.ReceivedAt = generic.FromTime(received)
		if len(allocated) > 0 && string(allocated) != "null" {
			if err := json.Unmarshal(allocated, &p.Allocated); err != nil {
				return nil, fmt.Errorf("payment %s: invalid allocation: %w", id, err)
			}
		}
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
	_, err = s.q.Exec(ctx, `
		INSERT INTO audit_log (id, ts, actor_id, action, organization_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.Timestamp, entry.ActorID, string(entry.Action), string(entry.OrganizationID), payload,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (s *queries) ListAudit(ctx context.Context, orgID generic.OrganizationID) ([]generic.AuditEntry, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, ts, actor_id, action, organization_id, payload
		FROM audit_log WHERE organization_id = $1 ORDER BY seq ASC`, string(orgID))
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var result []generic.AuditEntry
	for rows.Next() {
		var (
			e           generic.AuditEntry
			action, org string
			payload     []byte
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.ActorID, &action, &org, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Action = generic.AuditAction(action)
		e.OrganizationID = generic.OrganizationID(org)
		if len(payload) > 0 && string(payload) != "null" {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("audit %s: invalid payload: %w", e.ID, err)
			}
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func dateOrNil(tp *generic.TimePoint) any {
	if tp == nil {
		return nil
	}
	return tp.Time
}
