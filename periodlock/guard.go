/*
Package periodlock is the mandatory gate in front of every financial write.

PURPOSE:
  Once an accounting month is closed, nothing booked into it may change:
  no payment, no invoice, no expense, no settlement line. The Guard looks up
  the booking period and rejects the write with a *generic.PeriodLockError.

SEMANTICS:
  - No record for (organization, year, month): OPEN (fail-open for unknown)
  - Record with IsLocked = true:               LOCKED (fail-closed)
  - Store lookup fails:                        the error propagates and the
                                                caller aborts its write

  The guard is a read-then-decide check. It has no atomicity of its own;
  callers run it inside the same TxStore.WithTx as the write that follows.

LIFECYCLE:
  unlocked -> locked   Lock, ordinary close of the month
  locked -> unlocked   Unlock, PRIVILEGED: needs an actor and a reason and
                       writes an AuditEntry in the same transaction

SEE ALSO:
  - generic/errors.go: PeriodLockError (HTTP 409)
  - allocation/service.go, settlement/service.go: callers
*/
package periodlock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/metrics"
	"go.uber.org/zap"
)

// Store is what the guard reads and writes.
type Store interface {
	generic.PeriodLockStore
	generic.AuditLog
}

// Guard checks and transitions booking periods.
type Guard struct {
	store   Store
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewGuard creates a guard. logger and m may be nil.
func NewGuard(store Store, logger *zap.Logger, m *metrics.Metrics) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{
		store:   store,
		logger:  logger.Named("periodlock"),
		metrics: m,
		now:     time.Now,
	}
}

// Bind returns a guard reading through store, typically the transactional
// view handed to a WithTx callback.
func (g *Guard) Bind(store Store) *Guard {
	bound := *g
	bound.store = store
	return &bound
}

// WithClock replaces the time source used for LockedAt and audit timestamps.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

// =============================================================================
// CHECKS
// =============================================================================

// AssertPeriodOpen returns nil when (orgID, year, month) accepts writes.
func (g *Guard) AssertPeriodOpen(ctx context.Context, orgID generic.OrganizationID, year int, month time.Month) error {
	key := generic.PeriodKey{OrganizationID: orgID, Year: year, Month: month}
	if err := key.Validate(); err != nil {
		return err
	}

	bp, err := g.store.GetBookingPeriod(ctx, key)
	if err != nil {
		return fmt.Errorf("lookup booking period %s: %w", key, err)
	}
	if bp == nil || !bp.IsLocked {
		return nil
	}

	g.metrics.IncPeriodRejection()
	g.logger.Info("write rejected, booking period locked",
		zap.String("organization_id", string(orgID)),
		zap.Int("year", year),
		zap.Int("month", int(month)),
		zap.String("locked_by", bp.LockedBy),
	)
	return &generic.PeriodLockError{OrganizationID: orgID, Year: year, Month: month}
}

// AssertDateOpen resolves the accounting month of date and checks it.
func (g *Guard) AssertDateOpen(ctx context.Context, orgID generic.OrganizationID, date generic.TimePoint) error {
	key := generic.PeriodKeyFor(orgID, date)
	return g.AssertPeriodOpen(ctx, key.OrganizationID, key.Year, key.Month)
}

// Status returns the booking period, or an unlocked record when none exists.
func (g *Guard) Status(ctx context.Context, orgID generic.OrganizationID, year int, month time.Month) (generic.BookingPeriod, error) {
	key := generic.PeriodKey{OrganizationID: orgID, Year: year, Month: month}
	if err := key.Validate(); err != nil {
		return generic.BookingPeriod{}, err
	}
	bp, err := g.store.GetBookingPeriod(ctx, key)
	if err != nil {
		return generic.BookingPeriod{}, err
	}
	if bp == nil {
		return generic.BookingPeriod{OrganizationID: orgID, Year: year, Month: month}, nil
	}
	return *bp, nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Lock closes a period. Locking a locked period fails with ErrAlreadyLocked.
func (g *Guard) Lock(ctx context.Context, orgID generic.OrganizationID, year int, month time.Month, lockedBy string) (generic.BookingPeriod, error) {
	key := generic.PeriodKey{OrganizationID: orgID, Year: year, Month: month}
	if err := key.Validate(); err != nil {
		return generic.BookingPeriod{}, err
	}

	var result generic.BookingPeriod
	err := g.atomically(ctx, func(s Store) error {
		existing, err := s.GetBookingPeriod(ctx, key)
		if err != nil {
			return err
		}
		if existing != nil && existing.IsLocked {
			return fmt.Errorf("%w: %s", generic.ErrAlreadyLocked, key)
		}

		at := g.now().UTC()
		result = generic.BookingPeriod{
			OrganizationID: orgID,
			Year:           year,
			Month:          month,
			IsLocked:       true,
			LockedBy:       lockedBy,
			LockedAt:       &at,
		}
		if err := s.SaveBookingPeriod(ctx, result); err != nil {
			return err
		}
		return s.AppendAudit(ctx, generic.AuditEntry{
			ID:             uuid.NewString(),
			Timestamp:      at,
			ActorID:        lockedBy,
			Action:         generic.AuditPeriodLocked,
			OrganizationID: orgID,
			Payload:        map[string]string{"period": key.String()},
		})
	})
	if err != nil {
		return generic.BookingPeriod{}, err
	}

	g.metrics.IncPeriodTransition("lock")
	g.logger.Info("booking period locked",
		zap.String("organization_id", string(orgID)),
		zap.String("period", key.String()),
		zap.String("locked_by", lockedBy),
	)
	return result, nil
}

// Unlock reopens a locked period. This is an administrative operation:
// actor and reason are mandatory and end up in the audit log.
func (g *Guard) Unlock(ctx context.Context, orgID generic.OrganizationID, year int, month time.Month, actor, reason string) (generic.BookingPeriod, error) {
	key := generic.PeriodKey{OrganizationID: orgID, Year: year, Month: month}
	if err := key.Validate(); err != nil {
		return generic.BookingPeriod{}, err
	}
	actor = strings.TrimSpace(actor)
	reason = strings.TrimSpace(reason)
	if actor == "" || reason == "" {
		return generic.BookingPeriod{}, generic.ErrUnlockNotAuthorized
	}

	var result generic.BookingPeriod
	err := g.atomically(ctx, func(s Store) error {
		existing, err := s.GetBookingPeriod(ctx, key)
		if err != nil {
			return err
		}
		if existing == nil || !existing.IsLocked {
			return fmt.Errorf("%w: %s", generic.ErrNotLocked, key)
		}

		result = *existing
		previousLockedBy := result.LockedBy
		result.IsLocked = false
		result.LockedBy = ""
		result.LockedAt = nil
		if err := s.SaveBookingPeriod(ctx, result); err != nil {
			return err
		}
		return s.AppendAudit(ctx, generic.AuditEntry{
			ID:             uuid.NewString(),
			Timestamp:      g.now().UTC(),
			ActorID:        actor,
			Action:         generic.AuditPeriodUnlocked,
			OrganizationID: orgID,
			Payload: map[string]string{
				"period":             key.String(),
				"reason":             reason,
				"previous_locked_by": previousLockedBy,
			},
		})
	})
	if err != nil {
		return generic.BookingPeriod{}, err
	}

	g.metrics.IncPeriodTransition("unlock")
	g.logger.Warn("booking period unlocked",
		zap.String("organization_id", string(orgID)),
		zap.String("period", key.String()),
		zap.String("actor", actor),
		zap.String("reason", reason),
	)
	return result, nil
}

// atomically runs fn in a transaction when the store supports one.
func (g *Guard) atomically(ctx context.Context, fn func(Store) error) error {
	tx, ok := g.store.(generic.TxStore)
	if !ok {
		return fn(g.store)
	}
	return tx.WithTx(ctx, func(s generic.Stores) error {
		return fn(s)
	})
}

// IsLocked reports whether err is a period lock rejection.
func IsLocked(err error) bool {
	var lockErr *generic.PeriodLockError
	return errors.As(err, &lockErr)
}
