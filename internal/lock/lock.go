// Package lock tracks failed attempts per segment and the cooldown that follows
// too many of them.
package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/at-ishikawa/readingquest/internal/clock"
	"github.com/at-ishikawa/readingquest/internal/database"
)

// MaxAttempts is the number of wrong answers that triggers a cooldown.
const MaxAttempts = 3

// Key identifies the segment an attempt is made on.
type Key struct {
	UserID  string
	BookID  string
	Segment int
}

// Status is the lock state of a segment at a point in time.
type Status struct {
	Locked           bool
	RemainingSeconds int
	Attempts         int
	LockedUntil      *time.Time
}

// AttemptsRemaining is the number of wrong answers left before the limit.
func (s Status) AttemptsRemaining() int {
	return max(0, MaxAttempts-s.Attempts)
}

// FailureResult is the state after a wrong answer was recorded.
type FailureResult struct {
	Status
	// Duplicate is set when the idempotency key was already used; nothing changed.
	Duplicate bool
}

type lockRow struct {
	AttemptCount int        `db:"attempt_count"`
	LockedUntil  *time.Time `db:"locked_until"`
}

type Manager struct {
	db       *sqlx.DB
	dialect  database.Dialect
	clock    clock.Clock
	cooldown time.Duration
}

func NewManager(db *sqlx.DB, clk clock.Clock, cooldown time.Duration) *Manager {
	return &Manager{
		db:       db,
		dialect:  database.DialectOf(db),
		clock:    clk,
		cooldown: cooldown,
	}
}

func (m *Manager) Cooldown() time.Duration {
	return m.cooldown
}

// Check is the gate consulted before an attempt. An expired lock is cleared.
func (m *Manager) Check(ctx context.Context, key Key) (Status, error) {
	row, found, err := m.load(ctx, m.db, key, "")
	if err != nil {
		return Status{}, err
	}
	if !found {
		return Status{}, nil
	}

	now := m.clock.Now()
	if row.LockedUntil != nil && !now.Before(*row.LockedUntil) {
		// Only clears the lock that was read; a concurrent new lock is left alone.
		if _, err := m.db.ExecContext(ctx,
			m.db.Rebind(`UPDATE attempt_locks SET attempt_count = 0, locked_until = NULL, updated_at = ?
WHERE user_id = ? AND book_id = ? AND segment = ? AND locked_until = ?`),
			now.UTC(), key.UserID, key.BookID, key.Segment, row.LockedUntil.UTC(),
		); err != nil {
			return Status{}, fmt.Errorf("db.ExecContext(reset attempt_locks) > %w", err)
		}
		return Status{}, nil
	}
	return m.status(row, now), nil
}

// Status reports the lock state without changing it.
func (m *Manager) Status(ctx context.Context, key Key) (Status, error) {
	row, found, err := m.load(ctx, m.db, key, "")
	if err != nil {
		return Status{}, err
	}
	if !found {
		return Status{}, nil
	}
	now := m.clock.Now()
	if row.LockedUntil != nil && !now.Before(*row.LockedUntil) {
		return Status{}, nil
	}
	return m.status(row, now), nil
}

// RecordFailure counts a wrong answer. When the limit is reached and no joker is
// offered instead, the segment is locked for the cooldown.
// A non-empty idempotencyKey makes retries of the same submission count once.
func (m *Manager) RecordFailure(ctx context.Context, key Key, jokerOffered bool, idempotencyKey string) (FailureResult, error) {
	var result FailureResult
	err := database.RunInTx(ctx, m.db, func(ctx context.Context, tx *sqlx.Tx) error {
		now := m.clock.Now()

		if idempotencyKey != "" {
			claimed, err := m.claimIdempotency(ctx, tx, key.UserID, idempotencyKey, now)
			if err != nil {
				return err
			}
			if !claimed {
				row, _, err := m.load(ctx, tx, key, "")
				if err != nil {
					return err
				}
				result = FailureResult{Status: m.status(row, now), Duplicate: true}
				return nil
			}
		}

		if _, err := tx.ExecContext(ctx,
			tx.Rebind(m.dialect.InsertOrLock("attempt_locks", []string{
				"user_id", "book_id", "segment", "attempt_count", "locked_until", "updated_at",
			}, []string{"user_id", "book_id", "segment"})),
			key.UserID, key.BookID, key.Segment, 0, nil, now.UTC(),
		); err != nil {
			return fmt.Errorf("tx.ExecContext(insert attempt_locks) > %w", err)
		}
		row, _, err := m.load(ctx, tx, key, m.dialect.ForUpdate())
		if err != nil {
			return err
		}

		if row.LockedUntil != nil {
			if now.Before(*row.LockedUntil) {
				result = FailureResult{Status: m.status(row, now)}
				return nil
			}
			row = lockRow{}
		}

		row.AttemptCount++
		// An offered joker defers the lock by one answer only.
		if row.AttemptCount > MaxAttempts || (row.AttemptCount == MaxAttempts && !jokerOffered) {
			until := now.Add(m.cooldown).UTC()
			row.LockedUntil = &until
		}

		var lockedUntil any
		if row.LockedUntil != nil {
			lockedUntil = row.LockedUntil.UTC()
		}
		if _, err := tx.ExecContext(ctx,
			tx.Rebind(`UPDATE attempt_locks SET attempt_count = ?, locked_until = ?, updated_at = ?
WHERE user_id = ? AND book_id = ? AND segment = ?`),
			row.AttemptCount, lockedUntil, now.UTC(), key.UserID, key.BookID, key.Segment,
		); err != nil {
			return fmt.Errorf("tx.ExecContext(update attempt_locks) > %w", err)
		}

		result = FailureResult{Status: m.status(row, now)}
		return nil
	})
	if err != nil {
		return FailureResult{}, err
	}
	return result, nil
}

// Reset clears the attempt state of a segment after it was validated.
func (m *Manager) Reset(ctx context.Context, key Key) error {
	if _, err := m.db.ExecContext(ctx,
		m.db.Rebind("DELETE FROM attempt_locks WHERE user_id = ? AND book_id = ? AND segment = ?"),
		key.UserID, key.BookID, key.Segment,
	); err != nil {
		return fmt.Errorf("db.ExecContext(delete attempt_locks) > %w", err)
	}
	return nil
}

func (m *Manager) claimIdempotency(ctx context.Context, tx *sqlx.Tx, userID, idempotencyKey string, now time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx,
		tx.Rebind(m.dialect.InsertIgnore("idempotency_keys", []string{"user_id", "idem_key", "created_at"})),
		userID, idempotencyKey, now.UTC(),
	)
	if database.IsUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("tx.ExecContext(insert idempotency_keys) > %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("res.RowsAffected > %w", err)
	}
	return affected == 1, nil
}

func (m *Manager) load(ctx context.Context, q database.Queryer, key Key, suffix string) (lockRow, bool, error) {
	var row lockRow
	err := q.GetContext(ctx, &row,
		q.Rebind("SELECT attempt_count, locked_until FROM attempt_locks WHERE user_id = ? AND book_id = ? AND segment = ?"+suffix),
		key.UserID, key.BookID, key.Segment,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return lockRow{}, false, nil
	}
	if err != nil {
		return lockRow{}, false, fmt.Errorf("get attempt_locks: %w", err)
	}
	return row, true, nil
}

func (m *Manager) status(row lockRow, now time.Time) Status {
	status := Status{Attempts: row.AttemptCount}
	if row.LockedUntil != nil && now.Before(*row.LockedUntil) {
		until := *row.LockedUntil
		status.Locked = true
		status.LockedUntil = &until
		status.RemainingSeconds = RemainingSeconds(until, now)
	}
	return status
}

// RemainingSeconds rounds the time left until until up to whole seconds, at least 1.
func RemainingSeconds(until, now time.Time) int {
	seconds := int(math.Ceil(until.Sub(now).Seconds()))
	return max(1, seconds)
}
