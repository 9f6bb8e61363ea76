// Package ledger is the append-only store of validated segments and the
// denormalized per-book aggregate derived from it.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/at-ishikawa/readingquest/internal/clock"
	"github.com/at-ishikawa/readingquest/internal/database"
)

// Aggregate statuses.
const (
	StatusNotStarted = "not_started"
	StatusReading    = "reading"
	StatusCompleted  = "completed"
)

// Record is one validated segment. Records are never updated or deleted.
type Record struct {
	ID          int64     `db:"id"`
	UserID      string    `db:"user_id"`
	BookID      string    `db:"book_id"`
	Segment     int       `db:"segment"`
	QuestionID  *string   `db:"question_id"`
	UsedJoker   bool      `db:"used_joker"`
	Correct     bool      `db:"correct"`
	ValidatedAt time.Time `db:"validated_at"`
}

// Aggregate is the reading_progress row for a (user, book). Completed follows
// the ledger; MarkedCompleted is set by an explicit completion request only.
type Aggregate struct {
	UserID            string    `db:"user_id"`
	BookID            string    `db:"book_id"`
	ValidatedSegments int       `db:"validated_segments"`
	CurrentPage       int       `db:"current_page"`
	Status            string    `db:"status"`
	Completed         bool      `db:"completed"`
	MarkedCompleted   bool      `db:"marked_completed"`
	Position          int       `db:"last_position"`
	UpdatedAt         time.Time `db:"updated_at"`
}

// CommitResult reports the outcome of Commit.
type CommitResult struct {
	// AlreadyValidated is set when a record for the segment existed; nothing was written.
	AlreadyValidated bool
	// ValidatedCount is the number of ledger rows for the book after the commit.
	ValidatedCount int
	// CompletedNow is set when this commit moved the aggregate to completed.
	CompletedNow bool
}

// DeriveFunc computes the new aggregate from the ledger row count and the previous aggregate.
type DeriveFunc func(validatedCount int, prev Aggregate) Aggregate

// Guard runs inside the commit transaction after the aggregate row is locked.
// Returning an error aborts the commit.
type Guard func(ctx context.Context, q database.Queryer, locked Aggregate) error

type commitOptions struct {
	guard  Guard
	derive DeriveFunc
}

type CommitOption func(*commitOptions)

// WithGuard checks a precondition while the aggregate row is locked.
func WithGuard(g Guard) CommitOption {
	return func(o *commitOptions) { o.guard = g }
}

// WithDerive replaces the default aggregate derivation.
func WithDerive(d DeriveFunc) CommitOption {
	return func(o *commitOptions) { o.derive = d }
}

// DefaultDerive only tracks the validated count and marks the book as being read.
func DefaultDerive(validatedCount int, prev Aggregate) Aggregate {
	next := prev
	next.ValidatedSegments = validatedCount
	if !next.Completed && !next.MarkedCompleted && validatedCount > 0 {
		next.Status = StatusReading
	}
	return next
}

var errAlreadyValidated = errors.New("segment already validated")

// Ledger stores validation records on a SQL database.
type Ledger struct {
	db      *sqlx.DB
	dialect database.Dialect
	clock   clock.Clock
}

func New(db *sqlx.DB, clk clock.Clock) *Ledger {
	return &Ledger{
		db:      db,
		dialect: database.DialectOf(db),
		clock:   clk,
	}
}

var aggregateColumns = []string{
	"user_id", "book_id", "validated_segments", "current_page", "status", "completed", "marked_completed", "last_position", "updated_at",
}

const selectAggregate = `SELECT user_id, book_id, validated_segments, current_page, status, completed, marked_completed, last_position, updated_at
FROM reading_progress`

// Commit appends rec and recomputes the aggregate in one transaction.
// A second commit for the same (user, book, segment) resolves to AlreadyValidated.
func (l *Ledger) Commit(ctx context.Context, rec Record, opts ...CommitOption) (CommitResult, error) {
	options := commitOptions{derive: DefaultDerive}
	for _, opt := range opts {
		opt(&options)
	}
	if rec.ValidatedAt.IsZero() {
		rec.ValidatedAt = l.clock.Now()
	}
	rec.ValidatedAt = rec.ValidatedAt.UTC()

	var result CommitResult
	err := database.RunInTx(ctx, l.db, func(ctx context.Context, tx *sqlx.Tx) error {
		prev, err := l.lockAggregate(ctx, tx, rec.UserID, rec.BookID, rec.ValidatedAt)
		if err != nil {
			return err
		}

		if options.guard != nil {
			if err := options.guard(ctx, tx, prev); err != nil {
				return err
			}
		}

		inserted, err := l.insertRecord(ctx, tx, rec)
		if err != nil {
			return err
		}
		if !inserted {
			result = CommitResult{AlreadyValidated: true, ValidatedCount: prev.ValidatedSegments}
			return errAlreadyValidated
		}

		count, err := countRecords(ctx, tx, rec.UserID, rec.BookID)
		if err != nil {
			return err
		}

		next := options.derive(count, prev)
		next.UpdatedAt = rec.ValidatedAt
		if err := updateAggregate(ctx, tx, next); err != nil {
			return err
		}

		result = CommitResult{
			ValidatedCount: count,
			CompletedNow:   next.Completed && !prev.Completed,
		}
		return nil
	})
	if errors.Is(err, errAlreadyValidated) {
		return result, nil
	}
	if err != nil {
		return CommitResult{}, err
	}
	return result, nil
}

// lockAggregate makes sure the aggregate row exists and locks it for the rest of the transaction.
func (l *Ledger) lockAggregate(ctx context.Context, tx *sqlx.Tx, userID, bookID string, now time.Time) (Aggregate, error) {
	if _, err := tx.ExecContext(ctx,
		tx.Rebind(l.dialect.InsertOrLock("reading_progress", aggregateColumns, []string{"user_id", "book_id"})),
		userID, bookID, 0, 0, StatusNotStarted, false, false, 0, now,
	); err != nil {
		return Aggregate{}, fmt.Errorf("tx.ExecContext(insert reading_progress) > %w", err)
	}

	var agg Aggregate
	if err := tx.GetContext(ctx, &agg,
		tx.Rebind(selectAggregate+" WHERE user_id = ? AND book_id = ?"+l.dialect.ForUpdate()),
		userID, bookID,
	); err != nil {
		return Aggregate{}, fmt.Errorf("tx.GetContext(lock reading_progress) > %w", err)
	}
	return agg, nil
}

func (l *Ledger) insertRecord(ctx context.Context, tx *sqlx.Tx, rec Record) (bool, error) {
	res, err := tx.ExecContext(ctx,
		tx.Rebind(l.dialect.InsertIgnore("segment_validations", []string{
			"user_id", "book_id", "segment", "question_id", "used_joker", "correct", "validated_at",
		})),
		rec.UserID, rec.BookID, rec.Segment, rec.QuestionID, rec.UsedJoker, rec.Correct, rec.ValidatedAt,
	)
	if database.IsUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("tx.ExecContext(insert segment_validations) > %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("res.RowsAffected > %w", err)
	}
	return affected == 1, nil
}

func countRecords(ctx context.Context, q database.Queryer, userID, bookID string) (int, error) {
	var count int
	if err := q.GetContext(ctx, &count,
		q.Rebind("SELECT COUNT(*) FROM segment_validations WHERE user_id = ? AND book_id = ?"),
		userID, bookID,
	); err != nil {
		return 0, fmt.Errorf("count segment_validations: %w", err)
	}
	return count, nil
}

func updateAggregate(ctx context.Context, q database.Queryer, agg Aggregate) error {
	if _, err := q.ExecContext(ctx,
		q.Rebind(`UPDATE reading_progress
SET validated_segments = ?, current_page = ?, status = ?, completed = ?, marked_completed = ?, last_position = ?, updated_at = ?
WHERE user_id = ? AND book_id = ?`),
		agg.ValidatedSegments, agg.CurrentPage, agg.Status, agg.Completed, agg.MarkedCompleted, agg.Position, agg.UpdatedAt.UTC(),
		agg.UserID, agg.BookID,
	); err != nil {
		return fmt.Errorf("update reading_progress: %w", err)
	}
	return nil
}

// UpdateAggregate locks the aggregate row and applies fn to it. The ledger is not modified.
// It reports the aggregate before and after the update.
func (l *Ledger) UpdateAggregate(ctx context.Context, userID, bookID string, fn func(validatedCount int, agg Aggregate) Aggregate) (prev, next Aggregate, err error) {
	now := l.clock.Now().UTC()
	err = database.RunInTx(ctx, l.db, func(ctx context.Context, tx *sqlx.Tx) error {
		locked, err := l.lockAggregate(ctx, tx, userID, bookID, now)
		if err != nil {
			return err
		}
		count, err := countRecords(ctx, tx, userID, bookID)
		if err != nil {
			return err
		}

		prev = locked
		next = fn(count, locked)
		next.UserID, next.BookID = userID, bookID
		next.UpdatedAt = now
		return updateAggregate(ctx, tx, next)
	})
	if err != nil {
		return Aggregate{}, Aggregate{}, err
	}
	return prev, next, nil
}

// Exists reports whether the segment has a record. It is a fast path only;
// Commit does not depend on it.
func (l *Ledger) Exists(ctx context.Context, userID, bookID string, segment int) (bool, error) {
	var found int
	err := l.db.GetContext(ctx, &found,
		l.db.Rebind("SELECT 1 FROM segment_validations WHERE user_id = ? AND book_id = ? AND segment = ?"),
		userID, bookID, segment,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("db.GetContext(segment_validations) > %w", err)
	}
	return true, nil
}

// Count returns the number of records for a book.
func (l *Ledger) Count(ctx context.Context, userID, bookID string) (int, error) {
	return countRecords(ctx, l.db, userID, bookID)
}

// Aggregate returns the aggregate row of a book, or a zero aggregate when none exists.
func (l *Ledger) Aggregate(ctx context.Context, userID, bookID string) (Aggregate, error) {
	var agg Aggregate
	err := l.db.GetContext(ctx, &agg,
		l.db.Rebind(selectAggregate+" WHERE user_id = ? AND book_id = ?"),
		userID, bookID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Aggregate{UserID: userID, BookID: bookID, Status: StatusNotStarted}, nil
	}
	if err != nil {
		return Aggregate{}, fmt.Errorf("db.GetContext(reading_progress) > %w", err)
	}
	return agg, nil
}

// CountByBooks counts records for many books with a single query.
// Books without records are absent from the result.
func (l *Ledger) CountByBooks(ctx context.Context, userID string, bookIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(bookIDs))
	if len(bookIDs) == 0 {
		return counts, nil
	}

	query, args, err := sqlx.In(
		"SELECT book_id, COUNT(*) AS n FROM segment_validations WHERE user_id = ? AND book_id IN (?) GROUP BY book_id",
		userID, bookIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlx.In > %w", err)
	}

	var rows []struct {
		BookID string `db:"book_id"`
		N      int    `db:"n"`
	}
	if err := l.db.SelectContext(ctx, &rows, l.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("db.SelectContext(count segment_validations) > %w", err)
	}
	for _, row := range rows {
		counts[row.BookID] = row.N
	}
	return counts, nil
}

// Aggregates loads the aggregate rows of many books with a single query.
func (l *Ledger) Aggregates(ctx context.Context, userID string, bookIDs []string) (map[string]Aggregate, error) {
	result := make(map[string]Aggregate, len(bookIDs))
	if len(bookIDs) == 0 {
		return result, nil
	}

	query, args, err := sqlx.In(selectAggregate+" WHERE user_id = ? AND book_id IN (?)", userID, bookIDs)
	if err != nil {
		return nil, fmt.Errorf("sqlx.In > %w", err)
	}

	var aggs []Aggregate
	if err := l.db.SelectContext(ctx, &aggs, l.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("db.SelectContext(reading_progress) > %w", err)
	}
	for _, agg := range aggs {
		result[agg.BookID] = agg
	}
	return result, nil
}

// CountJokersUsed counts joker reveals for a book. q may be a transaction.
func CountJokersUsed(ctx context.Context, q database.Queryer, userID, bookID string) (int, error) {
	var used int
	if err := q.GetContext(ctx, &used,
		q.Rebind("SELECT COUNT(*) FROM segment_validations WHERE user_id = ? AND book_id = ? AND used_joker = ?"),
		userID, bookID, true,
	); err != nil {
		return 0, fmt.Errorf("count joker reveals: %w", err)
	}
	return used, nil
}

func (l *Ledger) JokersUsed(ctx context.Context, userID, bookID string) (int, error) {
	return CountJokersUsed(ctx, l.db, userID, bookID)
}

// ValidationTimes returns the timestamps of all records of a user, oldest first.
func (l *Ledger) ValidationTimes(ctx context.Context, userID string) ([]time.Time, error) {
	var times []time.Time
	if err := l.db.SelectContext(ctx, &times,
		l.db.Rebind("SELECT validated_at FROM segment_validations WHERE user_id = ? ORDER BY validated_at"),
		userID,
	); err != nil {
		return nil, fmt.Errorf("db.SelectContext(validated_at) > %w", err)
	}
	return times, nil
}

// CountSince counts records of a user validated at or after since.
func (l *Ledger) CountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	if err := l.db.GetContext(ctx, &count,
		l.db.Rebind("SELECT COUNT(*) FROM segment_validations WHERE user_id = ? AND validated_at >= ?"),
		userID, since.UTC(),
	); err != nil {
		return 0, fmt.Errorf("db.GetContext(count since) > %w", err)
	}
	return count, nil
}

// UsersActiveSince lists users with at least one record at or after since.
func (l *Ledger) UsersActiveSince(ctx context.Context, since time.Time) ([]string, error) {
	var users []string
	if err := l.db.SelectContext(ctx, &users,
		l.db.Rebind("SELECT DISTINCT user_id FROM segment_validations WHERE validated_at >= ? ORDER BY user_id"),
		since.UTC(),
	); err != nil {
		return nil, fmt.Errorf("db.SelectContext(active users) > %w", err)
	}
	return users, nil
}

// CountBooksInProgress counts books with at least one record that are not completed.
func (l *Ledger) CountBooksInProgress(ctx context.Context, userID string) (int, error) {
	var count int
	if err := l.db.GetContext(ctx, &count,
		l.db.Rebind("SELECT COUNT(*) FROM reading_progress WHERE user_id = ? AND validated_segments > 0 AND completed = ?"),
		userID, false,
	); err != nil {
		return 0, fmt.Errorf("db.GetContext(books in progress) > %w", err)
	}
	return count, nil
}

// CompletedBook is a completed book with the number of jokers spent on it.
type CompletedBook struct {
	BookID     string `db:"book_id"`
	JokersUsed int    `db:"jokers_used"`
}

// CompletedBooks lists the books a user completed through validated segments.
// Books only marked as completed are left out.
func (l *Ledger) CompletedBooks(ctx context.Context, userID string) ([]CompletedBook, error) {
	var books []CompletedBook
	if err := l.db.SelectContext(ctx, &books,
		l.db.Rebind(`SELECT rp.book_id,
    (SELECT COUNT(*) FROM segment_validations sv
     WHERE sv.user_id = rp.user_id AND sv.book_id = rp.book_id AND sv.used_joker = ?) AS jokers_used
FROM reading_progress rp
WHERE rp.user_id = ? AND rp.completed = ? AND rp.validated_segments > 0
ORDER BY rp.book_id`),
		true, userID, true,
	); err != nil {
		return nil, fmt.Errorf("db.SelectContext(completed books) > %w", err)
	}
	return books, nil
}
