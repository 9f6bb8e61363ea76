package gamification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/at-ishikawa/readingquest/internal/database"
)

// Stats is the experience of a user.
type Stats struct {
	XP    int `db:"xp" json:"xp"`
	Level int `db:"level" json:"level"`
}

// Companion is the state of a user's reading companion.
type Companion struct {
	Stage           int    `db:"stage" json:"stage"`
	LastActiveDate  string `db:"last_active_date" json:"last_active_date"`
	TotalActiveDays int    `db:"total_active_days" json:"total_active_days"`
}

// Store persists gamification state.
type Store interface {
	// AddXP atomically adds delta to the user's experience and raises the level when a threshold is crossed.
	AddXP(ctx context.Context, userID string, delta int) (Stats, error)
	Stats(ctx context.Context, userID string) (Stats, error)
	// UnlockBadge reports whether the badge was newly unlocked.
	UnlockBadge(ctx context.Context, userID, badgeID string, at time.Time) (bool, error)
	Badges(ctx context.Context, userID string) ([]string, error)
	// CompleteQuest reports whether the quest was newly completed.
	CompleteQuest(ctx context.Context, userID, questID string, at time.Time) (bool, error)
	Quests(ctx context.Context, userID string) ([]string, error)
	Companion(ctx context.Context, userID string) (Companion, error)
	// AdvanceCompanion stores next only when the stored stage is still fromStage and
	// reports whether it was stored.
	AdvanceCompanion(ctx context.Context, userID string, fromStage int, next Companion) (bool, error)
	// ClaimMonthlyReward records the reward for month once and grants its XP in the same transaction.
	ClaimMonthlyReward(ctx context.Context, userID, month string, validations, xp int, at time.Time) (bool, error)
}

type SQLStore struct {
	db      *sqlx.DB
	dialect database.Dialect
}

func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{
		db:      db,
		dialect: database.DialectOf(db),
	}
}

func (s *SQLStore) AddXP(ctx context.Context, userID string, delta int) (Stats, error) {
	var stats Stats
	err := database.RunInTx(ctx, s.db, func(ctx context.Context, tx *sqlx.Tx) error {
		var err error
		stats, err = addXP(ctx, tx, s.dialect, userID, delta)
		return err
	})
	if err != nil {
		return Stats{}, err
	}
	return stats, nil
}

func addXP(ctx context.Context, tx *sqlx.Tx, dialect database.Dialect, userID string, delta int) (Stats, error) {
	if _, err := tx.ExecContext(ctx,
		tx.Rebind(dialect.InsertOrAdd("user_stats", []string{"user_id", "xp", "level"}, []string{"user_id"}, "xp")),
		userID, delta, 1,
	); err != nil {
		return Stats{}, fmt.Errorf("tx.ExecContext(upsert user_stats) > %w", err)
	}

	var stats Stats
	if err := tx.GetContext(ctx, &stats,
		tx.Rebind("SELECT xp, level FROM user_stats WHERE user_id = ?"),
		userID,
	); err != nil {
		return Stats{}, fmt.Errorf("tx.GetContext(user_stats) > %w", err)
	}

	if level := LevelFor(stats.XP); level > stats.Level {
		if _, err := tx.ExecContext(ctx,
			tx.Rebind("UPDATE user_stats SET level = ? WHERE user_id = ? AND level < ?"),
			level, userID, level,
		); err != nil {
			return Stats{}, fmt.Errorf("tx.ExecContext(raise level) > %w", err)
		}
		stats.Level = level
	}
	return stats, nil
}

func (s *SQLStore) Stats(ctx context.Context, userID string) (Stats, error) {
	var stats Stats
	err := s.db.GetContext(ctx, &stats,
		s.db.Rebind("SELECT xp, level FROM user_stats WHERE user_id = ?"),
		userID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Stats{XP: 0, Level: 1}, nil
	}
	if err != nil {
		return Stats{}, fmt.Errorf("db.GetContext(user_stats) > %w", err)
	}
	return stats, nil
}

func (s *SQLStore) UnlockBadge(ctx context.Context, userID, badgeID string, at time.Time) (bool, error) {
	return s.insertOnce(ctx, "user_badges", []string{"user_id", "badge_id", "unlocked_at"}, userID, badgeID, at.UTC())
}

func (s *SQLStore) Badges(ctx context.Context, userID string) ([]string, error) {
	var badges []string
	if err := s.db.SelectContext(ctx, &badges,
		s.db.Rebind("SELECT badge_id FROM user_badges WHERE user_id = ? ORDER BY unlocked_at, badge_id"),
		userID,
	); err != nil {
		return nil, fmt.Errorf("db.SelectContext(user_badges) > %w", err)
	}
	return badges, nil
}

func (s *SQLStore) CompleteQuest(ctx context.Context, userID, questID string, at time.Time) (bool, error) {
	return s.insertOnce(ctx, "user_quests", []string{"user_id", "quest_id", "completed_at"}, userID, questID, at.UTC())
}

func (s *SQLStore) Quests(ctx context.Context, userID string) ([]string, error) {
	var quests []string
	if err := s.db.SelectContext(ctx, &quests,
		s.db.Rebind("SELECT quest_id FROM user_quests WHERE user_id = ? ORDER BY completed_at, quest_id"),
		userID,
	); err != nil {
		return nil, fmt.Errorf("db.SelectContext(user_quests) > %w", err)
	}
	return quests, nil
}

func (s *SQLStore) Companion(ctx context.Context, userID string) (Companion, error) {
	var companion Companion
	err := s.db.GetContext(ctx, &companion,
		s.db.Rebind("SELECT stage, last_active_date, total_active_days FROM companions WHERE user_id = ?"),
		userID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Companion{Stage: 1}, nil
	}
	if err != nil {
		return Companion{}, fmt.Errorf("db.GetContext(companions) > %w", err)
	}
	return companion, nil
}

func (s *SQLStore) AdvanceCompanion(ctx context.Context, userID string, fromStage int, next Companion) (bool, error) {
	var stored bool
	err := database.RunInTx(ctx, s.db, func(ctx context.Context, tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			tx.Rebind(s.dialect.InsertOrLock("companions", []string{"user_id", "stage", "last_active_date", "total_active_days"}, []string{"user_id"})),
			userID, 1, "", 0,
		); err != nil {
			return fmt.Errorf("tx.ExecContext(insert companions) > %w", err)
		}
		res, err := tx.ExecContext(ctx,
			tx.Rebind(`UPDATE companions SET stage = ?, last_active_date = ?, total_active_days = ?
WHERE user_id = ? AND stage = ?`),
			next.Stage, next.LastActiveDate, next.TotalActiveDays, userID, fromStage,
		)
		if err != nil {
			return fmt.Errorf("tx.ExecContext(update companions) > %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("res.RowsAffected > %w", err)
		}
		stored = affected == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return stored, nil
}

func (s *SQLStore) ClaimMonthlyReward(ctx context.Context, userID, month string, validations, xp int, at time.Time) (bool, error) {
	var claimed bool
	err := database.RunInTx(ctx, s.db, func(ctx context.Context, tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			tx.Rebind(s.dialect.InsertIgnore("monthly_rewards", []string{"user_id", "month", "validations", "awarded_at"})),
			userID, month, validations, at.UTC(),
		)
		if err != nil {
			return fmt.Errorf("tx.ExecContext(insert monthly_rewards) > %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("res.RowsAffected > %w", err)
		}
		if affected == 0 {
			return nil
		}
		if _, err := addXP(ctx, tx, s.dialect, userID, xp); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			tx.Rebind(s.dialect.InsertIgnore("user_badges", []string{"user_id", "badge_id", "unlocked_at"})),
			userID, MonthlyRewardBadge, at.UTC(),
		); err != nil {
			return fmt.Errorf("tx.ExecContext(insert user_badges) > %w", err)
		}
		claimed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

func (s *SQLStore) insertOnce(ctx context.Context, table string, columns []string, args ...any) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(s.dialect.InsertIgnore(table, columns)), args...)
	if database.IsUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("db.ExecContext(insert %s) > %w", table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("res.RowsAffected > %w", err)
	}
	return affected == 1, nil
}
