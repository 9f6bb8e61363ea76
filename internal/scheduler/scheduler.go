// Package scheduler runs the periodic maintenance jobs of the engine.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/at-ishikawa/readingquest/internal/clock"
	"github.com/at-ishikawa/readingquest/internal/config"
)

// ActiveUsers lists users with validations since a point in time.
type ActiveUsers interface {
	UsersActiveSince(ctx context.Context, since time.Time) ([]string, error)
}

// MonthlyRewarder grants the monthly reward to a user who earned it.
type MonthlyRewarder interface {
	CheckMonthlyReward(ctx context.Context, userID string) (bool, error)
}

// Purger drops expired cache entries.
type Purger interface {
	Purge() int
}

// Scheduler manages scheduled tasks for the application
type Scheduler struct {
	scheduler *gocron.Scheduler
	cfg       config.SchedulerConfig
	clock     clock.Clock
	location  *time.Location
	users     ActiveUsers
	rewarder  MonthlyRewarder
	cache     Purger
	logger    *slog.Logger
}

// New creates a new scheduler instance
func New(cfg config.SchedulerConfig, clk clock.Clock, loc *time.Location, users ActiveUsers, rewarder MonthlyRewarder, cache Purger, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := gocron.NewScheduler(loc)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		cfg:       cfg,
		clock:     clk,
		location:  loc,
		users:     users,
		rewarder:  rewarder,
		cache:     cache,
		logger:    logger,
	}
}

// Start registers the jobs and runs them in the background until Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.scheduler.Every(s.cfg.MonthlySweepInterval).Tag("monthly-rewards").Do(func() {
		granted, err := s.SweepMonthlyRewards(ctx)
		if err != nil {
			s.logger.Error("monthly reward sweep failed", "granted", granted, "error", err)
			return
		}
		s.logger.Info("monthly reward sweep finished", "granted", granted)
	}); err != nil {
		return fmt.Errorf("schedule monthly reward sweep: %w", err)
	}

	if _, err := s.scheduler.Every(s.cfg.CachePurgeInterval).Tag("cache-purge").Do(func() {
		if purged := s.cache.Purge(); purged > 0 {
			s.logger.Debug("purged expired progress cache entries", "count", purged)
		}
	}); err != nil {
		return fmt.Errorf("schedule cache purge: %w", err)
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop terminates all scheduled tasks
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

// SweepMonthlyRewards checks every user active in the current month and
// returns how many rewards were granted. A failure for one user does not stop
// the sweep; all failures are returned together.
func (s *Scheduler) SweepMonthlyRewards(ctx context.Context) (int, error) {
	since := clock.StartOfMonth(s.clock.Now(), s.location)
	users, err := s.users.UsersActiveSince(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("list active users: %w", err)
	}

	granted := 0
	var errs []error
	for _, userID := range users {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		ok, err := s.rewarder.CheckMonthlyReward(ctx, userID)
		if err != nil {
			errs = append(errs, fmt.Errorf("user %s: %w", userID, err))
			continue
		}
		if ok {
			granted++
		}
	}
	return granted, errors.Join(errs...)
}
