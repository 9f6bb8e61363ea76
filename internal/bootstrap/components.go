package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/at-ishikawa/readingquest/internal/backoff"
	"github.com/at-ishikawa/readingquest/internal/catalog"
	"github.com/at-ishikawa/readingquest/internal/clock"
	"github.com/at-ishikawa/readingquest/internal/config"
	"github.com/at-ishikawa/readingquest/internal/database"
	"github.com/at-ishikawa/readingquest/internal/engine"
	"github.com/at-ishikawa/readingquest/internal/gamification"
	"github.com/at-ishikawa/readingquest/internal/joker"
	"github.com/at-ishikawa/readingquest/internal/ledger"
	"github.com/at-ishikawa/readingquest/internal/lock"
	"github.com/at-ishikawa/readingquest/internal/progress"
	"github.com/at-ishikawa/readingquest/internal/scheduler"
	"github.com/at-ishikawa/readingquest/internal/tasks"
)

// Components is the assembled engine with its background machinery.
type Components struct {
	DB        *sqlx.DB
	Service   *engine.Service
	Tasks     *tasks.Queue
	Scheduler *scheduler.Scheduler
	Location  *time.Location

	closers []func() error
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	clock  clock.Clock
	logger *slog.Logger
}

// WithClock replaces the wall clock.
func WithClock(clk clock.Clock) Option {
	return func(o *buildOptions) { o.clock = clk }
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *buildOptions) { o.logger = logger }
}

// Build opens the database, applies migrations, loads the catalog and wires the engine.
// The task queue and scheduler are created but not started.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (*Components, error) {
	o := buildOptions{
		clock:  clock.Real{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	loc, err := cfg.Engine.Location()
	if err != nil {
		return nil, err
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("database.Open > %w", err)
	}
	c := &Components{
		DB:       db,
		Location: loc,
		closers:  []func() error{db.Close},
	}
	applied, err := database.Migrate(ctx, db)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("database.Migrate > %w", err)
	}
	if len(applied) > 0 {
		o.logger.Info("applied migrations", "migrations", applied)
	}

	questions, err := catalog.LoadYAMLCatalog(cfg.Catalog.File)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("catalog.LoadYAMLCatalog(%s) > %w", cfg.Catalog.File, err)
	}
	var books catalog.BookProvider = questions
	if cfg.Catalog.BooksURL != "" {
		remote := catalog.NewHTTPBookProvider(cfg.Catalog.BooksURL, cfg.Engine.RetryAttempts, cfg.Engine.RetryDelay)
		c.closers = append(c.closers, remote.Close)
		books = remote
	}

	retry := backoff.Policy{Attempts: cfg.Engine.RetryAttempts, Delay: cfg.Engine.RetryDelay}
	c.Tasks = tasks.NewQueue(cfg.Tasks.QueueSize, cfg.Tasks.Workers, cfg.Tasks.Timeout, tasks.WithLogger(o.logger))

	l := ledger.New(db, o.clock)
	projector := progress.NewProjector(
		l,
		books,
		progress.NewMemoryCache[progress.Projection](o.clock),
		cfg.Engine.CacheTTL,
		progress.WithRetry(retry),
		progress.WithLogger(o.logger),
	)
	effects := gamification.NewOrchestrator(
		gamification.NewSQLStore(db),
		l,
		o.clock,
		loc,
		gamification.WithEnqueuer(c.Tasks),
		gamification.WithLogger(o.logger),
	)

	c.Service = engine.NewService(engine.Dependencies{
		Books:     books,
		Questions: questions,
		Ledger:    l,
		Locks:     lock.NewManager(db, o.clock, cfg.Engine.Cooldown),
		Jokers:    joker.NewEconomy(l, questions),
		Projector: projector,
		Effects:   effects,
	}, engine.WithRetry(retry), engine.WithLogger(o.logger))

	c.Scheduler = scheduler.New(cfg.Scheduler, o.clock, loc, l, effects, projector, o.logger)
	return c, nil
}

// Close releases the database and remote catalog connections.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
