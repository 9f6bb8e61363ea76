package gamification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/at-ishikawa/readingquest/internal/clock"
	"github.com/at-ishikawa/readingquest/internal/ledger"
)

// Ledger is the part of the validation ledger the rules are evaluated against.
type Ledger interface {
	ValidationTimes(ctx context.Context, userID string) ([]time.Time, error)
	CountBooksInProgress(ctx context.Context, userID string) (int, error)
	CompletedBooks(ctx context.Context, userID string) ([]ledger.CompletedBook, error)
	CountSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// Enqueuer runs best-effort work in the background. Enqueue reports false when
// the work was dropped.
type Enqueuer interface {
	Enqueue(name string, fn func(ctx context.Context) error) bool
}

// Event is a successful ledger commit.
type Event struct {
	UserID       string
	BookID       string
	Segment      int
	UsedJoker    bool
	CompletedNow bool
}

// Outcome is what the side effects of one commit produced. Fields of effects
// that failed keep their zero value.
type Outcome struct {
	XPGained          int
	Stats             Stats
	NewBadges         []string
	NewQuests         []string
	Companion         Companion
	CompanionAdvanced bool
}

// Profile is the gamification state of a user.
type Profile struct {
	Stats     Stats     `json:"stats"`
	Badges    []string  `json:"badges"`
	Quests    []string  `json:"quests"`
	Streak    Streak    `json:"streak"`
	Companion Companion `json:"companion"`
}

type Orchestrator struct {
	store    Store
	ledger   Ledger
	clock    clock.Clock
	location *time.Location
	tasks    Enqueuer
	logger   *slog.Logger
}

type Option func(*Orchestrator)

func WithEnqueuer(tasks Enqueuer) Option {
	return func(o *Orchestrator) { o.tasks = tasks }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

func NewOrchestrator(store Store, l Ledger, clk clock.Clock, loc *time.Location, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		ledger:   l,
		clock:    clk,
		location: loc,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Apply runs every side effect of a commit. Failures are logged and never
// returned; the commit has already landed when Apply is called.
func (o *Orchestrator) Apply(ctx context.Context, event Event) Outcome {
	// The commit is durable, so its rewards are applied even if the caller goes away.
	ctx = context.WithoutCancel(ctx)
	now := o.clock.Now()
	snapshot := sync.OnceValues(func() (Snapshot, error) {
		return o.snapshot(ctx, event.UserID, now)
	})

	var outcome Outcome
	var g errgroup.Group
	g.Go(o.isolate(event, "xp", func() error {
		gained := XPFor(event.UsedJoker, event.CompletedNow)
		stats, err := o.store.AddXP(ctx, event.UserID, gained)
		if err != nil {
			return err
		}
		outcome.XPGained = gained
		outcome.Stats = stats
		return nil
	}))
	g.Go(o.isolate(event, "badges", func() error {
		s, err := snapshot()
		if err != nil {
			return err
		}
		unlocked, err := o.unlock(ctx, event.UserID, Badges, s, now, o.store.UnlockBadge)
		outcome.NewBadges = unlocked
		return err
	}))
	g.Go(o.isolate(event, "quests", func() error {
		s, err := snapshot()
		if err != nil {
			return err
		}
		completed, err := o.unlock(ctx, event.UserID, Quests, s, now, o.store.CompleteQuest)
		outcome.NewQuests = completed
		return err
	}))
	g.Go(o.isolate(event, "companion", func() error {
		s, err := snapshot()
		if err != nil {
			return err
		}
		companion, advanced, err := o.evolveCompanion(ctx, event.UserID, s)
		if err != nil {
			return err
		}
		outcome.Companion = companion
		outcome.CompanionAdvanced = advanced
		return nil
	}))
	_ = g.Wait()

	if o.tasks != nil {
		userID := event.UserID
		if !o.tasks.Enqueue("monthly-reward", func(ctx context.Context) error {
			_, err := o.CheckMonthlyReward(ctx, userID)
			return err
		}) {
			o.logger.Warn("monthly reward check dropped", "user", userID)
		}
	}
	return outcome
}

func (o *Orchestrator) isolate(event Event, effect string, fn func() error) func() error {
	return func() error {
		if err := fn(); err != nil {
			o.logger.Warn("side effect failed",
				"effect", effect,
				"user", event.UserID,
				"book", event.BookID,
				"segment", event.Segment,
				"error", err,
			)
		}
		return nil
	}
}

func (o *Orchestrator) snapshot(ctx context.Context, userID string, now time.Time) (Snapshot, error) {
	times, err := o.ledger.ValidationTimes(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	inProgress, err := o.ledger.CountBooksInProgress(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	completed, err := o.ledger.CompletedBooks(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	return NewSnapshot(times, now, o.location, inProgress, completed), nil
}

// unlock records every rule that is met and returns the ones recorded for the first time.
func (o *Orchestrator) unlock(
	ctx context.Context,
	userID string,
	rules []Rule,
	s Snapshot,
	now time.Time,
	record func(ctx context.Context, userID, id string, at time.Time) (bool, error),
) ([]string, error) {
	var unlocked []string
	for _, rule := range rules {
		if !rule.Met(s) {
			continue
		}
		isNew, err := record(ctx, userID, rule.ID, now)
		if err != nil {
			return unlocked, fmt.Errorf("record %s: %w", rule.ID, err)
		}
		if isNew {
			unlocked = append(unlocked, rule.ID)
		}
	}
	return unlocked, nil
}

// evolveCompanion moves the companion at most one stage towards the stage its
// active days allow.
func (o *Orchestrator) evolveCompanion(ctx context.Context, userID string, s Snapshot) (Companion, bool, error) {
	current, err := o.store.Companion(ctx, userID)
	if err != nil {
		return Companion{}, false, err
	}

	next := Companion{
		Stage:           current.Stage,
		LastActiveDate:  s.Today,
		TotalActiveDays: s.ActiveDays(),
	}
	if CompanionStageFor(next.TotalActiveDays) > current.Stage {
		next.Stage = current.Stage + 1
	}

	stored, err := o.store.AdvanceCompanion(ctx, userID, current.Stage, next)
	if err != nil {
		return Companion{}, false, err
	}
	if !stored {
		// Another commit moved the companion first.
		return current, false, nil
	}
	return next, next.Stage > current.Stage, nil
}

// CheckMonthlyReward grants the monthly reward when the user validated enough
// segments in the current month. It reports whether the reward was granted now.
func (o *Orchestrator) CheckMonthlyReward(ctx context.Context, userID string) (bool, error) {
	now := o.clock.Now()
	validations, err := o.ledger.CountSince(ctx, userID, clock.StartOfMonth(now, o.location))
	if err != nil {
		return false, err
	}
	if validations < MonthlyRewardThreshold {
		return false, nil
	}

	claimed, err := o.store.ClaimMonthlyReward(ctx, userID, clock.MonthOf(now, o.location), validations, XPMonthlyReward, now)
	if err != nil {
		return false, fmt.Errorf("claim monthly reward: %w", err)
	}
	if claimed {
		o.logger.Info("monthly reward granted", "user", userID, "validations", validations)
	}
	return claimed, nil
}

// Profile returns the current gamification state of a user.
func (o *Orchestrator) Profile(ctx context.Context, userID string) (Profile, error) {
	stats, err := o.store.Stats(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	badges, err := o.store.Badges(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	quests, err := o.store.Quests(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	companion, err := o.store.Companion(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	s, err := o.snapshot(ctx, userID, o.clock.Now())
	if err != nil {
		return Profile{}, err
	}
	return Profile{
		Stats:     stats,
		Badges:    badges,
		Quests:    quests,
		Streak:    s.Streak,
		Companion: companion,
	}, nil
}
