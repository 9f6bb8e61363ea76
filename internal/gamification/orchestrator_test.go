package gamification

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/at-ishikawa/readingquest/internal/clock"
	"github.com/at-ishikawa/readingquest/internal/ledger"
	"github.com/at-ishikawa/readingquest/internal/progress"
	"github.com/at-ishikawa/readingquest/internal/testutil"
)

type env struct {
	clock  *clock.Fake
	ledger *ledger.Ledger
	store  *SQLStore
}

func newEnv(t *testing.T) env {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	clk := testutil.NewClock()
	return env{
		clock:  clk,
		ledger: ledger.New(db, clk),
		store:  NewSQLStore(db),
	}
}

func (e env) commit(t *testing.T, userID string, fixture testutil.BookFixture, segment int) ledger.CommitResult {
	t.Helper()
	result, err := e.ledger.Commit(context.Background(),
		ledger.Record{UserID: userID, BookID: fixture.Book.ID, Segment: segment, Correct: true},
		ledger.WithDerive(progress.DeriveAggregate(fixture.Book)),
	)
	require.NoError(t, err)
	require.False(t, result.AlreadyValidated)
	return result
}

// syncEnqueuer runs tasks inline.
type syncEnqueuer struct {
	mu    sync.Mutex
	names []string
	errs  []error
}

func (q *syncEnqueuer) Enqueue(name string, fn func(ctx context.Context) error) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.names = append(q.names, name)
	q.errs = append(q.errs, fn(context.Background()))
	return true
}

func TestOrchestrator_Apply_FirstSegment(t *testing.T) {
	e := newEnv(t)
	tasks := &syncEnqueuer{}
	o := NewOrchestrator(e.store, e.ledger, e.clock, time.UTC, WithEnqueuer(tasks))
	fixture := testutil.NewBook("dune", 10)

	e.commit(t, "u1", fixture, 1)
	got := o.Apply(context.Background(), Event{UserID: "u1", BookID: "dune", Segment: 1})

	assert.Equal(t, Outcome{
		XPGained:  10,
		Stats:     Stats{XP: 10, Level: 1},
		NewQuests: []string{"first_segment"},
		Companion: Companion{Stage: 1, LastActiveDate: "2026-03-02", TotalActiveDays: 1},
	}, got)
	assert.Equal(t, []string{"monthly-reward"}, tasks.names)
	assert.Equal(t, []error{nil}, tasks.errs)
}

func TestOrchestrator_Apply_CompletesBook(t *testing.T) {
	e := newEnv(t)
	o := NewOrchestrator(e.store, e.ledger, e.clock, time.UTC)
	fixture := testutil.NewBook("pamphlet", 1)

	result := e.commit(t, "u1", fixture, 1)
	require.True(t, result.CompletedNow)

	got := o.Apply(context.Background(), Event{UserID: "u1", BookID: "pamphlet", Segment: 1, CompletedNow: true})
	assert.Equal(t, 60, got.XPGained)
	assert.Equal(t, []string{"books_1"}, got.NewBadges)
	assert.Equal(t, []string{"first_segment", "first_finish", "purist"}, got.NewQuests)
}

// Three validations on consecutive calendar dates, at varying times of day,
// unlock the three-day streak badge exactly once.
func TestOrchestrator_Apply_StreakBadgeUnlocksOnce(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	o := NewOrchestrator(e.store, e.ledger, e.clock, time.UTC)
	fixture := testutil.NewBook("dune", 10)

	moments := []time.Time{
		time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 3, 23, 50, 0, 0, time.UTC),
		time.Date(2026, 3, 4, 0, 5, 0, 0, time.UTC),
	}
	var unlocked []string
	for i, moment := range moments {
		e.clock.Set(moment)
		e.commit(t, "u1", fixture, i+1)
		unlocked = append(unlocked, o.Apply(ctx, Event{UserID: "u1", BookID: "dune", Segment: i + 1}).NewBadges...)
	}
	assert.Equal(t, []string{"streak_3"}, unlocked)

	for segment := 4; segment <= 6; segment++ {
		e.commit(t, "u1", fixture, segment)
		assert.NotContains(t, o.Apply(ctx, Event{UserID: "u1", BookID: "dune", Segment: segment}).NewBadges, "streak_3")
	}

	badges, err := e.store.Badges(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"streak_3"}, badges)
}

type failingQuestStore struct {
	*SQLStore
}

func (failingQuestStore) CompleteQuest(context.Context, string, string, time.Time) (bool, error) {
	return false, errors.New("quest store unavailable")
}

func TestOrchestrator_Apply_IsolatesFailures(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	var logs bytes.Buffer
	o := NewOrchestrator(failingQuestStore{e.store}, e.ledger, e.clock, time.UTC,
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	fixture := testutil.NewBook("dune", 10)

	e.commit(t, "u1", fixture, 1)
	got := o.Apply(ctx, Event{UserID: "u1", BookID: "dune", Segment: 1})

	assert.Equal(t, 10, got.XPGained)
	assert.Empty(t, got.NewQuests)
	assert.Contains(t, logs.String(), "effect=quests")
	assert.Contains(t, logs.String(), "quest store unavailable")

	stats, err := e.store.Stats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, Stats{XP: 10, Level: 1}, stats)

	found, err := e.ledger.Exists(ctx, "u1", "dune", 1)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestOrchestrator_Apply_CompanionAdvancesOneStageAtATime(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	o := NewOrchestrator(e.store, e.ledger, e.clock, time.UTC)
	fixture := testutil.NewBook("dune", 20)

	// Eight active days allow stage 3.
	for day := range 8 {
		e.clock.Set(testutil.Epoch.AddDate(0, 0, day))
		e.commit(t, "u1", fixture, day+1)
	}

	var stages []int
	var advanced []bool
	for range 3 {
		got := o.Apply(ctx, Event{UserID: "u1", BookID: "dune"})
		stages = append(stages, got.Companion.Stage)
		advanced = append(advanced, got.CompanionAdvanced)
	}
	assert.Equal(t, []int{2, 3, 3}, stages)
	assert.Equal(t, []bool{true, true, false}, advanced)

	companion, err := e.store.Companion(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, Companion{Stage: 3, LastActiveDate: "2026-03-09", TotalActiveDays: 8}, companion)
}

func TestOrchestrator_CheckMonthlyReward(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	o := NewOrchestrator(e.store, e.ledger, e.clock, time.UTC)
	fixture := testutil.NewBook("dune", 30)

	for segment := 1; segment < MonthlyRewardThreshold; segment++ {
		e.commit(t, "u1", fixture, segment)
	}
	granted, err := o.CheckMonthlyReward(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, granted)

	e.commit(t, "u1", fixture, MonthlyRewardThreshold)
	granted, err = o.CheckMonthlyReward(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, granted)

	granted, err = o.CheckMonthlyReward(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, granted, "one reward per month")

	profile, err := o.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, Stats{XP: XPMonthlyReward, Level: 1}, profile.Stats)
	assert.Equal(t, []string{MonthlyRewardBadge}, profile.Badges)

	t.Run("next month starts over", func(t *testing.T) {
		e.clock.Set(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
		granted, err := o.CheckMonthlyReward(ctx, "u1")
		require.NoError(t, err)
		assert.False(t, granted)
	})
}

func TestOrchestrator_Profile(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	o := NewOrchestrator(e.store, e.ledger, e.clock, time.UTC)
	fixture := testutil.NewBook("dune", 10)

	empty, err := o.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, Profile{Stats: Stats{Level: 1}, Companion: Companion{Stage: 1}}, empty)

	for day := range 2 {
		e.clock.Set(testutil.Epoch.AddDate(0, 0, day))
		e.commit(t, "u1", fixture, day+1)
		o.Apply(ctx, Event{UserID: "u1", BookID: "dune", Segment: day + 1})
	}

	got, err := o.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, Stats{XP: 20, Level: 1}, got.Stats)
	assert.Equal(t, []string{"first_segment"}, got.Quests)
	assert.Equal(t, Streak{Current: 2, Longest: 2}, got.Streak)
	assert.Equal(t, 2, got.Companion.TotalActiveDays)
}

func TestSQLStore_AddXP_Concurrent(t *testing.T) {
	ctx := context.Background()
	store := newEnv(t).store

	const workers = 10
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.AddXP(ctx, "u1", XPPerSegment)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stats, err := store.Stats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, Stats{XP: 100, Level: 2}, stats)
}

func TestSQLStore_LevelIsOnlyRaised(t *testing.T) {
	ctx := context.Background()
	store := newEnv(t).store

	stats, err := store.AddXP(ctx, "u1", 300)
	require.NoError(t, err)
	assert.Equal(t, Stats{XP: 300, Level: 3}, stats)

	stats, err = store.AddXP(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Level)
}
