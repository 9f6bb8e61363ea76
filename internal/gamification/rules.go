// Package gamification applies the rewards that follow a validated segment:
// experience and levels, badges, quests, the reading companion and the monthly reward.
package gamification

import (
	"slices"
	"time"

	"github.com/at-ishikawa/readingquest/internal/clock"
	"github.com/at-ishikawa/readingquest/internal/ledger"
)

const (
	XPPerSegment      = 10
	XPPerJoker        = 3
	XPCompletionBonus = 50
	XPMonthlyReward   = 25

	// MonthlyRewardThreshold is the number of validations in one month that earns the monthly reward.
	MonthlyRewardThreshold = 20
	MonthlyRewardBadge     = "monthly_reader"
)

// LevelThresholds are the cumulative XP needed for levels 1, 2, ...
var LevelThresholds = []int{0, 100, 250, 500, 1000, 2000, 3500, 5500, 8000, 11000}

// CompanionThresholds are the active days needed for companion stages 1, 2, ...
var CompanionThresholds = []int{0, 3, 7, 14, 30}

// LevelFor returns the level reached with xp.
func LevelFor(xp int) int {
	level := 1
	for i, threshold := range LevelThresholds {
		if xp >= threshold {
			level = i + 1
		}
	}
	return level
}

// XPFor returns the experience earned by one commit.
func XPFor(usedJoker, completedNow bool) int {
	xp := XPPerSegment
	if usedJoker {
		xp = XPPerJoker
	}
	if completedNow {
		xp += XPCompletionBonus
	}
	return xp
}

// CompanionStageFor returns the stage a companion should reach after activeDays.
func CompanionStageFor(activeDays int) int {
	stage := 1
	for i, threshold := range CompanionThresholds {
		if activeDays >= threshold {
			stage = i + 1
		}
	}
	return stage
}

// Streak is a run of consecutive calendar dates with at least one validation.
type Streak struct {
	Current int `json:"current"`
	Longest int `json:"longest"`
}

// Snapshot is the ledger state the badge, quest and companion rules look at.
type Snapshot struct {
	// PerDate counts validations per calendar date (YYYY-MM-DD).
	PerDate         map[string]int
	Streak          Streak
	BooksInProgress int
	CompletedBooks  []ledger.CompletedBook
	Today           string
}

// ActiveDays is the number of distinct calendar dates with a validation.
func (s Snapshot) ActiveDays() int {
	return len(s.PerDate)
}

// BusiestDay is the highest number of validations on one calendar date.
func (s Snapshot) BusiestDay() int {
	busiest := 0
	for _, n := range s.PerDate {
		busiest = max(busiest, n)
	}
	return busiest
}

func (s Snapshot) Total() int {
	total := 0
	for _, n := range s.PerDate {
		total += n
	}
	return total
}

// NewSnapshot buckets validation times into calendar dates of loc.
func NewSnapshot(times []time.Time, now time.Time, loc *time.Location, inProgress int, completed []ledger.CompletedBook) Snapshot {
	perDate := make(map[string]int)
	for _, t := range times {
		perDate[clock.DateOf(t, loc)]++
	}
	today := clock.DateOf(now, loc)
	return Snapshot{
		PerDate:         perDate,
		Streak:          StreakOf(perDate, today),
		BooksInProgress: inProgress,
		CompletedBooks:  completed,
		Today:           today,
	}
}

// StreakOf derives the longest run of consecutive dates and the run still alive
// on today, which is the one ending today or yesterday.
func StreakOf(perDate map[string]int, today string) Streak {
	dates := make([]time.Time, 0, len(perDate))
	for date := range perDate {
		d, err := time.Parse(time.DateOnly, date)
		if err != nil {
			continue
		}
		dates = append(dates, d)
	}
	if len(dates) == 0 {
		return Streak{}
	}
	slices.SortFunc(dates, func(a, b time.Time) int { return a.Compare(b) })

	var streak Streak
	run := 1
	streak.Longest = 1
	for i := 1; i < len(dates); i++ {
		if dates[i].Sub(dates[i-1]) == 24*time.Hour {
			run++
		} else {
			run = 1
		}
		streak.Longest = max(streak.Longest, run)
	}

	last := dates[len(dates)-1]
	todayDate, err := time.Parse(time.DateOnly, today)
	if err == nil && todayDate.Sub(last) <= 24*time.Hour {
		streak.Current = run
	}
	return streak
}

// Rule is a named predicate over a snapshot.
type Rule struct {
	ID          string
	Description string
	Met         func(Snapshot) bool
}

func streakBadge(id string, days int) Rule {
	return Rule{
		ID:          id,
		Description: "Read on consecutive days",
		Met:         func(s Snapshot) bool { return s.Streak.Longest >= days },
	}
}

func booksBadge(id string, books int) Rule {
	return Rule{
		ID:          id,
		Description: "Finish books",
		Met:         func(s Snapshot) bool { return len(s.CompletedBooks) >= books },
	}
}

// Badges is the fixed badge catalog.
var Badges = []Rule{
	streakBadge("streak_3", 3),
	streakBadge("streak_7", 7),
	streakBadge("streak_30", 30),
	booksBadge("books_1", 1),
	booksBadge("books_5", 5),
	booksBadge("books_10", 10),
}

// Quests is the fixed quest catalog.
var Quests = []Rule{
	{
		ID:          "first_segment",
		Description: "Validate your first segment",
		Met:         func(s Snapshot) bool { return s.Total() >= 1 },
	},
	{
		ID:          "daily_five",
		Description: "Validate 5 segments in one day",
		Met:         func(s Snapshot) bool { return s.BusiestDay() >= 5 },
	},
	{
		ID:          "daily_ten",
		Description: "Validate 10 segments in one day",
		Met:         func(s Snapshot) bool { return s.BusiestDay() >= 10 },
	},
	{
		ID:          "bookworm_shelf",
		Description: "Have 3 books in progress at the same time",
		Met:         func(s Snapshot) bool { return s.BooksInProgress >= 3 },
	},
	{
		ID:          "first_finish",
		Description: "Finish a book",
		Met:         func(s Snapshot) bool { return len(s.CompletedBooks) >= 1 },
	},
	{
		ID:          "purist",
		Description: "Finish a book without a joker",
		Met: func(s Snapshot) bool {
			return slices.ContainsFunc(s.CompletedBooks, func(b ledger.CompletedBook) bool {
				return b.JokersUsed == 0
			})
		},
	},
}
