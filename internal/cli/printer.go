// Package cli renders engine results for a terminal and runs interactive reading sessions.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/at-ishikawa/readingquest/internal/engine"
	"github.com/at-ishikawa/readingquest/internal/gamification"
	"github.com/at-ishikawa/readingquest/internal/progress"
)

// Printer writes engine results to a terminal.
type Printer struct {
	stdoutWriter io.Writer
	bold         *color.Color
	italic       *color.Color
	green        *color.Color
	red          *color.Color
	yellow       *color.Color
}

// NewPrinter creates a Printer writing to w. A nil w writes to stdout.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{
		stdoutWriter: w,
		bold:         color.New(color.Bold),
		italic:       color.New(color.Italic),
		green:        color.New(color.FgGreen),
		red:          color.New(color.FgRed),
		yellow:       color.New(color.FgYellow),
	}
}

func (p *Printer) printf(c *color.Color, format string, args ...any) error {
	var err error
	if c == nil {
		_, err = fmt.Fprintf(p.stdoutWriter, format, args...)
	} else {
		_, err = c.Fprintf(p.stdoutWriter, format, args...)
	}
	if err != nil {
		return fmt.Errorf("failed to write to stdout: %w", err)
	}
	return nil
}

// PrintValidation renders the result of an answer.
func (p *Printer) PrintValidation(segment int, res engine.ValidateSegmentResult) error {
	switch res.Outcome {
	case engine.OutcomeSuccess:
		if err := p.printf(p.green, "✅ Segment %d validated (+%d XP)\n", segment, res.XPGained); err != nil {
			return err
		}
		if res.Stats != nil {
			if err := p.printf(nil, "   Level %d, %d XP\n", res.Stats.Level, res.Stats.XP); err != nil {
				return err
			}
		}
		if len(res.NewBadges) > 0 {
			if err := p.printf(p.yellow, "   New badges: %s\n", strings.Join(res.NewBadges, ", ")); err != nil {
				return err
			}
		}
		if len(res.NewQuests) > 0 {
			if err := p.printf(p.yellow, "   Quests completed: %s\n", strings.Join(res.NewQuests, ", ")); err != nil {
				return err
			}
		}
		if res.CompanionAdvanced {
			if err := p.printf(p.yellow, "   Your companion evolved!\n"); err != nil {
				return err
			}
		}
	case engine.OutcomeAlreadyValidated:
		if err := p.printf(nil, "Segment %d was already validated\n", segment); err != nil {
			return err
		}
	case engine.OutcomeIncorrect:
		if err := p.printf(p.red, "❌ Wrong answer. %d attempt(s) remaining\n", res.AttemptsRemaining); err != nil {
			return err
		}
		if res.JokerOffered {
			if err := p.printf(p.yellow, "   A joker is available to reveal the answer\n"); err != nil {
				return err
			}
		}
	case engine.OutcomeLocked:
		if err := p.printf(p.red, "🔒 Segment %d is locked for %s\n", segment, formatSeconds(res.RemainingSeconds)); err != nil {
			return err
		}
		if res.JokerOffered {
			if err := p.printf(p.yellow, "   A joker is available to reveal the answer\n"); err != nil {
				return err
			}
		}
	default:
		if err := p.printf(nil, "%s\n", res.Outcome); err != nil {
			return err
		}
	}
	if res.Progress != nil {
		return p.PrintProgress(*res.Progress)
	}
	return nil
}

// PrintJoker renders the result of spending a joker.
func (p *Printer) PrintJoker(segment int, res engine.ConsumeJokerResult) error {
	var err error
	switch res.Outcome {
	case engine.OutcomeRevealed:
		err = p.printf(p.green, "🃏 The answer of segment %d is %s\n", segment, p.italic.Sprintf("%q", res.Answer))
	case engine.OutcomeAlreadyValidated:
		err = p.printf(nil, "Segment %d was already validated\n", segment)
	case engine.OutcomeNotEligible:
		err = p.printf(p.red, "This book is too short for jokers\n")
	case engine.OutcomeExhausted:
		err = p.printf(p.red, "No jokers left for this book\n")
	default:
		err = p.printf(nil, "%s\n", res.Outcome)
	}
	if err != nil {
		return err
	}
	if res.Outcome != engine.OutcomeNotEligible {
		if err := p.printf(nil, "   %d joker(s) remaining\n", res.Remaining); err != nil {
			return err
		}
	}
	if res.Progress != nil {
		return p.PrintProgress(*res.Progress)
	}
	return nil
}

// PrintProgress renders one book's progress as a bar.
func (p *Printer) PrintProgress(projection progress.Projection) error {
	const width = 20
	filled := projection.ProgressPercent * width / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)

	c := p.bold
	if projection.IsCompleted {
		c = p.green
	}
	if err := p.printf(c, "%s ", projection.BookID); err != nil {
		return err
	}
	return p.printf(nil, "[%s] %3d%% (%d/%d segments, next page %d)\n",
		bar,
		projection.ProgressPercent,
		projection.ValidatedSegmentCount,
		projection.TotalSegments,
		projection.NextSegmentPage,
	)
}

// PrintLibrary renders the progress of several books.
func (p *Printer) PrintLibrary(projections []progress.Projection) error {
	if len(projections) == 0 {
		return p.printf(nil, "No known books\n")
	}
	for _, projection := range projections {
		if err := p.PrintProgress(projection); err != nil {
			return err
		}
	}
	return nil
}

// PrintLockStatus renders whether a segment accepts answers.
func (p *Printer) PrintLockStatus(segment int, status engine.LockStatus) error {
	if status.Locked && status.RemainingSeconds != nil {
		return p.printf(p.red, "🔒 Segment %d is locked for %s\n", segment, formatSeconds(*status.RemainingSeconds))
	}
	return p.printf(p.green, "Segment %d is open, %d attempt(s) remaining\n", segment, status.AttemptsRemaining)
}

// PrintProfile renders the caller's gamification state.
func (p *Printer) PrintProfile(profile gamification.Profile) error {
	if err := p.printf(p.bold, "Level %d", profile.Stats.Level); err != nil {
		return err
	}
	if err := p.printf(nil, " (%d XP)\n", profile.Stats.XP); err != nil {
		return err
	}
	if err := p.printf(nil, "Streak: %d day(s), longest %d\n", profile.Streak.Current, profile.Streak.Longest); err != nil {
		return err
	}
	if err := p.printf(nil, "Companion: stage %d, %d active day(s)\n", profile.Companion.Stage, profile.Companion.TotalActiveDays); err != nil {
		return err
	}
	if err := p.printList("Badges", profile.Badges); err != nil {
		return err
	}
	return p.printList("Quests", profile.Quests)
}

func (p *Printer) printList(title string, items []string) error {
	if len(items) == 0 {
		return p.printf(nil, "%s: none\n", title)
	}
	return p.printf(nil, "%s: %s\n", title, p.yellow.Sprint(strings.Join(items, ", ")))
}

func formatSeconds(seconds int) string {
	return fmt.Sprintf("%dm%02ds", seconds/60, seconds%60)
}
