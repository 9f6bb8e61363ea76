// Package joker implements the per-book allowance of answer reveals.
package joker

import (
	"context"
	"errors"
	"fmt"

	"github.com/at-ishikawa/readingquest/internal/catalog"
	"github.com/at-ishikawa/readingquest/internal/database"
	"github.com/at-ishikawa/readingquest/internal/ledger"
)

// MinSegments is the shortest book eligible for jokers.
const MinSegments = 3

var (
	ErrNotEligible = errors.New("book is too short for jokers")
	ErrExhausted   = errors.New("no jokers remaining")
)

// CalculateJokersAllowed returns one joker per started block of ten segments,
// and none for books shorter than MinSegments.
func CalculateJokersAllowed(expectedSegments int) int {
	if expectedSegments < MinSegments {
		return 0
	}
	return (expectedSegments + 9) / 10
}

// Allowance is a read-only view of a user's jokers for a book.
type Allowance struct {
	Eligible  bool
	Allowed   int
	Used      int
	Remaining int
}

// CanOffer reports whether a reveal may be offered. It never gates consumption.
func (a Allowance) CanOffer() bool {
	return a.Eligible && a.Remaining > 0
}

func newAllowance(expectedSegments, used int) Allowance {
	allowed := CalculateJokersAllowed(expectedSegments)
	return Allowance{
		Eligible:  expectedSegments >= MinSegments,
		Allowed:   allowed,
		Used:      used,
		Remaining: max(0, allowed-used),
	}
}

// Revealed is the result of a successful Consume.
type Revealed struct {
	Answer    string
	Remaining int
	Commit    ledger.CommitResult
}

type Ledger interface {
	Commit(ctx context.Context, rec ledger.Record, opts ...ledger.CommitOption) (ledger.CommitResult, error)
	JokersUsed(ctx context.Context, userID, bookID string) (int, error)
}

type Economy struct {
	ledger    Ledger
	questions catalog.QuestionCatalog
}

func NewEconomy(l Ledger, questions catalog.QuestionCatalog) *Economy {
	return &Economy{ledger: l, questions: questions}
}

// Allowance computes the allowance from the book length and the ledger.
func (e *Economy) Allowance(ctx context.Context, userID string, book catalog.Book) (Allowance, error) {
	if book.ExpectedSegments < MinSegments {
		return newAllowance(book.ExpectedSegments, 0), nil
	}
	used, err := e.ledger.JokersUsed(ctx, userID, book.ID)
	if err != nil {
		return Allowance{}, fmt.Errorf("ledger.JokersUsed > %w", err)
	}
	return newAllowance(book.ExpectedSegments, used), nil
}

// Consume spends one joker and validates the segment with it in a single
// transaction. It returns ErrNotEligible or ErrExhausted when no joker can be
// spent; a segment that is already validated costs nothing and is reported via
// Revealed.Commit.AlreadyValidated.
func (e *Economy) Consume(ctx context.Context, userID string, book catalog.Book, segment int, opts ...ledger.CommitOption) (Revealed, error) {
	if book.ExpectedSegments < MinSegments {
		return Revealed{}, ErrNotEligible
	}

	question, err := e.questions.Question(ctx, book.ID, segment)
	if err != nil {
		return Revealed{}, fmt.Errorf("questions.Question > %w", err)
	}

	allowed := CalculateJokersAllowed(book.ExpectedSegments)
	var usedBefore int
	guard := ledger.WithGuard(func(ctx context.Context, q database.Queryer, locked ledger.Aggregate) error {
		used, err := ledger.CountJokersUsed(ctx, q, userID, book.ID)
		if err != nil {
			return err
		}
		if used >= allowed {
			return ErrExhausted
		}
		usedBefore = used
		return nil
	})

	questionID := question.ID
	result, err := e.ledger.Commit(ctx, ledger.Record{
		UserID:     userID,
		BookID:     book.ID,
		Segment:    segment,
		QuestionID: &questionID,
		UsedJoker:  true,
		Correct:    true,
	}, append(opts, guard)...)
	if errors.Is(err, ErrExhausted) {
		return Revealed{}, ErrExhausted
	}
	if err != nil {
		return Revealed{}, fmt.Errorf("ledger.Commit > %w", err)
	}

	remaining := allowed - usedBefore
	if !result.AlreadyValidated {
		remaining--
	}
	return Revealed{
		Answer:    question.Answer,
		Remaining: max(0, remaining),
		Commit:    result,
	}, nil
}
