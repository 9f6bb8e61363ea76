// Package engine turns answer submissions and joker requests into ledger
// commits, lock transitions, progress and rewards.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/at-ishikawa/readingquest/internal/backoff"
	"github.com/at-ishikawa/readingquest/internal/catalog"
	"github.com/at-ishikawa/readingquest/internal/gamification"
	"github.com/at-ishikawa/readingquest/internal/joker"
	"github.com/at-ishikawa/readingquest/internal/ledger"
	"github.com/at-ishikawa/readingquest/internal/lock"
	"github.com/at-ishikawa/readingquest/internal/progress"
)

// Dependencies are the components a Service coordinates.
type Dependencies struct {
	Books     catalog.BookProvider
	Questions catalog.QuestionCatalog
	Ledger    *ledger.Ledger
	Locks     *lock.Manager
	Jokers    *joker.Economy
	Projector *progress.Projector
	Effects   *gamification.Orchestrator
}

type Service struct {
	Dependencies
	validate *validator.Validate
	retry    backoff.Policy
	logger   *slog.Logger
}

type Option func(*Service)

// WithRetry sets the retry policy of read operations.
func WithRetry(policy backoff.Policy) Option {
	return func(s *Service) { s.retry = policy }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func NewService(deps Dependencies, opts ...Option) *Service {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	s := &Service{
		Dependencies: deps,
		validate:     validate,
		retry:        backoff.Policy{Attempts: 1},
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateSegment checks an answer for a segment. A correct answer is committed
// to the ledger and rewarded; a wrong one counts towards the segment's lock.
func (s *Service) ValidateSegment(ctx context.Context, req ValidateSegmentRequest) (ValidateSegmentResult, error) {
	if err := s.validateRequest(req); err != nil {
		return ValidateSegmentResult{}, err
	}
	book, err := s.book(ctx, req.BookID, req.Segment)
	if err != nil {
		return ValidateSegmentResult{}, err
	}

	found, err := s.Ledger.Exists(ctx, req.UserID, req.BookID, req.Segment)
	if err != nil {
		return ValidateSegmentResult{}, upstream("ledger.Exists", err)
	}
	if found {
		return s.alreadyValidated(ctx, req.UserID, req.BookID), nil
	}

	key := lock.Key{UserID: req.UserID, BookID: req.BookID, Segment: req.Segment}
	status, err := s.Locks.Check(ctx, key)
	if err != nil {
		return ValidateSegmentResult{}, upstream("locks.Check", err)
	}
	if status.Locked {
		return ValidateSegmentResult{Outcome: OutcomeLocked, RemainingSeconds: status.RemainingSeconds}, nil
	}

	question, err := s.Questions.Question(ctx, req.BookID, req.Segment)
	if errors.Is(err, catalog.ErrNotFound) {
		return ValidateSegmentResult{}, fmt.Errorf("%w: book %s segment %d", ErrQuestionNotFound, req.BookID, req.Segment)
	}
	if err != nil {
		return ValidateSegmentResult{}, upstream("questions.Question", err)
	}

	if !question.Matches(req.Answer) {
		return s.recordFailure(ctx, key, book, req.IdempotencyKey)
	}

	questionID := question.ID
	result, err := s.Ledger.Commit(ctx, ledger.Record{
		UserID:     req.UserID,
		BookID:     req.BookID,
		Segment:    req.Segment,
		QuestionID: &questionID,
		Correct:    true,
	}, ledger.WithDerive(progress.DeriveAggregate(book)))
	if err != nil {
		return ValidateSegmentResult{}, upstream("ledger.Commit", err)
	}
	s.Projector.Invalidate(req.UserID, req.BookID)
	if result.AlreadyValidated {
		return s.alreadyValidated(ctx, req.UserID, req.BookID), nil
	}

	if err := s.Locks.Reset(ctx, key); err != nil {
		s.logger.Warn("failed to reset attempts after validation", "user", req.UserID, "book", req.BookID, "segment", req.Segment, "error", err)
	}

	outcome := s.Effects.Apply(ctx, gamification.Event{
		UserID:       req.UserID,
		BookID:       req.BookID,
		Segment:      req.Segment,
		CompletedNow: result.CompletedNow,
	})
	res := ValidateSegmentResult{
		Outcome:           OutcomeSuccess,
		XPGained:          outcome.XPGained,
		NewBadges:         outcome.NewBadges,
		NewQuests:         outcome.NewQuests,
		CompanionAdvanced: outcome.CompanionAdvanced,
		Progress:          s.progressAfterWrite(ctx, req.UserID, req.BookID),
	}
	if outcome.XPGained > 0 {
		res.Stats = &outcome.Stats
	}
	return res, nil
}

func (s *Service) recordFailure(ctx context.Context, key lock.Key, book catalog.Book, idempotencyKey string) (ValidateSegmentResult, error) {
	allowance, err := s.Jokers.Allowance(ctx, key.UserID, book)
	if err != nil {
		return ValidateSegmentResult{}, upstream("jokers.Allowance", err)
	}
	failure, err := s.Locks.RecordFailure(ctx, key, allowance.CanOffer(), idempotencyKey)
	if err != nil {
		return ValidateSegmentResult{}, upstream("locks.RecordFailure", err)
	}

	if failure.Locked {
		return ValidateSegmentResult{
			Outcome:          OutcomeLocked,
			RemainingSeconds: failure.RemainingSeconds,
			JokerOffered:     allowance.CanOffer(),
		}, nil
	}
	remaining := failure.AttemptsRemaining()
	return ValidateSegmentResult{
		Outcome:           OutcomeIncorrect,
		AttemptsRemaining: remaining,
		JokerOffered:      remaining == 0 && allowance.CanOffer(),
	}, nil
}

func (s *Service) alreadyValidated(ctx context.Context, userID, bookID string) ValidateSegmentResult {
	return ValidateSegmentResult{
		Outcome:  OutcomeAlreadyValidated,
		Progress: s.progressAfterWrite(ctx, userID, bookID),
	}
}

// progressAfterWrite returns the projection to include in a mutating response.
// The write already succeeded, so a failed read only drops the projection.
func (s *Service) progressAfterWrite(ctx context.Context, userID, bookID string) *progress.Projection {
	projection, err := s.Projector.Get(ctx, userID, bookID)
	if err != nil {
		s.logger.Warn("failed to load progress after write", "user", userID, "book", bookID, "error", err)
		return nil
	}
	return &projection
}

// ConsumeJoker reveals the answer of a segment and validates it with a joker.
func (s *Service) ConsumeJoker(ctx context.Context, req ConsumeJokerRequest) (ConsumeJokerResult, error) {
	if err := s.validateRequest(req); err != nil {
		return ConsumeJokerResult{}, err
	}
	book, err := s.book(ctx, req.BookID, req.Segment)
	if err != nil {
		return ConsumeJokerResult{}, err
	}

	revealed, err := s.Jokers.Consume(ctx, req.UserID, book, req.Segment, ledger.WithDerive(progress.DeriveAggregate(book)))
	switch {
	case errors.Is(err, joker.ErrNotEligible):
		return ConsumeJokerResult{Outcome: OutcomeNotEligible}, nil
	case errors.Is(err, joker.ErrExhausted):
		return ConsumeJokerResult{Outcome: OutcomeExhausted}, nil
	case errors.Is(err, catalog.ErrNotFound):
		return ConsumeJokerResult{}, fmt.Errorf("%w: book %s segment %d", ErrQuestionNotFound, req.BookID, req.Segment)
	case err != nil:
		return ConsumeJokerResult{}, upstream("jokers.Consume", err)
	}
	s.Projector.Invalidate(req.UserID, req.BookID)

	if revealed.Commit.AlreadyValidated {
		return ConsumeJokerResult{
			Outcome:   OutcomeAlreadyValidated,
			Remaining: revealed.Remaining,
			Progress:  s.progressAfterWrite(ctx, req.UserID, req.BookID),
		}, nil
	}

	key := lock.Key{UserID: req.UserID, BookID: req.BookID, Segment: req.Segment}
	if err := s.Locks.Reset(ctx, key); err != nil {
		s.logger.Warn("failed to reset attempts after joker", "user", req.UserID, "book", req.BookID, "segment", req.Segment, "error", err)
	}
	s.Effects.Apply(ctx, gamification.Event{
		UserID:       req.UserID,
		BookID:       req.BookID,
		Segment:      req.Segment,
		UsedJoker:    true,
		CompletedNow: revealed.Commit.CompletedNow,
	})

	return ConsumeJokerResult{
		Outcome:   OutcomeRevealed,
		Answer:    revealed.Answer,
		Remaining: revealed.Remaining,
		Progress:  s.progressAfterWrite(ctx, req.UserID, req.BookID),
	}, nil
}

// GetProgress returns the progress of a user through a book.
func (s *Service) GetProgress(ctx context.Context, req ProgressRequest) (progress.Projection, error) {
	if err := s.validateRequest(req); err != nil {
		return progress.Projection{}, err
	}
	projection, err := s.Projector.Get(ctx, req.UserID, req.BookID)
	if errors.Is(err, catalog.ErrNotFound) {
		return progress.Projection{}, fmt.Errorf("%w: %s", ErrBookNotFound, req.BookID)
	}
	if err != nil {
		return progress.Projection{}, upstream("projector.Get", err)
	}
	return projection, nil
}

// GetLibraryProgress returns the progress of a user through many books. Books
// unknown to the catalog are left out.
func (s *Service) GetLibraryProgress(ctx context.Context, req LibraryProgressRequest) ([]progress.Projection, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	projections, err := s.Projector.GetLibrary(ctx, req.UserID, req.BookIDs)
	if err != nil {
		return nil, upstream("projector.GetLibrary", err)
	}
	return projections, nil
}

// GetLockStatus reports whether a segment is locked, without changing the lock.
func (s *Service) GetLockStatus(ctx context.Context, req LockStatusRequest) (LockStatus, error) {
	if err := s.validateRequest(req); err != nil {
		return LockStatus{}, err
	}

	var status lock.Status
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		status, err = s.Locks.Status(ctx, lock.Key{UserID: req.UserID, BookID: req.BookID, Segment: req.Segment})
		return err
	})
	if err != nil {
		return LockStatus{}, upstream("locks.Status", err)
	}

	res := LockStatus{Locked: status.Locked, AttemptsRemaining: status.AttemptsRemaining()}
	if status.Locked {
		remaining := status.RemainingSeconds
		res.RemainingSeconds = &remaining
	}
	return res, nil
}

// GetStats returns the gamification state of a user.
func (s *Service) GetStats(ctx context.Context, req StatsRequest) (gamification.Profile, error) {
	if err := s.validateRequest(req); err != nil {
		return gamification.Profile{}, err
	}

	var profile gamification.Profile
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		profile, err = s.Effects.Profile(ctx, req.UserID)
		return err
	})
	if err != nil {
		return gamification.Profile{}, upstream("effects.Profile", err)
	}
	return profile, nil
}

// RecordPosition stores the reader's reported position in a book.
func (s *Service) RecordPosition(ctx context.Context, req RecordPositionRequest) (progress.Projection, error) {
	if err := s.validateRequest(req); err != nil {
		return progress.Projection{}, err
	}
	book, err := s.book(ctx, req.BookID, 0)
	if err != nil {
		return progress.Projection{}, err
	}

	if _, _, err := s.Ledger.UpdateAggregate(ctx, req.UserID, req.BookID, func(count int, agg ledger.Aggregate) ledger.Aggregate {
		agg.Position = req.Position
		agg.CurrentPage = progress.Project(count, book, agg).NextSegmentPage
		return agg
	}); err != nil {
		return progress.Projection{}, upstream("ledger.UpdateAggregate", err)
	}
	s.Projector.Invalidate(req.UserID, req.BookID)
	return s.GetProgress(ctx, ProgressRequest{UserID: req.UserID, BookID: req.BookID})
}

// MarkCompleted sets the explicit completion flag of a book. The flag shows in
// the projection but earns no completion rewards; those follow the ledger.
func (s *Service) MarkCompleted(ctx context.Context, req ProgressRequest) (progress.Projection, error) {
	if err := s.validateRequest(req); err != nil {
		return progress.Projection{}, err
	}
	if _, err := s.book(ctx, req.BookID, 0); err != nil {
		return progress.Projection{}, err
	}

	if _, _, err := s.Ledger.UpdateAggregate(ctx, req.UserID, req.BookID, func(_ int, agg ledger.Aggregate) ledger.Aggregate {
		agg.MarkedCompleted = true
		agg.Status = ledger.StatusCompleted
		return agg
	}); err != nil {
		return progress.Projection{}, upstream("ledger.UpdateAggregate", err)
	}
	s.Projector.Invalidate(req.UserID, req.BookID)
	return s.GetProgress(ctx, req)
}

// book loads book metadata and checks segment against it. A zero segment is not checked.
func (s *Service) book(ctx context.Context, bookID string, segment int) (catalog.Book, error) {
	var book catalog.Book
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		book, err = s.Books.Book(ctx, bookID)
		if errors.Is(err, catalog.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	})
	if errors.Is(err, catalog.ErrNotFound) {
		return catalog.Book{}, fmt.Errorf("%w: %s", ErrBookNotFound, bookID)
	}
	if err != nil {
		return catalog.Book{}, upstream("books.Book", err)
	}
	if segment != 0 && segment > book.ExpectedSegments {
		return catalog.Book{}, fmt.Errorf("%w: book %s has %d segments, got %d", ErrInvalidSegment, bookID, book.ExpectedSegments, segment)
	}
	return book, nil
}

func (s *Service) validateRequest(req any) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}

func upstream(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUpstream, err)
}
