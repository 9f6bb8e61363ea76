package engine

import (
	"errors"

	"github.com/at-ishikawa/readingquest/internal/gamification"
	"github.com/at-ishikawa/readingquest/internal/progress"
)

var (
	ErrBookNotFound     = errors.New("book not found")
	ErrQuestionNotFound = errors.New("question not found")
	ErrInvalidSegment   = errors.New("segment out of range")
	// ErrUpstream wraps failures of the datastore or the remote catalog.
	ErrUpstream = errors.New("upstream failure")
)

// Outcome is the kind of result an operation produced. Outcomes other than
// errors are successful responses.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeAlreadyValidated Outcome = "already_validated"
	OutcomeIncorrect        Outcome = "incorrect"
	OutcomeLocked           Outcome = "locked"
	OutcomeRevealed         Outcome = "revealed"
	OutcomeNotEligible      Outcome = "not_eligible"
	OutcomeExhausted        Outcome = "exhausted"
)

type ValidateSegmentRequest struct {
	UserID  string `json:"user_id" validate:"required,max=128"`
	BookID  string `json:"book_id" validate:"required,max=128"`
	Segment int    `json:"segment" validate:"min=1"`
	Answer  string `json:"answer" validate:"max=1000"`
	// IdempotencyKey makes a retried wrong answer count as one attempt.
	IdempotencyKey string `json:"idempotency_key,omitempty" validate:"omitempty,max=128"`
}

type ValidateSegmentResult struct {
	Outcome Outcome `json:"outcome"`

	// Success
	XPGained          int                  `json:"xp_gained,omitempty"`
	Stats             *gamification.Stats  `json:"stats,omitempty"`
	NewBadges         []string             `json:"new_badges,omitempty"`
	NewQuests         []string             `json:"new_quests,omitempty"`
	CompanionAdvanced bool                 `json:"companion_advanced,omitempty"`
	Progress          *progress.Projection `json:"progress,omitempty"`

	// Incorrect
	AttemptsRemaining int  `json:"attempts_remaining"`
	JokerOffered      bool `json:"joker_offered,omitempty"`

	// Locked
	RemainingSeconds int `json:"remaining_seconds,omitempty"`
}

type ConsumeJokerRequest struct {
	UserID  string `json:"user_id" validate:"required,max=128"`
	BookID  string `json:"book_id" validate:"required,max=128"`
	Segment int    `json:"segment" validate:"min=1"`
}

type ConsumeJokerResult struct {
	Outcome   Outcome              `json:"outcome"`
	Answer    string               `json:"answer,omitempty"`
	Remaining int                  `json:"remaining"`
	Progress  *progress.Projection `json:"progress,omitempty"`
}

type ProgressRequest struct {
	UserID string `json:"user_id" validate:"required,max=128"`
	BookID string `json:"book_id" validate:"required,max=128"`
}

type LibraryProgressRequest struct {
	UserID  string   `json:"user_id" validate:"required,max=128"`
	BookIDs []string `json:"book_ids" validate:"required,min=1,max=500,dive,required,max=128"`
}

type LockStatusRequest struct {
	UserID  string `json:"user_id" validate:"required,max=128"`
	BookID  string `json:"book_id" validate:"required,max=128"`
	Segment int    `json:"segment" validate:"min=1"`
}

type LockStatus struct {
	Locked bool `json:"locked"`
	// RemainingSeconds is nil when the segment is not locked.
	RemainingSeconds  *int `json:"remaining_seconds"`
	AttemptsRemaining int  `json:"attempts_remaining"`
}

type StatsRequest struct {
	UserID string `json:"user_id" validate:"required,max=128"`
}

type RecordPositionRequest struct {
	UserID   string `json:"user_id" validate:"required,max=128"`
	BookID   string `json:"book_id" validate:"required,max=128"`
	Position int    `json:"position" validate:"min=0"`
}
