// Package catalog provides read-only book metadata and comprehension questions.
package catalog

import (
	"context"
	"errors"
	"strings"
)

//go:generate mockgen -source=catalog.go -destination=../mocks/catalog/mock_catalog.go -package=mock_catalog

var ErrNotFound = errors.New("not found in catalog")

// Book is static metadata about a book split into segments.
type Book struct {
	ID               string `json:"id" yaml:"id" validate:"required"`
	Title            string `json:"title" yaml:"title"`
	ExpectedSegments int    `json:"expected_segments" yaml:"expected_segments" validate:"min=0"`
	TotalPages       int    `json:"total_pages" yaml:"total_pages" validate:"min=0"`
	TotalWords       int    `json:"total_words" yaml:"total_words" validate:"min=0"`
}

// Question is the comprehension check guarding one segment.
type Question struct {
	ID       string   `json:"id" yaml:"id" validate:"required"`
	Segment  int      `json:"segment" yaml:"segment" validate:"min=1"`
	Prompt   string   `json:"prompt" yaml:"prompt"`
	Answer   string   `json:"answer" yaml:"answer" validate:"required"`
	Accepted []string `json:"accepted,omitempty" yaml:"accepted,omitempty"`
}

// Matches reports whether answer equals the canonical or an accepted answer,
// ignoring surrounding whitespace and case.
func (q Question) Matches(answer string) bool {
	answer = normalize(answer)
	if answer == "" {
		return false
	}
	if answer == normalize(q.Answer) {
		return true
	}
	for _, accepted := range q.Accepted {
		if answer == normalize(accepted) {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// BookProvider looks up book metadata.
type BookProvider interface {
	Book(ctx context.Context, bookID string) (Book, error)
	// Books returns the books found among bookIDs. Unknown IDs are omitted.
	Books(ctx context.Context, bookIDs []string) (map[string]Book, error)
}

// QuestionCatalog looks up the question for a segment of a book.
type QuestionCatalog interface {
	Question(ctx context.Context, bookID string, segment int) (Question, error)
}
