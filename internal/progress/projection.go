// Package progress derives reading progress from the ledger and caches it.
package progress

import (
	"math"

	"github.com/at-ishikawa/readingquest/internal/catalog"
	"github.com/at-ishikawa/readingquest/internal/ledger"
)

// Segment sizes in the two length units a reading position can be reported in.
const (
	PageUnit = 30
	WordUnit = 7500
)

// Projection is the derived progress of a user through a book.
type Projection struct {
	BookID                string `json:"book_id"`
	ValidatedSegmentCount int    `json:"validated_segment_count"`
	TotalSegments         int    `json:"total_segments"`
	ProgressPercent       int    `json:"progress_percent"`
	NextSegmentPage       int    `json:"next_segment_page"`
	IsCompleted           bool   `json:"is_completed"`
}

// Project is the only way a Projection is built.
func Project(validated int, book catalog.Book, agg ledger.Aggregate) Projection {
	total := book.ExpectedSegments
	count := min(validated, total)

	percent := 0
	if total > 0 {
		percent = int(math.Round(float64(count) / float64(total) * 100))
	}

	return Projection{
		BookID:                book.ID,
		ValidatedSegmentCount: count,
		TotalSegments:         total,
		ProgressPercent:       percent,
		NextSegmentPage:       (count + 1) * UnitSize(book, agg),
		IsCompleted:           (total > 0 && validated >= total) || agg.Completed || agg.MarkedCompleted,
	}
}

// UnitSize is WordUnit once the recorded position is beyond the book's page count,
// which only happens when the reader reports word offsets.
func UnitSize(book catalog.Book, agg ledger.Aggregate) int {
	if book.TotalPages > 0 && agg.Position > book.TotalPages {
		return WordUnit
	}
	return PageUnit
}

// DeriveAggregate keeps the stored aggregate a pure function of the ledger count.
func DeriveAggregate(book catalog.Book) ledger.DeriveFunc {
	return func(validatedCount int, prev ledger.Aggregate) ledger.Aggregate {
		projection := Project(validatedCount, book, prev)

		next := prev
		next.ValidatedSegments = validatedCount
		next.CurrentPage = projection.NextSegmentPage
		next.Completed = prev.Completed || (book.ExpectedSegments > 0 && validatedCount >= book.ExpectedSegments)
		switch {
		case projection.IsCompleted:
			next.Status = ledger.StatusCompleted
		case validatedCount > 0:
			next.Status = ledger.StatusReading
		default:
			next.Status = ledger.StatusNotStarted
		}
		return next
	}
}
