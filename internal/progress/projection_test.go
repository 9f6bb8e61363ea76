package progress

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/at-ishikawa/readingquest/internal/catalog"
	"github.com/at-ishikawa/readingquest/internal/ledger"
)

func TestProject(t *testing.T) {
	book := catalog.Book{ID: "dune", ExpectedSegments: 10, TotalPages: 300}

	tests := []struct {
		name      string
		validated int
		book      catalog.Book
		agg       ledger.Aggregate
		want      Projection
	}{
		{
			name:      "not started",
			validated: 0,
			book:      book,
			want:      Projection{BookID: "dune", TotalSegments: 10, NextSegmentPage: 30},
		},
		{
			name:      "one segment of ten",
			validated: 1,
			book:      book,
			want:      Projection{BookID: "dune", ValidatedSegmentCount: 1, TotalSegments: 10, ProgressPercent: 10, NextSegmentPage: 60},
		},
		{
			name:      "rounds half up",
			validated: 1,
			book:      catalog.Book{ID: "b", ExpectedSegments: 8, TotalPages: 240},
			want:      Projection{BookID: "b", ValidatedSegmentCount: 1, TotalSegments: 8, ProgressPercent: 13, NextSegmentPage: 60},
		},
		{
			name:      "clamped to total and completed",
			validated: 12,
			book:      book,
			want:      Projection{BookID: "dune", ValidatedSegmentCount: 10, TotalSegments: 10, ProgressPercent: 100, NextSegmentPage: 330, IsCompleted: true},
		},
		{
			name:      "explicit completion flag",
			validated: 4,
			book:      book,
			agg:       ledger.Aggregate{MarkedCompleted: true},
			want:      Projection{BookID: "dune", ValidatedSegmentCount: 4, TotalSegments: 10, ProgressPercent: 40, NextSegmentPage: 150, IsCompleted: true},
		},
		{
			name:      "word positions switch the unit",
			validated: 2,
			book:      book,
			agg:       ledger.Aggregate{Position: 15000},
			want:      Projection{BookID: "dune", ValidatedSegmentCount: 2, TotalSegments: 10, ProgressPercent: 20, NextSegmentPage: 22500},
		},
		{
			name:      "empty book",
			validated: 0,
			book:      catalog.Book{ID: "empty"},
			want:      Projection{BookID: "empty", NextSegmentPage: 30},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Project(tt.validated, tt.book, tt.agg))
		})
	}
}

func TestProject_PercentProperty(t *testing.T) {
	for total := 1; total <= 40; total++ {
		for validated := 0; validated <= total+3; validated++ {
			t.Run(fmt.Sprintf("%d of %d", validated, total), func(t *testing.T) {
				got := Project(validated, catalog.Book{ExpectedSegments: total}, ledger.Aggregate{})
				want := int(math.Round(float64(min(validated, total)) / float64(total) * 100))
				assert.Equal(t, want, got.ProgressPercent)
				assert.LessOrEqual(t, got.ValidatedSegmentCount, total)
			})
		}
	}
}

func TestDeriveAggregate(t *testing.T) {
	derive := DeriveAggregate(catalog.Book{ID: "dune", ExpectedSegments: 3, TotalPages: 90})
	prev := ledger.Aggregate{UserID: "u1", BookID: "dune", Status: ledger.StatusNotStarted, Position: 12}

	got := derive(1, prev)
	assert.Equal(t, ledger.Aggregate{
		UserID: "u1", BookID: "dune", ValidatedSegments: 1, CurrentPage: 60, Status: ledger.StatusReading, Position: 12,
	}, got)

	got = derive(3, got)
	assert.True(t, got.Completed)
	assert.Equal(t, ledger.StatusCompleted, got.Status)
	assert.Equal(t, 3, got.ValidatedSegments)

	t.Run("a marked book is completed only by its records", func(t *testing.T) {
		marked := ledger.Aggregate{UserID: "u1", BookID: "dune", Status: ledger.StatusCompleted, MarkedCompleted: true}

		got := derive(1, marked)
		assert.False(t, got.Completed)
		assert.True(t, got.MarkedCompleted)
		assert.Equal(t, ledger.StatusCompleted, got.Status)

		got = derive(3, got)
		assert.True(t, got.Completed)
	})
}
