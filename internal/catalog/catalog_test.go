package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCatalog = `books:
  - id: dune
    title: Dune
    expected_segments: 10
    total_pages: 300
    total_words: 75000
    questions:
      - id: dune-1
        segment: 1
        prompt: What is the desert planet called?
        answer: Arrakis
        accepted: [Dune]
      - id: dune-2
        segment: 2
        prompt: Who is Paul's mother?
        answer: Lady Jessica
  - id: pamphlet
    title: A Short Pamphlet
    expected_segments: 2
    total_pages: 40
    questions:
      - id: pamphlet-1
        segment: 1
        answer: tea
`

func TestQuestion_Matches(t *testing.T) {
	q := Question{ID: "q", Answer: "Lady Jessica", Accepted: []string{"Jessica"}}

	tests := []struct {
		name   string
		answer string
		want   bool
	}{
		{name: "exact", answer: "Lady Jessica", want: true},
		{name: "case and spacing", answer: "  lady   JESSICA ", want: true},
		{name: "accepted alternative", answer: "jessica", want: true},
		{name: "wrong", answer: "Chani", want: false},
		{name: "blank", answer: "   ", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, q.Matches(tt.answer))
		})
	}
}

func TestLoadYAMLCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yml")
	require.NoError(t, os.WriteFile(path, []byte(testCatalog), 0644))

	c, err := LoadYAMLCatalog(path)
	require.NoError(t, err)
	ctx := context.Background()

	book, err := c.Book(ctx, "dune")
	require.NoError(t, err)
	assert.Equal(t, Book{ID: "dune", Title: "Dune", ExpectedSegments: 10, TotalPages: 300, TotalWords: 75000}, book)

	_, err = c.Book(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	books, err := c.Books(ctx, []string{"dune", "missing", "pamphlet"})
	require.NoError(t, err)
	assert.Len(t, books, 2)
	assert.Equal(t, 2, books["pamphlet"].ExpectedSegments)

	q, err := c.Question(ctx, "dune", 1)
	require.NoError(t, err)
	assert.Equal(t, "dune-1", q.ID)
	assert.True(t, q.Matches("dune"))

	_, err = c.Question(ctx, "dune", 3)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = c.Question(ctx, "missing", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestParseYAMLCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "malformed yaml",
			content: "books: [[[",
			wantErr: "yaml.Unmarshal",
		},
		{
			name: "missing answer",
			content: `books:
  - id: b
    expected_segments: 3
    questions:
      - id: q1
        segment: 1
`,
			wantErr: "invalid catalog",
		},
		{
			name: "segment beyond book",
			content: `books:
  - id: b
    expected_segments: 3
    questions:
      - id: q4
        segment: 4
        answer: x
`,
			wantErr: "beyond 3 segments",
		},
		{
			name: "duplicate segment",
			content: `books:
  - id: b
    expected_segments: 3
    questions:
      - {id: q1, segment: 1, answer: x}
      - {id: q1b, segment: 1, answer: y}
`,
			wantErr: "duplicate question",
		},
		{
			name: "duplicate book",
			content: `books:
  - id: b
  - id: b
`,
			wantErr: "duplicate book",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseYAMLCatalog([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
