package catalog

import (
	"context"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Books []bookEntry `yaml:"books" validate:"dive"`
}

type bookEntry struct {
	Book      `yaml:",inline"`
	Questions []Question `yaml:"questions" validate:"dive"`
}

// YAMLCatalog serves books and questions loaded from a YAML file.
type YAMLCatalog struct {
	books     map[string]Book
	questions map[string]map[int]Question
}

// LoadYAMLCatalog reads and validates a catalog file.
func LoadYAMLCatalog(path string) (*YAMLCatalog, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("os.ReadFile(%s) > %w", path, err)
	}
	return ParseYAMLCatalog(content)
}

func ParseYAMLCatalog(content []byte) (*YAMLCatalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("yaml.Unmarshal > %w", err)
	}
	if err := validator.New().Struct(file); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}

	c := &YAMLCatalog{
		books:     make(map[string]Book, len(file.Books)),
		questions: make(map[string]map[int]Question, len(file.Books)),
	}
	for _, entry := range file.Books {
		if _, ok := c.books[entry.ID]; ok {
			return nil, fmt.Errorf("duplicate book %q", entry.ID)
		}
		c.books[entry.ID] = entry.Book

		bySegment := make(map[int]Question, len(entry.Questions))
		for _, q := range entry.Questions {
			if entry.ExpectedSegments > 0 && q.Segment > entry.ExpectedSegments {
				return nil, fmt.Errorf("book %q: question %q is for segment %d beyond %d segments",
					entry.ID, q.ID, q.Segment, entry.ExpectedSegments)
			}
			if _, ok := bySegment[q.Segment]; ok {
				return nil, fmt.Errorf("book %q: duplicate question for segment %d", entry.ID, q.Segment)
			}
			bySegment[q.Segment] = q
		}
		c.questions[entry.ID] = bySegment
	}
	return c, nil
}

func (c *YAMLCatalog) Book(_ context.Context, bookID string) (Book, error) {
	book, ok := c.books[bookID]
	if !ok {
		return Book{}, fmt.Errorf("book %q: %w", bookID, ErrNotFound)
	}
	return book, nil
}

func (c *YAMLCatalog) Books(_ context.Context, bookIDs []string) (map[string]Book, error) {
	result := make(map[string]Book, len(bookIDs))
	for _, id := range bookIDs {
		if book, ok := c.books[id]; ok {
			result[id] = book
		}
	}
	return result, nil
}

func (c *YAMLCatalog) Question(_ context.Context, bookID string, segment int) (Question, error) {
	q, ok := c.questions[bookID][segment]
	if !ok {
		return Question{}, fmt.Errorf("question for book %q segment %d: %w", bookID, segment, ErrNotFound)
	}
	return q, nil
}
