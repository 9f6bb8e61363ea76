package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/at-ishikawa/readingquest/internal/backoff"
	"github.com/at-ishikawa/readingquest/internal/catalog"
	"github.com/at-ishikawa/readingquest/internal/ledger"
)

// Ledger is the read side of the ledger used for projections.
type Ledger interface {
	Count(ctx context.Context, userID, bookID string) (int, error)
	Aggregate(ctx context.Context, userID, bookID string) (ledger.Aggregate, error)
	CountByBooks(ctx context.Context, userID string, bookIDs []string) (map[string]int, error)
	Aggregates(ctx context.Context, userID string, bookIDs []string) (map[string]ledger.Aggregate, error)
}

type Projector struct {
	reader Ledger
	books  catalog.BookProvider
	cache  Cache[Projection]
	ttl    time.Duration
	retry  backoff.Policy
	group  singleflight.Group
	logger *slog.Logger
}

type Option func(*Projector)

func WithRetry(policy backoff.Policy) Option {
	return func(p *Projector) { p.retry = policy }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Projector) { p.logger = logger }
}

func NewProjector(reader Ledger, books catalog.BookProvider, cache Cache[Projection], ttl time.Duration, opts ...Option) *Projector {
	p := &Projector{
		reader: reader,
		books:  books,
		cache:  cache,
		ttl:    ttl,
		retry:  backoff.Policy{Attempts: 1},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func cacheKey(userID, bookID string) string {
	return userID + "/" + bookID
}

// Invalidate drops the cached projection of a book. Every ledger write calls it
// before returning to its caller.
func (p *Projector) Invalidate(userID, bookID string) {
	p.cache.Invalidate(cacheKey(userID, bookID))
}

// Purge drops expired cache entries.
func (p *Projector) Purge() int {
	return p.cache.Purge()
}

// Get returns the projection of one book, from cache when fresh.
func (p *Projector) Get(ctx context.Context, userID, bookID string) (Projection, error) {
	key := cacheKey(userID, bookID)
	if projection, ok := p.cache.Get(key); ok {
		return projection, nil
	}

	generation := p.cache.Generation(key)
	v, err, _ := p.group.Do(fmt.Sprintf("%s#%d", key, generation), func() (any, error) {
		var projection Projection
		err := p.retry.Do(ctx, func(ctx context.Context) error {
			book, err := p.books.Book(ctx, bookID)
			if errors.Is(err, catalog.ErrNotFound) {
				return backoff.Permanent(err)
			}
			if err != nil {
				return fmt.Errorf("books.Book > %w", err)
			}
			count, err := p.reader.Count(ctx, userID, bookID)
			if err != nil {
				return err
			}
			agg, err := p.reader.Aggregate(ctx, userID, bookID)
			if err != nil {
				return err
			}
			projection = Project(count, book, agg)
			return nil
		})
		if err != nil {
			return Projection{}, err
		}
		p.cache.SetIfGeneration(key, projection, p.ttl, generation)
		return projection, nil
	})
	if err != nil {
		return Projection{}, err
	}
	return v.(Projection), nil
}

// GetLibrary returns projections for many books in the order given. Cache misses
// are loaded with one batched count query and one batched aggregate query.
// Books unknown to the catalog are skipped.
func (p *Projector) GetLibrary(ctx context.Context, userID string, bookIDs []string) ([]Projection, error) {
	found := make(map[string]Projection, len(bookIDs))
	generations := make(map[string]uint64)
	var missing []string
	for _, bookID := range bookIDs {
		if _, seen := found[bookID]; seen {
			continue
		}
		if _, seen := generations[bookID]; seen {
			continue
		}
		key := cacheKey(userID, bookID)
		if projection, ok := p.cache.Get(key); ok {
			found[bookID] = projection
			continue
		}
		generations[bookID] = p.cache.Generation(key)
		missing = append(missing, bookID)
	}

	if len(missing) > 0 {
		var (
			books  map[string]catalog.Book
			counts map[string]int
			aggs   map[string]ledger.Aggregate
		)
		err := p.retry.Do(ctx, func(ctx context.Context) error {
			var err error
			if books, err = p.books.Books(ctx, missing); err != nil {
				return fmt.Errorf("books.Books > %w", err)
			}
			if counts, err = p.reader.CountByBooks(ctx, userID, missing); err != nil {
				return err
			}
			if aggs, err = p.reader.Aggregates(ctx, userID, missing); err != nil {
				return err
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		for _, bookID := range missing {
			book, ok := books[bookID]
			if !ok {
				p.logger.Debug("skipping book unknown to the catalog", "user", userID, "book", bookID)
				continue
			}
			agg, ok := aggs[bookID]
			if !ok {
				agg = ledger.Aggregate{UserID: userID, BookID: bookID, Status: ledger.StatusNotStarted}
			}
			projection := Project(counts[bookID], book, agg)
			p.cache.SetIfGeneration(cacheKey(userID, bookID), projection, p.ttl, generations[bookID])
			found[bookID] = projection
		}
	}

	projections := make([]Projection, 0, len(found))
	emitted := make(map[string]bool, len(found))
	for _, bookID := range bookIDs {
		projection, ok := found[bookID]
		if !ok || emitted[bookID] {
			continue
		}
		emitted[bookID] = true
		projections = append(projections, projection)
	}
	return projections, nil
}
