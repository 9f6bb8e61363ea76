package gamification

import (
	"context"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/at-ishikawa/readingquest/internal/testutil"
)

func TestSQLStore_AddXP_Concurrent_ServerDB(t *testing.T) {
	testutil.RunOnServerDBs(t, func(t *testing.T, db *sqlx.DB) {
		ctx := context.Background()
		store := NewSQLStore(db)
		user := testutil.NewUserID()

		_, err := store.AddXP(ctx, user, 0)
		require.NoError(t, err)

		const workers = 10
		start := make(chan struct{})
		var wg sync.WaitGroup
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := store.AddXP(ctx, user, XPPerSegment)
				assert.NoError(t, err)
			}()
		}
		close(start)
		wg.Wait()

		stats, err := store.Stats(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, Stats{XP: workers * XPPerSegment, Level: LevelFor(workers * XPPerSegment)}, stats)
	})
}
