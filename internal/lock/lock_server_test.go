package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/at-ishikawa/readingquest/internal/testutil"
)

func TestManager_RecordFailure_Concurrent_ServerDB(t *testing.T) {
	testutil.RunOnServerDBs(t, func(t *testing.T, db *sqlx.DB) {
		ctx := context.Background()
		m := NewManager(db, testutil.NewClock(), 10*time.Minute)
		key := Key{UserID: testutil.NewUserID(), BookID: "dune", Segment: 1}

		_, err := m.RecordFailure(ctx, key, false, "")
		require.NoError(t, err)

		const workers = MaxAttempts - 1
		start := make(chan struct{})
		var wg sync.WaitGroup
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := m.RecordFailure(ctx, key, false, "")
				assert.NoError(t, err)
			}()
		}
		close(start)
		wg.Wait()

		status, err := m.Check(ctx, key)
		require.NoError(t, err)
		assert.True(t, status.Locked)
		assert.Equal(t, MaxAttempts, status.Attempts)
	})
}
