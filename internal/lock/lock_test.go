package lock

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/at-ishikawa/readingquest/internal/testutil"
)

func TestManager_LockLifecycle(t *testing.T) {
	ctx := context.Background()
	clk := testutil.NewClock()
	m := NewManager(testutil.NewSQLiteDB(t), clk, 10*time.Minute)
	key := Key{UserID: "u1", BookID: "dune", Segment: 2}

	status, err := m.Check(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, Status{}, status)

	for attempt := 1; attempt < MaxAttempts; attempt++ {
		got, err := m.RecordFailure(ctx, key, false, "")
		require.NoError(t, err)
		assert.False(t, got.Locked)
		assert.Equal(t, attempt, got.Attempts)
		assert.Equal(t, MaxAttempts-attempt, got.AttemptsRemaining())
	}

	got, err := m.RecordFailure(ctx, key, false, "")
	require.NoError(t, err)
	assert.True(t, got.Locked)
	assert.Equal(t, 600, got.RemainingSeconds)
	assert.Zero(t, got.AttemptsRemaining())

	clk.Advance(4*time.Minute + 500*time.Millisecond)
	status, err = m.Check(ctx, key)
	require.NoError(t, err)
	assert.True(t, status.Locked)
	assert.Equal(t, 360, status.RemainingSeconds)

	readOnly, err := m.Status(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, status, readOnly)

	clk.Advance(6 * time.Minute)
	readOnly, err = m.Status(ctx, key)
	require.NoError(t, err)
	assert.False(t, readOnly.Locked)

	status, err = m.Check(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, Status{}, status)

	t.Run("counter restarts after expiry", func(t *testing.T) {
		got, err := m.RecordFailure(ctx, key, false, "")
		require.NoError(t, err)
		assert.Equal(t, 1, got.Attempts)
		assert.False(t, got.Locked)
	})
}

func TestManager_RecordFailure_ExpiredLockWithoutCheck(t *testing.T) {
	ctx := context.Background()
	clk := testutil.NewClock()
	m := NewManager(testutil.NewSQLiteDB(t), clk, time.Minute)
	key := Key{UserID: "u1", BookID: "dune", Segment: 1}

	for range MaxAttempts {
		_, err := m.RecordFailure(ctx, key, false, "")
		require.NoError(t, err)
	}

	t.Run("failures while locked do not extend the lock", func(t *testing.T) {
		clk.Advance(30 * time.Second)
		got, err := m.RecordFailure(ctx, key, false, "")
		require.NoError(t, err)
		assert.True(t, got.Locked)
		assert.Equal(t, 30, got.RemainingSeconds)
		assert.Equal(t, MaxAttempts, got.Attempts)
	})

	clk.Advance(time.Minute)
	got, err := m.RecordFailure(ctx, key, false, "")
	require.NoError(t, err)
	assert.False(t, got.Locked)
	assert.Equal(t, 1, got.Attempts)
}

func TestManager_RecordFailure_JokerOffered(t *testing.T) {
	ctx := context.Background()
	m := NewManager(testutil.NewSQLiteDB(t), testutil.NewClock(), 10*time.Minute)
	key := Key{UserID: "u1", BookID: "dune", Segment: 3}

	for range MaxAttempts {
		got, err := m.RecordFailure(ctx, key, true, "")
		require.NoError(t, err)
		assert.False(t, got.Locked)
	}

	status, err := m.Check(ctx, key)
	require.NoError(t, err)
	assert.False(t, status.Locked)
	assert.Equal(t, MaxAttempts, status.Attempts)

	got, err := m.RecordFailure(ctx, key, true, "")
	require.NoError(t, err)
	assert.True(t, got.Locked)
	assert.Equal(t, 600, got.RemainingSeconds)

	got, err = m.RecordFailure(ctx, key, true, "")
	require.NoError(t, err)
	assert.True(t, got.Locked)
	assert.Equal(t, MaxAttempts+1, got.Attempts)
}

func TestManager_RecordFailure_IdempotencyKey(t *testing.T) {
	ctx := context.Background()
	m := NewManager(testutil.NewSQLiteDB(t), testutil.NewClock(), 10*time.Minute)
	key := Key{UserID: "u1", BookID: "dune", Segment: 1}

	first, err := m.RecordFailure(ctx, key, false, "submit-1")
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.Equal(t, 1, first.Attempts)

	retry, err := m.RecordFailure(ctx, key, false, "submit-1")
	require.NoError(t, err)
	assert.True(t, retry.Duplicate)
	assert.Equal(t, 1, retry.Attempts)

	second, err := m.RecordFailure(ctx, key, false, "submit-2")
	require.NoError(t, err)
	assert.Equal(t, 2, second.Attempts)
}

func TestManager_Reset(t *testing.T) {
	ctx := context.Background()
	m := NewManager(testutil.NewSQLiteDB(t), testutil.NewClock(), 10*time.Minute)
	key := Key{UserID: "u1", BookID: "dune", Segment: 1}

	_, err := m.RecordFailure(ctx, key, false, "")
	require.NoError(t, err)
	require.NoError(t, m.Reset(ctx, key))

	status, err := m.Status(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, Status{}, status)
}

func TestRemainingSeconds(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		until time.Time
		want  int
	}{
		{name: "whole seconds", until: now.Add(90 * time.Second), want: 90},
		{name: "rounds up", until: now.Add(89*time.Second + time.Millisecond), want: 90},
		{name: "at least one", until: now.Add(time.Millisecond), want: 1},
		{name: "past still reports one", until: now.Add(-time.Second), want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RemainingSeconds(tt.until, now))
		})
	}
}

func TestManager_RecordFailure_SQL(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock sqlmock.Sqlmock)
		wantErr   string
	}{
		{
			name: "locks the row on postgres",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO attempt_locks (.+) ON CONFLICT \\(user_id, book_id, segment\\) DO UPDATE SET user_id = EXCLUDED.user_id").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectQuery("SELECT attempt_count, locked_until FROM attempt_locks WHERE user_id = \\$1 AND book_id = \\$2 AND segment = \\$3 FOR UPDATE").
					WithArgs("u1", "dune", 1).
					WillReturnRows(sqlmock.NewRows([]string{"attempt_count", "locked_until"}).AddRow(0, nil))
				mock.ExpectExec("UPDATE attempt_locks SET attempt_count = \\$1").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "update failure rolls back",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO attempt_locks").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery("SELECT attempt_count, locked_until FROM attempt_locks").
					WillReturnRows(sqlmock.NewRows([]string{"attempt_count", "locked_until"}).AddRow(1, nil))
				mock.ExpectExec("UPDATE attempt_locks").WillReturnError(fmt.Errorf("deadlock detected"))
				mock.ExpectRollback()
			},
			wantErr: "deadlock detected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			m := NewManager(sqlx.NewDb(db, "postgres"), testutil.NewClock(), time.Minute)
			tt.setupMock(mock)

			_, err = m.RecordFailure(context.Background(), Key{UserID: "u1", BookID: "dune", Segment: 1}, false, "")
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
