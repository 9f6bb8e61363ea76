package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewFake(start)
	assert.Equal(t, start, c.Now())

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Advance(time.Minute)
		}()
	}
	wg.Wait()
	assert.Equal(t, start.Add(10*time.Minute), c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestDateOf(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	tests := []struct {
		name string
		t    time.Time
		loc  *time.Location
		want string
	}{
		{name: "utc", t: time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC), loc: time.UTC, want: "2026-03-01"},
		{name: "shifted into next day", t: time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC), loc: tokyo, want: "2026-03-02"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DateOf(tt.t, tt.loc))
		})
	}
}

func TestMonth(t *testing.T) {
	ts := time.Date(2026, 3, 31, 20, 0, 0, 0, time.UTC)
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	assert.Equal(t, "2026-03", MonthOf(ts, time.UTC))
	assert.Equal(t, "2026-04", MonthOf(ts, tokyo))
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, tokyo), StartOfMonth(ts, tokyo))
}
