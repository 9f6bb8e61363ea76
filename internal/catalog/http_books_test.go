package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPBookProvider_Book(t *testing.T) {
	tests := []struct {
		name      string
		handler   func(calls int32, w http.ResponseWriter, r *http.Request)
		want      Book
		wantCalls int32
		wantErr   string
		notFound  bool
	}{
		{
			name: "returns book",
			handler: func(_ int32, w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/books/dune", r.URL.Path)
				writeJSON(w, http.StatusOK, Book{ID: "dune", Title: "Dune", ExpectedSegments: 10, TotalPages: 300})
			},
			want:      Book{ID: "dune", Title: "Dune", ExpectedSegments: 10, TotalPages: 300},
			wantCalls: 1,
		},
		{
			name: "retries server errors",
			handler: func(calls int32, w http.ResponseWriter, r *http.Request) {
				if calls == 1 {
					w.WriteHeader(http.StatusServiceUnavailable)
					return
				}
				writeJSON(w, http.StatusOK, Book{ID: "dune", ExpectedSegments: 10})
			},
			want:      Book{ID: "dune", ExpectedSegments: 10},
			wantCalls: 2,
		},
		{
			name: "not found is not retried",
			handler: func(_ int32, w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
			wantCalls: 1,
			notFound:  true,
		},
		{
			name: "gives up after attempts",
			handler: func(_ int32, w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			wantCalls: 3,
			wantErr:   "response error 500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				tt.handler(calls.Add(1), w, r)
			}))
			defer server.Close()

			provider := NewHTTPBookProvider(server.URL, 2, time.Millisecond)
			defer provider.Close()

			got, err := provider.Book(context.Background(), "dune")
			assert.Equal(t, tt.wantCalls, calls.Load())
			if tt.notFound {
				assert.ErrorIs(t, err, ErrNotFound)
				return
			}
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHTTPBookProvider_Books(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/books", r.URL.Path)
		assert.Equal(t, "dune,emma", r.URL.Query().Get("ids"))
		writeJSON(w, http.StatusOK, map[string][]Book{
			"books": {{ID: "dune", ExpectedSegments: 10}, {ID: "emma", ExpectedSegments: 12}},
		})
	}))
	defer server.Close()

	provider := NewHTTPBookProvider(server.URL+"/", 0, time.Millisecond)
	defer provider.Close()

	got, err := provider.Books(context.Background(), []string{"dune", "emma"})
	require.NoError(t, err)
	assert.Equal(t, map[string]Book{
		"dune": {ID: "dune", ExpectedSegments: 10},
		"emma": {ID: "emma", ExpectedSegments: 12},
	}, got)

	empty, err := provider.Books(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
