package search

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mentionwatch/mentionwatch/internal/monitor"
)

type stubGuard struct {
	admit    bool
	recorded int
}

func (g *stubGuard) CanAdmit(string, int) bool {
	return g.admit
}

func (g *stubGuard) RecordUsage(_ string, n int) {
	g.recorded += n
}

func newTestFetcher(t *testing.T, endpoint string, guard Guard) *Fetcher {
	t.Helper()
	f, err := New(Config{
		Endpoint: endpoint,
		APIToken: "test-token",
		Timeout:  5 * time.Second,
	}, guard, zap.NewNop())
	require.NoError(t, err)
	return f
}

func testJob(t *testing.T, maxResults int) monitor.FetchJob {
	t.Helper()
	job, err := monitor.NewFetchJob(monitor.Keyword{ID: "kw-1", Term: "acme"}, maxResults)
	require.NoError(t, err)
	return job
}

const searchPayload = `{
	"data": [
		{
			"id": "1001",
			"text": "acme launch is great",
			"created_at": "2025-06-01T10:00:00Z",
			"lang": "en",
			"url": "https://example.com/1001",
			"author": {"username": "alice"},
			"public_metrics": {"like_count": 12, "share_count": 3, "reply_count": 1, "quote_count": 2, "impression_count": 900}
		},
		{"id": "", "text": "missing id"},
		{
			"id": "1003",
			"text": "acme support is terrible",
			"created_at": "2025-06-01T11:00:00Z",
			"author": {}
		}
	]
}`

func TestFetchDecodesItems(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "acme", r.URL.Query().Get("query"))
		assert.Equal(t, "10", r.URL.Query().Get("max_results"))
		_, _ = w.Write([]byte(searchPayload))
	}))
	defer srv.Close()

	guard := &stubGuard{admit: true}
	f := newTestFetcher(t, srv.URL, guard)

	got, err := f.Fetch(context.Background(), testJob(t, 10))
	require.NoError(t, err)

	// The malformed middle item is skipped, not fatal.
	require.Len(t, got, 2)
	assert.Equal(t, "search:1001", got[0].DedupKey())
	assert.Equal(t, "alice", got[0].Author)
	assert.Equal(t, int64(18), got[0].Engagement.Total())
	assert.False(t, got[0].Engagement.Estimated)
	assert.Equal(t, "unknown", got[1].Author)
	assert.Equal(t, 1, guard.recorded)
}

func TestFetchGuardDenialIsQuotaExceeded(t *testing.T) {
	t.Parallel()

	guard := &stubGuard{admit: false}
	f := newTestFetcher(t, "https://unreachable.invalid", guard)

	_, err := f.Fetch(context.Background(), testJob(t, 10))
	require.Error(t, err)
	assert.True(t, errors.Is(err, monitor.ErrQuotaExceeded))
	assert.Zero(t, guard.recorded, "denied call must not consume quota")
}

func TestFetchHTTP429IsQuotaExceeded(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL, &stubGuard{admit: true})
	_, err := f.Fetch(context.Background(), testJob(t, 10))
	assert.True(t, errors.Is(err, monitor.ErrQuotaExceeded))
}

func TestFetchAuthFailureIsFatal(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		}))
		f := newTestFetcher(t, srv.URL, &stubGuard{admit: true})
		_, err := f.Fetch(context.Background(), testJob(t, 10))
		assert.True(t, errors.Is(err, monitor.ErrMisconfiguredCredential), "status %d", status)
		srv.Close()
	}
}

func TestFetchServerErrorIsSourceUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL, &stubGuard{admit: true})
	_, err := f.Fetch(context.Background(), testJob(t, 10))
	assert.True(t, errors.Is(err, monitor.ErrSourceUnavailable))
}

func TestFetchRespectsMaxResults(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":[
			{"id":"1","text":"a"},{"id":"2","text":"b"},{"id":"3","text":"c"}
		]}`))
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL, &stubGuard{admit: true})
	got, err := f.Fetch(context.Background(), testJob(t, 2))
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Endpoint: "https://api.example.com"}, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, monitor.ErrMisconfiguredCredential))
}
