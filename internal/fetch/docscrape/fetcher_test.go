package docscrape

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentionwatch/mentionwatch/internal/monitor"
)

const feedPayload = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Example Feed</title>
  <item>
    <title>Acme ships a great release</title>
    <description>The acme team outdid themselves</description>
    <link>https://example.com/posts/1</link>
    <guid>post-1</guid>
    <author>bob@example.com (Bob)</author>
    <pubDate>Mon, 02 Jun 2025 09:00:00 +0000</pubDate>
  </item>
  <item>
    <title>Unrelated gardening tips</title>
    <description>Nothing to see here</description>
    <link>https://example.com/posts/2</link>
    <guid>post-2</guid>
  </item>
</channel>
</rss>`

const htmlPayload = `<html><body>
<div class="result">
  <p class="snippet">Acme pricing is terrible lately</p>
  <span class="user">carol</span>
  <a href="https://forum.example.com/t/42">thread</a>
</div>
<div class="result">
  <p class="snippet">Thinking about switching to acme</p>
  <span class="user"></span>
  <a href="https://forum.example.com/t/43">thread</a>
</div>
<div class="result"></div>
</body></html>`

func scrapeConfig() Config {
	return Config{UserAgent: "test-bot/1.0", DomainRPS: 1000}
}

func job(t *testing.T, term string, maxResults int) monitor.FetchJob {
	t.Helper()
	j, err := monitor.NewFetchJob(monitor.Keyword{ID: "kw-1", Term: term}, maxResults)
	require.NoError(t, err)
	return j
}

func TestFeedFetchFiltersByTerm(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(feedPayload))
	}))
	defer srv.Close()

	f := NewFeed(scrapeConfig(), []Target{{Name: "example", URL: srv.URL}}, nil)
	got, err := f.Fetch(context.Background(), job(t, "acme", 10))
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "feed:post-1", got[0].DedupKey())
	assert.Contains(t, got[0].Content, "great release")
	assert.True(t, got[0].Engagement.Estimated)
	assert.False(t, got[0].PostedAt.IsZero())
}

func TestFeedFetchQueryTemplateSkipsFilter(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "acme", r.URL.Query().Get("q"))
		_, _ = w.Write([]byte(feedPayload))
	}))
	defer srv.Close()

	f := NewFeed(scrapeConfig(), []Target{{Name: "search-feed", URL: srv.URL + "/?q={query}"}}, nil)
	got, err := f.Fetch(context.Background(), job(t, "acme", 10))
	require.NoError(t, err)

	// A pre-filtered search feed keeps every item the source returned.
	assert.Len(t, got, 2)
}

func TestFeedFetchIsolatesFailingTarget(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(feedPayload))
	}))
	defer srv.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	f := NewFeed(scrapeConfig(), []Target{
		{Name: "down", URL: down.URL},
		{Name: "up", URL: srv.URL},
	}, nil)
	got, err := f.Fetch(context.Background(), job(t, "acme", 10))
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestFeedFetchAllTargetsFailing(t *testing.T) {
	t.Parallel()

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	f := NewFeed(scrapeConfig(), []Target{{Name: "down", URL: down.URL}}, nil)
	_, err := f.Fetch(context.Background(), job(t, "acme", 10))
	require.Error(t, err)
	assert.True(t, errors.Is(err, monitor.ErrSourceUnavailable))
}

func TestWebFetchExtractsItems(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(htmlPayload))
	}))
	defer srv.Close()

	f := NewWeb(scrapeConfig(), []Target{{
		Name:            "forum",
		URL:             srv.URL,
		ItemSelector:    "div.result",
		ContentSelector: "p.snippet",
		AuthorSelector:  "span.user",
	}}, nil)

	got, err := f.Fetch(context.Background(), job(t, "acme", 10))
	require.NoError(t, err)

	// The empty third item is skipped, not fabricated.
	require.Len(t, got, 2)
	assert.Equal(t, "carol", got[0].Author)
	assert.Equal(t, "unknown", got[1].Author)
	assert.Equal(t, "https://forum.example.com/t/42", got[0].URL)
	assert.True(t, got[0].Engagement.Estimated)
	assert.NotEqual(t, got[0].ExternalID, got[1].ExternalID)
}

func TestWebFetchSelectorDrift(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><div class="redesigned"></div></body></html>`))
	}))
	defer srv.Close()

	f := NewWeb(scrapeConfig(), []Target{{
		Name:         "forum",
		URL:          srv.URL,
		ItemSelector: "div.result",
	}}, nil)

	_, err := f.Fetch(context.Background(), job(t, "acme", 10))
	require.Error(t, err)
	assert.True(t, errors.Is(err, monitor.ErrSelectorMismatch))
}

func TestWebFetchStableExternalIDs(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(htmlPayload))
	}))
	defer srv.Close()

	target := Target{Name: "forum", URL: srv.URL, ItemSelector: "div.result", ContentSelector: "p.snippet"}
	f := NewWeb(scrapeConfig(), []Target{target}, nil)

	first, err := f.Fetch(context.Background(), job(t, "acme", 10))
	require.NoError(t, err)
	second, err := f.Fetch(context.Background(), job(t, "acme", 10))
	require.NoError(t, err)

	// Same content on a later run must produce the same dedup keys.
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].DedupKey(), second[i].DedupKey())
	}
}

func TestWebFetchRespectsMaxResults(t *testing.T) {
	t.Parallel()

	var page string
	for i := 0; i < 8; i++ {
		page += fmt.Sprintf(`<div class="result"><p class="snippet">acme item %d</p></div>`, i)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><body>" + page + "</body></html>"))
	}))
	defer srv.Close()

	f := NewWeb(scrapeConfig(), []Target{{
		Name: "forum", URL: srv.URL, ItemSelector: "div.result", ContentSelector: "p.snippet",
	}}, nil)
	got, err := f.Fetch(context.Background(), job(t, "acme", 3))
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestExpandURL(t *testing.T) {
	t.Parallel()

	got, prefiltered := expandURL("https://h.test/search?q={query}", "two words")
	assert.True(t, prefiltered)
	assert.Equal(t, "https://h.test/search?q=two+words", got)

	got, prefiltered = expandURL("https://h.test/feed.xml", "acme")
	assert.False(t, prefiltered)
	assert.Equal(t, "https://h.test/feed.xml", got)
}
