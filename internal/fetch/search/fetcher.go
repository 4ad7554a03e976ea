// Package search implements the authenticated search endpoint fetcher.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/mentionwatch/mentionwatch/internal/monitor"
)

// EndpointClass is the rate limit guard bucket all search calls share.
const EndpointClass = "search"

// Guard admits or denies calls against the endpoint quota.
type Guard interface {
	CanAdmit(class string, n int) bool
	RecordUsage(class string, n int)
}

// Config controls search fetcher behavior.
type Config struct {
	Endpoint string
	APIToken string
	Timeout  time.Duration
}

// Fetcher implements monitor.Fetcher against a bearer-token search API.
type Fetcher struct {
	cfg    Config
	guard  Guard
	client *http.Client
	logger *zap.Logger
}

// New builds a search Fetcher.
func New(cfg Config, guard Guard, logger *zap.Logger) (*Fetcher, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("search endpoint is required")
	}
	if cfg.APIToken == "" {
		return nil, fmt.Errorf("search api token: %w", monitor.ErrMisconfiguredCredential)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:    cfg,
		guard:  guard,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}, nil
}

// Source identifies this fetcher in the orchestrator registry.
func (f *Fetcher) Source() monitor.SourceID {
	return monitor.SourceSearch
}

// Fetch queries the search endpoint for recent mentions of the keyword. A
// guard denial or an upstream 429 surfaces as ErrQuotaExceeded so the
// orchestrator can skip this cycle instead of treating it as a hard failure.
func (f *Fetcher) Fetch(ctx context.Context, job monitor.FetchJob) ([]monitor.CandidateRecord, error) {
	if f.guard != nil && !f.guard.CanAdmit(EndpointClass, 1) {
		return nil, fmt.Errorf("search admission denied for %q: %w", job.Keyword.Term, monitor.ErrQuotaExceeded)
	}

	req, err := f.buildRequest(ctx, job)
	if err != nil {
		return nil, err
	}
	if f.guard != nil {
		f.guard.RecordUsage(EndpointClass, 1)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request for %q: %w: %s", job.Keyword.Term, monitor.ErrSourceUnavailable, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			f.logger.Warn("close search response body", zap.Error(closeErr))
		}
	}()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("search endpoint throttled: %w", monitor.ErrQuotaExceeded)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("search endpoint rejected token (status %d): %w",
			resp.StatusCode, monitor.ErrMisconfiguredCredential)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("search endpoint status %d: %w", resp.StatusCode, monitor.ErrSourceUnavailable)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	return f.decode(body, job)
}

func (f *Fetcher) buildRequest(ctx context.Context, job monitor.FetchJob) (*http.Request, error) {
	u, err := url.Parse(f.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse search endpoint: %w", err)
	}
	q := u.Query()
	q.Set("query", job.Keyword.Term)
	q.Set("max_results", strconv.Itoa(job.MaxResults))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+f.cfg.APIToken)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

type searchEnvelope struct {
	Data []json.RawMessage `json:"data"`
}

type searchItem struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
	Lang      string `json:"lang"`
	URL       string `json:"url"`
	Author    struct {
		Username string `json:"username"`
	} `json:"author"`
	PublicMetrics struct {
		LikeCount       int64 `json:"like_count"`
		ShareCount      int64 `json:"share_count"`
		ReplyCount      int64 `json:"reply_count"`
		QuoteCount      int64 `json:"quote_count"`
		ImpressionCount int64 `json:"impression_count"`
	} `json:"public_metrics"`
}

// decode converts the response payload item by item; one malformed item is
// skipped, not fatal for the batch.
func (f *Fetcher) decode(body []byte, job monitor.FetchJob) ([]monitor.CandidateRecord, error) {
	var envelope searchEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode search envelope: %w", err)
	}

	records := make([]monitor.CandidateRecord, 0, len(envelope.Data))
	for i, raw := range envelope.Data {
		var item searchItem
		if err := json.Unmarshal(raw, &item); err != nil {
			f.logger.Warn("skip malformed search item",
				zap.String("keyword", job.Keyword.Term),
				zap.Int("index", i),
				zap.Error(err),
			)
			continue
		}
		if item.ID == "" || item.Text == "" {
			f.logger.Warn("skip search item missing id or text",
				zap.String("keyword", job.Keyword.Term),
				zap.Int("index", i),
			)
			continue
		}
		records = append(records, f.toCandidate(item))
		if len(records) >= job.MaxResults {
			break
		}
	}
	return records, nil
}

func (f *Fetcher) toCandidate(item searchItem) monitor.CandidateRecord {
	postedAt, err := time.Parse(time.RFC3339, item.CreatedAt)
	if err != nil {
		postedAt = time.Time{}
	}
	author := item.Author.Username
	if author == "" {
		author = "unknown"
	}
	return monitor.CandidateRecord{
		Source:     monitor.SourceSearch,
		ExternalID: item.ID,
		Author:     author,
		Content:    item.Text,
		PostedAt:   postedAt,
		URL:        item.URL,
		Language:   item.Lang,
		Engagement: monitor.EngagementCounts{
			Likes:       item.PublicMetrics.LikeCount,
			Shares:      item.PublicMetrics.ShareCount,
			Replies:     item.PublicMetrics.ReplyCount,
			Quotes:      item.PublicMetrics.QuoteCount,
			Impressions: item.PublicMetrics.ImpressionCount,
		},
	}
}
