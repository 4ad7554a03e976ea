// Package docscrape implements plain HTTP scrape fetchers over feeds and
// selector-driven pages.
package docscrape

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"

	"github.com/mentionwatch/mentionwatch/internal/monitor"
)

// queryPlaceholder marks where a target URL template receives the keyword.
const queryPlaceholder = "{query}"

// Target describes one scrape origin.
type Target struct {
	Name            string
	URL             string
	ItemSelector    string
	ContentSelector string
	AuthorSelector  string
}

// Config controls collector behavior shared by the scrape fetchers.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	DomainRPS float64
}

// client wraps a colly collector with per-domain politeness limiting.
type client struct {
	cfg           Config
	baseCollector *colly.Collector

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newClient(cfg Config) *client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.DomainRPS <= 0 {
		cfg.DomainRPS = 2
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = false
	// Targets are re-fetched every cycle by design.
	c.AllowURLRevisit = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.SetRequestTimeout(cfg.Timeout)
	return &client{
		cfg:           cfg,
		baseCollector: c,
		limiters:      make(map[string]*rate.Limiter),
	}
}

// get fetches one URL and returns the raw body. Transport failures map to
// ErrSourceUnavailable so the orchestrator isolates them per source.
func (c *client) get(ctx context.Context, rawURL string) ([]byte, error) {
	if err := c.waitDomain(ctx, rawURL); err != nil {
		return nil, err
	}

	var (
		body     []byte
		fetchErr error
	)
	collector := c.baseCollector.Clone()
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("scrape fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("visit %s: %w: %s", rawURL, monitor.ErrSourceUnavailable, err)
		}
		if fetchErr != nil {
			return nil, fmt.Errorf("fetch %s: %w: %s", rawURL, monitor.ErrSourceUnavailable, fetchErr)
		}
	}
	return body, nil
}

func (c *client) waitDomain(ctx context.Context, rawURL string) error {
	domain := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		domain = u.Hostname()
	}
	c.mu.Lock()
	limiter, ok := c.limiters[domain]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(c.cfg.DomainRPS), 1)
		c.limiters[domain] = limiter
	}
	c.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("domain rate wait: %w", err)
	}
	return nil
}

// expandURL substitutes the keyword into a target URL template. Templates
// without a placeholder are fetched as-is and filtered afterwards.
func expandURL(template, term string) (string, bool) {
	if !strings.Contains(template, queryPlaceholder) {
		return template, false
	}
	return strings.ReplaceAll(template, queryPlaceholder, url.QueryEscape(term)), true
}

// mentionsTerm reports whether text mentions the keyword, case-insensitively.
func mentionsTerm(text, term string) bool {
	return strings.Contains(strings.ToLower(text), strings.ToLower(term))
}
