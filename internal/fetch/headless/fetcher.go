// Package headless implements the browser-rendered scrape fetcher using
// chromedp.
package headless

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/mentionwatch/mentionwatch/internal/monitor"
)

// queryPlaceholder marks where the target URL template receives the keyword.
const queryPlaceholder = "{query}"

// Config controls the behavior of the headless fetcher.
type Config struct {
	TargetURL         string
	ItemSelector      string
	ContentSelector   string
	AuthorSelector    string
	EngagementAttr    string
	MaxParallel       int
	NavigationTimeout time.Duration
	UserAgents        []string
}

type viewport struct {
	width  int64
	height int64
}

// Rotated per fetch to reduce automation detection.
var defaultViewports = []viewport{
	{1920, 1080},
	{1536, 864},
	{1366, 768},
	{1280, 800},
}

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
}

// Fetcher implements monitor.Fetcher using chromedp and headless Chrome.
type Fetcher struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	rotation    atomic.Uint64
	logger      *zap.Logger
}

// New creates a headless fetcher backed by chromedp. The exec allocator is
// owned by the fetcher; Close releases it.
func New(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.TargetURL == "" {
		return nil, fmt.Errorf("browser target url is required")
	}
	if cfg.ItemSelector == "" {
		return nil, fmt.Errorf("browser item selector is required")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = defaultUserAgents
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close cancels the allocator context.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Source identifies this fetcher in the orchestrator registry.
func (f *Fetcher) Source() monitor.SourceID {
	return monitor.SourceBrowser
}

// Fetch renders the target page for the keyword and extracts matching items.
// The browser tab context is released on every exit path.
func (f *Fetcher) Fetch(ctx context.Context, job monitor.FetchJob) ([]monitor.CandidateRecord, error) {
	if err := f.acquire(ctx); err != nil {
		return nil, err
	}
	defer f.release()

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.cfg.NavigationTimeout)
	defer cancel()

	html, err := f.render(taskCtx, job)
	if err != nil {
		return nil, err
	}

	records, err := extractItems(extractSpec{
		itemSelector:    f.cfg.ItemSelector,
		contentSelector: f.cfg.ContentSelector,
		authorSelector:  f.cfg.AuthorSelector,
		engagementAttr:  f.cfg.EngagementAttr,
		pageURL:         f.targetURL(job.Keyword.Term),
		maxResults:      job.MaxResults,
		logger:          f.logger,
	}, html)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (f *Fetcher) render(ctx context.Context, job monitor.FetchJob) (string, error) {
	ua, vp := f.nextIdentity()
	var html string
	actions := []chromedp.Action{
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := emulation.SetUserAgentOverride(ua).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
			if err := emulation.SetDeviceMetricsOverride(vp.width, vp.height, 1, false).Do(ctx); err != nil {
				return fmt.Errorf("set viewport: %w", err)
			}
			return nil
		}),
		chromedp.Navigate(f.targetURL(job.Keyword.Term)),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", fmt.Errorf("render %q: %w: %s", job.Keyword.Term, monitor.ErrSourceUnavailable, err)
	}
	return html, nil
}

func (f *Fetcher) targetURL(term string) string {
	return strings.ReplaceAll(f.cfg.TargetURL, queryPlaceholder, strings.ReplaceAll(term, " ", "+"))
}

// nextIdentity rotates through user agents and viewports per fetch.
func (f *Fetcher) nextIdentity() (string, viewport) {
	n := f.rotation.Add(1) - 1
	ua := f.cfg.UserAgents[n%uint64(len(f.cfg.UserAgents))]
	vp := defaultViewports[n%uint64(len(defaultViewports))]
	return ua, vp
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}
