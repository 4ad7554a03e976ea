package docscrape

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/mentionwatch/mentionwatch/internal/hash/sha256"
	"github.com/mentionwatch/mentionwatch/internal/monitor"
)

// WebFetcher scans selector-driven HTML targets for keyword mentions.
type WebFetcher struct {
	client  *client
	targets []Target
	hasher  *sha256.Hasher
	logger  *zap.Logger
}

// NewWeb builds a WebFetcher over the configured HTML targets.
func NewWeb(cfg Config, targets []Target, logger *zap.Logger) *WebFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebFetcher{
		client:  newClient(cfg),
		targets: targets,
		hasher:  sha256.New(),
		logger:  logger,
	}
}

// Source identifies this fetcher in the orchestrator registry.
func (f *WebFetcher) Source() monitor.SourceID {
	return monitor.SourceWeb
}

// Fetch scans every configured HTML target. Selector drift on one target is
// reported distinctly so operators notice staleness, but it never drops the
// records other targets produced.
func (f *WebFetcher) Fetch(ctx context.Context, job monitor.FetchJob) ([]monitor.CandidateRecord, error) {
	if len(f.targets) == 0 {
		return nil, nil
	}

	var (
		records  []monitor.CandidateRecord
		failures int
		lastErr  error
	)
	for _, target := range f.targets {
		items, err := f.fetchTarget(ctx, target, job)
		if err != nil {
			failures++
			lastErr = err
			f.logger.Warn("web target failed",
				zap.String("target", target.Name),
				zap.String("keyword", job.Keyword.Term),
				zap.Error(err),
			)
			continue
		}
		records = append(records, items...)
		if len(records) >= job.MaxResults {
			records = records[:job.MaxResults]
			break
		}
	}
	if failures == len(f.targets) {
		return nil, fmt.Errorf("all %d web targets failed: %w", failures, lastErr)
	}
	return records, nil
}

func (f *WebFetcher) fetchTarget(ctx context.Context, target Target, job monitor.FetchJob) ([]monitor.CandidateRecord, error) {
	fetchURL, prefiltered := expandURL(target.URL, job.Keyword.Term)
	body, err := f.client.get(ctx, fetchURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html %s: %w: %s", target.Name, monitor.ErrSourceUnavailable, err)
	}

	selection := doc.Find(target.ItemSelector)
	if selection.Length() == 0 {
		return nil, fmt.Errorf("target %s item selector %q matched nothing: %w",
			target.Name, target.ItemSelector, monitor.ErrSelectorMismatch)
	}

	var records []monitor.CandidateRecord
	selection.Each(func(i int, item *goquery.Selection) {
		record, ok := f.extractItem(target, item, fetchURL)
		if !ok {
			f.logger.Debug("skip unextractable item",
				zap.String("target", target.Name),
				zap.Int("index", i),
			)
			return
		}
		if !prefiltered && !mentionsTerm(record.Content, job.Keyword.Term) {
			return
		}
		records = append(records, record)
	})
	return records, nil
}

// extractItem pulls one record out of an item node. Missing author falls back
// to an explicit default; a missing content selector falls back to the item
// text. Items with no text at all are skipped, never fabricated.
func (f *WebFetcher) extractItem(target Target, item *goquery.Selection, pageURL string) (monitor.CandidateRecord, bool) {
	content := strings.TrimSpace(item.Text())
	if target.ContentSelector != "" {
		if sel := item.Find(target.ContentSelector); sel.Length() > 0 {
			content = strings.TrimSpace(sel.First().Text())
		}
	}
	if content == "" {
		return monitor.CandidateRecord{}, false
	}

	author := "unknown"
	if target.AuthorSelector != "" {
		if sel := item.Find(target.AuthorSelector); sel.Length() > 0 {
			if name := strings.TrimSpace(sel.First().Text()); name != "" {
				author = name
			}
		}
	}

	itemURL := pageURL
	if href, ok := item.Find("a[href]").First().Attr("href"); ok && href != "" {
		itemURL = href
	}

	return monitor.CandidateRecord{
		Source:     monitor.SourceWeb,
		ExternalID: f.hasher.Hash([]byte(target.Name + "|" + itemURL + "|" + content)),
		Author:     author,
		Content:    content,
		URL:        itemURL,
		Engagement: monitor.EngagementCounts{Estimated: true},
	}, true
}
