package docscrape

import (
	"context"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/mentionwatch/mentionwatch/internal/hash/sha256"
	"github.com/mentionwatch/mentionwatch/internal/monitor"
)

// FeedFetcher scans RSS/Atom targets for keyword mentions.
type FeedFetcher struct {
	client  *client
	targets []Target
	parser  *gofeed.Parser
	hasher  *sha256.Hasher
	logger  *zap.Logger
}

// NewFeed builds a FeedFetcher over the configured feed targets.
func NewFeed(cfg Config, targets []Target, logger *zap.Logger) *FeedFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedFetcher{
		client:  newClient(cfg),
		targets: targets,
		parser:  gofeed.NewParser(),
		hasher:  sha256.New(),
		logger:  logger,
	}
}

// Source identifies this fetcher in the orchestrator registry.
func (f *FeedFetcher) Source() monitor.SourceID {
	return monitor.SourceFeed
}

// Fetch scans every configured feed target. A failing target yields zero
// records for that target only; the fetch fails outright only when every
// target fails.
func (f *FeedFetcher) Fetch(ctx context.Context, job monitor.FetchJob) ([]monitor.CandidateRecord, error) {
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
			f.logger.Warn("feed target failed",
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
		return nil, fmt.Errorf("all %d feed targets failed: %w", failures, lastErr)
	}
	return records, nil
}

func (f *FeedFetcher) fetchTarget(ctx context.Context, target Target, job monitor.FetchJob) ([]monitor.CandidateRecord, error) {
	fetchURL, prefiltered := expandURL(target.URL, job.Keyword.Term)
	body, err := f.client.get(ctx, fetchURL)
	if err != nil {
		return nil, err
	}

	feed, err := f.parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w: %s", target.Name, monitor.ErrSourceUnavailable, err)
	}

	records := make([]monitor.CandidateRecord, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		text := item.Title
		if item.Description != "" {
			text = text + " " + item.Description
		}
		if !prefiltered && !mentionsTerm(text, job.Keyword.Term) {
			continue
		}
		records = append(records, f.toCandidate(target, item, text))
	}
	return records, nil
}

func (f *FeedFetcher) toCandidate(target Target, item *gofeed.Item, text string) monitor.CandidateRecord {
	externalID := item.GUID
	if externalID == "" {
		externalID = item.Link
	}
	if externalID == "" {
		externalID = f.hasher.Hash([]byte(target.Name + text))
	}

	author := "unknown"
	if len(item.Authors) > 0 && item.Authors[0] != nil && item.Authors[0].Name != "" {
		author = item.Authors[0].Name
	}

	postedAt := time.Time{}
	if item.PublishedParsed != nil {
		postedAt = item.PublishedParsed.UTC()
	} else if item.UpdatedParsed != nil {
		postedAt = item.UpdatedParsed.UTC()
	}

	return monitor.CandidateRecord{
		Source:     monitor.SourceFeed,
		ExternalID: externalID,
		Author:     author,
		Content:    text,
		PostedAt:   postedAt,
		URL:        item.Link,
		Language:   "",
		// Feeds expose no interaction counts; totals stay zero and flagged.
		Engagement: monitor.EngagementCounts{Estimated: true},
	}
}
