// Package analytics recomputes keyword-level rollup metrics from enriched
// record sets.
package analytics

import (
	"time"

	"github.com/mentionwatch/mentionwatch/internal/monitor"
)

// Aggregator derives analytics snapshots. Stateless apart from the clock.
type Aggregator struct {
	clock monitor.Clock
}

// New creates an Aggregator. A nil clock falls back to the system clock.
func New(clock monitor.Clock) *Aggregator {
	if clock == nil {
		clock = utcClock{}
	}
	return &Aggregator{clock: clock}
}

// Recompute derives a snapshot from the given record set. An empty set is a
// no-op: ok is false and the prior snapshot must be left untouched, so an
// empty batch never zeroes out a keyword's history.
func (a *Aggregator) Recompute(keywordID string, records []monitor.EnrichedRecord) (monitor.AnalyticsSnapshot, bool) {
	_ = keywordID
	if len(records) == 0 {
		return monitor.AnalyticsSnapshot{}, false
	}

	var (
		totalEngagement  int64
		totalImpressions int64
		virality         int64
		sentimentSum     float64
		estimatedCount   int
		labelCounts      = map[monitor.SentimentLabel]int{}
	)
	for _, rec := range records {
		totalEngagement += rec.Engagement.Total()
		totalImpressions += rec.Engagement.Impressions
		virality += rec.Engagement.Shares + rec.Engagement.Quotes
		sentimentSum += rec.SentimentScore
		labelCounts[rec.SentimentLabel]++
		if rec.Engagement.Estimated {
			estimatedCount++
		}
	}

	total := len(records)
	breakdown := make(map[monitor.SentimentLabel]float64, 3)
	for _, label := range []monitor.SentimentLabel{
		monitor.SentimentPositive,
		monitor.SentimentNegative,
		monitor.SentimentNeutral,
	} {
		breakdown[label] = 100 * float64(labelCounts[label]) / float64(total)
	}

	engagementRate := 0.0
	if totalImpressions > 0 {
		engagementRate = 100 * float64(totalEngagement) / float64(totalImpressions)
	}

	return monitor.AnalyticsSnapshot{
		TotalMentions:            total,
		SentimentBreakdown:       breakdown,
		TotalEngagement:          totalEngagement,
		TotalImpressions:         totalImpressions,
		EngagementRate:           engagementRate,
		ViralityScore:            virality,
		AverageSentiment:         sentimentSum / float64(total),
		EstimatedEngagementCount: estimatedCount,
		UpdatedAt:                a.clock.Now(),
	}, true
}

type utcClock struct{}

func (utcClock) Now() time.Time {
	return time.Now().UTC()
}
