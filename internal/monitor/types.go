// Package monitor defines core types shared across pipeline subsystems.
package monitor

import (
	"fmt"
	"sort"
	"time"
)

// SourceID identifies one external content origin.
type SourceID string

// Known source identifiers. Fetchers register under one of these.
const (
	SourceSearch  SourceID = "search"
	SourceBrowser SourceID = "browser"
	SourceFeed    SourceID = "feed"
	SourceWeb     SourceID = "web"
)

// Priority orders keywords within a batch run.
type Priority string

// Priority values, highest first.
const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

var priorityRank = map[Priority]int{
	PriorityCritical: 0,
	PriorityHigh:     1,
	PriorityMedium:   2,
	PriorityLow:      3,
}

// Rank returns the sort rank for a priority; unknown values sort last.
func (p Priority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return len(priorityRank)
}

// Keyword is a tracked search term. Created externally; the pipeline only
// mutates LastProcessedAt and Snapshot.
type Keyword struct {
	ID              string             `json:"id"`
	Term            string             `json:"term"`
	Priority        Priority           `json:"priority"`
	Active          bool               `json:"active"`
	LastProcessedAt *time.Time         `json:"last_processed_at,omitempty"`
	Snapshot        *AnalyticsSnapshot `json:"snapshot,omitempty"`
}

// SortByPriority orders keywords critical, high, medium, low. Order within a
// priority class is preserved.
func SortByPriority(keywords []Keyword) {
	sort.SliceStable(keywords, func(i, j int) bool {
		return keywords[i].Priority.Rank() < keywords[j].Priority.Rank()
	})
}

// EngagementCounts carries raw interaction numbers for one record. Estimated
// marks counts a source could not report exactly (e.g. parsed from a compact
// "1.2K" label or defaulted to zero); downstream analytics may down-weight
// them but must never confuse them with real numbers.
type EngagementCounts struct {
	Likes       int64 `json:"likes"`
	Shares      int64 `json:"shares"`
	Replies     int64 `json:"replies"`
	Quotes      int64 `json:"quotes"`
	Impressions int64 `json:"impressions"`
	Estimated   bool  `json:"estimated"`
}

// Total sums the interaction counts that feed total engagement.
func (e EngagementCounts) Total() int64 {
	return e.Likes + e.Shares + e.Replies + e.Quotes
}

// CandidateRecord is one piece of content from one source, not yet
// deduplicated or scored. Transient; never persisted directly.
type CandidateRecord struct {
	Source     SourceID         `json:"source"`
	ExternalID string           `json:"external_id"`
	Author     string           `json:"author"`
	Content    string           `json:"content"`
	PostedAt   time.Time        `json:"posted_at"`
	Engagement EngagementCounts `json:"engagement"`
	URL        string           `json:"url"`
	Language   string           `json:"language"`
}

// DedupKey returns the stable identity used to recognize the same logical
// content across runs.
func (c CandidateRecord) DedupKey() string {
	return fmt.Sprintf("%s:%s", c.Source, c.ExternalID)
}

// SentimentLabel classifies a record's polarity.
type SentimentLabel string

// Sentiment labels produced by the scorer.
const (
	SentimentPositive SentimentLabel = "positive"
	SentimentNegative SentimentLabel = "negative"
	SentimentNeutral  SentimentLabel = "neutral"
)

// EnrichedRecord is a candidate after dedup and sentiment scoring, ready for
// persistence. Immutable once persisted.
type EnrichedRecord struct {
	CandidateRecord

	KeywordID           string         `json:"keyword_id"`
	DedupKey            string         `json:"dedup_key"`
	SentimentLabel      SentimentLabel `json:"sentiment_label"`
	SentimentScore      float64        `json:"sentiment_score"`
	SentimentConfidence float64        `json:"sentiment_confidence"`
	FetchedAt           time.Time      `json:"fetched_at"`
}

// AnalyticsSnapshot is the latest computed aggregate for a keyword. Derived
// purely from an enriched record set; never hand-edited.
type AnalyticsSnapshot struct {
	TotalMentions            int                        `json:"total_mentions"`
	SentimentBreakdown       map[SentimentLabel]float64 `json:"sentiment_breakdown"`
	TotalEngagement          int64                      `json:"total_engagement"`
	TotalImpressions         int64                      `json:"total_impressions"`
	EngagementRate           float64                    `json:"engagement_rate"`
	ViralityScore            int64                      `json:"virality_score"`
	AverageSentiment         float64                    `json:"average_sentiment"`
	EstimatedEngagementCount int                        `json:"estimated_engagement_count"`
	UpdatedAt                time.Time                  `json:"updated_at"`
}

// RunStatus is the outcome recorded for one keyword scan.
type RunStatus string

// Run statuses persisted in the run log.
const (
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunError   RunStatus = "error"
)

// RunLog is one append-only audit entry for a keyword scan.
type RunLog struct {
	ID           string        `json:"id"`
	KeywordID    string        `json:"keyword_id"`
	Term         string        `json:"term"`
	Status       RunStatus     `json:"status"`
	RecordsFound int           `json:"records_found"`
	NewRecords   int           `json:"new_records"`
	Duration     time.Duration `json:"duration"`
	ErrorText    string        `json:"error_text,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
}

// FetchJob captures everything a fetcher needs to look for mentions of one
// keyword. Validated at construction; fetchers never see loose maps.
type FetchJob struct {
	Keyword    Keyword
	MaxResults int
}

// NewFetchJob builds a validated FetchJob.
func NewFetchJob(kw Keyword, maxResults int) (FetchJob, error) {
	if kw.Term == "" {
		return FetchJob{}, fmt.Errorf("fetch job requires a keyword term")
	}
	if maxResults <= 0 {
		maxResults = 25
	}
	return FetchJob{Keyword: kw, MaxResults: maxResults}, nil
}
