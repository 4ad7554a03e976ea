package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mentionwatch/mentionwatch/internal/analytics"
	"github.com/mentionwatch/mentionwatch/internal/monitor"
	"github.com/mentionwatch/mentionwatch/internal/sentiment"
	"github.com/mentionwatch/mentionwatch/internal/store/memory"
)

type stubFetcher struct {
	source  monitor.SourceID
	records []monitor.CandidateRecord
	err     error
	calls   int
}

func (s *stubFetcher) Source() monitor.SourceID { return s.source }

func (s *stubFetcher) Fetch(_ context.Context, _ monitor.FetchJob) ([]monitor.CandidateRecord, error) {
	s.calls++
	return s.records, s.err
}

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("run-%d", s.n), nil
}

func record(source monitor.SourceID, externalID, content string) monitor.CandidateRecord {
	return monitor.CandidateRecord{
		Source:     source,
		ExternalID: externalID,
		Author:     "tester",
		Content:    content,
		PostedAt:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		URL:        "https://example.com/" + externalID,
	}
}

func newTestOrchestrator(t *testing.T, gateway *memory.Gateway, sources []monitor.SourceID) *Orchestrator {
	t.Helper()
	clock := fixedClock{at: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return New(
		gateway,
		sentiment.NewDefault(),
		analytics.New(clock),
		clock,
		&seqIDs{},
		Config{EnabledSources: sources, MaxResults: 25, SnapshotWindow: 500},
		zap.NewNop(),
	)
}

func TestRegisterRejectsDuplicateSource(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(t, memory.New(), []monitor.SourceID{monitor.SourceWeb})
	require.NoError(t, o.Register(&stubFetcher{source: monitor.SourceWeb}))
	require.Error(t, o.Register(&stubFetcher{source: monitor.SourceWeb}))
}

func TestDistributeSettlesAllSources(t *testing.T) {
	t.Parallel()

	gw := memory.New()
	o := newTestOrchestrator(t, gw, []monitor.SourceID{monitor.SourceFeed, monitor.SourceWeb, monitor.SourceBrowser})

	feed := &stubFetcher{source: monitor.SourceFeed, records: []monitor.CandidateRecord{record(monitor.SourceFeed, "f1", "great launch")}}
	web := &stubFetcher{source: monitor.SourceWeb, err: monitor.ErrSourceUnavailable}
	browser := &stubFetcher{source: monitor.SourceBrowser, records: []monitor.CandidateRecord{record(monitor.SourceBrowser, "b1", "terrible outage")}}
	for _, f := range []*stubFetcher{feed, web, browser} {
		require.NoError(t, o.Register(f))
	}

	kw := monitor.Keyword{ID: "kw-1", Term: "acme", Priority: monitor.PriorityHigh, Active: true}
	job, err := monitor.NewFetchJob(kw, 25)
	require.NoError(t, err)

	records, failures := o.Distribute(context.Background(), job)

	assert.Len(t, records, 2, "records from healthy sources survive a sibling failure")
	require.Len(t, failures, 1)
	assert.Equal(t, monitor.SourceWeb, failures[0].Source)
	assert.ErrorIs(t, failures[0].Err, monitor.ErrSourceUnavailable)
	assert.Equal(t, 1, feed.calls)
	assert.Equal(t, 1, browser.calls)
}

func TestScanKeywordPartialOnSourceFailure(t *testing.T) {
	t.Parallel()

	gw := memory.New()
	kw := monitor.Keyword{ID: "kw-1", Term: "acme", Priority: monitor.PriorityHigh, Active: true}
	gw.SeedKeyword(kw)

	o := newTestOrchestrator(t, gw, []monitor.SourceID{monitor.SourceFeed, monitor.SourceWeb})
	require.NoError(t, o.Register(&stubFetcher{source: monitor.SourceFeed, records: []monitor.CandidateRecord{
		record(monitor.SourceFeed, "f1", "acme is good"),
	}}))
	require.NoError(t, o.Register(&stubFetcher{source: monitor.SourceWeb, err: monitor.ErrSelectorMismatch}))

	entry, err := o.ScanKeyword(context.Background(), kw, 25)
	require.NoError(t, err, "a contained source failure must not fail the keyword")

	assert.Equal(t, monitor.RunPartial, entry.Status)
	assert.Equal(t, 1, entry.RecordsFound)
	assert.Equal(t, 1, entry.NewRecords)
	assert.Contains(t, entry.ErrorText, "web")
	assert.Equal(t, 1, gw.RecordCount())

	stored, ok := gw.Keyword(kw.ID)
	require.True(t, ok)
	require.NotNil(t, stored.Snapshot)
	assert.Equal(t, 1, stored.Snapshot.TotalMentions)
	require.NotNil(t, stored.LastProcessedAt)

	logs := gw.RunLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, monitor.RunPartial, logs[0].Status)
}

func TestScanKeywordIdempotentAcrossRuns(t *testing.T) {
	t.Parallel()

	gw := memory.New()
	kw := monitor.Keyword{ID: "kw-1", Term: "acme", Priority: monitor.PriorityMedium, Active: true}
	gw.SeedKeyword(kw)

	o := newTestOrchestrator(t, gw, []monitor.SourceID{monitor.SourceFeed})
	require.NoError(t, o.Register(&stubFetcher{source: monitor.SourceFeed, records: []monitor.CandidateRecord{
		record(monitor.SourceFeed, "f1", "love the new acme release"),
		record(monitor.SourceFeed, "f1", "love the new acme release"),
		record(monitor.SourceFeed, "f2", "acme support is awful"),
	}}))

	first, err := o.ScanKeyword(context.Background(), kw, 25)
	require.NoError(t, err)
	assert.Equal(t, 3, first.RecordsFound)
	assert.Equal(t, 2, first.NewRecords, "in-batch duplicates collapse before persistence")
	assert.Equal(t, 2, gw.RecordCount())

	second, err := o.ScanKeyword(context.Background(), kw, 25)
	require.NoError(t, err)
	assert.Equal(t, monitor.RunSuccess, second.Status)
	assert.Equal(t, 0, second.NewRecords, "already-persisted keys are filtered")
	assert.Equal(t, 2, gw.RecordCount())
}

func TestScanKeywordDistinguishesSourcesInDedup(t *testing.T) {
	t.Parallel()

	gw := memory.New()
	kw := monitor.Keyword{ID: "kw-1", Term: "acme", Active: true}
	gw.SeedKeyword(kw)

	o := newTestOrchestrator(t, gw, []monitor.SourceID{monitor.SourceFeed, monitor.SourceWeb})
	require.NoError(t, o.Register(&stubFetcher{source: monitor.SourceFeed, records: []monitor.CandidateRecord{
		record(monitor.SourceFeed, "shared-id", "acme mention"),
	}}))
	require.NoError(t, o.Register(&stubFetcher{source: monitor.SourceWeb, records: []monitor.CandidateRecord{
		record(monitor.SourceWeb, "shared-id", "acme mention"),
	}}))

	entry, err := o.ScanKeyword(context.Background(), kw, 25)
	require.NoError(t, err)
	assert.Equal(t, 2, entry.NewRecords, "same external id from different sources stays distinct")
}

func TestScanKeywordQuotaDeniedSkipsWithoutFailingBatch(t *testing.T) {
	t.Parallel()

	gw := memory.New()
	kw := monitor.Keyword{ID: "kw-1", Term: "acme", Active: true}
	gw.SeedKeyword(kw)

	o := newTestOrchestrator(t, gw, []monitor.SourceID{monitor.SourceSearch})
	require.NoError(t, o.Register(&stubFetcher{source: monitor.SourceSearch, err: monitor.ErrQuotaExceeded}))

	entry, err := o.ScanKeyword(context.Background(), kw, 25)
	require.NoError(t, err, "a quota denial skips the keyword for this run")
	assert.Equal(t, monitor.RunError, entry.Status)
	assert.Equal(t, 0, entry.RecordsFound)
	assert.Equal(t, 0, gw.RecordCount())
}

func TestScanKeywordCredentialFailureAborts(t *testing.T) {
	t.Parallel()

	gw := memory.New()
	kw := monitor.Keyword{ID: "kw-1", Term: "acme", Active: true}
	gw.SeedKeyword(kw)

	o := newTestOrchestrator(t, gw, []monitor.SourceID{monitor.SourceSearch})
	require.NoError(t, o.Register(&stubFetcher{source: monitor.SourceSearch, err: monitor.ErrMisconfiguredCredential}))

	_, err := o.ScanKeyword(context.Background(), kw, 25)
	require.ErrorIs(t, err, monitor.ErrMisconfiguredCredential)
}

func TestScanKeywordEmptyResultLeavesSnapshotUntouched(t *testing.T) {
	t.Parallel()

	gw := memory.New()
	prior := monitor.AnalyticsSnapshot{TotalMentions: 7}
	kw := monitor.Keyword{ID: "kw-1", Term: "acme", Active: true, Snapshot: &prior}
	gw.SeedKeyword(kw)

	o := newTestOrchestrator(t, gw, []monitor.SourceID{monitor.SourceFeed})
	require.NoError(t, o.Register(&stubFetcher{source: monitor.SourceFeed}))

	entry, err := o.ScanKeyword(context.Background(), kw, 25)
	require.NoError(t, err)
	assert.Equal(t, monitor.RunSuccess, entry.Status)

	stored, ok := gw.Keyword(kw.ID)
	require.True(t, ok)
	require.NotNil(t, stored.Snapshot)
	assert.Equal(t, 7, stored.Snapshot.TotalMentions, "empty result must not zero out the snapshot")
}

func TestRunBatchHonorsPriorityOrder(t *testing.T) {
	t.Parallel()

	gw := memory.New()
	low := monitor.Keyword{ID: "kw-low", Term: "alpha", Priority: monitor.PriorityLow, Active: true}
	critical := monitor.Keyword{ID: "kw-crit", Term: "bravo", Priority: monitor.PriorityCritical, Active: true}
	medium := monitor.Keyword{ID: "kw-med", Term: "charlie", Priority: monitor.PriorityMedium, Active: true}
	for _, kw := range []monitor.Keyword{low, critical, medium} {
		gw.SeedKeyword(kw)
	}

	o := newTestOrchestrator(t, gw, []monitor.SourceID{monitor.SourceFeed})
	require.NoError(t, o.Register(&stubFetcher{source: monitor.SourceFeed}))

	require.NoError(t, o.RunBatch(context.Background(), []monitor.Keyword{low, critical, medium}))

	logs := gw.RunLogs()
	require.Len(t, logs, 3)
	assert.Equal(t, "bravo", logs[0].Term)
	assert.Equal(t, "charlie", logs[1].Term)
	assert.Equal(t, "alpha", logs[2].Term)
}

func TestRunBatchSkipsInactiveKeywords(t *testing.T) {
	t.Parallel()

	gw := memory.New()
	active := monitor.Keyword{ID: "kw-1", Term: "alpha", Active: true}
	paused := monitor.Keyword{ID: "kw-2", Term: "bravo", Active: false}
	gw.SeedKeyword(active)
	gw.SeedKeyword(paused)

	o := newTestOrchestrator(t, gw, []monitor.SourceID{monitor.SourceFeed})
	require.NoError(t, o.Register(&stubFetcher{source: monitor.SourceFeed}))

	require.NoError(t, o.RunBatch(context.Background(), []monitor.Keyword{active, paused}))

	logs := gw.RunLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, "alpha", logs[0].Term)
}

func TestRunBatchAbortsOnCredentialFailure(t *testing.T) {
	t.Parallel()

	gw := memory.New()
	first := monitor.Keyword{ID: "kw-1", Term: "alpha", Priority: monitor.PriorityCritical, Active: true}
	second := monitor.Keyword{ID: "kw-2", Term: "bravo", Priority: monitor.PriorityLow, Active: true}
	gw.SeedKeyword(first)
	gw.SeedKeyword(second)

	o := newTestOrchestrator(t, gw, []monitor.SourceID{monitor.SourceSearch})
	require.NoError(t, o.Register(&stubFetcher{source: monitor.SourceSearch, err: monitor.ErrMisconfiguredCredential}))

	err := o.RunBatch(context.Background(), []monitor.Keyword{first, second})
	require.ErrorIs(t, err, monitor.ErrMisconfiguredCredential)
	assert.Empty(t, gw.RunLogs(), "a fatal credential error aborts before further keywords run")
}

func TestRunActiveUsesGatewayKeywords(t *testing.T) {
	t.Parallel()

	gw := memory.New()
	gw.SeedKeyword(monitor.Keyword{ID: "kw-1", Term: "acme", Active: true})

	o := newTestOrchestrator(t, gw, []monitor.SourceID{monitor.SourceFeed})
	require.NoError(t, o.Register(&stubFetcher{source: monitor.SourceFeed, records: []monitor.CandidateRecord{
		record(monitor.SourceFeed, "f1", "acme rocks"),
	}}))

	require.NoError(t, o.RunActive(context.Background()))
	assert.Equal(t, 1, gw.RecordCount())
}

func TestScanTermUnknownKeyword(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(t, memory.New(), []monitor.SourceID{monitor.SourceFeed})
	_, err := o.ScanTerm(context.Background(), "ghost", 10)
	require.Error(t, err)
}

func TestScanTermMatchesCaseInsensitive(t *testing.T) {
	t.Parallel()

	gw := memory.New()
	gw.SeedKeyword(monitor.Keyword{ID: "kw-1", Term: "Acme", Active: true})

	o := newTestOrchestrator(t, gw, []monitor.SourceID{monitor.SourceFeed})
	require.NoError(t, o.Register(&stubFetcher{source: monitor.SourceFeed}))

	entry, err := o.ScanTerm(context.Background(), "acme", 10)
	require.NoError(t, err)
	assert.Equal(t, "kw-1", entry.KeywordID)
}

func TestScanKeywordSentimentEnrichment(t *testing.T) {
	t.Parallel()

	gw := memory.New()
	kw := monitor.Keyword{ID: "kw-1", Term: "acme", Active: true}
	gw.SeedKeyword(kw)

	o := newTestOrchestrator(t, gw, []monitor.SourceID{monitor.SourceFeed})
	require.NoError(t, o.Register(&stubFetcher{source: monitor.SourceFeed, records: []monitor.CandidateRecord{
		record(monitor.SourceFeed, "f1", "acme is excellent and amazing"),
		record(monitor.SourceFeed, "f2", "acme is terrible"),
	}}))

	_, err := o.ScanKeyword(context.Background(), kw, 25)
	require.NoError(t, err)

	stored, err := gw.QueryByKeyword(context.Background(), kw.ID, 10, time.Time{})
	require.NoError(t, err)
	require.Len(t, stored, 2)
	labels := map[monitor.SentimentLabel]int{}
	for _, r := range stored {
		labels[r.SentimentLabel]++
		assert.Equal(t, r.CandidateRecord.DedupKey(), r.DedupKey)
		assert.Equal(t, kw.ID, r.KeywordID)
		assert.False(t, r.FetchedAt.IsZero())
	}
	assert.Equal(t, 1, labels[monitor.SentimentPositive])
	assert.Equal(t, 1, labels[monitor.SentimentNegative])

	stored0, ok := gw.Keyword(kw.ID)
	require.True(t, ok)
	require.NotNil(t, stored0.Snapshot)
	assert.Equal(t, 2, stored0.Snapshot.TotalMentions)
	assert.InDelta(t, 50.0, stored0.Snapshot.SentimentBreakdown[monitor.SentimentPositive], 0.001)
}

func TestRunBatchContextCancel(t *testing.T) {
	t.Parallel()

	gw := memory.New()
	kw := monitor.Keyword{ID: "kw-1", Term: "acme", Active: true}
	gw.SeedKeyword(kw)

	o := newTestOrchestrator(t, gw, []monitor.SourceID{monitor.SourceFeed})
	require.NoError(t, o.Register(&stubFetcher{source: monitor.SourceFeed}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := o.RunBatch(ctx, []monitor.Keyword{kw})
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, errors.Is(err, context.Canceled))
}
