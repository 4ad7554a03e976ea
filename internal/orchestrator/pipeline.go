package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mentionwatch/mentionwatch/internal/metrics"
	"github.com/mentionwatch/mentionwatch/internal/monitor"
)

// ScanKeyword runs the full pipeline for one keyword: fan-out, dedup,
// sentiment, persistence, snapshot recompute, run log. The returned error is
// non-nil only for failures that must stop the whole batch; contained source
// failures are folded into the run log instead.
func (o *Orchestrator) ScanKeyword(ctx context.Context, kw monitor.Keyword, maxResults int) (monitor.RunLog, error) {
	if maxResults <= 0 {
		maxResults = o.cfg.MaxResults
	}
	start := o.clock.Now()
	done := metrics.ScanStarted()
	defer done()

	entry := monitor.RunLog{
		KeywordID: kw.ID,
		Term:      kw.Term,
		StartedAt: start,
	}
	if id, err := o.idGen.NewID(); err == nil {
		entry.ID = id
	}

	job, err := monitor.NewFetchJob(kw, maxResults)
	if err != nil {
		return entry, err
	}

	candidates, failures := o.Distribute(ctx, job)
	for _, f := range failures {
		if errors.Is(f.Err, monitor.ErrMisconfiguredCredential) {
			return entry, fmt.Errorf("source %s: %w", f.Source, f.Err)
		}
		if errors.Is(f.Err, monitor.ErrQuotaExceeded) {
			metrics.ObserveRateLimitDenial("quota")
		}
	}
	entry.RecordsFound = len(candidates)

	fresh, err := o.dedupe.FilterNew(ctx, candidates)
	if err != nil {
		entry.Status = monitor.RunError
		entry.ErrorText = err.Error()
		return o.finishScan(ctx, entry, start, err)
	}
	entry.NewRecords = len(fresh)

	enriched := o.enrich(kw, fresh)
	inserted := 0
	if len(enriched) > 0 {
		inserted, err = o.gateway.BatchUpsert(ctx, enriched)
		if err != nil {
			entry.Status = monitor.RunError
			entry.ErrorText = err.Error()
			return o.finishScan(ctx, entry, start, err)
		}
		metrics.ObservePersisted(inserted)
	}

	if err := o.refreshSnapshot(ctx, kw.ID); err != nil {
		entry.Status = monitor.RunError
		entry.ErrorText = err.Error()
		return o.finishScan(ctx, entry, start, err)
	}

	if err := o.gateway.TouchKeyword(ctx, kw.ID, o.clock.Now()); err != nil {
		entry.Status = monitor.RunError
		entry.ErrorText = err.Error()
		return o.finishScan(ctx, entry, start, err)
	}

	entry.Status = scanStatus(len(failures), len(candidates))
	if len(failures) > 0 {
		entry.ErrorText = joinFailures(failures)
	}
	o.logger.Info("keyword scan complete",
		zap.String("keyword", kw.Term),
		zap.String("status", string(entry.Status)),
		zap.Int("found", entry.RecordsFound),
		zap.Int("new", entry.NewRecords),
		zap.Int("inserted", inserted),
		zap.Int("source_failures", len(failures)),
	)
	return o.finishScan(ctx, entry, start, nil)
}

// RunBatch scans keywords in priority order. Contained per-keyword failures
// are logged and the batch moves on; credential and persistence failures
// abort the remainder of the run.
func (o *Orchestrator) RunBatch(ctx context.Context, keywords []monitor.Keyword) error {
	ordered := make([]monitor.Keyword, len(keywords))
	copy(ordered, keywords)
	monitor.SortByPriority(ordered)

	for _, kw := range ordered {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !kw.Active {
			continue
		}
		if err := o.scanWithTimeout(ctx, kw); err != nil {
			return fmt.Errorf("scan %q: %w", kw.Term, err)
		}
	}
	return nil
}

func (o *Orchestrator) scanWithTimeout(ctx context.Context, kw monitor.Keyword) error {
	if o.cfg.KeywordTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.KeywordTimeout)
		defer cancel()
	}
	_, err := o.ScanKeyword(ctx, kw, o.cfg.MaxResults)
	// A keyword that ran out of its own time slice should not take the rest
	// of the batch down with it.
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
		o.logger.Warn("keyword scan timed out", zap.String("keyword", kw.Term))
		return nil
	}
	return err
}

// RunActive loads the active keyword set and runs one batch over it.
func (o *Orchestrator) RunActive(ctx context.Context) error {
	keywords, err := o.gateway.ListActiveKeywords(ctx)
	if err != nil {
		return fmt.Errorf("list keywords: %w", err)
	}
	return o.RunBatch(ctx, keywords)
}

// ScanTerm triggers one scan for a known keyword term, used by the manual
// trigger endpoint.
func (o *Orchestrator) ScanTerm(ctx context.Context, term string, maxResults int) (monitor.RunLog, error) {
	keywords, err := o.gateway.ListActiveKeywords(ctx)
	if err != nil {
		return monitor.RunLog{}, fmt.Errorf("list keywords: %w", err)
	}
	for _, kw := range keywords {
		if strings.EqualFold(kw.Term, term) {
			return o.ScanKeyword(ctx, kw, maxResults)
		}
	}
	return monitor.RunLog{}, fmt.Errorf("keyword %q is not tracked", term)
}

func (o *Orchestrator) enrich(kw monitor.Keyword, fresh []monitor.CandidateRecord) []monitor.EnrichedRecord {
	now := o.clock.Now()
	enriched := make([]monitor.EnrichedRecord, 0, len(fresh))
	for _, c := range fresh {
		res := o.scorer.Score(c.Content)
		enriched = append(enriched, monitor.EnrichedRecord{
			CandidateRecord:     c,
			KeywordID:           kw.ID,
			DedupKey:            c.DedupKey(),
			SentimentLabel:      res.Label,
			SentimentScore:      res.Score,
			SentimentConfidence: res.Confidence,
			FetchedAt:           now,
		})
	}
	return enriched
}

// refreshSnapshot recomputes the keyword snapshot over the most recent
// persisted window. An empty record set leaves the prior snapshot untouched.
func (o *Orchestrator) refreshSnapshot(ctx context.Context, keywordID string) error {
	window, err := o.gateway.QueryByKeyword(ctx, keywordID, o.cfg.SnapshotWindow, time.Time{})
	if err != nil {
		return fmt.Errorf("load snapshot window: %w", err)
	}
	snapshot, ok := o.aggregator.Recompute(keywordID, window)
	if !ok {
		return nil
	}
	if err := o.gateway.UpdateSnapshot(ctx, keywordID, snapshot); err != nil {
		return fmt.Errorf("update snapshot: %w", err)
	}
	return nil
}

// finishScan stamps duration, records metrics, and appends the run log. The
// log append happens even for failed scans so the audit trail stays complete;
// a log write failure surfaces only if the scan itself succeeded.
func (o *Orchestrator) finishScan(ctx context.Context, entry monitor.RunLog, start time.Time, scanErr error) (monitor.RunLog, error) {
	entry.Duration = o.clock.Now().Sub(start)
	if entry.Status == "" {
		entry.Status = monitor.RunError
	}
	metrics.ObserveScan(entry.Status, entry.Duration)

	if err := o.gateway.AppendRunLog(ctx, entry); err != nil {
		o.logger.Error("run log append failed",
			zap.String("keyword", entry.Term),
			zap.Error(err),
		)
		if scanErr == nil {
			return entry, fmt.Errorf("append run log: %w", err)
		}
	}
	return entry, scanErr
}

func scanStatus(failureCount, recordCount int) monitor.RunStatus {
	switch {
	case failureCount == 0:
		return monitor.RunSuccess
	case recordCount > 0:
		return monitor.RunPartial
	default:
		return monitor.RunError
	}
}

func joinFailures(failures []SourceFailure) string {
	parts := make([]string, 0, len(failures))
	for _, f := range failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Source, f.Err))
	}
	return strings.Join(parts, "; ")
}
