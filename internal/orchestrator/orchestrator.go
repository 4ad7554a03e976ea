// Package orchestrator coordinates source fan-out and the per-keyword
// enrichment pipeline.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mentionwatch/mentionwatch/internal/analytics"
	"github.com/mentionwatch/mentionwatch/internal/dedupe"
	"github.com/mentionwatch/mentionwatch/internal/metrics"
	"github.com/mentionwatch/mentionwatch/internal/monitor"
	"github.com/mentionwatch/mentionwatch/internal/sentiment"
)

// Config controls orchestration behavior, captured once per cycle.
type Config struct {
	EnabledSources []monitor.SourceID
	MaxResults     int
	SnapshotWindow int
	KeywordTimeout time.Duration
}

// SourceFailure records one contained fetcher failure.
type SourceFailure struct {
	Source monitor.SourceID
	Err    error
}

// Orchestrator fans keywords out to registered fetchers and runs the
// dedup, sentiment, analytics, and persistence stages.
type Orchestrator struct {
	mu       sync.RWMutex
	fetchers map[monitor.SourceID]monitor.Fetcher

	gateway    monitor.Gateway
	dedupe     *dedupe.Deduplicator
	scorer     *sentiment.Scorer
	aggregator *analytics.Aggregator
	clock      monitor.Clock
	idGen      monitor.IDGenerator
	cfg        Config
	logger     *zap.Logger
}

// New constructs an Orchestrator. Fetchers are added via Register so that
// adding a source is registration, not a new branch.
func New(
	gateway monitor.Gateway,
	scorer *sentiment.Scorer,
	aggregator *analytics.Aggregator,
	clock monitor.Clock,
	idGen monitor.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 25
	}
	if cfg.SnapshotWindow <= 0 {
		cfg.SnapshotWindow = 500
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		fetchers:   make(map[monitor.SourceID]monitor.Fetcher),
		gateway:    gateway,
		dedupe:     dedupe.New(gateway),
		scorer:     scorer,
		aggregator: aggregator,
		clock:      clock,
		idGen:      idGen,
		cfg:        cfg,
		logger:     logger,
	}
}

// Register adds a fetcher to the source registry.
func (o *Orchestrator) Register(f monitor.Fetcher) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	source := f.Source()
	if _, ok := o.fetchers[source]; ok {
		return fmt.Errorf("fetcher for source %q already registered", source)
	}
	o.fetchers[source] = f
	return nil
}

// Distribute launches one fetch per enabled source concurrently and collects
// every outcome independently: a failure on one source never cancels or
// blocks the others.
func (o *Orchestrator) Distribute(ctx context.Context, job monitor.FetchJob) ([]monitor.CandidateRecord, []SourceFailure) {
	o.mu.RLock()
	var active []monitor.Fetcher
	for _, source := range o.cfg.EnabledSources {
		if f, ok := o.fetchers[source]; ok {
			active = append(active, f)
		}
	}
	o.mu.RUnlock()

	type outcome struct {
		source  monitor.SourceID
		records []monitor.CandidateRecord
		err     error
	}

	results := make([]outcome, len(active))
	var wg sync.WaitGroup
	for i, f := range active {
		wg.Add(1)
		go func(i int, f monitor.Fetcher) {
			defer wg.Done()
			records, err := f.Fetch(ctx, job)
			results[i] = outcome{source: f.Source(), records: records, err: err}
		}(i, f)
	}
	wg.Wait()

	var (
		candidates []monitor.CandidateRecord
		failures   []SourceFailure
	)
	for _, res := range results {
		if res.err != nil {
			failures = append(failures, SourceFailure{Source: res.source, Err: res.err})
			metrics.ObserveSourceFailure(res.source, res.err)
			o.logger.Warn("source fetch failed",
				zap.String("source", string(res.source)),
				zap.String("keyword", job.Keyword.Term),
				zap.Error(res.err),
			)
			continue
		}
		metrics.ObserveFetch(res.source, len(res.records))
		candidates = append(candidates, res.records...)
	}
	return candidates, failures
}
