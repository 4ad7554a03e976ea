// Package memory provides an in-memory Gateway for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mentionwatch/mentionwatch/internal/monitor"
)

// Gateway implements monitor.Gateway with process-local state.
type Gateway struct {
	mu       sync.RWMutex
	records  map[string]monitor.EnrichedRecord
	keywords map[string]monitor.Keyword
	runLogs  []monitor.RunLog
}

// New creates an empty Gateway.
func New() *Gateway {
	return &Gateway{
		records:  make(map[string]monitor.EnrichedRecord),
		keywords: make(map[string]monitor.Keyword),
	}
}

// SeedKeyword registers a keyword for subsequent runs.
func (g *Gateway) SeedKeyword(kw monitor.Keyword) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.keywords[kw.ID] = kw
}

// BatchUpsert stores records idempotently by dedup key.
func (g *Gateway) BatchUpsert(_ context.Context, records []monitor.EnrichedRecord) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	inserted := 0
	for _, rec := range records {
		if rec.DedupKey == "" {
			return inserted, fmt.Errorf("record %s has no dedup key", rec.ExternalID)
		}
		if _, ok := g.records[rec.DedupKey]; ok {
			continue
		}
		g.records[rec.DedupKey] = rec
		inserted++
	}
	return inserted, nil
}

// QueryExistingIDs returns the subset of keys already stored. Oversized key
// lists are rejected to mirror the durable gateway's query limit.
func (g *Gateway) QueryExistingIDs(_ context.Context, dedupKeys []string) (map[string]struct{}, error) {
	if len(dedupKeys) > monitor.MaxIDQueryChunk {
		return nil, fmt.Errorf("id query accepts at most %d keys, got %d", monitor.MaxIDQueryChunk, len(dedupKeys))
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	found := make(map[string]struct{})
	for _, key := range dedupKeys {
		if _, ok := g.records[key]; ok {
			found[key] = struct{}{}
		}
	}
	return found, nil
}

// QueryByKeyword returns stored records for a keyword, most recent first.
func (g *Gateway) QueryByKeyword(_ context.Context, keywordID string, limit int, cursor time.Time) ([]monitor.EnrichedRecord, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var matched []monitor.EnrichedRecord
	for _, rec := range g.records {
		if rec.KeywordID != keywordID {
			continue
		}
		if !cursor.IsZero() && !rec.FetchedAt.Before(cursor) {
			continue
		}
		matched = append(matched, rec)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].FetchedAt.After(matched[j].FetchedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// UpdateSnapshot merges a snapshot into the keyword row.
func (g *Gateway) UpdateSnapshot(_ context.Context, keywordID string, snapshot monitor.AnalyticsSnapshot) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	kw, ok := g.keywords[keywordID]
	if !ok {
		return fmt.Errorf("keyword %s not found", keywordID)
	}
	kw.Snapshot = &snapshot
	g.keywords[keywordID] = kw
	return nil
}

// AppendRunLog appends one audit entry.
func (g *Gateway) AppendRunLog(_ context.Context, entry monitor.RunLog) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.runLogs = append(g.runLogs, entry)
	return nil
}

// ListRunLogs returns the newest entries first.
func (g *Gateway) ListRunLogs(_ context.Context, limit int) ([]monitor.RunLog, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if limit <= 0 || limit > len(g.runLogs) {
		limit = len(g.runLogs)
	}
	out := make([]monitor.RunLog, 0, limit)
	for i := len(g.runLogs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, g.runLogs[i])
	}
	return out, nil
}

// ListActiveKeywords returns active keywords in insertion-independent,
// deterministic order.
func (g *Gateway) ListActiveKeywords(_ context.Context) ([]monitor.Keyword, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var active []monitor.Keyword
	for _, kw := range g.keywords {
		if kw.Active {
			active = append(active, kw)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].ID < active[j].ID
	})
	return active, nil
}

// TouchKeyword records the last processed timestamp.
func (g *Gateway) TouchKeyword(_ context.Context, keywordID string, processedAt time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	kw, ok := g.keywords[keywordID]
	if !ok {
		return fmt.Errorf("keyword %s not found", keywordID)
	}
	kw.LastProcessedAt = &processedAt
	g.keywords[keywordID] = kw
	return nil
}

// Keyword returns a stored keyword, for assertions and the API surface.
func (g *Gateway) Keyword(keywordID string) (monitor.Keyword, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	kw, ok := g.keywords[keywordID]
	return kw, ok
}

// RunLogs returns a copy of the appended audit trail.
func (g *Gateway) RunLogs() []monitor.RunLog {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]monitor.RunLog(nil), g.runLogs...)
}

// RecordCount reports how many records are stored.
func (g *Gateway) RecordCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.records)
}
