// Package dedupe removes candidate records already seen in the same batch or
// in persisted history.
package dedupe

import (
	"context"
	"fmt"

	"github.com/mentionwatch/mentionwatch/internal/monitor"
)

// Deduplicator filters candidates against the persisted record set.
type Deduplicator struct {
	gateway   monitor.Gateway
	chunkSize int
}

// New creates a Deduplicator. The chunk size is capped at the gateway's hard
// per-query key limit.
func New(gateway monitor.Gateway) *Deduplicator {
	return &Deduplicator{
		gateway:   gateway,
		chunkSize: monitor.MaxIDQueryChunk,
	}
}

// FilterNew returns the candidates not yet persisted. Phase one collapses
// duplicate dedup keys within the batch, keeping the first occurrence;
// phase two drops any whose key the gateway already knows. Existence lookups
// are chunked because the gateway rejects oversized id lists.
func (d *Deduplicator) FilterNew(ctx context.Context, candidates []monitor.CandidateRecord) ([]monitor.CandidateRecord, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	unique := make([]monitor.CandidateRecord, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		key := c.DedupKey()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, c)
	}

	keys := make([]string, 0, len(unique))
	for _, c := range unique {
		keys = append(keys, c.DedupKey())
	}
	existing, err := d.lookupExisting(ctx, keys)
	if err != nil {
		return nil, err
	}

	fresh := unique[:0]
	for _, c := range unique {
		if _, ok := existing[c.DedupKey()]; ok {
			continue
		}
		fresh = append(fresh, c)
	}
	return fresh, nil
}

func (d *Deduplicator) lookupExisting(ctx context.Context, keys []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{}, len(keys))
	for start := 0; start < len(keys); start += d.chunkSize {
		end := start + d.chunkSize
		if end > len(keys) {
			end = len(keys)
		}
		chunk, err := d.gateway.QueryExistingIDs(ctx, keys[start:end])
		if err != nil {
			return nil, fmt.Errorf("query existing ids: %w", err)
		}
		for key := range chunk {
			existing[key] = struct{}{}
		}
	}
	return existing, nil
}
