package monitor

import (
	"context"
	"time"
)

// Fetcher turns a keyword into candidate records from one source.
type Fetcher interface {
	Source() SourceID
	Fetch(ctx context.Context, job FetchJob) ([]CandidateRecord, error)
}

// Gateway is the durable store for records, ids, and snapshots.
type Gateway interface {
	// BatchUpsert persists enriched records idempotently by dedup key and
	// returns the number of rows actually inserted. Safe to retry.
	BatchUpsert(ctx context.Context, records []EnrichedRecord) (int, error)

	// QueryExistingIDs returns the subset of keys already persisted. The
	// backing store enforces a hard maximum of MaxIDQueryChunk keys per call;
	// callers must chunk larger lists and union results.
	QueryExistingIDs(ctx context.Context, dedupKeys []string) (map[string]struct{}, error)

	// QueryByKeyword returns enriched records for a term, most recent first.
	// A zero cursor starts from the newest record.
	QueryByKeyword(ctx context.Context, keywordID string, limit int, cursor time.Time) ([]EnrichedRecord, error)

	// UpdateSnapshot merges a snapshot into the keyword row.
	UpdateSnapshot(ctx context.Context, keywordID string, snapshot AnalyticsSnapshot) error

	// AppendRunLog appends one audit entry.
	AppendRunLog(ctx context.Context, entry RunLog) error

	// ListRunLogs returns the most recent run log entries, newest first.
	ListRunLogs(ctx context.Context, limit int) ([]RunLog, error)

	// ListActiveKeywords returns keywords eligible for the next batch run.
	ListActiveKeywords(ctx context.Context) ([]Keyword, error)

	// TouchKeyword records when the pipeline last processed a keyword.
	TouchKeyword(ctx context.Context, keywordID string, processedAt time.Time) error
}

// MaxIDQueryChunk is the hard per-call key limit enforced by the gateway's
// existence-check query.
const MaxIDQueryChunk = 10

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run log IDs.
type IDGenerator interface {
	NewID() (string, error)
}
