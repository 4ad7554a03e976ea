// Package postgres provides the Postgres-backed persistence gateway.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mentionwatch/mentionwatch/internal/monitor"
)

// pool is the subset of pgxpool.Pool the gateway needs; pgxmock satisfies it.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// Gateway implements monitor.Gateway on Postgres.
type Gateway struct {
	pool pool
}

// New creates a Postgres-backed Gateway using the provided config.
func New(ctx context.Context, cfg Config) (*Gateway, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Gateway{pool: p}, nil
}

// NewWithPool constructs a Gateway from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Gateway, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Gateway{pool: p}, nil
}

// Close releases the underlying pool resources.
func (g *Gateway) Close() {
	if g == nil || g.pool == nil {
		return
	}
	g.pool.Close()
}

const upsertMention = `
INSERT INTO mentions (
	dedup_key,
	keyword_id,
	source,
	external_id,
	author,
	content,
	posted_at,
	fetched_at,
	url,
	language,
	likes,
	shares,
	replies,
	quotes,
	impressions,
	estimated,
	sentiment_label,
	sentiment_score,
	sentiment_confidence
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19
)
ON CONFLICT (dedup_key) DO NOTHING`

// BatchUpsert persists enriched records idempotently by dedup key and
// returns how many rows were newly inserted. Any failure propagates: a
// dropped batch of already-enriched records must be loud, not silent.
func (g *Gateway) BatchUpsert(ctx context.Context, records []monitor.EnrichedRecord) (int, error) {
	inserted := 0
	for _, rec := range records {
		if rec.DedupKey == "" {
			return inserted, fmt.Errorf("record %s has no dedup key", rec.ExternalID)
		}
		tag, err := g.pool.Exec(ctx, upsertMention,
			rec.DedupKey,
			rec.KeywordID,
			string(rec.Source),
			rec.ExternalID,
			rec.Author,
			rec.Content,
			rec.PostedAt,
			rec.FetchedAt,
			rec.URL,
			rec.Language,
			rec.Engagement.Likes,
			rec.Engagement.Shares,
			rec.Engagement.Replies,
			rec.Engagement.Quotes,
			rec.Engagement.Impressions,
			rec.Engagement.Estimated,
			string(rec.SentimentLabel),
			rec.SentimentScore,
			rec.SentimentConfidence,
		)
		if err != nil {
			return inserted, fmt.Errorf("upsert mention %s: %w", rec.DedupKey, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// QueryExistingIDs returns the subset of keys already persisted. The query
// carries at most MaxIDQueryChunk equality terms; callers chunk and union.
func (g *Gateway) QueryExistingIDs(ctx context.Context, dedupKeys []string) (map[string]struct{}, error) {
	if len(dedupKeys) == 0 {
		return map[string]struct{}{}, nil
	}
	if len(dedupKeys) > monitor.MaxIDQueryChunk {
		return nil, fmt.Errorf("id query accepts at most %d keys, got %d", monitor.MaxIDQueryChunk, len(dedupKeys))
	}
	rows, err := g.pool.Query(ctx,
		`SELECT dedup_key FROM mentions WHERE dedup_key = ANY($1)`, dedupKeys)
	if err != nil {
		return nil, fmt.Errorf("query existing ids: %w", err)
	}
	defer rows.Close()

	found := make(map[string]struct{}, len(dedupKeys))
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan dedup key: %w", err)
		}
		found[key] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate existing ids: %w", err)
	}
	return found, nil
}

const selectMentions = `
SELECT
	dedup_key, keyword_id, source, external_id, author, content,
	posted_at, fetched_at, url, language,
	likes, shares, replies, quotes, impressions, estimated,
	sentiment_label, sentiment_score, sentiment_confidence
FROM mentions
WHERE keyword_id = $1 AND ($2::timestamptz IS NULL OR fetched_at < $2)
ORDER BY fetched_at DESC
LIMIT $3`

// QueryByKeyword returns enriched records most recent first. A zero cursor
// starts at the newest record; otherwise rows strictly older than the cursor
// are returned.
func (g *Gateway) QueryByKeyword(ctx context.Context, keywordID string, limit int, cursor time.Time) ([]monitor.EnrichedRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var cursorArg *time.Time
	if !cursor.IsZero() {
		cursorArg = &cursor
	}
	rows, err := g.pool.Query(ctx, selectMentions, keywordID, cursorArg, limit)
	if err != nil {
		return nil, fmt.Errorf("query mentions for %s: %w", keywordID, err)
	}
	defer rows.Close()

	var records []monitor.EnrichedRecord
	for rows.Next() {
		rec, err := scanMention(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mentions: %w", err)
	}
	return records, nil
}

func scanMention(rows pgx.Rows) (monitor.EnrichedRecord, error) {
	var (
		rec    monitor.EnrichedRecord
		source string
		label  string
	)
	if err := rows.Scan(
		&rec.DedupKey,
		&rec.KeywordID,
		&source,
		&rec.ExternalID,
		&rec.Author,
		&rec.Content,
		&rec.PostedAt,
		&rec.FetchedAt,
		&rec.URL,
		&rec.Language,
		&rec.Engagement.Likes,
		&rec.Engagement.Shares,
		&rec.Engagement.Replies,
		&rec.Engagement.Quotes,
		&rec.Engagement.Impressions,
		&rec.Engagement.Estimated,
		&label,
		&rec.SentimentScore,
		&rec.SentimentConfidence,
	); err != nil {
		return monitor.EnrichedRecord{}, fmt.Errorf("scan mention: %w", err)
	}
	rec.Source = monitor.SourceID(source)
	rec.SentimentLabel = monitor.SentimentLabel(label)
	return rec, nil
}

// UpdateSnapshot merges the snapshot into the keyword row.
func (g *Gateway) UpdateSnapshot(ctx context.Context, keywordID string, snapshot monitor.AnalyticsSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	tag, err := g.pool.Exec(ctx,
		`UPDATE keywords SET snapshot = $2, snapshot_updated_at = $3 WHERE id = $1`,
		keywordID, payload, snapshot.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update snapshot for %s: %w", keywordID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("keyword %s not found", keywordID)
	}
	return nil
}

// AppendRunLog appends one audit entry.
func (g *Gateway) AppendRunLog(ctx context.Context, entry monitor.RunLog) error {
	_, err := g.pool.Exec(ctx, `
INSERT INTO run_logs (id, keyword_id, term, status, records_found, new_records, duration_ms, error_text, started_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		entry.ID,
		entry.KeywordID,
		entry.Term,
		string(entry.Status),
		entry.RecordsFound,
		entry.NewRecords,
		entry.Duration.Milliseconds(),
		entry.ErrorText,
		entry.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("append run log: %w", err)
	}
	return nil
}

// ListRunLogs returns the newest run log entries first.
func (g *Gateway) ListRunLogs(ctx context.Context, limit int) ([]monitor.RunLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := g.pool.Query(ctx, `
SELECT id, keyword_id, term, status, records_found, new_records, duration_ms, error_text, started_at
FROM run_logs
ORDER BY started_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query run logs: %w", err)
	}
	defer rows.Close()

	var logs []monitor.RunLog
	for rows.Next() {
		var (
			entry      monitor.RunLog
			status     string
			durationMS int64
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.KeywordID,
			&entry.Term,
			&status,
			&entry.RecordsFound,
			&entry.NewRecords,
			&durationMS,
			&entry.ErrorText,
			&entry.StartedAt,
		); err != nil {
			return nil, fmt.Errorf("scan run log: %w", err)
		}
		entry.Status = monitor.RunStatus(status)
		entry.Duration = time.Duration(durationMS) * time.Millisecond
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run logs: %w", err)
	}
	return logs, nil
}

// ListActiveKeywords returns keywords eligible for the next batch run.
func (g *Gateway) ListActiveKeywords(ctx context.Context) ([]monitor.Keyword, error) {
	rows, err := g.pool.Query(ctx, `
SELECT id, term, priority, active, last_processed_at
FROM keywords
WHERE active
ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list active keywords: %w", err)
	}
	defer rows.Close()

	var keywords []monitor.Keyword
	for rows.Next() {
		var (
			kw       monitor.Keyword
			priority string
		)
		if err := rows.Scan(&kw.ID, &kw.Term, &priority, &kw.Active, &kw.LastProcessedAt); err != nil {
			return nil, fmt.Errorf("scan keyword: %w", err)
		}
		kw.Priority = monitor.Priority(priority)
		keywords = append(keywords, kw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keywords: %w", err)
	}
	return keywords, nil
}

// TouchKeyword records when the pipeline last processed a keyword.
func (g *Gateway) TouchKeyword(ctx context.Context, keywordID string, processedAt time.Time) error {
	tag, err := g.pool.Exec(ctx,
		`UPDATE keywords SET last_processed_at = $2 WHERE id = $1`,
		keywordID, processedAt)
	if err != nil {
		return fmt.Errorf("touch keyword %s: %w", keywordID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("keyword %s not found", keywordID)
	}
	return nil
}
