// CLAUDE:SUMMARY Snapshot store — metric_snapshots upserts keyed (post_id, phase), trailing averages, collection log.
package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// Schema is the telemetry table set, applied via dbopen.WithSchema.
const Schema = `
-- One validated observation per (post, collection phase). Later passes for
-- the same phase overwrite rather than duplicate.
CREATE TABLE IF NOT EXISTS metric_snapshots (
    id              TEXT PRIMARY KEY,
    post_id         TEXT NOT NULL,
    account_id      TEXT NOT NULL DEFAULT '',
    phase           TEXT NOT NULL,
    collected_at    INTEGER NOT NULL,
    likes           INTEGER,
    retweets        INTEGER,
    replies         INTEGER,
    quotes          INTEGER,
    bookmarks       INTEGER,
    views           INTEGER,
    engagement_rate REAL NOT NULL DEFAULT 0,
    confidence      REAL NOT NULL DEFAULT 0,
    anomalies_json  TEXT NOT NULL DEFAULT '[]',
    warnings_json   TEXT NOT NULL DEFAULT '[]',
    is_verified     INTEGER NOT NULL DEFAULT 0,
    UNIQUE (post_id, phase)
);
CREATE INDEX IF NOT EXISTS idx_snapshots_post_time ON metric_snapshots(post_id, collected_at DESC);
CREATE INDEX IF NOT EXISTS idx_snapshots_account ON metric_snapshots(account_id, collected_at DESC);

-- Per-attempt observability (mirrors a fetch log): every orchestrator run
-- leaves exactly one row here, whatever the outcome.
CREATE TABLE IF NOT EXISTS collection_log (
    id            TEXT PRIMARY KEY,
    post_id       TEXT NOT NULL,
    phase         TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL,
    confidence    REAL NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT '',
    duration_ms   INTEGER NOT NULL DEFAULT 0,
    collected_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_collection_log_time ON collection_log(collected_at DESC);
`

// Collection log statuses.
const (
	StatusStored       = "stored"
	StatusRejected     = "rejected"
	StatusCached       = "cached"
	StatusScrapeFailed = "scrape_failed"
)

// Store wraps a *sql.DB with telemetry queries.
type Store struct {
	DB *sql.DB
}

// NewStore wraps an existing database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}

// UpsertSnapshot inserts or overwrites the snapshot for (post_id, phase).
func (s *Store) UpsertSnapshot(ctx context.Context, snap *MetricSnapshot) error {
	if snap.CollectedAt == 0 {
		snap.CollectedAt = time.Now().UnixMilli()
	}
	anomalies := marshalStrings(snap.Anomalies)
	warnings := marshalStrings(snap.Warnings)

	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO metric_snapshots (id, post_id, account_id, phase, collected_at,
		likes, retweets, replies, quotes, bookmarks, views,
		engagement_rate, confidence, anomalies_json, warnings_json, is_verified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (post_id, phase) DO UPDATE SET
			collected_at = excluded.collected_at,
			likes = excluded.likes,
			retweets = excluded.retweets,
			replies = excluded.replies,
			quotes = excluded.quotes,
			bookmarks = excluded.bookmarks,
			views = excluded.views,
			engagement_rate = excluded.engagement_rate,
			confidence = excluded.confidence,
			anomalies_json = excluded.anomalies_json,
			warnings_json = excluded.warnings_json,
			is_verified = excluded.is_verified`,
		snap.ID, snap.PostID, snap.AccountID, snap.Phase, snap.CollectedAt,
		snap.Likes, snap.Retweets, snap.Replies, snap.Quotes, snap.Bookmarks, snap.Views,
		snap.EngagementRate, snap.Confidence, anomalies, warnings, snap.IsVerified,
	)
	return err
}

const snapshotCols = `id, post_id, account_id, phase, collected_at,
	likes, retweets, replies, quotes, bookmarks, views,
	engagement_rate, confidence, anomalies_json, warnings_json, is_verified`

// LatestSnapshot returns the most recent snapshot for a post, or nil.
func (s *Store) LatestSnapshot(ctx context.Context, postID string) (*MetricSnapshot, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+snapshotCols+` FROM metric_snapshots
		WHERE post_id = ? ORDER BY collected_at DESC LIMIT 1`, postID)
	return scanSnapshot(row)
}

// GetSnapshot returns the snapshot for (post_id, phase), or nil.
func (s *Store) GetSnapshot(ctx context.Context, postID, phase string) (*MetricSnapshot, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+snapshotCols+` FROM metric_snapshots
		WHERE post_id = ? AND phase = ?`, postID, phase)
	return scanSnapshot(row)
}

// ListSnapshots returns all snapshots for a post ordered by collection time.
func (s *Store) ListSnapshots(ctx context.Context, postID string) ([]*MetricSnapshot, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+snapshotCols+` FROM metric_snapshots
		WHERE post_id = ? ORDER BY collected_at ASC`, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []*MetricSnapshot
	for rows.Next() {
		snap, err := scanSnapshotRows(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// AccountAvgEngagement returns the account's trailing average of
// likes+retweets+replies over verified snapshots since the given time.
// Returns 0 when the account has no verified history.
func (s *Store) AccountAvgEngagement(ctx context.Context, accountID string, since int64) (float64, error) {
	var avg sql.NullFloat64
	err := s.DB.QueryRowContext(ctx,
		`SELECT AVG(COALESCE(likes,0) + COALESCE(retweets,0) + COALESCE(replies,0))
		FROM metric_snapshots
		WHERE account_id = ? AND is_verified = 1 AND collected_at >= ?`,
		accountID, since).Scan(&avg)
	if err != nil {
		return 0, err
	}
	return avg.Float64, nil
}

// RecordCollection appends one collection_log row.
func (s *Store) RecordCollection(ctx context.Context, id, postID, phase, status string, confidence float64, errMsg string, duration time.Duration) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO collection_log (id, post_id, phase, status, confidence, error_message, duration_ms, collected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, postID, phase, status, confidence, errMsg, duration.Milliseconds(), time.Now().UnixMilli())
	return err
}

// HealthStats aggregates collection outcomes since a point in time. Per-item
// failures stay in the log; operators see rates.
type HealthStats struct {
	Attempts           int     `json:"attempts"`
	Stored             int     `json:"stored"`
	Rejected           int     `json:"rejected"`
	ScrapeFailures     int     `json:"scrape_failures"`
	CacheHits          int     `json:"cache_hits"`
	SnapshotCount      int     `json:"snapshot_count"`
	VerifiedCount      int     `json:"verified_count"`
	ScrapeSuccessRate  float64 `json:"scrape_success_rate"`
	ValidationPassRate float64 `json:"validation_pass_rate"`
}

// Stats computes aggregate health counters since the given time.
func (s *Store) Stats(ctx context.Context, since int64) (*HealthStats, error) {
	st := &HealthStats{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
		FROM collection_log WHERE collected_at >= ?`,
		StatusStored, StatusRejected, StatusScrapeFailed, StatusCached, since).
		Scan(&st.Attempts, &st.Stored, &st.Rejected, &st.ScrapeFailures, &st.CacheHits)
	if err != nil {
		return nil, err
	}

	err = s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(is_verified), 0)
		FROM metric_snapshots WHERE collected_at >= ?`, since).
		Scan(&st.SnapshotCount, &st.VerifiedCount)
	if err != nil {
		return nil, err
	}

	if attempted := st.Attempts - st.CacheHits; attempted > 0 {
		st.ScrapeSuccessRate = float64(attempted-st.ScrapeFailures) / float64(attempted)
	}
	if validated := st.Stored + st.Rejected; validated > 0 {
		st.ValidationPassRate = float64(st.Stored) / float64(validated)
	}
	return st, nil
}

func scanSnapshot(row *sql.Row) (*MetricSnapshot, error) {
	snap, err := scanSnapshotFrom(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return snap, err
}

func scanSnapshotRows(rows *sql.Rows) (*MetricSnapshot, error) {
	return scanSnapshotFrom(rows.Scan)
}

func scanSnapshotFrom(scan func(...any) error) (*MetricSnapshot, error) {
	var snap MetricSnapshot
	var likes, retweets, replies, quotes, bookmarks, views sql.NullInt64
	var anomalies, warnings string
	err := scan(&snap.ID, &snap.PostID, &snap.AccountID, &snap.Phase, &snap.CollectedAt,
		&likes, &retweets, &replies, &quotes, &bookmarks, &views,
		&snap.EngagementRate, &snap.Confidence, &anomalies, &warnings, &snap.IsVerified)
	if err != nil {
		return nil, err
	}
	snap.Likes = nullable(likes)
	snap.Retweets = nullable(retweets)
	snap.Replies = nullable(replies)
	snap.Quotes = nullable(quotes)
	snap.Bookmarks = nullable(bookmarks)
	snap.Views = nullable(views)
	snap.Anomalies = unmarshalStrings(anomalies)
	snap.Warnings = unmarshalStrings(warnings)
	return &snap, nil
}

func nullable(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func marshalStrings(ss []string) string {
	if len(ss) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(ss)
	return string(b)
}

func unmarshalStrings(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(s), &out)
	return out
}
