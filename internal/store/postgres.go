// Package store persists completed calls so the recent-calls list and
// local analytics survive process restarts. The live reconciler is the
// only writer; rows are upserted by call_id.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"voicedash/internal/calls"
	"voicedash/pkg/utils"
)

var ErrNotFound = errors.New("store: call not found")

// Schema for the calls table. Applied by EnsureSchema on startup; the
// deployment may instead manage it with migrations.
const schema = `
CREATE TABLE IF NOT EXISTS recent_calls (
    call_id          TEXT PRIMARY KEY,
    workspace_id     TEXT NOT NULL DEFAULT '',
    campaign_id      TEXT NOT NULL DEFAULT '',
    from_number      TEXT NOT NULL DEFAULT '',
    to_number        TEXT NOT NULL DEFAULT '',
    status           TEXT NOT NULL,
    start_time       TIMESTAMPTZ,
    duration_seconds INTEGER NOT NULL DEFAULT 0,
    answered_by      TEXT NOT NULL DEFAULT '',
    recording_count  INTEGER NOT NULL DEFAULT 0,
    updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS recent_calls_workspace_updated
    ON recent_calls (workspace_id, updated_at DESC);
CREATE INDEX IF NOT EXISTS recent_calls_campaign
    ON recent_calls (campaign_id) WHERE campaign_id <> '';
`

// CallStore is the postgres-backed recent-calls repository. It satisfies
// reconcile.RecentSink.
type CallStore struct {
	db *sql.DB
}

func NewCallStore(db *sql.DB) *CallStore { return &CallStore{db: db} }

func (s *CallStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("store: ensure schema: %w", err)
	}
	return nil
}

// SaveCall upserts a terminal call record.
func (s *CallStore) SaveCall(ctx context.Context, c calls.CallRecord) error {
	const q = `
INSERT INTO recent_calls (
    call_id, workspace_id, campaign_id, from_number, to_number,
    status, start_time, duration_seconds, answered_by, recording_count, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (call_id) DO UPDATE SET
    status           = EXCLUDED.status,
    duration_seconds = EXCLUDED.duration_seconds,
    answered_by      = EXCLUDED.answered_by,
    recording_count  = EXCLUDED.recording_count,
    updated_at       = EXCLUDED.updated_at`

	return utils.WithTx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			c.CallID, c.WorkspaceID, c.CampaignID, c.From, c.To,
			string(c.Status), nullTime(c.StartTime), c.DurationSeconds,
			c.AnsweredBy, c.RecordingCount, c.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("store: save call %s: %w", c.CallID, err)
		}
		return nil
	})
}

// Call fetches one persisted call.
func (s *CallStore) Call(ctx context.Context, callID string) (calls.CallRecord, error) {
	const q = `
SELECT call_id, workspace_id, campaign_id, from_number, to_number,
       status, start_time, duration_seconds, answered_by, recording_count, updated_at
FROM recent_calls WHERE call_id = $1`

	rec, err := scanCall(s.db.QueryRowContext(ctx, q, callID))
	if errors.Is(err, sql.ErrNoRows) {
		return calls.CallRecord{}, ErrNotFound
	}
	return rec, err
}

// Recent lists the newest persisted calls for a workspace.
func (s *CallStore) Recent(ctx context.Context, workspaceID string, limit int) ([]calls.CallRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT call_id, workspace_id, campaign_id, from_number, to_number,
       status, start_time, duration_seconds, answered_by, recording_count, updated_at
FROM recent_calls
WHERE workspace_id = $1
ORDER BY updated_at DESC
LIMIT $2`

	rows, err := s.db.QueryContext(ctx, q, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent calls: %w", err)
	}
	defer rows.Close()

	var out []calls.CallRecord
	for rows.Next() {
		rec, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListBetween returns calls updated inside [from, to), optionally scoped
// to a campaign. Used by the reporting service.
func (s *CallStore) ListBetween(ctx context.Context, workspaceID string, from, to time.Time, campaignID string) ([]calls.CallRecord, error) {
	q := `
SELECT call_id, workspace_id, campaign_id, from_number, to_number,
       status, start_time, duration_seconds, answered_by, recording_count, updated_at
FROM recent_calls
WHERE workspace_id = $1 AND updated_at >= $2 AND updated_at < $3`
	args := []any{workspaceID, from, to}
	if campaignID != "" {
		q += ` AND campaign_id = $4`
		args = append(args, campaignID)
	}
	q += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list calls: %w", err)
	}
	defer rows.Close()

	var out []calls.CallRecord
	for rows.Next() {
		rec, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune deletes rows older than the cutoff and reports how many went.
func (s *CallStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM recent_calls WHERE updated_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("store: prune: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (calls.CallRecord, error) {
	var rec calls.CallRecord
	var status string
	var start sql.NullTime
	err := row.Scan(
		&rec.CallID, &rec.WorkspaceID, &rec.CampaignID, &rec.From, &rec.To,
		&status, &start, &rec.DurationSeconds, &rec.AnsweredBy, &rec.RecordingCount, &rec.UpdatedAt,
	)
	if err != nil {
		return calls.CallRecord{}, err
	}
	rec.Status = calls.CallStatus(status)
	if start.Valid {
		rec.StartTime = start.Time
	}
	return rec, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
