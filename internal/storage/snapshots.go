package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/conorfennell/hoksip/internal/domain"
	"github.com/conorfennell/hoksip/internal/session"
)

type snapshotRow struct {
	UserID       string `db:"user_id"`
	SessionID    string `db:"session_id"`
	Subject      string `db:"subject"`
	Mode         int    `db:"mode"`
	Batches      string `db:"batches"`
	BatchIndex   int    `db:"batch_index"`
	CardIndex    int    `db:"card_index"`
	Version      int64  `db:"version"`
	StartedAt    int64  `db:"started_at"`
	LastActivity int64  `db:"last_activity"`
}

// SaveSnapshot stores the latest position of a live session, replacing the previous one.
func (db *DB) SaveSnapshot(ctx context.Context, snap session.Snapshot) error {
	batches, err := json.Marshal(snap.Batches)
	if err != nil {
		return fmt.Errorf("failed to encode batches for %s: %w", snap.UserID, err)
	}
	_, err = db.conn.ExecContext(ctx, db.q(`
		INSERT INTO sessions (user_id, session_id, subject, mode, batches, batch_index, card_index,
			version, started_at, last_activity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			session_id = excluded.session_id,
			subject = excluded.subject,
			mode = excluded.mode,
			batches = excluded.batches,
			batch_index = excluded.batch_index,
			card_index = excluded.card_index,
			version = excluded.version,
			started_at = excluded.started_at,
			last_activity = excluded.last_activity
	`),
		snap.UserID,
		snap.SessionID,
		snap.Subject,
		int(snap.Mode),
		string(batches),
		snap.BatchIndex,
		snap.CardIndex,
		int64(snap.Version),
		snap.StartedAt.UnixMilli(),
		snap.LastActivity.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save session snapshot for %s: %w", snap.UserID, err)
	}
	return nil
}

// DeleteSnapshot forgets a user's session. Deleting a missing snapshot is not an error.
func (db *DB) DeleteSnapshot(ctx context.Context, userID string) error {
	if _, err := db.conn.ExecContext(ctx, db.q(`DELETE FROM sessions WHERE user_id = ?`), userID); err != nil {
		return fmt.Errorf("failed to delete session snapshot for %s: %w", userID, err)
	}
	return nil
}

// LoadSnapshots returns every stored session snapshot.
func (db *DB) LoadSnapshots(ctx context.Context) ([]session.Snapshot, error) {
	var rows []snapshotRow
	err := db.conn.SelectContext(ctx, &rows, `
		SELECT user_id, session_id, subject, mode, batches, batch_index, card_index,
			version, started_at, last_activity
		FROM sessions ORDER BY user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load session snapshots: %w", err)
	}

	snaps := make([]session.Snapshot, 0, len(rows))
	for _, r := range rows {
		var batches [][]int64
		if err := json.Unmarshal([]byte(r.Batches), &batches); err != nil {
			return nil, fmt.Errorf("failed to decode batches for %s: %w", r.UserID, err)
		}
		snaps = append(snaps, session.Snapshot{
			SessionID:    r.SessionID,
			UserID:       r.UserID,
			Subject:      r.Subject,
			Mode:         domain.Mode(r.Mode),
			Batches:      batches,
			BatchIndex:   r.BatchIndex,
			CardIndex:    r.CardIndex,
			Version:      uint64(r.Version),
			StartedAt:    time.UnixMilli(r.StartedAt).UTC(),
			LastActivity: time.UnixMilli(r.LastActivity).UTC(),
		})
	}
	return snaps, nil
}
