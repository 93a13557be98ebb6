package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/conorfennell/hoksip/internal/domain"
)

// Source represents a deck source, either a local path or a Git URL, imported into one subject.
type Source struct {
	ID          int64  `db:"id"`
	Owner       string `db:"owner"`
	Subject     string `db:"subject"`
	Path        string `db:"path"`
	LastScanned int64  `db:"last_scanned"` // unix millis, 0 when never scanned
}

// EnsureSource returns the source for path, inserting it on first use.
func (db *DB) EnsureSource(ctx context.Context, owner, subject, path string) (Source, error) {
	_, err := db.conn.ExecContext(ctx, db.q(`
		INSERT INTO sources (owner, subject, path) VALUES (?, ?, ?)
		ON CONFLICT (owner, subject, path) DO NOTHING
	`), owner, subject, path)
	if err != nil {
		return Source{}, fmt.Errorf("failed to insert source %s: %w", path, err)
	}
	return db.FindSource(ctx, owner, subject, path)
}

// FindSource retrieves a source by its path, or domain.ErrNotFound.
func (db *DB) FindSource(ctx context.Context, owner, subject, path string) (Source, error) {
	var s Source
	err := db.conn.GetContext(ctx, &s, db.q(`
		SELECT id, owner, subject, path, last_scanned
		FROM sources WHERE owner = ? AND subject = ? AND path = ?
	`), owner, subject, path)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Source{}, domain.ErrNotFound
		}
		return Source{}, fmt.Errorf("failed to find source %s: %w", path, err)
	}
	return s, nil
}

// UpdateSourceLastScanned updates the last_scanned timestamp for a source.
func (db *DB) UpdateSourceLastScanned(ctx context.Context, sourceID int64, at time.Time) error {
	_, err := db.conn.ExecContext(ctx, db.q(`UPDATE sources SET last_scanned = ? WHERE id = ?`), at.UnixMilli(), sourceID)
	if err != nil {
		return fmt.Errorf("failed to update last scanned for source ID %d: %w", sourceID, err)
	}
	return nil
}
