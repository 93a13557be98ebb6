package session

import (
	"context"
	"time"

	"github.com/conorfennell/hoksip/internal/domain"
)

// Snapshot is the persisted form of a live session.
type Snapshot struct {
	SessionID    string
	UserID       string
	Subject      string
	Mode         domain.Mode
	Batches      [][]int64
	BatchIndex   int
	CardIndex    int
	Version      uint64
	StartedAt    time.Time
	LastActivity time.Time
}

// SnapshotStore persists snapshots so sessions survive a restart.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	DeleteSnapshot(ctx context.Context, userID string) error
	LoadSnapshots(ctx context.Context) ([]Snapshot, error)
}
