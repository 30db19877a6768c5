// Package store defines the repositories backing the name registry, the
// room directory and per-room snapshot persistence. Implementations:
// memstore (in-process) and gormstore (postgres).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jhilbert/bg/internal/game"
	"github.com/jhilbert/bg/internal/types"
)

var ErrNotFound = errors.New("store: not found")

// NameRecord is the persisted ownership of one display name.
type NameRecord struct {
	NameKey       string
	Name          string
	OwnerClientID string
	RoomID        string
	UpdatedAt     time.Time
	ClaimedAt     time.Time
}

// DirectoryRecord is the mirrored roster of one room, for listing.
type DirectoryRecord struct {
	RoomID    string
	Players   []types.Player
	UpdatedAt time.Time
}

// SnapshotRecord is the durable per-room state: the latest accepted
// snapshot plus the empty-since marker driving eviction.
type SnapshotRecord struct {
	RoomID     string
	Payload    *game.Snapshot
	UpdatedAt  time.Time
	EmptySince *time.Time
}

type NameStore interface {
	Get(ctx context.Context, nameKey string) (NameRecord, error)
	Put(ctx context.Context, rec NameRecord) error
	Delete(ctx context.Context, nameKey string) error
}

type DirectoryStore interface {
	Put(ctx context.Context, rec DirectoryRecord) error
	Delete(ctx context.Context, roomID string) error
	List(ctx context.Context) ([]DirectoryRecord, error)
}

type SnapshotStore interface {
	Load(ctx context.Context, roomID string) (SnapshotRecord, error)
	// SaveSnapshot replaces the payload, keeping any empty marker.
	SaveSnapshot(ctx context.Context, roomID string, snap *game.Snapshot, at time.Time) error
	MarkEmpty(ctx context.Context, roomID string, at time.Time) error
	ClearEmpty(ctx context.Context, roomID string) error
	Delete(ctx context.Context, roomID string) error
}
