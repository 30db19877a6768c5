// Package directory keeps the mirrored roster of every active room for
// lobby listings. It is not authoritative — each room's coordinator is —
// and it evicts empty or stale entries lazily during List.
package directory

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/jhilbert/bg/internal/ident"
	"github.com/jhilbert/bg/internal/store"
	"github.com/jhilbert/bg/internal/types"
)

const DefaultTTL = 24 * time.Hour

type Directory struct {
	rooms store.DirectoryStore
	ttl   time.Duration
	log   *zap.Logger

	now func() time.Time
}

func New(rooms store.DirectoryStore, ttl time.Duration, log *zap.Logger) *Directory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Directory{rooms: rooms, ttl: ttl, log: log, now: time.Now}
}

// Upsert replaces the stored roster for a room. An empty roster deletes
// the entry; the listing never shows zero-player rooms.
func (d *Directory) Upsert(ctx context.Context, roomID string, players []types.Player, updatedAt time.Time) error {
	roomID = ident.NormalizeRoomCode(roomID)
	if roomID == "" {
		return nil
	}
	normalized := types.NormalizePlayers(players, ident.NormalizePlayerName)
	if len(normalized) == 0 {
		return d.rooms.Delete(ctx, roomID)
	}
	if updatedAt.IsZero() {
		updatedAt = d.now()
	}
	return d.rooms.Put(ctx, store.DirectoryRecord{
		RoomID:    roomID,
		Players:   normalized,
		UpdatedAt: updatedAt,
	})
}

func (d *Directory) Remove(ctx context.Context, roomID string) error {
	roomID = ident.NormalizeRoomCode(roomID)
	if roomID == "" {
		return nil
	}
	return d.rooms.Delete(ctx, roomID)
}

// List returns the active rooms, most recently active first (room code
// breaks ties). Entries with empty rosters or activity older than the
// staleness window are deleted on the way through — listing is the one
// code path that does bulk eviction.
func (d *Directory) List(ctx context.Context) ([]types.RoomListing, error) {
	records, err := d.rooms.List(ctx)
	if err != nil {
		return nil, err
	}

	now := d.now()
	rooms := make([]types.RoomListing, 0, len(records))
	for _, rec := range records {
		roomID := ident.NormalizeRoomCode(rec.RoomID)
		players := types.NormalizePlayers(rec.Players, ident.NormalizePlayerName)
		if roomID == "" || len(players) == 0 || now.Sub(rec.UpdatedAt) > d.ttl {
			if err := d.rooms.Delete(ctx, rec.RoomID); err != nil {
				d.log.Warn("directory eviction failed", zap.String("room", rec.RoomID), zap.Error(err))
			}
			continue
		}
		rooms = append(rooms, types.RoomListing{
			RoomID:      roomID,
			PlayerCount: len(players),
			Players:     players,
			UpdatedAt:   rec.UpdatedAt.UnixMilli(),
			OpenSeat:    len(players) == 1,
		})
	}

	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].UpdatedAt != rooms[j].UpdatedAt {
			return rooms[i].UpdatedAt > rooms[j].UpdatedAt
		}
		return rooms[i].RoomID < rooms[j].RoomID
	})
	return rooms, nil
}
