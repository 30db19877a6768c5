package directory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jhilbert/bg/internal/store/memstore"
	"github.com/jhilbert/bg/internal/types"
)

func newTestDirectory(t *testing.T, ttl time.Duration) (*Directory, *time.Time) {
	t.Helper()
	d := New(memstore.NewDirectory(), ttl, zap.NewNop())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	return d, &now
}

func TestUpsertAndList(t *testing.T) {
	d, now := newTestDirectory(t, 0)
	ctx := context.Background()

	require.NoError(t, d.Upsert(ctx, "room-one", []types.Player{
		{Role: types.RoleHost, Name: " Ada "},
	}, *now))
	require.NoError(t, d.Upsert(ctx, "Room-Two", []types.Player{
		{Role: types.RoleGuest, Name: "Grace"},
		{Role: types.RoleHost, Name: "Alan"},
	}, now.Add(time.Minute)))

	rooms, err := d.List(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 2)

	// most recent first
	assert.Equal(t, "room-two", rooms[0].RoomID)
	assert.Equal(t, 2, rooms[0].PlayerCount)
	assert.False(t, rooms[0].OpenSeat)
	// host listed before guest regardless of input order
	assert.Equal(t, types.RoleHost, rooms[0].Players[0].Role)
	assert.Equal(t, "Alan", rooms[0].Players[0].Name)

	assert.Equal(t, "room-one", rooms[1].RoomID)
	assert.True(t, rooms[1].OpenSeat)
	assert.Equal(t, "Ada", rooms[1].Players[0].Name)
	assert.Equal(t, now.UnixMilli(), rooms[1].UpdatedAt)
}

func TestList_TieBreaksOnRoomID(t *testing.T) {
	d, now := newTestDirectory(t, 0)
	ctx := context.Background()
	p := []types.Player{{Role: types.RoleHost, Name: "Ada"}}

	require.NoError(t, d.Upsert(ctx, "zzzz", p, *now))
	require.NoError(t, d.Upsert(ctx, "aaaa", p, *now))

	rooms, err := d.List(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, "aaaa", rooms[0].RoomID)
	assert.Equal(t, "zzzz", rooms[1].RoomID)
}

func TestUpsert_EmptyRosterDeletes(t *testing.T) {
	d, now := newTestDirectory(t, 0)
	ctx := context.Background()

	require.NoError(t, d.Upsert(ctx, "room-one", []types.Player{
		{Role: types.RoleHost, Name: "Ada"},
	}, *now))
	require.NoError(t, d.Upsert(ctx, "room-one", nil, *now))

	rooms, err := d.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestUpsert_InvalidRoomCodeIsNoop(t *testing.T) {
	d, now := newTestDirectory(t, 0)
	require.NoError(t, d.Upsert(context.Background(), "!!", []types.Player{
		{Role: types.RoleHost, Name: "Ada"},
	}, *now))

	rooms, err := d.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestList_EvictsStaleEntries(t *testing.T) {
	d, now := newTestDirectory(t, time.Hour)
	ctx := context.Background()
	p := []types.Player{{Role: types.RoleHost, Name: "Ada"}}

	require.NoError(t, d.Upsert(ctx, "old-room", p, *now))
	require.NoError(t, d.Upsert(ctx, "new-room", p, now.Add(50*time.Minute)))

	*now = now.Add(70 * time.Minute)
	rooms, err := d.List(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "new-room", rooms[0].RoomID)

	// the stale entry was deleted, not just skipped
	*now = now.Add(-70 * time.Minute)
	rooms, err = d.List(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
}

func TestRemove(t *testing.T) {
	d, now := newTestDirectory(t, 0)
	ctx := context.Background()
	require.NoError(t, d.Upsert(ctx, "room-one", []types.Player{
		{Role: types.RoleHost, Name: "Ada"},
	}, *now))
	require.NoError(t, d.Remove(ctx, "ROOM-ONE"))

	rooms, err := d.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, rooms)
}
