package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jhilbert/bg/internal/store/memstore"
)

func newTestRegistry(t *testing.T, ttl time.Duration) (*Registry, *time.Time) {
	t.Helper()
	r := New(memstore.NewNames(), ttl, zap.NewNop())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	return r, &now
}

func TestReserve_NewName(t *testing.T) {
	r, _ := newTestRegistry(t, 0)
	res, err := r.Reserve(context.Background(), "  Ada   Lovelace ", "client-a", "room-one", false)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", res.Name)
	assert.False(t, res.Claimed)

	st, err := r.Status(context.Background(), "ada lovelace", "client-a")
	require.NoError(t, err)
	assert.True(t, st.Exists)
	assert.True(t, st.OwnedByRequester)
	assert.True(t, st.Available)
	assert.Equal(t, "Ada Lovelace", st.Name)
}

func TestReserve_ConflictAndClaim(t *testing.T) {
	r, _ := newTestRegistry(t, 0)
	_, err := r.Reserve(context.Background(), "Ada", "client-a", "", false)
	require.NoError(t, err)

	// B without claim: taken, canonical spelling reported
	_, err = r.Reserve(context.Background(), "ADA", "client-b", "", false)
	var taken *TakenError
	require.ErrorAs(t, err, &taken)
	assert.Equal(t, "Ada", taken.Name)

	// B with claim takes it over
	res, err := r.Reserve(context.Background(), "ADA", "client-b", "", true)
	require.NoError(t, err)
	assert.True(t, res.Claimed)
	assert.Equal(t, "ADA", res.Name)

	// A's subsequent non-claim reservation now fails
	_, err = r.Reserve(context.Background(), "Ada", "client-a", "", false)
	require.ErrorAs(t, err, &taken)
	assert.Equal(t, "ADA", taken.Name)
}

func TestReserve_RefreshByOwnerIsIdempotent(t *testing.T) {
	r, _ := newTestRegistry(t, 0)
	res, err := r.Reserve(context.Background(), "Ada", "client-a", "", false)
	require.NoError(t, err)
	assert.False(t, res.Claimed)

	res, err = r.Reserve(context.Background(), "Ada", "client-a", "room-two", false)
	require.NoError(t, err)
	assert.False(t, res.Claimed)
}

func TestReserve_Validation(t *testing.T) {
	r, _ := newTestRegistry(t, 0)
	_, err := r.Reserve(context.Background(), "   ", "client-a", "", false)
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = r.Reserve(context.Background(), "Ada", "!!!", "", false)
	assert.ErrorIs(t, err, ErrMissingClient)
}

func TestReserve_StaleRecordExpires(t *testing.T) {
	r, now := newTestRegistry(t, time.Hour)
	_, err := r.Reserve(context.Background(), "Ada", "client-a", "", false)
	require.NoError(t, err)

	*now = now.Add(2 * time.Hour)

	// past the staleness window anyone may take the name without a claim
	res, err := r.Reserve(context.Background(), "Ada", "client-b", "", false)
	require.NoError(t, err)
	assert.False(t, res.Claimed)

	st, err := r.Status(context.Background(), "Ada", "client-b")
	require.NoError(t, err)
	assert.True(t, st.OwnedByRequester)
}

func TestStatus_StaleRecordReadsAvailable(t *testing.T) {
	r, now := newTestRegistry(t, time.Hour)
	_, err := r.Reserve(context.Background(), "Ada", "client-a", "", false)
	require.NoError(t, err)

	*now = now.Add(90 * time.Minute)
	st, err := r.Status(context.Background(), "Ada", "client-b")
	require.NoError(t, err)
	assert.False(t, st.Exists)
	assert.True(t, st.Available)
}

func TestRelease(t *testing.T) {
	r, _ := newTestRegistry(t, 0)
	_, err := r.Reserve(context.Background(), "Ada", "client-a", "", false)
	require.NoError(t, err)

	released, err := r.Release(context.Background(), "Ada", "client-b")
	assert.ErrorIs(t, err, ErrNotOwner)
	assert.False(t, released)

	released, err = r.Release(context.Background(), "ada", "client-a")
	require.NoError(t, err)
	assert.True(t, released)

	// releasing a missing record is a quiet no-op
	released, err = r.Release(context.Background(), "Ada", "client-a")
	require.NoError(t, err)
	assert.False(t, released)
}
