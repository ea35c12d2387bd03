package forwarder

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gaziuzay/gcslink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "track.db")

	store, err := NewTrackStore(ctx, path, "/dev/ttyACM0")
	require.NoError(t, err)
	assert.Equal(t, int64(1), store.SessionID())

	t0 := time.UnixMilli(1700000000000)
	require.NoError(t, store.Forward(gcslink.Position{Lat: 40, Lon: -74, AltM: 100, T: t0}))
	require.NoError(t, store.Forward(gcslink.AirData{Groundspeed: 3}))
	require.NoError(t, store.Forward(gcslink.Position{Lat: 40.001, Lon: -74.001, AltM: 101.5, T: t0.Add(100 * time.Millisecond)}))

	positions, err := store.Positions(ctx, store.SessionID())
	require.NoError(t, err)
	assert.Equal(t, []gcslink.Position{
		{Lat: 40, Lon: -74, AltM: 100, T: t0},
		{Lat: 40.001, Lon: -74.001, AltM: 101.5, T: t0.Add(100 * time.Millisecond)},
	}, positions)
	require.NoError(t, store.Close())
	assert.NoError(t, store.Close())

	// reopening starts a new session and keeps the old one
	store, err = NewTrackStore(ctx, path, "/dev/ttyACM0")
	require.NoError(t, err)
	defer store.Close()
	assert.Equal(t, int64(2), store.SessionID())
	positions, err = store.Positions(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, positions, 2)
	positions, err = store.Positions(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, positions)
}
