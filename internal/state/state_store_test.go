package state

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newStore(t *testing.T) (*StateStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStateStore(client, "hub:state:", zap.NewNop()), mr
}

func TestStateStore_Watermark(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	_, err := s.LoadWatermark(ctx, "zm")
	assert.ErrorIs(t, err, ErrStateNotFound)

	wm := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("EDT", -4*3600))
	require.NoError(t, s.SaveWatermark(ctx, "zm", wm, "cycle-1"))
	assert.True(t, mr.Exists("hub:state:zm:watermark"))

	got, err := s.LoadWatermark(ctx, "zm")
	require.NoError(t, err)
	assert.True(t, got.Equal(wm))

	deleted, err := s.ResetWatermark(ctx, "zm")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.ResetWatermark(ctx, "zm")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestStateStore_HeartbeatExpires(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.SaveHeartbeat(ctx, "zm", Heartbeat{LastSuccess: now, CycleID: "c", Readings: 3}, 15*time.Second))

	hb, err := s.LoadHeartbeat(ctx, "zm")
	require.NoError(t, err)
	assert.True(t, hb.LastSuccess.Equal(now))
	assert.Equal(t, 3, hb.Readings)

	mr.FastForward(16 * time.Second)
	_, err = s.LoadHeartbeat(ctx, "zm")
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestStateStore_GetStateBadJSON(t *testing.T) {
	s, mr := newStore(t)
	require.NoError(t, mr.Set("hub:state:zm:watermark", "{not json"))

	_, err := s.LoadWatermark(context.Background(), "zm")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrStateNotFound)
}
