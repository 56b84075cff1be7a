package service

import (
	"context"
	"testing"
	"time"

	"wisefido-camera/internal/state"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSeedWatermark(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	states := state.NewStateStore(client, "hub:state:", zap.NewNop())
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	got := SeedWatermark(ctx, states, "zm", 5*time.Minute, now, zap.NewNop())
	assert.True(t, got.Equal(now.Add(-5*time.Minute)), "no checkpoint")

	saved := now.Add(-time.Hour)
	require.NoError(t, states.SaveWatermark(ctx, "zm", saved, "c1"))
	got = SeedWatermark(ctx, states, "zm", 5*time.Minute, now, zap.NewNop())
	assert.True(t, got.Equal(saved), "restored from checkpoint")

	require.NoError(t, mr.Set("hub:state:zm:watermark", "garbage"))
	got = SeedWatermark(ctx, states, "zm", 5*time.Minute, now, zap.NewNop())
	assert.True(t, got.Equal(now.Add(-5*time.Minute)), "unreadable checkpoint")
}
