package redis

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishJSONToStream_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	id, err := PublishJSONToStream(ctx, client, "hub:readings", map[string]string{"value": "active"}, 100)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs, err := ReadRange(ctx, client, "hub:readings", "-", "+")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].ID)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["data"].(string)), &decoded))
	assert.Equal(t, "active", decoded["value"])
}

func TestReadRange_EmptyStream(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	msgs, err := ReadRange(context.Background(), client, "missing", "-", "+")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
