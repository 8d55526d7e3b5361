package redis

import (
	"context"
	"testing"

	"device-management/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamTransport_Send(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewRedisClient(&config.RedisConfig{Addr: mr.Addr()})
	defer Close(client)

	ctx := context.Background()
	require.NoError(t, Ping(ctx, client))

	tr := NewStreamTransport(client)
	require.NoError(t, tr.Send(ctx, "autoCommand", "s-1", []byte(`{"id":"s-1"}`)))
	require.NoError(t, tr.Send(ctx, "autoCommand", "s-2", []byte(`{"id":"s-2"}`)))
	require.NoError(t, tr.Close())

	msgs, err := ReadStream(ctx, client, "autoCommand", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "autoCommand", msgs[0].Stream)
	assert.Equal(t, "s-1", msgs[0].Values["key"])
	assert.Equal(t, `{"id":"s-1"}`, msgs[0].Values["data"])
	assert.NotEmpty(t, msgs[0].Values["timestamp"])
	assert.Equal(t, "s-2", msgs[1].Values["key"])
}

func TestStreamTransport_SendFailsWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewRedisClient(&config.RedisConfig{Addr: mr.Addr()})
	defer Close(client)

	mr.Close()

	err := NewStreamTransport(client).Send(context.Background(), "uiCommand", "d-1", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "uiCommand")
}
