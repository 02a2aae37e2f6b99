package presence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestDisabledTracker(t *testing.T) {
	require := require.New(t)
	tracker := New(nil, time.Minute, zaptest.NewLogger(t))
	id := uuid.New()

	require.NoError(tracker.Seen(context.Background(), id))
	_, online, err := tracker.LastSeen(context.Background(), id)
	require.NoError(err)
	require.False(online)
	require.False(tracker.IsOnline(context.Background(), id))
}

func TestUnreachableRedis(t *testing.T) {
	require := require.New(t)
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer func() { _ = client.Close() }()
	tracker := New(client, time.Minute, zaptest.NewLogger(t))
	id := uuid.New()

	require.Error(tracker.Seen(context.Background(), id))
	require.False(tracker.IsOnline(context.Background(), id))
}
