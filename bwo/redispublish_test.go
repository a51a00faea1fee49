package bwo_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/offlinefirst/synccore/bwo"
	"github.com/offlinefirst/synccore/model"
)

// TestRedisPublisherWritesQualityAndThroughput covers the optional
// cross-process mirroring described in spec section 4.B, against an
// in-memory miniredis server rather than a live Redis instance.
func TestRedisPublisherWritesQualityAndThroughput(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	publisher := bwo.NewRedisPublisher(client, "synccore:bwo", time.Minute)
	ctx := context.Background()

	require.NoError(t, publisher.PublishQuality(ctx, model.NetworkQuality{
		ConnectionType:     model.ConnectionWiFi,
		EstimatedBandwidth: 1 << 20,
	}))
	require.NoError(t, publisher.PublishThroughput(ctx, 12345.5))

	exists, err := client.Exists(ctx, "synccore:bwo:quality").Result()
	require.NoError(t, err)
	require.EqualValues(t, 1, exists)

	value, err := client.Get(ctx, "synccore:bwo:throughput").Result()
	require.NoError(t, err)
	require.Equal(t, "12345.500000", value)
}
