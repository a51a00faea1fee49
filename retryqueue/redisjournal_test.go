package retryqueue_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/offlinefirst/synccore/model"
	"github.com/offlinefirst/synccore/retryqueue"
)

// TestRedisAppenderAppendsAndTrims covers the alternate persistence path
// described in spec section 4.C, against an in-memory miniredis server
// rather than a live Redis instance.
func TestRedisAppenderAppendsAndTrims(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	appender := retryqueue.NewRedisAppender(client, "synccore:ops", 2)
	ctx := context.Background()

	require.NoError(t, appender.Append(ctx, []*model.Operation{{EntityID: "a"}}))
	require.NoError(t, appender.Append(ctx, []*model.Operation{{EntityID: "b"}}))
	require.NoError(t, appender.Append(ctx, []*model.Operation{{EntityID: "c"}}))

	length, err := client.LLen(ctx, "synccore:ops").Result()
	require.NoError(t, err)
	require.EqualValues(t, 2, length, "journal must stay trimmed to maxLength")
}
