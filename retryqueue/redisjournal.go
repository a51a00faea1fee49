package retryqueue

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"

	"github.com/offlinefirst/synccore/model"
)

// Appender journals operation-set snapshots somewhere other than the flat
// RetryQueue.json file, for callers who already run a local Redis instance
// (spec section 4.C's alternate persistence path).
type Appender interface {
	Append(ctx context.Context, ops []*model.Operation) error
}

// RedisAppender journals each snapshot onto a Redis list, grounded on
// satellite/accounting/live/redis.go's go-redis usage. It is additive only
// (LPush, trimmed to a bounded length) and is never the sole persistence
// mechanism — the flat file remains authoritative.
type RedisAppender struct {
	client    *redis.Client
	key       string
	maxLength int64
}

// NewRedisAppender returns an Appender writing snapshots to key, retaining
// at most maxLength recent entries.
func NewRedisAppender(client *redis.Client, key string, maxLength int64) *RedisAppender {
	if maxLength <= 0 {
		maxLength = 50
	}
	return &RedisAppender{client: client, key: key, maxLength: maxLength}
}

// Append pushes a JSON-encoded snapshot of ops onto the journal list.
func (a *RedisAppender) Append(ctx context.Context, ops []*model.Operation) error {
	encoded, err := json.Marshal(ops)
	if err != nil {
		return model.StorageIO(Error.Wrap(err))
	}
	pipe := a.client.TxPipeline()
	pipe.LPush(ctx, a.key, encoded)
	pipe.LTrim(ctx, a.key, 0, a.maxLength-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return model.TransientNetwork(Error.Wrap(err))
	}
	return nil
}
