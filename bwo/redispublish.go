package bwo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/offlinefirst/synccore/model"
)

// RedisPublisher mirrors a quality snapshot and the current average
// throughput into Redis so a second process sharing the same machine (a
// background sync daemon and a foreground UI, say) can read the live
// bandwidth state without an IPC channel of its own. Grounded on
// satellite/accounting/live/redis.go's use of a go-redis client as a fast,
// shared, ephemeral counter store; optional, never the default transport.
type RedisPublisher struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisPublisher wraps an already-constructed client. keyPrefix
// namespaces the keys this publisher writes; ttl bounds how long a stale
// snapshot survives a process crash.
func NewRedisPublisher(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisPublisher {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisPublisher{client: client, prefix: keyPrefix, ttl: ttl}
}

// PublishQuality writes q as JSON under <prefix>:quality.
func (p *RedisPublisher) PublishQuality(ctx context.Context, q model.NetworkQuality) error {
	encoded, err := json.Marshal(q)
	if err != nil {
		return Error.Wrap(err)
	}
	if err := p.client.Set(ctx, p.key("quality"), encoded, p.ttl).Err(); err != nil {
		return model.TransientNetwork(Error.Wrap(err))
	}
	return nil
}

// PublishThroughput writes the current average throughput under
// <prefix>:throughput.
func (p *RedisPublisher) PublishThroughput(ctx context.Context, bytesPerSecond float64) error {
	value := fmt.Sprintf("%f", bytesPerSecond)
	if err := p.client.Set(ctx, p.key("throughput"), value, p.ttl).Err(); err != nil {
		return model.TransientNetwork(Error.Wrap(err))
	}
	return nil
}

func (p *RedisPublisher) key(suffix string) string {
	return p.prefix + ":" + suffix
}

// Attach wires o's quality and throughput observers to p, logging (rather
// than propagating) publish failures since a missed snapshot is never fatal
// to the optimizer itself.
func (p *RedisPublisher) Attach(ctx context.Context, o *Optimizer, onErr func(error)) {
	o.ObserveQuality(func(q model.NetworkQuality) {
		if err := p.PublishQuality(ctx, q); err != nil && onErr != nil {
			onErr(err)
		}
	})
	o.ObserveThroughput(func(avg float64) {
		if err := p.PublishThroughput(ctx, avg); err != nil && onErr != nil {
			onErr(err)
		}
	})
}
