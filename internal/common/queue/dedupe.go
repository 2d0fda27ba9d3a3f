// internal/common/queue/dedupe.go
package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper guards downstream effects against duplicate queue deliveries by
// claiming each envelope identifier exactly once.
type Deduper struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewDeduper(rdb *redis.Client, ttl time.Duration) *Deduper {
	return &Deduper{rdb: rdb, ttl: ttl}
}

// Claim returns true if this is the first delivery of the envelope. A second
// delivery within the TTL returns false and should be acked without effects.
// When Redis itself is unavailable the claim is granted: a duplicate callback
// is preferable to a dropped envelope.
func (d *Deduper) Claim(ctx context.Context, envelopeID string) bool {
	ok, err := d.rdb.SetNX(ctx, "dedupe:"+envelopeID, 1, d.ttl).Result()
	if err != nil {
		return true
	}
	return ok
}

// Release gives the claim back so a redelivery can retry a failed invocation.
func (d *Deduper) Release(ctx context.Context, envelopeID string) {
	d.rdb.Del(ctx, "dedupe:"+envelopeID)
}
