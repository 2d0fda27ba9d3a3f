// internal/common/queue/dedupe_test.go
package queue

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
)

func TestDeduper_ClaimOnce(t *testing.T) {
	_, rdb := newTestRedis(t)
	d := NewDeduper(rdb, time.Hour)

	ctx := context.Background()
	assert.True(t, d.Claim(ctx, "c1_1700000000000"))
	assert.False(t, d.Claim(ctx, "c1_1700000000000"))
	assert.True(t, d.Claim(ctx, "c1_1700000000001"))
}

func TestDeduper_ReleaseAllowsRetry(t *testing.T) {
	_, rdb := newTestRedis(t)
	d := NewDeduper(rdb, time.Hour)

	ctx := context.Background()
	assert.True(t, d.Claim(ctx, "PROV-ABCDEF123456"))
	d.Release(ctx, "PROV-ABCDEF123456")
	assert.True(t, d.Claim(ctx, "PROV-ABCDEF123456"))
}

func TestDeduper_ClaimExpires(t *testing.T) {
	mr, rdb := newTestRedis(t)
	d := NewDeduper(rdb, time.Minute)

	ctx := context.Background()
	assert.True(t, d.Claim(ctx, "m1"))
	mr.FastForward(2 * time.Minute)
	assert.True(t, d.Claim(ctx, "m1"))
}

func TestDeduper_GrantsClaimWhenRedisDown(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	mock.ExpectSetNX("dedupe:m1", 1, time.Minute).SetErr(assert.AnError)

	d := NewDeduper(rdb, time.Minute)
	assert.True(t, d.Claim(context.Background(), "m1"))
}
