package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucket_AllowConsumesCapacity(t *testing.T) {
	tb := NewTokenBucket(60, 2)
	require.NotNil(t, tb)

	frozen := time.Now()
	tb.now = func() time.Time { return frozen }
	tb.lastRefillTime = frozen

	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow(), "容量耗尽后应拒绝")

	// 1 QPS，经过一秒补充一个令牌
	frozen = frozen.Add(time.Second)
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())
}

func TestTokenBucket_DefaultCapacity(t *testing.T) {
	tb := NewTokenBucket(1, 0)
	require.NotNil(t, tb)
	assert.Equal(t, 1.0, tb.capacity)

	tb = NewTokenBucket(600, 0)
	assert.Equal(t, 300.0, tb.capacity)
}

func TestTokenBucket_NilIsUnlimited(t *testing.T) {
	var tb *TokenBucket = NewTokenBucket(0, 0)
	assert.Nil(t, tb)
	assert.True(t, tb.Allow())
	assert.NoError(t, tb.Wait(context.Background()))
}

func TestTokenBucket_WaitHonoursContext(t *testing.T) {
	tb := NewTokenBucket(1, 1) // 每分钟一个令牌
	require.NoError(t, tb.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := tb.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
