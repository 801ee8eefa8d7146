package redis

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testStream = "stream.orders"

func TestEligibilityStockShortage(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	sk := NewSeckill(client, testStream)
	// 未预热（key 不存在）按 0 库存处理
	res, err := sk.Eligibility(ctx, 1, 100, 5001)
	require.NoError(t, err)
	assert.Equal(t, int64(SeckillStockShortage), res)

	require.NoError(t, sk.PreloadStock(ctx, 1, 0))
	res, err = sk.Eligibility(ctx, 1, 100, 5002)
	require.NoError(t, err)
	assert.Equal(t, int64(SeckillStockShortage), res)
}

func TestEligibilityDuplicateOrder(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	sk := NewSeckill(client, testStream)
	require.NoError(t, sk.PreloadStock(ctx, 1, 10))

	res, err := sk.Eligibility(ctx, 1, 100, 5001)
	require.NoError(t, err)
	require.Equal(t, int64(SeckillOK), res)

	// 库存还很充足，同一用户第二次也必须被拒
	res, err = sk.Eligibility(ctx, 1, 100, 5002)
	require.NoError(t, err)
	assert.Equal(t, int64(SeckillDuplicateOrder), res)

	stock, err := sk.CachedStock(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(9), stock, "rejected attempt must not decrement stock")
}

func TestEligibilityAppendsIntent(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	sk := NewSeckill(client, testStream)
	require.NoError(t, sk.PreloadStock(ctx, 7, 1))

	res, err := sk.Eligibility(ctx, 7, 42, 9001)
	require.NoError(t, err)
	require.Equal(t, int64(SeckillOK), res)

	msgs, err := client.XRange(ctx, testStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "9001", msgs[0].Values["id"])
	assert.Equal(t, "42", msgs[0].Values["userId"])
	assert.Equal(t, "7", msgs[0].Values["voucherId"])
}

func TestEligibilityNeverOversells(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	sk := NewSeckill(client, testStream)
	const stock = 10
	const attempts = 50
	require.NoError(t, sk.PreloadStock(ctx, 1, stock))

	results := make([]int64, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			res, err := sk.Eligibility(ctx, 1, int64(idx+1), int64(10000+idx))
			assert.NoError(t, err)
			results[idx] = res
		}(i)
	}
	wg.Wait()

	okCount, shortageCount := 0, 0
	for _, r := range results {
		switch r {
		case SeckillOK:
			okCount++
		case SeckillStockShortage:
			shortageCount++
		}
	}
	// 库存 N，并发抢购恰好 N 个成功，其余全部库存不足
	assert.Equal(t, stock, okCount)
	assert.Equal(t, attempts-stock, shortageCount)

	final, err := sk.CachedStock(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), final, "stock must end at zero, never negative")

	length, err := client.XLen(ctx, testStream).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(stock), length, "exactly one intent per accepted request")
}

func TestEligibilityConcurrentSameUser(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	sk := NewSeckill(client, testStream)
	require.NoError(t, sk.PreloadStock(ctx, 1, 10))

	const attempts = 20
	results := make([]int64, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			res, err := sk.Eligibility(ctx, 1, 777, int64(20000+idx))
			assert.NoError(t, err)
			results[idx] = res
		}(i)
	}
	wg.Wait()

	okCount := 0
	for _, r := range results {
		if r == SeckillOK {
			okCount++
		}
	}
	assert.Equal(t, 1, okCount, "same user may win at most once")
}
