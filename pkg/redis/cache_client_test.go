package redis

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testShop struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func newTestCache(t *testing.T) *CacheClient {
	t.Helper()
	_, client := newTestRedis(t)
	c := NewCacheClient(client, time.Minute, 10*time.Second)
	t.Cleanup(c.Close)
	return c
}

func TestPassThroughRoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	var calls atomic.Int32
	fallback := func(ctx context.Context, id int64) (*testShop, error) {
		calls.Add(1)
		return &testShop{ID: id, Name: "coffee"}, nil
	}

	got, err := QueryWithPassThrough(ctx, c, "cache:shop:", int64(1), fallback, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "coffee", got.Name)
	assert.Equal(t, int32(1), calls.Load())

	// 第二次命中缓存，不回源
	got, err = QueryWithPassThrough(ctx, c, "cache:shop:", int64(1), fallback, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "coffee", got.Name)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPassThroughCachesAbsence(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	var calls atomic.Int32
	fallback := func(ctx context.Context, id int64) (*testShop, error) {
		calls.Add(1)
		return nil, nil
	}

	// 同一个不存在的 id 反复查询，空值窗口内只打一次数据库
	for i := 0; i < 5; i++ {
		got, err := QueryWithPassThrough(ctx, c, "cache:shop:", int64(404), fallback, time.Minute)
		require.NoError(t, err)
		assert.Nil(t, got)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestPassThroughAbsenceMarkerExpires(t *testing.T) {
	mr, client := newTestRedis(t)
	c := NewCacheClient(client, time.Second, 10*time.Second)
	t.Cleanup(c.Close)
	ctx := context.Background()

	var calls atomic.Int32
	fallback := func(ctx context.Context, id int64) (*testShop, error) {
		calls.Add(1)
		return nil, nil
	}

	_, err := QueryWithPassThrough(ctx, c, "cache:shop:", int64(404), fallback, time.Minute)
	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load())

	// 空值标记过期后允许再次回源：穿透攻击的污染时长被 TTL 限定
	mr.FastForward(2 * time.Second)
	_, err = QueryWithPassThrough(ctx, c, "cache:shop:", int64(404), fallback, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestPassThroughPropagatesFallbackError(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	dbErr := errors.New("db down")
	fallback := func(ctx context.Context, id int64) (*testShop, error) {
		return nil, dbErr
	}

	_, err := QueryWithPassThrough(ctx, c, "cache:shop:", int64(1), fallback, time.Minute)
	assert.ErrorIs(t, err, dbErr)

	// 数据库故障绝不能被缓存成“不存在”
	exists, err := c.rdb.Exists(ctx, "cache:shop:1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), exists)
}

func TestMutexRebuildOnce(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	var calls atomic.Int32
	fallback := func(ctx context.Context, id int64) (*testShop, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond) // 拉长重建窗口放大竞争
		return &testShop{ID: id, Name: "hotpot"}, nil
	}

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := QueryWithMutex(ctx, c, "cache:shop:", int64(9), fallback, time.Minute)
			assert.NoError(t, err)
			if assert.NotNil(t, got) {
				assert.Equal(t, "hotpot", got.Name)
			}
		}()
	}
	wg.Wait()

	// 击穿防护：N 个并发未命中只允许一次回源
	assert.Equal(t, int32(1), calls.Load())

	// 重建锁必须已释放
	exists, err := c.rdb.Exists(ctx, "lock:cache:shop:9").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), exists)
}

func TestMutexCachesAbsence(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	var calls atomic.Int32
	fallback := func(ctx context.Context, id int64) (*testShop, error) {
		calls.Add(1)
		return nil, nil
	}

	got, err := QueryWithMutex(ctx, c, "cache:shop:", int64(404), fallback, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = QueryWithMutex(ctx, c, "cache:shop:", int64(404), fallback, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, int32(1), calls.Load())
}

func TestLogicalExpiryFreshHit(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetWithLogicalExpire(ctx, "cache:shop:1", &testShop{ID: 1, Name: "bbq"}, time.Minute))

	fallback := func(ctx context.Context, id int64) (*testShop, error) {
		t.Fatal("fresh hit must not hit the database")
		return nil, nil
	}
	got, err := QueryWithLogicalExpiry(ctx, c, "cache:shop:", int64(1), fallback, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "bbq", got.Name)
}

func TestLogicalExpiryMissReturnsAbsent(t *testing.T) {
	c := newTestCache(t)

	// 逻辑过期策略不回源真正的未命中：热点数据必须预热
	fallback := func(ctx context.Context, id int64) (*testShop, error) {
		t.Fatal("true miss must not hit the database")
		return nil, nil
	}
	got, err := QueryWithLogicalExpiry(context.Background(), c, "cache:shop:", int64(2), fallback, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLogicalExpiryServesStaleAndRebuilds(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	// 写入一个已经逻辑过期的条目
	require.NoError(t, c.SetWithLogicalExpire(ctx, "cache:shop:3", &testShop{ID: 3, Name: "stale"}, -time.Second))

	var calls atomic.Int32
	fallback := func(ctx context.Context, id int64) (*testShop, error) {
		calls.Add(1)
		return &testShop{ID: id, Name: "fresh"}, nil
	}

	// 过期读立即返回旧值，不等待重建
	got, err := QueryWithLogicalExpiry(ctx, c, "cache:shop:", int64(3), fallback, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "stale", got.Name)

	// 后台重建最终回填新值并释放重建锁
	assert.Eventually(t, func() bool {
		got, err := QueryWithLogicalExpiry(ctx, c, "cache:shop:", int64(3), fallback, time.Minute)
		return err == nil && got != nil && got.Name == "fresh"
	}, 2*time.Second, 20*time.Millisecond)

	// 回填后的读全部命中新值，不再触发重建
	before := calls.Load()
	got, err = QueryWithLogicalExpiry(ctx, c, "cache:shop:", int64(3), fallback, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "fresh", got.Name)
	assert.Equal(t, before, calls.Load())

	exists, err := c.rdb.Exists(ctx, "lock:cache:shop:3").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), exists)
}
