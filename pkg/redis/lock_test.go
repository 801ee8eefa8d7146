package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *rd.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLockTryLockAndRelease(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	lock := NewLock(client, "lock:order:1", 10*time.Second)
	ok, err := lock.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// 同 key 第二把锁必须抢不到
	other := NewLock(client, "lock:order:1", 10*time.Second)
	ok, err = other.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lock.Unlock(ctx))

	// 释放后可重新获取
	ok, err = other.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockUnlockOnlyByHolder(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	holder := NewLock(client, "lock:order:2", 10*time.Second)
	ok, err := holder.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// 非持有者释放不能删掉别人的锁
	stranger := NewLock(client, "lock:order:2", 10*time.Second)
	err = stranger.Unlock(ctx)
	assert.ErrorIs(t, err, ErrLockNotHeld)

	val, err := client.Get(ctx, "lock:order:2").Result()
	require.NoError(t, err)
	assert.NotEmpty(t, val)
}

func TestLockLeaseExpiry(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	lock := NewLock(client, "lock:order:3", time.Second)
	ok, err := lock.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// 租约过期后锁自动消失：持有者崩溃不会造成死锁
	mr.FastForward(2 * time.Second)

	other := NewLock(client, "lock:order:3", time.Second)
	ok, err = other.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// 原持有者此时释放应报 ErrLockNotHeld，且不能误删新锁
	assert.ErrorIs(t, lock.Unlock(ctx), ErrLockNotHeld)
	exists, err := client.Exists(ctx, "lock:order:3").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)
}
