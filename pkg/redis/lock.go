package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
)

// ErrLockNotHeld 表示释放时锁已不属于当前持有者（已过期或被他人持有）。
var ErrLockNotHeld = errors.New("lock not held")

// luaReleaseIfMatch 仅当锁值匹配持有者标识时才删除，避免误删他人后续加的锁。
const luaReleaseIfMatch = `
local lockKey = KEYS[1]
local holder = ARGV[1]
if redis.call('GET', lockKey) == holder then
  return redis.call('DEL', lockKey)
end
return 0
`

// Lock 基于 SET NX EX 的简单分布式锁。
// 租约过期只是持有者崩溃后的兜底，临界区必须远短于租约时长。
// 不支持重入：同一用户并发第二次 TryLock 等同于竞争失败。
type Lock struct {
	rdb    *rd.Client
	key    string
	holder string
	lease  time.Duration
}

// NewLock 创建锁对象。holder 是随机 UUID，保证跨进程不会出现相同持有者标识。
func NewLock(rdb *rd.Client, key string, lease time.Duration) *Lock {
	return &Lock{
		rdb:    rdb,
		key:    key,
		holder: uuid.New().String(),
		lease:  lease,
	}
}

// TryLock 非阻塞抢锁，立即返回是否成功。
func (l *Lock) TryLock(ctx context.Context) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, l.key, l.holder, l.lease).Result()
	if err != nil {
		return false, fmt.Errorf("try lock %s: %w", l.key, err)
	}
	return ok, nil
}

// Unlock 释放锁。锁已过期或被他人持有时返回 ErrLockNotHeld。
func (l *Lock) Unlock(ctx context.Context) error {
	n, err := l.rdb.Eval(ctx, luaReleaseIfMatch, []string{l.key}, l.holder).Int()
	if err != nil {
		return fmt.Errorf("unlock %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}
