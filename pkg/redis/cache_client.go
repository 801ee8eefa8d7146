package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	rd "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// 缓存重建参数：
// - rebuildWorkers/rebuildQueueSize: 逻辑过期策略的后台重建池规模
// - mutexRetrySleep/maxMutexRetries: 互斥策略抢锁失败后的退避与重试上限
// - rebuildTimeout: 后台重建的独立超时（不能挂在请求 ctx 上，请求早就返回了）
const (
	rebuildWorkers   = 10
	rebuildQueueSize = 256
	mutexRetrySleep  = 50 * time.Millisecond
	maxMutexRetries  = 100
	rebuildTimeout   = 10 * time.Second
)

// ErrRebuildContended 表示互斥重建在重试上限内始终抢不到锁。
var ErrRebuildContended = errors.New("cache rebuild lock contended")

// redisData 逻辑过期策略的缓存信封：数据本体 + 应用层过期时间。
// 缓存条目本身不设 TTL，过期与否只看 expireTime。
type redisData struct {
	ExpireTime time.Time       `json:"expireTime"`
	Data       json.RawMessage `json:"data"`
}

// CacheClient 通用读穿透缓存客户端，提供三种一致性策略：
// 缓存空值防穿透、互斥重建防击穿、逻辑过期后台重建。
// 空值标记的 TTL 应远小于正常数据，限制穿透攻击污染缓存的时长。
type CacheClient struct {
	rdb     *rd.Client
	nullTTL time.Duration
	lockTTL time.Duration

	rebuildCh chan func()
	done      chan struct{}
}

// NewCacheClient 创建缓存客户端并启动后台重建池。
func NewCacheClient(rdb *rd.Client, nullTTL, lockTTL time.Duration) *CacheClient {
	c := &CacheClient{
		rdb:       rdb,
		nullTTL:   nullTTL,
		lockTTL:   lockTTL,
		rebuildCh: make(chan func(), rebuildQueueSize),
		done:      make(chan struct{}),
	}
	for i := 0; i < rebuildWorkers; i++ {
		go c.rebuildLoop()
	}
	return c
}

// Close 停止后台重建池。已入队的任务会被丢弃，逻辑过期的 key 下次命中时重新触发。
func (c *CacheClient) Close() {
	close(c.done)
}

func (c *CacheClient) rebuildLoop() {
	for {
		select {
		case <-c.done:
			return
		case task := <-c.rebuildCh:
			task()
		}
	}
}

// Set 写入 JSON 序列化后的数据并设置真实 TTL。
func (c *CacheClient) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return c.rdb.Set(ctx, key, b, ttl).Err()
}

// SetWithLogicalExpire 以逻辑过期信封写入，缓存条目本身不设 TTL。
// 热点 key 的预热走这里。
func (c *CacheClient) SetWithLogicalExpire(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache set logical %s: %w", key, err)
	}
	b, err := json.Marshal(redisData{
		ExpireTime: time.Now().Add(ttl),
		Data:       data,
	})
	if err != nil {
		return fmt.Errorf("cache set logical %s: %w", key, err)
	}
	return c.rdb.Set(ctx, key, b, 0).Err()
}

// QueryWithPassThrough 缓存空值策略：
// 命中（含空值标记）直接返回；未命中回源数据库，
// 源不存在则写入短 TTL 空值标记，防止同一个不存在的 id 反复打到数据库。
func QueryWithPassThrough[T any, ID any](
	ctx context.Context, c *CacheClient, keyPrefix string, id ID,
	dbFallback func(context.Context, ID) (*T, error), ttl time.Duration,
) (*T, error) {
	key := fmt.Sprintf("%s%v", keyPrefix, id)

	hit, val, err := lookup[T](ctx, c, key)
	if err != nil {
		return nil, err
	}
	if hit {
		return val, nil
	}

	v, err := dbFallback(ctx, id)
	if err != nil {
		// 回源失败原样上抛，绝不能把数据库故障当成“不存在”缓存起来。
		return nil, err
	}
	if v == nil {
		if err := c.rdb.Set(ctx, key, "", c.nullTTL).Err(); err != nil {
			return nil, fmt.Errorf("cache null marker %s: %w", key, err)
		}
		return nil, nil
	}
	if err := c.Set(ctx, key, v, ttl); err != nil {
		return nil, err
	}
	return v, nil
}

// QueryWithMutex 互斥重建策略：
// 未命中时只放一个调用者抢到重建锁去查库，其余调用者短睡后重查缓存，
// 保证热点 key 过期瞬间数据库只被打一次。
func QueryWithMutex[T any, ID any](
	ctx context.Context, c *CacheClient, keyPrefix string, id ID,
	dbFallback func(context.Context, ID) (*T, error), ttl time.Duration,
) (*T, error) {
	key := fmt.Sprintf("%s%v", keyPrefix, id)

	for attempt := 0; attempt < maxMutexRetries; attempt++ {
		hit, val, err := lookup[T](ctx, c, key)
		if err != nil {
			return nil, err
		}
		if hit {
			return val, nil
		}

		lock := NewLock(c.rdb, CacheLockKey(keyPrefix, id), c.lockTTL)
		ok, err := lock.TryLock(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			// 没抢到锁说明有人在重建，睡一下回到循环重查缓存。
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(mutexRetrySleep):
			}
			continue
		}

		v, err := rebuildOnce(ctx, c, lock, key, id, dbFallback, ttl)
		return v, err
	}
	return nil, ErrRebuildContended
}

// rebuildOnce 持锁回源并回填缓存，锁在所有路径上释放。
func rebuildOnce[T any, ID any](
	ctx context.Context, c *CacheClient, lock *Lock, key string, id ID,
	dbFallback func(context.Context, ID) (*T, error), ttl time.Duration,
) (*T, error) {
	defer func() {
		if err := lock.Unlock(ctx); err != nil && !errors.Is(err, ErrLockNotHeld) {
			logrus.WithError(err).WithField("key", key).Warn("cache rebuild unlock failed")
		}
	}()

	// 拿到锁后再查一次：上一个重建者可能刚回填完，省一次数据库往返。
	hit, val, err := lookup[T](ctx, c, key)
	if err != nil {
		return nil, err
	}
	if hit {
		return val, nil
	}

	v, err := dbFallback(ctx, id)
	if err != nil {
		return nil, err
	}
	if v == nil {
		if err := c.rdb.Set(ctx, key, "", c.nullTTL).Err(); err != nil {
			return nil, fmt.Errorf("cache null marker %s: %w", key, err)
		}
		return nil, nil
	}
	if err := c.Set(ctx, key, v, ttl); err != nil {
		return nil, err
	}
	return v, nil
}

// QueryWithLogicalExpiry 逻辑过期策略：
// key 不存在直接按不存在返回（热点数据必须预热）；未过期直接返回；
// 已过期先把旧值立刻还给调用者，再在抢到重建锁的前提下把重建任务
// 交给后台池异步执行。调用者永远不等待重建，代价是短暂读到旧数据。
func QueryWithLogicalExpiry[T any, ID any](
	ctx context.Context, c *CacheClient, keyPrefix string, id ID,
	dbFallback func(context.Context, ID) (*T, error), ttl time.Duration,
) (*T, error) {
	key := fmt.Sprintf("%s%v", keyPrefix, id)

	raw, err := c.rdb.Get(ctx, key).Result()
	if err == rd.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}

	var envelope redisData
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil, fmt.Errorf("cache envelope %s: %w", key, err)
	}
	val := new(T)
	if err := json.Unmarshal(envelope.Data, val); err != nil {
		return nil, fmt.Errorf("cache envelope data %s: %w", key, err)
	}
	if envelope.ExpireTime.After(time.Now()) {
		return val, nil
	}

	// 已过期：锁是准入开关而不是等待点，没抢到说明重建已在进行。
	lock := NewLock(c.rdb, CacheLockKey(keyPrefix, id), c.lockTTL)
	ok, err := lock.TryLock(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		c.submitRebuild(lock, key, func(rebuildCtx context.Context) {
			defer func() {
				if err := lock.Unlock(rebuildCtx); err != nil && !errors.Is(err, ErrLockNotHeld) {
					logrus.WithError(err).WithField("key", key).Warn("background rebuild unlock failed")
				}
			}()
			v, err := dbFallback(rebuildCtx, id)
			if err != nil {
				logrus.WithError(err).WithField("key", key).Error("background rebuild fallback failed")
				return
			}
			if v == nil {
				// 源数据已删除，清掉缓存条目，后续命中按不存在返回。
				if err := c.rdb.Del(rebuildCtx, key).Err(); err != nil {
					logrus.WithError(err).WithField("key", key).Error("background rebuild delete failed")
				}
				return
			}
			if err := c.SetWithLogicalExpire(rebuildCtx, key, v, ttl); err != nil {
				logrus.WithError(err).WithField("key", key).Error("background rebuild set failed")
			}
		})
	}

	return val, nil
}

// submitRebuild 非阻塞投递重建任务。池满时放弃本次重建并立刻释放锁，
// 等下一次过期命中再触发，绝不让读路径阻塞在队列上。
func (c *CacheClient) submitRebuild(lock *Lock, key string, task func(context.Context)) {
	wrapped := func() {
		ctx, cancel := context.WithTimeout(context.Background(), rebuildTimeout)
		defer cancel()
		task(ctx)
	}
	select {
	case c.rebuildCh <- wrapped:
	default:
		logrus.WithField("key", key).Warn("rebuild queue full, dropping task")
		ctx, cancel := context.WithTimeout(context.Background(), rebuildTimeout)
		defer cancel()
		if err := lock.Unlock(ctx); err != nil && !errors.Is(err, ErrLockNotHeld) {
			logrus.WithError(err).WithField("key", key).Warn("release rebuild lock failed")
		}
	}
}

// lookup 读缓存并区分三种情况：命中数据、命中空值标记、未命中。
func lookup[T any](ctx context.Context, c *CacheClient, key string) (bool, *T, error) {
	raw, err := c.rdb.Get(ctx, key).Result()
	if err == rd.Nil {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, fmt.Errorf("cache get %s: %w", key, err)
	}
	if raw == "" {
		// 空值标记：之前确认过源里不存在，命中后直接按不存在返回。
		return true, nil, nil
	}
	val := new(T)
	if err := json.Unmarshal([]byte(raw), val); err != nil {
		return false, nil, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return true, val, nil
}
