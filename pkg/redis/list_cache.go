package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// QueryListThrough 列表型读穿透：整表小列表（如店铺分类）整体缓存在
// Redis List 里，命中即返回，未命中回源后逐条写回并设置 TTL。
// 空列表不缓存，由调用方决定如何对待。
func QueryListThrough[T any](
	ctx context.Context, c *CacheClient, key string,
	dbFallback func(context.Context) ([]T, error), ttl time.Duration,
) ([]T, error) {
	raws, err := c.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("cache lrange %s: %w", key, err)
	}
	if len(raws) > 0 {
		out := make([]T, 0, len(raws))
		for _, raw := range raws {
			var v T
			if err := json.Unmarshal([]byte(raw), &v); err != nil {
				return nil, fmt.Errorf("cache list decode %s: %w", key, err)
			}
			out = append(out, v)
		}
		return out, nil
	}

	list, err := dbFallback(ctx)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}

	vals := make([]interface{}, 0, len(list))
	for _, v := range list {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("cache list encode %s: %w", key, err)
		}
		vals = append(vals, b)
	}
	pipe := c.rdb.TxPipeline()
	pipe.RPush(ctx, key, vals...)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("cache list write %s: %w", key, err)
	}
	return list, nil
}
