package redis

import (
	"context"
	"fmt"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// idEpoch 发号器纪元：2022-01-01 00:00:00 UTC。
const idEpoch = 1640995200

// 高 32 位放秒级时间戳，低 32 位放当天序列号。
const sequenceBits = 32

// IDWorker 全局唯一 ID 发号器。
// 结构：(当前秒 - 纪元) << 32 | Redis 按天自增序列。
// 同类别内时间有序；序列号只增不回退，天内同类别单 key 计数。
type IDWorker struct {
	rdb *rd.Client
}

func NewIDWorker(rdb *rd.Client) *IDWorker {
	return &IDWorker{rdb: rdb}
}

// NextID 生成 category 下的下一个 64 位 ID。
// Redis 不可用时返回错误，绝不降级为本地计数，否则多进程会发出重复 ID。
func (w *IDWorker) NextID(ctx context.Context, category string) (int64, error) {
	now := time.Now().UTC()
	timestamp := now.Unix() - idEpoch

	// 序列 key 按天分片，顺便让运维能按天统计发号量。
	day := now.Format("2006:01:02")
	seq, err := w.rdb.Incr(ctx, IDCounterKey(category, day)).Result()
	if err != nil {
		return 0, fmt.Errorf("id worker incr %s: %w", category, err)
	}

	return timestamp<<sequenceBits | seq, nil
}
