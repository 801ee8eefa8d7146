package redis

import (
	"context"
	"fmt"
	"strconv"

	rd "github.com/redis/go-redis/v9"
)

// 资格校验结果码，与 Lua 脚本返回值一一对应。
const (
	SeckillOK             = 0 // 抢购成功，订单意图已入流
	SeckillStockShortage  = 1 // 库存不足
	SeckillDuplicateOrder = 2 // 该用户已下过单
)

// luaSeckillEligibility：单次 Redis 内原子完成「校验库存 → 一人一单去重 →
// 扣库存 → 记去重 → 订单意图入流」。整段在服务端单线程执行，
// 并发请求之间不存在 check-then-act 窗口，这是不超卖的唯一依赖。
// KEYS[1]=库存key KEYS[2]=去重集合key KEYS[3]=订单意图流
// ARGV[1]=voucherId ARGV[2]=userId ARGV[3]=orderId
const luaSeckillEligibility = `
local stockKey = KEYS[1]
local orderKey = KEYS[2]
local stream = KEYS[3]
local voucherId = ARGV[1]
local userId = ARGV[2]
local orderId = ARGV[3]

if (tonumber(redis.call('GET', stockKey) or '0') <= 0) then
  return 1
end
if (redis.call('SISMEMBER', orderKey, userId) == 1) then
  return 2
end
redis.call('INCRBY', stockKey, -1)
redis.call('SADD', orderKey, userId)
redis.call('XADD', stream, '*', 'id', orderId, 'userId', userId, 'voucherId', voucherId)
return 0
`

// Seckill 封装资格校验脚本的调用。
type Seckill struct {
	rdb    *rd.Client
	stream string
}

func NewSeckill(rdb *rd.Client, stream string) *Seckill {
	return &Seckill{rdb: rdb, stream: stream}
}

// Eligibility 执行原子资格校验，返回 SeckillOK / SeckillStockShortage /
// SeckillDuplicateOrder。脚本执行出错视为基础设施故障，状态不会被部分修改：
// 要么三个 key 全部未动，要么扣减、去重、入流一起生效。
func (s *Seckill) Eligibility(ctx context.Context, voucherID, userID, orderID int64) (int64, error) {
	keys := []string{
		SeckillStockKey(voucherID),
		SeckillOrderSetKey(voucherID),
		s.stream,
	}
	res, err := s.rdb.Eval(ctx, luaSeckillEligibility, keys,
		strconv.FormatInt(voucherID, 10),
		strconv.FormatInt(userID, 10),
		strconv.FormatInt(orderID, 10),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("seckill eligibility voucher=%d: %w", voucherID, err)
	}
	return res, nil
}

// PreloadStock 将数据库库存预热到 Redis，秒杀期间的实时扣减全部走这份镜像。
func (s *Seckill) PreloadStock(ctx context.Context, voucherID int64, stock int64) error {
	return s.rdb.Set(ctx, SeckillStockKey(voucherID), stock, 0).Err()
}

// CachedStock 查询 Redis 中的实时库存，key 不存在按 0 处理。
func (s *Seckill) CachedStock(ctx context.Context, voucherID int64) (int64, error) {
	val, err := s.rdb.Get(ctx, SeckillStockKey(voucherID)).Int64()
	if err == rd.Nil {
		return 0, nil
	}
	return val, err
}
