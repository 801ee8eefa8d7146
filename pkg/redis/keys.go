package redis

import "fmt"

// 数据缓存 key 前缀约定：数据 key 为 <prefix><id>，对应重建锁为 lock:<prefix><id>。
const (
	CacheShopPrefix    = "cache:shop:"
	CacheVoucherPrefix = "cache:voucher:"
	CacheShopTypeKey   = "cache:shop_type:list"

	LockPrefix = "lock:"
)

// SeckillStockKey 秒杀券在 Redis 中的实时库存 key，由预热写入、Lua 脚本扣减。
func SeckillStockKey(voucherID int64) string {
	return fmt.Sprintf("seckill:stock:%d", voucherID)
}

// SeckillOrderSetKey 某券的已下单用户集合，Lua 脚本用它做一人一单去重。
func SeckillOrderSetKey(voucherID int64) string {
	return fmt.Sprintf("seckill:order:%d", voucherID)
}

// OrderLockKey 落单阶段的用户级互斥锁 key。
func OrderLockKey(userID int64) string {
	return fmt.Sprintf("lock:order:%d", userID)
}

// CacheLockKey 缓存重建锁 key：lock: + 数据 key 前缀 + id。
func CacheLockKey(keyPrefix string, id any) string {
	return fmt.Sprintf("%s%s%v", LockPrefix, keyPrefix, id)
}

// IDCounterKey 发号器的按天序列 key，按天分片避免单 key 无限增长。
func IDCounterKey(category, day string) string {
	return fmt.Sprintf("icr:%s:%s", category, day)
}

// RateLimitUserKey 秒杀接口按用户限流 key。
func RateLimitUserKey(userID int64) string {
	return fmt.Sprintf("rate_limit:seckill:user:%d", userID)
}

// RateLimitIPKey 用户解析失败时按 IP 降级限流 key。
func RateLimitIPKey(ip string) string {
	return fmt.Sprintf("rate_limit:seckill:ip:%s", ip)
}
