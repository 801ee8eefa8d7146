package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig 聚合运行时配置，尽量通过环境变量注入，避免硬编码。
type AppConfig struct {
	HTTPAddr string
	DBPath   string

	RedisAddr string
	RedisDB   int

	// 订单意图流（Lua 脚本入流，落单 worker 消费）
	OrderStream   string
	OrderGroup    string
	OrderConsumer string

	// 落单成功后的订单事件 Kafka（逗号分隔 broker，留空则关闭事件发布）
	KafkaBrokers []string
	KafkaTopic   string

	// 秒杀接口限流
	SeckillRateLimit  int
	SeckillRateWindow time.Duration

	// 缓存策略参数：空值标记 TTL 必须远小于正常数据 TTL
	CacheNullTTL    time.Duration
	CacheShopTTL    time.Duration
	CacheVoucherTTL time.Duration

	// 分布式锁租约（崩溃兜底，临界区必须远短于它）
	LockLease time.Duration

	// 预热/建券接口的简单管理员令牌（demo 级别保护）
	AdminToken string
}

// Load 读取并校验配置，缺失时使用默认值。
func Load() (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		DBPath:            getEnv("DB_PATH", "voucher_mall.db"),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:           0,
		OrderStream:       getEnv("ORDER_STREAM", "stream.orders"),
		OrderGroup:        getEnv("ORDER_GROUP", "g1"),
		OrderConsumer:     getEnv("ORDER_CONSUMER", "c1"),
		KafkaBrokers:      splitCSV(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:        getEnv("KAFKA_TOPIC", "voucher-order-events"),
		SeckillRateLimit:  1000,
		SeckillRateWindow: time.Second,
		CacheNullTTL:      2 * time.Minute,
		CacheShopTTL:      30 * time.Minute,
		CacheVoucherTTL:   30 * time.Minute,
		LockLease:         10 * time.Second,
		AdminToken:        getEnv("ADMIN_TOKEN", "dev-admin-token"),
	}

	redisDB, err := getEnvInt("REDIS_DB", cfg.RedisDB)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	cfg.RedisDB = redisDB

	rateLimit, err := getEnvInt("SECKILL_RATE_LIMIT", cfg.SeckillRateLimit)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid SECKILL_RATE_LIMIT: %w", err)
	}
	if rateLimit <= 0 {
		return AppConfig{}, fmt.Errorf("SECKILL_RATE_LIMIT must be > 0")
	}
	cfg.SeckillRateLimit = rateLimit

	rateWindowSec, err := getEnvInt("SECKILL_RATE_WINDOW_SEC", int(cfg.SeckillRateWindow.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid SECKILL_RATE_WINDOW_SEC: %w", err)
	}
	if rateWindowSec <= 0 {
		return AppConfig{}, fmt.Errorf("SECKILL_RATE_WINDOW_SEC must be > 0")
	}
	cfg.SeckillRateWindow = time.Duration(rateWindowSec) * time.Second

	nullTTLSec, err := getEnvInt("CACHE_NULL_TTL_SEC", int(cfg.CacheNullTTL.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid CACHE_NULL_TTL_SEC: %w", err)
	}
	if nullTTLSec <= 0 {
		return AppConfig{}, fmt.Errorf("CACHE_NULL_TTL_SEC must be > 0")
	}
	cfg.CacheNullTTL = time.Duration(nullTTLSec) * time.Second

	shopTTLMin, err := getEnvInt("CACHE_SHOP_TTL_MIN", int(cfg.CacheShopTTL.Minutes()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid CACHE_SHOP_TTL_MIN: %w", err)
	}
	if shopTTLMin <= 0 {
		return AppConfig{}, fmt.Errorf("CACHE_SHOP_TTL_MIN must be > 0")
	}
	cfg.CacheShopTTL = time.Duration(shopTTLMin) * time.Minute

	voucherTTLMin, err := getEnvInt("CACHE_VOUCHER_TTL_MIN", int(cfg.CacheVoucherTTL.Minutes()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid CACHE_VOUCHER_TTL_MIN: %w", err)
	}
	if voucherTTLMin <= 0 {
		return AppConfig{}, fmt.Errorf("CACHE_VOUCHER_TTL_MIN must be > 0")
	}
	cfg.CacheVoucherTTL = time.Duration(voucherTTLMin) * time.Minute

	lockLeaseSec, err := getEnvInt("LOCK_LEASE_SEC", int(cfg.LockLease.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid LOCK_LEASE_SEC: %w", err)
	}
	if lockLeaseSec <= 0 {
		return AppConfig{}, fmt.Errorf("LOCK_LEASE_SEC must be > 0")
	}
	cfg.LockLease = time.Duration(lockLeaseSec) * time.Second

	if cfg.OrderStream == "" {
		return AppConfig{}, fmt.Errorf("ORDER_STREAM must not be empty")
	}
	if cfg.OrderGroup == "" {
		return AppConfig{}, fmt.Errorf("ORDER_GROUP must not be empty")
	}
	if cfg.OrderConsumer == "" {
		return AppConfig{}, fmt.Errorf("ORDER_CONSUMER must not be empty")
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic == "" {
		return AppConfig{}, fmt.Errorf("KAFKA_TOPIC must not be empty when brokers are set")
	}

	return cfg, nil
}

// getEnv 读取字符串环境变量，若为空则返回默认值。
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt 读取整数环境变量，若为空则返回默认值。
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

// splitCSV 将逗号分隔字符串解析为字符串切片。
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
