package main

import (
	"context"
	"os/signal"
	"syscall"

	"voucher_mall/internal/config"
	"voucher_mall/internal/model"
	"voucher_mall/internal/queue"
	"voucher_mall/internal/router"
	rediskit "voucher_mall/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}

	// 1. 连接 SQLite，自动建表
	db, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{})
	if err != nil {
		logrus.WithError(err).Fatal("db open")
	}
	if err := db.AutoMigrate(
		&model.SeckillVoucher{},
		&model.VoucherOrder{},
		&model.Shop{},
		&model.ShopType{},
	); err != nil {
		logrus.WithError(err).Fatal("db migrate")
	}

	// 2. Redis
	rdb := rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logrus.WithError(err).Fatal("redis ping")
	}

	cache := rediskit.NewCacheClient(rdb, cfg.CacheNullTTL, cfg.LockLease)
	defer cache.Close()
	seckill := rediskit.NewSeckill(rdb, cfg.OrderStream)
	idWorker := rediskit.NewIDWorker(rdb)

	// 3. 订单事件生产者（可选）+ 落单 worker
	var producer *queue.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer = queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
	}
	worker := queue.NewWorker(rdb, db, producer,
		cfg.OrderStream, cfg.OrderGroup, cfg.OrderConsumer, cfg.LockLease)
	go worker.Run(ctx)

	// 4. HTTP
	r := gin.Default()
	router.Setup(r, router.Deps{
		DB:       db,
		RDB:      rdb,
		Cache:    cache,
		Seckill:  seckill,
		IDWorker: idWorker,
		Cfg:      cfg,
	})

	if err := r.Run(cfg.HTTPAddr); err != nil {
		logrus.WithError(err).Fatal("http server")
	}
}
