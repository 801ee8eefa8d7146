package router

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"voucher_mall/internal/config"
	"voucher_mall/internal/middleware"
	"voucher_mall/internal/model"
	rediskit "voucher_mall/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Deps 路由层依赖集合，由 main 装配。
type Deps struct {
	DB       *gorm.DB
	RDB      *rd.Client
	Cache    *rediskit.CacheClient
	Seckill  *rediskit.Seckill
	IDWorker *rediskit.IDWorker
	Cfg      config.AppConfig
}

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, d Deps) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})

	// Voucher
	r.POST("/api/voucher", createVoucher(d))
	r.POST("/api/voucher/preload/:voucher_id", preloadStock(d))
	r.GET("/api/voucher/stock/:voucher_id", getStock(d))
	r.POST("/api/voucher/seckill/:voucher_id",
		middleware.RedisRateLimit(d.RDB, d.Cfg.SeckillRateLimit, d.Cfg.SeckillRateWindow),
		seckillVoucher(d))

	// Shop 读路径（缓存一致性策略示范的主要消费方）
	r.GET("/api/shop/:id", getShop(d))
	r.POST("/api/shop/warmup/:id", warmupShop(d))
	r.GET("/api/shop-type/list", listShopTypes(d))
}

// voucherByID 秒杀券的数据库回源函数，不存在返回 nil 而不是错误。
func voucherByID(db *gorm.DB) func(context.Context, int64) (*model.SeckillVoucher, error) {
	return func(ctx context.Context, id int64) (*model.SeckillVoucher, error) {
		var v model.SeckillVoucher
		if err := db.WithContext(ctx).First(&v, "voucher_id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil
			}
			return nil, err
		}
		return &v, nil
	}
}

// shopByID 店铺的数据库回源函数。
func shopByID(db *gorm.DB) func(context.Context, int64) (*model.Shop, error) {
	return func(ctx context.Context, id int64) (*model.Shop, error) {
		var s model.Shop
		if err := db.WithContext(ctx).First(&s, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil
			}
			return nil, err
		}
		return &s, nil
	}
}

// seckillVoucher 秒杀下单入口。
// 关键流程：
// 1. 经缓存客户端取券并校验活动时间窗
// 2. 发号器生成订单 ID
// 3. Lua 脚本原子完成「库存校验 + 一人一单 + 扣减 + 意图入流」
// 4. 返回订单 ID，落库由后台 worker 异步完成
func seckillVoucher(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		voucherID, err := strconv.ParseInt(c.Param("voucher_id"), 10, 64)
		if err != nil || voucherID <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "券ID无效"})
			return
		}

		var req struct {
			UserID int64 `json:"user_id" binding:"required,min=1"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}

		ctx := c.Request.Context()

		// 券信息是热点读，走穿透防护缓存而不是每个请求打库。
		voucher, err := rediskit.QueryWithPassThrough(ctx, d.Cache,
			rediskit.CacheVoucherPrefix, voucherID, voucherByID(d.DB), d.Cfg.CacheVoucherTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		if voucher == nil {
			c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "秒杀券不存在"})
			return
		}

		now := time.Now()
		if now.Before(voucher.BeginTime) {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "秒杀尚未开始"})
			return
		}
		if now.After(voucher.EndTime) {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "秒杀已经结束"})
			return
		}

		orderID, err := d.IDWorker.NextID(ctx, "order")
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}

		res, err := d.Seckill.Eligibility(ctx, voucherID, req.UserID, orderID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		switch res {
		case rediskit.SeckillOK:
			c.JSON(http.StatusOK, gin.H{
				"code": 0,
				"data": gin.H{"order_id": orderID},
			})
		case rediskit.SeckillStockShortage:
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "库存不足"})
		case rediskit.SeckillDuplicateOrder:
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "不能重复下单"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": "unknown eligibility result"})
		}
	}
}

// createVoucher 创建秒杀券（含时间窗校验，管理员口令保护）。
func createVoucher(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-Admin-Token") != d.Cfg.AdminToken {
			c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "admin token 无效"})
			return
		}

		var req struct {
			Title     string `json:"title" binding:"required"`
			Stock     int64  `json:"stock" binding:"required,min=1"`
			SalePrice int64  `json:"sale_price" binding:"required,min=1"`
			BeginTime string `json:"begin_time" binding:"required"`
			EndTime   string `json:"end_time" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		begin, err := time.Parse(time.RFC3339, req.BeginTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "begin_time 格式错误，请用 RFC3339"})
			return
		}
		end, err := time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "end_time 格式错误，请用 RFC3339"})
			return
		}
		if !end.After(begin) {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "end_time 必须晚于 begin_time"})
			return
		}

		v := &model.SeckillVoucher{
			Title:     req.Title,
			Stock:     req.Stock,
			SalePrice: req.SalePrice,
			BeginTime: begin,
			EndTime:   end,
		}
		if err := d.DB.Create(v).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": v})
	}
}

// preloadStock 将 DB 库存预热到 Redis，供秒杀期间高并发扣减。
// 该接口要求简单管理员 token，避免被任意调用重置库存。
func preloadStock(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-Admin-Token") != d.Cfg.AdminToken {
			c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "admin token 无效"})
			return
		}

		id, err := strconv.ParseInt(c.Param("voucher_id"), 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "券ID无效"})
			return
		}

		var v model.SeckillVoucher
		if err := d.DB.First(&v, "voucher_id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "秒杀券不存在"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		if err := d.Seckill.PreloadStock(c.Request.Context(), id, v.Stock); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "预热成功"})
	}
}

// getStock 查询 Redis 中的实时库存。
func getStock(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("voucher_id"), 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "券ID无效"})
			return
		}
		stock, err := d.Seckill.CachedStock(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"stock": stock}})
	}
}

// getShop 店铺详情，热点 key 走逻辑过期策略：过期也立即返回旧值，
// 重建在后台完成，读路径零额外延迟。
func getShop(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "店铺ID无效"})
			return
		}
		shop, err := rediskit.QueryWithLogicalExpiry(c.Request.Context(), d.Cache,
			rediskit.CacheShopPrefix, id, shopByID(d.DB), d.Cfg.CacheShopTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		if shop == nil {
			c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "店铺不存在"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": shop})
	}
}

// warmupShop 把店铺提前写入逻辑过期缓存。逻辑过期策略不回源真正的
// 未命中，热点数据必须先走这里预热。
func warmupShop(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-Admin-Token") != d.Cfg.AdminToken {
			c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "admin token 无效"})
			return
		}

		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "店铺ID无效"})
			return
		}
		shop, err := shopByID(d.DB)(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		if shop == nil {
			c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "店铺不存在"})
			return
		}

		key := rediskit.CacheShopPrefix + strconv.FormatInt(id, 10)
		if err := d.Cache.SetWithLogicalExpire(c.Request.Context(), key, shop, d.Cfg.CacheShopTTL); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "预热成功"})
	}
}

// listShopTypes 店铺分类列表，整表走 Redis List 缓存。
func listShopTypes(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := rediskit.QueryListThrough(c.Request.Context(), d.Cache,
			rediskit.CacheShopTypeKey, func(ctx context.Context) ([]model.ShopType, error) {
				var types []model.ShopType
				if err := d.DB.WithContext(ctx).Order("sort asc").Find(&types).Error; err != nil {
					return nil, err
				}
				return types, nil
			}, d.Cfg.CacheShopTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": list})
	}
}
