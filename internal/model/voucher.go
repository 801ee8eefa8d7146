package model

import "time"

// SeckillVoucher 秒杀券：库存、秒杀价、活动时间窗。
// Stock 是关系库中的权威库存；秒杀期间的实时扣减走 Redis 镜像，
// 落单时再用条件更新扣减这里，双保险防超卖。
type SeckillVoucher struct {
	VoucherID int64     `gorm:"column:voucher_id;primaryKey;autoIncrement" json:"voucher_id"`
	Title     string    `gorm:"size:128;not null" json:"title"`
	Stock     int64     `gorm:"not null;default:0" json:"stock"`
	SalePrice int64     `gorm:"not null" json:"sale_price"` // 单位：分
	BeginTime time.Time `gorm:"not null" json:"begin_time"`
	EndTime   time.Time `gorm:"not null" json:"end_time"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SeckillVoucher) TableName() string { return "tb_seckill_voucher" }
