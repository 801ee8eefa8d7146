package model

import "time"

// 订单状态。本核心只负责创建，支付/退款流转不在这里。
const (
	OrderStatusUnpaid = 1
	OrderStatusPaid   = 2
	OrderStatusClosed = 4
)

// VoucherOrder 秒杀订单。ID 由发号器生成，不用自增主键。
// (user_id, voucher_id) 唯一索引是一人一单在关系库侧的最终防线，
// 重复落单会撞唯一约束而不是产生第二行。
type VoucherOrder struct {
	ID        int64 `gorm:"primaryKey;autoIncrement:false" json:"id"`
	UserID    int64 `gorm:"not null;uniqueIndex:idx_user_voucher" json:"user_id"`
	VoucherID int64 `gorm:"not null;uniqueIndex:idx_user_voucher" json:"voucher_id"`
	Status    int   `gorm:"not null;default:1" json:"status"`

	CreateTime time.Time `gorm:"autoCreateTime" json:"create_time"`
}

func (VoucherOrder) TableName() string { return "tb_voucher_order" }
