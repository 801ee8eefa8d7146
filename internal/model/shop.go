package model

import "time"

// Shop 店铺，热点读路径经由缓存客户端回源这里。
type Shop struct {
	ID       int64  `gorm:"primaryKey" json:"id"`
	Name     string `gorm:"size:128;not null" json:"name"`
	TypeID   int64  `gorm:"not null;index" json:"type_id"`
	Address  string `gorm:"size:255" json:"address"`
	AvgScore int    `gorm:"not null;default:0" json:"avg_score"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Shop) TableName() string { return "tb_shop" }

// ShopType 店铺分类，小而全的列表，整体走 Redis List 缓存。
type ShopType struct {
	ID   int64  `gorm:"primaryKey" json:"id"`
	Name string `gorm:"size:32;not null" json:"name"`
	Sort int    `gorm:"not null;default:0" json:"sort"`
}

func (ShopType) TableName() string { return "tb_shop_type" }
