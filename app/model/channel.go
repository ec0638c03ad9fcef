package model

import (
	"time"
)

// Channel 频道（租户）
type Channel struct {
	ID              uint      `json:"id" gorm:"primarykey"`
	ChannelID       string    `json:"channel_id" gorm:"size:64;uniqueIndex;not null;comment:外部频道ID"`
	Name            string    `json:"name" gorm:"size:100;not null"`
	IsActive        bool      `json:"is_active" gorm:"not null;index"`
	MaxConcurrent   int       `json:"max_concurrent" gorm:"default:2;comment:并发容量提示"`
	DailyQuota      int       `json:"daily_quota" gorm:"default:0;comment:每日配额上限，0表示使用默认值"`
	Credentials     string    `json:"-" gorm:"type:text;comment:加密凭据"`
	StorageStrategy string    `json:"storage_strategy" gorm:"size:32;default:local"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName 指定表名
func (Channel) TableName() string {
	return "channels"
}

// QuotaLimit 返回频道的每日配额上限
func (c *Channel) QuotaLimit(fallback int) int {
	if c.DailyQuota > 0 {
		return c.DailyQuota
	}
	return fallback
}
