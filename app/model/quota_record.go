package model

import (
	"time"
)

// QuotaRecord 频道每日的 YouTube API 配额用量
type QuotaRecord struct {
	ID         uint      `json:"id" gorm:"primarykey"`
	ChannelID  string    `json:"channel_id" gorm:"size:64;not null;uniqueIndex:idx_quota_channel_date,priority:1"`
	Date       string    `json:"date" gorm:"size:10;not null;uniqueIndex:idx_quota_channel_date,priority:2;comment:YYYY-MM-DD"`
	UnitsUsed  int       `json:"units_used" gorm:"not null;default:0"`
	DailyLimit int       `json:"daily_limit" gorm:"not null"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName 指定表名
func (QuotaRecord) TableName() string {
	return "youtube_quota_usage"
}

// Remaining 剩余配额
func (q *QuotaRecord) Remaining() int {
	if q.UnitsUsed >= q.DailyLimit {
		return 0
	}
	return q.DailyLimit - q.UnitsUsed
}

// UsageFraction 已用比例
func (q *QuotaRecord) UsageFraction() float64 {
	if q.DailyLimit <= 0 {
		return 0
	}
	return float64(q.UnitsUsed) / float64(q.DailyLimit)
}

// CanAfford 是否还能承担一次给定消耗的操作（恰好用满视为允许）
func (q *QuotaRecord) CanAfford(cost int) bool {
	return q.UnitsUsed+cost <= q.DailyLimit
}
