package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tubeforge/app/model"

	"github.com/patrickmn/go-cache"
	"gorm.io/gorm"
)

const activeChannelsKey = "__active__"

// ChannelDirectory 频道只读视图，带短时缓存。调度核心从不修改频道。
type ChannelDirectory struct {
	db    *gorm.DB
	cache *cache.Cache
}

// NewChannelDirectory 创建频道目录
func NewChannelDirectory(db *gorm.DB, ttl time.Duration) *ChannelDirectory {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &ChannelDirectory{
		db:    db,
		cache: cache.New(ttl, 2*ttl),
	}
}

// Get 按外部ID获取频道
func (d *ChannelDirectory) Get(ctx context.Context, channelID string) (*model.Channel, error) {
	if v, ok := d.cache.Get(channelID); ok {
		return v.(*model.Channel), nil
	}

	var ch model.Channel
	if err := d.db.WithContext(ctx).Where("channel_id = ?", channelID).First(&ch).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
		}
		return nil, fmt.Errorf("查询频道失败: %w", err)
	}

	d.cache.Set(channelID, &ch, cache.DefaultExpiration)
	return &ch, nil
}

// ListActive 列出所有启用的频道，按频道ID排序
func (d *ChannelDirectory) ListActive(ctx context.Context) ([]model.Channel, error) {
	if v, ok := d.cache.Get(activeChannelsKey); ok {
		return v.([]model.Channel), nil
	}

	var channels []model.Channel
	if err := d.db.WithContext(ctx).Where("is_active = ?", true).
		Order("channel_id ASC").Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("查询频道列表失败: %w", err)
	}

	d.cache.Set(activeChannelsKey, channels, cache.DefaultExpiration)
	return channels, nil
}

// Invalidate 清空缓存，频道配置热加载同步后调用
func (d *ChannelDirectory) Invalidate() {
	d.cache.Flush()
}
