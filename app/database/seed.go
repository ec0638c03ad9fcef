package database

import (
	"fmt"

	"tubeforge/app/auth"
	"tubeforge/app/config"
	"tubeforge/app/logger"
	"tubeforge/app/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SyncChannels 将配置中的频道写入数据库，已存在的频道只更新可配置字段
func SyncChannels(db *gorm.DB, channels []config.ChannelConfig, log *logger.Logger) error {
	for _, ch := range channels {
		name := ch.Name
		if name == "" {
			name = ch.ChannelID
		}
		row := model.Channel{
			ChannelID:       ch.ChannelID,
			Name:            name,
			IsActive:        ch.IsActive(),
			MaxConcurrent:   ch.MaxConcurrent,
			DailyQuota:      ch.DailyQuota,
			StorageStrategy: ch.StorageStrategy,
		}
		if row.StorageStrategy == "" {
			row.StorageStrategy = "local"
		}

		err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "channel_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "is_active", "max_concurrent", "daily_quota", "storage_strategy", "updated_at"}),
		}).Create(&row).Error
		if err != nil {
			return fmt.Errorf("同步频道 %s 失败: %w", ch.ChannelID, err)
		}
		if !ch.IsActive() {
			log.Infof("频道[%s]已停用，不再参与轮转", ch.ChannelID)
		}
	}

	if len(channels) > 0 {
		log.Infof("已同步 %d 个频道配置", len(channels))
	}
	return nil
}

// InitOperator 根据配置创建或更新运维账户
func InitOperator(db *gorm.DB, cfg *config.Config, log *logger.Logger) error {
	if cfg.Server.Username == "" || cfg.Server.Password == "" {
		log.Warnf("配置文件中未设置运维账户，管理接口将无法登录")
		return nil
	}

	var existing model.Operator
	result := db.Where("username = ?", cfg.Server.Username).First(&existing)
	if result.Error == nil {
		if auth.VerifyPassword(cfg.Server.Password, existing.Password) {
			return nil
		}
		hash, err := auth.HashPassword(cfg.Server.Password)
		if err != nil {
			return fmt.Errorf("哈希密码失败: %w", err)
		}
		existing.Password = hash
		if err := db.Save(&existing).Error; err != nil {
			return fmt.Errorf("更新运维账户失败: %w", err)
		}
		log.Infof("运维账户 '%s' 密码已更新", cfg.Server.Username)
		return nil
	}

	hash, err := auth.HashPassword(cfg.Server.Password)
	if err != nil {
		return fmt.Errorf("哈希密码失败: %w", err)
	}
	op := model.Operator{
		Username: cfg.Server.Username,
		Password: hash,
		IsActive: true,
	}
	if err := db.Create(&op).Error; err != nil {
		return fmt.Errorf("创建运维账户失败: %w", err)
	}

	log.Infof("运维账户 '%s' 创建成功", cfg.Server.Username)
	return nil
}
