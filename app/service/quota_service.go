package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"tubeforge/app/config"
	"tubeforge/app/logger"
	"tubeforge/app/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QuotaCheck 配额预检结果
type QuotaCheck struct {
	ChannelID string               `json:"channel_id"`
	Date      string               `json:"date"`
	Operation model.QuotaOperation `json:"operation"`
	Cost      int                  `json:"cost"`
	Used      int                  `json:"used"`
	Limit     int                  `json:"limit"`
	Allowed   bool                 `json:"allowed"`
}

// QuotaLedger 频道每日 YouTube 配额账本
type QuotaLedger struct {
	db           *gorm.DB
	channels     *ChannelDirectory
	alerts       *AlertService
	log          *logger.Logger
	costs        map[model.QuotaOperation]int
	defaultLimit int
	loc          *time.Location
	now          Clock
}

// NewQuotaLedger 创建配额账本；channels 与 alerts 可以为 nil
func NewQuotaLedger(db *gorm.DB, cfg config.QuotaConfig, channels *ChannelDirectory, alerts *AlertService, log *logger.Logger) *QuotaLedger {
	costs := make(map[model.QuotaOperation]int, len(cfg.Costs))
	for op, cost := range cfg.Costs {
		costs[model.QuotaOperation(op)] = cost
	}
	limit := cfg.DailyLimit
	if limit <= 0 {
		limit = 10000
	}
	return &QuotaLedger{
		db:           db,
		channels:     channels,
		alerts:       alerts,
		log:          log,
		costs:        costs,
		defaultLimit: limit,
		loc:          cfg.Location(),
		now:          time.Now,
	}
}

// SetClock 替换时间源
func (l *QuotaLedger) SetClock(now Clock) {
	l.now = now
}

// Cost 查询操作的固定消耗
func (l *QuotaLedger) Cost(op model.QuotaOperation) (int, error) {
	cost, ok := l.costs[op]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrInvalidOperation, op)
	}
	return cost, nil
}

// Today 当前配额日期
func (l *QuotaLedger) Today() string {
	return l.now().In(l.loc).Format("2006-01-02")
}

// limitFor 频道的每日上限
func (l *QuotaLedger) limitFor(ctx context.Context, channelID string) (int, error) {
	if l.channels == nil {
		return l.defaultLimit, nil
	}
	ch, err := l.channels.Get(ctx, channelID)
	if err != nil {
		return 0, err
	}
	return ch.QuotaLimit(l.defaultLimit), nil
}

// Check 在调用计费接口之前检查配额，不修改账本
func (l *QuotaLedger) Check(ctx context.Context, channelID string, op model.QuotaOperation) (QuotaCheck, error) {
	cost, err := l.Cost(op)
	if err != nil {
		return QuotaCheck{}, err
	}

	date := l.Today()
	check := QuotaCheck{ChannelID: channelID, Date: date, Operation: op, Cost: cost}

	var rec model.QuotaRecord
	err = l.db.WithContext(ctx).Where("channel_id = ? AND date = ?", channelID, date).First(&rec).Error
	switch {
	case err == nil:
		check.Used = rec.UnitsUsed
		check.Limit = rec.DailyLimit
	case errors.Is(err, gorm.ErrRecordNotFound):
		// 今天还没有记录，视为未使用
		limit, err := l.limitFor(ctx, channelID)
		if err != nil {
			return QuotaCheck{}, err
		}
		rec = model.QuotaRecord{ChannelID: channelID, Date: date, DailyLimit: limit}
		check.Limit = limit
	default:
		return QuotaCheck{}, fmt.Errorf("查询配额记录失败: %w", err)
	}

	check.Allowed = rec.CanAfford(cost)
	return check, nil
}

// Record 外部调用成功之后记录配额消耗，行锁保证并发 worker 不丢失更新
func (l *QuotaLedger) Record(ctx context.Context, channelID string, op model.QuotaOperation) (*model.QuotaRecord, error) {
	cost, err := l.Cost(op)
	if err != nil {
		return nil, err
	}
	limit, err := l.limitFor(ctx, channelID)
	if err != nil {
		return nil, err
	}

	date := l.Today()
	var rec model.QuotaRecord
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seed := model.QuotaRecord{ChannelID: channelID, Date: date, DailyLimit: limit}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return err
		}

		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("channel_id = ? AND date = ?", channelID, date).
			First(&rec).Error; err != nil {
			return err
		}

		rec.UnitsUsed += cost
		return tx.Model(&rec).Update("units_used", rec.UnitsUsed).Error
	})
	if err != nil {
		return nil, fmt.Errorf("记录配额消耗失败: %w", err)
	}

	l.log.Info("记录YouTube配额消耗",
		zap.String("channel_id", channelID),
		zap.String("operation", string(op)),
		zap.Int("cost", cost),
		zap.Int("used", rec.UnitsUsed),
		zap.Int("limit", rec.DailyLimit))

	if l.alerts != nil {
		l.alerts.EvaluateQuota(channelID, rec.UnitsUsed, rec.DailyLimit)
	}
	return &rec, nil
}

// Usage 频道今天的用量，没有记录时返回零用量
func (l *QuotaLedger) Usage(ctx context.Context, channelID string) (*model.QuotaRecord, error) {
	date := l.Today()
	var rec model.QuotaRecord
	err := l.db.WithContext(ctx).Where("channel_id = ? AND date = ?", channelID, date).First(&rec).Error
	if err == nil {
		return &rec, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("查询配额记录失败: %w", err)
	}

	limit, err := l.limitFor(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return &model.QuotaRecord{ChannelID: channelID, Date: date, DailyLimit: limit}, nil
}

// UsageByDate 某天所有频道的用量
func (l *QuotaLedger) UsageByDate(ctx context.Context, date string) ([]model.QuotaRecord, error) {
	if date == "" {
		date = l.Today()
	}
	var records []model.QuotaRecord
	if err := l.db.WithContext(ctx).Where("date = ?", date).
		Order("channel_id ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("查询配额记录失败: %w", err)
	}
	return records, nil
}

// ExhaustedChannels 今天已无法承担一次 op 消耗的频道，包括还没有用量记录但上限低于单次消耗的频道
func (l *QuotaLedger) ExhaustedChannels(ctx context.Context, op model.QuotaOperation) ([]string, error) {
	cost, err := l.Cost(op)
	if err != nil {
		return nil, err
	}

	var records []model.QuotaRecord
	if err := l.db.WithContext(ctx).Where("date = ?", l.Today()).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("查询配额耗尽频道失败: %w", err)
	}

	var channels []model.Channel
	if err := l.db.WithContext(ctx).Select("channel_id", "daily_quota").
		Where("is_active = ?", true).Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("查询频道配额上限失败: %w", err)
	}

	seen := make(map[string]bool, len(records))
	var ids []string
	for _, rec := range records {
		seen[rec.ChannelID] = true
		if !rec.CanAfford(cost) {
			ids = append(ids, rec.ChannelID)
		}
	}
	for _, ch := range channels {
		if seen[ch.ChannelID] {
			continue
		}
		fresh := model.QuotaRecord{ChannelID: ch.ChannelID, DailyLimit: ch.QuotaLimit(l.defaultLimit)}
		if !fresh.CanAfford(cost) {
			ids = append(ids, ch.ChannelID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// MarkExhausted 上游明确返回配额耗尽时把频道当天用量记满，之后的认领会跳过该频道直到配额日切换
func (l *QuotaLedger) MarkExhausted(ctx context.Context, channelID string) (*model.QuotaRecord, error) {
	limit, err := l.limitFor(ctx, channelID)
	if err != nil {
		return nil, err
	}

	date := l.Today()
	var rec model.QuotaRecord
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seed := model.QuotaRecord{ChannelID: channelID, Date: date, DailyLimit: limit}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return err
		}

		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("channel_id = ? AND date = ?", channelID, date).
			First(&rec).Error; err != nil {
			return err
		}

		if rec.Remaining() == 0 {
			return nil
		}
		rec.UnitsUsed = rec.DailyLimit
		return tx.Model(&rec).Update("units_used", rec.UnitsUsed).Error
	})
	if err != nil {
		return nil, fmt.Errorf("标记配额耗尽失败: %w", err)
	}

	l.log.Warn("上游返回配额耗尽，频道当天不再执行计费操作",
		zap.String("channel_id", channelID),
		zap.String("date", date),
		zap.Int("used", rec.UnitsUsed),
		zap.Int("limit", rec.DailyLimit))

	if l.alerts != nil {
		l.alerts.EvaluateQuota(channelID, rec.UnitsUsed, rec.DailyLimit)
	}
	return &rec, nil
}
