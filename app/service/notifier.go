package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tubeforge/app/logger"

	"go.uber.org/zap"
	"resty.dev/v3"
)

// LogNotifier 把告警写入日志
type LogNotifier struct {
	log *logger.Logger
}

func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, alert Alert) error {
	fields := []zap.Field{zap.String("level", string(alert.Level))}
	for k, v := range alert.Details {
		fields = append(fields, zap.Any(k, v))
	}
	if alert.Level == AlertCritical {
		n.log.Error("🚨 "+alert.Message, fields...)
	} else {
		n.log.Warn("⚠️ "+alert.Message, fields...)
	}
	return nil
}

// DiscordNotifier 通过 Discord webhook 投递告警
type DiscordNotifier struct {
	webhookURL string
	client     *resty.Client
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Color       int                 `json:"color"`
	Fields      []discordEmbedField `json:"fields"`
	Timestamp   string              `json:"timestamp"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

// NewDiscordNotifier 创建 Discord 告警通道
func NewDiscordNotifier(webhookURL string, timeout time.Duration) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: webhookURL,
		client:     resty.New().SetTimeout(timeout),
	}
}

func (n *DiscordNotifier) Notify(ctx context.Context, alert Alert) error {
	color := 0xF1C40F
	if alert.Level == AlertCritical {
		color = 0xE74C3C
	}

	fields := make([]discordEmbedField, 0, len(alert.Details))
	for _, key := range []string{"channel_id", "usage", "cap", "percent"} {
		v, ok := alert.Details[key]
		if !ok {
			continue
		}
		value := fmt.Sprint(v)
		if f, isFloat := v.(float64); isFloat {
			value = fmt.Sprintf("%.1f", f)
		}
		fields = append(fields, discordEmbedField{Name: key, Value: value, Inline: true})
	}

	payload := discordPayload{Embeds: []discordEmbed{{
		Title:       string(alert.Level),
		Description: alert.Message,
		Color:       color,
		Fields:      fields,
		Timestamp:   alert.At.UTC().Format(time.RFC3339),
	}}}

	res, err := n.client.R().SetContext(ctx).SetBody(payload).Post(n.webhookURL)
	if err != nil {
		return fmt.Errorf("发送Discord告警失败: %w", err)
	}
	if res.StatusCode() >= 300 {
		return fmt.Errorf("Discord返回 %d: %s", res.StatusCode(), res.String())
	}
	return nil
}

// MultiNotifier 依次投递到多个通道
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
