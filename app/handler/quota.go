package handler

import (
	"tubeforge/app/model"
	"tubeforge/app/service"

	"github.com/gin-gonic/gin"
)

// QuotaHandler 配额与频道查询
type QuotaHandler struct {
	ledger   *service.QuotaLedger
	channels *service.ChannelDirectory
}

// quotaView 配额记录附带剩余量和使用比例
type quotaView struct {
	*model.QuotaRecord
	Remaining     int     `json:"remaining"`
	UsageFraction float64 `json:"usage_fraction"`
}

func newQuotaView(rec *model.QuotaRecord) quotaView {
	return quotaView{
		QuotaRecord:   rec,
		Remaining:     rec.Remaining(),
		UsageFraction: rec.UsageFraction(),
	}
}

// NewQuotaHandler 创建配额处理器
func NewQuotaHandler(ledger *service.QuotaLedger, channels *service.ChannelDirectory) *QuotaHandler {
	return &QuotaHandler{ledger: ledger, channels: channels}
}

// TodayUsage 当天所有频道的配额使用情况，可用 date 参数查询历史
func (h *QuotaHandler) TodayUsage(c *gin.Context) {
	date := c.DefaultQuery("date", h.ledger.Today())
	records, err := h.ledger.UsageByDate(c.Request.Context(), date)
	if err != nil {
		failErr(c, err)
		return
	}
	views := make([]quotaView, 0, len(records))
	for i := range records {
		views = append(views, newQuotaView(&records[i]))
	}
	success(c, gin.H{
		"date":    date,
		"records": views,
	}, "success")
}

// ChannelUsage 单个频道当天的配额使用情况
func (h *QuotaHandler) ChannelUsage(c *gin.Context) {
	channelID := c.Param("channel_id")
	if _, err := h.channels.Get(c.Request.Context(), channelID); err != nil {
		failErr(c, err)
		return
	}
	record, err := h.ledger.Usage(c.Request.Context(), channelID)
	if err != nil {
		failErr(c, err)
		return
	}
	success(c, newQuotaView(record), "success")
}

// ListChannels 参与轮转的频道
func (h *QuotaHandler) ListChannels(c *gin.Context) {
	channels, err := h.channels.ListActive(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	success(c, channels, "success")
}
