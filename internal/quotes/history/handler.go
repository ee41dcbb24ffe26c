package history

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/encoding/json"

	"drcrypt.com/internal/quotes/model"
	"drcrypt.com/internal/quotes/ws"
	"drcrypt.com/pkg/common"
)

// PricePoint /prices/history 数组里的一项
type PricePoint struct {
	Price     json.Number `json:"price"`
	Timestamp string      `json:"timestamp"`
}

type Handler struct {
	svc           *Service
	defaultSymbol string
}

// NewHandler defaultSymbol：请求不带 symbol 时用哪个（一般是第一个 feed symbol）
func NewHandler(svc *Service, defaultSymbol string) *Handler {
	return &Handler{svc: svc, defaultSymbol: model.NormalizeSymbol(defaultSymbol)}
}

func (h *Handler) Register(r gin.IRouter) {
	r.GET("/prices/history", h.History)
	r.GET("/prices/latest", h.Latest)
}

// History GET /prices/history?symbol=BTCUSDT&limit=100
func (h *Handler) History(c *gin.Context) {
	symbol := c.DefaultQuery("symbol", h.defaultSymbol)

	limit := 0
	if raw, ok := c.GetQuery("limit"); ok {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			common.FailErr(c, ErrBadLimit)
			return
		}
		limit = n
	}

	res, err := h.svc.Query(c.Request.Context(), symbol, limit)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	if res.Degraded {
		c.Header("X-Degraded", "cache-only")
	}
	c.Header("X-Data-Source", res.Source)

	out := make([]PricePoint, len(res.Ticks))
	for i, t := range res.Ticks {
		out[i] = PricePoint{Price: json.Number(t.Price.String()), Timestamp: ws.FormatTime(t.Time)}
	}
	writeJSON(c, out)
}

// Latest GET /prices/latest?symbol=BTCUSDT
func (h *Handler) Latest(c *gin.Context) {
	t, err := h.svc.Latest(c.Request.Context(), c.DefaultQuery("symbol", h.defaultSymbol))
	if err != nil {
		common.FailErr(c, err)
		return
	}
	writeJSON(c, ws.ToMsg(t))
}

// 跟 ws 推送同一套编码，price 保持 JSON number
func writeJSON(c *gin.Context, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", b)
}
