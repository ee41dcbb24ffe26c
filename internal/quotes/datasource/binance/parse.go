package binance

import (
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"

	"drcrypt.com/internal/quotes/model"
)

var (
	ErrNotTrade     = errors.New("binance: not a trade event")
	ErrBadPrice     = errors.New("binance: bad price")
	ErrBadTimestamp = errors.New("binance: bad trade time")
)

// combined stream: /stream?streams=btcusdt@trade/ethusdt@trade
type bnCombined struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// 只取用到的字段，其余（E/t/q/m/M ...）忽略
type bnTrade struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	TradeTime int64  `json:"T"`
}

// ParseTrade 解析一帧 trade / aggTrade（裸帧或 combined 包装都行）
func ParseTrade(b []byte) (model.Tick, error) {
	var wrap bnCombined
	if err := json.Unmarshal(b, &wrap); err != nil {
		return model.Tick{}, err
	}
	payload := b
	if len(wrap.Data) > 0 {
		payload = wrap.Data
	}

	var tr bnTrade
	if err := json.Unmarshal(payload, &tr); err != nil {
		return model.Tick{}, err
	}
	if tr.EventType != "trade" && tr.EventType != "aggTrade" {
		return model.Tick{}, fmt.Errorf("%w: e=%q", ErrNotTrade, tr.EventType)
	}
	if tr.TradeTime <= 0 {
		return model.Tick{}, ErrBadTimestamp
	}
	px, err := decimal.NewFromString(tr.Price)
	if err != nil {
		return model.Tick{}, fmt.Errorf("%w: %q", ErrBadPrice, tr.Price)
	}

	t := model.Tick{
		Symbol: model.NormalizeSymbol(tr.Symbol),
		Price:  px,
		Time:   time.UnixMilli(tr.TradeTime).UTC(),
	}
	if err := t.Validate(); err != nil {
		return model.Tick{}, err
	}
	return t, nil
}
