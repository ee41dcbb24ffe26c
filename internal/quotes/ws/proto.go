package ws

import (
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"

	"drcrypt.com/internal/quotes/model"
)

// ClientMsg 客户端 -> 服务端；不发任何东西就是收全部 symbol
type ClientMsg struct {
	Type    string   `json:"type"`    // "sub" | "unsub"
	Symbols []string `json:"symbols"` // BTCUSDT ...
}

// PriceMsg 服务端 -> 客户端，一帧一条
//
//	{"symbol":"BTCUSDT","price":97000.1,"timestamp":"2023-11-14T22:13:20Z"}
type PriceMsg struct {
	Symbol    string      `json:"symbol"`
	Price     json.Number `json:"price"`
	Timestamp string      `json:"timestamp"`
}

func (m PriceMsg) Tick() (model.Tick, error) {
	px, err := decimal.NewFromString(m.Price.String())
	if err != nil {
		return model.Tick{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, m.Timestamp)
	if err != nil {
		return model.Tick{}, err
	}
	t := model.Tick{Symbol: m.Symbol, Price: px, Time: ts}
	return t, t.Validate()
}
