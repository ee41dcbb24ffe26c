package ws

import (
	"time"

	"github.com/segmentio/encoding/json"

	"drcrypt.com/internal/quotes/model"
)

func ToMsg(t model.Tick) PriceMsg {
	return PriceMsg{
		Symbol:    t.Symbol,
		Price:     json.Number(t.Price.String()),
		Timestamp: FormatTime(t.Time),
	}
}

// FormatTime 对外统一 UTC RFC3339Nano
func FormatTime(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}

// EncodeTick 每个 tick 只编码一次，所有连接共享同一份 payload
func EncodeTick(t model.Tick) ([]byte, error) {
	return json.Marshal(ToMsg(t))
}

func DecodeTick(b []byte) (model.Tick, error) {
	var m PriceMsg
	if err := json.Unmarshal(b, &m); err != nil {
		return model.Tick{}, err
	}
	return m.Tick()
}
