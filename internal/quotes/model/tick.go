package model

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptySymbol      = errors.New("tick: empty symbol")
	ErrNonPositivePrice = errors.New("tick: price must be > 0")
	ErrZeroTime         = errors.New("tick: zero timestamp")
)

// Tick: 统一后的一次成交价格观测
//
// 约定：
// - Symbol 统一大写，不带分隔符（BTCUSDT，跟上游保持一致）
// - Price 用 decimal，避免 float64 误差；只在推送给前端时转成 number
// - Time 只保证“近似有序”，上游可能轻微乱序
type Tick struct {
	Symbol string
	Price  decimal.Decimal
	Time   time.Time
}

func (t Tick) Validate() error {
	if t.Symbol == "" {
		return ErrEmptySymbol
	}
	if !t.Price.IsPositive() {
		return ErrNonPositivePrice
	}
	if t.Time.IsZero() {
		return ErrZeroTime
	}
	return nil
}

// UnixMs 毫秒时间戳（存储层、上游都是 ms 精度）
func (t Tick) UnixMs() int64 { return t.Time.UnixMilli() }

func NormalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "_", "")
	s = strings.ReplaceAll(s, "/", "")
	return s
}

// SortByTime 稳定排序（旧 -> 新），读路径用来兜住轻微乱序
func SortByTime(ticks []Tick) {
	slices.SortStableFunc(ticks, func(a, b Tick) int { return a.Time.Compare(b.Time) })
}

// Reverse 原地翻转（存储层返回 新->旧，对外统一 旧->新）
func Reverse(ticks []Tick) {
	for i, j := 0, len(ticks)-1; i < j; i, j = i+1, j-1 {
		ticks[i], ticks[j] = ticks[j], ticks[i]
	}
}
