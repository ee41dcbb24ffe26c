package storage

import (
	"context"
	"errors"

	"drcrypt.com/internal/quotes/model"
)

var ErrClosed = errors.New("storage: closed")

// Store 持久化层只要求“按时间有序”的读写
// 具体引擎（influx / mysql / 内存）由配置选择
type Store interface {
	// Write 批量写入；失败由调用方决定丢弃还是重试
	Write(ctx context.Context, ticks []model.Tick) error
	// Recent 返回 symbol 最近 limit 条，新 -> 旧
	Recent(ctx context.Context, symbol string, limit int) ([]model.Tick, error)
	Close() error
}
