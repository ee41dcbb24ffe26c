package mdsource

import (
	"context"
	"errors"

	"drcrypt.com/internal/quotes/model"
)

// ErrMalformed 单帧解析失败：记日志、丢掉这一帧，连接继续用
var ErrMalformed = errors.New("mdsource: malformed message")

// Source：一个“可插拔”的上游行情源（一个 symbol 一条连接）
type Source interface {
	Name() string
	Symbol() string
	// Dial 建连；成功即视为 Connected
	Dial(ctx context.Context) (Stream, error)
}

// Stream 一条已建立的上游连接
//
// Next 阻塞直到下一条 tick：
//   - errors.Is(err, ErrMalformed) => 跳过这一帧继续读
//   - 其他错误 => 连接不可用，调用方 Close 后重连
type Stream interface {
	Next(ctx context.Context) (model.Tick, error)
	Close() error
}
