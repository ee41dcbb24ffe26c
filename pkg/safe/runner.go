package safe

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"

	"drcrypt.com/pkg/logger"
)

// Go 安全启动协程：panic 只记日志，不带崩整个进程
// name 用来区分是哪个后台任务（ingest / writer / pump ...）
func Go(name string, fn func()) {
	go func() {
		defer Recover(context.Background(), name)
		fn()
	}()
}

// GoCtx 携带 context 的版本，日志里保留 trace/request 信息
func GoCtx(ctx context.Context, name string, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		defer Recover(ctx, name)
		fn(ctx)
	}()
}

// Recover 在 defer 里用；同步调用点（比如 sink 回调）也可以直接 defer safe.Recover(...)
func Recover(ctx context.Context, name string) {
	if r := recover(); r != nil {
		logger.Error(ctx, "goroutine panic recovered",
			zap.String("task", name),
			zap.Any("panic", r),
			zap.String("stack", string(debug.Stack())),
		)
	}
}
