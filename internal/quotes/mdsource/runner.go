package mdsource

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"drcrypt.com/internal/quotes/model"
	"drcrypt.com/pkg/logger"
	"drcrypt.com/pkg/metrics"
)

// DefaultRetryDelay 断线后固定等 5s 再连，不退避、不限次数
const DefaultRetryDelay = 5 * time.Second

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// 三个下游，按这个顺序逐个调用
type (
	Cache interface {
		Append(t model.Tick)
	}
	Persister interface {
		Enqueue(t model.Tick) bool
	}
	Publisher interface {
		Publish(t model.Tick)
	}
)

// Runner：一个上游连接的生命周期管理（连 -> 读 -> 断 -> 等 -> 再连）
type Runner struct {
	src     Source
	cache   Cache
	persist Persister
	pub     Publisher

	RetryDelay time.Duration

	state      atomic.Int32
	reconnects atomic.Uint64
	received   atomic.Uint64
	malformed  atomic.Uint64
}

// NewRunner 下游可以传 nil（比如 gateway-only 模式没有 writer）
func NewRunner(src Source, cache Cache, persist Persister, pub Publisher) *Runner {
	return &Runner{
		src:        src,
		cache:      cache,
		persist:    persist,
		pub:        pub,
		RetryDelay: DefaultRetryDelay,
	}
}

func (r *Runner) Symbol() string { return r.src.Symbol() }
func (r *Runner) State() State { return State(r.state.Load()) }
func (r *Runner) Reconnects() uint64 { return r.reconnects.Load() }
func (r *Runner) Received() uint64 { return r.received.Load() }
func (r *Runner) Malformed() uint64 { return r.malformed.Load() }

func (r *Runner) setState(s State) {
	r.state.Store(int32(s))
	metrics.FeedState.WithLabelValues(r.src.Symbol()).Set(float64(s))
}

// Run 阻塞直到 ctx 取消
func (r *Runner) Run(ctx context.Context) {
	sym := r.src.Symbol()
	fields := []zap.Field{zap.String("source", r.src.Name()), zap.String("symbol", sym)}
	defer r.setState(Disconnected)

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return
		}
		if attempt > 0 {
			r.reconnects.Add(1)
			metrics.FeedReconnectsTotal.WithLabelValues(sym).Inc()
		}

		r.setState(Connecting)
		st, err := r.src.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn(ctx, "upstream dial failed", append(fields, zap.Error(err))...)
		} else {
			r.setState(Connected)
			logger.Info(ctx, "upstream connected", fields...)
			err = r.consume(ctx, st)
			_ = st.Close()
			if ctx.Err() != nil {
				return
			}
			logger.Warn(ctx, "upstream disconnected", append(fields, zap.Error(err))...)
		}

		r.setState(Disconnected)
		timer := time.NewTimer(r.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (r *Runner) consume(ctx context.Context, st Stream) error {
	sym := r.src.Symbol()
	for {
		t, err := st.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrMalformed) {
				r.malformed.Add(1)
				metrics.FeedMessagesTotal.WithLabelValues(sym, "malformed").Inc()
				logger.Warn(ctx, "discard malformed upstream message", zap.String("symbol", sym), zap.Error(err))
				continue
			}
			return err
		}
		r.received.Add(1)
		metrics.FeedMessagesTotal.WithLabelValues(sym, "ok").Inc()
		r.dispatch(ctx, t)
	}
}

// dispatch 尽力而为：某个下游 panic 不影响后面的
func (r *Runner) dispatch(ctx context.Context, t model.Tick) {
	if r.cache != nil {
		r.sink(ctx, "cache", func() { r.cache.Append(t) })
	}
	if r.persist != nil {
		r.sink(ctx, "writer", func() { r.persist.Enqueue(t) })
	}
	if r.pub != nil {
		r.sink(ctx, "publish", func() { r.pub.Publish(t) })
	}
}

func (r *Runner) sink(ctx context.Context, name string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			metrics.SinkErrorsTotal.WithLabelValues(name).Inc()
			logger.Error(ctx, "tick sink panic recovered",
				zap.String("sink", name),
				zap.Any("panic", p),
				zap.Stack("stack"),
			)
		}
	}()
	fn()
}
