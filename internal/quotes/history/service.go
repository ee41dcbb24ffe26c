package history

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"drcrypt.com/internal/quotes/model"
	"drcrypt.com/internal/quotes/pricecache"
	"drcrypt.com/internal/quotes/storage"
	"drcrypt.com/pkg/logger"
	"drcrypt.com/pkg/metrics"
	"drcrypt.com/pkg/ratelimit"
	"drcrypt.com/pkg/xerr"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000

	breakerName = "store.recent"
)

var (
	ErrBadSymbol   = xerr.New(xerr.RequestParamsError, "symbol required")
	ErrBadLimit    = xerr.New(xerr.RequestParamsError, fmt.Sprintf("limit must be in [1,%d]", MaxLimit))
	ErrNoData      = xerr.New(xerr.NoData, "no data yet")
	ErrUnavailable = xerr.New(xerr.Unavailable, "history temporarily unavailable")
)

const (
	SourceCache = "cache"
	SourceStore = "store"
)

type Result struct {
	Symbol   string
	Ticks    []model.Tick // 旧 -> 新
	Source   string
	Degraded bool // 存储不可用，拿缓存顶上（可能比要求的少）
}

// Service 历史价格查询：缓存够用走缓存，不够整段回源存储
type Service struct {
	cache    *pricecache.Cache
	store    storage.Store
	breakers *ratelimit.Manager
	timeout  time.Duration
	tracer   trace.Tracer
}

func NewService(cache *pricecache.Cache, store storage.Store, breakers *ratelimit.Manager, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Service{
		cache:    cache,
		store:    store,
		breakers: breakers,
		timeout:  timeout,
		tracer:   otel.Tracer("drcrypt/quotes/history"),
	}
}

// Query 最近 limit 条；limit=0 用默认值
func (s *Service) Query(ctx context.Context, symbol string, limit int) (Result, error) {
	symbol = model.NormalizeSymbol(symbol)
	if symbol == "" {
		return Result{}, ErrBadSymbol
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit < 0 || limit > MaxLimit {
		return Result{}, ErrBadLimit
	}

	ctx, span := s.tracer.Start(ctx, "history.Query", trace.WithAttributes(
		attribute.String("symbol", symbol),
		attribute.Int("limit", limit),
	))
	defer span.End()

	res, err := s.query(ctx, symbol, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	model.SortByTime(res.Ticks)
	span.SetAttributes(
		attribute.String("source", res.Source),
		attribute.Bool("degraded", res.Degraded),
		attribute.Int("count", len(res.Ticks)),
	)
	return res, nil
}

func (s *Service) query(ctx context.Context, symbol string, limit int) (Result, error) {
	// Window 返回的是共享的只读切片，对外前先拷贝
	win := clone(s.cache.Window(symbol, limit))
	st, tracked := s.cache.Stats(symbol)

	if len(win) >= limit || (tracked && st.Complete) {
		metrics.HistoryQueriesTotal.WithLabelValues("cache").Inc()
		return Result{Symbol: symbol, Ticks: win, Source: SourceCache}, nil
	}

	rows, err := s.recent(ctx, symbol, limit)
	if err != nil {
		if len(win) > 0 {
			metrics.HistoryQueriesTotal.WithLabelValues("degraded").Inc()
			logger.Warn(ctx, "history store failed, serving cache window",
				zap.String("symbol", symbol), zap.Int("cached", len(win)), zap.Error(err))
			return Result{Symbol: symbol, Ticks: win, Source: SourceCache, Degraded: true}, nil
		}
		metrics.HistoryQueriesTotal.WithLabelValues("unavailable").Inc()
		logger.Error(ctx, "history store failed, nothing cached", zap.String("symbol", symbol), zap.Error(err))
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if len(rows) == 0 && len(win) == 0 && !tracked {
		metrics.HistoryQueriesTotal.WithLabelValues("nodata").Inc()
		return Result{}, ErrNoData
	}
	// 写入是异步的，存储可能还没追上缓存；这种情况缓存更新更全
	if len(rows) < len(win) {
		metrics.HistoryQueriesTotal.WithLabelValues("cache").Inc()
		return Result{Symbol: symbol, Ticks: win, Source: SourceCache}, nil
	}

	model.Reverse(rows)
	metrics.HistoryQueriesTotal.WithLabelValues("store").Inc()
	return Result{Symbol: symbol, Ticks: rows, Source: SourceStore}, nil
}

// recent 存储读，带超时和熔断
func (s *Service) recent(ctx context.Context, symbol string, limit int) ([]model.Tick, error) {
	if s.store == nil {
		return nil, storage.ErrClosed
	}
	return ratelimit.Do(s.breakers, breakerName, func() ([]model.Tick, error) {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return s.store.Recent(ctx, symbol, limit)
	})
}

// Latest 最新一条：缓存优先，缓存没有再问存储
func (s *Service) Latest(ctx context.Context, symbol string) (model.Tick, error) {
	symbol = model.NormalizeSymbol(symbol)
	if symbol == "" {
		return model.Tick{}, ErrBadSymbol
	}
	if t, ok := s.cache.Latest(symbol); ok {
		return t, nil
	}
	rows, err := s.recent(ctx, symbol, 1)
	if err != nil {
		return model.Tick{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(rows) == 0 {
		return model.Tick{}, ErrNoData
	}
	return rows[0], nil
}

func clone(ticks []model.Tick) []model.Tick {
	out := make([]model.Tick, len(ticks))
	copy(out, ticks)
	return out
}
