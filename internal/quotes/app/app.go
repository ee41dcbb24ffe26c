package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"drcrypt.com/internal/quotes/config"
	"drcrypt.com/internal/quotes/datasource/binance"
	"drcrypt.com/internal/quotes/gateway"
	"drcrypt.com/internal/quotes/history"
	"drcrypt.com/internal/quotes/mdsource"
	"drcrypt.com/internal/quotes/model"
	"drcrypt.com/internal/quotes/pricecache"
	"drcrypt.com/internal/quotes/storage"
	"drcrypt.com/internal/quotes/storage/badgerstore"
	"drcrypt.com/internal/quotes/storage/influxstore"
	"drcrypt.com/internal/quotes/storage/memstore"
	"drcrypt.com/internal/quotes/storage/sqlstore"
	"drcrypt.com/internal/quotes/writer"
	"drcrypt.com/internal/quotes/ws"
	"drcrypt.com/pkg/logger"
	"drcrypt.com/pkg/orm"
	"drcrypt.com/pkg/ratelimit"
	"drcrypt.com/pkg/xredis"
)

// App 行情服务：feed -> cache/writer/hub，对外 /ws + /prices/*
type App struct {
	cfg config.Config

	cache    *pricecache.Cache
	store    storage.Store
	writer   *writer.Writer
	hub      *ws.Hub
	wsServer *ws.Server
	runners  []*mdsource.Runner
	gateway  *gateway.Gateway
	history  *history.Service
	limiter  *ratelimit.Store

	httpSrv *http.Server
	addr    atomic.Value // 实际监听地址（:0 时由系统分配）
	ready   chan struct{}

	// 退出时倒序关闭
	closers []closer
}

type closer struct {
	name string
	fn   func() error
}

// New 建好所有组件；外部依赖（存储/broker）连不上直接报错
func New(ctx context.Context, cfg config.Config) (*App, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &App{
		cfg:   cfg,
		cache: pricecache.New(cfg.Cache.Capacity),
		hub:   ws.NewHub(),
		ready: make(chan struct{}),
	}
	a.wsServer = ws.NewServer(a.hub)

	store, err := a.openStore(ctx)
	if err != nil {
		a.closeAll()
		return nil, err
	}
	a.store = store
	a.writer = writer.New(store, cfg.Writer)

	breakers := ratelimit.NewManager(ratelimit.Rule{
		Timeout:                 cfg.Breaker.Timeout,
		TripConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
	}, nil)
	a.history = history.NewService(a.cache, store, breakers, cfg.History.Timeout)
	a.limiter = ratelimit.NewStore(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst, 10*time.Minute)

	// 有 broker：runner 发 broker，gateway 从 broker 收再推本地 hub
	// 没有 broker：runner 直接推 hub
	var publisher mdsource.Publisher = a.hub
	broker, err := a.openBroker(ctx)
	if err != nil {
		a.closeAll()
		return nil, err
	}
	if broker != nil {
		relay := gateway.NewRelay(broker)
		// closer 倒序执行，relay 先于 broker 关
		a.addCloser("relay", relay.Close)
		publisher = relay
		var gwCache gateway.Cache
		if !cfg.Feed.Enabled {
			gwCache = a.cache
		}
		a.gateway = gateway.NewGateway(a.hub, broker, gwCache)
	}

	for _, sym := range cfg.Feed.Symbols {
		a.cache.Track(sym)
		if !cfg.Feed.Enabled {
			continue
		}
		r := mdsource.NewRunner(binance.NewSource(cfg.Feed.URL, sym), a.cache, a.writer, publisher)
		r.RetryDelay = cfg.Feed.RetryDelay
		a.runners = append(a.runners, r)
	}

	if cfg.Cache.Warm {
		a.warm(ctx)
	}
	return a, nil
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			logger.Warn(context.Background(), "close resource failed", zap.String("resource", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *App) openStore(ctx context.Context) (storage.Store, error) {
	sc := a.cfg.Storage
	var st storage.Store
	switch sc.Driver {
	case "memory":
		st = memstore.New()
	case "influx":
		st = influxstore.New(sc.Influx)
		logger.Info(ctx, "storage: influx", zap.Stringer("influx", sc.Influx))
	case "mysql":
		db, err := orm.NewMySQL(&sc.MySQL)
		if err != nil {
			return nil, err
		}
		if err := sqlstore.Migrate(db); err != nil {
			return nil, fmt.Errorf("migrate prices: %w", err)
		}
		st = sqlstore.New(db)
	case "badger":
		bs, err := badgerstore.Open(sc.Badger.Dir)
		if err != nil {
			return nil, err
		}
		st = bs
		logger.Info(ctx, "storage: badger", zap.String("dir", sc.Badger.Dir))
	default:
		return nil, fmt.Errorf("unknown storage driver %q", sc.Driver)
	}
	a.addCloser("store", st.Close)
	return st, nil
}

func (a *App) openBroker(ctx context.Context) (gateway.Broker, error) {
	bc := a.cfg.Broker
	var b gateway.Broker
	switch bc.Driver {
	case "", "none":
		return nil, nil
	case "memory":
		b = gateway.NewMemBroker()
	case "redis":
		rdb, err := xredis.NewRedis(ctx, &bc.Redis)
		if err != nil {
			return nil, err
		}
		a.addCloser("redis", rdb.Close)
		b = gateway.NewRedisBroker(rdb)
	case "nats":
		nb, err := gateway.NewNatsBroker(bc.URL)
		if err != nil {
			return nil, fmt.Errorf("connect nats %s: %w", bc.URL, err)
		}
		b = nb
	case "kafka":
		b = gateway.NewKafkaBroker(bc.Kafka.Brokers)
	default:
		return nil, fmt.Errorf("unknown broker driver %q", bc.Driver)
	}
	a.addCloser("broker", b.Close)
	logger.Info(ctx, "broker enabled", zap.String("driver", bc.Driver))
	return b, nil
}

// warm 启动时用存储里最近的数据填缓存；失败只记日志，缓存会被实时数据慢慢填满
func (a *App) warm(ctx context.Context) {
	capacity := a.cache.Capacity()
	for _, sym := range a.cfg.Feed.Symbols {
		rctx, cancel := context.WithTimeout(ctx, a.cfg.History.Timeout)
		rows, err := a.store.Recent(rctx, sym, capacity)
		cancel()
		if err != nil {
			logger.Warn(ctx, "cache warm-up failed", zap.String("symbol", sym), zap.Error(err))
			continue
		}
		model.Reverse(rows)
		// 存储里不足一个窗口，说明缓存里就是全部历史
		a.cache.Warm(sym, rows, len(rows) < capacity)
		logger.Info(ctx, "cache warmed", zap.String("symbol", sym), zap.Int("ticks", len(rows)))
	}
}

// Ready 开始监听后关闭
func (a *App) Ready() <-chan struct{} { return a.ready }

// Addr 实际监听地址；Ready 之前是空串
func (a *App) Addr() string {
	s, _ := a.addr.Load().(string)
	return s
}

func (a *App) Hub() *ws.Hub { return a.hub }
func (a *App) Cache() *pricecache.Cache { return a.cache }
func (a *App) Runners() []*mdsource.Runner { return a.runners }
func (a *App) WriterStats() writer.Stats { return a.writer.Stats() }

var errFeedsStopped = errors.New("feeds stopped unexpectedly")
