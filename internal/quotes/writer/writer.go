package writer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"drcrypt.com/internal/quotes/model"
	"drcrypt.com/internal/quotes/storage"
	"drcrypt.com/pkg/logger"
	"drcrypt.com/pkg/metrics"
	"drcrypt.com/pkg/safe"
)

type Config struct {
	QueueSize     int           `mapstructure:"queue_size" yaml:"queue_size"`
	BatchSize     int           `mapstructure:"batch_size" yaml:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

func (c *Config) withDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 8192
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 256
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 200 * time.Millisecond
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
}

type Stats struct {
	Enqueued  uint64 `json:"enqueued"`
	Dropped   uint64 `json:"dropped"` // 队列满，丢最新
	Failed    uint64 `json:"failed"`  // 写存储失败丢弃的条数
	Written   uint64 `json:"written"`
	Abandoned uint64 `json:"abandoned"` // 关闭宽限期内没写完的
	Rejected  uint64 `json:"rejected"`  // Close 之后才到的
	QueueLen  int    `json:"queue_len"`
}

// Writer：异步持久化，永远不阻塞 ingest
//
// 背压策略：
//   - 队列满 => 丢掉正在入队的这一条（drop newest），计数 + 限频日志
//   - 写失败 => 整批丢弃，只记日志，不重试，不往上游传
//
// 用“丢最新一条”换 ingest 不卡：历史里少一个点，比行情推送停住好
type Writer struct {
	cfg   Config
	store storage.Store
	queue chan model.Tick

	started atomic.Bool
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once

	// closing 置位和入队互斥：Close 拿到写锁之后不会再有 tick 落进队列
	mu      sync.RWMutex
	closing bool

	// 后台写用的 ctx，宽限期到了由 Close 取消
	runCtx    context.Context
	cancelRun context.CancelFunc
	pending   []model.Tick // run 退出时手里没写的那批，交给 Close

	enqueued  atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
	written   atomic.Uint64
	abandoned atomic.Uint64
	rejected  atomic.Uint64

	lastDropLog atomic.Int64
}

func New(store storage.Store, cfg Config) *Writer {
	cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Writer{
		cfg:       cfg,
		store:     store,
		queue:     make(chan model.Tick, cfg.QueueSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		runCtx:    ctx,
		cancelRun: cancel,
	}
}

// Start 启动后台 drain 协程
func (w *Writer) Start() {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	safe.Go("writer.drain", w.run)
}

// Enqueue 非阻塞入队；返回 false 表示这一条被丢弃
func (w *Writer) Enqueue(t model.Tick) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closing {
		w.rejected.Add(1)
		metrics.WriterTicksTotal.WithLabelValues("dropped_closed").Inc()
		return false
	}
	select {
	case w.queue <- t:
		w.enqueued.Add(1)
		metrics.WriterQueueLen.Set(float64(len(w.queue)))
		return true
	default:
		w.dropped.Add(1)
		metrics.WriterTicksTotal.WithLabelValues("dropped_full").Inc()
		w.logDrop(t)
		return false
	}
}

// 队列满时每秒最多打一条日志，避免日志把磁盘打爆
func (w *Writer) logDrop(t model.Tick) {
	now := time.Now().UnixNano()
	last := w.lastDropLog.Load()
	if now-last < int64(time.Second) || !w.lastDropLog.CompareAndSwap(last, now) {
		return
	}
	logger.Warn(context.Background(), "persistence queue full, dropping newest tick",
		zap.String("symbol", t.Symbol),
		zap.Int("queue_size", w.cfg.QueueSize),
		zap.Uint64("dropped_total", w.dropped.Load()),
	)
}

func (w *Writer) run() {
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]model.Tick, 0, w.cfg.BatchSize)
	for {
		// 宽限期已过：不再写，剩下的由 Close 记为放弃
		if w.runCtx.Err() != nil {
			w.pending = batch
			return
		}
		select {
		case t := <-w.queue:
			batch = append(batch, t)
			if len(batch) >= w.cfg.BatchSize {
				batch = w.flush(w.runCtx, batch)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				batch = w.flush(w.runCtx, batch)
			}
		case <-w.stop:
			w.pending = batch
			return
		}
	}
}

// flush 写一批，返回复用的空 batch
func (w *Writer) flush(ctx context.Context, batch []model.Tick) []model.Tick {
	if len(batch) == 0 {
		return batch
	}
	ctx, cancel := context.WithTimeout(ctx, w.cfg.WriteTimeout)
	defer cancel()

	start := time.Now()
	err := w.store.Write(ctx, batch)
	metrics.WriterFlushDuration.Observe(time.Since(start).Seconds())
	metrics.WriterQueueLen.Set(float64(len(w.queue)))

	n := uint64(len(batch))
	if err != nil {
		w.failed.Add(n)
		metrics.WriterTicksTotal.WithLabelValues("failed").Add(float64(n))
		logger.Error(ctx, "persist ticks failed, batch dropped",
			zap.Int("batch", len(batch)),
			zap.String("first_symbol", batch[0].Symbol),
			zap.Error(err),
		)
	} else {
		w.written.Add(n)
		metrics.WriterTicksTotal.WithLabelValues("written").Add(float64(n))
	}
	return batch[:0]
}

// Close 停止入队，在 ctx 截止前尽量写完队列里剩下的；超时的直接放弃
func (w *Writer) Close(ctx context.Context) error {
	var err error
	w.once.Do(func() {
		w.mu.Lock()
		w.closing = true
		w.mu.Unlock()

		// 正在进行的那次写也受宽限期约束
		stopCancel := context.AfterFunc(ctx, w.cancelRun)
		defer stopCancel()
		defer w.cancelRun()

		if w.started.Load() {
			close(w.stop)
			<-w.done
		}
		err = w.drain(ctx, w.pending)
	})
	return err
}

func (w *Writer) drain(ctx context.Context, batch []model.Tick) error {
	if batch == nil {
		batch = make([]model.Tick, 0, w.cfg.BatchSize)
	}
	for {
		if ctx.Err() != nil {
			return w.abandon(ctx, len(batch))
		}
		select {
		case t := <-w.queue:
			batch = append(batch, t)
			if len(batch) >= w.cfg.BatchSize {
				batch = w.flush(ctx, batch)
			}
		default:
			w.flush(ctx, batch)
			return nil
		}
	}
}

// abandon 宽限期到了，剩下的都算丢弃
func (w *Writer) abandon(ctx context.Context, inBatch int) error {
	n := len(w.queue) + inBatch
	for len(w.queue) > 0 {
		<-w.queue
	}
	w.abandoned.Add(uint64(n))
	metrics.WriterTicksTotal.WithLabelValues("abandoned").Add(float64(n))
	logger.Warn(context.Background(), "shutdown grace expired, abandoning queued ticks", zap.Int("count", n))
	return errors.Join(ErrAbandoned, ctx.Err())
}

var ErrAbandoned = errors.New("writer: queued ticks abandoned")

func (w *Writer) Stats() Stats {
	return Stats{
		Enqueued:  w.enqueued.Load(),
		Dropped:   w.dropped.Load(),
		Failed:    w.failed.Load(),
		Written:   w.written.Load(),
		Abandoned: w.abandoned.Load(),
		Rejected:  w.rejected.Load(),
		QueueLen:  len(w.queue),
	}
}
