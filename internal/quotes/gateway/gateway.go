package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"drcrypt.com/internal/quotes/model"
	"drcrypt.com/internal/quotes/ws"
	"drcrypt.com/pkg/logger"
	"drcrypt.com/pkg/metrics"
	"drcrypt.com/pkg/safe"
)

var ErrBrokerClosed = errors.New("gateway: broker closed")

// RelayQueueSize 发往 broker 的待发队列长度
const RelayQueueSize = 4096

type relayMsg struct {
	symbol  string
	payload []byte
}

// Relay 生产侧：runner 的 Publisher，把 tick 编码后发到 broker。
// Publish 只入队，真正的发送在自己的协程里做，broker 慢了丢最新的，不拖 ingest
type Relay struct {
	broker  Broker
	topic   string
	timeout time.Duration

	queue  chan relayMsg
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	dropped     atomic.Uint64
	lastDropLog atomic.Int64
}

func NewRelay(b Broker) *Relay {
	return newRelay(b, RelayQueueSize)
}

func newRelay(b Broker, size int) *Relay {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Relay{
		broker:  b,
		topic:   Topic,
		timeout: 2 * time.Second,
		queue:   make(chan relayMsg, size),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	safe.Go("gateway.relay", r.run)
	return r
}

// Publish 非阻塞
func (r *Relay) Publish(t model.Tick) {
	payload, err := ws.EncodeTick(t)
	if err != nil {
		metrics.SinkErrorsTotal.WithLabelValues("broker").Inc()
		logger.Error(context.Background(), "encode tick failed", zap.String("symbol", t.Symbol), zap.Error(err))
		return
	}
	select {
	case r.queue <- relayMsg{symbol: t.Symbol, payload: payload}:
	default:
		r.dropped.Add(1)
		metrics.SinkErrorsTotal.WithLabelValues("broker_full").Inc()
		r.logDrop(t.Symbol)
	}
}

// Dropped 因队列满丢掉的条数
func (r *Relay) Dropped() uint64 { return r.dropped.Load() }

func (r *Relay) logDrop(symbol string) {
	now := time.Now().UnixNano()
	last := r.lastDropLog.Load()
	if now-last < int64(time.Second) || !r.lastDropLog.CompareAndSwap(last, now) {
		return
	}
	logger.Warn(context.Background(), "broker relay queue full, dropping newest tick",
		zap.String("symbol", symbol),
		zap.Uint64("dropped_total", r.dropped.Load()),
	)
}

func (r *Relay) run() {
	defer close(r.done)
	for {
		select {
		case <-r.ctx.Done():
			return
		case m := <-r.queue:
			r.send(m)
		}
	}
}

func (r *Relay) send(m relayMsg) {
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	var err error
	if lp, ok := r.broker.(LatestPublisher); ok {
		err = lp.PublishLatest(ctx, r.topic, m.symbol, m.payload)
	} else {
		err = r.broker.Publish(ctx, r.topic, m.payload)
	}
	if err != nil && r.ctx.Err() == nil {
		metrics.SinkErrorsTotal.WithLabelValues("broker").Inc()
		logger.Warn(ctx, "broker publish failed", zap.String("symbol", m.symbol), zap.Error(err))
	}
}

// Close 停掉发送协程，正在发的取消，队列里没发出去的直接丢；要在 broker 关闭之前调用
func (r *Relay) Close() error {
	r.once.Do(func() {
		r.cancel()
		<-r.done
	})
	return nil
}

// Cache gateway-only 节点本地没有 runner，用它把收到的 tick 也放进缓存
type Cache interface {
	Append(t model.Tick)
}

// Gateway 消费侧：broker -> 本地 hub
type Gateway struct {
	hub    *ws.Hub
	broker Broker
	cache  Cache
}

// NewGateway cache 可以为 nil
func NewGateway(hub *ws.Hub, broker Broker, cache Cache) *Gateway {
	return &Gateway{hub: hub, broker: broker, cache: cache}
}

// Run 阻塞直到 ctx 取消或 broker 关闭
func (g *Gateway) Run(ctx context.Context) error {
	ch, err := g.broker.Subscribe(ctx, []string{Topic})
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			g.handle(ctx, m)
		}
	}
}

func (g *Gateway) handle(ctx context.Context, m Message) {
	t, err := ws.DecodeTick(m.Payload)
	if err != nil {
		logger.Warn(ctx, "discard malformed broker message", zap.String("topic", m.Topic), zap.Error(err))
		return
	}
	if g.cache != nil {
		g.cache.Append(t)
	}
	// payload 原样转发，不再编码一次
	g.hub.PublishRaw(t.Symbol, m.Payload)
}
