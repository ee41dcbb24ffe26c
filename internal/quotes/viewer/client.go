package viewer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"

	"drcrypt.com/internal/quotes/model"
	"drcrypt.com/internal/quotes/ws"
	"drcrypt.com/pkg/logger"
	"drcrypt.com/pkg/safe"
)

// DefaultRetryDelay 断开后固定 3s 重连，不退避
const DefaultRetryDelay = 3 * time.Second

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

// Client 看盘端连接：Disconnected -> Connecting -> Connected -> Disconnected -> ...
type Client struct {
	URL         string
	Symbols     []string // 为空收全部
	RetryDelay  time.Duration
	DialTimeout time.Duration
	ReadTimeout time.Duration // 服务端 30s ping 一次，读超时要比它长
	PingEvery   time.Duration

	state  atomic.Int32
	states chan State
	ticks  chan model.Tick
	lost   atomic.Uint64

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func New(url string) *Client {
	return &Client{
		URL:         url,
		RetryDelay:  DefaultRetryDelay,
		DialTimeout: 5 * time.Second,
		ReadTimeout: 90 * time.Second,
		PingEvery:   20 * time.Second,
		states:      make(chan State, 64),
		ticks:       make(chan model.Tick, 1024),
		done:        make(chan struct{}),
	}
}

func (c *Client) State() State { return State(c.state.Load()) }

// States 状态变化流；消费太慢会丢中间状态，State() 始终是准的
func (c *Client) States() <-chan State { return c.states }

// Ticks 收到的价格；Close 后关闭
func (c *Client) Ticks() <-chan model.Tick { return c.ticks }

// Lost 因为 Ticks() 没人读被丢掉的条数
func (c *Client) Lost() uint64 { return c.lost.Load() }

// Connect 启动连接循环，立即返回
func (c *Client) Connect(ctx context.Context) {
	c.startOnce.Do(func() {
		ctx, c.cancel = context.WithCancel(ctx)
		safe.GoCtx(ctx, "viewer.loop", c.loop)
	})
}

// Close 停止重连并关闭当前连接
func (c *Client) Close() {
	c.stopOnce.Do(func() {
		started := false
		c.startOnce.Do(func() {}) // 没 Connect 过也能 Close
		if c.cancel != nil {
			started = true
			c.cancel()
		}
		if started {
			<-c.done
		} else {
			close(c.ticks)
			close(c.states)
		}
	})
}

func (c *Client) setState(s State) {
	if State(c.state.Swap(int32(s))) == s {
		return
	}
	select {
	case c.states <- s:
	default:
	}
}

func (c *Client) loop(ctx context.Context) {
	defer func() {
		c.setState(Disconnected)
		close(c.ticks)
		close(c.states)
		close(c.done)
	}()

	for {
		c.setState(Connecting)
		err := c.session(ctx)
		if ctx.Err() != nil {
			return
		}
		c.setState(Disconnected)
		logger.Warn(ctx, "price stream lost, retrying",
			zap.String("url", c.URL), zap.Duration("in", c.RetryDelay), zap.Error(err))

		timer := time.NewTimer(c.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// session 一次完整的连接：握手 -> 订阅 -> 读到出错
func (c *Client) session(ctx context.Context) error {
	dctx, cancel := context.WithTimeout(ctx, c.DialTimeout)
	conn, _, err := websocket.Dial(dctx, c.URL, nil)
	cancel()
	if err != nil {
		return err
	}
	defer conn.CloseNow()

	c.setState(Connected)
	logger.Info(ctx, "price stream connected", zap.String("url", c.URL))

	if len(c.Symbols) > 0 {
		b, _ := json.Marshal(ws.ClientMsg{Type: "sub", Symbols: c.Symbols})
		wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := conn.Write(wctx, websocket.MessageText, b)
		cancel()
		if err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- c.read(ctx, conn) }()

	ping := time.NewTicker(c.PingEvery)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "bye")
			<-errCh
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				// 等读协程退出再返回，loop 关 ticks 之前不能还有人在写
				_ = conn.CloseNow()
				<-errCh
				return err
			}
		}
	}
}

func (c *Client) read(ctx context.Context, conn *websocket.Conn) error {
	for {
		rctx, cancel := context.WithTimeout(ctx, c.ReadTimeout)
		_, raw, err := conn.Read(rctx)
		cancel()
		if err != nil {
			return err
		}
		t, err := ws.DecodeTick(raw)
		if err != nil {
			logger.Debug(ctx, "skip undecodable frame", zap.Error(err))
			continue
		}
		select {
		case c.ticks <- t:
		default:
			c.lost.Add(1)
		}
	}
}
