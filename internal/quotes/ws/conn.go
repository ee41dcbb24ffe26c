package ws

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"drcrypt.com/internal/quotes/model"
	"drcrypt.com/internal/quotes/wsmetrics"
)

// Conn 一个客户端连接：有界发送队列 + 独立的写协程
type Conn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}

	mu     sync.RWMutex
	filter map[string]struct{} // nil => 全部 symbol

	closed    atomic.Bool
	closeOnce sync.Once
	dropped   atomic.Uint64
}

func NewConn(ws *websocket.Conn, sendBuf int) *Conn {
	if sendBuf <= 0 {
		sendBuf = 256
	}
	return &Conn{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan []byte, sendBuf),
		done: make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

// Dropped 因为发送队列满被丢掉的条数
func (c *Conn) Dropped() uint64 { return c.dropped.Load() }

// Offer 非阻塞：队列满直接丢这一条（只影响这个连接）
func (c *Conn) Offer(symbol string, payload []byte) bool {
	if c.closed.Load() || !c.wants(symbol) {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		c.dropped.Add(1)
		wsmetrics.DroppedTotal.WithLabelValues("slow").Inc()
		return false
	}
}

// Close 通知写协程发 close 帧并退出；可重复调用
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
	})
}

func (c *Conn) wants(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.filter == nil {
		return true
	}
	_, ok := c.filter[symbol]
	return ok
}

// subscribe 返回之前没在收的 symbol（需要回放快照的）
func (c *Conn) subscribe(symbols []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	added := make([]string, 0, len(symbols))
	if c.filter == nil {
		// 原来收全部，收窄后不用再回放
		c.filter = make(map[string]struct{}, len(symbols))
		for _, s := range symbols {
			c.filter[model.NormalizeSymbol(s)] = struct{}{}
		}
		return added
	}
	for _, s := range symbols {
		s = model.NormalizeSymbol(s)
		if _, ok := c.filter[s]; !ok {
			c.filter[s] = struct{}{}
			added = append(added, s)
		}
	}
	return added
}

func (c *Conn) unsubscribe(symbols []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.filter == nil {
		return
	}
	for _, s := range symbols {
		delete(c.filter, model.NormalizeSymbol(s))
	}
}
