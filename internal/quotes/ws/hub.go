package ws

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"drcrypt.com/internal/quotes/model"
	"drcrypt.com/internal/quotes/wsmetrics"
	"drcrypt.com/pkg/logger"
)

// Hub：连接注册表 + 广播
//
// 约定：
//   - Publish 只在 RLock 下拿连接快照，对每个 conn 非阻塞 Offer；慢客户端只丢自己的
//   - Register 拿写锁，快照回放也在锁里做，保证新连接不会先收到新价再收到旧快照
type Hub struct {
	mu     sync.RWMutex
	conns  map[*Conn]struct{}
	closed bool

	lastMu sync.Mutex
	last   map[string][]byte // symbol -> 最新一条 payload（快照）
}

func NewHub() *Hub {
	return &Hub{
		conns: make(map[*Conn]struct{}, 1024),
		last:  make(map[string][]byte, 16),
	}
}

// Register 返回 false 表示 hub 已关闭，调用方自己关掉连接
func (h *Hub) Register(c *Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c] = struct{}{}
	wsmetrics.Conns.Set(float64(len(h.conns)))

	h.replay(c, nil)
	return true
}

func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	if _, ok := h.conns[c]; ok {
		delete(h.conns, c)
		wsmetrics.Conns.Set(float64(len(h.conns)))
	}
	h.mu.Unlock()
}

// Subscribe 收窄连接关心的 symbol，并回放这些 symbol 的快照
func (h *Hub) Subscribe(c *Conn, symbols []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	added := c.subscribe(symbols)
	h.replay(c, added)
}

func (h *Hub) Unsubscribe(c *Conn, symbols []string) {
	c.unsubscribe(symbols)
}

// replay 调用方持有 h.mu 写锁；symbols 为空表示全部
func (h *Hub) replay(c *Conn, symbols []string) {
	h.lastMu.Lock()
	defer h.lastMu.Unlock()
	if symbols == nil {
		for sym, b := range h.last {
			c.Offer(sym, b)
		}
		return
	}
	for _, sym := range symbols {
		if b := h.last[sym]; b != nil {
			c.Offer(sym, b)
		}
	}
}

// Publish 编码一次，广播给所有连接
func (h *Hub) Publish(t model.Tick) {
	payload, err := EncodeTick(t)
	if err != nil {
		logger.Error(context.Background(), "encode tick failed", zap.String("symbol", t.Symbol), zap.Error(err))
		return
	}
	h.PublishRaw(t.Symbol, payload)
}

// PublishRaw payload 已经是编码好的推送帧（gateway 从 broker 收到的就是这个）
func (h *Hub) PublishRaw(symbol string, payload []byte) {
	h.mu.RLock()
	h.lastMu.Lock()
	h.last[symbol] = payload
	h.lastMu.Unlock()
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.Offer(symbol, payload)
	}
}

// Latest 某个 symbol 最新的推送帧
func (h *Hub) Latest(symbol string) ([]byte, bool) {
	h.lastMu.Lock()
	defer h.lastMu.Unlock()
	b, ok := h.last[symbol]
	return b, ok
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// CloseAll 关闭所有连接，之后的 Register 一律拒绝
func (h *Hub) CloseAll() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	clear(h.conns)
	wsmetrics.Conns.Set(0)
	h.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
