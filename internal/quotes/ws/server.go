package ws

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"

	"drcrypt.com/internal/quotes/wsmetrics"
	"drcrypt.com/pkg/logger"
	"drcrypt.com/pkg/safe"
)

// Server 接入层：升级 HTTP，建 Conn，登记到 Hub，起读写协程
type Server struct {
	Hub      *Hub
	Upgrader websocket.Upgrader
	SendBuf  int // per-conn send chan size

	PongWait   time.Duration
	PingPeriod time.Duration
	PingJitter time.Duration
	WriteWait  time.Duration
	ReadLimit  int64
}

func NewServer(h *Hub) *Server {
	return &Server{
		Hub: h,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // 跨域由 cors 中间件管
		},
		SendBuf:    256,
		PongWait:   60 * time.Second,
		PingPeriod: 30 * time.Second,
		PingJitter: 100 * time.Millisecond,
		WriteWait:  5 * time.Second,
		ReadLimit:  1 << 10,
	}
}

func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已经写过 HTTP 错误响应
		logger.Warn(r.Context(), "ws upgrade failed", zap.Error(err))
		return
	}
	c := NewConn(wsConn, s.SendBuf)
	wsmetrics.OnOpen()

	if !s.Hub.Register(c) {
		_ = wsConn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(s.WriteWait))
		_ = wsConn.Close()
		wsmetrics.OnClose(websocket.CloseGoingAway, "shutdown")
		return
	}
	logger.Debug(r.Context(), "ws connected", zap.String("conn", c.id), zap.String("remote", r.RemoteAddr))

	safe.Go("ws.write."+c.id, func() { s.writePump(c) })
	safe.Go("ws.read."+c.id, func() { s.readPump(c) })
}

func (s *Server) readPump(c *Conn) {
	code, reason := websocket.CloseNoStatusReceived, "eof"
	defer func() {
		s.Hub.Unregister(c)
		c.Close()
		wsmetrics.OnClose(code, reason)
	}()

	c.ws.SetReadLimit(s.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(s.PongWait))
	c.ws.SetPongHandler(func(string) error {
		wsmetrics.PongRecvTotal.Inc()
		return c.ws.SetReadDeadline(time.Now().Add(s.PongWait))
	})

	for {
		_, b, err := c.ws.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			var ne net.Error
			switch {
			case errors.As(err, &ce):
				code, reason = ce.Code, "client_close"
			case errors.As(err, &ne) && ne.Timeout():
				code, reason = websocket.CloseAbnormalClosure, "pong_timeout"
				wsmetrics.PongTimeoutTotal.Inc()
			default:
				code, reason = websocket.CloseAbnormalClosure, "read_error"
			}
			return
		}
		var msg ClientMsg
		if json.Unmarshal(b, &msg) != nil {
			continue
		}
		switch msg.Type {
		case "sub":
			wsmetrics.SubOpsTotal.WithLabelValues("sub").Inc()
			s.Hub.Subscribe(c, msg.Symbols)
		case "unsub":
			wsmetrics.SubOpsTotal.WithLabelValues("unsub").Inc()
			s.Hub.Unsubscribe(c, msg.Symbols)
		}
	}
}

func (s *Server) writePump(c *Conn) {
	defer func() {
		_ = c.ws.Close()
	}()

	// 错开所有连接的 ping 时间点
	if s.PingJitter > 0 {
		t := time.NewTimer(time.Duration(rand.Int63n(int64(s.PingJitter))))
		select {
		case <-t.C:
		case <-c.done:
			t.Stop()
			s.writeClose(c)
			return
		}
	}

	ticker := time.NewTicker(s.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case payload := <-c.send:
			start := time.Now()
			_ = c.ws.SetWriteDeadline(start.Add(s.WriteWait))
			err := c.ws.WriteMessage(websocket.TextMessage, payload)
			wsmetrics.ObserveWrite(1, len(payload), time.Since(start), err)
			if err != nil {
				logger.Debug(context.Background(), "ws write failed", zap.String("conn", c.id), zap.Error(err))
				c.Close()
				return
			}
		case <-ticker.C:
			wsmetrics.PingSentTotal.Inc()
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.WriteWait)); err != nil {
				wsmetrics.PingErrorsTotal.Inc()
				c.Close()
				return
			}
		case <-c.done:
			s.writeClose(c)
			return
		}
	}
}

func (s *Server) writeClose(c *Conn) {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
		time.Now().Add(s.WriteWait))
}
