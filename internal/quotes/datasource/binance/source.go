package binance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"drcrypt.com/internal/quotes/mdsource"
	"drcrypt.com/internal/quotes/model"
)

const DefaultBaseURL = "wss://stream.binance.com:9443"

type Source struct {
	BaseURL string // e.g. wss://stream.binance.com:9443
	symbol  string // BTCUSDT

	ReadLimit int64
	ReadWait  time.Duration // 这么久没有任何帧（含 ping）就认为断了
	WriteWait time.Duration
	Dialer    *websocket.Dialer
}

func NewSource(baseURL, symbol string) *Source {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Source{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		symbol:    model.NormalizeSymbol(symbol),
		ReadLimit: 1 << 20,
		ReadWait:  5 * time.Minute,
		WriteWait: 2 * time.Second,
		Dialer:    websocket.DefaultDialer,
	}
}

func (s *Source) Name() string   { return "binance" }
func (s *Source) Symbol() string { return s.symbol }

// URL 单流：/ws/btcusdt@trade
func (s *Source) URL() string {
	return s.BaseURL + "/ws/" + strings.ToLower(s.symbol) + "@trade"
}

func (s *Source) Dial(ctx context.Context) (mdsource.Stream, error) {
	c, _, err := s.Dialer.DialContext(ctx, s.URL(), nil)
	if err != nil {
		return nil, err
	}

	st := &stream{c: c, readWait: s.ReadWait}
	c.SetReadLimit(s.ReadLimit)
	_ = c.SetReadDeadline(time.Now().Add(s.ReadWait))

	// 上游定时 ping，要回 pong；控制帧写和别的写要互斥
	c.SetPingHandler(func(appData string) error {
		_ = c.SetReadDeadline(time.Now().Add(s.ReadWait))
		st.writeMu.Lock()
		defer st.writeMu.Unlock()
		err := c.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(s.WriteWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	// ReadMessage 不认 ctx：ctx 取消时直接关连接把它踢出来
	st.stop = context.AfterFunc(ctx, func() { _ = c.Close() })
	return st, nil
}

type stream struct {
	c        *websocket.Conn
	readWait time.Duration
	writeMu  sync.Mutex
	stop     func() bool
	once     sync.Once
}

func (st *stream) Next(ctx context.Context) (model.Tick, error) {
	for {
		if err := ctx.Err(); err != nil {
			return model.Tick{}, err
		}
		typ, msg, err := st.c.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return model.Tick{}, ctx.Err()
			}
			return model.Tick{}, err
		}
		_ = st.c.SetReadDeadline(time.Now().Add(st.readWait))
		if typ != websocket.TextMessage {
			continue
		}
		t, err := ParseTrade(msg)
		if err != nil {
			return model.Tick{}, fmt.Errorf("%w: %v", mdsource.ErrMalformed, err)
		}
		return t, nil
	}
}

func (st *stream) Close() error {
	var err error
	st.once.Do(func() {
		st.stop()
		st.writeMu.Lock()
		_ = st.c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		st.writeMu.Unlock()
		err = st.c.Close()
	})
	return err
}

var _ mdsource.Source = (*Source)(nil)
