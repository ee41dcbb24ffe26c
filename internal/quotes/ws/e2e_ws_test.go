package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWS_E2E_PublishToClients(t *testing.T) {
	hub := NewHub()
	srv := NewServer(hub)
	ts := httptest.NewServer(http.HandlerFunc(srv.ServeWS))
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	clients := make([]*websocket.Conn, 3)
	for i := range clients {
		c, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		defer c.Close()
		clients[i] = c
	}
	require.Eventually(t, func() bool { return hub.Len() == len(clients) }, 2*time.Second, 5*time.Millisecond)

	const n = 50
	for i := 1; i <= n; i++ {
		hub.Publish(tk("BTCUSDT", int64(i)))
	}

	for ci, c := range clients {
		_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
		for i := 1; i <= n; i++ {
			_, msg, err := c.ReadMessage()
			require.NoError(t, err, "client %d msg %d", ci, i)
			tick, err := DecodeTick(msg)
			require.NoError(t, err)
			assert.Equal(t, int64(i), tick.UnixMs())
		}
	}

	// 客户端断开后从注册表移除
	_ = clients[0].Close()
	require.Eventually(t, func() bool { return hub.Len() == 2 }, 2*time.Second, 5*time.Millisecond)

	// 关服：剩下的客户端收到 close 帧
	hub.CloseAll()
	_ = clients[1].SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := clients[1].ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestWS_E2E_SubscribeMessage(t *testing.T) {
	hub := NewHub()
	ts := httptest.NewServer(http.HandlerFunc(NewServer(hub).ServeWS))
	defer ts.Close()

	c, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer c.Close()
	require.Eventually(t, func() bool { return hub.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.WriteJSON(ClientMsg{Type: "sub", Symbols: []string{"ETHUSDT"}}))
	// sub 在读协程里异步生效
	require.Eventually(t, func() bool {
		var conn *Conn
		hub.mu.RLock()
		for k := range hub.conns {
			conn = k
		}
		hub.mu.RUnlock()
		return conn != nil && !conn.wants("BTCUSDT")
	}, 2*time.Second, 5*time.Millisecond)

	hub.Publish(tk("BTCUSDT", 1))
	hub.Publish(tk("ETHUSDT", 2))

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := c.ReadMessage()
	require.NoError(t, err)
	tick, err := DecodeTick(msg)
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", tick.Symbol)
}
