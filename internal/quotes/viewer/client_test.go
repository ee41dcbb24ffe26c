package viewer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drcrypt.com/internal/quotes/model"
	"drcrypt.com/internal/quotes/ws"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

// flakyServer：每个连接推一条价格然后立刻断开，记录每次握手时间
type flakyServer struct {
	mu      sync.Mutex
	accepts []time.Time
}

func (f *flakyServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{}
	c, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.accepts = append(f.accepts, time.Now())
	n := len(f.accepts)
	f.mu.Unlock()

	b, _ := ws.EncodeTick(model.Tick{Symbol: "BTCUSDT", Price: decimal.NewFromInt(int64(n)), Time: time.UnixMilli(int64(n))})
	_ = c.WriteMessage(websocket.TextMessage, b)
	_ = c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
	_ = c.Close()
}

func (f *flakyServer) acceptTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.accepts...)
}

func TestClient_ReceivesTicksFromHub(t *testing.T) {
	hub := ws.NewHub()
	srv := httptest.NewServer(http.HandlerFunc(ws.NewServer(hub).ServeWS))
	defer srv.Close()

	c := New(wsURL(srv))
	c.Connect(context.Background())
	defer c.Close()

	require.Eventually(t, func() bool { return c.State() == Connected && hub.Len() == 1 }, 3*time.Second, 5*time.Millisecond)

	hub.Publish(model.Tick{Symbol: "BTCUSDT", Price: decimal.RequireFromString("97000.1"), Time: time.UnixMilli(1700000000000)})

	select {
	case got := <-c.Ticks():
		assert.Equal(t, "BTCUSDT", got.Symbol)
		assert.Equal(t, "97000.1", got.Price.String())
	case <-time.After(3 * time.Second):
		t.Fatal("no tick received")
	}
}

func TestClient_ReconnectsAfterFixedDelay(t *testing.T) {
	fs := &flakyServer{}
	srv := httptest.NewServer(fs)
	defer srv.Close()

	const delay = 80 * time.Millisecond
	c := New(wsURL(srv))
	c.RetryDelay = delay
	c.Connect(context.Background())

	require.Eventually(t, func() bool { return len(fs.acceptTimes()) >= 3 }, 5*time.Second, 5*time.Millisecond)
	c.Close()

	accepts := fs.acceptTimes()
	for i := 1; i < len(accepts); i++ {
		assert.GreaterOrEqual(t, accepts[i].Sub(accepts[i-1]), delay, "reconnect %d too early", i)
	}

	// 每次连接推的那条都收到了（Close 之后 Ticks 被关闭，range 能结束）
	var got []int64
	for tick := range c.Ticks() {
		got = append(got, tick.UnixMs())
	}
	assert.GreaterOrEqual(t, len(got), 3)
	assert.Equal(t, int64(1), got[0])
}

func TestClient_StateTransitions(t *testing.T) {
	fs := &flakyServer{}
	srv := httptest.NewServer(fs)
	defer srv.Close()

	c := New(wsURL(srv))
	c.RetryDelay = 30 * time.Millisecond
	assert.Equal(t, Disconnected, c.State())
	c.Connect(context.Background())

	var seen []State
	timeout := time.After(3 * time.Second)
	for len(seen) < 6 {
		select {
		case s := <-c.States():
			seen = append(seen, s)
		case <-timeout:
			t.Fatalf("only saw %v", seen)
		}
	}
	c.Close()

	assert.Equal(t, []State{Connecting, Connected, Disconnected, Connecting, Connected, Disconnected}, seen)
	assert.Equal(t, Disconnected, c.State())
}

func TestClient_KeepsRetryingWhenServerDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	c := New(url)
	c.RetryDelay = 20 * time.Millisecond
	c.Connect(context.Background())

	attempts := 0
	timeout := time.After(3 * time.Second)
	for attempts < 3 {
		select {
		case s := <-c.States():
			if s == Connecting {
				attempts++
			}
			assert.NotEqual(t, Connected, s)
		case <-timeout:
			t.Fatal("client stopped retrying")
		}
	}
	c.Close()
}

func TestClient_CloseWithoutConnect(t *testing.T) {
	c := New("ws://127.0.0.1:1/ws")
	c.Close()
	_, ok := <-c.Ticks()
	assert.False(t, ok)
}
