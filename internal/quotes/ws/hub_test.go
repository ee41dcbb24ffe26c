package ws

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drcrypt.com/internal/quotes/model"
)

func tk(sym string, ms int64) model.Tick {
	return model.Tick{Symbol: sym, Price: decimal.NewFromInt(100 + ms), Time: time.UnixMilli(ms)}
}

// 不接真实 socket，只看 send 队列
func drain(c *Conn) []model.Tick {
	var out []model.Tick
	for {
		select {
		case b := <-c.send:
			t, err := DecodeTick(b)
			if err != nil {
				panic(err)
			}
			out = append(out, t)
		default:
			return out
		}
	}
}

func TestHub_EachHealthyConnGetsEveryTickOnce(t *testing.T) {
	h := NewHub()
	fast1 := NewConn(nil, 1024)
	fast2 := NewConn(nil, 1024)
	slow := NewConn(nil, 1) // 从不读
	for _, c := range []*Conn{fast1, fast2, slow} {
		require.True(t, h.Register(c))
	}

	const n = 200
	for i := 1; i <= n; i++ {
		h.Publish(tk("BTCUSDT", int64(i)))
	}

	for _, c := range []*Conn{fast1, fast2} {
		got := drain(c)
		require.Len(t, got, n)
		for i, tick := range got {
			assert.Equal(t, int64(i+1), tick.UnixMs(), "order / duplicates")
		}
		assert.Zero(t, c.Dropped())
	}
	assert.Len(t, drain(slow), 1)
	assert.Equal(t, uint64(n-1), slow.Dropped())
}

// 慢连接再多，发布也只是 N 次非阻塞 offer，健康连接照常收到
func TestHub_SlowConnsDoNotDelayHealthyOne(t *testing.T) {
	h := NewHub()
	healthy := NewConn(nil, 1024)
	require.True(t, h.Register(healthy))
	for range 1000 {
		require.True(t, h.Register(NewConn(nil, 1)))
	}

	const n = 100
	start := time.Now()
	for i := 1; i <= n; i++ {
		h.Publish(tk("BTCUSDT", int64(i)))
	}
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Len(t, drain(healthy), n)
}

func TestHub_ReplaysLatestOnRegister(t *testing.T) {
	h := NewHub()
	h.Publish(tk("BTCUSDT", 1))
	h.Publish(tk("BTCUSDT", 2))
	h.Publish(tk("ETHUSDT", 3))

	c := NewConn(nil, 16)
	require.True(t, h.Register(c))

	got := drain(c)
	require.Len(t, got, 2)
	bySym := map[string]int64{}
	for _, tick := range got {
		bySym[tick.Symbol] = tick.UnixMs()
	}
	assert.Equal(t, map[string]int64{"BTCUSDT": 2, "ETHUSDT": 3}, bySym)

	h.Publish(tk("BTCUSDT", 4))
	got = drain(c)
	require.Len(t, got, 1)
	assert.Equal(t, int64(4), got[0].UnixMs())
}

func TestHub_SubscribeNarrowsStream(t *testing.T) {
	h := NewHub()
	h.Publish(tk("ETHUSDT", 1))
	c := NewConn(nil, 16)
	require.True(t, h.Register(c))
	drain(c)

	h.Subscribe(c, []string{"btc-usdt"})
	h.Publish(tk("ETHUSDT", 2))
	h.Publish(tk("BTCUSDT", 3))
	got := drain(c)
	require.Len(t, got, 1)
	assert.Equal(t, "BTCUSDT", got[0].Symbol)

	// 新加的 symbol 立即回放快照
	h.Subscribe(c, []string{"ETHUSDT"})
	got = drain(c)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].UnixMs())

	h.Unsubscribe(c, []string{"BTCUSDT"})
	h.Publish(tk("BTCUSDT", 4))
	assert.Empty(t, drain(c))
}

func TestHub_UnregisterAndCloseAll(t *testing.T) {
	h := NewHub()
	a, b := NewConn(nil, 8), NewConn(nil, 8)
	h.Register(a)
	h.Register(b)
	require.Equal(t, 2, h.Len())

	h.Unregister(a)
	h.Publish(tk("BTCUSDT", 1))
	assert.Empty(t, drain(a))
	assert.Len(t, drain(b), 1)

	h.CloseAll()
	assert.Zero(t, h.Len())
	assert.False(t, b.Offer("BTCUSDT", []byte("{}")))
	assert.False(t, h.Register(NewConn(nil, 8)), "closed hub rejects new conns")
}

func TestHub_ConcurrentRegisterAndPublish(t *testing.T) {
	h := NewHub()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 1; i <= 500; i++ {
			h.Publish(tk("BTCUSDT", int64(i)))
		}
	}()
	conns := make([]*Conn, 50)
	go func() {
		defer wg.Done()
		for i := range conns {
			conns[i] = NewConn(nil, 1024)
			h.Register(conns[i])
			if i%3 == 0 {
				h.Unregister(conns[i])
			}
		}
	}()
	wg.Wait()

	// 每个连接收到的序列严格递增：没有重复也没有乱序
	for i, c := range conns {
		got := drain(c)
		for j := 1; j < len(got); j++ {
			require.Greater(t, got[j].UnixMs(), got[j-1].UnixMs(), fmt.Sprintf("conn %d", i))
		}
	}
}
