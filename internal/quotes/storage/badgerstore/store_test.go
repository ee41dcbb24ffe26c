package badgerstore

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drcrypt.com/internal/quotes/model"
	"drcrypt.com/internal/quotes/storage"
)

func tick(sym string, price int64, ms int64) model.Tick {
	return model.Tick{Symbol: sym, Price: decimal.NewFromInt(price), Time: time.UnixMilli(ms).UTC()}
}

func TestStore_RecentNewestFirst(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	var ticks []model.Tick
	for i := int64(1); i <= 120; i++ {
		ticks = append(ticks, tick("BTCUSDT", 100+i, i))
	}
	// 前缀相近的 symbol 不能串
	ticks = append(ticks, tick("BTC", 1, 500), tick("BTCUSDTX", 1, 500))
	require.NoError(t, s.Write(ctx, ticks))

	got, err := s.Recent(ctx, "BTCUSDT", 80)
	require.NoError(t, err)
	require.Len(t, got, 80)
	assert.Equal(t, int64(120), got[0].UnixMs())
	assert.Equal(t, int64(41), got[79].UnixMs())
	assert.True(t, got[0].Price.Equal(decimal.NewFromInt(220)))
	for _, tk := range got {
		assert.Equal(t, "BTCUSDT", tk.Symbol)
	}

	all, err := s.Recent(ctx, "BTCUSDT", 1000)
	require.NoError(t, err)
	assert.Len(t, all, 120)
}

func TestStore_OutOfOrderWritesComeBackByTime(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, []model.Tick{tick("ETHUSDT", 3, 30), tick("ETHUSDT", 1, 10)}))
	require.NoError(t, s.Write(ctx, []model.Tick{tick("ETHUSDT", 2, 20)}))

	got, err := s.Recent(ctx, "ETHUSDT", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{30, 20, 10}, []int64{got[0].UnixMs(), got[1].UnixMs(), got[2].UnixMs()})
}

func TestStore_SameTimestampKeepsEveryTick(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	// 同一毫秒三笔成交，分两批写
	require.NoError(t, s.Write(ctx, []model.Tick{tick("BTCUSDT", 100, 42), tick("BTCUSDT", 101, 42)}))
	require.NoError(t, s.Write(ctx, []model.Tick{tick("BTCUSDT", 102, 42)}))

	got, err := s.Recent(ctx, "BTCUSDT", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	// 时间相同按写入顺序，后写的在前
	assert.Equal(t, []string{"102", "101", "100"}, []string{got[0].Price.String(), got[1].Price.String(), got[2].Price.String()})
	for _, tk := range got {
		assert.Equal(t, int64(42), tk.UnixMs())
	}
}

func TestStore_EmptyAndClosed(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	ctx := context.Background()

	got, err := s.Recent(ctx, "NOPE", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, s.Write(ctx, nil))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close twice")
	assert.ErrorIs(t, s.Write(ctx, []model.Tick{tick("BTCUSDT", 1, 1)}), storage.ErrClosed)
	_, err = s.Recent(ctx, "BTCUSDT", 1)
	assert.ErrorIs(t, err, storage.ErrClosed)
}
