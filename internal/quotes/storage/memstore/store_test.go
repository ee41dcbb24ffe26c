package memstore

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

func tk(ms int64, p int64) model.Tick {
	return model.Tick{Symbol: "BTCUSDT", Price: decimal.NewFromInt(p), Time: time.UnixMilli(ms)}
}

func TestStore_RecentNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, []model.Tick{tk(1, 10), tk(3, 30), tk(2, 20)}))

	got, err := s.Recent(ctx, "BTCUSDT", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[0].UnixMs())
	assert.Equal(t, int64(2), got[1].UnixMs())

	all, err := s.Recent(ctx, "BTCUSDT", 100)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := s.Recent(ctx, "ETHUSDT", 5)
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.Equal(t, 3, s.Len("BTCUSDT"))
}

func TestStore_Closed(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Write(context.Background(), []model.Tick{tk(1, 1)}), storage.ErrClosed)
	_, err := s.Recent(context.Background(), "BTCUSDT", 1)
	assert.ErrorIs(t, err, storage.ErrClosed)
}
