package history

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drcrypt.com/internal/quotes/model"
	"drcrypt.com/internal/quotes/pricecache"
	"drcrypt.com/internal/quotes/storage"
	"drcrypt.com/internal/quotes/storage/memstore"
	"drcrypt.com/pkg/ratelimit"
	"drcrypt.com/pkg/xerr"
)

const sym = "BTCUSDT"

func tk(ms int64) model.Tick {
	return model.Tick{Symbol: sym, Price: decimal.NewFromInt(1000 + ms), Time: time.UnixMilli(ms)}
}

// countingStore 包一层，统计 Recent 调用次数，可以注入错误
type countingStore struct {
	storage.Store
	calls atomic.Int32
	err   error
}

func (s *countingStore) Recent(ctx context.Context, symbol string, limit int) ([]model.Tick, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.Store.Recent(ctx, symbol, limit)
}

// 存储 120 条（1..120），缓存只有最后 50 条（71..120）
func fixture(t *testing.T, storeErr error) (*Service, *pricecache.Cache, *countingStore) {
	t.Helper()
	mem := memstore.New()
	cache := pricecache.New(pricecache.DefaultCapacity)
	ticks := make([]model.Tick, 0, 120)
	for i := int64(1); i <= 120; i++ {
		ticks = append(ticks, tk(i))
		if i > 70 {
			cache.Append(tk(i))
		}
	}
	require.NoError(t, mem.Write(context.Background(), ticks))

	store := &countingStore{Store: mem, err: storeErr}
	svc := NewService(cache, store, ratelimit.NewManager(ratelimit.Rule{}, nil), time.Second)
	return svc, cache, store
}

func assertAscending(t *testing.T, ticks []model.Tick) {
	t.Helper()
	for i := 1; i < len(ticks); i++ {
		assert.False(t, ticks[i].Time.Before(ticks[i-1].Time), "index %d out of order", i)
	}
}

func TestQuery_CacheServesWhenEnough(t *testing.T) {
	svc, _, store := fixture(t, nil)

	res, err := svc.Query(context.Background(), sym, 30)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.Source)
	require.Len(t, res.Ticks, 30)
	assert.Equal(t, int64(91), res.Ticks[0].UnixMs())
	assert.Equal(t, int64(120), res.Ticks[29].UnixMs())
	assert.Zero(t, store.calls.Load())
}

func TestQuery_FallsBackToStoreWhenCacheShort(t *testing.T) {
	svc, _, store := fixture(t, nil)

	res, err := svc.Query(context.Background(), sym, 80)
	require.NoError(t, err)
	assert.Equal(t, SourceStore, res.Source)
	require.Len(t, res.Ticks, 80)
	assert.Equal(t, int64(41), res.Ticks[0].UnixMs())
	assert.Equal(t, int64(120), res.Ticks[79].UnixMs())
	assertAscending(t, res.Ticks)
	assert.Equal(t, int32(1), store.calls.Load())
}

func TestQuery_LengthNeverExceedsLimit(t *testing.T) {
	svc, _, _ := fixture(t, nil)
	for _, k := range []int{1, 49, 50, 51, 100, 120, 500, MaxLimit} {
		res, err := svc.Query(context.Background(), sym, k)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(res.Ticks), k)
		assert.Len(t, res.Ticks, min(k, 120))
		assertAscending(t, res.Ticks)
	}
}

func TestQuery_DefaultLimit(t *testing.T) {
	svc, _, _ := fixture(t, nil)
	res, err := svc.Query(context.Background(), "btc-usdt", 0)
	require.NoError(t, err)
	assert.Len(t, res.Ticks, DefaultLimit)
	assert.Equal(t, sym, res.Symbol)
}

func TestQuery_BadParams(t *testing.T) {
	svc, _, _ := fixture(t, nil)

	_, err := svc.Query(context.Background(), "", 10)
	assert.ErrorIs(t, err, ErrBadSymbol)
	for _, k := range []int{-1, MaxLimit + 1} {
		_, err = svc.Query(context.Background(), sym, k)
		assert.ErrorIs(t, err, ErrBadLimit)
		assert.Equal(t, xerr.RequestParamsError, xerr.CodeOf(err))
	}
}

func TestQuery_StoreDownServesCacheDegraded(t *testing.T) {
	svc, _, _ := fixture(t, errors.New("connection refused"))

	res, err := svc.Query(context.Background(), sym, 80)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, SourceCache, res.Source)
	require.Len(t, res.Ticks, 50)
	assert.Equal(t, int64(71), res.Ticks[0].UnixMs())
}

func TestQuery_StoreDownAndNothingCachedIsUnavailable(t *testing.T) {
	svc, _, _ := fixture(t, errors.New("connection refused"))

	_, err := svc.Query(context.Background(), "ETHUSDT", 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, xerr.Unavailable, xerr.CodeOf(err))
}

func TestQuery_NoDataForUnknownSymbol(t *testing.T) {
	svc, _, _ := fixture(t, nil)

	_, err := svc.Query(context.Background(), "DOGEUSDT", 10)
	assert.ErrorIs(t, err, ErrNoData)
	assert.Equal(t, xerr.NoData, xerr.CodeOf(err))
}

func TestQuery_TrackedSymbolWithoutTicksIsEmpty(t *testing.T) {
	svc, cache, _ := fixture(t, nil)
	cache.Track("ETHUSDT")

	res, err := svc.Query(context.Background(), "ETHUSDT", 10)
	require.NoError(t, err)
	assert.Empty(t, res.Ticks)
}

func TestQuery_CompleteCacheSkipsStore(t *testing.T) {
	mem := memstore.New()
	cache := pricecache.New(pricecache.DefaultCapacity)
	warm := []model.Tick{tk(1), tk(2), tk(3)}
	cache.Warm(sym, warm, true)
	store := &countingStore{Store: mem}
	svc := NewService(cache, store, ratelimit.NewManager(ratelimit.Rule{}, nil), time.Second)

	res, err := svc.Query(context.Background(), sym, 100)
	require.NoError(t, err)
	assert.Len(t, res.Ticks, 3)
	assert.Equal(t, SourceCache, res.Source)
	assert.Zero(t, store.calls.Load())
}

func TestQuery_StoreBehindCachePrefersCache(t *testing.T) {
	cache := pricecache.New(pricecache.DefaultCapacity)
	for i := int64(1); i <= 10; i++ {
		cache.Append(tk(i))
	}
	mem := memstore.New()
	require.NoError(t, mem.Write(context.Background(), []model.Tick{tk(1), tk(2)}))
	svc := NewService(cache, mem, ratelimit.NewManager(ratelimit.Rule{}, nil), time.Second)

	res, err := svc.Query(context.Background(), sym, 20)
	require.NoError(t, err)
	assert.Len(t, res.Ticks, 10)
	assert.Equal(t, SourceCache, res.Source)
}

func TestQuery_OutOfOrderTicksComeBackSorted(t *testing.T) {
	cache := pricecache.New(pricecache.DefaultCapacity)
	for _, ms := range []int64{5, 3, 4, 1, 2} {
		cache.Append(tk(ms))
	}
	svc := NewService(cache, memstore.New(), ratelimit.NewManager(ratelimit.Rule{}, nil), time.Second)

	res, err := svc.Query(context.Background(), sym, 5)
	require.NoError(t, err)
	require.Len(t, res.Ticks, 5)
	assertAscending(t, res.Ticks)

	// 缓存里的窗口本身不能被排序改掉
	win := cache.Window(sym, 5)
	assert.Equal(t, int64(5), win[0].UnixMs())
}

func TestQuery_BreakerStopsHammeringStore(t *testing.T) {
	svc, _, store := fixture(t, errors.New("timeout"))

	for i := 0; i < 20; i++ {
		_, _ = svc.Query(context.Background(), "ETHUSDT", 10)
	}
	// 默认连续 5 次失败熔断，之后直接拒绝
	assert.Equal(t, int32(5), store.calls.Load())

	_, err := svc.Query(context.Background(), "ETHUSDT", 10)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestLatest(t *testing.T) {
	svc, _, _ := fixture(t, nil)

	got, err := svc.Latest(context.Background(), sym)
	require.NoError(t, err)
	assert.Equal(t, int64(120), got.UnixMs())

	_, err = svc.Latest(context.Background(), "DOGEUSDT")
	assert.ErrorIs(t, err, ErrNoData)
}
