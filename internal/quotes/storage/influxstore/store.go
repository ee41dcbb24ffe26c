package influxstore

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/shopspring/decimal"

	"drcrypt.com/internal/quotes/model"
	"drcrypt.com/internal/quotes/storage"
)

const (
	measurement = "price"
	fieldPrice  = "price"
)

type Config struct {
	URL    string `mapstructure:"url" yaml:"url"`
	Token  string `mapstructure:"token" yaml:"token"`
	Org    string `mapstructure:"org" yaml:"org"`
	Bucket string `mapstructure:"bucket" yaml:"bucket"`

	UseGzip bool          `mapstructure:"gzip" yaml:"gzip"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// 查询的回看范围；tick 是 seconds 粒度的时间序列，不需要从 0 扫起
	Lookback time.Duration `mapstructure:"lookback" yaml:"lookback"`
}

func (cfg Config) String() string {
	return fmt.Sprintf("url=%s org=%s bucket=%s gzip=%v lookback=%s",
		cfg.URL, cfg.Org, cfg.Bucket, cfg.UseGzip, cfg.Lookback)
}

// Store：measurement=price，tag=symbol，field=price
// 批量由 writer 负责，这里用阻塞写，错误能直接回给调用方
type Store struct {
	cfg    Config
	client influxdb2.Client
	write  api.WriteAPIBlocking
	query  api.QueryAPI

	// influx 里 (symbol, time) 相同的点会互相覆盖；同一毫秒的后续成交往后挪 1ns
	mu   sync.Mutex
	last map[string]dupState
}

type dupState struct {
	at time.Time
	n  int64
}

func New(cfg Config) *Store {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 30 * 24 * time.Hour
	}
	opt := influxdb2.DefaultOptions().
		SetUseGZip(cfg.UseGzip).
		SetHTTPRequestTimeout(uint(cfg.Timeout.Seconds()))

	c := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opt)
	return &Store{
		cfg:    cfg,
		client: c,
		write:  c.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		query:  c.QueryAPI(cfg.Org),
		last:   make(map[string]dupState),
	}
}

func (s *Store) Write(ctx context.Context, ticks []model.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	points := make([]*write.Point, 0, len(ticks))
	s.mu.Lock()
	for _, t := range ticks {
		points = append(points, toPoint(t, s.pointTime(t)))
	}
	s.mu.Unlock()
	if err := s.write.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("influx write %d points: %w", len(points), err)
	}
	return nil
}

// pointTime 调用方持有 s.mu。只和该 symbol 上一笔比，重启后的重复仍是后写覆盖
func (s *Store) pointTime(t model.Tick) time.Time {
	st := s.last[t.Symbol]
	if t.Time.Equal(st.at) {
		st.n++
	} else {
		st = dupState{at: t.Time}
	}
	s.last[t.Symbol] = st
	return t.Time.Add(time.Duration(st.n))
}

func toPoint(t model.Tick, at time.Time) *write.Point {
	price, _ := t.Price.Float64()
	return write.NewPoint(
		measurement,
		map[string]string{"symbol": t.Symbol},
		map[string]interface{}{fieldPrice: price},
		at,
	)
}

func (s *Store) Recent(ctx context.Context, symbol string, limit int) ([]model.Tick, error) {
	if limit <= 0 {
		return nil, nil
	}
	res, err := s.query.Query(ctx, recentFlux(s.cfg.Bucket, symbol, limit, s.cfg.Lookback))
	if err != nil {
		return nil, fmt.Errorf("influx query %s: %w", symbol, err)
	}
	defer res.Close()

	out := make([]model.Tick, 0, limit)
	for res.Next() {
		rec := res.Record()
		price, ok := toDecimal(rec.Value())
		if !ok {
			continue
		}
		out = append(out, model.Tick{Symbol: symbol, Price: price, Time: rec.Time()})
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("influx read %s: %w", symbol, err)
	}
	return out, nil
}

// recentFlux: 按时间倒序取最近 limit 条
func recentFlux(bucket, symbol string, limit int, lookback time.Duration) string {
	return fmt.Sprintf(`from(bucket: %s)
  |> range(start: -%ds)
  |> filter(fn: (r) => r._measurement == %s and r._field == %s and r.symbol == %s)
  |> group()
  |> sort(columns: ["_time"], desc: true)
  |> limit(n: %d)`,
		strconv.Quote(bucket),
		int64(lookback/time.Second),
		strconv.Quote(measurement),
		strconv.Quote(fieldPrice),
		strconv.Quote(symbol),
		limit,
	)
}

func toDecimal(v interface{}) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case float64:
		return decimal.NewFromFloat(x), true
	case int64:
		return decimal.NewFromInt(x), true
	case string:
		d, err := decimal.NewFromString(x)
		return d, err == nil
	default:
		return decimal.Decimal{}, false
	}
}

func (s *Store) Close() error {
	// 阻塞写没有 buffer，Close 只释放 http client
	s.client.Close()
	return nil
}

var _ storage.Store = (*Store)(nil)
