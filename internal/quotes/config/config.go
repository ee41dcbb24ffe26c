package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"drcrypt.com/internal/quotes/model"
	"drcrypt.com/internal/quotes/storage/influxstore"
	"drcrypt.com/internal/quotes/writer"
	"drcrypt.com/pkg/orm"
	"drcrypt.com/pkg/xredis"
)

const ServiceName = "pricefeed"

// 总配置
type Config struct {
	Name      string          `mapstructure:"name" yaml:"name"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	HTTP      HTTPConfig      `mapstructure:"http" yaml:"http"`
	Feed      FeedConfig      `mapstructure:"feed" yaml:"feed"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Writer    writer.Config   `mapstructure:"writer" yaml:"writer"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Broker    BrokerConfig    `mapstructure:"broker" yaml:"broker"`
	History   HistoryConfig   `mapstructure:"history" yaml:"history"`
	Trace     TraceConfig     `mapstructure:"trace" yaml:"trace"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit" yaml:"ratelimit"`
	Breaker   BreakerConfig   `mapstructure:"breaker" yaml:"breaker"`
	Shutdown  ShutdownConfig  `mapstructure:"shutdown" yaml:"shutdown"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

type HTTPConfig struct {
	Addr        string   `mapstructure:"addr" yaml:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

type FeedConfig struct {
	// false：只做 gateway（从 broker 收行情，不连交易所）
	Enabled    bool          `mapstructure:"enabled" yaml:"enabled"`
	URL        string        `mapstructure:"url" yaml:"url"`
	Symbols    []string      `mapstructure:"symbols" yaml:"symbols"`
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
}

type CacheConfig struct {
	Capacity int  `mapstructure:"capacity" yaml:"capacity"`
	Warm     bool `mapstructure:"warm" yaml:"warm"`
}

type StorageConfig struct {
	Driver string             `mapstructure:"driver" yaml:"driver"` // memory | influx | mysql | badger
	Influx influxstore.Config `mapstructure:"influx" yaml:"influx"`
	MySQL  orm.Config         `mapstructure:"mysql" yaml:"mysql"`
	Badger BadgerConfig       `mapstructure:"badger" yaml:"badger"`
}

// BadgerConfig 单机嵌入式存储；Dir 为空时只放内存
type BadgerConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

type BrokerConfig struct {
	Driver string        `mapstructure:"driver" yaml:"driver"` // none | memory | redis | nats | kafka
	URL    string        `mapstructure:"url" yaml:"url"`       // nats
	Redis  xredis.Config `mapstructure:"redis" yaml:"redis"`
	Kafka  KafkaConfig   `mapstructure:"kafka" yaml:"kafka"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers" yaml:"brokers"`
}

type HistoryConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type TraceConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps" yaml:"rps"`
	Burst int     `mapstructure:"burst" yaml:"burst"`
}

type BreakerConfig struct {
	Timeout             time.Duration `mapstructure:"timeout" yaml:"timeout"`
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures" yaml:"consecutive_failures"`
}

type ShutdownConfig struct {
	Grace time.Duration `mapstructure:"grace" yaml:"grace"`
}

func (c *Config) SetDefaults(v *viper.Viper) {
	v.SetDefault("name", ServiceName)
	v.SetDefault("log.level", "info")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.cors_origins", []string{"*"})

	v.SetDefault("feed.enabled", true)
	v.SetDefault("feed.url", "wss://stream.binance.com:9443")
	v.SetDefault("feed.symbols", []string{"BTCUSDT"})
	v.SetDefault("feed.retry_delay", 5*time.Second)

	v.SetDefault("cache.capacity", 50)
	v.SetDefault("cache.warm", true)

	v.SetDefault("writer.queue_size", 8192)
	v.SetDefault("writer.batch_size", 256)
	v.SetDefault("writer.flush_interval", 200*time.Millisecond)
	v.SetDefault("writer.write_timeout", 5*time.Second)

	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.influx.org", "drcrypt")
	v.SetDefault("storage.influx.bucket", "prices")
	v.SetDefault("storage.influx.timeout", 5*time.Second)
	v.SetDefault("storage.influx.lookback", 30*24*time.Hour)
	v.SetDefault("storage.mysql.max_idle", 10)
	v.SetDefault("storage.mysql.max_open", 50)
	v.SetDefault("storage.mysql.max_lifetime", 3600)
	v.SetDefault("storage.badger.dir", "data/badger")

	v.SetDefault("broker.driver", "none")

	v.SetDefault("history.timeout", 3*time.Second)
	v.SetDefault("ratelimit.rps", 20)
	v.SetDefault("ratelimit.burst", 40)
	v.SetDefault("breaker.timeout", 5*time.Second)
	v.SetDefault("breaker.consecutive_failures", 5)
	v.SetDefault("shutdown.grace", 5*time.Second)
}

// Clone 深拷贝切片字段；热更新会原地改写被 watch 的那份
func (c Config) Clone() Config {
	c.HTTP.CORSOrigins = slices.Clone(c.HTTP.CORSOrigins)
	c.Feed.Symbols = slices.Clone(c.Feed.Symbols)
	c.Broker.Kafka.Brokers = slices.Clone(c.Broker.Kafka.Brokers)
	return c
}

// Normalize symbol 统一大写无分隔符
func (c *Config) Normalize() {
	seen := make(map[string]struct{}, len(c.Feed.Symbols))
	out := c.Feed.Symbols[:0]
	for _, s := range c.Feed.Symbols {
		s = model.NormalizeSymbol(s)
		if _, dup := seen[s]; s == "" || dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	c.Feed.Symbols = out
	c.Storage.Driver = strings.ToLower(c.Storage.Driver)
	c.Broker.Driver = strings.ToLower(c.Broker.Driver)
}

func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if len(c.Feed.Symbols) == 0 {
		errs = append(errs, errors.New("feed.symbols must not be empty"))
	}
	if c.Feed.Enabled && c.Feed.URL == "" {
		errs = append(errs, errors.New("feed.url is required when feed is enabled"))
	}
	if c.Feed.RetryDelay <= 0 {
		errs = append(errs, errors.New("feed.retry_delay must be > 0"))
	}
	if c.Cache.Capacity <= 0 {
		errs = append(errs, errors.New("cache.capacity must be > 0"))
	}

	switch c.Storage.Driver {
	case "memory":
	case "influx":
		if c.Storage.Influx.URL == "" || c.Storage.Influx.Bucket == "" {
			errs = append(errs, errors.New("storage.influx.url and bucket are required"))
		}
	case "mysql":
		if c.Storage.MySQL.DSN == "" {
			errs = append(errs, errors.New("storage.mysql.dsn is required"))
		}
	case "badger":
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}

	switch c.Broker.Driver {
	case "none", "memory":
	case "redis":
		if c.Broker.Redis.Addr == "" {
			errs = append(errs, errors.New("broker.redis.addr is required"))
		}
	case "nats":
		if c.Broker.URL == "" {
			errs = append(errs, errors.New("broker.url is required for nats"))
		}
	case "kafka":
		if len(c.Broker.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("broker.kafka.brokers is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown broker.driver %q", c.Broker.Driver))
	}
	// 不连交易所又没有 broker，就没有行情来源
	if !c.Feed.Enabled && (c.Broker.Driver == "none" || c.Broker.Driver == "memory") {
		errs = append(errs, errors.New("feed disabled requires a redis, nats or kafka broker"))
	}

	if c.Trace.Enabled && c.Trace.Endpoint == "" {
		errs = append(errs, errors.New("trace.endpoint is required when tracing is enabled"))
	}
	if c.Shutdown.Grace <= 0 {
		errs = append(errs, errors.New("shutdown.grace must be > 0"))
	}
	return errors.Join(errs...)
}
