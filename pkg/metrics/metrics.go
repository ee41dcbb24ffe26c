package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "drcrypt"

// 行情链路指标：feed -> cache / writer / hub，以及历史查询
var (
	FeedMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_messages_total",
		Help:      "Upstream messages received, partitioned by result (ok/malformed).",
	}, []string{"symbol", "result"})

	FeedReconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_reconnects_total",
		Help:      "Upstream reconnect attempts.",
	}, []string{"symbol"})

	FeedState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "feed_state",
		Help:      "Upstream connection state (0=disconnected,1=connecting,2=connected).",
	}, []string{"symbol"})

	SinkErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_sink_errors_total",
		Help:      "Tick sink failures (cache/writer/publish).",
	}, []string{"sink"})

	WriterQueueLen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "writer_queue_len",
		Help:      "Ticks waiting in the persistence queue.",
	})

	WriterTicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "writer_ticks_total",
		Help:      "Ticks handled by the persistence writer, partitioned by outcome (written/dropped_full/dropped_closed/failed/abandoned).",
	}, []string{"outcome"})

	WriterFlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "writer_flush_duration_seconds",
		Help:      "Store write latency per batch.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms ~ 16s
	})

	HistoryQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "history_queries_total",
		Help:      "History queries, partitioned by answering source (cache/store/degraded/nodata/unavailable).",
	}, []string{"source"})

	CBRejectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "circuitbreaker_reject_total",
		Help:      "Total number of circuit breaker rejections.",
	}, []string{"name", "reason"})

	CBState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuitbreaker_state",
		Help:      "Circuit breaker state (0=closed,1=half_open,2=open).",
	}, []string{"name"})

	RateLimitBlockTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ratelimit_block_total",
		Help:      "Total number of rate limit blocks.",
	}, []string{"route"})
)
