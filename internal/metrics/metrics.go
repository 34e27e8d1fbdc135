// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BrokerEventsTotal 记录从工作队列收到的 pub/sub 事件总数
	BrokerEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_broker_events_total",
			Help: "Total number of pub/sub events received on the work channel.",
		},
		[]string{"type"}, // 按事件类型分类 (message/control)
	)

	// JobsProcessedTotal 记录已处理请求的总数
	JobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_jobs_processed_total",
			Help: "Total number of inference requests processed, by api and result code.",
		},
		[]string{"api", "code"},
	)

	// ResultsPublishedTotal 记录结果发布的总数
	ResultsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_results_published_total",
			Help: "Total number of reply publications, by outcome (ok/error/dropped).",
		},
		[]string{"status"},
	)

	// BrokerReconnectsTotal 记录订阅重连次数
	BrokerReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatcher_broker_reconnects_total",
			Help: "Total number of times the listener re-entered the subscribe loop after a broker failure.",
		},
	)

	// PoolRunning 当前正在执行的 worker 数
	PoolRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatcher_pool_running_workers",
			Help: "Number of pool workers currently executing a job.",
		},
	)

	// PoolPending 当前排队等待的任务数（无上界，需要监控）
	PoolPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatcher_pool_pending_jobs",
			Help: "Number of jobs waiting in the unbounded intake queue.",
		},
	)

	// JobDurationSeconds 记录单个请求的处理耗时
	JobDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatcher_job_duration_seconds",
			Help:    "End-to-end processing time per request, engine call included.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"api"},
	)
)
