package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector 指标收集器. A nil collector is valid and records nothing.
type MetricsCollector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 变更指标
	mutationsTotal   *prometheus.CounterVec
	mutationDuration *prometheus.HistogramVec

	// 订阅与对账指标
	reconcileEventsTotal *prometheus.CounterVec
	reconcileDuration    *prometheus.HistogramVec
	subscriptionsActive  prometheus.Gauge

	// 缓存指标
	cacheOperationsTotal *prometheus.CounterVec

	// 后台任务
	workerQueueDepth  prometheus.Gauge
	deadLettersTotal  *prometheus.CounterVec
	collectionVersion prometheus.Gauge
}

// NewMetricsCollector 创建指标收集器, 注册到 reg
func NewMetricsCollector(reg prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(reg)
	return &MetricsCollector{
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		mutationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_mutations_total",
				Help: "Optimistic mutations by operation and outcome",
			},
			[]string{"operation", "result"},
		),
		mutationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "feed_mutation_confirm_seconds",
				Help:    "Time from local apply to remote confirmation or rollback",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),

		reconcileEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_change_events_total",
				Help: "Change events processed by the reconciler",
			},
			[]string{"kind", "type", "result"},
		),
		reconcileDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "feed_change_event_seconds",
				Help:    "Change event processing time including re-fetches",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		subscriptionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "feed_subscriptions_active",
				Help: "Number of live change-feed subscriptions",
			},
		),

		cacheOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_operations_total",
				Help: "Cache operations by type and outcome",
			},
			[]string{"operation", "cache_type", "result"},
		),

		workerQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "worker_queue_depth",
				Help: "Tasks waiting in the worker pool queue",
			},
		),
		deadLettersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "worker_dead_letters_total",
				Help: "Tasks that failed permanently",
			},
			[]string{"task"},
		),
		collectionVersion: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "feed_collection_version",
				Help: "Latest version of the observable collection",
			},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *MetricsCollector) RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, endpoint, getStatusCategory(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordMutation 记录变更结果: applied, confirmed, rolled_back, rejected
func (m *MetricsCollector) RecordMutation(operation, result string) {
	if m == nil {
		return
	}
	m.mutationsTotal.WithLabelValues(operation, result).Inc()
}

func (m *MetricsCollector) ObserveMutation(operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.mutationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordChangeEvent 记录事件处理结果: applied, dropped
func (m *MetricsCollector) RecordChangeEvent(kind, eventType, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.reconcileEventsTotal.WithLabelValues(kind, eventType, result).Inc()
	m.reconcileDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (m *MetricsCollector) SubscriptionOpened() {
	if m == nil {
		return
	}
	m.subscriptionsActive.Inc()
}

func (m *MetricsCollector) SubscriptionClosed() {
	if m == nil {
		return
	}
	m.subscriptionsActive.Dec()
}

// RecordCacheOperation 记录缓存操作指标
func (m *MetricsCollector) RecordCacheOperation(operation, cacheType string, hit bool) {
	if m == nil {
		return
	}
	result := "hit"
	if !hit {
		result = "miss"
	}
	m.cacheOperationsTotal.WithLabelValues(operation, cacheType, result).Inc()
}

func (m *MetricsCollector) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.workerQueueDepth.Set(float64(n))
}

func (m *MetricsCollector) RecordDeadLetter(task string) {
	if m == nil {
		return
	}
	m.deadLettersTotal.WithLabelValues(task).Inc()
}

func (m *MetricsCollector) SetCollectionVersion(v uint64) {
	if m == nil {
		return
	}
	m.collectionVersion.Set(float64(v))
}

// getStatusCategory 获取状态分类
func getStatusCategory(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
