// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 会话指标
	sessionsTotal          *prometheus.CounterVec
	sessionReconnectsTotal prometheus.Counter
	sessionEventsTotal     *prometheus.CounterVec

	// 模型调用指标
	modelCallDuration *prometheus.HistogramVec
	modelChunksTotal  *prometheus.CounterVec
	modelTokensTotal  *prometheus.CounterVec

	// 合成指标
	synthesisDuration *prometheus.HistogramVec
	synthesisTotal    *prometheus.CounterVec

	// 限流器指标
	limiterInUse   prometheus.Gauge
	limiterWaiting prometheus.Gauge

	// 缓存指标
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter

	// HTTP 指标
	httpRequestDuration *prometheus.HistogramVec
	httpResponseBytes   *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器。reg 为 nil 时注册到默认 Registerer。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 会话指标
	c.sessionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of streaming sessions by transport and outcome",
		},
		[]string{"transport", "outcome"},
	)

	c.sessionReconnectsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_reconnects_total",
			Help:      "Total number of transport reconnect attempts",
		},
	)

	c.sessionEventsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Total number of streaming events applied by kind",
		},
		[]string{"kind"},
	)

	// 模型调用指标
	c.modelCallDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_call_duration_seconds",
			Help:      "Model call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"model", "status"},
	)

	c.modelChunksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_chunks_total",
			Help:      "Total number of model chunks emitted",
		},
		[]string{"model"},
	)

	c.modelTokensTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_tokens_total",
			Help:      "Estimated tokens produced per model",
		},
		[]string{"model"},
	)

	// 合成指标
	c.synthesisDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_duration_seconds",
			Help:      "Synthesis merge duration in seconds by execution route",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"route"},
	)

	c.synthesisTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_total",
			Help:      "Total number of synthesis merges by strategy",
		},
		[]string{"strategy"},
	)

	// 限流器指标
	c.limiterInUse = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "limiter_slots_in_use",
			Help:      "Concurrency limiter slots currently acquired",
		},
	)

	c.limiterWaiting = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "limiter_waiters",
			Help:      "Callers queued waiting for a limiter slot",
		},
	)

	// 缓存指标
	c.cacheHits = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Synthesis cache hits",
		},
	)

	c.cacheMisses = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Synthesis cache misses",
		},
	)

	// HTTP 指标
	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 30, 120},
		},
		[]string{"method", "path", "status"},
	)

	c.httpResponseBytes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_response_bytes_total",
			Help:      "Total bytes written in HTTP responses",
		},
		[]string{"method", "path"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// 🎯 记录方法
// =============================================================================

// RecordSession 记录一次会话结束
func (c *Collector) RecordSession(transport, outcome string) {
	c.sessionsTotal.WithLabelValues(transport, outcome).Inc()
}

// RecordReconnect 记录一次重连尝试
func (c *Collector) RecordReconnect() {
	c.sessionReconnectsTotal.Inc()
}

// RecordEvent 记录一个被应用的流式事件
func (c *Collector) RecordEvent(kind string) {
	c.sessionEventsTotal.WithLabelValues(kind).Inc()
}

// ObserveModelCall 记录模型调用耗时
func (c *Collector) ObserveModelCall(model, status string, duration time.Duration) {
	c.modelCallDuration.WithLabelValues(model, status).Observe(duration.Seconds())
}

// RecordModelChunk 记录一个模型增量分片
func (c *Collector) RecordModelChunk(model string, tokens int) {
	c.modelChunksTotal.WithLabelValues(model).Inc()
	if tokens > 0 {
		c.modelTokensTotal.WithLabelValues(model).Add(float64(tokens))
	}
}

// ObserveSynthesis 记录一次合并耗时。route 为 inline 或 worker。
func (c *Collector) ObserveSynthesis(route, strategy string, duration time.Duration) {
	c.synthesisDuration.WithLabelValues(route).Observe(duration.Seconds())
	c.synthesisTotal.WithLabelValues(strategy).Inc()
}

// SetLimiterUsage 更新限流器占用指标
func (c *Collector) SetLimiterUsage(inUse, waiting int) {
	c.limiterInUse.Set(float64(inUse))
	c.limiterWaiting.Set(float64(waiting))
}

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit() { c.cacheHits.Inc() }

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss() { c.cacheMisses.Inc() }

// RecordHTTPRequest 记录一次 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, responseBytes int64) {
	c.httpRequestDuration.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
	if responseBytes > 0 {
		c.httpResponseBytes.WithLabelValues(method, path).Add(float64(responseBytes))
	}
}
