// Package metrics 提供 Prometheus 指标采集与上报的统一封装。
// 该包集中定义模拟器关键指标（路由请求、函数调用、事件流），便于在各模块复用并保持标签一致。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 封装模拟器运行时指标集合。
// 所有更新方法对 nil 接收者安全，未启用指标时直接传入 nil 即可。
//
// 指标分类:
//   - 请求指标: 路由器收到的请求数量与状态码
//   - 调用指标: 跟踪函数调用的数量、耗时和错误
//   - 事件流指标: 发布、投递、淘汰与订阅者故障
type Metrics struct {
	// ========== 请求相关指标 ==========

	// RequestsTotal 路由请求总数
	// 标签: method, route, status
	RequestsTotal *prometheus.CounterVec

	// ========== 调用相关指标 ==========

	// InvocationsTotal 函数调用总次数计数器
	// 标签: function_name, status
	InvocationsTotal *prometheus.CounterVec

	// InvocationDuration 函数调用耗时直方图（单位：毫秒）
	// 标签: function_name
	// 桶边界: 1, 5, 10, 50, 100, 250, 500, 1000, 5000, 30000 ms
	InvocationDuration *prometheus.HistogramVec

	// InvocationErrors 调用错误计数器，按错误类型分类
	// 标签: function_name, error_type
	InvocationErrors *prometheus.CounterVec

	// ========== 事件流相关指标 ==========

	// EventsPublished 已发布事件数
	// 标签: stream, event_type
	EventsPublished *prometheus.CounterVec

	// EventsDelivered 成功投递给订阅者的次数
	// 标签: stream
	EventsDelivered *prometheus.CounterVec

	// EventsEvicted 超出保留上限被淘汰的记录数
	// 标签: stream
	EventsEvicted *prometheus.CounterVec

	// SubscriberFailures 订阅者回调 panic 次数
	// 标签: stream
	SubscriberFailures *prometheus.CounterVec

	// SubscriberDropped 缓冲订阅者队列已满被丢弃的记录数
	// 标签: stream
	SubscriberDropped *prometheus.CounterVec

	// StreamRecords 每个事件流当前保留的记录数
	// 标签: stream
	StreamRecords *prometheus.GaugeVec

	// StreamSubscribers 每个事件流当前的订阅者数量
	// 标签: stream
	StreamSubscribers *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// NewMetrics 创建并注册一组 Prometheus 指标。
//
// 参数:
//   - namespace: 所有指标名前缀
//   - reg: 注册器，为 nil 时使用默认注册器；测试中传入 prometheus.NewRegistry()
//
// 返回:
//   - *Metrics: 指标集合
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of routed HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		InvocationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_total",
				Help:      "Total number of function invocations",
			},
			[]string{"function_name", "status"},
		),
		InvocationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "invocation_duration_ms",
				Help:      "Function invocation duration in milliseconds",
				Buckets:   []float64{1, 5, 10, 50, 100, 250, 500, 1000, 5000, 30000},
			},
			[]string{"function_name"},
		),
		InvocationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocation_errors_total",
				Help:      "Total number of invocation errors",
			},
			[]string{"function_name", "error_type"},
		),
		EventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Total number of events appended to streams",
			},
			[]string{"stream", "event_type"},
		),
		EventsDelivered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_delivered_total",
				Help:      "Total number of successful subscriber deliveries",
			},
			[]string{"stream"},
		),
		EventsEvicted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_evicted_total",
				Help:      "Total number of records evicted by the retention bound",
			},
			[]string{"stream"},
		),
		SubscriberFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "subscriber_failures_total",
				Help:      "Total number of subscriber callbacks that panicked",
			},
			[]string{"stream"},
		),
		SubscriberDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "subscriber_dropped_total",
				Help:      "Total number of records dropped by full buffered subscribers",
			},
			[]string{"stream"},
		),
		StreamRecords: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stream_records",
				Help:      "Number of records currently retained per stream",
			},
			[]string{"stream"},
		),
		StreamSubscribers: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stream_subscribers",
				Help:      "Number of subscribers per stream",
			},
			[]string{"stream"},
		),
		gatherer: gatherer,
	}
}

// Handler 返回暴露本组指标的 HTTP 处理器。
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordRequest 记录一次路由请求
func (m *Metrics) RecordRequest(method, route string, status int) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// RecordInvocation 记录一次函数调用及其耗时。
// status 取值 success / error / timeout。
func (m *Metrics) RecordInvocation(functionName, status string, durationMs float64) {
	if m == nil {
		return
	}
	m.InvocationsTotal.WithLabelValues(functionName, status).Inc()
	m.InvocationDuration.WithLabelValues(functionName).Observe(durationMs)
}

// RecordError 记录调用错误
func (m *Metrics) RecordError(functionName, errorType string) {
	if m == nil {
		return
	}
	m.InvocationErrors.WithLabelValues(functionName, errorType).Inc()
}

// RecordPublish 记录一次事件追加
func (m *Metrics) RecordPublish(stream, eventType string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(stream, eventType).Inc()
}

// RecordDelivery 记录一次成功投递
func (m *Metrics) RecordDelivery(stream string) {
	if m == nil {
		return
	}
	m.EventsDelivered.WithLabelValues(stream).Inc()
}

// RecordEviction 记录一次淘汰
func (m *Metrics) RecordEviction(stream string) {
	if m == nil {
		return
	}
	m.EventsEvicted.WithLabelValues(stream).Inc()
}

// RecordSubscriberFailure 记录一次订阅者故障
func (m *Metrics) RecordSubscriberFailure(stream string) {
	if m == nil {
		return
	}
	m.SubscriberFailures.WithLabelValues(stream).Inc()
}

// RecordSubscriberDrop 记录一次缓冲订阅者丢弃
func (m *Metrics) RecordSubscriberDrop(stream string) {
	if m == nil {
		return
	}
	m.SubscriberDropped.WithLabelValues(stream).Inc()
}

// UpdateStreamStats 更新事件流的记录数与订阅者数量
func (m *Metrics) UpdateStreamStats(stream string, records, subscribers int) {
	if m == nil {
		return
	}
	m.StreamRecords.WithLabelValues(stream).Set(float64(records))
	m.StreamSubscribers.WithLabelValues(stream).Set(float64(subscribers))
}
