// Package telemetry 提供 OpenTelemetry 分布式追踪功能的封装。
// 模拟器为每个请求、每次函数调用与每次事件发布创建 Span，
// 可将追踪数据导出到兼容 OTLP 协议的后端（如 Tempo、Jaeger 等）。
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// instrumentationName 是模拟器内部 Span 使用的追踪器名称
const instrumentationName = "github.com/oriys/lambdasim"

// Config 定义遥测配置。
type Config struct {
	// Enabled 为 false 时只使用全局空操作追踪器
	Enabled bool `yaml:"enabled"`
	// Endpoint 是 OTLP 接收器的 gRPC 地址，例如 "localhost:4317"
	Endpoint string `yaml:"endpoint"`
	// ServiceName 是追踪数据中的服务名
	ServiceName string `yaml:"service_name"`
	// SampleRate 采样率，取值 0.0 到 1.0
	SampleRate float64 `yaml:"sample_rate"`
	// Environment 是运行环境标识
	Environment string `yaml:"environment"`
}

// Telemetry 持有追踪提供者。
type Telemetry struct {
	config         Config
	tracerProvider *sdktrace.TracerProvider
}

// New 根据配置初始化追踪。
// 未启用时返回不导出的实例，Span 由全局空操作提供者创建；启用时连接 OTLP 端点，
// 设置全局追踪提供者与 W3C 传播器。
//
// 参数：
//   - ctx: 控制连接超时
//   - cfg: 遥测配置
//
// 返回：
//   - *Telemetry: 遥测实例
//   - error: 连接或导出器创建失败
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "lambdasim"
	}
	if !cfg.Enabled {
		return &Telemetry{config: cfg}, nil
	}

	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 1.0
	}
	if cfg.SampleRate > 1 {
		cfg.SampleRate = 1.0
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(ctx, cfg.Endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to %s: %w", cfg.Endpoint, err)
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("1.0.0"),
			attribute.String("environment", cfg.Environment),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(samplerFor(cfg.SampleRate))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Telemetry{
		config:         cfg,
		tracerProvider: tp,
	}, nil
}

// samplerFor 根据采样率选择采样器
func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Shutdown 刷新待发送的 Span 并释放资源，未启用时直接返回。
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.tracerProvider == nil {
		return nil
	}
	return t.tracerProvider.Shutdown(ctx)
}

// IsEnabled 返回是否启用了导出
func (t *Telemetry) IsEnabled() bool {
	return t != nil && t.config.Enabled
}

// StartSpan 在全局追踪提供者上创建 Span，自动成为上下文中当前 Span 的子 Span。
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// StartInvocationSpan 为一次函数调用创建 Span。
func StartInvocationSpan(ctx context.Context, functionName, requestID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "invoke "+functionName,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("faas.name", functionName),
			attribute.String("faas.invocation_id", requestID),
		),
	)
}

// StartPublishSpan 为一次事件发布创建生产者 Span。
func StartPublishSpan(ctx context.Context, stream, eventType string) (context.Context, trace.Span) {
	return StartSpan(ctx, "publish "+stream,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", stream),
			attribute.String("messaging.event_type", eventType),
		),
	)
}

// EndSpan 结束 Span，err 非空时记录错误并标记状态。
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
