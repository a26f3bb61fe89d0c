package telemetry

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// NewLogger 按配置创建 logrus 日志记录器。
//
// 参数：
//   - level: 日志级别，大小写不敏感（debug / info / warn / error），WARNING 视为 warn
//   - format: json 或 text
//   - out: 输出目标，为 nil 时使用 logrus 默认输出
//
// 返回：
//   - *logrus.Logger: 已挂载追踪钩子的日志记录器
//   - error: 级别或格式无法识别
func NewLogger(level, format string, out io.Writer) (*logrus.Logger, error) {
	logger := logrus.New()
	if out != nil {
		logger.SetOutput(out)
	}

	switch strings.ToLower(format) {
	case "", "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	lvl := strings.ToLower(level)
	if lvl == "" {
		lvl = "info"
	}
	if lvl == "warning" {
		lvl = "warn"
	}
	parsed, err := logrus.ParseLevel(lvl)
	if err != nil {
		return nil, fmt.Errorf("unknown log level %q: %w", level, err)
	}
	logger.SetLevel(parsed)
	logger.AddHook(NewLogrusHook())
	return logger, nil
}

// LogrusHook 在日志条目携带有效 Span 上下文时注入 trace_id 与 span_id。
// 使用 logger.WithContext(ctx) 写出的条目才会被处理。
type LogrusHook struct{}

// NewLogrusHook 创建追踪钩子
func NewLogrusHook() *LogrusHook {
	return &LogrusHook{}
}

// Levels 对所有级别生效
func (h *LogrusHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire 向日志条目追加追踪字段。
func (h *LogrusHook) Fire(entry *logrus.Entry) error {
	if entry.Context == nil {
		return nil
	}
	sc := trace.SpanFromContext(entry.Context).SpanContext()
	if !sc.IsValid() {
		return nil
	}
	entry.Data["trace_id"] = sc.TraceID().String()
	entry.Data["span_id"] = sc.SpanID().String()
	if sc.IsSampled() {
		entry.Data["trace_sampled"] = true
	}
	return nil
}

// EntryWithTraceContext 将上下文附加到已有日志条目，交由 LogrusHook 注入追踪字段。
func EntryWithTraceContext(ctx context.Context, entry *logrus.Entry) *logrus.Entry {
	if ctx == nil {
		return entry
	}
	return entry.WithContext(ctx)
}
