// Package runner 实现函数调用运行器。
// 运行器为每次调用合成执行上下文，在故障边界内调用处理函数，
// 记录日志、指标与追踪，并把故障原样向上抛出。
package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/oriys/lambdasim/internal/domain"
	"github.com/oriys/lambdasim/internal/metrics"
	"github.com/oriys/lambdasim/internal/telemetry"
	"github.com/sirupsen/logrus"
)

// Config 是运行器配置。
type Config struct {
	// Region 用于合成函数 ARN
	Region string
	// AccountID 用于合成函数 ARN
	AccountID string
	// MemoryMB 是上报给处理函数的内存上限
	MemoryMB int
	// Timeout 是单次调用的总时间预算
	Timeout time.Duration
	// EnforceTimeout 为 true 时超出预算立即返回 ErrInvocationTimeout，
	// 否则剩余时间仅作参考，运行器始终等待处理函数返回
	EnforceTimeout bool
}

// Runner 是函数调用运行器，可被多个协程并发使用。
type Runner struct {
	cfg     Config
	metrics *metrics.Metrics
	logger  *logrus.Logger

	now   func() time.Time
	newID func() string
}

// New 创建运行器。
//
// 参数:
//   - cfg: 区域、账号、内存与时间预算
//   - m: 指标集合，可为 nil
//   - logger: 日志记录器
//
// 返回:
//   - *Runner: 运行器实例
func New(cfg Config, m *metrics.Metrics, logger *logrus.Logger) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = domain.DefaultTimeBudget
	}
	if cfg.MemoryMB <= 0 {
		cfg.MemoryMB = domain.DefaultMemoryLimitMB
	}
	if cfg.Region == "" {
		cfg.Region = "local"
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Runner{
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// NewInvocationContext 按运行器配置为一次调用合成执行上下文。
func (r *Runner) NewInvocationContext(functionName, requestID string, startedAt time.Time) *domain.InvocationContext {
	return domain.NewInvocationContext(domain.InvocationContextSpec{
		FunctionName: functionName,
		RequestID:    requestID,
		Region:       r.cfg.Region,
		AccountID:    r.cfg.AccountID,
		MemoryMB:     r.cfg.MemoryMB,
		Budget:       r.cfg.Timeout,
		StartedAt:    startedAt,
		Now:          r.now,
	})
}

// Invoke 调用处理函数。
// 处理函数的 ctx 携带截止时间；返回错误或 panic 都视为故障，
// 记录函数名、错误信息与耗时后原样返回给调用方。
//
// 参数:
//   - ctx: 调用方上下文
//   - handler: 业务处理函数
//   - event: 调用事件
//   - functionName: 函数名称
//
// 返回:
//   - *domain.HandlerResult: 处理结果，成功时不为 nil
//   - error: 处理函数故障、panic 或超时
func (r *Runner) Invoke(ctx context.Context, handler domain.Handler, event *domain.InvocationEvent, functionName string) (*domain.HandlerResult, error) {
	if handler == nil {
		return nil, fmt.Errorf("%s: %w", functionName, domain.ErrNilHandler)
	}

	start := r.now()
	lc := r.NewInvocationContext(functionName, r.newID(), start)

	ctx, span := telemetry.StartInvocationSpan(ctx, functionName, lc.AwsRequestID)
	ctx, cancel := context.WithDeadline(ctx, lc.Deadline())
	defer cancel()

	entry := telemetry.EntryWithTraceContext(ctx, r.logger.WithFields(logrus.Fields{
		"function_name": functionName,
		"request_id":    lc.AwsRequestID,
	}))
	entry.WithField("remaining_ms", lc.RemainingTimeInMillis()).Debug("Invocation started")

	var (
		result *domain.HandlerResult
		err    error
	)
	if r.cfg.EnforceTimeout {
		result, err = r.invokeEnforced(ctx, handler, event, lc)
	} else {
		result, err = safeCall(ctx, handler, event, lc)
	}

	elapsed := r.now().Sub(start)
	durationMs := float64(elapsed.Microseconds()) / 1000
	entry = entry.WithField("duration_ms", durationMs)

	if err != nil {
		status := "error"
		if errors.Is(err, domain.ErrInvocationTimeout) {
			status = "timeout"
		}
		r.metrics.RecordInvocation(functionName, status, durationMs)
		r.metrics.RecordError(functionName, errorType(err))
		entry.WithError(err).Error("Invocation failed")
		telemetry.EndSpan(span, err)
		return nil, err
	}

	if result == nil {
		result = &domain.HandlerResult{}
	}
	r.metrics.RecordInvocation(functionName, "success", durationMs)
	entry.WithField("status_code", result.Status()).Info("Invocation completed")
	telemetry.EndSpan(span, nil)
	return result, nil
}

// invokeEnforced 在独立协程中运行处理函数，截止时间到达时不再等待。
// 超时后处理函数可能仍在运行，其结果被丢弃。
func (r *Runner) invokeEnforced(ctx context.Context, handler domain.Handler, event *domain.InvocationEvent, lc *domain.InvocationContext) (*domain.HandlerResult, error) {
	type outcome struct {
		result *domain.HandlerResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := safeCall(ctx, handler, event, lc)
		done <- outcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s exceeded %v: %w", lc.FunctionName, lc.Budget, domain.ErrInvocationTimeout)
		}
		return nil, ctx.Err()
	}
}

// safeCall 在故障边界内调用处理函数，panic 转换为 ErrHandlerPanic。
func safeCall(ctx context.Context, handler domain.Handler, event *domain.InvocationEvent, lc *domain.InvocationContext) (result *domain.HandlerResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = &PanicError{Value: rec, Stack: debug.Stack()}
		}
	}()
	return handler(ctx, event, lc)
}

// PanicError 描述被捕获的处理函数 panic。
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%v: %v", domain.ErrHandlerPanic, e.Value)
}

// Unwrap 使 errors.Is(err, domain.ErrHandlerPanic) 成立
func (e *PanicError) Unwrap() error {
	return domain.ErrHandlerPanic
}

// errorType 返回用于指标标签的错误分类
func errorType(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvocationTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrHandlerPanic):
		return "panic"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "handler_error"
	}
}
