package runner

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/oriys/lambdasim/internal/domain"
	"github.com/sirupsen/logrus"
)

func newTestRunner(cfg Config) *Runner {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	r := New(cfg, nil, logger)
	r.newID = func() string { return "req-fixed" }
	return r
}

// TestRunner_InvokeSuccess 测试成功调用时结果原样返回且上下文字段正确
func TestRunner_InvokeSuccess(t *testing.T) {
	r := newTestRunner(Config{AccountID: "123456789012"})

	var seen *domain.InvocationContext
	handler := func(ctx context.Context, event *domain.InvocationEvent, lc *domain.InvocationContext) (*domain.HandlerResult, error) {
		seen = lc
		if _, ok := ctx.Deadline(); !ok {
			t.Error("handler context should carry a deadline")
		}
		return domain.JSONResult(201, map[string]string{"path": event.Path}), nil
	}

	result, err := r.Invoke(context.Background(), handler, &domain.InvocationEvent{Path: "/users"}, "userRegistration")
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if result.Status() != 201 {
		t.Errorf("expected 201, got %d", result.Status())
	}

	if seen.FunctionName != "userRegistration" {
		t.Errorf("unexpected function name %q", seen.FunctionName)
	}
	if seen.AwsRequestID != "req-fixed" {
		t.Errorf("unexpected request id %q", seen.AwsRequestID)
	}
	if seen.InvokedFunctionArn != "arn:aws:lambda:local:123456789012:function:userRegistration" {
		t.Errorf("unexpected arn %q", seen.InvokedFunctionArn)
	}
	if !strings.HasSuffix(seen.LogStreamName, "/[$LATEST]req-fixed") {
		t.Errorf("unexpected log stream %q", seen.LogStreamName)
	}
	if ms := seen.RemainingTimeInMillis(); ms <= 0 || ms > 30000 {
		t.Errorf("remaining time out of range: %d", ms)
	}
}

func TestRunner_NilResult(t *testing.T) {
	r := newTestRunner(Config{})
	result, err := r.Invoke(context.Background(), func(context.Context, *domain.InvocationEvent, *domain.InvocationContext) (*domain.HandlerResult, error) {
		return nil, nil
	}, &domain.InvocationEvent{}, "fn")
	if err != nil {
		t.Fatal(err)
	}
	if result == nil || result.Status() != 200 {
		t.Errorf("expected empty 200 result, got %+v", result)
	}
}

// TestRunner_InvokeError 测试处理函数错误被原样抛出
func TestRunner_InvokeError(t *testing.T) {
	r := newTestRunner(Config{})
	boom := errors.New("database unavailable")

	_, err := r.Invoke(context.Background(), func(context.Context, *domain.InvocationEvent, *domain.InvocationContext) (*domain.HandlerResult, error) {
		return nil, boom
	}, &domain.InvocationEvent{}, "placeBet")
	if !errors.Is(err, boom) {
		t.Errorf("expected original error, got %v", err)
	}
}

// TestRunner_InvokePanic 测试 panic 被转换为 ErrHandlerPanic
func TestRunner_InvokePanic(t *testing.T) {
	r := newTestRunner(Config{})

	_, err := r.Invoke(context.Background(), func(context.Context, *domain.InvocationEvent, *domain.InvocationContext) (*domain.HandlerResult, error) {
		panic("nil map write")
	}, &domain.InvocationEvent{}, "processResult")
	if !errors.Is(err, domain.ErrHandlerPanic) {
		t.Fatalf("expected ErrHandlerPanic, got %v", err)
	}
	if !strings.Contains(err.Error(), "nil map write") {
		t.Errorf("panic value missing from error: %v", err)
	}
	var pe *PanicError
	if !errors.As(err, &pe) || len(pe.Stack) == 0 {
		t.Error("expected PanicError with stack")
	}
}

func TestRunner_NilHandler(t *testing.T) {
	r := newTestRunner(Config{})
	if _, err := r.Invoke(context.Background(), nil, &domain.InvocationEvent{}, "fn"); !errors.Is(err, domain.ErrNilHandler) {
		t.Errorf("expected ErrNilHandler, got %v", err)
	}
}

// TestRunner_AdvisoryTimeout 测试默认模式下超出预算仍等待处理函数完成
func TestRunner_AdvisoryTimeout(t *testing.T) {
	r := newTestRunner(Config{Timeout: 10 * time.Millisecond})

	result, err := r.Invoke(context.Background(), func(_ context.Context, _ *domain.InvocationEvent, lc *domain.InvocationContext) (*domain.HandlerResult, error) {
		time.Sleep(30 * time.Millisecond)
		if lc.RemainingTime() != 0 {
			t.Errorf("expected remaining time clamped to 0, got %v", lc.RemainingTime())
		}
		return &domain.HandlerResult{Body: "late"}, nil
	}, &domain.InvocationEvent{}, "slow")
	if err != nil {
		t.Fatalf("advisory mode should not fail: %v", err)
	}
	if result.Body != "late" {
		t.Errorf("unexpected body %v", result.Body)
	}
}

// TestRunner_EnforcedTimeout 测试启用超时强制时返回 ErrInvocationTimeout
func TestRunner_EnforcedTimeout(t *testing.T) {
	r := newTestRunner(Config{Timeout: 20 * time.Millisecond, EnforceTimeout: true})

	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	_, err := r.Invoke(context.Background(), func(ctx context.Context, _ *domain.InvocationEvent, _ *domain.InvocationContext) (*domain.HandlerResult, error) {
		select {
		case <-release:
		case <-time.After(time.Second):
		}
		return nil, nil
	}, &domain.InvocationEvent{}, "stuck")

	if !errors.Is(err, domain.ErrInvocationTimeout) {
		t.Fatalf("expected ErrInvocationTimeout, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("enforced timeout should return promptly")
	}
}

func TestRunner_EnforcedFastHandler(t *testing.T) {
	r := newTestRunner(Config{Timeout: time.Second, EnforceTimeout: true})
	result, err := r.Invoke(context.Background(), func(context.Context, *domain.InvocationEvent, *domain.InvocationContext) (*domain.HandlerResult, error) {
		return &domain.HandlerResult{StatusCode: 204}, nil
	}, &domain.InvocationEvent{}, "fast")
	if err != nil || result.Status() != 204 {
		t.Errorf("unexpected outcome %+v %v", result, err)
	}
}
