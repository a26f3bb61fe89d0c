package functions

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/oriys/lambdasim/internal/domain"
	"github.com/oriys/lambdasim/internal/events"
	"github.com/sirupsen/logrus"
)

// 函数名称
const (
	FuncUserRegistration = "userRegistration"
	FuncPlaceBet         = "placeBet"
	FuncProcessResult    = "processResult"
	FuncGetUserProfile   = "getUserProfile"
)

// Publisher 是函数发布领域事件所需的能力，由 events.Bus 实现。
type Publisher interface {
	Publish(ctx context.Context, stream, eventType string, payload any) (string, error)
}

// RouteRegistrar 是注册路由所需的能力，由 api.Gateway 实现。
type RouteRegistrar interface {
	RegisterRoute(path, method string, handler domain.Handler, functionName string) error
}

// Functions 持有投注示例函数的共享依赖。
type Functions struct {
	store     *Store
	publisher Publisher
	logger    *logrus.Logger

	now   func() time.Time
	newID func() string
}

// New 创建示例函数集合
func New(store *Store, publisher Publisher, logger *logrus.Logger) *Functions {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Functions{
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Route 描述一个函数的路由绑定。
type Route struct {
	Method       string
	Path         string
	FunctionName string
	Handler      domain.Handler
}

// Routes 返回全部示例函数的路由绑定
func (f *Functions) Routes() []Route {
	return []Route{
		{Method: http.MethodPost, Path: "/users", FunctionName: FuncUserRegistration, Handler: f.UserRegistration},
		{Method: http.MethodPost, Path: "/bets", FunctionName: FuncPlaceBet, Handler: f.PlaceBet},
		{Method: http.MethodPost, Path: "/games/result", FunctionName: FuncProcessResult, Handler: f.ProcessResult},
		{Method: http.MethodGet, Path: "/users/:userId", FunctionName: FuncGetUserProfile, Handler: f.GetUserProfile},
	}
}

// Register 把全部示例函数注册到路由器。
func (f *Functions) Register(r RouteRegistrar) error {
	for _, rt := range f.Routes() {
		if err := r.RegisterRoute(rt.Path, rt.Method, rt.Handler, rt.FunctionName); err != nil {
			return err
		}
	}
	return nil
}

// RegisterSchemas 为示例函数发布的事件类型登记载荷结构。
func RegisterSchemas(reg *events.SchemaRegistry) {
	reg.Register(domain.EventUserCreated, events.TypedSchema[domain.UserCreatedPayload]())
	reg.Register(domain.EventBetPlaced, events.TypedSchema[domain.BetPlacedPayload]())
	reg.Register(domain.EventBetWon, events.TypedSchema[domain.BetSettledPayload]())
	reg.Register(domain.EventBetLost, events.TypedSchema[domain.BetSettledPayload]())
	reg.Register(domain.EventGameResult, events.TypedSchema[domain.GameResultPayload]())
}

// entry 返回带调用上下文字段的日志条目
func (f *Functions) entry(lc *domain.InvocationContext) *logrus.Entry {
	return f.logger.WithFields(logrus.Fields{
		"function_name": lc.FunctionName,
		"request_id":    lc.AwsRequestID,
	})
}

// invalid 构造输入校验失败的 400 响应
func invalid(text string) *domain.HandlerResult {
	return domain.ErrorResult(domain.ErrValidation, text)
}

// notFound 构造实体不存在的 404 响应
func notFound(text string) *domain.HandlerResult {
	return domain.ErrorResult(domain.ErrNotFound, text)
}
