// Package domain 定义了本地 Lambda 模拟器的核心领域模型。
package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// 调用上下文的固定取值
const (
	// DefaultFunctionVersion 是模拟函数的版本号
	DefaultFunctionVersion = "1.0.0"
	// DefaultMemoryLimitMB 是模拟函数的内存上限（MB）
	DefaultMemoryLimitMB = 128
	// DefaultTimeBudget 是单次调用的总时间预算
	DefaultTimeBudget = 30 * time.Second
	// DefaultStatusCode 是处理函数未声明状态码时的响应码
	DefaultStatusCode = 200
)

// Identity 描述请求来源。
type Identity struct {
	// SourceIP 是传输层报告的客户端地址
	SourceIP string `json:"sourceIp"`
	// UserAgent 是请求的 User-Agent 头
	UserAgent string `json:"userAgent,omitempty"`
}

// RequestContext 是调用事件中的请求上下文部分。
type RequestContext struct {
	// RequestID 取自 X-Request-Id 请求头，缺失时为 req-<毫秒时间戳>
	RequestID string `json:"requestId"`
	// RequestTime 是请求到达时间（ISO-8601）
	RequestTime string `json:"requestTime"`
	// Stage 是模拟的部署阶段
	Stage string `json:"stage,omitempty"`
	// Identity 是请求来源信息
	Identity Identity `json:"identity"`
}

// InvocationEvent 表示一次请求转换得到的调用事件。
// 字段命名与 Lambda 代理集成事件保持一致，每个请求只构造一次，构造后不再修改。
type InvocationEvent struct {
	// Path 是请求路径
	Path string `json:"path"`
	// HTTPMethod 是请求方法
	HTTPMethod string `json:"httpMethod"`
	// Headers 是请求头（小写键，多值以 ", " 连接）
	Headers map[string]string `json:"headers"`
	// MultiValueHeaders 保留全部请求头取值
	MultiValueHeaders map[string][]string `json:"multiValueHeaders,omitempty"`
	// QueryStringParameters 是查询参数（每个键取第一个值）
	QueryStringParameters map[string]string `json:"queryStringParameters"`
	// MultiValueQueryStringParameters 保留全部查询参数取值
	MultiValueQueryStringParameters map[string][]string `json:"multiValueQueryStringParameters,omitempty"`
	// Body 是请求载荷的文本形式，未提供载荷时为 nil
	Body *string `json:"body"`
	// IsBase64Encoded 表示 Body 是否为 base64 编码的二进制内容
	IsBase64Encoded bool `json:"isBase64Encoded"`
	// Resource 是匹配到的路由模式
	Resource string `json:"resource,omitempty"`
	// PathParameters 是路由模式匹配出的路径参数
	PathParameters map[string]string `json:"pathParameters"`
	// RequestContext 是请求上下文
	RequestContext RequestContext `json:"requestContext"`
}

// BodyString 返回请求体文本，未提供请求体时返回空字符串。
func (e *InvocationEvent) BodyString() string {
	if e == nil || e.Body == nil {
		return ""
	}
	return *e.Body
}

// DecodeBody 将 JSON 请求体解析到 v。
// 未提供请求体时 v 保持零值，返回 nil。
func (e *InvocationEvent) DecodeBody(v any) error {
	body := e.BodyString()
	if body == "" {
		return nil
	}
	if e.IsBase64Encoded {
		return fmt.Errorf("%w: body is base64 encoded", ErrValidation)
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", ErrValidation, err)
	}
	return nil
}

// PathParameter 返回指定路径参数，不存在时返回空字符串。
func (e *InvocationEvent) PathParameter(name string) string {
	if e == nil || e.PathParameters == nil {
		return ""
	}
	return e.PathParameters[name]
}

// InvocationContext 是为每次调用合成的执行上下文。
// 构造后只读；剩余时间仅作参考，由调用运行器决定是否强制执行。
type InvocationContext struct {
	// FunctionName 是函数名称
	FunctionName string `json:"functionName"`
	// FunctionVersion 是函数版本
	FunctionVersion string `json:"functionVersion"`
	// InvokedFunctionArn 是合成的资源标识符
	InvokedFunctionArn string `json:"invokedFunctionArn"`
	// MemoryLimitInMB 是内存上限
	MemoryLimitInMB int `json:"memoryLimitInMB"`
	// AwsRequestID 是本次调用的唯一请求 ID
	AwsRequestID string `json:"awsRequestId"`
	// LogGroupName 是日志组名
	LogGroupName string `json:"logGroupName"`
	// LogStreamName 是日志流名
	LogStreamName string `json:"logStreamName"`
	// StartedAt 是调用开始时间
	StartedAt time.Time `json:"startedAt"`
	// Budget 是本次调用的总时间预算
	Budget time.Duration `json:"budget"`

	now func() time.Time
}

// InvocationContextSpec 是构造 InvocationContext 所需的参数。
type InvocationContextSpec struct {
	FunctionName string
	RequestID    string
	Region       string
	AccountID    string
	MemoryMB     int
	Budget       time.Duration
	StartedAt    time.Time
	// Now 为空时使用 time.Now，测试中用于注入时钟
	Now func() time.Time
}

// NewInvocationContext 根据参数合成调用上下文。
//
// 参数:
//   - spec: 函数名、请求 ID、区域、账号、内存、时间预算与开始时间
//
// 返回:
//   - *InvocationContext: 只读的调用上下文
func NewInvocationContext(spec InvocationContextSpec) *InvocationContext {
	now := spec.Now
	if now == nil {
		now = time.Now
	}
	started := spec.StartedAt
	if started.IsZero() {
		started = now()
	}
	memory := spec.MemoryMB
	if memory <= 0 {
		memory = DefaultMemoryLimitMB
	}
	budget := spec.Budget
	if budget <= 0 {
		budget = DefaultTimeBudget
	}
	region := spec.Region
	if region == "" {
		region = "local"
	}

	return &InvocationContext{
		FunctionName:       spec.FunctionName,
		FunctionVersion:    DefaultFunctionVersion,
		InvokedFunctionArn: fmt.Sprintf("arn:aws:lambda:%s:%s:function:%s", region, spec.AccountID, spec.FunctionName),
		MemoryLimitInMB:    memory,
		AwsRequestID:       spec.RequestID,
		LogGroupName:       "/aws/lambda/" + spec.FunctionName,
		LogStreamName:      fmt.Sprintf("%s/[$LATEST]%s", started.Format("2006/01/02"), spec.RequestID),
		StartedAt:          started,
		Budget:             budget,
		now:                now,
	}
}

// Deadline 返回时间预算耗尽的时刻。
func (c *InvocationContext) Deadline() time.Time {
	return c.StartedAt.Add(c.Budget)
}

// RemainingTime 返回 max(0, 总预算 - 已用墙钟时间)。
func (c *InvocationContext) RemainingTime() time.Duration {
	now := c.now
	if now == nil {
		now = time.Now
	}
	remaining := c.Budget - now().Sub(c.StartedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RemainingTimeInMillis 以毫秒返回剩余时间。
func (c *InvocationContext) RemainingTimeInMillis() int64 {
	return c.RemainingTime().Milliseconds()
}

// HandlerResult 是处理函数返回的结果。
type HandlerResult struct {
	// StatusCode 为 0 表示未声明，路由器按 200 处理
	StatusCode int `json:"statusCode,omitempty"`
	// Headers 原样复制到响应
	Headers map[string]string `json:"headers,omitempty"`
	// Body 为 string 或 []byte 时原样输出，其它值序列化为 JSON 文本
	Body any `json:"body,omitempty"`
}

// Status 返回生效的状态码。
func (r *HandlerResult) Status() int {
	if r == nil || r.StatusCode == 0 {
		return DefaultStatusCode
	}
	return r.StatusCode
}

// BodyBytes 返回响应体的文本形式。
// 第二个返回值表示是否存在响应体。
func (r *HandlerResult) BodyBytes() ([]byte, bool, error) {
	if r == nil || r.Body == nil {
		return nil, false, nil
	}
	switch b := r.Body.(type) {
	case string:
		return []byte(b), b != "", nil
	case []byte:
		return b, len(b) > 0, nil
	case json.RawMessage:
		return b, len(b) > 0, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, false, fmt.Errorf("serialize handler body: %w", err)
		}
		return data, true, nil
	}
}

// JSONResult 构造一个 JSON 响应结果。
func JSONResult(status int, body any) *HandlerResult {
	return &HandlerResult{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

// ErrorBody 是所有错误响应的统一结构。
type ErrorBody struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// ErrorResult 根据错误分类构造错误响应，状态码由 StatusForError 决定。
func ErrorResult(err error, message string) *HandlerResult {
	return JSONResult(StatusForError(err), ErrorBody{Message: message})
}

// Handler 是业务函数的调用契约。
// 处理函数只能依赖 InvocationEvent 字段，不能依赖传输层细节；
// 返回 error 或发生 panic 都视为故障，由调用运行器记录后向上抛出。
type Handler func(ctx context.Context, event *InvocationEvent, lc *InvocationContext) (*HandlerResult, error)
