package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/oriys/lambdasim/internal/domain"
	"github.com/oriys/lambdasim/internal/metrics"
	"github.com/oriys/lambdasim/internal/telemetry"
	"github.com/sirupsen/logrus"
)

// MaxPayloadBytes 是单个请求体的上限，与 Lambda 同步调用的载荷上限一致
const MaxPayloadBytes = 6 << 20

// DefaultStage 是调用事件中的部署阶段
const DefaultStage = "local"

// ErrInvalidStatusCode 表示处理函数返回了 HTTP 无法表示的状态码
var ErrInvalidStatusCode = errors.New("handler returned invalid status code")

// Invoker 是路由器所需的调用能力，由 runner.Runner 实现。
type Invoker interface {
	Invoke(ctx context.Context, handler domain.Handler, event *domain.InvocationEvent, functionName string) (*domain.HandlerResult, error)
}

// RouteInfo 描述一条已注册的路由。
type RouteInfo struct {
	Method       string `json:"method"`
	Path         string `json:"path"`
	FunctionName string `json:"functionName"`
}

// route 是路由表中的一条绑定
type route struct {
	RouteInfo
	pattern string // chi 风格模式
	handler domain.Handler
}

var (
	expressParam = regexp.MustCompile(`:([A-Za-z_][A-Za-z0-9_]*)`)
	chiParam     = regexp.MustCompile(`\{([^}:]+)(:[^}]*)?\}`)
)

// Gateway 把 HTTP 请求转换为调用事件并交给调用运行器。
// 路由表在读多写少的场景下由 RWMutex 保护；每次注册后重建一份不可变的 chi 路由树，
// 请求处理读取当前路由树，不受并发注册影响。
type Gateway struct {
	invoker Invoker
	metrics *metrics.Metrics
	logger  *logrus.Logger
	now     func() time.Time

	mu     sync.RWMutex
	routes map[string]*route

	mux atomic.Pointer[chi.Mux]
}

// NewGateway 创建请求路由器。
//
// 参数:
//   - invoker: 调用运行器
//   - m: 指标集合，可为 nil
//   - logger: 日志记录器
//
// 返回:
//   - *Gateway: 请求路由器
func NewGateway(invoker Invoker, m *metrics.Metrics, logger *logrus.Logger) *Gateway {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	g := &Gateway{
		invoker: invoker,
		metrics: m,
		logger:  logger,
		now:     time.Now,
		routes:  make(map[string]*route),
	}
	g.mux.Store(g.buildMux(nil))
	return g
}

// RegisterRoute 绑定 "方法 路径" 到处理函数。
// 路径参数既可写作 :name 也可写作 {name}。同一方法下结构相同的路径重复注册时
// 覆盖旧绑定（后注册者生效）并记录警告。
//
// 参数:
//   - path: 路由模式，必须以 / 开头
//   - method: HTTP 方法，大小写不敏感
//   - handler: 业务处理函数
//   - functionName: 函数名称，用于日志与调用上下文
//
// 返回:
//   - error: 参数不合法
func (g *Gateway) RegisterRoute(path, method string, handler domain.Handler, functionName string) error {
	if handler == nil {
		return fmt.Errorf("%s %s: %w", method, path, domain.ErrNilHandler)
	}
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("%w: route path %q must start with /", domain.ErrValidation, path)
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		return fmt.Errorf("%w: route method is required", domain.ErrValidation)
	}
	if functionName == "" {
		functionName = method + " " + path
	}

	pattern := expressParam.ReplaceAllString(path, "{$1}")
	key := method + " " + chiParam.ReplaceAllString(pattern, "{}")
	rt := &route{
		RouteInfo: RouteInfo{Method: method, Path: path, FunctionName: functionName},
		pattern:   pattern,
		handler:   handler,
	}

	g.mu.Lock()
	prev, replaced := g.routes[key]
	g.routes[key] = rt
	mux, err := g.rebuildLocked()
	if err != nil {
		if replaced {
			g.routes[key] = prev
		} else {
			delete(g.routes, key)
		}
		g.mu.Unlock()
		return err
	}
	g.mux.Store(mux)
	g.mu.Unlock()

	entry := g.logger.WithFields(logrus.Fields{
		"method":        method,
		"path":          path,
		"function_name": functionName,
	})
	if replaced {
		entry.WithField("previous_function", prev.FunctionName).Warn("Route re-registered, previous binding replaced")
	} else {
		entry.Info("Route registered")
	}
	return nil
}

// rebuildLocked 根据当前路由表构建新的路由树，调用方需持有写锁。
func (g *Gateway) rebuildLocked() (mux *chi.Mux, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: invalid route pattern: %v", domain.ErrValidation, r)
		}
	}()
	list := make([]*route, 0, len(g.routes))
	for _, rt := range g.routes {
		list = append(list, rt)
	}
	return g.buildMux(list), nil
}

func (g *Gateway) buildMux(list []*route) *chi.Mux {
	mux := chi.NewRouter()
	mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Route not found", nil)
	})
	mux.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
	})
	for _, rt := range list {
		mux.MethodFunc(rt.Method, rt.pattern, g.dispatch(rt))
	}
	return mux
}

// Routes 返回按路径、方法排序的路由表
func (g *Gateway) Routes() []RouteInfo {
	g.mu.RLock()
	out := make([]RouteInfo, 0, len(g.routes))
	for _, rt := range g.routes {
		out = append(out, rt.RouteInfo)
	}
	g.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Method < out[j].Method
	})
	return out
}

// ServeHTTP 在当前路由树上分发请求。
// 作为外层路由器的兜底处理器时，丢弃外层的路由上下文，由内层路由树重新匹配。
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if chi.RouteContext(r.Context()) != nil {
		r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, nil))
	}
	g.mux.Load().ServeHTTP(w, r)
}

// dispatch 返回处理单条路由的 HTTP 处理器。
func (g *Gateway) dispatch(rt *route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := g.now()
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = fmt.Sprintf("req-%d", now.UnixMilli())
		}

		entry := telemetry.EntryWithTraceContext(r.Context(), g.logger.WithFields(logrus.Fields{
			"method":        r.Method,
			"path":          r.URL.Path,
			"function_name": rt.FunctionName,
			"request_id":    requestID,
			"source_ip":     clientIP(r.RemoteAddr),
		}))
		entry.Info("Request received")

		event, err := g.buildEvent(r, rt, requestID, now)
		if err != nil {
			status := http.StatusBadRequest
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				status = http.StatusRequestEntityTooLarge
				writeError(w, status, "Request body too large", err)
			} else {
				writeError(w, status, "Invalid JSON body", err)
			}
			entry.WithError(err).WithField("status", status).Warn("Request rejected")
			g.metrics.RecordRequest(rt.Method, rt.Path, status)
			return
		}

		result, err := g.invoker.Invoke(r.Context(), rt.handler, event, rt.FunctionName)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, domain.ErrInvocationTimeout) {
				status = http.StatusGatewayTimeout
			}
			entry.WithError(err).Error("Error executing Lambda function")
			writeError(w, status, "Error executing Lambda function", err)
			g.metrics.RecordRequest(rt.Method, rt.Path, status)
			return
		}

		status := g.writeResult(w, result, entry)
		g.metrics.RecordRequest(rt.Method, rt.Path, status)
	}
}

// buildEvent 把 HTTP 请求映射为调用事件。
func (g *Gateway) buildEvent(r *http.Request, rt *route, requestID string, now time.Time) (*domain.InvocationEvent, error) {
	body, isBase64, err := readBody(r)
	if err != nil {
		return nil, err
	}

	headers := make(map[string]string, len(r.Header))
	multiHeaders := make(map[string][]string, len(r.Header))
	for name, values := range r.Header {
		key := strings.ToLower(name)
		headers[key] = strings.Join(values, ", ")
		multiHeaders[key] = append([]string(nil), values...)
	}
	if r.Host != "" {
		headers["host"] = r.Host
		multiHeaders["host"] = []string{r.Host}
	}

	query := r.URL.Query()
	params := make(map[string]string, len(query))
	multiParams := make(map[string][]string, len(query))
	for name, values := range query {
		if len(values) > 0 {
			params[name] = values[0]
		}
		multiParams[name] = append([]string(nil), values...)
	}

	pathParams := make(map[string]string)
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		for i, key := range rctx.URLParams.Keys {
			if key == "*" {
				continue
			}
			// RawPath 存在时 chi 按编码形式匹配，参数值需解码
			value := rctx.URLParams.Values[i]
			if decoded, err := url.PathUnescape(value); err == nil {
				value = decoded
			}
			pathParams[key] = value
		}
	}

	return &domain.InvocationEvent{
		Path:                            r.URL.Path,
		HTTPMethod:                      r.Method,
		Headers:                         headers,
		MultiValueHeaders:               multiHeaders,
		QueryStringParameters:           params,
		MultiValueQueryStringParameters: multiParams,
		Body:                            body,
		IsBase64Encoded:                 isBase64,
		Resource:                        rt.Path,
		PathParameters:                  pathParams,
		RequestContext: domain.RequestContext{
			RequestID:   requestID,
			RequestTime: now.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			Stage:       DefaultStage,
			Identity: domain.Identity{
				SourceIP:  clientIP(r.RemoteAddr),
				UserAgent: r.UserAgent(),
			},
		},
	}, nil
}

// readBody 读取请求体并返回其文本形式。
// 未提供请求体时返回 nil；JSON 类型的请求体需合法并被压缩；非 UTF-8 内容以 base64 编码。
func readBody(r *http.Request) (*string, bool, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, false, nil
	}
	data, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, MaxPayloadBytes))
	if err != nil {
		return nil, false, err
	}
	if len(data) == 0 {
		return nil, false, nil
	}

	if isJSONContent(r.Header.Get("Content-Type")) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, data); err != nil {
			return nil, false, err
		}
		s := buf.String()
		return &s, false, nil
	}

	if !utf8.Valid(data) {
		s := base64.StdEncoding.EncodeToString(data)
		return &s, true, nil
	}
	s := string(data)
	return &s, false, nil
}

// isJSONContent 判断内容类型是否为 JSON（包括 +json 后缀）
func isJSONContent(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// clientIP 从 RemoteAddr 中去掉端口
func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// writeResult 把处理结果写为 HTTP 响应，返回实际状态码。
func (g *Gateway) writeResult(w http.ResponseWriter, result *domain.HandlerResult, entry *logrus.Entry) int {
	body, hasBody, err := result.BodyBytes()
	if err != nil {
		entry.WithError(err).Error("Error executing Lambda function")
		writeError(w, http.StatusInternalServerError, "Error executing Lambda function", err)
		return http.StatusInternalServerError
	}

	status := result.Status()
	if status < 100 || status > 599 {
		err := fmt.Errorf("%w: %d", ErrInvalidStatusCode, status)
		entry.WithError(err).Error("Error executing Lambda function")
		writeError(w, http.StatusInternalServerError, "Error executing Lambda function", err)
		return http.StatusInternalServerError
	}

	for name, value := range result.Headers {
		w.Header().Set(name, value)
	}
	if hasBody && w.Header().Get("Content-Type") == "" {
		switch result.Body.(type) {
		case string, []byte:
		default:
			w.Header().Set("Content-Type", "application/json")
		}
	}

	w.WriteHeader(status)
	if hasBody {
		if _, err := w.Write(body); err != nil {
			entry.WithError(err).Warn("Failed to write response body")
		}
	}
	return status
}
