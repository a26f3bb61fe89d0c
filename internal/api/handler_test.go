package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oriys/lambdasim/internal/domain"
	"github.com/oriys/lambdasim/internal/events"
	"github.com/oriys/lambdasim/internal/functions"
	"github.com/oriys/lambdasim/internal/metrics"
	"github.com/oriys/lambdasim/internal/runner"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

// testEnv 组装一套完整的模拟器：运行器、事件总线、路由器与管理端点。
type testEnv struct {
	gateway *Gateway
	bus     *events.Bus
	router  http.Handler
}

func newTestEnv(t *testing.T, cfg runner.Config) *testEnv {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	m := metrics.NewMetrics("test", prometheus.NewRegistry())
	bus := events.NewBus(events.Options{Metrics: m}, logger)
	for _, name := range []string{domain.StreamUserEvents, domain.StreamBetEvents, domain.StreamGameEvents} {
		if err := bus.CreateStream(name); err != nil {
			t.Fatalf("CreateStream failed: %v", err)
		}
	}
	functions.RegisterSchemas(bus.Schemas())

	gw := NewGateway(runner.New(cfg, m, logger), m, logger)
	router := NewRouter(&RouterConfig{
		Gateway:     gw,
		Handler:     NewHandler(gw, bus, logger),
		Metrics:     m,
		ServiceName: "lambdasim-test",
		Logger:      logger,
	})
	return &testEnv{gateway: gw, bus: bus, router: router}
}

// do 发送请求并返回响应记录
func (e *testEnv) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %v: %s", err, rec.Body.String())
	}
	return out
}

// echoHandler 把收到的调用事件原样返回
func echoHandler(_ context.Context, event *domain.InvocationEvent, _ *domain.InvocationContext) (*domain.HandlerResult, error) {
	return domain.JSONResult(http.StatusOK, event), nil
}

func TestGateway_RouteNotFound(t *testing.T) {
	env := newTestEnv(t, runner.Config{})

	rec := env.do(http.MethodGet, "/nowhere", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if resp := decode(t, rec); resp["message"] != "Route not found" {
		t.Errorf("unexpected body %v", resp)
	}
}

func TestGateway_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, runner.Config{})
	env.gateway.RegisterRoute("/items", "POST", echoHandler, "createItem")

	rec := env.do(http.MethodGet, "/items", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

// TestGateway_ReRegistration 测试同一方法与路径结构重复注册时后注册者生效
func TestGateway_ReRegistration(t *testing.T) {
	env := newTestEnv(t, runner.Config{})

	first := func(context.Context, *domain.InvocationEvent, *domain.InvocationContext) (*domain.HandlerResult, error) {
		return domain.JSONResult(200, map[string]string{"handler": "first"}), nil
	}
	second := func(context.Context, *domain.InvocationEvent, *domain.InvocationContext) (*domain.HandlerResult, error) {
		return domain.JSONResult(200, map[string]string{"handler": "second"}), nil
	}
	if err := env.gateway.RegisterRoute("/things/:id", "get", first, "first"); err != nil {
		t.Fatal(err)
	}
	if err := env.gateway.RegisterRoute("/things/{thingId}", "GET", second, "second"); err != nil {
		t.Fatal(err)
	}

	if routes := env.gateway.Routes(); len(routes) != 1 || routes[0].FunctionName != "second" {
		t.Fatalf("expected single route bound to second, got %+v", routes)
	}
	if resp := decode(t, env.do(http.MethodGet, "/things/42", "", nil)); resp["handler"] != "second" {
		t.Errorf("expected second handler, got %v", resp)
	}
}

func TestGateway_RegisterRouteValidation(t *testing.T) {
	env := newTestEnv(t, runner.Config{})

	if err := env.gateway.RegisterRoute("/x", "GET", nil, "x"); !errors.Is(err, domain.ErrNilHandler) {
		t.Errorf("expected ErrNilHandler, got %v", err)
	}
	if err := env.gateway.RegisterRoute("x", "GET", echoHandler, "x"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for relative path, got %v", err)
	}
	if err := env.gateway.RegisterRoute("/x", " ", echoHandler, "x"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for empty method, got %v", err)
	}
	if len(env.gateway.Routes()) != 0 {
		t.Error("rejected registrations must not be stored")
	}
}

// TestGateway_EventMapping 测试路径参数、查询参数、请求头与请求体的映射
func TestGateway_EventMapping(t *testing.T) {
	env := newTestEnv(t, runner.Config{})
	env.gateway.RegisterRoute("/users/:userId/orders/:orderId", "POST", echoHandler, "echo")

	rec := env.do(http.MethodPost, "/users/u1/orders/o9?verbose=true&tag=a&tag=b",
		"{ \"a\" : 1 }",
		map[string]string{"Content-Type": "application/json", "X-Request-Id": "abc-123", "X-Custom": "v"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var event domain.InvocationEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &event); err != nil {
		t.Fatal(err)
	}
	if event.PathParameters["userId"] != "u1" || event.PathParameters["orderId"] != "o9" {
		t.Errorf("unexpected path parameters %v", event.PathParameters)
	}
	if event.QueryStringParameters["verbose"] != "true" || len(event.MultiValueQueryStringParameters["tag"]) != 2 {
		t.Errorf("unexpected query parameters %v", event.MultiValueQueryStringParameters)
	}
	if event.Headers["x-custom"] != "v" {
		t.Errorf("expected lower-cased header names, got %v", event.Headers)
	}
	if event.Body == nil || *event.Body != `{"a":1}` {
		t.Errorf("expected compacted JSON body, got %v", event.Body)
	}
	if event.RequestContext.RequestID != "abc-123" || event.RequestContext.Stage != DefaultStage {
		t.Errorf("unexpected request context %+v", event.RequestContext)
	}
	if event.Resource != "/users/:userId/orders/:orderId" || event.HTTPMethod != http.MethodPost {
		t.Errorf("unexpected resource %q / method %q", event.Resource, event.HTTPMethod)
	}
}

func TestGateway_RequestIDFallback(t *testing.T) {
	env := newTestEnv(t, runner.Config{})
	env.gateway.now = func() time.Time { return time.UnixMilli(1700000000123) }
	env.gateway.RegisterRoute("/echo", "GET", echoHandler, "echo")

	var event domain.InvocationEvent
	json.Unmarshal(env.do(http.MethodGet, "/echo", "", nil).Body.Bytes(), &event)
	if event.RequestContext.RequestID != "req-1700000000123" {
		t.Errorf("unexpected request id %q", event.RequestContext.RequestID)
	}
	if event.Body != nil {
		t.Errorf("expected nil body, got %q", *event.Body)
	}
}

func TestGateway_EncodedPathParameter(t *testing.T) {
	env := newTestEnv(t, runner.Config{})
	env.gateway.RegisterRoute("/users/:userId", "GET", echoHandler, "echo")

	rec := env.do(http.MethodGet, "/users/a%2Fb", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var event domain.InvocationEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &event); err != nil {
		t.Fatal(err)
	}
	if event.PathParameters["userId"] != "a/b" {
		t.Errorf("expected decoded path parameter, got %q", event.PathParameters["userId"])
	}
}

// TestGateway_SourceIP 测试 sourceIp 取自连接地址而非客户端提供的转发头
func TestGateway_SourceIP(t *testing.T) {
	env := newTestEnv(t, runner.Config{})
	env.gateway.RegisterRoute("/echo", "GET", echoHandler, "echo")

	req := httptest.NewRequest(http.MethodGet, "/echo", nil)
	req.RemoteAddr = "192.0.2.7:51000"
	req.Header.Set("X-Forwarded-For", "10.9.9.9")
	req.Header.Set("X-Real-IP", "10.8.8.8")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	var event domain.InvocationEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &event); err != nil {
		t.Fatal(err)
	}
	if event.RequestContext.Identity.SourceIP != "192.0.2.7" {
		t.Errorf("expected socket address, got %q", event.RequestContext.Identity.SourceIP)
	}
}

// TestGateway_RejectedRequestLogged 测试被拒绝的请求同样输出访问日志
func TestGateway_RejectedRequestLogged(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	gw := NewGateway(runner.New(runner.Config{}, nil, logger), nil, logger)
	gw.RegisterRoute("/users", "POST", echoHandler, "register")

	req := httptest.NewRequest(http.MethodPost, "/users", strings.NewReader(`{"username":`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", "bad-1")
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var received bool
	for _, e := range hook.AllEntries() {
		if e.Message == "Request received" && e.Data["request_id"] == "bad-1" && e.Data["function_name"] == "register" {
			received = true
		}
	}
	if !received {
		t.Error("expected access log line for rejected request")
	}
}

func TestGateway_BinaryBody(t *testing.T) {
	env := newTestEnv(t, runner.Config{})
	env.gateway.RegisterRoute("/upload", "PUT", echoHandler, "upload")

	raw := []byte{0xff, 0xfe, 0x00, 0x01}
	req := httptest.NewRequest(http.MethodPut, "/upload", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/octet-stream")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	var event domain.InvocationEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &event); err != nil {
		t.Fatal(err)
	}
	if !event.IsBase64Encoded || event.Body == nil || *event.Body != base64.StdEncoding.EncodeToString(raw) {
		t.Errorf("expected base64 body, got %+v", event.Body)
	}
}

func TestGateway_InvalidJSON(t *testing.T) {
	env := newTestEnv(t, runner.Config{})
	called := false
	env.gateway.RegisterRoute("/users", "POST", func(context.Context, *domain.InvocationEvent, *domain.InvocationContext) (*domain.HandlerResult, error) {
		called = true
		return nil, nil
	}, "register")

	rec := env.do(http.MethodPost, "/users", `{"username":`, map[string]string{"Content-Type": "application/json"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if resp := decode(t, rec); resp["message"] != "Invalid JSON body" {
		t.Errorf("unexpected body %v", resp)
	}
	if called {
		t.Error("handler must not run for invalid JSON")
	}
}

func TestGateway_PayloadTooLarge(t *testing.T) {
	env := newTestEnv(t, runner.Config{})
	env.gateway.RegisterRoute("/blob", "POST", echoHandler, "blob")

	rec := env.do(http.MethodPost, "/blob", strings.Repeat("a", MaxPayloadBytes+1), nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
}

// TestGateway_HandlerFault 测试处理函数返回错误、panic 与超时时的响应
func TestGateway_HandlerFault(t *testing.T) {
	tests := []struct {
		name    string
		cfg     runner.Config
		handler domain.Handler
		status  int
		errText string
	}{
		{
			name: "error",
			handler: func(context.Context, *domain.InvocationEvent, *domain.InvocationContext) (*domain.HandlerResult, error) {
				return nil, errors.New("database unreachable")
			},
			status:  http.StatusInternalServerError,
			errText: "database unreachable",
		},
		{
			name: "panic",
			handler: func(context.Context, *domain.InvocationEvent, *domain.InvocationContext) (*domain.HandlerResult, error) {
				panic("nil map")
			},
			status:  http.StatusInternalServerError,
			errText: "nil map",
		},
		{
			name: "timeout",
			cfg:  runner.Config{Timeout: 20 * time.Millisecond, EnforceTimeout: true},
			handler: func(ctx context.Context, _ *domain.InvocationEvent, _ *domain.InvocationContext) (*domain.HandlerResult, error) {
				select {
				case <-ctx.Done():
				case <-time.After(2 * time.Second):
				}
				return domain.JSONResult(200, nil), nil
			},
			status: http.StatusGatewayTimeout,
		},
		{
			name: "invalid status code",
			handler: func(context.Context, *domain.InvocationEvent, *domain.InvocationContext) (*domain.HandlerResult, error) {
				return domain.JSONResult(42, map[string]string{"ok": "yes"}), nil
			},
			status:  http.StatusInternalServerError,
			errText: "invalid status code: 42",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.cfg)
			env.gateway.RegisterRoute("/fault", "GET", tt.handler, "fault")

			rec := env.do(http.MethodGet, "/fault", "", nil)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
			resp := decode(t, rec)
			if resp["message"] != "Error executing Lambda function" {
				t.Errorf("unexpected message %v", resp["message"])
			}
			if errText, _ := resp["error"].(string); !strings.Contains(errText, tt.errText) {
				t.Errorf("expected error to contain %q, got %q", tt.errText, errText)
			}
		})
	}
}

func TestGateway_ResultHeadersAndTextBody(t *testing.T) {
	env := newTestEnv(t, runner.Config{})
	env.gateway.RegisterRoute("/text", "GET", func(context.Context, *domain.InvocationEvent, *domain.InvocationContext) (*domain.HandlerResult, error) {
		return &domain.HandlerResult{
			StatusCode: http.StatusAccepted,
			Headers:    map[string]string{"Content-Type": "text/plain", "X-Trace": "t1"},
			Body:       "queued",
		}, nil
	}, "text")

	rec := env.do(http.MethodGet, "/text", "", nil)
	if rec.Code != http.StatusAccepted || rec.Body.String() != "queued" {
		t.Errorf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Trace") != "t1" {
		t.Errorf("expected handler header to be copied")
	}
}

func TestHandler_Health(t *testing.T) {
	env := newTestEnv(t, runner.Config{})

	if rec := env.do(http.MethodGet, "/health", "", nil); rec.Code != http.StatusOK || decode(t, rec)["status"] != "healthy" {
		t.Errorf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}
	if rec := env.do(http.MethodGet, "/health/live", "", nil); rec.Code != http.StatusOK {
		t.Errorf("expected live 200, got %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/health/ready", "", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected ready 503 without routes, got %d", rec.Code)
	}
	env.gateway.RegisterRoute("/echo", "GET", echoHandler, "echo")
	if rec := env.do(http.MethodGet, "/health/ready", "", nil); rec.Code != http.StatusOK {
		t.Errorf("expected ready 200, got %d", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/health", "", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for POST /health, got %d", rec.Code)
	}
}

func TestHandler_ListRoutes(t *testing.T) {
	env := newTestEnv(t, runner.Config{})
	env.gateway.RegisterRoute("/b", "POST", echoHandler, "b")
	env.gateway.RegisterRoute("/a", "GET", echoHandler, "a")

	var resp struct {
		Routes []RouteInfo `json:"routes"`
	}
	json.Unmarshal(env.do(http.MethodGet, "/_sim/routes", "", nil).Body.Bytes(), &resp)
	if len(resp.Routes) != 2 || resp.Routes[0].Path != "/a" || resp.Routes[1].FunctionName != "b" {
		t.Errorf("unexpected routes %+v", resp.Routes)
	}
}

func TestHandler_ListEvents(t *testing.T) {
	env := newTestEnv(t, runner.Config{})
	ctx := context.Background()
	for i := 0; i < 15; i++ {
		env.bus.Publish(ctx, "audit", "TICK", map[string]int{"n": i})
	}

	var resp struct {
		Stream  string          `json:"stream"`
		Records []domain.Record `json:"records"`
	}
	json.Unmarshal(env.do(http.MethodGet, "/_sim/streams/audit/events", "", nil).Body.Bytes(), &resp)
	if len(resp.Records) != events.DefaultReadLimit {
		t.Errorf("expected default limit %d, got %d", events.DefaultReadLimit, len(resp.Records))
	}

	json.Unmarshal(env.do(http.MethodGet, "/_sim/streams/audit/events?limit=3", "", nil).Body.Bytes(), &resp)
	if len(resp.Records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(resp.Records))
	}
	// 最近的记录按到达顺序排列
	if first, last := resp.Records[0].Data.(map[string]any), resp.Records[2].Data.(map[string]any); first["n"] != 12.0 || last["n"] != 14.0 {
		t.Errorf("expected records 12..14 in arrival order, got %v .. %v", first, last)
	}

	if rec := env.do(http.MethodGet, "/_sim/streams/audit/events?limit=x", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/_sim/streams/missing/events", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown stream, got %d", rec.Code)
	}
}

func TestHandler_ListStreams(t *testing.T) {
	env := newTestEnv(t, runner.Config{})
	env.bus.Publish(context.Background(), domain.StreamGameEvents, "PING", nil)

	var resp struct {
		Streams []domain.StreamInfo `json:"streams"`
		Stats   events.Stats        `json:"stats"`
	}
	json.Unmarshal(env.do(http.MethodGet, "/_sim/streams", "", nil).Body.Bytes(), &resp)
	if len(resp.Streams) != 3 {
		t.Fatalf("expected 3 streams, got %+v", resp.Streams)
	}
	if resp.Stats.Published != 1 {
		t.Errorf("expected 1 published, got %+v", resp.Stats)
	}
}

// TestHandler_TailStream 测试通过 WebSocket 接收新发布的记录
func TestHandler_TailStream(t *testing.T) {
	env := newTestEnv(t, runner.Config{})
	server := httptest.NewServer(env.router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/_sim/streams/" + domain.StreamGameEvents + "/tail"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if _, err := env.bus.Publish(context.Background(), domain.StreamGameEvents, "PING", map[string]string{"k": "v"}); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var record domain.Record
	if err := conn.ReadJSON(&record); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if record.EventType != "PING" || record.EventSource != domain.StreamGameEvents {
		t.Errorf("unexpected record %+v", record)
	}

	resp, err := http.Get(server.URL + "/_sim/streams/missing/tail")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown stream, got %d", resp.StatusCode)
	}
}

// TestBettingFlow 测试示例函数经由路由器的端到端流程
func TestBettingFlow(t *testing.T) {
	env := newTestEnv(t, runner.Config{})
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	if err := functions.New(functions.NewStore(), env.bus, logger).Register(env.gateway); err != nil {
		t.Fatal(err)
	}
	jsonHeader := map[string]string{"Content-Type": "application/json"}

	rec := env.do(http.MethodPost, "/users", `{"username":"alice","email":"alice@example.com"}`, jsonHeader)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	userID := decode(t, rec)["user"].(map[string]any)["userId"].(string)

	rec = env.do(http.MethodGet, "/users/"+userID, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("profile: expected 200, got %d", rec.Code)
	}
	profile := decode(t, rec)
	if profile["balance"] != 1000.0 {
		t.Errorf("expected balance 1000, got %v", profile["balance"])
	}
	stats := profile["bettingStats"].(map[string]any)
	if stats["totalBets"] != 0.0 || stats["winRate"] != "0.00%" {
		t.Errorf("unexpected stats %v", stats)
	}

	rec = env.do(http.MethodPost, "/bets", `{"userId":"`+userID+`","gameId":"g1","amount":100,"odds":2}`, jsonHeader)
	if rec.Code != http.StatusCreated || decode(t, rec)["currentBalance"] != 900.0 {
		t.Fatalf("bet: unexpected response %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(http.MethodPost, "/bets", `{"userId":"ghost","gameId":"g1","amount":1,"odds":2}`, jsonHeader)
	if rec.Code != http.StatusNotFound || decode(t, rec)["message"] != "User not found" {
		t.Errorf("expected 404 User not found, got %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(http.MethodPost, "/games/result", `{"gameId":"g1","result":"WIN"}`, jsonHeader)
	if rec.Code != http.StatusOK {
		t.Fatalf("result: expected 200, got %d", rec.Code)
	}

	profile = decode(t, env.do(http.MethodGet, "/users/"+userID, "", nil))
	if profile["balance"] != 1100.0 {
		t.Errorf("expected balance 1100, got %v", profile["balance"])
	}
	if profile["bettingStats"].(map[string]any)["winRate"] != "100.00%" {
		t.Errorf("unexpected stats %v", profile["bettingStats"])
	}

	records := env.bus.ReadRecent(domain.StreamBetEvents, 10)
	if len(records) != 2 || records[0].EventType != domain.EventBetPlaced || records[1].EventType != domain.EventBetWon {
		t.Errorf("unexpected bet-events %+v", records)
	}
	if got := len(env.bus.ReadRecent(domain.StreamUserEvents, 10)); got != 1 {
		t.Errorf("expected 1 user event, got %d", got)
	}
}

// TestBettingFlow_ClosedBus 测试总线关闭时注册返回 500，且重试不会因残留数据变成 409
func TestBettingFlow_ClosedBus(t *testing.T) {
	env := newTestEnv(t, runner.Config{})
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	if err := functions.New(functions.NewStore(), env.bus, logger).Register(env.gateway); err != nil {
		t.Fatal(err)
	}
	env.bus.Close()
	jsonHeader := map[string]string{"Content-Type": "application/json"}

	for i := 0; i < 2; i++ {
		rec := env.do(http.MethodPost, "/users", `{"username":"alice","email":"alice@example.com"}`, jsonHeader)
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("attempt %d: expected 500, got %d: %s", i+1, rec.Code, rec.Body.String())
		}
		resp := decode(t, rec)
		if errText, _ := resp["error"].(string); !strings.Contains(errText, domain.ErrBusClosed.Error()) {
			t.Errorf("attempt %d: unexpected error %v", i+1, resp)
		}
	}
}
