// Package gatewayclient 提供访问模拟器 HTTP 接口的 Go 客户端封装。
// 业务路由以原始响应返回；管理端点（路由表、事件流）封装为结构化方法。
package gatewayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oriys/lambdasim/internal/api"
	"github.com/oriys/lambdasim/internal/domain"
	"github.com/oriys/lambdasim/internal/events"
	"github.com/oriys/lambdasim/internal/telemetry"
)

// DefaultBaseURL 是模拟器的默认监听地址
const DefaultBaseURL = "http://localhost:3000"

// Client 是模拟器 HTTP 接口客户端。
type Client struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// New 创建一个新的客户端。
// baseURL 为空时默认使用 http://localhost:3000。
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   60 * time.Second,
			Transport: telemetry.HTTPClientTransport(nil),
		},
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// BaseURL 返回客户端访问的地址
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Response 是业务路由的原始响应。
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON 把响应体解析到 v
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// APIError 是模拟器返回的标准错误结构。
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	Detail     string `json:"error,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil || e.Message == "" {
		return "api error"
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Detail)
	}
	return e.Message
}

// Invoke 以原始方式调用一条业务路由，4xx/5xx 不视为错误。
//
// 参数:
//   - ctx: 请求上下文
//   - method: HTTP 方法
//   - path: 请求路径，可带查询串
//   - body: 请求体，为 nil 时不发送
//   - headers: 额外请求头，未指定 Content-Type 且有请求体时按 JSON 发送
//
// 返回:
//   - *Response: 原始响应
//   - error: 网络错误
func (c *Client) Invoke(ctx context.Context, method, path string, body []byte, headers map[string]string) (*Response, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// do 是管理端点的通用请求方法，负责：
// - 拼接 URL 与 query
// - 发起 HTTP 请求并解析 JSON 响应
// - 将 4xx/5xx 转换为 *APIError
func (c *Client) do(ctx context.Context, method, path string, query url.Values, result any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(respBody, apiErr) == nil && apiErr.Message != "" {
			return apiErr
		}
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if result == nil {
		return nil
	}
	if len(respBody) == 0 {
		return errors.New("empty response body")
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// Health 检查模拟器是否存活
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// Routes 获取已注册的路由表。
func (c *Client) Routes(ctx context.Context) ([]api.RouteInfo, error) {
	var resp struct {
		Routes []api.RouteInfo `json:"routes"`
	}
	if err := c.do(ctx, http.MethodGet, "/_sim/routes", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Routes, nil
}

// StreamsResponse 是事件流摘要查询响应。
type StreamsResponse struct {
	Streams []domain.StreamInfo `json:"streams"`
	Stats   events.Stats        `json:"stats"`
}

// Streams 获取事件流摘要与总线统计。
func (c *Client) Streams(ctx context.Context) (*StreamsResponse, error) {
	var resp StreamsResponse
	if err := c.do(ctx, http.MethodGet, "/_sim/streams", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Events 按到达顺序获取事件流最近的记录；limit <= 0 时由服务端决定条数。
func (c *Client) Events(ctx context.Context, stream string, limit int) ([]domain.Record, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Records []domain.Record `json:"records"`
	}
	if err := c.do(ctx, http.MethodGet, "/_sim/streams/"+url.PathEscape(stream)+"/events", q, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// TailURL 返回事件流实时推送的 WebSocket 地址
func (c *Client) TailURL(stream string, buffer int) string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	u += "/_sim/streams/" + url.PathEscape(stream) + "/tail"
	if buffer > 0 {
		u += "?buffer=" + strconv.Itoa(buffer)
	}
	return u
}

// Tail 订阅事件流，每收到一条新记录调用一次 fn。
// ctx 取消或连接断开时返回；fn 返回错误时停止订阅并返回该错误。
func (c *Client) Tail(ctx context.Context, stream string, buffer int, fn func(domain.Record) error) error {
	conn, resp, err := c.dialer.DialContext(ctx, c.TailURL(stream, buffer), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return &APIError{StatusCode: resp.StatusCode, Message: "Stream not found"}
		}
		return fmt.Errorf("dial tail: %w", err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-stop:
		}
	}()

	for {
		var record domain.Record
		if err := conn.ReadJSON(&record); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read tail: %w", err)
		}
		if err := fn(record); err != nil {
			return err
		}
	}
}
