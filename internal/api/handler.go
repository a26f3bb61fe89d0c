// Package api 提供模拟器的 HTTP 入口。
// Gateway 把业务请求转换为调用事件并交给调用运行器；Handler 提供健康检查、
// 路由表与事件流查询等管理端点。
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/oriys/lambdasim/internal/domain"
	"github.com/oriys/lambdasim/internal/events"
	"github.com/sirupsen/logrus"
)

// Handler 处理管理端点请求。
type Handler struct {
	gateway *Gateway
	bus     *events.Bus
	logger  *logrus.Logger

	startedAt time.Time
	upgrader  websocket.Upgrader
}

// NewHandler 创建管理端点处理器
func NewHandler(gateway *Gateway, bus *events.Bus, logger *logrus.Logger) *Handler {
	return &Handler{
		gateway:   gateway,
		bus:       bus,
		logger:    logger,
		startedAt: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // 本地模拟器允许所有来源
			},
		},
	}
}

// Health 处理健康检查请求。
// HTTP端点: GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"uptime": time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// Ready 处理就绪探针请求，至少注册了一条路由才算就绪。
// HTTP端点: GET /health/ready
//
// 返回值：
//   - 200: 已就绪
//   - 503: 尚未注册任何路由
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if len(h.gateway.Routes()) == 0 {
		writeError(w, http.StatusServiceUnavailable, "No routes registered", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Live 处理存活探针请求。
// HTTP端点: GET /health/live
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// ListRoutes 返回当前路由表。
// HTTP端点: GET /_sim/routes
func (h *Handler) ListRoutes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"routes": h.gateway.Routes()})
}

// ListStreams 返回事件流摘要与总线统计。
// HTTP端点: GET /_sim/streams
func (h *Handler) ListStreams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"streams": h.bus.Streams(),
		"stats":   h.bus.Stats(),
	})
}

// ListEvents 返回事件流最近的记录。
// HTTP端点: GET /_sim/streams/{name}/events?limit=N
//
// 返回值：
//   - 200: {stream, records}
//   - 400: limit 不是整数
//   - 404: 事件流不存在
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer", err)
			return
		}
		limit = n
	}
	if !h.bus.HasStream(name) {
		writeError(w, http.StatusNotFound, "Stream not found", domain.ErrUnknownStream)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stream":  name,
		"records": h.bus.ReadRecent(name, limit),
	})
}

// TailStream 通过 WebSocket 推送事件流的新记录。
// HTTP端点: GET /_sim/streams/{name}/tail?buffer=N
// 客户端写入任意消息或断开连接即结束推送；队列已满时丢弃新记录。
func (h *Handler) TailStream(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !h.bus.HasStream(name) {
		writeError(w, http.StatusNotFound, "Stream not found", domain.ErrUnknownStream)
		return
	}
	size, _ := strconv.Atoi(r.URL.Query().Get("buffer"))

	sub, err := h.bus.SubscribeBuffered(name, size)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to subscribe", err)
		return
	}
	defer sub.Close()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	entry := h.logger.WithFields(logrus.Fields{
		"stream":          name,
		"subscription_id": sub.ID,
	})
	entry.Info("Tail started")

	// 监听客户端关闭
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			entry.WithField("dropped", sub.Dropped()).Info("Tail finished")
			return
		case <-r.Context().Done():
			return
		case record := <-sub.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(record); err != nil {
				entry.WithError(err).Debug("Tail write failed")
				return
			}
		}
	}
}

// writeJSON 写出 JSON 响应
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError 写出 {message, error} 形式的错误响应，err 为 nil 时省略 error 字段。
func writeError(w http.ResponseWriter, status int, message string, err error) {
	body := domain.ErrorBody{Message: message}
	if err != nil {
		body.Error = err.Error()
	}
	writeJSON(w, status, body)
}
