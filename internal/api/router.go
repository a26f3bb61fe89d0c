package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oriys/lambdasim/internal/metrics"
	"github.com/oriys/lambdasim/internal/telemetry"
	"github.com/sirupsen/logrus"
)

// RouterConfig 路由器配置选项
type RouterConfig struct {
	// Gateway 业务路由，作为未匹配管理端点时的兜底处理器
	Gateway *Gateway
	// Handler 管理端点处理器
	Handler *Handler
	// Metrics 为 nil 时不暴露 /metrics
	Metrics *metrics.Metrics
	// ServiceName 用于追踪 Span
	ServiceName string
	// Logger 日志记录器
	Logger *logrus.Logger
}

// NewRouter 创建并配置 HTTP 路由器。
//
// 路由结构：
//
//	/health                          - 健康检查
//	/health/ready                    - 就绪探针
//	/health/live                     - 存活探针
//	/metrics                         - Prometheus 指标
//	/_sim/routes                     - 已注册路由
//	/_sim/streams                    - 事件流摘要
//	/_sim/streams/{name}/events      - 最近记录
//	/_sim/streams/{name}/tail        - WebSocket 实时推送
//	/*                               - 业务路由（Gateway）
func NewRouter(cfg *RouterConfig) *chi.Mux {
	h := cfg.Handler
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "lambdasim"
	}

	r := chi.NewRouter()

	r.Use(telemetry.HTTPMiddleware(serviceName))
	r.Use(telemetry.RoutePatternAttribute)
	r.Use(middleware.RequestID)
	r.Use(accessLog(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/health", h.Health)
	r.Get("/health/ready", h.Ready)
	r.Get("/health/live", h.Live)

	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	r.Route("/_sim", func(r chi.Router) {
		r.Get("/routes", h.ListRoutes)
		r.Route("/streams", func(r chi.Router) {
			r.Get("/", h.ListStreams)
			r.Get("/{name}/events", h.ListEvents)
			r.Get("/{name}/tail", h.TailStream)
		})
	})

	// 其余请求交给业务路由；方法不匹配的管理端点同样返回统一错误体
	r.NotFound(cfg.Gateway.ServeHTTP)
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
	})

	return r
}

// accessLog 为每个请求输出一条结构化访问日志。
func accessLog(logger *logrus.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			telemetry.EntryWithTraceContext(r.Context(), logger.WithFields(logrus.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"bytes":       ww.BytesWritten(),
				"duration_ms": float64(time.Since(start).Microseconds()) / 1000,
				"remote_addr": r.RemoteAddr,
				"chi_req_id":  middleware.GetReqID(r.Context()),
			})).Debug("HTTP request served")
		})
	}
}

// corsMiddleware 允许任意来源访问，并直接应答预检请求。
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-Id")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
