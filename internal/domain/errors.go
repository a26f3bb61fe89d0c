// Package domain 定义了本地 Lambda 模拟器的核心领域模型。
package domain

import (
	"errors"
	"net/http"
)

// 领域错误定义
// 这些错误用于在路由、调用运行器、事件总线与业务函数之间传递错误分类。

var (
	// ========== 业务错误分类 ==========

	// ErrValidation 表示必填输入缺失或格式不正确（映射为 400）
	ErrValidation = errors.New("validation error")
	// ErrNotFound 表示引用的实体不存在（映射为 404）
	ErrNotFound = errors.New("not found")
	// ErrConflict 表示唯一键冲突（映射为 409）
	ErrConflict = errors.New("conflict")

	// ========== 调用相关错误 ==========

	// ErrInvocationTimeout 表示启用超时强制时函数执行超过了时间预算
	ErrInvocationTimeout = errors.New("invocation timed out")
	// ErrHandlerPanic 表示处理函数发生 panic，已被调用运行器捕获
	ErrHandlerPanic = errors.New("handler panicked")
	// ErrNilHandler 表示注册或调用时传入了空处理函数
	ErrNilHandler = errors.New("handler is nil")

	// ========== 事件流相关错误 ==========

	// ErrUnknownStream 表示请求的事件流不存在
	ErrUnknownStream = errors.New("stream does not exist")
	// ErrInvalidStreamName 表示事件流名称为空
	ErrInvalidStreamName = errors.New("invalid stream name")
	// ErrInvalidEventType 表示事件类型为空
	ErrInvalidEventType = errors.New("invalid event type")
	// ErrSchemaMismatch 表示事件载荷与该事件类型登记的结构不匹配
	ErrSchemaMismatch = errors.New("payload does not match event schema")
	// ErrNilCallback 表示订阅时传入了空回调
	ErrNilCallback = errors.New("subscriber callback is nil")
	// ErrBusClosed 表示事件总线已关闭
	ErrBusClosed = errors.New("event bus is closed")
)

// StatusForError 将错误分类映射为 HTTP 状态码。
// 未归类的错误一律视为内部故障（500）。
func StatusForError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvocationTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
