// Package domain 定义了本地 Lambda 模拟器的核心领域模型。
package domain

import "time"

// DefaultStreamRetention 是每个事件流最多保留的记录数
const DefaultStreamRetention = 1000

// Record 表示追加到事件流中的一条领域事件。
// 追加后不可修改；订阅者与读取方拿到的都是值拷贝。
type Record struct {
	// EventID 在总线生命周期内唯一
	EventID string `json:"eventID"`
	// EventType 是事件类型标签，如 BET_PLACED
	EventType string `json:"eventType"`
	// EventSource 是所属事件流名称
	EventSource string `json:"eventSource"`
	// Data 是事件载荷
	Data any `json:"data"`
	// Timestamp 是服务端分配的追加时间
	Timestamp time.Time `json:"timestamp"`
}

// StreamInfo 是事件流的摘要信息。
type StreamInfo struct {
	Name        string `json:"name"`
	Records     int    `json:"records"`
	Subscribers int    `json:"subscribers"`
	Retention   int    `json:"retention"`
	// Evicted 是因超出保留上限被淘汰的记录总数
	Evicted uint64 `json:"evicted"`
}
