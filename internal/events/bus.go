// Package events 提供进程内的事件流总线。
// 每个事件流是按追加顺序保存、容量有上限的记录序列；追加时按订阅顺序
// 同步扇出给当前订阅者，超出保留上限时淘汰最旧的记录。
package events

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oriys/lambdasim/internal/domain"
	"github.com/oriys/lambdasim/internal/metrics"
	"github.com/oriys/lambdasim/internal/telemetry"
	"github.com/sirupsen/logrus"
)

// DefaultReadLimit 是 ReadRecent 未指定数量时返回的记录数
const DefaultReadLimit = 10

// Callback 是订阅者回调，收到的是记录的值拷贝。
type Callback func(record domain.Record)

// Options 是总线构造参数。
type Options struct {
	// Retention 是每个事件流的容量上限，<= 0 时使用 domain.DefaultStreamRetention
	Retention int
	// Schemas 是载荷结构登记表，为 nil 时新建空表
	Schemas *SchemaRegistry
	// Metrics 为 nil 时不记录指标
	Metrics *metrics.Metrics
	// Now 为 nil 时使用 time.Now
	Now func() time.Time
}

// Stats 是总线累计统计。
type Stats struct {
	Published          uint64 `json:"published"`
	Delivered          uint64 `json:"delivered"`
	Evicted            uint64 `json:"evicted"`
	SubscriberFailures uint64 `json:"subscriberFailures"`
	Dropped            uint64 `json:"dropped"`
}

// Bus 是进程内事件流总线，可被多个协程并发使用。
type Bus struct {
	retention int
	schemas   *SchemaRegistry
	metrics   *metrics.Metrics
	logger    *logrus.Logger
	now       func() time.Time

	mu      sync.RWMutex
	streams map[string]*stream
	closed  bool

	nextSubID atomic.Uint64

	published atomic.Uint64
	delivered atomic.Uint64
	evicted   atomic.Uint64
	failures  atomic.Uint64
	dropped   atomic.Uint64
}

// stream 保存单个事件流的记录与订阅者。
// mu 保护 records、subs、pending 与 draining；投递在锁外进行。
type stream struct {
	name string

	mu       sync.Mutex
	records  []domain.Record
	subs     []*subscriber
	pending  []delivery
	draining bool
	evicted  uint64
}

type subscriber struct {
	id       string
	callback Callback
}

// delivery 是一条待投递记录及其追加时刻的订阅者快照
type delivery struct {
	record domain.Record
	subs   []*subscriber
}

// NewBus 创建事件总线。
//
// 参数:
//   - opts: 保留上限、结构登记表、指标与时钟
//   - logger: 日志记录器
//
// 返回:
//   - *Bus: 事件总线
func NewBus(opts Options, logger *logrus.Logger) *Bus {
	retention := opts.Retention
	if retention <= 0 {
		retention = domain.DefaultStreamRetention
	}
	schemas := opts.Schemas
	if schemas == nil {
		schemas = NewSchemaRegistry()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Bus{
		retention: retention,
		schemas:   schemas,
		metrics:   opts.Metrics,
		logger:    logger,
		now:       now,
		streams:   make(map[string]*stream),
	}
}

// Schemas 返回总线使用的结构登记表
func (b *Bus) Schemas() *SchemaRegistry {
	return b.schemas
}

// Retention 返回每个事件流的容量上限
func (b *Bus) Retention() int {
	return b.retention
}

// CreateStream 创建事件流，已存在时不做任何事。
func (b *Bus) CreateStream(name string) error {
	_, err := b.getOrCreate(name)
	return err
}

func (b *Bus) getOrCreate(name string) (*stream, error) {
	if name == "" {
		return nil, domain.ErrInvalidStreamName
	}

	b.mu.RLock()
	s, ok := b.streams[name]
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return nil, domain.ErrBusClosed
	}
	if ok {
		return s, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, domain.ErrBusClosed
	}
	if s, ok := b.streams[name]; ok {
		return s, nil
	}
	s = &stream{name: name}
	b.streams[name] = s
	b.logger.WithField("stream", name).Debug("Stream created")
	return s, nil
}

func (b *Bus) lookup(name string) (*stream, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.streams[name]
	return s, ok
}

// Publish 向事件流追加一条记录并扇出给订阅者。
// 事件流不存在时自动创建；载荷需符合 eventType 登记的结构。
// 单一发布者在无并发竞争时，Publish 返回前已完成全部投递；
// 订阅者在回调中再次发布时，新记录在当前记录投递完成后按序投递。
//
// 参数:
//   - ctx: 用于追踪关联
//   - streamName: 事件流名称
//   - eventType: 事件类型
//   - payload: 事件载荷
//
// 返回:
//   - string: 新记录的 EventID
//   - error: 名称、类型或载荷不合法，或总线已关闭
func (b *Bus) Publish(ctx context.Context, streamName, eventType string, payload any) (string, error) {
	if eventType == "" {
		return "", domain.ErrInvalidEventType
	}
	if err := b.schemas.Check(eventType, payload); err != nil {
		return "", err
	}
	s, err := b.getOrCreate(streamName)
	if err != nil {
		return "", err
	}

	_, span := telemetry.StartPublishSpan(ctx, streamName, eventType)
	defer span.End()

	now := b.now()
	record := domain.Record{
		EventID:     NewEventID(now),
		EventType:   eventType,
		EventSource: streamName,
		Data:        payload,
		Timestamp:   now,
	}

	s.mu.Lock()
	s.records = append(s.records, record)
	evicted := 0
	for len(s.records) > b.retention {
		// 原地前移，底层数组容量保持不变
		copy(s.records, s.records[1:])
		s.records[len(s.records)-1] = domain.Record{}
		s.records = s.records[:len(s.records)-1]
		evicted++
	}
	s.evicted += uint64(evicted)
	snapshot := make([]*subscriber, len(s.subs))
	copy(snapshot, s.subs)
	size, subCount := len(s.records), len(s.subs)
	s.pending = append(s.pending, delivery{record: record, subs: snapshot})
	s.mu.Unlock()

	b.published.Add(1)
	b.metrics.RecordPublish(streamName, eventType)
	if evicted > 0 {
		b.evicted.Add(uint64(evicted))
		for i := 0; i < evicted; i++ {
			b.metrics.RecordEviction(streamName)
		}
	}
	b.metrics.UpdateStreamStats(streamName, size, subCount)

	b.logger.WithFields(logrus.Fields{
		"stream":     streamName,
		"event_type": eventType,
		"event_id":   record.EventID,
	}).Debug("Event published")

	b.drain(s)
	return record.EventID, nil
}

// drain 依次投递事件流的待投递记录。
// 同一时刻只有一个协程在投递，其余发布者只负责入队。
func (b *Bus) drain(s *stream) {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.pending) > 0 {
		d := s.pending[0]
		s.pending[0] = delivery{}
		s.pending = s.pending[1:]
		s.mu.Unlock()

		for _, sub := range d.subs {
			b.deliver(s.name, sub, d.record)
		}

		s.mu.Lock()
	}
	s.pending = nil
	s.draining = false
	s.mu.Unlock()
}

// deliver 调用单个订阅者，panic 被捕获并计数，不影响其它订阅者。
func (b *Bus) deliver(streamName string, sub *subscriber, record domain.Record) {
	defer func() {
		if r := recover(); r != nil {
			b.failures.Add(1)
			b.metrics.RecordSubscriberFailure(streamName)
			b.logger.WithFields(logrus.Fields{
				"stream":          streamName,
				"subscription_id": sub.id,
				"event_id":        record.EventID,
				"panic":           fmt.Sprint(r),
			}).Error("Subscriber failed")
		}
	}()
	sub.callback(record)
	b.delivered.Add(1)
	b.metrics.RecordDelivery(streamName)
}

// Subscribe 注册订阅者回调，事件流不存在时自动创建。
// 回调只会收到注册之后追加的记录。
//
// 返回:
//   - *Subscription: 订阅句柄，用于取消订阅
//   - error: 名称不合法、回调为空或总线已关闭
func (b *Bus) Subscribe(streamName string, callback Callback) (*Subscription, error) {
	if callback == nil {
		return nil, domain.ErrNilCallback
	}
	s, err := b.getOrCreate(streamName)
	if err != nil {
		return nil, err
	}

	id := fmt.Sprintf("sub-%d", b.nextSubID.Add(1))
	s.mu.Lock()
	s.subs = append(s.subs, &subscriber{id: id, callback: callback})
	size, subCount := len(s.records), len(s.subs)
	s.mu.Unlock()

	b.metrics.UpdateStreamStats(streamName, size, subCount)
	b.logger.WithFields(logrus.Fields{
		"stream":          streamName,
		"subscription_id": id,
	}).Debug("Subscriber registered")

	return &Subscription{ID: id, Stream: streamName, bus: b}, nil
}

// Unsubscribe 移除指定订阅，未注册时不做任何事。
//
// 返回:
//   - bool: 是否确实移除了订阅
func (b *Bus) Unsubscribe(streamName, id string) bool {
	s, ok := b.lookup(streamName)
	if !ok {
		return false
	}

	s.mu.Lock()
	removed := false
	for i, sub := range s.subs {
		if sub.id == id {
			next := make([]*subscriber, 0, len(s.subs)-1)
			next = append(next, s.subs[:i]...)
			s.subs = append(next, s.subs[i+1:]...)
			removed = true
			break
		}
	}
	size, subCount := len(s.records), len(s.subs)
	s.mu.Unlock()

	if removed {
		b.metrics.UpdateStreamStats(streamName, size, subCount)
		b.logger.WithFields(logrus.Fields{
			"stream":          streamName,
			"subscription_id": id,
		}).Debug("Subscriber removed")
	}
	return removed
}

// ReadRecent 按到达顺序返回最近的至多 limit 条记录。
// limit <= 0 时使用 DefaultReadLimit；事件流不存在时返回空切片并记录警告。
func (b *Bus) ReadRecent(streamName string, limit int) []domain.Record {
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	s, ok := b.lookup(streamName)
	if !ok {
		b.logger.WithField("stream", streamName).Warn("Read from unknown stream")
		return []domain.Record{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	start := len(s.records) - limit
	if start < 0 {
		start = 0
	}
	out := make([]domain.Record, len(s.records)-start)
	copy(out, s.records[start:])
	return out
}

// HasStream 返回事件流是否存在
func (b *Bus) HasStream(name string) bool {
	_, ok := b.lookup(name)
	return ok
}

// Streams 返回按名称排序的事件流摘要
func (b *Bus) Streams() []domain.StreamInfo {
	b.mu.RLock()
	list := make([]*stream, 0, len(b.streams))
	for _, s := range b.streams {
		list = append(list, s)
	}
	b.mu.RUnlock()

	infos := make([]domain.StreamInfo, 0, len(list))
	for _, s := range list {
		s.mu.Lock()
		infos = append(infos, domain.StreamInfo{
			Name:        s.name,
			Records:     len(s.records),
			Subscribers: len(s.subs),
			Retention:   b.retention,
			Evicted:     s.evicted,
		})
		s.mu.Unlock()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Stats 返回总线累计统计
func (b *Bus) Stats() Stats {
	return Stats{
		Published:          b.published.Load(),
		Delivered:          b.delivered.Load(),
		Evicted:            b.evicted.Load(),
		SubscriberFailures: b.failures.Load(),
		Dropped:            b.dropped.Load(),
	}
}

// Close 关闭总线，之后的发布与订阅返回 ErrBusClosed。
// 已保存的记录仍可读取。
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.logger.Info("Event bus closed")
	return nil
}
