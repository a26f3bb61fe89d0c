package events

import (
	"sync/atomic"

	"github.com/oriys/lambdasim/internal/domain"
)

// DefaultBufferSize 是缓冲订阅的默认队列长度
const DefaultBufferSize = 256

// Subscription 是一次订阅的句柄。
type Subscription struct {
	// ID 在总线内唯一
	ID string
	// Stream 是订阅的事件流
	Stream string

	bus *Bus
}

// Close 取消订阅，可重复调用。
func (s *Subscription) Close() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.Unsubscribe(s.Stream, s.ID)
}

// BufferedSubscription 把投递转为有界队列，供独立协程消费（如 WebSocket 推送）。
// 队列已满时丢弃新记录并计数，不阻塞发布者。C 不会被关闭，消费方应以 Close 或自身上下文结束读取。
type BufferedSubscription struct {
	*Subscription

	// C 是记录队列
	C <-chan domain.Record

	dropped atomic.Uint64
}

// Dropped 返回因队列已满被丢弃的记录数
func (s *BufferedSubscription) Dropped() uint64 {
	return s.dropped.Load()
}

// SubscribeBuffered 注册一个带有界队列的订阅。
//
// 参数:
//   - streamName: 事件流名称
//   - size: 队列长度，<= 0 时使用 DefaultBufferSize
//
// 返回:
//   - *BufferedSubscription: 订阅句柄
//   - error: 名称不合法或总线已关闭
func (b *Bus) SubscribeBuffered(streamName string, size int) (*BufferedSubscription, error) {
	if size <= 0 {
		size = DefaultBufferSize
	}
	ch := make(chan domain.Record, size)
	bs := &BufferedSubscription{C: ch}

	sub, err := b.Subscribe(streamName, func(record domain.Record) {
		select {
		case ch <- record:
		default:
			bs.dropped.Add(1)
			b.dropped.Add(1)
			b.metrics.RecordSubscriberDrop(streamName)
		}
	})
	if err != nil {
		return nil, err
	}
	bs.Subscription = sub
	return bs, nil
}
