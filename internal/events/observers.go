package events

import (
	"sync"

	"github.com/oriys/lambdasim/internal/domain"
	"github.com/sirupsen/logrus"
)

// Observers 管理网关启动时挂载的常驻订阅者，关闭时统一取消。
type Observers struct {
	bus    *Bus
	logger *logrus.Logger

	mu   sync.Mutex
	subs []*Subscription
}

// NewObservers 创建常驻订阅者集合
func NewObservers(bus *Bus, logger *logrus.Logger) *Observers {
	return &Observers{bus: bus, logger: logger}
}

// Attach 以 name 标识在事件流上注册一个常驻订阅者。
func (o *Observers) Attach(stream, name string, callback Callback) error {
	sub, err := o.bus.Subscribe(stream, callback)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.subs = append(o.subs, sub)
	o.mu.Unlock()

	o.logger.WithFields(logrus.Fields{
		"stream":          stream,
		"observer":        name,
		"subscription_id": sub.ID,
	}).Info("Observer attached")
	return nil
}

// AttachRecordLogger 在每个事件流上挂载记录日志的订阅者；
// 投注事件流额外输出投注明细。
func (o *Observers) AttachRecordLogger(streams []string) error {
	for _, stream := range streams {
		var cb Callback = o.logRecord
		if stream == domain.StreamBetEvents {
			cb = o.logBetRecord
		}
		if err := o.Attach(stream, "record-logger", cb); err != nil {
			return err
		}
	}
	return nil
}

func (o *Observers) logRecord(record domain.Record) {
	o.logger.WithFields(logrus.Fields{
		"stream":     record.EventSource,
		"event_type": record.EventType,
		"event_id":   record.EventID,
	}).Info("Event received")
}

func (o *Observers) logBetRecord(record domain.Record) {
	entry := o.logger.WithFields(logrus.Fields{
		"stream":     record.EventSource,
		"event_type": record.EventType,
		"event_id":   record.EventID,
	})
	switch p := record.Data.(type) {
	case domain.BetPlacedPayload:
		entry.WithFields(logrus.Fields{
			"bet_id":  p.BetID,
			"user_id": p.UserID,
			"game_id": p.GameID,
			"amount":  p.Amount,
			"odds":    p.Odds,
		}).Info("Bet placed")
	case domain.BetSettledPayload:
		fields := logrus.Fields{
			"bet_id":  p.BetID,
			"user_id": p.UserID,
			"game_id": p.GameID,
			"amount":  p.Amount,
		}
		if record.EventType == domain.EventBetWon {
			fields["winnings"] = p.Winnings
			entry.WithFields(fields).Info("Bet won")
		} else {
			entry.WithFields(fields).Info("Bet lost")
		}
	default:
		entry.Info("Event received")
	}
}

// Close 取消全部常驻订阅者
func (o *Observers) Close() {
	o.mu.Lock()
	subs := o.subs
	o.subs = nil
	o.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}
