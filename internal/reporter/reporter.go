// Package reporter 定时汇总事件流的保留情况并输出到日志与指标。
package reporter

import (
	"context"
	"fmt"
	"sync"

	"github.com/oriys/lambdasim/internal/domain"
	"github.com/oriys/lambdasim/internal/events"
	"github.com/oriys/lambdasim/internal/metrics"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// StreamSource 提供报告所需的事件流摘要，由 events.Bus 实现。
type StreamSource interface {
	Streams() []domain.StreamInfo
	Stats() events.Stats
}

// StreamReport 是单个事件流在一次报告中的摘要。
type StreamReport struct {
	domain.StreamInfo
	// EvictedSinceLast 是自上次报告以来淘汰的记录数
	EvictedSinceLast uint64 `json:"evictedSinceLast"`
	// Full 表示事件流已达到保留上限
	Full bool `json:"full"`
}

// Reporter 管理事件流报告的定时任务
type Reporter struct {
	cron    *cron.Cron
	source  StreamSource
	metrics *metrics.Metrics
	logger  *logrus.Logger

	mu          sync.Mutex
	entryID     cron.EntryID
	scheduled   bool
	lastEvicted map[string]uint64
}

// New 创建报告器
func New(source StreamSource, m *metrics.Metrics, logger *logrus.Logger) *Reporter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Reporter{
		cron:        cron.New(cron.WithParser(cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor))),
		source:      source,
		metrics:     m,
		logger:      logger,
		lastEvicted: make(map[string]uint64),
	}
}

// Start 按 cron 表达式启动报告任务。
// 支持可选的秒字段与 @every 之类的描述符；schedule 为空时不启动。
//
// 参数:
//   - schedule: cron 表达式，如 "@every 1m" 或 "*/30 * * * * *"
//
// 返回:
//   - error: 表达式不合法
func (r *Reporter) Start(schedule string) error {
	if schedule == "" {
		r.logger.Info("Stream reporter disabled")
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.scheduled {
		r.cron.Remove(r.entryID)
		r.scheduled = false
	}
	id, err := r.cron.AddFunc(schedule, func() { r.Report() })
	if err != nil {
		return fmt.Errorf("%w: reporter schedule %q: %v", domain.ErrValidation, schedule, err)
	}
	r.entryID = id
	r.scheduled = true
	r.cron.Start()

	r.logger.WithField("schedule", schedule).Info("Stream reporter started")
	return nil
}

// Report 立即生成一次报告，写入日志并刷新事件流指标。
func (r *Reporter) Report() []StreamReport {
	streams := r.source.Streams()

	r.mu.Lock()
	reports := make([]StreamReport, 0, len(streams))
	for _, s := range streams {
		rep := StreamReport{
			StreamInfo:       s,
			EvictedSinceLast: s.Evicted - r.lastEvicted[s.Name],
			Full:             s.Retention > 0 && s.Records >= s.Retention,
		}
		r.lastEvicted[s.Name] = s.Evicted
		reports = append(reports, rep)
	}
	r.mu.Unlock()

	for _, rep := range reports {
		r.metrics.UpdateStreamStats(rep.Name, rep.Records, rep.Subscribers)

		entry := r.logger.WithFields(logrus.Fields{
			"stream":             rep.Name,
			"records":            rep.Records,
			"retention":          rep.Retention,
			"subscribers":        rep.Subscribers,
			"evicted_since_last": rep.EvictedSinceLast,
		})
		if rep.Full {
			entry.Warn("Stream at retention limit, oldest records are being evicted")
		} else {
			entry.Info("Stream report")
		}
	}

	stats := r.source.Stats()
	r.logger.WithFields(logrus.Fields{
		"streams":             len(reports),
		"published":           stats.Published,
		"delivered":           stats.Delivered,
		"evicted":             stats.Evicted,
		"subscriber_failures": stats.SubscriberFailures,
		"dropped":             stats.Dropped,
	}).Info("Event bus report")

	return reports
}

// Stop 停止调度器，返回的 context 在正在运行的报告结束后完成
func (r *Reporter) Stop() context.Context {
	ctx := r.cron.Stop()
	r.logger.Info("Stream reporter stopped")
	return ctx
}
