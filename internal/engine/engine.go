// Package engine 事件源与分发器之间的唯一消费者，
// 负责分发顺序并上报每个结果
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/betbot/gocopy/internal/domain"
	"github.com/betbot/gocopy/internal/metrics"
	"github.com/betbot/gocopy/internal/ports"
	"github.com/betbot/gocopy/pkg/logger"
)

// Barrier 决定哪些事件可以并发分发
type Barrier string

const (
	// BarrierGlobal 全局串行
	BarrierGlobal Barrier = "global"
	// BarrierPerKey 仅同一持仓 key 串行
	BarrierPerKey Barrier = "per-key"
)

const keyQueueSize = 64

// Dispatcher 分发阶段
type Dispatcher interface {
	Dispatch(ctx context.Context, ev domain.TransitionEvent) []domain.StepReport
}

type Option func(*Engine)

func WithBarrier(b Barrier) Option {
	return func(e *Engine) {
		if b == BarrierPerKey {
			e.barrier = b
		}
	}
}

// WithSinks 添加结果接收方，接收方出错只记日志
func WithSinks(sinks ...ports.OutcomeSink) Option {
	return func(e *Engine) { e.sinks = append(e.sinks, sinks...) }
}

func WithIDs(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

type Engine struct {
	dispatcher Dispatcher
	barrier    Barrier
	sinks      []ports.OutcomeSink
	newID      func() string
	now        func() time.Time
	log        *logrus.Entry
}

func New(d Dispatcher, opts ...Option) *Engine {
	e := &Engine{
		dispatcher: d,
		barrier:    BarrierGlobal,
		newID:      uuid.NewString,
		now:        time.Now,
		log:        logger.Component("engine"),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run 消费 in，直到其关闭或 ctx 结束。ctx 结束后不再开始新的分发，
// 正在进行的分发允许完成
func (e *Engine) Run(ctx context.Context, in <-chan domain.TransitionEvent) error {
	if e.barrier == BarrierPerKey {
		return e.runPerKey(ctx, in)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			e.Handle(ctx, ev)
		}
	}
}

func (e *Engine) runPerKey(ctx context.Context, in <-chan domain.TransitionEvent) error {
	var wg sync.WaitGroup
	queues := make(map[string]chan domain.TransitionEvent)
	defer func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			q, found := queues[ev.Key]
			if !found {
				q = make(chan domain.TransitionEvent, keyQueueSize)
				queues[ev.Key] = q
				wg.Add(1)
				go func() {
					defer wg.Done()
					for ev := range q {
						if ctx.Err() != nil {
							e.log.WithField("key", ev.Key).Warnf("stopping, %s not dispatched", ev.Kind)
							continue
						}
						e.Handle(ctx, ev)
					}
				}()
			}
			select {
			case q <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Handle 分发一个事件并上报给所有接收方
func (e *Engine) Handle(ctx context.Context, ev domain.TransitionEvent) domain.DispatchReport {
	metrics.EventsTotal.Add(1)
	report := domain.DispatchReport{
		EventID: e.newID(),
		Event:   ev,
		At:      e.now(),
	}
	log := e.log.WithFields(logrus.Fields{
		"event":  report.EventID,
		"kind":   ev.Kind,
		"symbol": ev.Symbol,
		"side":   ev.Side,
		"origin": ev.Origin,
	})
	log.Infof("transition delta=%s", ev.Delta)

	report.Steps = e.dispatcher.Dispatch(ctx, ev)

	for _, step := range report.Steps {
		for _, o := range step.Outcomes {
			switch {
			case o.OK:
				metrics.DispatchOK.Add(1)
			case o.Skipped:
				metrics.DispatchSkip.Add(1)
			default:
				metrics.DispatchFailed.Add(1)
			}
		}
	}
	ok, failed := report.Counts()
	log.Infof("dispatched: %d ok, %d not ok", ok, failed)

	// 停止过程中也要记录
	sinkCtx := context.WithoutCancel(ctx)
	for _, s := range e.sinks {
		if err := s.Record(sinkCtx, report); err != nil {
			log.Errorf("outcome sink: %v", err)
		}
	}
	return report
}
