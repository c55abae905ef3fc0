// Package source 主账户变动检测：持仓快照轮询循环，
// 以及带重连的推送会话循环
package source

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/gocopy/internal/differ"
	"github.com/betbot/gocopy/internal/domain"
	"github.com/betbot/gocopy/internal/metrics"
	"github.com/betbot/gocopy/internal/ports"
	"github.com/betbot/gocopy/pkg/logger"
)

const DefaultPollInterval = 800 * time.Millisecond

// PollerConfig 轮询范围与间隔
type PollerConfig struct {
	Interval     time.Duration
	Symbol       string
	ContractType string
}

// Poller 按固定间隔拉取主账户持仓并交给 PollDiffer。
// 拉取失败时跳过本轮，基线保持不变
type Poller struct {
	master ports.Exchange
	differ *differ.PollDiffer
	cfg    PollerConfig
	log    *logrus.Entry
}

func NewPoller(master ports.Exchange, d *differ.PollDiffer, cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	return &Poller{
		master: master,
		differ: d,
		cfg:    cfg,
		log:    logger.Component("poller").WithField("exchange", master.Name()),
	}
}

// Run 轮询直到 ctx 结束，正常停止返回 nil
func (p *Poller) Run(ctx context.Context, out chan<- domain.TransitionEvent) error {
	p.log.Infof("polling every %s (symbol=%q)", p.cfg.Interval, p.cfg.Symbol)
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		events, err := p.Tick(ctx)
		if err != nil {
			metrics.PollErrors.Add(1)
			p.log.Warnf("tick skipped: %v", err)
		}
		for _, ev := range events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick 执行一次拉取和比较
func (p *Poller) Tick(ctx context.Context) ([]domain.TransitionEvent, error) {
	// 只取第一页，之后的持仓不跟踪
	positions, err := p.master.Positions(ctx, domain.PositionQuery{
		Symbol:       p.cfg.Symbol,
		ContractType: p.cfg.ContractType,
	})
	if err != nil {
		return nil, err
	}
	seeding := !p.differ.Seeded()
	events := p.differ.Observe(domain.NewSnapshot(positions))
	if seeding {
		p.log.Infof("baseline seeded with %d positions", len(positions))
	}
	for i := range events {
		p.enrichMargin(ctx, &events[i])
	}
	return events, nil
}

// enrichMargin 加仓和反手开仓时读取实时保证金设置，
// 快照中的字段可能滞后于触发变动的订单
func (p *Poller) enrichMargin(ctx context.Context, ev *domain.TransitionEvent) {
	if ev.Kind != domain.TransitionScaledIn && ev.Kind != domain.TransitionReversed {
		return
	}
	m, err := p.master.MarginMode(ctx, ev.Symbol, ev.ContractType)
	if err != nil {
		p.log.WithField("symbol", ev.Symbol).Warnf("margin lookup failed, using snapshot values: %v", err)
		return
	}
	if m.Mode != "" {
		ev.Margin.Mode = m.Mode
	}
	if m.Leverage > 0 {
		ev.Margin.Leverage = m.Leverage
	}
}
