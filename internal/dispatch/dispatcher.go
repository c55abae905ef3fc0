// Package dispatch 将主账户仓位变动分发到各跟单账户
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/gocopy/internal/domain"
	"github.com/betbot/gocopy/internal/metrics"
	"github.com/betbot/gocopy/internal/ports"
	"github.com/betbot/gocopy/internal/risk"
	"github.com/betbot/gocopy/pkg/logger"
	"github.com/betbot/gocopy/pkg/marketmath"
	"github.com/betbot/gocopy/pkg/syncgroup"
)

const DefaultTimeout = 25 * time.Second

const reasonCircuitOpen = "circuit-open"

// Follower 跟单账户及其交易客户端
type Follower struct {
	Cred   domain.Credential
	Client ports.Exchange
	// Market 可选：为空时开仓数量不按步长取整，
	// 也不做滑点检查
	Market ports.MarketInfo
}

// NewFollower 客户端实现了 MarketInfo 时自动使用
func NewFollower(cred domain.Credential, client ports.Exchange) Follower {
	f := Follower{Cred: cred, Client: client}
	if mi, ok := client.(ports.MarketInfo); ok {
		f.Market = mi
	}
	return f
}

// ID 结果中使用的跟单账户标识
func (f Follower) ID() string {
	if f.Cred.AccountID != "" {
		return f.Cred.AccountID
	}
	return f.Cred.Label()
}

type Option func(*Dispatcher)

// WithTimeout 单个跟单调用的超时
func WithTimeout(d time.Duration) Option {
	return func(x *Dispatcher) {
		if d > 0 {
			x.timeout = d
		}
	}
}

// WithBreakers 连续失败的跟单账户自动熔断
func WithBreakers(b *risk.Board) Option {
	return func(x *Dispatcher) { x.breakers = b }
}

// WithClock 测试用
func WithClock(now func() time.Time) Option {
	return func(x *Dispatcher) { x.now = now }
}

// Dispatcher 对所有跟单账户并发执行事件的每个动作，
// 单个账户失败不影响其他账户
type Dispatcher struct {
	master    domain.Credential
	followers []Follower
	timeout   time.Duration
	breakers  *risk.Board
	now       func() time.Time
	log       *logrus.Entry
}

func New(master domain.Credential, followers []Follower, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		master:    master,
		followers: followers,
		timeout:   DefaultTimeout,
		now:       time.Now,
		log:       logger.Component("dispatch"),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Dispatcher) Followers() []Follower { return d.followers }

func (d *Dispatcher) Breakers() *risk.Board { return d.breakers }

// Dispatch 按顺序执行事件的动作。前一个动作失败也会继续执行后续动作，
// 每个跟单账户都有结果
func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.TransitionEvent) []domain.StepReport {
	actions := ev.Actions()
	steps := make([]domain.StepReport, 0, len(actions))
	for _, a := range actions {
		steps = append(steps, domain.StepReport{Action: a, Outcomes: d.fanOut(ctx, a)})
	}
	return steps
}

func (d *Dispatcher) fanOut(ctx context.Context, a domain.Action) []domain.DispatchOutcome {
	outcomes := make([]domain.DispatchOutcome, len(d.followers))
	sg := syncgroup.NewSyncGroup()
	for i := range d.followers {
		sg.Add(func() {
			outcomes[i] = d.runOne(ctx, d.followers[i], a)
		})
	}
	sg.Run()
	sg.WaitAndClear()
	return outcomes
}

func (d *Dispatcher) runOne(parent context.Context, f Follower, a domain.Action) (out domain.DispatchOutcome) {
	start := d.now()
	out = domain.DispatchOutcome{FollowerID: f.ID(), Follower: f.Cred.Label()}
	log := d.log.WithFields(logrus.Fields{
		"follower": out.FollowerID,
		"action":   a.Kind,
		"symbol":   a.Symbol,
		"side":     a.Side,
	})

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("panic: %v\n%s", r, debug.Stack())
			out.OK = false
			out.Reason = "error"
			out.Error = fmt.Sprintf("panic: %v", r)
		}
		out.Elapsed = d.now().Sub(start)
		d.account(f, out, log)
	}()

	if f.Cred.SameAccount(d.master) {
		return skip(out, domain.ErrSelfFollow)
	}
	breaker := d.breakers.For(out.FollowerID)
	if err := breaker.Allow(); err != nil {
		out.Reason = reasonCircuitOpen
		out.Error = err.Error()
		return out
	}

	// 调用方停止时，已发出的跟单调用仍会执行完成
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), d.timeout)
	defer cancel()

	var (
		res domain.Result
		qty decimal.Decimal
		err error
	)
	switch a.Kind {
	case domain.ActionOpen:
		res, qty, err = d.open(ctx, f, a, log)
	case domain.ActionClose:
		qty = a.Quantity
		res, err = f.Client.ClosePosition(ctx, domain.CloseRequest{
			Symbol:       a.Symbol,
			ContractType: a.ContractType,
			Side:         a.Side,
			Quantity:     qty,
		})
	default:
		err = errors.Errorf("unknown action %q", a.Kind)
	}
	out.Quantity = qty
	if err != nil {
		if domain.IsSkip(err) {
			return skip(out, err)
		}
		err = domain.Classify(err)
		out.Reason = domain.Reason(err)
		out.Error = err.Error()
		out.HTTPStatus = domain.HTTPStatus(err)
		if out.HTTPStatus == 0 {
			out.HTTPStatus = res.HTTPStatus
		}
		return out
	}
	out.OK = true
	out.HTTPStatus = res.HTTPStatus
	out.OrderID = res.OrderID
	return out
}

func skip(out domain.DispatchOutcome, err error) domain.DispatchOutcome {
	out.OK = false
	out.Skipped = true
	out.Reason = domain.Reason(err)
	out.Error = out.Reason
	return out
}

func (d *Dispatcher) open(ctx context.Context, f Follower, a domain.Action, log *logrus.Entry) (domain.Result, decimal.Decimal, error) {
	step := decimal.Zero
	if f.Market != nil {
		s, err := f.Market.LotSize(ctx, a.Symbol, a.ContractType)
		if err != nil {
			log.Warnf("lot size unknown, sending unrounded quantity: %v", err)
		} else {
			step = s
		}
	}
	qty := marketmath.ScaleQuantity(a.Quantity, f.Cred.Multiplier(), step)
	if !qty.IsPositive() {
		return domain.Result{}, qty, errors.Wrapf(domain.ErrBelowLotSize, "%s x %s step %s", a.Quantity, f.Cred.Multiplier(), step)
	}

	if f.Market != nil && a.RefPrice.IsPositive() && f.Cred.SlippageLimit.IsPositive() {
		px, err := f.Market.LastPrice(ctx, a.Symbol, a.ContractType)
		if err != nil {
			return domain.Result{}, qty, errors.Wrap(err, "follower price")
		}
		if !marketmath.WithinSlippage(a.RefPrice, px, f.Cred.SlippageLimit) {
			return domain.Result{}, qty, errors.Wrapf(domain.ErrSlippageExceeded, "ref %s follower %s", a.RefPrice, px)
		}
	}

	setting := a.Margin
	if f.Cred.Leverage > 0 {
		setting.Leverage = f.Cred.Leverage
	}
	if !setting.IsZero() {
		if err := f.Client.SetMarginMode(ctx, a.Symbol, setting, a.ContractType); err != nil {
			log.Warnf("set margin %s x%d: %v", setting.Mode, setting.Leverage, err)
		}
	}

	res, err := f.Client.PlaceOrder(ctx, domain.OrderRequest{
		Symbol:       a.Symbol,
		ContractType: a.ContractType,
		Side:         a.Side.Opening(),
		Quantity:     qty,
		Market:       true,
		Margin:       setting,
		PositionSide: a.PositionSide,
	})
	return res, qty, err
}

// account 记录结果并更新熔断器
func (d *Dispatcher) account(f Follower, out domain.DispatchOutcome, log *logrus.Entry) {
	log = log.WithField("elapsed", out.Elapsed)
	switch {
	case out.OK:
		d.breakers.For(out.FollowerID).OnSuccess()
		log.WithField("order", out.OrderID).Infof("ok qty=%s", out.Quantity)
	case out.Skipped:
		log.Infof("skipped: %s", out.Reason)
	case out.Reason == reasonCircuitOpen:
		log.Warn("halted, not sent")
	case out.Reason == domain.Reason(domain.ErrNoPosition):
		log.Infof("nothing to close")
	default:
		log.Errorf("failed (%s): %s", out.Reason, out.Error)
		if d.breakers.For(out.FollowerID).OnError() {
			metrics.BreakerTrips.Add(1)
			log.Errorf("follower %s halted after repeated failures", f.Cred.Label())
		}
	}
}
