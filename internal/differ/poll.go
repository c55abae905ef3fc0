// Package differ 将主账户持仓快照和订单更新转换为仓位变动事件。
// differ 归单个事件源循环所有，
// 非并发安全
package differ

import (
	"slices"
	"time"

	"github.com/betbot/gocopy/internal/domain"
	"github.com/shopspring/decimal"
)

// DefaultEpsilon 数量容差，低于此值的变化视为噪声
var DefaultEpsilon = decimal.New(1, -10)

// PollDiffer 比较相邻两次快照，
// 第一次快照只作为基线
type PollDiffer struct {
	eps    decimal.Decimal
	prev   domain.Snapshot
	seeded bool
	now    func() time.Time
}

func NewPollDiffer(eps decimal.Decimal) *PollDiffer {
	if !eps.IsPositive() {
		eps = DefaultEpsilon
	}
	return &PollDiffer{eps: eps, now: time.Now}
}

// Seeded 是否已有基线快照
func (d *PollDiffer) Seeded() bool { return d.seeded }

// Observe 将 cur 记为新基线，返回相对上一基线的变动，
// 按持仓 key 排序
func (d *PollDiffer) Observe(cur domain.Snapshot) []domain.TransitionEvent {
	if cur == nil {
		cur = domain.Snapshot{}
	}
	if !d.seeded {
		d.prev = cur
		d.seeded = true
		return nil
	}
	events := Diff(d.prev, cur, d.eps, d.now())
	d.prev = cur
	return events
}

// Diff 对 prev 和 cur 的每个 key 分类（纯函数）
func Diff(prev, cur domain.Snapshot, eps decimal.Decimal, at time.Time) []domain.TransitionEvent {
	keys := make([]string, 0, len(prev)+len(cur))
	for k := range prev {
		keys = append(keys, k)
	}
	for k := range cur {
		if _, ok := prev[k]; !ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	var out []domain.TransitionEvent
	for _, k := range keys {
		p, inPrev := prev[k]
		c, inCur := cur[k]
		if ev, ok := classify(k, p, inPrev, c, inCur, eps); ok {
			ev.At = at
			out = append(out, ev)
		}
	}
	return out
}

func isZero(q, eps decimal.Decimal) bool {
	return q.Abs().LessThanOrEqual(eps)
}

func baseEvent(key string, p domain.Position) domain.TransitionEvent {
	return domain.TransitionEvent{
		Origin:       domain.OriginPoll,
		Key:          key,
		Symbol:       p.Symbol,
		ContractType: p.ContractType,
		PositionSide: p.PositionSide,
		PositionID:   p.ID,
	}
}

func margin(p domain.Position) domain.MarginSetting {
	return domain.MarginSetting{Mode: p.MarginMode, Leverage: p.Leverage}
}

func classify(key string, p domain.Position, inPrev bool, c domain.Position, inCur bool, eps decimal.Decimal) (domain.TransitionEvent, bool) {
	prevFlat := !inPrev || isZero(p.Qty, eps)
	curFlat := !inCur || isZero(c.Qty, eps)

	switch {
	case prevFlat && curFlat:
		return domain.TransitionEvent{}, false

	case prevFlat:
		ev := baseEvent(key, c)
		ev.Kind = domain.TransitionOpened
		ev.Side = domain.SideFromQty(c.Qty)
		ev.Delta = c.Qty.Abs()
		ev.EntryPrice = c.EntryPrice
		ev.Margin = margin(c)
		return ev, true

	case curFlat:
		ev := baseEvent(key, p)
		ev.Kind = domain.TransitionClosed
		ev.Side = domain.SideFromQty(p.Qty)
		ev.Delta = p.Qty.Abs()
		return ev, true
	}

	prevAbs, curAbs := p.Qty.Abs(), c.Qty.Abs()
	ev := baseEvent(key, c)
	ev.Side = domain.SideFromQty(c.Qty)

	if p.Qty.Sign() != c.Qty.Sign() {
		ev.Kind = domain.TransitionReversed
		ev.PrevSide = domain.SideFromQty(p.Qty)
		ev.CloseQty = prevAbs
		ev.Delta = curAbs
		ev.EntryPrice = c.EntryPrice
		ev.Margin = margin(c)
		return ev, true
	}

	switch {
	case curAbs.LessThan(prevAbs.Sub(eps)):
		ev.Kind = domain.TransitionPartiallyClosed
		ev.Delta = prevAbs.Sub(curAbs)
		return ev, true
	case curAbs.GreaterThan(prevAbs.Add(eps)):
		ev.Kind = domain.TransitionScaledIn
		ev.Delta = curAbs.Sub(prevAbs)
		ev.EntryPrice = addedFillPrice(prevAbs, p.EntryPrice, curAbs, c.EntryPrice)
		ev.Margin = margin(c)
		return ev, true
	}
	return domain.TransitionEvent{}, false
}

// addedFillPrice 由前后两次持仓均价反推新增部分的成交价，
// 任一均价未知时返回 0
func addedFillPrice(prevAbs, prevEntry, curAbs, curEntry decimal.Decimal) decimal.Decimal {
	delta := curAbs.Sub(prevAbs)
	if !delta.IsPositive() || !prevEntry.IsPositive() || !curEntry.IsPositive() {
		return decimal.Zero
	}
	px := curAbs.Mul(curEntry).Sub(prevAbs.Mul(prevEntry)).Div(delta)
	if !px.IsPositive() {
		return decimal.Zero
	}
	return px
}
