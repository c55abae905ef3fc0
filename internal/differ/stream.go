package differ

import (
	"github.com/betbot/gocopy/internal/domain"
)

// Marker 记录已处理的 (orderId, state)，
// TryMark 返回该 key 是否首次出现
type Marker interface {
	TryMark(key string) bool
}

// StreamDiffer 对订单推送分类。每个 (orderId, state) 只处理一次，
// 只有成交才产生事件
type StreamDiffer struct {
	seen Marker
	// Duplicates 被去重丢弃的重复推送数
	Duplicates int
}

func NewStreamDiffer(seen Marker) *StreamDiffer {
	return &StreamDiffer{seen: seen}
}

// Observe 返回 e 对应的事件（如果有）
func (d *StreamDiffer) Observe(e domain.OrderEvent) (domain.TransitionEvent, bool) {
	if e.OrderID == "" {
		return domain.TransitionEvent{}, false
	}
	if !d.seen.TryMark(e.DedupKey()) {
		d.Duplicates++
		return domain.TransitionEvent{}, false
	}
	if e.State != domain.OrderStateFilled || !e.Size.IsPositive() {
		return domain.TransitionEvent{}, false
	}

	ev := domain.TransitionEvent{
		Origin:       domain.OriginStream,
		Key:          streamKey(e),
		Symbol:       e.Symbol,
		Delta:        e.Size.Abs(),
		PositionSide: e.PositionSide,
		OrderID:      e.OrderID,
		At:           e.UpdatedAt,
	}
	if e.ReduceOnly {
		// 卖出成交减少多仓
		ev.Kind = domain.TransitionClosed
		ev.Side = e.Side.PositionSide().Opposite()
		ev.ExitPrice = e.AvgPrice
	} else {
		ev.Kind = domain.TransitionOpened
		ev.Side = e.Side.PositionSide()
		ev.EntryPrice = e.AvgPrice
		ev.Margin = domain.MarginSetting{Mode: e.MarginMode, Leverage: e.Leverage}
	}
	return ev, true
}

// ObserveAll 按顺序对一批更新调用 Observe
func (d *StreamDiffer) ObserveAll(events []domain.OrderEvent) []domain.TransitionEvent {
	var out []domain.TransitionEvent
	for _, e := range events {
		if ev, ok := d.Observe(e); ok {
			out = append(out, ev)
		}
	}
	return out
}

func streamKey(e domain.OrderEvent) string {
	if e.PositionSide != "" {
		return e.Symbol + "|" + e.PositionSide
	}
	return e.Symbol
}
