package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransitionKind 主账户仓位变动类型
type TransitionKind string

const (
	TransitionOpened          TransitionKind = "OPENED"
	TransitionScaledIn        TransitionKind = "SCALED_IN"
	TransitionPartiallyClosed TransitionKind = "PARTIALLY_CLOSED"
	TransitionReversed        TransitionKind = "REVERSED"
	TransitionClosed          TransitionKind = "CLOSED"
)

// Origin 事件来源（轮询或推送）
type Origin string

const (
	OriginPoll   Origin = "poll"
	OriginStream Origin = "stream"
)

// TransitionEvent 已分类的主账户仓位变动
//
// Side 和 Delta 描述变动后的持仓（平仓类事件为被减少的方向）。
// REVERSED 事件还在 PrevSide 和 CloseQty 中携带
// 原方向和原全部数量
type TransitionEvent struct {
	Kind         TransitionKind
	Origin       Origin
	Key          string
	Symbol       string
	ContractType string
	Side         Side
	Delta        decimal.Decimal
	PrevSide     Side
	CloseQty     decimal.Decimal
	EntryPrice   decimal.Decimal
	ExitPrice    decimal.Decimal
	Margin       MarginSetting
	PositionSide string
	PositionID   string
	OrderID      string
	At           time.Time
}

// NeedsMargin 事件是否会在跟单账户上开仓
func (e TransitionEvent) NeedsMargin() bool {
	switch e.Kind {
	case TransitionOpened, TransitionScaledIn, TransitionReversed:
		return true
	}
	return false
}

// ActionKind 跟单侧动作类型
type ActionKind string

const (
	ActionOpen  ActionKind = "open"
	ActionClose ActionKind = "close"
)

// Action 由仓位变动推导出的一条跟单指令
// RefPrice 为主账户参考价，未知时为 0
type Action struct {
	Kind         ActionKind
	Symbol       string
	ContractType string
	Side         Side
	Quantity     decimal.Decimal
	RefPrice     decimal.Decimal
	Margin       MarginSetting
	PositionSide string
}

// Actions 将事件展开为有序的跟单步骤。
// REVERSED 先全平旧仓，再开新仓
func (e TransitionEvent) Actions() []Action {
	base := Action{
		Symbol:       e.Symbol,
		ContractType: e.ContractType,
		PositionSide: e.PositionSide,
	}
	switch e.Kind {
	case TransitionOpened, TransitionScaledIn:
		a := base
		a.Kind = ActionOpen
		a.Side = e.Side
		a.Quantity = e.Delta
		a.RefPrice = e.EntryPrice
		a.Margin = e.Margin
		return []Action{a}
	case TransitionPartiallyClosed, TransitionClosed:
		a := base
		a.Kind = ActionClose
		a.Side = e.Side
		a.Quantity = e.Delta
		a.RefPrice = e.ExitPrice
		return []Action{a}
	case TransitionReversed:
		c := base
		c.Kind = ActionClose
		c.Side = e.PrevSide
		c.Quantity = e.CloseQty
		o := base
		o.Kind = ActionOpen
		o.Side = e.Side
		o.Quantity = e.Delta
		o.RefPrice = e.EntryPrice
		o.Margin = e.Margin
		return []Action{c, o}
	}
	return nil
}
