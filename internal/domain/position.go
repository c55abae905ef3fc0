package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side 持仓方向
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
	SideFlat  Side = "FLAT"
)

// SideFromQty 根据带符号数量得到持仓方向
func SideFromQty(q decimal.Decimal) Side {
	switch q.Sign() {
	case 1:
		return SideLong
	case -1:
		return SideShort
	default:
		return SideFlat
	}
}

// ParseSide 同时接受 LONG/SHORT 和 buy/sell 写法
func ParseSide(s string) Side {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LONG", "BUY":
		return SideLong
	case "SHORT", "SELL":
		return SideShort
	case "":
		return ""
	default:
		return SideFlat
	}
}

// Opening 开仓（加仓）使用的订单方向
func (s Side) Opening() OrderSide {
	if s == SideShort {
		return OrderSideSell
	}
	return OrderSideBuy
}

// Closing 平仓（减仓）使用的订单方向
func (s Side) Closing() OrderSide {
	if s == SideShort {
		return OrderSideBuy
	}
	return OrderSideSell
}

// Opposite 多空互换，FLAT 保持不变
func (s Side) Opposite() Side {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	}
	return s
}

// OrderSide 与交易所无关的订单方向
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// ParseOrderSide 解析 buy/sell（不区分大小写）
func ParseOrderSide(s string) OrderSide {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return OrderSideBuy
	case "SELL":
		return OrderSideSell
	default:
		return ""
	}
}

// PositionSide 该方向成交后开出的持仓方向
func (s OrderSide) PositionSide() Side {
	if s == OrderSideSell {
		return SideShort
	}
	return SideLong
}

type MarginMode string

const (
	MarginCross    MarginMode = "CROSS"
	MarginIsolated MarginMode = "ISOLATED"
)

// ParseMarginMode 兼容各交易所的写法（cross、crossed、isolated）
func ParseMarginMode(s string) MarginMode {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CROSS", "CROSSED":
		return MarginCross
	case "ISOLATED":
		return MarginIsolated
	default:
		return ""
	}
}

// MarginSetting 保证金模式与杠杆，Leverage 为 0 表示未知
type MarginSetting struct {
	Mode     MarginMode
	Leverage int
}

func (m MarginSetting) IsZero() bool { return m.Mode == "" && m.Leverage == 0 }

// Position 交易所返回的一个持仓
// Qty 带符号：正数为多，负数为空
type Position struct {
	ID           string
	AccountID    string
	Symbol       string
	ContractType string
	Side         Side
	Qty          decimal.Decimal
	EntryPrice   decimal.Decimal
	Leverage     int
	MarginMode   MarginMode
	PositionSide string
	UpdatedAt    time.Time
}

// Key 跨快照标识同一持仓。优先使用服务端 ID，
// 否则退化为 (账户, 交易对, 合约类型) 组合键，假设每个组合只有一个持仓
func (p Position) Key() string {
	if p.ID != "" {
		return "PID:" + p.ID
	}
	return fmt.Sprintf("ACC:%s|SYM:%s|CT:%s", p.AccountID, p.Symbol, p.ContractType)
}

// Snapshot 某一时刻的持仓快照（key -> 持仓）
type Snapshot map[string]Position

func NewSnapshot(positions []Position) Snapshot {
	s := make(Snapshot, len(positions))
	for _, p := range positions {
		s[p.Key()] = p
	}
	return s
}

// PositionQuery 持仓查询条件，Page/Size 为 0 时使用客户端默认值
type PositionQuery struct {
	Symbol       string
	Side         Side
	ContractType string
	Page         int
	Size         int
}
