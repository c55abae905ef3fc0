package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderState 订单推送中的生命周期状态
type OrderState string

const (
	OrderStateNew             OrderState = "NEW"
	OrderStatePartiallyFilled OrderState = "PARTIALLY_FILLED"
	OrderStateFilled          OrderState = "FILLED"
	OrderStateCanceled        OrderState = "CANCELED"
)

func ParseOrderState(s string) OrderState {
	s = strings.ToUpper(strings.TrimSpace(s))
	switch s {
	case "CANCELLED":
		return OrderStateCanceled
	case "PARTIAL_FILLED", "PARTIALLY-FILLED":
		return OrderStatePartiallyFilled
	}
	return OrderState(s)
}

// OrderEvent 主账户的一条订单推送
type OrderEvent struct {
	OrderID      string
	Symbol       string
	Side         OrderSide
	State        OrderState
	Size         decimal.Decimal
	AvgPrice     decimal.Decimal
	ReduceOnly   bool
	MarginMode   MarginMode
	Leverage     int
	PositionSide string
	OrderType    string
	UpdatedAt    time.Time
}

// DedupKey (orderId, state) 组合，最多处理一次
func (e OrderEvent) DedupKey() string {
	return e.OrderID + "|" + string(e.State)
}

// OrderRequest 与交易所无关的下单请求
// 市价单忽略 Price
type OrderRequest struct {
	Symbol       string
	ContractType string
	Side         OrderSide
	Quantity     decimal.Decimal
	Market       bool
	Price        decimal.Decimal
	Margin       MarginSetting
	PositionSide string
	ReduceOnly   bool
}

// CloseRequest 按 Quantity 减少第一个匹配的持仓
type CloseRequest struct {
	Symbol       string
	ContractType string
	Side         Side
	Quantity     decimal.Decimal
}

// Result 交易所对写操作的返回
type Result struct {
	OrderID    string
	HTTPStatus int
	Raw        string
}
