package ports

import (
	"context"

	"github.com/betbot/gocopy/internal/domain"
	"github.com/shopspring/decimal"
)

// Exchange 交易所适配器需实现的能力集合，
// differ 和 dispatcher 只依赖该接口
type Exchange interface {
	Name() string
	// InstrumentID 解析合约，未知时返回 domain.ErrResolution
	InstrumentID(ctx context.Context, symbol, contractType string) (string, error)
	MarginMode(ctx context.Context, symbol, contractType string) (domain.MarginSetting, error)
	// SetMarginMode 尽力而为，"无需修改"视为成功
	SetMarginMode(ctx context.Context, symbol string, setting domain.MarginSetting, contractType string) error
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.Result, error)
	// Positions 只返回一页，需要完整结果时由调用方翻页
	Positions(ctx context.Context, q domain.PositionQuery) ([]domain.Position, error)
	// ClosePosition 无匹配持仓时返回 domain.ErrNoPosition
	ClosePosition(ctx context.Context, req domain.CloseRequest) (domain.Result, error)
}

// MarketInfo 能提供下单步长和最新价的适配器实现
type MarketInfo interface {
	LotSize(ctx context.Context, symbol, contractType string) (decimal.Decimal, error)
	LastPrice(ctx context.Context, symbol, contractType string) (decimal.Decimal, error)
}
