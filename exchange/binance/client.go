// Package binance 基于 go-binance 的币安 U 本位合约适配器
package binance

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/gocopy/exchange/internal/wire"
	"github.com/betbot/gocopy/internal/domain"
	"github.com/betbot/gocopy/pkg/cache"
	"github.com/betbot/gocopy/pkg/logger"
)

const (
	Name = "binance"

	contractType = "USD_M"
	stepTTL      = time.Hour

	// -4046 No need to change margin type
	codeNoMarginChange = -4046
)

type Client struct {
	cred domain.Credential
	api  *futures.Client

	steps    *cache.InMemoryCache[string, decimal.Decimal]
	stepMu   sync.Mutex
	log      *logrus.Entry
	synced   bool
	syncedMu sync.Mutex
}

type Option func(*Client)

// WithBaseURL 指定 REST 地址（例如测试服务器）
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.api.BaseURL = strings.TrimSuffix(u, "/")
		}
	}
}

func NewClient(cred domain.Credential, opts ...Option) *Client {
	c := &Client{
		cred:  cred,
		api:   gobinance.NewFuturesClient(cred.APIKey, cred.APISecret),
		steps: cache.NewInMemoryCache[string, decimal.Decimal](stepTTL),
		log:   logger.Component("binance").WithField("account", cred.Label()),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Name() string { return Name }

func (c *Client) Close() error {
	c.steps.Close()
	return nil
}

// SyncTime 同步服务器时间。签名请求首次调用时会自动同步一次，
// 长时间空闲后需再次调用
func (c *Client) SyncTime(ctx context.Context) error {
	offset, err := c.api.NewSetServerTimeService().Do(ctx)
	if err != nil {
		return classify(err)
	}
	c.syncedMu.Lock()
	c.synced = true
	c.syncedMu.Unlock()
	c.log.Debugf("server time offset %dms", offset)
	return nil
}

func (c *Client) ensureSynced(ctx context.Context) {
	c.syncedMu.Lock()
	synced := c.synced
	c.syncedMu.Unlock()
	if synced {
		return
	}
	if err := c.SyncTime(ctx); err != nil {
		c.log.WithError(err).Warn("server time sync failed, using local clock")
	}
}

// classify 将 go-binance 错误映射到领域错误分类
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -2014, -2015, -1022:
			return errors.Wrapf(domain.ErrAuth, "binance %d: %s", apiErr.Code, apiErr.Message)
		case -1121:
			return errors.Wrapf(domain.ErrResolution, "binance %d: %s", apiErr.Code, apiErr.Message)
		}
		return errors.WithStack(apiErr)
	}
	return domain.Classify(err)
}

// normSymbol BTC-USDT、btcusdt 统一为 BTCUSDT
func normSymbol(s string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", ""))
}

func isNoChange(err error) bool {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == codeNoMarginChange || domain.NoChangeNeeded(apiErr.Message)
	}
	return false
}

func (c *Client) loadSteps(ctx context.Context) error {
	c.stepMu.Lock()
	defer c.stepMu.Unlock()

	info, err := c.api.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return classify(err)
	}
	for _, s := range info.Symbols {
		for _, f := range s.Filters {
			if f["filterType"] != "LOT_SIZE" {
				continue
			}
			if step, ok := f["stepSize"].(string); ok {
				c.steps.Set(s.Symbol, wire.ParseDecimal(step), 0)
			}
		}
	}
	return nil
}

func (c *Client) InstrumentID(ctx context.Context, symbol, _ string) (string, error) {
	if _, err := c.LotSize(ctx, symbol, ""); err != nil {
		return "", err
	}
	return normSymbol(symbol), nil
}

// LotSize exchangeInfo 中的 LOT_SIZE 步长
func (c *Client) LotSize(ctx context.Context, symbol, _ string) (decimal.Decimal, error) {
	symbol = normSymbol(symbol)
	if step, ok := c.steps.Get(symbol); ok {
		return step, nil
	}
	if err := c.loadSteps(ctx); err != nil {
		return decimal.Zero, err
	}
	if step, ok := c.steps.Get(symbol); ok {
		return step, nil
	}
	return decimal.Zero, errors.Wrapf(domain.ErrResolution, "binance symbol %q", symbol)
}

func (c *Client) LastPrice(ctx context.Context, symbol, _ string) (decimal.Decimal, error) {
	prices, err := c.api.NewListPricesService().Symbol(normSymbol(symbol)).Do(ctx)
	if err != nil {
		return decimal.Zero, classify(err)
	}
	if len(prices) == 0 {
		return decimal.Zero, errors.Wrapf(domain.ErrResolution, "binance price %q", symbol)
	}
	return wire.ParseDecimal(prices[0].Price), nil
}

func (c *Client) positionRisk(ctx context.Context, symbol string) ([]*futures.PositionRisk, error) {
	c.ensureSynced(ctx)
	svc := c.api.NewGetPositionRiskService()
	if symbol != "" {
		svc = svc.Symbol(normSymbol(symbol))
	}
	risks, err := svc.Do(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return risks, nil
}

func (c *Client) MarginMode(ctx context.Context, symbol, _ string) (domain.MarginSetting, error) {
	risks, err := c.positionRisk(ctx, symbol)
	if err != nil {
		return domain.MarginSetting{}, err
	}
	if len(risks) == 0 {
		return domain.MarginSetting{}, errors.Wrapf(domain.ErrResolution, "binance position risk %q", symbol)
	}
	return domain.MarginSetting{
		Mode:     domain.ParseMarginMode(risks[0].MarginType),
		Leverage: wire.ParseInt(risks[0].Leverage),
	}, nil
}

func (c *Client) SetMarginMode(ctx context.Context, symbol string, setting domain.MarginSetting, _ string) error {
	c.ensureSynced(ctx)
	symbol = normSymbol(symbol)
	if setting.Mode != "" {
		mt := futures.MarginTypeCrossed
		if setting.Mode == domain.MarginIsolated {
			mt = futures.MarginTypeIsolated
		}
		err := c.api.NewChangeMarginTypeService().Symbol(symbol).MarginType(mt).Do(ctx)
		if err != nil && !isNoChange(err) {
			return classify(err)
		}
	}
	if setting.Leverage > 0 {
		if _, err := c.api.NewChangeLeverageService().Symbol(symbol).Leverage(setting.Leverage).Do(ctx); err != nil {
			return classify(err)
		}
	}
	return nil
}

func orderSide(s domain.OrderSide) futures.SideType {
	if s == domain.OrderSideSell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

// hedgeSide 双向持仓返回 positionSide，单向持仓返回 ""
func hedgeSide(ps string) futures.PositionSideType {
	switch strings.ToUpper(ps) {
	case "LONG":
		return futures.PositionSideTypeLong
	case "SHORT":
		return futures.PositionSideTypeShort
	}
	return ""
}

func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.Result, error) {
	c.ensureSynced(ctx)
	svc := c.api.NewCreateOrderService().
		Symbol(normSymbol(req.Symbol)).
		Side(orderSide(req.Side)).
		Quantity(req.Quantity.String())
	if !req.Market && req.Price.IsPositive() {
		svc = svc.Type(futures.OrderTypeLimit).TimeInForce(futures.TimeInForceTypeGTC).Price(req.Price.String())
	} else {
		svc = svc.Type(futures.OrderTypeMarket)
	}
	if ps := hedgeSide(req.PositionSide); ps != "" {
		svc = svc.PositionSide(ps)
	} else if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return domain.Result{}, classify(err)
	}
	return domain.Result{OrderID: strconv.FormatInt(res.OrderID, 10), HTTPStatus: 200}, nil
}

func (c *Client) toPosition(r *futures.PositionRisk) domain.Position {
	qty := wire.ParseDecimal(r.PositionAmt)
	return domain.Position{
		AccountID:    c.cred.AccountID,
		Symbol:       r.Symbol,
		ContractType: contractType,
		Side:         domain.SideFromQty(qty),
		Qty:          qty,
		EntryPrice:   wire.ParseDecimal(r.EntryPrice),
		Leverage:     wire.ParseInt(r.Leverage),
		MarginMode:   domain.ParseMarginMode(r.MarginType),
		PositionSide: r.PositionSide,
	}
}

// Positions 查询非零持仓。双向持仓同一交易对的两条腿组合键相同，
// 快照中只会保留其中一条
func (c *Client) Positions(ctx context.Context, q domain.PositionQuery) ([]domain.Position, error) {
	risks, err := c.positionRisk(ctx, q.Symbol)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Position, 0, len(risks))
	for _, r := range risks {
		p := c.toPosition(r)
		if p.Qty.IsZero() {
			continue
		}
		if q.Side != "" && p.Side != q.Side {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (c *Client) ClosePosition(ctx context.Context, req domain.CloseRequest) (domain.Result, error) {
	positions, err := c.Positions(ctx, domain.PositionQuery{Symbol: req.Symbol, Side: req.Side})
	if err != nil {
		return domain.Result{}, err
	}
	if len(positions) == 0 {
		return domain.Result{}, errors.Wrapf(domain.ErrNoPosition, "binance %s %s", req.Symbol, req.Side)
	}
	p := positions[0]
	return c.PlaceOrder(ctx, domain.OrderRequest{
		Symbol:       p.Symbol,
		Side:         p.Side.Closing(),
		Quantity:     req.Quantity,
		Market:       true,
		PositionSide: p.PositionSide,
		ReduceOnly:   true,
	})
}
