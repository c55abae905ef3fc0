// Package blockfin Blockfin 永续合约适配器：使用 ACCESS-* HMAC 头认证的
// REST 客户端，以及私有订单推送
package blockfin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/gocopy/exchange/internal/wire"
	"github.com/betbot/gocopy/exchange/signing"
	"github.com/betbot/gocopy/internal/domain"
	"github.com/betbot/gocopy/internal/ports"
	"github.com/betbot/gocopy/pkg/cache"
	"github.com/betbot/gocopy/pkg/logger"
	sdkhttp "github.com/betbot/gocopy/pkg/sdk/http"
)

const (
	Name = "blockfin"

	DefaultBaseURL = "https://openapi.blockfin.com"

	pathInstruments   = "/api/v1/market/instruments"
	pathTickers       = "/api/v1/market/tickers"
	pathMarginMode    = "/api/v1/account/margin-mode"
	pathSetMarginMode = "/api/v1/account/set-margin-mode"
	pathLeverageInfo  = "/api/v1/account/batch-leverage-info"
	pathSetLeverage   = "/api/v1/account/set-leverage"
	pathPositions     = "/api/v1/account/positions"
	pathOrder         = "/api/v1/trade/order"

	instrumentTTL = time.Hour
)

type instrument struct {
	InstID        string      `json:"instId"`
	ContractValue wire.String `json:"contractValue"`
	LotSize       wire.String `json:"lotSize"`
	MinSize       wire.String `json:"minSize"`
	State         string      `json:"state"`
}

type envelope struct {
	Code wire.String     `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// Client 单个账户的 Blockfin 客户端，并发安全
type Client struct {
	cred    domain.Credential
	baseURL string
	exec    ports.Executor
	signer  signing.Signer

	instruments *cache.InMemoryCache[string, instrument]
	log         *logrus.Entry
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimSuffix(u, "/")
		}
	}
}

func WithSigner(s signing.Signer) Option {
	return func(c *Client) { c.signer = s }
}

func NewClient(cred domain.Credential, exec ports.Executor, opts ...Option) *Client {
	c := &Client{
		cred:        cred,
		baseURL:     DefaultBaseURL,
		exec:        exec,
		instruments: cache.NewInMemoryCache[string, instrument](instrumentTTL),
		log:         logger.Component("blockfin").WithField("account", cred.Label()),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Name() string { return Name }

// Close 停止合约缓存清理协程
func (c *Client) Close() error {
	c.instruments.Close()
	return nil
}

// call 签名并发送请求，解开 {code,msg,data} 外层，
// 将 data 解码到 out
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body any, out any) (int, error) {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var raw []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, errors.Wrap(err, "encode body")
		}
		raw = b
	}
	sig := c.signer.Sign(c.cred.APISecret, method, path, raw)
	headers := signing.NewAccessHeaders(c.cred.APIKey, c.cred.Passphrase, sig).Map()

	resp, err := c.exec.Execute(ctx, ports.SignedRequest{
		Method:  method,
		BaseURL: c.baseURL,
		Path:    path,
		Headers: headers,
		Body:    raw,
	})
	if err != nil {
		return 0, domain.Classify(errors.Wrapf(err, "%s %s", method, path))
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return resp.Status, domain.Classify(&sdkhttp.HTTPError{Status: resp.Status, Body: string(resp.Body)})
	}

	var env envelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return resp.Status, errors.Wrapf(err, "decode %s", path)
	}
	if env.Code != "0" {
		return resp.Status, &APIError{Status: resp.Status, Code: env.Code.String(), Msg: env.Msg}
	}
	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return resp.Status, errors.Wrapf(err, "decode %s data", path)
		}
	}
	return resp.Status, nil
}

func (c *Client) loadInstruments(ctx context.Context) error {
	var list []instrument
	if _, err := c.call(ctx, http.MethodGet, pathInstruments, nil, nil, &list); err != nil {
		return err
	}
	for _, in := range list {
		c.instruments.Set(in.InstID, in, 0)
	}
	c.log.Debugf("loaded %d instruments", len(list))
	return nil
}

func normalizeInstID(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if strings.Contains(s, "-") || !strings.HasSuffix(s, "USDT") {
		return s
	}
	return strings.TrimSuffix(s, "USDT") + "-USDT"
}

func (c *Client) instrument(ctx context.Context, symbol string) (instrument, error) {
	id := normalizeInstID(symbol)
	if in, ok := c.instruments.Get(id); ok {
		return in, nil
	}
	if err := c.loadInstruments(ctx); err != nil {
		return instrument{}, err
	}
	if in, ok := c.instruments.Get(id); ok {
		return in, nil
	}
	return instrument{}, errors.Wrapf(domain.ErrResolution, "blockfin instrument %q", symbol)
}

// InstrumentID 将 BTCUSDT 或 BTC-USDT 解析为交易所的 instId
func (c *Client) InstrumentID(ctx context.Context, symbol, _ string) (string, error) {
	in, err := c.instrument(ctx, symbol)
	if err != nil {
		return "", err
	}
	return in.InstID, nil
}

func wireMarginMode(m domain.MarginMode) string {
	if m == domain.MarginIsolated {
		return "isolated"
	}
	return "cross"
}

func (c *Client) MarginMode(ctx context.Context, symbol, _ string) (domain.MarginSetting, error) {
	var mm struct {
		MarginMode string `json:"marginMode"`
	}
	if _, err := c.call(ctx, http.MethodGet, pathMarginMode, nil, nil, &mm); err != nil {
		return domain.MarginSetting{}, err
	}
	setting := domain.MarginSetting{Mode: domain.ParseMarginMode(mm.MarginMode)}
	if setting.Mode == "" {
		setting.Mode = domain.MarginCross
	}

	var levs []struct {
		InstID   string      `json:"instId"`
		Leverage wire.String `json:"leverage"`
	}
	q := url.Values{"instId": {normalizeInstID(symbol)}, "marginMode": {wireMarginMode(setting.Mode)}}
	if _, err := c.call(ctx, http.MethodGet, pathLeverageInfo, q, nil, &levs); err != nil {
		c.log.WithError(err).Debugf("leverage info for %s unavailable", symbol)
		return setting, nil
	}
	if len(levs) > 0 {
		setting.Leverage = levs[0].Leverage.Int()
	}
	return setting, nil
}

// SetMarginMode 先设置保证金模式，已知杠杆时再设置杠杆。
// "无需修改"类回复视为成功
func (c *Client) SetMarginMode(ctx context.Context, symbol string, setting domain.MarginSetting, _ string) error {
	mode := wireMarginMode(setting.Mode)
	if setting.Mode != "" {
		body := map[string]string{"marginMode": mode}
		if _, err := c.call(ctx, http.MethodPost, pathSetMarginMode, nil, body, nil); err != nil && !noChange(err) {
			return err
		}
	}
	if setting.Leverage > 0 {
		body := struct {
			InstID     string `json:"instId"`
			Leverage   string `json:"leverage"`
			MarginMode string `json:"marginMode"`
		}{normalizeInstID(symbol), decimal.NewFromInt(int64(setting.Leverage)).String(), mode}
		if _, err := c.call(ctx, http.MethodPost, pathSetLeverage, nil, body, nil); err != nil && !noChange(err) {
			return err
		}
	}
	return nil
}

type orderBody struct {
	InstID       string `json:"instId"`
	MarginMode   string `json:"marginMode"`
	PositionSide string `json:"positionSide,omitempty"`
	Side         string `json:"side"`
	OrderType    string `json:"orderType"`
	Price        string `json:"price"`
	Size         string `json:"size"`
	ReduceOnly   string `json:"reduceOnly,omitempty"`
}

type orderAck struct {
	OrderID wire.String `json:"orderId"`
	Code    wire.String `json:"code"`
	Msg     string      `json:"msg"`
}

func (c *Client) submit(ctx context.Context, body orderBody) (domain.Result, error) {
	var acks []orderAck
	status, err := c.call(ctx, http.MethodPost, pathOrder, nil, body, &acks)
	if err != nil {
		return domain.Result{HTTPStatus: status}, err
	}
	res := domain.Result{HTTPStatus: status}
	if len(acks) > 0 {
		if acks[0].Code != "" && acks[0].Code != "0" {
			return res, &APIError{Status: status, Code: acks[0].Code.String(), Msg: acks[0].Msg}
		}
		res.OrderID = acks[0].OrderID.String()
	}
	return res, nil
}

func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.Result, error) {
	in, err := c.instrument(ctx, req.Symbol)
	if err != nil {
		return domain.Result{}, err
	}
	body := orderBody{
		InstID:       in.InstID,
		MarginMode:   wireMarginMode(req.Margin.Mode),
		PositionSide: strings.ToLower(req.PositionSide),
		Side:         strings.ToLower(string(req.Side)),
		OrderType:    "market",
		Size:         req.Quantity.String(),
	}
	if !req.Market && req.Price.IsPositive() {
		body.OrderType = "limit"
		body.Price = req.Price.String()
	}
	if req.ReduceOnly {
		body.ReduceOnly = "true"
	}
	return c.submit(ctx, body)
}

type position struct {
	PositionID   wire.String `json:"positionId"`
	InstID       string      `json:"instId"`
	MarginMode   string      `json:"marginMode"`
	PositionSide string      `json:"positionSide"`
	Positions    wire.String `json:"positions"`
	Position     wire.String `json:"position"`
	AveragePrice wire.String `json:"averagePrice"`
	Leverage     wire.String `json:"leverage"`
	UpdateTime   wire.String `json:"updateTime"`
}

func (p position) toDomain(accountID string) domain.Position {
	qty := wire.FirstDecimal(p.Positions, p.Position)
	out := domain.Position{
		ID:           p.PositionID.String(),
		AccountID:    accountID,
		Symbol:       p.InstID,
		Side:         domain.SideFromQty(qty),
		Qty:          qty,
		EntryPrice:   p.AveragePrice.Decimal(),
		Leverage:     p.Leverage.Int(),
		MarginMode:   domain.ParseMarginMode(p.MarginMode),
		PositionSide: p.PositionSide,
	}
	if ms := int64(p.UpdateTime.Int()); ms > 0 {
		out.UpdatedAt = time.UnixMilli(ms)
	}
	// 双向持仓模式下空头腿返回的是正数
	if strings.EqualFold(p.PositionSide, "short") && qty.IsPositive() {
		out.Qty = qty.Neg()
		out.Side = domain.SideShort
	}
	return out
}

// Positions 查询当前持仓（该接口不分页）
func (c *Client) Positions(ctx context.Context, q domain.PositionQuery) ([]domain.Position, error) {
	var query url.Values
	if q.Symbol != "" {
		query = url.Values{"instId": {normalizeInstID(q.Symbol)}}
	}
	var list []position
	if _, err := c.call(ctx, http.MethodGet, pathPositions, query, nil, &list); err != nil {
		return nil, err
	}
	out := make([]domain.Position, 0, len(list))
	for _, p := range list {
		dp := p.toDomain(c.cred.AccountID)
		if dp.Qty.IsZero() {
			continue
		}
		if q.Side != "" && q.Side != dp.Side {
			continue
		}
		out = append(out, dp)
	}
	return out, nil
}

// ClosePosition 对该交易对第一个持仓下反向只减仓市价单
func (c *Client) ClosePosition(ctx context.Context, req domain.CloseRequest) (domain.Result, error) {
	positions, err := c.Positions(ctx, domain.PositionQuery{Symbol: req.Symbol, Side: req.Side})
	if err != nil {
		return domain.Result{}, err
	}
	if len(positions) == 0 {
		return domain.Result{}, errors.Wrapf(domain.ErrNoPosition, "blockfin %s", req.Symbol)
	}
	p := positions[0]
	side := "buy"
	if p.Qty.IsPositive() {
		side = "sell"
	}
	return c.submit(ctx, orderBody{
		InstID:       p.Symbol,
		MarginMode:   wireMarginMode(p.MarginMode),
		PositionSide: strings.ToLower(p.PositionSide),
		Side:         side,
		OrderType:    "market",
		Size:         req.Quantity.String(),
		ReduceOnly:   "true",
	})
}

// LotSize 合约下单数量步长
func (c *Client) LotSize(ctx context.Context, symbol, _ string) (decimal.Decimal, error) {
	in, err := c.instrument(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return in.LotSize.Decimal(), nil
}

func (c *Client) LastPrice(ctx context.Context, symbol, _ string) (decimal.Decimal, error) {
	var tickers []struct {
		InstID string      `json:"instId"`
		Last   wire.String `json:"last"`
	}
	q := url.Values{"instId": {normalizeInstID(symbol)}}
	if _, err := c.call(ctx, http.MethodGet, pathTickers, q, nil, &tickers); err != nil {
		return decimal.Zero, err
	}
	if len(tickers) == 0 {
		return decimal.Zero, errors.Wrapf(domain.ErrResolution, "blockfin ticker %q", symbol)
	}
	return tickers[0].Last.Decimal(), nil
}
