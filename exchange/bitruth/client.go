// Package bitruth Bitruth 合约适配器。请求携带通过 password 授权
// 获取的 OAuth bearer token
package bitruth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/gocopy/exchange/internal/wire"
	"github.com/betbot/gocopy/internal/domain"
	"github.com/betbot/gocopy/internal/ports"
	"github.com/betbot/gocopy/pkg/cache"
	"github.com/betbot/gocopy/pkg/logger"
	sdkhttp "github.com/betbot/gocopy/pkg/sdk/http"
)

const (
	Name = "bitruth"

	DefaultBaseURL      = "https://f-api.bitruth.com/api/v1/"
	DefaultContractType = "USD_M"
	DefaultPageSize     = 500

	instrumentTTL = time.Hour
)

type Client struct {
	cred    domain.Credential
	baseURL string
	exec    ports.Executor
	tokens  *tokenSource

	instruments *cache.InMemoryCache[string, int64]
	log         *logrus.Entry
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimSuffix(u, "/") + "/"
		}
	}
}

func WithOAuthURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.tokens.oauthURL = u
		}
	}
}

// WithClock 替换 token 过期判断使用的时钟
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.tokens.now = now }
}

func NewClient(cred domain.Credential, exec ports.Executor, opts ...Option) *Client {
	c := &Client{
		cred:        cred,
		baseURL:     DefaultBaseURL,
		exec:        exec,
		tokens:      &tokenSource{cred: cred, oauthURL: DefaultOAuthURL, exec: exec, now: time.Now},
		instruments: cache.NewInMemoryCache[string, int64](instrumentTTL),
		log:         logger.Component("bitruth").WithField("account", cred.Label()),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Name() string { return Name }

func (c *Client) Close() error {
	c.instruments.Close()
	return nil
}

func contractType(ct string) string {
	if ct == "" {
		return DefaultContractType
	}
	return ct
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) (int, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return 0, err
	}
	path = strings.TrimPrefix(path, "/")
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	headers := map[string]string{
		"Accept":        "application/json",
		"Authorization": "Bearer " + token,
	}
	var raw []byte
	if body != nil {
		if raw, err = json.Marshal(body); err != nil {
			return 0, errors.Wrap(err, "encode body")
		}
	}
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
	if resp.Status == http.StatusUnauthorized {
		c.tokens.Invalidate()
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return resp.Status, domain.Classify(&sdkhttp.HTTPError{Status: resp.Status, Body: string(resp.Body)})
	}
	if out != nil && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return resp.Status, errors.Wrapf(err, "decode %s", path)
		}
	}
	return resp.Status, nil
}

type instrument struct {
	ID           wire.String `json:"id"`
	Symbol       string      `json:"symbol"`
	ContractType string      `json:"contractType"`
}

// normSymbol BTC-USDT、btcusdt 统一为 BTCUSDT
func normSymbol(s string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", ""))
}

func instrumentKey(symbol, ct string) string {
	return normSymbol(symbol) + "|" + contractType(ct)
}

func (c *Client) instrumentID(ctx context.Context, symbol, ct string) (int64, error) {
	key := instrumentKey(symbol, ct)
	if id, ok := c.instruments.Get(key); ok {
		return id, nil
	}
	var reply struct {
		Data []instrument `json:"data"`
	}
	if _, err := c.do(ctx, http.MethodGet, "instruments", nil, nil, &reply); err != nil {
		return 0, err
	}
	for _, in := range reply.Data {
		id, err := strconv.ParseInt(in.ID.String(), 10, 64)
		if err != nil {
			continue
		}
		c.instruments.Set(instrumentKey(in.Symbol, in.ContractType), id, 0)
	}
	if id, ok := c.instruments.Get(key); ok {
		return id, nil
	}
	return 0, errors.Wrapf(domain.ErrResolution, "bitruth instrument %s/%s", symbol, contractType(ct))
}

func (c *Client) InstrumentID(ctx context.Context, symbol, ct string) (string, error) {
	id, err := c.instrumentID(ctx, symbol, ct)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 10), nil
}

func (c *Client) MarginMode(ctx context.Context, symbol, ct string) (domain.MarginSetting, error) {
	id, err := c.instrumentID(ctx, symbol, ct)
	if err != nil {
		return domain.MarginSetting{}, err
	}
	var reply struct {
		Data struct {
			MarginMode string      `json:"marginMode"`
			Mode       string      `json:"mode"`
			Leverage   wire.String `json:"leverage"`
		} `json:"data"`
	}
	q := url.Values{"instrumentId": {strconv.FormatInt(id, 10)}}
	if _, err := c.do(ctx, http.MethodGet, "marginMode", q, nil, &reply); err != nil {
		return domain.MarginSetting{}, err
	}
	mode := reply.Data.MarginMode
	if mode == "" {
		mode = reply.Data.Mode
	}
	return domain.MarginSetting{Mode: domain.ParseMarginMode(mode), Leverage: reply.Data.Leverage.Int()}, nil
}

type marginBody struct {
	InstrumentID int64  `json:"instrumentId"`
	MarginMode   string `json:"marginMode"`
	Leverage     string `json:"leverage"`
}

func (c *Client) SetMarginMode(ctx context.Context, symbol string, setting domain.MarginSetting, ct string) error {
	id, err := c.instrumentID(ctx, symbol, ct)
	if err != nil {
		return err
	}
	mode := setting.Mode
	if mode == "" {
		mode = domain.MarginCross
	}
	body := marginBody{InstrumentID: id, MarginMode: string(mode)}
	if setting.Leverage > 0 {
		body.Leverage = strconv.Itoa(setting.Leverage)
	}
	_, err = c.do(ctx, http.MethodPost, "marginMode", nil, body, nil)
	if err != nil {
		var herr *sdkhttp.HTTPError
		if errors.As(err, &herr) && domain.NoChangeNeeded(herr.Body) {
			return nil
		}
	}
	return err
}

// orderBody 市价单不带 price
type orderBody struct {
	Side         string `json:"side"`
	ContractType string `json:"contractType"`
	Symbol       string `json:"symbol"`
	Type         string `json:"type"`
	Quantity     string `json:"quantity"`
	Price        string `json:"price,omitempty"`
	TimeInForce  string `json:"timeInForce"`
	Asset        string `json:"asset"`
	TPSLType     string `json:"tpSLType"`
	IsPostOnly   bool   `json:"isPostOnly"`
}

type orderReply struct {
	Data struct {
		ID      wire.String `json:"id"`
		OrderID wire.String `json:"orderId"`
	} `json:"data"`
}

func (r orderReply) orderID() string {
	if r.Data.OrderID != "" {
		return r.Data.OrderID.String()
	}
	return r.Data.ID.String()
}

func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.Result, error) {
	body := orderBody{
		Side:         string(req.Side),
		ContractType: contractType(req.ContractType),
		Symbol:       normSymbol(req.Symbol),
		Type:         "MARKET",
		Quantity:     req.Quantity.String(),
		TimeInForce:  "GTC",
		Asset:        "USDT",
	}
	if !req.Market && req.Price.IsPositive() {
		body.Type = "LIMIT"
		body.Price = req.Price.String()
	}
	var reply orderReply
	status, err := c.do(ctx, http.MethodPost, "order", nil, body, &reply)
	if err != nil {
		return domain.Result{HTTPStatus: status}, err
	}
	return domain.Result{OrderID: reply.orderID(), HTTPStatus: status}, nil
}

type position struct {
	ID           wire.String `json:"id"`
	PositionID   wire.String `json:"positionId"`
	AccountID    wire.String `json:"accountId"`
	Symbol       string      `json:"symbol"`
	ContractType string      `json:"contractType"`
	CurrentQty   wire.String `json:"currentQty"`
	EntryPrice   wire.String `json:"entryPrice"`
	Leverage     wire.String `json:"leverage"`
	MarginMode   string      `json:"marginMode"`
	Side         string      `json:"side"`
	PositionSide string      `json:"positionSide"`
	UpdatedAt    string      `json:"updatedAt"`
}

func (p position) toDomain() domain.Position {
	id := p.ID.String()
	if id == "" {
		id = p.PositionID.String()
	}
	qty := p.CurrentQty.Decimal()
	out := domain.Position{
		ID:           id,
		AccountID:    p.AccountID.String(),
		Symbol:       p.Symbol,
		ContractType: p.ContractType,
		Side:         domain.SideFromQty(qty),
		Qty:          qty,
		EntryPrice:   p.EntryPrice.Decimal(),
		Leverage:     p.Leverage.Int(),
		MarginMode:   domain.ParseMarginMode(p.MarginMode),
		PositionSide: p.PositionSide,
	}
	if t, err := time.Parse(time.RFC3339, p.UpdatedAt); err == nil {
		out.UpdatedAt = t
	}
	return out
}

func (p position) matchesSide(side domain.Side) bool {
	if side == "" {
		return true
	}
	s, ps := strings.ToUpper(p.Side), strings.ToUpper(p.PositionSide)
	if s != "" || ps != "" {
		return s == string(side) || ps == string(side)
	}
	return domain.SideFromQty(p.CurrentQty.Decimal()) == side
}

// Positions 查询一页持仓（默认 500 条）
func (c *Client) Positions(ctx context.Context, q domain.PositionQuery) ([]domain.Position, error) {
	page, size := q.Page, q.Size
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	query := url.Values{
		"page":         {strconv.Itoa(page)},
		"size":         {strconv.Itoa(size)},
		"contractType": {contractType(q.ContractType)},
	}
	if q.Symbol != "" {
		query.Set("symbol", normSymbol(q.Symbol))
	}
	var reply struct {
		Data []position `json:"data"`
	}
	if _, err := c.do(ctx, http.MethodGet, "positions", query, nil, &reply); err != nil {
		return nil, err
	}
	out := make([]domain.Position, 0, len(reply.Data))
	for _, p := range reply.Data {
		if !p.matchesSide(q.Side) {
			continue
		}
		out = append(out, p.toDomain())
	}
	return out, nil
}

type closeBody struct {
	PositionID int64  `json:"positionId"`
	Quantity   string `json:"quantity"`
	Type       string `json:"type"`
}

// ClosePosition 对第一个匹配交易对、方向和合约类型的持仓
// 市价平掉 Quantity
func (c *Client) ClosePosition(ctx context.Context, req domain.CloseRequest) (domain.Result, error) {
	positions, err := c.Positions(ctx, domain.PositionQuery{Symbol: req.Symbol, Side: req.Side, ContractType: req.ContractType})
	if err != nil {
		return domain.Result{}, err
	}
	if len(positions) == 0 {
		return domain.Result{}, errors.Wrapf(domain.ErrNoPosition, "bitruth %s %s", req.Symbol, req.Side)
	}
	pid, err := strconv.ParseInt(positions[0].ID, 10, 64)
	if err != nil {
		return domain.Result{}, errors.Wrapf(domain.ErrResolution, "bitruth position id %q", positions[0].ID)
	}
	var reply orderReply
	status, err := c.do(ctx, http.MethodPost, "positions/close", nil, closeBody{
		PositionID: pid,
		Quantity:   req.Quantity.String(),
		Type:       "MARKET",
	}, &reply)
	if err != nil {
		return domain.Result{HTTPStatus: status}, err
	}
	return domain.Result{OrderID: reply.orderID(), HTTPStatus: status}, nil
}

func (c *Client) String() string {
	return fmt.Sprintf("bitruth(%s)", c.cred.Label())
}
