package blockfin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/gocopy/exchange/internal/wire"
	"github.com/betbot/gocopy/exchange/signing"
	"github.com/betbot/gocopy/internal/domain"
	"github.com/betbot/gocopy/pkg/logger"
)

const (
	DefaultWSURL = "wss://openapi.blockfin.com/ws/private"

	defaultPingInterval = 25 * time.Second
	loginTimeout        = 10 * time.Second
	writeTimeout        = 5 * time.Second
)

type StreamConfig struct {
	URL          string
	PingInterval time.Duration
	ProxyURL     string
	Signer       signing.Signer
}

type wsFrame struct {
	Event string      `json:"event"`
	Code  wire.String `json:"code"`
	Msg   string      `json:"msg"`
	Arg   struct {
		Channel string `json:"channel"`
	} `json:"arg"`
	Data json.RawMessage `json:"data"`
}

type wsOrder struct {
	OrderID      wire.String `json:"orderId"`
	InstID       string      `json:"instId"`
	Side         string      `json:"side"`
	State        string      `json:"state"`
	Size         wire.String `json:"size"`
	FilledSize   wire.String `json:"filledSize"`
	AveragePrice wire.String `json:"averagePrice"`
	AvgPx        wire.String `json:"avgPx"`
	FillPx       wire.String `json:"fillPx"`
	Price        wire.String `json:"price"`
	ReduceOnly   wire.String `json:"reduceOnly"`
	MarginMode   string      `json:"marginMode"`
	Leverage     wire.String `json:"leverage"`
	PositionSide string      `json:"positionSide"`
	OrderType    string      `json:"orderType"`
	UpdateTime   wire.String `json:"updateTime"`
	UTime        wire.String `json:"uTime"`
}

func (o wsOrder) toDomain() domain.OrderEvent {
	ev := domain.OrderEvent{
		OrderID:      o.OrderID.String(),
		Symbol:       o.InstID,
		Side:         domain.ParseOrderSide(o.Side),
		State:        domain.ParseOrderState(o.State),
		Size:         o.Size.Decimal(),
		AvgPrice:     wire.FirstDecimal(o.AveragePrice, o.AvgPx, o.FillPx, o.Price),
		ReduceOnly:   o.ReduceOnly.Bool(),
		MarginMode:   domain.ParseMarginMode(o.MarginMode),
		Leverage:     o.Leverage.Int(),
		PositionSide: o.PositionSide,
		OrderType:    o.OrderType,
	}
	for _, ts := range []wire.String{o.UpdateTime, o.UTime} {
		if ms := ts.Int(); ms > 0 {
			ev.UpdatedAt = time.UnixMilli(int64(ms))
			break
		}
	}
	return ev
}

type streamItem struct {
	events []domain.OrderEvent
	err    error
}

// Stream 单个账户的私有 orders 频道。Open 负责登录和订阅，
// Next 持续返回订单更新，直到连接失败
type Stream struct {
	cred domain.Credential
	cfg  StreamConfig
	log  *logrus.Entry

	mu    sync.Mutex
	conn  *websocket.Conn
	items chan streamItem
	stop  chan struct{}
	wg    sync.WaitGroup
}

func NewStream(cred domain.Credential, cfg StreamConfig) *Stream {
	if cfg.URL == "" {
		cfg.URL = DefaultWSURL
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	return &Stream{
		cred: cred,
		cfg:  cfg,
		log:  logger.Component("blockfin-stream").WithField("account", cred.Label()),
	}
}

func (s *Stream) dialer() (*websocket.Dialer, error) {
	d := &websocket.Dialer{HandshakeTimeout: loginTimeout}
	if s.cfg.ProxyURL != "" {
		u, err := url.Parse(s.cfg.ProxyURL)
		if err != nil {
			return nil, errors.Wrap(err, "proxy url")
		}
		d.Proxy = http.ProxyURL(u)
	}
	return d, nil
}

// Open 建立连接、登录并订阅 orders/SWAP，收到登录确认后才返回。
// 登录返回 error 事件时为 domain.ErrAuth
func (s *Stream) Open(ctx context.Context) error {
	_ = s.Close()

	d, err := s.dialer()
	if err != nil {
		return err
	}
	conn, _, err := d.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return domain.Classify(errors.Wrapf(err, "dial %s", s.cfg.URL))
	}

	if err := s.login(ctx, conn); err != nil {
		conn.Close()
		return err
	}
	sub := map[string]any{
		"op":   "subscribe",
		"args": []map[string]string{{"channel": "orders", "instType": "SWAP"}},
	}
	if err := writeJSON(conn, sub); err != nil {
		conn.Close()
		return errors.Wrapf(domain.ErrNetwork, "subscribe: %v", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.items = make(chan streamItem, 16)
	s.stop = make(chan struct{})
	items, stop := s.items, s.stop
	s.mu.Unlock()

	s.wg.Add(2)
	go s.readLoop(conn, items, stop)
	go s.pingLoop(conn, items, stop)
	s.log.Info("logged in and subscribed to orders")
	return nil
}

func writeJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

func (s *Stream) login(ctx context.Context, conn *websocket.Conn) error {
	arg := s.cfg.Signer.Login(s.cred.APIKey, s.cred.APISecret, s.cred.Passphrase)
	if err := writeJSON(conn, map[string]any{"op": "login", "args": []signing.LoginArg{arg}}); err != nil {
		return errors.Wrapf(domain.ErrNetwork, "login: %v", err)
	}

	deadline := time.Now().Add(loginTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return domain.Classify(errors.Wrap(err, "await login"))
		}
		if string(msg) == "pong" {
			continue
		}
		var f wsFrame
		if err := json.Unmarshal(msg, &f); err != nil {
			continue
		}
		switch f.Event {
		case "login":
			return nil
		case "error":
			return errors.Wrapf(domain.ErrAuth, "login rejected: code %s %s", f.Code, f.Msg)
		}
	}
}

func (s *Stream) readLoop(conn *websocket.Conn, items chan<- streamItem, stop <-chan struct{}) {
	defer s.wg.Done()
	emit := func(it streamItem) bool {
		select {
		case items <- it:
			return true
		case <-stop:
			return false
		}
	}
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-stop:
			default:
				emit(streamItem{err: errors.Wrapf(domain.ErrNetwork, "read: %v", err)})
			}
			return
		}
		if strings.TrimSpace(string(msg)) == "pong" {
			continue
		}
		var f wsFrame
		if err := json.Unmarshal(msg, &f); err != nil {
			s.log.WithError(err).Debug("skip undecodable frame")
			continue
		}
		if f.Event == "error" {
			if !emit(streamItem{err: errors.Errorf("stream error: code %s %s", f.Code, f.Msg)}) {
				return
			}
			continue
		}
		if len(f.Data) == 0 || f.Data[0] != '[' {
			continue
		}
		var orders []wsOrder
		if err := json.Unmarshal(f.Data, &orders); err != nil {
			s.log.WithError(err).Warn("skip malformed order frame")
			continue
		}
		events := make([]domain.OrderEvent, 0, len(orders))
		for _, o := range orders {
			events = append(events, o.toDomain())
		}
		if len(events) > 0 && !emit(streamItem{events: events}) {
			return
		}
	}
}

// pingLoop 心跳保活。ping 失败即结束会话：
// 错误交给 Next，并关闭连接让 readLoop 退出
func (s *Stream) pingLoop(conn *websocket.Conn, items chan<- streamItem, stop <-chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			err := writeJSON(conn, map[string]string{"op": "ping"})
			s.mu.Unlock()
			if err != nil {
				s.log.WithError(err).Warn("ping failed")
				select {
				case items <- streamItem{err: errors.Wrapf(domain.ErrNetwork, "ping: %v", err)}:
				case <-stop:
				}
				_ = conn.Close()
				return
			}
		}
	}
}

// Next 阻塞直到收到订单事件、会话失败或 ctx 结束
func (s *Stream) Next(ctx context.Context) ([]domain.OrderEvent, error) {
	s.mu.Lock()
	items := s.items
	s.mu.Unlock()
	if items == nil {
		return nil, errors.Wrap(domain.ErrNetwork, "stream not open")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case it := <-items:
		return it.events, it.err
	}
}

func (s *Stream) Close() error {
	s.mu.Lock()
	conn, stop := s.conn, s.stop
	s.conn, s.stop = nil, nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	close(stop)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	err := conn.Close()
	s.wg.Wait()
	return err
}
