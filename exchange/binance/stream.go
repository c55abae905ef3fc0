package binance

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/gocopy/exchange/internal/wire"
	"github.com/betbot/gocopy/internal/domain"
	"github.com/betbot/gocopy/pkg/logger"
)

const keepaliveInterval = 30 * time.Minute

type serveFunc func(listenKey string, handler futures.WsUserDataHandler, errHandler futures.ErrHandler) (chan struct{}, chan struct{}, error)

type listenKeys interface {
	Start(ctx context.Context) (string, error)
	Keepalive(ctx context.Context, key string) error
	Close(ctx context.Context, key string) error
}

type restListenKeys struct{ api *futures.Client }

func (r restListenKeys) Start(ctx context.Context) (string, error) {
	return r.api.NewStartUserStreamService().Do(ctx)
}

func (r restListenKeys) Keepalive(ctx context.Context, key string) error {
	return r.api.NewKeepaliveUserStreamService().ListenKey(key).Do(ctx)
}

func (r restListenKeys) Close(ctx context.Context, key string) error {
	return r.api.NewCloseUserStreamService().ListenKey(key).Do(ctx)
}

type streamItem struct {
	events []domain.OrderEvent
	err    error
}

// Stream 单个账户的合约用户数据流，
// 只处理 ORDER_TRADE_UPDATE 事件
type Stream struct {
	keys      listenKeys
	serve     serveFunc
	keepEvery time.Duration
	log       *logrus.Entry

	mu        sync.Mutex
	listenKey string
	items     chan streamItem
	stopC     chan struct{}
	doneC     chan struct{}
	quit      chan struct{}
}

func NewStream(c *Client) *Stream {
	return &Stream{
		keys:      restListenKeys{api: c.api},
		serve:     futures.WsUserDataServe,
		keepEvery: keepaliveInterval,
		log:       logger.Component("binance-stream").WithField("account", c.cred.Label()),
	}
}

func (s *Stream) Open(ctx context.Context) error {
	_ = s.Close()

	key, err := s.keys.Start(ctx)
	if err != nil {
		return classify(err)
	}
	items := make(chan streamItem, 16)
	quit := make(chan struct{})
	push := func(it streamItem) {
		select {
		case items <- it:
		case <-quit:
		}
	}
	handler := func(ev *futures.WsUserDataEvent) {
		if ev == nil || ev.Event != futures.UserDataEventTypeOrderTradeUpdate {
			return
		}
		push(streamItem{events: []domain.OrderEvent{toOrderEvent(ev.OrderTradeUpdate, ev.Time)}})
	}
	errHandler := func(err error) {
		push(streamItem{err: errors.Wrapf(domain.ErrNetwork, "user stream: %v", err)})
	}
	doneC, stopC, err := s.serve(key, handler, errHandler)
	if err != nil {
		return domain.Classify(errors.Wrap(err, "user stream dial"))
	}

	s.mu.Lock()
	s.listenKey, s.items, s.stopC, s.doneC, s.quit = key, items, stopC, doneC, quit
	s.mu.Unlock()

	go s.watch(doneC, quit, push)
	go s.keepalive(key, quit)
	s.log.Info("user data stream opened")
	return nil
}

// watch websocket 结束即视为会话失败
func (s *Stream) watch(doneC, quit chan struct{}, push func(streamItem)) {
	select {
	case <-doneC:
		push(streamItem{err: errors.Wrap(domain.ErrNetwork, "user stream closed")})
	case <-quit:
	}
}

func (s *Stream) keepalive(key string, quit chan struct{}) {
	ticker := time.NewTicker(s.keepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := s.keys.Keepalive(ctx, key); err != nil {
				s.log.WithError(err).Warn("listen key keepalive failed")
			}
			cancel()
		}
	}
}

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
	key, stopC, quit := s.listenKey, s.stopC, s.quit
	s.listenKey, s.stopC, s.quit = "", nil, nil
	s.mu.Unlock()
	if quit == nil {
		return nil
	}
	close(quit)
	if stopC != nil {
		close(stopC)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.keys.Close(ctx, key); err != nil {
		s.log.WithError(err).Debug("close listen key")
	}
	return nil
}

// toOrderEvent 双向持仓的平仓单（LONG 上的 SELL、SHORT 上的 BUY）
// 标记为 ReduceOnly，按平仓处理
func toOrderEvent(u futures.WsOrderTradeUpdate, eventMs int64) domain.OrderEvent {
	side := domain.ParseOrderSide(string(u.Side))
	ps := strings.ToUpper(string(u.PositionSide))
	reduce := u.IsReduceOnly ||
		(side == domain.OrderSideSell && ps == "LONG") ||
		(side == domain.OrderSideBuy && ps == "SHORT")

	size := wire.ParseDecimal(u.AccumulatedFilledQty)
	if size.IsZero() {
		size = wire.ParseDecimal(u.OriginalQty)
	}
	price := wire.ParseDecimal(u.AveragePrice)
	if price.IsZero() {
		price = wire.ParseDecimal(u.LastFilledPrice)
	}
	ev := domain.OrderEvent{
		OrderID:      strconv.FormatInt(u.ID, 10),
		Symbol:       u.Symbol,
		Side:         side,
		State:        domain.ParseOrderState(string(u.Status)),
		Size:         size,
		AvgPrice:     price,
		ReduceOnly:   reduce,
		PositionSide: string(u.PositionSide),
		OrderType:    string(u.Type),
	}
	ms := u.TradeTime
	if ms == 0 {
		ms = eventMs
	}
	if ms > 0 {
		ev.UpdatedAt = time.UnixMilli(ms)
	}
	return ev
}
