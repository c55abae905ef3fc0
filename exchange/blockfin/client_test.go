package blockfin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/gocopy/exchange/signing"
	"github.com/betbot/gocopy/internal/domain"
	"github.com/betbot/gocopy/internal/forward"
)

const testSecret = "sekret"

type fakeAPI struct {
	t *testing.T

	mu        sync.Mutex
	positions string
	orders    []map[string]string
	calls     map[string]int
}

func (f *fakeAPI) setPositions(p string) {
	f.mu.Lock()
	f.positions = p
	f.mu.Unlock()
}

func (f *fakeAPI) lastOrder() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(f.t, f.orders)
	return f.orders[len(f.orders)-1]
}

func (f *fakeAPI) callCount(p string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[p]
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, data string) {
		_, _ = io.WriteString(w, `{"code":"0","msg":"success","data":`+data+`}`)
	}
	verify := func(w http.ResponseWriter, r *http.Request, body []byte) bool {
		want := signing.BuildSignature(testSecret, r.Method, r.URL.RequestURI(),
			r.Header.Get("ACCESS-TIMESTAMP"), r.Header.Get("ACCESS-NONCE"), body)
		if r.Header.Get("ACCESS-SIGN") != want || r.Header.Get("ACCESS-KEY") != "key" || r.Header.Get("ACCESS-PASSPHRASE") != "pp" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"code":"152409","msg":"signature verification failed"}`)
			return false
		}
		return true
	}
	count := func(p string) {
		f.mu.Lock()
		f.calls[p]++
		f.mu.Unlock()
	}

	mux.HandleFunc(pathInstruments, func(w http.ResponseWriter, r *http.Request) {
		count(pathInstruments)
		if !verify(w, r, nil) {
			return
		}
		reply(w, `[{"instId":"BTC-USDT","contractValue":"0.001","lotSize":"1","minSize":"1"},
		          {"instId":"ETH-USDT","contractValue":"0.01","lotSize":"0.1","minSize":"0.1"}]`)
	})
	mux.HandleFunc(pathTickers, func(w http.ResponseWriter, r *http.Request) {
		if !verify(w, r, nil) {
			return
		}
		reply(w, `[{"instId":"`+r.URL.Query().Get("instId")+`","last":"64000.5"}]`)
	})
	mux.HandleFunc(pathMarginMode, func(w http.ResponseWriter, r *http.Request) {
		if !verify(w, r, nil) {
			return
		}
		reply(w, `{"marginMode":"isolated"}`)
	})
	mux.HandleFunc(pathLeverageInfo, func(w http.ResponseWriter, r *http.Request) {
		if !verify(w, r, nil) {
			return
		}
		reply(w, `[{"instId":"BTC-USDT","leverage":"20","marginMode":"isolated"}]`)
	})
	mux.HandleFunc(pathSetMarginMode, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !verify(w, r, body) {
			return
		}
		_, _ = io.WriteString(w, `{"code":"102","msg":"No need to change margin mode"}`)
	})
	mux.HandleFunc(pathSetLeverage, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !verify(w, r, body) {
			return
		}
		count(pathSetLeverage)
		reply(w, `{}`)
	})
	mux.HandleFunc(pathPositions, func(w http.ResponseWriter, r *http.Request) {
		if !verify(w, r, nil) {
			return
		}
		f.mu.Lock()
		p := f.positions
		f.mu.Unlock()
		reply(w, p)
	})
	mux.HandleFunc(pathOrder, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !verify(w, r, body) {
			return
		}
		var m map[string]string
		assert.NoError(f.t, json.Unmarshal(body, &m))
		f.mu.Lock()
		f.orders = append(f.orders, m)
		f.mu.Unlock()
		reply(w, `[{"orderId":"9001","code":"0","msg":""}]`)
	})
	return mux
}

func newTestClient(t *testing.T) (*Client, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{t: t, positions: `[]`, calls: map[string]int{}}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	cred := domain.Credential{AccountID: "acc-1", Exchange: Name, APIKey: "key", APISecret: testSecret, Passphrase: "pp"}
	c := NewClient(cred, forward.NewDirect(2*time.Second, ""), WithBaseURL(srv.URL))
	t.Cleanup(func() { _ = c.Close() })
	return c, api
}

func TestInstrumentResolution(t *testing.T) {
	c, api := newTestClient(t)
	ctx := context.Background()

	id, err := c.InstrumentID(ctx, "BTCUSDT", "")
	require.NoError(t, err)
	assert.Equal(t, "BTC-USDT", id)

	lot, err := c.LotSize(ctx, "ETH-USDT", "")
	require.NoError(t, err)
	assert.Equal(t, "0.1", lot.String())
	assert.Equal(t, 1, api.callCount(pathInstruments), "instruments are cached")

	_, err = c.InstrumentID(ctx, "DOGE-USDT", "")
	assert.ErrorIs(t, err, domain.ErrResolution)
}

func TestMarginAndLeverage(t *testing.T) {
	c, api := newTestClient(t)
	ctx := context.Background()

	m, err := c.MarginMode(ctx, "BTC-USDT", "")
	require.NoError(t, err)
	assert.Equal(t, domain.MarginSetting{Mode: domain.MarginIsolated, Leverage: 20}, m)

	err = c.SetMarginMode(ctx, "BTC-USDT", domain.MarginSetting{Mode: domain.MarginCross, Leverage: 10}, "")
	require.NoError(t, err, "no-change reply is success")
	assert.Equal(t, 1, api.callCount(pathSetLeverage))
}

func TestPlaceOrder(t *testing.T) {
	c, api := newTestClient(t)
	res, err := c.PlaceOrder(context.Background(), domain.OrderRequest{
		Symbol:   "BTC-USDT",
		Side:     domain.OrderSideBuy,
		Quantity: decimal.RequireFromString("3"),
		Market:   true,
		Margin:   domain.MarginSetting{Mode: domain.MarginCross},
	})
	require.NoError(t, err)
	assert.Equal(t, "9001", res.OrderID)
	assert.Equal(t, http.StatusOK, res.HTTPStatus)

	o := api.lastOrder()
	assert.Equal(t, "buy", o["side"])
	assert.Equal(t, "market", o["orderType"])
	assert.Equal(t, "3", o["size"])
	assert.Equal(t, "cross", o["marginMode"])
	assert.Equal(t, "", o["price"])
	_, reduce := o["reduceOnly"]
	assert.False(t, reduce)
}

func TestPositionsAndClose(t *testing.T) {
	c, api := newTestClient(t)
	ctx := context.Background()

	t.Run("no position", func(t *testing.T) {
		_, err := c.ClosePosition(ctx, domain.CloseRequest{Symbol: "BTC-USDT", Quantity: decimal.NewFromInt(1)})
		assert.ErrorIs(t, err, domain.ErrNoPosition)
	})

	api.setPositions(`[{"positionId":77,"instId":"BTC-USDT","marginMode":"isolated","positions":"-5","averagePrice":"63000","leverage":"10","updateTime":"1700000000000"}]`)

	t.Run("positions", func(t *testing.T) {
		ps, err := c.Positions(ctx, domain.PositionQuery{Symbol: "BTC-USDT"})
		require.NoError(t, err)
		require.Len(t, ps, 1)
		p := ps[0]
		assert.Equal(t, "PID:77", p.Key())
		assert.Equal(t, domain.SideShort, p.Side)
		assert.Equal(t, "-5", p.Qty.String())
		assert.Equal(t, 10, p.Leverage)
		assert.Equal(t, domain.MarginIsolated, p.MarginMode)
	})

	t.Run("close short buys reduce-only", func(t *testing.T) {
		_, err := c.ClosePosition(ctx, domain.CloseRequest{Symbol: "BTC-USDT", Quantity: decimal.NewFromInt(2)})
		require.NoError(t, err)
		o := api.lastOrder()
		assert.Equal(t, "buy", o["side"])
		assert.Equal(t, "2", o["size"])
		assert.Equal(t, "true", o["reduceOnly"])
		assert.Equal(t, "isolated", o["marginMode"])
	})
}

func TestLastPrice(t *testing.T) {
	c, _ := newTestClient(t)
	p, err := c.LastPrice(context.Background(), "BTCUSDT", "")
	require.NoError(t, err)
	assert.Equal(t, "64000.5", p.String())
}

func TestAuthFailure(t *testing.T) {
	api := &fakeAPI{t: t, positions: `[]`, calls: map[string]int{}}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	cred := domain.Credential{APIKey: "key", APISecret: "wrong", Passphrase: "pp"}
	c := NewClient(cred, forward.NewDirect(time.Second, ""), WithBaseURL(srv.URL))
	defer c.Close()

	_, err := c.Positions(context.Background(), domain.PositionQuery{})
	assert.ErrorIs(t, err, domain.ErrAuth)
	assert.Equal(t, http.StatusUnauthorized, domain.HTTPStatus(err))
}
