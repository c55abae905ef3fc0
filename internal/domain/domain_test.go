package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("http %d", int(e)) }
func (e statusErr) HTTPStatus() int { return int(e) }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestReason(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{errors.Wrap(ErrSlippageExceeded, "BTC"), "slippage-exceeded"},
		{ErrNoPosition, "no-position"},
		{ErrSelfFollow, "self-follow"},
		{ErrBelowLotSize, "below-lot-size"},
		{errors.Wrap(ErrAuth, "login"), "auth"},
		{ErrResolution, "resolution"},
		{context.DeadlineExceeded, "timeout"},
		{timeoutErr{}, "timeout"},
		{ErrNetwork, "network"},
		{errors.New("boom"), "error"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Reason(tc.err), "%v", tc.err)
	}
}

func TestIsSkip(t *testing.T) {
	assert.True(t, IsSkip(errors.Wrap(ErrSlippageExceeded, "x")))
	assert.True(t, IsSkip(ErrSelfFollow))
	assert.True(t, IsSkip(ErrBelowLotSize))
	assert.False(t, IsSkip(ErrNoPosition))
	assert.False(t, IsSkip(ErrNetwork))
	assert.False(t, IsSkip(nil))
}

func TestClassify(t *testing.T) {
	assert.NoError(t, Classify(nil))

	tagged := errors.Wrap(ErrNoPosition, "close")
	assert.Same(t, tagged, Classify(tagged))

	assert.ErrorIs(t, Classify(context.DeadlineExceeded), ErrTimeout)
	assert.ErrorIs(t, Classify(timeoutErr{}), ErrTimeout)
	assert.ErrorIs(t, Classify(statusErr(401)), ErrAuth)
	assert.ErrorIs(t, Classify(statusErr(403)), ErrAuth)

	rejected := Classify(statusErr(400))
	assert.NotErrorIs(t, rejected, ErrNetwork)
	assert.Equal(t, 400, HTTPStatus(rejected))

	var out struct{ N int }
	decodeErr := errors.Wrap(json.Unmarshal([]byte(`{"N":"x"}`), &out), "decode positions")
	decoded := Classify(decodeErr)
	assert.NotErrorIs(t, decoded, ErrNetwork)
	assert.Equal(t, "error", Reason(decoded))

	syntaxErr := json.Unmarshal([]byte(`{`), &out)
	assert.Equal(t, "error", Reason(Classify(syntaxErr)))

	dial := Classify(errors.New("connection refused"))
	assert.ErrorIs(t, dial, ErrNetwork)
	assert.Equal(t, "network", Reason(dial))
}

func TestNoChangeNeeded(t *testing.T) {
	assert.True(t, NoChangeNeeded("No need to change margin type."))
	assert.True(t, NoChangeNeeded("leverage already set"))
	assert.False(t, NoChangeNeeded("insufficient balance"))
}

func TestSides(t *testing.T) {
	assert.Equal(t, SideLong, SideFromQty(d("0.5")))
	assert.Equal(t, SideShort, SideFromQty(d("-2")))
	assert.Equal(t, SideFlat, SideFromQty(decimal.Zero))

	assert.Equal(t, SideLong, ParseSide(" buy "))
	assert.Equal(t, SideShort, ParseSide("short"))
	assert.Equal(t, Side(""), ParseSide(""))
	assert.Equal(t, SideFlat, ParseSide("net"))

	assert.Equal(t, OrderSideBuy, SideLong.Opening())
	assert.Equal(t, OrderSideSell, SideLong.Closing())
	assert.Equal(t, OrderSideSell, SideShort.Opening())
	assert.Equal(t, OrderSideBuy, SideShort.Closing())

	assert.Equal(t, SideShort, SideLong.Opposite())
	assert.Equal(t, SideLong, SideShort.Opposite())
	assert.Equal(t, SideFlat, SideFlat.Opposite())

	assert.Equal(t, SideShort, ParseOrderSide("sell").PositionSide())
	assert.Equal(t, SideLong, ParseOrderSide("BUY").PositionSide())
	assert.Equal(t, OrderSide(""), ParseOrderSide("hold"))

	assert.Equal(t, MarginCross, ParseMarginMode("crossed"))
	assert.Equal(t, MarginIsolated, ParseMarginMode("Isolated"))
	assert.True(t, MarginSetting{}.IsZero())
}

func TestPositionKey(t *testing.T) {
	withID := Position{ID: "42", Symbol: "BTC-USDT"}
	assert.Equal(t, "PID:42", withID.Key())

	composite := Position{AccountID: "a1", Symbol: "BTC-USDT", ContractType: "PERP"}
	assert.Equal(t, "ACC:a1|SYM:BTC-USDT|CT:PERP", composite.Key())

	snap := NewSnapshot([]Position{withID, composite})
	require.Len(t, snap, 2)
	assert.Equal(t, "a1", snap[composite.Key()].AccountID)
}

func TestOrderEvent(t *testing.T) {
	assert.Equal(t, OrderStateCanceled, ParseOrderState("cancelled"))
	assert.Equal(t, OrderStatePartiallyFilled, ParseOrderState("partial_filled"))
	assert.Equal(t, OrderStateFilled, ParseOrderState("filled"))

	e := OrderEvent{OrderID: "o-1", State: OrderStateFilled}
	assert.Equal(t, "o-1|FILLED", e.DedupKey())
}

func TestActions(t *testing.T) {
	margin := MarginSetting{Mode: MarginIsolated, Leverage: 5}

	open := TransitionEvent{
		Kind: TransitionOpened, Symbol: "BTC-USDT", Side: SideLong,
		Delta: d("1"), EntryPrice: d("100"), Margin: margin,
	}
	acts := open.Actions()
	require.Len(t, acts, 1)
	assert.Equal(t, ActionOpen, acts[0].Kind)
	assert.Equal(t, margin, acts[0].Margin)
	assert.True(t, acts[0].RefPrice.Equal(d("100")))
	assert.True(t, open.NeedsMargin())

	partial := TransitionEvent{Kind: TransitionPartiallyClosed, Side: SideLong, Delta: d("0.8"), ExitPrice: d("101")}
	acts = partial.Actions()
	require.Len(t, acts, 1)
	assert.Equal(t, ActionClose, acts[0].Kind)
	assert.True(t, acts[0].Quantity.Equal(d("0.8")))
	assert.False(t, partial.NeedsMargin())

	rev := TransitionEvent{
		Kind: TransitionReversed, Side: SideShort, Delta: d("3"),
		PrevSide: SideLong, CloseQty: d("2"), Margin: margin,
	}
	acts = rev.Actions()
	require.Len(t, acts, 2)
	assert.Equal(t, ActionClose, acts[0].Kind)
	assert.Equal(t, SideLong, acts[0].Side)
	assert.True(t, acts[0].Quantity.Equal(d("2")))
	assert.Equal(t, ActionOpen, acts[1].Kind)
	assert.Equal(t, SideShort, acts[1].Side)
	assert.True(t, acts[1].Quantity.Equal(d("3")))

	assert.Empty(t, TransitionEvent{Kind: "UNKNOWN"}.Actions())
}

func TestCredential(t *testing.T) {
	c := Credential{Exchange: "blockfin", APIKey: "abcdefghij"}
	assert.Equal(t, "abcdef...", c.Label())
	assert.True(t, c.Multiplier().Equal(decimal.NewFromInt(1)))

	c.SizeMultiplier = d("0.5")
	assert.True(t, c.Multiplier().Equal(d("0.5")))

	assert.True(t, c.SameAccount(Credential{Exchange: "BLOCKFIN", APIKey: "abcdefghij"}))
	assert.False(t, c.SameAccount(Credential{Exchange: "binance", APIKey: "abcdefghij"}))
	assert.True(t, Credential{Exchange: "bitruth", Username: "Ann"}.SameAccount(Credential{Exchange: "bitruth", Username: "ann"}))
}

func TestReportCounts(t *testing.T) {
	r := DispatchReport{At: time.Now(), Steps: []StepReport{
		{Outcomes: []DispatchOutcome{{OK: true}, {OK: false}}},
		{Outcomes: []DispatchOutcome{{OK: true}, {Skipped: true}}},
	}}
	ok, failed := r.Counts()
	assert.Equal(t, 2, ok)
	assert.Equal(t, 2, failed)
}
