package differ

import (
	"testing"

	"github.com/betbot/gocopy/internal/dedup"
	"github.com/betbot/gocopy/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func pos(symbol, qty string) domain.Position {
	return domain.Position{
		AccountID:    "master",
		Symbol:       symbol,
		ContractType: "USD_M",
		Qty:          d(qty),
		EntryPrice:   d("100"),
		Leverage:     10,
		MarginMode:   domain.MarginCross,
	}
}

func snap(ps ...domain.Position) domain.Snapshot { return domain.NewSnapshot(ps) }

func seeded(t *testing.T, prev domain.Snapshot) *PollDiffer {
	t.Helper()
	pd := NewPollDiffer(decimal.Zero)
	require.Empty(t, pd.Observe(prev))
	return pd
}

func TestColdStartEmitsNothing(t *testing.T) {
	pd := NewPollDiffer(DefaultEpsilon)
	assert.False(t, pd.Seeded())
	assert.Empty(t, pd.Observe(snap(pos("BTCUSDT", "2"), pos("ETHUSDT", "-3"))))
	assert.True(t, pd.Seeded())

	// unchanged snapshot afterwards is still silent
	assert.Empty(t, pd.Observe(snap(pos("BTCUSDT", "2"), pos("ETHUSDT", "-3"))))
}

func TestPartialClose(t *testing.T) {
	pd := seeded(t, snap(pos("BTCUSDT", "2.0")))
	evs := pd.Observe(snap(pos("BTCUSDT", "1.2")))
	require.Len(t, evs, 1)
	assert.Equal(t, domain.TransitionPartiallyClosed, evs[0].Kind)
	assert.True(t, evs[0].Delta.Equal(d("0.8")), evs[0].Delta.String())
	assert.Equal(t, domain.SideLong, evs[0].Side)
	assert.Equal(t, domain.OriginPoll, evs[0].Origin)
}

func TestReversal(t *testing.T) {
	pd := seeded(t, snap(pos("ETHUSDT", "1.0")))
	evs := pd.Observe(snap(pos("ETHUSDT", "-0.5")))
	require.Len(t, evs, 1)
	ev := evs[0]
	assert.Equal(t, domain.TransitionReversed, ev.Kind)
	assert.Equal(t, domain.SideLong, ev.PrevSide)
	assert.True(t, ev.CloseQty.Equal(d("1")))
	assert.Equal(t, domain.SideShort, ev.Side)
	assert.True(t, ev.Delta.Equal(d("0.5")))

	acts := ev.Actions()
	require.Len(t, acts, 2)
	assert.Equal(t, domain.ActionClose, acts[0].Kind)
	assert.Equal(t, domain.SideLong, acts[0].Side)
	assert.Equal(t, domain.ActionOpen, acts[1].Kind)
	assert.Equal(t, domain.OrderSideSell, acts[1].Side.Opening())
}

func TestDiffTable(t *testing.T) {
	cases := []struct {
		name      string
		prev, cur domain.Snapshot
		kind      domain.TransitionKind
		side      domain.Side
		delta     string
	}{
		{"scale in long", snap(pos("BTC", "1")), snap(pos("BTC", "1.5")), domain.TransitionScaledIn, domain.SideLong, "0.5"},
		{"scale in short", snap(pos("BTC", "-1")), snap(pos("BTC", "-4")), domain.TransitionScaledIn, domain.SideShort, "3"},
		{"partial close short", snap(pos("BTC", "-4")), snap(pos("BTC", "-1")), domain.TransitionPartiallyClosed, domain.SideShort, "3"},
		{"key removed", snap(pos("BTC", "-2")), snap(), domain.TransitionClosed, domain.SideShort, "2"},
		{"qty went to zero", snap(pos("BTC", "2")), snap(pos("BTC", "0")), domain.TransitionClosed, domain.SideLong, "2"},
		{"new key", snap(), snap(pos("BTC", "0.1")), domain.TransitionOpened, domain.SideLong, "0.1"},
		{"zero to nonzero", snap(pos("BTC", "0")), snap(pos("BTC", "-0.3")), domain.TransitionOpened, domain.SideShort, "0.3"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pd := seeded(t, tc.prev)
			evs := pd.Observe(tc.cur)
			require.Len(t, evs, 1)
			assert.Equal(t, tc.kind, evs[0].Kind)
			assert.Equal(t, tc.side, evs[0].Side)
			assert.True(t, evs[0].Delta.Equal(d(tc.delta)), "delta %s", evs[0].Delta)
		})
	}
}

func TestEpsilonSuppressesNoise(t *testing.T) {
	pd := seeded(t, snap(pos("BTC", "1")))
	assert.Empty(t, pd.Observe(snap(pos("BTC", "1.00000000000001"))))
	assert.Empty(t, pd.Observe(snap(pos("BTC", "0.99999999999999"))))

	wide := NewPollDiffer(d("0.01"))
	wide.Observe(snap(pos("BTC", "1")))
	assert.Empty(t, wide.Observe(snap(pos("BTC", "1.005"))))
	assert.Len(t, wide.Observe(snap(pos("BTC", "1.02"))), 1)
}

func TestBaselineAdvances(t *testing.T) {
	pd := seeded(t, snap(pos("BTC", "1")))
	require.Len(t, pd.Observe(snap(pos("BTC", "2"))), 1)
	// the same snapshot again is no longer a change
	assert.Empty(t, pd.Observe(snap(pos("BTC", "2"))))
}

func TestMultipleKeysAreOrdered(t *testing.T) {
	pd := seeded(t, snap(pos("BTC", "1"), pos("ETH", "1")))
	evs := pd.Observe(snap(pos("ETH", "2"), pos("SOL", "5")))
	require.Len(t, evs, 3)
	var kinds []domain.TransitionKind
	for _, ev := range evs {
		kinds = append(kinds, ev.Kind)
	}
	// keys sort as ACC:master|SYM:BTC..., ETH..., SOL...
	assert.Equal(t, []domain.TransitionKind{domain.TransitionClosed, domain.TransitionScaledIn, domain.TransitionOpened}, kinds)
}

func TestPositionIDKey(t *testing.T) {
	a := pos("BTC", "1")
	a.ID = "77"
	pd := seeded(t, snap(a))
	a.Qty = d("0.4")
	evs := pd.Observe(snap(a))
	require.Len(t, evs, 1)
	assert.Equal(t, "PID:77", evs[0].Key)
	assert.Equal(t, "77", evs[0].PositionID)
}

func fill(id string, side domain.OrderSide, size string, reduce bool) domain.OrderEvent {
	return domain.OrderEvent{
		OrderID:    id,
		Symbol:     "BTC-USDT",
		Side:       side,
		State:      domain.OrderStateFilled,
		Size:       d(size),
		AvgPrice:   d("65000"),
		ReduceOnly: reduce,
		MarginMode: domain.MarginIsolated,
		Leverage:   20,
	}
}

func TestStreamDifferClassifiesFills(t *testing.T) {
	sd := NewStreamDiffer(dedup.New(0))

	ev, ok := sd.Observe(fill("1", domain.OrderSideBuy, "0.5", false))
	require.True(t, ok)
	assert.Equal(t, domain.TransitionOpened, ev.Kind)
	assert.Equal(t, domain.SideLong, ev.Side)
	assert.Equal(t, domain.OriginStream, ev.Origin)
	assert.True(t, ev.EntryPrice.Equal(d("65000")))
	assert.Equal(t, domain.MarginSetting{Mode: domain.MarginIsolated, Leverage: 20}, ev.Margin)

	ev, ok = sd.Observe(fill("2", domain.OrderSideSell, "0.2", true))
	require.True(t, ok)
	assert.Equal(t, domain.TransitionClosed, ev.Kind)
	assert.Equal(t, domain.SideLong, ev.Side, "a reduce-only sell closes a long")
	assert.True(t, ev.Delta.Equal(d("0.2")))

	ev, ok = sd.Observe(fill("3", domain.OrderSideSell, "1", false))
	require.True(t, ok)
	assert.Equal(t, domain.SideShort, ev.Side)
}

func TestStreamDifferReplayIsDispatchedOnce(t *testing.T) {
	sd := NewStreamDiffer(dedup.New(0))
	e := fill("42", domain.OrderSideBuy, "1", false)

	evs := sd.ObserveAll([]domain.OrderEvent{e, e})
	assert.Len(t, evs, 1)
	_, ok := sd.Observe(e)
	assert.False(t, ok)
	assert.Equal(t, 2, sd.Duplicates)
}

func TestStreamDifferIgnoresNonFills(t *testing.T) {
	sd := NewStreamDiffer(dedup.New(0))
	e := fill("9", domain.OrderSideBuy, "1", false)

	e.State = domain.OrderStateNew
	_, ok := sd.Observe(e)
	assert.False(t, ok)

	e.State = domain.OrderStateCanceled
	_, ok = sd.Observe(e)
	assert.False(t, ok)

	// the fill of the same order is a different (orderId, state) pair
	e.State = domain.OrderStateFilled
	_, ok = sd.Observe(e)
	assert.True(t, ok)

	zero := fill("10", domain.OrderSideBuy, "0", false)
	_, ok = sd.Observe(zero)
	assert.False(t, ok)

	_, ok = sd.Observe(domain.OrderEvent{State: domain.OrderStateFilled, Size: d("1")})
	assert.False(t, ok, "no order id")
}

func TestScaleInReferencesAddedFillPrice(t *testing.T) {
	first := pos("BTCUSDT", "1")
	first.EntryPrice = d("60000")
	pd := seeded(t, snap(first))

	added := pos("BTCUSDT", "2")
	added.EntryPrice = d("62500")
	evs := pd.Observe(snap(added))
	require.Len(t, evs, 1)
	assert.Equal(t, domain.TransitionScaledIn, evs[0].Kind)
	assert.True(t, evs[0].EntryPrice.Equal(d("65000")), evs[0].EntryPrice.String())

	acts := evs[0].Actions()
	require.Len(t, acts, 1)
	assert.True(t, acts[0].RefPrice.Equal(d("65000")))
}

func TestScaleInWithoutEntryPricesLeavesReferenceUnset(t *testing.T) {
	first := pos("BTCUSDT", "1")
	first.EntryPrice = decimal.Zero
	pd := seeded(t, snap(first))

	evs := pd.Observe(snap(pos("BTCUSDT", "3")))
	require.Len(t, evs, 1)
	assert.True(t, evs[0].EntryPrice.IsZero())
}
