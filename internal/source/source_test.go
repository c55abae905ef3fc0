package source

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/gocopy/internal/dedup"
	"github.com/betbot/gocopy/internal/differ"
	"github.com/betbot/gocopy/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type scriptedMaster struct {
	mu      sync.Mutex
	replies [][]domain.Position
	errs    []error
	calls   int
	margin  domain.MarginSetting
}

func (m *scriptedMaster) Name() string { return "fake" }
func (m *scriptedMaster) InstrumentID(context.Context, string, string) (string, error) {
	return "", nil
}
func (m *scriptedMaster) MarginMode(context.Context, string, string) (domain.MarginSetting, error) {
	return m.margin, nil
}
func (m *scriptedMaster) SetMarginMode(context.Context, string, domain.MarginSetting, string) error {
	return nil
}
func (m *scriptedMaster) PlaceOrder(context.Context, domain.OrderRequest) (domain.Result, error) {
	return domain.Result{}, nil
}
func (m *scriptedMaster) ClosePosition(context.Context, domain.CloseRequest) (domain.Result, error) {
	return domain.Result{}, nil
}
func (m *scriptedMaster) Positions(context.Context, domain.PositionQuery) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.calls
	m.calls++
	if i >= len(m.replies) {
		i = len(m.replies) - 1
	}
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	return m.replies[i], nil
}

func p(qty string) []domain.Position {
	return []domain.Position{{AccountID: "m", Symbol: "BTCUSDT", Qty: d(qty), Leverage: 5, MarginMode: domain.MarginCross}}
}

func TestPollerColdStartAndErrorSkip(t *testing.T) {
	m := &scriptedMaster{
		replies: [][]domain.Position{p("2"), nil, p("1.2")},
		errs:    []error{nil, errors.New("network down"), nil},
	}
	poller := NewPoller(m, differ.NewPollDiffer(decimal.Zero), PollerConfig{})
	ctx := context.Background()

	evs, err := poller.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, evs, "first snapshot only seeds")

	_, err = poller.Tick(ctx)
	require.Error(t, err)

	// baseline is still {+2}, not cleared by the failed tick
	evs, err = poller.Tick(ctx)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, domain.TransitionPartiallyClosed, evs[0].Kind)
	assert.True(t, evs[0].Delta.Equal(d("0.8")))
}

func TestPollerEnrichesScaleInMargin(t *testing.T) {
	m := &scriptedMaster{
		replies: [][]domain.Position{p("1"), p("3")},
		margin:  domain.MarginSetting{Mode: domain.MarginIsolated, Leverage: 25},
	}
	poller := NewPoller(m, differ.NewPollDiffer(decimal.Zero), PollerConfig{})
	_, _ = poller.Tick(context.Background())
	evs, err := poller.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, domain.TransitionScaledIn, evs[0].Kind)
	assert.Equal(t, domain.MarginSetting{Mode: domain.MarginIsolated, Leverage: 25}, evs[0].Margin)
}

func TestPollerEnrichesReversalMargin(t *testing.T) {
	m := &scriptedMaster{
		replies: [][]domain.Position{p("2"), p("-1")},
		margin:  domain.MarginSetting{Mode: domain.MarginIsolated, Leverage: 20},
	}
	poller := NewPoller(m, differ.NewPollDiffer(decimal.Zero), PollerConfig{})
	_, _ = poller.Tick(context.Background())
	evs, err := poller.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, domain.TransitionReversed, evs[0].Kind)

	acts := evs[0].Actions()
	require.Len(t, acts, 2)
	assert.Equal(t, domain.ActionOpen, acts[1].Kind)
	assert.Equal(t, domain.MarginSetting{Mode: domain.MarginIsolated, Leverage: 20}, acts[1].Margin)
}

func TestPollerRunEmitsUntilStopped(t *testing.T) {
	m := &scriptedMaster{replies: [][]domain.Position{p("1"), p("1"), nil}}
	poller := NewPoller(m, differ.NewPollDiffer(decimal.Zero), PollerConfig{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan domain.TransitionEvent, 4)
	done := make(chan error, 1)
	go func() { done <- poller.Run(ctx, out) }()

	select {
	case ev := <-out:
		assert.Equal(t, domain.TransitionClosed, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
}

// fakeSession serves scripted Open errors and event batches.
type fakeSession struct {
	mu       sync.Mutex
	openErrs []error
	batches  [][]domain.OrderEvent
	opens    int
	closes   int
}

func (s *fakeSession) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	if len(s.openErrs) > 0 {
		err := s.openErrs[0]
		s.openErrs = s.openErrs[1:]
		return err
	}
	return nil
}

func (s *fakeSession) Next(ctx context.Context) ([]domain.OrderEvent, error) {
	s.mu.Lock()
	if len(s.batches) > 0 {
		b := s.batches[0]
		s.batches = s.batches[1:]
		s.mu.Unlock()
		if b == nil {
			return nil, errors.Wrap(domain.ErrNetwork, "connection reset")
		}
		return b, nil
	}
	s.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func fill(id string) domain.OrderEvent {
	return domain.OrderEvent{OrderID: id, Symbol: "BTC-USDT", Side: domain.OrderSideBuy, State: domain.OrderStateFilled, Size: d("1")}
}

func TestBackoffSequence(t *testing.T) {
	b := newBackOff(time.Second, 30*time.Second)
	var got []time.Duration
	for i := 0; i < 7; i++ {
		got = append(got, b.NextBackOff())
	}
	s := time.Second
	assert.Equal(t, []time.Duration{1 * s, 2 * s, 4 * s, 8 * s, 16 * s, 30 * s, 30 * s}, got)

	b.Reset()
	assert.Equal(t, time.Second, b.NextBackOff())
}

func TestStreamerReconnectsAndDedups(t *testing.T) {
	sess := &fakeSession{
		openErrs: []error{errors.New("dial failed"), errors.New("dial failed")},
		batches: [][]domain.OrderEvent{
			{fill("1")},
			nil, // drop the connection
			{fill("1"), fill("2")},
		},
	}
	st := NewStreamer(sess, differ.NewStreamDiffer(dedup.New(0)), StreamerConfig{})
	var (
		mu    sync.Mutex
		waits []time.Duration
	)
	st.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		waits = append(waits, d)
		mu.Unlock()
		return ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan domain.TransitionEvent, 8)
	done := make(chan error, 1)
	go func() { done <- st.Run(ctx, out) }()

	var ids []string
	for len(ids) < 2 {
		select {
		case ev := <-out:
			ids = append(ids, ev.OrderID)
		case <-time.After(2 * time.Second):
			t.Fatalf("got %v", ids)
		}
	}
	assert.Equal(t, []string{"1", "2"}, ids, "replayed order 1 is dropped after reconnect")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("streamer did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	// two failed dials back off 1s, 2s; the successful open resets to 1s
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, time.Second}, waits)
	assert.Equal(t, 4, sess.opens)
	assert.Equal(t, 2, sess.closes)
}

func TestStreamerStopsWhileWaiting(t *testing.T) {
	sess := &fakeSession{openErrs: []error{errors.New("down"), errors.New("down"), errors.New("down")}}
	st := NewStreamer(sess, differ.NewStreamDiffer(dedup.New(0)), StreamerConfig{BackoffMin: time.Hour, BackoffMax: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- st.Run(ctx, make(chan domain.TransitionEvent)) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("streamer did not stop")
	}
}
