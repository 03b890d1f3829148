package upstream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"market-fanout/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

func startWatch(ctx context.Context, m *Manager, symbol string, kind models.DataKind, interval string) <-chan error {
	done := make(chan error, 1)
	go func() { done <- m.WatchData(ctx, symbol, kind, interval, 0, nil) }()
	return done
}

func TestWatchDataRunsOneLoopPerKey(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := startWatch(ctx, h.manager, "BTC/USDT", models.KindTicker, "")
	require.Eventually(t, func() bool { return h.manager.RunningLoops() == 1 }, waitFor, tick)

	// A second subscriber to the same pair returns immediately.
	err := h.manager.WatchData(ctx, "BTC/USDT", models.KindTicker, "", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, h.manager.RunningLoops())

	info, ok := h.manager.Subscription("BTC/USDT", models.KindTicker)
	require.True(t, ok)
	assert.True(t, info.Active)
	assert.Equal(t, "BTC/USDT-watchTicker", info.Key)

	h.manager.RemoveSubscription("BTC/USDT", models.KindTicker)
	select {
	case err := <-first:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("poll loop did not exit after removal")
	}
	_, ok = h.manager.Subscription("BTC/USDT", models.KindTicker)
	assert.False(t, ok)
	assert.Equal(t, 0, h.manager.RunningLoops())
}

func TestWatchDataBuffersLatestPayload(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startWatch(ctx, h.manager, "BTC/USDT", models.KindOHLCV, "1m")
	require.Eventually(t, func() bool {
		_, ok := h.manager.buffer.get(models.KindOHLCV, "BTC/USDT-1m")
		return ok
	}, waitFor, tick)

	assert.Equal(t, []string{"BTC/USDT-1m-watchOHLCV"}, h.manager.BufferedKeys())
	assert.Greater(t, h.latest().ohlcvCalls.Load(), int64(0))
}

func TestWatchDataIgnoresUnsupportedKind(t *testing.T) {
	h := newHarness(t)
	h.build = func() (*fakeExchange, error) {
		ex := newFakeExchange()
		delete(ex.caps, string(models.KindOrderBook))
		return ex, nil
	}

	err := h.manager.WatchData(context.Background(), "BTC/USDT", models.KindOrderBook, "", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, h.manager.Subscriptions())
}

func TestWatchDataDeactivatesOnFetchError(t *testing.T) {
	h := newHarness(t)
	h.build = func() (*fakeExchange, error) {
		ex := newFakeExchange()
		ex.fetchErr = errBoom
		return ex, nil
	}

	err := h.manager.WatchData(context.Background(), "BTC/USDT", models.KindTicker, "", 0, nil)
	require.NoError(t, err)

	info, ok := h.manager.Subscription("BTC/USDT", models.KindTicker)
	require.True(t, ok, "entry lingers after deactivation")
	assert.False(t, info.Active)
	assert.Equal(t, int64(1), h.latest().tickerCalls.Load())
}

func TestWatchDataRetriesFailedInitialization(t *testing.T) {
	h := newHarness(t)
	h.build = func() (*fakeExchange, error) { return nil, errBoom }

	err := h.manager.WatchData(context.Background(), "BTC/USDT", models.KindTicker, "", 0, nil)
	require.ErrorIs(t, err, ErrExchangeUnavailable)

	h.build = func() (*fakeExchange, error) { return newFakeExchange(), nil }
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	startWatch(ctx, h.manager, "BTC/USDT", models.KindTicker, "")
	require.Eventually(t, func() bool { return h.manager.RunningLoops() == 1 }, waitFor, tick)
}

func TestStartWatchRegistersBeforeReturning(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, h.manager.StartWatch(ctx, "BTC/USDT", models.KindTicker, "", 0, nil))
	info, ok := h.manager.Subscription("BTC/USDT", models.KindTicker)
	require.True(t, ok)
	assert.True(t, info.Active)

	// Removed before the loop had a chance to run: it must still exit.
	h.manager.RemoveSubscription("BTC/USDT", models.KindTicker)
	assert.Empty(t, h.manager.Subscriptions())
	h.manager.Stop()
	assert.Equal(t, 0, h.manager.RunningLoops())
}

func TestRepeatedWatchUpdatesParameters(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, h.manager.StartWatch(ctx, "ETH/USDT", models.KindOHLCV, "1m", 10, nil))
	require.Eventually(t, func() bool { return h.manager.RunningLoops() == 1 }, waitFor, tick)
	require.Eventually(t, func() bool { return h.latest().ohlcvLimit.Load() == 10 }, waitFor, tick)

	require.NoError(t, h.manager.StartWatch(ctx, "ETH/USDT", models.KindOHLCV, "1m", 50, "p2"))

	info, ok := h.manager.Subscription("ETH/USDT-1m", models.KindOHLCV)
	require.True(t, ok)
	assert.Equal(t, 50, info.Limit)
	assert.Equal(t, "p2", info.Param)
	require.Eventually(t, func() bool { return h.latest().ohlcvLimit.Load() == 50 }, waitFor, tick)
	assert.Equal(t, 1, h.manager.RunningLoops())
}

func TestStopWaitsForStartedLoops(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, h.manager.StartWatch(ctx, "BTC/USDT", models.KindTicker, "", 0, nil))
	require.NoError(t, h.manager.StartWatch(ctx, "ETH/USDT", models.KindOHLCV, "5m", 20, nil))
	require.Eventually(t, func() bool { return h.manager.RunningLoops() == 2 }, waitFor, tick)

	stopped := make(chan struct{})
	go func() {
		h.manager.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(waitFor):
		t.Fatal("Stop did not return")
	}

	assert.Equal(t, 0, h.manager.RunningLoops())
	for _, info := range h.manager.Subscriptions() {
		assert.False(t, info.Active, info.Key)
	}
}

// -----------------------------------------------------------------------------

func TestFlushDeliversOnceAndClears(t *testing.T) {
	h := newHarness(t)
	s := newFakeSession("a", models.CategoryTrade)
	s.subscribe(models.KindTicker, "BTC/USDT")
	h.registry.add(s)

	h.manager.buffer.store(models.KindTicker, "BTC/USDT", models.MTicker{Last: 42000})
	h.manager.FlushBuffer()
	require.Len(t, s.sent(), 1)

	raw, err := json.Marshal(s.sent()[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"watchTicker":{"last":42000}}`, string(raw))

	h.manager.FlushBuffer()
	assert.Len(t, s.sent(), 1, "no new data means no frame")
	assert.Empty(t, h.manager.BufferedKeys())
}

func TestFlushSkipsUnsubscribedKinds(t *testing.T) {
	h := newHarness(t)
	s := newFakeSession("a", models.CategoryTrade)
	s.subscribe(models.KindTrades, "BTC/USDT")
	h.registry.add(s)

	h.manager.buffer.store(models.KindTicker, "BTC/USDT", models.MTicker{Last: 1})
	h.manager.FlushBuffer()
	assert.Empty(t, s.sent())
}

func TestFlushDeregistersClosedAndFailingSessions(t *testing.T) {
	h := newHarness(t)

	closed := newFakeSession("closed", models.CategoryTrade)
	closed.open.Store(false)
	failing := newFakeSession("failing", models.CategoryTrade)
	failing.sendErr = errBoom
	failing.subscribe(models.KindTicker, "BTC/USDT")
	healthy := newFakeSession("healthy", models.CategoryTrade)
	healthy.subscribe(models.KindTicker, "BTC/USDT")
	for _, s := range []*fakeSession{closed, failing, healthy} {
		h.registry.add(s)
	}

	h.manager.buffer.store(models.KindTicker, "BTC/USDT", models.MTicker{Last: 1})
	h.manager.FlushBuffer()

	assert.ElementsMatch(t, []string{"closed", "failing"}, h.registry.removedIDs())
	assert.Len(t, healthy.sent(), 1)
}

// Several identifiers of one kind collapse to a single entry per frame: the
// lexically last buffered identifier wins.
func TestCollectClientDataKeepsOneIdentifierPerKind(t *testing.T) {
	h := newHarness(t)
	s := newFakeSession("a", models.CategoryTrade)
	s.subscribe(models.KindTicker, "ETH/USDT", "BTC/USDT")

	h.manager.buffer.store(models.KindTicker, "BTC/USDT", models.MTicker{Symbol: "BTC/USDT", Last: 1})
	h.manager.buffer.store(models.KindTicker, "ETH/USDT", models.MTicker{Symbol: "ETH/USDT", Last: 2})

	data := h.manager.CollectClientData(s)
	require.Len(t, data, 1)
	assert.Equal(t, "ETH/USDT", data[models.KindTicker].(models.MTicker).Symbol)
}

func TestRunFlushLoopStopsWithContext(t *testing.T) {
	h := newHarness(t)
	s := newFakeSession("a", models.CategoryTrade)
	s.subscribe(models.KindTicker, "BTC/USDT")
	h.registry.add(s)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.manager.RunFlushLoop(ctx) }()

	h.manager.buffer.store(models.KindTicker, "BTC/USDT", models.MTicker{Last: 3})
	require.Eventually(t, func() bool { return len(s.sent()) == 1 }, waitFor, tick)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("flush loop did not stop")
	}
}
