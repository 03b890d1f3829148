package server

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"market-fanout/src/exchange"
	"market-fanout/src/interfaces"
	"market-fanout/src/logger"
	"market-fanout/src/metrics"
	"market-fanout/src/models"
	"market-fanout/src/upstream"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

// -----------------------------------------------------------------------------
// stubExchange always answers with the same prices.
// -----------------------------------------------------------------------------

type stubExchange struct {
	last        float64
	tickerCalls atomic.Int64
}

func (e *stubExchange) Name() string { return "stub" }

func (e *stubExchange) Has(capability string) bool {
	switch capability {
	case string(models.KindTicker), string(models.KindOHLCV), string(models.KindTrades),
		string(models.KindOrderBook), models.CapFetchTickers, models.CapFetchTime:
		return true
	}
	return false
}

func (e *stubExchange) WatchTicker(ctx context.Context, symbol string, _ interface{}) (models.MTicker, error) {
	e.tickerCalls.Add(1)
	return models.MTicker{Last: e.last}, nil
}

func (e *stubExchange) WatchOHLCV(ctx context.Context, symbol, interval string, limit int, _ interface{}) ([]models.MCandle, error) {
	return []models.MCandle{{1, e.last, e.last, e.last, e.last, 1}}, nil
}

func (e *stubExchange) WatchTrades(ctx context.Context, symbol string, limit int, _ interface{}) ([]models.MTrade, error) {
	return []models.MTrade{{ID: "1", Symbol: symbol, Price: e.last, Amount: 1}}, nil
}

func (e *stubExchange) WatchOrderBook(ctx context.Context, symbol string, limit int, _ interface{}) (models.MOrderBook, error) {
	return models.MOrderBook{Symbol: symbol}, nil
}

func (e *stubExchange) WatchTickers(ctx context.Context, symbols []string) ([]models.MTicker, error) {
	return nil, nil
}

func (e *stubExchange) FetchTickers(ctx context.Context, symbols []string) ([]models.MTicker, error) {
	out := make([]models.MTicker, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, models.MTicker{Symbol: s, Last: e.last, Open: 1})
	}
	return out, nil
}

func (e *stubExchange) FetchTime(ctx context.Context) (int64, error) { return 1, nil }
func (e *stubExchange) CheckRequiredCredentials() error              { return nil }
func (e *stubExchange) Close() error                                 { return nil }

// -----------------------------------------------------------------------------

type memStore struct{ markets []models.MMarket }

func (s *memStore) Initialize(ctx context.Context) error { return nil }
func (s *memStore) ListActiveMarkets(ctx context.Context) ([]models.MMarket, error) {
	return s.markets, nil
}
func (s *memStore) Close() error { return nil }

// nopSocket stands in for a websocket when pumps are not started.
type nopSocket struct{ closed atomic.Bool }

func (n *nopSocket) ReadMessage() (int, []byte, error) { select {} }
func (n *nopSocket) WriteMessage(int, []byte) error    { return nil }
func (n *nopSocket) SetReadLimit(int64)                {}
func (n *nopSocket) SetReadDeadline(time.Time) error   { return nil }
func (n *nopSocket) SetWriteDeadline(time.Time) error  { return nil }
func (n *nopSocket) SetPongHandler(func(string) error) {}

func (n *nopSocket) Close() error {
	n.closed.Store(true)
	return nil
}

// -----------------------------------------------------------------------------
// testEnv wires the real registry, manager and server around stubExchange.
// -----------------------------------------------------------------------------

type testEnv struct {
	ctx      context.Context
	cfg      *models.MConfig
	log      *logger.Logger
	exchange *stubExchange
	registry *ClientRegistry
	manager  *upstream.Manager
	server   *FastAPIServer
	buildErr error
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := &models.MConfig{
		Name: "market-fanout-test",
		Host: "127.0.0.1",
		Endpoints: models.MEndpointsConfig{
			TradePath:   "/ws/trade",
			TickersPath: "/ws/tickers",
		},
		Exchange: models.MExchangeConfig{
			ActiveProvider: "stub",
			Providers:      []models.MProviderConfig{{Name: "stub"}},
		},
		Upstream: models.MUpstreamConfig{
			PollDelayMs:            5,
			FlushIntervalMs:        10,
			TickersStreamDelayMs:   5,
			TickersPollDelayMs:     5,
			ErrorBackoffSec:        1,
			HealthCheckIntervalSec: 180,
			ReconnectAttempts:      2,
			ReconnectBaseDelayMs:   1,
		},
		Session: models.MSessionConfig{SendBuffer: 32, RegisterAttempts: 5, RegisterDelayMs: 2},
	}

	env := &testEnv{ctx: ctx, cfg: cfg, log: logger.NewNop(), exchange: &stubExchange{last: 42000}}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	resolver := exchange.NewResolver(cfg, env.log)
	resolver.Register("stub", func(models.MProviderConfig) (interfaces.IExchange, error) {
		if env.buildErr != nil {
			return nil, env.buildErr
		}
		return env.exchange, nil
	})

	store := &memStore{markets: []models.MMarket{{Symbol: "BTC/USDT", Status: models.MarketStatusActive}}}
	env.registry = NewClientRegistry(cfg, m, env.log)
	env.manager = upstream.NewManager(cfg, resolver, store, env.registry, m, env.log)
	env.server = NewFastAPIServer(ctx, cfg, env.registry, env.manager, store, reg, env.log)
	return env
}

// openSession registers an initialized session without starting its pumps.
func (env *testEnv) openSession(t *testing.T, category models.Category) *ClientSession {
	t.Helper()
	s := NewClientSession(env.ctx, category, env.manager, env.registry, env.cfg.Session.SendBuffer, env.log)
	s.Initialize(&nopSocket{})
	require.NoError(t, env.registry.AddClient(env.ctx, s.ID(), s))
	return s
}

func (env *testEnv) send(s *ClientSession, method string, params *models.MControlParams) {
	raw, _ := json.Marshal(models.MControlMessage{Method: method, Params: params})
	s.HandleMessage(raw)
}

// nextAck reads the next queued frame as an acknowledgement.
func nextAck(t *testing.T, s *ClientSession) models.MAck {
	t.Helper()
	select {
	case raw := <-s.send:
		var ack models.MAck
		require.NoError(t, json.Unmarshal(raw, &ack))
		return ack
	case <-time.After(waitFor):
		t.Fatal("no frame queued")
	}
	return models.MAck{}
}

// assertNoFrame fails if anything is queued within a short grace period.
func assertNoFrame(t *testing.T, s *ClientSession) {
	t.Helper()
	select {
	case raw := <-s.send:
		t.Fatalf("unexpected frame %s", raw)
	case <-time.After(50 * time.Millisecond):
	}
}
