package upstream

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"market-fanout/src/exchange"
	"market-fanout/src/interfaces"
	"market-fanout/src/logger"
	"market-fanout/src/metrics"
	"market-fanout/src/models"

	"github.com/prometheus/client_golang/prometheus"
)

// -----------------------------------------------------------------------------
// fakeExchange
// -----------------------------------------------------------------------------

type fakeExchange struct {
	caps map[string]bool

	ticker     models.MTicker
	tickers    []models.MTicker
	fetchErr   error
	tickersErr error
	timeErr    error

	tickerCalls  atomic.Int64
	ohlcvCalls   atomic.Int64
	ohlcvLimit   atomic.Int64
	watchTickers atomic.Int64
	fetchTickers atomic.Int64
	closed       atomic.Bool
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		caps: map[string]bool{
			string(models.KindTicker): true, string(models.KindOHLCV): true,
			string(models.KindTrades): true, string(models.KindOrderBook): true,
			models.CapFetchTickers: true, models.CapFetchTime: true,
		},
		ticker: models.MTicker{Last: 42000},
	}
}

func (f *fakeExchange) Name() string              { return "fake" }
func (f *fakeExchange) Has(capability string) bool { return f.caps[capability] }

func (f *fakeExchange) WatchTicker(ctx context.Context, symbol string, _ interface{}) (models.MTicker, error) {
	f.tickerCalls.Add(1)
	if f.fetchErr != nil {
		return models.MTicker{}, f.fetchErr
	}
	t := f.ticker
	t.Symbol = symbol
	return t, nil
}

func (f *fakeExchange) WatchOHLCV(ctx context.Context, symbol, interval string, limit int, _ interface{}) ([]models.MCandle, error) {
	f.ohlcvCalls.Add(1)
	f.ohlcvLimit.Store(int64(limit))
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return []models.MCandle{{1, 2, 3, 1, 2, 10}}, nil
}

func (f *fakeExchange) WatchTrades(ctx context.Context, symbol string, limit int, _ interface{}) ([]models.MTrade, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return []models.MTrade{{ID: "1", Symbol: symbol, Price: 1, Amount: 1}}, nil
}

func (f *fakeExchange) WatchOrderBook(ctx context.Context, symbol string, limit int, _ interface{}) (models.MOrderBook, error) {
	if f.fetchErr != nil {
		return models.MOrderBook{}, f.fetchErr
	}
	return models.MOrderBook{Symbol: symbol}, nil
}

func (f *fakeExchange) WatchTickers(ctx context.Context, symbols []string) ([]models.MTicker, error) {
	f.watchTickers.Add(1)
	return f.tickers, f.tickersErr
}

func (f *fakeExchange) FetchTickers(ctx context.Context, symbols []string) ([]models.MTicker, error) {
	f.fetchTickers.Add(1)
	return f.tickers, f.tickersErr
}

func (f *fakeExchange) FetchTime(ctx context.Context) (int64, error) {
	if f.timeErr != nil {
		return 0, f.timeErr
	}
	return 1, nil
}

func (f *fakeExchange) CheckRequiredCredentials() error { return nil }

func (f *fakeExchange) Close() error {
	f.closed.Store(true)
	return nil
}

// -----------------------------------------------------------------------------
// fakeSession
// -----------------------------------------------------------------------------

type fakeSession struct {
	id       string
	category models.Category
	open     atomic.Bool
	sendErr  error

	mu     sync.Mutex
	subs   map[models.DataKind][]string
	frames []interface{}
}

func newFakeSession(id string, category models.Category) *fakeSession {
	s := &fakeSession{id: id, category: category, subs: make(map[models.DataKind][]string)}
	s.open.Store(true)
	return s
}

func (s *fakeSession) subscribe(kind models.DataKind, identifiers ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[kind] = append(s.subs[kind], identifiers...)
}

func (s *fakeSession) ID() string                { return s.id }
func (s *fakeSession) Category() models.Category { return s.category }
func (s *fakeSession) IsOpen() bool              { return s.open.Load() }

func (s *fakeSession) Subscriptions(kind models.DataKind) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.subs[kind]...)
	sort.Strings(out)
	return out
}

func (s *fakeSession) Send(payload interface{}) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, payload)
	return nil
}

func (s *fakeSession) Close() { s.open.Store(false) }

func (s *fakeSession) sent() []interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]interface{}(nil), s.frames...)
}

// -----------------------------------------------------------------------------
// fakeRegistry
// -----------------------------------------------------------------------------

type fakeRegistry struct {
	mu       sync.Mutex
	sessions []*fakeSession
	tickers  []*fakeSession
	removed  []string
}

var _ interfaces.IClientRegistry = (*fakeRegistry)(nil)

func (r *fakeRegistry) add(s *fakeSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, s)
	if s.category == models.CategoryTickers {
		r.tickers = append(r.tickers, s)
	}
}

func (r *fakeRegistry) AddClient(ctx context.Context, id string, session interfaces.ISession) error {
	r.add(session.(*fakeSession))
	return nil
}

func (r *fakeRegistry) RemoveClient(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, id)
	kept := r.sessions[:0]
	for _, s := range r.sessions {
		if s.id != id {
			kept = append(kept, s)
		}
	}
	r.sessions = kept
}

func (r *fakeRegistry) IsClientActive(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.id == id {
			return true
		}
	}
	return false
}

func (r *fakeRegistry) GetAllClients() []interfaces.ISession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]interfaces.ISession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *fakeRegistry) GetClientsByCategory(category models.Category) []interfaces.ISession {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []interfaces.ISession
	for _, s := range r.sessions {
		if s.category == category {
			out = append(out, s)
		}
	}
	return out
}

func (r *fakeRegistry) GetClientsSubscribedTo(identifier string, kind models.DataKind) []interfaces.ISession {
	return nil
}

func (r *fakeRegistry) IsSymbolSubscribedByOtherClients(excludeID, identifier string, kind models.DataKind) bool {
	return false
}

func (r *fakeRegistry) GetClientsOfType(category models.Category) []interfaces.ISession {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []interfaces.ISession
	for _, s := range r.tickers {
		out = append(out, s)
	}
	return out
}

func (r *fakeRegistry) AddClientOfType(category models.Category, session interfaces.ISession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tickers = append(r.tickers, session.(*fakeSession))
}

func (r *fakeRegistry) RemoveClientOfType(category models.Category, session interfaces.ISession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.tickers[:0]
	for _, s := range r.tickers {
		if s.id != session.ID() {
			kept = append(kept, s)
		}
	}
	r.tickers = kept
}

func (r *fakeRegistry) removedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.removed...)
}

// -----------------------------------------------------------------------------
// fakeStore
// -----------------------------------------------------------------------------

type fakeStore struct {
	markets []models.MMarket
	err     error
}

func (s *fakeStore) Initialize(ctx context.Context) error { return nil }
func (s *fakeStore) ListActiveMarkets(ctx context.Context) ([]models.MMarket, error) {
	return s.markets, s.err
}
func (s *fakeStore) Close() error { return nil }

// -----------------------------------------------------------------------------
// harness
// -----------------------------------------------------------------------------

type harness struct {
	cfg      *models.MConfig
	resolver *exchange.Resolver
	registry *fakeRegistry
	store    *fakeStore
	manager  *Manager

	mu        sync.Mutex
	exchanges []*fakeExchange
	build     func() (*fakeExchange, error)
}

func testConfig() *models.MConfig {
	return &models.MConfig{
		Name: "market-fanout-test",
		Exchange: models.MExchangeConfig{
			ActiveProvider: "fake",
			Providers:      []models.MProviderConfig{{Name: "fake"}},
		},
		Upstream: models.MUpstreamConfig{
			PollDelayMs:            5,
			FlushIntervalMs:        10,
			TickersStreamDelayMs:   5,
			TickersPollDelayMs:     5,
			CredentialsBackoffSec:  0,
			ErrorBackoffSec:        0,
			HealthCheckIntervalSec: 180,
			ReconnectAttempts:      3,
			ReconnectBaseDelayMs:   1,
		},
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		cfg:      testConfig(),
		registry: &fakeRegistry{},
		store: &fakeStore{markets: []models.MMarket{
			{Symbol: "BTC/USDT", Status: models.MarketStatusActive},
			{Symbol: "ETH/USDT", Status: models.MarketStatusActive},
		}},
	}
	h.build = func() (*fakeExchange, error) { return newFakeExchange(), nil }

	log := logger.NewNop()
	h.resolver = exchange.NewResolver(h.cfg, log)
	h.resolver.Register("fake", func(models.MProviderConfig) (interfaces.IExchange, error) {
		ex, err := h.build()
		if err != nil {
			return nil, err
		}
		h.mu.Lock()
		h.exchanges = append(h.exchanges, ex)
		h.mu.Unlock()
		return ex, nil
	})

	h.manager = NewManager(h.cfg, h.resolver, h.store, h.registry, metrics.New(prometheus.NewRegistry()), log)
	return h
}

func (h *harness) builtCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.exchanges)
}

func (h *harness) latest() *fakeExchange {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.exchanges) == 0 {
		return nil
	}
	return h.exchanges[len(h.exchanges)-1]
}

var errBoom = errors.New("boom")
