// Package upstream owns the single exchange connection and fans its data out
// to connected sessions.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"market-fanout/src/interfaces"
	"market-fanout/src/logger"
	"market-fanout/src/metrics"
	"market-fanout/src/models"
)

var (
	ErrExchangeUnavailable = errors.New("upstream exchange unavailable")
	ErrReconnectExhausted  = errors.New("reconnect attempts exhausted")
)

var _ interfaces.IUpstream = (*Manager)(nil)

// -----------------------------------------------------------------------------
// Manager
// -----------------------------------------------------------------------------

type Manager struct {
	Config   *models.MConfig
	Logger   *logger.Logger
	Resolver interfaces.IExchangeResolver
	Markets  interfaces.IMarketStore
	Clients  interfaces.IClientRegistry
	Metrics  *metrics.Metrics

	exMu     sync.Mutex
	exchange interfaces.IExchange
	provider string

	subs   *subscriptionRegistry
	buffer *messageBuffer

	// tasks tracks the loops the manager starts on its own goroutines.
	tasks        sync.WaitGroup
	loops        atomic.Int64
	reconnecting atomic.Bool
	healthy      atomic.Bool
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewManager(
	cfg *models.MConfig,
	resolver interfaces.IExchangeResolver,
	markets interfaces.IMarketStore,
	clients interfaces.IClientRegistry,
	m *metrics.Metrics,
	log *logger.Logger,
) *Manager {
	return &Manager{
		Config:   cfg,
		Logger:   log.Named("UpstreamManager"),
		Resolver: resolver,
		Markets:  markets,
		Clients:  clients,
		Metrics:  m,
		subs:     newSubscriptionRegistry(),
		buffer:   newMessageBuffer(),
	}
}

// -----------------------------------------------------------------------------
// Exchange lifecycle
// -----------------------------------------------------------------------------

// ensureExchange returns the current client, building it on first use or after
// a reset. A failed build leaves nothing cached so the next caller retries.
func (m *Manager) ensureExchange() (interfaces.IExchange, error) {
	m.exMu.Lock()
	defer m.exMu.Unlock()

	if m.exchange != nil {
		return m.exchange, nil
	}

	provider := m.Resolver.ActiveProvider()
	ex, err := m.Resolver.Start(provider)
	if err != nil {
		m.Logger.Error("Failed to initialize exchange %s: %v", provider, err)
		return nil, fmt.Errorf("%w: %v", ErrExchangeUnavailable, err)
	}
	if err := ex.CheckRequiredCredentials(); err != nil {
		m.Logger.Error("Exchange %s credentials check failed: %v", provider, err)
		m.Resolver.Reset(provider)
		return nil, fmt.Errorf("%w: %v", ErrExchangeUnavailable, err)
	}

	m.exchange = ex
	m.provider = provider
	m.Logger.Info("Exchange %s initialized", provider)
	return ex, nil
}

// dropExchange forgets the cached client and closes it through the resolver.
func (m *Manager) dropExchange() {
	m.exMu.Lock()
	provider := m.provider
	if provider == "" {
		provider = m.Resolver.ActiveProvider()
	}
	m.exchange = nil
	m.exMu.Unlock()

	m.Resolver.Reset(provider)
}

// ResetExchangeInstance drops the cached client for the active provider and
// builds a new one.
func (m *Manager) ResetExchangeInstance() error {
	m.dropExchange()
	if _, err := m.ensureExchange(); err != nil {
		m.Logger.Warning("Exchange reset did not produce a client: %v", err)
		return err
	}
	return nil
}

// Provider returns the provider of the current client, or the configured one
// before the first initialization.
func (m *Manager) Provider() string {
	m.exMu.Lock()
	defer m.exMu.Unlock()
	if m.provider != "" {
		return m.provider
	}
	return m.Resolver.ActiveProvider()
}

// -----------------------------------------------------------------------------
// Per-subscription poll loops
// -----------------------------------------------------------------------------

// WatchData starts polling (symbol, kind) and blocks until the subscription is
// deactivated. A second call for a pair that is already polling updates its
// parameters and returns at once.
func (m *Manager) WatchData(ctx context.Context, symbol string, kind models.DataKind, interval string, limit int, param interface{}) error {
	sub, started, err := m.activate(symbol, kind, interval, limit, param)
	if err != nil || !started {
		return err
	}
	m.pollLoop(ctx, sub)
	return nil
}

// StartWatch is WatchData without the wait: the subscription is registered
// and active when it returns and its loop runs on a tracked goroutine.
func (m *Manager) StartWatch(ctx context.Context, symbol string, kind models.DataKind, interval string, limit int, param interface{}) error {
	sub, started, err := m.activate(symbol, kind, interval, limit, param)
	if err != nil || !started {
		return err
	}
	m.spawn(func() { m.pollLoop(ctx, sub) })
	return nil
}

// activate upserts the subscription. started reports whether the caller owns
// a new loop for it.
func (m *Manager) activate(symbol string, kind models.DataKind, interval string, limit int, param interface{}) (*Subscription, bool, error) {
	ex, err := m.ensureExchange()
	if err != nil {
		return nil, false, err
	}
	if !ex.Has(string(kind)) {
		m.Logger.Warning("Exchange %s does not support %s, ignoring %s", ex.Name(), kind, symbol)
		return nil, false, nil
	}

	sub, started := m.subs.activate(Subscription{
		Identifier: kind.Identifier(symbol, interval),
		Symbol:     symbol,
		Kind:       kind,
		Interval:   interval,
		Limit:      limit,
		Param:      param,
	})
	if !started {
		m.Logger.Debug("Already polling %s", sub.Key())
		return sub, false, nil
	}
	m.Metrics.UpstreamSubscriptions.Set(float64(m.subs.activeCount()))
	return sub, true, nil
}

func (m *Manager) spawn(loop func()) {
	m.tasks.Add(1)
	go func() {
		defer m.tasks.Done()
		loop()
	}()
}

// Stop deactivates every subscription and waits for the loops the manager
// started itself.
func (m *Manager) Stop() {
	m.subs.deactivateAll()
	m.Metrics.UpstreamSubscriptions.Set(0)
	m.tasks.Wait()
}

func (m *Manager) pollLoop(ctx context.Context, sub *Subscription) {
	m.Metrics.PollLoopsStarted.Inc()
	m.loops.Add(1)
	defer m.loops.Add(-1)

	m.Logger.Debug("Poll loop started for %s", sub.Key())
	defer m.Logger.Debug("Poll loop stopped for %s", sub.Key())

	stop := m.subs.stopChan(sub)
	delay := m.Config.Upstream.PollDelay()

	for m.subs.isActive(sub) {
		payload, err := m.fetch(ctx, sub)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.Logger.Warning("Fetching %s failed, deactivating: %v", sub.Key(), err)
			m.Metrics.UpstreamErrors.WithLabelValues(string(sub.Kind)).Inc()
			m.subs.deactivate(sub)
			m.Metrics.UpstreamSubscriptions.Set(float64(m.subs.activeCount()))
			return
		}
		if m.subs.isActive(sub) {
			m.buffer.store(sub.Kind, sub.Identifier, payload)
		}

		select {
		case <-ctx.Done():
			return
		case <-stop:
		case <-time.After(delay):
		}
	}
}

func (m *Manager) fetch(ctx context.Context, live *Subscription) (interface{}, error) {
	ex, err := m.ensureExchange()
	if err != nil {
		return nil, err
	}
	sub := m.subs.params(live)

	switch sub.Kind {
	case models.KindTicker:
		return ex.WatchTicker(ctx, sub.Symbol, sub.Param)
	case models.KindOHLCV:
		return ex.WatchOHLCV(ctx, sub.Symbol, sub.Interval, sub.Limit, sub.Param)
	case models.KindTrades:
		return ex.WatchTrades(ctx, sub.Symbol, sub.Limit, sub.Param)
	case models.KindOrderBook:
		return ex.WatchOrderBook(ctx, sub.Symbol, sub.Limit, sub.Param)
	}
	return nil, fmt.Errorf("unsupported kind %s", sub.Kind)
}

// RemoveSubscription deactivates (identifier, kind) and deletes its entry. The
// loop notices at its next iteration boundary.
func (m *Manager) RemoveSubscription(identifier string, kind models.DataKind) {
	if m.subs.remove(identifier, kind) {
		m.Logger.Debug("Removed subscription %s", models.SubscriptionKey(identifier, kind))
	}
	m.Metrics.UpstreamSubscriptions.Set(float64(m.subs.activeCount()))
}

// -----------------------------------------------------------------------------
// Buffer and flush
// -----------------------------------------------------------------------------

// CollectClientData returns the latest buffered payload per kind for session.
// When a session holds several identifiers of one kind, the lexically last
// buffered identifier wins.
func (m *Manager) CollectClientData(session interfaces.ISession) map[models.DataKind]interface{} {
	return collect(session, m.buffer.get)
}

func collect(session interfaces.ISession, lookup func(models.DataKind, string) (interface{}, bool)) map[models.DataKind]interface{} {
	out := make(map[models.DataKind]interface{})
	for _, kind := range models.TradeKinds {
		for _, identifier := range session.Subscriptions(kind) {
			if payload, ok := lookup(kind, identifier); ok {
				out[kind] = payload
			}
		}
	}
	return out
}

// FlushBuffer pushes buffered data to every TRADE session and empties the
// buffer. Closed sessions and failed sends are deregistered.
func (m *Manager) FlushBuffer() {
	snapshot := m.buffer.drain()
	lookup := func(kind models.DataKind, identifier string) (interface{}, bool) {
		v, ok := snapshot[kind][identifier]
		return v, ok
	}

	for _, session := range m.Clients.GetClientsByCategory(models.CategoryTrade) {
		if !session.IsOpen() {
			m.Clients.RemoveClient(session.ID())
			continue
		}

		frame := collect(session, lookup)
		if len(frame) == 0 {
			continue
		}
		if err := session.Send(frame); err != nil {
			m.Logger.Debug("Dropping session %s after failed send: %v", session.ID(), err)
			m.Clients.RemoveClient(session.ID())
			continue
		}
		for kind := range frame {
			m.Metrics.FramesSent.WithLabelValues(string(kind)).Inc()
		}
	}
}

// RunFlushLoop calls FlushBuffer on every flush interval until ctx is done.
func (m *Manager) RunFlushLoop(ctx context.Context) error {
	ticker := time.NewTicker(m.Config.Upstream.FlushInterval())
	defer ticker.Stop()

	m.Logger.Info("Flush loop started (%s)", m.Config.Upstream.FlushInterval())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.FlushBuffer()
		}
	}
}

// -----------------------------------------------------------------------------
// Introspection
// -----------------------------------------------------------------------------

// Subscriptions lists every registry entry sorted by key.
func (m *Manager) Subscriptions() []models.MSubscriptionInfo {
	return m.subs.list()
}

// Subscription looks up one registry entry.
func (m *Manager) Subscription(identifier string, kind models.DataKind) (models.MSubscriptionInfo, bool) {
	return m.subs.lookup(identifier, kind)
}

// RunningLoops counts poll loops that have not yet exited.
func (m *Manager) RunningLoops() int {
	return int(m.loops.Load())
}

// Healthy reports the result of the last connection validation.
func (m *Manager) Healthy() bool {
	return m.healthy.Load()
}

// BufferedKeys returns the buffered (kind, identifier) pairs as sorted keys.
func (m *Manager) BufferedKeys() []string {
	m.buffer.mu.Lock()
	defer m.buffer.mu.Unlock()
	var keys []string
	for kind, byID := range m.buffer.data {
		for id := range byID {
			keys = append(keys, models.SubscriptionKey(id, kind))
		}
	}
	sort.Strings(keys)
	return keys
}
