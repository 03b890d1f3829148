package upstream

import (
	"context"
	"time"

	"market-fanout/src/helpers"
	"market-fanout/src/models"
)

// -----------------------------------------------------------------------------
// Validation
// -----------------------------------------------------------------------------

// ValidateConnection asks the exchange for its server time.
func (m *Manager) ValidateConnection(ctx context.Context) bool {
	ex, err := m.ensureExchange()
	if err != nil {
		m.healthy.Store(false)
		return false
	}
	if _, err := ex.FetchTime(ctx); err != nil {
		m.Logger.Warning("Connection validation failed: %v", err)
		m.healthy.Store(false)
		return false
	}
	m.healthy.Store(true)
	return true
}

// -----------------------------------------------------------------------------
// Reconnect
// -----------------------------------------------------------------------------

// Reconnect rebuilds the exchange client and restarts every subscription that
// was active when it was called. Attempt n waits base*2^n before validating.
func (m *Manager) Reconnect(ctx context.Context) error {
	if !m.reconnecting.CompareAndSwap(false, true) {
		m.Logger.Debug("Reconnect already in progress")
		return nil
	}
	defer m.reconnecting.Store(false)

	active := m.subs.activeSnapshot()
	attempts := m.Config.Upstream.ReconnectAttempts
	base := m.Config.Upstream.ReconnectBaseDelay()

	for attempt := 0; attempt < attempts; attempt++ {
		m.Logger.Info("Reconnect attempt %d/%d (%d subscriptions)", attempt+1, attempts, len(active))
		m.restartAll(ctx, active)

		if err := helpers.Sleep(ctx, base*time.Duration(1<<attempt)); err != nil {
			return err
		}
		if m.ValidateConnection(ctx) {
			m.Logger.Info("Reconnected to %s", m.Provider())
			m.Metrics.Reconnects.WithLabelValues("success").Inc()
			return nil
		}
	}

	m.Logger.Error("Giving up reconnect after %d attempts", attempts)
	m.Metrics.Reconnects.WithLabelValues("exhausted").Inc()
	return ErrReconnectExhausted
}

// restartAll closes the client, builds a fresh one and starts a new loop
// generation for each snapshotted subscription.
func (m *Manager) restartAll(ctx context.Context, active []Subscription) {
	m.dropExchange()
	if _, err := m.ensureExchange(); err != nil {
		return
	}

	for _, prev := range active {
		sub := m.subs.restart(prev)
		if sub == nil {
			continue
		}
		if sub.Kind == models.KindAllTickers {
			m.spawn(func() { m.tickersLoop(ctx, sub) })
		} else {
			m.spawn(func() { m.pollLoop(ctx, sub) })
		}
	}
	m.Metrics.UpstreamSubscriptions.Set(float64(m.subs.activeCount()))
}

// -----------------------------------------------------------------------------
// Health check
// -----------------------------------------------------------------------------

// RunHealthCheck validates the connection on every health interval and
// reconnects when validation fails. report receives each outcome.
func (m *Manager) RunHealthCheck(ctx context.Context, report func(healthy bool)) error {
	if report == nil {
		report = func(bool) {}
	}
	interval := m.Config.Upstream.HealthCheckInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.Logger.Info("Health check every %s", interval)
	report(m.ValidateConnection(ctx))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if m.ValidateConnection(ctx) {
			report(true)
			continue
		}
		report(false)
		if err := m.Reconnect(ctx); err != nil && ctx.Err() == nil {
			m.Logger.Warning("Reconnect failed: %v", err)
		}
		report(m.Healthy())
	}
}
