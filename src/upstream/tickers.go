package upstream

import (
	"context"
	"time"

	"market-fanout/src/helpers"
	"market-fanout/src/models"
)

// -----------------------------------------------------------------------------
// All-tickers loop
// -----------------------------------------------------------------------------

// WatchAllTickers pushes the roster's ticker summaries to TICKERS sessions
// until ctx is done. Errors back off and reset the exchange client; they never
// end the loop.
func (m *Manager) WatchAllTickers(ctx context.Context) error {
	sub, started := m.subs.activate(Subscription{Kind: models.KindAllTickers})
	if !started {
		m.Logger.Debug("All-tickers loop already running")
		return nil
	}
	m.tickersLoop(ctx, sub)
	return nil
}

func (m *Manager) tickersLoop(ctx context.Context, sub *Subscription) {
	m.loops.Add(1)
	defer m.loops.Add(-1)

	m.Logger.Info("All-tickers loop started")
	defer m.Logger.Info("All-tickers loop stopped")

	stop := m.subs.stopChan(sub)
	for m.subs.isActive(sub) && ctx.Err() == nil {
		streamed, err := m.pushAllTickers(ctx)

		var delay time.Duration
		switch {
		case err == nil && streamed:
			delay = m.Config.Upstream.TickersStreamDelay()
		case err == nil:
			delay = m.Config.Upstream.TickersPollDelay()
		default:
			if ctx.Err() != nil {
				return
			}
			m.Metrics.UpstreamErrors.WithLabelValues(string(models.KindAllTickers)).Inc()
			provider := m.Provider()
			if m.Resolver.StrictCredentials(provider) && helpers.IsInvalidCredentials(err) {
				delay = m.Config.Upstream.CredentialsBackoff()
				m.Logger.Error("Exchange %s rejected credentials, backing off %s: %v", provider, delay, err)
			} else {
				delay = m.Config.Upstream.ErrorBackoff()
				m.Logger.Warning("Tickers fetch failed, retrying in %s: %v", delay, err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-time.After(delay):
		}

		if err != nil {
			m.ResetExchangeInstance()
		}
	}
}

// pushAllTickers runs one iteration and reports whether the streaming call was used.
func (m *Manager) pushAllTickers(ctx context.Context) (streamed bool, err error) {
	ex, err := m.ensureExchange()
	if err != nil {
		return false, err
	}

	markets, err := m.Markets.ListActiveMarkets(ctx)
	if err != nil {
		return false, err
	}
	symbols := make([]string, 0, len(markets))
	for _, mk := range markets {
		if mk.Status == models.MarketStatusActive {
			symbols = append(symbols, mk.Symbol)
		}
	}
	if len(symbols) == 0 {
		return false, nil
	}

	streamed = ex.Has(models.CapWatchTickers) && !m.Resolver.PollOnlyTickers(m.Provider())

	var tickers []models.MTicker
	if streamed {
		tickers, err = ex.WatchTickers(ctx, symbols)
	} else {
		tickers, err = ex.FetchTickers(ctx, symbols)
	}
	if err != nil {
		return streamed, err
	}

	m.broadcastTickers(FilterTickers(NormalizeTickers(tickers)))
	return streamed, nil
}

func (m *Manager) broadcastTickers(summaries map[string]models.MTickerSummary) {
	frame := map[models.DataKind]interface{}{models.KindTickers: summaries}

	for _, session := range m.Clients.GetClientsOfType(models.CategoryTickers) {
		if session.IsOpen() {
			if err := session.Send(frame); err == nil {
				m.Metrics.FramesSent.WithLabelValues(string(models.KindTickers)).Inc()
				continue
			}
		}
		m.Clients.RemoveClientOfType(models.CategoryTickers, session)
		m.Clients.RemoveClient(session.ID())
	}
}

// -----------------------------------------------------------------------------
// Ticker shaping
// -----------------------------------------------------------------------------

// NormalizeTickers keys an exchange ticker array by symbol. Later entries for
// the same symbol replace earlier ones.
func NormalizeTickers(tickers []models.MTicker) map[string]models.MTicker {
	out := make(map[string]models.MTicker, len(tickers))
	for _, t := range tickers {
		if t.Symbol == "" {
			continue
		}
		out[t.Symbol] = t
	}
	return out
}

// FilterTickers keeps last price, volumes and percentage change per symbol.
func FilterTickers(tickers map[string]models.MTicker) map[string]models.MTickerSummary {
	out := make(map[string]models.MTickerSummary, len(tickers))
	for symbol, t := range tickers {
		out[symbol] = t.Summary()
	}
	return out
}
