package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"market-fanout/src/interfaces"
	"market-fanout/src/logger"
	"market-fanout/src/metrics"
	"market-fanout/src/models"

	"github.com/cenkalti/backoff/v5"
)

var ErrClientNotReady = errors.New("client session never opened")

var _ interfaces.IClientRegistry = (*ClientRegistry)(nil)

// -----------------------------------------------------------------------------
// ClientRegistry
// -----------------------------------------------------------------------------

// ClientRegistry indexes sessions by id, by connection category and by
// broadcast group. One mutex guards all maps; session methods are always
// called outside it.
type ClientRegistry struct {
	Config  *models.MConfig
	Logger  *logger.Logger
	Metrics *metrics.Metrics

	mu      sync.RWMutex
	all     map[string]interfaces.ISession
	trade   map[string]interfaces.ISession
	tickers map[string]interfaces.ISession
	groups  map[models.Category]map[string]interfaces.ISession
}

func NewClientRegistry(cfg *models.MConfig, m *metrics.Metrics, log *logger.Logger) *ClientRegistry {
	return &ClientRegistry{
		Config:  cfg,
		Logger:  log.Named("ClientRegistry"),
		Metrics: m,
		all:     make(map[string]interfaces.ISession),
		trade:   make(map[string]interfaces.ISession),
		tickers: make(map[string]interfaces.ISession),
		groups:  make(map[models.Category]map[string]interfaces.ISession),
	}
}

// -----------------------------------------------------------------------------
// Registration
// -----------------------------------------------------------------------------

// AddClient waits for session to report OPEN, polling a bounded number of
// times, then indexes it.
func (r *ClientRegistry) AddClient(ctx context.Context, id string, session interfaces.ISession) error {
	attempts := r.Config.Session.RegisterAttempts
	if attempts <= 0 {
		attempts = 1
	}
	wait := backoff.NewConstantBackOff(r.Config.Session.RegisterDelay())

	for attempt := 1; !session.IsOpen(); attempt++ {
		if attempt >= attempts {
			r.Logger.Warning("Session %s not open after %d attempts, not registering", id, attempts)
			return ErrClientNotReady
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait.NextBackOff()):
		}
	}

	r.mu.Lock()
	r.all[id] = session
	switch session.Category() {
	case models.CategoryTrade:
		r.trade[id] = session
	case models.CategoryTickers:
		r.tickers[id] = session
	}
	r.mu.Unlock()

	r.Metrics.Sessions.WithLabelValues(string(session.Category())).Inc()
	r.Logger.Debug("Registered %s session %s", session.Category(), id)
	return nil
}

// RemoveClient closes the session and drops it from every index. Unknown ids
// are ignored.
func (r *ClientRegistry) RemoveClient(id string) {
	r.mu.Lock()
	session, ok := r.all[id]
	if ok {
		delete(r.all, id)
		delete(r.trade, id)
		delete(r.tickers, id)
		for _, group := range r.groups {
			delete(group, id)
		}
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	session.Close()
	r.Metrics.Sessions.WithLabelValues(string(session.Category())).Dec()
	r.Logger.Debug("Removed session %s", id)
}

func (r *ClientRegistry) IsClientActive(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.all[id]
	return ok
}

// -----------------------------------------------------------------------------
// Queries
// -----------------------------------------------------------------------------

// GetAllClients returns registered sessions that still report OPEN.
func (r *ClientRegistry) GetAllClients() []interfaces.ISession {
	out := r.snapshot(r.all)
	open := out[:0]
	for _, s := range out {
		if s.IsOpen() {
			open = append(open, s)
		}
	}
	return open
}

// GetClientsByCategory returns sessions by the endpoint they connected to.
func (r *ClientRegistry) GetClientsByCategory(category models.Category) []interfaces.ISession {
	switch category {
	case models.CategoryTrade:
		return r.snapshot(r.trade)
	case models.CategoryTickers:
		return r.snapshot(r.tickers)
	}
	return nil
}

func (r *ClientRegistry) GetClientsSubscribedTo(identifier string, kind models.DataKind) []interfaces.ISession {
	var out []interfaces.ISession
	for _, s := range r.snapshot(r.all) {
		if contains(s.Subscriptions(kind), identifier) {
			out = append(out, s)
		}
	}
	return out
}

// IsSymbolSubscribedByOtherClients reports whether any session other than
// excludeID still holds identifier for kind.
func (r *ClientRegistry) IsSymbolSubscribedByOtherClients(excludeID, identifier string, kind models.DataKind) bool {
	for _, s := range r.snapshot(r.all) {
		if s.ID() == excludeID {
			continue
		}
		if contains(s.Subscriptions(kind), identifier) {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// Broadcast groups
// -----------------------------------------------------------------------------

func (r *ClientRegistry) GetClientsOfType(category models.Category) []interfaces.ISession {
	r.mu.RLock()
	group := r.groups[category]
	r.mu.RUnlock()
	return r.snapshot(group)
}

func (r *ClientRegistry) AddClientOfType(category models.Category, session interfaces.ISession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	group, ok := r.groups[category]
	if !ok {
		group = make(map[string]interfaces.ISession)
		r.groups[category] = group
	}
	group[session.ID()] = session
}

func (r *ClientRegistry) RemoveClientOfType(category models.Category, session interfaces.ISession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.groups[category], session.ID())
}

// -----------------------------------------------------------------------------

// Counts returns the number of registered sessions per category.
func (r *ClientRegistry) Counts() map[models.Category]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[models.Category]int{
		models.CategoryTrade:   len(r.trade),
		models.CategoryTickers: len(r.tickers),
	}
}

func (r *ClientRegistry) snapshot(m map[string]interfaces.ISession) []interfaces.ISession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]interfaces.ISession, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	return out
}
