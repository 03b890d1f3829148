package upstream

import (
	"sort"
	"sync"

	"market-fanout/src/models"
)

// -----------------------------------------------------------------------------
// Subscription
// -----------------------------------------------------------------------------

// Subscription is one upstream (identifier, kind) pair and its poll parameters.
// A loop owns exactly one Subscription value; reconnect swaps in a new value
// so the previous loop sees itself deactivated and exits.
type Subscription struct {
	Identifier string
	Symbol     string
	Kind       models.DataKind
	Interval   string
	Limit      int
	Param      interface{}

	active bool
	stop   chan struct{} // closed on deactivation, wakes a sleeping loop
}

func (s *Subscription) Key() string {
	return models.SubscriptionKey(s.Identifier, s.Kind)
}

func (s *Subscription) info() models.MSubscriptionInfo {
	return models.MSubscriptionInfo{
		Key:        s.Key(),
		Identifier: s.Identifier,
		Kind:       s.Kind,
		Active:     s.active,
		Interval:   s.Interval,
		Limit:      s.Limit,
		Param:      s.Param,
	}
}

// -----------------------------------------------------------------------------
// Registry
// -----------------------------------------------------------------------------

type subscriptionRegistry struct {
	mu   sync.Mutex
	subs map[string]*Subscription
}

func newSubscriptionRegistry() *subscriptionRegistry {
	return &subscriptionRegistry{subs: make(map[string]*Subscription)}
}

// getOrCreate returns the entry for (identifier, kind), inserting an inactive one.
func (r *subscriptionRegistry) getOrCreate(identifier string, kind models.DataKind) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getOrCreateLocked(identifier, kind)
}

func (r *subscriptionRegistry) getOrCreateLocked(identifier string, kind models.DataKind) *Subscription {
	key := models.SubscriptionKey(identifier, kind)
	sub, ok := r.subs[key]
	if !ok {
		sub = &Subscription{Identifier: identifier, Kind: kind, stop: make(chan struct{})}
		r.subs[key] = sub
	}
	return sub
}

// activate upserts the parameters and marks the entry active. started is false
// when a loop is already running for the pair; that loop picks up the new
// parameters on its next fetch.
func (r *subscriptionRegistry) activate(want Subscription) (sub *Subscription, started bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub = r.getOrCreateLocked(want.Identifier, want.Kind)
	sub.Symbol = want.Symbol
	sub.Interval = want.Interval
	sub.Limit = want.Limit
	sub.Param = want.Param
	if sub.active {
		return sub, false
	}
	sub.active = true
	sub.stop = make(chan struct{})
	return sub, true
}

// remove deactivates and deletes the entry. Absent keys are a no-op.
func (r *subscriptionRegistry) remove(identifier string, kind models.DataKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := models.SubscriptionKey(identifier, kind)
	sub, ok := r.subs[key]
	if !ok {
		return false
	}
	deactivateLocked(sub)
	delete(r.subs, key)
	return true
}

func (r *subscriptionRegistry) deactivate(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	deactivateLocked(sub)
}

func deactivateLocked(sub *Subscription) {
	if sub.active {
		sub.active = false
		close(sub.stop)
	}
}

// deactivateAll stops every loop without deleting entries.
func (r *subscriptionRegistry) deactivateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		deactivateLocked(sub)
	}
}

// params copies the current poll parameters of sub.
func (r *subscriptionRegistry) params(sub *Subscription) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *sub
	cp.stop = nil
	return cp
}

func (r *subscriptionRegistry) isActive(sub *Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sub.active
}

// stopChan returns the channel closed when sub is deactivated.
func (r *subscriptionRegistry) stopChan(sub *Subscription) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sub.stop
}

// restart replaces the entry for prev's key with a fresh active generation
// carrying the same parameters. Entries deleted since the snapshot stay deleted.
func (r *subscriptionRegistry) restart(prev Subscription) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := prev.Key()
	cur, ok := r.subs[key]
	if !ok {
		return nil
	}
	deactivateLocked(cur)

	next := &Subscription{
		Identifier: prev.Identifier,
		Symbol:     prev.Symbol,
		Kind:       prev.Kind,
		Interval:   prev.Interval,
		Limit:      prev.Limit,
		Param:      prev.Param,
		active:     true,
		stop:       make(chan struct{}),
	}
	r.subs[key] = next
	return next
}

// activeSnapshot copies every active entry.
func (r *subscriptionRegistry) activeSnapshot() []Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		if sub.active {
			cp := *sub
			cp.stop = nil
			out = append(out, cp)
		}
	}
	return out
}

func (r *subscriptionRegistry) list() []models.MSubscriptionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.MSubscriptionInfo, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, sub.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (r *subscriptionRegistry) lookup(identifier string, kind models.DataKind) (models.MSubscriptionInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[models.SubscriptionKey(identifier, kind)]
	if !ok {
		return models.MSubscriptionInfo{}, false
	}
	return sub.info(), true
}

func (r *subscriptionRegistry) activeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, sub := range r.subs {
		if sub.active {
			n++
		}
	}
	return n
}
