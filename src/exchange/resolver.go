// Package exchange resolves the configured upstream provider to a live client.
package exchange

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"market-fanout/src/interfaces"
	"market-fanout/src/logger"
	"market-fanout/src/models"
)

var ErrUnknownProvider = errors.New("unknown exchange provider")

// Factory builds a client for one provider.
type Factory func(cfg models.MProviderConfig) (interfaces.IExchange, error)

// -----------------------------------------------------------------------------

// Resolver keeps one cached client per provider name.
type Resolver struct {
	Config *models.MConfig
	Logger *logger.Logger

	mu        sync.Mutex
	active    string
	factories map[string]Factory
	instances map[string]interfaces.IExchange
}

// -----------------------------------------------------------------------------

func NewResolver(cfg *models.MConfig, log *logger.Logger) *Resolver {
	return &Resolver{
		Config:    cfg,
		Logger:    log.Named("ExchangeResolver"),
		active:    cfg.Exchange.ActiveProvider,
		factories: make(map[string]Factory),
		instances: make(map[string]interfaces.IExchange),
	}
}

// Register adds or replaces the factory for name.
func (r *Resolver) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// -----------------------------------------------------------------------------

func (r *Resolver) ActiveProvider() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// SetActiveProvider switches the provider later Start calls resolve to.
func (r *Resolver) SetActiveProvider(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	r.active = name
	return nil
}

// -----------------------------------------------------------------------------

// Start returns the cached client for name or constructs a new one.
func (r *Resolver) Start(name string) (interfaces.IExchange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ex, ok := r.instances[name]; ok {
		return ex, nil
	}

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}

	providerCfg, _ := r.Config.Exchange.Provider(name)
	providerCfg.Name = name

	ex, err := factory(providerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to start provider %s: %w", name, err)
	}

	r.instances[name] = ex
	r.Logger.Info("Started exchange client for %s", name)
	return ex, nil
}

// -----------------------------------------------------------------------------

// Reset closes and drops the cached client so the next Start rebuilds it.
func (r *Resolver) Reset(name string) {
	r.mu.Lock()
	ex, ok := r.instances[name]
	delete(r.instances, name)
	r.mu.Unlock()

	if !ok {
		return
	}
	if err := ex.Close(); err != nil {
		r.Logger.Warning("Closing %s client failed: %v", name, err)
	}
}

// -----------------------------------------------------------------------------

func (r *Resolver) PollOnlyTickers(name string) bool {
	return slices.Contains(r.Config.Exchange.PollOnlyTickers, name)
}

func (r *Resolver) StrictCredentials(name string) bool {
	return slices.Contains(r.Config.Exchange.StrictCredentials, name)
}

// CloseAll closes every cached client.
func (r *Resolver) CloseAll() {
	r.mu.Lock()
	names := make([]string, 0, len(r.instances))
	for name := range r.instances {
		names = append(names, name)
	}
	r.mu.Unlock()

	for _, name := range names {
		r.Reset(name)
	}
}
