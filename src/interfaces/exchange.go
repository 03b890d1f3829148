package interfaces

import (
	"context"

	"market-fanout/src/models"
)

// -----------------------------------------------------------------------------
// IExchange is the upstream exchange client. Watch* calls either stream the next
// update or poll once, depending on the provider.
// -----------------------------------------------------------------------------

type IExchange interface {

	// Name returns the provider name
	Name() string

	// -----------------------------------------------------------------------------

	// Has reports whether the client supports a capability (a DataKind value,
	// watchTickers, fetchTickers or fetchTime).
	Has(capability string) bool

	// -----------------------------------------------------------------------------

	WatchTicker(ctx context.Context, symbol string, param interface{}) (models.MTicker, error)
	WatchOHLCV(ctx context.Context, symbol, interval string, limit int, param interface{}) ([]models.MCandle, error)
	WatchTrades(ctx context.Context, symbol string, limit int, param interface{}) ([]models.MTrade, error)
	WatchOrderBook(ctx context.Context, symbol string, limit int, param interface{}) (models.MOrderBook, error)

	// -----------------------------------------------------------------------------

	// WatchTickers streams the next exchange-wide ticker update for symbols.
	WatchTickers(ctx context.Context, symbols []string) ([]models.MTicker, error)

	// FetchTickers polls tickers for symbols.
	FetchTickers(ctx context.Context, symbols []string) ([]models.MTicker, error)

	// FetchTime returns the exchange server time in milliseconds.
	FetchTime(ctx context.Context) (int64, error)

	// -----------------------------------------------------------------------------

	// CheckRequiredCredentials fails when the provider needs credentials that are missing.
	CheckRequiredCredentials() error

	// Close releases connections held by the client.
	Close() error
}

// -----------------------------------------------------------------------------
// IExchangeResolver picks and builds upstream clients by provider name.
// -----------------------------------------------------------------------------

type IExchangeResolver interface {

	// ActiveProvider returns the currently configured provider name.
	ActiveProvider() string

	// Start returns the cached client for name, constructing it on first use.
	Start(name string) (IExchange, error)

	// Reset closes and forgets the cached client for name.
	Reset(name string)

	// PollOnlyTickers reports providers whose streaming tickers are unreliable.
	PollOnlyTickers(name string) bool

	// StrictCredentials reports providers that rate-limit hard on invalid credentials.
	StrictCredentials(name string) bool
}
