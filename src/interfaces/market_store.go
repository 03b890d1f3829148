package interfaces

import (
	"context"

	"market-fanout/src/models"
)

// -----------------------------------------------------------------------------
// IMarketStore is the persistence collaborator that owns the market roster.
// -----------------------------------------------------------------------------

type IMarketStore interface {

	// Initialize sets up the schema and seeds configured markets.
	Initialize(ctx context.Context) error

	// -----------------------------------------------------------------------------

	// ListActiveMarkets returns markets whose status is active.
	ListActiveMarkets(ctx context.Context) ([]models.MMarket, error)

	// -----------------------------------------------------------------------------

	// Close the database connection
	Close() error
}
