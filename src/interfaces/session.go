package interfaces

import (
	"context"

	"market-fanout/src/models"
)

// -----------------------------------------------------------------------------
// ISession is one connected client as seen by the upstream manager.
// -----------------------------------------------------------------------------

type ISession interface {
	ID() string
	Category() models.Category
	IsOpen() bool

	// Subscriptions returns a sorted snapshot of the identifiers subscribed for kind.
	Subscriptions(kind models.DataKind) []string

	// Send serializes payload and queues it for the socket.
	Send(payload interface{}) error

	// Close shuts the socket and clears subscriptions. Safe to call twice.
	Close()
}

// -----------------------------------------------------------------------------
// IClientRegistry indexes connected sessions.
// -----------------------------------------------------------------------------

type IClientRegistry interface {
	AddClient(ctx context.Context, id string, session ISession) error
	RemoveClient(id string)
	IsClientActive(id string) bool
	GetAllClients() []ISession
	GetClientsByCategory(category models.Category) []ISession
	GetClientsSubscribedTo(identifier string, kind models.DataKind) []ISession
	IsSymbolSubscribedByOtherClients(excludeID, identifier string, kind models.DataKind) bool
	GetClientsOfType(category models.Category) []ISession
	AddClientOfType(category models.Category, session ISession)
	RemoveClientOfType(category models.Category, session ISession)
}

// -----------------------------------------------------------------------------
// IUpstream is what a session needs from the upstream connection manager.
// -----------------------------------------------------------------------------

type IUpstream interface {

	// WatchData blocks while the subscription is active. Run it in its own goroutine.
	WatchData(ctx context.Context, symbol string, kind models.DataKind, interval string, limit int, param interface{}) error

	// StartWatch registers the subscription before returning and polls it in the background.
	StartWatch(ctx context.Context, symbol string, kind models.DataKind, interval string, limit int, param interface{}) error

	// RemoveSubscription deactivates and forgets a subscription.
	RemoveSubscription(identifier string, kind models.DataKind)
}
