package models

import (
	"errors"
	"strings"
)

// -----------------------------------------------------------------------------
// Data kinds
// -----------------------------------------------------------------------------

// DataKind names one of the market-data request types a TRADE session can subscribe to.
// The values double as upstream capability names and as keys of outbound frames.
type DataKind string

const (
	KindOHLCV     DataKind = "watchOHLCV"
	KindOrderBook DataKind = "watchOrderBook"
	KindTicker    DataKind = "watchTicker"
	KindTrades    DataKind = "watchTrades"

	// KindTickers keys the frames pushed to TICKERS sessions.
	KindTickers DataKind = "watchTickers"

	// KindAllTickers marks the exchange-wide ticker loop in the subscription registry.
	KindAllTickers DataKind = "watchAllTickers"
)

// Upstream capability names that are not data kinds themselves.
const (
	CapWatchTickers = "watchTickers"
	CapFetchTickers = "fetchTickers"
	CapFetchTime    = "fetchTime"
)

// TradeKinds lists the kinds a TRADE session keeps a subscription set for.
var TradeKinds = []DataKind{KindOHLCV, KindOrderBook, KindTicker, KindTrades}

// ErrInvalidKind rejects a type outside TradeKinds.
var ErrInvalidKind = errors.New("invalid data kind")

// ParseKind validates a client supplied type string.
func ParseKind(s string) (DataKind, bool) {
	for _, k := range TradeKinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// Identifier returns the subscription identifier for a symbol: OHLCV appends the interval.
func (k DataKind) Identifier(symbol, interval string) string {
	if k == KindOHLCV {
		return symbol + "-" + interval
	}
	return symbol
}

// SplitIdentifier reverses Identifier. The interval is empty for kinds other than OHLCV.
func (k DataKind) SplitIdentifier(identifier string) (symbol, interval string) {
	if k != KindOHLCV {
		return identifier, ""
	}
	idx := strings.LastIndex(identifier, "-")
	if idx < 0 {
		return identifier, ""
	}
	return identifier[:idx], identifier[idx+1:]
}

// SubscriptionKey builds the registry key `identifier-kind`.
func SubscriptionKey(identifier string, kind DataKind) string {
	if kind == KindAllTickers {
		return string(KindAllTickers)
	}
	return identifier + "-" + string(kind)
}

// -----------------------------------------------------------------------------
// Connection categories
// -----------------------------------------------------------------------------

// Category is fixed per connection from the endpoint the client used.
type Category string

const (
	CategoryTrade   Category = "trade"
	CategoryTickers Category = "tickers"
)

// ConnectionState of a client session.
type ConnectionState int

const (
	StateClosed ConnectionState = iota
	StateOpen
)

func (s ConnectionState) String() string {
	if s == StateOpen {
		return "OPEN"
	}
	return "CLOSED"
}
