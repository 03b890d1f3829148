package models

// -----------------------------------------------------------------------------
// Upstream market data payloads
// -----------------------------------------------------------------------------

// MTicker is a 24h rolling ticker as reported by an upstream provider.
type MTicker struct {
	Symbol      string  `json:"symbol,omitempty"`
	Timestamp   int64   `json:"timestamp,omitempty"`
	Open        float64 `json:"open,omitempty"`
	High        float64 `json:"high,omitempty"`
	Low         float64 `json:"low,omitempty"`
	Bid         float64 `json:"bid,omitempty"`
	Ask         float64 `json:"ask,omitempty"`
	Last        float64 `json:"last,omitempty"`
	BaseVolume  float64 `json:"baseVolume,omitempty"`
	QuoteVolume float64 `json:"quoteVolume,omitempty"`
	Percentage  float64 `json:"percentage,omitempty"`
}

// MTickerSummary is the reduced ticker pushed to TICKERS sessions.
type MTickerSummary struct {
	Last        float64 `json:"last"`
	BaseVolume  float64 `json:"baseVolume"`
	QuoteVolume float64 `json:"quoteVolume"`
	Change      float64 `json:"change"`
}

// Summary keeps only the fields broadcast on the tickers feed.
func (t MTicker) Summary() MTickerSummary {
	return MTickerSummary{
		Last:        t.Last,
		BaseVolume:  t.BaseVolume,
		QuoteVolume: t.QuoteVolume,
		Change:      t.Percentage,
	}
}

// MCandle is one OHLCV bar. It marshals as the compact array form
// [timestamp, open, high, low, close, volume].
type MCandle [6]float64

// MTrade is a public trade print.
type MTrade struct {
	ID        string  `json:"id"`
	Symbol    string  `json:"symbol"`
	Timestamp int64   `json:"timestamp"`
	Side      string  `json:"side"`
	Price     float64 `json:"price"`
	Amount    float64 `json:"amount"`
}

// MPriceLevel is [price, amount].
type MPriceLevel [2]float64

// MOrderBook is a depth snapshot.
type MOrderBook struct {
	Symbol    string        `json:"symbol"`
	Timestamp int64         `json:"timestamp"`
	Nonce     int64         `json:"nonce,omitempty"`
	Bids      []MPriceLevel `json:"bids"`
	Asks      []MPriceLevel `json:"asks"`
}

// -----------------------------------------------------------------------------
// Persistence
// -----------------------------------------------------------------------------

const MarketStatusActive = "active"

// MMarket is a row of the markets roster.
type MMarket struct {
	Symbol string `json:"symbol"`
	Status string `json:"status"`
}
