// Package simulated is a streaming upstream that random-walks prices locally.
package simulated

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"market-fanout/src/helpers"
	"market-fanout/src/interfaces"
	"market-fanout/src/models"

	"github.com/shopspring/decimal"
)

var ErrClosed = errors.New("simulated exchange closed")

var _ interfaces.IExchange = (*Exchange)(nil)

const defaultTick = 200 * time.Millisecond

var (
	basePrice = decimal.NewFromInt(100)
	maxStep   = decimal.NewFromFloat(0.002) // +-0.2% per tick
	hundred   = decimal.NewFromInt(100)
)

type market struct {
	open   decimal.Decimal
	last   decimal.Decimal
	high   decimal.Decimal
	low    decimal.Decimal
	volume decimal.Decimal
	quote  decimal.Decimal
	tradeN int64
}

// Exchange keeps one random walk per symbol. Watch calls wait one tick before
// returning the next state, the way a streaming client waits for a push.
type Exchange struct {
	tick time.Duration

	mu      sync.Mutex
	rng     *rand.Rand
	markets map[string]*market
	closed  bool
}

func New(tick time.Duration) *Exchange {
	if tick <= 0 {
		tick = defaultTick
	}
	return &Exchange{
		tick:    tick,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		markets: make(map[string]*market),
	}
}

func (e *Exchange) Name() string { return "simulated" }

func (e *Exchange) Has(capability string) bool {
	switch capability {
	case string(models.KindTicker), string(models.KindOHLCV), string(models.KindTrades), string(models.KindOrderBook),
		models.CapWatchTickers, models.CapFetchTickers, models.CapFetchTime:
		return true
	}
	return false
}

// -----------------------------------------------------------------------------

func (e *Exchange) wait(ctx context.Context) error {
	if err := helpers.Sleep(ctx, e.tick); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	return nil
}

// step advances the walk for symbol. Caller holds e.mu.
func (e *Exchange) step(symbol string) *market {
	m, ok := e.markets[symbol]
	if !ok {
		m = &market{open: basePrice, last: basePrice, high: basePrice, low: basePrice}
		e.markets[symbol] = m
	}

	change := decimal.NewFromFloat(e.rng.Float64()*2 - 1).Mul(maxStep)
	m.last = m.last.Mul(decimal.NewFromInt(1).Add(change)).Round(8)
	if m.last.GreaterThan(m.high) {
		m.high = m.last
	}
	if m.last.LessThan(m.low) {
		m.low = m.last
	}
	qty := decimal.NewFromFloat(e.rng.Float64()).Round(6)
	m.volume = m.volume.Add(qty)
	m.quote = m.quote.Add(qty.Mul(m.last)).Round(8)
	m.tradeN++
	return m
}

func (e *Exchange) ticker(symbol string, m *market) models.MTicker {
	pct := decimal.Zero
	if !m.open.IsZero() {
		pct = m.last.Sub(m.open).Div(m.open).Mul(hundred).Round(4)
	}
	spread := m.last.Mul(decimal.NewFromFloat(0.0001))
	return models.MTicker{
		Symbol:      symbol,
		Timestamp:   time.Now().UnixMilli(),
		Open:        m.open.InexactFloat64(),
		High:        m.high.InexactFloat64(),
		Low:         m.low.InexactFloat64(),
		Bid:         m.last.Sub(spread).InexactFloat64(),
		Ask:         m.last.Add(spread).InexactFloat64(),
		Last:        m.last.InexactFloat64(),
		BaseVolume:  m.volume.InexactFloat64(),
		QuoteVolume: m.quote.InexactFloat64(),
		Percentage:  pct.InexactFloat64(),
	}
}

// -----------------------------------------------------------------------------

func (e *Exchange) WatchTicker(ctx context.Context, symbol string, _ interface{}) (models.MTicker, error) {
	if err := e.wait(ctx); err != nil {
		return models.MTicker{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ticker(symbol, e.step(symbol)), nil
}

func (e *Exchange) WatchOHLCV(ctx context.Context, symbol, interval string, limit int, _ interface{}) ([]models.MCandle, error) {
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	m := e.step(symbol)
	candle := models.MCandle{
		float64(time.Now().Truncate(time.Minute).UnixMilli()),
		m.open.InexactFloat64(), m.high.InexactFloat64(), m.low.InexactFloat64(), m.last.InexactFloat64(),
		m.volume.InexactFloat64(),
	}
	return []models.MCandle{candle}, nil
}

func (e *Exchange) WatchTrades(ctx context.Context, symbol string, limit int, _ interface{}) ([]models.MTrade, error) {
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	m := e.step(symbol)
	side := "buy"
	if e.rng.Intn(2) == 0 {
		side = "sell"
	}
	return []models.MTrade{{
		ID:        strconv.FormatInt(m.tradeN, 10),
		Symbol:    symbol,
		Timestamp: time.Now().UnixMilli(),
		Side:      side,
		Price:     m.last.InexactFloat64(),
		Amount:    e.rng.Float64(),
	}}, nil
}

func (e *Exchange) WatchOrderBook(ctx context.Context, symbol string, limit int, _ interface{}) (models.MOrderBook, error) {
	if err := e.wait(ctx); err != nil {
		return models.MOrderBook{}, err
	}
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	m := e.step(symbol)
	tickSize := m.last.Mul(decimal.NewFromFloat(0.0001))
	book := models.MOrderBook{Symbol: symbol, Timestamp: time.Now().UnixMilli(), Nonce: m.tradeN}
	for i := 1; i <= limit; i++ {
		offset := tickSize.Mul(decimal.NewFromInt(int64(i)))
		book.Bids = append(book.Bids, models.MPriceLevel{m.last.Sub(offset).InexactFloat64(), e.rng.Float64() * 5})
		book.Asks = append(book.Asks, models.MPriceLevel{m.last.Add(offset).InexactFloat64(), e.rng.Float64() * 5})
	}
	return book, nil
}

// -----------------------------------------------------------------------------

func (e *Exchange) WatchTickers(ctx context.Context, symbols []string) ([]models.MTicker, error) {
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	return e.snapshot(symbols), nil
}

func (e *Exchange) FetchTickers(ctx context.Context, symbols []string) ([]models.MTicker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.snapshot(symbols), nil
}

func (e *Exchange) snapshot(symbols []string) []models.MTicker {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.MTicker, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, e.ticker(s, e.step(s)))
	}
	return out
}

func (e *Exchange) FetchTime(ctx context.Context) (int64, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	return time.Now().UnixMilli(), nil
}

func (e *Exchange) CheckRequiredCredentials() error { return nil }

func (e *Exchange) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
