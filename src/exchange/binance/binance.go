// Package binance polls Binance spot public REST endpoints.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"market-fanout/src/helpers"
	"market-fanout/src/interfaces"
	"market-fanout/src/models"
)

const defaultBaseURL = "https://api.binance.com"

var errNotSupported = errors.New("binance: streaming tickers not supported")

var _ interfaces.IExchange = (*Client)(nil)

// Client implements interfaces.IExchange over REST polling.
type Client struct {
	baseURL   string
	apiKey    string
	apiSecret string
	net       interfaces.INetworkManager
}

func New(cfg models.MProviderConfig, net interfaces.INetworkManager) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return &Client{
		baseURL:   base,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		net:       net,
	}
}

func (c *Client) Name() string { return "binance" }

func (c *Client) Has(capability string) bool {
	switch capability {
	case string(models.KindTicker), string(models.KindOHLCV), string(models.KindTrades), string(models.KindOrderBook),
		models.CapFetchTickers, models.CapFetchTime:
		return true
	}
	return false
}

// -----------------------------------------------------------------------------

type ticker24h struct {
	Symbol             string `json:"symbol"`
	PriceChangePercent string `json:"priceChangePercent"`
	LastPrice          string `json:"lastPrice"`
	BidPrice           string `json:"bidPrice"`
	AskPrice           string `json:"askPrice"`
	OpenPrice          string `json:"openPrice"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	Volume             string `json:"volume"`
	QuoteVolume        string `json:"quoteVolume"`
	CloseTime          int64  `json:"closeTime"`
}

func (t ticker24h) toModel(symbol string) models.MTicker {
	return models.MTicker{
		Symbol:      symbol,
		Timestamp:   t.CloseTime,
		Open:        parseFloat(t.OpenPrice),
		High:        parseFloat(t.HighPrice),
		Low:         parseFloat(t.LowPrice),
		Bid:         parseFloat(t.BidPrice),
		Ask:         parseFloat(t.AskPrice),
		Last:        parseFloat(t.LastPrice),
		BaseVolume:  parseFloat(t.Volume),
		QuoteVolume: parseFloat(t.QuoteVolume),
		Percentage:  parseFloat(t.PriceChangePercent),
	}
}

func (c *Client) WatchTicker(ctx context.Context, symbol string, _ interface{}) (models.MTicker, error) {
	var raw ticker24h
	if err := c.get(ctx, "/api/v3/ticker/24hr", map[string]string{"symbol": MarketID(symbol)}, &raw); err != nil {
		return models.MTicker{}, err
	}
	return raw.toModel(symbol), nil
}

// -----------------------------------------------------------------------------

func (c *Client) WatchOHLCV(ctx context.Context, symbol, interval string, limit int, _ interface{}) ([]models.MCandle, error) {
	if interval == "" {
		interval = "1m"
	}
	params := map[string]string{"symbol": MarketID(symbol), "interval": interval}
	if limit > 0 {
		params["limit"] = strconv.Itoa(limit)
	}

	var raw [][]json.RawMessage
	if err := c.get(ctx, "/api/v3/klines", params, &raw); err != nil {
		return nil, err
	}

	candles := make([]models.MCandle, 0, len(raw))
	for _, row := range raw {
		if len(row) < 6 {
			continue
		}
		var candle models.MCandle
		for i := 0; i < 6; i++ {
			candle[i] = rawFloat(row[i])
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// -----------------------------------------------------------------------------

type rawTrade struct {
	ID           int64  `json:"id"`
	Price        string `json:"price"`
	Qty          string `json:"qty"`
	Time         int64  `json:"time"`
	IsBuyerMaker bool   `json:"isBuyerMaker"`
}

func (c *Client) WatchTrades(ctx context.Context, symbol string, limit int, _ interface{}) ([]models.MTrade, error) {
	params := map[string]string{"symbol": MarketID(symbol)}
	if limit > 0 {
		params["limit"] = strconv.Itoa(limit)
	}

	var raw []rawTrade
	if err := c.get(ctx, "/api/v3/trades", params, &raw); err != nil {
		return nil, err
	}

	trades := make([]models.MTrade, 0, len(raw))
	for _, t := range raw {
		side := "buy"
		if t.IsBuyerMaker {
			side = "sell"
		}
		trades = append(trades, models.MTrade{
			ID:        strconv.FormatInt(t.ID, 10),
			Symbol:    symbol,
			Timestamp: t.Time,
			Side:      side,
			Price:     parseFloat(t.Price),
			Amount:    parseFloat(t.Qty),
		})
	}
	return trades, nil
}

// -----------------------------------------------------------------------------

type rawDepth struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

func (c *Client) WatchOrderBook(ctx context.Context, symbol string, limit int, _ interface{}) (models.MOrderBook, error) {
	params := map[string]string{"symbol": MarketID(symbol)}
	if limit > 0 {
		params["limit"] = strconv.Itoa(limit)
	}

	var raw rawDepth
	if err := c.get(ctx, "/api/v3/depth", params, &raw); err != nil {
		return models.MOrderBook{}, err
	}

	return models.MOrderBook{
		Symbol: symbol,
		Nonce:  raw.LastUpdateID,
		Bids:   levels(raw.Bids),
		Asks:   levels(raw.Asks),
	}, nil
}

// -----------------------------------------------------------------------------

func (c *Client) WatchTickers(ctx context.Context, symbols []string) ([]models.MTicker, error) {
	return nil, errNotSupported
}

func (c *Client) FetchTickers(ctx context.Context, symbols []string) ([]models.MTicker, error) {
	params := map[string]string{}
	byID := make(map[string]string, len(symbols))
	if len(symbols) > 0 {
		ids := make([]string, 0, len(symbols))
		for _, s := range symbols {
			id := MarketID(s)
			byID[id] = s
			ids = append(ids, id)
		}
		encoded, err := json.Marshal(ids)
		if err != nil {
			return nil, err
		}
		params["symbols"] = string(encoded)
	}

	var raw []ticker24h
	if err := c.get(ctx, "/api/v3/ticker/24hr", params, &raw); err != nil {
		return nil, err
	}

	tickers := make([]models.MTicker, 0, len(raw))
	for _, t := range raw {
		symbol, ok := byID[t.Symbol]
		if !ok {
			symbol = t.Symbol
		}
		tickers = append(tickers, t.toModel(symbol))
	}
	return tickers, nil
}

func (c *Client) FetchTime(ctx context.Context) (int64, error) {
	var raw struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := c.get(ctx, "/api/v3/time", nil, &raw); err != nil {
		return 0, err
	}
	return raw.ServerTime, nil
}

// -----------------------------------------------------------------------------

// CheckRequiredCredentials only fails on a half configured key pair; public
// market data needs no credentials.
func (c *Client) CheckRequiredCredentials() error {
	if (c.apiKey == "") != (c.apiSecret == "") {
		return fmt.Errorf("binance: both apiKey and secret are required")
	}
	return nil
}

func (c *Client) Close() error { return nil }

// -----------------------------------------------------------------------------

func (c *Client) get(ctx context.Context, path string, params map[string]string, out interface{}) error {
	body, err := c.net.Get(ctx, c.baseURL+path, params)
	if err != nil {
		return helpers.NewExchangeError("binance "+path, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return helpers.NewExchangeError("binance "+path+": decode", err)
	}
	return nil
}

// MarketID converts a unified symbol (BTC/USDT) to Binance's form (BTCUSDT).
func MarketID(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func rawFloat(r json.RawMessage) float64 {
	var f float64
	if err := json.Unmarshal(r, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(r, &s); err == nil {
		return parseFloat(s)
	}
	return 0
}

func levels(raw [][2]string) []models.MPriceLevel {
	out := make([]models.MPriceLevel, 0, len(raw))
	for _, l := range raw {
		out = append(out, models.MPriceLevel{parseFloat(l[0]), parseFloat(l[1])})
	}
	return out
}
