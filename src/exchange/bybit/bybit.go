// Package bybit polls Bybit v5 public market endpoints.
package bybit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"market-fanout/src/helpers"
	"market-fanout/src/interfaces"
	"market-fanout/src/models"
)

const (
	defaultBaseURL = "https://api.bybit.com"
	category       = "spot"
)

var errNotSupported = errors.New("bybit: streaming tickers not supported")

var _ interfaces.IExchange = (*Client)(nil)

// Unified interval -> Bybit interval.
var intervals = map[string]string{
	"1m": "1", "3m": "3", "5m": "5", "15m": "15", "30m": "30",
	"1h": "60", "2h": "120", "4h": "240", "6h": "360", "12h": "720",
	"1d": "D", "1w": "W", "1M": "M",
}

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
	return &Client{baseURL: base, apiKey: cfg.APIKey, apiSecret: cfg.APISecret, net: net}
}

func (c *Client) Name() string { return "bybit" }

func (c *Client) Has(capability string) bool {
	switch capability {
	case string(models.KindTicker), string(models.KindOHLCV), string(models.KindTrades), string(models.KindOrderBook),
		models.CapFetchTickers, models.CapFetchTime:
		return true
	}
	return false
}

// -----------------------------------------------------------------------------

type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
	Time    int64           `json:"time"`
}

type rawTicker struct {
	Symbol       string `json:"symbol"`
	LastPrice    string `json:"lastPrice"`
	Bid1Price    string `json:"bid1Price"`
	Ask1Price    string `json:"ask1Price"`
	PrevPrice24h string `json:"prevPrice24h"`
	HighPrice24h string `json:"highPrice24h"`
	LowPrice24h  string `json:"lowPrice24h"`
	Volume24h    string `json:"volume24h"`
	Turnover24h  string `json:"turnover24h"`
	Price24hPcnt string `json:"price24hPcnt"`
}

func (t rawTicker) toModel(symbol string, ts int64) models.MTicker {
	return models.MTicker{
		Symbol:      symbol,
		Timestamp:   ts,
		Open:        parseFloat(t.PrevPrice24h),
		High:        parseFloat(t.HighPrice24h),
		Low:         parseFloat(t.LowPrice24h),
		Bid:         parseFloat(t.Bid1Price),
		Ask:         parseFloat(t.Ask1Price),
		Last:        parseFloat(t.LastPrice),
		BaseVolume:  parseFloat(t.Volume24h),
		QuoteVolume: parseFloat(t.Turnover24h),
		Percentage:  parseFloat(t.Price24hPcnt) * 100,
	}
}

func (c *Client) WatchTicker(ctx context.Context, symbol string, _ interface{}) (models.MTicker, error) {
	tickers, err := c.tickers(ctx, map[string]string{"symbol": MarketID(symbol)}, map[string]string{MarketID(symbol): symbol})
	if err != nil {
		return models.MTicker{}, err
	}
	if len(tickers) == 0 {
		return models.MTicker{}, fmt.Errorf("bybit: no ticker for %s", symbol)
	}
	return tickers[0], nil
}

func (c *Client) WatchTickers(ctx context.Context, symbols []string) ([]models.MTicker, error) {
	return nil, errNotSupported
}

// FetchTickers loads every spot ticker and keeps the requested symbols.
func (c *Client) FetchTickers(ctx context.Context, symbols []string) ([]models.MTicker, error) {
	byID := make(map[string]string, len(symbols))
	for _, s := range symbols {
		byID[MarketID(s)] = s
	}
	all, err := c.tickers(ctx, nil, byID)
	if err != nil || len(symbols) == 0 {
		return all, err
	}
	out := all[:0]
	for _, t := range all {
		if slices.Contains(symbols, t.Symbol) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (c *Client) tickers(ctx context.Context, params map[string]string, byID map[string]string) ([]models.MTicker, error) {
	var result struct {
		List []rawTicker `json:"list"`
	}
	ts, err := c.get(ctx, "/v5/market/tickers", params, &result)
	if err != nil {
		return nil, err
	}
	out := make([]models.MTicker, 0, len(result.List))
	for _, t := range result.List {
		symbol, ok := byID[t.Symbol]
		if !ok {
			symbol = t.Symbol
		}
		out = append(out, t.toModel(symbol, ts))
	}
	return out, nil
}

// -----------------------------------------------------------------------------

func (c *Client) WatchOHLCV(ctx context.Context, symbol, interval string, limit int, _ interface{}) ([]models.MCandle, error) {
	if interval == "" {
		interval = "1m"
	}
	if mapped, ok := intervals[interval]; ok {
		interval = mapped
	}
	params := map[string]string{"symbol": MarketID(symbol), "interval": interval}
	if limit > 0 {
		params["limit"] = strconv.Itoa(limit)
	}

	var result struct {
		List [][]string `json:"list"`
	}
	if _, err := c.get(ctx, "/v5/market/kline", params, &result); err != nil {
		return nil, err
	}

	// Bybit returns newest first.
	candles := make([]models.MCandle, 0, len(result.List))
	for i := len(result.List) - 1; i >= 0; i-- {
		row := result.List[i]
		if len(row) < 6 {
			continue
		}
		var candle models.MCandle
		for j := 0; j < 6; j++ {
			candle[j] = parseFloat(row[j])
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// -----------------------------------------------------------------------------

func (c *Client) WatchTrades(ctx context.Context, symbol string, limit int, _ interface{}) ([]models.MTrade, error) {
	params := map[string]string{"symbol": MarketID(symbol)}
	if limit > 0 {
		params["limit"] = strconv.Itoa(limit)
	}

	var result struct {
		List []struct {
			ExecID string `json:"execId"`
			Price  string `json:"price"`
			Size   string `json:"size"`
			Side   string `json:"side"`
			Time   string `json:"time"`
		} `json:"list"`
	}
	if _, err := c.get(ctx, "/v5/market/recent-trade", params, &result); err != nil {
		return nil, err
	}

	trades := make([]models.MTrade, 0, len(result.List))
	for _, t := range result.List {
		ts, _ := strconv.ParseInt(t.Time, 10, 64)
		trades = append(trades, models.MTrade{
			ID:        t.ExecID,
			Symbol:    symbol,
			Timestamp: ts,
			Side:      strings.ToLower(t.Side),
			Price:     parseFloat(t.Price),
			Amount:    parseFloat(t.Size),
		})
	}
	return trades, nil
}

// -----------------------------------------------------------------------------

func (c *Client) WatchOrderBook(ctx context.Context, symbol string, limit int, _ interface{}) (models.MOrderBook, error) {
	params := map[string]string{"symbol": MarketID(symbol)}
	if limit > 0 {
		params["limit"] = strconv.Itoa(limit)
	}

	var result struct {
		Bids [][2]string `json:"b"`
		Asks [][2]string `json:"a"`
		Ts   int64       `json:"ts"`
		U    int64       `json:"u"`
	}
	if _, err := c.get(ctx, "/v5/market/orderbook", params, &result); err != nil {
		return models.MOrderBook{}, err
	}

	return models.MOrderBook{
		Symbol:    symbol,
		Timestamp: result.Ts,
		Nonce:     result.U,
		Bids:      levels(result.Bids),
		Asks:      levels(result.Asks),
	}, nil
}

// -----------------------------------------------------------------------------

func (c *Client) FetchTime(ctx context.Context) (int64, error) {
	var result struct {
		TimeSecond string `json:"timeSecond"`
	}
	ts, err := c.get(ctx, "/v5/market/time", nil, &result)
	if err != nil {
		return 0, err
	}
	if ts == 0 {
		sec, _ := strconv.ParseInt(result.TimeSecond, 10, 64)
		ts = sec * 1000
	}
	return ts, nil
}

func (c *Client) CheckRequiredCredentials() error {
	if (c.apiKey == "") != (c.apiSecret == "") {
		return fmt.Errorf("bybit: both apiKey and secret are required")
	}
	return nil
}

func (c *Client) Close() error { return nil }

// -----------------------------------------------------------------------------

// get decodes the v5 envelope into out and returns the envelope timestamp.
func (c *Client) get(ctx context.Context, path string, params map[string]string, out interface{}) (int64, error) {
	query := map[string]string{"category": category}
	for k, v := range params {
		query[k] = v
	}
	if path == "/v5/market/time" {
		query = nil
	}

	body, err := c.net.Get(ctx, c.baseURL+path, query)
	if err != nil {
		return 0, helpers.NewExchangeError("bybit "+path, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return 0, helpers.NewExchangeError("bybit "+path+": decode", err)
	}
	if env.RetCode != 0 {
		return 0, helpers.NewExchangeError("bybit "+path, fmt.Errorf("retCode=%d: %s", env.RetCode, env.RetMsg))
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return 0, helpers.NewExchangeError("bybit "+path+": decode result", err)
	}
	return env.Time, nil
}

// MarketID converts BTC/USDT to BTCUSDT.
func MarketID(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func levels(raw [][2]string) []models.MPriceLevel {
	out := make([]models.MPriceLevel, 0, len(raw))
	for _, l := range raw {
		out = append(out, models.MPriceLevel{parseFloat(l[0]), parseFloat(l[1])})
	}
	return out
}
