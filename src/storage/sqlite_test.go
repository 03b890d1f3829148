package storage

import (
	"context"
	"path/filepath"
	"testing"

	"market-fanout/src/logger"
	"market-fanout/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLite(t *testing.T, seeds ...string) *AsyncSQLiteDB {
	t.Helper()
	cfg := &models.MConfig{Storage: models.MStorageConfig{
		DBType:      "sqlite",
		DBPath:      filepath.Join(t.TempDir(), "data", "markets.db"),
		SeedMarkets: seeds,
	}}
	db, err := NewAsyncSQLiteDB(cfg, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, db.Initialize(context.Background()))
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteSeedsAndListsActiveMarkets(t *testing.T) {
	db := newSQLite(t, "ETH/USDT", "BTC/USDT")

	markets, err := db.ListActiveMarkets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.MMarket{
		{Symbol: "BTC/USDT", Status: models.MarketStatusActive},
		{Symbol: "ETH/USDT", Status: models.MarketStatusActive},
	}, markets)
}

func TestSQLiteExcludesInactiveMarkets(t *testing.T) {
	ctx := context.Background()
	db := newSQLite(t, "BTC/USDT", "LUNA/USDT")

	require.NoError(t, db.SetMarketStatus(ctx, "LUNA/USDT", "delisted"))
	require.NoError(t, db.SetMarketStatus(ctx, "SOL/USDT", models.MarketStatusActive))

	markets, err := db.ListActiveMarkets(ctx)
	require.NoError(t, err)
	symbols := make([]string, 0, len(markets))
	for _, m := range markets {
		symbols = append(symbols, m.Symbol)
	}
	assert.Equal(t, []string{"BTC/USDT", "SOL/USDT"}, symbols)
}

func TestSQLiteInitializeIsRepeatable(t *testing.T) {
	ctx := context.Background()
	db := newSQLite(t, "BTC/USDT")
	require.NoError(t, db.Close())

	again, err := NewAsyncSQLiteDB(db.Config, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, again.Initialize(ctx))
	defer again.Close()

	markets, err := again.ListActiveMarkets(ctx)
	require.NoError(t, err)
	assert.Len(t, markets, 1)
}

func TestNewMarketStoreRejectsUnknownType(t *testing.T) {
	_, err := NewMarketStore(&models.MConfig{Storage: models.MStorageConfig{DBType: "mongo"}}, logger.NewNop())
	assert.Error(t, err)
}

func TestParseTableRef(t *testing.T) {
	ref, ok := ParseTableRef("public.listings.ticker")
	require.True(t, ok)
	assert.Equal(t, TableRef{Schema: "public", Table: "listings", Field: "ticker"}, ref)

	_, ok = ParseTableRef("BTC/USDT")
	assert.False(t, ok)
	_, ok = ParseTableRef("a.b")
	assert.False(t, ok)
}
