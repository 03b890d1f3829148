package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"market-fanout/src/helpers"
	"market-fanout/src/interfaces"
	"market-fanout/src/logger"
	"market-fanout/src/models"

	_ "modernc.org/sqlite"
)

var _ interfaces.IMarketStore = (*AsyncSQLiteDB)(nil)

// -----------------------------------------------------------------------------

type AsyncSQLiteDB struct {
	Config *models.MConfig
	DB     *sql.DB
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewAsyncSQLiteDB(cfg *models.MConfig, log *logger.Logger) (*AsyncSQLiteDB, error) {
	return &AsyncSQLiteDB{
		Config: cfg,
		Logger: log.Named("SQLiteDB"),
	}, nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) Initialize(ctx context.Context) error {
	dsn := d.Config.Storage.DBPath
	if dir := filepath.Dir(dsn); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return helpers.NewDatabaseError("create data directory", err)
		}
	}

	// Open DB
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return helpers.NewDatabaseError("open sqlite", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return helpers.NewDatabaseError("ping sqlite", err)
	}

	if d.DB != nil {
		_ = d.DB.Close() // previous attempt
	}
	d.DB = db

	// PRAGMA optimizations
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		d.Logger.Warning("Failed to set WAL mode: %v", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA synchronous = NORMAL;"); err != nil {
		d.Logger.Warning("Failed to set synchronous mode: %v", err)
	}

	if err := d.createTables(ctx); err != nil {
		return err
	}
	if err := d.seedMarkets(ctx, d.Config.Storage.SeedMarkets); err != nil {
		return err
	}

	d.Logger.Info("SQLiteDB initialized at %s", dsn)
	return nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) createTables(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS markets (
			symbol TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`
	if _, err := d.DB.ExecContext(ctx, query); err != nil {
		return helpers.NewDatabaseError("create markets", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) seedMarkets(ctx context.Context, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}

	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return helpers.NewDatabaseError("begin seed", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO markets (symbol, status, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (symbol) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at
	`)
	if err != nil {
		return helpers.NewDatabaseError("prepare seed", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, symbol := range symbols {
		if _, err := stmt.ExecContext(ctx, symbol, models.MarketStatusActive, now); err != nil {
			return helpers.NewDatabaseError(fmt.Sprintf("seed %s", symbol), err)
		}
	}

	return tx.Commit()
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) ListActiveMarkets(ctx context.Context) ([]models.MMarket, error) {
	rows, err := d.DB.QueryContext(ctx,
		`SELECT symbol, status FROM markets WHERE status = ? ORDER BY symbol`, models.MarketStatusActive)
	if err != nil {
		return nil, helpers.NewDatabaseError("list markets", err)
	}
	defer rows.Close()

	var markets []models.MMarket
	for rows.Next() {
		var m models.MMarket
		if err := rows.Scan(&m.Symbol, &m.Status); err != nil {
			return nil, helpers.NewDatabaseError("scan market", err)
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// -----------------------------------------------------------------------------

// SetMarketStatus inserts or updates one market row.
func (d *AsyncSQLiteDB) SetMarketStatus(ctx context.Context, symbol, status string) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO markets (symbol, status, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (symbol) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at
	`, symbol, status, time.Now().UnixMilli())
	if err != nil {
		return helpers.NewDatabaseError("set market status", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) Close() error {
	if d.DB == nil {
		return nil
	}
	return d.DB.Close()
}
