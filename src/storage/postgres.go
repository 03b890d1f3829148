package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"market-fanout/src/helpers"
	"market-fanout/src/interfaces"
	"market-fanout/src/logger"
	"market-fanout/src/models"

	_ "github.com/lib/pq"
)

var _ interfaces.IMarketStore = (*PostgresDB)(nil)

// -----------------------------------------------------------------------------

type PostgresDB struct {
	Config *models.MConfig
	DB     *sql.DB
	Schema string
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewPostgresDB(cfg *models.MConfig, log *logger.Logger) (*PostgresDB, error) {
	// Schema is named after the executable
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable name: %w", err)
	}
	name := filepath.Base(exe)
	name = strings.TrimSuffix(name, filepath.Ext(name))

	return &PostgresDB{
		Config: cfg,
		Schema: name,
		Logger: log.Named("PostgresDB"),
	}, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Initialize(ctx context.Context) error {
	dsn := d.Config.Storage.DBConnectionString
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return helpers.NewDatabaseError("open postgres", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return helpers.NewDatabaseError("ping postgres", err)
	}

	if d.DB != nil {
		_ = d.DB.Close() // previous attempt
	}
	d.DB = db

	// Create Schema
	if _, err := d.DB.ExecContext(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, d.Schema)); err != nil {
		return helpers.NewDatabaseError(fmt.Sprintf("create schema %s", d.Schema), err)
	}

	if err := d.createTables(ctx); err != nil {
		return err
	}

	// Seeds may reference other tables as schema.table.field
	symbols, err := d.ExpandSeedMarkets(ctx, d.Config.Storage.SeedMarkets)
	if err != nil {
		d.Logger.Error("Failed to expand seed markets: %v", err)
	}
	if err := d.seedMarkets(ctx, symbols); err != nil {
		return err
	}

	d.Logger.Info("PostgresDB initialized successfully (Schema: %s)", d.Schema)
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) table() string {
	return fmt.Sprintf(`"%s"."markets"`, d.Schema)
}

func (d *PostgresDB) createTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			symbol TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
	`, d.table())
	if _, err := d.DB.ExecContext(ctx, query); err != nil {
		return helpers.NewDatabaseError("create markets", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) upsertQuery() string {
	return fmt.Sprintf(`
		INSERT INTO %s (symbol, status, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (symbol) DO UPDATE SET
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
	`, d.table())
}

func (d *PostgresDB) seedMarkets(ctx context.Context, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}

	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return helpers.NewDatabaseError("begin seed", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, d.upsertQuery())
	if err != nil {
		return helpers.NewDatabaseError("prepare seed", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, symbol := range symbols {
		if _, err := stmt.ExecContext(ctx, symbol, models.MarketStatusActive, now); err != nil {
			return helpers.NewDatabaseError(fmt.Sprintf("seed %s", symbol), err)
		}
	}

	return tx.Commit()
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) ListActiveMarkets(ctx context.Context) ([]models.MMarket, error) {
	query := fmt.Sprintf(`SELECT symbol, status FROM %s WHERE status = $1 ORDER BY symbol`, d.table())
	rows, err := d.DB.QueryContext(ctx, query, models.MarketStatusActive)
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
func (d *PostgresDB) SetMarketStatus(ctx context.Context, symbol, status string) error {
	if _, err := d.DB.ExecContext(ctx, d.upsertQuery(), symbol, status, time.Now().UTC()); err != nil {
		return helpers.NewDatabaseError("set market status", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
