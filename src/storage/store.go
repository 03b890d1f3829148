// Package storage persists the market roster and caches it for the ticker feed.
package storage

import (
	"fmt"

	"market-fanout/src/interfaces"
	"market-fanout/src/logger"
	"market-fanout/src/models"
)

// NewMarketStore builds the store selected by storage.db_type.
func NewMarketStore(cfg *models.MConfig, log *logger.Logger) (interfaces.IMarketStore, error) {
	switch cfg.Storage.DBType {
	case "sqlite":
		return NewAsyncSQLiteDB(cfg, log)
	case "postgres":
		return NewPostgresDB(cfg, log)
	}
	return nil, fmt.Errorf("unsupported db_type %q", cfg.Storage.DBType)
}
