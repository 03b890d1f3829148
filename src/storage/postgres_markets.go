package storage

import (
	"context"
	"fmt"
	"regexp"
)

// Info: seed entries shaped schema.table.field pull their symbols from that column.

var tableRefRe = regexp.MustCompile(`^(\w+)\.(\w+)\.(\w+)$`)

// TableRef points at a column holding market symbols.
type TableRef struct {
	Schema string
	Table  string
	Field  string
}

// ParseTableRef reports whether seed is a schema.table.field reference.
// Unified symbols (BTC/USDT) never match.
func ParseTableRef(seed string) (TableRef, bool) {
	m := tableRefRe.FindStringSubmatch(seed)
	if len(m) != 4 {
		return TableRef{}, false
	}
	return TableRef{Schema: m[1], Table: m[2], Field: m[3]}, true
}

// -----------------------------------------------------------------------------

// ExpandSeedMarkets replaces table references with the symbols they hold.
// Plain symbols pass through; on a failed reference the symbols gathered so
// far are returned with the error.
func (d *PostgresDB) ExpandSeedMarkets(ctx context.Context, seeds []string) ([]string, error) {
	var symbols []string
	for _, seed := range seeds {
		ref, ok := ParseTableRef(seed)
		if !ok {
			symbols = append(symbols, seed)
			continue
		}

		loaded, err := d.GetSymbolsFromTable(ctx, ref)
		if err != nil {
			return symbols, fmt.Errorf("failed to load symbols from %s: %w", seed, err)
		}
		symbols = append(symbols, loaded...)
	}
	return symbols, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) GetSymbolsFromTable(ctx context.Context, ref TableRef) ([]string, error) {
	// \w+ identifiers, quoted
	query := fmt.Sprintf(`SELECT DISTINCT "%s" FROM "%s"."%s"`, ref.Field, ref.Schema, ref.Table)

	rows, err := d.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		if s != "" {
			symbols = append(symbols, s)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return symbols, nil
}
