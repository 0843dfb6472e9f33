package models

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.hackfix.me/natmgr/db/types"
)

func filterCount(ctx context.Context, d types.Querier, table string, filter *types.Filter) (int, error) {
	countQ := fmt.Sprintf(`SELECT COUNT(*) FROM "%s" WHERE %s`, table, filter.Where)
	var count int
	err := d.QueryRowContext(ctx, countQ, filter.Args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed scanning %s count query: %w", table, err)
	}

	return count, nil
}

func lastInsertID(result sql.Result) (uint64, error) {
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	if id < 0 {
		return 0, fmt.Errorf("invalid negative ID from database: %d", id)
	}

	return uint64(id), nil
}

// orderBefore inserts an ORDER BY clause before any LIMIT in a filter clause.
func orderBefore(clause, orderBy string) string {
	if i := strings.Index(clause, " LIMIT "); i >= 0 {
		return fmt.Sprintf("%s %s%s", clause[:i], orderBy, clause[i:])
	}
	return fmt.Sprintf("%s %s", clause, orderBy)
}
