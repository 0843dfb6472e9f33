package types

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Querier exposes only methods for running SQL queries, and some helper functions.
// It is implemented by both the database and its transactions.
type Querier interface {
	NewContext() context.Context
	TimeNow() time.Time
	ExecContext(ctx context.Context, sql string, arguments ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Filter is used to dynamically modify queries.
type Filter struct {
	Where string
	Args  []any
	Limit int
}

// NewFilter creates a new query filter.
func NewFilter(where string, args []any) *Filter {
	return &Filter{Where: where, Args: args}
}

// In creates a filter matching rows where column is one of values. An empty
// list of values matches nothing.
func In[T any](column string, values []T) *Filter {
	if len(values) == 0 {
		return &Filter{Where: "1=0"}
	}

	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")

	return &Filter{Where: fmt.Sprintf("%s IN (%s)", column, placeholders), Args: args}
}

// And joins f2 with f1 using an AND condition.
func (f1 *Filter) And(f2 *Filter) *Filter {
	return &Filter{
		Where: fmt.Sprintf("(%s) AND (%s)", f1.Where, f2.Where),
		Args:  slices.Concat(f1.Args, f2.Args),
	}
}

// Or joins f2 with f1 using an OR condition.
func (f1 *Filter) Or(f2 *Filter) *Filter {
	return &Filter{
		Where: fmt.Sprintf("(%s) OR (%s)", f1.Where, f2.Where),
		Args:  slices.Concat(f1.Args, f2.Args),
	}
}

// Clause returns the WHERE and LIMIT parts of a query for f, and its arguments.
// A nil filter matches all rows.
func (f1 *Filter) Clause() (string, []any) {
	if f1 == nil {
		return "WHERE 1=1", nil
	}

	clause := fmt.Sprintf("WHERE %s", f1.Where)
	if f1.Limit > 0 {
		clause += fmt.Sprintf(" LIMIT %d", f1.Limit)
	}

	return clause, f1.Args
}
