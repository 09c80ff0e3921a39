// Package warehouse provides access to the data warehouse: the current
// database/schema context, table and column metadata for context checks,
// and validated query execution.
package warehouse

import (
	"context"
	"fmt"
)

// TableInfo describes one table in the active schema.
type TableInfo struct {
	Schema   string
	Name     string
	Type     string // BASE TABLE or VIEW
	RowCount int64
}

// ColumnInfo describes one column of a table.
type ColumnInfo struct {
	Table      string
	Name       string
	Position   int
	DataType   string
	IsNullable bool
	Comment    string
}

// ContextProvider exposes the active data context and its metadata.
type ContextProvider interface {
	// CurrentDatabase returns the database the provider is bound to.
	CurrentDatabase() string
	// CurrentSchema returns the schema the provider is bound to.
	CurrentSchema() string
	// ListTables returns the tables of the active schema.
	ListTables(ctx context.Context) ([]TableInfo, error)
	// ColumnMetadata returns column definitions for the given tables.
	ColumnMetadata(ctx context.Context, tables []string) ([]ColumnInfo, error)
}

// Executor runs and validates queries against the warehouse.
type Executor interface {
	// Execute runs the query and returns its result with fixed-point
	// numeric values already converted to float64.
	Execute(ctx context.Context, query string) (*TabularResult, error)
	// Validate checks the query without executing it. A nil error means
	// the warehouse accepted the query plan.
	Validate(ctx context.Context, query string) error
}

// Warehouse combines context metadata and query execution.
type Warehouse interface {
	ContextProvider
	Executor
}

// ExecutionError wraps a warehouse failure for a specific query.
// Execution failures are terminal; only validation failures are retried.
type ExecutionError struct {
	Query string
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("query execution failed: %v", e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
