package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	// Import the Postgres driver.
	_ "github.com/lib/pq"
)

// SQLWarehouse implements Warehouse over database/sql.
type SQLWarehouse struct {
	db       *sql.DB
	database string
	schema   string
}

// Open connects to the warehouse using the given driver and DSN, bound to
// one database/schema pair. Changing the context means opening a new
// handle; the session layer treats a context switch as a full state reset.
func Open(driver, dsn, database, schema string) (*SQLWarehouse, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open warehouse connection (%s)", driver)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	w := &SQLWarehouse{db: db, database: database, schema: schema}
	slog.Info("warehouse: connected", "driver", driver, "database", database, "schema", schema)
	return w, nil
}

// Ping verifies connectivity.
func (w *SQLWarehouse) Ping(ctx context.Context) error {
	return w.db.PingContext(ctx)
}

// Close releases the connection pool.
func (w *SQLWarehouse) Close() error {
	slog.Info("warehouse: connection closed", "database", w.database, "schema", w.schema)
	return w.db.Close()
}

func (w *SQLWarehouse) CurrentDatabase() string { return w.database }

func (w *SQLWarehouse) CurrentSchema() string { return w.schema }

// ListTables returns the tables of the active schema from information_schema.
func (w *SQLWarehouse) ListTables(ctx context.Context) ([]TableInfo, error) {
	const q = `SELECT table_schema, table_name, table_type
		FROM information_schema.tables
		WHERE table_schema = $1
		ORDER BY table_name`

	rows, err := w.db.QueryContext(ctx, q, w.schema)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tables")
	}
	defer rows.Close()

	var tables []TableInfo
	for rows.Next() {
		var t TableInfo
		if err := rows.Scan(&t.Schema, &t.Name, &t.Type); err != nil {
			return nil, errors.Wrap(err, "failed to scan table row")
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

// ColumnMetadata returns column definitions for the given tables, ordered
// by table then ordinal position.
func (w *SQLWarehouse) ColumnMetadata(ctx context.Context, tables []string) ([]ColumnInfo, error) {
	if len(tables) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(tables))
	args := make([]any, 0, len(tables)+1)
	args = append(args, w.schema)
	for i, t := range tables {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, t)
	}

	q := fmt.Sprintf(`SELECT table_name, column_name, ordinal_position, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name IN (%s)
		ORDER BY table_name, ordinal_position`, strings.Join(placeholders, ","))

	rows, err := w.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read column metadata")
	}
	defer rows.Close()

	var cols []ColumnInfo
	for rows.Next() {
		var c ColumnInfo
		var nullable string
		if err := rows.Scan(&c.Table, &c.Name, &c.Position, &c.DataType, &nullable); err != nil {
			return nil, errors.Wrap(err, "failed to scan column row")
		}
		c.IsNullable = nullable == "YES"
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// Execute runs the query and returns the result with decimal columns
// converted to float64.
func (w *SQLWarehouse) Execute(ctx context.Context, query string) (*TabularResult, error) {
	start := time.Now()
	rows, err := w.db.QueryContext(ctx, query)
	if err != nil {
		slog.Warn("warehouse: query failed", "error", err)
		return nil, &ExecutionError{Query: query, Err: err}
	}
	defer rows.Close()

	result, err := scanResult(rows)
	if err != nil {
		return nil, &ExecutionError{Query: query, Err: err}
	}
	result.ConvertDecimals()

	slog.Debug("warehouse: query executed",
		"rows", result.NumRows(),
		"columns", result.NumCols(),
		"duration_ms", time.Since(start).Milliseconds())
	return result, nil
}

// Validate checks the query plan with EXPLAIN without executing it.
func (w *SQLWarehouse) Validate(ctx context.Context, query string) error {
	rows, err := w.db.QueryContext(ctx, "EXPLAIN "+query)
	if err != nil {
		return err
	}
	return rows.Close()
}

func scanResult(rows *sql.Rows) (*TabularResult, error) {
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read column types")
	}

	result := &TabularResult{Columns: make([]Column, len(colTypes))}
	for i, ct := range colTypes {
		result.Columns[i] = Column{Name: ct.Name(), Kind: classify(ct.DatabaseTypeName())}
	}

	for rows.Next() {
		values := make([]any, len(colTypes))
		ptrs := make([]any, len(colTypes))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrap(err, "failed to scan result row")
		}
		result.Rows = append(result.Rows, values)
	}
	return result, rows.Err()
}

func classify(dbType string) ColumnKind {
	switch strings.ToUpper(dbType) {
	case "INT2", "INT4", "INT8", "FLOAT4", "FLOAT8", "NUMERIC", "DECIMAL", "MONEY":
		return KindNumeric
	case "DATE", "TIME", "TIMESTAMP", "TIMESTAMPTZ", "TIMETZ":
		return KindTime
	case "BOOL":
		return KindBool
	case "TEXT", "VARCHAR", "CHAR", "BPCHAR", "NAME", "UUID":
		return KindText
	default:
		return KindOther
	}
}

// RenderMetadata builds a markdown description of the schema (table list
// plus column definitions) used as prompt context for sufficiency checks.
func RenderMetadata(ctx context.Context, p ContextProvider) (string, error) {
	tables, err := p.ListTables(ctx)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Schema\n%s\n\n# Tables\n", p.CurrentSchema())
	names := make([]string, 0, len(tables))
	for _, t := range tables {
		fmt.Fprintf(&sb, "- %s.%s (%s)\n", t.Schema, t.Name, t.Type)
		names = append(names, t.Name)
	}

	cols, err := p.ColumnMetadata(ctx, names)
	if err != nil {
		return "", err
	}
	sb.WriteString("\n# Columns\n")
	current := ""
	for _, c := range cols {
		if c.Table != current {
			current = c.Table
			fmt.Fprintf(&sb, "\n## %s.%s\n", p.CurrentSchema(), c.Table)
		}
		nullable := "NOT NULL"
		if c.IsNullable {
			nullable = "NULL"
		}
		fmt.Fprintf(&sb, "- %s %s %s\n", c.Name, c.DataType, nullable)
	}
	return sb.String(), nil
}
