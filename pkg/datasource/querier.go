// Package datasource abstracts the backing database the gateway exposes.
// Firebird implements this through the generic SQL querier. Future
// engines can too.
package datasource

import "context"

// TableInfo describes one user table.
type TableInfo struct {
	Name string `json:"name"`
}

// ColumnInfo describes one column of a table.
type ColumnInfo struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primary_key"`
}

// QueryResult holds the rows of one executed query.
type QueryResult struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// ValidationResult reports database integrity.
type ValidationResult struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
}

// Querier executes operations against the backing database.
type Querier interface {
	// ExecuteQuery runs sql with positional params and returns the rows.
	ExecuteQuery(ctx context.Context, sql string, params []any) (*QueryResult, error)

	// ListTables returns the user tables.
	ListTables(ctx context.Context) ([]TableInfo, error)

	// DescribeTable returns the column layout of a table.
	DescribeTable(ctx context.Context, table string) ([]ColumnInfo, error)

	// FieldDescriptions returns column name to stored description.
	FieldDescriptions(ctx context.Context, table string) (map[string]string, error)

	// Backup writes a database backup to path.
	Backup(ctx context.Context, path string) error

	// Restore restores the database from a backup at path.
	Restore(ctx context.Context, path string) error

	// Validate checks database integrity.
	Validate(ctx context.Context) (*ValidationResult, error)

	// Close releases resources.
	Close() error
}
