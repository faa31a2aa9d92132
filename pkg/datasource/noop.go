package datasource

import "context"

// Noop is a no-op querier used when no database is configured and in
// tests.
type Noop struct{}

// NewNoop creates a no-op querier.
func NewNoop() *Noop {
	return &Noop{}
}

// ExecuteQuery returns an empty result.
func (n *Noop) ExecuteQuery(_ context.Context, _ string, _ []any) (*QueryResult, error) {
	return &QueryResult{Columns: []string{}, Rows: []map[string]any{}}, nil
}

// ListTables returns no tables.
func (n *Noop) ListTables(_ context.Context) ([]TableInfo, error) {
	return []TableInfo{}, nil
}

// DescribeTable returns no columns.
func (n *Noop) DescribeTable(_ context.Context, _ string) ([]ColumnInfo, error) {
	return []ColumnInfo{}, nil
}

// FieldDescriptions returns no descriptions.
func (n *Noop) FieldDescriptions(_ context.Context, _ string) (map[string]string, error) {
	return map[string]string{}, nil
}

// Backup does nothing.
func (n *Noop) Backup(_ context.Context, _ string) error {
	return nil
}

// Restore does nothing.
func (n *Noop) Restore(_ context.Context, _ string) error {
	return nil
}

// Validate reports the database as valid.
func (n *Noop) Validate(_ context.Context) (*ValidationResult, error) {
	return &ValidationResult{Valid: true, Message: "no database configured"}, nil
}

// Close does nothing.
func (n *Noop) Close() error {
	return nil
}

// Verify interface compliance.
var _ Querier = (*Noop)(nil)
