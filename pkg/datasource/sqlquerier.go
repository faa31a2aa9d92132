package datasource

import (
	"context"
	"database/sql"
	"strings"

	gwerrors "github.com/PuroDelphi/mcpFirebird-sub002/pkg/errors"
)

// Firebird system catalog queries backing the metadata operations.
const (
	listTablesSQL = `SELECT TRIM(RDB$RELATION_NAME) AS NAME
FROM RDB$RELATIONS
WHERE RDB$SYSTEM_FLAG = 0 AND RDB$VIEW_BLR IS NULL
ORDER BY RDB$RELATION_NAME`

	describeTableSQL = `SELECT
  TRIM(rf.RDB$FIELD_NAME) AS NAME,
  TRIM(t.RDB$TYPE_NAME) AS FIELD_TYPE,
  COALESCE(rf.RDB$NULL_FLAG, 0) AS NOT_NULL,
  CASE WHEN pk.RDB$FIELD_NAME IS NULL THEN 0 ELSE 1 END AS IS_PK
FROM RDB$RELATION_FIELDS rf
JOIN RDB$FIELDS f ON f.RDB$FIELD_NAME = rf.RDB$FIELD_SOURCE
JOIN RDB$TYPES t ON t.RDB$TYPE = f.RDB$FIELD_TYPE AND t.RDB$FIELD_NAME = 'RDB$FIELD_TYPE'
LEFT JOIN (
  SELECT sg.RDB$FIELD_NAME, rc.RDB$RELATION_NAME
  FROM RDB$RELATION_CONSTRAINTS rc
  JOIN RDB$INDEX_SEGMENTS sg ON sg.RDB$INDEX_NAME = rc.RDB$INDEX_NAME
  WHERE rc.RDB$CONSTRAINT_TYPE = 'PRIMARY KEY'
) pk ON pk.RDB$RELATION_NAME = rf.RDB$RELATION_NAME AND pk.RDB$FIELD_NAME = rf.RDB$FIELD_NAME
WHERE rf.RDB$RELATION_NAME = ?
ORDER BY rf.RDB$FIELD_POSITION`

	fieldDescriptionsSQL = `SELECT TRIM(RDB$FIELD_NAME) AS NAME, RDB$DESCRIPTION AS DESCRIPTION
FROM RDB$RELATION_FIELDS
WHERE RDB$RELATION_NAME = ?
ORDER BY RDB$FIELD_POSITION`

	validateSQL = `SELECT 1 FROM RDB$DATABASE`
)

// SQLQuerier runs operations against a database/sql handle.
type SQLQuerier struct {
	db *sql.DB
}

// NewSQLQuerier wraps an open database handle.
func NewSQLQuerier(db *sql.DB) *SQLQuerier {
	return &SQLQuerier{db: db}
}

// ExecuteQuery runs one statement. Row-returning statements yield their
// rows; anything else yields an empty result.
func (q *SQLQuerier) ExecuteQuery(ctx context.Context, query string, params []any) (*QueryResult, error) {
	rows, err := q.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.KindConnection, "executing query")
	}
	defer func() { _ = rows.Close() }()

	return collectRows(rows)
}

// ListTables returns the user tables, excluding views and system objects.
func (q *SQLQuerier) ListTables(ctx context.Context) ([]TableInfo, error) {
	rows, err := q.db.QueryContext(ctx, listTablesSQL)
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.KindConnection, "listing tables")
	}
	defer func() { _ = rows.Close() }()

	var tables []TableInfo
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, gwerrors.Wrap(err, gwerrors.KindConnection, "scanning table name")
		}
		tables = append(tables, TableInfo{Name: name})
	}
	if err := rows.Err(); err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.KindConnection, "iterating tables")
	}
	return tables, nil
}

// DescribeTable returns the column layout of table.
func (q *SQLQuerier) DescribeTable(ctx context.Context, table string) ([]ColumnInfo, error) {
	rows, err := q.db.QueryContext(ctx, describeTableSQL, strings.ToUpper(table))
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.KindConnection, "describing table").
			WithContext("table", table)
	}
	defer func() { _ = rows.Close() }()

	var cols []ColumnInfo
	for rows.Next() {
		var (
			col     ColumnInfo
			notNull int
			isPK    int
		)
		if err := rows.Scan(&col.Name, &col.Type, &notNull, &isPK); err != nil {
			return nil, gwerrors.Wrap(err, gwerrors.KindConnection, "scanning column")
		}
		col.Nullable = notNull == 0
		col.PrimaryKey = isPK == 1
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.KindConnection, "iterating columns")
	}
	if len(cols) == 0 {
		return nil, gwerrors.Newf(gwerrors.KindUnknown, "table %q not found", table).
			WithSuggestion("use list-tables to see available tables")
	}
	return cols, nil
}

// FieldDescriptions returns the stored column descriptions of table.
func (q *SQLQuerier) FieldDescriptions(ctx context.Context, table string) (map[string]string, error) {
	rows, err := q.db.QueryContext(ctx, fieldDescriptionsSQL, strings.ToUpper(table))
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.KindConnection, "reading field descriptions").
			WithContext("table", table)
	}
	defer func() { _ = rows.Close() }()

	descriptions := make(map[string]string)
	for rows.Next() {
		var (
			name string
			desc sql.NullString
		)
		if err := rows.Scan(&name, &desc); err != nil {
			return nil, gwerrors.Wrap(err, gwerrors.KindConnection, "scanning field description")
		}
		descriptions[name] = desc.String
	}
	if err := rows.Err(); err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.KindConnection, "iterating field descriptions")
	}
	return descriptions, nil
}

// Backup is handled by the database's service manager, not over the SQL
// connection.
func (q *SQLQuerier) Backup(_ context.Context, _ string) error {
	return gwerrors.New(gwerrors.KindUnknown, "backup is not available over the SQL connection").
		WithSuggestion("run the database's backup utility against the server directly")
}

// Restore is handled by the database's service manager, not over the SQL
// connection.
func (q *SQLQuerier) Restore(_ context.Context, _ string) error {
	return gwerrors.New(gwerrors.KindUnknown, "restore is not available over the SQL connection").
		WithSuggestion("run the database's restore utility against the server directly")
}

// Validate checks the database answers a trivial query.
func (q *SQLQuerier) Validate(ctx context.Context) (*ValidationResult, error) {
	var one int
	if err := q.db.QueryRowContext(ctx, validateSQL).Scan(&one); err != nil {
		return &ValidationResult{Valid: false, Message: err.Error()}, nil
	}
	return &ValidationResult{Valid: true}, nil
}

// Close closes the database handle.
func (q *SQLQuerier) Close() error {
	return q.db.Close()
}

// collectRows scans every row into a column-keyed map. Byte slices are
// converted to strings so results serialize as text rather than base64.
func collectRows(rows *sql.Rows) (*QueryResult, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.KindConnection, "reading result columns")
	}

	result := &QueryResult{Columns: cols, Rows: []map[string]any{}}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, gwerrors.Wrap(err, gwerrors.KindConnection, "scanning result row")
		}

		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.KindConnection, "iterating result rows")
	}
	return result, nil
}

// Verify interface compliance.
var _ Querier = (*SQLQuerier)(nil)
