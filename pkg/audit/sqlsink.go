package audit

import (
	"context"
	"database/sql"
	"encoding/json"

	sq "github.com/Masterminds/squirrel"

	gwerrors "github.com/PuroDelphi/mcpFirebird-sub002/pkg/errors"
)

// psq is the statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// auditColumns lists columns used by SQLSink queries.
var auditColumns = []string{
	"id", "timestamp", "session_id", "caller_id", "operation", "target",
	"query", "parameters", "success", "error_message", "duration_ms", "row_count",
	"response",
}

// SQLSink inserts entries into a database audit table.
type SQLSink struct {
	db    *sql.DB
	table string
}

// NewSQLSink creates a database sink writing to table.
func NewSQLSink(db *sql.DB, table string) *SQLSink {
	if table == "" {
		table = "audit_log"
	}
	return &SQLSink{db: db, table: table}
}

// Log inserts one entry.
func (s *SQLSink) Log(ctx context.Context, entry Entry) error {
	params, err := json.Marshal(entry.Parameters)
	if err != nil {
		params = []byte("[]")
	}
	response, err := json.Marshal(entry.Response)
	if err != nil {
		response = []byte("null")
	}

	query, args, err := psq.Insert(s.table).
		Columns(auditColumns...).
		Values(
			entry.ID,
			entry.Timestamp,
			entry.SessionID,
			entry.CallerID,
			entry.Operation,
			entry.Target,
			entry.Query,
			params,
			entry.Success,
			entry.ErrorMessage,
			entry.DurationMS,
			entry.RowCount,
			response,
		).
		ToSql()
	if err != nil {
		return gwerrors.Wrap(err, gwerrors.KindAuditSink, "building audit insert")
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return gwerrors.Wrap(err, gwerrors.KindAuditSink, "inserting audit entry")
	}
	return nil
}

// Query retrieves entries matching the filter, newest first.
func (s *SQLSink) Query(ctx context.Context, filter QueryFilter) ([]Entry, error) {
	qb := psq.Select(auditColumns...).From(s.table).OrderBy("timestamp DESC")

	if filter.StartTime != nil {
		qb = qb.Where(sq.GtOrEq{"timestamp": *filter.StartTime})
	}
	if filter.EndTime != nil {
		qb = qb.Where(sq.LtOrEq{"timestamp": *filter.EndTime})
	}
	if filter.CallerID != "" {
		qb = qb.Where(sq.Eq{"caller_id": filter.CallerID})
	}
	if filter.Operation != "" {
		qb = qb.Where(sq.Eq{"operation": filter.Operation})
	}
	if filter.Success != nil {
		qb = qb.Where(sq.Eq{"success": *filter.Success})
	}
	if filter.Limit > 0 {
		qb = qb.Limit(uint64(filter.Limit))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.KindAuditSink, "building audit query")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.KindAuditSink, "querying audit entries")
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.KindAuditSink, "iterating audit rows")
	}
	return entries, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var entry Entry
	var params, response []byte

	err := rows.Scan(
		&entry.ID,
		&entry.Timestamp,
		&entry.SessionID,
		&entry.CallerID,
		&entry.Operation,
		&entry.Target,
		&entry.Query,
		&params,
		&entry.Success,
		&entry.ErrorMessage,
		&entry.DurationMS,
		&entry.RowCount,
		&response,
	)
	if err != nil {
		return entry, gwerrors.Wrap(err, gwerrors.KindAuditSink, "scanning audit row")
	}
	if len(params) > 0 {
		_ = json.Unmarshal(params, &entry.Parameters)
	}
	if len(response) > 0 {
		_ = json.Unmarshal(response, &entry.Response)
	}
	return entry, nil
}

// Close is a no-op; the sink does not own the database handle.
func (s *SQLSink) Close() error {
	return nil
}

// Verify interface compliance.
var _ Sink = (*SQLSink)(nil)
