package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLSink_Log(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("INSERT INTO audit_log").
		WillReturnResult(sqlmock.NewResult(1, 1))

	sink := NewSQLSink(db, "")
	err = sink.Log(context.Background(), Entry{
		ID:        "e1",
		Timestamp: time.Now(),
		SessionID: "s1",
		CallerID:  "alice",
		Operation: "SELECT",
		Target:    "EMPLOYEES",
		Query:     "SELECT * FROM employees",
		Success:   true,
		RowCount:  3,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSink_LogError(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("INSERT INTO audit_log").
		WillReturnError(assert.AnError)

	sink := NewSQLSink(db, "")
	err = sink.Log(context.Background(), Entry{ID: "e1", Operation: "SELECT"})
	assert.Error(t, err)
}

func TestSQLSink_Query(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(auditColumns).
		AddRow("e2", ts.Add(time.Minute), "s1", "alice", "UPDATE", "EMPLOYEES",
			"UPDATE employees SET x = 1", []byte(`[1]`), true, "", int64(12), 1, []byte(`null`)).
		AddRow("e1", ts, "s1", "alice", "SELECT", "EMPLOYEES",
			"SELECT * FROM employees", []byte(`[]`), true, "", int64(4), 3, []byte(`[{"ID":1}]`))

	mock.ExpectQuery("SELECT .+ FROM audit_log WHERE caller_id = .+ ORDER BY timestamp DESC LIMIT 10").
		WithArgs("alice").
		WillReturnRows(rows)

	sink := NewSQLSink(db, "")
	got, err := sink.Query(context.Background(), QueryFilter{CallerID: "alice", Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "e2", got[0].ID)
	assert.Equal(t, "UPDATE", got[0].Operation)
	assert.Equal(t, []any{float64(1)}, got[0].Parameters)
	assert.Equal(t, "e1", got[1].ID)
	assert.Equal(t, 3, got[1].RowCount)
	assert.Equal(t, []any{map[string]any{"ID": float64(1)}}, got[1].Response)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSink_CustomTable(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("INSERT INTO gateway_audit").
		WillReturnResult(sqlmock.NewResult(1, 1))

	sink := NewSQLSink(db, "gateway_audit")
	require.NoError(t, sink.Log(context.Background(), Entry{ID: "e1", Operation: "SELECT"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}
