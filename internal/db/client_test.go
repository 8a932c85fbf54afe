package db

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hyperai/phoenix/go/orchestrator/internal/models"
)

func newMockClient(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	return NewClientFromDB(sqlx.NewDb(raw, "postgres"), zaptest.NewLogger(t)), mock
}

func TestInsertDirectiveResult(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectExec("INSERT INTO directive_results").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := client.InsertDirectiveResult(context.Background(), DirectiveRecord{
		ID:          "d1",
		Content:     "summarize status",
		Source:      "operator",
		Success:     true,
		DurationMs:  120,
		CompletedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentResults(t *testing.T) {
	client, mock := newMockClient(t)

	rows := sqlmock.NewRows([]string{
		"id", "content", "source", "priority", "session_id", "submitted_at",
		"success", "error", "duration_ms", "alignment_score", "completed_at",
	}).AddRow("d1", "text", "operator", 1, "s1", time.Now(),
		true, "", int64(100), 0.9, time.Now())

	mock.ExpectQuery("SELECT (.+) FROM directive_results").
		WithArgs(10).
		WillReturnRows(rows)

	out, err := client.RecentResults(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "d1", out[0].ID)
	assert.True(t, out[0].Success)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWriterPersistsQueuedRecords(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectExec("INSERT INTO directive_results").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := NewWriter(client, 8, zaptest.NewLogger(t))
	w.Record(&models.Directive{
		ID:          "d1",
		Content:     "hello",
		Source:      "operator",
		SubmittedAt: time.Now(),
	}, &models.ExecutionResult{
		DirectiveID: "d1",
		Success:     true,
		Duration:    50 * time.Millisecond,
		CompletedAt: time.Now(),
	})
	w.Close()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWriterSurvivesInsertFailure(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectExec("INSERT INTO directive_results").
		WillReturnError(assert.AnError)
	mock.ExpectExec("INSERT INTO directive_results").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := NewWriter(client, 8, zaptest.NewLogger(t))
	for _, id := range []string{"bad", "good"} {
		w.Record(nil, &models.ExecutionResult{DirectiveID: id, CompletedAt: time.Now()})
	}
	w.Close()

	assert.NoError(t, mock.ExpectationsWereMet())
}
