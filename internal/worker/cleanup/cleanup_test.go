package cleanup

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

type fakeResult struct {
	rowsAffected int64
}

func (r *fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r *fakeResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type execCall struct {
	query string
	args  []interface{}
}

// mockExecutor はExecutorのモック。クエリごとに失敗させることができる。
type mockExecutor struct {
	calls  []execCall
	result sql.Result
	failOn string
	err    error
}

func (m *mockExecutor) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	m.calls = append(m.calls, execCall{query: query, args: args})
	if m.err != nil && (m.failOn == "" || strings.Contains(query, m.failOn)) {
		return nil, m.err
	}
	return m.result, nil
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// logEntries はJSONログを1行ずつデコードする。
func logEntries(buf *bytes.Buffer) []map[string]interface{} {
	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err == nil {
			entries = append(entries, entry)
		}
	}
	return entries
}

func TestNewCleanupJob_Defaults(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockExecutor{}, newTestLogger(&buf))

	if job.SessionRetentionDays != 7 {
		t.Errorf("SessionRetentionDays = %d, want 7", job.SessionRetentionDays)
	}
	if job.UsageRetentionDays != 90 {
		t.Errorf("UsageRetentionDays = %d, want 90", job.UsageRetentionDays)
	}
	if job.SkipUsageEvents {
		t.Error("SkipUsageEvents should default to false")
	}
}

func TestCleanupJob_Run_DeletesSessionsThenUsageEvents(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{result: &fakeResult{rowsAffected: 5}}
	job := NewCleanupJob(mock, newTestLogger(&buf))
	job.SessionRetentionDays = 3
	job.UsageRetentionDays = 30

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	if len(mock.calls) != 2 {
		t.Fatalf("ExecContext calls = %d, want 2", len(mock.calls))
	}

	sessions := mock.calls[0]
	if !strings.Contains(sessions.query, "DELETE FROM sessions") || !strings.Contains(sessions.query, "expires_at") {
		t.Errorf("1件目のクエリ = %s", sessions.query)
	}
	if sessions.args[0] != "3 days" {
		t.Errorf("sessions interval = %v, want %q", sessions.args[0], "3 days")
	}

	events := mock.calls[1]
	if !strings.Contains(events.query, "DELETE FROM usage_events") || !strings.Contains(events.query, "created_at") {
		t.Errorf("2件目のクエリ = %s", events.query)
	}
	if events.args[0] != "30 days" {
		t.Errorf("usage_events interval = %v, want %q", events.args[0], "30 days")
	}
}

func TestCleanupJob_Run_SkipUsageEvents(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{result: &fakeResult{}}
	job := NewCleanupJob(mock, newTestLogger(&buf))
	job.SkipUsageEvents = true

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}
	if len(mock.calls) != 1 || !strings.Contains(mock.calls[0].query, "sessions") {
		t.Errorf("calls = %+v, want sessions only", mock.calls)
	}
}

func TestCleanupJob_Run_LogsPerTable(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{result: &fakeResult{rowsAffected: 42}}
	job := NewCleanupJob(mock, newTestLogger(&buf))

	_ = job.Run(context.Background())

	tables := map[string]bool{}
	for _, entry := range logEntries(&buf) {
		if entry["deleted_count"] != float64(42) {
			continue
		}
		if _, ok := entry["duration_ms"]; !ok {
			t.Errorf("ログに duration_ms が記録されていない: %v", entry)
		}
		if table, ok := entry["table"].(string); ok {
			tables[table] = true
		}
	}
	if !tables["sessions"] || !tables["usage_events"] {
		t.Errorf("ログに両テーブルの削除件数が記録されていない。ログ出力: %s", buf.String())
	}
}

func TestCleanupJob_Run_SessionFailureStopsJob(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{failOn: "sessions", err: sql.ErrConnDone}
	job := NewCleanupJob(mock, newTestLogger(&buf))

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("DBエラー時に Run() は nil でないエラーを返すべき")
	}
	if !strings.Contains(err.Error(), "sql: connection is already closed") {
		t.Errorf("エラーメッセージが期待と異なる: %v", err)
	}
	if len(mock.calls) != 1 {
		t.Errorf("ExecContext calls = %d, want 1", len(mock.calls))
	}
	if !strings.Contains(buf.String(), "ERROR") {
		t.Errorf("エラー時にERRORレベルのログが記録されていない。ログ出力: %s", buf.String())
	}
}

func TestCleanupJob_Run_UsageFailureReturnsError(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{result: &fakeResult{}, failOn: "usage_events", err: sql.ErrConnDone}
	job := NewCleanupJob(mock, newTestLogger(&buf))

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("usage_eventsの削除失敗でエラーを返すべき")
	}
	if len(mock.calls) != 2 {
		t.Errorf("ExecContext calls = %d, want 2", len(mock.calls))
	}
}

func TestCleanupJob_Run_Idempotent_ZeroRows(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockExecutor{result: &fakeResult{}}, newTestLogger(&buf))

	for i := 0; i < 2; i++ {
		if err := job.Run(context.Background()); err != nil {
			t.Fatalf("%d回目の Run() がエラーを返した: %v", i+1, err)
		}
	}
}
