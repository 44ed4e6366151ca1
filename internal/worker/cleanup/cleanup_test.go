package cleanup

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeResult struct {
	rowsAffected int64
}

func (r *fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r *fakeResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

// Executor インターフェースに対するモック実装
type mockExecutor struct {
	mu     sync.Mutex
	calls  int
	query  string
	args   []interface{}
	result sql.Result
	err    error
}

func (m *mockExecutor) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.query = query
	m.args = args
	return m.result, m.err
}

func (m *mockExecutor) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockMetrics は削除件数の記録を保持する。
type mockMetrics struct {
	purged []int64
}

func (m *mockMetrics) RecordRegistration()                {}
func (m *mockMetrics) RecordLogin(string)                 {}
func (m *mockMetrics) RecordAuthFailure(string)           {}
func (m *mockMetrics) RecordJoinCodeIssued()              {}
func (m *mockMetrics) RecordMailFailure()                 {}
func (m *mockMetrics) RecordJoinCodesPurged(count int64)  { m.purged = append(m.purged, count) }
func (m *mockMetrics) RecordHTTPStatus(int)               {}
func (m *mockMetrics) RecordRequestLatency(time.Duration) {}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// findLogEntry はキーを含む最初のJSONログ行を返す。
func findLogEntry(buf *bytes.Buffer, key string) (map[string]interface{}, bool) {
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if _, ok := entry[key]; ok {
			return entry, true
		}
	}
	return nil, false
}

func TestNewCleanupJob_Defaults(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockExecutor{}, newTestLogger(&buf), nil)

	if job == nil {
		t.Fatal("NewCleanupJob は nil を返してはならない")
	}
	if job.MaxAge != DefaultMaxAge {
		t.Errorf("MaxAge = %v, want %v", job.MaxAge, DefaultMaxAge)
	}
}

func TestCleanupJob_Run_DeletesExpiredCodes(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{result: &fakeResult{rowsAffected: 5}}
	m := &mockMetrics{}
	job := NewCleanupJob(mock, newTestLogger(&buf), m)

	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return now }
	job.MaxAge = 48 * time.Hour

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	if !strings.Contains(mock.query, "DELETE FROM join_codes") {
		t.Errorf("クエリに 'DELETE FROM join_codes' が含まれていない: %s", mock.query)
	}
	if !strings.Contains(mock.query, "created_at < $1") {
		t.Errorf("クエリに created_at 条件が含まれていない: %s", mock.query)
	}

	if len(mock.args) != 1 {
		t.Fatalf("引数の数 = %d, want 1", len(mock.args))
	}
	cutoff, ok := mock.args[0].(time.Time)
	if !ok {
		t.Fatalf("第1引数が time.Time ではない: %T", mock.args[0])
	}
	if want := now.Add(-48 * time.Hour); !cutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", cutoff, want)
	}

	if len(m.purged) != 1 || m.purged[0] != 5 {
		t.Errorf("purged = %v, want [5]", m.purged)
	}
}

func TestCleanupJob_Run_LogsDeletedCount(t *testing.T) {
	tests := []struct {
		name  string
		count int64
	}{
		{"複数件", 42},
		{"0件", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			mock := &mockExecutor{result: &fakeResult{rowsAffected: tt.count}}
			job := NewCleanupJob(mock, newTestLogger(&buf), nil)

			if err := job.Run(context.Background()); err != nil {
				t.Fatalf("Run() がエラーを返した: %v", err)
			}

			entry, ok := findLogEntry(&buf, "deleted_count")
			if !ok {
				t.Fatalf("ログに deleted_count が記録されていない: %s", buf.String())
			}
			if entry["deleted_count"] != float64(tt.count) {
				t.Errorf("deleted_count = %v, want %d", entry["deleted_count"], tt.count)
			}
			if _, ok := entry["duration_ms"]; !ok {
				t.Error("ログに duration_ms が記録されていない")
			}
		})
	}
}

func TestCleanupJob_Run_ReturnsErrorOnDBFailure(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{err: sql.ErrConnDone}
	m := &mockMetrics{}
	job := NewCleanupJob(mock, newTestLogger(&buf), m)

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("DBエラー時に Run() は nil でないエラーを返すべき")
	}
	if !strings.Contains(err.Error(), "sql: connection is already closed") {
		t.Errorf("エラーメッセージが期待と異なる: %v", err)
	}
	if !strings.Contains(buf.String(), "ERROR") {
		t.Errorf("エラー時にERRORレベルのログが記録されていない: %s", buf.String())
	}
	if len(m.purged) != 0 {
		t.Errorf("失敗時に削除件数を記録してはならない: %v", m.purged)
	}
}

func TestCleanupJob_Run_DisabledWhenMaxAgeZero(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{result: &fakeResult{}}
	job := NewCleanupJob(mock, newTestLogger(&buf), nil)
	job.MaxAge = 0

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}
	if mock.callCount() != 0 {
		t.Error("MaxAge=0 の場合は ExecContext を呼び出してはならない")
	}
}

func TestCleanupJob_Start_RunsImmediatelyAndStopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{result: &fakeResult{}}
	job := NewCleanupJob(mock, newTestLogger(&buf), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, time.Hour)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for mock.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("起動直後に Run が実行されなかった")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("キャンセル後に Start が終了しなかった")
	}
}
