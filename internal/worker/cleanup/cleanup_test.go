package cleanup

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

// mockPurger はPurgerのモック実装。
type mockPurger struct {
	calls   int
	gotNow  time.Time
	deleted int64
	err     error
}

func (m *mockPurger) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	m.calls++
	m.gotNow = now
	return m.deleted, m.err
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// logEntries はJSONログを行ごとにデコードする。
func logEntries(buf *bytes.Buffer) []map[string]interface{} {
	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestCleanupJob_Run_PurgesEveryTarget(t *testing.T) {
	var buf bytes.Buffer
	sessions := &mockPurger{deleted: 3}
	tokens := &mockPurger{deleted: 5}
	invites := &mockPurger{deleted: 0}

	job := NewCleanupJob(newTestLogger(&buf),
		Target{Name: "login_sessions", Purger: sessions},
		Target{Name: "access_tokens", Purger: tokens},
		Target{Name: "transfer_invites", Purger: invites},
	)
	fixed := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return fixed }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	for name, p := range map[string]*mockPurger{"sessions": sessions, "tokens": tokens, "invites": invites} {
		if p.calls != 1 {
			t.Errorf("%s: DeleteExpired called %d times, want 1", name, p.calls)
		}
		if !p.gotNow.Equal(fixed) {
			t.Errorf("%s: now = %v, want %v", name, p.gotNow, fixed)
		}
	}
}

func TestCleanupJob_Run_LogsDeletedCountPerTarget(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(newTestLogger(&buf),
		Target{Name: "access_tokens", Purger: &mockPurger{deleted: 42}},
		Target{Name: "transfer_invites", Purger: &mockPurger{deleted: 0}},
	)

	_ = job.Run(context.Background())

	counts := map[string]float64{}
	for _, entry := range logEntries(&buf) {
		name, _ := entry["target"].(string)
		if count, ok := entry["deleted_count"].(float64); ok {
			counts[name] = count
		}
		if _, ok := entry["deleted_count"]; ok {
			if _, ok := entry["duration_ms"]; !ok {
				t.Errorf("ログに duration_ms が記録されていない: %v", entry)
			}
		}
	}
	if counts["access_tokens"] != 42 {
		t.Errorf("access_tokens の deleted_count = %v, want 42。ログ出力: %s", counts["access_tokens"], buf.String())
	}
	if c, ok := counts["transfer_invites"]; !ok || c != 0 {
		t.Errorf("0件削除時にもログに deleted_count=0 が記録されるべき。ログ出力: %s", buf.String())
	}
}

func TestCleanupJob_Run_ContinuesAfterFailure(t *testing.T) {
	var buf bytes.Buffer
	failing := &mockPurger{err: sql.ErrConnDone}
	after := &mockPurger{deleted: 1}

	job := NewCleanupJob(newTestLogger(&buf),
		Target{Name: "login_sessions", Purger: failing},
		Target{Name: "access_tokens", Purger: after},
	)

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("DBエラー時に Run() は nil でないエラーを返すべき")
	}
	if !strings.Contains(err.Error(), "login_sessions") {
		t.Errorf("エラーに対象名が含まれていない: %v", err)
	}
	if !strings.Contains(err.Error(), "sql: connection is already closed") {
		t.Errorf("エラーメッセージが期待と異なる: %v", err)
	}
	if after.calls != 1 {
		t.Error("失敗した対象の後続も処理されるべき")
	}
	if !strings.Contains(buf.String(), "ERROR") {
		t.Errorf("エラー時にERRORレベルのログが記録されていない。ログ出力: %s", buf.String())
	}
}

func TestCleanupJob_Run_Idempotent(t *testing.T) {
	var buf bytes.Buffer
	p := &mockPurger{}
	job := NewCleanupJob(newTestLogger(&buf), Target{Name: "access_tokens", Purger: p})

	for i := 0; i < 2; i++ {
		if err := job.Run(context.Background()); err != nil {
			t.Fatalf("%d回目の Run() がエラーを返した: %v", i+1, err)
		}
	}
	if p.calls != 2 {
		t.Errorf("calls = %d, want 2", p.calls)
	}
}

// signalPurger は呼び出しのたびにチャネルへ通知する。
type signalPurger struct {
	called chan struct{}
}

func (s *signalPurger) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.called <- struct{}{}
	return 0, nil
}

func TestCleanupJob_Start_StopsOnCancel(t *testing.T) {
	p := &signalPurger{called: make(chan struct{}, 1)}
	job := NewCleanupJob(slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)), Target{Name: "access_tokens", Purger: p})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, time.Hour)
		close(done)
	}()

	select {
	case <-p.called:
	case <-time.After(2 * time.Second):
		t.Fatal("起動直後に Run が実行されなかった")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("キャンセル後も Start が終了しない")
	}
}
