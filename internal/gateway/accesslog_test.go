package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nao1215/learnhub/pkg/middleware"
)

// openTestAccessLog はインメモリSQLiteのアクセスログを開く。
func openTestAccessLog(t *testing.T) *AccessLog {
	t.Helper()

	a, err := OpenAccessLog(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("OpenAccessLog()でエラーが発生: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

// waitForEntries は非同期書き込みが n 件に達するまで待つ。
func waitForEntries(t *testing.T, a *AccessLog, n int) []AccessLogEntry {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for {
		entries, err := a.Recent(context.Background(), maxAccessLogLimit)
		if err != nil {
			t.Fatalf("Recent()でエラーが発生: %v", err)
		}
		if len(entries) >= n {
			return entries
		}
		if time.Now().After(deadline) {
			t.Fatalf("アクセスログが %d 件に達しない: got %d", n, len(entries))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// TestAccessLog はAccessLogの記録と取得を検証する。
func TestAccessLog(t *testing.T) {
	t.Parallel()

	t.Run("記録したログが新しい順に取得できること", func(t *testing.T) {
		t.Parallel()

		a := openTestAccessLog(t)
		base := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
		for i, path := range []string{"/users/1", "/users/2", "/unknown"} {
			a.Record(AccessLogEntry{
				RequestID: path,
				Method:    http.MethodGet,
				Path:      path,
				Service:   "user",
				Status:    http.StatusOK,
				Outcome:   outcomeForwarded,
				LatencyMS: int64(i),
				CreatedAt: base.Add(time.Duration(i) * time.Second),
			})
		}

		entries := waitForEntries(t, a, 3)
		if entries[0].Path != "/unknown" || entries[2].Path != "/users/1" {
			t.Errorf("順序が不正: %+v", entries)
		}
		if !entries[0].CreatedAt.Equal(base.Add(2 * time.Second)) {
			t.Errorf("CreatedAt = %v, want %v", entries[0].CreatedAt, base.Add(2*time.Second))
		}

		limited, err := a.Recent(context.Background(), 1)
		if err != nil {
			t.Fatalf("Recent()でエラーが発生: %v", err)
		}
		if len(limited) != 1 {
			t.Errorf("件数 = %d, want 1", len(limited))
		}
	})

	t.Run("Close後のRecordは無視されCloseは冪等であること", func(t *testing.T) {
		t.Parallel()

		a, err := OpenAccessLog(context.Background(), ":memory:")
		if err != nil {
			t.Fatalf("OpenAccessLog()でエラーが発生: %v", err)
		}
		if err := a.Close(); err != nil {
			t.Fatalf("Close()でエラーが発生: %v", err)
		}
		a.Record(AccessLogEntry{RequestID: "after-close"})
		if err := a.Close(); err != nil {
			t.Errorf("2回目のClose()でエラーが発生: %v", err)
		}
	})
}

// TestHandleAccessLog はアクセスログ取得エンドポイントを検証する。
func TestHandleAccessLog(t *testing.T) {
	t.Parallel()

	t.Run("転送結果と404がアクセスログに記録されること", func(t *testing.T) {
		t.Parallel()

		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		t.Cleanup(backend.Close)

		cfg := newTestConfig(t, backend.URL)
		cfg.DBPath = ":memory:"
		s := newTestServer(t, cfg)

		req := httptest.NewRequest(http.MethodGet, "/courses/1", nil)
		req.Header.Set(middleware.HeaderRequestID, "req-course")
		serve(s, req)
		serve(s, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

		entries := waitForEntries(t, s.accessLog, 2)
		if entries[1].RequestID != "req-course" || entries[1].Service != "course" || entries[1].Outcome != outcomeForwarded || entries[1].Status != http.StatusOK {
			t.Errorf("entries[1] = %+v", entries[1])
		}
		if entries[0].Outcome != outcomeNoRoute || entries[0].Status != http.StatusNotFound || entries[0].Service != "" {
			t.Errorf("entries[0] = %+v", entries[0])
		}

		w := serve(s, httptest.NewRequest(http.MethodGet, "/_gateway/access-log?limit=1", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
		}
		var body struct {
			Entries []AccessLogEntry `json:"entries"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("レスポンスのパースに失敗: %v", err)
		}
		if len(body.Entries) != 1 || body.Entries[0].Path != "/nowhere" {
			t.Errorf("entries = %+v", body.Entries)
		}
	})

	t.Run("limitが範囲外の場合は400を返すこと", func(t *testing.T) {
		t.Parallel()

		cfg := newTestConfig(t, "http://localhost:3001")
		cfg.DBPath = ":memory:"
		s := newTestServer(t, cfg)

		for _, v := range []string{"0", "501", "abc"} {
			w := serve(s, httptest.NewRequest(http.MethodGet, "/_gateway/access-log?limit="+v, nil))
			if w.Code != http.StatusBadRequest {
				t.Errorf("limit=%s: ステータスコード: got %d, want %d", v, w.Code, http.StatusBadRequest)
			}
		}
	})

	t.Run("JWT有効時はトークンが必要であること", func(t *testing.T) {
		t.Parallel()

		cfg := newTestConfig(t, "http://localhost:3001")
		cfg.DBPath = ":memory:"
		cfg.JWTSecret = testJWTSecret
		s := newTestServer(t, cfg)

		w := serve(s, httptest.NewRequest(http.MethodGet, "/_gateway/access-log", nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusUnauthorized)
		}

		token, err := middleware.GenerateJWT(testJWTSecret, "admin", "admin@example.com")
		if err != nil {
			t.Fatalf("テスト用JWT生成に失敗: %v", err)
		}
		req := httptest.NewRequest(http.MethodGet, "/_gateway/access-log", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w = serve(s, req)
		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
		}
	})

	t.Run("アクセスログ無効時はエンドポイントが存在しないこと", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, newTestConfig(t, "http://localhost:3001"))
		w := serve(s, httptest.NewRequest(http.MethodGet, "/_gateway/access-log", nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}
