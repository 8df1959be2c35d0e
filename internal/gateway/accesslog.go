package gateway

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nao1215/learnhub/pkg/migration"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// accessLogBuffer は書き込み待ちのアクセスログの最大件数。
// 溢れた分は破棄し、リクエスト処理を待たせない。
const accessLogBuffer = 1024

// AccessLogEntry はGatewayが処理したリクエスト1件の記録。
type AccessLogEntry struct {
	ID        int64     `json:"id"`
	RequestID string    `json:"request_id"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	Service   string    `json:"service"`
	Status    int       `json:"status"`
	Outcome   string    `json:"outcome"`
	LatencyMS int64     `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// AccessLog はアクセスログをSQLiteへ非同期に書き込む。
type AccessLog struct {
	db      *sql.DB
	entries chan AccessLogEntry
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// OpenAccessLog はSQLiteデータベースを開いてマイグレーションを適用し、書き込みワーカーを起動する。
func OpenAccessLog(ctx context.Context, dsn string) (*AccessLog, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	// 書き込みは常に1本のワーカーから行う。":memory:" でも同じDBを参照させるため1接続に制限する
	db.SetMaxOpenConns(1)

	if _, err := migration.Run(ctx, db, migrationsFS, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	a := &AccessLog{
		db:      db,
		entries: make(chan AccessLogEntry, accessLogBuffer),
		done:    make(chan struct{}),
	}
	go a.run()
	return a, nil
}

// Record はアクセスログの書き込みを予約する。バッファが一杯の場合は破棄する。
func (a *AccessLog) Record(e AccessLogEntry) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.entries <- e:
	default:
		log.Printf("[AccessLog] バッファが一杯のため破棄しました: request_id=%s", e.RequestID)
	}
}

// run はチャネルが閉じられるまでアクセスログを書き込み続ける。
func (a *AccessLog) run() {
	defer close(a.done)
	for e := range a.entries {
		if err := a.insert(context.Background(), e); err != nil {
			log.Printf("[AccessLog] 書き込みに失敗: request_id=%s, error=%v", e.RequestID, err)
		}
	}
}

func (a *AccessLog) insert(ctx context.Context, e AccessLogEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO access_log (request_id, method, path, service, status, outcome, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.Method, e.Path, e.Service, e.Status, e.Outcome, e.LatencyMS, e.CreatedAt.UnixMilli(),
	)
	return err
}

// Recent は新しい順に最大 limit 件のアクセスログを返す。
func (a *AccessLog) Recent(ctx context.Context, limit int) ([]AccessLogEntry, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, request_id, method, path, service, status, outcome, latency_ms, created_at
		FROM access_log
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("アクセスログの取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]AccessLogEntry, 0, limit)
	for rows.Next() {
		var (
			e         AccessLogEntry
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Method, &e.Path, &e.Service, &e.Status, &e.Outcome, &e.LatencyMS, &createdAt); err != nil {
			return nil, fmt.Errorf("アクセスログの読み取りに失敗: %w", err)
		}
		e.CreatedAt = time.UnixMilli(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close は書き込み待ちのログをすべて書き込んでからデータベースを閉じる。
func (a *AccessLog) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.entries)
	a.mu.Unlock()

	<-a.done
	return a.db.Close()
}
