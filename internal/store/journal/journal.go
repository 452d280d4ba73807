// Package journal 用裸 database/sql + SQLite 实现 append-only 的引擎事件
// 流水。与 gormstore 分库：流水量大、只追加，不值得背 ORM 的开销。
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"strend/internal/gateway/database"
)

const schema = `
CREATE TABLE IF NOT EXISTS engine_events (
    id         TEXT PRIMARY KEY,
    kind       TEXT NOT NULL,
    symbol     TEXT NOT NULL DEFAULT '',
    payload    BLOB,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_engine_events_symbol_time ON engine_events(symbol, created_at);
CREATE INDEX IF NOT EXISTS idx_engine_events_time ON engine_events(created_at);
`

// SQLiteJournal 实现 database.Journal。
type SQLiteJournal struct {
	db *sql.DB
}

var _ database.Journal = (*SQLiteJournal)(nil)

func Open(path string) (*SQLiteJournal, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("journal: 数据库路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// 单写者即可，避免 SQLite 写锁冲突。
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: 初始化表失败: %w", err)
	}
	return &SQLiteJournal{db: db}, nil
}

func (j *SQLiteJournal) Append(ctx context.Context, entry database.JournalEntry) error {
	if j == nil || j.db == nil {
		return fmt.Errorf("journal 未初始化")
	}
	if strings.TrimSpace(entry.Kind) == "" {
		return fmt.Errorf("journal: kind 不能为空")
	}
	id := strings.TrimSpace(entry.ID)
	if id == "" {
		id = uuid.NewString()
	}
	ts := entry.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO engine_events (id, kind, symbol, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, entry.Kind, strings.ToUpper(strings.TrimSpace(entry.Symbol)), entry.Payload, ts.UnixMilli())
	return err
}

func (j *SQLiteJournal) ListRecent(ctx context.Context, symbol string, limit int) ([]database.JournalEntry, error) {
	if j == nil || j.db == nil {
		return nil, fmt.Errorf("journal 未初始化")
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var (
		rows *sql.Rows
		err  error
	)
	if sym := strings.ToUpper(strings.TrimSpace(symbol)); sym != "" {
		rows, err = j.db.QueryContext(ctx,
			`SELECT id, kind, symbol, payload, created_at FROM engine_events WHERE symbol = ? ORDER BY created_at DESC LIMIT ?`,
			sym, limit)
	} else {
		rows, err = j.db.QueryContext(ctx,
			`SELECT id, kind, symbol, payload, created_at FROM engine_events ORDER BY created_at DESC LIMIT ?`,
			limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]database.JournalEntry, 0, limit)
	for rows.Next() {
		var (
			entry database.JournalEntry
			ms    int64
		)
		if err := rows.Scan(&entry.ID, &entry.Kind, &entry.Symbol, &entry.Payload, &ms); err != nil {
			return nil, err
		}
		entry.CreatedAt = time.UnixMilli(ms)
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (j *SQLiteJournal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}
