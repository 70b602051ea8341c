package judgelog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store 持久化 AI 判定调用的完整往返，方便后续排查提示词与模型输出。
// 写入是尽力而为：落盘失败不应阻断决策链路，调用方只记日志。
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Record 代表一次模型判定调用。
type Record struct {
	ID         int64  `json:"id"`
	Timestamp  int64  `json:"ts"`
	SignalID   string `json:"signal_id"`
	Instrument string `json:"instrument"`
	ProviderID string `json:"provider_id"`
	System     string `json:"system_prompt"`
	User       string `json:"user_prompt"`
	RawOutput  string `json:"raw_output"`
	Approve    bool   `json:"approve"`
	Ambiguous  bool   `json:"ambiguous"`
	Error      string `json:"error,omitempty"`
	LatencyMs  int64  `json:"latency_ms"`
}

// Query 用于筛选调用记录。
type Query struct {
	SignalID   string
	Instrument string
	ProviderID string
	Limit      int
	Offset     int
}

// NewStore 初始化 SQLite 存储。
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("judge log path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS judge_calls (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			signal_id TEXT NOT NULL,
			instrument TEXT NOT NULL,
			provider_id TEXT NOT NULL,
			system_prompt TEXT,
			user_prompt TEXT,
			raw_output TEXT,
			approve INTEGER NOT NULL DEFAULT 0,
			ambiguous INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_judge_calls_signal ON judge_calls(signal_id, ts DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_judge_calls_instrument_ts ON judge_calls(instrument, ts DESC, id DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("judge log schema init failed: %w", err)
		}
	}
	return nil
}

// Insert 写入一条调用记录并返回自增 ID。
func (s *Store) Insert(ctx context.Context, rec Record) (int64, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return 0, fmt.Errorf("judge log store 未初始化")
	}
	ts := rec.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO judge_calls
			(ts, signal_id, instrument, provider_id, system_prompt, user_prompt,
			 raw_output, approve, ambiguous, error, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts,
		rec.SignalID,
		rec.Instrument,
		rec.ProviderID,
		rec.System,
		rec.User,
		rec.RawOutput,
		boolToInt(rec.Approve),
		boolToInt(rec.Ambiguous),
		rec.Error,
		rec.LatencyMs,
		time.Now().UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// List 按时间倒序返回满足条件的调用记录。
func (s *Store) List(ctx context.Context, q Query) ([]Record, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("judge log store 未初始化")
	}
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	where := " WHERE 1=1"
	args := make([]interface{}, 0, 5)
	if q.SignalID != "" {
		where += " AND signal_id = ?"
		args = append(args, q.SignalID)
	}
	if q.Instrument != "" {
		where += " AND instrument = ?"
		args = append(args, q.Instrument)
	}
	if q.ProviderID != "" {
		where += " AND provider_id = ?"
		args = append(args, q.ProviderID)
	}
	args = append(args, limit, offset)
	rows, err := db.QueryContext(ctx, `
		SELECT id, ts, signal_id, instrument, provider_id, system_prompt, user_prompt,
		       raw_output, approve, ambiguous, error, latency_ms
		FROM judge_calls`+where+` ORDER BY ts DESC, id DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Record
	for rows.Next() {
		var rec Record
		var approve, ambiguous int
		var errText sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.SignalID, &rec.Instrument,
			&rec.ProviderID, &rec.System, &rec.User, &rec.RawOutput,
			&approve, &ambiguous, &errText, &rec.LatencyMs); err != nil {
			return nil, err
		}
		rec.Approve = approve != 0
		rec.Ambiguous = ambiguous != 0
		rec.Error = errText.String
		list = append(list, rec)
	}
	return list, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
