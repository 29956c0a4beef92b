// Package journal 把保护缺口与会话恢复记录落盘到 SQLite，供事后审计与
// ladder-audit 命令查询。写入失败只告警，绝不反向影响引擎决策。
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/betbot/ladderbot/internal/events"
)

type Journal struct {
	db *sql.DB
}

func Open(dbPath string) (*Journal, error) {
	if dbPath == "" {
		dbPath = filepath.Join("data", "ladder_journal.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) migrate() error {
	_, err := j.db.Exec(`
CREATE TABLE IF NOT EXISTS protection_gaps (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	account TEXT NOT NULL,
	symbol TEXT NOT NULL,
	client_tag TEXT NOT NULL,
	position_qty REAL NOT NULL,
	protected_qty REAL NOT NULL,
	uncovered_qty REAL NOT NULL,
	stop_order_ids TEXT,
	recorded_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS restored_sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	account TEXT NOT NULL,
	symbol TEXT NOT NULL,
	client_tag TEXT NOT NULL,
	mode TEXT NOT NULL,
	state TEXT NOT NULL,
	reason TEXT,
	position_qty REAL NOT NULL,
	protected_qty REAL NOT NULL,
	recorded_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS ladder_submissions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	account TEXT NOT NULL,
	symbol TEXT NOT NULL,
	client_tag TEXT NOT NULL,
	mode TEXT NOT NULL,
	qty INTEGER NOT NULL,
	recorded_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS run_summaries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	count_a INTEGER NOT NULL,
	count_b INTEGER NOT NULL,
	count_c INTEGER NOT NULL,
	recorded_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_gaps_symbol ON protection_gaps(symbol, recorded_at);
CREATE INDEX IF NOT EXISTS idx_restored_symbol ON restored_sessions(symbol, recorded_at);
`)
	return err
}

func (j *Journal) RecordLadderSubmitted(ctx context.Context, e *events.LadderSubmittedEvent) error {
	_, err := j.db.ExecContext(ctx, `
INSERT INTO ladder_submissions (account, symbol, client_tag, mode, qty, recorded_at)
VALUES (?,?,?,?,?,?)
`, e.Account, e.Symbol, e.ClientTag, string(e.Mode), e.Qty,
		e.Timestamp.Format(time.RFC3339Nano))
	return err
}

func (j *Journal) RecordGap(ctx context.Context, e *events.ProtectionGapEvent) error {
	ids, _ := json.Marshal(e.StopOrderIDs)
	_, err := j.db.ExecContext(ctx, `
INSERT INTO protection_gaps (account, symbol, client_tag, position_qty, protected_qty, uncovered_qty, stop_order_ids, recorded_at)
VALUES (?,?,?,?,?,?,?,?)
`, e.Account, e.Symbol, e.ClientTag, e.PositionQty, e.ProtectedQty, e.UncoveredQty, string(ids),
		e.Timestamp.Format(time.RFC3339Nano))
	return err
}

func (j *Journal) RecordRestoredSession(ctx context.Context, e *events.SessionRestoredEvent) error {
	_, err := j.db.ExecContext(ctx, `
INSERT INTO restored_sessions (account, symbol, client_tag, mode, state, reason, position_qty, protected_qty, recorded_at)
VALUES (?,?,?,?,?,?,?,?,?)
`, e.Account, e.Symbol, e.ClientTag, string(e.Mode), e.State, e.Reason, e.PositionQty, e.ProtectedQty,
		e.Timestamp.Format(time.RFC3339Nano))
	return err
}

func (j *Journal) RecordRunSummary(ctx context.Context, kind string, counts [3]int) error {
	_, err := j.db.ExecContext(ctx, `
INSERT INTO run_summaries (kind, count_a, count_b, count_c, recorded_at)
VALUES (?,?,?,?,?)
`, kind, counts[0], counts[1], counts[2], time.Now().Format(time.RFC3339Nano))
	return err
}

// SubmissionRecord 一条阶梯订单提交审计记录
type SubmissionRecord struct {
	ID         int64
	Account    string
	Symbol     string
	ClientTag  string
	Mode       string
	Qty        int
	RecordedAt time.Time
}

func (j *Journal) ListSubmissions(ctx context.Context, limit int) ([]SubmissionRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, account, symbol, client_tag, mode, qty, recorded_at
FROM ladder_submissions
ORDER BY recorded_at DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SubmissionRecord
	for rows.Next() {
		var (
			s          SubmissionRecord
			recordedAt string
		)
		if err := rows.Scan(&s.ID, &s.Account, &s.Symbol, &s.ClientTag, &s.Mode, &s.Qty, &recordedAt); err != nil {
			return nil, err
		}
		s.RecordedAt, _ = time.Parse(time.RFC3339Nano, recordedAt)
		out = append(out, s)
	}
	return out, rows.Err()
}

// GapRecord 一条缺口审计记录
type GapRecord struct {
	ID           int64
	Account      string
	Symbol       string
	ClientTag    string
	PositionQty  float64
	ProtectedQty float64
	UncoveredQty float64
	StopOrderIDs []int64
	RecordedAt   time.Time
}

// ListGaps 按时间倒序返回最近的缺口记录（ladder-audit 用）
func (j *Journal) ListGaps(ctx context.Context, limit int) ([]GapRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, account, symbol, client_tag, position_qty, protected_qty, uncovered_qty, stop_order_ids, recorded_at
FROM protection_gaps
ORDER BY recorded_at DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GapRecord
	for rows.Next() {
		var (
			g          GapRecord
			idsJSON    sql.NullString
			recordedAt string
		)
		if err := rows.Scan(&g.ID, &g.Account, &g.Symbol, &g.ClientTag, &g.PositionQty, &g.ProtectedQty, &g.UncoveredQty, &idsJSON, &recordedAt); err != nil {
			return nil, err
		}
		if idsJSON.Valid {
			_ = json.Unmarshal([]byte(idsJSON.String), &g.StopOrderIDs)
		}
		g.RecordedAt, _ = time.Parse(time.RFC3339Nano, recordedAt)
		out = append(out, g)
	}
	return out, rows.Err()
}

// RestoredRecord 一条会话恢复审计记录
type RestoredRecord struct {
	ID           int64
	Account      string
	Symbol       string
	ClientTag    string
	Mode         string
	State        string
	Reason       string
	PositionQty  float64
	ProtectedQty float64
	RecordedAt   time.Time
}

func (j *Journal) ListRestoredSessions(ctx context.Context, limit int) ([]RestoredRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, account, symbol, client_tag, mode, state, reason, position_qty, protected_qty, recorded_at
FROM restored_sessions
ORDER BY recorded_at DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RestoredRecord
	for rows.Next() {
		var (
			r          RestoredRecord
			reason     sql.NullString
			recordedAt string
		)
		if err := rows.Scan(&r.ID, &r.Account, &r.Symbol, &r.ClientTag, &r.Mode, &r.State, &reason, &r.PositionQty, &r.ProtectedQty, &recordedAt); err != nil {
			return nil, err
		}
		if reason.Valid {
			r.Reason = reason.String
		}
		r.RecordedAt, _ = time.Parse(time.RFC3339Nano, recordedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}
