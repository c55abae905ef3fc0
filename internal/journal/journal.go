// Package journal 将分发结果写入 sqlite 表
package journal

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/betbot/gocopy/internal/domain"
)

// Entry 一条已存储的结果
type Entry struct {
	ID         string          `json:"id"`
	EventID    string          `json:"eventId"`
	Step       int             `json:"step"`
	Kind       string          `json:"kind"`
	Action     string          `json:"action"`
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"`
	FollowerID string          `json:"followerId"`
	OK         bool            `json:"ok"`
	Skipped    bool            `json:"skipped"`
	HTTPStatus int             `json:"httpStatus"`
	OrderID    string          `json:"orderId,omitempty"`
	Quantity   decimal.Decimal `json:"quantity"`
	Reason     string          `json:"reason,omitempty"`
	Error      string          `json:"error,omitempty"`
	ElapsedMs  int64           `json:"elapsedMs"`
	CreatedAt  time.Time       `json:"createdAt"`
}

type Journal struct {
	db *sql.DB
}

// Open 打开或创建 path 处的日志库，":memory:" 为内存库
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "mkdir journal dir")
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// 单连接：sqlite 写入本就串行，且 :memory: 库按连接隔离
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS dispatch_outcomes (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  step INTEGER NOT NULL,
  kind TEXT NOT NULL,
  action TEXT NOT NULL,
  symbol TEXT NOT NULL,
  side TEXT NOT NULL,
  follower_id TEXT NOT NULL,
  ok INTEGER NOT NULL,
  skipped INTEGER NOT NULL DEFAULT 0,
  http_status INTEGER NOT NULL DEFAULT 0,
  order_id TEXT,
  quantity TEXT NOT NULL,
  reason TEXT,
  error TEXT,
  elapsed_ms INTEGER NOT NULL,
  created_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_dispatch_outcomes_created ON dispatch_outcomes(created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_dispatch_outcomes_follower ON dispatch_outcomes(follower_id, created_at);`,
	}
	for _, st := range stmts {
		if _, err := j.db.ExecContext(ctx, st); err != nil {
			return errors.Wrapf(err, "migrate: %s", strings.TrimSpace(st))
		}
	}
	return nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Record 在一个事务中写入报告的所有结果
func (j *Journal) Record(ctx context.Context, r domain.DispatchReport) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO dispatch_outcomes
  (id, event_id, step, kind, action, symbol, side, follower_id, ok, skipped, http_status, order_id, quantity, reason, error, elapsed_ms, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare")
	}
	defer stmt.Close()

	at := r.At.UTC().Format(time.RFC3339Nano)
	for i, step := range r.Steps {
		for _, o := range step.Outcomes {
			_, err := stmt.ExecContext(ctx,
				uuid.NewString(), r.EventID, i, string(r.Event.Kind), string(step.Action.Kind),
				step.Action.Symbol, string(step.Action.Side), o.FollowerID,
				boolInt(o.OK), boolInt(o.Skipped), o.HTTPStatus, o.OrderID, o.Quantity.String(),
				o.Reason, o.Error, o.Elapsed.Milliseconds(), at,
			)
			if err != nil {
				return errors.Wrap(err, "insert outcome")
			}
		}
	}
	return errors.Wrap(tx.Commit(), "commit")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Recent 返回最近 limit 条记录，可按跟单账户过滤
func (j *Journal) Recent(ctx context.Context, followerID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	q := `
SELECT id, event_id, step, kind, action, symbol, side, follower_id, ok, skipped, http_status,
       COALESCE(order_id, ''), quantity, COALESCE(reason, ''), COALESCE(error, ''), elapsed_ms, created_at
FROM dispatch_outcomes`
	args := []any{}
	if followerID != "" {
		q += ` WHERE follower_id = ?`
		args = append(args, followerID)
	}
	q += ` ORDER BY created_at DESC, event_id, step, follower_id LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query outcomes")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e           Entry
			ok, skipped int
			qty, at     string
		)
		if err := rows.Scan(&e.ID, &e.EventID, &e.Step, &e.Kind, &e.Action, &e.Symbol, &e.Side, &e.FollowerID,
			&ok, &skipped, &e.HTTPStatus, &e.OrderID, &qty, &e.Reason, &e.Error, &e.ElapsedMs, &at); err != nil {
			return nil, errors.Wrap(err, "scan outcome")
		}
		e.OK, e.Skipped = ok == 1, skipped == 1
		e.Quantity, _ = decimal.NewFromString(qty)
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "rows")
}

// Stats 按跟单账户统计结果
type Stats struct {
	FollowerID string `json:"followerId"`
	OK         int    `json:"ok"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
}

func (j *Journal) Stats(ctx context.Context) ([]Stats, error) {
	rows, err := j.db.QueryContext(ctx, `
SELECT follower_id,
       SUM(CASE WHEN ok = 1 THEN 1 ELSE 0 END),
       SUM(CASE WHEN ok = 0 AND skipped = 0 THEN 1 ELSE 0 END),
       SUM(CASE WHEN skipped = 1 THEN 1 ELSE 0 END)
FROM dispatch_outcomes GROUP BY follower_id ORDER BY follower_id`)
	if err != nil {
		return nil, errors.Wrap(err, "query stats")
	}
	defer rows.Close()
	var out []Stats
	for rows.Next() {
		var s Stats
		if err := rows.Scan(&s.FollowerID, &s.OK, &s.Failed, &s.Skipped); err != nil {
			return nil, errors.Wrap(err, "scan stats")
		}
		out = append(out, s)
	}
	return out, errors.Wrap(rows.Err(), "rows")
}
