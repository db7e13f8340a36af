// Package journal keeps an append-only sqlite journal of signals, risk
// verdicts, orders and risk transitions for later inspection.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"deltabot/internal/store"
	"deltabot/internal/types"

	_ "modernc.org/sqlite"
)

type Journal struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	ownsDB bool
}

var (
	_ store.Sink       = (*Journal)(nil)
	_ store.PeakSource = (*Journal)(nil)
)

// Open creates or opens the journal database at path.
func Open(path string) (*Journal, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("journal path cannot be empty")
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
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db, path: path, ownsDB: true}, nil
}

// UseExternalDB lets the journal share a handle owned elsewhere.
func (j *Journal) UseExternalDB(db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("journal: nil db")
	}
	if err := migrate(db); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.ownsDB && j.db != nil {
		_ = j.db.Close()
	}
	j.db = db
	j.ownsDB = false
	return nil
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return nil
	}
	var err error
	if j.ownsDB {
		err = j.db.Close()
	}
	j.db = nil
	return err
}

func (j *Journal) handle() (*sql.DB, error) {
	j.mu.Lock()
	db := j.db
	j.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("journal is closed")
	}
	return db, nil
}

func (j *Journal) SaveDecision(ctx context.Context, rec store.DecisionRecord) error {
	db, err := j.handle()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO decisions
			(ts, symbol, direction, kind, strategy_id, strength, confidence, price, outcome, quantity, reason, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		millis(rec.At), rec.Symbol, rec.Direction, rec.Kind, rec.StrategyID,
		rec.Strength, rec.Confidence, rec.Price.String(), rec.Outcome, rec.Quantity.String(),
		rec.Reason, rec.Detail, time.Now().UnixMilli(),
	)
	return err
}

// SaveOrder keeps one row per token; later states overwrite earlier ones.
func (j *Journal) SaveOrder(ctx context.Context, rec store.OrderRecord) error {
	db, err := j.handle()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO orders
			(token, position_id, symbol, kind, side, state, strategy_id, quantity, filled_qty, avg_price, fee,
			 attempts, exchange_order_id, duplicate, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(token) DO UPDATE SET
			position_id = excluded.position_id,
			state = excluded.state,
			quantity = excluded.quantity,
			filled_qty = excluded.filled_qty,
			avg_price = excluded.avg_price,
			fee = excluded.fee,
			attempts = excluded.attempts,
			exchange_order_id = excluded.exchange_order_id,
			duplicate = excluded.duplicate,
			error = excluded.error,
			updated_at = excluded.updated_at`,
		rec.Token, rec.PositionID, rec.Symbol, rec.Kind, rec.Side, rec.State, rec.StrategyID,
		rec.Quantity.String(), rec.FilledQty.String(), rec.AvgPrice.String(), rec.Fee.String(),
		rec.Attempts, rec.ExchangeOrderID, boolToInt(rec.Duplicate), rec.Error,
		millis(rec.CreatedAt), millis(rec.UpdatedAt),
	)
	return err
}

func (j *Journal) SaveRiskEvent(ctx context.Context, rec store.RiskEventRecord) error {
	db, err := j.handle()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO risk_events
			(ts, cause, from_level, to_level, halted, halt_reason, equity, peak_equity, drawdown,
			 daily_realized, exposure, open_positions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		millis(rec.At), rec.Cause, rec.FromLevel, rec.ToLevel, boolToInt(rec.Halted), rec.HaltReason,
		rec.Equity.String(), rec.PeakEquity.String(), rec.Drawdown.String(),
		rec.DailyRealized.String(), rec.Exposure.String(), rec.OpenPositions,
	)
	return err
}

func (j *Journal) SavePositions(ctx context.Context, at time.Time, positions []types.PositionSnapshot) error {
	db, err := j.handle()
	if err != nil {
		return err
	}
	if positions == nil {
		positions = []types.PositionSnapshot{}
	}
	raw, err := json.Marshal(positions)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `INSERT INTO position_snapshots (ts, count, positions_json) VALUES (?, ?, ?)`,
		millis(at), len(positions), string(raw))
	return err
}

func (j *Journal) PeakEquity(ctx context.Context) (decimal.Decimal, bool, error) {
	db, err := j.handle()
	if err != nil {
		return decimal.Zero, false, err
	}
	var raw string
	err = db.QueryRowContext(ctx, `SELECT peak_equity FROM risk_events ORDER BY id DESC LIMIT 1`).Scan(&raw)
	if err == sql.ErrNoRows {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	peak, err := decimal.NewFromString(raw)
	if err != nil || !peak.IsPositive() {
		return decimal.Zero, false, err
	}
	return peak, true, nil
}

// Query filters journal decisions. Empty fields match everything.
type Query struct {
	Symbol  string
	Outcome string
	Since   time.Time
	Limit   int
	Offset  int
}

func (q Query) where() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if s := strings.ToUpper(strings.TrimSpace(q.Symbol)); s != "" {
		clauses = append(clauses, "symbol = ?")
		args = append(args, s)
	}
	if o := strings.TrimSpace(q.Outcome); o != "" {
		clauses = append(clauses, "outcome = ?")
		args = append(args, o)
	}
	if !q.Since.IsZero() {
		clauses = append(clauses, "ts >= ?")
		args = append(args, q.Since.UnixMilli())
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ListDecisions returns the newest matching decisions first.
func (j *Journal) ListDecisions(ctx context.Context, q Query) ([]store.DecisionRecord, error) {
	db, err := j.handle()
	if err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	filter, args := q.where()
	args = append(args, limit, offset)
	rows, err := db.QueryContext(ctx, `SELECT ts, symbol, direction, kind, strategy_id, strength, confidence,
		price, outcome, quantity, reason, detail FROM decisions`+filter+` ORDER BY ts DESC, id DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []store.DecisionRecord
	for rows.Next() {
		var (
			rec        store.DecisionRecord
			ts         int64
			price, qty string
		)
		if err := rows.Scan(&ts, &rec.Symbol, &rec.Direction, &rec.Kind, &rec.StrategyID, &rec.Strength,
			&rec.Confidence, &price, &rec.Outcome, &qty, &rec.Reason, &rec.Detail); err != nil {
			return nil, err
		}
		rec.At = time.UnixMilli(ts).UTC()
		rec.Price = parseDecimal(price)
		rec.Quantity = parseDecimal(qty)
		list = append(list, rec)
	}
	return list, rows.Err()
}

func (j *Journal) CountDecisions(ctx context.Context, q Query) (int, error) {
	db, err := j.handle()
	if err != nil {
		return 0, err
	}
	filter, args := q.where()
	var n int
	err = db.QueryRowContext(ctx, `SELECT COUNT(1) FROM decisions`+filter, args...).Scan(&n)
	return n, err
}

// OrderState returns the journaled state of token, or "" when unknown.
func (j *Journal) OrderState(ctx context.Context, token string) (string, error) {
	db, err := j.handle()
	if err != nil {
		return "", err
	}
	var state string
	err = db.QueryRowContext(ctx, `SELECT state FROM orders WHERE token = ?`, token).Scan(&state)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return state, err
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return time.Now().UnixMilli()
	}
	return t.UnixMilli()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
