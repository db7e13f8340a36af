package journal

import (
	"database/sql"
	"fmt"
	"strings"
)

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS decisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			direction TEXT,
			kind TEXT,
			strategy_id TEXT,
			strength REAL DEFAULT 0,
			confidence REAL DEFAULT 0,
			price TEXT,
			outcome TEXT,
			quantity TEXT,
			reason TEXT,
			detail TEXT,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_symbol_ts ON decisions(symbol, ts DESC, id DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_outcome ON decisions(outcome);`,
		`CREATE TABLE IF NOT EXISTS orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			token TEXT NOT NULL UNIQUE,
			position_id TEXT,
			symbol TEXT NOT NULL,
			kind TEXT,
			side TEXT,
			state TEXT,
			strategy_id TEXT,
			quantity TEXT,
			filled_qty TEXT,
			avg_price TEXT,
			fee TEXT,
			attempts INTEGER DEFAULT 0,
			exchange_order_id TEXT,
			duplicate INTEGER DEFAULT 0,
			error TEXT,
			created_at INTEGER,
			updated_at INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_symbol_state ON orders(symbol, state);`,
		`CREATE TABLE IF NOT EXISTS risk_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			cause TEXT,
			from_level TEXT,
			to_level TEXT,
			halted INTEGER DEFAULT 0,
			halt_reason TEXT,
			equity TEXT,
			peak_equity TEXT,
			drawdown TEXT,
			daily_realized TEXT,
			exposure TEXT,
			open_positions INTEGER DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS position_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			count INTEGER DEFAULT 0,
			positions_json TEXT
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("journal migrate: %w", err)
		}
	}
	// columns added after the first release
	cols := []struct {
		table, column, typ string
	}{
		{"orders", "duplicate", "INTEGER DEFAULT 0"},
		{"risk_events", "exposure", "TEXT"},
	}
	for _, c := range cols {
		if err := addColumnIfMissing(db, c.table, c.column, c.typ); err != nil {
			return err
		}
	}
	return nil
}

func addColumnIfMissing(db *sql.DB, table, column, typ string) error {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return err
	}
	exists := false
	for rows.Next() {
		var (
			cid, notnull, pk int
			name, ctype      string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			rows.Close()
			return err
		}
		if strings.EqualFold(name, column) {
			exists = true
			break
		}
	}
	rows.Close()
	if exists {
		return nil
	}
	_, err = db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, typ))
	return err
}
