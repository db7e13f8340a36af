// Package gormstore persists engine records through gorm, on sqlite by
// default or postgres when the DSN says so.
package gormstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"deltabot/internal/store"
	"deltabot/internal/types"
)

type GormStore struct {
	db *gorm.DB
}

var (
	_ store.Sink       = (*GormStore)(nil)
	_ store.PeakSource = (*GormStore)(nil)
)

func isPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Open connects to dsn. A postgres URL selects postgres; anything else is
// treated as a sqlite file path.
func Open(dsn string) (*GormStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("gorm store: dsn is required")
	}
	cfg := &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	}
	var (
		db  *gorm.DB
		err error
	)
	if isPostgres(dsn) {
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	} else {
		if err := ensureDir(dsn); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", dsn)), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("gorm store open: %w", err)
	}
	if err := db.AutoMigrate(&orderModel{}, &riskEventModel{}, &decisionModel{}, &positionSnapshotModel{}); err != nil {
		return nil, fmt.Errorf("gorm store migrate: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if !isPostgres(dsn) {
		// SQLite + WAL: one writer plus a reader for the status endpoints.
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type orderModel struct {
	ID              int64           `gorm:"column:id;primaryKey"`
	Token           string          `gorm:"column:token;uniqueIndex;size:64"`
	PositionID      string          `gorm:"column:position_id;index;size:64"`
	Symbol          string          `gorm:"column:symbol;size:32"`
	Kind            string          `gorm:"column:kind;size:16"`
	Side            string          `gorm:"column:side;size:8"`
	State           string          `gorm:"column:state;size:24"`
	StrategyID      string          `gorm:"column:strategy_id;size:64"`
	Quantity        decimal.Decimal `gorm:"column:quantity;type:numeric"`
	FilledQty       decimal.Decimal `gorm:"column:filled_qty;type:numeric"`
	AvgPrice        decimal.Decimal `gorm:"column:avg_price;type:numeric"`
	Fee             decimal.Decimal `gorm:"column:fee;type:numeric"`
	Attempts        int             `gorm:"column:attempts"`
	ExchangeOrderID string          `gorm:"column:exchange_order_id;size:64"`
	Duplicate       bool            `gorm:"column:duplicate"`
	Error           string          `gorm:"column:error"`
	CreatedAt       time.Time       `gorm:"column:created_at"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;index"`
}

func (orderModel) TableName() string { return "orders" }

type riskEventModel struct {
	ID            int64           `gorm:"column:id;primaryKey"`
	At            time.Time       `gorm:"column:at;index"`
	Cause         string          `gorm:"column:cause"`
	FromLevel     string          `gorm:"column:from_level;size:16"`
	ToLevel       string          `gorm:"column:to_level;size:16"`
	Halted        bool            `gorm:"column:halted"`
	HaltReason    string          `gorm:"column:halt_reason;size:48"`
	Equity        decimal.Decimal `gorm:"column:equity;type:numeric"`
	PeakEquity    decimal.Decimal `gorm:"column:peak_equity;type:numeric"`
	Drawdown      decimal.Decimal `gorm:"column:drawdown;type:numeric"`
	DailyRealized decimal.Decimal `gorm:"column:daily_realized;type:numeric"`
	Exposure      decimal.Decimal `gorm:"column:exposure;type:numeric"`
	OpenPositions int             `gorm:"column:open_positions"`
}

func (riskEventModel) TableName() string { return "risk_events" }

type decisionModel struct {
	ID         int64           `gorm:"column:id;primaryKey"`
	At         time.Time       `gorm:"column:at;index"`
	Symbol     string          `gorm:"column:symbol;size:32;index"`
	Direction  string          `gorm:"column:direction;size:8"`
	Kind       string          `gorm:"column:kind;size:16"`
	StrategyID string          `gorm:"column:strategy_id;size:64"`
	Strength   float64         `gorm:"column:strength"`
	Confidence float64         `gorm:"column:confidence"`
	Price      decimal.Decimal `gorm:"column:price;type:numeric"`
	Outcome    string          `gorm:"column:outcome;size:16"`
	Quantity   decimal.Decimal `gorm:"column:quantity;type:numeric"`
	Reason     string          `gorm:"column:reason;size:48"`
	Detail     string          `gorm:"column:detail"`
}

func (decisionModel) TableName() string { return "decisions" }

type positionSnapshotModel struct {
	ID        int64          `gorm:"column:id;primaryKey"`
	At        time.Time      `gorm:"column:at;index"`
	Count     int            `gorm:"column:count"`
	Positions datatypes.JSON `gorm:"column:positions"`
}

func (positionSnapshotModel) TableName() string { return "position_snapshots" }

// SaveOrder upserts by token: a resubmitted order replaces its failed row.
func (s *GormStore) SaveOrder(ctx context.Context, rec store.OrderRecord) error {
	m := orderModel{
		Token:           rec.Token,
		PositionID:      rec.PositionID,
		Symbol:          rec.Symbol,
		Kind:            rec.Kind,
		Side:            rec.Side,
		State:           rec.State,
		StrategyID:      rec.StrategyID,
		Quantity:        rec.Quantity,
		FilledQty:       rec.FilledQty,
		AvgPrice:        rec.AvgPrice,
		Fee:             rec.Fee,
		Attempts:        rec.Attempts,
		ExchangeOrderID: rec.ExchangeOrderID,
		Duplicate:       rec.Duplicate,
		Error:           rec.Error,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "token"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"position_id", "state", "quantity", "filled_qty", "avg_price", "fee",
				"attempts", "exchange_order_id", "duplicate", "error", "updated_at",
			}),
		}).
		Create(&m).Error
}

func (s *GormStore) SaveRiskEvent(ctx context.Context, rec store.RiskEventRecord) error {
	return s.db.WithContext(ctx).Create(&riskEventModel{
		At:            rec.At,
		Cause:         rec.Cause,
		FromLevel:     rec.FromLevel,
		ToLevel:       rec.ToLevel,
		Halted:        rec.Halted,
		HaltReason:    rec.HaltReason,
		Equity:        rec.Equity,
		PeakEquity:    rec.PeakEquity,
		Drawdown:      rec.Drawdown,
		DailyRealized: rec.DailyRealized,
		Exposure:      rec.Exposure,
		OpenPositions: rec.OpenPositions,
	}).Error
}

func (s *GormStore) SaveDecision(ctx context.Context, rec store.DecisionRecord) error {
	return s.db.WithContext(ctx).Create(&decisionModel{
		At:         rec.At,
		Symbol:     rec.Symbol,
		Direction:  rec.Direction,
		Kind:       rec.Kind,
		StrategyID: rec.StrategyID,
		Strength:   rec.Strength,
		Confidence: rec.Confidence,
		Price:      rec.Price,
		Outcome:    rec.Outcome,
		Quantity:   rec.Quantity,
		Reason:     rec.Reason,
		Detail:     rec.Detail,
	}).Error
}

func (s *GormStore) SavePositions(ctx context.Context, at time.Time, positions []types.PositionSnapshot) error {
	if positions == nil {
		positions = []types.PositionSnapshot{}
	}
	raw, err := json.Marshal(positions)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&positionSnapshotModel{
		At:        at,
		Count:     len(positions),
		Positions: datatypes.JSON(raw),
	}).Error
}

// PeakEquity returns the peak recorded with the latest risk event.
func (s *GormStore) PeakEquity(ctx context.Context) (decimal.Decimal, bool, error) {
	var m riskEventModel
	res := s.db.WithContext(ctx).Order("id desc").Limit(1).Find(&m)
	if res.Error != nil {
		return decimal.Zero, false, res.Error
	}
	if res.RowsAffected == 0 || !m.PeakEquity.IsPositive() {
		return decimal.Zero, false, nil
	}
	return m.PeakEquity, true, nil
}

// RecentOrders lists terminal orders, newest first.
func (s *GormStore) RecentOrders(ctx context.Context, limit int) ([]store.OrderRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var models []orderModel
	if err := s.db.WithContext(ctx).Order("updated_at desc, id desc").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.OrderRecord, 0, len(models))
	for _, m := range models {
		out = append(out, store.OrderRecord{
			Token:           m.Token,
			PositionID:      m.PositionID,
			Symbol:          m.Symbol,
			Kind:            m.Kind,
			Side:            m.Side,
			State:           m.State,
			StrategyID:      m.StrategyID,
			Quantity:        m.Quantity,
			FilledQty:       m.FilledQty,
			AvgPrice:        m.AvgPrice,
			Fee:             m.Fee,
			Attempts:        m.Attempts,
			ExchangeOrderID: m.ExchangeOrderID,
			Duplicate:       m.Duplicate,
			Error:           m.Error,
			CreatedAt:       m.CreatedAt,
			UpdatedAt:       m.UpdatedAt,
		})
	}
	return out, nil
}

// LatestPositions returns the most recent position snapshot.
func (s *GormStore) LatestPositions(ctx context.Context) ([]types.PositionSnapshot, time.Time, error) {
	var m positionSnapshotModel
	res := s.db.WithContext(ctx).Order("id desc").Limit(1).Find(&m)
	if res.Error != nil || res.RowsAffected == 0 {
		return nil, time.Time{}, res.Error
	}
	var out []types.PositionSnapshot
	if err := json.Unmarshal(m.Positions, &out); err != nil {
		return nil, time.Time{}, err
	}
	return out, m.At, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
