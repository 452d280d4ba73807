package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"strend/internal/gateway/database"
)

// GormStore 用 gorm+SQLite 落地持仓行、成交审计与权益快照。
type GormStore struct {
	db *gorm.DB
}

var (
	_ database.PositionStore = (*GormStore)(nil)
	_ database.TradeStore    = (*GormStore)(nil)
	_ database.EquityStore   = (*GormStore)(nil)
)

func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 数据库路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&positionModel{}, &tradeModel{}, &equityModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL：给并发的 HTTP 读留一点余量，同时压低锁竞争。
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
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

// --------------------- PositionStore -------------------------

func (s *GormStore) UpsertPosition(ctx context.Context, rec database.PositionRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	symbol := strings.ToUpper(strings.TrimSpace(rec.Symbol))
	if symbol == "" {
		return fmt.Errorf("position 行缺 symbol")
	}
	model := positionModel{
		PositionID:   strings.TrimSpace(rec.ID),
		Symbol:       symbol,
		Side:         strings.ToLower(strings.TrimSpace(rec.Side)),
		Quantity:     rec.Quantity,
		EntryTime:    rec.EntryTime.UTC().Format(time.RFC3339),
		EntryPrice:   rec.EntryPrice,
		StopLoss:     rec.StopLoss,
		TakeProfit:   rec.TakeProfit,
		TrailingStop: rec.TrailingStop,
		Strategy:     strings.TrimSpace(rec.Strategy),
		Status:       rec.Status,
		UpdatedAt:    time.Now().UnixMilli(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "symbol"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"position_id", "side", "quantity", "entry_time", "entry_price",
				"stop_loss", "take_profit", "trailing_stop", "strategy", "status", "updated_at",
			}),
		}).
		Create(&model).Error
}

func (s *GormStore) DeletePosition(ctx context.Context, symbol string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	return s.db.WithContext(ctx).Where("symbol = ?", symbol).Delete(&positionModel{}).Error
}

func (s *GormStore) ListPositions(ctx context.Context) ([]database.PositionRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	var models []positionModel
	if err := s.db.WithContext(ctx).Order("symbol ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]database.PositionRecord, 0, len(models))
	for _, m := range models {
		rec := database.PositionRecord{
			ID:           m.PositionID,
			Symbol:       m.Symbol,
			Side:         m.Side,
			Quantity:     m.Quantity,
			EntryPrice:   m.EntryPrice,
			StopLoss:     m.StopLoss,
			TakeProfit:   m.TakeProfit,
			TrailingStop: m.TrailingStop,
			Strategy:     m.Strategy,
			Status:       m.Status,
		}
		if ts, err := time.Parse(time.RFC3339, m.EntryTime); err == nil {
			rec.EntryTime = ts
		}
		out = append(out, rec)
	}
	return out, nil
}

// --------------------- TradeStore -------------------------

func (s *GormStore) AppendTrade(ctx context.Context, rec database.TradeRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	extra := datatypes.JSON([]byte("{}"))
	if len(rec.Extra) > 0 {
		if raw, err := json.Marshal(rec.Extra); err == nil {
			extra = datatypes.JSON(raw)
		}
	}
	model := tradeModel{
		PositionID: strings.TrimSpace(rec.PositionID),
		Symbol:     strings.ToUpper(strings.TrimSpace(rec.Symbol)),
		Side:       strings.ToLower(strings.TrimSpace(rec.Side)),
		Quantity:   rec.Quantity,
		EntryTime:  rec.EntryTime.UTC().Format(time.RFC3339),
		EntryPrice: rec.EntryPrice,
		ExitTime:   rec.ExitTime.UTC().Format(time.RFC3339),
		ExitPrice:  rec.ExitPrice,
		ExitReason: strings.TrimSpace(rec.ExitReason),
		Strategy:   strings.TrimSpace(rec.Strategy),
		Extra:      extra,
		CreatedAt:  time.Now().UnixMilli(),
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

func (s *GormStore) ListRecentTrades(ctx context.Context, symbol string, limit int) ([]database.TradeRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := s.db.WithContext(ctx).Model(&tradeModel{})
	if sym := strings.ToUpper(strings.TrimSpace(symbol)); sym != "" {
		query = query.Where("symbol = ?", sym)
	}
	var models []tradeModel
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]database.TradeRecord, 0, len(models))
	for _, m := range models {
		rec := database.TradeRecord{
			PositionID: m.PositionID,
			Symbol:     m.Symbol,
			Side:       m.Side,
			Quantity:   m.Quantity,
			EntryPrice: m.EntryPrice,
			ExitPrice:  m.ExitPrice,
			ExitReason: m.ExitReason,
			Strategy:   m.Strategy,
		}
		if ts, err := time.Parse(time.RFC3339, m.EntryTime); err == nil {
			rec.EntryTime = ts
		}
		if ts, err := time.Parse(time.RFC3339, m.ExitTime); err == nil {
			rec.ExitTime = ts
		}
		if len(m.Extra) > 0 {
			_ = json.Unmarshal(m.Extra, &rec.Extra)
		}
		out = append(out, rec)
	}
	return out, nil
}

// --------------------- EquityStore -------------------------

func (s *GormStore) AppendEquitySnapshot(ctx context.Context, rec database.EquitySnapshotRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	model := equityModel{
		Equity:    rec.Equity,
		Balance:   rec.Balance,
		Drawdown:  rec.Drawdown,
		Halted:    boolToInt(rec.Halted),
		Timestamp: ts.UnixMilli(),
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

func (s *GormStore) ListEquitySnapshots(ctx context.Context, since time.Time, limit int) ([]database.EquitySnapshotRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	if limit <= 0 || limit > 2000 {
		limit = 500
	}
	query := s.db.WithContext(ctx).Model(&equityModel{}).Order("timestamp DESC").Limit(limit)
	if !since.IsZero() {
		query = query.Where("timestamp > ?", since.UnixMilli())
	}
	var models []equityModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]database.EquitySnapshotRecord, 0, len(models))
	for _, m := range models {
		out = append(out, database.EquitySnapshotRecord{
			Equity:    m.Equity,
			Balance:   m.Balance,
			Drawdown:  m.Drawdown,
			Halted:    m.Halted != 0,
			Timestamp: time.UnixMilli(m.Timestamp),
		})
	}
	return out, nil
}

// IsNotFound 供调用方统一判断空结果。
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
