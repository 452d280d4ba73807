package gormstore

import "gorm.io/datatypes"

// positionModel 每个 symbol 最多一行，平仓即删。
type positionModel struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	PositionID   string `gorm:"size:64;index"`
	Symbol       string `gorm:"size:32;uniqueIndex"`
	Side         string `gorm:"size:8"`
	Quantity     float64
	EntryTime    string `gorm:"size:40"`
	EntryPrice   float64
	StopLoss     float64
	TakeProfit   float64
	TrailingStop float64
	Strategy     string `gorm:"size:32"`
	Status       int
	UpdatedAt    int64 `gorm:"index"`
}

func (positionModel) TableName() string { return "positions" }

// tradeModel 只追加的平仓审计行。
type tradeModel struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	PositionID string `gorm:"size:64;index"`
	Symbol     string `gorm:"size:32;index"`
	Side       string `gorm:"size:8"`
	Quantity   float64
	EntryTime  string `gorm:"size:40"`
	EntryPrice float64
	ExitTime   string `gorm:"size:40"`
	ExitPrice  float64
	ExitReason string `gorm:"size:32"`
	Strategy   string `gorm:"size:32"`
	Extra      datatypes.JSON
	CreatedAt  int64 `gorm:"index"`
}

func (tradeModel) TableName() string { return "trades" }

type equityModel struct {
	ID        uint `gorm:"primaryKey;autoIncrement"`
	Equity    float64
	Balance   float64
	Drawdown  float64
	Halted    int
	Timestamp int64 `gorm:"index"`
}

func (equityModel) TableName() string { return "equity_snapshots" }
