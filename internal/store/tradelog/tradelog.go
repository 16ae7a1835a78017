// Package tradelog 把已完成交易归档进 SQLite，作为 Redis 之外的
// 长期留存。路径为空时整体停用。
package tradelog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/liliangjiep/nofv/internal/tracker"
)

type completedTradeModel struct {
	ID      uint   `gorm:"primaryKey;autoIncrement"`
	TradeID string `gorm:"column:trade_id;size:64;index"`
	Symbol  string `gorm:"size:32;index"`
	Side    string `gorm:"size:8"`

	EntryPrice float64
	EntryTime  int64
	EntryType  string `gorm:"size:16"`
	ExitPrice  float64
	ExitTime   int64 `gorm:"index"`
	ExitType   string `gorm:"size:16"`
	Quantity   float64
	Leverage   int

	NetPnL      float64 `gorm:"column:net_pnl"`
	NetProfit   float64
	PnLPct      float64 `gorm:"column:pnl_pct"`
	PeakPnL     float64 `gorm:"column:peak_pnl"`
	MaxDrawdown float64

	EntryFee float64
	ExitFee  float64
	TotalFee float64

	HoldSeconds int64
	HoldMinutes int64

	Status string `gorm:"size:24;index"`
}

func (completedTradeModel) TableName() string { return "completed_trades" }

// Archive SQLite 归档存储。
type Archive struct {
	db *gorm.DB
}

func Open(path string) (*Archive, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("tradelog: 归档路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&completedTradeModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Archive{db: db}, nil
}

func (a *Archive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Append 追加一条已完成交易。
func (a *Archive) Append(ctx context.Context, trade tracker.CompletedTrade) error {
	row := toModel(trade)
	return a.db.WithContext(ctx).Create(&row).Error
}

// Recent 按平仓时间倒序返回最近 limit 条。
func (a *Archive) Recent(ctx context.Context, limit int) ([]tracker.CompletedTrade, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []completedTradeModel
	err := a.db.WithContext(ctx).
		Order("exit_time DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]tracker.CompletedTrade, len(rows))
	for i, row := range rows {
		out[i] = fromModel(row)
	}
	return out, nil
}

func toModel(t tracker.CompletedTrade) completedTradeModel {
	return completedTradeModel{
		TradeID:     t.TradeID,
		Symbol:      t.Symbol,
		Side:        t.Side,
		EntryPrice:  t.EntryPrice,
		EntryTime:   t.EntryTime,
		EntryType:   t.EntryType,
		ExitPrice:   t.ExitPrice,
		ExitTime:    t.ExitTime,
		ExitType:    t.ExitType,
		Quantity:    t.Quantity,
		Leverage:    t.Leverage,
		NetPnL:      t.NetPnL,
		NetProfit:   t.NetProfit,
		PnLPct:      t.PnLPct,
		PeakPnL:     t.PeakPnL,
		MaxDrawdown: t.MaxDrawdown,
		EntryFee:    t.EntryFee,
		ExitFee:     t.ExitFee,
		TotalFee:    t.TotalFee,
		HoldSeconds: t.HoldSeconds,
		HoldMinutes: t.HoldMinutes,
		Status:      t.Status,
	}
}

func fromModel(m completedTradeModel) tracker.CompletedTrade {
	return tracker.CompletedTrade{
		TradeID:     m.TradeID,
		Symbol:      m.Symbol,
		Side:        m.Side,
		EntryPrice:  m.EntryPrice,
		EntryTime:   m.EntryTime,
		EntryType:   m.EntryType,
		ExitPrice:   m.ExitPrice,
		ExitTime:    m.ExitTime,
		ExitType:    m.ExitType,
		Quantity:    m.Quantity,
		Leverage:    m.Leverage,
		NetPnL:      m.NetPnL,
		NetProfit:   m.NetProfit,
		PnLPct:      m.PnLPct,
		PeakPnL:     m.PeakPnL,
		MaxDrawdown: m.MaxDrawdown,
		EntryFee:    m.EntryFee,
		ExitFee:     m.ExitFee,
		TotalFee:    m.TotalFee,
		HoldSeconds: m.HoldSeconds,
		HoldMinutes: m.HoldMinutes,
		Status:      m.Status,
	}
}
