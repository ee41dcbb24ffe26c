package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"drcrypt.com/internal/quotes/model"
	"drcrypt.com/internal/quotes/storage"
)

// PriceRow 对应 prices 表；(symbol, ts_ms) 联合索引支撑倒序 + limit
type PriceRow struct {
	ID     uint64          `gorm:"primaryKey;autoIncrement"`
	Symbol string          `gorm:"size:32;not null;index:idx_symbol_ts,priority:1"`
	Price  decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	TsMs   int64           `gorm:"not null;index:idx_symbol_ts,priority:2"`
}

func (PriceRow) TableName() string { return "prices" }

type Store struct {
	db        *gorm.DB
	batchSize int
}

func New(db *gorm.DB) *Store {
	return &Store{db: db, batchSize: 500}
}

// Migrate 建表 + 索引
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&PriceRow{})
}

func (s *Store) Write(ctx context.Context, ticks []model.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	rows := make([]PriceRow, 0, len(ticks))
	for _, t := range ticks {
		rows = append(rows, PriceRow{Symbol: t.Symbol, Price: t.Price, TsMs: t.UnixMs()})
	}
	if err := s.db.WithContext(ctx).CreateInBatches(rows, s.batchSize).Error; err != nil {
		return fmt.Errorf("insert %d prices: %w", len(rows), err)
	}
	return nil
}

func (s *Store) Recent(ctx context.Context, symbol string, limit int) ([]model.Tick, error) {
	if limit <= 0 {
		return nil, nil
	}
	var rows []PriceRow
	err := s.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("ts_ms DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query prices %s: %w", symbol, err)
	}

	out := make([]model.Tick, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Tick{Symbol: r.Symbol, Price: r.Price, Time: time.UnixMilli(r.TsMs).UTC()})
	}
	return out, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ storage.Store = (*Store)(nil)
