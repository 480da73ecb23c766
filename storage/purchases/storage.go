// Package purchases persists the per-account purchase history the engine
// has observed. The registry ledger only answers event queries over a
// bounded recent window, so anything seen once must be remembered here.
package purchases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrPathRequired is returned when the backing store path is missing.
var ErrPathRequired = errors.New("purchases: storage path must be configured")

// Record is one observed purchase. Records are created once and never
// mutated; Clear is the only way rows leave the store.
type Record struct {
	RecordID  string
	Buyer     common.Address
	DatasetID uint64
	Price     decimal.Decimal
	Timestamp time.Time
	TxHash    string
}

type purchaseRow struct {
	Seq       int64  `gorm:"primaryKey;autoIncrement"`
	RecordID  string `gorm:"size:36;uniqueIndex"`
	Buyer     string `gorm:"size:42;index;uniqueIndex:idx_purchases_buyer_tx"`
	TxHash    string `gorm:"size:66;uniqueIndex:idx_purchases_buyer_tx"`
	DatasetID uint64
	Price     string `gorm:"size:64"`
	Timestamp int64
}

func (purchaseRow) TableName() string { return "purchases" }

// Store is the sqlite-backed purchase cache.
type Store struct {
	db *gorm.DB
}

// Open initialises the cache at the supplied sqlite path.
func Open(path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := gorm.Open(sqlite.Open(trimmed), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("purchases: open database: %w", err)
	}
	if err := db.AutoMigrate(&purchaseRow{}); err != nil {
		return nil, fmt.Errorf("purchases: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func normalizeBuyer(buyer common.Address) string {
	return strings.ToLower(buyer.Hex())
}

// Append inserts a record unless one with the same (buyer, tx hash) already
// exists. It reports whether a row was actually written, so concurrent
// appends of the same settlement both succeed and dedupe cleanly.
func (s *Store) Append(ctx context.Context, rec Record) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("purchases: store not configured")
	}
	if strings.TrimSpace(rec.TxHash) == "" {
		return false, fmt.Errorf("purchases: record missing tx hash")
	}
	recordID := strings.TrimSpace(rec.RecordID)
	if recordID == "" {
		recordID = uuid.NewString()
	}
	row := purchaseRow{
		RecordID:  recordID,
		Buyer:     normalizeBuyer(rec.Buyer),
		TxHash:    rec.TxHash,
		DatasetID: rec.DatasetID,
		Price:     rec.Price.String(),
		Timestamp: rec.Timestamp.Unix(),
	}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "buyer"}, {Name: "tx_hash"}},
		DoNothing: true,
	}).Create(&row)
	if result.Error != nil {
		return false, fmt.Errorf("purchases: insert record: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListFor returns the buyer's records in insertion order. Timestamp sorting
// is deliberately left to the reconciler.
func (s *Store) ListFor(ctx context.Context, buyer common.Address) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("purchases: store not configured")
	}
	var rows []purchaseRow
	err := s.db.WithContext(ctx).
		Where("buyer = ?", normalizeBuyer(buyer)).
		Order("seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("purchases: list records: %w", err)
	}
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		price, err := decimal.NewFromString(row.Price)
		if err != nil {
			return nil, fmt.Errorf("purchases: record %s has malformed price %q: %w", row.RecordID, row.Price, err)
		}
		records = append(records, Record{
			RecordID:  row.RecordID,
			Buyer:     common.HexToAddress(row.Buyer),
			DatasetID: row.DatasetID,
			Price:     price,
			Timestamp: time.Unix(row.Timestamp, 0).UTC(),
			TxHash:    row.TxHash,
		})
	}
	return records, nil
}

// CountFor returns how many records the buyer has cached.
func (s *Store) CountFor(ctx context.Context, buyer common.Address) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("purchases: store not configured")
	}
	var count int64
	err := s.db.WithContext(ctx).
		Model(&purchaseRow{}).
		Where("buyer = ?", normalizeBuyer(buyer)).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("purchases: count records: %w", err)
	}
	return count, nil
}

// Clear removes every record for the buyer. This is an explicit user
// action; nothing in the engine clears the cache automatically.
func (s *Store) Clear(ctx context.Context, buyer common.Address) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("purchases: store not configured")
	}
	err := s.db.WithContext(ctx).
		Where("buyer = ?", normalizeBuyer(buyer)).
		Delete(&purchaseRow{}).Error
	if err != nil {
		return fmt.Errorf("purchases: clear records: %w", err)
	}
	return nil
}
