// Package journal implements the write-only execution journal: a durable,
// append-only record of every slice and every completed execution, stored
// via gorm with a Postgres-or-SQLite backend selected by connection string
// shape. Grounded on internal/database/database.go's dual-driver New().
//
// The journal is strictly audit trail. The engine never reads it back to
// reconstruct in-memory state on startup — restart recovery stays out of
// scope, and every in-flight execution is expected to complete or fail
// cleanly within one process lifetime.
package journal

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/hedgecore/engine/hedgetypes"
)

// SliceRecord is the persisted form of one hedgetypes.SliceResult.
type SliceRecord struct {
	ID           uint `gorm:"primaryKey;autoIncrement"`
	ExecutionID  string `gorm:"index"`
	SliceIndex   int
	Symbol       string
	LongFilled   decimal.Decimal `gorm:"type:decimal(24,10)"`
	ShortFilled  decimal.Decimal `gorm:"type:decimal(24,10)"`
	LongOrderID  string
	ShortOrderID string
	BothFilled   bool
	ErrorReason  string
	CreatedAt    time.Time
}

// ExecutionRecord is the persisted form of one hedgetypes.ExecutionResult.
type ExecutionRecord struct {
	ID               string `gorm:"primaryKey"`
	Symbol           string `gorm:"index"`
	Success          bool
	TotalSlices      int
	CompletedSlices  int
	TotalLongFilled  decimal.Decimal `gorm:"type:decimal(24,10)"`
	TotalShortFilled decimal.Decimal `gorm:"type:decimal(24,10)"`
	AbortReason      string
	CreatedAt        time.Time
}

// Journal persists execution history. All writes are best-effort relative to
// the caller: a journal failure is logged, never propagated, so a down
// database never blocks a live hedge execution.
type Journal struct {
	db *gorm.DB
}

// Open connects to dsn, choosing the Postgres driver for postgres://
// connection strings and SQLite otherwise (dsn is then treated as a file path).
func Open(dsn string) (*Journal, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("journal: connected (postgres)")
	} else {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dsn).Msg("journal: connected (sqlite)")
	}

	if err := db.AutoMigrate(&SliceRecord{}, &ExecutionRecord{}); err != nil {
		return nil, err
	}

	return &Journal{db: db}, nil
}

// RecordSlice appends one slice's outcome to the journal.
func (j *Journal) RecordSlice(executionID, symbol string, r hedgetypes.SliceResult) {
	rec := SliceRecord{
		ExecutionID:  executionID,
		SliceIndex:   r.SliceIndex,
		Symbol:       symbol,
		LongFilled:   r.LongFilled,
		ShortFilled:  r.ShortFilled,
		LongOrderID:  r.LongOrderID,
		ShortOrderID: r.ShortOrderID,
		BothFilled:   r.BothFilled,
		ErrorReason:  r.ErrorReason,
	}
	if err := j.db.Create(&rec).Error; err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Int("slice", r.SliceIndex).Msg("journal: failed to persist slice record")
	}
}

// RecordExecution appends one completed execution's summary to the journal.
func (j *Journal) RecordExecution(executionID, symbol string, r hedgetypes.ExecutionResult) {
	rec := ExecutionRecord{
		ID:               executionID,
		Symbol:           symbol,
		Success:          r.Success,
		TotalSlices:      r.TotalSlices,
		CompletedSlices:  r.CompletedSlices,
		TotalLongFilled:  r.TotalLongFilled,
		TotalShortFilled: r.TotalShortFilled,
		AbortReason:      r.AbortReason,
	}
	if err := j.db.Create(&rec).Error; err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("journal: failed to persist execution record")
	}
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
