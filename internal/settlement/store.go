// AuditRow and Store persist the settlement-plan audit trail spec
// §4.4's supplemented feature calls for (SPEC_FULL.md: "a durable record
// of issued settlement submissions for operational review, distinct from
// the explicitly-forbidden ladder-state persistence"). Grounded on the
// teacher's pkg/conn/pg.go gorm/postgres connection wrapper, kept as-is
// for the connection itself; this file adds the one domain table it
// serves.
package settlement

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// AuditRow is one settlement Run's durable record.
type AuditRow struct {
	ID             uint64 `gorm:"primaryKey;autoIncrement"`
	IdempotencyKey string `gorm:"index"`
	BalanceBefore  uint64
	SettlementID   string
	ShortCount     int
	LongCount      int
	Submitted      bool
	Reason         string
	Warning        string
	CreatedAt      time.Time
}

// TableName pins the table name independent of struct renames.
func (AuditRow) TableName() string {
	return "settlement_audit"
}

// Store wraps a *gorm.DB scoped to the settlement audit trail.
type Store struct {
	db *gorm.DB
}

// NewStore returns a Store and ensures the audit table exists.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&AuditRow{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Insert persists one audit row.
func (s *Store) Insert(ctx context.Context, row AuditRow) error {
	return s.db.WithContext(ctx).Create(&row).Error
}
