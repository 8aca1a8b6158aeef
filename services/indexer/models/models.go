package models

import (
	"time"

	"github.com/google/uuid"
)

// EventRecord is the append-only journal of every protocol event observed on
// the stream.
type EventRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Type       string    `gorm:"index"`
	Attributes string    `gorm:"type:text"`
	ObservedAt time.Time `gorm:"index"`
}

// Deposit mirrors the vault's view of a collateral commitment.
type Deposit struct {
	DepositID uint64 `gorm:"primaryKey"`
	Owner     string `gorm:"index"`
	Asset     string
	Status    string `gorm:"index"`
	UpdatedAt time.Time
}

// Loan mirrors the pool's view of an issued loan.
type Loan struct {
	LoanID    uint64 `gorm:"primaryKey"`
	Borrower  string `gorm:"index"`
	Amount    string
	Asset     string
	DepositID uint64 `gorm:"index"`
	Status    string `gorm:"index"`
	UpdatedAt time.Time
}

// All lists every model for migration.
func All() []interface{} {
	return []interface{}{&EventRecord{}, &Deposit{}, &Loan{}}
}
