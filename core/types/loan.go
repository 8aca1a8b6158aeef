package types

import "math/big"

// LoanStatus is the one-directional loan state machine: Active is the single
// entry state, Repaid and Liquidated are terminal.
type LoanStatus uint8

const (
	LoanActive LoanStatus = iota
	LoanRepaid
	LoanLiquidated
)

func (s LoanStatus) String() string {
	switch s {
	case LoanActive:
		return "active"
	case LoanRepaid:
		return "repaid"
	case LoanLiquidated:
		return "liquidated"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is defined for the status.
func (s LoanStatus) Terminal() bool {
	return s == LoanRepaid || s == LoanLiquidated
}

// Loan is the pool's record for one issued loan. Amounts are big integers to
// match on-chain precision.
type Loan struct {
	ID        uint64
	Borrower  []byte
	Amount    *big.Int
	Asset     string
	DepositID uint64
	Status    LoanStatus
	StartTime uint64
}

// Clone returns a deep copy of the loan record.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	clone.Borrower = append([]byte(nil), l.Borrower...)
	if l.Amount != nil {
		clone.Amount = new(big.Int).Set(l.Amount)
	}
	return &clone
}
