package events

import (
	"math/big"
	"strconv"

	"shieldlend/core/types"
	"shieldlend/crypto"
)

const (
	// TypeLoanOpened is emitted when the pool issues a new loan.
	TypeLoanOpened = "lending.loan_opened"
	// TypeLoanRepaid is emitted when a borrower (or a liquidator acting on
	// their behalf) repays an active loan.
	TypeLoanRepaid = "lending.loan_repaid"
	// TypeLoanLiquidated is emitted when a loan is closed by liquidation.
	TypeLoanLiquidated = "lending.loan_liquidated"
	// TypeBadDebt records a liquidation whose proceeds did not cover the
	// outstanding debt.
	TypeBadDebt = "lending.bad_debt"
	// TypeOracleUpdated records an admin rotating the configured oracle.
	TypeOracleUpdated = "lending.oracle_updated"
)

func encodeAddr(addr [20]byte) string {
	if addr == ([20]byte{}) {
		return ""
	}
	return crypto.NewAddress(crypto.ShieldPrefix, addr[:]).String()
}

func encodeAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

type LoanOpened struct {
	LoanID    uint64
	Borrower  [20]byte
	Amount    *big.Int
	Asset     string
	DepositID uint64
}

func (LoanOpened) EventType() string { return TypeLoanOpened }

func (e LoanOpened) Event() *types.Event {
	return &types.Event{
		Type: TypeLoanOpened,
		Attributes: map[string]string{
			"loanId":    strconv.FormatUint(e.LoanID, 10),
			"borrower":  encodeAddr(e.Borrower),
			"amount":    encodeAmount(e.Amount),
			"asset":     e.Asset,
			"depositId": strconv.FormatUint(e.DepositID, 10),
		},
	}
}

type LoanRepaid struct {
	LoanID uint64
	Payer  [20]byte
}

func (LoanRepaid) EventType() string { return TypeLoanRepaid }

func (e LoanRepaid) Event() *types.Event {
	return &types.Event{
		Type: TypeLoanRepaid,
		Attributes: map[string]string{
			"loanId": strconv.FormatUint(e.LoanID, 10),
			"payer":  encodeAddr(e.Payer),
		},
	}
}

type LoanLiquidated struct {
	LoanID     uint64
	Liquidator [20]byte
	Proceeds   *big.Int
	Shortfall  *big.Int
}

func (LoanLiquidated) EventType() string { return TypeLoanLiquidated }

func (e LoanLiquidated) Event() *types.Event {
	return &types.Event{
		Type: TypeLoanLiquidated,
		Attributes: map[string]string{
			"loanId":     strconv.FormatUint(e.LoanID, 10),
			"liquidator": encodeAddr(e.Liquidator),
			"proceeds":   encodeAmount(e.Proceeds),
			"shortfall":  encodeAmount(e.Shortfall),
		},
	}
}

type BadDebt struct {
	LoanID    uint64
	Shortfall *big.Int
	// Covered reports whether the protocol reserve absorbed the shortfall.
	Covered bool
}

func (BadDebt) EventType() string { return TypeBadDebt }

func (e BadDebt) Event() *types.Event {
	return &types.Event{
		Type: TypeBadDebt,
		Attributes: map[string]string{
			"loanId":    strconv.FormatUint(e.LoanID, 10),
			"shortfall": encodeAmount(e.Shortfall),
			"covered":   strconv.FormatBool(e.Covered),
		},
	}
}

type OracleUpdated struct {
	Oracle [20]byte
}

func (OracleUpdated) EventType() string { return TypeOracleUpdated }

func (e OracleUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeOracleUpdated,
		Attributes: map[string]string{
			"oracle": encodeAddr(e.Oracle),
		},
	}
}
