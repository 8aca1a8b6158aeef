package state

import (
	"shieldlend/core/types"
)

// PoolConfig is the lending pool's instance configuration, written once at
// initialization. Oracle may be empty until set_oracle is called.
type PoolConfig struct {
	Admin  []byte
	Vault  []byte
	Oracle []byte
}

// LendingGetConfig loads the pool configuration if initialization has run.
func (m *Manager) LendingGetConfig() (*PoolConfig, bool, error) {
	cfg := new(PoolConfig)
	ok, err := m.getRecord(lendingConfigKey, cfg)
	if err != nil || !ok {
		return nil, false, err
	}
	return cfg, true, nil
}

// LendingPutConfig persists the pool configuration.
func (m *Manager) LendingPutConfig(cfg *PoolConfig) error {
	return m.putRecord(lendingConfigKey, cfg)
}

// LendingGetLoan loads a loan record by id, reporting absence without error.
func (m *Manager) LendingGetLoan(id uint64) (*types.Loan, bool, error) {
	loan := new(types.Loan)
	ok, err := m.getRecord(lendingLoanKey(id), loan)
	if err != nil || !ok {
		return nil, false, err
	}
	return loan, true, nil
}

// LendingPutLoan stores a loan record keyed by its id.
func (m *Manager) LendingPutLoan(loan *types.Loan) error {
	return m.putRecord(lendingLoanKey(loan.ID), loan)
}

// LendingNextLoanID returns the id the next issued loan will receive.
func (m *Manager) LendingNextLoanID() (uint64, error) {
	return m.getUint64(lendingNextLoanIDKey, 1)
}

// LendingSetNextLoanID persists the loan id counter.
func (m *Manager) LendingSetNextLoanID(next uint64) error {
	return m.putUint64(lendingNextLoanIDKey, next)
}

// LendingActiveLoanForDeposit returns the id of the active loan backed by the
// deposit, if any. The index enforces the one-active-loan-per-deposit rule.
func (m *Manager) LendingActiveLoanForDeposit(depositID uint64) (uint64, bool, error) {
	var loanID uint64
	ok, err := m.getRecord(lendingActiveLoanKey(depositID), &loanID)
	if err != nil || !ok {
		return 0, false, err
	}
	return loanID, true, nil
}

// LendingSetActiveLoanForDeposit records the deposit -> active loan binding.
func (m *Manager) LendingSetActiveLoanForDeposit(depositID, loanID uint64) error {
	return m.putRecord(lendingActiveLoanKey(depositID), loanID)
}

// LendingClearActiveLoanForDeposit removes the binding once the loan reaches a
// terminal state.
func (m *Manager) LendingClearActiveLoanForDeposit(depositID uint64) error {
	return m.rawDelete(lendingActiveLoanKey(depositID))
}
