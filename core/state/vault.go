package state

import (
	"shieldlend/core/types"
)

// VaultGetDeposit loads a deposit record by id, reporting absence without
// error.
func (m *Manager) VaultGetDeposit(id uint64) (*types.Deposit, bool, error) {
	deposit := new(types.Deposit)
	ok, err := m.getRecord(vaultDepositKey(id), deposit)
	if err != nil || !ok {
		return nil, false, err
	}
	return deposit, true, nil
}

// VaultPutDeposit stores a deposit record keyed by its id.
func (m *Manager) VaultPutDeposit(deposit *types.Deposit) error {
	return m.putRecord(vaultDepositKey(deposit.ID), deposit)
}

// VaultDepositCount returns the number of deposits issued so far.
func (m *Manager) VaultDepositCount() (uint64, error) {
	return m.getUint64(vaultDepositCountKey, 0)
}

// VaultSetDepositCount persists the deposit counter.
func (m *Manager) VaultSetDepositCount(count uint64) error {
	return m.putUint64(vaultDepositCountKey, count)
}

// VaultNullifierSpent reports whether the nullifier has been revealed and
// marked spent.
func (m *Manager) VaultNullifierSpent(nullifier []byte) (bool, error) {
	_, ok, err := m.rawGet(vaultNullifierKey(nullifier))
	return ok, err
}

// VaultSpendNullifier marks a nullifier as spent. Spending is permanent: no
// operation removes entries from the nullifier set.
func (m *Manager) VaultSpendNullifier(nullifier []byte) error {
	return m.rawPut(vaultNullifierKey(nullifier), []byte{1})
}
