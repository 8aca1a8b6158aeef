package state

import (
	"shieldlend/crypto"
	nativecommon "shieldlend/native/common"
)

// RoleLiquidator authorizes an address to repay loans on a borrower's behalf
// and to withdraw locked collateral during liquidation.
const RoleLiquidator = nativecommon.RoleLiquidator

// HasRole reports whether the address holds the named role.
func (m *Manager) HasRole(role string, addr crypto.Address) (bool, error) {
	_, ok, err := m.rawGet(roleKey(role, addr.Bytes()))
	return ok, err
}

// GrantRole assigns the named role to the address.
func (m *Manager) GrantRole(role string, addr crypto.Address) error {
	return m.rawPut(roleKey(role, addr.Bytes()), []byte{1})
}

// RevokeRole removes the named role from the address.
func (m *Manager) RevokeRole(role string, addr crypto.Address) error {
	return m.rawDelete(roleKey(role, addr.Bytes()))
}
