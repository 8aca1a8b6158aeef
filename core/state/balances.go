package state

import (
	"errors"
	"fmt"
	"math/big"

	"shieldlend/crypto"
)

var (
	// ErrInsufficientBalance is returned by Debit and Transfer when the
	// source account does not hold the requested amount.
	ErrInsufficientBalance = errors.New("state: insufficient balance")
	// ErrInvalidAmount is returned when an amount is nil or not positive.
	ErrInvalidAmount = errors.New("state: amount must be positive")
)

// Balance returns the asset balance held by the address. Unknown accounts hold
// zero.
func (m *Manager) Balance(addr crypto.Address, asset string) (*big.Int, error) {
	value := new(big.Int)
	ok, err := m.getRecord(balanceKey(addr.Bytes(), asset), value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return value, nil
}

// SetBalance overwrites the asset balance held by the address.
func (m *Manager) SetBalance(addr crypto.Address, asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	return m.putRecord(balanceKey(addr.Bytes(), asset), amount)
}

// Credit adds amount to the address balance.
func (m *Manager) Credit(addr crypto.Address, asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	balance, err := m.Balance(addr, asset)
	if err != nil {
		return err
	}
	return m.SetBalance(addr, asset, new(big.Int).Add(balance, amount))
}

// Debit removes amount from the address balance, failing when the balance is
// insufficient.
func (m *Manager) Debit(addr crypto.Address, asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	balance, err := m.Balance(addr, asset)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	return m.SetBalance(addr, asset, new(big.Int).Sub(balance, amount))
}

// Transfer moves amount between two addresses as a single unit: the debit and
// credit either both apply or neither does.
func (m *Manager) Transfer(from, to crypto.Address, asset string, amount *big.Int) error {
	if err := m.Debit(from, asset, amount); err != nil {
		return err
	}
	return m.Credit(to, asset, amount)
}
