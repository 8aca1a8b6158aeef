package events

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"shieldlend/core/types"
	"shieldlend/crypto"
)

const (
	// TypeVaultDeposited is emitted whenever a commitment is stored in the
	// vault. Off-chain indexers key their deposit tables off this event.
	TypeVaultDeposited = "vault.deposited"
	// TypeVaultWithdrawn is emitted when a deposit's collateral leaves the
	// vault, revealing its nullifier.
	TypeVaultWithdrawn = "vault.withdrawn"
)

type VaultDeposited struct {
	DepositID uint64
	User      [20]byte
	Asset     string
}

func (VaultDeposited) EventType() string { return TypeVaultDeposited }

func (e VaultDeposited) Event() *types.Event {
	user := ""
	if e.User != ([20]byte{}) {
		user = crypto.NewAddress(crypto.ShieldPrefix, e.User[:]).String()
	}
	return &types.Event{
		Type: TypeVaultDeposited,
		Attributes: map[string]string{
			"depositId": strconv.FormatUint(e.DepositID, 10),
			"user":      user,
			"asset":     e.Asset,
		},
	}
}

type VaultWithdrawn struct {
	DepositID uint64
	Recipient [20]byte
	Nullifier []byte
	Amount    *big.Int
	Asset     string
	Seized    bool
}

func (VaultWithdrawn) EventType() string { return TypeVaultWithdrawn }

func (e VaultWithdrawn) Event() *types.Event {
	amount := big.NewInt(0)
	if e.Amount != nil {
		amount = new(big.Int).Set(e.Amount)
	}
	recipient := ""
	if e.Recipient != ([20]byte{}) {
		recipient = crypto.NewAddress(crypto.ShieldPrefix, e.Recipient[:]).String()
	}
	return &types.Event{
		Type: TypeVaultWithdrawn,
		Attributes: map[string]string{
			"depositId": strconv.FormatUint(e.DepositID, 10),
			"recipient": recipient,
			"nullifier": hex.EncodeToString(e.Nullifier),
			"amount":    amount.String(),
			"asset":     e.Asset,
			"seized":    strconv.FormatBool(e.Seized),
		},
	}
}
