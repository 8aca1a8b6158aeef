package state

import (
	"encoding/binary"
)

var (
	vaultDepositPrefix   = []byte("vault/deposit/")
	vaultDepositCountKey = []byte("vault/deposit-count")
	vaultNullifierPrefix = []byte("vault/nullifier/")

	lendingLoanPrefix       = []byte("lending/loan/")
	lendingNextLoanIDKey    = []byte("lending/next-loan-id")
	lendingActiveLoanPrefix = []byte("lending/active-loan/")
	lendingConfigKey        = []byte("lending/config")

	liquidatorConfigKey = []byte("liquidator/config")

	balancePrefix = []byte("balance:")
	rolePrefix    = []byte("role:")
)

func appendUint64(prefix []byte, id uint64) []byte {
	buf := make([]byte, len(prefix)+8)
	copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[len(prefix):], id)
	return buf
}

func vaultDepositKey(id uint64) []byte {
	return appendUint64(vaultDepositPrefix, id)
}

func vaultNullifierKey(nullifier []byte) []byte {
	buf := make([]byte, len(vaultNullifierPrefix)+len(nullifier))
	copy(buf, vaultNullifierPrefix)
	copy(buf[len(vaultNullifierPrefix):], nullifier)
	return buf
}

func lendingLoanKey(id uint64) []byte {
	return appendUint64(lendingLoanPrefix, id)
}

func lendingActiveLoanKey(depositID uint64) []byte {
	return appendUint64(lendingActiveLoanPrefix, depositID)
}

func balanceKey(addr []byte, asset string) []byte {
	buf := make([]byte, len(balancePrefix)+len(asset)+1+len(addr))
	copy(buf, balancePrefix)
	copy(buf[len(balancePrefix):], asset)
	buf[len(balancePrefix)+len(asset)] = ':'
	copy(buf[len(balancePrefix)+len(asset)+1:], addr)
	return buf
}

func roleKey(role string, addr []byte) []byte {
	buf := make([]byte, len(rolePrefix)+len(role)+1+len(addr))
	copy(buf, rolePrefix)
	copy(buf[len(rolePrefix):], role)
	buf[len(rolePrefix)+len(role)] = ':'
	copy(buf[len(rolePrefix)+len(role)+1:], addr)
	return buf
}
