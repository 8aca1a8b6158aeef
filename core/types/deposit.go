package types

// DepositStatus tracks the collateral lifecycle of a vault deposit.
type DepositStatus uint8

const (
	// DepositUnlocked means the commitment is stored and not backing a loan.
	DepositUnlocked DepositStatus = iota
	// DepositLocked means the deposit currently backs an active loan.
	DepositLocked
	// DepositReleased means the backing loan was repaid and the collateral
	// was (or may be) withdrawn by its owner.
	DepositReleased
	// DepositSeized means the collateral was taken during liquidation.
	DepositSeized
)

func (s DepositStatus) String() string {
	switch s {
	case DepositUnlocked:
		return "unlocked"
	case DepositLocked:
		return "locked"
	case DepositReleased:
		return "released"
	case DepositSeized:
		return "seized"
	default:
		return "unknown"
	}
}

// Deposit is the vault's record for one collateral commitment. The commitment
// is opaque: the vault never learns the collateral amount hidden behind it.
type Deposit struct {
	ID         uint64
	Commitment []byte
	Owner      []byte
	Asset      string
	Status     DepositStatus
	CreatedAt  uint64
	// ExpiresAt is the storage lifetime horizon. Writes refresh it so live
	// entries never silently fall out of rent.
	ExpiresAt uint64
}

// Clone returns a deep copy of the deposit record.
func (d *Deposit) Clone() *Deposit {
	if d == nil {
		return nil
	}
	clone := *d
	clone.Commitment = append([]byte(nil), d.Commitment...)
	clone.Owner = append([]byte(nil), d.Owner...)
	return &clone
}
