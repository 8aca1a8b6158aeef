package vault

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"shieldlend/core/events"
	"shieldlend/core/types"
	"shieldlend/crypto"
	"shieldlend/crypto/zkp"
	nativecommon "shieldlend/native/common"
)

var (
	errNilState    = errors.New("vault engine: state not configured")
	errNilVerifier = errors.New("vault engine: proof verifier not configured")

	// ErrInvalidProof covers missing proofs, the all-zero sentinel and
	// proofs the verifier rejects.
	ErrInvalidProof = errors.New("vault engine: invalid proof")
	// ErrInvalidInputs is returned for a public input vector of the wrong
	// shape.
	ErrInvalidInputs = errors.New("vault engine: malformed public inputs")
	// ErrCounterOverflow is returned when the deposit id counter is
	// exhausted. The counter never wraps.
	ErrCounterOverflow = errors.New("vault engine: deposit counter exhausted")
	// ErrDepositNotFound is returned for an unknown deposit id on mutating
	// paths; reads report absence instead.
	ErrDepositNotFound = errors.New("vault engine: deposit not found")
	// ErrDepositLocked is returned when collateral backing an active loan is
	// touched by anyone but an authorized liquidator.
	ErrDepositLocked = errors.New("vault engine: deposit backs an active loan")
	// ErrDepositConsumed is returned when a released or seized deposit is
	// reused.
	ErrDepositConsumed = errors.New("vault engine: deposit already consumed")
	// ErrCommitmentMismatch is returned when a proof's commitment does not
	// match the stored one.
	ErrCommitmentMismatch = errors.New("vault engine: commitment mismatch")
	// ErrNullifierSpent rejects proofs that reuse a revealed nullifier.
	ErrNullifierSpent = errors.New("vault engine: nullifier already spent")
	// ErrUnauthorized is returned when the caller may not act on the
	// deposit.
	ErrUnauthorized = errors.New("vault engine: caller not authorized")
)

const moduleName = "vault"

// defaultDepositTTL keeps deposit records alive for a year of protocol
// operation; every write refreshes the horizon.
const defaultDepositTTL = 31_536_000

// withdrawInputs is the public input vector shape for withdrawal proofs:
// [nullifier, commitment, amount].
const withdrawInputs = 3

type engineState interface {
	DepositGet(id uint64) (*types.Deposit, bool, error)
	DepositPut(deposit *types.Deposit) error
	DepositCount() (uint64, error)
	SetDepositCount(count uint64) error
	NullifierSpent(nullifier []byte) (bool, error)
	SpendNullifier(nullifier []byte) error
	Transfer(from, to crypto.Address, asset string, amount *big.Int) error
	HasRole(role string, addr crypto.Address) (bool, error)
}

type proofVerifier interface {
	Verify(proof []byte, publicInputs [][]byte) (bool, error)
}

// Engine stores collateral commitments and releases them against withdrawal
// proofs. It never learns the hidden collateral amounts: deposits persist only
// the opaque commitment, and a value is revealed solely when a withdrawal
// proof discloses it together with its nullifier.
type Engine struct {
	state         engineState
	emitter       events.Emitter
	verifier      proofVerifier
	pauses        nativecommon.PauseView
	moduleAddress crypto.Address
	depositTTL    uint64
	nowFn         func() int64
}

// NewEngine constructs a vault engine holding collateral under the module
// treasury address.
func NewEngine(moduleAddr crypto.Address) *Engine {
	return &Engine{
		emitter:       events.NoopEmitter{},
		moduleAddress: moduleAddr,
		depositTTL:    defaultDepositTTL,
		nowFn:         func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetVerifier configures the pairing-based proof verifier. Deposits fall back
// to shape checks when no verifier is configured; withdrawals always require
// one.
func (e *Engine) SetVerifier(v proofVerifier) { e.verifier = v }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetDepositTTL overrides the storage lifetime horizon in seconds.
func (e *Engine) SetDepositTTL(seconds uint64) {
	if e == nil || seconds == 0 {
		return
	}
	e.depositTTL = seconds
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// touch refreshes the record's expiry so live entries never fall out of rent.
func (e *Engine) touch(deposit *types.Deposit) {
	deposit.ExpiresAt = uint64(e.now()) + e.depositTTL
}

func addr20(a crypto.Address) [20]byte {
	var out [20]byte
	copy(out[:], a.Bytes())
	return out
}

// DepositCollateral stores the commitment carried in publicInputs[0] and
// issues the next deposit id. The commitment is persisted verbatim; the vault
// applies no transformation.
func (e *Engine) DepositCollateral(user crypto.Address, asset string, proof []byte, publicInputs [][]byte) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	if len(proof) == 0 || zkp.IsZeroProof(proof) {
		return 0, ErrInvalidProof
	}
	if len(publicInputs) < 2 {
		return 0, ErrInvalidInputs
	}
	commitment := publicInputs[0]
	if len(commitment) == 0 {
		return 0, ErrInvalidInputs
	}
	if e.verifier != nil {
		ok, err := e.verifier.Verify(proof, publicInputs)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidProof, err)
		}
		if !ok {
			return 0, ErrInvalidProof
		}
	}

	count, err := e.state.DepositCount()
	if err != nil {
		return 0, err
	}
	if count == math.MaxUint64 {
		return 0, ErrCounterOverflow
	}
	depositID := count + 1

	now := uint64(e.now())
	deposit := &types.Deposit{
		ID:         depositID,
		Commitment: append([]byte(nil), commitment...),
		Owner:      append([]byte(nil), user.Bytes()...),
		Asset:      asset,
		Status:     types.DepositUnlocked,
		CreatedAt:  now,
		ExpiresAt:  now + e.depositTTL,
	}
	if err := e.state.DepositPut(deposit); err != nil {
		return 0, err
	}
	if err := e.state.SetDepositCount(depositID); err != nil {
		return 0, err
	}

	e.emitter.Emit(events.VaultDeposited{DepositID: depositID, User: addr20(user), Asset: asset})
	return depositID, nil
}

// DepositCount returns the number of deposits issued so far.
func (e *Engine) DepositCount() (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	return e.state.DepositCount()
}

// Deposit returns the full deposit record, reporting absence instead of
// erroring for unknown ids.
func (e *Engine) Deposit(depositID uint64) (*types.Deposit, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	deposit, ok, err := e.state.DepositGet(depositID)
	if err != nil || !ok {
		return nil, false, err
	}
	return deposit.Clone(), true, nil
}

// Commitment returns the stored commitment for the deposit id.
func (e *Engine) Commitment(depositID uint64) ([]byte, bool, error) {
	deposit, ok, err := e.Deposit(depositID)
	if err != nil || !ok {
		return nil, false, err
	}
	return deposit.Commitment, true, nil
}

// CheckNullifier reports whether the nullifier has been revealed and spent. A
// spent nullifier permanently rejects any future proof that reuses it.
func (e *Engine) CheckNullifier(nullifier []byte) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	if len(nullifier) == 0 {
		return false, nil
	}
	return e.state.NullifierSpent(nullifier)
}

// LockDeposit marks the deposit as backing an active loan. Only unlocked
// deposits may be locked; released and seized collateral is consumed.
func (e *Engine) LockDeposit(depositID uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	deposit, ok, err := e.state.DepositGet(depositID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrDepositNotFound
	}
	switch deposit.Status {
	case types.DepositUnlocked:
	case types.DepositLocked:
		return ErrDepositLocked
	default:
		return ErrDepositConsumed
	}
	deposit.Status = types.DepositLocked
	e.touch(deposit)
	return e.state.DepositPut(deposit)
}

// ReleaseDeposit returns a locked deposit to its owner after the backing loan
// is repaid.
func (e *Engine) ReleaseDeposit(depositID uint64) error {
	return e.unlock(depositID, types.DepositReleased)
}

// SeizeDeposit marks a locked deposit as taken by liquidation.
func (e *Engine) SeizeDeposit(depositID uint64) error {
	return e.unlock(depositID, types.DepositSeized)
}

func (e *Engine) unlock(depositID uint64, next types.DepositStatus) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	deposit, ok, err := e.state.DepositGet(depositID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrDepositNotFound
	}
	if deposit.Status == next {
		return nil
	}
	if deposit.Status != types.DepositLocked {
		return ErrDepositConsumed
	}
	deposit.Status = next
	e.touch(deposit)
	return e.state.DepositPut(deposit)
}

// WithdrawWithProof releases the collateral bound to a deposit. The proof's
// public inputs are [nullifier, commitment, amount]: the commitment must match
// the stored one, the nullifier must be unspent and is marked spent, and the
// revealed amount is transferred from the vault treasury to the caller.
//
// The deposit owner may withdraw unlocked or released collateral; collateral
// locked under an active loan may only be taken by an address holding the
// liquidator role.
func (e *Engine) WithdrawWithProof(caller crypto.Address, depositID uint64, proof []byte, publicInputs [][]byte) (*big.Int, string, error) {
	if e == nil || e.state == nil {
		return nil, "", errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, "", err
	}
	if e.verifier == nil {
		return nil, "", errNilVerifier
	}
	if len(proof) == 0 || zkp.IsZeroProof(proof) {
		return nil, "", ErrInvalidProof
	}
	if len(publicInputs) != withdrawInputs {
		return nil, "", ErrInvalidInputs
	}

	deposit, ok, err := e.state.DepositGet(depositID)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", ErrDepositNotFound
	}

	nullifier := publicInputs[0]
	commitment := publicInputs[1]
	if len(nullifier) == 0 {
		return nil, "", ErrInvalidInputs
	}
	if !bytes.Equal(commitment, deposit.Commitment) {
		return nil, "", ErrCommitmentMismatch
	}

	seized := false
	switch deposit.Status {
	case types.DepositLocked:
		isLiquidator, err := e.state.HasRole(nativecommon.RoleLiquidator, caller)
		if err != nil {
			return nil, "", err
		}
		if !isLiquidator {
			return nil, "", ErrDepositLocked
		}
		seized = true
	case types.DepositUnlocked, types.DepositReleased:
		if !bytes.Equal(deposit.Owner, caller.Bytes()) {
			return nil, "", ErrUnauthorized
		}
	default:
		return nil, "", ErrDepositConsumed
	}

	spent, err := e.state.NullifierSpent(nullifier)
	if err != nil {
		return nil, "", err
	}
	if spent {
		return nil, "", ErrNullifierSpent
	}

	valid, err := e.verifier.Verify(proof, publicInputs)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	if !valid {
		return nil, "", ErrInvalidProof
	}

	amount := new(big.Int).SetBytes(publicInputs[2])
	if amount.Sign() <= 0 {
		return nil, "", ErrInvalidInputs
	}

	if err := e.state.SpendNullifier(nullifier); err != nil {
		return nil, "", err
	}
	if seized {
		deposit.Status = types.DepositSeized
	} else {
		deposit.Status = types.DepositReleased
	}
	e.touch(deposit)
	if err := e.state.DepositPut(deposit); err != nil {
		return nil, "", err
	}
	if err := e.state.Transfer(e.moduleAddress, caller, deposit.Asset, amount); err != nil {
		return nil, "", err
	}

	e.emitter.Emit(events.VaultWithdrawn{
		DepositID: depositID,
		Recipient: addr20(caller),
		Nullifier: append([]byte(nil), nullifier...),
		Amount:    amount,
		Asset:     deposit.Asset,
		Seized:    seized,
	})
	return amount, deposit.Asset, nil
}
