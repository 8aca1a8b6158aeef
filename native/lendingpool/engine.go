package lendingpool

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
	errNilState    = errors.New("lending engine: state not configured")
	errNilVault    = errors.New("lending engine: vault not configured")
	errNilVerifier = errors.New("lending engine: proof verifier not configured")

	// ErrNotInitialized is returned when the pool configuration has not been
	// written yet.
	ErrNotInitialized = errors.New("lending engine: pool not initialized")
	// ErrInvalidProof covers missing proofs, the all-zero sentinel, an input
	// vector of the wrong shape and proofs the verifier rejects.
	ErrInvalidProof = errors.New("lending engine: invalid proof")
	// ErrInvalidAmount is returned for a nil or non-positive loan amount.
	ErrInvalidAmount = errors.New("lending engine: invalid amount")
	// ErrAmountMismatch is returned when the proof's bound loan amount does
	// not equal the requested amount.
	ErrAmountMismatch = errors.New("lending engine: proof amount mismatch")
	// ErrCommitmentMismatch is returned when the proof's commitment does not
	// match the vault's stored commitment for the deposit.
	ErrCommitmentMismatch = errors.New("lending engine: commitment mismatch")
	// ErrRatioTooLow is returned when the proof's min ratio element falls
	// below the protocol's configured collateral ratio.
	ErrRatioTooLow = errors.New("lending engine: proof ratio below protocol minimum")
	// ErrDepositNotFound is returned when the deposit id carries no stored
	// commitment.
	ErrDepositNotFound = errors.New("lending engine: deposit not found")
	// ErrDepositInUse enforces one active loan per deposit.
	ErrDepositInUse = errors.New("lending engine: deposit backs an active loan")
	// ErrCounterOverflow is returned when the loan id counter is exhausted.
	ErrCounterOverflow = errors.New("lending engine: loan counter exhausted")
	// ErrLoanNotFound is returned for an unknown loan id.
	ErrLoanNotFound = errors.New("lending engine: loan not found")
	// ErrAlreadyRepaid rejects repayment or liquidation of a terminal loan.
	ErrAlreadyRepaid = errors.New("lending engine: loan already closed")
	// ErrUnauthorized is returned when the caller may not act on the loan or
	// pool configuration.
	ErrUnauthorized = errors.New("lending engine: caller not authorized")
	// ErrInsufficientLiquidity is returned when the pool treasury cannot cover
	// the requested principal.
	ErrInsufficientLiquidity = errors.New("lending engine: insufficient pool liquidity")
)

const moduleName = "lending"

// loanInputs is the public input vector shape for loan eligibility proofs:
// [loanAmount, commitment, minRatio, pubkeyX, pubkeyY].
const loanInputs = 5

// defaultMinRatioBps is the collateral ratio floor proofs must be generated
// against, in basis points.
const defaultMinRatioBps = 15_000

// Config is the pool configuration written once at initialization. The oracle
// may be rotated afterwards by the admin.
type Config struct {
	Admin  crypto.Address
	Vault  crypto.Address
	Oracle crypto.Address
}

type engineState interface {
	ConfigGet() (*Config, bool, error)
	ConfigPut(cfg *Config) error
	LoanGet(id uint64) (*types.Loan, bool, error)
	LoanPut(loan *types.Loan) error
	NextLoanID() (uint64, error)
	SetNextLoanID(id uint64) error
	ActiveLoanForDeposit(depositID uint64) (uint64, bool, error)
	SetActiveLoanForDeposit(depositID, loanID uint64) error
	ClearActiveLoanForDeposit(depositID uint64) error
	Balance(addr crypto.Address, asset string) (*big.Int, error)
	Transfer(from, to crypto.Address, asset string, amount *big.Int) error
	HasRole(role string, addr crypto.Address) (bool, error)
}

// collateralVault is the narrow view of the vault the pool depends on. The
// pool never reads deposit owners or amounts; it only checks commitments and
// drives the lock lifecycle.
type collateralVault interface {
	Commitment(depositID uint64) ([]byte, bool, error)
	LockDeposit(depositID uint64) error
	ReleaseDeposit(depositID uint64) error
	SeizeDeposit(depositID uint64) error
}

type proofVerifier interface {
	Verify(proof []byte, publicInputs [][]byte) (bool, error)
}

// Engine issues loans against vault collateral commitments. Eligibility is
// established entirely by a zero-knowledge proof: the pool learns the loan
// amount but never the collateral value behind the commitment.
type Engine struct {
	state          engineState
	vault          collateralVault
	verifier       proofVerifier
	emitter        events.Emitter
	pauses         nativecommon.PauseView
	moduleAddress  crypto.Address
	reserveAddress crypto.Address
	minRatioBps    uint64
	nowFn          func() int64
}

// NewEngine constructs a lending engine holding pool liquidity under the
// module treasury address.
func NewEngine(moduleAddr crypto.Address) *Engine {
	return &Engine{
		emitter:       events.NoopEmitter{},
		moduleAddress: moduleAddr,
		minRatioBps:   defaultMinRatioBps,
		nowFn:         func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetVault wires the collateral vault capability.
func (e *Engine) SetVault(v collateralVault) { e.vault = v }

// SetVerifier configures the loan eligibility proof verifier.
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

// SetReserveAddress configures the protocol reserve that absorbs liquidation
// shortfalls. A zero reserve leaves bad debt uncovered.
func (e *Engine) SetReserveAddress(addr crypto.Address) { e.reserveAddress = addr }

// SetMinRatioBps overrides the collateral ratio floor in basis points.
func (e *Engine) SetMinRatioBps(bps uint64) {
	if e == nil || bps == 0 {
		return
	}
	e.minRatioBps = bps
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

// ModuleAddress returns the pool treasury address holding lendable liquidity.
func (e *Engine) ModuleAddress() crypto.Address { return e.moduleAddress }

func addr20(a crypto.Address) [20]byte {
	var out [20]byte
	copy(out[:], a.Bytes())
	return out
}

// Initialize writes the pool configuration. The first successful call wins;
// later calls succeed without touching the stored configuration.
func (e *Engine) Initialize(admin, vault, oracle crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if _, ok, err := e.state.ConfigGet(); err != nil {
		return err
	} else if ok {
		return nil
	}
	return e.state.ConfigPut(&Config{Admin: admin, Vault: vault, Oracle: oracle})
}

func (e *Engine) config() (*Config, error) {
	cfg, ok, err := e.state.ConfigGet()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	return cfg, nil
}

// SetOracle rotates the configured price oracle. Only the admin recorded at
// initialization may call it.
func (e *Engine) SetOracle(caller, oracle crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	cfg, err := e.config()
	if err != nil {
		return err
	}
	if !caller.Equal(cfg.Admin) {
		return ErrUnauthorized
	}
	cfg.Oracle = oracle
	if err := e.state.ConfigPut(cfg); err != nil {
		return err
	}
	e.emitter.Emit(events.OracleUpdated{Oracle: addr20(oracle)})
	return nil
}

// RequestLoan issues a loan against the commitment stored for depositID. The
// proof's public inputs are [loanAmount, commitment, minRatio, pubkeyX,
// pubkeyY]: the loan amount element must equal the requested amount, the
// commitment element must equal the vault's stored commitment and the min
// ratio element must meet the configured collateral ratio floor, so a proof
// generated for one deposit, amount or a weaker ratio cannot authorize
// another loan.
//
// The loan record is persisted and the deposit locked before the principal
// leaves the pool; a failed transfer unwinds the whole call.
func (e *Engine) RequestLoan(borrower crypto.Address, depositID uint64, amount *big.Int, asset string, proof []byte, publicInputs [][]byte) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	if e.vault == nil {
		return 0, errNilVault
	}
	if e.verifier == nil {
		return 0, errNilVerifier
	}
	if _, err := e.config(); err != nil {
		return 0, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return 0, ErrInvalidAmount
	}
	if len(proof) == 0 || zkp.IsZeroProof(proof) {
		return 0, ErrInvalidProof
	}
	if len(publicInputs) != loanInputs {
		return 0, ErrInvalidProof
	}

	boundAmount := new(big.Int).SetBytes(publicInputs[0])
	if boundAmount.Cmp(amount) != 0 {
		return 0, ErrAmountMismatch
	}
	commitment, ok, err := e.vault.Commitment(depositID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrDepositNotFound
	}
	if !bytes.Equal(publicInputs[1], commitment) {
		return 0, ErrCommitmentMismatch
	}
	boundRatio := new(big.Int).SetBytes(publicInputs[2])
	if !boundRatio.IsUint64() || boundRatio.Uint64() < e.minRatioBps {
		return 0, ErrRatioTooLow
	}
	if _, active, err := e.state.ActiveLoanForDeposit(depositID); err != nil {
		return 0, err
	} else if active {
		return 0, ErrDepositInUse
	}

	valid, err := e.verifier.Verify(proof, publicInputs)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	if !valid {
		return 0, ErrInvalidProof
	}

	available, err := e.state.Balance(e.moduleAddress, asset)
	if err != nil {
		return 0, err
	}
	if available.Cmp(amount) < 0 {
		return 0, ErrInsufficientLiquidity
	}

	loanID, err := e.state.NextLoanID()
	if err != nil {
		return 0, err
	}
	if loanID == math.MaxUint64 {
		return 0, ErrCounterOverflow
	}

	loan := &types.Loan{
		ID:        loanID,
		Borrower:  append([]byte(nil), borrower.Bytes()...),
		Amount:    new(big.Int).Set(amount),
		Asset:     asset,
		DepositID: depositID,
		Status:    types.LoanActive,
		StartTime: uint64(e.now()),
	}
	if err := e.state.LoanPut(loan); err != nil {
		return 0, err
	}
	if err := e.state.SetNextLoanID(loanID + 1); err != nil {
		return 0, err
	}
	if err := e.state.SetActiveLoanForDeposit(depositID, loanID); err != nil {
		return 0, err
	}
	if err := e.vault.LockDeposit(depositID); err != nil {
		return 0, err
	}
	if err := e.state.Transfer(e.moduleAddress, borrower, asset, amount); err != nil {
		return 0, err
	}

	e.emitter.Emit(events.LoanOpened{
		LoanID:    loanID,
		Borrower:  addr20(borrower),
		Amount:    new(big.Int).Set(amount),
		Asset:     asset,
		DepositID: depositID,
	})
	return loanID, nil
}

// Loan returns the full loan record, reporting absence instead of erroring for
// unknown ids.
func (e *Engine) Loan(loanID uint64) (*types.Loan, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	loan, ok, err := e.state.LoanGet(loanID)
	if err != nil || !ok {
		return nil, false, err
	}
	return loan.Clone(), true, nil
}

// LoanStatus returns the status of the loan.
func (e *Engine) LoanStatus(loanID uint64) (types.LoanStatus, error) {
	loan, ok, err := e.Loan(loanID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrLoanNotFound
	}
	return loan.Status, nil
}

// RepayLoan settles an active loan. The caller must be the borrower or hold
// the liquidator role, repayment moves the principal from the caller back to
// the pool, and the backing deposit is released for withdrawal.
func (e *Engine) RepayLoan(caller crypto.Address, loanID uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.vault == nil {
		return errNilVault
	}

	loan, ok, err := e.state.LoanGet(loanID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLoanNotFound
	}
	if loan.Status != types.LoanActive {
		return ErrAlreadyRepaid
	}
	if !bytes.Equal(loan.Borrower, caller.Bytes()) {
		isLiquidator, err := e.state.HasRole(nativecommon.RoleLiquidator, caller)
		if err != nil {
			return err
		}
		if !isLiquidator {
			return ErrUnauthorized
		}
	}

	if err := e.state.Transfer(caller, e.moduleAddress, loan.Asset, loan.Amount); err != nil {
		return err
	}
	loan.Status = types.LoanRepaid
	if err := e.state.LoanPut(loan); err != nil {
		return err
	}
	if err := e.state.ClearActiveLoanForDeposit(loan.DepositID); err != nil {
		return err
	}
	if err := e.vault.ReleaseDeposit(loan.DepositID); err != nil {
		return err
	}

	e.emitter.Emit(events.LoanRepaid{LoanID: loanID, Payer: addr20(caller)})
	return nil
}

// CloseAsLiquidated closes an active loan with liquidation proceeds. Proceeds
// up to the outstanding principal move from the liquidator to the pool; any
// shortfall is drawn from the protocol reserve when it holds funds, and a bad
// debt event records the outcome either way. The backing deposit is marked
// seized.
func (e *Engine) CloseAsLiquidated(liquidator crypto.Address, loanID uint64, proceeds *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.vault == nil {
		return errNilVault
	}
	isLiquidator, err := e.state.HasRole(nativecommon.RoleLiquidator, liquidator)
	if err != nil {
		return err
	}
	if !isLiquidator {
		return ErrUnauthorized
	}
	if proceeds == nil || proceeds.Sign() < 0 {
		return ErrInvalidAmount
	}

	loan, ok, err := e.state.LoanGet(loanID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLoanNotFound
	}
	if loan.Status != types.LoanActive {
		return ErrAlreadyRepaid
	}

	repaid := new(big.Int).Set(proceeds)
	if repaid.Cmp(loan.Amount) > 0 {
		repaid = new(big.Int).Set(loan.Amount)
	}
	if repaid.Sign() > 0 {
		if err := e.state.Transfer(liquidator, e.moduleAddress, loan.Asset, repaid); err != nil {
			return err
		}
	}

	shortfall := new(big.Int).Sub(loan.Amount, repaid)
	covered := false
	if shortfall.Sign() > 0 && !e.reserveAddress.IsZero() {
		reserve, err := e.state.Balance(e.reserveAddress, loan.Asset)
		if err != nil {
			return err
		}
		if reserve.Cmp(shortfall) >= 0 {
			if err := e.state.Transfer(e.reserveAddress, e.moduleAddress, loan.Asset, shortfall); err != nil {
				return err
			}
			covered = true
		}
	}

	loan.Status = types.LoanLiquidated
	if err := e.state.LoanPut(loan); err != nil {
		return err
	}
	if err := e.state.ClearActiveLoanForDeposit(loan.DepositID); err != nil {
		return err
	}
	if err := e.vault.SeizeDeposit(loan.DepositID); err != nil {
		return err
	}

	e.emitter.Emit(events.LoanLiquidated{
		LoanID:     loanID,
		Liquidator: addr20(liquidator),
		Proceeds:   new(big.Int).Set(proceeds),
		Shortfall:  new(big.Int).Set(shortfall),
	})
	if shortfall.Sign() > 0 {
		e.emitter.Emit(events.BadDebt{LoanID: loanID, Shortfall: new(big.Int).Set(shortfall), Covered: covered})
	}
	return nil
}
