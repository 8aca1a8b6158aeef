package liquidator

import (
	"errors"
	"fmt"
	"math/big"

	"shieldlend/core/events"
	"shieldlend/core/types"
	"shieldlend/crypto"
	nativecommon "shieldlend/native/common"
)

var (
	errNilState = errors.New("liquidator engine: state not configured")
	errNilDeps  = errors.New("liquidator engine: capabilities not configured")

	// ErrNotInitialized is returned when the engine configuration has not
	// been written yet.
	ErrNotInitialized = errors.New("liquidator engine: not initialized")
	// ErrLoanNotFound is returned for an unknown loan id.
	ErrLoanNotFound = errors.New("liquidator engine: loan not found")
	// ErrLoanNotActive rejects liquidation of a loan already closed.
	ErrLoanNotActive = errors.New("liquidator engine: loan not active")
	// ErrLoanHealthy is returned when the collateral still covers the debt at
	// the configured ratio. No state is touched.
	ErrLoanHealthy = errors.New("liquidator engine: loan is healthy")
	// ErrLiquidateFailed wraps failures in the seize, swap or close steps.
	ErrLiquidateFailed = errors.New("liquidator engine: liquidation failed")
)

const moduleName = "liquidator"

// defaultMinRatioBps is the collateralization threshold below which a loan
// becomes liquidatable, expressed in basis points (150%).
const defaultMinRatioBps = 15_000

// Config records the addresses the engine was wired against at
// initialization.
type Config struct {
	Admin crypto.Address
	Pool  crypto.Address
	Vault crypto.Address
}

type engineState interface {
	ConfigGet() (*Config, bool, error)
	ConfigPut(cfg *Config) error
}

// LoanSource is the view of the lending pool the engine depends on.
type LoanSource interface {
	Loan(loanID uint64) (*types.Loan, bool, error)
	CloseAsLiquidated(liquidator crypto.Address, loanID uint64, proceeds *big.Int) error
}

// CollateralVault releases seized collateral against liquidation proofs.
type CollateralVault interface {
	Deposit(depositID uint64) (*types.Deposit, bool, error)
	WithdrawWithProof(caller crypto.Address, depositID uint64, proof []byte, publicInputs [][]byte) (*big.Int, string, error)
}

// Swapper converts seized collateral into the debt asset. Implementations
// must honor the minimum output bound or fail.
type Swapper interface {
	Swap(caller crypto.Address, assetIn string, amountIn *big.Int, assetOut string, minOut *big.Int) (*big.Int, error)
}

// Engine watches loan health and converts undercollateralized positions back
// into pool liquidity. It composes the vault, pool, oracle and swap
// capabilities and never reaches into their storage directly.
type Engine struct {
	state          engineState
	loans          LoanSource
	vault          CollateralVault
	oracle         PriceSource
	swapper        Swapper
	valuation      CollateralValuation
	emitter        events.Emitter
	pauses         nativecommon.PauseView
	quoteAsset     string
	minRatioBps    uint64
	maxSlippageBps uint64
}

// NewEngine constructs a liquidation engine quoting values in quoteAsset.
func NewEngine(quoteAsset string) *Engine {
	return &Engine{
		emitter:        events.NoopEmitter{},
		quoteAsset:     quoteAsset,
		minRatioBps:    defaultMinRatioBps,
		maxSlippageBps: 100,
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLoanSource wires the lending pool capability.
func (e *Engine) SetLoanSource(l LoanSource) { e.loans = l }

// SetVault wires the collateral vault capability.
func (e *Engine) SetVault(v CollateralVault) { e.vault = v }

// SetOracle wires the price source used for debt and slippage math.
func (e *Engine) SetOracle(o PriceSource) { e.oracle = o }

// SetSwapper wires the collateral conversion capability.
func (e *Engine) SetSwapper(s Swapper) { e.swapper = s }

// SetValuation selects the collateral valuation strategy.
func (e *Engine) SetValuation(v CollateralValuation) { e.valuation = v }

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

// SetMinRatioBps overrides the liquidation threshold in basis points.
func (e *Engine) SetMinRatioBps(bps uint64) {
	if e == nil || bps == 0 {
		return
	}
	e.minRatioBps = bps
}

// SetMaxSlippageBps overrides the swap slippage bound in basis points.
func (e *Engine) SetMaxSlippageBps(bps uint64) {
	if e == nil || bps >= bpsDenominator {
		return
	}
	e.maxSlippageBps = bps
}

// Initialize writes the engine configuration. The first successful call wins;
// later calls succeed without touching the stored configuration.
func (e *Engine) Initialize(admin, pool, vault crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if _, ok, err := e.state.ConfigGet(); err != nil {
		return err
	} else if ok {
		return nil
	}
	return e.state.ConfigPut(&Config{Admin: admin, Pool: pool, Vault: vault})
}

func (e *Engine) requireReady() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.loans == nil || e.vault == nil || e.oracle == nil || e.valuation == nil {
		return errNilDeps
	}
	if _, ok, err := e.state.ConfigGet(); err != nil {
		return err
	} else if !ok {
		return ErrNotInitialized
	}
	return nil
}

// debtValue prices the outstanding principal in the quote denomination.
func (e *Engine) debtValue(loan *types.Loan) (*big.Rat, error) {
	quote, err := e.oracle.GetRate(loan.Asset, e.quoteAsset)
	if err != nil {
		return nil, err
	}
	return new(big.Rat).Mul(new(big.Rat).SetInt(loan.Amount), quote.Rate), nil
}

// liquidatable reports whether the disclosed collateral amount fails to cover
// the debt at the configured ratio. The comparison is exact:
// collateralValue * 10000 < debtValue * minRatioBps.
func (e *Engine) liquidatable(loan *types.Loan, collateralAsset string, collateralAmount *big.Int) (bool, error) {
	debt, err := e.debtValue(loan)
	if err != nil {
		return false, err
	}
	collateral, err := e.valuation.Value(collateralAsset, collateralAmount)
	if err != nil {
		return false, err
	}
	lhs := new(big.Rat).Mul(collateral, new(big.Rat).SetInt64(bpsDenominator))
	rhs := new(big.Rat).Mul(debt, new(big.Rat).SetUint64(e.minRatioBps))
	return lhs.Cmp(rhs) < 0, nil
}

// CheckLiquidatable reports whether the loan is below the health threshold
// given the collateral amount disclosed by the liquidator's valuation proof.
// Closed loans are never liquidatable.
func (e *Engine) CheckLiquidatable(loanID uint64, collateralAmount *big.Int) (bool, error) {
	if err := e.requireReady(); err != nil {
		return false, err
	}
	loan, ok, err := e.loans.Loan(loanID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrLoanNotFound
	}
	if loan.Status != types.LoanActive {
		return false, nil
	}
	deposit, ok, err := e.vault.Deposit(loan.DepositID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("%w: deposit %d missing", ErrLoanNotFound, loan.DepositID)
	}
	return e.liquidatable(loan, deposit.Asset, collateralAmount)
}

// minSwapOut computes the slippage-bounded floor for converting the seized
// collateral into the debt asset.
func (e *Engine) minSwapOut(collateralAsset string, amount *big.Int, debtAsset string) (*big.Int, error) {
	quote, err := e.oracle.GetRate(collateralAsset, debtAsset)
	if err != nil {
		return nil, err
	}
	expected := new(big.Rat).Mul(new(big.Rat).SetInt(amount), quote.Rate)
	expected.Mul(expected, big.NewRat(int64(bpsDenominator-e.maxSlippageBps), bpsDenominator))
	return new(big.Int).Quo(expected.Num(), expected.Denom()), nil
}

// LiquidateLoan seizes the collateral behind an unhealthy loan, converts it
// into the debt asset and settles the loan with the proceeds. The proof's
// public inputs are the vault withdrawal shape [nullifier, commitment,
// amount]; the disclosed amount drives the health check, so a healthy
// position fails before any state changes.
func (e *Engine) LiquidateLoan(liquidator crypto.Address, loanID uint64, proof []byte, publicInputs [][]byte) (*big.Int, error) {
	if err := e.requireReady(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if e.swapper == nil {
		return nil, errNilDeps
	}

	loan, ok, err := e.loans.Loan(loanID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLoanNotFound
	}
	if loan.Status != types.LoanActive {
		return nil, ErrLoanNotActive
	}
	deposit, ok, err := e.vault.Deposit(loan.DepositID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: deposit %d missing", ErrLoanNotFound, loan.DepositID)
	}
	if len(publicInputs) != 3 {
		return nil, fmt.Errorf("%w: malformed public inputs", ErrLiquidateFailed)
	}

	disclosed := new(big.Int).SetBytes(publicInputs[2])
	unhealthy, err := e.liquidatable(loan, deposit.Asset, disclosed)
	if err != nil {
		return nil, err
	}
	if !unhealthy {
		return nil, ErrLoanHealthy
	}

	seized, collateralAsset, err := e.vault.WithdrawWithProof(liquidator, loan.DepositID, proof, publicInputs)
	if err != nil {
		return nil, fmt.Errorf("%w: seize: %v", ErrLiquidateFailed, err)
	}

	proceeds := seized
	if collateralAsset != loan.Asset {
		minOut, err := e.minSwapOut(collateralAsset, seized, loan.Asset)
		if err != nil {
			return nil, fmt.Errorf("%w: price: %v", ErrLiquidateFailed, err)
		}
		proceeds, err = e.swapper.Swap(liquidator, collateralAsset, seized, loan.Asset, minOut)
		if err != nil {
			return nil, fmt.Errorf("%w: swap: %v", ErrLiquidateFailed, err)
		}
	}

	if err := e.loans.CloseAsLiquidated(liquidator, loanID, proceeds); err != nil {
		return nil, fmt.Errorf("%w: close: %v", ErrLiquidateFailed, err)
	}
	return proceeds, nil
}
