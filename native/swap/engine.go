package swap

import (
	"errors"
	"fmt"
	"math/big"

	"shieldlend/core/events"
	"shieldlend/crypto"
	nativecommon "shieldlend/native/common"
	"shieldlend/native/oracle"
)

var (
	errNilState  = errors.New("swap engine: state not configured")
	errNilOracle = errors.New("swap engine: oracle not configured")

	// ErrInvalidAmount is returned for a nil or non-positive swap amount.
	ErrInvalidAmount = errors.New("swap engine: invalid amount")
	// ErrSlippage is returned when the oracle-priced output falls below the
	// caller's minimum. No transfers happen.
	ErrSlippage = errors.New("swap engine: output below minimum")
	// ErrInsufficientInventory is returned when the treasury cannot cover the
	// output amount.
	ErrInsufficientInventory = errors.New("swap engine: insufficient inventory")
)

const moduleName = "swap"

const bpsDenominator = 10_000

type engineState interface {
	Balance(addr crypto.Address, asset string) (*big.Int, error)
	Transfer(from, to crypto.Address, asset string, amount *big.Int) error
}

// Engine converts assets against a treasury inventory at the oracle rate with
// a flat fee. There is no order book; the treasury is the sole counterparty.
type Engine struct {
	state         engineState
	oracle        oracle.PriceOracle
	emitter       events.Emitter
	pauses        nativecommon.PauseView
	moduleAddress crypto.Address
	feeBps        uint64
}

// NewEngine constructs a swap engine trading against the module treasury.
func NewEngine(moduleAddr crypto.Address) *Engine {
	return &Engine{
		emitter:       events.NoopEmitter{},
		moduleAddress: moduleAddr,
		feeBps:        30,
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetOracle wires the price source used to quote conversions.
func (e *Engine) SetOracle(o oracle.PriceOracle) { e.oracle = o }

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

// SetFeeBps overrides the flat conversion fee in basis points.
func (e *Engine) SetFeeBps(bps uint64) {
	if e == nil || bps >= bpsDenominator {
		return
	}
	e.feeBps = bps
}

func addr20(a crypto.Address) [20]byte {
	var out [20]byte
	copy(out[:], a.Bytes())
	return out
}

// Quote returns the output amount for converting amountIn at the current
// oracle rate net of the fee.
func (e *Engine) Quote(assetIn string, amountIn *big.Int, assetOut string) (*big.Int, error) {
	if e == nil || e.oracle == nil {
		return nil, errNilOracle
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	rate, err := e.oracle.GetRate(assetIn, assetOut)
	if err != nil {
		return nil, fmt.Errorf("swap engine: price: %w", err)
	}
	out := new(big.Rat).Mul(new(big.Rat).SetInt(amountIn), rate.Rate)
	out.Mul(out, big.NewRat(int64(bpsDenominator-e.feeBps), bpsDenominator))
	return new(big.Int).Quo(out.Num(), out.Denom()), nil
}

// Swap converts amountIn of assetIn into assetOut against the treasury. The
// conversion fails without side effects when the quoted output is below
// minOut or the treasury cannot cover it.
func (e *Engine) Swap(caller crypto.Address, assetIn string, amountIn *big.Int, assetOut string, minOut *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	out, err := e.Quote(assetIn, amountIn, assetOut)
	if err != nil {
		return nil, err
	}
	if minOut != nil && out.Cmp(minOut) < 0 {
		return nil, fmt.Errorf("%w: quoted %s, minimum %s", ErrSlippage, out, minOut)
	}
	inventory, err := e.state.Balance(e.moduleAddress, assetOut)
	if err != nil {
		return nil, err
	}
	if inventory.Cmp(out) < 0 {
		return nil, ErrInsufficientInventory
	}
	if err := e.state.Transfer(caller, e.moduleAddress, assetIn, amountIn); err != nil {
		return nil, err
	}
	if err := e.state.Transfer(e.moduleAddress, caller, assetOut, out); err != nil {
		return nil, err
	}

	e.emitter.Emit(events.SwapExecuted{
		Caller:    addr20(caller),
		AssetIn:   assetIn,
		AmountIn:  new(big.Int).Set(amountIn),
		AssetOut:  assetOut,
		AmountOut: new(big.Int).Set(out),
		FeeBps:    e.feeBps,
	})
	return out, nil
}
