package liquidator

import (
	"errors"
	"fmt"
	"math/big"

	"shieldlend/native/oracle"
)

// bpsDenominator is the basis point scale shared by ratio and haircut math.
const bpsDenominator = 10_000

// ErrNoValuation is returned when a collateral value cannot be established.
var ErrNoValuation = errors.New("liquidator: collateral valuation unavailable")

// PriceSource resolves asset prices in the protocol's debt denomination.
type PriceSource interface {
	GetRate(asset, quote string) (oracle.PriceQuote, error)
}

// CollateralValuation converts a disclosed collateral amount into a value in
// the quote denomination. Strategies differ in how much they trust the
// disclosed amount versus the oracle.
type CollateralValuation interface {
	Value(asset string, amount *big.Int) (*big.Rat, error)
}

// ProofAttestedValuation prices the amount disclosed by the liquidator's
// valuation proof at the raw oracle rate.
type ProofAttestedValuation struct {
	Oracle PriceSource
	Quote  string
}

func (v ProofAttestedValuation) Value(asset string, amount *big.Int) (*big.Rat, error) {
	if v.Oracle == nil {
		return nil, ErrNoValuation
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: invalid amount", ErrNoValuation)
	}
	quote, err := v.Oracle.GetRate(asset, v.Quote)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoValuation, err)
	}
	return new(big.Rat).Mul(new(big.Rat).SetInt(amount), quote.Rate), nil
}

// OracleFloorValuation prices the disclosed amount at the oracle rate reduced
// by a conservative haircut, so volatile collateral is never valued at spot.
type OracleFloorValuation struct {
	Oracle     PriceSource
	Quote      string
	HaircutBps uint64
}

func (v OracleFloorValuation) Value(asset string, amount *big.Int) (*big.Rat, error) {
	if v.HaircutBps >= bpsDenominator {
		return nil, fmt.Errorf("%w: haircut consumes entire value", ErrNoValuation)
	}
	spot, err := ProofAttestedValuation{Oracle: v.Oracle, Quote: v.Quote}.Value(asset, amount)
	if err != nil {
		return nil, err
	}
	factor := big.NewRat(int64(bpsDenominator-v.HaircutBps), bpsDenominator)
	return spot.Mul(spot, factor), nil
}
