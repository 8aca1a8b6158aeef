package events

import (
	"math/big"
	"strconv"

	"shieldlend/core/types"
)

// TypeSwapExecuted is emitted when the treasury converts one asset into
// another at the oracle rate.
const TypeSwapExecuted = "swap.executed"

type SwapExecuted struct {
	Caller    [20]byte
	AssetIn   string
	AmountIn  *big.Int
	AssetOut  string
	AmountOut *big.Int
	FeeBps    uint64
}

func (SwapExecuted) EventType() string { return TypeSwapExecuted }

func (e SwapExecuted) Event() *types.Event {
	return &types.Event{
		Type: TypeSwapExecuted,
		Attributes: map[string]string{
			"caller":    encodeAddr(e.Caller),
			"assetIn":   e.AssetIn,
			"amountIn":  encodeAmount(e.AmountIn),
			"assetOut":  e.AssetOut,
			"amountOut": encodeAmount(e.AmountOut),
			"feeBps":    strconv.FormatUint(e.FeeBps, 10),
		},
	}
}
