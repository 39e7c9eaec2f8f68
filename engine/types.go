package engine

import (
	"github.com/defistate/defistate-clmm-go/protocols/clmm"
	"github.com/defistate/defistate-clmm-go/protocols/clmm/calculator"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// InitializePoolParams creates the pool of an asset pair.
type InitializePoolParams struct {
	TokenA    common.Address `json:"tokenA"`
	TokenB    common.Address `json:"tokenB"`
	Authority common.Address `json:"authority"`
	// SqrtPrice is the Q64.64 square root of the initial B-per-A price.
	SqrtPrice   *uint256.Int `json:"sqrtPrice"`
	TickSpacing uint16       `json:"tickSpacing"`
	// FeeRate and ProtocolFeeRate are in parts per million.
	FeeRate         uint32 `json:"feeRate"`
	ProtocolFeeRate uint32 `json:"protocolFeeRate"`
	// FeeGrowthGlobalA and FeeGrowthGlobalB seed the fee accumulators; nil means zero.
	FeeGrowthGlobalA *uint256.Int `json:"feeGrowthGlobalA,omitempty"`
	FeeGrowthGlobalB *uint256.Int `json:"feeGrowthGlobalB,omitempty"`
}

// ProvideLiquidityParams adds liquidity to the owner's position over [TickLower, TickUpper).
type ProvideLiquidityParams struct {
	PoolID    common.Hash    `json:"poolId"`
	Owner     common.Address `json:"owner"`
	TickLower int32          `json:"tickLower"`
	TickUpper int32          `json:"tickUpper"`
	Liquidity *uint256.Int   `json:"liquidity"`
}

// ProvideLiquidityResult reports the position after provision and the amounts deposited.
type ProvideLiquidityResult struct {
	Position *clmm.Position `json:"position"`
	AmountA  uint64         `json:"amountA"`
	AmountB  uint64         `json:"amountB"`
}

// RemoveLiquidityParams closes the owner's position over [TickLower, TickUpper).
type RemoveLiquidityParams struct {
	PoolID    common.Hash    `json:"poolId"`
	Owner     common.Address `json:"owner"`
	TickLower int32          `json:"tickLower"`
	TickUpper int32          `json:"tickUpper"`
}

// RemoveLiquidityResult reports what was paid out. AmountA and AmountB include FeesA and FeesB.
type RemoveLiquidityResult struct {
	PositionID common.Hash `json:"positionId"`
	AmountA    uint64      `json:"amountA"`
	AmountB    uint64      `json:"amountB"`
	FeesA      uint64      `json:"feesA"`
	FeesB      uint64      `json:"feesB"`
}

// SwapParams trades against one pool.
type SwapParams struct {
	PoolID common.Hash    `json:"poolId"`
	Trader common.Address `json:"trader"`
	// Amount is the exact input, or the exact output when ExactOutput is set.
	Amount      uint64 `json:"amount"`
	AToB        bool   `json:"aToB"`
	ExactOutput bool   `json:"exactOutput"`
	// SqrtPriceLimit optionally stops the swap at a price.
	SqrtPriceLimit *uint256.Int `json:"sqrtPriceLimit,omitempty"`
	// OtherAmountThreshold, when non-zero, is the minimum output of an exact
	// input swap or the maximum input of an exact output swap.
	OtherAmountThreshold uint64 `json:"otherAmountThreshold,omitempty"`
}

// SwapResult reports an executed or quoted swap.
type SwapResult struct {
	PoolID       common.Hash        `json:"poolId"`
	AmountIn     uint64             `json:"amountIn"`
	AmountOut    uint64             `json:"amountOut"`
	FeeAmount    uint64             `json:"feeAmount"`
	ProtocolFee  uint64             `json:"protocolFee"`
	Outcome      calculator.Outcome `json:"outcome"`
	TicksCrossed int                `json:"ticksCrossed"`
	Steps        int                `json:"steps"`
	SqrtPrice    *uint256.Int       `json:"sqrtPrice"`
	TickCurrent  int32              `json:"tickCurrent"`
	Liquidity    *uint256.Int       `json:"liquidity"`
}
