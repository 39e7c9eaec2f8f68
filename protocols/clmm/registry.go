package clmm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	// Resolution is the number of fractional bits of a Q64.64 value.
	Resolution = 64
	// FeeDenominator expresses fee rates in parts per million.
	FeeDenominator = 1_000_000
)

var (
	// Q64 is 1.0 in Q64.64.
	Q64 = new(uint256.Int).Lsh(uint256.NewInt(1), Resolution)
	// MaxU128 is the largest value any stored 128-bit quantity may hold.
	MaxU128 = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 128), uint256.NewInt(1))

	// MaxInt128 and MinInt128 bound a tick's liquidity net.
	MaxInt128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	MinInt128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

// Pool is the aggregate state of one asset pair.
// SqrtPrice is a Q64.64 square root of the B-per-A price.
type Pool struct {
	ID        common.Hash    `json:"id"`
	Authority common.Address `json:"authority"`
	TokenA    common.Address `json:"tokenA"`
	TokenB    common.Address `json:"tokenB"`
	VaultA    common.Address `json:"vaultA"`
	VaultB    common.Address `json:"vaultB"`

	SqrtPrice   *uint256.Int `json:"sqrtPrice"`
	TickCurrent int32        `json:"tickCurrent"`
	Liquidity   *uint256.Int `json:"liquidity"`
	TickSpacing uint16       `json:"tickSpacing"`
	// FeeRate is the swap fee in parts per million of the input.
	FeeRate uint32 `json:"feeRate"`
	// ProtocolFeeRate is the share of each swap fee, in parts per million,
	// retained by the protocol instead of being distributed to liquidity.
	ProtocolFeeRate uint32 `json:"protocolFeeRate"`

	// FeeGrowthGlobalA and FeeGrowthGlobalB are Q64.64 fee totals per unit of liquidity.
	FeeGrowthGlobalA *uint256.Int `json:"feeGrowthGlobalA"`
	FeeGrowthGlobalB *uint256.Int `json:"feeGrowthGlobalB"`
	ProtocolFeeA     *uint256.Int `json:"protocolFeeA"`
	ProtocolFeeB     *uint256.Int `json:"protocolFeeB"`

	// Ticks is the sorted set of initialized tick indices.
	Ticks []int32 `json:"ticks"`
}

// Tick is an initialized price boundary of a pool.
type Tick struct {
	PoolID common.Hash `json:"poolId"`
	Index  int32       `json:"index"`
	// LiquidityNet is applied to active liquidity when the price crosses
	// this tick while increasing. It always fits a signed 128-bit integer.
	LiquidityNet *big.Int `json:"liquidityNet"`
	// LiquidityGross is the total liquidity of positions bounded by this tick.
	LiquidityGross    *uint256.Int `json:"liquidityGross"`
	FeeGrowthOutsideA *uint256.Int `json:"feeGrowthOutsideA"`
	FeeGrowthOutsideB *uint256.Int `json:"feeGrowthOutsideB"`
	Initialized       bool         `json:"initialized"`
}

// Position is the liquidity one owner holds over one tick range of a pool.
type Position struct {
	ID        common.Hash    `json:"id"`
	PoolID    common.Hash    `json:"poolId"`
	Owner     common.Address `json:"owner"`
	TickLower int32          `json:"tickLower"`
	TickUpper int32          `json:"tickUpper"`
	Liquidity *uint256.Int   `json:"liquidity"`

	// FeeGrowthInsideA and FeeGrowthInsideB snapshot the range's fee growth
	// at the last update of the position.
	FeeGrowthInsideA *uint256.Int `json:"feeGrowthInsideA"`
	FeeGrowthInsideB *uint256.Int `json:"feeGrowthInsideB"`
	TokensOwedA      uint64       `json:"tokensOwedA"`
	TokensOwedB      uint64       `json:"tokensOwedB"`
}

// Transfer is one leg of an asset movement between two accounts.
type Transfer struct {
	Token  common.Address `json:"token"`
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Amount uint64         `json:"amount"`
}

// InRange reports whether liquidity over [tickLower, tickUpper) is active at tickCurrent.
func InRange(tickLower, tickUpper, tickCurrent int32) bool {
	return tickLower <= tickCurrent && tickCurrent < tickUpper
}

// VaultFor returns the custody vault of token in p.
func (p *Pool) VaultFor(token common.Address) (common.Address, bool) {
	switch token {
	case p.TokenA:
		return p.VaultA, true
	case p.TokenB:
		return p.VaultB, true
	}
	return common.Address{}, false
}
