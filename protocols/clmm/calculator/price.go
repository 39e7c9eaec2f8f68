package calculator

import (
	"fmt"
	"math/big"

	"github.com/defistate/defistate-clmm-go/protocols/clmm"
	"github.com/defistate/defistate-clmm-go/protocols/clmm/calculator/tickmath"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

var q128 = decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 128), 0)

// PriceFromSqrtPrice converts a Q64.64 sqrt price into the human price of
// asset A quoted in asset B, adjusted for the assets' decimals.
func PriceFromSqrtPrice(sqrtPrice *uint256.Int, decimalsA, decimalsB uint8) decimal.Decimal {
	if sqrtPrice == nil {
		return decimal.Zero
	}
	sqrt := decimal.NewFromBigInt(sqrtPrice.ToBig(), 0)
	return sqrt.Mul(sqrt).Div(q128).Shift(int32(decimalsA) - int32(decimalsB))
}

// SqrtPriceFromPrice is the inverse of PriceFromSqrtPrice, rounding down.
// The result must lie inside the tick domain.
func SqrtPriceFromPrice(price decimal.Decimal, decimalsA, decimalsB uint8) (*uint256.Int, error) {
	if !price.IsPositive() {
		return nil, fmt.Errorf("%w: price %s must be positive", clmm.ErrInvalidAmount, price)
	}
	scaled := price.Shift(int32(decimalsB) - int32(decimalsA)).Mul(q128).Floor().BigInt()
	scaled.Sqrt(scaled)

	sqrtPrice, overflow := uint256.FromBig(scaled)
	if overflow || sqrtPrice.Lt(tickmath.MinSqrtPrice) || sqrtPrice.Gt(tickmath.MaxSqrtPrice) {
		return nil, fmt.Errorf("%w: price %s is outside the tick domain", clmm.ErrInvalidTick, price)
	}
	return sqrtPrice, nil
}

// VirtualReserves returns the constant-product reserves equivalent to the
// pool's active liquidity at its current price.
func VirtualReserves(pool *clmm.Pool) (reserveA, reserveB *uint256.Int, err error) {
	if pool.SqrtPrice == nil || pool.SqrtPrice.IsZero() || pool.Liquidity == nil {
		return nil, nil, fmt.Errorf("%w: pool %s has no price", clmm.ErrInvalidPool, pool.ID)
	}

	// This function is not on a hot path, so a few allocations are acceptable.
	reserveA, overflowA := new(uint256.Int).MulDivOverflow(pool.Liquidity, clmm.Q64, pool.SqrtPrice)
	reserveB, overflowB := new(uint256.Int).MulDivOverflow(pool.Liquidity, pool.SqrtPrice, clmm.Q64)
	if overflowA || overflowB {
		return nil, nil, clmm.ErrMultiplicationOverflow
	}
	return reserveA, reserveB, nil
}
