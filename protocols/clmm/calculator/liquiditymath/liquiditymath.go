package liquiditymath

import (
	"fmt"
	"math/big"

	"github.com/defistate/defistate-clmm-go/protocols/clmm"
	"github.com/defistate/defistate-clmm-go/protocols/clmm/calculator/sqrtpricemath"
	"github.com/defistate/defistate-clmm-go/protocols/clmm/calculator/tickmath"
	"github.com/holiman/uint256"
)

var (
	ErrLiquidityOverflow  = fmt.Errorf("%w: liquidity overflow", clmm.ErrMathError)
	ErrLiquidityUnderflow = fmt.Errorf("%w: liquidity underflow", clmm.ErrMathError)
)

// AddDelta adds a signed liquidity delta to an unsigned 128-bit liquidity
// value. dest is only written when the result is in range.
func AddDelta(dest, x *uint256.Int, delta *big.Int) error {
	sum := x.ToBig()
	sum.Add(sum, delta)

	if sum.Sign() < 0 {
		return ErrLiquidityUnderflow
	}
	result, overflow := uint256.FromBig(sum)
	if overflow || result.Gt(clmm.MaxU128) {
		return ErrLiquidityOverflow
	}

	dest.Set(result)
	return nil
}

// ValidateRange checks a position range against the tick domain.
func ValidateRange(tickLower, tickUpper int32) error {
	if tickLower >= tickUpper {
		return fmt.Errorf("%w: lower %d must be below upper %d", clmm.ErrInvalidTickRange, tickLower, tickUpper)
	}
	if tickLower < tickmath.MinTick || tickUpper > tickmath.MaxTick {
		return fmt.Errorf("%w: range [%d, %d] outside [%d, %d]", clmm.ErrInvalidTick, tickLower, tickUpper, tickmath.MinTick, tickmath.MaxTick)
	}
	return nil
}

// AmountsForLiquidity computes the token amounts represented by liquidity
// over [tickLower, tickUpper) when the pool sits at tickCurrent.
//
// Amounts are rounded up when the pool receives them and down when it pays them out.
func AmountsForLiquidity(amountA, amountB, liquidity *uint256.Int, tickLower, tickUpper, tickCurrent int32, roundUp bool) error {
	if err := ValidateRange(tickLower, tickUpper); err != nil {
		return err
	}
	sqrtCurrent := new(uint256.Int)
	if err := tickmath.SqrtPriceAtTick(sqrtCurrent, tickCurrent); err != nil {
		return err
	}
	return amountsForRange(amountA, amountB, liquidity, tickLower, tickUpper, sqrtCurrent, roundUp)
}

// AmountsForLiquidityAtPrice is AmountsForLiquidity for an exact current
// sqrt price, which may lie anywhere inside a tick bracket.
func AmountsForLiquidityAtPrice(amountA, amountB, liquidity *uint256.Int, tickLower, tickUpper int32, sqrtCurrent *uint256.Int, roundUp bool) error {
	if err := ValidateRange(tickLower, tickUpper); err != nil {
		return err
	}
	return amountsForRange(amountA, amountB, liquidity, tickLower, tickUpper, sqrtCurrent, roundUp)
}

func amountsForRange(amountA, amountB, liquidity *uint256.Int, tickLower, tickUpper int32, sqrtCurrent *uint256.Int, roundUp bool) error {
	sqrtLower, sqrtUpper := new(uint256.Int), new(uint256.Int)
	if err := tickmath.SqrtPriceAtTick(sqrtLower, tickLower); err != nil {
		return err
	}
	if err := tickmath.SqrtPriceAtTick(sqrtUpper, tickUpper); err != nil {
		return err
	}

	amountA.Clear()
	amountB.Clear()

	switch {
	case !sqrtCurrent.Gt(sqrtLower):
		// entirely asset A
		return sqrtpricemath.GetAmountADelta(amountA, sqrtLower, sqrtUpper, liquidity, roundUp)
	case !sqrtCurrent.Lt(sqrtUpper):
		// entirely asset B
		return sqrtpricemath.GetAmountBDelta(amountB, sqrtLower, sqrtUpper, liquidity, roundUp)
	default:
		if err := sqrtpricemath.GetAmountADelta(amountA, sqrtCurrent, sqrtUpper, liquidity, roundUp); err != nil {
			return err
		}
		return sqrtpricemath.GetAmountBDelta(amountB, sqrtLower, sqrtCurrent, liquidity, roundUp)
	}
}
