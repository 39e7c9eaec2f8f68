package swapmath

import (
	"fmt"
	"sync"

	"github.com/defistate/defistate-clmm-go/protocols/clmm"
	"github.com/defistate/defistate-clmm-go/protocols/clmm/calculator/sqrtpricemath"
	"github.com/holiman/uint256"
)

var (
	feeDenominator = uint256.NewInt(clmm.FeeDenominator)
	one            = uint256.NewInt(1)
)

// SwapMath holds reusable values for one step calculation.
// Instances are managed by a sync.Pool for safe concurrent use.
type SwapMath struct {
	// --- Return Values ---
	sqrtPriceNext *uint256.Int
	amountIn      *uint256.Int
	amountOut     *uint256.Int
	feeAmount     *uint256.Int

	// --- Temporary Internal Values ---
	amountRemainingLessFee *uint256.Int
	feeComplement          *uint256.Int
	feeRate                *uint256.Int
	rem                    *uint256.Int
}

var swapMathPool = sync.Pool{
	New: func() any {
		return &SwapMath{
			sqrtPriceNext:          new(uint256.Int),
			amountIn:               new(uint256.Int),
			amountOut:              new(uint256.Int),
			feeAmount:              new(uint256.Int),
			amountRemainingLessFee: new(uint256.Int),
			feeComplement:          new(uint256.Int),
			feeRate:                new(uint256.Int),
			rem:                    new(uint256.Int),
		}
	},
}

// ComputeSwapStep computes one bounded swap step between sqrtPriceCurrent and
// sqrtPriceTarget. The direction is A to B when the target is below the current price.
//
// amountRemaining is the unspent input (exactIn) or the undelivered output.
// The returned amountIn is gross of fees and feeAmount = amountIn * feeRate / 1e6,
// so amountIn - feeAmount always covers the input the price move requires.
func ComputeSwapStep(
	// destination pointers
	sqrtPriceNext *uint256.Int,
	amountIn *uint256.Int,
	amountOut *uint256.Int,
	feeAmount *uint256.Int,

	sqrtPriceCurrent *uint256.Int,
	sqrtPriceTarget *uint256.Int,
	liquidity *uint256.Int,
	amountRemaining *uint256.Int,
	feeRate uint32,
	exactIn bool,
) error {
	if feeRate >= clmm.FeeDenominator {
		return fmt.Errorf("%w: %d ppm", clmm.ErrInvalidFeeRate, feeRate)
	}

	s := swapMathPool.Get().(*SwapMath)
	defer swapMathPool.Put(s)

	if err := s.computeSwapStep(sqrtPriceCurrent, sqrtPriceTarget, liquidity, amountRemaining, feeRate, exactIn); err != nil {
		return err
	}

	sqrtPriceNext.Set(s.sqrtPriceNext)
	amountIn.Set(s.amountIn)
	amountOut.Set(s.amountOut)
	feeAmount.Set(s.feeAmount)
	return nil
}

func (s *SwapMath) computeSwapStep(
	sqrtPriceCurrent, sqrtPriceTarget, liquidity, amountRemaining *uint256.Int, feeRate uint32, exactIn bool,
) error {
	s.amountIn.Clear()
	s.amountOut.Clear()
	s.feeAmount.Clear()
	s.sqrtPriceNext.Set(sqrtPriceCurrent)

	if sqrtPriceCurrent.Eq(sqrtPriceTarget) {
		return nil
	}

	aToB := sqrtPriceTarget.Lt(sqrtPriceCurrent)
	s.feeRate.SetUint64(uint64(feeRate))
	s.feeComplement.Sub(feeDenominator, s.feeRate)

	if exactIn {
		// --- exact input: take the fee out of the budget first ---
		if _, overflow := s.amountRemainingLessFee.MulDivOverflow(amountRemaining, s.feeComplement, feeDenominator); overflow {
			return clmm.ErrMultiplicationOverflow
		}
		if err := amountInDelta(s.amountIn, sqrtPriceTarget, sqrtPriceCurrent, liquidity, aToB); err != nil {
			return err
		}
		if !s.amountRemainingLessFee.Lt(s.amountIn) {
			s.sqrtPriceNext.Set(sqrtPriceTarget)
		} else if err := sqrtpricemath.GetNextSqrtPriceFromInput(s.sqrtPriceNext, sqrtPriceCurrent, liquidity, s.amountRemainingLessFee, aToB); err != nil {
			return err
		}
	} else {
		// --- exact output: bound by the output first ---
		if err := amountOutDelta(s.amountOut, sqrtPriceTarget, sqrtPriceCurrent, liquidity, aToB); err != nil {
			return err
		}
		if !amountRemaining.Lt(s.amountOut) {
			s.sqrtPriceNext.Set(sqrtPriceTarget)
		} else if err := sqrtpricemath.GetNextSqrtPriceFromOutput(s.sqrtPriceNext, sqrtPriceCurrent, liquidity, amountRemaining, aToB); err != nil {
			return err
		}
	}

	reached := s.sqrtPriceNext.Eq(sqrtPriceTarget)

	// --- recompute amounts from the realised price movement ---
	if !(reached && exactIn) {
		if err := amountInDelta(s.amountIn, s.sqrtPriceNext, sqrtPriceCurrent, liquidity, aToB); err != nil {
			return err
		}
	}
	if !(reached && !exactIn) {
		if err := amountOutDelta(s.amountOut, s.sqrtPriceNext, sqrtPriceCurrent, liquidity, aToB); err != nil {
			return err
		}
	}
	if !exactIn && s.amountOut.Gt(amountRemaining) {
		s.amountOut.Set(amountRemaining)
	}

	// --- gross the net input up by the fee ---
	if exactIn && !reached {
		// the step stopped short, so the whole budget is consumed
		s.amountIn.Set(amountRemaining)
	} else if err := s.grossUp(s.amountIn); err != nil {
		return err
	}

	if _, overflow := s.feeAmount.MulDivOverflow(s.amountIn, s.feeRate, feeDenominator); overflow {
		return clmm.ErrMultiplicationOverflow
	}
	return nil
}

// grossUp replaces the net amount x with ceil(x * 1e6 / (1e6 - feeRate)).
func (s *SwapMath) grossUp(x *uint256.Int) error {
	if s.feeComplement.IsZero() {
		return clmm.ErrDivisionByZero
	}
	s.rem.MulMod(x, feeDenominator, s.feeComplement)
	if _, overflow := x.MulDivOverflow(x, feeDenominator, s.feeComplement); overflow {
		return clmm.ErrMultiplicationOverflow
	}
	if !s.rem.IsZero() {
		x.Add(x, one)
	}
	if x.Gt(clmm.MaxU128) {
		return fmt.Errorf("%w: step input exceeds 128 bits", clmm.ErrMathError)
	}
	return nil
}

// amountInDelta is the input needed to move between the two prices, rounded up.
func amountInDelta(dest, sqrtPriceA, sqrtPriceB, liquidity *uint256.Int, aToB bool) error {
	if aToB {
		return sqrtpricemath.GetAmountADelta(dest, sqrtPriceA, sqrtPriceB, liquidity, true)
	}
	return sqrtpricemath.GetAmountBDelta(dest, sqrtPriceA, sqrtPriceB, liquidity, true)
}

// amountOutDelta is the output released between the two prices, rounded down.
func amountOutDelta(dest, sqrtPriceA, sqrtPriceB, liquidity *uint256.Int, aToB bool) error {
	if aToB {
		return sqrtpricemath.GetAmountBDelta(dest, sqrtPriceA, sqrtPriceB, liquidity, false)
	}
	return sqrtpricemath.GetAmountADelta(dest, sqrtPriceA, sqrtPriceB, liquidity, false)
}
