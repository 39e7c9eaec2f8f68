package sqrtpricemath

import (
	"fmt"
	"sync"

	"github.com/defistate/defistate-clmm-go/protocols/clmm"
	"github.com/holiman/uint256"
)

var (
	ErrLiquidityZero = fmt.Errorf("%w: liquidity must be greater than zero", clmm.ErrDivisionByZero)
	ErrSqrtPriceZero = fmt.Errorf("%w: sqrt price must be greater than zero", clmm.ErrDivisionByZero)

	one = uint256.NewInt(1)
)

// SqrtPriceMath holds reusable scratch values for one calculation.
// Instances are managed by a sync.Pool for safe concurrent use.
type SqrtPriceMath struct {
	numerator1  *uint256.Int
	numerator2  *uint256.Int
	denominator *uint256.Int
	product     *uint256.Int
	quotient    *uint256.Int
	term        *uint256.Int
	rem         *uint256.Int
}

var pool = sync.Pool{
	New: func() any {
		return &SqrtPriceMath{
			numerator1:  new(uint256.Int),
			numerator2:  new(uint256.Int),
			denominator: new(uint256.Int),
			product:     new(uint256.Int),
			quotient:    new(uint256.Int),
			term:        new(uint256.Int),
			rem:         new(uint256.Int),
		}
	},
}

// --- Checked Helpers ---

// mulDiv writes floor(a * b / c) into dest using a 512-bit intermediate product.
func (s *SqrtPriceMath) mulDiv(dest, a, b, c *uint256.Int) error {
	if c.IsZero() {
		return clmm.ErrDivisionByZero
	}
	if _, overflow := dest.MulDivOverflow(a, b, c); overflow {
		return clmm.ErrMultiplicationOverflow
	}
	return nil
}

// mulDivRoundingUp writes ceil(a * b / c) into dest.
func (s *SqrtPriceMath) mulDivRoundingUp(dest, a, b, c *uint256.Int) error {
	if c.IsZero() {
		return clmm.ErrDivisionByZero
	}
	s.rem.MulMod(a, b, c)
	if _, overflow := dest.MulDivOverflow(a, b, c); overflow {
		return clmm.ErrMultiplicationOverflow
	}
	if !s.rem.IsZero() {
		if _, overflow := dest.AddOverflow(dest, one); overflow {
			return clmm.ErrMathError
		}
	}
	return nil
}

// divRoundingUp writes ceil(a / b) into dest.
func (s *SqrtPriceMath) divRoundingUp(dest, a, b *uint256.Int) error {
	if b.IsZero() {
		return clmm.ErrDivisionByZero
	}
	s.rem.Mod(a, b)
	dest.Div(a, b)
	if !s.rem.IsZero() {
		dest.Add(dest, one)
	}
	return nil
}

// checkU128 fails unless x fits 128 bits.
func checkU128(x *uint256.Int, what string) error {
	if x.Gt(clmm.MaxU128) {
		return fmt.Errorf("%w: %s exceeds 128 bits", clmm.ErrMathError, what)
	}
	return nil
}

// --- Public API with Destination-Passing ---

// GetNextSqrtPriceFromAmountARoundingUp computes the price after adding
// (add = true) or removing amount of asset A at liquidity L:
// L * sqrtP / (L ± amount * sqrtP), rounded up.
func GetNextSqrtPriceFromAmountARoundingUp(dest, sqrtPrice, liquidity, amount *uint256.Int, add bool) error {
	s := pool.Get().(*SqrtPriceMath)
	defer pool.Put(s)
	return s.getNextSqrtPriceFromAmountARoundingUp(dest, sqrtPrice, liquidity, amount, add)
}

// GetNextSqrtPriceFromAmountBRoundingDown computes the price after adding or
// removing amount of asset B at liquidity L: sqrtP ± amount / L, rounded down.
func GetNextSqrtPriceFromAmountBRoundingDown(dest, sqrtPrice, liquidity, amount *uint256.Int, add bool) error {
	s := pool.Get().(*SqrtPriceMath)
	defer pool.Put(s)
	return s.getNextSqrtPriceFromAmountBRoundingDown(dest, sqrtPrice, liquidity, amount, add)
}

// GetNextSqrtPriceFromInput computes the price after amountIn enters the pool.
// Rounding always favours the pool so the input covers the move.
func GetNextSqrtPriceFromInput(dest, sqrtPrice, liquidity, amountIn *uint256.Int, aToB bool) error {
	if sqrtPrice.IsZero() {
		return ErrSqrtPriceZero
	}
	if liquidity.IsZero() {
		return ErrLiquidityZero
	}
	if aToB {
		return GetNextSqrtPriceFromAmountARoundingUp(dest, sqrtPrice, liquidity, amountIn, true)
	}
	return GetNextSqrtPriceFromAmountBRoundingDown(dest, sqrtPrice, liquidity, amountIn, true)
}

// GetNextSqrtPriceFromOutput computes the price after amountOut leaves the pool.
func GetNextSqrtPriceFromOutput(dest, sqrtPrice, liquidity, amountOut *uint256.Int, aToB bool) error {
	if sqrtPrice.IsZero() {
		return ErrSqrtPriceZero
	}
	if liquidity.IsZero() {
		return ErrLiquidityZero
	}
	if aToB {
		return GetNextSqrtPriceFromAmountBRoundingDown(dest, sqrtPrice, liquidity, amountOut, false)
	}
	return GetNextSqrtPriceFromAmountARoundingUp(dest, sqrtPrice, liquidity, amountOut, false)
}

// GetAmountADelta computes L * (sqrtB - sqrtA) / (sqrtA * sqrtB), the amount
// of asset A between two prices, in either argument order.
func GetAmountADelta(dest, sqrtPriceA, sqrtPriceB, liquidity *uint256.Int, roundUp bool) error {
	s := pool.Get().(*SqrtPriceMath)
	defer pool.Put(s)
	return s.getAmountADelta(dest, sqrtPriceA, sqrtPriceB, liquidity, roundUp)
}

// GetAmountBDelta computes L * (sqrtB - sqrtA), the amount of asset B
// between two prices, in either argument order.
func GetAmountBDelta(dest, sqrtPriceA, sqrtPriceB, liquidity *uint256.Int, roundUp bool) error {
	s := pool.Get().(*SqrtPriceMath)
	defer pool.Put(s)
	return s.getAmountBDelta(dest, sqrtPriceA, sqrtPriceB, liquidity, roundUp)
}

// --- Internal Implementations ---

func (s *SqrtPriceMath) getNextSqrtPriceFromAmountARoundingUp(dest, sqrtPrice, liquidity, amount *uint256.Int, add bool) error {
	if amount.IsZero() {
		dest.Set(sqrtPrice)
		return nil
	}
	if err := checkU128(liquidity, "liquidity"); err != nil {
		return err
	}

	s.numerator1.Lsh(liquidity, clmm.Resolution)
	if _, overflow := s.product.MulOverflow(amount, sqrtPrice); overflow {
		return clmm.ErrMultiplicationOverflow
	}

	if add {
		if _, overflow := s.denominator.AddOverflow(s.numerator1, s.product); overflow {
			return clmm.ErrMathError
		}
	} else {
		if !s.numerator1.Gt(s.product) {
			return fmt.Errorf("%w: output exceeds asset A reserves", clmm.ErrInsufficientLiquidity)
		}
		s.denominator.Sub(s.numerator1, s.product)
	}

	if err := s.mulDivRoundingUp(dest, s.numerator1, sqrtPrice, s.denominator); err != nil {
		return err
	}
	return checkU128(dest, "sqrt price")
}

func (s *SqrtPriceMath) getNextSqrtPriceFromAmountBRoundingDown(dest, sqrtPrice, liquidity, amount *uint256.Int, add bool) error {
	if liquidity.IsZero() {
		return ErrLiquidityZero
	}
	if err := checkU128(amount, "amount"); err != nil {
		return err
	}
	s.term.Lsh(amount, clmm.Resolution)

	if add {
		s.quotient.Div(s.term, liquidity)
		dest.Add(sqrtPrice, s.quotient)
		return checkU128(dest, "sqrt price")
	}

	if err := s.divRoundingUp(s.quotient, s.term, liquidity); err != nil {
		return err
	}
	if !sqrtPrice.Gt(s.quotient) {
		return fmt.Errorf("%w: output exceeds asset B reserves", clmm.ErrInsufficientLiquidity)
	}
	dest.Sub(sqrtPrice, s.quotient)
	return nil
}

func (s *SqrtPriceMath) getAmountADelta(dest, sqrtPriceA, sqrtPriceB, liquidity *uint256.Int, roundUp bool) error {
	if sqrtPriceA.Gt(sqrtPriceB) {
		sqrtPriceA, sqrtPriceB = sqrtPriceB, sqrtPriceA
	}
	if sqrtPriceA.IsZero() {
		return ErrSqrtPriceZero
	}
	if err := checkU128(liquidity, "liquidity"); err != nil {
		return err
	}

	s.numerator1.Lsh(liquidity, clmm.Resolution)
	s.numerator2.Sub(sqrtPriceB, sqrtPriceA)

	if roundUp {
		if err := s.mulDivRoundingUp(s.term, s.numerator1, s.numerator2, sqrtPriceB); err != nil {
			return err
		}
		if err := s.divRoundingUp(dest, s.term, sqrtPriceA); err != nil {
			return err
		}
	} else {
		if err := s.mulDiv(s.term, s.numerator1, s.numerator2, sqrtPriceB); err != nil {
			return err
		}
		dest.Div(s.term, sqrtPriceA)
	}
	return checkU128(dest, "amount A")
}

func (s *SqrtPriceMath) getAmountBDelta(dest, sqrtPriceA, sqrtPriceB, liquidity *uint256.Int, roundUp bool) error {
	if sqrtPriceA.Gt(sqrtPriceB) {
		sqrtPriceA, sqrtPriceB = sqrtPriceB, sqrtPriceA
	}

	s.numerator1.Sub(sqrtPriceB, sqrtPriceA)
	if roundUp {
		if err := s.mulDivRoundingUp(dest, liquidity, s.numerator1, clmm.Q64); err != nil {
			return err
		}
	} else {
		if err := s.mulDiv(dest, liquidity, s.numerator1, clmm.Q64); err != nil {
			return err
		}
	}
	return checkU128(dest, "amount B")
}
