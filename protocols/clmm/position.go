package clmm

import (
	"fmt"

	"github.com/holiman/uint256"
)

// FeeGrowthInside returns the fee growth per unit of liquidity accrued
// inside [lower, upper) for both assets, given the pool's current tick and
// global accumulators.
func FeeGrowthInside(lower, upper *Tick, tickCurrent int32, feeGrowthGlobalA, feeGrowthGlobalB *uint256.Int) (insideA, insideB *uint256.Int) {
	insideA = feeGrowthInside(lower.Index, upper.Index, tickCurrent, feeGrowthGlobalA, lower.FeeGrowthOutsideA, upper.FeeGrowthOutsideA)
	insideB = feeGrowthInside(lower.Index, upper.Index, tickCurrent, feeGrowthGlobalB, lower.FeeGrowthOutsideB, upper.FeeGrowthOutsideB)
	return insideA, insideB
}

func feeGrowthInside(tickLower, tickUpper, tickCurrent int32, global, lowerOutside, upperOutside *uint256.Int) *uint256.Int {
	below := lowerOutside
	if tickCurrent < tickLower {
		below = subU128(global, lowerOutside)
	}
	above := upperOutside
	if tickCurrent >= tickUpper {
		above = subU128(global, upperOutside)
	}
	return subU128(subU128(global, below), above)
}

// Accrue credits the fees earned since the last snapshot to the position and
// moves the snapshot to insideA/insideB.
func (pos *Position) Accrue(insideA, insideB *uint256.Int) error {
	owedA, err := owed(pos.Liquidity, insideA, pos.FeeGrowthInsideA)
	if err != nil {
		return err
	}
	owedB, err := owed(pos.Liquidity, insideB, pos.FeeGrowthInsideB)
	if err != nil {
		return err
	}

	totalA := pos.TokensOwedA + owedA
	totalB := pos.TokensOwedB + owedB
	if totalA < owedA || totalB < owedB {
		return fmt.Errorf("%w: fees owed to position %s", ErrTokenMaxExceeded, pos.ID)
	}

	pos.TokensOwedA = totalA
	pos.TokensOwedB = totalB
	pos.FeeGrowthInsideA = new(uint256.Int).Set(insideA)
	pos.FeeGrowthInsideB = new(uint256.Int).Set(insideB)
	return nil
}

// owed computes floor(liquidity * (inside - last) / 2^64).
func owed(liquidity, inside, last *uint256.Int) (uint64, error) {
	if liquidity == nil || liquidity.IsZero() {
		return 0, nil
	}
	delta := subU128(inside, cloneU256(last))
	// Both factors are below 2^128 so the product fits 256 bits.
	amount := new(uint256.Int).Mul(delta, liquidity)
	amount.Rsh(amount, Resolution)
	if !amount.IsUint64() {
		return 0, fmt.Errorf("%w: fees owed %s", ErrTokenMaxExceeded, amount.Dec())
	}
	return amount.Uint64(), nil
}
