package clmm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// NewTick creates an initialized tick record for index.
// Fee growth accrued before initialization is attributed to the side of the
// tick the price is on: all of it lies below when index <= tickCurrent.
func NewTick(poolID common.Hash, index, tickCurrent int32, feeGrowthGlobalA, feeGrowthGlobalB *uint256.Int) *Tick {
	t := &Tick{
		PoolID:            poolID,
		Index:             index,
		LiquidityNet:      new(big.Int),
		LiquidityGross:    new(uint256.Int),
		FeeGrowthOutsideA: new(uint256.Int),
		FeeGrowthOutsideB: new(uint256.Int),
		Initialized:       true,
	}
	if index <= tickCurrent {
		t.FeeGrowthOutsideA.Set(feeGrowthGlobalA)
		t.FeeGrowthOutsideB.Set(feeGrowthGlobalB)
	}
	return t
}

// Update applies a signed liquidity delta of a position bounded by t.
// A lower boundary adds the delta to LiquidityNet, an upper boundary subtracts it.
// On error t is left unchanged.
func (t *Tick) Update(liquidityDelta *big.Int, upper bool) error {
	gross := t.LiquidityGross.ToBig()
	gross.Add(gross, liquidityDelta)
	if gross.Sign() < 0 {
		return fmt.Errorf("%w: tick %d liquidity gross underflow", ErrMathError, t.Index)
	}
	grossU, overflow := uint256.FromBig(gross)
	if overflow || grossU.Gt(MaxU128) {
		return fmt.Errorf("%w: tick %d liquidity gross overflow", ErrMathError, t.Index)
	}

	net := new(big.Int)
	if upper {
		net.Sub(t.LiquidityNet, liquidityDelta)
	} else {
		net.Add(t.LiquidityNet, liquidityDelta)
	}
	if net.Cmp(MaxInt128) > 0 || net.Cmp(MinInt128) < 0 {
		return fmt.Errorf("%w: tick %d liquidity net out of range", ErrMathError, t.Index)
	}

	t.LiquidityGross = grossU
	t.LiquidityNet = net
	t.Initialized = true
	return nil
}

// Cross flips the tick's fee-growth-outside accumulators to the other side
// of the price and returns a copy of its liquidity net.
// Accumulators are 128-bit and wrap.
func (t *Tick) Cross(feeGrowthGlobalA, feeGrowthGlobalB *uint256.Int) *big.Int {
	t.FeeGrowthOutsideA = subU128(feeGrowthGlobalA, t.FeeGrowthOutsideA)
	t.FeeGrowthOutsideB = subU128(feeGrowthGlobalB, t.FeeGrowthOutsideB)
	return new(big.Int).Set(t.LiquidityNet)
}

// subU128 returns (x - y) mod 2^128.
func subU128(x, y *uint256.Int) *uint256.Int {
	z := new(uint256.Int).Sub(x, y)
	return z.And(z, MaxU128)
}
