package clmm

import (
	"math/big"

	"github.com/holiman/uint256"
)

// --- Deep Copy Helpers ---

func cloneU256(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(x)
}

// Clone returns a copy of p that shares no memory with it.
// Operations mutate clones and only hand them to storage once committed.
func (p *Pool) Clone() *Pool {
	c := *p
	c.SqrtPrice = cloneU256(p.SqrtPrice)
	c.Liquidity = cloneU256(p.Liquidity)
	c.FeeGrowthGlobalA = cloneU256(p.FeeGrowthGlobalA)
	c.FeeGrowthGlobalB = cloneU256(p.FeeGrowthGlobalB)
	c.ProtocolFeeA = cloneU256(p.ProtocolFeeA)
	c.ProtocolFeeB = cloneU256(p.ProtocolFeeB)
	if p.Ticks != nil {
		c.Ticks = make([]int32, len(p.Ticks))
		copy(c.Ticks, p.Ticks)
	}
	return &c
}

// Clone returns a deep copy of t.
func (t *Tick) Clone() *Tick {
	c := *t
	if t.LiquidityNet != nil {
		c.LiquidityNet = new(big.Int).Set(t.LiquidityNet)
	} else {
		c.LiquidityNet = new(big.Int)
	}
	c.LiquidityGross = cloneU256(t.LiquidityGross)
	c.FeeGrowthOutsideA = cloneU256(t.FeeGrowthOutsideA)
	c.FeeGrowthOutsideB = cloneU256(t.FeeGrowthOutsideB)
	return &c
}

// Clone returns a deep copy of pos.
func (pos *Position) Clone() *Position {
	c := *pos
	c.Liquidity = cloneU256(pos.Liquidity)
	c.FeeGrowthInsideA = cloneU256(pos.FeeGrowthInsideA)
	c.FeeGrowthInsideB = cloneU256(pos.FeeGrowthInsideB)
	return &c
}
