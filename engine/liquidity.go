package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/defistate/defistate-clmm-go/protocols/clmm"
	"github.com/defistate/defistate-clmm-go/protocols/clmm/calculator/liquiditymath"
	"github.com/defistate/defistate-clmm-go/protocols/clmm/calculator/tickindex"
	"github.com/defistate/defistate-clmm-go/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	opProvide = "provide"
	opRemove  = "remove"
)

// ProvideLiquidity deposits liquidity into the owner's position over
// [TickLower, TickUpper), creating the position and its boundary ticks on
// first use. Fees already earned by an existing position are accrued first.
// The owner pays the token amounts the liquidity represents, rounded up.
func (e *Engine) ProvideLiquidity(ctx context.Context, params ProvideLiquidityParams) (result *ProvideLiquidityResult, err error) {
	defer func(start time.Time) { e.observe(opProvide, start, err) }(time.Now())

	if params.Liquidity == nil || params.Liquidity.IsZero() {
		return nil, fmt.Errorf("%w: liquidity must be greater than zero", clmm.ErrInvalidAmount)
	}
	if params.Liquidity.Gt(clmm.MaxU128) {
		return nil, fmt.Errorf("%w: liquidity exceeds 128 bits", clmm.ErrInvalidAmount)
	}

	unlock := e.lockPool(params.PoolID)
	defer unlock()

	pool, err := e.loadPool(ctx, params.PoolID)
	if err != nil {
		return nil, err
	}
	if err := validateRange(pool, params.TickLower, params.TickUpper); err != nil {
		return nil, err
	}

	lower, err := e.tickOrNew(ctx, pool, params.TickLower)
	if err != nil {
		return nil, err
	}
	upper, err := e.tickOrNew(ctx, pool, params.TickUpper)
	if err != nil {
		return nil, err
	}

	insideA, insideB := clmm.FeeGrowthInside(lower, upper, pool.TickCurrent, pool.FeeGrowthGlobalA, pool.FeeGrowthGlobalB)
	positionID := clmm.PositionID(pool.ID, params.Owner, params.TickLower, params.TickUpper)
	pos, err := e.store.Position(ctx, positionID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		pos = &clmm.Position{
			ID:               positionID,
			PoolID:           pool.ID,
			Owner:            params.Owner,
			TickLower:        params.TickLower,
			TickUpper:        params.TickUpper,
			Liquidity:        new(uint256.Int),
			FeeGrowthInsideA: insideA,
			FeeGrowthInsideB: insideB,
		}
	case err != nil:
		return nil, err
	default:
		if err := pos.Accrue(insideA, insideB); err != nil {
			return nil, err
		}
	}

	delta := params.Liquidity.ToBig()
	if err := liquiditymath.AddDelta(pos.Liquidity, pos.Liquidity, delta); err != nil {
		return nil, err
	}
	if err := lower.Update(delta, false); err != nil {
		return nil, err
	}
	if err := upper.Update(delta, true); err != nil {
		return nil, err
	}
	if clmm.InRange(params.TickLower, params.TickUpper, pool.TickCurrent) {
		if err := liquiditymath.AddDelta(pool.Liquidity, pool.Liquidity, delta); err != nil {
			return nil, err
		}
	}

	amountA, amountB, err := amountsFor(params.Liquidity, pool, params.TickLower, params.TickUpper, true)
	if err != nil {
		return nil, err
	}

	legs := nonZeroLegs(
		clmm.Transfer{Token: pool.TokenA, From: params.Owner, To: pool.VaultA, Amount: amountA},
		clmm.Transfer{Token: pool.TokenB, From: params.Owner, To: pool.VaultB, Amount: amountB},
	)
	batch := &storage.Batch{
		PutPools:     []*clmm.Pool{pool},
		PutTicks:     []*clmm.Tick{lower, upper},
		PutPositions: []*clmm.Position{pos},
	}
	if err := e.settle(ctx, opProvide, legs, batch); err != nil {
		return nil, err
	}

	e.logger.Debug("Liquidity provided",
		"pool", pool.ID,
		"owner", params.Owner,
		"tick_lower", params.TickLower,
		"tick_upper", params.TickUpper,
		"liquidity", params.Liquidity.Dec(),
		"amount_a", amountA,
		"amount_b", amountB,
	)
	e.emit(Event{Type: EventProvide, Pool: pool.Clone(), Account: params.Owner, Position: pos.Clone(), Transfers: legs})
	return &ProvideLiquidityResult{Position: pos.Clone(), AmountA: amountA, AmountB: amountB}, nil
}

// RemoveLiquidity closes the owner's position over [TickLower, TickUpper) and
// pays out its tokens, rounded down, together with the fees it earned.
func (e *Engine) RemoveLiquidity(ctx context.Context, params RemoveLiquidityParams) (result *RemoveLiquidityResult, err error) {
	defer func(start time.Time) { e.observe(opRemove, start, err) }(time.Now())

	unlock := e.lockPool(params.PoolID)
	defer unlock()

	pool, err := e.loadPool(ctx, params.PoolID)
	if err != nil {
		return nil, err
	}
	positionID := clmm.PositionID(pool.ID, params.Owner, params.TickLower, params.TickUpper)
	pos, err := e.Position(ctx, positionID)
	if err != nil {
		return nil, err
	}

	lower, err := e.loadTick(ctx, pool.ID, pos.TickLower)
	if err != nil {
		return nil, err
	}
	upper, err := e.loadTick(ctx, pool.ID, pos.TickUpper)
	if err != nil {
		return nil, err
	}

	insideA, insideB := clmm.FeeGrowthInside(lower, upper, pool.TickCurrent, pool.FeeGrowthGlobalA, pool.FeeGrowthGlobalB)
	if err := pos.Accrue(insideA, insideB); err != nil {
		return nil, err
	}

	amountA, amountB, err := amountsFor(pos.Liquidity, pool, pos.TickLower, pos.TickUpper, false)
	if err != nil {
		return nil, err
	}
	totalA, totalB := amountA+pos.TokensOwedA, amountB+pos.TokensOwedB
	if totalA < amountA || totalB < amountB {
		return nil, fmt.Errorf("%w: payout with fees exceeds 64 bits", clmm.ErrTokenMaxExceeded)
	}

	delta := new(big.Int).Neg(pos.Liquidity.ToBig())
	if err := lower.Update(delta, false); err != nil {
		return nil, err
	}
	if err := upper.Update(delta, true); err != nil {
		return nil, err
	}
	if clmm.InRange(pos.TickLower, pos.TickUpper, pool.TickCurrent) {
		if err := liquiditymath.AddDelta(pool.Liquidity, pool.Liquidity, delta); err != nil {
			return nil, err
		}
	}

	legs := nonZeroLegs(
		clmm.Transfer{Token: pool.TokenA, From: pool.VaultA, To: pos.Owner, Amount: totalA},
		clmm.Transfer{Token: pool.TokenB, From: pool.VaultB, To: pos.Owner, Amount: totalB},
	)
	batch := &storage.Batch{
		PutPools:        []*clmm.Pool{pool},
		DeletePositions: []common.Hash{pos.ID},
	}
	// ticks nothing references anymore leave the index, so swaps stop crossing them
	for _, tick := range []*clmm.Tick{lower, upper} {
		if !tick.LiquidityGross.IsZero() {
			batch.PutTicks = append(batch.PutTicks, tick)
			continue
		}
		pool.Ticks, _ = tickindex.Remove(pool.Ticks, tick.Index)
		batch.DeleteTicks = append(batch.DeleteTicks, storage.TickKey{PoolID: pool.ID, Index: tick.Index})
	}
	if err := e.settle(ctx, opRemove, legs, batch); err != nil {
		return nil, err
	}

	e.logger.Debug("Liquidity removed",
		"pool", pool.ID,
		"owner", pos.Owner,
		"position", pos.ID,
		"amount_a", totalA,
		"amount_b", totalB,
		"fees_a", pos.TokensOwedA,
		"fees_b", pos.TokensOwedB,
	)
	e.emit(Event{Type: EventRemove, Pool: pool.Clone(), Account: pos.Owner, Position: pos.Clone(), Transfers: legs})
	return &RemoveLiquidityResult{
		PositionID: pos.ID,
		AmountA:    totalA,
		AmountB:    totalB,
		FeesA:      pos.TokensOwedA,
		FeesB:      pos.TokensOwedB,
	}, nil
}

// validateRange checks a position range against the tick domain and the pool's spacing.
func validateRange(pool *clmm.Pool, tickLower, tickUpper int32) error {
	if err := liquiditymath.ValidateRange(tickLower, tickUpper); err != nil {
		return err
	}
	spacing := int32(pool.TickSpacing)
	if tickLower%spacing != 0 || tickUpper%spacing != 0 {
		return fmt.Errorf("%w: [%d, %d) is not a multiple of %d", clmm.ErrInvalidTickSpacing, tickLower, tickUpper, spacing)
	}
	return nil
}

// tickOrNew loads a tick, initializing it and adding it to the pool's index if absent.
func (e *Engine) tickOrNew(ctx context.Context, pool *clmm.Pool, index int32) (*clmm.Tick, error) {
	tick, err := e.store.Tick(ctx, pool.ID, index)
	if err == nil {
		return tick, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	pool.Ticks, _ = tickindex.Insert(pool.Ticks, index)
	return clmm.NewTick(pool.ID, index, pool.TickCurrent, pool.FeeGrowthGlobalA, pool.FeeGrowthGlobalB), nil
}

// amountsFor converts liquidity over a range at the pool's price into transfer amounts.
func amountsFor(liquidity *uint256.Int, pool *clmm.Pool, tickLower, tickUpper int32, roundUp bool) (uint64, uint64, error) {
	amountA, amountB := new(uint256.Int), new(uint256.Int)
	if err := liquiditymath.AmountsForLiquidityAtPrice(amountA, amountB, liquidity, tickLower, tickUpper, pool.SqrtPrice, roundUp); err != nil {
		return 0, 0, err
	}
	if !amountA.IsUint64() || !amountB.IsUint64() {
		return 0, 0, fmt.Errorf("%w: amounts %s/%s exceed 64 bits", clmm.ErrTokenMaxExceeded, amountA.Dec(), amountB.Dec())
	}
	return amountA.Uint64(), amountB.Uint64(), nil
}

func nonZeroLegs(legs ...clmm.Transfer) []clmm.Transfer {
	out := legs[:0]
	for _, leg := range legs {
		if leg.Amount > 0 {
			out = append(out, leg)
		}
	}
	return out
}
