package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/defistate/defistate-clmm-go/protocols/clmm"
	"github.com/defistate/defistate-clmm-go/protocols/clmm/calculator"
	"github.com/defistate/defistate-clmm-go/storage"
	"github.com/holiman/uint256"
)

const (
	opSwap  = "swap"
	opQuote = "quote"
)

// Swap trades against a pool. When the pool runs out of initialized ticks
// before the amount is used, the swap settles as a partial fill.
//
// Exactly two transfers are made: the consumed input from the trader into
// the input vault and the output from the output vault to the trader.
func (e *Engine) Swap(ctx context.Context, params SwapParams) (result *SwapResult, err error) {
	defer func(start time.Time) { e.observe(opSwap, start, err) }(time.Now())

	unlock := e.lockPool(params.PoolID)
	defer unlock()

	pool, swapped, err := e.simulate(ctx, params)
	if err != nil {
		return nil, err
	}
	result, err = toResult(swapped, pool, params)
	if err != nil {
		return nil, err
	}

	tokenIn, tokenOut := pool.TokenB, pool.TokenA
	if params.AToB {
		tokenIn, tokenOut = pool.TokenA, pool.TokenB
	}
	vaultIn, _ := pool.VaultFor(tokenIn)
	vaultOut, _ := pool.VaultFor(tokenOut)
	legs := []clmm.Transfer{
		{Token: tokenIn, From: params.Trader, To: vaultIn, Amount: result.AmountIn},
		{Token: tokenOut, From: vaultOut, To: params.Trader, Amount: result.AmountOut},
	}
	batch := &storage.Batch{
		PutPools: []*clmm.Pool{pool},
		PutTicks: swapped.Ticks,
	}
	if err := e.settle(ctx, opSwap, legs, batch); err != nil {
		return nil, err
	}

	e.metrics.ticksCrossed.Add(float64(result.TicksCrossed))
	e.metrics.swapSteps.Observe(float64(result.Steps))
	if result.Outcome == calculator.OutcomeBlocked {
		e.metrics.partialFills.Inc()
		e.logger.Warn("Swap partially filled, no initialized tick left",
			"pool", pool.ID,
			"requested", params.Amount,
			"amount_in", result.AmountIn,
			"amount_out", result.AmountOut,
			"a_to_b", params.AToB,
		)
	}
	e.logger.Debug("Swap executed",
		"pool", pool.ID,
		"trader", params.Trader,
		"amount_in", result.AmountIn,
		"amount_out", result.AmountOut,
		"fee", result.FeeAmount,
		"outcome", result.Outcome,
		"ticks_crossed", result.TicksCrossed,
		"tick", pool.TickCurrent,
	)
	e.emit(Event{Type: EventSwap, Pool: pool.Clone(), Account: params.Trader, Transfers: legs})
	return result, nil
}

// Quote simulates a swap without moving tokens or changing the pool.
func (e *Engine) Quote(ctx context.Context, params SwapParams) (result *SwapResult, err error) {
	defer func(start time.Time) { e.observe(opQuote, start, err) }(time.Now())

	unlock := e.lockPool(params.PoolID)
	defer unlock()

	pool, swapped, err := e.simulate(ctx, params)
	if err != nil {
		return nil, err
	}
	return toResult(swapped, pool, params)
}

// simulate runs the swap against a copy of the stored pool.
func (e *Engine) simulate(ctx context.Context, params SwapParams) (*clmm.Pool, *calculator.SwapResult, error) {
	if params.Amount == 0 {
		return nil, nil, fmt.Errorf("%w: swap amount must be greater than zero", clmm.ErrInvalidAmount)
	}
	pool, err := e.loadPool(ctx, params.PoolID)
	if err != nil {
		return nil, nil, err
	}

	ticks := calculator.TickSourceFunc(func(index int32) (*clmm.Tick, error) {
		return e.loadTick(ctx, pool.ID, index)
	})
	swapped, err := calculator.Swap(pool, ticks, calculator.SwapParams{
		Amount:         uint256.NewInt(params.Amount),
		AToB:           params.AToB,
		ExactOutput:    params.ExactOutput,
		SqrtPriceLimit: params.SqrtPriceLimit,
		MaxIterations:  e.maxSwapIterations,
	})
	if err != nil {
		return nil, nil, err
	}
	return pool, swapped, nil
}

// toResult converts a calculator result into transfer-width amounts and
// enforces the caller's slippage threshold.
func toResult(swapped *calculator.SwapResult, pool *clmm.Pool, params SwapParams) (*SwapResult, error) {
	if swapped.AmountOut.IsZero() {
		if swapped.Outcome == calculator.OutcomeBlocked {
			return nil, fmt.Errorf("%w: no liquidity in the swap direction", clmm.ErrInsufficientLiquidity)
		}
		return nil, fmt.Errorf("%w: swap of %d produces no output", clmm.ErrInvalidAmount, params.Amount)
	}
	if !swapped.AmountIn.IsUint64() || !swapped.AmountOut.IsUint64() {
		return nil, fmt.Errorf("%w: swap amounts %s/%s exceed 64 bits", clmm.ErrTokenMaxExceeded, swapped.AmountIn.Dec(), swapped.AmountOut.Dec())
	}

	result := &SwapResult{
		PoolID:       pool.ID,
		AmountIn:     swapped.AmountIn.Uint64(),
		AmountOut:    swapped.AmountOut.Uint64(),
		FeeAmount:    swapped.FeeAmount.Uint64(),
		ProtocolFee:  swapped.ProtocolFee.Uint64(),
		Outcome:      swapped.Outcome,
		TicksCrossed: swapped.TicksCrossed,
		Steps:        swapped.Steps,
		SqrtPrice:    new(uint256.Int).Set(pool.SqrtPrice),
		TickCurrent:  pool.TickCurrent,
		Liquidity:    new(uint256.Int).Set(pool.Liquidity),
	}

	if params.OtherAmountThreshold > 0 {
		if !params.ExactOutput && result.AmountOut < params.OtherAmountThreshold {
			return nil, fmt.Errorf("%w: output %d below minimum %d", clmm.ErrInvalidAmount, result.AmountOut, params.OtherAmountThreshold)
		}
		if params.ExactOutput && result.AmountIn > params.OtherAmountThreshold {
			return nil, fmt.Errorf("%w: input %d above maximum %d", clmm.ErrInvalidAmount, result.AmountIn, params.OtherAmountThreshold)
		}
	}
	return result, nil
}
