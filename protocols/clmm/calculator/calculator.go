package calculator

import (
	"errors"
	"fmt"
	"sync"

	"github.com/defistate/defistate-clmm-go/protocols/clmm"
	"github.com/defistate/defistate-clmm-go/protocols/clmm/calculator/liquiditymath"
	"github.com/defistate/defistate-clmm-go/protocols/clmm/calculator/swapmath"
	"github.com/defistate/defistate-clmm-go/protocols/clmm/calculator/tickindex"
	"github.com/defistate/defistate-clmm-go/protocols/clmm/calculator/tickmath"
	"github.com/holiman/uint256"
)

// DefaultMaxIterations bounds the tick crossings of one swap when SwapParams leaves it unset.
const DefaultMaxIterations = 64

var feeDenominator = uint256.NewInt(clmm.FeeDenominator)

// TickSource loads the tick records of the pool being swapped.
type TickSource interface {
	Tick(index int32) (*clmm.Tick, error)
}

// TickSourceFunc adapts a function to TickSource.
type TickSourceFunc func(index int32) (*clmm.Tick, error)

func (f TickSourceFunc) Tick(index int32) (*clmm.Tick, error) {
	return f(index)
}

// Outcome is the terminal state of a swap.
type Outcome uint8

const (
	// OutcomeExhausted: the whole amount was used, ending exactly on a step boundary.
	OutcomeExhausted Outcome = iota
	// OutcomeSettled: the amount ran out with the price strictly inside a tick bracket.
	OutcomeSettled
	// OutcomeBlocked: no initialized tick remained in the swap direction; the swap is a partial fill.
	OutcomeBlocked
	// OutcomePriceLimit: the price reached the requested limit before the amount ran out.
	OutcomePriceLimit
)

func (o Outcome) String() string {
	switch o {
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeSettled:
		return "settled"
	case OutcomeBlocked:
		return "blocked"
	case OutcomePriceLimit:
		return "price_limit"
	}
	return fmt.Sprintf("outcome(%d)", uint8(o))
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(text []byte) error {
	for _, candidate := range []Outcome{OutcomeExhausted, OutcomeSettled, OutcomeBlocked, OutcomePriceLimit} {
		if candidate.String() == string(text) {
			*o = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown swap outcome %q", text)
}

// SwapParams describes one swap against a pool.
type SwapParams struct {
	// Amount is the exact input, or the exact output when ExactOutput is set.
	Amount      *uint256.Int
	AToB        bool
	ExactOutput bool
	// SqrtPriceLimit optionally stops the swap at a price. Nil means the curve edge.
	SqrtPriceLimit *uint256.Int
	// MaxIterations bounds the number of tick crossings; zero selects DefaultMaxIterations.
	MaxIterations int
}

// SwapResult is the aggregate of all steps of a swap.
type SwapResult struct {
	// AmountIn is the input consumed, fees included.
	AmountIn  *uint256.Int
	AmountOut *uint256.Int
	// FeeAmount is the total fee taken, ProtocolFee the part of it kept by the protocol.
	FeeAmount    *uint256.Int
	ProtocolFee  *uint256.Int
	Outcome      Outcome
	Steps        int
	TicksCrossed int
	// Ticks holds the crossed ticks with their fee-growth-outside flipped, in crossing order.
	Ticks []*clmm.Tick
}

// swapState is the running state of a swap, reused through swapStatePool.
type swapState struct {
	amountRemaining *uint256.Int
	amountIn        *uint256.Int
	amountOut       *uint256.Int
	feeAmount       *uint256.Int
	protocolFee     *uint256.Int
	sqrtPrice       *uint256.Int
	tick            int32
	liquidity       *uint256.Int
	feeGrowthA      *uint256.Int
	feeGrowthB      *uint256.Int

	// --- Reusable temporary variables for the loop ---
	sqrtPriceStart *uint256.Int
	sqrtPriceNext  *uint256.Int
	targetPrice    *uint256.Int
	stepAmountIn   *uint256.Int
	stepAmountOut  *uint256.Int
	stepFeeAmount  *uint256.Int
	stepProtocol   *uint256.Int
	growth         *uint256.Int
}

var swapStatePool = sync.Pool{
	New: func() any {
		return &swapState{
			amountRemaining: new(uint256.Int),
			amountIn:        new(uint256.Int),
			amountOut:       new(uint256.Int),
			feeAmount:       new(uint256.Int),
			protocolFee:     new(uint256.Int),
			sqrtPrice:       new(uint256.Int),
			liquidity:       new(uint256.Int),
			feeGrowthA:      new(uint256.Int),
			feeGrowthB:      new(uint256.Int),
			sqrtPriceStart:  new(uint256.Int),
			sqrtPriceNext:   new(uint256.Int),
			targetPrice:     new(uint256.Int),
			stepAmountIn:    new(uint256.Int),
			stepAmountOut:   new(uint256.Int),
			stepFeeAmount:   new(uint256.Int),
			stepProtocol:    new(uint256.Int),
			growth:          new(uint256.Int),
		}
	},
}

func (s *swapState) reset(pool *clmm.Pool, amount *uint256.Int) {
	s.amountRemaining.Set(amount)
	s.amountIn.Clear()
	s.amountOut.Clear()
	s.feeAmount.Clear()
	s.protocolFee.Clear()
	s.sqrtPrice.Set(pool.SqrtPrice)
	s.tick = pool.TickCurrent
	s.liquidity.Set(pool.Liquidity)
	s.feeGrowthA.Set(pool.FeeGrowthGlobalA)
	s.feeGrowthB.Set(pool.FeeGrowthGlobalB)
}

// Swap walks the price curve of pool tick by tick until the amount is used,
// the price limit is hit or no initialized tick remains.
//
// On success pool is updated in place and the crossed ticks are returned as
// copies; on error pool is left untouched. Callers that must not mutate the
// pool pass a clone, see Quote.
func Swap(pool *clmm.Pool, ticks TickSource, params SwapParams) (*SwapResult, error) {
	if params.Amount == nil || params.Amount.IsZero() {
		return nil, fmt.Errorf("%w: swap amount must be greater than zero", clmm.ErrInvalidAmount)
	}
	if params.Amount.Gt(clmm.MaxU128) {
		return nil, fmt.Errorf("%w: swap amount exceeds 128 bits", clmm.ErrInvalidAmount)
	}
	if pool.SqrtPrice == nil || pool.Liquidity == nil || pool.FeeGrowthGlobalA == nil || pool.FeeGrowthGlobalB == nil {
		return nil, fmt.Errorf("%w: pool %s is missing price state", clmm.ErrInvalidPool, pool.ID)
	}
	limit, err := priceLimit(pool.SqrtPrice, params)
	if err != nil {
		return nil, err
	}
	maxIterations := params.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	s := swapStatePool.Get().(*swapState)
	defer swapStatePool.Put(s)
	s.reset(pool, params.Amount)

	result, err := s.run(pool, ticks, params, limit, maxIterations)
	if err != nil {
		return nil, err
	}
	protocolA, protocolB := pool.ProtocolFeeA, pool.ProtocolFeeB
	if params.AToB {
		protocolA, err = addU128(protocolA, s.protocolFee)
	} else {
		protocolB, err = addU128(protocolB, s.protocolFee)
	}
	if err != nil {
		return nil, err
	}

	pool.SqrtPrice = new(uint256.Int).Set(s.sqrtPrice)
	pool.TickCurrent = s.tick
	pool.Liquidity = new(uint256.Int).Set(s.liquidity)
	pool.FeeGrowthGlobalA = new(uint256.Int).Set(s.feeGrowthA)
	pool.FeeGrowthGlobalB = new(uint256.Int).Set(s.feeGrowthB)
	pool.ProtocolFeeA, pool.ProtocolFeeB = protocolA, protocolB

	result.AmountIn = new(uint256.Int).Set(s.amountIn)
	result.AmountOut = new(uint256.Int).Set(s.amountOut)
	result.FeeAmount = new(uint256.Int).Set(s.feeAmount)
	result.ProtocolFee = new(uint256.Int).Set(s.protocolFee)
	return result, nil
}

// Quote simulates a swap without touching pool.
func Quote(pool *clmm.Pool, ticks TickSource, params SwapParams) (*SwapResult, *clmm.Pool, error) {
	next := pool.Clone()
	result, err := Swap(next, ticks, params)
	if err != nil {
		return nil, nil, err
	}
	return result, next, nil
}

func (s *swapState) run(pool *clmm.Pool, ticks TickSource, params SwapParams, limit *uint256.Int, maxIterations int) (*SwapResult, error) {
	result := &SwapResult{Outcome: OutcomeExhausted}
	direction := tickindex.DirectionFor(params.AToB)
	exactIn := !params.ExactOutput
	terminated := false

	for !s.amountRemaining.IsZero() && !s.sqrtPrice.Eq(limit) {
		result.Steps++
		s.sqrtPriceStart.Set(s.sqrtPrice)

		// a price resting exactly on the current tick must still cross it going down
		searchFrom := s.tick
		if params.AToB {
			searchFrom = s.tick + 1
		}
		tickNext, err := tickindex.Next(pool.Ticks, searchFrom, direction)
		if err != nil {
			if errors.Is(err, clmm.ErrTickNotFound) {
				result.Outcome = OutcomeBlocked
				terminated = true
				break
			}
			return nil, err
		}
		if err := tickmath.SqrtPriceAtTick(s.sqrtPriceNext, tickNext); err != nil {
			return nil, err
		}

		if (params.AToB && s.sqrtPriceNext.Lt(limit)) || (!params.AToB && s.sqrtPriceNext.Gt(limit)) {
			s.targetPrice.Set(limit)
		} else {
			s.targetPrice.Set(s.sqrtPriceNext)
		}

		err = swapmath.ComputeSwapStep(
			s.sqrtPrice, s.stepAmountIn, s.stepAmountOut, s.stepFeeAmount, // Destination pointers
			s.sqrtPriceStart,
			s.targetPrice,
			s.liquidity,
			s.amountRemaining,
			pool.FeeRate,
			exactIn,
		)
		if err != nil {
			return nil, err
		}

		if exactIn {
			s.amountRemaining.Sub(s.amountRemaining, s.stepAmountIn)
		} else {
			s.amountRemaining.Sub(s.amountRemaining, s.stepAmountOut)
		}
		if err := s.accumulate(pool, params.AToB); err != nil {
			return nil, err
		}

		if s.sqrtPrice.Eq(s.sqrtPriceNext) {
			result.TicksCrossed++
			if result.TicksCrossed > maxIterations {
				return nil, fmt.Errorf("%w: more than %d tick crossings", clmm.ErrTooManyIterations, maxIterations)
			}
			crossed, err := s.cross(ticks, tickNext, params.AToB)
			if err != nil {
				return nil, err
			}
			result.Ticks = append(result.Ticks, crossed)
			continue
		}

		if !s.sqrtPrice.Eq(s.sqrtPriceStart) {
			if s.tick, err = tickmath.TickAtSqrtPrice(s.sqrtPrice); err != nil {
				return nil, err
			}
		}
		if !s.sqrtPrice.Eq(s.targetPrice) {
			// the step ran out of budget between two ticks
			result.Outcome = OutcomeSettled
			terminated = true
			break
		}
	}

	if !terminated && !s.amountRemaining.IsZero() {
		result.Outcome = OutcomePriceLimit
	}
	return result, nil
}

// accumulate adds the step to the running totals and distributes its fee.
func (s *swapState) accumulate(pool *clmm.Pool, aToB bool) error {
	var overflow, o bool
	_, o = s.amountIn.AddOverflow(s.amountIn, s.stepAmountIn)
	overflow = overflow || o
	_, o = s.amountOut.AddOverflow(s.amountOut, s.stepAmountOut)
	overflow = overflow || o
	_, o = s.feeAmount.AddOverflow(s.feeAmount, s.stepFeeAmount)
	overflow = overflow || o
	if overflow || s.amountIn.Gt(clmm.MaxU128) || s.amountOut.Gt(clmm.MaxU128) {
		return fmt.Errorf("%w: swap totals exceed 128 bits", clmm.ErrMathError)
	}

	if s.stepFeeAmount.IsZero() {
		return nil
	}

	s.stepProtocol.Mul(s.stepFeeAmount, uint256.NewInt(uint64(pool.ProtocolFeeRate)))
	s.stepProtocol.Div(s.stepProtocol, feeDenominator)
	lpFee := new(uint256.Int).Sub(s.stepFeeAmount, s.stepProtocol)
	if s.liquidity.IsZero() {
		// nobody to distribute to
		s.stepProtocol.Add(s.stepProtocol, lpFee)
		lpFee.Clear()
	}
	s.protocolFee.Add(s.protocolFee, s.stepProtocol)

	if lpFee.IsZero() {
		return nil
	}
	s.growth.Lsh(lpFee, clmm.Resolution)
	s.growth.Div(s.growth, s.liquidity)

	feeGrowth := s.feeGrowthB
	if aToB {
		feeGrowth = s.feeGrowthA
	}
	feeGrowth.Add(feeGrowth, s.growth)
	if feeGrowth.Gt(clmm.MaxU128) {
		return fmt.Errorf("%w: global fee growth exceeds 128 bits", clmm.ErrInvalidFeeGrowth)
	}
	return nil
}

// cross moves the swap across tickNext and applies its liquidity net.
func (s *swapState) cross(ticks TickSource, tickNext int32, aToB bool) (*clmm.Tick, error) {
	stored, err := ticks.Tick(tickNext)
	if err != nil {
		return nil, fmt.Errorf("%w: loading initialized tick %d: %v", clmm.ErrTickNotFound, tickNext, err)
	}
	tick := stored.Clone()

	liquidityNet := tick.Cross(s.feeGrowthA, s.feeGrowthB)
	if aToB {
		liquidityNet.Neg(liquidityNet)
	}
	if err := liquiditymath.AddDelta(s.liquidity, s.liquidity, liquidityNet); err != nil {
		return nil, fmt.Errorf("crossing tick %d: %w", tickNext, err)
	}

	if aToB {
		s.tick = tickNext - 1
	} else {
		s.tick = tickNext
	}
	return tick, nil
}

func priceLimit(current *uint256.Int, params SwapParams) (*uint256.Int, error) {
	if params.SqrtPriceLimit == nil {
		if params.AToB {
			return tickmath.MinSqrtPrice, nil
		}
		return tickmath.MaxSqrtPrice, nil
	}

	limit := params.SqrtPriceLimit
	if params.AToB && (limit.Gt(current) || limit.Lt(tickmath.MinSqrtPrice)) {
		return nil, fmt.Errorf("%w: sqrt price limit %s must be in [%s, %s]", clmm.ErrInvalidTick, limit.Dec(), tickmath.MinSqrtPrice.Dec(), current.Dec())
	}
	if !params.AToB && (limit.Lt(current) || limit.Gt(tickmath.MaxSqrtPrice)) {
		return nil, fmt.Errorf("%w: sqrt price limit %s must be in [%s, %s]", clmm.ErrInvalidTick, limit.Dec(), current.Dec(), tickmath.MaxSqrtPrice.Dec())
	}
	return limit, nil
}

// addU128 returns x + y as a new value, failing past 128 bits. A nil x is zero.
func addU128(x, y *uint256.Int) (*uint256.Int, error) {
	z := new(uint256.Int)
	if x != nil {
		z.Set(x)
	}
	if _, overflow := z.AddOverflow(z, y); overflow || z.Gt(clmm.MaxU128) {
		return nil, fmt.Errorf("%w: protocol fees exceed 128 bits", clmm.ErrMathError)
	}
	return z, nil
}
