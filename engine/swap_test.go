package engine

import (
	"context"
	"crypto/rand"
	"math/big"
	"sync"
	"testing"

	"github.com/defistate/defistate-clmm-go/ledger"
	"github.com/defistate/defistate-clmm-go/protocols/clmm"
	"github.com/defistate/defistate-clmm-go/protocols/clmm/calculator"
	"github.com/defistate/defistate-clmm-go/protocols/clmm/calculator/tickmath"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// liquidPool returns an engine holding the A/B pool at price 1 with
// 1,000,000 liquidity over [-100, 100) and a funded trader.
func liquidPool(t *testing.T, feeRate uint32, opts ...func(*Config)) (*testEngine, *clmm.Pool) {
	t.Helper()
	te := newTestEngine(t, opts...)
	pool := te.initPool(t, feeRate)
	te.provide(t, pool.ID, -100, 100, 1_000_000)
	te.fund(t, trader, 1_000_000_000)
	return te, pool
}

func TestSwap(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name         string
		feeRate      uint32
		params       SwapParams
		amountIn     uint64
		amountOut    uint64
		fee          uint64
		outcome      calculator.Outcome
		tick         int32
		liquidity    uint64
		ticksCrossed int
	}{
		{
			name:         "a to b within the range",
			params:       SwapParams{Amount: 1000, AToB: true},
			amountIn:     1000,
			amountOut:    999,
			outcome:      calculator.OutcomeSettled,
			tick:         -20,
			liquidity:    1_000_000,
			ticksCrossed: 1,
		},
		{
			name:         "b to a through the upper bound",
			params:       SwapParams{Amount: 1_000_000_000},
			amountIn:     5013,
			amountOut:    4987,
			outcome:      calculator.OutcomeBlocked,
			tick:         100,
			ticksCrossed: 1,
		},
		{
			name:         "a to b through the lower bound",
			params:       SwapParams{Amount: 1_000_000_000, AToB: true},
			amountIn:     5013,
			amountOut:    4987,
			outcome:      calculator.OutcomeBlocked,
			tick:         -101,
			ticksCrossed: 2,
		},
		{
			name:      "exact output b to a",
			params:    SwapParams{Amount: 100, ExactOutput: true},
			amountIn:  101,
			amountOut: 100,
			outcome:   calculator.OutcomeSettled,
			tick:      2,
			liquidity: 1_000_000,
		},
		{
			name:         "a to b with fee",
			feeRate:      3000,
			params:       SwapParams{Amount: 1000, AToB: true},
			amountIn:     1000,
			amountOut:    996,
			fee:          3,
			outcome:      calculator.OutcomeSettled,
			tick:         -20,
			liquidity:    1_000_000,
			ticksCrossed: 1,
		},
		{
			name:         "b to a with fee through the upper bound",
			feeRate:      3000,
			params:       SwapParams{Amount: 1_000_000_000},
			amountIn:     5029,
			amountOut:    4987,
			fee:          15,
			outcome:      calculator.OutcomeBlocked,
			tick:         100,
			ticksCrossed: 1,
		},
		{
			name:      "exact output with fee",
			feeRate:   3000,
			params:    SwapParams{Amount: 100, ExactOutput: true},
			amountIn:  102,
			amountOut: 100,
			outcome:   calculator.OutcomeSettled,
			tick:      2,
			liquidity: 1_000_000,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			te, pool := liquidPool(t, tc.feeRate)
			params := tc.params
			params.PoolID = pool.ID
			params.Trader = trader

			result, err := te.Swap(ctx, params)
			require.NoError(t, err)
			assert.Equal(t, tc.amountIn, result.AmountIn)
			assert.Equal(t, tc.amountOut, result.AmountOut)
			assert.Equal(t, tc.fee, result.FeeAmount)
			assert.Equal(t, tc.outcome, result.Outcome)
			assert.Equal(t, tc.tick, result.TickCurrent)
			assert.Equal(t, tc.liquidity, result.Liquidity.Uint64())
			assert.Equal(t, tc.ticksCrossed, result.TicksCrossed)

			after, err := te.Pool(ctx, pool.ID)
			require.NoError(t, err)
			assert.Equal(t, result.TickCurrent, after.TickCurrent)
			assert.True(t, result.SqrtPrice.Eq(after.SqrtPrice))
			assert.True(t, result.Liquidity.Eq(after.Liquidity))

			tokenIn, tokenOut := tokenB, tokenA
			vaultIn, vaultOut := pool.VaultB, pool.VaultA
			if params.AToB {
				tokenIn, tokenOut = tokenA, tokenB
				vaultIn, vaultOut = pool.VaultA, pool.VaultB
			}
			assert.Equal(t, 4988+tc.amountIn, te.ledger.GetBalance(tokenIn, vaultIn))
			assert.Equal(t, 4988-tc.amountOut, te.ledger.GetBalance(tokenOut, vaultOut))
			assert.Equal(t, 1_000_000_000-tc.amountIn, te.ledger.GetBalance(tokenIn, trader))
			assert.Equal(t, 1_000_000_000+tc.amountOut, te.ledger.GetBalance(tokenOut, trader))
		})
	}
}

func TestSwap_Fees(t *testing.T) {
	ctx := context.Background()

	t.Run("fees go to the position on removal", func(t *testing.T) {
		te, pool := liquidPool(t, 3000)
		_, err := te.Swap(ctx, SwapParams{PoolID: pool.ID, Trader: trader, Amount: 1000, AToB: true})
		require.NoError(t, err)

		after, err := te.Pool(ctx, pool.ID)
		require.NoError(t, err)
		assert.Equal(t, "55340232221128", after.FeeGrowthGlobalA.Dec())
		assert.True(t, after.FeeGrowthGlobalB.IsZero())

		positionID := clmm.PositionID(pool.ID, lp, -100, 100)
		feesA, feesB, err := te.PendingFees(ctx, positionID)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), feesA)
		assert.Zero(t, feesB)

		removed, err := te.RemoveLiquidity(ctx, RemoveLiquidityParams{PoolID: pool.ID, Owner: lp, TickLower: -100, TickUpper: 100})
		require.NoError(t, err)
		assert.Equal(t, uint64(2), removed.FeesA)
		assert.Equal(t, uint64(5984+2), removed.AmountA)
		assert.Equal(t, uint64(3991), removed.AmountB)
	})

	t.Run("fees earned before the price leaves the range", func(t *testing.T) {
		te, pool := liquidPool(t, 3000)
		_, err := te.Swap(ctx, SwapParams{PoolID: pool.ID, Trader: trader, Amount: 1_000_000_000})
		require.NoError(t, err)

		removed, err := te.RemoveLiquidity(ctx, RemoveLiquidityParams{PoolID: pool.ID, Owner: lp, TickLower: -100, TickUpper: 100})
		require.NoError(t, err)
		assert.Zero(t, removed.FeesA)
		assert.Equal(t, uint64(14), removed.FeesB)
		assert.Zero(t, removed.AmountA)
		assert.Equal(t, uint64(9999+14), removed.AmountB)
	})

	t.Run("protocol share is retained by the pool", func(t *testing.T) {
		te := newTestEngine(t)
		pool, err := te.InitializePool(ctx, InitializePoolParams{
			TokenA:          tokenA,
			TokenB:          tokenB,
			SqrtPrice:       clmm.Q64,
			TickSpacing:     1,
			FeeRate:         3000,
			ProtocolFeeRate: 100_000,
		})
		require.NoError(t, err)
		te.provide(t, pool.ID, -100, 100, 1_000_000)
		te.fund(t, trader, 1_000_000_000)

		result, err := te.Swap(ctx, SwapParams{PoolID: pool.ID, Trader: trader, Amount: 1_000_000_000, AToB: true})
		require.NoError(t, err)
		assert.Equal(t, uint64(15), result.FeeAmount)
		assert.Equal(t, uint64(1), result.ProtocolFee)

		after, err := te.Pool(ctx, pool.ID)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), after.ProtocolFeeA.Uint64())
		assert.Equal(t, "258254417031933", after.FeeGrowthGlobalA.Dec())
	})
}

func TestSwap_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("zero amount", func(t *testing.T) {
		te, pool := liquidPool(t, 0)
		_, err := te.Swap(ctx, SwapParams{PoolID: pool.ID, Trader: trader, AToB: true})
		assert.ErrorIs(t, err, clmm.ErrInvalidAmount)
	})

	t.Run("no output", func(t *testing.T) {
		te, pool := liquidPool(t, 0)
		_, err := te.Swap(ctx, SwapParams{PoolID: pool.ID, Trader: trader, Amount: 1, AToB: true})
		assert.ErrorIs(t, err, clmm.ErrInvalidAmount)
	})

	t.Run("unknown pool", func(t *testing.T) {
		te, _ := liquidPool(t, 0)
		_, err := te.Swap(ctx, SwapParams{PoolID: common.HexToHash("0x01"), Trader: trader, Amount: 1000})
		assert.ErrorIs(t, err, clmm.ErrInvalidPool)
	})

	t.Run("pool without liquidity", func(t *testing.T) {
		te := newTestEngine(t)
		pool := te.initPool(t, 0)
		te.fund(t, trader, 1_000_000)

		for _, aToB := range []bool{true, false} {
			_, err := te.Swap(ctx, SwapParams{PoolID: pool.ID, Trader: trader, Amount: 1000, AToB: aToB})
			assert.ErrorIs(t, err, clmm.ErrInsufficientLiquidity)
		}
	})

	t.Run("price limit on the wrong side", func(t *testing.T) {
		te, pool := liquidPool(t, 0)
		limit := new(uint256.Int)
		require.NoError(t, tickmath.SqrtPriceAtTick(limit, 10))
		_, err := te.Swap(ctx, SwapParams{PoolID: pool.ID, Trader: trader, Amount: 1000, AToB: true, SqrtPriceLimit: limit})
		assert.ErrorIs(t, err, clmm.ErrInvalidTick)
	})

	t.Run("too many crossings", func(t *testing.T) {
		te, pool := liquidPool(t, 0, func(c *Config) { c.MaxSwapIterations = 1 })
		_, err := te.Swap(ctx, SwapParams{PoolID: pool.ID, Trader: trader, Amount: 1_000_000_000, AToB: true})
		assert.ErrorIs(t, err, clmm.ErrTooManyIterations)

		after, err := te.Pool(ctx, pool.ID)
		require.NoError(t, err)
		assert.Equal(t, int32(0), after.TickCurrent)
	})

	t.Run("minimum output", func(t *testing.T) {
		te, pool := liquidPool(t, 0)
		_, err := te.Swap(ctx, SwapParams{PoolID: pool.ID, Trader: trader, Amount: 1000, AToB: true, OtherAmountThreshold: 1000})
		assert.ErrorIs(t, err, clmm.ErrInvalidAmount)

		result, err := te.Swap(ctx, SwapParams{PoolID: pool.ID, Trader: trader, Amount: 1000, AToB: true, OtherAmountThreshold: 999})
		require.NoError(t, err)
		assert.Equal(t, uint64(999), result.AmountOut)
	})

	t.Run("maximum input", func(t *testing.T) {
		te, pool := liquidPool(t, 0)
		_, err := te.Swap(ctx, SwapParams{PoolID: pool.ID, Trader: trader, Amount: 100, ExactOutput: true, OtherAmountThreshold: 100})
		assert.ErrorIs(t, err, clmm.ErrInvalidAmount)

		result, err := te.Swap(ctx, SwapParams{PoolID: pool.ID, Trader: trader, Amount: 100, ExactOutput: true, OtherAmountThreshold: 101})
		require.NoError(t, err)
		assert.Equal(t, uint64(101), result.AmountIn)
	})

	t.Run("trader cannot pay", func(t *testing.T) {
		te, pool := liquidPool(t, 0)
		broke := common.HexToAddress("0x0000000000000000000000000000000000003003")
		events := make(chan Event, 1)
		sub := te.SubscribeEvents(events)
		defer sub.Unsubscribe()

		_, err := te.Swap(ctx, SwapParams{PoolID: pool.ID, Trader: broke, Amount: 1000, AToB: true})
		assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

		after, err := te.Pool(ctx, pool.ID)
		require.NoError(t, err)
		assert.Equal(t, pool.TickCurrent, after.TickCurrent)
		assert.True(t, clmm.Q64.Eq(after.SqrtPrice))
		assert.Empty(t, events)
		assert.Equal(t, 1.0, testutil.ToFloat64(te.metrics.operations.WithLabelValues(opSwap, "error")))
	})
}

func TestQuote(t *testing.T) {
	ctx := context.Background()
	te, pool := liquidPool(t, 3000)
	before, err := te.Pool(ctx, pool.ID)
	require.NoError(t, err)

	params := SwapParams{PoolID: pool.ID, Trader: trader, Amount: 1_000_000_000, AToB: true}
	quoted, err := te.Quote(ctx, params)
	require.NoError(t, err)

	unchanged, err := te.Pool(ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, before, unchanged)
	assert.Equal(t, uint64(1_000_000_000), te.ledger.GetBalance(tokenA, trader))

	swapped, err := te.Swap(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, quoted, swapped)

	assert.Equal(t, 1.0, testutil.ToFloat64(te.metrics.partialFills))
	assert.Equal(t, 2.0, testutil.ToFloat64(te.metrics.ticksCrossed))
}

func TestEvents(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t)
	events := make(chan Event, 8)
	sub := te.SubscribeEvents(events)
	defer sub.Unsubscribe()

	pool := te.initPool(t, 0)
	te.provide(t, pool.ID, -100, 100, 1_000_000)
	te.fund(t, trader, 1_000_000)
	_, err := te.Swap(ctx, SwapParams{PoolID: pool.ID, Trader: trader, Amount: 1000, AToB: true})
	require.NoError(t, err)
	_, err = te.RemoveLiquidity(ctx, RemoveLiquidityParams{PoolID: pool.ID, Owner: lp, TickLower: -100, TickUpper: 100})
	require.NoError(t, err)

	expected := []EventType{EventInitialize, EventProvide, EventSwap, EventRemove}
	for i, typ := range expected {
		ev := receiveEvent(t, events)
		assert.Equal(t, uint64(i+1), ev.Sequence)
		assert.Equal(t, typ, ev.Type)
		assert.Equal(t, pool.ID, ev.Pool.ID)
		assert.NotZero(t, ev.Timestamp)
		switch typ {
		case EventSwap:
			assert.Equal(t, trader, ev.Account)
			require.Len(t, ev.Transfers, 2)
			assert.Equal(t, uint64(1000), ev.Transfers[0].Amount)
			assert.Equal(t, uint64(999), ev.Transfers[1].Amount)
			assert.Equal(t, int32(-20), ev.Pool.TickCurrent)
		case EventProvide, EventRemove:
			require.NotNil(t, ev.Position)
			assert.Equal(t, lp, ev.Account)
		}
	}
}

func TestSwap_Concurrent(t *testing.T) {
	ctx := context.Background()
	te, pool := liquidPool(t, 3000)

	traders := make([]common.Address, 8)
	for i := range traders {
		traders[i] = common.BigToAddress(big.NewInt(int64(0x4000 + i)))
		te.fund(t, traders[i], 1_000_000)
	}

	var wg sync.WaitGroup
	for i, account := range traders {
		wg.Add(1)
		go func(i int, account common.Address) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				n, err := rand.Int(rand.Reader, big.NewInt(3000))
				if !assert.NoError(t, err) {
					return
				}
				_, err = te.Swap(ctx, SwapParams{
					PoolID: pool.ID,
					Trader: account,
					Amount: n.Uint64() + 10,
					AToB:   (i+j)%2 == 0,
				})
				if err != nil {
					assert.ErrorIs(t, err, clmm.ErrInsufficientLiquidity)
				}
			}
		}(i, account)
	}
	wg.Wait()

	// no tokens are created or destroyed
	for _, token := range []common.Address{tokenA, tokenB} {
		total := te.ledger.GetBalance(token, lp) + te.ledger.GetBalance(token, trader)
		vault, _ := pool.VaultFor(token)
		total += te.ledger.GetBalance(token, vault)
		for _, account := range traders {
			total += te.ledger.GetBalance(token, account)
		}
		assert.Equal(t, uint64(1_000_000+1_000_000_000+8*1_000_000), total)
	}

	// the vaults always cover the position
	removed, err := te.RemoveLiquidity(ctx, RemoveLiquidityParams{PoolID: pool.ID, Owner: lp, TickLower: -100, TickUpper: 100})
	require.NoError(t, err)
	assert.NotZero(t, removed.AmountA+removed.AmountB)

	after, err := te.Pool(ctx, pool.ID)
	require.NoError(t, err)
	assert.True(t, after.Liquidity.IsZero())
	assert.True(t, after.SqrtPrice.Cmp(uint256.MustFromDecimal("18354745142194483564")) >= 0)
}
