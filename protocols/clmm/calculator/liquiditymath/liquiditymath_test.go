package liquiditymath

import (
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/defistate/defistate-clmm-go/protocols/clmm"
	"github.com/defistate/defistate-clmm-go/protocols/clmm/calculator/tickmath"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddDelta(t *testing.T) {
	testCases := []struct {
		name     string
		x        *uint256.Int
		delta    *big.Int
		expected uint64
		err      error
	}{
		{"add", uint256.NewInt(1), big.NewInt(2), 3, nil},
		{"subtract", uint256.NewInt(3), big.NewInt(-2), 1, nil},
		{"to zero", uint256.NewInt(3), big.NewInt(-3), 0, nil},
		{"underflow", uint256.NewInt(3), big.NewInt(-4), 0, ErrLiquidityUnderflow},
		{"overflow", clmm.MaxU128, big.NewInt(1), 0, ErrLiquidityOverflow},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dest := uint256.NewInt(99)
			err := AddDelta(dest, tc.x, tc.delta)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				assert.ErrorIs(t, err, clmm.ErrMathError)
				assert.Equal(t, uint64(99), dest.Uint64(), "dest must be untouched on error")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, dest.Uint64())
		})
	}
}

func TestAmountsForLiquidity(t *testing.T) {
	liquidity := uint256.NewInt(1_000_000)

	testCases := []struct {
		name        string
		tickCurrent int32
		roundUp     bool
		expectedA   uint64
		expectedB   uint64
	}{
		{"in range rounded up", 0, true, 4988, 4988},
		{"in range rounded down", 0, false, 4987, 4987},
		{"below range", -200, true, 10000, 0},
		{"at lower bound", -100, true, 10000, 0},
		{"above range", 200, true, 0, 10000},
		{"at upper bound", 100, true, 0, 10000},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			amountA, amountB := new(uint256.Int), new(uint256.Int)
			err := AmountsForLiquidity(amountA, amountB, liquidity, -100, 100, tc.tickCurrent, tc.roundUp)
			require.NoError(t, err)
			assert.Equal(t, tc.expectedA, amountA.Uint64())
			assert.Equal(t, tc.expectedB, amountB.Uint64())
		})
	}

	t.Run("invalid range", func(t *testing.T) {
		err := AmountsForLiquidity(new(uint256.Int), new(uint256.Int), liquidity, 100, 100, 0, true)
		assert.ErrorIs(t, err, clmm.ErrInvalidTickRange)
		err = AmountsForLiquidity(new(uint256.Int), new(uint256.Int), liquidity, 100, -100, 0, true)
		assert.ErrorIs(t, err, clmm.ErrInvalidTickRange)
	})

	t.Run("range outside the tick domain", func(t *testing.T) {
		err := AmountsForLiquidity(new(uint256.Int), new(uint256.Int), liquidity, tickmath.MinTick-1, 0, 0, true)
		assert.ErrorIs(t, err, clmm.ErrInvalidTick)
	})

	t.Run("at price matches at tick", func(t *testing.T) {
		a1, b1 := new(uint256.Int), new(uint256.Int)
		a2, b2 := new(uint256.Int), new(uint256.Int)
		require.NoError(t, AmountsForLiquidity(a1, b1, liquidity, -100, 100, 37, true))
		price := new(uint256.Int)
		require.NoError(t, tickmath.SqrtPriceAtTick(price, 37))
		require.NoError(t, AmountsForLiquidityAtPrice(a2, b2, liquidity, -100, 100, price, true))
		assert.True(t, a1.Eq(a2))
		assert.True(t, b1.Eq(b2))
	})

	t.Run("full range max liquidity overflows", func(t *testing.T) {
		err := AmountsForLiquidity(new(uint256.Int), new(uint256.Int), clmm.MaxU128, tickmath.MinTick, tickmath.MaxTick, 0, true)
		assert.ErrorIs(t, err, clmm.ErrMathError)
	})
}

// --- Invariant Tests (Fuzzing) ---

func randomInt(t *testing.T, lo, hi int64) int64 {
	n, err := rand.Int(rand.Reader, big.NewInt(hi-lo+1))
	require.NoError(t, err)
	return n.Int64() + lo
}

func TestAmountsForLiquidity_Monotonic(t *testing.T) {
	for i := 0; i < 500; i++ {
		lower := int32(randomInt(t, -50000, 49000))
		upper := lower + int32(randomInt(t, 1, 1000))
		current := int32(randomInt(t, int64(lower)-500, int64(upper)+500))
		small := uint256.NewInt(uint64(randomInt(t, 1, 1<<40)))
		large := new(uint256.Int).Add(small, uint256.NewInt(uint64(randomInt(t, 1, 1<<40))))

		a1, b1 := new(uint256.Int), new(uint256.Int)
		a2, b2 := new(uint256.Int), new(uint256.Int)
		require.NoError(t, AmountsForLiquidity(a1, b1, small, lower, upper, current, true))
		require.NoError(t, AmountsForLiquidity(a2, b2, large, lower, upper, current, true))

		assert.False(t, a2.Lt(a1), "amount A must not decrease with liquidity")
		assert.False(t, b2.Lt(b1), "amount B must not decrease with liquidity")

		// rounding up never pays out less than rounding down
		a3, b3 := new(uint256.Int), new(uint256.Int)
		require.NoError(t, AmountsForLiquidity(a3, b3, small, lower, upper, current, false))
		assert.False(t, a1.Lt(a3))
		assert.False(t, b1.Lt(b3))
	}
}
