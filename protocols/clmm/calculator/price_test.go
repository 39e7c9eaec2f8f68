package calculator

import (
	"testing"

	"github.com/defistate/defistate-clmm-go/protocols/clmm"
	"github.com/defistate/defistate-clmm-go/protocols/clmm/calculator/tickmath"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceFromSqrtPrice(t *testing.T) {
	testCases := []struct {
		name      string
		sqrtPrice *uint256.Int
		decimalsA uint8
		decimalsB uint8
		expected  string
	}{
		{"unit price", clmm.Q64, 6, 6, "1"},
		{"unit price with decimal shift", clmm.Q64, 18, 6, "1000000000000"},
		{"unit price with negative shift", clmm.Q64, 6, 9, "0.001"},
		{"price four", new(uint256.Int).Lsh(clmm.Q64, 1), 0, 0, "4"},
		{"price a quarter", new(uint256.Int).Rsh(clmm.Q64, 1), 0, 0, "0.25"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			price := PriceFromSqrtPrice(tc.sqrtPrice, tc.decimalsA, tc.decimalsB)
			assert.True(t, price.Equal(decimal.RequireFromString(tc.expected)), "got %s", price)
		})
	}

	assert.True(t, PriceFromSqrtPrice(nil, 0, 0).IsZero())
}

func TestSqrtPriceFromPrice(t *testing.T) {
	t.Run("round trips exact squares", func(t *testing.T) {
		for _, sqrtPrice := range []*uint256.Int{clmm.Q64, new(uint256.Int).Lsh(clmm.Q64, 1), new(uint256.Int).Rsh(clmm.Q64, 1)} {
			price := PriceFromSqrtPrice(sqrtPrice, 6, 6)
			got, err := SqrtPriceFromPrice(price, 6, 6)
			require.NoError(t, err)
			assert.Equal(t, sqrtPrice.Dec(), got.Dec())
		}
	})

	t.Run("decimals are undone", func(t *testing.T) {
		got, err := SqrtPriceFromPrice(decimal.RequireFromString("1000000000000"), 18, 6)
		require.NoError(t, err)
		assert.True(t, got.Eq(clmm.Q64))
	})

	t.Run("rounds down", func(t *testing.T) {
		got, err := SqrtPriceFromPrice(decimal.RequireFromString("2"), 0, 0)
		require.NoError(t, err)
		// floor(sqrt(2) * 2^64)
		assert.Equal(t, "26087635650665564424", got.Dec())
	})

	t.Run("non positive price", func(t *testing.T) {
		_, err := SqrtPriceFromPrice(decimal.Zero, 0, 0)
		assert.ErrorIs(t, err, clmm.ErrInvalidAmount)
		_, err = SqrtPriceFromPrice(decimal.NewFromInt(-1), 0, 0)
		assert.ErrorIs(t, err, clmm.ErrInvalidAmount)
	})

	t.Run("outside the tick domain", func(t *testing.T) {
		_, err := SqrtPriceFromPrice(decimal.New(1, 60), 0, 0)
		assert.ErrorIs(t, err, clmm.ErrInvalidTick)
		_, err = SqrtPriceFromPrice(decimal.New(1, -60), 0, 0)
		assert.ErrorIs(t, err, clmm.ErrInvalidTick)
	})

	t.Run("domain bounds are accepted", func(t *testing.T) {
		price := PriceFromSqrtPrice(tickmath.MaxSqrtPrice, 0, 0)
		got, err := SqrtPriceFromPrice(price, 0, 0)
		require.NoError(t, err)
		assert.False(t, got.Gt(tickmath.MaxSqrtPrice))
	})
}

func TestVirtualReserves(t *testing.T) {
	tp := singleRangePool(t)

	reserveA, reserveB, err := VirtualReserves(tp.pool)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), reserveA.Uint64())
	assert.Equal(t, uint64(1_000_000), reserveB.Uint64())

	tp.pool.SqrtPrice = new(uint256.Int).Lsh(clmm.Q64, 1)
	reserveA, reserveB, err = VirtualReserves(tp.pool)
	require.NoError(t, err)
	assert.Equal(t, uint64(500_000), reserveA.Uint64())
	assert.Equal(t, uint64(2_000_000), reserveB.Uint64())

	tp.pool.SqrtPrice = new(uint256.Int)
	_, _, err = VirtualReserves(tp.pool)
	assert.ErrorIs(t, err, clmm.ErrInvalidPool)
}
