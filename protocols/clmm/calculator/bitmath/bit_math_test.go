package bitmath

import (
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pow2(n uint) *uint256.Int {
	return new(uint256.Int).Lsh(uint256.NewInt(1), n)
}

func TestMostSignificantBit(t *testing.T) {
	testCases := []struct {
		name     string
		input    *uint256.Int
		expected uint8
		err      error
	}{
		{"Input 1", uint256.NewInt(1), 0, nil},
		{"Input 3", uint256.NewInt(3), 1, nil},
		{"Input 256", uint256.NewInt(256), 8, nil},
		{"Q64 one", pow2(64), 64, nil},
		{"Max u128", new(uint256.Int).Sub(pow2(128), uint256.NewInt(1)), 127, nil},
		{"Max u256", new(uint256.Int).SetAllOne(), 255, nil},
		{"Error on Zero", uint256.NewInt(0), 0, ErrInputIsZero},
		{"Error on Nil", nil, 0, ErrInputIsNil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := MostSignificantBit(tc.input)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, result)
		})
	}
}

func TestLeastSignificantBit(t *testing.T) {
	testCases := []struct {
		name     string
		input    *uint256.Int
		expected uint8
		err      error
	}{
		{"Input 1", uint256.NewInt(1), 0, nil},
		{"Input 8", uint256.NewInt(8), 3, nil},
		{"Input 10", uint256.NewInt(10), 1, nil},
		{"Second limb", pow2(70), 70, nil},
		{"Top limb", pow2(255), 255, nil},
		{"Two limbs set", new(uint256.Int).Or(pow2(128), pow2(64)), 64, nil},
		{"Error on Zero", uint256.NewInt(0), 0, ErrInputIsZero},
		{"Error on Nil", nil, 0, ErrInputIsNil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := LeastSignificantBit(tc.input)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, result)
		})
	}
}

func randomNonZero(t *testing.T) *uint256.Int {
	v, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 256))
	require.NoError(t, err)
	if v.Sign() == 0 {
		v.SetInt64(1)
	}
	return uint256.MustFromBig(v)
}

func TestBitMath_Invariant(t *testing.T) {
	for i := 0; i < 1000; i++ {
		input := randomNonZero(t)

		msb, err := MostSignificantBit(input)
		require.NoError(t, err)
		assert.False(t, input.Lt(pow2(uint(msb))), "input %s should be >= 2**%d", input.Dec(), msb)
		if msb < 255 {
			assert.True(t, input.Lt(pow2(uint(msb)+1)), "input %s should be < 2**%d", input.Dec(), msb+1)
		}

		lsb, err := LeastSignificantBit(input)
		require.NoError(t, err)
		bit := new(uint256.Int).And(input, pow2(uint(lsb)))
		assert.False(t, bit.IsZero())
		mask := new(uint256.Int).Sub(pow2(uint(lsb)), uint256.NewInt(1))
		assert.True(t, new(uint256.Int).And(input, mask).IsZero())
	}
}
