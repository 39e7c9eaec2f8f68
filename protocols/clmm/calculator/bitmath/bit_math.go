package bitmath

import (
	"errors"
	"math/bits"

	"github.com/holiman/uint256"
)

var (
	// ErrInputIsZero is returned when a function requires a non-zero input but receives zero.
	ErrInputIsZero = errors.New("input must be greater than zero")
	// ErrInputIsNil is returned when a function receives a nil pointer.
	ErrInputIsNil = errors.New("input cannot be nil")
)

// MostSignificantBit returns the index of the most significant set bit of x,
// counting the least significant bit as index 0.
//
// The result satisfies x >= 2**msb(x) and x < 2**(msb(x)+1).
func MostSignificantBit(x *uint256.Int) (uint8, error) {
	if x == nil {
		return 0, ErrInputIsNil
	}
	if x.IsZero() {
		return 0, ErrInputIsZero
	}
	return uint8(x.BitLen() - 1), nil
}

// LeastSignificantBit returns the index of the least significant set bit of x.
//
// The result satisfies (x & 2**lsb(x)) != 0.
func LeastSignificantBit(x *uint256.Int) (uint8, error) {
	if x == nil {
		return 0, ErrInputIsNil
	}
	if x.IsZero() {
		return 0, ErrInputIsZero
	}

	// uint256.Int is four little-endian 64-bit limbs.
	for i := 0; i < len(x); i++ {
		if word := x[i]; word != 0 {
			return uint8(i*64 + bits.TrailingZeros64(word)), nil
		}
	}
	return 0, ErrInputIsZero
}
