package tickmath

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/defistate/defistate-clmm-go/protocols/clmm"
	"github.com/defistate/defistate-clmm-go/protocols/clmm/calculator/bitmath"
	"github.com/holiman/uint256"
)

const (
	// MinTick is the minimum tick that may be passed to SqrtPriceAtTick.
	MinTick = int32(-443636)
	// MaxTick is the maximum tick that may be passed to SqrtPriceAtTick.
	MaxTick = int32(443636)

	// ticksPerBitLow and ticksPerBitHigh bracket 2 / log2(1.0001), the
	// number of ticks spanned by one doubling of the sqrt price.
	ticksPerBitLow  = 13863
	ticksPerBitHigh = 13864
)

var (
	// MinSqrtPrice is SqrtPriceAtTick(MinTick), the lowest representable price.
	MinSqrtPrice *uint256.Int
	// MaxSqrtPrice is SqrtPriceAtTick(MaxTick), the highest representable price.
	MaxSqrtPrice *uint256.Int

	one        = uint256.NewInt(1)
	maxUint256 = new(uint256.Int).SetAllOne()
	// lowMask keeps the 64 bits discarded when a Q128.128 ratio becomes Q64.64.
	lowMask = new(uint256.Int).SetUint64(^uint64(0))

	// ratioConstants[0] is 1/sqrt(1.0001) in Q128.128, ratioConstants[1] is 1.0
	// and ratioConstants[i] for i >= 2 is 1/sqrt(1.0001^(2^(i-1))).
	ratioConstants = [21]*uint256.Int{
		uint256.MustFromBig(fromHex("0xfffcb933bd6fad37aa2d162d1a594001")),
		uint256.MustFromBig(fromHex("0x100000000000000000000000000000000")),
		uint256.MustFromBig(fromHex("0xfff97272373d413259a46990580e213a")),
		uint256.MustFromBig(fromHex("0xfff2e50f5f656932ef12357cf3c7fdcc")),
		uint256.MustFromBig(fromHex("0xffe5caca7e10e4e61c3624eaa0941cd0")),
		uint256.MustFromBig(fromHex("0xffcb9843d60f6159c9db58835c926644")),
		uint256.MustFromBig(fromHex("0xff973b41fa98c081472e6896dfb254c0")),
		uint256.MustFromBig(fromHex("0xff2ea16466c96a3843ec78b326b52861")),
		uint256.MustFromBig(fromHex("0xfe5dee046a99a2a811c461f1969c3053")),
		uint256.MustFromBig(fromHex("0xfcbe86c7900a88aedcffc83b479aa3a4")),
		uint256.MustFromBig(fromHex("0xf987a7253ac413176f2b074cf7815e54")),
		uint256.MustFromBig(fromHex("0xf3392b0822b70005940c7a398e4b70f3")),
		uint256.MustFromBig(fromHex("0xe7159475a2c29b7443b29c7fa6e889d9")),
		uint256.MustFromBig(fromHex("0xd097f3bdfd2022b8845ad8f792aa5825")),
		uint256.MustFromBig(fromHex("0xa9f746462d870fdf8a65dc1f90e061e5")),
		uint256.MustFromBig(fromHex("0x70d869a156d2a1b890bb3df62baf32f7")),
		uint256.MustFromBig(fromHex("0x31be135f97d08fd981231505542fcfa6")),
		uint256.MustFromBig(fromHex("0x9aa508b5b7a84e1c677de54f3e99bc9")),
		uint256.MustFromBig(fromHex("0x5d6af8dedb81196699c329225ee604")),
		uint256.MustFromBig(fromHex("0x2216e584f5fa1ea926041bedfe98")),
		uint256.MustFromBig(fromHex("0x48a170391f7dc42444e8fa2")),
	}
)

func init() {
	MinSqrtPrice = new(uint256.Int)
	MaxSqrtPrice = new(uint256.Int)
	if err := SqrtPriceAtTick(MinSqrtPrice, MinTick); err != nil {
		panic(err)
	}
	if err := SqrtPriceAtTick(MaxSqrtPrice, MaxTick); err != nil {
		panic(err)
	}
}

// tickMath holds reusable scratch values.
type tickMath struct {
	ratio *uint256.Int
	rem   *uint256.Int
	price *uint256.Int
}

var pool = sync.Pool{
	New: func() any {
		return &tickMath{
			ratio: new(uint256.Int),
			rem:   new(uint256.Int),
			price: new(uint256.Int),
		}
	},
}

// SqrtPriceAtTick writes sqrt(1.0001^tick) * 2^64 into dest, rounded up.
// The computation is pure integer arithmetic and therefore bit-exact on every platform.
func SqrtPriceAtTick(dest *uint256.Int, tick int32) error {
	if tick < MinTick || tick > MaxTick {
		return fmt.Errorf("%w: tick %d outside [%d, %d]", clmm.ErrInvalidTick, tick, MinTick, MaxTick)
	}

	tm := pool.Get().(*tickMath)
	defer pool.Put(tm)

	absTick := int64(tick)
	if absTick < 0 {
		absTick = -absTick
	}

	if absTick&0x1 != 0 {
		tm.ratio.Set(ratioConstants[0])
	} else {
		tm.ratio.Set(ratioConstants[1])
	}
	for i := 2; i < len(ratioConstants); i++ {
		if absTick&(1<<(i-1)) != 0 {
			tm.ratio.Mul(tm.ratio, ratioConstants[i]).Rsh(tm.ratio, 128)
		}
	}

	// the product is 1/sqrt(1.0001^|tick|); positive ticks need its reciprocal
	if tick > 0 {
		tm.ratio.Div(maxUint256, tm.ratio)
	}

	// Q128.128 -> Q64.64, rounding up so the result never undershoots the tick.
	tm.rem.And(tm.ratio, lowMask)
	tm.ratio.Rsh(tm.ratio, 64)
	if !tm.rem.IsZero() {
		tm.ratio.Add(tm.ratio, one)
	}

	dest.Set(tm.ratio)
	return nil
}

// TickAtSqrtPrice returns the greatest tick t such that SqrtPriceAtTick(t) <= sqrtPrice.
// sqrtPrice must lie in [MinSqrtPrice, MaxSqrtPrice]; both ends map back to MinTick and MaxTick.
func TickAtSqrtPrice(sqrtPrice *uint256.Int) (int32, error) {
	if sqrtPrice == nil || sqrtPrice.Lt(MinSqrtPrice) || sqrtPrice.Gt(MaxSqrtPrice) {
		return 0, fmt.Errorf("%w: sqrt price out of bounds", clmm.ErrInvalidTick)
	}

	low, high, err := searchBounds(sqrtPrice)
	if err != nil {
		return 0, err
	}

	tm := pool.Get().(*tickMath)
	defer pool.Put(tm)

	tick := low
	for low <= high {
		mid := low + (high-low)/2
		if err := SqrtPriceAtTick(tm.price, mid); err != nil {
			return 0, err
		}
		if !tm.price.Gt(sqrtPrice) {
			tick = mid
			low = mid + 1
		} else {
			high = mid - 1
		}
	}
	return tick, nil
}

// searchBounds narrows the binary search using the position of the price's
// most significant bit: a sqrt price in [2^(64+e), 2^(65+e)) lies within
// roughly 13863.6 ticks per unit of e.
func searchBounds(sqrtPrice *uint256.Int) (int32, int32, error) {
	msb, err := bitmath.MostSignificantBit(sqrtPrice)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", clmm.ErrInvalidTick, err)
	}
	e := int64(msb) - clmm.Resolution

	low := min(e*ticksPerBitLow, e*ticksPerBitHigh) - 1
	high := max((e+1)*ticksPerBitLow, (e+1)*ticksPerBitHigh) + 1
	return int32(max(low, int64(MinTick))), int32(min(high, int64(MaxTick))), nil
}

func fromHex(s string) *big.Int {
	n, _ := new(big.Int).SetString(s[2:], 16)
	return n
}
