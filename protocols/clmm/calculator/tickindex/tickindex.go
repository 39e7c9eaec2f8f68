package tickindex

import (
	"fmt"
	"sort"

	"github.com/defistate/defistate-clmm-go/protocols/clmm"
)

// Direction is the way the price moves while searching for ticks.
type Direction uint8

const (
	// Decreasing searches below the current tick (asset A in).
	Decreasing Direction = iota
	// Increasing searches above the current tick (asset B in).
	Increasing
)

// DirectionFor returns the search direction of a swap.
func DirectionFor(aToB bool) Direction {
	if aToB {
		return Decreasing
	}
	return Increasing
}

func (d Direction) String() string {
	if d == Decreasing {
		return "decreasing"
	}
	return "increasing"
}

// Next returns the nearest initialized tick strictly below (Decreasing) or
// strictly above (Increasing) tick. ticks must be sorted and unique.
//
// It fails with clmm.ErrTickNotFound when no such tick exists, which callers
// treat as the edge of the provisioned curve.
func Next(ticks []int32, tick int32, dir Direction) (int32, error) {
	if dir == Decreasing {
		// smallest index i with ticks[i] >= tick; the answer sits just before it
		index := sort.Search(len(ticks), func(i int) bool {
			return ticks[i] >= tick
		})
		if index == 0 {
			return 0, fmt.Errorf("%w: no initialized tick below %d", clmm.ErrTickNotFound, tick)
		}
		return ticks[index-1], nil
	}

	index := sort.Search(len(ticks), func(i int) bool {
		return ticks[i] > tick
	})
	if index >= len(ticks) {
		return 0, fmt.Errorf("%w: no initialized tick above %d", clmm.ErrTickNotFound, tick)
	}
	return ticks[index], nil
}

// Insert adds tick to the sorted set, returning the updated set and whether
// the tick was new. The input slice may be modified.
func Insert(ticks []int32, tick int32) ([]int32, bool) {
	index := sort.Search(len(ticks), func(i int) bool {
		return ticks[i] >= tick
	})
	if index < len(ticks) && ticks[index] == tick {
		return ticks, false
	}
	ticks = append(ticks, 0)
	copy(ticks[index+1:], ticks[index:])
	ticks[index] = tick
	return ticks, true
}

// Contains reports whether tick is initialized.
func Contains(ticks []int32, tick int32) bool {
	index := sort.Search(len(ticks), func(i int) bool {
		return ticks[i] >= tick
	})
	return index < len(ticks) && ticks[index] == tick
}

// Remove deletes tick from the sorted set, returning the updated set and
// whether the tick was present. The input slice may be modified.
func Remove(ticks []int32, tick int32) ([]int32, bool) {
	index := sort.Search(len(ticks), func(i int) bool {
		return ticks[i] >= tick
	})
	if index == len(ticks) || ticks[index] != tick {
		return ticks, false
	}
	return append(ticks[:index], ticks[index+1:]...), true
}
