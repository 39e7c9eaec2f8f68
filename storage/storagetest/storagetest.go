// Package storagetest holds the behaviour every storage.Store must share.
package storagetest

import (
	"context"
	"math/big"
	"testing"

	"github.com/defistate/defistate-clmm-go/protocols/clmm"
	"github.com/defistate/defistate-clmm-go/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tokenA = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	tokenB = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	tokenC = common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7")
	owner  = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

// Pool returns a populated pool record for tokenA/tokenB style pairs.
func Pool(a, b common.Address) *clmm.Pool {
	id := clmm.PoolID(a, b)
	return &clmm.Pool{
		ID:               id,
		TokenA:           a,
		TokenB:           b,
		VaultA:           clmm.VaultAddress(id, a),
		VaultB:           clmm.VaultAddress(id, b),
		SqrtPrice:        new(uint256.Int).Set(clmm.Q64),
		Liquidity:        uint256.NewInt(1_000_000),
		TickSpacing:      10,
		FeeRate:          3000,
		FeeGrowthGlobalA: uint256.NewInt(7),
		FeeGrowthGlobalB: uint256.NewInt(9),
		ProtocolFeeA:     new(uint256.Int),
		ProtocolFeeB:     new(uint256.Int),
		Ticks:            []int32{-100, 0, 100},
	}
}

// Tick returns a tick record with a non-trivial liquidity net.
func Tick(poolID common.Hash, index int32, net int64) *clmm.Tick {
	t := clmm.NewTick(poolID, index, 0, uint256.NewInt(7), uint256.NewInt(9))
	t.LiquidityNet = big.NewInt(net)
	t.LiquidityGross = uint256.NewInt(uint64(max(net, -net)))
	return t
}

// Position returns a position record of owner over [lower, upper).
func Position(poolID common.Hash, lower, upper int32) *clmm.Position {
	return &clmm.Position{
		ID:               clmm.PositionID(poolID, owner, lower, upper),
		PoolID:           poolID,
		Owner:            owner,
		TickLower:        lower,
		TickUpper:        upper,
		Liquidity:        uint256.NewInt(1_000_000),
		FeeGrowthInsideA: uint256.NewInt(3),
		FeeGrowthInsideB: uint256.NewInt(4),
		TokensOwedA:      5,
	}
}

// Run exercises a fresh store returned by newStore.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		s := newStore(t)
		pool := Pool(tokenA, tokenB)
		lower, upper := Tick(pool.ID, -100, 1_000_000), Tick(pool.ID, 100, -1_000_000)
		pos := Position(pool.ID, -100, 100)

		require.NoError(t, s.Commit(ctx, &storage.Batch{
			InsertPools:  []*clmm.Pool{pool},
			PutTicks:     []*clmm.Tick{upper, lower},
			PutPositions: []*clmm.Position{pos},
		}))

		gotPool, err := s.Pool(ctx, pool.ID)
		require.NoError(t, err)
		assert.Equal(t, pool, gotPool)

		gotTick, err := s.Tick(ctx, pool.ID, -100)
		require.NoError(t, err)
		assert.Equal(t, lower, gotTick)

		ticks, err := s.Ticks(ctx, pool.ID)
		require.NoError(t, err)
		require.Len(t, ticks, 2)
		assert.Equal(t, int32(-100), ticks[0].Index)
		assert.Equal(t, int32(100), ticks[1].Index)

		gotPos, err := s.Position(ctx, pos.ID)
		require.NoError(t, err)
		assert.Equal(t, pos, gotPos)

		positions, err := s.Positions(ctx, pool.ID)
		require.NoError(t, err)
		assert.Equal(t, []*clmm.Position{pos}, positions)
	})

	t.Run("not found", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Pool(ctx, common.Hash{1})
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = s.Tick(ctx, common.Hash{1}, 0)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = s.Position(ctx, common.Hash{1})
		assert.ErrorIs(t, err, storage.ErrNotFound)

		ticks, err := s.Ticks(ctx, common.Hash{1})
		require.NoError(t, err)
		assert.Empty(t, ticks)
	})

	t.Run("records are copies", func(t *testing.T) {
		s := newStore(t)
		pool := Pool(tokenA, tokenB)
		require.NoError(t, s.Commit(ctx, &storage.Batch{InsertPools: []*clmm.Pool{pool}}))

		pool.Liquidity.SetUint64(1)
		pool.Ticks[0] = 5

		got, err := s.Pool(ctx, pool.ID)
		require.NoError(t, err)
		assert.Equal(t, uint64(1_000_000), got.Liquidity.Uint64())
		assert.Equal(t, int32(-100), got.Ticks[0])

		got.SqrtPrice.SetUint64(1)
		again, err := s.Pool(ctx, pool.ID)
		require.NoError(t, err)
		assert.True(t, again.SqrtPrice.Eq(clmm.Q64))
	})

	t.Run("insert is unique and atomic", func(t *testing.T) {
		s := newStore(t)
		pool := Pool(tokenA, tokenB)
		require.NoError(t, s.Commit(ctx, &storage.Batch{InsertPools: []*clmm.Pool{pool}}))

		other := Pool(tokenA, tokenC)
		err := s.Commit(ctx, &storage.Batch{
			InsertPools: []*clmm.Pool{other, Pool(tokenB, tokenA)},
			PutTicks:    []*clmm.Tick{Tick(other.ID, 0, 0)},
		})
		assert.ErrorIs(t, err, storage.ErrAlreadyExists)

		_, err = s.Pool(ctx, other.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = s.Tick(ctx, other.ID, 0)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		err = s.Commit(ctx, &storage.Batch{InsertPools: []*clmm.Pool{other, other}})
		assert.ErrorIs(t, err, storage.ErrAlreadyExists)
	})

	t.Run("updates and deletes", func(t *testing.T) {
		s := newStore(t)
		pool := Pool(tokenA, tokenB)
		pos := Position(pool.ID, -100, 100)
		require.NoError(t, s.Commit(ctx, &storage.Batch{
			InsertPools:  []*clmm.Pool{pool},
			PutPositions: []*clmm.Position{pos},
		}))

		pool.TickCurrent = -42
		require.NoError(t, s.Commit(ctx, &storage.Batch{
			PutPools:        []*clmm.Pool{pool},
			DeletePositions: []common.Hash{pos.ID, {9}},
		}))

		got, err := s.Pool(ctx, pool.ID)
		require.NoError(t, err)
		assert.Equal(t, int32(-42), got.TickCurrent)

		_, err = s.Position(ctx, pos.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		positions, err := s.Positions(ctx, pool.ID)
		require.NoError(t, err)
		assert.Empty(t, positions)
	})

	t.Run("tick deletes follow puts", func(t *testing.T) {
		s := newStore(t)
		pool := Pool(tokenA, tokenB)
		require.NoError(t, s.Commit(ctx, &storage.Batch{
			InsertPools: []*clmm.Pool{pool},
			PutTicks:    []*clmm.Tick{Tick(pool.ID, -100, 1), Tick(pool.ID, 100, -1)},
		}))

		require.NoError(t, s.Commit(ctx, &storage.Batch{
			PutTicks: []*clmm.Tick{Tick(pool.ID, 100, -2)},
			DeleteTicks: []storage.TickKey{
				{PoolID: pool.ID, Index: 100},
				{PoolID: pool.ID, Index: 7},
				{PoolID: common.Hash{9}, Index: 0},
			},
		}))

		_, err := s.Tick(ctx, pool.ID, 100)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		ticks, err := s.Ticks(ctx, pool.ID)
		require.NoError(t, err)
		require.Len(t, ticks, 1)
		assert.Equal(t, int32(-100), ticks[0].Index)
	})

	t.Run("pools are listed by id", func(t *testing.T) {
		s := newStore(t)
		p1, p2 := Pool(tokenA, tokenB), Pool(tokenA, tokenC)
		require.NoError(t, s.Commit(ctx, &storage.Batch{InsertPools: []*clmm.Pool{p1, p2}}))

		pools, err := s.Pools(ctx)
		require.NoError(t, err)
		require.Len(t, pools, 2)
		ids := map[common.Hash]bool{pools[0].ID: true, pools[1].ID: true}
		assert.True(t, ids[p1.ID] && ids[p2.ID])
		assert.Negative(t, pools[0].ID.Cmp(pools[1].ID))
	})

	t.Run("nil records are rejected", func(t *testing.T) {
		s := newStore(t)
		assert.Error(t, s.Commit(ctx, &storage.Batch{PutTicks: []*clmm.Tick{nil}}))
	})

	t.Run("cancelled context", func(t *testing.T) {
		s := newStore(t)
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := s.Pool(cancelled, common.Hash{1})
		assert.ErrorIs(t, err, context.Canceled)
		assert.ErrorIs(t, s.Commit(cancelled, &storage.Batch{}), context.Canceled)
	})
}
