package ledger

import (
	"context"
	"math"
	"testing"

	"github.com/defistate/defistate-clmm-go/protocols/clmm"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	weth  = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdc  = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	alice = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	vault = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func TestTransfer(t *testing.T) {
	ctx := context.Background()

	t.Run("multi leg settlement", func(t *testing.T) {
		l := New()
		require.NoError(t, l.AddBalance(weth, alice, 100))
		require.NoError(t, l.AddBalance(usdc, vault, 500))

		err := l.Transfer(ctx, []clmm.Transfer{
			{Token: weth, From: alice, To: vault, Amount: 40},
			{Token: usdc, From: vault, To: alice, Amount: 300},
		})
		require.NoError(t, err)

		assert.Equal(t, uint64(60), l.GetBalance(weth, alice))
		assert.Equal(t, uint64(40), l.GetBalance(weth, vault))
		assert.Equal(t, uint64(300), l.GetBalance(usdc, alice))
		assert.Equal(t, uint64(200), l.GetBalance(usdc, vault))
	})

	t.Run("a failing leg rolls back the earlier ones", func(t *testing.T) {
		l := New()
		require.NoError(t, l.AddBalance(weth, alice, 100))
		require.NoError(t, l.AddBalance(usdc, vault, 10))

		err := l.Transfer(ctx, []clmm.Transfer{
			{Token: weth, From: alice, To: vault, Amount: 40},
			{Token: usdc, From: vault, To: alice, Amount: 300},
		})
		assert.ErrorIs(t, err, ErrInsufficientBalance)

		assert.Equal(t, uint64(100), l.GetBalance(weth, alice))
		assert.Zero(t, l.GetBalance(weth, vault))
		assert.Equal(t, uint64(10), l.GetBalance(usdc, vault))
	})

	t.Run("later legs see earlier ones", func(t *testing.T) {
		l := New()
		require.NoError(t, l.AddBalance(weth, alice, 10))

		err := l.Transfer(ctx, []clmm.Transfer{
			{Token: weth, From: alice, To: bob, Amount: 10},
			{Token: weth, From: bob, To: vault, Amount: 10},
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(10), l.GetBalance(weth, vault))
		assert.Zero(t, l.GetBalance(weth, bob))
	})

	t.Run("overflow", func(t *testing.T) {
		l := New()
		require.NoError(t, l.AddBalance(weth, alice, 1))
		require.NoError(t, l.AddBalance(weth, bob, math.MaxUint64))

		err := l.Transfer(ctx, []clmm.Transfer{{Token: weth, From: alice, To: bob, Amount: 1}})
		assert.ErrorIs(t, err, ErrBalanceOverflow)
		assert.Equal(t, uint64(1), l.GetBalance(weth, alice))

		assert.ErrorIs(t, l.AddBalance(weth, bob, 1), ErrBalanceOverflow)
	})

	t.Run("zero amounts and empty transfers", func(t *testing.T) {
		l := New()
		require.NoError(t, l.Transfer(ctx, nil))
		require.NoError(t, l.Transfer(ctx, []clmm.Transfer{{Token: weth, From: alice, To: bob}}))
		assert.Zero(t, l.GetBalance(weth, bob))
	})

	t.Run("cancelled context", func(t *testing.T) {
		l := New()
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		assert.ErrorIs(t, l.Transfer(cancelled, nil), context.Canceled)
	})
}
