package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/defistate/defistate-clmm-go/protocols/clmm"
	"github.com/defistate/defistate-clmm-go/protocols/clmm/calculator/tickmath"
	"github.com/defistate/defistate-clmm-go/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const opInitialize = "initialize"

// InitializePool creates the pool of an asset pair at the given price.
// The pair may only be initialized once, in either token order.
func (e *Engine) InitializePool(ctx context.Context, params InitializePoolParams) (pool *clmm.Pool, err error) {
	defer func(start time.Time) { e.observe(opInitialize, start, err) }(time.Now())

	if err := validateInitialize(params); err != nil {
		return nil, err
	}
	tickCurrent, err := tickmath.TickAtSqrtPrice(params.SqrtPrice)
	if err != nil {
		return nil, err
	}

	poolID := clmm.PoolID(params.TokenA, params.TokenB)
	unlock := e.lockPool(poolID)
	defer unlock()

	_, err = e.store.Pool(ctx, poolID)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: %s/%s", clmm.ErrPoolExists, params.TokenA, params.TokenB)
	case !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}

	pool = &clmm.Pool{
		ID:               poolID,
		Authority:        params.Authority,
		TokenA:           params.TokenA,
		TokenB:           params.TokenB,
		VaultA:           clmm.VaultAddress(poolID, params.TokenA),
		VaultB:           clmm.VaultAddress(poolID, params.TokenB),
		SqrtPrice:        new(uint256.Int).Set(params.SqrtPrice),
		TickCurrent:      tickCurrent,
		Liquidity:        new(uint256.Int),
		TickSpacing:      params.TickSpacing,
		FeeRate:          params.FeeRate,
		ProtocolFeeRate:  params.ProtocolFeeRate,
		FeeGrowthGlobalA: orZero(params.FeeGrowthGlobalA),
		FeeGrowthGlobalB: orZero(params.FeeGrowthGlobalB),
		ProtocolFeeA:     new(uint256.Int),
		ProtocolFeeB:     new(uint256.Int),
		Ticks:            []int32{tickCurrent},
	}
	tick := clmm.NewTick(poolID, tickCurrent, tickCurrent, pool.FeeGrowthGlobalA, pool.FeeGrowthGlobalB)

	err = e.store.Commit(ctx, &storage.Batch{
		InsertPools: []*clmm.Pool{pool},
		PutTicks:    []*clmm.Tick{tick},
	})
	if errors.Is(err, storage.ErrAlreadyExists) {
		return nil, fmt.Errorf("%w: %s/%s", clmm.ErrPoolExists, params.TokenA, params.TokenB)
	}
	if err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	e.logger.Info("Pool initialized",
		"pool", poolID,
		"token_a", params.TokenA,
		"token_b", params.TokenB,
		"tick", tickCurrent,
		"fee_rate", params.FeeRate,
		"tick_spacing", params.TickSpacing,
	)
	e.emit(Event{Type: EventInitialize, Pool: pool.Clone(), Account: params.Authority})
	return pool.Clone(), nil
}

func validateInitialize(params InitializePoolParams) error {
	var zero common.Address
	if params.TokenA == zero || params.TokenB == zero {
		return fmt.Errorf("%w: token address is zero", clmm.ErrInvalidPool)
	}
	if params.TokenA == params.TokenB {
		return fmt.Errorf("%w: both tokens are %s", clmm.ErrInvalidPool, params.TokenA)
	}
	if params.TickSpacing == 0 {
		return fmt.Errorf("%w: tick spacing must be greater than zero", clmm.ErrInvalidTickSpacing)
	}
	if params.FeeRate >= clmm.FeeDenominator {
		return fmt.Errorf("%w: fee rate %d must be below %d", clmm.ErrInvalidFeeRate, params.FeeRate, clmm.FeeDenominator)
	}
	if params.ProtocolFeeRate > clmm.FeeDenominator {
		return fmt.Errorf("%w: protocol fee rate %d exceeds %d", clmm.ErrInvalidFeeRate, params.ProtocolFeeRate, clmm.FeeDenominator)
	}
	if params.SqrtPrice == nil {
		return fmt.Errorf("%w: initial sqrt price is required", clmm.ErrInvalidTick)
	}
	for _, growth := range []*uint256.Int{params.FeeGrowthGlobalA, params.FeeGrowthGlobalB} {
		if growth != nil && growth.Gt(clmm.MaxU128) {
			return fmt.Errorf("%w: initial fee growth %s exceeds 128 bits", clmm.ErrInvalidFeeGrowth, growth.Dec())
		}
	}
	return nil
}

func orZero(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(x)
}
