package client

import (
	"context"

	"github.com/defistate/defistate-clmm-go/engine"
	"github.com/defistate/defistate-clmm-go/protocols/clmm"
	"github.com/defistate/defistate-clmm-go/streams/jsonrpc/server"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
)

// Caller issues typed clmm calls over an RPC connection.
type Caller struct {
	rpc *rpc.Client
}

// Dial connects to a clmm server over HTTP or websocket.
func Dial(ctx context.Context, url string) (*Caller, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return NewCaller(c), nil
}

// NewCaller wraps an existing RPC client.
func NewCaller(c *rpc.Client) *Caller {
	return &Caller{rpc: c}
}

// Close closes the underlying connection.
func (c *Caller) Close() {
	c.rpc.Close()
}

func (c *Caller) call(ctx context.Context, result any, method string, args ...any) error {
	return c.rpc.CallContext(ctx, result, server.Namespace+"_"+method, args...)
}

func (c *Caller) InitializePool(ctx context.Context, params engine.InitializePoolParams) (*clmm.Pool, error) {
	var pool clmm.Pool
	if err := c.call(ctx, &pool, "initializePool", params); err != nil {
		return nil, err
	}
	return &pool, nil
}

func (c *Caller) ProvideLiquidity(ctx context.Context, params engine.ProvideLiquidityParams) (*engine.ProvideLiquidityResult, error) {
	var result engine.ProvideLiquidityResult
	if err := c.call(ctx, &result, "provideLiquidity", params); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Caller) RemoveLiquidity(ctx context.Context, params engine.RemoveLiquidityParams) (*engine.RemoveLiquidityResult, error) {
	var result engine.RemoveLiquidityResult
	if err := c.call(ctx, &result, "removeLiquidity", params); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Caller) Swap(ctx context.Context, params engine.SwapParams) (*engine.SwapResult, error) {
	var result engine.SwapResult
	if err := c.call(ctx, &result, "swap", params); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Caller) Quote(ctx context.Context, params engine.SwapParams) (*engine.SwapResult, error) {
	var result engine.SwapResult
	if err := c.call(ctx, &result, "quote", params); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Caller) Pool(ctx context.Context, poolID common.Hash) (*clmm.Pool, error) {
	var pool clmm.Pool
	if err := c.call(ctx, &pool, "pool", poolID); err != nil {
		return nil, err
	}
	return &pool, nil
}

func (c *Caller) PoolFor(ctx context.Context, tokenA, tokenB common.Address) (*clmm.Pool, error) {
	var pool clmm.Pool
	if err := c.call(ctx, &pool, "poolFor", tokenA, tokenB); err != nil {
		return nil, err
	}
	return &pool, nil
}

func (c *Caller) Pools(ctx context.Context) ([]*clmm.Pool, error) {
	var pools []*clmm.Pool
	err := c.call(ctx, &pools, "pools")
	return pools, err
}

func (c *Caller) Ticks(ctx context.Context, poolID common.Hash) ([]*clmm.Tick, error) {
	var ticks []*clmm.Tick
	err := c.call(ctx, &ticks, "ticks", poolID)
	return ticks, err
}

func (c *Caller) Position(ctx context.Context, positionID common.Hash) (*clmm.Position, error) {
	var pos clmm.Position
	if err := c.call(ctx, &pos, "position", positionID); err != nil {
		return nil, err
	}
	return &pos, nil
}

func (c *Caller) Positions(ctx context.Context, poolID common.Hash) ([]*clmm.Position, error) {
	var positions []*clmm.Position
	err := c.call(ctx, &positions, "positions", poolID)
	return positions, err
}

func (c *Caller) PendingFees(ctx context.Context, positionID common.Hash) (feesA, feesB uint64, err error) {
	var fees server.PendingFees
	if err := c.call(ctx, &fees, "pendingFees", positionID); err != nil {
		return 0, 0, err
	}
	return fees.FeesA, fees.FeesB, nil
}
