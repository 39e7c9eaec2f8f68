package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/defistate/defistate-clmm-go/protocols/clmm"
	"github.com/defistate/defistate-clmm-go/protocols/clmm/calculator"
	"github.com/defistate/defistate-clmm-go/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// AssetTransfer moves tokens between accounts. Transfer must apply every leg
// or none of them.
type AssetTransfer interface {
	Transfer(ctx context.Context, legs []clmm.Transfer) error
}

// Config holds the dependencies of an Engine.
type Config struct {
	Store    storage.Store
	Transfer AssetTransfer
	Logger   Logger
	Registry prometheus.Registerer
	// MaxSwapIterations caps tick crossings per swap; zero selects calculator.DefaultMaxIterations.
	MaxSwapIterations int
	// EventBuffer is the number of undelivered events held per subscriber;
	// zero selects DefaultEventBuffer.
	EventBuffer int
	// Now stamps events; defaults to time.Now.
	Now func() time.Time
}

// validate checks if the configuration is valid, ensuring required dependencies are present.
func (c *Config) validate() error {
	if c.Store == nil {
		return errors.New("config: Store cannot be nil")
	}
	if c.Transfer == nil {
		return errors.New("config: Transfer cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	if c.Registry == nil {
		return errors.New("config: Registry cannot be nil")
	}
	if c.MaxSwapIterations < 0 {
		return errors.New("config: MaxSwapIterations cannot be negative")
	}
	if c.EventBuffer < 0 {
		return errors.New("config: EventBuffer cannot be negative")
	}
	return nil
}

// Engine executes the pool operations. Operations on one pool are
// serialized; operations on distinct pools run concurrently.
//
// Every operation works on copies of the stored records, settles its token
// transfers and only then commits the copies in a single storage batch, so a
// failed transfer leaves the pool exactly as it was.
type Engine struct {
	store             storage.Store
	transfer          AssetTransfer
	logger            Logger
	metrics           *Metrics
	maxSwapIterations int
	now               func() time.Time

	locksMu sync.Mutex
	locks   map[common.Hash]*sync.Mutex

	eventBuffer int
	eventsMu    sync.Mutex
	sequence    uint64
	subscribers map[*subscriber]struct{}
}

// New constructs an Engine from a configuration, returning an error if the config is invalid.
func New(cfg *Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	maxIterations := cfg.MaxSwapIterations
	if maxIterations == 0 {
		maxIterations = calculator.DefaultMaxIterations
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	eventBuffer := cfg.EventBuffer
	if eventBuffer == 0 {
		eventBuffer = DefaultEventBuffer
	}
	return &Engine{
		store:             cfg.Store,
		transfer:          cfg.Transfer,
		logger:            cfg.Logger,
		metrics:           NewMetrics(cfg.Registry),
		maxSwapIterations: maxIterations,
		now:               now,
		locks:             make(map[common.Hash]*sync.Mutex),
		eventBuffer:       eventBuffer,
		subscribers:       make(map[*subscriber]struct{}),
	}, nil
}

// lockPool serializes operations on poolID. The returned func releases the lock.
func (e *Engine) lockPool(poolID common.Hash) func() {
	e.locksMu.Lock()
	mu, ok := e.locks[poolID]
	if !ok {
		mu = new(sync.Mutex)
		e.locks[poolID] = mu
	}
	e.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// Pool returns the pool with the given id.
func (e *Engine) Pool(ctx context.Context, poolID common.Hash) (*clmm.Pool, error) {
	return e.loadPool(ctx, poolID)
}

// PoolFor returns the pool of an asset pair, in either token order.
func (e *Engine) PoolFor(ctx context.Context, tokenA, tokenB common.Address) (*clmm.Pool, error) {
	return e.loadPool(ctx, clmm.PoolID(tokenA, tokenB))
}

// Pools returns every pool.
func (e *Engine) Pools(ctx context.Context) ([]*clmm.Pool, error) {
	return e.store.Pools(ctx)
}

// Ticks returns the initialized ticks of a pool ordered by index.
func (e *Engine) Ticks(ctx context.Context, poolID common.Hash) ([]*clmm.Tick, error) {
	if _, err := e.loadPool(ctx, poolID); err != nil {
		return nil, err
	}
	return e.store.Ticks(ctx, poolID)
}

// Position returns the position with the given id.
func (e *Engine) Position(ctx context.Context, positionID common.Hash) (*clmm.Position, error) {
	pos, err := e.store.Position(ctx, positionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: position %s does not exist", clmm.ErrInvalidPosition, positionID)
	}
	return pos, err
}

// Positions returns the open positions of a pool.
func (e *Engine) Positions(ctx context.Context, poolID common.Hash) ([]*clmm.Position, error) {
	if _, err := e.loadPool(ctx, poolID); err != nil {
		return nil, err
	}
	return e.store.Positions(ctx, poolID)
}

// PendingFees returns the fees a position would collect if it were removed now.
func (e *Engine) PendingFees(ctx context.Context, positionID common.Hash) (feesA, feesB uint64, err error) {
	pos, err := e.Position(ctx, positionID)
	if err != nil {
		return 0, 0, err
	}
	pool, err := e.loadPool(ctx, pos.PoolID)
	if err != nil {
		return 0, 0, err
	}
	lower, err := e.loadTick(ctx, pool.ID, pos.TickLower)
	if err != nil {
		return 0, 0, err
	}
	upper, err := e.loadTick(ctx, pool.ID, pos.TickUpper)
	if err != nil {
		return 0, 0, err
	}
	insideA, insideB := clmm.FeeGrowthInside(lower, upper, pool.TickCurrent, pool.FeeGrowthGlobalA, pool.FeeGrowthGlobalB)
	if err := pos.Accrue(insideA, insideB); err != nil {
		return 0, 0, err
	}
	return pos.TokensOwedA, pos.TokensOwedB, nil
}

func (e *Engine) loadPool(ctx context.Context, poolID common.Hash) (*clmm.Pool, error) {
	pool, err := e.store.Pool(ctx, poolID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: pool %s does not exist", clmm.ErrInvalidPool, poolID)
	}
	return pool, err
}

func (e *Engine) loadTick(ctx context.Context, poolID common.Hash, index int32) (*clmm.Tick, error) {
	tick, err := e.store.Tick(ctx, poolID, index)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: tick %d of pool %s", clmm.ErrTickNotFound, index, poolID)
	}
	return tick, err
}

// settle executes the transfers of an operation and commits its records.
//
// Once tokens have moved the operation runs to completion: the commit ignores
// cancellation of ctx, and a commit that still fails is undone by
// transferring the legs back.
func (e *Engine) settle(ctx context.Context, op string, legs []clmm.Transfer, batch *storage.Batch) error {
	if len(legs) > 0 {
		if err := e.transfer.Transfer(ctx, legs); err != nil {
			e.logger.Error("Asset transfer failed, operation aborted", "operation", op, "error", err)
			return fmt.Errorf("transfer: %w", err)
		}
	}
	ctx = context.WithoutCancel(ctx)
	err := e.store.Commit(ctx, batch)
	if err == nil {
		return nil
	}
	if len(legs) == 0 {
		e.logger.Error("Commit failed", "operation", op, "error", err)
		return fmt.Errorf("commit: %w", err)
	}

	if rerr := e.transfer.Transfer(ctx, reverseLegs(legs)); rerr != nil {
		// tokens have moved but the records have not
		e.logger.Error("Commit failed and transfers could not be reversed",
			"operation", op,
			"legs", len(legs),
			"error", err,
			"reverse_error", rerr,
		)
		return fmt.Errorf("commit: %w (reversing transfers: %v)", err, rerr)
	}
	e.logger.Warn("Commit failed, transfers reversed", "operation", op, "legs", len(legs), "error", err)
	return fmt.Errorf("commit: %w", err)
}

// reverseLegs returns legs that undo legs.
func reverseLegs(legs []clmm.Transfer) []clmm.Transfer {
	reversed := make([]clmm.Transfer, len(legs))
	for i, leg := range legs {
		leg.From, leg.To = leg.To, leg.From
		reversed[len(legs)-1-i] = leg
	}
	return reversed
}

// observe records the outcome of an operation.
func (e *Engine) observe(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		e.logger.Debug("Operation failed", "operation", op, "error", err)
	}
	e.metrics.operations.WithLabelValues(op, result).Inc()
	e.metrics.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
