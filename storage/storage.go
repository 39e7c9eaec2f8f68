package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/defistate/defistate-clmm-go/protocols/clmm"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
	ErrClosed        = errors.New("store closed")
)

// Store persists pool, tick and position records.
//
// Records returned by a Store are copies owned by the caller; records passed
// to Commit are copied as well, so callers may keep mutating their clones.
type Store interface {
	Pool(ctx context.Context, id common.Hash) (*clmm.Pool, error)
	// Pools returns every pool ordered by id.
	Pools(ctx context.Context) ([]*clmm.Pool, error)
	Tick(ctx context.Context, poolID common.Hash, index int32) (*clmm.Tick, error)
	// Ticks returns the tick records of a pool ordered by index.
	Ticks(ctx context.Context, poolID common.Hash) ([]*clmm.Tick, error)
	Position(ctx context.Context, id common.Hash) (*clmm.Position, error)
	// Positions returns the open positions of a pool ordered by id.
	Positions(ctx context.Context, poolID common.Hash) ([]*clmm.Position, error)

	// Commit applies every write of b or none of them.
	Commit(ctx context.Context, b *Batch) error
	Close() error
}

// Batch collects the record writes of one operation.
type Batch struct {
	// InsertPools creates pools; Commit fails with ErrAlreadyExists if one exists.
	InsertPools     []*clmm.Pool
	PutPools        []*clmm.Pool
	PutTicks        []*clmm.Tick
	PutPositions    []*clmm.Position
	// DeleteTicks are applied after PutTicks.
	DeleteTicks     []TickKey
	DeletePositions []common.Hash
}

// TickKey addresses a tick record.
type TickKey struct {
	PoolID common.Hash
	Index  int32
}

// Len is the number of writes in b.
func (b *Batch) Len() int {
	return len(b.InsertPools) + len(b.PutPools) + len(b.PutTicks) + len(b.PutPositions) + len(b.DeleteTicks) + len(b.DeletePositions)
}

// Validate rejects batches that could not be applied consistently:
// nil records and pools inserted twice.
func (b *Batch) Validate() error {
	inserted := make(map[common.Hash]struct{}, len(b.InsertPools))
	for _, p := range b.InsertPools {
		if p == nil {
			return errors.New("batch contains a nil pool")
		}
		if _, ok := inserted[p.ID]; ok {
			return fmt.Errorf("%w: pool %s inserted twice", ErrAlreadyExists, p.ID)
		}
		inserted[p.ID] = struct{}{}
	}
	for _, p := range b.PutPools {
		if p == nil {
			return errors.New("batch contains a nil pool")
		}
	}
	for _, t := range b.PutTicks {
		if t == nil {
			return errors.New("batch contains a nil tick")
		}
	}
	for _, pos := range b.PutPositions {
		if pos == nil {
			return errors.New("batch contains a nil position")
		}
	}
	return nil
}
