package memory

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/defistate/defistate-clmm-go/protocols/clmm"
	"github.com/defistate/defistate-clmm-go/storage"
	"github.com/ethereum/go-ethereum/common"
)

// Store is an in-memory storage.Store.
type Store struct {
	mu        sync.RWMutex
	closed    bool
	pools     map[common.Hash]*clmm.Pool
	ticks     map[common.Hash]map[int32]*clmm.Tick
	positions map[common.Hash]*clmm.Position
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		pools:     make(map[common.Hash]*clmm.Pool),
		ticks:     make(map[common.Hash]map[int32]*clmm.Tick),
		positions: make(map[common.Hash]*clmm.Position),
	}
}

var _ storage.Store = (*Store)(nil)

func (s *Store) Pool(ctx context.Context, id common.Hash) (*clmm.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usable(ctx); err != nil {
		return nil, err
	}
	p, ok := s.pools[id]
	if !ok {
		return nil, fmt.Errorf("%w: pool %s", storage.ErrNotFound, id)
	}
	return p.Clone(), nil
}

func (s *Store) Pools(ctx context.Context) ([]*clmm.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usable(ctx); err != nil {
		return nil, err
	}
	pools := make([]*clmm.Pool, 0, len(s.pools))
	for _, p := range s.pools {
		pools = append(pools, p.Clone())
	}
	sort.Slice(pools, func(i, j int) bool {
		return bytes.Compare(pools[i].ID.Bytes(), pools[j].ID.Bytes()) < 0
	})
	return pools, nil
}

func (s *Store) Tick(ctx context.Context, poolID common.Hash, index int32) (*clmm.Tick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usable(ctx); err != nil {
		return nil, err
	}
	t, ok := s.ticks[poolID][index]
	if !ok {
		return nil, fmt.Errorf("%w: tick %d of pool %s", storage.ErrNotFound, index, poolID)
	}
	return t.Clone(), nil
}

func (s *Store) Ticks(ctx context.Context, poolID common.Hash) ([]*clmm.Tick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usable(ctx); err != nil {
		return nil, err
	}
	ticks := make([]*clmm.Tick, 0, len(s.ticks[poolID]))
	for _, t := range s.ticks[poolID] {
		ticks = append(ticks, t.Clone())
	}
	sort.Slice(ticks, func(i, j int) bool {
		return ticks[i].Index < ticks[j].Index
	})
	return ticks, nil
}

func (s *Store) Position(ctx context.Context, id common.Hash) (*clmm.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usable(ctx); err != nil {
		return nil, err
	}
	pos, ok := s.positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: position %s", storage.ErrNotFound, id)
	}
	return pos.Clone(), nil
}

func (s *Store) Positions(ctx context.Context, poolID common.Hash) ([]*clmm.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usable(ctx); err != nil {
		return nil, err
	}
	var positions []*clmm.Position
	for _, pos := range s.positions {
		if pos.PoolID == poolID {
			positions = append(positions, pos.Clone())
		}
	}
	sort.Slice(positions, func(i, j int) bool {
		return bytes.Compare(positions[i].ID.Bytes(), positions[j].ID.Bytes()) < 0
	})
	return positions, nil
}

// Commit checks the whole batch before touching any record.
func (s *Store) Commit(ctx context.Context, b *storage.Batch) error {
	if err := b.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(ctx); err != nil {
		return err
	}
	for _, p := range b.InsertPools {
		if _, exists := s.pools[p.ID]; exists {
			return fmt.Errorf("%w: pool %s", storage.ErrAlreadyExists, p.ID)
		}
	}

	for _, p := range b.InsertPools {
		s.pools[p.ID] = p.Clone()
	}
	for _, p := range b.PutPools {
		s.pools[p.ID] = p.Clone()
	}
	for _, t := range b.PutTicks {
		byIndex, ok := s.ticks[t.PoolID]
		if !ok {
			byIndex = make(map[int32]*clmm.Tick)
			s.ticks[t.PoolID] = byIndex
		}
		byIndex[t.Index] = t.Clone()
	}
	for _, k := range b.DeleteTicks {
		delete(s.ticks[k.PoolID], k.Index)
	}
	for _, pos := range b.PutPositions {
		s.positions[pos.ID] = pos.Clone()
	}
	for _, id := range b.DeletePositions {
		delete(s.positions, id)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) usable(ctx context.Context) error {
	if s.closed {
		return storage.ErrClosed
	}
	return ctx.Err()
}
