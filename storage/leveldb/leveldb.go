package leveldb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/defistate/defistate-clmm-go/protocols/clmm"
	"github.com/defistate/defistate-clmm-go/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key layout. Tick indices are stored sign-flipped big-endian so that
// byte order matches numeric order.
var (
	poolPrefix     = []byte("p/") // p/<pool id>
	tickPrefix     = []byte("t/") // t/<pool id><index>
	positionPrefix = []byte("o/") // o/<position id>
	poolPosPrefix  = []byte("i/") // i/<pool id><position id>, empty value
)

// Options tunes the on-disk database.
type Options struct {
	// CacheMB is the memory budget shared by the block cache and write buffers.
	CacheMB int
	// Sync flushes every commit to disk before it returns.
	Sync bool
}

// DBOptions derives goleveldb options from a memory budget.
func DBOptions(cacheMB int) *opt.Options {
	if cacheMB < 16 {
		cacheMB = 16
	}
	return &opt.Options{
		OpenFilesCacheCapacity: cacheMB,
		BlockCacheCapacity:     cacheMB / 2 * opt.MiB,
		WriteBuffer:            cacheMB / 4 * opt.MiB, // Two of these are used internally
		Filter:                 filter.NewBloomFilter(10),
	}
}

// Store is a storage.Store backed by goleveldb. Values are JSON documents.
type Store struct {
	db       *leveldb.DB
	writeOpt *opt.WriteOptions

	// commitMu serializes the existence checks of Commit with its write.
	commitMu sync.Mutex
}

var _ storage.Store = (*Store)(nil)

// Open opens (or creates) the database at path.
func Open(path string, o Options) (*Store, error) {
	db, err := leveldb.OpenFile(path, DBOptions(o.CacheMB))
	if err != nil {
		return nil, fmt.Errorf("opening leveldb at %s: %w", path, err)
	}
	return New(db, o.Sync), nil
}

// New wraps an open database. The Store owns db and closes it on Close.
func New(db *leveldb.DB, sync bool) *Store {
	return &Store{db: db, writeOpt: &opt.WriteOptions{Sync: sync}}
}

func (s *Store) Pool(ctx context.Context, id common.Hash) (*clmm.Pool, error) {
	p := new(clmm.Pool)
	if err := s.get(ctx, poolKey(id), p); err != nil {
		return nil, fmt.Errorf("pool %s: %w", id, err)
	}
	return p, nil
}

func (s *Store) Pools(ctx context.Context) ([]*clmm.Pool, error) {
	var pools []*clmm.Pool
	err := s.scan(ctx, poolPrefix, func(_, value []byte) error {
		p := new(clmm.Pool)
		if err := json.Unmarshal(value, p); err != nil {
			return err
		}
		pools = append(pools, p)
		return nil
	})
	return pools, err
}

func (s *Store) Tick(ctx context.Context, poolID common.Hash, index int32) (*clmm.Tick, error) {
	t := new(clmm.Tick)
	if err := s.get(ctx, tickKey(poolID, index), t); err != nil {
		return nil, fmt.Errorf("tick %d of pool %s: %w", index, poolID, err)
	}
	return t, nil
}

func (s *Store) Ticks(ctx context.Context, poolID common.Hash) ([]*clmm.Tick, error) {
	var ticks []*clmm.Tick
	err := s.scan(ctx, concat(tickPrefix, poolID.Bytes()), func(_, value []byte) error {
		t := new(clmm.Tick)
		if err := json.Unmarshal(value, t); err != nil {
			return err
		}
		ticks = append(ticks, t)
		return nil
	})
	return ticks, err
}

func (s *Store) Position(ctx context.Context, id common.Hash) (*clmm.Position, error) {
	pos := new(clmm.Position)
	if err := s.get(ctx, positionKey(id), pos); err != nil {
		return nil, fmt.Errorf("position %s: %w", id, err)
	}
	return pos, nil
}

func (s *Store) Positions(ctx context.Context, poolID common.Hash) ([]*clmm.Position, error) {
	var positions []*clmm.Position
	prefix := concat(poolPosPrefix, poolID.Bytes())
	err := s.scan(ctx, prefix, func(key, _ []byte) error {
		pos, err := s.Position(ctx, common.BytesToHash(key[len(prefix):]))
		if err != nil {
			return err
		}
		positions = append(positions, pos)
		return nil
	})
	return positions, err
}

func (s *Store) Commit(ctx context.Context, b *storage.Batch) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	for _, p := range b.InsertPools {
		exists, err := s.db.Has(poolKey(p.ID), nil)
		if err != nil {
			return mapErr(err)
		}
		if exists {
			return fmt.Errorf("%w: pool %s", storage.ErrAlreadyExists, p.ID)
		}
	}

	batch := new(leveldb.Batch)
	put := func(key []byte, v any) error {
		value, err := json.Marshal(v)
		if err != nil {
			return err
		}
		batch.Put(key, value)
		return nil
	}
	for _, p := range append(b.InsertPools[:len(b.InsertPools):len(b.InsertPools)], b.PutPools...) {
		if err := put(poolKey(p.ID), p); err != nil {
			return fmt.Errorf("encoding pool %s: %w", p.ID, err)
		}
	}
	for _, t := range b.PutTicks {
		if err := put(tickKey(t.PoolID, t.Index), t); err != nil {
			return fmt.Errorf("encoding tick %d: %w", t.Index, err)
		}
	}
	for _, k := range b.DeleteTicks {
		batch.Delete(tickKey(k.PoolID, k.Index))
	}
	for _, pos := range b.PutPositions {
		if err := put(positionKey(pos.ID), pos); err != nil {
			return fmt.Errorf("encoding position %s: %w", pos.ID, err)
		}
		batch.Put(poolPositionKey(pos.PoolID, pos.ID), nil)
	}
	for _, id := range b.DeletePositions {
		pos, err := s.Position(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		batch.Delete(positionKey(id))
		batch.Delete(poolPositionKey(pos.PoolID, id))
	}

	return mapErr(s.db.Write(batch, s.writeOpt))
}

func (s *Store) Close() error {
	return mapErr(s.db.Close())
}

func (s *Store) get(ctx context.Context, key []byte, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := s.db.Get(key, nil)
	if err != nil {
		return mapErr(err)
	}
	return json.Unmarshal(value, v)
}

func (s *Store) scan(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	for iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return mapErr(iter.Error())
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, leveldb.ErrNotFound):
		return storage.ErrNotFound
	case errors.Is(err, leveldb.ErrClosed):
		return storage.ErrClosed
	}
	return err
}

func poolKey(id common.Hash) []byte {
	return concat(poolPrefix, id.Bytes())
}

func tickKey(poolID common.Hash, index int32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(index)^(1<<31))
	return concat(tickPrefix, poolID.Bytes(), b[:])
}

func positionKey(id common.Hash) []byte {
	return concat(positionPrefix, id.Bytes())
}

func poolPositionKey(poolID, id common.Hash) []byte {
	return concat(poolPosPrefix, poolID.Bytes(), id.Bytes())
}

func concat(parts ...[]byte) []byte {
	var n int
	for _, p := range parts {
		n += len(p)
	}
	key := make([]byte, 0, n)
	for _, p := range parts {
		key = append(key, p...)
	}
	return key
}
