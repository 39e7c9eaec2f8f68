package client

import (
	"github.com/defistate/defistate-clmm-go/engine"
	"github.com/defistate/defistate-clmm-go/protocols/clmm"
	"github.com/ethereum/go-ethereum/common"
)

// State is the client's view of the pools after a processed message.
type State struct {
	// Sequence is the last engine event reflected in Pools.
	Sequence uint64
	Pools    map[common.Hash]*clmm.Pool
	// Event is the event that produced this state, nil after a snapshot.
	Event *engine.Event
}

// Pool returns the pool with the given id, if known.
func (s *State) Pool(id common.Hash) (*clmm.Pool, bool) {
	p, ok := s.Pools[id]
	return p, ok
}
