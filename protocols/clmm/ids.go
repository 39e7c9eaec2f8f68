package clmm

import (
	"bytes"
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	poolSeed     = []byte("pool")
	tickSeed     = []byte("tick")
	positionSeed = []byte("position")
	vaultSeed    = []byte("vault")
)

// SortTokens orders a pair by address.
func SortTokens(tokenA, tokenB common.Address) (common.Address, common.Address) {
	if bytes.Compare(tokenA.Bytes(), tokenB.Bytes()) > 0 {
		return tokenB, tokenA
	}
	return tokenA, tokenB
}

// PoolID derives the identifier of the pool for an asset pair.
// Both orderings of the pair map to the same pool.
func PoolID(tokenA, tokenB common.Address) common.Hash {
	t0, t1 := SortTokens(tokenA, tokenB)
	return crypto.Keccak256Hash(poolSeed, t0.Bytes(), t1.Bytes())
}

// TickID derives the identifier of a tick record.
func TickID(poolID common.Hash, index int32) common.Hash {
	return crypto.Keccak256Hash(tickSeed, poolID.Bytes(), encodeTick(index))
}

// PositionID derives the identifier of the position owned by owner over [tickLower, tickUpper).
func PositionID(poolID common.Hash, owner common.Address, tickLower, tickUpper int32) common.Hash {
	return crypto.Keccak256Hash(positionSeed, poolID.Bytes(), owner.Bytes(), encodeTick(tickLower), encodeTick(tickUpper))
}

// VaultAddress derives the custody account holding token on behalf of a pool.
func VaultAddress(poolID common.Hash, token common.Address) common.Address {
	return common.BytesToAddress(crypto.Keccak256(vaultSeed, poolID.Bytes(), token.Bytes())[12:])
}

func encodeTick(index int32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(index))
	return b[:]
}
