// Package ledger is an in-memory token balance book that settles
// multi-leg transfers atomically.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/defistate/defistate-clmm-go/protocols/clmm"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrBalanceOverflow     = errors.New("balance overflow")
)

type balanceKey struct {
	token   common.Address
	account common.Address
}

// Ledger holds uint64 balances per (token, account).
type Ledger struct {
	mu       sync.RWMutex
	balances map[balanceKey]uint64
}

// New creates an empty Ledger.
func New() *Ledger {
	return &Ledger{balances: make(map[balanceKey]uint64)}
}

// GetBalance returns the balance of account in token.
func (l *Ledger) GetBalance(token, account common.Address) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[balanceKey{token, account}]
}

// AddBalance mints amount of token to account.
func (l *Ledger) AddBalance(token, account common.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := balanceKey{token, account}
	if l.balances[key] > math.MaxUint64-amount {
		return fmt.Errorf("%w: %s of %s", ErrBalanceOverflow, account, token)
	}
	l.balances[key] += amount
	return nil
}

// Transfer applies every leg or none. Legs are applied in order, so a later
// leg may spend what an earlier one received.
func (l *Ledger) Transfer(ctx context.Context, legs []clmm.Transfer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// stage the touched balances, then publish them together
	staged := make(map[balanceKey]uint64, 2*len(legs))
	balance := func(key balanceKey) uint64 {
		if v, ok := staged[key]; ok {
			return v
		}
		return l.balances[key]
	}
	for i, leg := range legs {
		from := balanceKey{leg.Token, leg.From}
		to := balanceKey{leg.Token, leg.To}

		fromBalance := balance(from)
		if fromBalance < leg.Amount {
			return fmt.Errorf("%w: leg %d needs %d of %s from %s, has %d", ErrInsufficientBalance, i, leg.Amount, leg.Token, leg.From, fromBalance)
		}
		staged[from] = fromBalance - leg.Amount

		toBalance := balance(to)
		if toBalance > math.MaxUint64-leg.Amount {
			return fmt.Errorf("%w: leg %d credits %s of %s", ErrBalanceOverflow, i, leg.To, leg.Token)
		}
		staged[to] = toBalance + leg.Amount
	}

	for key, v := range staged {
		if v == 0 {
			delete(l.balances, key)
			continue
		}
		l.balances[key] = v
	}
	return nil
}
