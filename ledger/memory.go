package ledger

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/tolelom/htlcescrow/core"
)

// MemoryBackend is a simple in-process Backend, used by the engine tests
// and as a reference implementation of the external custody backend
// that a real deployment would otherwise provide externally. It is not
// the production backend any real deployment would use (that's the
// hosting chain's own balance pallet), but it implements the same
// Preserve/Expendable contract.
type MemoryBackend struct {
	mu                sync.Mutex
	balances          map[string]map[string]*big.Int // asset key -> account -> balance
	existentialDeposit *big.Int
}

// NewMemoryBackend creates an empty backend. existentialDeposit is the
// floor a Preserve transfer refuses to cross for the source account;
// pass big.NewInt(0) to disable it.
func NewMemoryBackend(existentialDeposit *big.Int) *MemoryBackend {
	return &MemoryBackend{
		balances:           make(map[string]map[string]*big.Int),
		existentialDeposit: new(big.Int).Set(existentialDeposit),
	}
}

func (m *MemoryBackend) get(asset core.AssetKind, account string) *big.Int {
	accounts, ok := m.balances[asset.Key()]
	if !ok {
		return big.NewInt(0)
	}
	bal, ok := accounts[account]
	if !ok {
		return big.NewInt(0)
	}
	return bal
}

func (m *MemoryBackend) set(asset core.AssetKind, account string, bal *big.Int) {
	accounts, ok := m.balances[asset.Key()]
	if !ok {
		accounts = make(map[string]*big.Int)
		m.balances[asset.Key()] = accounts
	}
	accounts[account] = bal
}

// Credit directly sets up a starting balance (genesis allocation). Not
// part of the Backend interface — a real backend's genesis is external.
func (m *MemoryBackend) Credit(asset core.AssetKind, account string, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.get(asset, account)
	m.set(asset, account, new(big.Int).Add(cur, amount))
	return nil
}

// Balance implements Backend.
func (m *MemoryBackend) Balance(asset core.AssetKind, account string) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.get(asset, account)), nil
}

// Transfer implements Backend.
func (m *MemoryBackend) Transfer(asset core.AssetKind, from, to string, amount *big.Int, preservation Preservation) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("negative amount")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	fromBal := m.get(asset, from)
	remaining := new(big.Int).Sub(fromBal, amount)
	if remaining.Sign() < 0 {
		return ErrInsufficientBalance
	}
	if preservation == Preserve && remaining.Sign() > 0 && remaining.Cmp(m.existentialDeposit) < 0 {
		return ErrBelowExistentialDeposit
	}
	if preservation == Preserve && remaining.Sign() == 0 && m.existentialDeposit.Sign() > 0 {
		return ErrBelowExistentialDeposit
	}

	toBal := m.get(asset, to)
	m.set(asset, from, remaining)
	m.set(asset, to, new(big.Int).Add(toBal, amount))
	return nil
}
