package custody

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidAmount       = errors.New("custody: amount must be positive")
	ErrInsufficientBalance = errors.New("custody: insufficient balance")
)

// Bank is the token custody boundary. Transfers are atomic and fail on
// insufficient balance; token-standard semantics live outside the core.
type Bank interface {
	TransferIn(asset, from common.Address, amount *big.Int) error
	TransferOut(asset, to common.Address, amount *big.Int) error
}

type balanceKey struct {
	asset common.Address
	owner common.Address
}

// MemoryBank tracks per-(asset,owner) balances in memory. The zero owner
// address holds the protocol's pooled custody balance.
type MemoryBank struct {
	mu       sync.Mutex
	balances map[balanceKey]*big.Int
}

func NewMemoryBank() *MemoryBank {
	return &MemoryBank{balances: make(map[balanceKey]*big.Int)}
}

// Mint credits an owner directly, used to seed balances in tests and dev runs.
func (b *MemoryBank) Mint(asset, owner common.Address, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(asset, owner, amount)
}

func (b *MemoryBank) Balance(asset, owner common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bal, ok := b.balances[balanceKey{asset: asset, owner: owner}]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

func (b *MemoryBank) TransferIn(asset, from common.Address, amount *big.Int) error {
	return b.move(asset, from, common.Address{}, amount)
}

func (b *MemoryBank) TransferOut(asset, to common.Address, amount *big.Int) error {
	return b.move(asset, common.Address{}, to, amount)
}

func (b *MemoryBank) move(asset, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	fromKey := balanceKey{asset: asset, owner: from}
	bal, ok := b.balances[fromKey]
	if !ok || bal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	b.balances[fromKey] = new(big.Int).Sub(bal, amount)
	b.credit(asset, to, amount)
	return nil
}

// AttestedBank trusts that inbound transfers already settled on the asset's
// own chain and only tracks the pooled custody balance. Outflows still fail
// once the pool is exhausted, so custody can never pay out more than it took
// in.
type AttestedBank struct {
	mu    sync.Mutex
	pools map[common.Address]*big.Int
}

func NewAttestedBank() *AttestedBank {
	return &AttestedBank{pools: make(map[common.Address]*big.Int)}
}

func (b *AttestedBank) TransferIn(asset, from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	pool, ok := b.pools[asset]
	if !ok {
		pool = big.NewInt(0)
	}
	b.pools[asset] = new(big.Int).Add(pool, amount)
	return nil
}

func (b *AttestedBank) TransferOut(asset, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	pool, ok := b.pools[asset]
	if !ok || pool.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	b.pools[asset] = new(big.Int).Sub(pool, amount)
	return nil
}

func (b *MemoryBank) credit(asset, owner common.Address, amount *big.Int) {
	key := balanceKey{asset: asset, owner: owner}
	if bal, ok := b.balances[key]; ok {
		b.balances[key] = new(big.Int).Add(bal, amount)
		return
	}
	b.balances[key] = new(big.Int).Set(amount)
}
