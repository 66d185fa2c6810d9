package ledger

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Store is the persistence boundary for ledger state. The orchestrator owns a
// Store and passes it into each component call; there is no hidden global.
type Store interface {
	GetAssetInfo(asset common.Address) (AssetInfo, bool)
	PutAssetInfo(asset common.Address, info AssetInfo)
	GetIndices(asset common.Address) (AccrualIndices, bool)
	PutIndices(asset common.Address, indices AccrualIndices)
	GetVault(account, asset common.Address) VaultAmount
	PutVault(account, asset common.Address, vault VaultAmount)
	GetGlobal(asset common.Address) GlobalAmount
	PutGlobal(asset common.Address, global GlobalAmount)
	GetReserves(asset common.Address) *big.Int
	PutReserves(asset common.Address, reserves *big.Int)
	Assets() []common.Address
}

type vaultKey struct {
	account common.Address
	asset   common.Address
}

// MemoryStore keeps the full ledger in maps. Single-threaded per the host
// execution model; callers serialize access.
type MemoryStore struct {
	assets   map[common.Address]AssetInfo
	indices  map[common.Address]AccrualIndices
	vaults   map[vaultKey]VaultAmount
	globals  map[common.Address]GlobalAmount
	reserves map[common.Address]*big.Int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assets:   make(map[common.Address]AssetInfo),
		indices:  make(map[common.Address]AccrualIndices),
		vaults:   make(map[vaultKey]VaultAmount),
		globals:  make(map[common.Address]GlobalAmount),
		reserves: make(map[common.Address]*big.Int),
	}
}

func (s *MemoryStore) GetAssetInfo(asset common.Address) (AssetInfo, bool) {
	info, ok := s.assets[asset]
	return info, ok
}

func (s *MemoryStore) PutAssetInfo(asset common.Address, info AssetInfo) {
	s.assets[asset] = info
}

func (s *MemoryStore) GetIndices(asset common.Address) (AccrualIndices, bool) {
	indices, ok := s.indices[asset]
	return indices, ok
}

func (s *MemoryStore) PutIndices(asset common.Address, indices AccrualIndices) {
	s.indices[asset] = indices
}

func (s *MemoryStore) GetVault(account, asset common.Address) VaultAmount {
	vault := s.vaults[vaultKey{account: account, asset: asset}]
	vault.ensure()
	return vault
}

func (s *MemoryStore) PutVault(account, asset common.Address, vault VaultAmount) {
	vault.ensure()
	s.vaults[vaultKey{account: account, asset: asset}] = vault
}

func (s *MemoryStore) GetGlobal(asset common.Address) GlobalAmount {
	global := s.globals[asset]
	global.ensure()
	return global
}

func (s *MemoryStore) PutGlobal(asset common.Address, global GlobalAmount) {
	global.ensure()
	s.globals[asset] = global
}

func (s *MemoryStore) GetReserves(asset common.Address) *big.Int {
	if r, ok := s.reserves[asset]; ok {
		return new(big.Int).Set(r)
	}
	return big.NewInt(0)
}

func (s *MemoryStore) PutReserves(asset common.Address, reserves *big.Int) {
	s.reserves[asset] = new(big.Int).Set(reserves)
}

// Assets returns all registered assets in a stable order.
func (s *MemoryStore) Assets() []common.Address {
	out := make([]common.Address, 0, len(s.assets))
	for asset := range s.assets {
		out = append(out, asset)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Hex() < out[j].Hex()
	})
	return out
}
