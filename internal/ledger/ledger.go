package ledger

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"crosslend/internal/fixedpoint"
)

// MaxDecimals is the common decimal base all asset notionals are aligned to.
// Assets with more decimals cannot be registered.
const MaxDecimals = 18

var (
	ErrAssetNotRegistered     = errors.New("ledger: asset not registered")
	ErrAssetAlreadyRegistered = errors.New("ledger: asset already registered")
	ErrDecimalsTooLarge       = errors.New("ledger: asset decimals exceed the alignment base")
	ErrInvalidAmount          = errors.New("ledger: amount must be positive")
	ErrInsufficientDeposited  = errors.New("ledger: insufficient deposited balance")
	ErrInsufficientBorrowed   = errors.New("ledger: insufficient borrowed balance")
)

// Ledger applies normalized balance mutations. Every mutation moves the vault
// and the per-asset global by the same delta, so the globals always equal the
// pointwise sum of the vaults.
type Ledger struct {
	store Store
}

func New(store Store) *Ledger {
	return &Ledger{store: store}
}

func (l *Ledger) Store() Store { return l.store }

// RegisterAsset records the asset config and initializes both accrual indices
// at 1x precision.
func (l *Ledger) RegisterAsset(asset common.Address, info AssetInfo, now int64) error {
	if existing, ok := l.store.GetAssetInfo(asset); ok && existing.Registered {
		return ErrAssetAlreadyRegistered
	}
	if info.Decimals > MaxDecimals {
		return ErrDecimalsTooLarge
	}
	info.Registered = true
	l.store.PutAssetInfo(asset, info)
	l.store.PutIndices(asset, AccrualIndices{
		Deposited:      new(big.Int).Set(fixedpoint.Precision),
		Borrowed:       new(big.Int).Set(fixedpoint.Precision),
		LastUpdateTime: now,
	})
	return nil
}

// AssetInfo returns the registration record or ErrAssetNotRegistered.
func (l *Ledger) AssetInfo(asset common.Address) (AssetInfo, error) {
	info, ok := l.store.GetAssetInfo(asset)
	if !ok || !info.Registered {
		return AssetInfo{}, ErrAssetNotRegistered
	}
	return info, nil
}

// Indices returns the accrual indices for a registered asset.
func (l *Ledger) Indices(asset common.Address) (AccrualIndices, error) {
	if _, err := l.AssetInfo(asset); err != nil {
		return AccrualIndices{}, err
	}
	indices, ok := l.store.GetIndices(asset)
	if !ok {
		return AccrualIndices{}, ErrAssetNotRegistered
	}
	return indices, nil
}

func (l *Ledger) CreditDeposit(account, asset common.Address, normalized *big.Int) error {
	if err := validAmount(normalized); err != nil {
		return err
	}
	vault := l.store.GetVault(account, asset)
	global := l.store.GetGlobal(asset)
	vault.Deposited = new(big.Int).Add(vault.Deposited, normalized)
	global.Deposited = new(big.Int).Add(global.Deposited, normalized)
	l.store.PutVault(account, asset, vault)
	l.store.PutGlobal(asset, global)
	return nil
}

func (l *Ledger) DebitDeposit(account, asset common.Address, normalized *big.Int) error {
	if err := validAmount(normalized); err != nil {
		return err
	}
	vault := l.store.GetVault(account, asset)
	if vault.Deposited.Cmp(normalized) < 0 {
		return ErrInsufficientDeposited
	}
	global := l.store.GetGlobal(asset)
	vault.Deposited = new(big.Int).Sub(vault.Deposited, normalized)
	global.Deposited = new(big.Int).Sub(global.Deposited, normalized)
	l.store.PutVault(account, asset, vault)
	l.store.PutGlobal(asset, global)
	return nil
}

func (l *Ledger) CreditBorrow(account, asset common.Address, normalized *big.Int) error {
	if err := validAmount(normalized); err != nil {
		return err
	}
	vault := l.store.GetVault(account, asset)
	global := l.store.GetGlobal(asset)
	vault.Borrowed = new(big.Int).Add(vault.Borrowed, normalized)
	global.Borrowed = new(big.Int).Add(global.Borrowed, normalized)
	l.store.PutVault(account, asset, vault)
	l.store.PutGlobal(asset, global)
	return nil
}

func (l *Ledger) DebitBorrow(account, asset common.Address, normalized *big.Int) error {
	if err := validAmount(normalized); err != nil {
		return err
	}
	vault := l.store.GetVault(account, asset)
	if vault.Borrowed.Cmp(normalized) < 0 {
		return ErrInsufficientBorrowed
	}
	global := l.store.GetGlobal(asset)
	vault.Borrowed = new(big.Int).Sub(vault.Borrowed, normalized)
	global.Borrowed = new(big.Int).Sub(global.Borrowed, normalized)
	l.store.PutVault(account, asset, vault)
	l.store.PutGlobal(asset, global)
	return nil
}

// FreeLiquidity is the normalized amount available for new borrows or
// withdrawals of an asset.
func (l *Ledger) FreeLiquidity(asset common.Address) *big.Int {
	global := l.store.GetGlobal(asset)
	free := new(big.Int).Sub(global.Deposited, global.Borrowed)
	if free.Sign() < 0 {
		return big.NewInt(0)
	}
	return free
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}
