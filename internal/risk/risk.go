package risk

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"crosslend/internal/fixedpoint"
	"crosslend/internal/ledger"
	"crosslend/internal/oracle"
)

// MaxDecimals is the common decimal base all asset notionals are aligned to.
// Registration caps asset decimals at this value, so decimalShift never has
// to scale down.
const MaxDecimals = ledger.MaxDecimals

var (
	ErrInsufficientVaultBalance    = errors.New("risk: insufficient vault balance")
	ErrInsufficientGlobalLiquidity = errors.New("risk: insufficient global liquidity")
	ErrUndercollateralized         = errors.New("risk: vault would be undercollateralized")
)

// Engine prices vaults against the oracle and gates balance-reducing actions.
type Engine struct {
	ledger *ledger.Ledger
	prices oracle.PriceReader
}

func NewEngine(l *ledger.Ledger, prices oracle.PriceReader) *Engine {
	return &Engine{ledger: l, prices: prices}
}

// Notionals is the pair of effective values the collateralization inequality
// compares: deposits shrunk by the deposit ratio, borrows inflated by the
// borrow ratio.
type Notionals struct {
	Deposited *big.Int
	Borrowed  *big.Int
}

// VaultNotionals values the account's whole vault across all registered
// assets.
func (e *Engine) VaultNotionals(account common.Address) (Notionals, error) {
	deposited := big.NewInt(0)
	borrowed := big.NewInt(0)

	for _, asset := range e.ledger.Store().Assets() {
		vault := e.ledger.Store().GetVault(account, asset)
		if vault.Deposited.Sign() == 0 && vault.Borrowed.Sign() == 0 {
			continue
		}
		info, err := e.ledger.AssetInfo(asset)
		if err != nil {
			return Notionals{}, err
		}
		indices, err := e.ledger.Indices(asset)
		if err != nil {
			return Notionals{}, err
		}

		if vault.Deposited.Sign() > 0 {
			amount, err := fixedpoint.Denormalize(vault.Deposited, indices.Deposited, fixedpoint.RoundDown)
			if err != nil {
				return Notionals{}, err
			}
			value, err := e.effectiveDepositValue(info, amount)
			if err != nil {
				return Notionals{}, err
			}
			deposited.Add(deposited, value)
		}
		if vault.Borrowed.Sign() > 0 {
			amount, err := fixedpoint.Denormalize(vault.Borrowed, indices.Borrowed, fixedpoint.RoundUp)
			if err != nil {
				return Notionals{}, err
			}
			value, err := e.effectiveBorrowValue(info, amount)
			if err != nil {
				return Notionals{}, err
			}
			borrowed.Add(borrowed, value)
		}
	}
	return Notionals{Deposited: deposited, Borrowed: borrowed}, nil
}

// CheckWithdraw gates a withdrawal of a raw token amount: the vault must hold
// surplus shares, the pool must have free liquidity, and the vault must stay
// collateralized after losing the amount's effective value.
func (e *Engine) CheckWithdraw(account, asset common.Address, amount *big.Int) error {
	info, err := e.ledger.AssetInfo(asset)
	if err != nil {
		return err
	}
	indices, err := e.ledger.Indices(asset)
	if err != nil {
		return err
	}
	normalized, err := fixedpoint.Normalize(amount, indices.Deposited, fixedpoint.RoundUp)
	if err != nil {
		return err
	}

	vault := e.ledger.Store().GetVault(account, asset)
	required := new(big.Int).Add(vault.Borrowed, normalized)
	if vault.Deposited.Cmp(required) < 0 {
		return ErrInsufficientVaultBalance
	}

	if e.ledger.FreeLiquidity(asset).Cmp(normalized) < 0 {
		return ErrInsufficientGlobalLiquidity
	}

	notionals, err := e.VaultNotionals(account)
	if err != nil {
		return err
	}
	pending, err := e.effectiveDepositValue(info, amount)
	if err != nil {
		return err
	}
	remaining := new(big.Int).Sub(notionals.Deposited, pending)
	if remaining.Cmp(notionals.Borrowed) < 0 {
		return ErrUndercollateralized
	}
	return nil
}

// CheckBorrow gates a borrow of a raw token amount against the global pool
// and the post-action collateralization inequality.
func (e *Engine) CheckBorrow(account, asset common.Address, amount *big.Int) error {
	indices, err := e.ledger.Indices(asset)
	if err != nil {
		return err
	}
	normalized, err := fixedpoint.Normalize(amount, indices.Borrowed, fixedpoint.RoundUp)
	if err != nil {
		return err
	}

	if e.ledger.FreeLiquidity(asset).Cmp(normalized) < 0 {
		return ErrInsufficientGlobalLiquidity
	}
	return e.CheckBorrowCollateral(account, asset, amount)
}

// CheckBorrowCollateral checks only the post-action collateralization
// inequality, for borrows funded from another chain's pool where liquidity is
// the funding side's concern.
func (e *Engine) CheckBorrowCollateral(account, asset common.Address, amount *big.Int) error {
	info, err := e.ledger.AssetInfo(asset)
	if err != nil {
		return err
	}

	notionals, err := e.VaultNotionals(account)
	if err != nil {
		return err
	}
	pending, err := e.effectiveBorrowValue(info, amount)
	if err != nil {
		return err
	}
	projected := new(big.Int).Add(notionals.Borrowed, pending)
	if notionals.Deposited.Cmp(projected) < 0 {
		return ErrUndercollateralized
	}
	return nil
}

// notionalValue prices a raw token amount and aligns it to the common decimal
// base, without any collateralization adjustment.
func (e *Engine) notionalValue(info ledger.AssetInfo, amount *big.Int) (*big.Int, error) {
	price, err := e.prices.QueryPrice(info.PriceFeed)
	if err != nil {
		return nil, err
	}
	if price.Price <= 0 {
		return nil, oracle.ErrNonPositivePrice
	}
	aligned := new(big.Int).Mul(amount, decimalShift(info.Decimals))
	return aligned.Mul(aligned, big.NewInt(price.Price)), nil
}

func (e *Engine) effectiveDepositValue(info ledger.AssetInfo, amount *big.Int) (*big.Int, error) {
	value, err := e.notionalValue(info, amount)
	if err != nil {
		return nil, err
	}
	return fixedpoint.RemoveRatio(value, info.CollateralizationRatioDeposit, fixedpoint.RoundDown)
}

func (e *Engine) effectiveBorrowValue(info ledger.AssetInfo, amount *big.Int) (*big.Int, error) {
	value, err := e.notionalValue(info, amount)
	if err != nil {
		return nil, err
	}
	return fixedpoint.ApplyRatio(value, info.CollateralizationRatioBorrow, fixedpoint.RoundUp)
}

func decimalShift(decimals uint8) *big.Int {
	if decimals >= MaxDecimals {
		return big.NewInt(1)
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(MaxDecimals-decimals)), nil)
}
