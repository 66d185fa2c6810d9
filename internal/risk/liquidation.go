package risk

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"crosslend/internal/fixedpoint"
)

var (
	ErrVaultHealthy       = errors.New("risk: vault not eligible for liquidation")
	ErrRepayTooLarge      = errors.New("risk: repay exceeds outstanding borrow")
	ErrReceiveTooLarge    = errors.New("risk: receipt exceeds outstanding deposit")
	ErrPortionCapExceeded = errors.New("risk: repaid notional exceeds liquidation portion cap")
	ErrBonusCapExceeded   = errors.New("risk: received notional exceeds liquidation bonus cap")
	ErrDuplicateAsset     = errors.New("risk: duplicate asset in liquidation batch")
)

// AssetAmount is one leg of a liquidation proposal, in raw token units.
type AssetAmount struct {
	Asset  common.Address
	Amount *big.Int
}

// LiquidationParams are the governance-set caps, both against
// fixedpoint.RatioPrecision.
type LiquidationParams struct {
	// MaxPortion bounds the share of the vault's borrowed value repayable in
	// one call.
	MaxPortion *big.Int
	// MaxBonus bounds the received notional relative to the repaid notional.
	MaxBonus *big.Int
}

// CheckLiquidation validates a full liquidation proposal atomically: the vault
// must be underwater, no leg may exceed the vault's outstanding position, and
// both the portion and bonus caps must hold. Any violation rejects the whole
// proposal.
func (e *Engine) CheckLiquidation(vault common.Address, repay, receive []AssetAmount, params LiquidationParams) error {
	if err := rejectDuplicates(repay); err != nil {
		return err
	}
	if err := rejectDuplicates(receive); err != nil {
		return err
	}

	notionals, err := e.VaultNotionals(vault)
	if err != nil {
		return err
	}
	if notionals.Deposited.Cmp(notionals.Borrowed) >= 0 {
		return ErrVaultHealthy
	}

	notionalRepaid := big.NewInt(0)
	for _, leg := range repay {
		info, err := e.ledger.AssetInfo(leg.Asset)
		if err != nil {
			return err
		}
		indices, err := e.ledger.Indices(leg.Asset)
		if err != nil {
			return err
		}
		normalized, err := fixedpoint.Normalize(leg.Amount, indices.Borrowed, fixedpoint.RoundDown)
		if err != nil {
			return err
		}
		position := e.ledger.Store().GetVault(vault, leg.Asset)
		if normalized.Cmp(position.Borrowed) > 0 {
			return ErrRepayTooLarge
		}
		value, err := e.notionalValue(info, leg.Amount)
		if err != nil {
			return err
		}
		notionalRepaid.Add(notionalRepaid, value)
	}

	notionalReceived := big.NewInt(0)
	for _, leg := range receive {
		info, err := e.ledger.AssetInfo(leg.Asset)
		if err != nil {
			return err
		}
		indices, err := e.ledger.Indices(leg.Asset)
		if err != nil {
			return err
		}
		normalized, err := fixedpoint.Normalize(leg.Amount, indices.Deposited, fixedpoint.RoundUp)
		if err != nil {
			return err
		}
		position := e.ledger.Store().GetVault(vault, leg.Asset)
		if normalized.Cmp(position.Deposited) > 0 {
			return ErrReceiveTooLarge
		}
		value, err := e.notionalValue(info, leg.Amount)
		if err != nil {
			return err
		}
		notionalReceived.Add(notionalReceived, value)
	}

	maxRepaid, err := fixedpoint.ApplyRatio(notionals.Borrowed, params.MaxPortion, fixedpoint.RoundDown)
	if err != nil {
		return err
	}
	if notionalRepaid.Cmp(maxRepaid) > 0 {
		return ErrPortionCapExceeded
	}

	maxReceived, err := fixedpoint.ApplyRatio(notionalRepaid, params.MaxBonus, fixedpoint.RoundDown)
	if err != nil {
		return err
	}
	if notionalReceived.Cmp(maxReceived) > 0 {
		return ErrBonusCapExceeded
	}
	return nil
}

func rejectDuplicates(legs []AssetAmount) error {
	seen := make(map[common.Address]struct{}, len(legs))
	for _, leg := range legs {
		if _, ok := seen[leg.Asset]; ok {
			return ErrDuplicateAsset
		}
		seen[leg.Asset] = struct{}{}
	}
	return nil
}
