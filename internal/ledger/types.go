package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AssetInfo is the per-asset registration record. Immutable after
// RegisterAsset except through the administrative update path.
type AssetInfo struct {
	// CollateralizationRatioDeposit shrinks the effective value of deposits,
	// expressed against fixedpoint.RatioPrecision (>= 1x).
	CollateralizationRatioDeposit *big.Int
	// CollateralizationRatioBorrow inflates the effective liability of
	// borrows, expressed against fixedpoint.RatioPrecision (>= 1x).
	CollateralizationRatioBorrow *big.Int
	// PriceFeed identifies the oracle feed used to value the asset.
	PriceFeed common.Hash
	// Decimals is the token's decimal count, used to align notionals.
	Decimals uint8
	// RateIntercept and RateCoefficient parameterize the linear borrow rate,
	// both at fixedpoint.Precision scale.
	RateIntercept   *big.Int
	RateCoefficient *big.Int
	// ReserveFactorBps is the share of the deposit-side interest withheld for
	// protocol reserves, in basis points.
	ReserveFactorBps uint64
	// Registered marks the asset as known to the ledger.
	Registered bool
}

// AccrualIndices carries the per-asset interest indices. Both start at
// 1x precision and never decrease.
type AccrualIndices struct {
	Deposited      *big.Int
	Borrowed       *big.Int
	LastUpdateTime int64
}

// VaultAmount is one account's normalized position in a single asset.
type VaultAmount struct {
	Deposited *big.Int
	Borrowed  *big.Int
}

// GlobalAmount aggregates all vaults' normalized positions for an asset.
// Deposited >= Borrowed is the protocol solvency invariant.
type GlobalAmount struct {
	Deposited *big.Int
	Borrowed  *big.Int
}

func (v *VaultAmount) ensure() {
	if v.Deposited == nil {
		v.Deposited = big.NewInt(0)
	}
	if v.Borrowed == nil {
		v.Borrowed = big.NewInt(0)
	}
}

func (g *GlobalAmount) ensure() {
	if g.Deposited == nil {
		g.Deposited = big.NewInt(0)
	}
	if g.Borrowed == nil {
		g.Borrowed = big.NewInt(0)
	}
}
