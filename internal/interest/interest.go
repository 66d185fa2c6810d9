package interest

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"crosslend/internal/fixedpoint"
	"crosslend/internal/ledger"
)

// SecondsPerYear converts annualized rates into per-second accrual.
const SecondsPerYear = 31_536_000

var basisPoints = big.NewInt(10_000)

var ErrClockWentBackwards = errors.New("interest: accrual time before last update")

// RateModel is the linear utilization curve: rate = intercept +
// coefficient * utilization, all terms at fixedpoint.Precision scale.
type RateModel struct {
	Intercept   *big.Int
	Coefficient *big.Int
}

// Rate returns the annualized borrow rate for a utilization ratio.
func (m RateModel) Rate(utilization *big.Int) *big.Int {
	rate := new(big.Int).Mul(m.Coefficient, utilization)
	rate.Quo(rate, fixedpoint.Precision)
	return rate.Add(rate, m.Intercept)
}

// Accrue advances the asset's deposit and borrow indices to now. It is a
// no-op within the same second and when nothing is deposited, and must be
// called before any balance-affecting action on the asset.
func Accrue(l *ledger.Ledger, asset common.Address, now int64) error {
	info, err := l.AssetInfo(asset)
	if err != nil {
		return err
	}
	indices, err := l.Indices(asset)
	if err != nil {
		return err
	}
	if now < indices.LastUpdateTime {
		return ErrClockWentBackwards
	}

	elapsed := now - indices.LastUpdateTime
	if elapsed == 0 {
		return nil
	}

	global := l.Store().GetGlobal(asset)
	if global.Deposited.Sign() == 0 {
		indices.LastUpdateTime = now
		l.Store().PutIndices(asset, indices)
		return nil
	}

	model := RateModel{Intercept: info.RateIntercept, Coefficient: info.RateCoefficient}
	utilization := new(big.Int).Mul(global.Borrowed, fixedpoint.Precision)
	utilization.Quo(utilization, global.Deposited)

	// proportion = elapsed * rate / secondsPerYear, at precision scale.
	proportion := new(big.Int).Mul(model.Rate(utilization), big.NewInt(elapsed))
	proportion.Quo(proportion, big.NewInt(SecondsPerYear))

	borrowDelta := new(big.Int).Mul(indices.Borrowed, proportion)
	borrowDelta.Quo(borrowDelta, fixedpoint.Precision)

	// Lenders receive the borrow-side growth scaled by utilization, net of
	// the reserve factor; the spread funds the protocol reserves.
	depositGross := new(big.Int).Mul(borrowDelta, global.Borrowed)
	depositGross.Quo(depositGross, global.Deposited)

	depositNet := new(big.Int).Set(depositGross)
	if info.ReserveFactorBps > 0 {
		keepBps := new(big.Int).SetUint64(10_000 - info.ReserveFactorBps)
		depositNet.Mul(depositGross, keepBps)
		depositNet.Quo(depositNet, basisPoints)

		withheld := new(big.Int).Sub(depositGross, depositNet)
		if withheld.Sign() > 0 {
			spread := new(big.Int).Mul(withheld, global.Deposited)
			spread.Quo(spread, fixedpoint.Precision)
			reserves := l.Store().GetReserves(asset)
			l.Store().PutReserves(asset, reserves.Add(reserves, spread))
		}
	}

	indices.Borrowed = new(big.Int).Add(indices.Borrowed, borrowDelta)
	indices.Deposited = new(big.Int).Add(indices.Deposited, depositNet)
	indices.LastUpdateTime = now
	l.Store().PutIndices(asset, indices)
	return nil
}
