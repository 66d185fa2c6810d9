package fixedpoint

import (
	"errors"
	"math/big"
)

// Precision is the protocol-wide fixed-point denominator. Accrual indices and
// collateralization ratios are both expressed against it.
var (
	Precision      = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	RatioPrecision = new(big.Int).Set(Precision)
)

var ErrDivisionByZero = errors.New("fixedpoint: division by zero")

// Rounding selects the direction applied to a truncating division. Round up
// for amounts a user must provide, round down for amounts a user may take; the
// protocol must never lose value to rounding.
type Rounding int

const (
	RoundDown Rounding = iota
	RoundUp
)

// MulDiv computes a*num/den with the given rounding. big.Int gives an
// arbitrary-width intermediate, so 18-decimal token supplies cannot overflow.
func MulDiv(a, num, den *big.Int, mode Rounding) (*big.Int, error) {
	if den == nil || den.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	product := new(big.Int).Mul(a, num)
	quo, rem := new(big.Int).QuoRem(product, den, new(big.Int))
	if mode == RoundUp && rem.Sign() != 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo, nil
}

// Normalize converts a token amount into index-adjusted shares.
func Normalize(amount, index *big.Int, mode Rounding) (*big.Int, error) {
	return MulDiv(amount, Precision, index, mode)
}

// Denormalize converts index-adjusted shares back into a token amount.
func Denormalize(normalized, index *big.Int, mode Rounding) (*big.Int, error) {
	return MulDiv(normalized, index, Precision, mode)
}

// ApplyRatio scales a value by ratio/RatioPrecision.
func ApplyRatio(value, ratio *big.Int, mode Rounding) (*big.Int, error) {
	return MulDiv(value, ratio, RatioPrecision, mode)
}

// RemoveRatio scales a value by RatioPrecision/ratio.
func RemoveRatio(value, ratio *big.Int, mode Rounding) (*big.Int, error) {
	return MulDiv(value, RatioPrecision, ratio, mode)
}
