// Package amm implements the constant-product curve behind the pool's
// borrowing and lending quotes.
//
// The curve keeps k = Q_S * Q_K, where Q_S is the collateral reserve and Q_K
// the borrow-currency reserve. Borrowers pledge collateral into Q_S and take
// borrow currency out of Q_K.
//
// All functions are stateless: reserves are passed as arguments, never
// stored. All division truncates, so quotes are not exact inverses of each
// other at small magnitudes.
package amm

import (
	"errors"

	"github.com/holiman/uint256"

	"github.com/zlp/pool-engine/internal/fixed"
)

// ErrEmptyReserves is returned when a quote's denominator is an empty reserve.
var ErrEmptyReserves = errors.New("amm: reserves are empty")

// Constant returns k = collateralSupply * borrowSupply.
func Constant(collateralSupply, borrowSupply *uint256.Int) (*uint256.Int, error) {
	return fixed.Mul(collateralSupply, borrowSupply)
}

// BorrowableAmount returns the borrow currency paid out for pledging
// pledgeIn collateral:
//
//	Q_K - k / (Q_S + pledgeIn)
//
// The post-trade product never exceeds k.
func BorrowableAmount(collateralSupply, borrowSupply, pledgeIn *uint256.Int) (*uint256.Int, error) {
	k, err := Constant(collateralSupply, borrowSupply)
	if err != nil {
		return nil, err
	}
	denom, err := fixed.Add(collateralSupply, pledgeIn)
	if err != nil {
		return nil, err
	}
	if denom.IsZero() {
		return nil, ErrEmptyReserves
	}
	remaining, err := fixed.Div(k, denom)
	if err != nil {
		return nil, err
	}
	return fixed.Sub(borrowSupply, remaining)
}

// PledgeableAmount is the mirror quote for borrowOut units of borrow
// currency:
//
//	Q_S - k / (Q_K + borrowOut)
func PledgeableAmount(collateralSupply, borrowSupply, borrowOut *uint256.Int) (*uint256.Int, error) {
	k, err := Constant(collateralSupply, borrowSupply)
	if err != nil {
		return nil, err
	}
	denom, err := fixed.Add(borrowSupply, borrowOut)
	if err != nil {
		return nil, err
	}
	if denom.IsZero() {
		return nil, ErrEmptyReserves
	}
	remaining, err := fixed.Div(k, denom)
	if err != nil {
		return nil, err
	}
	return fixed.Sub(collateralSupply, remaining)
}

// MatchingAmount returns the amount of the other currency that keeps a
// deposit of amount at the ratio supplyOther:supplyGiven:
//
//	amount * supplyOther / supplyGiven
//
// Truncation makes this lossy below a reserve-dependent magnitude; a
// round trip through the inverse ratio can collapse to zero.
func MatchingAmount(amount, supplyGiven, supplyOther *uint256.Int) (*uint256.Int, error) {
	if supplyGiven.IsZero() {
		return nil, ErrEmptyReserves
	}
	return fixed.MulDiv(amount, supplyOther, supplyGiven)
}

// RatioMatches reports whether collateral:borrow equals
// refCollateral:refBorrow. It cross-multiplies instead of dividing so that
// rounding cannot favor either side.
func RatioMatches(collateral, borrow, refCollateral, refBorrow *uint256.Int) (bool, error) {
	lhs, err := fixed.Mul(collateral, refBorrow)
	if err != nil {
		return false, err
	}
	rhs, err := fixed.Mul(borrow, refCollateral)
	if err != nil {
		return false, err
	}
	return lhs.Eq(rhs), nil
}
