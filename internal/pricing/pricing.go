// Package pricing computes the oblivious put premium that lets the pool fix a
// loan's repayment at origination, with no liquidation afterwards.
//
// The premium is model-free: it scales spot price, an annualized volatility
// and the square root of the remaining AMM horizon by a risk multiplier,
// with no distributional assumption beyond the volatility scalar. All
// values are integers scaled by calc_decimals.
package pricing

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/zlp/pool-engine/internal/fixed"
)

var (
	// ErrInvalidBlocksPerYear is returned when blocks_per_year is zero.
	ErrInvalidBlocksPerYear = errors.New("pricing: blocks_per_year must be positive")

	// ErrMissingParam is returned when a parameter is nil.
	ErrMissingParam = errors.New("pricing: parameter not set")
)

// Params are the owner-controlled inputs of the put price.
type Params struct {
	// Alpha is the risk multiplier, scaled by calc_decimals.
	Alpha *uint256.Int
	// CollateralPrice is the borrow-currency base units per whole collateral
	// token (e.g. 2000e6 for 2000 USDC per WETH).
	CollateralPrice *uint256.Int
	// CollateralPriceAnnualizedVol is scaled by calc_decimals (1.2e12 = 120%).
	CollateralPriceAnnualizedVol *uint256.Int
	BlocksPerYear                uint64
}

func (p Params) Validate() error {
	if p.Alpha == nil || p.CollateralPrice == nil || p.CollateralPriceAnnualizedVol == nil {
		return ErrMissingParam
	}
	if p.BlocksPerYear == 0 {
		return ErrInvalidBlocksPerYear
	}
	return nil
}

// Clone returns a deep copy so callers cannot alias pool state.
func (p Params) Clone() Params {
	return Params{
		Alpha:                        fixed.Clone(p.Alpha),
		CollateralPrice:              fixed.Clone(p.CollateralPrice),
		CollateralPriceAnnualizedVol: fixed.Clone(p.CollateralPriceAnnualizedVol),
		BlocksPerYear:                p.BlocksPerYear,
	}
}

// Expiry is the remaining AMM horizon in years, scaled by calc_decimals,
// together with its square root at the same scale.
type Expiry struct {
	TimeToExpiry     *uint256.Int
	SqrtTimeToExpiry *uint256.Int
}

// TimeToExpiry computes
//
//	tte  = (ammEnd - height) * calcDecimals / blocksPerYear
//	sqrt = floor(sqrt(tte * calcDecimals))
//
// Both are zero once height >= ammEnd.
func TimeToExpiry(height, ammEnd, blocksPerYear uint64, calcDecimals *uint256.Int) (Expiry, error) {
	if blocksPerYear == 0 {
		return Expiry{}, ErrInvalidBlocksPerYear
	}
	if height >= ammEnd {
		return Expiry{TimeToExpiry: fixed.Zero(), SqrtTimeToExpiry: fixed.Zero()}, nil
	}
	remaining := uint256.NewInt(ammEnd - height)
	tte, err := fixed.MulDiv(remaining, calcDecimals, uint256.NewInt(blocksPerYear))
	if err != nil {
		return Expiry{}, fmt.Errorf("time to expiry: %w", err)
	}
	scaled, err := fixed.Mul(tte, calcDecimals)
	if err != nil {
		return Expiry{}, fmt.Errorf("time to expiry: %w", err)
	}
	return Expiry{TimeToExpiry: tte, SqrtTimeToExpiry: fixed.Sqrt(scaled)}, nil
}

// ObliviousPutPrice returns the premium, in borrow-currency base units per
// whole collateral token:
//
//	alpha * price * vol * sqrtTimeToExpiry / calcDecimals^3
//
// The three divisions are applied one at a time, which truncates to the
// same result as a single division by calcDecimals^3.
func ObliviousPutPrice(p Params, sqrtTimeToExpiry, calcDecimals *uint256.Int) (*uint256.Int, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	acc, err := fixed.Mul(p.Alpha, p.CollateralPrice)
	if err != nil {
		return nil, fmt.Errorf("put price: %w", err)
	}
	if acc, err = fixed.Mul(acc, p.CollateralPriceAnnualizedVol); err != nil {
		return nil, fmt.Errorf("put price: %w", err)
	}
	if acc, err = fixed.Mul(acc, sqrtTimeToExpiry); err != nil {
		return nil, fmt.Errorf("put price: %w", err)
	}
	for i := 0; i < 3; i++ {
		if acc, err = fixed.Div(acc, calcDecimals); err != nil {
			return nil, fmt.Errorf("put price: %w", err)
		}
	}
	return acc, nil
}
