package pricing

import (
	"github.com/holiman/uint256"

	"github.com/zlp/pool-engine/internal/fixed"
)

// BorrowInputs describes a borrow at the moment of origination.
type BorrowInputs struct {
	Pledge   *uint256.Int // collateral base units pledged
	Received *uint256.Int // borrow-currency base units paid out by the curve
	PutPrice *uint256.Int // premium per whole collateral token
	// CollateralUnit is one whole collateral token in base units (10^decimals).
	CollateralUnit *uint256.Int
}

// LendInputs describes a lend at the moment of origination.
type LendInputs struct {
	Notional        *uint256.Int
	PutPrice        *uint256.Int
	CollateralPrice *uint256.Int
}

// RepaymentPolicy turns the origination quote and premium into the fixed
// amount owed at settlement. Implementations must be monotonic in the
// premium and in the received/notional amount.
type RepaymentPolicy interface {
	BorrowRepayment(in BorrowInputs) (*uint256.Int, error)
	LendRepayment(in LendInputs) (*uint256.Int, error)
}

// PremiumPolicy charges borrowers the put premium on their pledged
// collateral and pays lenders the premium's share of spot on their notional.
//
//	borrow: received + putPrice * pledge / collateralUnit
//	lend:   notional + notional * putPrice / collateralPrice
type PremiumPolicy struct{}

func (PremiumPolicy) BorrowRepayment(in BorrowInputs) (*uint256.Int, error) {
	premium, err := fixed.MulDiv(in.PutPrice, in.Pledge, in.CollateralUnit)
	if err != nil {
		return nil, err
	}
	return fixed.Add(in.Received, premium)
}

func (PremiumPolicy) LendRepayment(in LendInputs) (*uint256.Int, error) {
	if in.CollateralPrice == nil || in.CollateralPrice.IsZero() {
		return fixed.Clone(in.Notional), nil
	}
	interest, err := fixed.MulDiv(in.Notional, in.PutPrice, in.CollateralPrice)
	if err != nil {
		return nil, err
	}
	return fixed.Add(in.Notional, interest)
}
