package pool

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/zlp/pool-engine/internal/amm"
	"github.com/zlp/pool-engine/internal/fixed"
	"github.com/zlp/pool-engine/internal/model"
	"github.com/zlp/pool-engine/internal/period"
)

func (p *Pool) bootstrapping() bool {
	return p.collateralSupply.IsZero() && p.borrowSupply.IsZero()
}

// refSupplies is the ratio new liquidity must match: the eq-factors while
// the pool is empty, the live reserves afterwards.
func (p *Pool) refSupplies() (collateral, borrow *uint256.Int) {
	if p.bootstrapping() {
		return p.cfg.CollateralEqFactor, p.cfg.BorrowEqFactor
	}
	return p.collateralSupply, p.borrowSupply
}

// LPBorrowAmount returns the borrow currency that must accompany collateral
// in a liquidity provision at the current ratio.
func (p *Pool) LPBorrowAmount(collateral *uint256.Int) (*uint256.Int, error) {
	refColl, refBorrow := p.refSupplies()
	return amm.MatchingAmount(collateral, refColl, refBorrow)
}

// LPCollateralAmount is the inverse of LPBorrowAmount.
func (p *Pool) LPCollateralAmount(borrow *uint256.Int) (*uint256.Int, error) {
	refColl, refBorrow := p.refSupplies()
	return amm.MatchingAmount(borrow, refBorrow, refColl)
}

// ProvideLiquidity pulls both currencies from caller at the current ratio
// and credits caller with borrow shares.
func (p *Pool) ProvideLiquidity(height uint64, caller common.Address, collateral, borrow *uint256.Int) (model.Event, error) {
	if err := p.requirePhase(height, period.PhaseLP); err != nil {
		return model.Event{}, err
	}
	if collateral == nil || borrow == nil || collateral.IsZero() || borrow.IsZero() {
		return model.Event{}, ErrInvalidAmount
	}
	refColl, refBorrow := p.refSupplies()
	ok, err := amm.RatioMatches(collateral, borrow, refColl, refBorrow)
	if err != nil {
		return model.Event{}, err
	}
	if !ok {
		return model.Event{}, ErrRatioMismatch
	}

	nextColl, err := fixed.Add(p.collateralSupply, collateral)
	if err != nil {
		return model.Event{}, err
	}
	nextBorrow, err := fixed.Add(p.borrowSupply, borrow)
	if err != nil {
		return model.Event{}, err
	}
	nextShares, err := fixed.Add(p.SharesOf(caller), borrow)
	if err != nil {
		return model.Event{}, err
	}
	nextTotal, err := fixed.Add(p.totalShares, borrow)
	if err != nil {
		return model.Event{}, err
	}

	err = p.moveLegs([]leg{
		p.pullLeg(p.cfg.Collateral, caller, collateral),
		p.pullLeg(p.cfg.Borrow, caller, borrow),
	})
	if err != nil {
		return model.Event{}, err
	}

	p.collateralSupply = nextColl
	p.borrowSupply = nextBorrow
	p.shares[caller] = nextShares
	p.totalShares = nextTotal

	return newEvent(model.EventLiquidityProvided, caller, height, map[string]string{
		"collateral_amount": collateral.Dec(),
		"borrow_amount":     borrow.Dec(),
		"shares":            nextShares.Dec(),
		"total_shares":      nextTotal.Dec(),
	}), nil
}
