package pool

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/zlp/pool-engine/internal/fixed"
	"github.com/zlp/pool-engine/internal/model"
	"github.com/zlp/pool-engine/internal/period"
)

// RedeemShares pays caller shares/total_shares of each remaining reserve
// and zeroes caller's shares.
//
// total_shares is left unchanged, so later redeemers divide what is left
// by the original total.
func (p *Pool) RedeemShares(height uint64, caller common.Address) (model.Event, error) {
	if err := p.requirePhase(height, period.PhasePostSettlement); err != nil {
		return model.Event{}, err
	}
	shares := p.shares[caller]
	if shares == nil || shares.IsZero() {
		return model.Event{}, ErrNoShares
	}

	collOut, err := fixed.MulDiv(shares, p.collateralSupply, p.totalShares)
	if err != nil {
		return model.Event{}, err
	}
	borrowOut, err := fixed.MulDiv(shares, p.borrowSupply, p.totalShares)
	if err != nil {
		return model.Event{}, err
	}
	nextColl, err := fixed.Sub(p.collateralSupply, collOut)
	if err != nil {
		return model.Event{}, ErrInsufficientLiquidity
	}
	nextBorrow, err := fixed.Sub(p.borrowSupply, borrowOut)
	if err != nil {
		return model.Event{}, ErrInsufficientLiquidity
	}

	err = p.moveLegs([]leg{
		p.payoutLeg(p.cfg.Collateral, caller, collOut),
		p.payoutLeg(p.cfg.Borrow, caller, borrowOut),
	})
	if err != nil {
		return model.Event{}, err
	}

	p.collateralSupply = nextColl
	p.borrowSupply = nextBorrow
	p.shares[caller] = fixed.Zero()

	return newEvent(model.EventSharesRedeemed, caller, height, map[string]string{
		"shares":            shares.Dec(),
		"collateral_amount": collOut.Dec(),
		"borrow_amount":     borrowOut.Dec(),
	}), nil
}
