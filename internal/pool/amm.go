package pool

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/zlp/pool-engine/internal/amm"
	"github.com/zlp/pool-engine/internal/fixed"
	"github.com/zlp/pool-engine/internal/model"
	"github.com/zlp/pool-engine/internal/period"
	"github.com/zlp/pool-engine/internal/pricing"
)

// BorrowTerms is a borrow quote at a given height.
type BorrowTerms struct {
	Pledge    *uint256.Int
	Received  *uint256.Int
	Repayment *uint256.Int
	PutPrice  *uint256.Int
	Expiry    pricing.Expiry
}

// LendTerms is a lend quote at a given height.
type LendTerms struct {
	Notional  *uint256.Int
	Repayment *uint256.Int
	PutPrice  *uint256.Int
	Expiry    pricing.Expiry
}

// InitializeAMM freezes the reserve product as k and opens the AMM window.
// Anyone may call it once the LP phase is over.
func (p *Pool) InitializeAMM(height uint64, caller common.Address) (model.Event, error) {
	if height < p.cfg.Boundaries.LPEnd {
		return model.Event{}, ErrTooEarly
	}
	if p.ammInitialized {
		return model.Event{}, ErrAlreadyInitialized
	}
	k, err := amm.Constant(p.collateralSupply, p.borrowSupply)
	if err != nil {
		return model.Event{}, err
	}

	p.ammConstant = k
	p.ammInitialized = true

	return newEvent(model.EventAMMInitialized, caller, height, map[string]string{
		"amm_constant":      k.Dec(),
		"collateral_supply": p.collateralSupply.Dec(),
		"borrow_supply":     p.borrowSupply.Dec(),
	}), nil
}

// BorrowableAmount quotes the borrow currency paid for pledging pledge.
func (p *Pool) BorrowableAmount(pledge *uint256.Int) (*uint256.Int, error) {
	if !p.ammInitialized {
		return nil, ErrAMMNotInitialized
	}
	return amm.BorrowableAmount(p.collateralSupply, p.borrowSupply, pledge)
}

// PledgeableAmount quotes the collateral needed to take borrow out.
func (p *Pool) PledgeableAmount(borrow *uint256.Int) (*uint256.Int, error) {
	if !p.ammInitialized {
		return nil, ErrAMMNotInitialized
	}
	return amm.PledgeableAmount(p.collateralSupply, p.borrowSupply, borrow)
}

// TimeToExpiry is defined while the AMM phase is active and at amm_end
// itself, where it is zero.
func (p *Pool) TimeToExpiry(height uint64) (pricing.Expiry, error) {
	if p.ammInitialized && height == p.cfg.Boundaries.AMMEnd {
		return pricing.Expiry{TimeToExpiry: fixed.Zero(), SqrtTimeToExpiry: fixed.Zero()}, nil
	}
	if err := p.requirePhase(height, period.PhaseAMM); err != nil {
		return pricing.Expiry{}, err
	}
	return p.expiry(height)
}

func (p *Pool) expiry(height uint64) (pricing.Expiry, error) {
	return pricing.TimeToExpiry(height, p.cfg.Boundaries.AMMEnd, p.params.BlocksPerYear, p.cfg.CalcDecimals)
}

// ObliviousPutPrice prices downside protection for the given scaled sqrt of
// time to expiry under the current pricing parameters.
func (p *Pool) ObliviousPutPrice(sqrtTimeToExpiry *uint256.Int) (*uint256.Int, error) {
	return pricing.ObliviousPutPrice(p.params, sqrtTimeToExpiry, p.cfg.CalcDecimals)
}

// putPrice backs the borrow and lend terms, which only quote in the AMM phase.
func (p *Pool) putPrice(height uint64) (pricing.Expiry, *uint256.Int, error) {
	if err := p.requirePhase(height, period.PhaseAMM); err != nil {
		return pricing.Expiry{}, nil, err
	}
	exp, err := p.expiry(height)
	if err != nil {
		return pricing.Expiry{}, nil, err
	}
	put, err := p.ObliviousPutPrice(exp.SqrtTimeToExpiry)
	if err != nil {
		return pricing.Expiry{}, nil, err
	}
	return exp, put, nil
}

// BorrowingTerms quotes a borrow of pledge at height.
func (p *Pool) BorrowingTerms(height uint64, pledge *uint256.Int) (BorrowTerms, error) {
	exp, put, err := p.putPrice(height)
	if err != nil {
		return BorrowTerms{}, err
	}
	received, err := p.BorrowableAmount(pledge)
	if err != nil {
		return BorrowTerms{}, err
	}
	repayment, err := p.policy.BorrowRepayment(pricing.BorrowInputs{
		Pledge:         pledge,
		Received:       received,
		PutPrice:       put,
		CollateralUnit: fixed.Pow10(p.cfg.Collateral.Decimals()),
	})
	if err != nil {
		return BorrowTerms{}, err
	}
	return BorrowTerms{
		Pledge:    fixed.Clone(pledge),
		Received:  received,
		Repayment: repayment,
		PutPrice:  put,
		Expiry:    exp,
	}, nil
}

// LendingTerms quotes a lend of notional at height.
func (p *Pool) LendingTerms(height uint64, notional *uint256.Int) (LendTerms, error) {
	exp, put, err := p.putPrice(height)
	if err != nil {
		return LendTerms{}, err
	}
	repayment, err := p.policy.LendRepayment(pricing.LendInputs{
		Notional:        notional,
		PutPrice:        put,
		CollateralPrice: p.params.CollateralPrice,
	})
	if err != nil {
		return LendTerms{}, err
	}
	return LendTerms{
		Notional:  fixed.Clone(notional),
		Repayment: repayment,
		PutPrice:  put,
		Expiry:    exp,
	}, nil
}

// Borrow pledges collateral and pays out the curve quote, recording a loan
// whose repayment is fixed now. It fails with ErrSlippageExceeded when the
// quote is below minReceived.
func (p *Pool) Borrow(height uint64, caller common.Address, minReceived, pledge *uint256.Int) (model.Event, error) {
	if err := p.requirePhase(height, period.PhaseAMM); err != nil {
		return model.Event{}, err
	}
	if pledge == nil || pledge.IsZero() {
		return model.Event{}, ErrInvalidAmount
	}
	terms, err := p.BorrowingTerms(height, pledge)
	if err != nil {
		return model.Event{}, err
	}
	if terms.Received.Lt(fixed.Clone(minReceived)) {
		return model.Event{}, ErrSlippageExceeded
	}

	nextColl, err := fixed.Add(p.collateralSupply, pledge)
	if err != nil {
		return model.Event{}, err
	}
	nextBorrow, err := fixed.Sub(p.borrowSupply, terms.Received)
	if err != nil {
		return model.Event{}, ErrInsufficientLiquidity
	}

	err = p.moveLegs([]leg{
		p.pullLeg(p.cfg.Collateral, caller, pledge),
		p.payoutLeg(p.cfg.Borrow, caller, terms.Received),
	})
	if err != nil {
		return model.Event{}, err
	}

	p.collateralSupply = nextColl
	p.borrowSupply = nextBorrow
	index := len(p.borrows[caller])
	p.borrows[caller] = append(p.borrows[caller], model.Loan{
		PledgedAmount:   fixed.Clone(pledge),
		ReceivedAmount:  terms.Received,
		RepaymentAmount: terms.Repayment,
		State:           model.LoanOpen,
		OriginHeight:    height,
	})

	return newEvent(model.EventBorrowOriginated, caller, height, map[string]string{
		"loan_index":       strconv.Itoa(index),
		"pledged_amount":   pledge.Dec(),
		"received_amount":  terms.Received.Dec(),
		"repayment_amount": terms.Repayment.Dec(),
		"put_price":        terms.PutPrice.Dec(),
	}), nil
}

// Lend pulls exactly notional of borrow currency and records the amount
// the pool owes back at settlement. notional above maxOutlay fails with
// ErrSlippageExceeded.
func (p *Pool) Lend(height uint64, caller common.Address, maxOutlay, notional *uint256.Int) (model.Event, error) {
	if err := p.requirePhase(height, period.PhaseAMM); err != nil {
		return model.Event{}, err
	}
	if notional == nil || notional.IsZero() {
		return model.Event{}, ErrInvalidAmount
	}
	if notional.Gt(fixed.Clone(maxOutlay)) {
		return model.Event{}, ErrSlippageExceeded
	}
	terms, err := p.LendingTerms(height, notional)
	if err != nil {
		return model.Event{}, err
	}
	nextBorrow, err := fixed.Add(p.borrowSupply, notional)
	if err != nil {
		return model.Event{}, err
	}

	if err := p.moveLegs([]leg{p.pullLeg(p.cfg.Borrow, caller, notional)}); err != nil {
		return model.Event{}, err
	}

	p.borrowSupply = nextBorrow
	index := len(p.lends[caller])
	p.lends[caller] = append(p.lends[caller], model.Loan{
		PledgedAmount:   fixed.Zero(),
		ReceivedAmount:  fixed.Clone(notional),
		RepaymentAmount: terms.Repayment,
		State:           model.LoanOpen,
		OriginHeight:    height,
	})

	return newEvent(model.EventLendOriginated, caller, height, map[string]string{
		"loan_index":       strconv.Itoa(index),
		"notional":         notional.Dec(),
		"repayment_amount": terms.Repayment.Dec(),
		"put_price":        terms.PutPrice.Dec(),
	}), nil
}
