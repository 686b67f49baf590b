package pool

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zlp/pool-engine/internal/fixed"
	"github.com/zlp/pool-engine/internal/model"
	"github.com/zlp/pool-engine/internal/period"
)

// Borrows returns copies of account's borrow positions in origination order.
func (p *Pool) Borrows(account common.Address) []model.Loan {
	return cloneLoans(p.borrows[account])
}

// Lends returns copies of account's lend positions in origination order.
func (p *Pool) Lends(account common.Address) []model.Loan {
	return cloneLoans(p.lends[account])
}

func cloneLoans(loans []model.Loan) []model.Loan {
	out := make([]model.Loan, len(loans))
	for i, l := range loans {
		out[i] = l.Clone()
	}
	return out
}

func openLoan(loans []model.Loan, index int) error {
	if len(loans) == 0 {
		return ErrNoSuchLoan
	}
	if index < 0 || index >= len(loans) {
		return ErrIndexOutOfRange
	}
	if loans[index].State != model.LoanOpen {
		return ErrAlreadyRepaid
	}
	return nil
}

// RepayLoan settles caller's borrow at index: the repayment is pulled in
// and the pledged collateral is returned.
func (p *Pool) RepayLoan(height uint64, caller common.Address, index int) (model.Event, error) {
	if err := p.requirePhase(height, period.PhaseSettlement); err != nil {
		return model.Event{}, err
	}
	loans := p.borrows[caller]
	if err := openLoan(loans, index); err != nil {
		return model.Event{}, err
	}
	loan := loans[index]

	nextBorrow, err := fixed.Add(p.borrowSupply, loan.RepaymentAmount)
	if err != nil {
		return model.Event{}, err
	}
	nextColl, err := fixed.Sub(p.collateralSupply, loan.PledgedAmount)
	if err != nil {
		return model.Event{}, ErrInsufficientLiquidity
	}

	err = p.moveLegs([]leg{
		p.pullLeg(p.cfg.Borrow, caller, loan.RepaymentAmount),
		p.payoutLeg(p.cfg.Collateral, caller, loan.PledgedAmount),
	})
	if err != nil {
		return model.Event{}, err
	}

	p.borrowSupply = nextBorrow
	p.collateralSupply = nextColl
	loans[index].State = model.LoanRepaid
	loans[index].RepaidHeight = height

	return newEvent(model.EventLoanRepaid, caller, height, map[string]string{
		"loan_index":       strconv.Itoa(index),
		"repayment_amount": loan.RepaymentAmount.Dec(),
		"pledged_amount":   loan.PledgedAmount.Dec(),
	}), nil
}

// AMMRepayLoan pays lender the fixed repayment of their lend at index out
// of pool reserves. Owner only.
func (p *Pool) AMMRepayLoan(height uint64, caller, lender common.Address, index int) (model.Event, error) {
	if err := p.requirePhase(height, period.PhaseSettlement); err != nil {
		return model.Event{}, err
	}
	if err := p.requireOwner(caller); err != nil {
		return model.Event{}, err
	}
	loans := p.lends[lender]
	if err := openLoan(loans, index); err != nil {
		return model.Event{}, err
	}
	loan := loans[index]

	nextBorrow, err := fixed.Sub(p.borrowSupply, loan.RepaymentAmount)
	if err != nil {
		return model.Event{}, ErrInsufficientLiquidity
	}

	if err := p.moveLegs([]leg{p.payoutLeg(p.cfg.Borrow, lender, loan.RepaymentAmount)}); err != nil {
		return model.Event{}, err
	}

	p.borrowSupply = nextBorrow
	loans[index].State = model.LoanRepaid
	loans[index].RepaidHeight = height

	return newEvent(model.EventLendRepaid, caller, height, map[string]string{
		"lender":           lender.Hex(),
		"loan_index":       strconv.Itoa(index),
		"repayment_amount": loan.RepaymentAmount.Dec(),
	}), nil
}
