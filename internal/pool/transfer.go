package pool

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/zlp/pool-engine/internal/token"
)

// leg is one token movement of an operation. A pull moves funds from an
// account into the pool against a prior approval; a payout moves pool
// funds to an account.
type leg struct {
	tok     token.Token
	pull    bool
	account common.Address
	amount  *uint256.Int
}

func (p *Pool) pullLeg(tok token.Token, from common.Address, amount *uint256.Int) leg {
	return leg{tok: tok, pull: true, account: from, amount: amount}
}

func (p *Pool) payoutLeg(tok token.Token, to common.Address, amount *uint256.Int) leg {
	return leg{tok: tok, account: to, amount: amount}
}

// checkLegs verifies balances and allowances for every leg without moving
// anything.
func (p *Pool) checkLegs(legs []leg) error {
	for _, l := range legs {
		if l.amount.IsZero() {
			continue
		}
		if l.pull {
			if l.tok.BalanceOf(l.account).Lt(l.amount) {
				return fmt.Errorf("%s: %w", l.tok.Symbol(), token.ErrInsufficientBalance)
			}
			if l.tok.Allowance(l.account, p.cfg.Address).Lt(l.amount) {
				return fmt.Errorf("%s: %w", l.tok.Symbol(), token.ErrInsufficientAllowance)
			}
			continue
		}
		if l.tok.BalanceOf(p.cfg.Address).Lt(l.amount) {
			return fmt.Errorf("%s: %w", l.tok.Symbol(), ErrInsufficientLiquidity)
		}
	}
	return nil
}

// moveLegs runs checkLegs and then executes the legs in order. If a
// collaborator still fails, the legs already executed are reversed so the
// call has no token-side effect.
func (p *Pool) moveLegs(legs []leg) error {
	if err := p.checkLegs(legs); err != nil {
		return err
	}
	for i, l := range legs {
		if l.amount.IsZero() {
			continue
		}
		var err error
		if l.pull {
			err = l.tok.TransferFrom(p.cfg.Address, l.account, p.cfg.Address, l.amount)
		} else {
			err = l.tok.Transfer(p.cfg.Address, l.account, l.amount)
		}
		if err != nil {
			p.reverseLegs(legs[:i])
			return fmt.Errorf("%s: %w", l.tok.Symbol(), err)
		}
	}
	return nil
}

func (p *Pool) reverseLegs(done []leg) {
	for i := len(done) - 1; i >= 0; i-- {
		l := done[i]
		if l.amount.IsZero() {
			continue
		}
		if l.pull {
			_ = l.tok.Transfer(p.cfg.Address, l.account, l.amount)
		} else {
			_ = l.tok.Transfer(l.account, p.cfg.Address, l.amount)
		}
	}
}
