// Package token defines the fungible-token collaborator the pool moves funds
// through, and an in-memory ledger implementing it.
//
// The interface mirrors the ERC-20 surface the pool relies on. Calls are
// synchronous and fail without side effects on insufficient balance or
// allowance.
package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/zlp/pool-engine/internal/fixed"
)

var (
	ErrInsufficientBalance   = errors.New("token: transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("token: transfer amount exceeds allowance")
	ErrZeroAddress           = errors.New("token: zero address")
)

// Token is the collaborator surface consumed by the pool. from in Transfer
// is the account initiating the call; spender in TransferFrom is the
// account spending a prior approval.
type Token interface {
	Symbol() string
	Decimals() uint8
	TotalSupply() *uint256.Int
	BalanceOf(account common.Address) *uint256.Int
	Allowance(owner, spender common.Address) *uint256.Int
	Approve(owner, spender common.Address, amount *uint256.Int) error
	Transfer(from, to common.Address, amount *uint256.Int) error
	TransferFrom(spender, from, to common.Address, amount *uint256.Int) error
}

// Ledger is an in-memory Token. It backs development servers and tests;
// production collaborators are real token contracts.
type Ledger struct {
	mu          sync.RWMutex
	symbol      string
	decimals    uint8
	totalSupply *uint256.Int
	balances    map[common.Address]*uint256.Int
	allowances  map[common.Address]map[common.Address]*uint256.Int
}

var _ Token = (*Ledger)(nil)

// NewLedger creates an empty ledger.
func NewLedger(symbol string, decimals uint8) *Ledger {
	return &Ledger{
		symbol:      symbol,
		decimals:    decimals,
		totalSupply: fixed.Zero(),
		balances:    make(map[common.Address]*uint256.Int),
		allowances:  make(map[common.Address]map[common.Address]*uint256.Int),
	}
}

func (l *Ledger) Symbol() string  { return l.symbol }
func (l *Ledger) Decimals() uint8 { return l.decimals }

func (l *Ledger) TotalSupply() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return fixed.Clone(l.totalSupply)
}

func (l *Ledger) BalanceOf(account common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return fixed.Clone(l.balances[account])
}

func (l *Ledger) Allowance(owner, spender common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return fixed.Clone(l.allowances[owner][spender])
}

// Mint credits amount to account and grows the total supply.
func (l *Ledger) Mint(to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	supply, err := fixed.Add(l.totalSupply, amount)
	if err != nil {
		return fmt.Errorf("mint %s: %w", l.symbol, err)
	}
	balance, err := fixed.Add(fixed.Clone(l.balances[to]), amount)
	if err != nil {
		return fmt.Errorf("mint %s: %w", l.symbol, err)
	}
	l.totalSupply = supply
	l.balances[to] = balance
	return nil
}

func (l *Ledger) Approve(owner, spender common.Address, amount *uint256.Int) error {
	if owner == (common.Address{}) || spender == (common.Address{}) {
		return ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.allowances[owner] == nil {
		l.allowances[owner] = make(map[common.Address]*uint256.Int)
	}
	l.allowances[owner][spender] = fixed.Clone(amount)
	return nil
}

func (l *Ledger) Transfer(from, to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(from, to, amount)
}

func (l *Ledger) TransferFrom(spender, from, to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	allowed := fixed.Clone(l.allowances[from][spender])
	remaining, err := fixed.Sub(allowed, amount)
	if err != nil {
		return ErrInsufficientAllowance
	}
	if err := l.move(from, to, amount); err != nil {
		return err
	}
	if l.allowances[from] == nil {
		l.allowances[from] = make(map[common.Address]*uint256.Int)
	}
	l.allowances[from][spender] = remaining
	return nil
}

// move must be called with mu held.
func (l *Ledger) move(from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	debited, err := fixed.Sub(fixed.Clone(l.balances[from]), amount)
	if err != nil {
		return ErrInsufficientBalance
	}
	if from == to {
		return nil
	}
	credited, err := fixed.Add(fixed.Clone(l.balances[to]), amount)
	if err != nil {
		return fmt.Errorf("transfer %s: %w", l.symbol, err)
	}
	l.balances[from] = debited
	l.balances[to] = credited
	return nil
}
