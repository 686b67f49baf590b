// Package model defines the domain types shared across the pool engine.
// Settlement amounts are *uint256.Int base units; persisted and published
// records carry them as base-10 strings.
package model

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/zlp/pool-engine/internal/fixed"
)

// LoanState is the lifecycle state of a loan. A loan moves Open -> Repaid
// exactly once and is never deleted.
type LoanState int

const (
	LoanOpen LoanState = iota
	LoanRepaid
)

func (s LoanState) String() string {
	switch s {
	case LoanOpen:
		return "open"
	case LoanRepaid:
		return "repaid"
	default:
		return fmt.Sprintf("LoanState(%d)", int(s))
	}
}

func (s LoanState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *LoanState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "open":
		*s = LoanOpen
	case "repaid":
		*s = LoanRepaid
	default:
		return fmt.Errorf("model: unknown loan state %q", b)
	}
	return nil
}

// Loan is one borrow or lend position. Borrow positions pledge collateral;
// lend positions leave PledgedAmount at zero.
type Loan struct {
	PledgedAmount   *uint256.Int // collateral base units (borrow only)
	ReceivedAmount  *uint256.Int // paid out (borrow) or paid in (lend) at origination
	RepaymentAmount *uint256.Int // fixed at origination, never revised
	State           LoanState
	OriginHeight    uint64
	RepaidHeight    uint64
}

// Clone returns a deep copy.
func (l Loan) Clone() Loan {
	return Loan{
		PledgedAmount:   fixed.Clone(l.PledgedAmount),
		ReceivedAmount:  fixed.Clone(l.ReceivedAmount),
		RepaymentAmount: fixed.Clone(l.RepaymentAmount),
		State:           l.State,
		OriginHeight:    l.OriginHeight,
		RepaidHeight:    l.RepaidHeight,
	}
}

// EventKind names a pool state change.
type EventKind string

const (
	EventLiquidityProvided    EventKind = "liquidity_provided"
	EventAMMInitialized       EventKind = "amm_initialized"
	EventBorrowOriginated     EventKind = "borrow_originated"
	EventLendOriginated       EventKind = "lend_originated"
	EventLoanRepaid           EventKind = "loan_repaid"
	EventLendRepaid           EventKind = "lend_repaid"
	EventSharesRedeemed       EventKind = "shares_redeemed"
	EventPricingParamsUpdated EventKind = "pricing_params_updated"
)

// Event is an immutable record of a successful pool mutation.
// Once created, these are never modified or deleted.
type Event struct {
	ID        string            `json:"id" db:"id"`
	Kind      EventKind         `json:"kind" db:"kind"`
	Account   string            `json:"account" db:"account"` // hex address of the caller
	Height    uint64            `json:"height" db:"height"`
	Data      map[string]string `json:"data" db:"data"` // base-10 amounts and indices
	Timestamp time.Time         `json:"timestamp" db:"timestamp"`
}

// PoolSnapshot is the pool's aggregate state after a mutation.
type PoolSnapshot struct {
	ID               string    `json:"id" db:"id"`
	Height           uint64    `json:"height" db:"height"`
	Phase            string    `json:"phase" db:"phase"`
	CollateralSupply string    `json:"collateral_supply" db:"collateral_supply"`
	BorrowSupply     string    `json:"borrow_supply" db:"borrow_supply"`
	TotalShares      string    `json:"total_shares" db:"total_shares"`
	AMMInitialized   bool      `json:"amm_initialized" db:"amm_initialized"`
	AMMConstant      string    `json:"amm_constant" db:"amm_constant"`
	Timestamp        time.Time `json:"timestamp" db:"timestamp"`
}
