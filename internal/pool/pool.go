// Package pool is the zero-liquidation loan pool: a block-height gated state
// machine that bootstraps liquidity, originates fixed-repayment loans off a
// constant-product curve, settles them, and redeems provider shares pro rata.
//
// The pool performs no locking. Its host must serialize calls, giving each
// one the current block height and the caller's identity. Every mutating
// call checks all of its preconditions and token movements first and
// applies state only if all of them pass, so a failed call leaves the pool
// untouched.
package pool

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/zlp/pool-engine/internal/fixed"
	"github.com/zlp/pool-engine/internal/model"
	"github.com/zlp/pool-engine/internal/period"
	"github.com/zlp/pool-engine/internal/pricing"
	"github.com/zlp/pool-engine/internal/token"
)

// Config is fixed at construction.
type Config struct {
	Boundaries period.Boundaries

	// Address is the pool's own account on both tokens.
	Address common.Address
	// Owner may update pricing parameters and repay lenders.
	Owner common.Address

	Collateral token.Token
	Borrow     token.Token

	// Bootstrap ratio, in base units, used while both reserves are empty.
	CollateralEqFactor *uint256.Int
	BorrowEqFactor     *uint256.Int

	// CalcDecimals is the fixed-point scale, e.g. 10^12.
	CalcDecimals *uint256.Int

	Pricing pricing.Params
	// Policy defaults to pricing.PremiumPolicy.
	Policy pricing.RepaymentPolicy
}

func (c Config) validate() error {
	if err := c.Boundaries.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Address == (common.Address{}) || c.Owner == (common.Address{}) {
		return fmt.Errorf("%w: pool and owner addresses required", ErrInvalidConfig)
	}
	if c.Collateral == nil || c.Borrow == nil {
		return fmt.Errorf("%w: both token collaborators required", ErrInvalidConfig)
	}
	if c.CollateralEqFactor == nil || c.CollateralEqFactor.IsZero() ||
		c.BorrowEqFactor == nil || c.BorrowEqFactor.IsZero() {
		return fmt.Errorf("%w: eq factors must be positive", ErrInvalidConfig)
	}
	if c.CalcDecimals == nil || c.CalcDecimals.IsZero() {
		return fmt.Errorf("%w: calc_decimals must be positive", ErrInvalidConfig)
	}
	if err := c.Pricing.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Pool holds reserves, shares, AMM state and loan history.
type Pool struct {
	cfg    Config
	policy pricing.RepaymentPolicy
	params pricing.Params

	collateralSupply *uint256.Int
	borrowSupply     *uint256.Int

	shares      map[common.Address]*uint256.Int
	totalShares *uint256.Int

	ammInitialized bool
	ammConstant    *uint256.Int

	borrows map[common.Address][]model.Loan
	lends   map[common.Address][]model.Loan
}

// New validates cfg and returns an empty pool in its LP phase.
func New(cfg Config) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	policy := cfg.Policy
	if policy == nil {
		policy = pricing.PremiumPolicy{}
	}
	return &Pool{
		cfg:              cfg,
		policy:           policy,
		params:           cfg.Pricing.Clone(),
		collateralSupply: fixed.Zero(),
		borrowSupply:     fixed.Zero(),
		shares:           make(map[common.Address]*uint256.Int),
		totalShares:      fixed.Zero(),
		ammConstant:      fixed.Zero(),
		borrows:          make(map[common.Address][]model.Loan),
		lends:            make(map[common.Address][]model.Loan),
	}, nil
}

// --- Phase ---

// Phase classifies height against the boundaries and the AMM flag.
func (p *Pool) Phase(height uint64) period.Phase {
	return p.cfg.Boundaries.Classify(height, p.ammInitialized)
}

func (p *Pool) requirePhase(height uint64, want period.Phase) error {
	if got := p.Phase(height); got != want {
		return &PhaseError{Required: want, Actual: got}
	}
	return nil
}

// IsLPPeriodActive reports height < lp_end.
func (p *Pool) IsLPPeriodActive(height uint64) bool {
	return p.cfg.Boundaries.IsLPActive(height)
}

// IsAMMPeriodActive reports lp_end <= height < amm_end with the AMM
// initialized.
func (p *Pool) IsAMMPeriodActive(height uint64) bool {
	return p.cfg.Boundaries.IsAMMActive(height, p.ammInitialized)
}

// IsSettlementPeriodActive reports amm_end <= height < settlement_end.
func (p *Pool) IsSettlementPeriodActive(height uint64) bool {
	return p.cfg.Boundaries.IsSettlementActive(height)
}

// IsPostSettlementPeriodActive reports height >= settlement_end.
func (p *Pool) IsPostSettlementPeriodActive(height uint64) bool {
	return p.cfg.Boundaries.IsPostSettlementActive(height)
}

// --- Getters. Amounts are returned as copies. ---

func (p *Pool) Boundaries() period.Boundaries    { return p.cfg.Boundaries }
func (p *Pool) Address() common.Address          { return p.cfg.Address }
func (p *Pool) Owner() common.Address            { return p.cfg.Owner }
func (p *Pool) CollateralToken() token.Token     { return p.cfg.Collateral }
func (p *Pool) BorrowToken() token.Token         { return p.cfg.Borrow }
func (p *Pool) CalcDecimals() *uint256.Int       { return fixed.Clone(p.cfg.CalcDecimals) }
func (p *Pool) CollateralEqFactor() *uint256.Int { return fixed.Clone(p.cfg.CollateralEqFactor) }
func (p *Pool) BorrowEqFactor() *uint256.Int     { return fixed.Clone(p.cfg.BorrowEqFactor) }
func (p *Pool) CollateralSupply() *uint256.Int   { return fixed.Clone(p.collateralSupply) }
func (p *Pool) BorrowSupply() *uint256.Int       { return fixed.Clone(p.borrowSupply) }
func (p *Pool) TotalShares() *uint256.Int        { return fixed.Clone(p.totalShares) }
func (p *Pool) AMMInitialized() bool             { return p.ammInitialized }
func (p *Pool) AMMConstant() *uint256.Int        { return fixed.Clone(p.ammConstant) }
func (p *Pool) PricingParams() pricing.Params    { return p.params.Clone() }

// SharesOf returns account's shares, zero if it never provided liquidity.
func (p *Pool) SharesOf(account common.Address) *uint256.Int {
	return fixed.Clone(p.shares[account])
}

// BorrowToCollateralRatio is borrow_eq * calc_decimals / collateral_eq, the
// bootstrap price of one collateral base unit in borrow base units, scaled.
func (p *Pool) BorrowToCollateralRatio() (*uint256.Int, error) {
	return fixed.MulDiv(p.cfg.BorrowEqFactor, p.cfg.CalcDecimals, p.cfg.CollateralEqFactor)
}

// Snapshot captures the aggregate state at height.
func (p *Pool) Snapshot(height uint64) model.PoolSnapshot {
	return model.PoolSnapshot{
		Height:           height,
		Phase:            p.Phase(height).String(),
		CollateralSupply: p.collateralSupply.Dec(),
		BorrowSupply:     p.borrowSupply.Dec(),
		TotalShares:      p.totalShares.Dec(),
		AMMInitialized:   p.ammInitialized,
		AMMConstant:      p.ammConstant.Dec(),
	}
}

// --- Owner capability ---

func (p *Pool) requireOwner(caller common.Address) error {
	if caller != p.cfg.Owner {
		return ErrUnauthorized
	}
	return nil
}

// UpdatePricingParams overwrites price, volatility and blocks per year
// atomically. Owner only.
func (p *Pool) UpdatePricingParams(height uint64, caller common.Address, price, vol *uint256.Int, blocksPerYear uint64) (model.Event, error) {
	if err := p.requireOwner(caller); err != nil {
		return model.Event{}, err
	}
	if price == nil || vol == nil {
		return model.Event{}, pricing.ErrMissingParam
	}
	next := p.params.Clone()
	next.CollateralPrice = fixed.Clone(price)
	next.CollateralPriceAnnualizedVol = fixed.Clone(vol)
	next.BlocksPerYear = blocksPerYear
	if err := next.Validate(); err != nil {
		return model.Event{}, err
	}

	p.params = next
	return newEvent(model.EventPricingParamsUpdated, caller, height, map[string]string{
		"collateral_price":                next.CollateralPrice.Dec(),
		"collateral_price_annualized_vol": next.CollateralPriceAnnualizedVol.Dec(),
		"blocks_per_year":                 strconv.FormatUint(next.BlocksPerYear, 10),
	}), nil
}

func newEvent(kind model.EventKind, account common.Address, height uint64, data map[string]string) model.Event {
	return model.Event{
		Kind:    kind,
		Account: account.Hex(),
		Height:  height,
		Data:    data,
	}
}
