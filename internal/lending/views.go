package lending

import (
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/zlp/pool-engine/internal/fixed"
	"github.com/zlp/pool-engine/internal/model"
	"github.com/zlp/pool-engine/internal/period"
	"github.com/zlp/pool-engine/internal/pricing"
	"github.com/zlp/pool-engine/internal/token"
)

// Amount is a base-unit integer together with its whole-token rendering.
// Raw is authoritative; Units is for display.
type Amount struct {
	Raw   string          `json:"raw"`
	Units decimal.Decimal `json:"units"`
}

func newAmount(x *uint256.Int, decimals uint8) Amount {
	return Amount{Raw: fixed.Clone(x).Dec(), Units: fixed.ToDecimal(x, decimals)}
}

// --- Requests ---

// ProvideLiquidityRequest is the JSON body for POST /liquidity.
type ProvideLiquidityRequest struct {
	CollateralAmount string `json:"collateral_amount"`
	BorrowAmount     string `json:"borrow_amount"`
}

// BorrowRequest is the JSON body for POST /borrow.
type BorrowRequest struct {
	Pledge      string `json:"pledge"`
	MinReceived string `json:"min_received"` // empty accepts any quote
}

// LendRequest is the JSON body for POST /lend.
type LendRequest struct {
	Notional  string `json:"notional"`
	MaxOutlay string `json:"max_outlay"` // empty means notional
}

// UpdatePricingRequest is the JSON body for PUT /pricing.
type UpdatePricingRequest struct {
	CollateralPrice              string `json:"collateral_price"`
	CollateralPriceAnnualizedVol string `json:"collateral_price_annualized_vol"`
	BlocksPerYear                uint64 `json:"blocks_per_year"`
}

// ApproveRequest is the JSON body for POST /tokens/{symbol}/approve.
// The caller approves the pool as spender.
type ApproveRequest struct {
	Amount string `json:"amount"`
}

// MintRequest is the JSON body for POST /dev/mint.
type MintRequest struct {
	Symbol  string `json:"symbol"`
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

// AdvanceBlocksRequest is the JSON body for POST /dev/blocks. To takes
// precedence over Blocks when set.
type AdvanceBlocksRequest struct {
	Blocks uint64 `json:"blocks"`
	To     uint64 `json:"to"`
}

// --- Responses ---

// MutationResponse is returned from every successful pool mutation.
type MutationResponse struct {
	Event    model.Event        `json:"event"`
	Snapshot model.PoolSnapshot `json:"snapshot"`
}

// TokenView describes a token collaborator.
type TokenView struct {
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	TotalSupply Amount `json:"total_supply"`
	PoolBalance Amount `json:"pool_balance"`
}

func newTokenView(t token.Token, poolBalance *uint256.Int) TokenView {
	return TokenView{
		Symbol:      t.Symbol(),
		Decimals:    t.Decimals(),
		TotalSupply: newAmount(t.TotalSupply(), t.Decimals()),
		PoolBalance: newAmount(poolBalance, t.Decimals()),
	}
}

// PricingView renders pricing.Params.
type PricingView struct {
	Alpha                        string `json:"alpha"`
	CollateralPrice              string `json:"collateral_price"`
	CollateralPriceAnnualizedVol string `json:"collateral_price_annualized_vol"`
	BlocksPerYear                uint64 `json:"blocks_per_year"`
}

func newPricingView(p pricing.Params) PricingView {
	return PricingView{
		Alpha:                        p.Alpha.Dec(),
		CollateralPrice:              p.CollateralPrice.Dec(),
		CollateralPriceAnnualizedVol: p.CollateralPriceAnnualizedVol.Dec(),
		BlocksPerYear:                p.BlocksPerYear,
	}
}

// PoolView is the response of GET /pool.
type PoolView struct {
	Address string `json:"address"`
	Owner   string `json:"owner"`
	Height  uint64 `json:"height"`
	Phase   string `json:"phase"`

	IsLPPeriodActive             bool `json:"is_lp_period_active"`
	IsAMMPeriodActive            bool `json:"is_amm_period_active"`
	IsSettlementPeriodActive     bool `json:"is_settlement_period_active"`
	IsPostSettlementPeriodActive bool `json:"is_post_settlement_period_active"`

	Boundaries period.Boundaries `json:"boundaries"`

	CollateralSupply Amount `json:"collateral_supply"`
	BorrowSupply     Amount `json:"borrow_supply"`
	TotalShares      Amount `json:"total_shares"`

	AMMInitialized bool   `json:"amm_initialized"`
	AMMConstant    string `json:"amm_constant"`

	CalcDecimals            string      `json:"calc_decimals"`
	CollateralEqFactor      string      `json:"collateral_eq_factor"`
	BorrowEqFactor          string      `json:"borrow_eq_factor"`
	BorrowToCollateralRatio string      `json:"borrow_to_collateral_ratio"`
	Pricing                 PricingView `json:"pricing"`

	CollateralToken TokenView `json:"collateral_token"`
	BorrowToken     TokenView `json:"borrow_token"`
}

// LoanView renders one model.Loan with its index.
type LoanView struct {
	Index           int             `json:"index"`
	PledgedAmount   string          `json:"pledged_amount"`
	ReceivedAmount  string          `json:"received_amount"`
	RepaymentAmount string          `json:"repayment_amount"`
	State           model.LoanState `json:"state"`
	OriginHeight    uint64          `json:"origin_height"`
	RepaidHeight    uint64          `json:"repaid_height,omitempty"`
}

func newLoanViews(loans []model.Loan) []LoanView {
	views := make([]LoanView, len(loans))
	for i, l := range loans {
		views[i] = LoanView{
			Index:           i,
			PledgedAmount:   fixed.Clone(l.PledgedAmount).Dec(),
			ReceivedAmount:  fixed.Clone(l.ReceivedAmount).Dec(),
			RepaymentAmount: fixed.Clone(l.RepaymentAmount).Dec(),
			State:           l.State,
			OriginHeight:    l.OriginHeight,
			RepaidHeight:    l.RepaidHeight,
		}
	}
	return views
}

// AccountView is the response of GET /accounts/{address}.
type AccountView struct {
	Address string     `json:"address"`
	Shares  Amount     `json:"shares"`
	Borrows []LoanView `json:"borrows"`
	Lends   []LoanView `json:"lends"`
}

// BorrowTermsView is the response of GET /quotes/borrowing-terms.
type BorrowTermsView struct {
	Height           uint64 `json:"height"`
	Pledge           string `json:"pledge"`
	Received         string `json:"received"`
	Repayment        string `json:"repayment"`
	PutPrice         string `json:"put_price"`
	TimeToExpiry     string `json:"time_to_expiry"`
	SqrtTimeToExpiry string `json:"sqrt_time_to_expiry"`
}

// LendTermsView is the response of GET /quotes/lending-terms.
type LendTermsView struct {
	Height           uint64 `json:"height"`
	Notional         string `json:"notional"`
	Repayment        string `json:"repayment"`
	PutPrice         string `json:"put_price"`
	TimeToExpiry     string `json:"time_to_expiry"`
	SqrtTimeToExpiry string `json:"sqrt_time_to_expiry"`
}
