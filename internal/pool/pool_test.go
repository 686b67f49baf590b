package pool

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/zlp/pool-engine/internal/fixed"
	"github.com/zlp/pool-engine/internal/model"
	"github.com/zlp/pool-engine/internal/period"
	"github.com/zlp/pool-engine/internal/pricing"
	"github.com/zlp/pool-engine/internal/token"
)

const (
	lpEnd         = 100
	ammEnd        = 200
	settlementEnd = 300
)

var (
	poolAddr = common.HexToAddress("0x0000000000000000000000000000000000000900")
	owner    = common.HexToAddress("0x0000000000000000000000000000000000000001")
	lp1      = common.HexToAddress("0x0000000000000000000000000000000000000011")
	lp2      = common.HexToAddress("0x0000000000000000000000000000000000000012")
	lp3      = common.HexToAddress("0x0000000000000000000000000000000000000013")
	borrower = common.HexToAddress("0x0000000000000000000000000000000000000021")
	lender   = common.HexToAddress("0x0000000000000000000000000000000000000031")
)

type testEnv struct {
	pool *Pool
	weth *token.Ledger
	usdc *token.Ledger
}

func u(s string) *uint256.Int { return fixed.MustParse(s) }

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	weth := token.NewLedger("WETH", 18)
	usdc := token.NewLedger("USDC", 6)
	p, err := New(Config{
		Boundaries:         period.Boundaries{LPEnd: lpEnd, AMMEnd: ammEnd, SettlementEnd: settlementEnd},
		Address:            poolAddr,
		Owner:              owner,
		Collateral:         weth,
		Borrow:             usdc,
		CollateralEqFactor: u("1000000000000000000"),
		BorrowEqFactor:     u("2000000000"),
		CalcDecimals:       u("1000000000000"),
		Pricing: pricing.Params{
			Alpha:                        u("400000000000"),
			CollateralPrice:              u("2000000000"),
			CollateralPriceAnnualizedVol: u("1200000000000"),
			BlocksPerYear:                2102400,
		},
	})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	for _, acc := range []common.Address{lp1, lp2, lp3, borrower} {
		mustMint(t, weth, acc, "80000000000000000000")
	}
	for _, acc := range []common.Address{lp1, lp2, lp3} {
		mustMint(t, usdc, acc, "160000000000")
	}
	mustMint(t, usdc, borrower, "1000000000")
	mustMint(t, usdc, lender, "100000000000")
	return &testEnv{pool: p, weth: weth, usdc: usdc}
}

func mustMint(t *testing.T, l *token.Ledger, to common.Address, amount string) {
	t.Helper()
	if err := l.Mint(to, u(amount)); err != nil {
		t.Fatalf("mint: %v", err)
	}
}

func (e *testEnv) approve(t *testing.T, l *token.Ledger, from common.Address, amount *uint256.Int) {
	t.Helper()
	if err := l.Approve(from, poolAddr, amount); err != nil {
		t.Fatalf("approve: %v", err)
	}
}

func (e *testEnv) provide(t *testing.T, from common.Address, weth string) model.Event {
	t.Helper()
	coll := u(weth)
	borrow, err := e.pool.LPBorrowAmount(coll)
	if err != nil {
		t.Fatalf("lp borrow amount: %v", err)
	}
	e.approve(t, e.weth, from, coll)
	e.approve(t, e.usdc, from, borrow)
	ev, err := e.pool.ProvideLiquidity(lpEnd-1, from, coll, borrow)
	if err != nil {
		t.Fatalf("provide liquidity: %v", err)
	}
	return ev
}

// funded returns a pool past bootstrap holding 149 WETH and 298k USDC.
func funded(t *testing.T) *testEnv {
	t.Helper()
	e := newTestEnv(t)
	e.provide(t, lp1, "80000000000000000000")
	e.provide(t, lp2, "41000000000000000000")
	e.provide(t, lp3, "28000000000000000000")
	return e
}

// trading returns a funded pool with the AMM initialized.
func trading(t *testing.T) *testEnv {
	t.Helper()
	e := funded(t)
	if _, err := e.pool.InitializeAMM(lpEnd, owner); err != nil {
		t.Fatalf("initialize amm: %v", err)
	}
	return e
}

func (e *testEnv) assertReservesMatchBalances(t *testing.T) {
	t.Helper()
	if got := e.weth.BalanceOf(poolAddr); !got.Eq(e.pool.CollateralSupply()) {
		t.Errorf("collateral supply %s != pool balance %s", e.pool.CollateralSupply(), got)
	}
	if got := e.usdc.BalanceOf(poolAddr); !got.Eq(e.pool.BorrowSupply()) {
		t.Errorf("borrow supply %s != pool balance %s", e.pool.BorrowSupply(), got)
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	_, err := New(Config{Boundaries: period.Boundaries{LPEnd: 10, AMMEnd: 5, SettlementEnd: 20}})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestBorrowToCollateralRatio(t *testing.T) {
	e := newTestEnv(t)
	r, err := e.pool.BorrowToCollateralRatio()
	if err != nil {
		t.Fatal(err)
	}
	if r.Dec() != "2000" {
		t.Errorf("expected 2000, got %s", r)
	}
}

func TestProvideLiquidity_Bootstrap(t *testing.T) {
	e := newTestEnv(t)
	ev := e.provide(t, lp1, "80000000000000000000")

	if got := e.pool.SharesOf(lp1).Dec(); got != "160000000000" {
		t.Errorf("expected 160000000000 shares, got %s", got)
	}
	if ev.Kind != model.EventLiquidityProvided {
		t.Errorf("unexpected event kind %s", ev.Kind)
	}
	if ev.Data["total_shares"] != "160000000000" || ev.Data["collateral_amount"] != "80000000000000000000" {
		t.Errorf("unexpected event payload %v", ev.Data)
	}
	e.assertReservesMatchBalances(t)
}

func TestProvideLiquidity_Aggregates(t *testing.T) {
	e := funded(t)

	if got := e.pool.CollateralSupply().Dec(); got != "149000000000000000000" {
		t.Errorf("collateral supply: got %s", got)
	}
	if got := e.pool.BorrowSupply().Dec(); got != "298000000000" {
		t.Errorf("borrow supply: got %s", got)
	}
	if got := e.pool.TotalShares().Dec(); got != "298000000000" {
		t.Errorf("total shares: got %s", got)
	}
	sum := fixed.Zero()
	for _, acc := range []common.Address{lp1, lp2, lp3} {
		sum.Add(sum, e.pool.SharesOf(acc))
	}
	if !sum.Eq(e.pool.TotalShares()) {
		t.Errorf("sum of shares %s != total %s", sum, e.pool.TotalShares())
	}
	e.assertReservesMatchBalances(t)
}

func TestProvideLiquidity_RatioMismatch(t *testing.T) {
	e := funded(t)
	e.approve(t, e.weth, lp3, u("1000000000000000000"))
	e.approve(t, e.usdc, lp3, u("1000000000"))

	_, err := e.pool.ProvideLiquidity(lpEnd-1, lp3, u("1000000000000000000"), u("1000000000"))
	if !errors.Is(err, ErrRatioMismatch) {
		t.Fatalf("expected ErrRatioMismatch, got %v", err)
	}
	if e.pool.TotalShares().Dec() != "298000000000" || e.pool.SharesOf(lp3).Dec() != "56000000000" {
		t.Error("ratio mismatch must not change shares")
	}
	e.assertReservesMatchBalances(t)
}

func TestProvideLiquidity_TokenFailureLeavesStateUntouched(t *testing.T) {
	e := newTestEnv(t)
	// Approve collateral only; the borrow-currency pull must fail first.
	e.approve(t, e.weth, lp1, u("1000000000000000000"))

	_, err := e.pool.ProvideLiquidity(lpEnd-1, lp1, u("1000000000000000000"), u("2000000000"))
	if !errors.Is(err, token.ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}
	if !e.weth.BalanceOf(poolAddr).IsZero() || !e.pool.CollateralSupply().IsZero() {
		t.Error("failed provision must not move collateral")
	}
	if got := e.weth.BalanceOf(lp1).Dec(); got != "80000000000000000000" {
		t.Errorf("provider collateral changed: %s", got)
	}
}

func TestProvideLiquidity_ZeroAmount(t *testing.T) {
	e := newTestEnv(t)
	if _, err := e.pool.ProvideLiquidity(lpEnd-1, lp1, fixed.Zero(), fixed.Zero()); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestLPAmounts_RoundTrip(t *testing.T) {
	e := funded(t)

	borrow, err := e.pool.LPBorrowAmount(u("100000000000000000"))
	if err != nil {
		t.Fatal(err)
	}
	if borrow.Dec() != "200000000" {
		t.Fatalf("expected 200000000, got %s", borrow)
	}
	back, err := e.pool.LPCollateralAmount(borrow)
	if err != nil {
		t.Fatal(err)
	}
	if back.Dec() != "100000000000000000" {
		t.Errorf("expected exact round trip, got %s", back)
	}

	small, err := e.pool.LPBorrowAmount(u("312572182"))
	if err != nil {
		t.Fatal(err)
	}
	back, err = e.pool.LPCollateralAmount(small)
	if err != nil {
		t.Fatal(err)
	}
	if !back.IsZero() {
		t.Errorf("expected small round trip to collapse to 0, got %s", back)
	}
}

func TestPhaseViolations(t *testing.T) {
	e := funded(t)
	one := uint256.NewInt(1)

	tests := []struct {
		name     string
		call     func() error
		required period.Phase
	}{
		{"borrow in LP", func() error { _, err := e.pool.Borrow(lpEnd-1, borrower, one, one); return err }, period.PhaseAMM},
		{"lend in LP", func() error { _, err := e.pool.Lend(lpEnd-1, lender, one, one); return err }, period.PhaseAMM},
		{"repay in LP", func() error { _, err := e.pool.RepayLoan(lpEnd-1, borrower, 0); return err }, period.PhaseSettlement},
		{"amm repay in LP", func() error {
			_, err := e.pool.AMMRepayLoan(lpEnd-1, owner, common.Address{}, 0)
			return err
		}, period.PhaseSettlement},
		{"redeem in LP", func() error { _, err := e.pool.RedeemShares(lpEnd-1, lp1); return err }, period.PhasePostSettlement},
		{"time to expiry in LP", func() error { _, err := e.pool.TimeToExpiry(lpEnd - 1); return err }, period.PhaseAMM},
		{"borrow before init", func() error { _, err := e.pool.Borrow(lpEnd, borrower, one, one); return err }, period.PhaseAMM},
		{"provide after LP", func() error { _, err := e.pool.ProvideLiquidity(lpEnd, lp1, one, one); return err }, period.PhaseLP},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if !errors.Is(err, ErrPhaseViolation) {
				t.Fatalf("expected ErrPhaseViolation, got %v", err)
			}
			var pe *PhaseError
			if !errors.As(err, &pe) || pe.Required != tt.required {
				t.Errorf("expected required phase %s, got %v", tt.required, err)
			}
		})
	}
	if e.pool.TotalShares().Dec() != "298000000000" || e.pool.BorrowSupply().Dec() != "298000000000" {
		t.Error("phase violations must not change state")
	}
}

func TestInitializeAMM(t *testing.T) {
	e := funded(t)

	if _, err := e.pool.InitializeAMM(lpEnd-1, lp1); !errors.Is(err, ErrTooEarly) {
		t.Fatalf("expected ErrTooEarly, got %v", err)
	}
	if got := e.pool.Phase(lpEnd); got != period.PhaseAwaitingAMM {
		t.Errorf("expected AwaitingAMM before init, got %s", got)
	}
	if _, err := e.pool.BorrowableAmount(u("1")); !errors.Is(err, ErrAMMNotInitialized) {
		t.Errorf("expected ErrAMMNotInitialized, got %v", err)
	}

	ev, err := e.pool.InitializeAMM(lpEnd, lp1)
	if err != nil {
		t.Fatal(err)
	}
	if got := e.pool.AMMConstant().Dec(); got != "44402000000000000000000000000000" {
		t.Errorf("unexpected k %s", got)
	}
	if ev.Data["amm_constant"] != "44402000000000000000000000000000" {
		t.Errorf("unexpected event payload %v", ev.Data)
	}
	if !e.pool.IsAMMPeriodActive(lpEnd) || e.pool.IsLPPeriodActive(lpEnd) || e.pool.IsSettlementPeriodActive(lpEnd) {
		t.Error("expected only the AMM period to be active")
	}
	if _, err := e.pool.InitializeAMM(lpEnd+1, lp1); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestQuotes(t *testing.T) {
	e := trading(t)

	borrowable := map[string]string{
		"100000000000000000":    "199865862",
		"1000000000000000000":   "1986666667",
		"100000000000000000000": "119678714860",
	}
	for in, want := range borrowable {
		got, err := e.pool.BorrowableAmount(u(in))
		if err != nil {
			t.Fatal(err)
		}
		if got.Dec() != want {
			t.Errorf("borrowable(%s): expected %s, got %s", in, want, got)
		}
	}
	got, err := e.pool.PledgeableAmount(u("100000000"))
	if err != nil {
		t.Fatal(err)
	}
	if got.Dec() != "49983227104998323" {
		t.Errorf("pledgeable(1e8): got %s", got)
	}
}

func TestTimeToExpiryAndPutPrice(t *testing.T) {
	e := trading(t)

	exp, err := e.pool.TimeToExpiry(lpEnd)
	if err != nil {
		t.Fatal(err)
	}
	if exp.TimeToExpiry.Dec() != "47564687" || exp.SqrtTimeToExpiry.Dec() != "6896715667" {
		t.Errorf("unexpected expiry %s / %s", exp.TimeToExpiry, exp.SqrtTimeToExpiry)
	}
	put, err := e.pool.ObliviousPutPrice(exp.SqrtTimeToExpiry)
	if err != nil {
		t.Fatal(err)
	}
	if put.Dec() != "6620847" {
		t.Errorf("unexpected put price %s", put)
	}
}

func TestTimeToExpiry_ZeroAtAMMEnd(t *testing.T) {
	e := trading(t)

	exp, err := e.pool.TimeToExpiry(ammEnd)
	if err != nil {
		t.Fatalf("expected zero expiry at amm_end, got %v", err)
	}
	if !exp.TimeToExpiry.IsZero() || !exp.SqrtTimeToExpiry.IsZero() {
		t.Errorf("expected zero expiry, got %s / %s", exp.TimeToExpiry, exp.SqrtTimeToExpiry)
	}

	// Terms and originations stay closed once the AMM window ends.
	if _, err := e.pool.BorrowingTerms(ammEnd, u("1000000000000000000")); !errors.Is(err, ErrPhaseViolation) {
		t.Errorf("expected ErrPhaseViolation for borrowing terms, got %v", err)
	}
	if _, err := e.pool.Lend(ammEnd, lender, u("1000000"), u("1000000")); !errors.Is(err, ErrPhaseViolation) {
		t.Errorf("expected ErrPhaseViolation for lend, got %v", err)
	}
	if _, err := e.pool.TimeToExpiry(ammEnd + 1); !errors.Is(err, ErrPhaseViolation) {
		t.Errorf("expected ErrPhaseViolation past amm_end, got %v", err)
	}
	if _, err := funded(t).pool.TimeToExpiry(ammEnd); !errors.Is(err, ErrPhaseViolation) {
		t.Errorf("expected ErrPhaseViolation without an initialized AMM, got %v", err)
	}
}

func TestUpdatePricingParams(t *testing.T) {
	e := trading(t)

	if _, err := e.pool.UpdatePricingParams(lpEnd, lp1, u("2000000000"), u("1200000000000"), 2102400); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := e.pool.UpdatePricingParams(lpEnd, owner, u("2500000000"), u("800000000000"), 0); !errors.Is(err, pricing.ErrInvalidBlocksPerYear) {
		t.Fatalf("expected ErrInvalidBlocksPerYear, got %v", err)
	}
	if got := e.pool.PricingParams().CollateralPrice.Dec(); got != "2000000000" {
		t.Fatalf("rejected update must not change params, got price %s", got)
	}

	ev, err := e.pool.UpdatePricingParams(lpEnd, owner, u("2500000000"), u("800000000000"), 2628000)
	if err != nil {
		t.Fatal(err)
	}
	params := e.pool.PricingParams()
	if params.CollateralPrice.Dec() != "2500000000" || params.CollateralPriceAnnualizedVol.Dec() != "800000000000" || params.BlocksPerYear != 2628000 {
		t.Errorf("params not updated: %+v", params)
	}
	if params.Alpha.Dec() != "400000000000" {
		t.Errorf("alpha must be untouched, got %s", params.Alpha)
	}
	if ev.Data["blocks_per_year"] != "2628000" {
		t.Errorf("unexpected event payload %v", ev.Data)
	}
}

func TestBorrow(t *testing.T) {
	e := trading(t)
	pledge := u("8000000000000000000")
	e.approve(t, e.weth, borrower, pledge)

	_, err := e.pool.Borrow(lpEnd, borrower, u("15184713377"), pledge)
	if !errors.Is(err, ErrSlippageExceeded) {
		t.Fatalf("expected ErrSlippageExceeded, got %v", err)
	}

	ev, err := e.pool.Borrow(lpEnd, borrower, u("15184713376"), pledge)
	if err != nil {
		t.Fatal(err)
	}
	loans := e.pool.Borrows(borrower)
	if len(loans) != 1 {
		t.Fatalf("expected 1 loan, got %d", len(loans))
	}
	loan := loans[0]
	if loan.ReceivedAmount.Dec() != "15184713376" || loan.RepaymentAmount.Dec() != "15237680152" {
		t.Errorf("unexpected loan terms %s / %s", loan.ReceivedAmount, loan.RepaymentAmount)
	}
	if loan.State != model.LoanOpen || loan.OriginHeight != lpEnd {
		t.Errorf("unexpected loan state %s at %d", loan.State, loan.OriginHeight)
	}
	if ev.Data["loan_index"] != "0" || ev.Data["put_price"] != "6620847" {
		t.Errorf("unexpected event payload %v", ev.Data)
	}
	if got := e.usdc.BalanceOf(borrower).Dec(); got != "16184713376" {
		t.Errorf("borrower usdc: got %s", got)
	}

	post := new(uint256.Int).Mul(e.pool.CollateralSupply(), e.pool.BorrowSupply())
	if post.Gt(e.pool.AMMConstant()) {
		t.Errorf("post-trade product %s exceeds k", post)
	}
	e.assertReservesMatchBalances(t)
}

func TestBorrow_WithoutApprovalIsAtomic(t *testing.T) {
	e := trading(t)
	_, err := e.pool.Borrow(lpEnd, borrower, fixed.Zero(), u("1000000000000000000"))
	if !errors.Is(err, token.ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}
	if len(e.pool.Borrows(borrower)) != 0 || e.pool.BorrowSupply().Dec() != "298000000000" {
		t.Error("failed borrow must not change state")
	}
	e.assertReservesMatchBalances(t)
}

func TestLend(t *testing.T) {
	e := trading(t)
	notional := u("100000000000")
	e.approve(t, e.usdc, lender, notional)

	if _, err := e.pool.Lend(lpEnd, lender, u("99999999999"), notional); !errors.Is(err, ErrSlippageExceeded) {
		t.Fatalf("expected ErrSlippageExceeded, got %v", err)
	}
	if _, err := e.pool.Lend(lpEnd, lender, notional, fixed.Zero()); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}

	if _, err := e.pool.Lend(lpEnd, lender, notional, notional); err != nil {
		t.Fatal(err)
	}
	loan := e.pool.Lends(lender)[0]
	if loan.ReceivedAmount.Dec() != "100000000000" || loan.RepaymentAmount.Dec() != "100331042350" {
		t.Errorf("unexpected lend terms %s / %s", loan.ReceivedAmount, loan.RepaymentAmount)
	}
	if !loan.PledgedAmount.IsZero() {
		t.Errorf("lend must not pledge collateral")
	}
	if got := e.pool.BorrowSupply().Dec(); got != "398000000000" {
		t.Errorf("borrow supply: got %s", got)
	}
	if !e.weth.BalanceOf(lender).IsZero() {
		t.Error("lender collateral must not move")
	}
	e.assertReservesMatchBalances(t)
}

func TestTerms_Monotonic(t *testing.T) {
	e := trading(t)

	early, err := e.pool.BorrowingTerms(lpEnd, u("1000000000000000000"))
	if err != nil {
		t.Fatal(err)
	}
	late, err := e.pool.BorrowingTerms(ammEnd-1, u("1000000000000000000"))
	if err != nil {
		t.Fatal(err)
	}
	if !early.Received.Eq(late.Received) {
		t.Error("curve quote must not depend on height")
	}
	if !early.Repayment.Gt(late.Repayment) {
		t.Errorf("repayment should shrink with the horizon: %s vs %s", early.Repayment, late.Repayment)
	}

	small, err := e.pool.LendingTerms(lpEnd, u("1000000000"))
	if err != nil {
		t.Fatal(err)
	}
	big, err := e.pool.LendingTerms(lpEnd, u("2000000000"))
	if err != nil {
		t.Fatal(err)
	}
	if !big.Repayment.Gt(small.Repayment) {
		t.Errorf("lend repayment must grow with notional")
	}
}

// settling runs a borrow and a lend and moves into settlement.
func settling(t *testing.T) *testEnv {
	t.Helper()
	e := trading(t)
	pledge := u("8000000000000000000")
	e.approve(t, e.weth, borrower, pledge)
	if _, err := e.pool.Borrow(lpEnd, borrower, fixed.Zero(), pledge); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	notional := u("100000000000")
	e.approve(t, e.usdc, lender, notional)
	if _, err := e.pool.Lend(lpEnd, lender, notional, notional); err != nil {
		t.Fatalf("lend: %v", err)
	}
	return e
}

func TestRepayLoan(t *testing.T) {
	e := settling(t)
	loan := e.pool.Borrows(borrower)[0]
	e.approve(t, e.usdc, borrower, loan.RepaymentAmount)

	if _, err := e.pool.RepayLoan(ammEnd, lender, 0); !errors.Is(err, ErrNoSuchLoan) {
		t.Fatalf("expected ErrNoSuchLoan, got %v", err)
	}
	if _, err := e.pool.RepayLoan(ammEnd, borrower, 1); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}

	usdcBefore := e.usdc.BalanceOf(borrower)
	ev, err := e.pool.RepayLoan(ammEnd, borrower, 0)
	if err != nil {
		t.Fatal(err)
	}
	after := e.pool.Borrows(borrower)[0]
	if after.State != model.LoanRepaid || after.RepaidHeight != ammEnd {
		t.Errorf("expected repaid at %d, got %s at %d", ammEnd, after.State, after.RepaidHeight)
	}
	paid := new(uint256.Int).Sub(usdcBefore, e.usdc.BalanceOf(borrower))
	if !paid.Eq(loan.RepaymentAmount) {
		t.Errorf("borrower paid %s, expected %s", paid, loan.RepaymentAmount)
	}
	if got := e.weth.BalanceOf(borrower).Dec(); got != "80000000000000000000" {
		t.Errorf("collateral not returned: %s", got)
	}
	if ev.Kind != model.EventLoanRepaid {
		t.Errorf("unexpected event kind %s", ev.Kind)
	}

	if _, err := e.pool.RepayLoan(ammEnd, borrower, 0); !errors.Is(err, ErrAlreadyRepaid) {
		t.Errorf("expected ErrAlreadyRepaid, got %v", err)
	}
	e.assertReservesMatchBalances(t)
}

func TestAMMRepayLoan(t *testing.T) {
	e := settling(t)

	if _, err := e.pool.AMMRepayLoan(ammEnd, borrower, lender, 0); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := e.pool.AMMRepayLoan(ammEnd, owner, borrower, 0); !errors.Is(err, ErrNoSuchLoan) {
		t.Fatalf("expected ErrNoSuchLoan, got %v", err)
	}

	if _, err := e.pool.AMMRepayLoan(ammEnd, owner, lender, 0); err != nil {
		t.Fatal(err)
	}
	if got := e.usdc.BalanceOf(lender).Dec(); got != "100331042350" {
		t.Errorf("lender usdc: got %s", got)
	}
	if e.pool.Lends(lender)[0].State != model.LoanRepaid {
		t.Error("lend not marked repaid")
	}
	if _, err := e.pool.AMMRepayLoan(ammEnd, owner, lender, 0); !errors.Is(err, ErrAlreadyRepaid) {
		t.Errorf("expected ErrAlreadyRepaid, got %v", err)
	}
	e.assertReservesMatchBalances(t)
}

func TestRedeemShares(t *testing.T) {
	e := settling(t)
	loan := e.pool.Borrows(borrower)[0]
	e.approve(t, e.usdc, borrower, loan.RepaymentAmount)
	if _, err := e.pool.RepayLoan(ammEnd, borrower, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := e.pool.AMMRepayLoan(ammEnd, owner, lender, 0); err != nil {
		t.Fatal(err)
	}

	if _, err := e.pool.RedeemShares(settlementEnd-1, lp1); !errors.Is(err, ErrPhaseViolation) {
		t.Fatalf("expected ErrPhaseViolation, got %v", err)
	}
	if _, err := e.pool.RedeemShares(settlementEnd, borrower); !errors.Is(err, ErrNoShares) {
		t.Fatalf("expected ErrNoShares, got %v", err)
	}
	if got := e.pool.BorrowSupply().Dec(); got != "297721924426" {
		t.Fatalf("settled borrow supply: got %s", got)
	}

	tests := []struct {
		account    common.Address
		collateral string
		borrow     string
	}{
		{lp1, "80000000000000000000", "159850697678"},
		{lp2, "18986577181208053691", "37937720111"},
		{lp3, "9398495563262916084", "18779450911"},
	}
	for _, tt := range tests {
		ev, err := e.pool.RedeemShares(settlementEnd, tt.account)
		if err != nil {
			t.Fatalf("redeem %s: %v", tt.account, err)
		}
		if ev.Data["collateral_amount"] != tt.collateral || ev.Data["borrow_amount"] != tt.borrow {
			t.Errorf("redeem %s: got %v", tt.account.Hex(), ev.Data)
		}
		if !e.pool.SharesOf(tt.account).IsZero() {
			t.Errorf("shares of %s not zeroed", tt.account.Hex())
		}
	}
	if got := e.pool.TotalShares().Dec(); got != "298000000000" {
		t.Errorf("total shares must keep its original value, got %s", got)
	}
	if _, err := e.pool.RedeemShares(settlementEnd, lp1); !errors.Is(err, ErrNoShares) {
		t.Errorf("expected ErrNoShares on second redeem, got %v", err)
	}
	e.assertReservesMatchBalances(t)
}

func TestSnapshot(t *testing.T) {
	e := trading(t)
	snap := e.pool.Snapshot(lpEnd)
	if snap.Phase != "AMM" || !snap.AMMInitialized || snap.TotalShares != "298000000000" {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}
