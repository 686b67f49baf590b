package lending

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"github.com/zlp/pool-engine/internal/model"
	"github.com/zlp/pool-engine/internal/store"
	"github.com/zlp/pool-engine/internal/token"
)

const defaultListLimit = 100

// GetPool handles GET /api/v1/pool
func (s *Service) GetPool(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	height, ok := s.currentHeight(r.Context(), w)
	if !ok {
		return
	}
	p := s.pool
	coll, borrow := p.CollateralToken(), p.BorrowToken()

	ratio, err := p.BorrowToCollateralRatio()
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, PoolView{
		Address:                      p.Address().Hex(),
		Owner:                        p.Owner().Hex(),
		Height:                       height,
		Phase:                        p.Phase(height).String(),
		IsLPPeriodActive:             p.IsLPPeriodActive(height),
		IsAMMPeriodActive:            p.IsAMMPeriodActive(height),
		IsSettlementPeriodActive:     p.IsSettlementPeriodActive(height),
		IsPostSettlementPeriodActive: p.IsPostSettlementPeriodActive(height),
		Boundaries:                   p.Boundaries(),
		CollateralSupply:             newAmount(p.CollateralSupply(), coll.Decimals()),
		BorrowSupply:                 newAmount(p.BorrowSupply(), borrow.Decimals()),
		TotalShares:                  newAmount(p.TotalShares(), borrow.Decimals()),
		AMMInitialized:               p.AMMInitialized(),
		AMMConstant:                  p.AMMConstant().Dec(),
		CalcDecimals:                 p.CalcDecimals().Dec(),
		CollateralEqFactor:           p.CollateralEqFactor().Dec(),
		BorrowEqFactor:               p.BorrowEqFactor().Dec(),
		BorrowToCollateralRatio:      ratio.Dec(),
		Pricing:                      newPricingView(p.PricingParams()),
		CollateralToken:              newTokenView(coll, coll.BalanceOf(p.Address())),
		BorrowToken:                  newTokenView(borrow, borrow.BalanceOf(p.Address())),
	})
}

// ListSnapshots handles GET /api/v1/pool/snapshots?limit=
func (s *Service) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	snaps, err := s.store.ListSnapshots(r.Context(), limit)
	if err != nil {
		writeError(w, "failed to list snapshots", http.StatusInternalServerError)
		return
	}
	if snaps == nil {
		snaps = []model.PoolSnapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

// LatestSnapshot handles GET /api/v1/pool/snapshots/latest
func (s *Service) LatestSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.LatestSnapshot(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "no snapshots recorded", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to get snapshot", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ListEvents handles GET /api/v1/events?limit=
func (s *Service) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	events, err := s.store.ListEvents(r.Context(), limit)
	if err != nil {
		writeError(w, "failed to list events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// --- Quotes ---

// QuoteBorrowable handles GET /api/v1/quotes/borrowable?pledge=
func (s *Service) QuoteBorrowable(w http.ResponseWriter, r *http.Request) {
	s.quoteAmount(w, r, "pledge", "borrowable", s.pool.BorrowableAmount)
}

// QuotePledgeable handles GET /api/v1/quotes/pledgeable?borrow=
func (s *Service) QuotePledgeable(w http.ResponseWriter, r *http.Request) {
	s.quoteAmount(w, r, "borrow", "pledgeable", s.pool.PledgeableAmount)
}

// QuoteLPBorrow handles GET /api/v1/quotes/lp-borrow?collateral=
func (s *Service) QuoteLPBorrow(w http.ResponseWriter, r *http.Request) {
	s.quoteAmount(w, r, "collateral", "borrow_amount", s.pool.LPBorrowAmount)
}

// QuoteLPCollateral handles GET /api/v1/quotes/lp-collateral?borrow=
func (s *Service) QuoteLPCollateral(w http.ResponseWriter, r *http.Request) {
	s.quoteAmount(w, r, "borrow", "collateral_amount", s.pool.LPCollateralAmount)
}

// quoteAmount serves a height-independent single-input quote.
func (s *Service) quoteAmount(w http.ResponseWriter, r *http.Request, in, out string, fn func(*uint256.Int) (*uint256.Int, error)) {
	x, ok := parseAmount(w, in, r.URL.Query().Get(in))
	if !ok {
		return
	}
	s.mu.Lock()
	y, err := fn(x)
	s.mu.Unlock()
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{in: x.Dec(), out: y.Dec()})
}

// QuoteTimeToExpiry handles GET /api/v1/quotes/time-to-expiry
func (s *Service) QuoteTimeToExpiry(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	height, ok := s.currentHeight(r.Context(), w)
	if !ok {
		return
	}
	exp, err := s.pool.TimeToExpiry(height)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"height":              height,
		"time_to_expiry":      exp.TimeToExpiry.Dec(),
		"sqrt_time_to_expiry": exp.SqrtTimeToExpiry.Dec(),
	})
}

// QuotePutPrice handles GET /api/v1/quotes/put-price?sqrt_tte=
func (s *Service) QuotePutPrice(w http.ResponseWriter, r *http.Request) {
	s.quoteAmount(w, r, "sqrt_tte", "put_price", s.pool.ObliviousPutPrice)
}

// QuoteBorrowingTerms handles GET /api/v1/quotes/borrowing-terms?pledge=
func (s *Service) QuoteBorrowingTerms(w http.ResponseWriter, r *http.Request) {
	pledge, ok := parseAmount(w, "pledge", r.URL.Query().Get("pledge"))
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	height, ok := s.currentHeight(r.Context(), w)
	if !ok {
		return
	}
	terms, err := s.pool.BorrowingTerms(height, pledge)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, BorrowTermsView{
		Height:           height,
		Pledge:           terms.Pledge.Dec(),
		Received:         terms.Received.Dec(),
		Repayment:        terms.Repayment.Dec(),
		PutPrice:         terms.PutPrice.Dec(),
		TimeToExpiry:     terms.Expiry.TimeToExpiry.Dec(),
		SqrtTimeToExpiry: terms.Expiry.SqrtTimeToExpiry.Dec(),
	})
}

// QuoteLendingTerms handles GET /api/v1/quotes/lending-terms?notional=
func (s *Service) QuoteLendingTerms(w http.ResponseWriter, r *http.Request) {
	notional, ok := parseAmount(w, "notional", r.URL.Query().Get("notional"))
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	height, ok := s.currentHeight(r.Context(), w)
	if !ok {
		return
	}
	terms, err := s.pool.LendingTerms(height, notional)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, LendTermsView{
		Height:           height,
		Notional:         terms.Notional.Dec(),
		Repayment:        terms.Repayment.Dec(),
		PutPrice:         terms.PutPrice.Dec(),
		TimeToExpiry:     terms.Expiry.TimeToExpiry.Dec(),
		SqrtTimeToExpiry: terms.Expiry.SqrtTimeToExpiry.Dec(),
	})
}

// --- Accounts and tokens ---

// GetAccount handles GET /api/v1/accounts/{address}
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, "address", chi.URLParam(r, "address"))
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	writeJSON(w, http.StatusOK, AccountView{
		Address: addr.Hex(),
		Shares:  newAmount(s.pool.SharesOf(addr), s.pool.BorrowToken().Decimals()),
		Borrows: newLoanViews(s.pool.Borrows(addr)),
		Lends:   newLoanViews(s.pool.Lends(addr)),
	})
}

// GetAccountEvents handles GET /api/v1/accounts/{address}/events
func (s *Service) GetAccountEvents(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, "address", chi.URLParam(r, "address"))
	if !ok {
		return
	}
	events, err := s.store.GetEventsByAccount(r.Context(), addr.Hex())
	if err != nil {
		writeError(w, "failed to get events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// GetTokenBalance handles GET /api/v1/tokens/{symbol}/balances/{address}
func (s *Service) GetTokenBalance(w http.ResponseWriter, r *http.Request) {
	tok, ok := s.lookupToken(w, chi.URLParam(r, "symbol"))
	if !ok {
		return
	}
	addr, ok := parseAddress(w, "address", chi.URLParam(r, "address"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":    tok.Symbol(),
		"address":   addr.Hex(),
		"balance":   newAmount(tok.BalanceOf(addr), tok.Decimals()),
		"allowance": newAmount(tok.Allowance(addr, s.pool.Address()), tok.Decimals()),
	})
}

// ApproveToken handles POST /api/v1/tokens/{symbol}/approve. The caller
// approves the pool to pull up to amount.
func (s *Service) ApproveToken(w http.ResponseWriter, r *http.Request) {
	tok, ok := s.lookupToken(w, chi.URLParam(r, "symbol"))
	if !ok {
		return
	}
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req ApproveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, ok := parseAmount(w, "amount", req.Amount)
	if !ok {
		return
	}
	if err := tok.Approve(caller, s.pool.Address(), amount); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":    tok.Symbol(),
		"owner":     caller.Hex(),
		"spender":   s.pool.Address().Hex(),
		"allowance": newAmount(amount, tok.Decimals()),
	})
}

func (s *Service) lookupToken(w http.ResponseWriter, symbol string) (token.Token, bool) {
	tok, ok := s.tokens[strings.ToUpper(symbol)]
	if !ok {
		writeError(w, "unknown token "+symbol, http.StatusNotFound)
		return nil, false
	}
	return tok, true
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
		return 0, false
	}
	return limit, true
}

// errNotMintable is returned by DevMint for tokens without a Mint method.
var errNotMintable = errors.New("token does not support minting")

// minter is implemented by token.Ledger.
type minter interface {
	Mint(to common.Address, amount *uint256.Int) error
}

// DevMint handles POST /api/v1/dev/mint
func (s *Service) DevMint(w http.ResponseWriter, r *http.Request) {
	var req MintRequest
	if !decodeBody(w, r, &req) {
		return
	}
	tok, ok := s.lookupToken(w, req.Symbol)
	if !ok {
		return
	}
	to, ok := parseAddress(w, "account", req.Account)
	if !ok {
		return
	}
	amount, ok := parseAmount(w, "amount", req.Amount)
	if !ok {
		return
	}
	m, ok := tok.(minter)
	if !ok {
		writeError(w, errNotMintable.Error(), http.StatusBadRequest)
		return
	}
	if err := m.Mint(to, amount); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	slog.Info("dev mint", "symbol", tok.Symbol(), "account", to.Hex(), "amount", amount.Dec())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":  tok.Symbol(),
		"account": to.Hex(),
		"balance": newAmount(tok.BalanceOf(to), tok.Decimals()),
	})
}

// DevAdvanceBlocks handles POST /api/v1/dev/blocks
func (s *Service) DevAdvanceBlocks(w http.ResponseWriter, r *http.Request) {
	var req AdvanceBlocksRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var height uint64
	if req.To != 0 {
		height = s.clock.AdvanceTo(req.To)
	} else {
		height = s.clock.Advance(req.Blocks)
	}
	s.observe(height)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"height": height,
		"phase":  s.pool.Phase(height).String(),
	})
}
