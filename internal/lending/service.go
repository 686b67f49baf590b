// Package lending exposes the zero-liquidation loan pool over HTTP. It is
// the pool's host: it serializes calls, supplies the block height and the
// caller identity, and journals every state change.
//
// Amounts travel as base-10 integer strings in token base units, never
// float64.
package lending

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/zlp/pool-engine/internal/amm"
	"github.com/zlp/pool-engine/internal/chain"
	"github.com/zlp/pool-engine/internal/fixed"
	"github.com/zlp/pool-engine/internal/metrics"
	"github.com/zlp/pool-engine/internal/model"
	"github.com/zlp/pool-engine/internal/period"
	"github.com/zlp/pool-engine/internal/pool"
	"github.com/zlp/pool-engine/internal/pricing"
	"github.com/zlp/pool-engine/internal/store"
	"github.com/zlp/pool-engine/internal/token"
)

// AccountHeader carries the caller's hex address on every mutating request.
const AccountHeader = "X-Account"

var allPhases = []string{
	period.PhaseLP.String(),
	period.PhaseAwaitingAMM.String(),
	period.PhaseAMM.String(),
	period.PhaseSettlement.String(),
	period.PhasePostSettlement.String(),
}

// Options wires a Service.
type Options struct {
	Pool    *pool.Pool
	Store   store.Store
	Heights chain.HeightSource
	// Clock enables the dev endpoints when set. It may also be Heights.
	Clock *chain.ManualClock
	// Hub is optional; nil disables WebSocket broadcasting.
	Hub *WSHub
}

// Service handles pool operations. The mutex gives the pool the single
// logical writer it requires; reads take it too since the pool does no
// locking of its own.
type Service struct {
	pool    *pool.Pool
	store   store.Store
	heights chain.HeightSource
	clock   *chain.ManualClock
	wsHub   *WSHub
	tokens  map[string]token.Token
	mu      sync.Mutex
}

// NewService creates a new lending service.
func NewService(opts Options) *Service {
	s := &Service{
		pool:    opts.Pool,
		store:   opts.Store,
		heights: opts.Heights,
		clock:   opts.Clock,
		wsHub:   opts.Hub,
		tokens:  make(map[string]token.Token, 2),
	}
	for _, t := range []token.Token{opts.Pool.CollateralToken(), opts.Pool.BorrowToken()} {
		s.tokens[strings.ToUpper(t.Symbol())] = t
	}
	return s
}

// Routes registers the pool API on r. main mounts it under /api/v1.
func (s *Service) Routes(r chi.Router) {
	r.Get("/pool", s.GetPool)
	r.Get("/pool/snapshots", s.ListSnapshots)
	r.Get("/pool/snapshots/latest", s.LatestSnapshot)
	r.Get("/events", s.ListEvents)

	r.Route("/quotes", func(r chi.Router) {
		r.Get("/borrowable", s.QuoteBorrowable)
		r.Get("/pledgeable", s.QuotePledgeable)
		r.Get("/lp-borrow", s.QuoteLPBorrow)
		r.Get("/lp-collateral", s.QuoteLPCollateral)
		r.Get("/time-to-expiry", s.QuoteTimeToExpiry)
		r.Get("/put-price", s.QuotePutPrice)
		r.Get("/borrowing-terms", s.QuoteBorrowingTerms)
		r.Get("/lending-terms", s.QuoteLendingTerms)
	})

	r.Post("/liquidity", s.ProvideLiquidity)
	r.Post("/amm/initialize", s.InitializeAMM)
	r.Post("/borrow", s.Borrow)
	r.Post("/lend", s.Lend)
	r.Post("/borrows/{index}/repay", s.RepayLoan)
	r.Post("/lends/{lender}/{index}/repay", s.AMMRepayLoan)
	r.Post("/shares/redeem", s.RedeemShares)
	r.Put("/pricing", s.UpdatePricing)

	r.Get("/accounts/{address}", s.GetAccount)
	r.Get("/accounts/{address}/events", s.GetAccountEvents)

	r.Get("/tokens/{symbol}/balances/{address}", s.GetTokenBalance)
	r.Post("/tokens/{symbol}/approve", s.ApproveToken)

	if s.clock != nil {
		r.Post("/dev/mint", s.DevMint)
		r.Post("/dev/blocks", s.DevAdvanceBlocks)
	}
	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}
}

// --- Mutations ---

// ProvideLiquidity handles POST /api/v1/liquidity
func (s *Service) ProvideLiquidity(w http.ResponseWriter, r *http.Request) {
	var req ProvideLiquidityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	collateral, ok := parseAmount(w, "collateral_amount", req.CollateralAmount)
	if !ok {
		return
	}
	borrow, ok := parseAmount(w, "borrow_amount", req.BorrowAmount)
	if !ok {
		return
	}
	s.mutate(w, r, "provide_liquidity", func(height uint64, caller common.Address) (model.Event, error) {
		return s.pool.ProvideLiquidity(height, caller, collateral, borrow)
	})
}

// InitializeAMM handles POST /api/v1/amm/initialize
func (s *Service) InitializeAMM(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "initialize_amm", func(height uint64, caller common.Address) (model.Event, error) {
		return s.pool.InitializeAMM(height, caller)
	})
}

// Borrow handles POST /api/v1/borrow
func (s *Service) Borrow(w http.ResponseWriter, r *http.Request) {
	var req BorrowRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pledge, ok := parseAmount(w, "pledge", req.Pledge)
	if !ok {
		return
	}
	minReceived := fixed.Zero()
	if req.MinReceived != "" {
		if minReceived, ok = parseAmount(w, "min_received", req.MinReceived); !ok {
			return
		}
	}
	s.mutate(w, r, "borrow", func(height uint64, caller common.Address) (model.Event, error) {
		return s.pool.Borrow(height, caller, minReceived, pledge)
	})
}

// Lend handles POST /api/v1/lend
func (s *Service) Lend(w http.ResponseWriter, r *http.Request) {
	var req LendRequest
	if !decodeBody(w, r, &req) {
		return
	}
	notional, ok := parseAmount(w, "notional", req.Notional)
	if !ok {
		return
	}
	maxOutlay := fixed.Clone(notional)
	if req.MaxOutlay != "" {
		if maxOutlay, ok = parseAmount(w, "max_outlay", req.MaxOutlay); !ok {
			return
		}
	}
	s.mutate(w, r, "lend", func(height uint64, caller common.Address) (model.Event, error) {
		return s.pool.Lend(height, caller, maxOutlay, notional)
	})
}

// RepayLoan handles POST /api/v1/borrows/{index}/repay
func (s *Service) RepayLoan(w http.ResponseWriter, r *http.Request) {
	index, ok := parseIndex(w, chi.URLParam(r, "index"))
	if !ok {
		return
	}
	s.mutate(w, r, "repay_loan", func(height uint64, caller common.Address) (model.Event, error) {
		return s.pool.RepayLoan(height, caller, index)
	})
}

// AMMRepayLoan handles POST /api/v1/lends/{lender}/{index}/repay (owner only)
func (s *Service) AMMRepayLoan(w http.ResponseWriter, r *http.Request) {
	lender, ok := parseAddress(w, "lender", chi.URLParam(r, "lender"))
	if !ok {
		return
	}
	index, ok := parseIndex(w, chi.URLParam(r, "index"))
	if !ok {
		return
	}
	s.mutate(w, r, "amm_repay_loan", func(height uint64, caller common.Address) (model.Event, error) {
		return s.pool.AMMRepayLoan(height, caller, lender, index)
	})
}

// RedeemShares handles POST /api/v1/shares/redeem
func (s *Service) RedeemShares(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "redeem_shares", func(height uint64, caller common.Address) (model.Event, error) {
		return s.pool.RedeemShares(height, caller)
	})
}

// UpdatePricing handles PUT /api/v1/pricing (owner only)
func (s *Service) UpdatePricing(w http.ResponseWriter, r *http.Request) {
	var req UpdatePricingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	price, ok := parseAmount(w, "collateral_price", req.CollateralPrice)
	if !ok {
		return
	}
	vol, ok := parseAmount(w, "collateral_price_annualized_vol", req.CollateralPriceAnnualizedVol)
	if !ok {
		return
	}
	s.mutate(w, r, "update_pricing", func(height uint64, caller common.Address) (model.Event, error) {
		return s.pool.UpdatePricingParams(height, caller, price, vol, req.BlocksPerYear)
	})
}

// mutate runs one pool operation under the service lock at the current
// height, then journals and broadcasts its event.
func (s *Service) mutate(w http.ResponseWriter, r *http.Request, op string, fn func(height uint64, caller common.Address) (model.Event, error)) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	height, ok := s.currentHeight(ctx, w)
	if !ok {
		return
	}
	ev, err := fn(height, caller)
	metrics.OperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Rejections.WithLabelValues(op, reasonFor(err)).Inc()
		slog.Warn("pool operation rejected",
			"op", op,
			"caller", caller.Hex(),
			"height", height,
			"err", err,
		)
		writeError(w, err.Error(), statusFor(err))
		return
	}

	resp := s.record(context.WithoutCancel(ctx), ev, height)
	writeJSON(w, http.StatusOK, resp)
}

// record stamps, persists and publishes a successful mutation. The pool is
// authoritative, so journal failures are logged rather than returned.
func (s *Service) record(ctx context.Context, ev model.Event, height uint64) MutationResponse {
	now := time.Now().UTC()
	ev.ID = uuid.New().String()
	ev.Timestamp = now

	snap := s.pool.Snapshot(height)
	snap.ID = uuid.New().String()
	snap.Timestamp = now

	if err := s.store.AppendEvent(ctx, &ev); err != nil {
		slog.Error("failed to journal event", "id", ev.ID, "kind", ev.Kind, "err", err)
	}
	if err := s.store.SaveSnapshot(ctx, &snap); err != nil {
		slog.Error("failed to save snapshot", "id", snap.ID, "height", height, "err", err)
	}

	switch ev.Kind {
	case model.EventLiquidityProvided:
		metrics.LiquidityProvisions.Inc()
	case model.EventBorrowOriginated:
		metrics.LoansOriginated.WithLabelValues("borrow").Inc()
	case model.EventLendOriginated:
		metrics.LoansOriginated.WithLabelValues("lend").Inc()
	case model.EventLoanRepaid:
		metrics.LoansRepaid.WithLabelValues("borrow").Inc()
	case model.EventLendRepaid:
		metrics.LoansRepaid.WithLabelValues("lend").Inc()
	case model.EventSharesRedeemed:
		metrics.Redemptions.Inc()
	}
	s.observe(height)

	slog.Info("pool event",
		"id", ev.ID,
		"kind", ev.Kind,
		"account", ev.Account,
		"height", height,
		"phase", snap.Phase,
		"data", ev.Data,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{Type: string(ev.Kind), Event: &ev, Snapshot: &snap})
	}
	return MutationResponse{Event: ev, Snapshot: snap}
}

// observe refreshes the pool gauges. Callers hold s.mu.
func (s *Service) observe(height uint64) {
	coll, borrow := s.pool.CollateralToken(), s.pool.BorrowToken()
	metrics.SetReserve(coll.Symbol(), fixed.ToDecimal(s.pool.CollateralSupply(), coll.Decimals()))
	metrics.SetReserve(borrow.Symbol(), fixed.ToDecimal(s.pool.BorrowSupply(), borrow.Decimals()))
	metrics.TotalShares.Set(fixed.ToDecimal(s.pool.TotalShares(), borrow.Decimals()).InexactFloat64())
	metrics.SetPhase(s.pool.Phase(height).String(), allPhases)
	metrics.BlockHeight.Set(float64(height))
}

// --- Helpers ---

func (s *Service) currentHeight(ctx context.Context, w http.ResponseWriter) (uint64, bool) {
	height, err := s.heights.BlockNumber(ctx)
	if err != nil {
		slog.Error("block height unavailable", "err", err)
		writeError(w, "block height unavailable", http.StatusServiceUnavailable)
		return 0, false
	}
	return height, true
}

func callerFrom(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	return parseAddress(w, AccountHeader, r.Header.Get(AccountHeader))
}

func parseAddress(w http.ResponseWriter, field, raw string) (common.Address, bool) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		writeError(w, field+" must be a hex address", http.StatusBadRequest)
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func parseAmount(w http.ResponseWriter, field, raw string) (*uint256.Int, bool) {
	v, err := fixed.Parse(raw)
	if err != nil {
		writeError(w, field+": "+err.Error(), http.StatusBadRequest)
		return nil, false
	}
	return v, true
}

func parseIndex(w http.ResponseWriter, raw string) (int, bool) {
	v, err := fixed.Parse(raw)
	if err != nil || !v.IsUint64() || v.Uint64() > uint64(maxIndex) {
		writeError(w, "index must be a non-negative integer", http.StatusBadRequest)
		return 0, false
	}
	return int(v.Uint64()), true
}

const maxIndex = int(^uint32(0) >> 1)

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// statusFor maps pool errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pool.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, pool.ErrNoSuchLoan), errors.Is(err, pool.ErrIndexOutOfRange):
		return http.StatusNotFound
	case errors.Is(err, pool.ErrPhaseViolation),
		errors.Is(err, pool.ErrAlreadyRepaid),
		errors.Is(err, pool.ErrAlreadyInitialized),
		errors.Is(err, pool.ErrTooEarly),
		errors.Is(err, pool.ErrSlippageExceeded),
		errors.Is(err, pool.ErrAMMNotInitialized),
		errors.Is(err, pool.ErrInsufficientLiquidity),
		errors.Is(err, amm.ErrEmptyReserves),
		errors.Is(err, token.ErrInsufficientBalance),
		errors.Is(err, token.ErrInsufficientAllowance):
		return http.StatusConflict
	case errors.Is(err, pool.ErrRatioMismatch),
		errors.Is(err, pool.ErrNoShares),
		errors.Is(err, pool.ErrInvalidAmount),
		errors.Is(err, pricing.ErrMissingParam),
		errors.Is(err, pricing.ErrInvalidBlocksPerYear),
		errors.Is(err, fixed.ErrInvalidNumber),
		errors.Is(err, fixed.ErrOverflow),
		errors.Is(err, token.ErrZeroAddress):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// reasonFor labels a rejection for metrics.
func reasonFor(err error) string {
	switch {
	case errors.Is(err, pool.ErrPhaseViolation):
		return "phase"
	case errors.Is(err, pool.ErrRatioMismatch):
		return "ratio_mismatch"
	case errors.Is(err, pool.ErrSlippageExceeded):
		return "slippage"
	case errors.Is(err, pool.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, pool.ErrNoSuchLoan), errors.Is(err, pool.ErrIndexOutOfRange):
		return "no_such_loan"
	case errors.Is(err, pool.ErrAlreadyRepaid):
		return "already_repaid"
	case errors.Is(err, pool.ErrNoShares):
		return "no_shares"
	case errors.Is(err, pool.ErrAlreadyInitialized), errors.Is(err, pool.ErrTooEarly):
		return "amm_init"
	case errors.Is(err, token.ErrInsufficientBalance), errors.Is(err, token.ErrInsufficientAllowance):
		return "funds"
	case errors.Is(err, pool.ErrInsufficientLiquidity):
		return "liquidity"
	case errors.Is(err, fixed.ErrOverflow), errors.Is(err, fixed.ErrUnderflow), errors.Is(err, fixed.ErrDivisionByZero):
		return "arithmetic"
	default:
		return "invalid"
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
