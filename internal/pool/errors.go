package pool

import (
	"errors"
	"fmt"

	"github.com/zlp/pool-engine/internal/period"
)

var (
	// ErrPhaseViolation matches every *PhaseError via errors.Is.
	ErrPhaseViolation = errors.New("pool: operation not allowed in current phase")

	ErrRatioMismatch    = errors.New("pool: must provide ccys in proper ratio")
	ErrSlippageExceeded = errors.New("pool: quoted terms moved beyond caller bound")
	ErrUnauthorized     = errors.New("pool: caller is not the owner")

	ErrNoSuchLoan      = errors.New("pool: sender doesn't have outstanding loans")
	ErrIndexOutOfRange = errors.New("pool: loan index out of range")
	ErrAlreadyRepaid   = errors.New("pool: must be an open loan")

	ErrNoShares = errors.New("pool: caller holds no shares")

	ErrAlreadyInitialized = errors.New("pool: AMM already initialized")
	ErrTooEarly           = errors.New("pool: can initialize AMM only after LP period")
	ErrAMMNotInitialized  = errors.New("pool: AMM not initialized")

	ErrInvalidAmount         = errors.New("pool: amount must be positive")
	ErrInsufficientLiquidity = errors.New("pool: insufficient pool reserves")
	ErrInvalidConfig         = errors.New("pool: invalid configuration")
)

// PhaseError reports a call made outside its required phase.
type PhaseError struct {
	Required period.Phase
	Actual   period.Phase
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("pool: %s period not active (current: %s)", e.Required, e.Actual)
}

func (e *PhaseError) Is(target error) bool {
	return target == ErrPhaseViolation
}
