// Package period classifies the pool's lifecycle phase from the current block
// height. It holds no state: the same height and boundaries always give the
// same phase.
package period

import (
	"errors"
	"fmt"
)

// ErrInvalidBoundaries is returned when the boundaries are not strictly
// increasing.
var ErrInvalidBoundaries = errors.New("period: boundaries must satisfy lp_end < amm_end < settlement_end")

// Phase is one of the pool's lifecycle phases. It is always derived, never
// stored.
type Phase int

const (
	// PhaseLP accepts liquidity.
	PhaseLP Phase = iota
	// PhaseAwaitingAMM is the gap between lp_end and the initialize_amm call.
	PhaseAwaitingAMM
	// PhaseAMM quotes and originates loans.
	PhaseAMM
	// PhaseSettlement repays loans.
	PhaseSettlement
	// PhasePostSettlement redeems shares.
	PhasePostSettlement
)

func (p Phase) String() string {
	switch p {
	case PhaseLP:
		return "LP"
	case PhaseAwaitingAMM:
		return "AwaitingAMM"
	case PhaseAMM:
		return "AMM"
	case PhaseSettlement:
		return "Settlement"
	case PhasePostSettlement:
		return "Post-settlement"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Boundaries are the block heights at which each phase ends.
type Boundaries struct {
	LPEnd         uint64 `json:"lp_end" yaml:"lp_end"`
	AMMEnd        uint64 `json:"amm_end" yaml:"amm_end"`
	SettlementEnd uint64 `json:"settlement_end" yaml:"settlement_end"`
}

// FromDurations lays out consecutive phases starting at start.
func FromDurations(start, lpDuration, ammDuration, settlementDuration uint64) Boundaries {
	lpEnd := start + lpDuration
	ammEnd := lpEnd + ammDuration
	return Boundaries{
		LPEnd:         lpEnd,
		AMMEnd:        ammEnd,
		SettlementEnd: ammEnd + settlementDuration,
	}
}

func (b Boundaries) Validate() error {
	if b.LPEnd >= b.AMMEnd || b.AMMEnd >= b.SettlementEnd {
		return fmt.Errorf("%w: got %d, %d, %d", ErrInvalidBoundaries, b.LPEnd, b.AMMEnd, b.SettlementEnd)
	}
	return nil
}

// Classify returns the phase at height. The AMM window only counts as
// PhaseAMM once the AMM has been initialized.
func (b Boundaries) Classify(height uint64, ammInitialized bool) Phase {
	switch {
	case height < b.LPEnd:
		return PhaseLP
	case height < b.AMMEnd:
		if ammInitialized {
			return PhaseAMM
		}
		return PhaseAwaitingAMM
	case height < b.SettlementEnd:
		return PhaseSettlement
	default:
		return PhasePostSettlement
	}
}

func (b Boundaries) IsLPActive(height uint64) bool {
	return b.Classify(height, false) == PhaseLP
}

func (b Boundaries) IsAMMActive(height uint64, ammInitialized bool) bool {
	return b.Classify(height, ammInitialized) == PhaseAMM
}

func (b Boundaries) IsSettlementActive(height uint64) bool {
	return b.Classify(height, false) == PhaseSettlement
}

func (b Boundaries) IsPostSettlementActive(height uint64) bool {
	return b.Classify(height, false) == PhasePostSettlement
}
