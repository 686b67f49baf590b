package period

import (
	"errors"
	"testing"
)

// Mirrors the reference deployment: lp_end at 13268810, then 100 blocks each.
var testBounds = Boundaries{LPEnd: 13268810, AMMEnd: 13268910, SettlementEnd: 13269010}

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		height      uint64
		initialized bool
		want        Phase
	}{
		{"genesis", 0, false, PhaseLP},
		{"last LP block", 13268809, false, PhaseLP},
		{"lp_end without init", 13268810, false, PhaseAwaitingAMM},
		{"lp_end with init", 13268810, true, PhaseAMM},
		{"last AMM block", 13268909, true, PhaseAMM},
		{"amm_end", 13268910, true, PhaseSettlement},
		{"amm_end uninitialized", 13268910, false, PhaseSettlement},
		{"last settlement block", 13269009, true, PhaseSettlement},
		{"settlement_end", 13269010, true, PhasePostSettlement},
		{"far future", 1 << 62, false, PhasePostSettlement},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testBounds.Classify(tt.height, tt.initialized); got != tt.want {
				t.Errorf("Classify(%d, %v) = %s, want %s", tt.height, tt.initialized, got, tt.want)
			}
		})
	}
}

func TestFlags_MutuallyExclusive(t *testing.T) {
	for h := uint64(13268800); h < 13269020; h++ {
		active := 0
		for _, on := range []bool{
			testBounds.IsLPActive(h),
			testBounds.IsAMMActive(h, true),
			testBounds.IsSettlementActive(h),
			testBounds.IsPostSettlementActive(h),
		} {
			if on {
				active++
			}
		}
		if active != 1 {
			t.Fatalf("height %d: expected exactly one active phase, got %d", h, active)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := testBounds.Validate(); err != nil {
		t.Errorf("valid boundaries rejected: %v", err)
	}

	bad := []Boundaries{
		{LPEnd: 10, AMMEnd: 10, SettlementEnd: 20},
		{LPEnd: 10, AMMEnd: 20, SettlementEnd: 20},
		{LPEnd: 30, AMMEnd: 20, SettlementEnd: 40},
	}
	for _, b := range bad {
		if err := b.Validate(); !errors.Is(err, ErrInvalidBoundaries) {
			t.Errorf("expected ErrInvalidBoundaries for %+v, got %v", b, err)
		}
	}
}

func TestFromDurations(t *testing.T) {
	b := FromDurations(13268710, 100, 100, 100)
	if b != testBounds {
		t.Errorf("expected %+v, got %+v", testBounds, b)
	}
}

func TestPhaseString(t *testing.T) {
	if PhasePostSettlement.String() != "Post-settlement" {
		t.Errorf("unexpected label %q", PhasePostSettlement.String())
	}
	if Phase(42).String() != "Phase(42)" {
		t.Errorf("unexpected label for unknown phase %q", Phase(42).String())
	}
}
