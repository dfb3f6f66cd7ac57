package scoring

import (
	"fmt"
	"time"
)

// Tunables collects the scoring constants that are policy rather than
// physics. The defaults were calibrated against the acceptance corpus; keep
// them stable unless recalibrating, but treat them as configuration, not
// hard truths.
type Tunables struct {
	// OffSegmentDiscount multiplies items outside the workspace's target
	// segments. Off-segment evidence still carries signal, so it is
	// discounted, never zeroed.
	OffSegmentDiscount float64

	// CorroborationStep is the bonus per independent source category
	// beyond the first; CorroborationCap bounds the total bonus.
	CorroborationStep float64
	CorroborationCap  float64

	// Quality-gate caps. A failed gate caps the final score at its value.
	SingleSourceCap int // fewer than 2 independent categories
	NoDirectVoiceCap int // no direct-user-voice category in the claim context
	StaleCorroborationCap int // too little recent corroboration

	// IndependenceWindow collapses items whose source timestamps fall
	// within it into one independent source (same event reported twice).
	IndependenceWindow time.Duration

	// RecencyFloorRatio is the minimum share of the claim context that
	// must sit in the two most-recent recency bands for the
	// stale-corroboration gate to pass.
	RecencyFloorRatio float64
}

// DefaultTunables returns the calibrated constants.
func DefaultTunables() Tunables {
	return Tunables{
		OffSegmentDiscount:    0.7,
		CorroborationStep:     5,
		CorroborationCap:      15,
		SingleSourceCap:       60,
		NoDirectVoiceCap:      75,
		StaleCorroborationCap: 70,
		IndependenceWindow:    time.Hour,
		RecencyFloorRatio:     0.3,
	}
}

// Validate rejects tunables that would break the engine's bounds.
func (t Tunables) Validate() error {
	if t.OffSegmentDiscount <= 0 || t.OffSegmentDiscount > 1 {
		return fmt.Errorf("off-segment discount must be in (0,1], got %v", t.OffSegmentDiscount)
	}
	if t.CorroborationStep < 0 || t.CorroborationCap < 0 {
		return fmt.Errorf("corroboration step and cap must be non-negative")
	}
	for name, cap := range map[string]int{
		"single-source":       t.SingleSourceCap,
		"no-direct-voice":     t.NoDirectVoiceCap,
		"stale-corroboration": t.StaleCorroborationCap,
	} {
		if cap < 0 || cap > 100 {
			return fmt.Errorf("%s cap must be in [0,100], got %d", name, cap)
		}
	}
	if t.RecencyFloorRatio < 0 || t.RecencyFloorRatio > 1 {
		return fmt.Errorf("recency floor ratio must be in [0,1], got %v", t.RecencyFloorRatio)
	}
	return nil
}
