package scoring

import "fmt"

// RecencyBand is one step of the decay curve: evidence aged up to
// MaxAgeDays scores with Factor.
type RecencyBand struct {
	MaxAgeDays int     `json:"max_age_days" yaml:"max_age_days"`
	Factor     float64 `json:"factor" yaml:"factor"`
}

// RecencyConfig is an ordered decay curve. Bands ascend by MaxAgeDays with
// non-increasing factors, so newer evidence never scores below
// equally-sourced older evidence. The last band's factor is the floor for
// evidence older than its bound.
type RecencyConfig struct {
	bands []RecencyBand
}

// DefaultRecencyBands is the stock curve: full value for two weeks, then
// stepped decay down to a 0.3 floor after half a year.
var DefaultRecencyBands = []RecencyBand{
	{MaxAgeDays: 14, Factor: 1.0},
	{MaxAgeDays: 30, Factor: 0.9},
	{MaxAgeDays: 90, Factor: 0.7},
	{MaxAgeDays: 180, Factor: 0.5},
	{MaxAgeDays: 365, Factor: 0.3},
}

// NewRecencyConfig validates and builds a decay curve. An empty band list,
// a negative age bound, a factor outside [0,1], or any non-monotonic entry
// is a configuration error: scoring must fail fast rather than run with a
// curve that would silently invert the recency ordering.
func NewRecencyConfig(bands []RecencyBand) (RecencyConfig, error) {
	if len(bands) == 0 {
		return RecencyConfig{}, fmt.Errorf("recency config must have at least one band")
	}
	for i, b := range bands {
		if b.MaxAgeDays < 0 {
			return RecencyConfig{}, fmt.Errorf("band %d: max_age_days must be non-negative, got %d", i, b.MaxAgeDays)
		}
		if b.Factor < 0 || b.Factor > 1 {
			return RecencyConfig{}, fmt.Errorf("band %d: factor must be in [0,1], got %v", i, b.Factor)
		}
		if i > 0 {
			if b.MaxAgeDays <= bands[i-1].MaxAgeDays {
				return RecencyConfig{}, fmt.Errorf("band %d: max_age_days %d must exceed previous bound %d", i, b.MaxAgeDays, bands[i-1].MaxAgeDays)
			}
			if b.Factor > bands[i-1].Factor {
				return RecencyConfig{}, fmt.Errorf("band %d: factor %v exceeds previous factor %v; factors must be non-increasing", i, b.Factor, bands[i-1].Factor)
			}
		}
	}
	copied := make([]RecencyBand, len(bands))
	copy(copied, bands)
	return RecencyConfig{bands: copied}, nil
}

// DefaultRecencyConfig returns the stock curve.
func DefaultRecencyConfig() RecencyConfig {
	cfg, err := NewRecencyConfig(DefaultRecencyBands)
	if err != nil {
		panic(err) // stock bands are validated by tests
	}
	return cfg
}

// FactorForAge returns the decay factor for evidence aged ageDays. Negative
// ages (clock skew between capture and source systems) clamp to zero; ages
// beyond the last band take the last band's factor.
func (r RecencyConfig) FactorForAge(ageDays int) float64 {
	if ageDays < 0 {
		ageDays = 0
	}
	for _, b := range r.bands {
		if ageDays <= b.MaxAgeDays {
			return b.Factor
		}
	}
	return r.bands[len(r.bands)-1].Factor
}

// BandIndexForAge returns the index of the band covering ageDays, or the
// last index when older than every bound. Used by the recency-floor gate to
// decide whether evidence sits in the two most-recent bands.
func (r RecencyConfig) BandIndexForAge(ageDays int) int {
	if ageDays < 0 {
		ageDays = 0
	}
	for i, b := range r.bands {
		if ageDays <= b.MaxAgeDays {
			return i
		}
	}
	return len(r.bands) - 1
}

// Bands returns a copy of the curve for display and export.
func (r RecencyConfig) Bands() []RecencyBand {
	out := make([]RecencyBand, len(r.bands))
	copy(out, r.bands)
	return out
}

// Len returns the number of bands.
func (r RecencyConfig) Len() int { return len(r.bands) }
