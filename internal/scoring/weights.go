package scoring

import "fmt"

// WeightConfig maps source categories to base credibility weights in [0,1].
// Categories missing from the map score with Fallback.
type WeightConfig struct {
	weights  map[SourceCategory]float64
	fallback float64
}

// DefaultFallbackWeight is used for categories absent from a weight map,
// including categories outside the closed enumeration.
const DefaultFallbackWeight = 0.5

// Preset names a built-in weight table.
type Preset string

const (
	PresetDefault           Preset = "default"
	PresetEnterpriseLeaning Preset = "enterprise-leaning"
	PresetGrowthLed         Preset = "growth-led"
	PresetSupportLed        Preset = "support-led"
	PresetResearchHeavy     Preset = "research-heavy"
)

// AllPresets lists the built-in weight presets.
var AllPresets = []Preset{
	PresetDefault,
	PresetEnterpriseLeaning,
	PresetGrowthLed,
	PresetSupportLed,
	PresetResearchHeavy,
}

// presetWeights holds the five built-in tables. The presets differ only in
// which channels they trust most: enterprise-leaning favors sales calls,
// growth-led favors product analytics, support-led favors tickets, and
// research-heavy favors interviews.
var presetWeights = map[Preset]map[SourceCategory]float64{
	PresetDefault: {
		SourceManual:           0.5,
		SourceChat:             0.5,
		SourceWiki:             0.5,
		SourceAnalyticsTable:   0.7,
		SourceSpreadsheet:      0.6,
		SourceSupportTicket:    0.8,
		SourceSalesCall:        0.7,
		SourceInterview:        0.9,
		SourceCustomerSupport:  0.8,
		SourceProductAnalytics: 0.7,
		SourceSocial:           0.4,
	},
	PresetEnterpriseLeaning: {
		SourceManual:           0.5,
		SourceChat:             0.5,
		SourceWiki:             0.5,
		SourceAnalyticsTable:   0.6,
		SourceSpreadsheet:      0.6,
		SourceSupportTicket:    0.7,
		SourceSalesCall:        0.9,
		SourceInterview:        0.8,
		SourceCustomerSupport:  0.7,
		SourceProductAnalytics: 0.6,
		SourceSocial:           0.3,
	},
	PresetGrowthLed: {
		SourceManual:           0.5,
		SourceChat:             0.5,
		SourceWiki:             0.4,
		SourceAnalyticsTable:   0.8,
		SourceSpreadsheet:      0.6,
		SourceSupportTicket:    0.6,
		SourceSalesCall:        0.5,
		SourceInterview:        0.7,
		SourceCustomerSupport:  0.6,
		SourceProductAnalytics: 0.9,
		SourceSocial:           0.6,
	},
	PresetSupportLed: {
		SourceManual:           0.5,
		SourceChat:             0.6,
		SourceWiki:             0.4,
		SourceAnalyticsTable:   0.6,
		SourceSpreadsheet:      0.5,
		SourceSupportTicket:    0.9,
		SourceSalesCall:        0.5,
		SourceInterview:        0.7,
		SourceCustomerSupport:  0.9,
		SourceProductAnalytics: 0.6,
		SourceSocial:           0.5,
	},
	PresetResearchHeavy: {
		SourceManual:           0.5,
		SourceChat:             0.4,
		SourceWiki:             0.5,
		SourceAnalyticsTable:   0.6,
		SourceSpreadsheet:      0.5,
		SourceSupportTicket:    0.6,
		SourceSalesCall:        0.5,
		SourceInterview:        0.95,
		SourceCustomerSupport:  0.7,
		SourceProductAnalytics: 0.6,
		SourceSocial:           0.3,
	},
}

// PresetWeightConfig returns the built-in weight table for the named preset.
func PresetWeightConfig(p Preset) (WeightConfig, error) {
	table, ok := presetWeights[p]
	if !ok {
		return WeightConfig{}, fmt.Errorf("unknown weight preset %q", p)
	}
	// Presets are trusted tables; copy so callers can't mutate them.
	weights := make(map[SourceCategory]float64, len(table))
	for c, w := range table {
		weights[c] = w
	}
	return WeightConfig{weights: weights, fallback: DefaultFallbackWeight}, nil
}

// NewWeightConfig builds a custom weight table. Every weight must be in
// [0,1]; categories missing from the map score with DefaultFallbackWeight.
func NewWeightConfig(weights map[SourceCategory]float64) (WeightConfig, error) {
	copied := make(map[SourceCategory]float64, len(weights))
	for c, w := range weights {
		if w < 0 || w > 1 {
			return WeightConfig{}, fmt.Errorf("weight for %q must be in [0,1], got %v", c, w)
		}
		copied[c] = w
	}
	return WeightConfig{weights: copied, fallback: DefaultFallbackWeight}, nil
}

// WeightFor returns the base weight for a category, falling back to the
// default weight when the category is absent or unknown.
func (w WeightConfig) WeightFor(c SourceCategory) float64 {
	if weight, ok := w.weights[c]; ok {
		return weight
	}
	return w.fallback
}

// Weights returns a copy of the underlying table for display and export.
func (w WeightConfig) Weights() map[SourceCategory]float64 {
	out := make(map[SourceCategory]float64, len(w.weights))
	for c, weight := range w.weights {
		out[c] = weight
	}
	return out
}
