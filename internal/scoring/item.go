// Package scoring implements the evidence strength and decision gate engine.
//
// Every function here is pure: configuration, evidence records, and the
// clock are passed in, results are returned by value, and nothing is
// persisted. The surrounding stores own persistence and must serialize
// writes per decision; the engine itself is safe to call from any number of
// goroutines.
//
// Pipeline: ComputeItemStrength scores one evidence item against its
// sibling set, ComputeAggregateStrength averages linked item scores into a
// decision-level strength, and ClassifyGate maps that onto a
// commit/validate/park recommendation.
package scoring

import (
	"math"
	"sort"
	"time"
)

// Item is the slice of an evidence record the engine reads. Titles, URLs,
// free text, and embeddings are opaque payload and never appear here.
type Item struct {
	ID             string
	SourceCategory SourceCategory
	CreatedAt      time.Time
	// SourceTimestamp is when the underlying event occurred, preferred
	// over CreatedAt when present.
	SourceTimestamp *time.Time
	Segment         string
	Sentiment       string
}

// EffectiveTimestamp returns the source timestamp when set, else creation time.
func (it Item) EffectiveTimestamp() time.Time {
	if it.SourceTimestamp != nil && !it.SourceTimestamp.IsZero() {
		return *it.SourceTimestamp
	}
	return it.CreatedAt
}

// Config bundles everything a scoring call needs. Built per-workspace by
// the workspace settings layer; the engine holds no ambient state.
type Config struct {
	Weights        WeightConfig
	Recency        RecencyConfig
	TargetSegments []string
	Tunables       Tunables
}

// segmentMatch returns 1.0 when no target segments are declared or the
// item's segment is one of them, else the off-segment discount.
func (c Config) segmentMatch(segment string) float64 {
	if len(c.TargetSegments) == 0 {
		return 1.0
	}
	for _, s := range c.TargetSegments {
		if s == segment {
			return 1.0
		}
	}
	return c.Tunables.OffSegmentDiscount
}

// GateCheck is the outcome of one quality gate.
type GateCheck struct {
	Passed bool `json:"passed"`
	// Cap is the score ceiling applied when the gate fails.
	Cap int `json:"cap"`
}

// GateChecks holds all quality-gate outcomes for an item score.
type GateChecks struct {
	SourceDiversity    GateCheck `json:"source_diversity"`
	DirectVoice        GateCheck `json:"direct_voice"`
	StaleCorroboration GateCheck `json:"stale_corroboration"`
}

// ItemScoreResult is the full factor breakdown for one evidence item.
type ItemScoreResult struct {
	ComputedStrength   int        `json:"computed_strength"`
	SourceWeight       float64    `json:"source_weight"`
	RecencyFactor      float64    `json:"recency_factor"`
	SegmentMatch       float64    `json:"segment_match"`
	CorroborationBonus float64    `json:"corroboration_bonus"`
	IndependentSources int        `json:"independent_sources"`
	Band               Band       `json:"band"`
	Gates              GateChecks `json:"gates"`
}

// ComputeItemStrength scores one evidence item against its sibling set (the
// other evidence in the same claim context). now anchors age computation so
// rescoring a snapshot is deterministic.
//
// raw = weight x 100 x recency x segment_match + corroboration bonus, then
// each failed quality gate caps the result, then clamp to [0,100] and round.
func ComputeItemStrength(now time.Time, item Item, siblings []Item, cfg Config) ItemScoreResult {
	tun := cfg.Tunables

	weight := cfg.Weights.WeightFor(item.SourceCategory)
	ageDays := ageInDays(now, item.EffectiveTimestamp())
	recency := cfg.Recency.FactorForAge(ageDays)
	segMatch := cfg.segmentMatch(item.Segment)

	// The claim context is the item plus its siblings: quality gates judge
	// the claim's overall support, not the lone item.
	context := make([]Item, 0, len(siblings)+1)
	context = append(context, item)
	context = append(context, siblings...)

	independent := countIndependentSources(context, tun.IndependenceWindow)

	bonus := float64(independent-1) * tun.CorroborationStep
	if bonus < 0 {
		bonus = 0
	}
	if bonus > tun.CorroborationCap {
		bonus = tun.CorroborationCap
	}

	gates := GateChecks{
		SourceDiversity:    GateCheck{Passed: independent >= 2, Cap: tun.SingleSourceCap},
		DirectVoice:        GateCheck{Passed: hasDirectVoice(context), Cap: tun.NoDirectVoiceCap},
		StaleCorroboration: GateCheck{Passed: recentShare(now, context, cfg.Recency) >= tun.RecencyFloorRatio, Cap: tun.StaleCorroborationCap},
	}

	raw := weight*100*recency*segMatch + bonus
	capped := raw
	for _, g := range []GateCheck{gates.SourceDiversity, gates.DirectVoice, gates.StaleCorroboration} {
		if !g.Passed && capped > float64(g.Cap) {
			capped = float64(g.Cap)
		}
	}
	strength := int(math.Round(math.Max(0, math.Min(100, capped))))

	return ItemScoreResult{
		ComputedStrength:   strength,
		SourceWeight:       weight,
		RecencyFactor:      recency,
		SegmentMatch:       segMatch,
		CorroborationBonus: bonus,
		IndependentSources: independent,
		Band:               BandFor(strength),
		Gates:              gates,
	}
}

// ageInDays floors the elapsed whole days between then and now, clamping
// negative ages (clock skew) to zero.
func ageInDays(now, then time.Time) int {
	d := now.Sub(then)
	if d < 0 {
		return 0
	}
	return int(d.Hours() / 24)
}

// countIndependentSources counts distinct source categories in the claim
// context after collapsing same-event reports: items whose effective
// timestamps fall within window of an earlier item belong to the same event
// cluster, and each cluster contributes only its first item's category.
// Convergent evidence from different channels counts; the same event
// restated twice does not.
func countIndependentSources(context []Item, window time.Duration) int {
	sorted := make([]Item, len(context))
	copy(sorted, context)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].EffectiveTimestamp().Before(sorted[j].EffectiveTimestamp())
	})

	categories := make(map[SourceCategory]bool)
	var clusterStart time.Time
	for i, it := range sorted {
		ts := it.EffectiveTimestamp()
		if i == 0 || ts.Sub(clusterStart) > window {
			clusterStart = ts
			categories[it.SourceCategory] = true
		}
	}
	return len(categories)
}

// hasDirectVoice reports whether any item in the claim context comes from a
// direct-user-voice category.
func hasDirectVoice(context []Item) bool {
	for _, it := range context {
		if it.SourceCategory.IsDirectVoice() {
			return true
		}
	}
	return false
}

// recentShare returns the fraction of the claim context whose age falls in
// the two most-recent recency bands.
func recentShare(now time.Time, context []Item, recency RecencyConfig) float64 {
	if len(context) == 0 {
		return 1.0
	}
	recentBands := 2
	if recency.Len() < recentBands {
		recentBands = recency.Len()
	}
	recent := 0
	for _, it := range context {
		if recency.BandIndexForAge(ageInDays(now, it.EffectiveTimestamp())) < recentBands {
			recent++
		}
	}
	return float64(recent) / float64(len(context))
}
