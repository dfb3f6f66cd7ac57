package scoring

import "math"

// EvidenceLink is the join record between a decision and an evidence item.
// SegmentMatchFactor in (0,1] scales the evidence's contribution; values
// outside the range are treated as unset (1.0) so a malformed link degrades
// to full weight instead of poisoning the average.
type EvidenceLink struct {
	DecisionID         string
	EvidenceID         string
	SegmentMatchFactor float64
	RelevanceNote      string
}

// AggregateResult is the decision-level rollup.
type AggregateResult struct {
	EvidenceStrength int `json:"evidence_strength"`
	EvidenceCount    int `json:"evidence_count"`
}

// ComputeAggregateStrength averages linked evidence strengths, each scaled
// by its link's segment match factor. Every resolvable link counts exactly
// once: duplicate (decision, evidence) pairs are collapsed, and links whose
// evidence is missing (deleted mid-computation) are skipped rather than
// failing the rollup. Zero links yields (0, 0).
//
// The decision store calls this synchronously on every link change; the
// stored strength is a cached derived value, never computed on read.
func ComputeAggregateStrength(links []EvidenceLink, strengthByID map[string]int) AggregateResult {
	seen := make(map[string]bool, len(links))
	var sum float64
	count := 0
	for _, l := range links {
		if seen[l.EvidenceID] {
			continue
		}
		seen[l.EvidenceID] = true
		strength, ok := strengthByID[l.EvidenceID]
		if !ok {
			continue
		}
		factor := l.SegmentMatchFactor
		if factor <= 0 || factor > 1 {
			factor = 1.0
		}
		sum += float64(strength) * factor
		count++
	}
	if count == 0 {
		return AggregateResult{}
	}
	return AggregateResult{
		EvidenceStrength: int(math.Round(sum / float64(count))),
		EvidenceCount:    count,
	}
}
