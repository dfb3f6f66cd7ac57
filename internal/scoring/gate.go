package scoring

// Gate is the engine's recommendation for a decision.
type Gate string

const (
	GateCommit   Gate = "commit"
	GateValidate Gate = "validate"
	GatePark     Gate = "park"
)

// Gate thresholds. A strength of exactly 70 commits and exactly 40
// validates; both boundaries are inclusive on the upper side.
const (
	CommitThreshold   = 70
	ValidateThreshold = 40
)

// ClassifyGate maps aggregate evidence strength to a recommendation.
// It never touches a decision's user-set status; override handling lives
// with the decision store.
func ClassifyGate(evidenceStrength int) Gate {
	switch {
	case evidenceStrength >= CommitThreshold:
		return GateCommit
	case evidenceStrength >= ValidateThreshold:
		return GateValidate
	default:
		return GatePark
	}
}

// ValidGate reports whether s is one of commit, validate, or park.
func ValidGate(s string) bool {
	switch Gate(s) {
	case GateCommit, GateValidate, GatePark:
		return true
	}
	return false
}

// Band groups scores for display: weak <40, moderate 40-69, strong >=70.
type Band string

const (
	BandWeak     Band = "weak"
	BandModerate Band = "moderate"
	BandStrong   Band = "strong"
)

// BandFor returns the strength band for a score.
func BandFor(score int) Band {
	switch {
	case score >= CommitThreshold:
		return BandStrong
	case score >= ValidateThreshold:
		return BandModerate
	default:
		return BandWeak
	}
}

// Label returns the human-readable band name shown in list views.
func (b Band) Label() string {
	switch b {
	case BandStrong:
		return "Strong"
	case BandModerate:
		return "Moderate"
	default:
		return "Weak"
	}
}

// Color returns the display color for the band. Presentation only; the
// engine never branches on it.
func (b Band) Color() string {
	switch b {
	case BandStrong:
		return "#16a34a"
	case BandModerate:
		return "#d97706"
	default:
		return "#dc2626"
	}
}
