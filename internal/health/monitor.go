// Package health runs periodic decay sweeps over active decisions: the
// evidence behind a committed or validating decision goes stale silently,
// so a daily pass flags decisions whose support has aged out or thinned,
// and stores the findings as alert records.
package health

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lodestar-io/lodestar/internal/decision"
	"github.com/lodestar-io/lodestar/internal/evidence"
	lodestarotel "github.com/lodestar-io/lodestar/internal/otel"
	"github.com/lodestar-io/lodestar/internal/scoring"
)

var tracer = lodestarotel.Tracer("github.com/lodestar-io/lodestar/internal/health")

// Sweep thresholds. Tuned against discovery-team review cadence: three
// weeks without a new signal usually means the conversation moved on.
const (
	staleLatestDays    = 21
	agedEvidenceDays   = 90
	agedShareThreshold = 0.5
	weakCommitFloor    = 40
)

// Flag reasons.
const (
	FlagNoEvidence    = "no_evidence"
	FlagStaleLatest   = "stale_latest"
	FlagAgedMajority  = "aged_majority"
	FlagWeakCommitted = "weak_committed"
)

// Finding is one flagged decision with its reasons.
type Finding struct {
	DecisionID       string   `json:"decision_id"`
	Title            string   `json:"title"`
	Status           string   `json:"status"`
	EvidenceStrength int      `json:"evidence_strength"`
	Flags            []string `json:"flags"`
}

// Report is the result of one sweep over a workspace.
type Report struct {
	WorkspaceID  string    `json:"workspace_id"`
	RanAt        time.Time `json:"ran_at"`
	ActiveCount  int       `json:"active_count"`
	HealthyCount int       `json:"healthy_count"`
	Findings     []Finding `json:"findings,omitempty"`
}

// Monitor inspects decisions and their linked evidence for decay.
type Monitor struct {
	decisions *decision.Store
	evidence  *evidence.Store
}

// NewMonitor creates a decay monitor over the given stores.
func NewMonitor(decisions *decision.Store, ev *evidence.Store) *Monitor {
	return &Monitor{decisions: decisions, evidence: ev}
}

// Sweep examines a workspace's active (commit/validate) decisions as of now
// and returns a report. Parked decisions are skipped; parking is already
// the engine saying the evidence is not there.
func (m *Monitor) Sweep(ctx context.Context, workspaceID string, now time.Time) (*Report, error) {
	ctx, span := tracer.Start(ctx, "health.sweep",
		trace.WithAttributes(attribute.String("workspace_id", workspaceID)))
	defer span.End()

	report := &Report{
		WorkspaceID: workspaceID,
		RanAt:       now.UTC(),
	}

	for _, status := range []scoring.Gate{scoring.GateCommit, scoring.GateValidate} {
		decisions, err := m.decisions.List(ctx, workspaceID, status)
		if err != nil {
			return nil, err
		}
		for i := range decisions {
			d := &decisions[i]
			report.ActiveCount++

			flags, err := m.inspect(ctx, d, now)
			if err != nil {
				return nil, err
			}
			if len(flags) == 0 {
				report.HealthyCount++
				continue
			}
			report.Findings = append(report.Findings, Finding{
				DecisionID:       d.ID,
				Title:            d.Title,
				Status:           string(d.Status),
				EvidenceStrength: d.EvidenceStrength,
				Flags:            flags,
			})
		}
	}

	span.SetAttributes(
		attribute.Int("health.active", report.ActiveCount),
		attribute.Int("health.flagged", len(report.Findings)),
	)
	return report, nil
}

func (m *Monitor) inspect(ctx context.Context, d *decision.Decision, now time.Time) ([]string, error) {
	var flags []string

	full, err := m.decisions.Get(ctx, d.ID)
	if err != nil {
		return nil, err
	}

	var items []*evidence.Item
	for _, l := range full.Links {
		item, err := m.evidence.Get(ctx, l.EvidenceID)
		if errors.Is(err, evidence.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	if len(items) == 0 {
		flags = append(flags, FlagNoEvidence)
	} else {
		latest := items[0].ScoringItem().EffectiveTimestamp()
		aged := 0
		for _, it := range items {
			ts := it.ScoringItem().EffectiveTimestamp()
			if ts.After(latest) {
				latest = ts
			}
			if now.Sub(ts) > agedEvidenceDays*24*time.Hour {
				aged++
			}
		}
		if now.Sub(latest) > staleLatestDays*24*time.Hour {
			flags = append(flags, FlagStaleLatest)
		}
		if float64(aged)/float64(len(items)) > agedShareThreshold {
			flags = append(flags, FlagAgedMajority)
		}
	}

	if d.Status == scoring.GateCommit && d.EvidenceStrength < weakCommitFloor {
		flags = append(flags, FlagWeakCommitted)
	}

	return flags, nil
}
