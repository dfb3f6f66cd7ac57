package health

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodestar-io/lodestar/internal/decision"
	"github.com/lodestar-io/lodestar/internal/evidence"
	"github.com/lodestar-io/lodestar/internal/scoring"
)

var sweepNow = time.Date(2026, 8, 20, 6, 0, 0, 0, time.UTC)

func newTestMonitor(t *testing.T) (*evidence.Store, *decision.Store, *Monitor, *AlertStore) {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "lodestar.db")+"?_journal_mode=WAL&_busy_timeout=5000")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ev, err := evidence.NewStoreWithDB(db)
	require.NoError(t, err)
	dec, err := decision.NewStoreWithDB(db, ev)
	require.NoError(t, err)
	alerts, err := NewAlertStoreWithDB(db)
	require.NoError(t, err)
	return ev, dec, NewMonitor(dec, ev), alerts
}

// committedDecision creates a committed decision linked to evidence of the
// given ages (days before sweepNow) and strengths.
func committedDecision(t *testing.T, ev *evidence.Store, dec *decision.Store, ageDays []int, strength int) *decision.Decision {
	t.Helper()
	ctx := context.Background()

	d := &decision.Decision{WorkspaceID: "ws1", Title: "d"}
	require.NoError(t, dec.Create(ctx, d))
	for _, age := range ageDays {
		it := &evidence.Item{
			WorkspaceID:    "ws1",
			Title:          "e",
			SourceCategory: scoring.SourceInterview,
			CreatedAt:      sweepNow.AddDate(0, 0, -age),
		}
		require.NoError(t, ev.Add(ctx, it))
		result := scoring.ItemScoreResult{ComputedStrength: strength, Band: scoring.BandFor(strength)}
		require.NoError(t, ev.UpdateScore(ctx, it.ID, result, sweepNow))
		_, err := dec.Link(ctx, decision.Link{DecisionID: d.ID, EvidenceID: it.ID, SegmentMatchFactor: 1.0})
		require.NoError(t, err)
	}
	_, err := dec.SetStatus(ctx, d.ID, scoring.GateCommit, "calling it", sweepNow)
	require.NoError(t, err)
	return d
}

func findingFor(report *Report, decisionID string) *Finding {
	for i := range report.Findings {
		if report.Findings[i].DecisionID == decisionID {
			return &report.Findings[i]
		}
	}
	return nil
}

func TestSweepHealthyDecision(t *testing.T) {
	ev, dec, m, _ := newTestMonitor(t)

	d := committedDecision(t, ev, dec, []int{3, 10}, 85)

	report, err := m.Sweep(context.Background(), "ws1", sweepNow)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ActiveCount)
	assert.Equal(t, 1, report.HealthyCount)
	assert.Nil(t, findingFor(report, d.ID))
}

func TestSweepFlagsNoEvidence(t *testing.T) {
	_, dec, m, _ := newTestMonitor(t)
	ctx := context.Background()

	d := &decision.Decision{WorkspaceID: "ws1", Title: "d"}
	require.NoError(t, dec.Create(ctx, d))
	_, err := dec.SetStatus(ctx, d.ID, scoring.GateValidate, "starting discovery", sweepNow)
	require.NoError(t, err)

	report, err := m.Sweep(ctx, "ws1", sweepNow)
	require.NoError(t, err)
	f := findingFor(report, d.ID)
	require.NotNil(t, f)
	assert.Contains(t, f.Flags, FlagNoEvidence)
}

func TestSweepFlagsStaleLatest(t *testing.T) {
	ev, dec, m, _ := newTestMonitor(t)

	// Latest evidence is 30 days old: past the 21-day line, but not past
	// the 90-day aged line.
	d := committedDecision(t, ev, dec, []int{30, 45}, 85)

	report, err := m.Sweep(context.Background(), "ws1", sweepNow)
	require.NoError(t, err)
	f := findingFor(report, d.ID)
	require.NotNil(t, f)
	assert.Contains(t, f.Flags, FlagStaleLatest)
	assert.NotContains(t, f.Flags, FlagAgedMajority)
}

func TestSweepFlagsAgedMajority(t *testing.T) {
	ev, dec, m, _ := newTestMonitor(t)

	// 2 of 3 items older than 90 days.
	d := committedDecision(t, ev, dec, []int{5, 120, 150}, 85)

	report, err := m.Sweep(context.Background(), "ws1", sweepNow)
	require.NoError(t, err)
	f := findingFor(report, d.ID)
	require.NotNil(t, f)
	assert.Contains(t, f.Flags, FlagAgedMajority)
	assert.NotContains(t, f.Flags, FlagStaleLatest, "fresh item keeps the latest-evidence check green")
}

func TestSweepFlagsWeakCommitted(t *testing.T) {
	ev, dec, m, _ := newTestMonitor(t)

	d := committedDecision(t, ev, dec, []int{3}, 25)

	report, err := m.Sweep(context.Background(), "ws1", sweepNow)
	require.NoError(t, err)
	f := findingFor(report, d.ID)
	require.NotNil(t, f)
	assert.Contains(t, f.Flags, FlagWeakCommitted)
}

func TestSweepSkipsParked(t *testing.T) {
	_, dec, m, _ := newTestMonitor(t)
	ctx := context.Background()

	require.NoError(t, dec.Create(ctx, &decision.Decision{WorkspaceID: "ws1", Title: "parked"}))

	report, err := m.Sweep(ctx, "ws1", sweepNow)
	require.NoError(t, err)
	assert.Equal(t, 0, report.ActiveCount)
	assert.Empty(t, report.Findings)
}

func TestAlertStoreRoundtrip(t *testing.T) {
	_, _, _, alerts := newTestMonitor(t)
	ctx := context.Background()

	_, err := alerts.Latest(ctx, "ws1")
	assert.ErrorIs(t, err, ErrNoReport)

	first := &Report{WorkspaceID: "ws1", RanAt: sweepNow.Add(-24 * time.Hour), ActiveCount: 2, HealthyCount: 2}
	second := &Report{
		WorkspaceID: "ws1", RanAt: sweepNow, ActiveCount: 2, HealthyCount: 1,
		Findings: []Finding{{DecisionID: "d1", Flags: []string{FlagStaleLatest}}},
	}
	require.NoError(t, alerts.Save(ctx, first))
	require.NoError(t, alerts.Save(ctx, second))

	latest, err := alerts.Latest(ctx, "ws1")
	require.NoError(t, err)
	assert.Equal(t, 1, latest.HealthyCount)
	require.Len(t, latest.Findings, 1)
	assert.Equal(t, "d1", latest.Findings[0].DecisionID)

	all, err := alerts.List(ctx, "ws1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSchedulerRegisterAndRun(t *testing.T) {
	ev, dec, m, alerts := newTestMonitor(t)
	ctx := context.Background()

	committedDecision(t, ev, dec, []int{30}, 85)

	s := NewScheduler(m, alerts, dec)
	require.NoError(t, s.Register("0 6 * * *"))
	assert.Equal(t, 1, s.Entries())
	require.Error(t, s.Register("not a cron"))

	s.RunAll(ctx)

	latest, err := alerts.Latest(ctx, "ws1")
	require.NoError(t, err)
	assert.Equal(t, 1, latest.ActiveCount)
	require.Len(t, latest.Findings, 1)
	assert.Contains(t, latest.Findings[0].Flags, FlagStaleLatest)
}
