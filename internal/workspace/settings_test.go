package workspace

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodestar-io/lodestar/internal/scoring"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "workspace.db"), scoring.PresetDefault)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestGetFallsBackToDefaultPreset(t *testing.T) {
	store := newTestStore(t)
	settings, err := store.Get(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, scoring.PresetDefault, settings.Preset)
	assert.Empty(t, settings.CustomWeights)

	cfg, err := settings.ScoringConfig()
	require.NoError(t, err)
	assert.InDelta(t, 0.9, cfg.Weights.WeightFor(scoring.SourceInterview), 1e-9)
}

func TestPutGetRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	settings := &Settings{
		WorkspaceID: "ws1",
		Preset:      scoring.PresetSupportLed,
		CustomWeights: map[scoring.SourceCategory]float64{
			scoring.SourceChat: 0.8,
		},
		RecencyBands: []scoring.RecencyBand{
			{MaxAgeDays: 7, Factor: 1.0},
			{MaxAgeDays: 60, Factor: 0.5},
		},
		TargetSegments: []string{"enterprise", "mid-market"},
	}
	require.NoError(t, store.Put(ctx, settings))

	got, err := store.Get(ctx, "ws1")
	require.NoError(t, err)
	assert.Equal(t, scoring.PresetSupportLed, got.Preset)
	assert.InDelta(t, 0.8, got.CustomWeights[scoring.SourceChat], 1e-9)
	assert.Len(t, got.RecencyBands, 2)
	assert.Equal(t, []string{"enterprise", "mid-market"}, got.TargetSegments)
	assert.False(t, got.UpdatedAt.IsZero())

	cfg, err := got.ScoringConfig()
	require.NoError(t, err)
	// Custom weights take precedence over the preset; unlisted categories
	// fall back to the default weight, not the preset table.
	assert.InDelta(t, 0.8, cfg.Weights.WeightFor(scoring.SourceChat), 1e-9)
	assert.InDelta(t, scoring.DefaultFallbackWeight, cfg.Weights.WeightFor(scoring.SourceInterview), 1e-9)
	assert.Equal(t, 2, cfg.Recency.Len())
}

func TestPutRejectsInvalidSettings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.Put(ctx, &Settings{
		WorkspaceID:   "ws1",
		CustomWeights: map[scoring.SourceCategory]float64{scoring.SourceChat: 1.7},
	})
	require.Error(t, err)

	err = store.Put(ctx, &Settings{
		WorkspaceID: "ws1",
		RecencyBands: []scoring.RecencyBand{
			{MaxAgeDays: 30, Factor: 0.5},
			{MaxAgeDays: 10, Factor: 1.0}, // bounds not ascending
		},
	})
	require.Error(t, err)

	err = store.Put(ctx, &Settings{WorkspaceID: "ws1", Preset: scoring.Preset("vibes")})
	require.Error(t, err)

	// Rejected puts leave nothing behind.
	got, err := store.Get(ctx, "ws1")
	require.NoError(t, err)
	assert.Equal(t, scoring.PresetDefault, got.Preset)
}

func TestParseSettingsYAML(t *testing.T) {
	doc := []byte(`
preset: research-heavy
weights:
  interview: 0.95
  chat: 0.4
recency_bands:
  - max_age_days: 14
    factor: 1.0
  - max_age_days: 90
    factor: 0.6
target_segments:
  - enterprise
`)
	settings, err := ParseSettingsYAML("ws1", doc)
	require.NoError(t, err)
	assert.Equal(t, "ws1", settings.WorkspaceID)
	assert.Equal(t, scoring.PresetResearchHeavy, settings.Preset)
	assert.InDelta(t, 0.95, settings.CustomWeights[scoring.SourceInterview], 1e-9)
	require.Len(t, settings.RecencyBands, 2)
	assert.Equal(t, 90, settings.RecencyBands[1].MaxAgeDays)
}

func TestParseSettingsYAMLSchemaErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown preset", "preset: vibes-based\n"},
		{"weight out of range", "weights:\n  chat: 1.5\n"},
		{"band missing factor", "recency_bands:\n  - max_age_days: 14\n"},
		{"unknown top-level key", "presets: default\n"},
		{"not yaml", ": ::\n -"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSettingsYAML("ws1", []byte(tt.doc))
			require.Error(t, err)
		})
	}
}

func TestValidateSettingsYAMLAcceptsEmpty(t *testing.T) {
	// An empty document means "all defaults"; the schema has no required keys.
	assert.NoError(t, ValidateSettingsYAML([]byte("{}")))
}
