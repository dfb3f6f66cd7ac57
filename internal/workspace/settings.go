// Package workspace holds per-workspace scoring settings and request
// validation. Settings choose a weight preset (or custom weights), recency
// bands, and target segments; they resolve into a validated engine config
// on read. Request validation covers a per-workspace capture rate limit
// and a daily capture quota checked against the evidence bank.
package workspace

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	lodestarotel "github.com/lodestar-io/lodestar/internal/otel"
	"github.com/lodestar-io/lodestar/internal/scoring"
)

var tracer = lodestarotel.Tracer("github.com/lodestar-io/lodestar/internal/workspace")

// ErrNotFound is returned when a workspace has no stored settings and the
// store was asked not to fall back to defaults.
var ErrNotFound = errors.New("workspace settings not found")

// Settings is the per-workspace scoring configuration. CustomWeights, when
// non-empty, take precedence over the preset. Empty RecencyBands means the
// stock curve.
type Settings struct {
	WorkspaceID    string                             `json:"workspace_id" yaml:"-"`
	Preset         scoring.Preset                     `json:"preset" yaml:"preset"`
	CustomWeights  map[scoring.SourceCategory]float64 `json:"custom_weights,omitempty" yaml:"weights,omitempty"`
	RecencyBands   []scoring.RecencyBand              `json:"recency_bands,omitempty" yaml:"recency_bands,omitempty"`
	TargetSegments []string                           `json:"target_segments,omitempty" yaml:"target_segments,omitempty"`
	UpdatedAt      time.Time                          `json:"updated_at" yaml:"-"`
}

// ScoringConfig resolves the settings into a validated engine config.
// Fails fast on invalid weights or bands rather than scoring with a
// half-applied configuration.
func (s *Settings) ScoringConfig() (scoring.Config, error) {
	var weights scoring.WeightConfig
	var err error
	if len(s.CustomWeights) > 0 {
		weights, err = scoring.NewWeightConfig(s.CustomWeights)
	} else {
		preset := s.Preset
		if preset == "" {
			preset = scoring.PresetDefault
		}
		weights, err = scoring.PresetWeightConfig(preset)
	}
	if err != nil {
		return scoring.Config{}, fmt.Errorf("resolving weights: %w", err)
	}

	recency := scoring.DefaultRecencyConfig()
	if len(s.RecencyBands) > 0 {
		recency, err = scoring.NewRecencyConfig(s.RecencyBands)
		if err != nil {
			return scoring.Config{}, fmt.Errorf("resolving recency bands: %w", err)
		}
	}

	return scoring.Config{
		Weights:        weights,
		Recency:        recency,
		TargetSegments: s.TargetSegments,
		Tunables:       scoring.DefaultTunables(),
	}, nil
}

// Store persists workspace settings in SQLite.
type Store struct {
	db            *sql.DB
	defaultPreset scoring.Preset
}

const schema = `
CREATE TABLE IF NOT EXISTS workspace_settings (
	workspace_id TEXT PRIMARY KEY,
	settings_json TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
`

// NewStore opens (and if needed initializes) the settings table at dbPath.
// defaultPreset is applied to workspaces with no stored settings.
func NewStore(dbPath string, defaultPreset scoring.Preset) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening workspace database: %w", err)
	}
	return newStore(db, defaultPreset)
}

// NewStoreWithDB wraps an existing connection, initializing the schema.
func NewStoreWithDB(db *sql.DB, defaultPreset scoring.Preset) (*Store, error) {
	return newStore(db, defaultPreset)
}

func newStore(db *sql.DB, defaultPreset scoring.Preset) (*Store, error) {
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating workspace schema: %w", err)
	}
	if defaultPreset == "" {
		defaultPreset = scoring.PresetDefault
	}
	return &Store{db: db, defaultPreset: defaultPreset}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns a workspace's settings, falling back to the store's default
// preset when none are saved yet.
func (s *Store) Get(ctx context.Context, workspaceID string) (*Settings, error) {
	ctx, span := tracer.Start(ctx, "workspace.get_settings",
		trace.WithAttributes(attribute.String("workspace_id", workspaceID)))
	defer span.End()

	var settingsJSON string
	var updatedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT settings_json, updated_at FROM workspace_settings WHERE workspace_id = ?`,
		workspaceID).Scan(&settingsJSON, &updatedAt)
	if err == sql.ErrNoRows {
		return &Settings{
			WorkspaceID: workspaceID,
			Preset:      s.defaultPreset,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying workspace settings: %w", err)
	}

	var settings Settings
	if err := json.Unmarshal([]byte(settingsJSON), &settings); err != nil {
		return nil, fmt.Errorf("unmarshaling workspace settings: %w", err)
	}
	settings.WorkspaceID = workspaceID
	settings.UpdatedAt = updatedAt
	return &settings, nil
}

// Put validates and upserts a workspace's settings. Settings that cannot
// resolve into a valid engine config are rejected whole.
func (s *Store) Put(ctx context.Context, settings *Settings) error {
	ctx, span := tracer.Start(ctx, "workspace.put_settings",
		trace.WithAttributes(attribute.String("workspace_id", settings.WorkspaceID)))
	defer span.End()

	if settings.WorkspaceID == "" {
		return fmt.Errorf("workspace_id is required")
	}
	if _, err := settings.ScoringConfig(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	settings.UpdatedAt = time.Now().UTC()
	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshaling workspace settings: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workspace_settings (workspace_id, settings_json, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(workspace_id) DO UPDATE SET settings_json = excluded.settings_json, updated_at = excluded.updated_at`,
		settings.WorkspaceID, string(settingsJSON), settings.UpdatedAt)
	if err != nil {
		return fmt.Errorf("storing workspace settings: %w", err)
	}
	return nil
}

// ScoringConfigFor is a convenience combining Get and ScoringConfig.
func (s *Store) ScoringConfigFor(ctx context.Context, workspaceID string) (scoring.Config, error) {
	settings, err := s.Get(ctx, workspaceID)
	if err != nil {
		return scoring.Config{}, err
	}
	return settings.ScoringConfig()
}
