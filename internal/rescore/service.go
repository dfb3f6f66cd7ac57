// Package rescore orchestrates batch recomputation: re-run the item scorer
// over a workspace's evidence bank, persist the results, and refresh the
// cached aggregates on every decision. Used by the rescore CLI command and
// the rescore-all API endpoint.
package rescore

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lodestar-io/lodestar/internal/decision"
	"github.com/lodestar-io/lodestar/internal/evidence"
	lodestarotel "github.com/lodestar-io/lodestar/internal/otel"
	"github.com/lodestar-io/lodestar/internal/scoring"
	"github.com/lodestar-io/lodestar/internal/workspace"
)

var tracer = lodestarotel.Tracer("github.com/lodestar-io/lodestar/internal/rescore")

// ItemDelta is one evidence item's strength change from a rescore.
type ItemDelta struct {
	EvidenceID  string       `json:"evidence_id"`
	Title       string       `json:"title"`
	OldStrength int          `json:"old_strength"`
	NewStrength int          `json:"new_strength"`
	Band        scoring.Band `json:"band"`
}

// WorkspaceResult summarizes one workspace's rescore.
type WorkspaceResult struct {
	WorkspaceID    string      `json:"workspace_id"`
	ItemCount      int         `json:"item_count"`
	ChangedCount   int         `json:"changed_count"`
	DecisionsCount int         `json:"decisions_count"`
	DryRun         bool        `json:"dry_run"`
	Deltas         []ItemDelta `json:"deltas,omitempty"`
}

// Service ties the pure engine to the stores for batch operations.
type Service struct {
	evidence   *evidence.Store
	decisions  *decision.Store
	workspaces *workspace.Store
}

// NewService creates a rescore service over the given stores.
func NewService(ev *evidence.Store, dec *decision.Store, ws *workspace.Store) *Service {
	return &Service{evidence: ev, decisions: dec, workspaces: ws}
}

// RescoreWorkspace recomputes every evidence item in the workspace as of
// now. Item scoring is pure over a snapshot of the sibling set, so the
// deltas are the same whether or not they are persisted; dryRun skips the
// persistence and the aggregate refresh.
func (s *Service) RescoreWorkspace(ctx context.Context, workspaceID string, now time.Time, dryRun bool) (*WorkspaceResult, error) {
	ctx, span := tracer.Start(ctx, "rescore.workspace",
		trace.WithAttributes(
			attribute.String("workspace_id", workspaceID),
			attribute.Bool("dry_run", dryRun),
		))
	defer span.End()

	cfg, err := s.workspaces.ScoringConfigFor(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace config: %w", err)
	}

	items, err := s.evidence.ListByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	scoringItems := make([]scoring.Item, len(items))
	byID := make(map[string]*evidence.Item, len(items))
	for i := range items {
		scoringItems[i] = items[i].ScoringItem()
		byID[items[i].ID] = &items[i]
	}

	scores := scoring.RescoreAll(now, scoringItems, cfg)

	result := &WorkspaceResult{
		WorkspaceID: workspaceID,
		ItemCount:   len(items),
		DryRun:      dryRun,
	}
	for _, sc := range scores {
		item := byID[sc.ID]
		result.Deltas = append(result.Deltas, ItemDelta{
			EvidenceID:  sc.ID,
			Title:       item.Title,
			OldStrength: item.ComputedStrength,
			NewStrength: sc.Result.ComputedStrength,
			Band:        sc.Result.Band,
		})
		if sc.Result.ComputedStrength != item.ComputedStrength {
			result.ChangedCount++
		}
		if !dryRun {
			if err := s.evidence.UpdateScore(ctx, sc.ID, sc.Result, now); err != nil {
				return nil, err
			}
		}
	}

	if !dryRun {
		// The aggregate step waits for all item scores above to land.
		decisions, err := s.decisions.List(ctx, workspaceID, "")
		if err != nil {
			return nil, err
		}
		for _, d := range decisions {
			if _, err := s.decisions.Recompute(ctx, d.ID); err != nil {
				return nil, err
			}
		}
		result.DecisionsCount = len(decisions)
	}

	span.SetAttributes(
		attribute.Int("rescore.items", result.ItemCount),
		attribute.Int("rescore.changed", result.ChangedCount),
	)
	return result, nil
}

// RescoreAll runs RescoreWorkspace over every workspace holding evidence.
func (s *Service) RescoreAll(ctx context.Context, now time.Time, dryRun bool) ([]WorkspaceResult, error) {
	ctx, span := tracer.Start(ctx, "rescore.all",
		trace.WithAttributes(attribute.Bool("dry_run", dryRun)))
	defer span.End()

	ids, err := s.evidence.Workspaces(ctx)
	if err != nil {
		return nil, err
	}

	var results []WorkspaceResult
	for _, workspaceID := range ids {
		res, err := s.RescoreWorkspace(ctx, workspaceID, now, dryRun)
		if err != nil {
			log.Error().Err(err).Str("workspace_id", workspaceID).Msg("rescore_failed")
			return nil, err
		}
		results = append(results, *res)
	}
	return results, nil
}

// ScoreItem scores a single evidence item against its workspace siblings
// and persists the result, refreshing aggregates on linked decisions.
// Returns the full breakdown (weight, recency, gates, corroboration).
func (s *Service) ScoreItem(ctx context.Context, evidenceID string, now time.Time, persist bool) (*scoring.ItemScoreResult, error) {
	ctx, span := tracer.Start(ctx, "rescore.item",
		trace.WithAttributes(attribute.String("evidence.id", evidenceID)))
	defer span.End()

	item, err := s.evidence.Get(ctx, evidenceID)
	if err != nil {
		return nil, err
	}

	cfg, err := s.workspaces.ScoringConfigFor(ctx, item.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace config: %w", err)
	}

	all, err := s.evidence.ListByWorkspace(ctx, item.WorkspaceID)
	if err != nil {
		return nil, err
	}
	siblings := make([]scoring.Item, 0, len(all)-1)
	for i := range all {
		if all[i].ID == evidenceID {
			continue
		}
		siblings = append(siblings, all[i].ScoringItem())
	}

	result := scoring.ComputeItemStrength(now, item.ScoringItem(), siblings, cfg)
	if !persist {
		return &result, nil
	}

	if err := s.evidence.UpdateScore(ctx, evidenceID, result, now); err != nil {
		return nil, err
	}
	linked, err := s.decisions.DecisionsLinkedTo(ctx, evidenceID)
	if err != nil {
		return nil, err
	}
	for _, decisionID := range linked {
		if _, err := s.decisions.Recompute(ctx, decisionID); err != nil {
			return nil, err
		}
	}
	return &result, nil
}
