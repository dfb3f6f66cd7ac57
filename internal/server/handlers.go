package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/lodestar-io/lodestar/internal/decision"
	"github.com/lodestar-io/lodestar/internal/evidence"
	"github.com/lodestar-io/lodestar/internal/health"
	"github.com/lodestar-io/lodestar/internal/requestctx"
	"github.com/lodestar-io/lodestar/internal/scoring"
	"github.com/lodestar-io/lodestar/internal/workspace"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	}
	if r.URL.Query().Get("detail") == "true" {
		components := map[string]string{
			"evidence_store": "ok",
			"decision_store": "ok",
		}
		if s.alertStore == nil {
			components["health_monitor"] = "disabled"
		} else {
			components["health_monitor"] = "ok"
		}
		resp["components"] = components
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGates returns the band and threshold reference used by clients to
// render strength chips without hard-coding the cut points.
func (s *Server) handleGates(w http.ResponseWriter, r *http.Request) {
	bands := []map[string]interface{}{}
	for _, b := range []scoring.Band{scoring.BandWeak, scoring.BandModerate, scoring.BandStrong} {
		bands = append(bands, map[string]interface{}{
			"band":  string(b),
			"label": b.Label(),
			"color": b.Color(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"bands": bands,
		"gates": map[string]int{
			string(scoring.GateCommit):   scoring.CommitThreshold,
			string(scoring.GateValidate): scoring.ValidateThreshold,
		},
	})
}

// --- Evidence ---

type evidenceRequest struct {
	Title           string     `json:"title"`
	Content         string     `json:"content"`
	SourceCategory  string     `json:"source_category"`
	Segment         string     `json:"segment"`
	Sentiment       string     `json:"sentiment"`
	Tags            []string   `json:"tags"`
	SourceTimestamp *time.Time `json:"source_timestamp"`
}

func (s *Server) handleEvidenceCreate(w http.ResponseWriter, r *http.Request) {
	var req evidenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}
	item := &evidence.Item{
		WorkspaceID:     requestctx.WorkspaceID(r.Context()),
		Title:           req.Title,
		Content:         req.Content,
		SourceCategory:  scoring.SourceCategory(req.SourceCategory),
		Segment:         req.Segment,
		Sentiment:       req.Sentiment,
		Tags:            req.Tags,
		SourceTimestamp: req.SourceTimestamp,
	}
	if err := s.evidenceStore.Add(r.Context(), item); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	// Score immediately so the item never appears unscored in list views.
	if _, err := s.rescorer.ScoreItem(r.Context(), item.ID, time.Now().UTC(), true); err != nil {
		log.Error().Err(err).Str("evidence_id", item.ID).Msg("initial_score_failed")
	}

	stored, err := s.evidenceStore.Get(r.Context(), item.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleEvidenceSearch(w http.ResponseWriter, r *http.Request) {
	workspaceID := requestctx.WorkspaceID(r.Context())
	q := evidence.Query{
		Text:     r.URL.Query().Get("q"),
		Category: scoring.SourceCategory(r.URL.Query().Get("category")),
		Band:     scoring.Band(r.URL.Query().Get("band")),
		Tag:      r.URL.Query().Get("tag"),
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		q.Limit = n
	}
	items, err := s.evidenceStore.Search(r.Context(), workspaceID, q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"count": len(items),
	})
}

// ownedEvidence fetches an item and verifies it belongs to the request's workspace.
func (s *Server) ownedEvidence(w http.ResponseWriter, r *http.Request) *evidence.Item {
	id := chi.URLParam(r, "id")
	item, err := s.evidenceStore.Get(r.Context(), id)
	if errors.Is(err, evidence.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return nil
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return nil
	}
	if item.WorkspaceID != requestctx.WorkspaceID(r.Context()) {
		writeError(w, http.StatusNotFound, "not_found", "evidence "+id+" not found")
		return nil
	}
	return item
}

func (s *Server) handleEvidenceGet(w http.ResponseWriter, r *http.Request) {
	item := s.ownedEvidence(w, r)
	if item == nil {
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleEvidenceUpdate(w http.ResponseWriter, r *http.Request) {
	item := s.ownedEvidence(w, r)
	if item == nil {
		return
	}
	var req evidenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}
	item.Title = req.Title
	item.Content = req.Content
	item.SourceCategory = scoring.SourceCategory(req.SourceCategory)
	item.Segment = req.Segment
	item.Sentiment = req.Sentiment
	item.Tags = req.Tags
	item.SourceTimestamp = req.SourceTimestamp

	if err := s.evidenceStore.Update(r.Context(), item); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	// Edits can change weight, recency, and segment match; rescore and
	// refresh linked decisions synchronously.
	if _, err := s.rescorer.ScoreItem(r.Context(), item.ID, time.Now().UTC(), true); err != nil {
		log.Error().Err(err).Str("evidence_id", item.ID).Msg("rescore_after_edit_failed")
	}

	stored, err := s.evidenceStore.Get(r.Context(), item.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (s *Server) handleEvidenceDelete(w http.ResponseWriter, r *http.Request) {
	item := s.ownedEvidence(w, r)
	if item == nil {
		return
	}

	linked, err := s.decisionStore.DecisionsLinkedTo(r.Context(), item.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if err := s.evidenceStore.Delete(r.Context(), item.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	for _, decisionID := range linked {
		if _, err := s.decisionStore.Unlink(r.Context(), decisionID, item.ID); err != nil {
			log.Error().Err(err).
				Str("decision_id", decisionID).
				Str("evidence_id", item.ID).
				Msg("unlink_after_delete_failed")
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted":           item.ID,
		"decisions_updated": len(linked),
	})
}

func (s *Server) handleEvidenceScore(w http.ResponseWriter, r *http.Request) {
	item := s.ownedEvidence(w, r)
	if item == nil {
		return
	}
	persist := r.URL.Query().Get("persist") == "true"
	result, err := s.rescorer.ScoreItem(r.Context(), item.ID, time.Now().UTC(), persist)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"evidence_id": item.ID,
		"persisted":   persist,
		"result":      result,
	})
}

func (s *Server) handleRescoreAll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DryRun bool `json:"dry_run"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
			return
		}
	}
	workspaceID := requestctx.WorkspaceID(r.Context())
	result, err := s.rescorer.RescoreWorkspace(r.Context(), workspaceID, time.Now().UTC(), req.DryRun)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Decisions ---

type decisionRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (s *Server) handleDecisionCreate(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}
	d := &decision.Decision{
		WorkspaceID: requestctx.WorkspaceID(r.Context()),
		Title:       req.Title,
		Description: req.Description,
	}
	if err := s.decisionStore.Create(r.Context(), d); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleDecisionList(w http.ResponseWriter, r *http.Request) {
	workspaceID := requestctx.WorkspaceID(r.Context())
	status := scoring.Gate(r.URL.Query().Get("status"))
	if status != "" && !scoring.ValidGate(string(status)) {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid status filter")
		return
	}
	decisions, err := s.decisionStore.List(r.Context(), workspaceID, status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"decisions": decisions,
		"count":     len(decisions),
	})
}

// ownedDecision fetches a decision and verifies workspace ownership.
func (s *Server) ownedDecision(w http.ResponseWriter, r *http.Request) *decision.Decision {
	id := chi.URLParam(r, "id")
	d, err := s.decisionStore.Get(r.Context(), id)
	if errors.Is(err, decision.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return nil
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return nil
	}
	if d.WorkspaceID != requestctx.WorkspaceID(r.Context()) {
		writeError(w, http.StatusNotFound, "not_found", "decision "+id+" not found")
		return nil
	}
	return d
}

func (s *Server) handleDecisionGet(w http.ResponseWriter, r *http.Request) {
	d := s.ownedDecision(w, r)
	if d == nil {
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDecisionUpdate(w http.ResponseWriter, r *http.Request) {
	d := s.ownedDecision(w, r)
	if d == nil {
		return
	}
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}
	if err := s.decisionStore.Update(r.Context(), d.ID, req.Title, req.Description); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	updated, err := s.decisionStore.Get(r.Context(), d.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDecisionDelete(w http.ResponseWriter, r *http.Request) {
	d := s.ownedDecision(w, r)
	if d == nil {
		return
	}
	if err := s.decisionStore.Delete(r.Context(), d.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": d.ID})
}

func (s *Server) handleLinkCreate(w http.ResponseWriter, r *http.Request) {
	d := s.ownedDecision(w, r)
	if d == nil {
		return
	}
	var req struct {
		EvidenceID         string  `json:"evidence_id"`
		SegmentMatchFactor float64 `json:"segment_match_factor"`
		RelevanceNote      string  `json:"relevance_note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}
	if req.SegmentMatchFactor == 0 {
		req.SegmentMatchFactor = 1.0
	}
	updated, err := s.decisionStore.Link(r.Context(), decision.Link{
		DecisionID:         d.ID,
		EvidenceID:         req.EvidenceID,
		SegmentMatchFactor: req.SegmentMatchFactor,
		RelevanceNote:      req.RelevanceNote,
	})
	if errors.Is(err, decision.ErrDuplicateLink) {
		writeError(w, http.StatusConflict, "duplicate_link", err.Error())
		return
	}
	if errors.Is(err, evidence.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, updated)
}

func (s *Server) handleLinkDelete(w http.ResponseWriter, r *http.Request) {
	d := s.ownedDecision(w, r)
	if d == nil {
		return
	}
	evidenceID := chi.URLParam(r, "evidence_id")
	updated, err := s.decisionStore.Unlink(r.Context(), d.ID, evidenceID)
	if errors.Is(err, decision.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleStatusChange(w http.ResponseWriter, r *http.Request) {
	d := s.ownedDecision(w, r)
	if d == nil {
		return
	}
	var req struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}
	updated, err := s.decisionStore.SetStatus(r.Context(), d.ID, scoring.Gate(req.Status), req.Reason, time.Now().UTC())
	if errors.Is(err, decision.ErrOverrideReasonRequired) {
		writeError(w, http.StatusUnprocessableEntity, "override_reason_required", err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleOutcomeCreate(w http.ResponseWriter, r *http.Request) {
	d := s.ownedDecision(w, r)
	if d == nil {
		return
	}
	var req struct {
		Result string `json:"result"`
		Notes  string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}
	outcome, err := s.decisionStore.RecordOutcome(r.Context(), d.ID, req.Result, req.Notes, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, outcome)
}

func (s *Server) handleOutcomeList(w http.ResponseWriter, r *http.Request) {
	d := s.ownedDecision(w, r)
	if d == nil {
		return
	}
	outcomes, err := s.decisionStore.ListOutcomes(r.Context(), d.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"outcomes": outcomes,
		"count":    len(outcomes),
	})
}

// --- Workspace settings ---

func (s *Server) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	workspaceID := requestctx.WorkspaceID(r.Context())
	settings, err := s.workspaceStore.Get(r.Context(), workspaceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleSettingsPut(w http.ResponseWriter, r *http.Request) {
	workspaceID := requestctx.WorkspaceID(r.Context())
	var settings workspace.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}
	settings.WorkspaceID = workspaceID
	if err := s.workspaceStore.Put(r.Context(), &settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, &settings)
}

// handleSettingsImport accepts a YAML settings document, validates it
// against the JSON schema, and saves it for the workspace.
func (s *Server) handleSettingsImport(w http.ResponseWriter, r *http.Request) {
	workspaceID := requestctx.WorkspaceID(r.Context())
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "reading body: "+err.Error())
		return
	}
	settings, err := workspace.ParseSettingsYAML(workspaceID, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_settings", err.Error())
		return
	}
	if err := s.workspaceStore.Put(r.Context(), settings); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// --- Health reports ---

func (s *Server) handleHealthReportRun(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil || s.alertStore == nil {
		writeError(w, http.StatusNotImplemented, "disabled", "health monitor is not configured")
		return
	}
	workspaceID := requestctx.WorkspaceID(r.Context())
	report, err := s.monitor.Sweep(r.Context(), workspaceID, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if err := s.alertStore.Save(r.Context(), report); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleHealthReportLatest(w http.ResponseWriter, r *http.Request) {
	if s.alertStore == nil {
		writeError(w, http.StatusNotImplemented, "disabled", "health monitor is not configured")
		return
	}
	workspaceID := requestctx.WorkspaceID(r.Context())
	report, err := s.alertStore.Latest(r.Context(), workspaceID)
	if errors.Is(err, health.ErrNoReport) {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}
