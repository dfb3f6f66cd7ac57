// Package decision persists decisions, their evidence links, and recorded
// outcomes. The stored evidence_strength is a cached derived value: link
// and unlink recompute it synchronously through the engine, serialized per
// decision so concurrent link changes cannot lose updates.
package decision

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lodestar-io/lodestar/internal/evidence"
	lodestarotel "github.com/lodestar-io/lodestar/internal/otel"
	"github.com/lodestar-io/lodestar/internal/scoring"
)

var tracer = lodestarotel.Tracer("github.com/lodestar-io/lodestar/internal/decision")

var (
	// ErrNotFound is returned when a decision does not exist.
	ErrNotFound = errors.New("decision not found")
	// ErrDuplicateLink is returned when a (decision, evidence) pair is already linked.
	ErrDuplicateLink = errors.New("evidence already linked to decision")
	// ErrOverrideReasonRequired is returned when a status change diverges
	// from the gate recommendation without a stated reason.
	ErrOverrideReasonRequired = errors.New("override reason required when status differs from gate recommendation")
)

// Decision is a trackable product choice accumulating linked evidence.
type Decision struct {
	ID                 string       `json:"id"`
	WorkspaceID        string       `json:"workspace_id"`
	Title              string       `json:"title"`
	Description        string       `json:"description,omitempty"`
	Status             scoring.Gate `json:"status"`
	GateRecommendation scoring.Gate `json:"gate_recommendation"`
	EvidenceStrength   int          `json:"evidence_strength"`
	EvidenceCount      int          `json:"evidence_count"`
	IsOverridden       bool         `json:"is_overridden"`
	OverrideReason     string       `json:"override_reason,omitempty"`
	OverriddenAt       *time.Time   `json:"overridden_at,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`

	Links []Link `json:"links,omitempty"`
}

// Link joins a decision to an evidence item with a relevance multiplier.
type Link struct {
	DecisionID         string    `json:"decision_id"`
	EvidenceID         string    `json:"evidence_id"`
	SegmentMatchFactor float64   `json:"segment_match_factor"`
	RelevanceNote      string    `json:"relevance_note,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// Outcome records how a decision played out after it shipped.
type Outcome struct {
	ID                  string    `json:"id"`
	DecisionID          string    `json:"decision_id"`
	Result              string    `json:"result"`
	Notes               string    `json:"notes,omitempty"`
	StrengthAtRecording int       `json:"strength_at_recording"`
	RecordedAt          time.Time `json:"recorded_at"`
}

// Valid outcome results.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailure = "failure"
	OutcomePending = "pending"
)

func validOutcomeResult(r string) bool {
	switch r {
	case OutcomeSuccess, OutcomePartial, OutcomeFailure, OutcomePending:
		return true
	}
	return false
}

// Store persists decisions, links, and outcomes in SQLite.
type Store struct {
	db       *sql.DB
	evidence *evidence.Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	gate_recommendation TEXT NOT NULL,
	evidence_strength INTEGER NOT NULL DEFAULT 0,
	evidence_count INTEGER NOT NULL DEFAULT 0,
	is_overridden INTEGER NOT NULL DEFAULT 0,
	override_reason TEXT NOT NULL DEFAULT '',
	overridden_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS evidence_links (
	decision_id TEXT NOT NULL,
	evidence_id TEXT NOT NULL,
	segment_match_factor REAL NOT NULL,
	relevance_note TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	UNIQUE(decision_id, evidence_id)
);

CREATE TABLE IF NOT EXISTS decision_outcomes (
	id TEXT PRIMARY KEY,
	decision_id TEXT NOT NULL,
	result TEXT NOT NULL,
	notes TEXT NOT NULL DEFAULT '',
	strength_at_recording INTEGER NOT NULL,
	recorded_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_workspace ON decisions(workspace_id);
CREATE INDEX IF NOT EXISTS idx_links_decision ON evidence_links(decision_id);
CREATE INDEX IF NOT EXISTS idx_links_evidence ON evidence_links(evidence_id);
CREATE INDEX IF NOT EXISTS idx_outcomes_decision ON decision_outcomes(decision_id);
`

// NewStore opens (and if needed initializes) the decision tables at dbPath.
// The evidence store is consulted during aggregate recomputation.
func NewStore(dbPath string, ev *evidence.Store) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening decision database: %w", err)
	}
	return newStore(db, ev)
}

// NewStoreWithDB wraps an existing connection, initializing the schema.
func NewStoreWithDB(db *sql.DB, ev *evidence.Store) (*Store, error) {
	return newStore(db, ev)
}

func newStore(db *sql.DB, ev *evidence.Store) (*Store, error) {
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating decision schema: %w", err)
	}
	return &Store{
		db:       db,
		evidence: ev,
		locks:    make(map[string]*sync.Mutex),
	}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// lockFor returns the per-decision mutex, creating it on first use.
// Aggregate recomputation is read-modify-write over the full link set,
// so writers for the same decision must not interleave.
func (s *Store) lockFor(decisionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[decisionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[decisionID] = l
	}
	return l
}

// Create inserts a new decision. Status and recommendation both start at
// park since no evidence is linked yet.
func (s *Store) Create(ctx context.Context, d *Decision) error {
	ctx, span := tracer.Start(ctx, "decision.create",
		trace.WithAttributes(attribute.String("workspace_id", d.WorkspaceID)))
	defer span.End()

	if d.WorkspaceID == "" {
		return fmt.Errorf("workspace_id is required")
	}
	if d.Title == "" {
		return fmt.Errorf("title is required")
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = d.CreatedAt
	d.GateRecommendation = scoring.GatePark
	if d.Status == "" {
		d.Status = scoring.GatePark
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions
		 (id, workspace_id, title, description, status, gate_recommendation,
		  evidence_strength, evidence_count, is_overridden, override_reason, overridden_at,
		  created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, 0, 0, '', NULL, ?, ?)`,
		d.ID, d.WorkspaceID, d.Title, d.Description, string(d.Status),
		string(d.GateRecommendation), d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("storing decision: %w", err)
	}
	span.SetAttributes(attribute.String("decision.id", d.ID))
	return nil
}

// Get retrieves a decision by ID with its links populated.
func (s *Store) Get(ctx context.Context, id string) (*Decision, error) {
	ctx, span := tracer.Start(ctx, "decision.get",
		trace.WithAttributes(attribute.String("decision.id", id)))
	defer span.End()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, workspace_id, title, description, status, gate_recommendation,
		        evidence_strength, evidence_count, is_overridden, override_reason, overridden_at,
		        created_at, updated_at
		 FROM decisions WHERE id = ?`, id)

	d, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("decision %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying decision: %w", err)
	}

	links, err := s.linksFor(ctx, id)
	if err != nil {
		return nil, err
	}
	d.Links = links
	return d, nil
}

// Update rewrites title and description.
func (s *Store) Update(ctx context.Context, id, title, description string) error {
	ctx, span := tracer.Start(ctx, "decision.update",
		trace.WithAttributes(attribute.String("decision.id", id)))
	defer span.End()

	if title == "" {
		return fmt.Errorf("title is required")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE decisions SET title = ?, description = ?, updated_at = ? WHERE id = ?`,
		title, description, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating decision: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("decision %s: %w", id, ErrNotFound)
	}
	return nil
}

// List returns a workspace's decisions, newest first. Status filters when non-empty.
func (s *Store) List(ctx context.Context, workspaceID string, status scoring.Gate) ([]Decision, error) {
	ctx, span := tracer.Start(ctx, "decision.list",
		trace.WithAttributes(attribute.String("workspace_id", workspaceID)))
	defer span.End()

	query := `SELECT id, workspace_id, title, description, status, gate_recommendation,
	                 evidence_strength, evidence_count, is_overridden, override_reason, overridden_at,
	                 created_at, updated_at
	          FROM decisions WHERE workspace_id = ?`
	args := []interface{}{workspaceID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying decisions: %w", err)
	}
	defer rows.Close()

	var results []Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning decision row: %w", err)
		}
		results = append(results, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating decision rows: %w", err)
	}
	span.SetAttributes(attribute.Int("decision.count", len(results)))
	return results, nil
}

// Delete removes a decision along with its links and outcomes.
func (s *Store) Delete(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "decision.delete",
		trace.WithAttributes(attribute.String("decision.id", id)))
	defer span.End()

	res, err := s.db.ExecContext(ctx, `DELETE FROM decisions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting decision: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("decision %s: %w", id, ErrNotFound)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM evidence_links WHERE decision_id = ?`, id); err != nil {
		return fmt.Errorf("deleting links: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM decision_outcomes WHERE decision_id = ?`, id); err != nil {
		return fmt.Errorf("deleting outcomes: %w", err)
	}
	return nil
}

// Link attaches an evidence item to a decision and synchronously recomputes
// the cached aggregate. A segment_match_factor outside (0,1] is normalized
// to 1.0 by the engine at aggregation time but rejected here at the edge.
func (s *Store) Link(ctx context.Context, l Link) (*Decision, error) {
	ctx, span := tracer.Start(ctx, "decision.link",
		trace.WithAttributes(
			attribute.String("decision.id", l.DecisionID),
			attribute.String("evidence.id", l.EvidenceID),
		))
	defer span.End()

	if l.SegmentMatchFactor <= 0 || l.SegmentMatchFactor > 1 {
		return nil, fmt.Errorf("segment_match_factor must be in (0,1], got %g", l.SegmentMatchFactor)
	}
	if _, err := s.evidence.Get(ctx, l.EvidenceID); err != nil {
		return nil, err
	}

	lock := s.lockFor(l.DecisionID)
	lock.Lock()
	defer lock.Unlock()

	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO evidence_links (decision_id, evidence_id, segment_match_factor, relevance_note, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		l.DecisionID, l.EvidenceID, l.SegmentMatchFactor, l.RelevanceNote, l.CreatedAt)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, fmt.Errorf("decision %s evidence %s: %w", l.DecisionID, l.EvidenceID, ErrDuplicateLink)
		}
		return nil, fmt.Errorf("storing link: %w", err)
	}

	return s.recomputeLocked(ctx, l.DecisionID)
}

// Unlink detaches an evidence item and synchronously recomputes the aggregate.
func (s *Store) Unlink(ctx context.Context, decisionID, evidenceID string) (*Decision, error) {
	ctx, span := tracer.Start(ctx, "decision.unlink",
		trace.WithAttributes(
			attribute.String("decision.id", decisionID),
			attribute.String("evidence.id", evidenceID),
		))
	defer span.End()

	lock := s.lockFor(decisionID)
	lock.Lock()
	defer lock.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM evidence_links WHERE decision_id = ? AND evidence_id = ?`,
		decisionID, evidenceID)
	if err != nil {
		return nil, fmt.Errorf("deleting link: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, fmt.Errorf("link %s -> %s: %w", decisionID, evidenceID, ErrNotFound)
	}

	return s.recomputeLocked(ctx, decisionID)
}

// Recompute refreshes the cached aggregate for one decision. Called after
// batch rescores and evidence deletion.
func (s *Store) Recompute(ctx context.Context, decisionID string) (*Decision, error) {
	ctx, span := tracer.Start(ctx, "decision.recompute",
		trace.WithAttributes(attribute.String("decision.id", decisionID)))
	defer span.End()

	lock := s.lockFor(decisionID)
	lock.Lock()
	defer lock.Unlock()
	return s.recomputeLocked(ctx, decisionID)
}

// recomputeLocked runs the aggregate over the current link set and writes
// the result back. Caller must hold the per-decision lock.
func (s *Store) recomputeLocked(ctx context.Context, decisionID string) (*Decision, error) {
	links, err := s.linksFor(ctx, decisionID)
	if err != nil {
		return nil, err
	}

	scoringLinks := make([]scoring.EvidenceLink, 0, len(links))
	strengthByID := make(map[string]int, len(links))
	for _, l := range links {
		scoringLinks = append(scoringLinks, scoring.EvidenceLink{
			DecisionID:         l.DecisionID,
			EvidenceID:         l.EvidenceID,
			SegmentMatchFactor: l.SegmentMatchFactor,
			RelevanceNote:      l.RelevanceNote,
		})
		item, err := s.evidence.Get(ctx, l.EvidenceID)
		if errors.Is(err, evidence.ErrNotFound) {
			// Evidence deleted out from under the link; the aggregate
			// skips it rather than failing the whole decision.
			continue
		}
		if err != nil {
			return nil, err
		}
		strengthByID[item.ID] = item.ComputedStrength
	}

	agg := scoring.ComputeAggregateStrength(scoringLinks, strengthByID)
	gate := scoring.ClassifyGate(agg.EvidenceStrength)

	res, err := s.db.ExecContext(ctx,
		`UPDATE decisions
		 SET evidence_strength = ?, evidence_count = ?, gate_recommendation = ?, updated_at = ?
		 WHERE id = ?`,
		agg.EvidenceStrength, agg.EvidenceCount, string(gate), time.Now().UTC(), decisionID)
	if err != nil {
		return nil, fmt.Errorf("updating aggregate: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, fmt.Errorf("decision %s: %w", decisionID, ErrNotFound)
	}

	return s.Get(ctx, decisionID)
}

// SetStatus changes a decision's status. When the new status differs from
// the gate recommendation a non-empty reason is required and the decision
// is stamped overridden; setting it back equal clears the override. Both
// transitions are reversible.
func (s *Store) SetStatus(ctx context.Context, id string, status scoring.Gate, reason string, now time.Time) (*Decision, error) {
	ctx, span := tracer.Start(ctx, "decision.set_status",
		trace.WithAttributes(
			attribute.String("decision.id", id),
			attribute.String("status", string(status)),
		))
	defer span.End()

	if !scoring.ValidGate(string(status)) {
		return nil, fmt.Errorf("invalid status %q", status)
	}

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if status != d.GateRecommendation {
		if reason == "" {
			return nil, ErrOverrideReasonRequired
		}
		ts := now.UTC()
		_, err = s.db.ExecContext(ctx,
			`UPDATE decisions
			 SET status = ?, is_overridden = 1, override_reason = ?, overridden_at = ?, updated_at = ?
			 WHERE id = ?`,
			string(status), reason, ts, ts, id)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE decisions
			 SET status = ?, is_overridden = 0, override_reason = '', overridden_at = NULL, updated_at = ?
			 WHERE id = ?`,
			string(status), now.UTC(), id)
	}
	if err != nil {
		return nil, fmt.Errorf("updating status: %w", err)
	}
	return s.Get(ctx, id)
}

// RecordOutcome appends an outcome entry, capturing the decision's current
// evidence strength for later calibration of the gate thresholds.
func (s *Store) RecordOutcome(ctx context.Context, decisionID, result, notes string, now time.Time) (*Outcome, error) {
	ctx, span := tracer.Start(ctx, "decision.record_outcome",
		trace.WithAttributes(
			attribute.String("decision.id", decisionID),
			attribute.String("result", result),
		))
	defer span.End()

	if !validOutcomeResult(result) {
		return nil, fmt.Errorf("invalid outcome result %q", result)
	}

	d, err := s.Get(ctx, decisionID)
	if err != nil {
		return nil, err
	}

	o := &Outcome{
		ID:                  uuid.NewString(),
		DecisionID:          decisionID,
		Result:              result,
		Notes:               notes,
		StrengthAtRecording: d.EvidenceStrength,
		RecordedAt:          now.UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO decision_outcomes (id, decision_id, result, notes, strength_at_recording, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		o.ID, o.DecisionID, o.Result, o.Notes, o.StrengthAtRecording, o.RecordedAt)
	if err != nil {
		return nil, fmt.Errorf("storing outcome: %w", err)
	}
	return o, nil
}

// ListOutcomes returns a decision's outcomes, newest first.
func (s *Store) ListOutcomes(ctx context.Context, decisionID string) ([]Outcome, error) {
	ctx, span := tracer.Start(ctx, "decision.list_outcomes",
		trace.WithAttributes(attribute.String("decision.id", decisionID)))
	defer span.End()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, decision_id, result, notes, strength_at_recording, recorded_at
		 FROM decision_outcomes WHERE decision_id = ? ORDER BY recorded_at DESC`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("querying outcomes: %w", err)
	}
	defer rows.Close()

	var results []Outcome
	for rows.Next() {
		var o Outcome
		if err := rows.Scan(&o.ID, &o.DecisionID, &o.Result, &o.Notes, &o.StrengthAtRecording, &o.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning outcome row: %w", err)
		}
		results = append(results, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating outcome rows: %w", err)
	}
	return results, nil
}

// DecisionsLinkedTo returns IDs of decisions holding a link to the evidence
// item. Used to refresh aggregates after evidence edits or deletion.
func (s *Store) DecisionsLinkedTo(ctx context.Context, evidenceID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT decision_id FROM evidence_links WHERE evidence_id = ?`, evidenceID)
	if err != nil {
		return nil, fmt.Errorf("querying linked decisions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning decision id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Workspaces returns the distinct workspace IDs holding decisions.
func (s *Store) Workspaces(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT workspace_id FROM decisions`)
	if err != nil {
		return nil, fmt.Errorf("querying workspaces: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning workspace id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) linksFor(ctx context.Context, decisionID string) ([]Link, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT decision_id, evidence_id, segment_match_factor, relevance_note, created_at
		 FROM evidence_links WHERE decision_id = ? ORDER BY created_at ASC`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("querying links: %w", err)
	}
	defer rows.Close()

	var links []Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.DecisionID, &l.EvidenceID, &l.SegmentMatchFactor, &l.RelevanceNote, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning link row: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDecision(r rowScanner) (*Decision, error) {
	var d Decision
	var status, gate string
	var overridden int
	var overriddenAt sql.NullTime
	err := r.Scan(&d.ID, &d.WorkspaceID, &d.Title, &d.Description, &status, &gate,
		&d.EvidenceStrength, &d.EvidenceCount, &overridden, &d.OverrideReason, &overriddenAt,
		&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.Status = scoring.Gate(status)
	d.GateRecommendation = scoring.Gate(gate)
	d.IsOverridden = overridden != 0
	if overriddenAt.Valid {
		t := overriddenAt.Time
		d.OverriddenAt = &t
	}
	return &d, nil
}
