// Package evidence persists the evidence bank: captured signals from
// interviews, support tickets, analytics, sales calls and other sources,
// together with the engine fields (source_weight, recency_factor,
// computed_strength, band) written back by rescoring. Content is sanitized on capture so pasted HTML from chat
// tools and wikis never reaches the API as markup.
package evidence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/microcosm-cc/bluemonday"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	lodestarotel "github.com/lodestar-io/lodestar/internal/otel"
	"github.com/lodestar-io/lodestar/internal/scoring"
)

var tracer = lodestarotel.Tracer("github.com/lodestar-io/lodestar/internal/evidence")

// ErrNotFound is returned when an evidence item does not exist.
var ErrNotFound = errors.New("evidence not found")

var sanitizer = bluemonday.StrictPolicy()

// Item is a single captured piece of evidence.
type Item struct {
	ID               string                 `json:"id"`
	WorkspaceID      string                 `json:"workspace_id"`
	Title            string                 `json:"title"`
	Content          string                 `json:"content"`
	SourceCategory   scoring.SourceCategory `json:"source_category"`
	Segment          string                 `json:"segment,omitempty"`
	Sentiment        string                 `json:"sentiment,omitempty"`
	Tags             []string               `json:"tags,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	SourceTimestamp  *time.Time             `json:"source_timestamp,omitempty"`
	SourceWeight     float64                `json:"source_weight"`
	RecencyFactor    float64                `json:"recency_factor"`
	ComputedStrength int                    `json:"computed_strength"`
	Band             scoring.Band           `json:"band"`
	ScoredAt         *time.Time             `json:"scored_at,omitempty"`
}

// ScoringItem projects the stored row into the engine's input shape.
func (it *Item) ScoringItem() scoring.Item {
	return scoring.Item{
		ID:              it.ID,
		SourceCategory:  it.SourceCategory,
		CreatedAt:       it.CreatedAt,
		SourceTimestamp: it.SourceTimestamp,
		Segment:         it.Segment,
		Sentiment:       it.Sentiment,
	}
}

// Query filters a Search call. Zero-value fields are ignored.
type Query struct {
	Text     string // matches title and content, case-insensitive substring
	Category scoring.SourceCategory
	Band     scoring.Band
	Tag      string
	Limit    int
}

// Store persists evidence items in SQLite.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS evidence_items (
	id TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	title TEXT NOT NULL,
	content TEXT NOT NULL,
	source_category TEXT NOT NULL,
	segment TEXT NOT NULL DEFAULT '',
	sentiment TEXT NOT NULL DEFAULT '',
	tags_json TEXT NOT NULL DEFAULT '[]',
	created_at TIMESTAMP NOT NULL,
	source_timestamp TIMESTAMP,
	source_weight REAL NOT NULL DEFAULT 0,
	recency_factor REAL NOT NULL DEFAULT 0,
	computed_strength INTEGER NOT NULL DEFAULT 0,
	band TEXT NOT NULL DEFAULT '',
	scored_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_evidence_workspace ON evidence_items(workspace_id);
CREATE INDEX IF NOT EXISTS idx_evidence_category ON evidence_items(source_category);
CREATE INDEX IF NOT EXISTS idx_evidence_created ON evidence_items(created_at);
`

// NewStore opens (and if needed initializes) the evidence bank at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening evidence database: %w", err)
	}

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating evidence schema: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an existing connection, initializing the schema.
// Used when evidence and decisions share one database file.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating evidence schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// sanitizeText strips all HTML and normalizes whitespace at the edges.
// StrictPolicy escapes entities, so unescape afterwards to keep plain
// text like "R&D" intact.
func sanitizeText(in string) string {
	return strings.TrimSpace(html.UnescapeString(sanitizer.Sanitize(in)))
}

// Add captures a new evidence item. Assigns an ID and CreatedAt when unset
// and sanitizes title and content.
func (s *Store) Add(ctx context.Context, it *Item) error {
	ctx, span := tracer.Start(ctx, "evidence.add",
		trace.WithAttributes(
			attribute.String("workspace_id", it.WorkspaceID),
			attribute.String("source_category", string(it.SourceCategory)),
		))
	defer span.End()

	if it.WorkspaceID == "" {
		return fmt.Errorf("workspace_id is required")
	}
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now().UTC()
	}
	it.Title = sanitizeText(it.Title)
	it.Content = sanitizeText(it.Content)
	if it.Title == "" {
		return fmt.Errorf("title is required")
	}

	tagsJSON, err := json.Marshal(it.Tags)
	if err != nil {
		return fmt.Errorf("marshaling tags: %w", err)
	}

	query := `INSERT INTO evidence_items
	          (id, workspace_id, title, content, source_category, segment, sentiment, tags_json,
	           created_at, source_timestamp, source_weight, recency_factor, computed_strength, band, scored_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		it.ID, it.WorkspaceID, it.Title, it.Content, string(it.SourceCategory),
		it.Segment, it.Sentiment, string(tagsJSON),
		it.CreatedAt, it.SourceTimestamp, it.SourceWeight, it.RecencyFactor,
		it.ComputedStrength, string(it.Band), it.ScoredAt,
	)
	if err != nil {
		return fmt.Errorf("storing evidence: %w", err)
	}

	span.SetAttributes(attribute.String("evidence.id", it.ID))
	return nil
}

// Get retrieves an evidence item by ID.
func (s *Store) Get(ctx context.Context, id string) (*Item, error) {
	ctx, span := tracer.Start(ctx, "evidence.get",
		trace.WithAttributes(attribute.String("evidence.id", id)))
	defer span.End()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, workspace_id, title, content, source_category, segment, sentiment, tags_json,
		        created_at, source_timestamp, source_weight, recency_factor, computed_strength, band, scored_at
		 FROM evidence_items WHERE id = ?`, id)

	it, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("evidence %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying evidence: %w", err)
	}
	return it, nil
}

// Update rewrites the caller-editable fields of an evidence item. Engine
// fields (source_weight, recency_factor, computed_strength, band,
// scored_at) are untouched; use UpdateScore for those.
func (s *Store) Update(ctx context.Context, it *Item) error {
	ctx, span := tracer.Start(ctx, "evidence.update",
		trace.WithAttributes(attribute.String("evidence.id", it.ID)))
	defer span.End()

	it.Title = sanitizeText(it.Title)
	it.Content = sanitizeText(it.Content)
	if it.Title == "" {
		return fmt.Errorf("title is required")
	}

	tagsJSON, err := json.Marshal(it.Tags)
	if err != nil {
		return fmt.Errorf("marshaling tags: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE evidence_items
		 SET title = ?, content = ?, source_category = ?, segment = ?, sentiment = ?,
		     tags_json = ?, source_timestamp = ?
		 WHERE id = ?`,
		it.Title, it.Content, string(it.SourceCategory), it.Segment, it.Sentiment,
		string(tagsJSON), it.SourceTimestamp, it.ID)
	if err != nil {
		return fmt.Errorf("updating evidence: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("evidence %s: %w", it.ID, ErrNotFound)
	}
	return nil
}

// UpdateScore writes the engine result (strength, band, and the weight and
// recency factors that produced it) back onto an evidence row.
func (s *Store) UpdateScore(ctx context.Context, id string, result scoring.ItemScoreResult, scoredAt time.Time) error {
	ctx, span := tracer.Start(ctx, "evidence.update_score",
		trace.WithAttributes(
			attribute.String("evidence.id", id),
			attribute.Int("computed_strength", result.ComputedStrength),
		))
	defer span.End()

	res, err := s.db.ExecContext(ctx,
		`UPDATE evidence_items
		 SET source_weight = ?, recency_factor = ?, computed_strength = ?, band = ?, scored_at = ?
		 WHERE id = ?`,
		result.SourceWeight, result.RecencyFactor, result.ComputedStrength, string(result.Band), scoredAt, id)
	if err != nil {
		return fmt.Errorf("updating evidence score: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("evidence %s: %w", id, ErrNotFound)
	}
	return nil
}

// Delete removes an evidence item. Link rows referencing it are cleaned
// up by the decision store.
func (s *Store) Delete(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "evidence.delete",
		trace.WithAttributes(attribute.String("evidence.id", id)))
	defer span.End()

	res, err := s.db.ExecContext(ctx, `DELETE FROM evidence_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting evidence: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("evidence %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListByWorkspace returns all evidence for a workspace, newest first.
func (s *Store) ListByWorkspace(ctx context.Context, workspaceID string) ([]Item, error) {
	ctx, span := tracer.Start(ctx, "evidence.list",
		trace.WithAttributes(attribute.String("workspace_id", workspaceID)))
	defer span.End()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workspace_id, title, content, source_category, segment, sentiment, tags_json,
		        created_at, source_timestamp, source_weight, recency_factor, computed_strength, band, scored_at
		 FROM evidence_items WHERE workspace_id = ? ORDER BY created_at DESC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("querying evidence: %w", err)
	}
	defer rows.Close()

	results, err := collectItems(rows)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("evidence.count", len(results)))
	return results, nil
}

// Search returns evidence matching the query, strongest first.
func (s *Store) Search(ctx context.Context, workspaceID string, q Query) ([]Item, error) {
	ctx, span := tracer.Start(ctx, "evidence.search",
		trace.WithAttributes(attribute.String("workspace_id", workspaceID)))
	defer span.End()

	query := `SELECT id, workspace_id, title, content, source_category, segment, sentiment, tags_json,
	                 created_at, source_timestamp, source_weight, recency_factor, computed_strength, band, scored_at
	          FROM evidence_items WHERE workspace_id = ?`
	args := []interface{}{workspaceID}

	if q.Text != "" {
		query += ` AND (title LIKE ? OR content LIKE ?)`
		pattern := "%" + q.Text + "%"
		args = append(args, pattern, pattern)
	}
	if q.Category != "" {
		query += ` AND source_category = ?`
		args = append(args, string(q.Category))
	}
	if q.Band != "" {
		query += ` AND band = ?`
		args = append(args, string(q.Band))
	}
	if q.Tag != "" {
		// tags_json holds a JSON array; substring match on the quoted tag.
		query += ` AND tags_json LIKE ?`
		args = append(args, `%"`+q.Tag+`"%`)
	}

	query += ` ORDER BY computed_strength DESC, created_at DESC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching evidence: %w", err)
	}
	defer rows.Close()

	results, err := collectItems(rows)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("evidence.count", len(results)))
	return results, nil
}

// CountInRange counts captures for a workspace in the half-open range
// [from, to). Used for the daily capture quota; pass to as the start of
// the next day to avoid double-counting at boundaries.
func (s *Store) CountInRange(ctx context.Context, workspaceID string, from, to time.Time) (int, error) {
	ctx, span := tracer.Start(ctx, "evidence.count_in_range",
		trace.WithAttributes(attribute.String("workspace_id", workspaceID)))
	defer span.End()

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM evidence_items WHERE workspace_id = ? AND created_at >= ? AND created_at < ?`,
		workspaceID, from, to).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting evidence: %w", err)
	}
	span.SetAttributes(attribute.Int("evidence.count", n))
	return n, nil
}

// Workspaces returns the distinct workspace IDs holding evidence.
func (s *Store) Workspaces(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT workspace_id FROM evidence_items`)
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

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(r rowScanner) (*Item, error) {
	var it Item
	var category, band, tagsJSON string
	var sourceTS, scoredAt sql.NullTime
	err := r.Scan(&it.ID, &it.WorkspaceID, &it.Title, &it.Content, &category,
		&it.Segment, &it.Sentiment, &tagsJSON,
		&it.CreatedAt, &sourceTS, &it.SourceWeight, &it.RecencyFactor,
		&it.ComputedStrength, &band, &scoredAt)
	if err != nil {
		return nil, err
	}
	it.SourceCategory = scoring.SourceCategory(category)
	it.Band = scoring.Band(band)
	if sourceTS.Valid {
		t := sourceTS.Time
		it.SourceTimestamp = &t
	}
	if scoredAt.Valid {
		t := scoredAt.Time
		it.ScoredAt = &t
	}
	if err := json.Unmarshal([]byte(tagsJSON), &it.Tags); err != nil {
		it.Tags = nil
	}
	return &it, nil
}

func collectItems(rows *sql.Rows) ([]Item, error) {
	var results []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning evidence row: %w", err)
		}
		results = append(results, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating evidence rows: %w", err)
	}
	return results, nil
}
