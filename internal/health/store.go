package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNoReport is returned when a workspace has never been swept.
var ErrNoReport = errors.New("no health report recorded")

// AlertStore persists sweep reports in SQLite.
type AlertStore struct {
	db *sql.DB
}

const alertSchema = `
CREATE TABLE IF NOT EXISTS health_alerts (
	id TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	ran_at TIMESTAMP NOT NULL,
	report_json TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_health_workspace ON health_alerts(workspace_id, ran_at);
`

// NewAlertStore opens (and if needed initializes) the alert table at dbPath.
func NewAlertStore(dbPath string) (*AlertStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening health database: %w", err)
	}
	return newAlertStore(db)
}

// NewAlertStoreWithDB wraps an existing connection, initializing the schema.
func NewAlertStoreWithDB(db *sql.DB) (*AlertStore, error) {
	return newAlertStore(db)
}

func newAlertStore(db *sql.DB) (*AlertStore, error) {
	if _, err := db.ExecContext(context.Background(), alertSchema); err != nil {
		return nil, fmt.Errorf("creating health schema: %w", err)
	}
	return &AlertStore{db: db}, nil
}

// Close releases the database connection.
func (s *AlertStore) Close() error {
	return s.db.Close()
}

// Save persists a sweep report.
func (s *AlertStore) Save(ctx context.Context, report *Report) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshaling health report: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO health_alerts (id, workspace_id, ran_at, report_json) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), report.WorkspaceID, report.RanAt, string(reportJSON))
	if err != nil {
		return fmt.Errorf("storing health report: %w", err)
	}
	return nil
}

// Latest returns the most recent report for a workspace.
func (s *AlertStore) Latest(ctx context.Context, workspaceID string) (*Report, error) {
	var reportJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT report_json FROM health_alerts WHERE workspace_id = ? ORDER BY ran_at DESC LIMIT 1`,
		workspaceID).Scan(&reportJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("workspace %s: %w", workspaceID, ErrNoReport)
	}
	if err != nil {
		return nil, fmt.Errorf("querying health report: %w", err)
	}

	var report Report
	if err := json.Unmarshal([]byte(reportJSON), &report); err != nil {
		return nil, fmt.Errorf("unmarshaling health report: %w", err)
	}
	return &report, nil
}

// List returns a workspace's reports, newest first.
func (s *AlertStore) List(ctx context.Context, workspaceID string, limit int) ([]Report, error) {
	query := `SELECT report_json FROM health_alerts WHERE workspace_id = ? ORDER BY ran_at DESC`
	args := []interface{}{workspaceID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying health reports: %w", err)
	}
	defer rows.Close()

	var results []Report
	for rows.Next() {
		var reportJSON string
		if err := rows.Scan(&reportJSON); err != nil {
			return nil, fmt.Errorf("scanning health report: %w", err)
		}
		var report Report
		if err := json.Unmarshal([]byte(reportJSON), &report); err != nil {
			return nil, fmt.Errorf("unmarshaling health report: %w", err)
		}
		results = append(results, report)
	}
	return results, rows.Err()
}
