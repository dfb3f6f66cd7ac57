// Package testutil provides shared test helpers for SQLite-backed stores.
package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lodestar-io/lodestar/internal/decision"
	"github.com/lodestar-io/lodestar/internal/evidence"
	"github.com/lodestar-io/lodestar/internal/health"
	"github.com/lodestar-io/lodestar/internal/scoring"
	"github.com/lodestar-io/lodestar/internal/workspace"
)

// NewTestDB opens a SQLite database in a temp dir and registers t.Cleanup
// to close it.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := sql.Open("sqlite3", filepath.Join(dir, "lodestar.db")+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// NewTestEvidenceStore creates an evidence store over a temp database.
func NewTestEvidenceStore(t *testing.T) *evidence.Store {
	t.Helper()
	store, err := evidence.NewStoreWithDB(NewTestDB(t))
	if err != nil {
		t.Fatal(err)
	}
	return store
}

// NewTestStores creates the full store set sharing one temp database.
func NewTestStores(t *testing.T) (*evidence.Store, *decision.Store, *workspace.Store, *health.AlertStore) {
	t.Helper()
	db := NewTestDB(t)
	ev, err := evidence.NewStoreWithDB(db)
	if err != nil {
		t.Fatal(err)
	}
	dec, err := decision.NewStoreWithDB(db, ev)
	if err != nil {
		t.Fatal(err)
	}
	ws, err := workspace.NewStoreWithDB(db, scoring.PresetDefault)
	if err != nil {
		t.Fatal(err)
	}
	alerts, err := health.NewAlertStoreWithDB(db)
	if err != nil {
		t.Fatal(err)
	}
	return ev, dec, ws, alerts
}
