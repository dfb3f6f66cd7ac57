package cmd

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lodestar-io/lodestar/internal/config"
	"github.com/lodestar-io/lodestar/internal/decision"
	"github.com/lodestar-io/lodestar/internal/evidence"
	"github.com/lodestar-io/lodestar/internal/health"
	"github.com/lodestar-io/lodestar/internal/scoring"
	"github.com/lodestar-io/lodestar/internal/workspace"
)

// stores bundles the SQLite-backed stores sharing one database file.
type stores struct {
	db         *sql.DB
	evidence   *evidence.Store
	decisions  *decision.Store
	workspaces *workspace.Store
	alerts     *health.AlertStore
}

func (s *stores) Close() {
	_ = s.db.Close()
}

// openStores opens the shared database with WAL and busy-timeout set and
// initializes every store's schema.
func openStores(cfg *config.Config) (*stores, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath()+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	evidenceStore, err := evidence.NewStoreWithDB(db)
	if err != nil {
		return nil, fmt.Errorf("initializing evidence: %w", err)
	}
	decisionStore, err := decision.NewStoreWithDB(db, evidenceStore)
	if err != nil {
		return nil, fmt.Errorf("initializing decisions: %w", err)
	}
	workspaceStore, err := workspace.NewStoreWithDB(db, scoring.Preset(cfg.DefaultPreset))
	if err != nil {
		return nil, fmt.Errorf("initializing workspace settings: %w", err)
	}
	alertStore, err := health.NewAlertStoreWithDB(db)
	if err != nil {
		return nil, fmt.Errorf("initializing health alerts: %w", err)
	}

	return &stores{
		db:         db,
		evidence:   evidenceStore,
		decisions:  decisionStore,
		workspaces: workspaceStore,
		alerts:     alertStore,
	}, nil
}
