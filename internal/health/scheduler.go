package health

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// WorkspaceLister enumerates workspaces that have decisions to sweep.
type WorkspaceLister interface {
	Workspaces(ctx context.Context) ([]string, error)
}

// Scheduler runs the decay sweep on a cron schedule.
type Scheduler struct {
	cron       *cron.Cron
	monitor    *Monitor
	alerts     *AlertStore
	workspaces WorkspaceLister
}

// NewScheduler creates a scheduler that sweeps every workspace returned by
// the lister and stores the reports. Cron expressions use the standard
// 5-field format: minute hour day-of-month month day-of-week.
func NewScheduler(monitor *Monitor, alerts *AlertStore, workspaces WorkspaceLister) *Scheduler {
	return &Scheduler{
		cron:       cron.New(),
		monitor:    monitor,
		alerts:     alerts,
		workspaces: workspaces,
	}
}

// Register adds the sweep job under the given cron expression.
func (s *Scheduler) Register(spec string) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		s.RunAll(ctx)
	})
	if err != nil {
		return fmt.Errorf("registering sweep cron %q: %w", spec, err)
	}
	return nil
}

// RunAll sweeps every workspace once. Also callable on demand from the API.
func (s *Scheduler) RunAll(ctx context.Context) {
	ids, err := s.workspaces.Workspaces(ctx)
	if err != nil {
		log.Error().Err(err).Msg("health_sweep_list_failed")
		return
	}

	now := time.Now().UTC()
	for _, workspaceID := range ids {
		report, err := s.monitor.Sweep(ctx, workspaceID, now)
		if err != nil {
			log.Error().Err(err).
				Str("workspace_id", workspaceID).
				Msg("health_sweep_failed")
			continue
		}
		if err := s.alerts.Save(ctx, report); err != nil {
			log.Error().Err(err).
				Str("workspace_id", workspaceID).
				Msg("health_report_save_failed")
			continue
		}
		log.Info().
			Str("workspace_id", workspaceID).
			Int("active", report.ActiveCount).
			Int("flagged", len(report.Findings)).
			Msg("health_sweep_complete")
	}
}

// Start begins executing the registered cron jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for running jobs to complete.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Entries returns the number of registered cron entries (for testing).
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
