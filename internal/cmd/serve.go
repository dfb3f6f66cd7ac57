package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/lodestar-io/lodestar/internal/config"
	"github.com/lodestar-io/lodestar/internal/health"
	"github.com/lodestar-io/lodestar/internal/rescore"
	"github.com/lodestar-io/lodestar/internal/server"
	"github.com/lodestar-io/lodestar/internal/workspace"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Lodestar server with daily decay sweeps",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "HTTP listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

// parseAPIKeys returns a map of key -> workspace_id from LODESTAR_API_KEYS
// (comma-separated; each entry key or key:workspace_id).
func parseAPIKeys(env string) map[string]string {
	m := make(map[string]string)
	if env == "" {
		return m
	}
	for _, part := range strings.Split(env, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		workspaceID := "default"
		if idx := strings.Index(part, ":"); idx > 0 {
			workspaceID = strings.TrimSpace(part[idx+1:])
			part = strings.TrimSpace(part[:idx])
		}
		m[part] = workspaceID
	}
	return m
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	manager := workspace.NewManager(workspace.Limits{
		CaptureRPS:   cfg.CaptureRPS,
		CaptureBurst: cfg.CaptureBurst,
		DailyQuota:   cfg.DailyQuota,
	}, st.evidence)

	rescorer := rescore.NewService(st.evidence, st.decisions, st.workspaces)

	monitor := health.NewMonitor(st.decisions, st.evidence)
	scheduler := health.NewScheduler(monitor, st.alerts, st.decisions)
	if err := scheduler.Register(cfg.SweepSchedule); err != nil {
		return fmt.Errorf("registering sweep: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	apiKeys := parseAPIKeys(os.Getenv("LODESTAR_API_KEYS"))
	if cfg.APIKey != "" {
		apiKeys[cfg.APIKey] = "default"
	}
	if len(apiKeys) == 0 {
		log.Warn().Msg("LODESTAR_API_KEYS not set; all API endpoints will return 401")
	}

	srv := server.NewServer(
		st.evidence,
		st.decisions,
		st.workspaces,
		rescorer,
		apiKeys,
		server.WithManager(manager),
		server.WithHealth(monitor, st.alerts),
		server.WithCORSOrigins([]string{"*"}),
	)

	addr := cfg.ListenAddr
	if serveAddr != "" {
		addr = serveAddr
	}
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().
		Str("addr", addr).
		Str("sweep_schedule", cfg.SweepSchedule).
		Int("cron_entries", scheduler.Entries()).
		Msg("lodestar_serve_started")

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown_signal_received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("server_stopped")
	return nil
}
