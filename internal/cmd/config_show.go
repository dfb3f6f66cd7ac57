package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lodestar-io/lodestar/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage Lodestar configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show resolved configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, span := tracer.Start(cmd.Context(), "config.show")
		defer span.End()

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		fmt.Printf("data_dir:            %s\n", cfg.DataDir)
		fmt.Printf("db_path:             %s\n", cfg.DBPath())
		fmt.Printf("listen_addr:         %s\n", cfg.ListenAddr)
		fmt.Printf("default_preset:      %s\n", cfg.DefaultPreset)
		fmt.Printf("capture_rps:         %g\n", cfg.CaptureRPS)
		fmt.Printf("capture_burst:       %d\n", cfg.CaptureBurst)
		fmt.Printf("daily_capture_quota: %d\n", cfg.DailyQuota)
		fmt.Printf("sweep_schedule:      %s\n", cfg.SweepSchedule)
		fmt.Printf("otel_enabled:        %t\n", cfg.OTelEnabled)
		fmt.Printf("log_level:           %s\n", cfg.LogLevel)
		if cfg.APIKey != "" {
			fmt.Printf("api_key:             (set)\n")
		} else {
			fmt.Printf("api_key:             (unset)\n")
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
