package cmd

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/lodestar-io/lodestar/internal/config"
	"github.com/lodestar-io/lodestar/internal/rescore"
)

var (
	rescoreDryRun    bool
	rescoreWorkspace string
)

var rescoreCmd = &cobra.Command{
	Use:   "rescore",
	Short: "Recompute evidence strengths and decision aggregates",
	Long: `Re-runs the scoring engine over the evidence bank and refreshes the
cached evidence_strength on every decision. Prints per-item deltas to stdout.

Use --dry-run to see what would change without persisting anything.`,
	RunE: runRescore,
}

func init() {
	rescoreCmd.Flags().BoolVar(&rescoreDryRun, "dry-run", false, "compute and print deltas without persisting")
	rescoreCmd.Flags().StringVar(&rescoreWorkspace, "workspace", "", "rescore a single workspace (default: all)")
	rootCmd.AddCommand(rescoreCmd)
}

func runRescore(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "rescore")
	defer span.End()

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

	svc := rescore.NewService(st.evidence, st.decisions, st.workspaces)
	now := time.Now().UTC()

	var results []rescore.WorkspaceResult
	if rescoreWorkspace != "" {
		res, err := svc.RescoreWorkspace(ctx, rescoreWorkspace, now, rescoreDryRun)
		if err != nil {
			return err
		}
		results = append(results, *res)
	} else {
		results, err = svc.RescoreAll(ctx, now, rescoreDryRun)
		if err != nil {
			return err
		}
	}

	for _, res := range results {
		fmt.Printf("workspace %s: %d items, %d changed", res.WorkspaceID, res.ItemCount, res.ChangedCount)
		if res.DryRun {
			fmt.Printf(" (dry run)")
		} else {
			fmt.Printf(", %d decisions refreshed", res.DecisionsCount)
		}
		fmt.Println()
		for _, d := range res.Deltas {
			marker := " "
			if d.NewStrength != d.OldStrength {
				marker = "*"
			}
			fmt.Printf("  %s %-40s %3d -> %3d  %s\n", marker, truncate(d.Title, 40), d.OldStrength, d.NewStrength, d.Band)
		}
	}

	log.Info().
		Int("workspaces", len(results)).
		Bool("dry_run", rescoreDryRun).
		Msg("rescore_complete")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
