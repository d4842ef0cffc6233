package main

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/spf13/cobra"
)

var consolidateTenant string

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Run one consolidation cycle and exit",
	Long: `Run a single consolidation cycle against the configured store:
decay and archive episodic memory, promote ready episodes to semantic
patterns, archive stale patterns, and generalize across skills.`,
	RunE: runConsolidate,
}

func init() {
	consolidateCmd.Flags().StringVar(&consolidateTenant, "tenant", "", "restrict the cycle to one tenant")
}

func runConsolidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	engine, _, store, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Consolidation.Timeout)
	defer cancel()

	counters, err := engine.RunConsolidation(ctx, consolidateTenant)
	if err != nil {
		return fmt.Errorf("consolidation failed: %w", err)
	}

	fmt.Printf("episodes archived:      %d\n", counters.EpisodicDecayed)
	fmt.Printf("episodes consolidated:  %d\n", counters.EpisodesConsolidated)
	fmt.Printf("patterns created:       %d\n", counters.PatternsCreated)
	fmt.Printf("patterns updated:       %d\n", counters.PatternsUpdated)
	fmt.Printf("patterns archived:      %d\n", counters.PatternsArchived)
	fmt.Printf("knowledge created:      %d\n", counters.ProceduralCreated)
	return nil
}
