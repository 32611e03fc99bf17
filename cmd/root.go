package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/friso-kolkman/lead-enrichment-crm/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "leads",
	Short: "Lead enrichment and outreach pipeline",
	Long:  "Imports leads, enriches them through a multi-provider cascade, scores them against the ICP, generates AI research and messaging, syncs to Attio, and launches Resend campaigns.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
