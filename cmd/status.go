package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/friso-kolkman/lead-enrichment-crm/internal/budget"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/model"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/ratelimit"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show lead counts, budget and rate-limit state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		counts, err := env.Store.CountByStatus(ctx)
		if err != nil {
			return err
		}

		out := struct {
			Leads  map[model.LeadStatus]int `json:"leads"`
			Budget budget.Snapshot          `json:"budget"`
			Rates  []ratelimit.Status       `json:"rates"`
		}{
			Leads:  counts,
			Budget: env.Ledger.Status(),
			Rates:  env.Limiter.StatusAll(),
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
