package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/friso-kolkman/lead-enrichment-crm/internal/model"
)

var researchBatchLimit int

// The batch variant trades latency for cost: summaries arrive minutes later
// but at half the per-token price of synchronous requests.
var researchBatchCmd = &cobra.Command{
	Use:   "research-batch",
	Short: "Generate research summaries via the message batch API",
	Long:  "Collects leads waiting on the research stage and submits them as one message batch. The command blocks until the batch completes, then persists each summary.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		leads, err := env.Store.EligibleLeads(ctx, model.StageResearch, researchBatchLimit)
		if err != nil {
			return err
		}
		if len(leads) == 0 {
			fmt.Println("no leads eligible for research")
			return nil
		}

		report, err := env.Runner.ResearchBatch(ctx, leads)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	researchBatchCmd.Flags().IntVar(&researchBatchLimit, "limit", 0, "max leads to include (0 = unlimited)")
	rootCmd.AddCommand(researchBatchCmd)
}
