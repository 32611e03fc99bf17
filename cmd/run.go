package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/friso-kolkman/lead-enrichment-crm/internal/model"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/pipeline"
)

var (
	runFromStage int
	runToStage   int
	runLeadIDs   []string
	runLimit     int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run pipeline stages over eligible leads",
	Long:  "Executes stages --from through --to in order. Leads already past a stage are skipped, so re-running after an interruption resumes where the previous run stopped.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Orchestrator.Run(ctx, pipeline.Options{
			StartStage: model.Stage(runFromStage),
			EndStage:   model.Stage(runToStage),
			LeadIDs:    runLeadIDs,
			Limit:      runLimit,
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	runCmd.Flags().IntVar(&runFromStage, "from", int(model.StageCompanyEnrich), "first stage to run (1-9)")
	runCmd.Flags().IntVar(&runToStage, "to", int(model.MaxStage), "last stage to run (1-9)")
	runCmd.Flags().StringSliceVar(&runLeadIDs, "lead", nil, "restrict the run to specific lead ids")
	runCmd.Flags().IntVar(&runLimit, "limit", 0, "max leads per stage (0 = unlimited)")
	rootCmd.AddCommand(runCmd)
}
