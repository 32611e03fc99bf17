package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/friso-kolkman/lead-enrichment-crm/internal/model"
)

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Manage outbound email campaigns",
}

var (
	campaignName     string
	campaignTier     string
	campaignSubject  string
	campaignBody     string
	campaignDaily    int
	campaignMinScore float64
)

var campaignCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a campaign in draft state",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		c := &model.Campaign{
			Name:            campaignName,
			TargetTier:      model.Tier(campaignTier),
			SubjectTemplate: campaignSubject,
			BodyTemplate:    campaignBody,
			DailyLimit:      campaignDaily,
		}
		if campaignMinScore > 0 {
			c.MinScore = &campaignMinScore
		}
		if err := env.Campaigns.Create(cmd.Context(), c); err != nil {
			return err
		}
		return printJSON(c)
	},
}

func campaignTransitionCmd(use string, to model.CampaignState) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <campaign-id>",
		Short: use + " a campaign",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := initPipeline(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			c, err := env.Campaigns.Transition(cmd.Context(), args[0], to)
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	}
}

var campaignListCmd = &cobra.Command{
	Use:   "list",
	Short: "List campaigns",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		campaigns, err := env.Store.ListCampaigns(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(campaigns)
	},
}

var (
	stepNumber  int
	stepDelay   int
	stepSubject string
	stepBody    string
)

var campaignAddStepCmd = &cobra.Command{
	Use:   "add-step <campaign-id>",
	Short: "Add a follow-up step to a campaign's sequence",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := env.Campaigns.AddStep(cmd.Context(), args[0], model.SequenceStep{
			Number:          stepNumber,
			DelayDays:       stepDelay,
			SubjectTemplate: stepSubject,
			BodyTemplate:    stepBody,
		})
		if err != nil {
			return err
		}
		return printJSON(c)
	},
}

var campaignEnrollCmd = &cobra.Command{
	Use:   "enroll <campaign-id> <lead-id>...",
	Short: "Enroll leads in a campaign's follow-up sequence",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		added, err := env.Campaigns.Enroll(cmd.Context(), args[0], args[1:])
		if err != nil {
			return err
		}
		return printJSON(map[string]int{"enrolled": added})
	},
}

var campaignRunSequencesCmd = &cobra.Command{
	Use:   "run-sequences <campaign-id>",
	Short: "Send all due follow-up steps for a campaign",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		sent, err := env.Campaigns.ProcessSequences(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(map[string]int{"sent": sent})
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	campaignCreateCmd.Flags().StringVar(&campaignName, "name", "", "campaign name")
	campaignCreateCmd.Flags().StringVar(&campaignTier, "tier", "", "target tier (high_touch, standard, nurture)")
	campaignCreateCmd.Flags().StringVar(&campaignSubject, "subject", "", "subject template")
	campaignCreateCmd.Flags().StringVar(&campaignBody, "body", "{{.Body}}", "body template")
	campaignCreateCmd.Flags().IntVar(&campaignDaily, "daily-limit", 0, "max sends per day (0 = unlimited)")
	campaignCreateCmd.Flags().Float64Var(&campaignMinScore, "min-score", 0, "minimum lead score")

	campaignAddStepCmd.Flags().IntVar(&stepNumber, "number", 0, "step number (orders the sequence)")
	campaignAddStepCmd.Flags().IntVar(&stepDelay, "delay-days", 0, "days to wait after the previous step")
	campaignAddStepCmd.Flags().StringVar(&stepSubject, "subject", "", "step subject template")
	campaignAddStepCmd.Flags().StringVar(&stepBody, "body", "", "step body template")

	campaignCmd.AddCommand(campaignCreateCmd)
	campaignCmd.AddCommand(campaignAddStepCmd)
	campaignCmd.AddCommand(campaignEnrollCmd)
	campaignCmd.AddCommand(campaignRunSequencesCmd)
	campaignCmd.AddCommand(campaignTransitionCmd("activate", model.CampaignActive))
	campaignCmd.AddCommand(campaignTransitionCmd("pause", model.CampaignPaused))
	campaignCmd.AddCommand(campaignTransitionCmd("complete", model.CampaignCompleted))
	campaignCmd.AddCommand(campaignListCmd)
	rootCmd.AddCommand(campaignCmd)
}
