package main

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/friso-kolkman/lead-enrichment-crm/internal/model"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List configured enrichment providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		type providerInfo struct {
			Name         string                `json:"name"`
			Capabilities []model.FieldCategory `json:"capabilities"`
			CostUSD      float64               `json:"cost_per_call_usd"`
		}

		names := env.Registry.List()
		sort.Strings(names)
		out := make([]providerInfo, 0, len(names))
		for _, name := range names {
			a := env.Registry.Get(name)
			out = append(out, providerInfo{
				Name:         a.Name(),
				Capabilities: a.Capabilities(),
				CostUSD:      a.CostPerCall(),
			})
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	rootCmd.AddCommand(providersCmd)
}
