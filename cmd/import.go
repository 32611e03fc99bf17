package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/rotisserie/eris"
)

var importSource string

var importCmd = &cobra.Command{
	Use:   "import <file.csv|file.json>",
	Short: "Import leads from a CSV or JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Importer.ImportFile(ctx, args[0], importSource)
		if err != nil {
			return eris.Wrap(err, "import leads")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	importCmd.Flags().StringVar(&importSource, "source", "file_import", "source label recorded on imported leads")
	rootCmd.AddCommand(importCmd)
}
