package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the pipeline status counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initApp(cmd.Context(), config.ModeMigrate, false)
		if err != nil {
			return err
		}
		defer env.Close()

		p, err := env.Status.Compute(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), p)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
