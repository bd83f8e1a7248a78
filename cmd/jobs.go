package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

var (
	jobsType   string
	jobsStatus string
	jobsLimit  int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and cancel jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		jobs, err := st.ListJobs(cmd.Context(), store.JobFilter{
			Type:   model.JobType(jobsType),
			Status: model.JobStatus(jobsStatus),
			Limit:  jobsLimit,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), jobs)
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one job and its result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		job, err := st.GetJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), job)
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a pending or running job",
	Long:  "Marks the job cancelled. A running job stops at its next checkpoint.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		if _, err := st.GetJob(cmd.Context(), args[0]); err != nil {
			return err
		}
		ok, err := st.CancelJob(cmd.Context(), args[0], time.Now().UTC())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{"job_id": args[0], "cancelled": ok})
	},
}

// openStore opens the configured store without the rest of the app.
func openStore(cmd *cobra.Command) (store.Store, error) {
	if err := cfg.Validate(config.ModeMigrate); err != nil {
		return nil, err
	}
	return initStore(cmd.Context())
}

func init() {
	jobsListCmd.Flags().StringVar(&jobsType, "type", "", "filter by job type")
	jobsListCmd.Flags().StringVar(&jobsStatus, "status", "", "filter by status")
	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", 20, "maximum jobs to list")
	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd, jobsCancelCmd)
	rootCmd.AddCommand(jobsCmd)
}
