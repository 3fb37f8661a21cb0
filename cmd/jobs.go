package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-mailer/internal/model"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect prepare, send, and direct-send jobs",
}

// -- jobs list --

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		kind, _ := cmd.Flags().GetString("kind")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		jobs, err := st.ListJobs(ctx, model.JobFilter{
			Kind:   model.JobKind(kind),
			Status: model.JobStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "jobs list")
		}

		if len(jobs) == 0 {
			fmt.Fprintln(os.Stderr, "No jobs found.")
			return nil
		}

		formatJobsList(os.Stdout, jobs)
		return nil
	},
}

// -- jobs show --

// jobDetail is a job plus its dead-letter records.
type jobDetail struct {
	*model.Job
	Failures []model.DeliveryFailure `json:"failures"`
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show a job with its payload, result, and delivery failures",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		job, err := st.GetJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "jobs show")
		}
		failures, err := st.ListDeliveryFailures(ctx, job.ID)
		if err != nil {
			return eris.Wrap(err, "jobs show: failures")
		}
		if failures == nil {
			failures = []model.DeliveryFailure{}
		}

		return writeJSON(os.Stdout, jobDetail{Job: job, Failures: failures})
	},
}

func init() {
	jobsListCmd.Flags().String("kind", "", "filter by job kind (prepare, send, direct)")
	jobsListCmd.Flags().String("status", "", "filter by status (prepared, queued, dry_run, completed, completed_with_errors)")
	jobsListCmd.Flags().Int("limit", 50, "max number of jobs to display")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	rootCmd.AddCommand(jobsCmd)
}

// formatJobsList writes a tabular list of jobs to w.
func formatJobsList(out io.Writer, jobs []model.Job) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tKIND\tSTATUS\tCREATED\tUPDATED")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t-------\t-------")

	for _, j := range jobs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			j.ID,
			j.Kind,
			j.Status,
			j.CreatedAt.Format("2006-01-02 15:04"),
			j.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}
