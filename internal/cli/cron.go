package cli

import (
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"chorus/internal/cron"
	"chorus/internal/gateway/handlers"
)

// NewCronCmd creates the cron command.
func NewCronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Inspect the background compression sweeper",
	}

	cmd.AddCommand(newCronStatusCmd())
	cmd.AddCommand(newCronRunCmd())
	cmd.AddCommand(newCronCheckCmd())

	return cmd
}

func newCronStatusCmd() *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the next sweep and recent reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFor(cmd)
			if err != nil {
				return err
			}
			var status handlers.CronStatus
			if err := client.do(cmd.Context(), http.MethodGet, fmt.Sprintf("/api/v1/cron?limit=%d", limit), nil, &status); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), status)
			}

			out := cmd.OutOrStdout()
			if status.Next != nil {
				fmt.Fprintf(out, "Next sweep: %s\n\n", status.Next.Format("2006-01-02 15:04:05"))
			} else {
				fmt.Fprint(out, "Sweeper is not scheduled\n\n")
			}
			printReports(out, status.History)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of reports")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	return cmd
}

func newCronRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Sweep due rooms now",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFor(cmd)
			if err != nil {
				return err
			}
			var report cron.Report
			if err := client.do(cmd.Context(), http.MethodPost, "/api/v1/cron/run", nil, &report); err != nil {
				return err
			}
			printReports(cmd.OutOrStdout(), []cron.Report{report})
			return nil
		},
	}
}

func newCronCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <spec>",
		Short: "Validate a schedule expression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, err := cron.ParseSpec(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok, next run %s\n", sched.Next(time.Now()).Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}

func printReports(out io.Writer, reports []cron.Report) {
	if len(reports) == 0 {
		fmt.Fprintln(out, "No sweeps yet.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tDURATION\tDUE\tCOMPACTED\tSKIPPED\tFAILED")
	for _, r := range reports {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\n",
			r.StartedAt.Format("01-02 15:04:05"), r.Duration().Round(time.Millisecond), r.Due, r.Compacted, r.Skipped, r.Failed)
	}
	_ = w.Flush()
}
