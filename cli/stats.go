package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/backlog/history"
	"github.com/xraph/backlog/job"
)

func (a *App) statsCommand() *cobra.Command {
	var (
		queues []string
		recent int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show request and result counts per queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, release, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer release()

			svc := history.NewService(store, nil)
			if len(queues) == 0 {
				queues = []string{""}
			}
			summaries := make([]*history.Summary, 0, len(queues))
			for _, q := range queues {
				s, err := svc.Summarize(ctx, q)
				if err != nil {
					return err
				}
				summaries = append(summaries, s)
			}

			var failures []*job.Result
			if recent > 0 {
				for _, status := range []job.ResultStatus{job.ResultFailed, job.ResultLost} {
					res, err := svc.List(ctx, job.ResultListOpts{
						ListOpts: job.ListOpts{Limit: recent},
						Status:   status,
					})
					if err != nil {
						return err
					}
					failures = append(failures, res...)
				}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Queues   []*history.Summary `json:"queues"`
					Failures []*job.Result      `json:"failures,omitempty"`
				}{summaries, failures})
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "QUEUE\tPENDING\tCLAIMED\tSUCCEEDED\tRETRIED\tFAILED\tLOST")
			for _, s := range summaries {
				name := s.Queue
				if name == "" {
					name = "(all)"
				}
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
					name, s.Pending, s.Claimed, s.Succeeded, s.Retried, s.Failed, s.Lost)
			}
			if len(failures) > 0 {
				fmt.Fprintln(tw)
				fmt.Fprintln(tw, "RESULT\tSTATUS\tJOB TYPE\tATTEMPT\tENDED\tERROR")
				for _, r := range failures {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
						r.ID, r.Status, r.JobType, r.Attempt, r.EndedAt.Format(time.RFC3339), r.Error)
				}
			}
			return tw.Flush()
		},
	}

	f := cmd.Flags()
	f.StringArrayVar(&queues, "queue", nil, "queue to summarize, repeatable (default all queues)")
	f.IntVar(&recent, "recent", 0, "also list the n most recent failed and lost results")
	f.BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
