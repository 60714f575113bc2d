package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xraph/backlog/enqueue"
	"github.com/xraph/backlog/history"
	"github.com/xraph/backlog/id"
)

func (a *App) requeueCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <result-id>...",
		Short: "Enqueue a failed or lost job again",
		Long: `Creates a fresh request from each failed or lost result, through the
normal admission path. The job type must be registered in this binary.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]id.ResultID, 0, len(args))
			for _, arg := range args {
				rid, err := id.ParseResultID(arg)
				if err != nil {
					return fmt.Errorf("invalid result id %q: %w", arg, err)
				}
				ids = append(ids, rid)
			}

			ctx := cmd.Context()
			store, release, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer release()

			q := enqueue.New(store, a.registry,
				enqueue.WithLogger(a.logger),
				enqueue.WithDefaultQueue(a.cfg.DefaultQueue),
			)
			svc := history.NewService(store, q)

			out := cmd.OutOrStdout()
			for _, rid := range ids {
				r, err := svc.Requeue(ctx, rid)
				if err != nil {
					return err
				}
				if r == nil {
					fmt.Fprintf(out, "%s: already pending under its concurrency key\n", rid)
					continue
				}
				fmt.Fprintf(out, "%s: requeued as %s on %s\n", rid, r.ID, r.Queue)
			}
			return nil
		},
	}
}
