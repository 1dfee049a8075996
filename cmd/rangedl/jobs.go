package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/datallboy/rangedl/internal/domain"
	"github.com/datallboy/rangedl/internal/store"
)

func newJobsCmd(root *rootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs in the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobs(cmd.Context(), root, all)
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "include completed and failed jobs")
	return cmd
}

func runJobs(ctx context.Context, root *rootOptions, all bool) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	var items []*domain.QueueItem
	if all {
		items, err = st.ListJobs(ctx)
	} else {
		items, err = st.ListActiveJobs(ctx)
	}
	if err != nil {
		return err
	}

	if len(items) == 0 {
		fmt.Println("No jobs.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPROGRESS\tSIZE\tFILE\tUPDATED")
	for _, item := range items {
		fmt.Fprintf(w, "%s\t%s\t%.1f%%\t%s\t%s\t%s\n",
			item.ID,
			item.Status,
			item.Progress,
			humanize.Bytes(uint64(item.TotalBytes)),
			item.Filename,
			humanize.Time(item.UpdatedAt),
		)
	}
	return w.Flush()
}
