package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edgard/groupmind/internal/ingest"
)

func newIngestCmd(a *app) *cobra.Command {
	var groupID string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Build knowledge chunks from recent group history now",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.openComponents(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			ing := a.newIngester(c)

			var results []ingest.Result
			if groupID != "" {
				res, err := ing.IngestGroup(ctx, groupID)
				if err != nil {
					return fmt.Errorf("ingest group %s: %w", groupID, err)
				}
				results = append(results, res)
			} else {
				results, err = ing.IngestAll(ctx)
			}

			out := cmd.OutOrStdout()
			for _, r := range results {
				if r.Skipped {
					fmt.Fprintf(out, "%s\tskipped (%d new messages)\n", r.GroupID, r.Messages)
					continue
				}
				fmt.Fprintf(out, "%s\t%d messages\t%d topics\n", r.GroupID, r.Messages, r.Topics)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&groupID, "group", "", "ingest only this group id")
	return cmd
}
