package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/edgard/groupmind/internal/database"
	"github.com/edgard/groupmind/internal/pipeline"
)

const maxEventLine = 1 << 20

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <events.jsonl|->",
		Short: "Record a history export of JSON events, one per line",
		Long: "import appends messages from a file of JSON events (or stdin with \"-\") to the store, " +
			"so ingestion and summaries can use history the bot did not see live. " +
			"Nothing is answered. Messages that are already stored are skipped.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open events: %w", err)
				}
				defer f.Close()
				in = f
			}

			db, err := database.NewDB(a.cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer database.CloseDB(db)

			st, err := importEvents(cmd, database.NewStore(db, a.log), in)
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d messages, %d already stored, %d rejected\n",
				st.imported, st.duplicates, st.rejected)
			return err
		},
	}
}

type importStats struct {
	imported, duplicates, rejected int
}

func importEvents(cmd *cobra.Command, store database.MessageStore, in io.Reader) (importStats, error) {
	var st importStats
	ctx := cmd.Context()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLine)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		ev, err := pipeline.DecodeEvent([]byte(raw))
		if err != nil {
			return st, fmt.Errorf("line %d: %w", line, err)
		}
		_, inserted, err := store.Append(ctx, ev.Message())
		switch {
		case errors.Is(err, database.ErrInvalidMessage):
			st.rejected++
			fmt.Fprintf(cmd.ErrOrStderr(), "line %d: %v\n", line, err)
		case err != nil:
			return st, fmt.Errorf("line %d: %w", line, err)
		case inserted:
			st.imported++
		default:
			st.duplicates++
		}
	}
	if err := scanner.Err(); err != nil {
		return st, fmt.Errorf("read events: %w", err)
	}
	return st, nil
}
