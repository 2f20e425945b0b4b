package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/avaropoint/deskstream/internal/store"
)

func sessionsCmd() *cobra.Command {
	var (
		dataDir string
		limit   int
		events  string
	)

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List journalled host sessions",
		Long: `List the sessions recorded in the host's journal, newest first.

Examples:
  deskstream sessions --limit 10
  deskstream sessions --events 3f0c...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.NewSQLiteStore(filepath.Join(dataDir, "journal.db"))
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			if events != "" {
				return printEvents(cmd.Context(), st, events)
			}
			return printSessions(cmd.Context(), st, limit)
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", defaultDataDir(), "Host data directory")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum sessions to list (0 for all)")
	cmd.Flags().StringVar(&events, "events", "", "Show the events of one session")

	return cmd
}

func printSessions(ctx context.Context, st store.Store, limit int) error {
	sessions, err := st.ListSessions(ctx, limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPEER\tSTARTED\tDURATION\tFRAMES\tBYTES\tREASON")
	for _, s := range sessions {
		duration := "active"
		if s.EndedAt != nil {
			duration = s.EndedAt.Sub(s.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.Peer, humanize.Time(s.StartedAt), duration,
			humanize.Comma(s.Frames), humanize.Bytes(uint64(s.Bytes)), s.Reason)
	}
	return w.Flush()
}

func printEvents(ctx context.Context, st store.Store, id string) error {
	events, err := st.ListEvents(ctx, id)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return fmt.Errorf("no events for session %s", id)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tEVENT\tREASON\tERROR")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Time.Local().Format(time.DateTime), e.Kind, e.Reason, e.Error)
	}
	return w.Flush()
}
