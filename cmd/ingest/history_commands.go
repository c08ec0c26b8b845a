package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ingest/internal/document"
	"ingest/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var (
		documentID string
		stage      string
		statuses   []string
		since      time.Duration
		limit      int
		asJSON     bool
	)

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded document status events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := history.Filter{
				DocumentID: strings.TrimSpace(documentID),
				Stage:      strings.TrimSpace(stage),
				Limit:      limit,
			}
			for _, raw := range statuses {
				status, ok := document.ParseStatus(raw)
				if !ok {
					return fmt.Errorf("unknown status %q", raw)
				}
				filter.Statuses = append(filter.Statuses, status)
			}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}

			store, err := openHistory(cmd, ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No status events recorded")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					e.At.Local().Format("2006-01-02 15:04:05"),
					e.Stage,
					e.DocumentID,
					e.Status.Label(),
					e.Message,
				})
			}
			fmt.Fprintln(out, renderTable(out, []string{"Time", "Stage", "Document", "Status", "Message"}, rows))
			return nil
		},
	}
	historyCmd.Flags().StringVar(&documentID, "document", "", "Only events for this document id")
	historyCmd.Flags().StringVar(&stage, "stage", "", "Only events reported by this stage")
	historyCmd.Flags().StringSliceVar(&statuses, "status", nil, "Only events with these statuses (repeatable)")
	historyCmd.Flags().DurationVar(&since, "since", 0, "Only events newer than this duration")
	historyCmd.Flags().IntVarP(&limit, "limit", "n", history.DefaultListLimit, "Maximum number of events")
	historyCmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")

	historyCmd.AddCommand(newHistoryStatsCommand(ctx))
	historyCmd.AddCommand(newHistoryPruneCommand(ctx))
	return historyCmd
}

func newHistoryStatsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Count documents by their latest status",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(cmd, ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), stats)
			}
			out := cmd.OutOrStdout()
			if len(stats) == 0 {
				fmt.Fprintln(out, "No documents recorded")
				return nil
			}
			rows := make([][]string, 0, len(stats))
			var total int64
			for _, s := range stats {
				rows = append(rows, []string{s.Status.Label(), strconv.FormatInt(s.Count, 10)})
				total += s.Count
			}
			rows = append(rows, []string{"Total", strconv.FormatInt(total, 10)})
			fmt.Fprintln(out, renderTable(out, []string{"Status", "Documents"}, rows, 2))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newHistoryPruneCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete status events older than a cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			store, err := openHistory(cmd, ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.Prune(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d status event(s) older than %s\n", removed, olderThan)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Age beyond which events are deleted")
	return cmd
}

func openHistory(cmd *cobra.Command, ctx *commandContext) (history.Store, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	return history.Open(cmd.Context(), cfg)
}
