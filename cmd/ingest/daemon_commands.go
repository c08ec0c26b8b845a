package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ingest/internal/config"
	"ingest/internal/daemonctl"
	"ingest/internal/history"
	"ingest/internal/preflight"
)

const (
	statusLabelWidth = 20
	ansiReset        = "\x1b[0m"
	ansiRed          = "\x1b[31m"
	ansiGreen        = "\x1b[32m"
	ansiBlue         = "\x1b[34m"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newStatusCommand(ctx),
		newStopCommand(ctx),
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon state, preflight checks and history totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			color := isTerminal(out)

			section(out, "Daemon", color)
			running, pid, infoErr := daemonctl.ProcessInfo(cfg)
			switch {
			case infoErr != nil:
				statusLine(out, "Daemon", false, infoErr.Error(), color)
			case running && pid > 0:
				statusLine(out, "Daemon", true, "running (pid "+strconv.Itoa(pid)+")", color)
			case running:
				statusLine(out, "Daemon", true, "running", color)
			default:
				infoLine(out, "Daemon", "not running", color)
			}
			infoLine(out, "Config", configSummary(ctx), color)
			infoLine(out, "Plan file", cfg.Paths.PlanFile, color)

			fmt.Fprintln(out)
			section(out, "Preflight", color)
			for _, r := range preflight.RunAll(cmd.Context(), cfg) {
				statusLine(out, r.Name, r.Passed, r.Detail, color)
			}

			if history.Enabled(cfg) {
				fmt.Fprintln(out)
				section(out, "History", color)
				writeHistoryTotals(cmd.Context(), out, cfg, color)
			}
			return nil
		},
	}
}

func writeHistoryTotals(ctx context.Context, out io.Writer, cfg *config.Config, color bool) {
	queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	store, err := history.Open(queryCtx, cfg)
	if err != nil {
		statusLine(out, "Store", false, err.Error(), color)
		return
	}
	defer store.Close()
	stats, err := store.Stats(queryCtx)
	if err != nil {
		statusLine(out, "Store", false, err.Error(), color)
		return
	}
	if len(stats) == 0 {
		infoLine(out, "Documents", "none recorded", color)
		return
	}
	for _, s := range stats {
		infoLine(out, s.Status.Label(), strconv.FormatInt(s.Count, 10), color)
	}
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	var grace time.Duration

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running ingest daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(cfg, grace)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(out, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill {
				fmt.Fprintf(out, "Daemon (pid %d) did not stop within %s and was killed\n", result.PID, grace)
				return nil
			}
			fmt.Fprintf(out, "Daemon (pid %d) stopped\n", result.PID)
			return nil
		},
	}
	cmd.Flags().DurationVar(&grace, "grace", 10*time.Second, "Time to wait for a clean shutdown before killing the process")
	return cmd
}

func configSummary(ctx *commandContext) string {
	if ctx.configPath == "" {
		return "defaults"
	}
	if !ctx.configSeen {
		return ctx.configPath + " (not found, defaults used)"
	}
	return ctx.configPath
}

func section(out io.Writer, title string, color bool) {
	line := "== " + strings.TrimSpace(title) + " =="
	if color {
		line = ansiBlue + line + ansiReset
	}
	fmt.Fprintln(out, line)
}

func statusLine(out io.Writer, label string, ok bool, detail string, color bool) {
	tag, tint := "[ERROR]", ansiRed
	if ok {
		tag, tint = "[OK]", ansiGreen
	}
	writeLine(out, label, tag, detail, tint, color)
}

func infoLine(out io.Writer, label, detail string, color bool) {
	writeLine(out, label, "[INFO]", detail, ansiBlue, color)
}

func writeLine(out io.Writer, label, tag, detail, tint string, color bool) {
	line := fmt.Sprintf("  %-*s %s", statusLabelWidth, label+":", tag)
	if detail != "" {
		line += " " + detail
	}
	if color {
		line = tint + line + ansiReset
	}
	fmt.Fprintln(out, line)
}
