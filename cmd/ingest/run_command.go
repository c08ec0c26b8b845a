package main

import (
	"github.com/spf13/cobra"

	"ingest/internal/daemonrun"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var once bool
	var logLevel string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the ingest daemon in the foreground",
		Long: "Load the plan, activate every stage and feed it from the configured sources " +
			"until interrupted. With --once the directory scanner runs a single pass and " +
			"the command exits when the plan has drained.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel: logLevel,
				Once:     once,
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Scan once, drain the plan and exit")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	return cmd
}
