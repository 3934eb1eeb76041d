package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/edgard/groupmind/internal/config"
	"github.com/edgard/groupmind/internal/logger"
)

// app is filled by the root command before any subcommand runs.
type app struct {
	cfgFile string
	cfg     *config.Config
	log     *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "groupmind",
		Short: "Group chat assistant with long-term memory",
		Long: "groupmind answers group chat messages that address it, using the recent " +
			"conversation and a knowledge index built from the group's history.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.cfgFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = logger.NewLogger(cfg.Log.Level, cfg.Log.JSON)
			slog.SetDefault(a.log)
			a.log.Debug("Configuration loaded", "path", a.cfgFile, "log_level", cfg.Log.Level)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default ./config.yaml)")

	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newIngestCmd(a))
	cmd.AddCommand(newMigrateCmd(a))
	cmd.AddCommand(newImportCmd(a))
	return cmd
}

// logFailure reports a command error through the configured logger when one
// exists, the default logger otherwise.
func logFailure(err error) {
	slog.Error("Command failed", "error", err)
}
