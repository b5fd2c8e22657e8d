package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loykin/keepr"
)

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the keepr daemon",
		Long: `Run the supervisor daemon. State is restored from the snapshot file,
processes flagged auto_start_on_restore are started, and the HTTP API is
served until SIGINT or SIGTERM. On shutdown every child is stopped and a
final snapshot is written.

Examples:
  keepr serve
  keepr serve keepr.toml
  keepr serve --config=keepr.toml --listen=127.0.0.1:9000`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globalFlags.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			return runServe(cmd.Context(), path, listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "override server.listen")
	return cmd
}

func runServe(ctx context.Context, configPath, listen string) error {
	c, err := keepr.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		c.Server.Listen = listen
	}
	d, err := keepr.New(c)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return d.Run(ctx)
}
