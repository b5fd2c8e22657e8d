package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/keepr/pkg/client"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command with every subcommand attached.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	cmds := command{flags: globalFlags}

	root.AddCommand(
		createServeCommand(globalFlags),
		createCreateCommand(cmds),
		createStartCommand(cmds),
		createStopCommand(cmds),
		createRestartCommand(cmds),
		createRemoveCommand(cmds),
		createStatusCommand(cmds),
		createListCommand(cmds),
		createLogsCommand(cmds),
		createTemplateCommand(cmds),
		createValidateCommand(globalFlags),
		createSnapshotCommand(globalFlags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "keepr",
		Short: "Process supervisor for AI tool clients",
		Long: `keepr supervises long-running child processes on behalf of a client:
it validates and spawns them, captures their output, reports status and
keeps the process table across restarts.

Examples:
  keepr serve --config=keepr.toml
  keepr create web --command=python3 --arg=-m --arg=http.server
  keepr start web
  keepr logs web --limit=50
  keepr list --filter=running`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", client.DefaultBaseURL, "daemon API URL")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	return root
}
