package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/loykin/keepr/pkg/client"
)

// command binds client commands to the global connection flags.
type command struct {
	flags *GlobalFlags
}

func (c command) client() *client.Client {
	return client.New(client.Config{BaseURL: c.flags.APIUrl, Timeout: c.flags.APITimeout})
}

func (c command) Create(ctx context.Context, w io.Writer, id string, f CreateFlags) error {
	env, err := parsePairs(f.Env)
	if err != nil {
		return err
	}
	res, err := c.client().Create(ctx, client.CreateRequest{
		ProcessID:          id,
		Name:               f.Name,
		Command:            f.Command,
		Args:               f.Args,
		Env:                env,
		Cwd:                f.Cwd,
		Shell:              f.Shell,
		AutoStartOnRestore: f.AutoStart,
		Tags:               f.Tags,
	})
	if err != nil {
		return err
	}
	printJSON(w, res)
	return nil
}

func (c command) Start(ctx context.Context, w io.Writer, id string) error {
	res, err := c.client().Start(ctx, id)
	if err != nil {
		return err
	}
	printJSON(w, res)
	return nil
}

func (c command) Stop(ctx context.Context, w io.Writer, id string, f StopFlags) error {
	res, err := c.client().Stop(ctx, id, f.Timeout)
	if err != nil {
		return err
	}
	printJSON(w, res)
	return nil
}

func (c command) Restart(ctx context.Context, w io.Writer, id string, f StopFlags) error {
	res, err := c.client().Restart(ctx, id, f.Timeout)
	if err != nil {
		return err
	}
	printJSON(w, res)
	return nil
}

func (c command) Remove(ctx context.Context, w io.Writer, id string) error {
	res, err := c.client().Remove(ctx, id)
	if err != nil {
		return err
	}
	printJSON(w, res)
	return nil
}

func (c command) Status(ctx context.Context, w io.Writer, id string) error {
	st, err := c.client().Status(ctx, id)
	if err != nil {
		return err
	}
	printJSON(w, st)
	return nil
}

// List prints a table, or JSON when asJSON is set.
func (c command) List(ctx context.Context, w io.Writer, f ListFlags) error {
	procs, err := c.client().List(ctx, client.ListQuery{Filter: f.Filter, Name: f.Name})
	if err != nil {
		return err
	}
	if f.JSON {
		printJSON(w, procs)
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tSTATE\tPID\tEXIT\tCOMMAND")
	for _, p := range procs {
		pid, exit := "-", "-"
		if p.PID != 0 {
			pid = fmt.Sprint(p.PID)
		}
		if p.ExitCode != nil {
			exit = fmt.Sprint(*p.ExitCode)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.ProcessID, p.State, pid, exit, p.Command)
	}
	return tw.Flush()
}

func (c command) Logs(ctx context.Context, w io.Writer, id string, f LogsFlags) error {
	out, err := c.client().Output(ctx, id, client.OutputQuery{Limit: f.Limit, Stream: f.Stream})
	if err != nil {
		return err
	}
	if f.JSON {
		printJSON(w, out)
		return nil
	}
	for _, line := range out.Lines {
		_, _ = fmt.Fprintln(w, line)
	}
	return nil
}

func createCreateCommand(c command) *cobra.Command {
	f := &CreateFlags{}
	cmd := &cobra.Command{
		Use:   "create <id>",
		Short: "Register a new process (not started)",
		Long: `Register a new process record. Arguments are passed to the child verbatim;
use --shell only when the daemon allows raw shell execution.

Examples:
  keepr create web --command=python3 --arg=-m --arg=http.server --env=PORT=8000
  keepr create build --shell --command="make all 2>&1"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Create(cmd.Context(), cmd.OutOrStdout(), args[0], *f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "display name (defaults to id)")
	cmd.Flags().StringVar(&f.Command, "command", "", "executable or shell line (required)")
	cmd.Flags().StringArrayVar(&f.Args, "arg", nil, "argument, repeatable")
	cmd.Flags().StringArrayVar(&f.Env, "env", nil, "KEY=VALUE override, repeatable")
	cmd.Flags().StringVar(&f.Cwd, "cwd", "", "working directory")
	cmd.Flags().BoolVar(&f.Shell, "shell", false, "run command through the shell")
	cmd.Flags().BoolVar(&f.AutoStart, "auto-start", false, "start automatically when the daemon restores state")
	cmd.Flags().StringSliceVar(&f.Tags, "tag", nil, "tags (comma-separated or repeatable)")
	if err := cmd.MarkFlagRequired("command"); err != nil {
		panic(err)
	}
	return cmd
}

func createStartCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "start <id>",
		Short: "Start a registered process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Start(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}
}

func createStopCommand(c command) *cobra.Command {
	f := &StopFlags{}
	cmd := &cobra.Command{
		Use:   "stop <id>",
		Short: "Stop a running process (SIGTERM, then SIGKILL after --timeout)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Stop(cmd.Context(), cmd.OutOrStdout(), args[0], *f)
		},
	}
	cmd.Flags().DurationVar(&f.Timeout, "timeout", 0, "graceful stop timeout (daemon default when 0)")
	return cmd
}

func createRestartCommand(c command) *cobra.Command {
	f := &StopFlags{}
	cmd := &cobra.Command{
		Use:   "restart <id>",
		Short: "Stop (if running) and start a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Restart(cmd.Context(), cmd.OutOrStdout(), args[0], *f)
		},
	}
	cmd.Flags().DurationVar(&f.Timeout, "timeout", 0, "graceful stop timeout (daemon default when 0)")
	return cmd
}

func createRemoveCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Remove a process that is not running",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Remove(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}
}

func createStatusCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show the status of one process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}
}

func createListCommand(c command) *cobra.Command {
	f := &ListFlags{}
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List processes",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.List(cmd.Context(), cmd.OutOrStdout(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Filter, "filter", "all", "all, running, stopped, failed or not_started")
	cmd.Flags().StringVar(&f.Name, "name", "", "only ids or commands containing this text")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print JSON")
	return cmd
}

func createLogsCommand(c command) *cobra.Command {
	f := &LogsFlags{}
	cmd := &cobra.Command{
		Use:   "logs <id>",
		Short: "Print recent output of a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Logs(cmd.Context(), cmd.OutOrStdout(), args[0], *f)
		},
	}
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "number of lines (daemon default when 0)")
	cmd.Flags().StringVar(&f.Stream, "stream", "", "stdout, stderr or both")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print entries as JSON")
	return cmd
}
