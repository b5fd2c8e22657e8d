package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/loykin/keepr/internal/config"
	"github.com/loykin/keepr/internal/persistence"
	"github.com/loykin/keepr/internal/security"
)

type validateResult struct {
	Valid  bool   `json:"valid"`
	Cwd    string `json:"cwd,omitempty"`
	Kind   string `json:"kind,omitempty"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason,omitempty"`
}

var errInvalid = errors.New("input rejected")

// runValidate checks f against the validator built from the config at
// configPath, without contacting a daemon.
func runValidate(w io.Writer, configPath string, f ValidateFlags) error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	env, err := parsePairs(f.Env)
	if err != nil {
		return err
	}
	res, err := c.Validator().Validate(security.Input{
		Command: f.Command,
		Args:    f.Args,
		Env:     env,
		Cwd:     f.Cwd,
		Shell:   f.Shell,
	})
	var ve *security.ValidationError
	switch {
	case err == nil:
		printJSON(w, validateResult{Valid: true, Cwd: res.Cwd})
		return nil
	case errors.As(err, &ve):
		printJSON(w, validateResult{Kind: string(ve.Kind), Field: ve.Field, Reason: ve.Reason})
		return errInvalid
	}
	return err
}

func createValidateCommand(globalFlags *GlobalFlags) *cobra.Command {
	f := &ValidateFlags{}
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a command against the security rules without running it",
		Long: `Run the same checks the daemon applies before spawning, using the
allowed roots, shell policy and env deny-list from --config.

Examples:
  keepr validate --command=ls --arg=-la --cwd=/srv/app
  keepr validate --command=echo --arg='a; rm -rf /'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.OutOrStdout(), globalFlags.ConfigPath, *f)
		},
	}
	cmd.Flags().StringVar(&f.Command, "command", "", "command to check")
	cmd.Flags().StringArrayVar(&f.Args, "arg", nil, "argument, repeatable")
	cmd.Flags().StringArrayVar(&f.Env, "env", nil, "KEY=VALUE, repeatable")
	cmd.Flags().StringVar(&f.Cwd, "cwd", "", "working directory")
	cmd.Flags().BoolVar(&f.Shell, "shell", false, "check as a raw shell line")
	return cmd
}

// runSnapshotShow prints the snapshot at path, or the configured snapshot
// when path is empty.
func runSnapshotShow(w io.Writer, configPath, path string, asJSON bool) error {
	if path == "" {
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		path = c.SnapshotPath()
	}
	snap, found, err := persistence.FileStore{Path: path}.Load()
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no snapshot at %s", path)
	}
	if asJSON {
		printJSON(w, snap)
		return nil
	}
	b, err := persistence.Encode(snap)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func createSnapshotCommand(globalFlags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect snapshot files",
	}
	var asJSON bool
	show := &cobra.Command{
		Use:   "show [path]",
		Short: "Print a snapshot file (defaults to persistence.snapshot_path)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) > 0 {
				path = args[0]
			}
			return runSnapshotShow(cmd.OutOrStdout(), globalFlags.ConfigPath, path, asJSON)
		},
	}
	show.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.AddCommand(show)
	return cmd
}
