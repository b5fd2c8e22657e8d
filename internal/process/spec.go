package process

import (
	"errors"
	"os/exec"
	"runtime"
	"strings"
)

// Spec is everything needed to spawn one child. Callers validate it first.
type Spec struct {
	ID      string
	Command string
	Args    []string
	// Shell runs Command joined with Args through the platform shell instead
	// of a direct argv exec.
	Shell bool
	Dir   string
	// Env is the complete environment in "K=V" form.
	Env []string
}

var errEmptyCommand = errors.New("empty command")

// BuildCommand constructs the *exec.Cmd for s. A direct spawn passes Args
// verbatim so no quoting or expansion ever happens.
func (s Spec) BuildCommand() (*exec.Cmd, error) {
	name := strings.TrimSpace(s.Command)
	if name == "" {
		return nil, errEmptyCommand
	}
	var cmd *exec.Cmd
	if s.Shell {
		cmd = shellCommand(s.Script())
	} else {
		// #nosec G204 -- argv validated by internal/security before spawn
		cmd = exec.Command(name, s.Args...)
	}
	cmd.Dir = s.Dir
	cmd.Env = s.Env
	configureSysProcAttr(cmd)
	return cmd, nil
}

// Script is the command line handed to the shell when Shell is set.
func (s Spec) Script() string {
	if len(s.Args) == 0 {
		return s.Command
	}
	return s.Command + " " + strings.Join(s.Args, " ")
}

func shellCommand(script string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		// #nosec G204
		return exec.Command("cmd", "/c", script)
	}
	// Absolute path so an overridden PATH cannot swap the shell.
	// #nosec G204
	return exec.Command("/bin/sh", "-c", script)
}
