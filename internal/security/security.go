// Package security validates a prospective command, its arguments, environment
// overrides and working directory before keepr spawns anything.
//
// All checks are synchronous and free of side effects; a failure is reported as
// a *ValidationError and never mutates supervisor state.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// Kind classifies a validation failure.
type Kind string

const (
	KindEmptyCommand  Kind = "empty_command"
	KindShellMeta     Kind = "shell_metacharacter"
	KindControlChar   Kind = "control_character"
	KindDeniedEnv     Kind = "denied_env"
	KindInvalidEnv    Kind = "invalid_env"
	KindPathTraversal Kind = "path_traversal"
)

// ValidationError reports why an input was rejected.
type ValidationError struct {
	Kind   Kind
	Field  string // command, args[i], env[KEY], cwd
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed (%s): %s: %s", e.Kind, e.Field, e.Reason)
}

// IsPathTraversal reports whether err is a cwd rejection.
func IsPathTraversal(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) && ve.Kind == KindPathTraversal
}

func reject(kind Kind, field, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Field: field, Reason: fmt.Sprintf(format, args...)}
}

// chainSequences are rejected anywhere in a command or argument on the
// default (direct argv) execution path.
var chainSequences = []string{"&&", "||", "$(", "${", ">>", "<<", "&>"}

// metaChars are single characters with shell meaning.
const metaChars = "|;&`<>\n\r"

// DefaultDeniedEnv lists variables that control the execution context of the
// child's loader or shell, or of the supervisor itself.
var DefaultDeniedEnv = []string{
	"LD_PRELOAD",
	"LD_LIBRARY_PATH",
	"LD_AUDIT",
	"DYLD_INSERT_LIBRARIES",
	"DYLD_LIBRARY_PATH",
	"DYLD_FRAMEWORK_PATH",
	"PATH",
	"IFS",
	"BASH_ENV",
	"ENV",
	"SHELLOPTS",
	"PS4",
}

// ReservedEnvPrefix is the prefix of variables owned by the supervisor.
const ReservedEnvPrefix = "KEEPR_"

// Input is everything the validator inspects for one start.
type Input struct {
	Command string
	Args    []string
	Env     map[string]string
	Cwd     string
	// Shell is the explicit opt-in to raw-shell execution. It disables the
	// meta-character checks on command and args only.
	Shell bool
}

// Validator holds the configurable part of the checks.
// The zero value is usable: no root restriction, default deny-list, no shell.
type Validator struct {
	// AllowedRoots restricts cwd to these directories (and their children).
	// Empty means any existing directory is accepted.
	AllowedRoots []string
	// AllowShell permits records that opted into raw-shell execution.
	AllowShell bool
	// DeniedEnv is appended to DefaultDeniedEnv.
	DeniedEnv []string
}

// Result carries normalized values produced by a successful validation.
type Result struct {
	// Cwd is the absolute, symlink-resolved working directory ("" if none).
	Cwd string
}

// Validate runs every check in order and returns the first failure.
func (v *Validator) Validate(in Input) (Result, error) {
	if in.Shell && !v.AllowShell {
		return Result{}, reject(KindShellMeta, "shell", "raw shell execution is disabled")
	}
	if err := ValidateCommand(in.Command, in.Shell); err != nil {
		return Result{}, err
	}
	if err := ValidateArgs(in.Args, in.Shell); err != nil {
		return Result{}, err
	}
	if err := ValidateEnv(in.Env, v.DeniedEnv...); err != nil {
		return Result{}, err
	}
	cwd, err := ResolveWorkDir(in.Cwd, v.AllowedRoots)
	if err != nil {
		return Result{}, err
	}
	return Result{Cwd: cwd}, nil
}

// ValidateCommand rejects empty commands, control characters and, unless
// shell is set, shell meta-characters and chaining sequences.
func ValidateCommand(command string, shell bool) error {
	if strings.TrimSpace(command) == "" {
		return reject(KindEmptyCommand, "command", "command cannot be empty")
	}
	if strings.ContainsRune(command, 0) {
		return reject(KindControlChar, "command", "contains NUL byte")
	}
	if shell {
		return nil
	}
	if err := checkMeta("command", command); err != nil {
		return err
	}
	for _, r := range command {
		if unicode.IsControl(r) {
			return reject(KindControlChar, "command", "contains control character %q", r)
		}
	}
	return nil
}

// ValidateArgs applies the same rules as ValidateCommand to each argument.
// Arguments may be empty strings; they are passed verbatim to the child.
func ValidateArgs(args []string, shell bool) error {
	for i, a := range args {
		field := fmt.Sprintf("args[%d]", i)
		if strings.ContainsRune(a, 0) {
			return reject(KindControlChar, field, "contains NUL byte")
		}
		for _, r := range a {
			if unicode.IsControl(r) && r != '\t' && !(shell && (r == '\n' || r == '\r')) {
				return reject(KindControlChar, field, "contains control character %q", r)
			}
		}
		if shell {
			continue
		}
		if err := checkMeta(field, a); err != nil {
			return err
		}
	}
	return nil
}

func checkMeta(field, s string) error {
	for _, seq := range chainSequences {
		if strings.Contains(s, seq) {
			return reject(KindShellMeta, field, "contains shell sequence %q", seq)
		}
	}
	if i := strings.IndexAny(s, metaChars); i >= 0 {
		return reject(KindShellMeta, field, "contains shell metacharacter %q", s[i])
	}
	return nil
}

// ValidateEnv rejects deny-listed keys, the reserved prefix, malformed keys and
// keys or values carrying NUL or control characters (tab is allowed in values).
func ValidateEnv(env map[string]string, extraDenied ...string) error {
	for k, v := range env {
		field := "env[" + k + "]"
		if k == "" {
			return reject(KindInvalidEnv, "env", "empty variable name")
		}
		if !isEnvName(k) {
			return reject(KindInvalidEnv, field, "invalid variable name")
		}
		if isDenied(k, extraDenied) {
			return reject(KindDeniedEnv, field, "overriding %s is not allowed", k)
		}
		for _, r := range v {
			if r == 0 || (unicode.IsControl(r) && r != '\t') {
				return reject(KindControlChar, field, "value contains control character %q", r)
			}
		}
	}
	return nil
}

func isEnvName(k string) bool {
	for i, r := range k {
		switch {
		case r == '_', r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func isDenied(k string, extra []string) bool {
	if strings.HasPrefix(strings.ToUpper(k), ReservedEnvPrefix) {
		return true
	}
	for _, d := range DefaultDeniedEnv {
		if strings.EqualFold(k, d) {
			return true
		}
	}
	for _, d := range extra {
		if strings.EqualFold(k, strings.TrimSpace(d)) {
			return true
		}
	}
	return false
}

// ResolveWorkDir turns cwd into an absolute, symlink-free directory path and
// checks it against roots. An empty cwd is accepted and returned as "". A cwd
// outside the roots, missing, or not a directory is a path traversal.
func ResolveWorkDir(cwd string, roots []string) (string, error) {
	if strings.TrimSpace(cwd) == "" {
		return "", nil
	}
	if strings.ContainsRune(cwd, 0) {
		return "", reject(KindControlChar, "cwd", "contains NUL byte")
	}
	abs, err := filepath.Abs(cwd)
	if err != nil {
		return "", reject(KindPathTraversal, "cwd", "cannot resolve %q: %v", cwd, err)
	}
	if len(roots) > 0 && !withinAny(roots, abs) {
		return "", reject(KindPathTraversal, "cwd", "%q escapes the permitted roots", abs)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", reject(KindPathTraversal, "cwd", "working directory %q does not exist", abs)
	}
	fi, err := os.Stat(resolved)
	if err != nil || !fi.IsDir() {
		return "", reject(KindPathTraversal, "cwd", "%q is not a directory", abs)
	}
	if len(roots) > 0 && !withinAny(roots, resolved) {
		return "", reject(KindPathTraversal, "cwd", "%q escapes the permitted roots", abs)
	}
	return resolved, nil
}

// withinAny matches p against each root both as written and with symlinks
// resolved.
func withinAny(roots []string, p string) bool {
	for _, root := range roots {
		if strings.TrimSpace(root) == "" {
			continue
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		if within(abs, p) {
			return true
		}
		if r, err := filepath.EvalSymlinks(abs); err == nil && within(r, p) {
			return true
		}
	}
	return false
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
