// Package config loads the keepr TOML configuration with viper.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/keepr/internal/env"
	"github.com/loykin/keepr/internal/logger"
	"github.com/loykin/keepr/internal/process"
	"github.com/loykin/keepr/internal/registry"
	"github.com/loykin/keepr/internal/security"
)

// EnvPrefix is the prefix of environment variables that override file values,
// e.g. KEEPR_SERVER_LISTEN.
const EnvPrefix = "KEEPR"

// Config represents the top-level TOML structure.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         logger.Config     `mapstructure:"log"`
	Supervisor  SupervisorConfig  `mapstructure:"supervisor"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	History     HistoryConfig     `mapstructure:"history"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Processes   []ProcConfig      `mapstructure:"processes"`

	// path of the file this config was read from, "" for defaults only
	file string
}

type ServerConfig struct {
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
}

type SupervisorConfig struct {
	OutputCapacity   int           `mapstructure:"output_capacity"`
	StopTimeout      time.Duration `mapstructure:"stop_timeout"`
	KillGrace        time.Duration `mapstructure:"kill_grace"`
	AllowedRoots     []string      `mapstructure:"allowed_roots"`
	AllowShell       bool          `mapstructure:"allow_shell"`
	DeniedEnv        []string      `mapstructure:"denied_env"`
	SuccessExitCodes []int         `mapstructure:"success_exit_codes"`
	Env              []string      `mapstructure:"env"`
	EnvFiles         []string      `mapstructure:"env_files"`
	ProcessLogDir    string        `mapstructure:"process_log_dir"`
}

type PersistenceConfig struct {
	SnapshotPath     string        `mapstructure:"snapshot_path"`
	AutoSaveInterval time.Duration `mapstructure:"auto_save_interval"`
	Debounce         time.Duration `mapstructure:"debounce"`
	SaveOnShutdown   bool          `mapstructure:"save_on_shutdown"`
}

type HistoryConfig struct {
	// Sinks are DSNs understood by history/factory.
	Sinks     []string `mapstructure:"sinks"`
	QueueSize int      `mapstructure:"queue_size"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Listen serves /metrics on a separate address; empty mounts it on the
	// API server.
	Listen         string        `mapstructure:"listen"`
	SampleInterval time.Duration `mapstructure:"sample_interval"`
}

// ProcConfig declares a record that is created at boot when the restored
// state does not already contain its id.
type ProcConfig struct {
	ID      string   `mapstructure:"id"`
	Name    string   `mapstructure:"name"`
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
	// Env is a list of "K=V" pairs; viper folds map keys to lower case.
	Env       []string `mapstructure:"env"`
	Cwd       string   `mapstructure:"cwd"`
	Shell     bool     `mapstructure:"shell"`
	AutoStart bool     `mapstructure:"auto_start"`
	Tags      []string `mapstructure:"tags"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "127.0.0.1:8420")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("log.slog.level", "info")
	v.SetDefault("log.slog.format", "text")
	v.SetDefault("supervisor.output_capacity", 5000)
	v.SetDefault("supervisor.stop_timeout", "10s")
	v.SetDefault("supervisor.kill_grace", "5s")
	v.SetDefault("supervisor.allow_shell", false)
	v.SetDefault("supervisor.success_exit_codes", []int{0})
	v.SetDefault("persistence.snapshot_path", "keepr-state.yaml")
	v.SetDefault("persistence.auto_save_interval", "5m")
	v.SetDefault("persistence.debounce", "2s")
	v.SetDefault("persistence.save_on_shutdown", true)
	v.SetDefault("history.queue_size", 1024)
	v.SetDefault("metrics.sample_interval", "15s")
}

// Load reads path (TOML) on top of the defaults and KEEPR_* environment
// overrides. An empty path yields defaults plus environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.file = path
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects values that cannot work.
func (c *Config) Validate() error {
	if c.Supervisor.OutputCapacity < 0 {
		return fmt.Errorf("supervisor.output_capacity must not be negative")
	}
	if c.Supervisor.StopTimeout < 0 {
		return fmt.Errorf("supervisor.stop_timeout must not be negative")
	}
	if c.Supervisor.KillGrace < 0 {
		return fmt.Errorf("supervisor.kill_grace must not be negative")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("server.base_path must start with '/'")
	}
	seen := map[string]bool{}
	for i, p := range c.Processes {
		if p.ID == "" {
			return fmt.Errorf("processes[%d]: id is required", i)
		}
		if p.Command == "" {
			return fmt.Errorf("process %s: command is required", p.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf("process %s declared twice", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}

// resolve makes a relative path relative to the config file's directory.
func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.file == "" {
		return p
	}
	return filepath.Join(filepath.Dir(c.file), p)
}

// SnapshotPath is the snapshot file, resolved against the config directory.
func (c *Config) SnapshotPath() string { return c.resolve(c.Persistence.SnapshotPath) }

// Validator builds the security validator.
func (c *Config) Validator() *security.Validator {
	roots := make([]string, 0, len(c.Supervisor.AllowedRoots))
	for _, r := range c.Supervisor.AllowedRoots {
		roots = append(roots, c.resolve(r))
	}
	return &security.Validator{
		AllowedRoots: roots,
		AllowShell:   c.Supervisor.AllowShell,
		DeniedEnv:    c.Supervisor.DeniedEnv,
	}
}

// ExitPolicy builds the exit classification policy.
func (c *Config) ExitPolicy() process.ExitPolicy {
	if len(c.Supervisor.SuccessExitCodes) == 0 {
		return process.DefaultExitPolicy()
	}
	return process.ExitPolicy{SuccessCodes: append([]int(nil), c.Supervisor.SuccessExitCodes...)}
}

// GlobalEnv composes the environment applied to every child: env files in
// order, then the inline env list.
func (c *Config) GlobalEnv() (*env.Env, error) {
	e := env.New()
	for _, p := range c.Supervisor.EnvFiles {
		vars, err := env.LoadFile(c.resolve(p))
		if err != nil {
			return nil, fmt.Errorf("env file: %w", err)
		}
		for k, v := range vars {
			e.Set(k, v)
		}
	}
	e.SetPairs(c.Supervisor.Env)
	return e, nil
}

// ProcessLogs is the logger config used to mirror child output to files.
func (c *Config) ProcessLogs() logger.Config {
	lc := c.Log
	lc.File.Dir = c.resolve(c.Supervisor.ProcessLogDir)
	lc.File.StdoutPath = ""
	lc.File.StderrPath = ""
	return lc
}

// Records converts the declared processes into record configs.
func (c *Config) Records() []registry.Config {
	out := make([]registry.Config, 0, len(c.Processes))
	for _, p := range c.Processes {
		var penv map[string]string
		for _, kv := range p.Env {
			if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
				if penv == nil {
					penv = make(map[string]string)
				}
				penv[k] = v
			}
		}
		out = append(out, registry.Config{
			ID:                 p.ID,
			Name:               p.Name,
			Command:            p.Command,
			Args:               p.Args,
			Env:                penv,
			Cwd:                p.Cwd,
			Shell:              p.Shell,
			AutoStartOnRestore: p.AutoStart,
			Tags:               p.Tags,
		})
	}
	return out
}
