package main

import "time"

// GlobalFlags are shared by every command.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
}

// CreateFlags holds flags for the create command.
type CreateFlags struct {
	Name      string
	Command   string
	Args      []string
	Env       []string
	Cwd       string
	Shell     bool
	AutoStart bool
	Tags      []string
}

// StopFlags holds flags for stop and restart.
type StopFlags struct {
	Timeout time.Duration
}

// ListFlags holds flags for the list command.
type ListFlags struct {
	Filter string
	Name   string
	JSON   bool
}

// LogsFlags holds flags for the logs command.
type LogsFlags struct {
	Limit  int
	Stream string
	JSON   bool
}

// ValidateFlags holds flags for the offline validate command.
type ValidateFlags struct {
	Command string
	Args    []string
	Env     []string
	Cwd     string
	Shell   bool
}
