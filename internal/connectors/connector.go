// Package connectors defines the command executor interface used by the
// beacon agent.
package connectors

import (
	"context"
	"strings"
	"time"
)

// ExecResult holds the result of a command execution.
type ExecResult struct {
	Command  string        `json:"command"`
	Args     []string      `json:"args"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	TimedOut bool          `json:"timed_out,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Succeeded reports a clean zero exit.
func (r *ExecResult) Succeeded() bool {
	return r != nil && r.ExitCode == 0 && !r.TimedOut
}

// Connector defines the interface for executing commands.
type Connector interface {
	// Name returns the connector identifier.
	Name() string

	// Execute runs a command and returns the result.
	Execute(ctx context.Context, cmd string, args []string) (*ExecResult, error)

	// IsAllowed checks if a command is allowed to execute.
	IsAllowed(cmd string, args []string) bool
}

// Argv splits an operator command into argv on whitespace, after prefixing
// the platform shell where one is required. Quoting is not supported.
func Argv(command string) []string {
	return strings.Fields(shellPrefix + command)
}
