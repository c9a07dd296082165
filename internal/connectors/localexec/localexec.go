// Package localexec provides a local command executor with a timeout and an
// optional allowlist.
package localexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/fentz26/beacon/internal/connectors"
)

// DefaultTimeout bounds a single command.
const DefaultTimeout = 25 * time.Second

// waitDelay is how long Wait keeps reading pipes after the process is killed,
// in case a grandchild still holds them open.
const waitDelay = 2 * time.Second

var (
	ErrNotAllowed = errors.New("command not allowed")
	ErrTimeout    = errors.New("command timed out")
	ErrEmpty      = errors.New("empty command")
)

// LocalExec implements the Connector interface for local command execution.
type LocalExec struct {
	workDir string
	timeout time.Duration
	allowed map[string]bool
}

// Option configures a LocalExec.
type Option func(*LocalExec)

// WithWorkDir runs commands in dir.
func WithWorkDir(dir string) Option {
	return func(l *LocalExec) { l.workDir = dir }
}

// WithTimeout overrides DefaultTimeout. Zero disables the limit.
func WithTimeout(d time.Duration) Option {
	return func(l *LocalExec) { l.timeout = d }
}

// WithAllowlist restricts execution to the named binaries. Names are matched
// on their base name, so "/bin/ls" matches "ls".
func WithAllowlist(names ...string) Option {
	return func(l *LocalExec) {
		if len(names) == 0 {
			return
		}
		l.allowed = make(map[string]bool, len(names))
		for _, n := range names {
			l.allowed[n] = true
		}
	}
}

// New creates a new LocalExec connector.
func New(opts ...Option) *LocalExec {
	l := &LocalExec{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name returns the connector identifier.
func (l *LocalExec) Name() string {
	return "localexec"
}

// Timeout returns the per-command limit.
func (l *LocalExec) Timeout() time.Duration {
	return l.timeout
}

// IsAllowed checks cmd against the allowlist. Without an allowlist every
// command is allowed.
func (l *LocalExec) IsAllowed(cmd string, _ []string) bool {
	if cmd == "" {
		return false
	}
	if l.allowed == nil {
		return true
	}
	return l.allowed[cmd] || l.allowed[filepath.Base(cmd)]
}

// Execute runs cmd with args. A non-zero exit is returned as a result, not an
// error. A timeout returns the partial result together with ErrTimeout. A
// command that cannot be started returns only an error.
func (l *LocalExec) Execute(ctx context.Context, cmd string, args []string) (*connectors.ExecResult, error) {
	if cmd == "" {
		return nil, ErrEmpty
	}
	if !l.IsAllowed(cmd, args) {
		return nil, fmt.Errorf("%w: %s %s", ErrNotAllowed, cmd, strings.Join(args, " "))
	}

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	execCmd := exec.CommandContext(ctx, cmd, args...)
	execCmd.WaitDelay = waitDelay
	if l.workDir != "" {
		execCmd.Dir = l.workDir
	}

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	start := time.Now()
	err := execCmd.Run()

	result := &connectors.ExecResult{
		Command:  cmd,
		Args:     args,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.ExitCode = -1
		result.TimedOut = true
		return result, fmt.Errorf("%w after %s", ErrTimeout, l.timeout)
	}

	if err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			result.ExitCode = exitError.ExitCode()
			return result, nil
		}
		return nil, fmt.Errorf("exec error: %w", err)
	}
	return result, nil
}
