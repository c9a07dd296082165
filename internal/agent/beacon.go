// Package agent implements the beacon: a sequential loop that polls the
// server for one task, runs it locally and reports the result.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fentz26/beacon/internal/connectors"
	"github.com/fentz26/beacon/internal/connectors/localexec"
	"github.com/fentz26/beacon/internal/logging"
	"github.com/fentz26/beacon/internal/models"
	"github.com/fentz26/beacon/internal/protocol"
)

// Config configures a Beacon.
type Config struct {
	// ServerURL is the base URL, e.g. http://127.0.0.1:9000.
	ServerURL string
	// ProxyAddr is host:port of an HTTP CONNECT proxy, or empty.
	ProxyAddr string
	// Interval is the wait before each poll.
	Interval time.Duration
	// HTTPTimeout bounds one exchange with the server.
	HTTPTimeout time.Duration
	// Executor runs commands. Defaults to localexec with its default timeout.
	Executor connectors.Connector
	Logger   *slog.Logger
}

// Beacon is the agent loop. One task is in flight at a time.
type Beacon struct {
	client   *Client
	exec     connectors.Connector
	interval time.Duration
	logger   *slog.Logger
}

// New creates a Beacon from cfg.
func New(cfg Config) (*Beacon, error) {
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("server URL is required")
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("interval must not be negative")
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.Executor == nil {
		cfg.Executor = localexec.New()
	}

	return &Beacon{
		client:   NewClient(strings.TrimRight(cfg.ServerURL, "/"), cfg.ProxyAddr, cfg.HTTPTimeout),
		exec:     cfg.Executor,
		interval: cfg.Interval,
		logger:   logging.Component(logging.OrNop(cfg.Logger), "agent"),
	}, nil
}

// Run polls until the server sends the kill sentinel, in which case it
// returns nil, or until ctx is cancelled.
func (b *Beacon) Run(ctx context.Context) error {
	b.logger.Info("beacon started", "server", b.client.baseURL, "interval", b.interval)

	timer := time.NewTimer(b.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		killed, err := b.cycle(ctx)
		if killed {
			b.logger.Info("kill acknowledged, exiting")
			return err
		}
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		timer.Reset(b.interval)
	}
}

// cycle performs one poll and, when a task arrives, one execution and one
// report. It reports killed=true once the kill acknowledgment has been sent.
func (b *Beacon) cycle(ctx context.Context) (killed bool, err error) {
	resp, err := b.client.Poll(ctx)
	if err != nil {
		return false, b.pollFailed(ctx, err)
	}
	if resp.NoWork {
		b.logger.Debug("no queued tasks")
		return false, nil
	}

	command := resp.Descriptor.Command
	if command == models.KillCommand {
		if err := b.client.SendResult(ctx, models.KilledResult()); err != nil {
			b.logger.Warn("send kill acknowledgment", "error", err)
			return true, err
		}
		return true, nil
	}

	b.logger.Info("executing", "command", command)
	result := b.execute(ctx, command)
	if err := b.client.SendResult(ctx, result); err != nil {
		b.reportFailed(err)
		return false, err
	}
	return false, nil
}

// pollFailed handles a failed poll. Connection refused is expected while the
// server is down and is only logged at debug level. Anything else is
// reported to the server on a best-effort basis.
func (b *Beacon) pollFailed(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return err
	}
	if isConnRefused(err) {
		b.logger.Debug("server unavailable", "error", err)
		return nil
	}

	kind := models.FailureAgent
	if errors.Is(err, protocol.ErrMalformed) || errors.Is(err, protocol.ErrUnsupportedVersion) {
		kind = models.FailureProtocol
	}
	b.logger.Warn("poll failed", "kind", kind, "error", err)

	report := models.FailureResult(models.Failure{Kind: kind, Message: err.Error()})
	if sendErr := b.client.SendResult(ctx, report); sendErr != nil {
		b.reportFailed(sendErr)
	}
	return err
}

func (b *Beacon) reportFailed(err error) {
	if isConnRefused(err) {
		b.logger.Debug("server unavailable, result dropped", "error", err)
		return
	}
	b.logger.Warn("send result", "error", err)
}

// execute runs command and converts the outcome into a Result.
func (b *Beacon) execute(ctx context.Context, command string) models.Result {
	argv := connectors.Argv(command)
	if len(argv) == 0 {
		return models.FailureResult(models.Failure{
			Kind:     models.FailureExec,
			Message:  localexec.ErrEmpty.Error(),
			ExitCode: -1,
		})
	}

	res, err := b.exec.Execute(ctx, argv[0], argv[1:])
	switch {
	case err == nil && res.Succeeded():
		return models.LinesResult(splitLines(res.Stdout))
	case err == nil:
		return models.FailureResult(models.Failure{
			Kind:     models.FailureExec,
			Message:  fmt.Sprintf("exit status %d", res.ExitCode),
			Args:     argv,
			ExitCode: res.ExitCode,
			Stderr:   res.Stderr,
		})
	case res != nil:
		return models.FailureResult(models.Failure{
			Kind:     models.FailureExec,
			Message:  err.Error(),
			Args:     argv,
			ExitCode: res.ExitCode,
			Stderr:   res.Stderr,
			TimedOut: res.TimedOut,
		})
	default:
		return models.FailureResult(models.Failure{
			Kind:     models.FailureExec,
			Message:  err.Error(),
			Args:     argv,
			ExitCode: -1,
		})
	}
}

// splitLines returns stdout as lines without their terminators.
func splitLines(out string) []string {
	out = strings.TrimRight(out, "\r\n")
	if out == "" {
		return []string{}
	}
	lines := strings.Split(out, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
