// Package console implements the line-oriented operator menu used when the
// server has no interactive terminal or runs with --plain.
package console

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/fentz26/beacon/internal/controlplane"
	"github.com/fentz26/beacon/internal/logging"
	"github.com/fentz26/beacon/internal/models"
	"github.com/fentz26/beacon/internal/protocol"
	"github.com/fentz26/beacon/internal/tasks"
)

const menu = `
    1. Enter a command to queue
    2. Check Results
    3. KILL, will clear queue and schedule kill.
    0. Exit
`

// Backend is the part of controlplane.Service the console drives.
type Backend interface {
	Queue(command string) (models.Task, error)
	Snapshot() tasks.Snapshot
	Kill() int
	Shutdown() *controlplane.ShutdownSignal
	Events() <-chan controlplane.Event
}

// Console is the plain operator REPL.
type Console struct {
	backend Backend
	in      io.Reader
	out     io.Writer
	logger  *slog.Logger
	lines   chan string

	// dotEvery paces the progress dots while waiting for a kill
	// acknowledgment.
	dotEvery time.Duration
}

// New creates a console reading choices from in and writing to out.
func New(b Backend, in io.Reader, out io.Writer, logger *slog.Logger) *Console {
	return &Console{
		backend:  b,
		in:       in,
		out:      out,
		logger:   logging.Component(logging.OrNop(logger), "console"),
		dotEvery: time.Second,
	}
}

// Run shows the menu until the operator exits, a kill is acknowledged or ctx
// is cancelled. When input closes the console keeps serving until one of the
// other two happens.
func (c *Console) Run(ctx context.Context) error {
	c.lines = make(chan string)
	go c.scan()

	for {
		fmt.Fprint(c.out, menu)
		choice, ok := c.prompt(ctx, "> ")
		if !ok {
			return c.waitDetached(ctx)
		}

		switch choice {
		case "1":
			c.queue(ctx)
		case "2":
			c.viewResults()
		case "3":
			return c.kill(ctx)
		case "0":
			answer, ok := c.prompt(ctx, "\nWould you like to quit? y for yes: ")
			if !ok {
				return c.waitDetached(ctx)
			}
			if answer == "y" {
				fmt.Fprintln(c.out, "Exiting")
				return nil
			}
		case "":
		default:
			fmt.Fprintf(c.out, "Unknown option %q\n", choice)
		}
	}
}

func (c *Console) queue(ctx context.Context) {
	command, ok := c.prompt(ctx, "Command To Queue > ")
	if !ok || command == "" {
		return
	}
	task, err := c.backend.Queue(command)
	if err != nil {
		fmt.Fprintf(c.out, "Could not queue command: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Queued %q (%s)\n", task.Command, task.ID)
}

func (c *Console) viewResults() {
	fmt.Fprint(c.out, Results(c.backend.Snapshot()))
}

func (c *Console) kill(ctx context.Context) error {
	abandoned := c.backend.Kill()
	fmt.Fprintf(c.out, "Kill scheduled, %d task(s) abandoned...\n", abandoned)
	fmt.Fprint(c.out, "Please wait.")

	ticker := time.NewTicker(c.dotEvery)
	defer ticker.Stop()
	for {
		select {
		case <-c.backend.Shutdown().Done():
			fmt.Fprintln(c.out, "\nReceived Kill Confirmation")
			return nil
		case <-ctx.Done():
			fmt.Fprintln(c.out)
			return ctx.Err()
		case <-ticker.C:
			fmt.Fprint(c.out, ".")
		}
	}
}

// waitDetached keeps the server alive after input has closed.
func (c *Console) waitDetached(ctx context.Context) error {
	c.logger.Info("console input closed, serving until shutdown")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.backend.Shutdown().Done():
			return nil
		case e := <-c.backend.Events():
			c.notify(e)
		}
	}
}

// prompt prints p and waits for one line, printing notifications while it
// waits. ok is false when input has closed or ctx is done.
func (c *Console) prompt(ctx context.Context, p string) (line string, ok bool) {
	fmt.Fprint(c.out, p)
	for {
		select {
		case <-ctx.Done():
			return "", false
		case e := <-c.backend.Events():
			c.notify(e)
		case line, ok := <-c.lines:
			return strings.TrimSpace(line), ok
		}
	}
}

func (c *Console) notify(e controlplane.Event) {
	switch e.Kind {
	case controlplane.EventDispatched:
		fmt.Fprintf(c.out, "\nA client picked up a task: %s\n", e.Task.Command)
	case controlplane.EventCompleted:
		fmt.Fprintf(c.out, "\nA client has completed a task: %s\n", e.Task.Command)
	}
}

func (c *Console) scan() {
	defer close(c.lines)
	s := bufio.NewScanner(c.in)
	for s.Scan() {
		c.lines <- s.Text()
	}
}

// Results renders the last completed task and the queue counts.
func Results(snap tasks.Snapshot) string {
	var b strings.Builder
	if snap.LastCompleted != nil {
		data, err := json.MarshalIndent(protocol.Describe(*snap.LastCompleted), "", "    ")
		if err != nil {
			fmt.Fprintf(&b, "Could not render last task: %v\n", err)
		} else {
			b.Write(data)
			b.WriteByte('\n')
		}
	} else {
		b.WriteString("No completed commands in history\n")
	}
	fmt.Fprintf(&b, "%d task(s) queued\n", snap.Pending)
	fmt.Fprintf(&b, "%d task(s) awaiting completion\n", snap.Dispatched)
	fmt.Fprintf(&b, "%d task(s) completed\n", snap.Completed)
	return b.String()
}
