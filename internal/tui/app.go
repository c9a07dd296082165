// Package tui provides the interactive operator console for the beacon
// server.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/beacon/internal/console"
	"github.com/fentz26/beacon/internal/controlplane"
	"github.com/fentz26/beacon/internal/models"
	"github.com/fentz26/beacon/internal/tasks"
)

// Backend is what the TUI drives. *controlplane.Service satisfies it.
type Backend interface {
	console.Backend
	Completed() []models.Task
}

type mode int

const (
	modeList mode = iota
	modeDetail
	modeResults
	modeConfirmKill
	modeConfirmQuit
	modeKilling
)

// App is the main TUI application model.
type App struct {
	backend     Backend
	input       textinput.Model
	viewport    viewport.Model
	suggestions *Suggestions
	snapshot    tasks.Snapshot
	completed   []models.Task
	selectedIdx int
	width       int
	height      int
	mode        mode
	message     string
	dots        int
	killAcked   bool
}

// New creates a new TUI application.
func New(b Backend) *App {
	ti := textinput.New()
	ti.Placeholder = "Command to queue | / for actions | ! for history"
	ti.Focus()
	ti.CharLimit = 1024
	ti.Width = 80

	a := &App{
		backend:     b,
		input:       ti,
		viewport:    viewport.New(80, 20),
		suggestions: NewSuggestions(),
		width:       80,
		height:      24,
	}
	a.reload()
	return a
}

// Run starts the TUI and blocks until the operator quits, the kill is
// acknowledged or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	p := tea.NewProgram(a, tea.WithAltScreen())

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			p.Quit()
		case <-done:
		}
	}()

	_, err := p.Run()
	return err
}

// KillAcknowledged reports whether the TUI exited after the agent confirmed
// a kill.
func (a *App) KillAcknowledged() bool {
	return a.killAcked
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		a.waitForEvent(),
		a.waitForShutdown(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if model, cmd, handled := a.handleKey(msg); handled {
			return model, cmd
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.input.Width = msg.Width - 6
		a.viewport.Width = msg.Width
		a.viewport.Height = max(msg.Height-10, 5)

	case eventMsg:
		a.reload()
		a.message = describeEvent(msg.event)
		return a, a.waitForEvent()

	case shutdownMsg:
		a.killAcked = true
		a.mode = modeKilling
		a.message = "Received Kill Confirmation"
		return a, tea.Tick(time.Second, func(time.Time) tea.Msg { return quitMsg{} })

	case quitMsg:
		return a, tea.Quit

	case dotMsg:
		if a.mode == modeKilling && !a.killAcked {
			a.dots++
			return a, a.dotCmd()
		}
		return a, nil
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	if a.mode == modeDetail || a.mode == modeResults {
		a.viewport, cmd = a.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}
	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)
	a.suggestions.Update(a.input.Value())

	return a, tea.Batch(cmds...)
}

// handleKey processes keys that drive the console. handled=false lets the
// key fall through to the text input.
func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd, bool) {
	key := msg.String()

	switch a.mode {
	case modeConfirmKill, modeConfirmQuit:
		confirmed := key == "y" || key == "Y"
		if !confirmed {
			a.mode = modeList
			a.message = ""
			return a, nil, true
		}
		if a.mode == modeConfirmQuit {
			return a, tea.Quit, true
		}
		return a, a.kill(), true

	case modeKilling:
		if key == "ctrl+c" {
			return a, tea.Quit, true
		}
		return a, nil, true
	}

	switch key {
	case "ctrl+c":
		a.mode = modeConfirmQuit
		return a, nil, true

	case "ctrl+k":
		a.mode = modeConfirmKill
		return a, nil, true

	case "esc":
		if a.suggestions.IsVisible() {
			a.input.SetValue("")
			a.suggestions.Update("")
			return a, nil, true
		}
		if a.mode != modeList {
			a.mode = modeList
			return a, nil, true
		}

	case "up":
		if a.suggestions.IsVisible() {
			a.suggestions.Prev()
			return a, nil, true
		}
		if a.mode == modeList && a.selectedIdx > 0 {
			a.selectedIdx--
			return a, nil, true
		}

	case "down":
		if a.suggestions.IsVisible() {
			a.suggestions.Next()
			return a, nil, true
		}
		if a.mode == modeList && a.selectedIdx < len(a.completed)-1 {
			a.selectedIdx++
			return a, nil, true
		}

	case "tab":
		if selected := a.suggestions.Selected(); selected != nil {
			a.input.SetValue(selected.Text)
			a.input.CursorEnd()
			a.suggestions.Update("")
		}
		return a, nil, true

	case "enter":
		if selected := a.suggestions.Selected(); selected != nil && selected.Text != a.input.Value() {
			a.input.SetValue(selected.Text)
			a.input.CursorEnd()
			a.suggestions.Update("")
			return a, nil, true
		}
		text := strings.TrimSpace(a.input.Value())
		a.input.SetValue("")
		a.suggestions.Update("")
		if text == "" {
			a.openSelected()
			return a, nil, true
		}
		if strings.HasPrefix(text, "/") {
			return a.runAction(text)
		}
		a.queue(strings.TrimPrefix(text, "!"))
		return a, nil, true
	}
	return a, nil, false
}

func (a *App) runAction(action string) (tea.Model, tea.Cmd, bool) {
	switch action {
	case "/results":
		a.mode = modeResults
		a.viewport.SetContent(console.Results(a.backend.Snapshot()))
		a.viewport.GotoTop()
	case "/kill":
		a.mode = modeConfirmKill
	case "/quit":
		a.mode = modeConfirmQuit
	case "/help":
		a.message = "Enter: queue / open | Up/Down: select | Ctrl+K: kill | Ctrl+C: quit | Esc: back"
	default:
		a.message = fmt.Sprintf("Error: unknown action %s", action)
	}
	return a, nil, true
}

func (a *App) queue(command string) {
	command = strings.TrimSpace(command)
	if command == "" {
		return
	}
	task, err := a.backend.Queue(command)
	if err != nil {
		a.message = "Error: " + err.Error()
		return
	}
	a.suggestions.Remember(command)
	a.message = fmt.Sprintf("Queued %q", task.Command)
	a.reload()
}

func (a *App) kill() tea.Cmd {
	abandoned := a.backend.Kill()
	a.mode = modeKilling
	a.message = fmt.Sprintf("Kill scheduled, %d task(s) abandoned", abandoned)
	a.reload()
	return a.dotCmd()
}

func (a *App) openSelected() {
	if len(a.completed) == 0 || a.selectedIdx >= len(a.completed) {
		return
	}
	t := a.completed[len(a.completed)-1-a.selectedIdx]
	a.mode = modeDetail
	a.viewport.SetContent(renderTaskDetail(t))
	a.viewport.GotoTop()
}

func (a *App) reload() {
	a.snapshot = a.backend.Snapshot()
	a.completed = a.backend.Completed()
	if a.selectedIdx >= len(a.completed) {
		a.selectedIdx = max(0, len(a.completed)-1)
	}
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	header := titleStyle.Render("BEACON Operator Console")
	header += "  " + countStyle.Render(fmt.Sprintf("[%d queued | %d in flight | %d completed]",
		a.snapshot.Pending, a.snapshot.Dispatched, a.snapshot.Completed))
	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("-", max(a.width, 1)) + "\n")

	contentHeight := max(a.height-8, 5)

	switch a.mode {
	case modeList:
		b.WriteString(renderTaskList(a.completed, a.selectedIdx, contentHeight))
	case modeDetail, modeResults:
		b.WriteString(a.viewport.View())
	case modeConfirmKill:
		b.WriteString(confirmStyle.Render("Clear the queue and kill the agent? y for yes"))
	case modeConfirmQuit:
		b.WriteString(confirmStyle.Render("Would you like to quit? y for yes"))
	case modeKilling:
		if a.killAcked {
			b.WriteString("\n  Received Kill Confirmation\n")
		} else {
			b.WriteString("\n  Kill scheduled...\n  Please wait." + strings.Repeat(".", a.dots) + "\n")
		}
	}

	// Message bar
	b.WriteString("\n")
	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString(msgStyle.Render(a.message))
	}

	// Input box
	b.WriteString("\n")
	b.WriteString(inputBoxStyle.Render(a.input.View()))

	if a.suggestions.IsVisible() {
		b.WriteString("\n")
		b.WriteString(a.suggestions.Render(a.width))
	}
	b.WriteString("\n")

	var status string
	switch a.mode {
	case modeDetail, modeResults:
		status = " Up/Down/PgUp/PgDn:scroll | Esc:back | Ctrl+C:quit"
	default:
		status = " Enter:queue/open | Up/Down:select | Ctrl+K:kill | Ctrl+C:quit | /help"
	}
	b.WriteString(statusBarStyle.Width(max(a.width, 1)).Render(status))

	return b.String()
}

type eventMsg struct {
	event controlplane.Event
}

type shutdownMsg struct{}

type quitMsg struct{}

type dotMsg struct{}

func (a *App) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		return eventMsg{<-a.backend.Events()}
	}
}

func (a *App) waitForShutdown() tea.Cmd {
	return func() tea.Msg {
		<-a.backend.Shutdown().Done()
		return shutdownMsg{}
	}
}

func (a *App) dotCmd() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg { return dotMsg{} })
}

func describeEvent(e controlplane.Event) string {
	switch e.Kind {
	case controlplane.EventQueued:
		return fmt.Sprintf("Queued %q", e.Task.Command)
	case controlplane.EventDispatched:
		return fmt.Sprintf("A client picked up a task: %s", e.Task.Command)
	case controlplane.EventCompleted:
		return fmt.Sprintf("A client has completed a task: %s", e.Task.Command)
	case controlplane.EventKillScheduled:
		return fmt.Sprintf("Kill scheduled, %d task(s) abandoned", e.Abandoned)
	case controlplane.EventKillAcknowledged:
		return "Received Kill Confirmation"
	default:
		return ""
	}
}
