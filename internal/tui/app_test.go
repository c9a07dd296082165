package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fentz26/beacon/internal/controlplane"
	"github.com/fentz26/beacon/internal/models"
	"github.com/fentz26/beacon/internal/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeAndEnterQueues(t *testing.T) {
	svc, app := newTestApp()

	typeText(app, "whoami")
	app.Update(tea.KeyMsg{Type: tea.KeyEnter})

	assert.Equal(t, 1, svc.Snapshot().Pending)
	assert.Equal(t, "", app.input.Value())
	assert.Contains(t, app.message, `Queued "whoami"`)
	assert.Contains(t, app.View(), "1 queued")
}

func TestKillNeedsConfirmation(t *testing.T) {
	svc, app := newTestApp()
	svc.Queue("a")

	app.Update(tea.KeyMsg{Type: tea.KeyCtrlK})
	assert.Equal(t, modeConfirmKill, app.mode)
	app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("n")})
	assert.Equal(t, modeList, app.mode)
	assert.False(t, svc.KillScheduled())

	app.Update(tea.KeyMsg{Type: tea.KeyCtrlK})
	_, cmd := app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("y")})
	assert.NotNil(t, cmd)
	assert.Equal(t, modeKilling, app.mode)
	assert.True(t, svc.KillScheduled())
	assert.Contains(t, app.View(), "Please wait.")

	_, cmd = app.Update(shutdownMsg{})
	assert.NotNil(t, cmd)
	assert.True(t, app.KillAcknowledged())
	assert.Contains(t, app.View(), "Received Kill Confirmation")

	_, cmd = app.Update(quitMsg{})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestQuitDeclined(t *testing.T) {
	_, app := newTestApp()

	app.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.Equal(t, modeConfirmQuit, app.mode)
	_, cmd := app.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Nil(t, cmd)
	assert.Equal(t, modeList, app.mode)
}

func TestOpenCompletedTask(t *testing.T) {
	svc, app := newTestApp()
	for _, c := range []string{"first", "second"} {
		svc.Queue(c)
		svc.NextTask()
		svc.SubmitResult(models.LinesResult([]string{c + " output"}))
	}

	app.Update(eventMsg{controlplane.Event{Kind: controlplane.EventCompleted}})
	require.Len(t, app.completed, 2)
	assert.Contains(t, app.View(), "second")

	// Newest first; move down to the older task.
	app.Update(tea.KeyMsg{Type: tea.KeyDown})
	app.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, modeDetail, app.mode)
	assert.Contains(t, app.viewport.View(), "first output")

	app.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, modeList, app.mode)
}

func TestResultsAction(t *testing.T) {
	svc, app := newTestApp()
	svc.Queue("id")

	typeText(app, "/results")
	app.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, modeResults, app.mode)
	assert.Contains(t, app.viewport.View(), "1 task(s) queued")
}

func TestQueueAfterKillShowsError(t *testing.T) {
	svc, app := newTestApp()
	svc.Kill()

	typeText(app, "whoami")
	app.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.True(t, strings.HasPrefix(app.message, "Error"))
}

func TestSuggestionsHistory(t *testing.T) {
	s := NewSuggestions()
	s.Remember("whoami")
	s.Remember("hostname")
	s.Remember("whoami")

	s.Update("!")
	require.True(t, s.IsVisible())
	assert.Equal(t, "whoami", s.Selected().Text)
	s.Next()
	assert.Equal(t, "hostname", s.Selected().Text)

	s.Update("!host")
	require.True(t, s.IsVisible())
	assert.Equal(t, "hostname", s.Selected().Text)

	s.Update("/ki")
	assert.Equal(t, "/kill", s.Selected().Text)

	s.Update("ls")
	assert.False(t, s.IsVisible())
}

// Helper functions

func newTestApp() (*controlplane.Service, *App) {
	svc := controlplane.NewService(tasks.NewManager(), nil, nil, nil)
	return svc, New(svc)
}

func typeText(app *App, text string) {
	app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
}
