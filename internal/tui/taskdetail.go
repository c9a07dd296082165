package tui

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/beacon/internal/models"
	"github.com/fentz26/beacon/internal/protocol"
)

var (
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			MarginTop(1)
)

// renderTaskDetail renders one completed task for the viewport: timing
// metadata followed by the task as it is written to the session log.
func renderTaskDetail(t models.Task) string {
	var b strings.Builder

	b.WriteString(lipgloss.NewStyle().Bold(true).Render(t.Command) + "\n")
	b.WriteString(labelStyle.Render("ID: ") + t.ID + "\n")
	b.WriteString(labelStyle.Render("Queued: ") + formatTime(&t.CreatedAt) + "\n")
	b.WriteString(labelStyle.Render("Dispatched: ") + formatTime(t.DispatchedAt) + "\n")
	b.WriteString(labelStyle.Render("Completed: ") + formatTime(t.CompletedAt) + "\n")
	if t.DispatchedAt != nil && t.CompletedAt != nil {
		b.WriteString(labelStyle.Render("Round trip: ") + t.CompletedAt.Sub(*t.DispatchedAt).Round(time.Millisecond).String() + "\n")
	}

	b.WriteString(sectionStyle.Render("Record") + "\n")
	data, err := json.MarshalIndent(protocol.Describe(t), "", "    ")
	if err != nil {
		b.WriteString(fmt.Sprintf("could not render: %v\n", err))
	} else {
		b.Write(data)
		b.WriteString("\n")
	}

	if t.Result != nil && t.Result.Failure != nil && t.Result.Failure.Stderr != "" {
		b.WriteString(sectionStyle.Render("Stderr") + "\n")
		b.WriteString(t.Result.Failure.Stderr)
		if !strings.HasSuffix(t.Result.Failure.Stderr, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func formatTime(ts *time.Time) string {
	if ts == nil || ts.IsZero() {
		return "-"
	}
	return ts.Local().Format("2006-01-02 15:04:05")
}
