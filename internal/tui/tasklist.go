package tui

import (
	"fmt"
	"strings"

	"github.com/fentz26/beacon/internal/models"
)

// formatOutcome labels a completed task by its result kind.
func formatOutcome(t models.Task) string {
	switch {
	case t.Result == nil:
		return "?"
	case t.Result.Killed:
		return statusKilled.Render("KILLED")
	case t.Result.IsFailure():
		return statusFailed.Render("FAILED")
	default:
		return statusCompleted.Render("DONE  ")
	}
}

func formatOutcomePlain(t models.Task) string {
	switch {
	case t.Result == nil:
		return "?"
	case t.Result.Killed:
		return "KILLED"
	case t.Result.IsFailure():
		return "FAILED"
	default:
		return "DONE  "
	}
}

// renderTaskList renders completed tasks newest first. selected indexes into
// that order.
func renderTaskList(completed []models.Task, selected, height int) string {
	if len(completed) == 0 {
		return "\n  No completed commands in history. Type a command and press Enter to queue it.\n"
	}

	lines := make([]string, 0, len(completed))
	for i := range completed {
		t := completed[len(completed)-1-i]
		summary := fmt.Sprintf("%s  %s", t.Command, summarize(t))
		if i == selected {
			lines = append(lines, selectedStyle.Render(fmt.Sprintf("> %s  %s", formatOutcomePlain(t), summary)))
		} else {
			lines = append(lines, taskItemStyle.Render(fmt.Sprintf("  %s  %s", formatOutcome(t), summary)))
		}
	}

	// Limit visible lines
	if height > 0 && len(lines) > height {
		start := selected - height/2
		if start < 0 {
			start = 0
		}
		end := start + height
		if end > len(lines) {
			end = len(lines)
			start = max(0, end-height)
		}
		lines = lines[start:end]
	}

	return strings.Join(lines, "\n")
}

// summarize returns a one-line preview of a result.
func summarize(t models.Task) string {
	if t.Result == nil {
		return ""
	}
	var s string
	switch {
	case t.Result.Killed:
		return ""
	case t.Result.Failure != nil:
		s = t.Result.Failure.Message
	case len(t.Result.Lines) > 0:
		s = t.Result.Lines[0]
		if len(t.Result.Lines) > 1 {
			s += fmt.Sprintf(" (+%d lines)", len(t.Result.Lines)-1)
		}
	}
	if len(s) > 60 {
		s = s[:57] + "..."
	}
	return helpStyle.Render(s)
}
