package cli

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/oi-sh/oi/internal/project"
)

// Styles contains the visual styling for CLI output.
type Styles struct {
	Header  lipgloss.Style
	Success lipgloss.Style
	Failure lipgloss.Style
	Active  lipgloss.Style
	Subtle  lipgloss.Style
}

// newStyles returns the output styling, plain when stdout is not a terminal.
func newStyles() Styles {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		plain := lipgloss.NewStyle()
		return Styles{Header: plain, Success: plain, Failure: plain, Active: plain, Subtle: plain}
	}
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		Failure: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		Active:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		Subtle:  lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	}
}

// phaseStyle picks a style for a project phase.
func (s Styles) phaseStyle(phase project.Phase) lipgloss.Style {
	switch phase {
	case project.PhaseCompleted:
		return s.Success
	case project.PhaseFailed:
		return s.Failure
	case project.PhaseExecuting, project.PhaseIntegrating:
		return s.Active
	default:
		return s.Subtle
	}
}

// taskStyle picks a style for a task status.
func (s Styles) taskStyle(status project.TaskStatus) lipgloss.Style {
	switch status {
	case project.TaskCompleted:
		return s.Success
	case project.TaskFailed:
		return s.Failure
	case project.TaskRunning:
		return s.Active
	default:
		return s.Subtle
	}
}
