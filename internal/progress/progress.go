// Package progress projects pipeline state into what a progress bar and a
// status line need. Everything here is a pure function of its inputs.
package progress

import "fmt"

// TerminalMessage is the status shown once every file has been converted.
const TerminalMessage = "All images converted!"

// State is one snapshot of a running or finished batch.
type State struct {
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Current   string `json:"current,omitempty"`
	Status    string `json:"status"`
	Terminal  bool   `json:"terminal"`
	Failed    bool   `json:"failed,omitempty"`
}

// Percent returns completed/total*100, or 0 when total is 0.
func Percent(completed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(completed) / float64(total) * 100
}

func (s State) Percent() float64 { return Percent(s.Completed, s.Total) }

// Counter renders the "completed / total" label.
func (s State) Counter() string { return fmt.Sprintf("%d / %d", s.Completed, s.Total) }

// Idle is the state before any batch has run.
func Idle() State { return State{Status: "Ready"} }

// Starting is emitted once when a batch of total files begins.
func Starting(total int) State {
	return State{Total: total, Status: "Starting conversion..."}
}

// Converting names the file about to be submitted.
func Converting(completed, total int, name string) State {
	return State{
		Completed: completed,
		Total:     total,
		Current:   name,
		Status:    fmt.Sprintf("Converting %s...", name),
	}
}

// Converted reports that name finished and completed files are done.
func Converted(completed, total int, name string) State {
	return State{
		Completed: completed,
		Total:     total,
		Current:   name,
		Status:    fmt.Sprintf("Converted %s", name),
	}
}

// Done is the terminal state of a fully successful batch.
func Done(total int) State {
	return State{Completed: total, Total: total, Status: TerminalMessage, Terminal: true}
}

// Failed is the terminal state of an aborted batch.
func Failed(completed, total int, name, message string) State {
	return State{
		Completed: completed,
		Total:     total,
		Current:   name,
		Status:    message,
		Terminal:  true,
		Failed:    true,
	}
}
