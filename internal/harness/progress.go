// Progress events emitted while benchmark runs execute.
package harness

import (
	"time"

	"orchbench/internal/backend"
	"orchbench/internal/record"
)

// EventType names the lifecycle stages a run reports.
type EventType string

const (
	EventRunStarted  EventType = "run-started"
	EventRunStatus   EventType = "run-status"
	EventTaskDone    EventType = "task-finished"
	EventSample      EventType = "sample"
	EventRunSealed   EventType = "run-sealed"
	EventRunRetrying EventType = "run-retrying"
)

// Event is one progress observation for a run. Fields beyond the identity
// triple are populated per type: Status for run-status, Task for
// task-finished, Sample for sample, State and Overhead for run-sealed.
type Event struct {
	Type       EventType      `json:"type"`
	Time       time.Time      `json:"time"`
	RunID      string         `json:"run_id"`
	ScenarioID string         `json:"scenario_id"`
	BackendID  string         `json:"backend_id"`
	Attempt    int            `json:"attempt,omitempty"`
	Status     backend.Status `json:"status,omitempty"`

	Task   *record.TaskResult `json:"task,omitempty"`
	Sample *record.Sample     `json:"sample,omitempty"`

	State    record.RunState `json:"state,omitempty"`
	Overhead time.Duration   `json:"overhead,omitempty"`
	Reason   string          `json:"reason,omitempty"`
}

// ProgressWriter is an interface to support different progress outputs.
type ProgressWriter interface {
	WriteProgress(Event) error
}

// MultiProgress fan-outs events to multiple writers.
type MultiProgress struct {
	writers []ProgressWriter
}

// NewMultiProgress creates a new MultiProgress; nil writers are skipped.
func NewMultiProgress(ws ...ProgressWriter) *MultiProgress {
	m := &MultiProgress{}
	for _, w := range ws {
		if w != nil {
			m.writers = append(m.writers, w)
		}
	}
	return m
}

// WriteProgress forwards the event to every writer. All writers receive the
// event; the first error wins.
func (m *MultiProgress) WriteProgress(ev Event) error {
	var first error
	for _, w := range m.writers {
		if err := w.WriteProgress(ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
