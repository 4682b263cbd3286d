// Run records: the uniform result schema shared by all backends.
package record

import (
	"errors"
	"time"
)

// TaskOutcome is the common vocabulary every adapter maps its backend's
// native task states onto.
type TaskOutcome string

const (
	TaskSuccess  TaskOutcome = "success"
	TaskFailed   TaskOutcome = "failed"
	TaskRetried  TaskOutcome = "retried"
	TaskSkipped  TaskOutcome = "skipped"
	TaskTimedOut TaskOutcome = "timed-out"
)

// RunState is the terminal state of a scenario run.
type RunState string

const (
	StateSucceeded       RunState = "succeeded"
	StateFailed          RunState = "failed"
	StatePartiallyFailed RunState = "partially-failed"
	StateAborted         RunState = "aborted"
)

// TaskResult is the outcome of one task node within a run.
type TaskResult struct {
	NodeID   string        `json:"node_id"`
	Outcome  TaskOutcome   `json:"outcome"`
	Retries  int           `json:"retries"`
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Declared time.Duration `json:"declared"`
}

// Measured is the wall-clock runtime of the task.
func (t TaskResult) Measured() time.Duration {
	return t.End.Sub(t.Start)
}

// Sample is one resource-usage observation. Nil fields mean the metric was
// unavailable at sampling time; they are never defaulted to zero.
type Sample struct {
	Timestamp   time.Time `json:"ts"`
	CPUPercent  *float64  `json:"cpu_percent,omitempty"`
	MemoryBytes *uint64   `json:"memory_bytes,omitempty"`
}

// ErrSealed is returned when mutating a sealed record.
var ErrSealed = errors.New("run record is sealed")

// RunRecord is the result of one (scenario, backend, attempt) execution.
// The harness is the single writer while the run is active; Seal makes the
// record immutable and shareable with the aggregator.
type RunRecord struct {
	RunID      string `json:"run_id"`
	ScenarioID string `json:"scenario_id"`
	BackendID  string `json:"backend_id"`
	Attempt    int    `json:"attempt"`
	Namespace  string `json:"namespace,omitempty"`

	Start time.Time `json:"start"`
	End   time.Time `json:"end,omitzero"`

	State  RunState     `json:"state,omitempty"`
	Sealed bool         `json:"sealed"`
	Tasks  []TaskResult `json:"tasks,omitempty"`

	Samples []Sample `json:"samples,omitempty"`

	// Overhead is the summed per-task (measured - declared) after clamping
	// negative per-task values to zero. OverheadClamped reports whether any
	// clamp fired (clock skew).
	Overhead        time.Duration `json:"overhead"`
	OverheadClamped bool          `json:"overhead_clamped,omitempty"`
}

// AddTask appends a task result. Fails once the record is sealed.
func (r *RunRecord) AddTask(t TaskResult) error {
	if r.Sealed {
		return ErrSealed
	}
	r.Tasks = append(r.Tasks, t)
	return nil
}

// AddSample appends a resource sample. Fails once the record is sealed.
func (r *RunRecord) AddSample(s Sample) error {
	if r.Sealed {
		return ErrSealed
	}
	r.Samples = append(r.Samples, s)
	return nil
}

// Seal fixes the terminal state, computes overhead, and freezes the record.
// Sealing twice fails with ErrSealed.
func (r *RunRecord) Seal(state RunState, end time.Time) error {
	if r.Sealed {
		return ErrSealed
	}
	r.State = state
	r.End = end
	r.Overhead, r.OverheadClamped = totalOverhead(r.Tasks)
	r.Sealed = true
	return nil
}

// Duration is the wall-clock span of the run.
func (r *RunRecord) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// DeclaredTotal sums the declared workload of all recorded tasks.
func (r *RunRecord) DeclaredTotal() time.Duration {
	var total time.Duration
	for _, t := range r.Tasks {
		total += t.Declared
	}
	return total
}

func totalOverhead(tasks []TaskResult) (time.Duration, bool) {
	var total time.Duration
	clamped := false
	for _, t := range tasks {
		o := t.Measured() - t.Declared
		if o < 0 {
			o = 0
			clamped = true
		}
		total += o
	}
	return total, clamped
}

// Sink receives run events as they happen. Implementations must tolerate
// events for runs they have not seen Begin for (replay, partial logs).
type Sink interface {
	Begin(rec *RunRecord) error
	AppendTask(runID string, t TaskResult) error
	AppendSample(runID string, s Sample) error
	Sealed(rec *RunRecord) error
}

// Reader yields sealed records for aggregation.
type Reader interface {
	ListSealed() ([]*RunRecord, error)
}
