// Backend adapters translate scenarios into orchestrator-native runs and
// normalize the results back to the common record schema.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"orchbench/internal/record"
	"orchbench/internal/scenario"
)

// Status is the normalized run status across all backends.
type Status string

const (
	StatusPending         Status = "pending"
	StatusRunning         Status = "running"
	StatusSucceeded       Status = "succeeded"
	StatusFailed          Status = "failed"
	StatusPartiallyFailed Status = "partially-failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusPartiallyFailed:
		return true
	default:
		return false
	}
}

// Handle identifies one submitted run. It is owned by the run orchestrator;
// adapters keep no per-run state of their own.
type Handle struct {
	RunID      string `json:"run_id"`
	ScenarioID string `json:"scenario_id"`
	Backend    string `json:"backend"`
	NativeID   string `json:"native_id"`
}

// Submission carries everything a backend needs to start a scenario run.
type Submission struct {
	RunID     string
	Spec      *scenario.Spec
	Namespace string
	// Params are extra key/values shipped to the backend-side bench driver,
	// e.g. the failure-policy seed so injected tasks replay the same chaos.
	Params map[string]any
}

// LogLine is one normalized log entry fetched from a backend.
type LogLine struct {
	Timestamp time.Time `json:"ts"`
	TaskID    string    `json:"task_id,omitempty"`
	Line      string    `json:"line"`
}

// Adapter is the uniform capability set over one orchestrator. Adding a
// backend means adding an implementation; the run orchestrator stays
// untouched.
type Adapter interface {
	// Name returns the backend identifier ("airflow", "dagster", "prefect").
	Name() string
	// Submit starts the run. It never blocks past the configured submission
	// timeout; exceeding it fails with SubmissionTimeoutError.
	Submit(ctx context.Context, sub Submission) (Handle, error)
	// Poll returns the current normalized status without blocking; polling
	// cadence is the caller's concern.
	Poll(ctx context.Context, h Handle) (Status, error)
	// Cancel is best-effort and idempotent; it succeeds silently when the
	// run already terminated.
	Cancel(ctx context.Context, h Handle) error
	// FetchLogs returns the run's log lines, normalized.
	FetchLogs(ctx context.Context, h Handle) ([]LogLine, error)
	// FetchResourceUsage returns backend-reported resource samples, or nil
	// when the backend exposes none (the harness samples locally then).
	FetchResourceUsage(ctx context.Context, h Handle) ([]record.Sample, error)
	// FetchResult reconstructs per-task outcomes from the backend's own
	// execution history. It fails with NotReadyError unless the run is
	// terminal; the returned record is sealed.
	FetchResult(ctx context.Context, h Handle) (*record.RunRecord, error)
}

// SubmissionTimeoutError reports a submission exceeding its bound.
type SubmissionTimeoutError struct {
	Backend string
	Timeout time.Duration
}

func (e *SubmissionTimeoutError) Error() string {
	return fmt.Sprintf("%s: submission exceeded %s", e.Backend, e.Timeout)
}

// ConnectivityError wraps transport-level failures; the harness retries
// these with backoff.
type ConnectivityError struct {
	Backend string
	Err     error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("%s: connectivity: %v", e.Backend, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// NotReadyError is returned by FetchResult before the run is terminal.
type NotReadyError struct {
	Status Status
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("run not terminal (status %s)", e.Status)
}

// Retryable reports whether the harness should retry the failed call.
func Retryable(err error) bool {
	var ce *ConnectivityError
	var st *SubmissionTimeoutError
	return errors.As(err, &ce) || errors.As(err, &st)
}

// Config is the per-backend construction configuration, resolved once at
// harness startup and immutable afterwards.
type Config struct {
	Name          string
	Kind          string
	Endpoint      string
	Username      string
	Password      string
	Token         string
	SubmitTimeout time.Duration
}

// DefaultSubmitTimeout bounds Submit when the config leaves it unset.
const DefaultSubmitTimeout = 30 * time.Second

// New constructs the adapter for a configured backend.
func New(cfg Config) (Adapter, error) {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = DefaultSubmitTimeout
	}
	kind := cfg.Kind
	if kind == "" {
		kind = cfg.Name
	}
	switch kind {
	case "airflow":
		return NewAirflow(cfg), nil
	case "dagster":
		return NewDagster(cfg), nil
	case "prefect":
		return NewPrefect(cfg), nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q", kind)
	}
}
