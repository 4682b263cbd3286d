package backend

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"orchbench/internal/record"
)

// Airflow drives the Airflow stable REST API (/api/v1). Scenarios are
// pre-deployed as parameterized bench DAGs named bench_<scenario-id>; the
// submission conf carries the graph, namespace, and failure-policy params.
//
// State mapping (Airflow exposes no distinct timeout state; a task killed by
// execution_timeout surfaces as failed):
//
//	task instance          common outcome
//	success, try==1        success
//	success, try>1         retried
//	failed                 failed
//	up_for_retry           retried
//	upstream_failed        skipped
//	skipped, removed       skipped
type Airflow struct {
	cfg  Config
	http *httpClient
}

// NewAirflow builds the adapter; credentials are HTTP basic auth.
func NewAirflow(cfg Config) *Airflow {
	return &Airflow{cfg: cfg, http: newHTTPClient(cfg)}
}

func (a *Airflow) Name() string { return a.cfg.Name }

func airflowDagID(scenarioID string) string {
	return "bench_" + strings.ReplaceAll(scenarioID, "-", "_")
}

type airflowDagRun struct {
	DagRunID  string     `json:"dag_run_id"`
	State     string     `json:"state"`
	StartDate *time.Time `json:"start_date"`
	EndDate   *time.Time `json:"end_date"`
}

// Submit triggers a dagRun with the harness run ID as dag_run_id.
func (a *Airflow) Submit(ctx context.Context, sub Submission) (Handle, error) {
	body := map[string]any{
		"dag_run_id": sub.RunID,
		"conf": map[string]any{
			"namespace": sub.Namespace,
			"graph":     sub.Spec.Graph,
			"params":    sub.Params,
		},
	}
	var out airflowDagRun
	path := fmt.Sprintf("/api/v1/dags/%s/dagRuns", airflowDagID(sub.Spec.ID))
	if err := a.http.submitJSON(ctx, a.cfg.SubmitTimeout, "POST", path, body, &out); err != nil {
		return Handle{}, err
	}
	return Handle{RunID: sub.RunID, ScenarioID: sub.Spec.ID, Backend: a.cfg.Name, NativeID: out.DagRunID}, nil
}

func (a *Airflow) dagRun(ctx context.Context, h Handle) (airflowDagRun, error) {
	var out airflowDagRun
	path := fmt.Sprintf("/api/v1/dags/%s/dagRuns/%s", airflowDagID(h.ScenarioID), url.PathEscape(h.NativeID))
	err := a.http.doJSON(ctx, "GET", path, nil, &out)
	return out, err
}

// Poll maps the dagRun state. Failed runs are refined to partially-failed
// later, from task history in FetchResult.
func (a *Airflow) Poll(ctx context.Context, h Handle) (Status, error) {
	run, err := a.dagRun(ctx, h)
	if err != nil {
		return "", err
	}
	switch run.State {
	case "queued":
		return StatusPending, nil
	case "running":
		return StatusRunning, nil
	case "success":
		return StatusSucceeded, nil
	case "failed":
		return StatusFailed, nil
	default:
		return StatusPending, nil
	}
}

// Cancel marks the dagRun failed. Gone or already-terminal runs are fine.
func (a *Airflow) Cancel(ctx context.Context, h Handle) error {
	path := fmt.Sprintf("/api/v1/dags/%s/dagRuns/%s", airflowDagID(h.ScenarioID), url.PathEscape(h.NativeID))
	err := a.http.doJSON(ctx, "PATCH", path, map[string]string{"state": "failed"}, nil)
	switch httpStatusCode(err) {
	case 404, 409:
		return nil
	}
	return err
}

// FetchLogs reads the event log entries for the run.
func (a *Airflow) FetchLogs(ctx context.Context, h Handle) ([]LogLine, error) {
	var out struct {
		EventLogs []struct {
			When   time.Time `json:"when"`
			Event  string    `json:"event"`
			TaskID string    `json:"task_id"`
		} `json:"event_logs"`
	}
	path := fmt.Sprintf("/api/v1/eventLogs?dag_id=%s&run_id=%s",
		url.QueryEscape(airflowDagID(h.ScenarioID)), url.QueryEscape(h.NativeID))
	if err := a.http.doJSON(ctx, "GET", path, nil, &out); err != nil {
		return nil, err
	}
	lines := make([]LogLine, 0, len(out.EventLogs))
	for _, e := range out.EventLogs {
		lines = append(lines, LogLine{Timestamp: e.When, TaskID: e.TaskID, Line: e.Event})
	}
	return lines, nil
}

// FetchResourceUsage returns nil: Airflow's API exposes no per-run resource
// metrics, so the harness samples locally.
func (a *Airflow) FetchResourceUsage(ctx context.Context, h Handle) ([]record.Sample, error) {
	return nil, nil
}

type airflowTaskInstance struct {
	TaskID    string     `json:"task_id"`
	State     string     `json:"state"`
	TryNumber int        `json:"try_number"`
	StartDate *time.Time `json:"start_date"`
	EndDate   *time.Time `json:"end_date"`
}

// FetchResult rebuilds per-task outcomes from task instance history.
func (a *Airflow) FetchResult(ctx context.Context, h Handle) (*record.RunRecord, error) {
	run, err := a.dagRun(ctx, h)
	if err != nil {
		return nil, err
	}
	status := airflowRunStatus(run.State)
	if !status.Terminal() {
		return nil, &NotReadyError{Status: status}
	}

	var out struct {
		TaskInstances []airflowTaskInstance `json:"task_instances"`
	}
	path := fmt.Sprintf("/api/v1/dags/%s/dagRuns/%s/taskInstances", airflowDagID(h.ScenarioID), url.PathEscape(h.NativeID))
	if err := a.http.doJSON(ctx, "GET", path, nil, &out); err != nil {
		return nil, err
	}

	rec := &record.RunRecord{RunID: h.RunID, ScenarioID: h.ScenarioID, BackendID: h.Backend}
	if run.StartDate != nil {
		rec.Start = *run.StartDate
	}
	succeeded := 0
	for _, ti := range out.TaskInstances {
		t := record.TaskResult{NodeID: ti.TaskID, Outcome: airflowTaskOutcome(ti)}
		if ti.TryNumber > 1 {
			t.Retries = ti.TryNumber - 1
		}
		if ti.StartDate != nil {
			t.Start = *ti.StartDate
		}
		if ti.EndDate != nil {
			t.End = *ti.EndDate
		}
		if t.Outcome == record.TaskSuccess || t.Outcome == record.TaskRetried {
			succeeded++
		}
		rec.AddTask(t)
	}

	end := time.Now().UTC()
	if run.EndDate != nil {
		end = *run.EndDate
	}
	if err := rec.Seal(runState(status, succeeded, len(out.TaskInstances)), end); err != nil {
		return nil, err
	}
	return rec, nil
}

func airflowRunStatus(state string) Status {
	switch state {
	case "success":
		return StatusSucceeded
	case "failed":
		return StatusFailed
	case "running":
		return StatusRunning
	default:
		return StatusPending
	}
}

func airflowTaskOutcome(ti airflowTaskInstance) record.TaskOutcome {
	switch ti.State {
	case "success":
		if ti.TryNumber > 1 {
			return record.TaskRetried
		}
		return record.TaskSuccess
	case "failed":
		return record.TaskFailed
	case "up_for_retry", "up_for_reschedule":
		return record.TaskRetried
	case "skipped", "upstream_failed", "removed":
		return record.TaskSkipped
	default:
		return record.TaskFailed
	}
}

// runState refines a terminal backend status using task history: a failed
// run with some succeeded tasks is partially failed.
func runState(status Status, succeeded, total int) record.RunState {
	switch status {
	case StatusSucceeded:
		return record.StateSucceeded
	case StatusFailed, StatusPartiallyFailed:
		if succeeded > 0 && succeeded < total {
			return record.StatePartiallyFailed
		}
		return record.StateFailed
	default:
		return record.StateAborted
	}
}
