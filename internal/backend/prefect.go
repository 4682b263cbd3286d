package backend

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"orchbench/internal/record"
)

// Prefect drives the Prefect REST API (/api). Each scenario is deployed as a
// bench flow; flow run parameters carry graph, namespace and failure params.
//
// Prefect has the richest task-state vocabulary of the three backends.
// State mapping:
//
//	task run state               common outcome
//	COMPLETED, run_count==1      success
//	COMPLETED, run_count>1       retried
//	FAILED                       failed
//	CRASHED                      failed
//	TIMEDOUT                     timed-out
//	CANCELLED, NOTREADY          skipped
type Prefect struct {
	cfg  Config
	http *httpClient
}

// NewPrefect builds the adapter; credentials are an API token when set.
func NewPrefect(cfg Config) *Prefect {
	return &Prefect{cfg: cfg, http: newHTTPClient(cfg)}
}

func (p *Prefect) Name() string { return p.cfg.Name }

type prefectState struct {
	Type      string     `json:"type"`
	Timestamp *time.Time `json:"timestamp"`
}

type prefectFlowRun struct {
	ID        string       `json:"id"`
	State     prefectState `json:"state"`
	StartTime *time.Time   `json:"start_time"`
	EndTime   *time.Time   `json:"end_time"`
}

// Submit creates a flow run for the scenario's bench deployment.
func (p *Prefect) Submit(ctx context.Context, sub Submission) (Handle, error) {
	body := map[string]any{
		"name": sub.RunID,
		"parameters": map[string]any{
			"namespace": sub.Namespace,
			"graph":     sub.Spec.Graph,
			"params":    sub.Params,
		},
	}
	var out prefectFlowRun
	path := fmt.Sprintf("/api/deployments/name/bench/%s/create_flow_run", url.PathEscape(sub.Spec.ID))
	if err := p.http.submitJSON(ctx, p.cfg.SubmitTimeout, "POST", path, body, &out); err != nil {
		return Handle{}, err
	}
	return Handle{RunID: sub.RunID, ScenarioID: sub.Spec.ID, Backend: p.cfg.Name, NativeID: out.ID}, nil
}

func (p *Prefect) flowRun(ctx context.Context, h Handle) (prefectFlowRun, error) {
	var out prefectFlowRun
	err := p.http.doJSON(ctx, "GET", "/api/flow_runs/"+url.PathEscape(h.NativeID), nil, &out)
	return out, err
}

// Poll maps the flow run state.
func (p *Prefect) Poll(ctx context.Context, h Handle) (Status, error) {
	run, err := p.flowRun(ctx, h)
	if err != nil {
		return "", err
	}
	return prefectRunStatus(run.State.Type), nil
}

// Cancel sets the flow run state to Cancelled; a 404 or state conflict means
// the run already terminated and is ignored.
func (p *Prefect) Cancel(ctx context.Context, h Handle) error {
	body := map[string]any{"state": map[string]any{"type": "CANCELLED"}}
	err := p.http.doJSON(ctx, "POST", "/api/flow_runs/"+url.PathEscape(h.NativeID)+"/set_state", body, nil)
	switch httpStatusCode(err) {
	case 404, 409:
		return nil
	}
	return err
}

// FetchLogs filters the log endpoint by flow run.
func (p *Prefect) FetchLogs(ctx context.Context, h Handle) ([]LogLine, error) {
	body := map[string]any{
		"logs": map[string]any{"flow_run_id": map[string]any{"any_": []string{h.NativeID}}},
	}
	var out []struct {
		Timestamp time.Time `json:"timestamp"`
		Message   string    `json:"message"`
		TaskRunID string    `json:"task_run_id"`
	}
	if err := p.http.doJSON(ctx, "POST", "/api/logs/filter", body, &out); err != nil {
		return nil, err
	}
	lines := make([]LogLine, 0, len(out))
	for _, l := range out {
		lines = append(lines, LogLine{Timestamp: l.Timestamp, TaskID: l.TaskRunID, Line: l.Message})
	}
	return lines, nil
}

// FetchResourceUsage returns nil; Prefect's API exposes no per-run resource
// samples.
func (p *Prefect) FetchResourceUsage(ctx context.Context, h Handle) ([]record.Sample, error) {
	return nil, nil
}

type prefectTaskRun struct {
	Name      string       `json:"name"`
	State     prefectState `json:"state"`
	RunCount  int          `json:"run_count"`
	StartTime *time.Time   `json:"start_time"`
	EndTime   *time.Time   `json:"end_time"`
}

// FetchResult rebuilds per-task outcomes from task run history.
func (p *Prefect) FetchResult(ctx context.Context, h Handle) (*record.RunRecord, error) {
	run, err := p.flowRun(ctx, h)
	if err != nil {
		return nil, err
	}
	status := prefectRunStatus(run.State.Type)
	if !status.Terminal() {
		return nil, &NotReadyError{Status: status}
	}

	body := map[string]any{
		"task_runs": map[string]any{"flow_run_id": map[string]any{"any_": []string{h.NativeID}}},
	}
	var taskRuns []prefectTaskRun
	if err := p.http.doJSON(ctx, "POST", "/api/task_runs/filter", body, &taskRuns); err != nil {
		return nil, err
	}

	rec := &record.RunRecord{RunID: h.RunID, ScenarioID: h.ScenarioID, BackendID: h.Backend}
	if run.StartTime != nil {
		rec.Start = *run.StartTime
	}
	succeeded := 0
	for _, tr := range taskRuns {
		t := record.TaskResult{NodeID: tr.Name, Outcome: prefectTaskOutcome(tr)}
		if tr.RunCount > 1 {
			t.Retries = tr.RunCount - 1
		}
		if tr.StartTime != nil {
			t.Start = *tr.StartTime
		}
		if tr.EndTime != nil {
			t.End = *tr.EndTime
		}
		if t.Outcome == record.TaskSuccess || t.Outcome == record.TaskRetried {
			succeeded++
		}
		rec.AddTask(t)
	}

	end := time.Now().UTC()
	if run.EndTime != nil {
		end = *run.EndTime
	}
	if err := rec.Seal(runState(status, succeeded, len(taskRuns)), end); err != nil {
		return nil, err
	}
	return rec, nil
}

func prefectRunStatus(state string) Status {
	switch state {
	case "SCHEDULED", "PENDING", "PAUSED":
		return StatusPending
	case "RUNNING", "RETRYING", "CANCELLING":
		return StatusRunning
	case "COMPLETED":
		return StatusSucceeded
	case "FAILED", "CRASHED", "TIMEDOUT", "CANCELLED":
		return StatusFailed
	default:
		return StatusPending
	}
}

func prefectTaskOutcome(tr prefectTaskRun) record.TaskOutcome {
	switch tr.State.Type {
	case "COMPLETED":
		if tr.RunCount > 1 {
			return record.TaskRetried
		}
		return record.TaskSuccess
	case "FAILED", "CRASHED":
		return record.TaskFailed
	case "TIMEDOUT":
		return record.TaskTimedOut
	case "CANCELLED", "NOTREADY":
		return record.TaskSkipped
	default:
		return record.TaskFailed
	}
}
