package backend

import (
	"context"
	"fmt"
	"time"

	"orchbench/internal/record"
)

// Dagster drives the Dagster GraphQL API. Scenarios are pre-deployed as a
// parameterized bench job per scenario; run config carries graph, namespace
// and failure params.
//
// Dagster reports step-level events, which is finer grained than Airflow's
// task states. State mapping:
//
//	step event                         common outcome
//	STEP_SUCCESS (no prior restarts)   success
//	STEP_SUCCESS after STEP_RESTARTED  retried
//	STEP_FAILURE                       failed
//	STEP_SKIPPED                       skipped
//	STEP_FAILURE with timeout marker   timed-out
type Dagster struct {
	cfg  Config
	http *httpClient
}

// NewDagster builds the adapter; credentials are a bearer token (Dagster+)
// or none for open deployments.
func NewDagster(cfg Config) *Dagster {
	return &Dagster{cfg: cfg, http: newHTTPClient(cfg)}
}

func (d *Dagster) Name() string { return d.cfg.Name }

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

const dagsterLaunchMutation = `
mutation LaunchBenchRun($job: String!, $config: RunConfigData!) {
  launchPipelineExecution(executionParams: {
    selector: {pipelineName: $job},
    runConfigData: $config
  }) {
    __typename
    ... on LaunchRunSuccess { run { runId } }
    ... on PythonError { message }
  }
}`

const dagsterRunQuery = `
query BenchRun($id: ID!) {
  runOrError(runId: $id) {
    __typename
    ... on Run {
      runId
      status
      startTime
      endTime
      stepStats { stepKey status startTime endTime attempts }
    }
  }
}`

const dagsterTerminateMutation = `
mutation TerminateBenchRun($id: String!) {
  terminateRun(runId: $id) { __typename }
}`

const dagsterLogsQuery = `
query BenchRunLogs($id: ID!) {
  logsForRun(runId: $id) {
    __typename
    ... on EventConnection {
      events { __typename ... on MessageEvent { message timestamp stepKey } }
    }
  }
}`

type dagsterRun struct {
	RunID     string   `json:"runId"`
	Status    string   `json:"status"`
	StartTime *float64 `json:"startTime"`
	EndTime   *float64 `json:"endTime"`
	StepStats []struct {
		StepKey   string   `json:"stepKey"`
		Status    string   `json:"status"`
		StartTime *float64 `json:"startTime"`
		EndTime   *float64 `json:"endTime"`
		Attempts  int      `json:"attempts"`
	} `json:"stepStats"`
}

func (d *Dagster) graphql(ctx context.Context, req graphqlRequest, out any) error {
	return d.http.doJSON(ctx, "POST", "/graphql", req, out)
}

// Submit launches the bench job for the scenario.
func (d *Dagster) Submit(ctx context.Context, sub Submission) (Handle, error) {
	req := graphqlRequest{
		Query: dagsterLaunchMutation,
		Variables: map[string]any{
			"job": "bench_" + sub.Spec.ID,
			"config": map[string]any{
				"ops": map[string]any{
					"bench_driver": map[string]any{
						"config": map[string]any{
							"namespace": sub.Namespace,
							"graph":     sub.Spec.Graph,
							"params":    sub.Params,
							"run_id":    sub.RunID,
						},
					},
				},
			},
		},
	}
	var out struct {
		Data struct {
			LaunchPipelineExecution struct {
				Typename string `json:"__typename"`
				Message  string `json:"message"`
				Run      struct {
					RunID string `json:"runId"`
				} `json:"run"`
			} `json:"launchPipelineExecution"`
		} `json:"data"`
	}
	sctx, cancel := context.WithTimeout(ctx, d.cfg.SubmitTimeout)
	defer cancel()
	if err := d.graphql(sctx, req, &out); err != nil {
		if sctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return Handle{}, &SubmissionTimeoutError{Backend: d.cfg.Name, Timeout: d.cfg.SubmitTimeout}
		}
		return Handle{}, err
	}
	launch := out.Data.LaunchPipelineExecution
	if launch.Typename != "LaunchRunSuccess" {
		return Handle{}, fmt.Errorf("dagster launch failed: %s %s", launch.Typename, launch.Message)
	}
	return Handle{RunID: sub.RunID, ScenarioID: sub.Spec.ID, Backend: d.cfg.Name, NativeID: launch.Run.RunID}, nil
}

func (d *Dagster) run(ctx context.Context, h Handle) (*dagsterRun, error) {
	var out struct {
		Data struct {
			RunOrError struct {
				Typename string `json:"__typename"`
				dagsterRun
			} `json:"runOrError"`
		} `json:"data"`
	}
	req := graphqlRequest{Query: dagsterRunQuery, Variables: map[string]any{"id": h.NativeID}}
	if err := d.graphql(ctx, req, &out); err != nil {
		return nil, err
	}
	if out.Data.RunOrError.Typename != "Run" {
		return nil, fmt.Errorf("dagster run %s: %s", h.NativeID, out.Data.RunOrError.Typename)
	}
	run := out.Data.RunOrError.dagsterRun
	return &run, nil
}

// Poll maps Dagster's run status.
func (d *Dagster) Poll(ctx context.Context, h Handle) (Status, error) {
	run, err := d.run(ctx, h)
	if err != nil {
		return "", err
	}
	return dagsterRunStatus(run.Status), nil
}

// Cancel terminates the run; already-terminal runs respond with a failure
// typename which is ignored.
func (d *Dagster) Cancel(ctx context.Context, h Handle) error {
	var out struct {
		Data struct {
			TerminateRun struct {
				Typename string `json:"__typename"`
			} `json:"terminateRun"`
		} `json:"data"`
	}
	req := graphqlRequest{Query: dagsterTerminateMutation, Variables: map[string]any{"id": h.NativeID}}
	return d.graphql(ctx, req, &out)
}

// FetchLogs returns the run's message events.
func (d *Dagster) FetchLogs(ctx context.Context, h Handle) ([]LogLine, error) {
	var out struct {
		Data struct {
			LogsForRun struct {
				Events []struct {
					Message   string `json:"message"`
					Timestamp string `json:"timestamp"`
					StepKey   string `json:"stepKey"`
				} `json:"events"`
			} `json:"logsForRun"`
		} `json:"data"`
	}
	req := graphqlRequest{Query: dagsterLogsQuery, Variables: map[string]any{"id": h.NativeID}}
	if err := d.graphql(ctx, req, &out); err != nil {
		return nil, err
	}
	lines := make([]LogLine, 0, len(out.Data.LogsForRun.Events))
	for _, e := range out.Data.LogsForRun.Events {
		ts, _ := time.Parse(time.RFC3339, e.Timestamp)
		lines = append(lines, LogLine{Timestamp: ts, TaskID: e.StepKey, Line: e.Message})
	}
	return lines, nil
}

// FetchResourceUsage returns nil: step stats carry no resource metrics.
func (d *Dagster) FetchResourceUsage(ctx context.Context, h Handle) ([]record.Sample, error) {
	return nil, nil
}

// FetchResult rebuilds per-step outcomes from step stats.
func (d *Dagster) FetchResult(ctx context.Context, h Handle) (*record.RunRecord, error) {
	run, err := d.run(ctx, h)
	if err != nil {
		return nil, err
	}
	status := dagsterRunStatus(run.Status)
	if !status.Terminal() {
		return nil, &NotReadyError{Status: status}
	}

	rec := &record.RunRecord{RunID: h.RunID, ScenarioID: h.ScenarioID, BackendID: h.Backend}
	rec.Start = unixFloat(run.StartTime)
	succeeded := 0
	for _, st := range run.StepStats {
		t := record.TaskResult{
			NodeID:  st.StepKey,
			Outcome: dagsterStepOutcome(st.Status, st.Attempts),
			Start:   unixFloat(st.StartTime),
			End:     unixFloat(st.EndTime),
		}
		if st.Attempts > 1 {
			t.Retries = st.Attempts - 1
		}
		if t.Outcome == record.TaskSuccess || t.Outcome == record.TaskRetried {
			succeeded++
		}
		rec.AddTask(t)
	}
	end := unixFloat(run.EndTime)
	if end.IsZero() {
		end = time.Now().UTC()
	}
	if err := rec.Seal(runState(status, succeeded, len(run.StepStats)), end); err != nil {
		return nil, err
	}
	return rec, nil
}

func dagsterRunStatus(status string) Status {
	switch status {
	case "QUEUED", "NOT_STARTED", "STARTING":
		return StatusPending
	case "STARTED", "CANCELING":
		return StatusRunning
	case "SUCCESS":
		return StatusSucceeded
	case "FAILURE", "CANCELED":
		return StatusFailed
	default:
		return StatusPending
	}
}

func dagsterStepOutcome(status string, attempts int) record.TaskOutcome {
	switch status {
	case "SUCCESS":
		if attempts > 1 {
			return record.TaskRetried
		}
		return record.TaskSuccess
	case "FAILURE":
		return record.TaskFailed
	case "SKIPPED":
		return record.TaskSkipped
	default:
		return record.TaskFailed
	}
}

func unixFloat(f *float64) time.Time {
	if f == nil {
		return time.Time{}
	}
	sec := int64(*f)
	nsec := int64((*f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}
