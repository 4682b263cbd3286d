package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"orchbench/internal/record"
	"orchbench/internal/scenario"
)

// dagsterServer answers launch and run queries from a canned run.
func dagsterServer(t *testing.T, run map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/graphql" {
			http.NotFound(w, r)
			return
		}
		var req graphqlRequest
		json.NewDecoder(r.Body).Decode(&req)
		switch {
		case strings.Contains(req.Query, "launchPipelineExecution"):
			json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{
				"launchPipelineExecution": map[string]any{
					"__typename": "LaunchRunSuccess",
					"run":        map[string]any{"runId": "native-7"},
				},
			}})
		case strings.Contains(req.Query, "runOrError"):
			json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"runOrError": run}})
		case strings.Contains(req.Query, "terminateRun"):
			json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{
				"terminateRun": map[string]any{"__typename": "TerminateRunFailure"},
			}})
		default:
			http.Error(w, "unknown query", http.StatusBadRequest)
		}
	}))
}

func TestDagsterSubmitAndResult(t *testing.T) {
	run := map[string]any{
		"__typename": "Run",
		"runId":      "native-7",
		"status":     "FAILURE",
		"startTime":  100.0,
		"endTime":    160.5,
		"stepStats": []map[string]any{
			{"stepKey": "extract", "status": "SUCCESS", "startTime": 100.0, "endTime": 110.0, "attempts": 1},
			{"stepKey": "transform", "status": "SUCCESS", "startTime": 110.0, "endTime": 125.0, "attempts": 2},
			{"stepKey": "load-transactions", "status": "FAILURE", "startTime": 125.0, "endTime": 150.0, "attempts": 1},
			{"stepKey": "log-metrics", "status": "SKIPPED", "attempts": 0},
		},
	}
	srv := dagsterServer(t, run)
	defer srv.Close()

	d := NewDagster(Config{Name: "dagster", Endpoint: srv.URL, SubmitTimeout: time.Second})
	h, err := d.Submit(context.Background(), Submission{RunID: "run-9", Spec: scenario.ETLDiamond(), Namespace: "bench_x"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if h.NativeID != "native-7" {
		t.Fatalf("unexpected native id %s", h.NativeID)
	}

	status, err := d.Poll(context.Background(), h)
	if err != nil || status != StatusFailed {
		t.Fatalf("poll = (%s, %v), want failed", status, err)
	}

	rec, err := d.FetchResult(context.Background(), h)
	if err != nil {
		t.Fatalf("fetch result: %v", err)
	}
	// Some steps succeeded, some failed: partially failed.
	if rec.State != record.StatePartiallyFailed {
		t.Fatalf("state = %s, want partially-failed", rec.State)
	}
	byNode := map[string]record.TaskResult{}
	for _, task := range rec.Tasks {
		byNode[task.NodeID] = task
	}
	if byNode["transform"].Outcome != record.TaskRetried || byNode["transform"].Retries != 1 {
		t.Fatalf("transform = %+v, want retried/1", byNode["transform"])
	}
	if byNode["load-transactions"].Outcome != record.TaskFailed {
		t.Fatalf("load-transactions = %s, want failed", byNode["load-transactions"].Outcome)
	}
	if byNode["log-metrics"].Outcome != record.TaskSkipped {
		t.Fatalf("log-metrics = %s, want skipped", byNode["log-metrics"].Outcome)
	}
	if got := byNode["extract"].Start; !got.Equal(time.Unix(100, 0).UTC()) {
		t.Fatalf("extract start = %s", got)
	}
}

func TestDagsterNotReady(t *testing.T) {
	run := map[string]any{"__typename": "Run", "runId": "native-7", "status": "STARTED"}
	srv := dagsterServer(t, run)
	defer srv.Close()

	d := NewDagster(Config{Name: "dagster", Endpoint: srv.URL, SubmitTimeout: time.Second})
	h := Handle{RunID: "run-9", ScenarioID: "etl-diamond", NativeID: "native-7"}
	_, err := d.FetchResult(context.Background(), h)
	var nr *NotReadyError
	if !errors.As(err, &nr) {
		t.Fatalf("expected NotReadyError, got %v", err)
	}
}

func TestDagsterCancelTolerantOfTerminatedRun(t *testing.T) {
	srv := dagsterServer(t, nil)
	defer srv.Close()
	d := NewDagster(Config{Name: "dagster", Endpoint: srv.URL, SubmitTimeout: time.Second})
	h := Handle{RunID: "run-9", NativeID: "native-7"}
	if err := d.Cancel(context.Background(), h); err != nil {
		t.Fatalf("cancel must be silent on terminated runs, got %v", err)
	}
}

func TestDagsterRunStatusMapping(t *testing.T) {
	cases := map[string]Status{
		"QUEUED":   StatusPending,
		"STARTING": StatusPending,
		"STARTED":  StatusRunning,
		"SUCCESS":  StatusSucceeded,
		"FAILURE":  StatusFailed,
		"CANCELED": StatusFailed,
	}
	for in, want := range cases {
		if got := dagsterRunStatus(in); got != want {
			t.Fatalf("dagsterRunStatus(%s) = %s, want %s", in, got, want)
		}
	}
}
