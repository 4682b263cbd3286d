package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"orchbench/internal/record"
	"orchbench/internal/scenario"
)

func TestPrefectSubmitPollResult(t *testing.T) {
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Minute)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/deployments/name/bench/retry-logic/create_flow_run", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var body struct {
			Parameters map[string]any `json:"parameters"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Parameters["namespace"] != "bench_z" {
			http.Error(w, "missing namespace", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"id": "fr-1", "state": map[string]any{"type": "SCHEDULED"}})
	})
	mux.HandleFunc("GET /api/flow_runs/fr-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id": "fr-1", "state": map[string]any{"type": "COMPLETED"},
			"start_time": start, "end_time": end,
		})
	})
	mux.HandleFunc("POST /api/task_runs/filter", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{
			{"name": "flaky-1", "state": map[string]any{"type": "COMPLETED"}, "run_count": 3, "start_time": start, "end_time": start.Add(10 * time.Second)},
			{"name": "flaky-2", "state": map[string]any{"type": "COMPLETED"}, "run_count": 1, "start_time": start.Add(10 * time.Second), "end_time": start.Add(20 * time.Second)},
			{"name": "finalize", "state": map[string]any{"type": "TIMEDOUT"}, "run_count": 1},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewPrefect(Config{Name: "prefect", Endpoint: srv.URL, Token: "tok", SubmitTimeout: time.Second})
	h, err := p.Submit(context.Background(), Submission{RunID: "run-3", Spec: scenario.RetryLogic(), Namespace: "bench_z"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if h.NativeID != "fr-1" {
		t.Fatalf("unexpected handle %+v", h)
	}

	status, err := p.Poll(context.Background(), h)
	if err != nil || status != StatusSucceeded {
		t.Fatalf("poll = (%s, %v), want succeeded", status, err)
	}

	rec, err := p.FetchResult(context.Background(), h)
	if err != nil {
		t.Fatalf("fetch result: %v", err)
	}
	if len(rec.Tasks) != 3 {
		t.Fatalf("got %d tasks, want 3", len(rec.Tasks))
	}
	if rec.Tasks[0].Outcome != record.TaskRetried || rec.Tasks[0].Retries != 2 {
		t.Fatalf("flaky-1 = %+v, want retried/2", rec.Tasks[0])
	}
	if rec.Tasks[1].Outcome != record.TaskSuccess {
		t.Fatalf("flaky-2 = %s, want success", rec.Tasks[1].Outcome)
	}
	if rec.Tasks[2].Outcome != record.TaskTimedOut {
		t.Fatalf("finalize = %s, want timed-out", rec.Tasks[2].Outcome)
	}
}

func TestPrefectCancelIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()
	p := NewPrefect(Config{Name: "prefect", Endpoint: srv.URL, SubmitTimeout: time.Second})
	h := Handle{RunID: "run-3", NativeID: "fr-gone"}
	if err := p.Cancel(context.Background(), h); err != nil {
		t.Fatalf("cancel of missing run must be silent, got %v", err)
	}
}

func TestPrefectRunStatusMapping(t *testing.T) {
	cases := map[string]Status{
		"SCHEDULED": StatusPending,
		"PENDING":   StatusPending,
		"RUNNING":   StatusRunning,
		"RETRYING":  StatusRunning,
		"COMPLETED": StatusSucceeded,
		"FAILED":    StatusFailed,
		"CRASHED":   StatusFailed,
		"CANCELLED": StatusFailed,
	}
	for in, want := range cases {
		if got := prefectRunStatus(in); got != want {
			t.Fatalf("prefectRunStatus(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestNewAdapterByKind(t *testing.T) {
	for _, kind := range []string{"airflow", "dagster", "prefect"} {
		a, err := New(Config{Name: kind, Kind: kind, Endpoint: "http://localhost"})
		if err != nil {
			t.Fatalf("New(%s): %v", kind, err)
		}
		if a.Name() != kind {
			t.Fatalf("Name() = %s, want %s", a.Name(), kind)
		}
	}
	if _, err := New(Config{Name: "luigi", Kind: "luigi"}); err == nil {
		t.Fatal("expected error for unknown backend kind")
	}
}

func TestNotRetryableStatusError(t *testing.T) {
	err := error(&statusError{backend: "prefect", code: 500, body: "boom"})
	if Retryable(err) {
		t.Fatal("HTTP status errors are not retryable")
	}
	var ce *ConnectivityError
	if errors.As(err, &ce) {
		t.Fatal("status error must not unwrap to connectivity error")
	}
}
