package harness

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"orchbench/internal/backend"
	"orchbench/internal/record"
	"orchbench/internal/scenario"
)

// fakeAdapter scripts one run: submit errors are consumed per call, poll
// statuses are returned in order (repeating the last).
type fakeAdapter struct {
	name string

	mu           sync.Mutex
	submitErrs   []error
	pollStatuses []backend.Status
	pollErrs     []error
	result       *record.RunRecord

	submits int
	polls   int
	cancels int
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Submit(ctx context.Context, sub backend.Submission) (backend.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if len(f.submitErrs) > 0 {
		err := f.submitErrs[0]
		f.submitErrs = f.submitErrs[1:]
		if err != nil {
			return backend.Handle{}, err
		}
	}
	return backend.Handle{RunID: sub.RunID, ScenarioID: sub.Spec.ID, Backend: f.name, NativeID: "native-" + sub.RunID}, nil
}

func (f *fakeAdapter) Poll(ctx context.Context, h backend.Handle) (backend.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if len(f.pollErrs) > 0 {
		err := f.pollErrs[0]
		f.pollErrs = f.pollErrs[1:]
		if err != nil {
			return "", err
		}
	}
	if len(f.pollStatuses) == 0 {
		return backend.StatusRunning, nil
	}
	s := f.pollStatuses[0]
	if len(f.pollStatuses) > 1 {
		f.pollStatuses = f.pollStatuses[1:]
	}
	return s, nil
}

func (f *fakeAdapter) Cancel(ctx context.Context, h backend.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	return nil
}

func (f *fakeAdapter) FetchLogs(ctx context.Context, h backend.Handle) ([]backend.LogLine, error) {
	return nil, nil
}

func (f *fakeAdapter) FetchResourceUsage(ctx context.Context, h backend.Handle) ([]record.Sample, error) {
	return nil, nil
}

func (f *fakeAdapter) FetchResult(ctx context.Context, h backend.Handle) (*record.RunRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.result == nil {
		return nil, &backend.NotReadyError{Status: backend.StatusRunning}
	}
	return f.result, nil
}

// memorySink records the event order it saw.
type memorySink struct {
	mu     sync.Mutex
	events []string
	sealed []*record.RunRecord
}

func (s *memorySink) Begin(rec *record.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, "begin")
	return nil
}

func (s *memorySink) AppendTask(runID string, t record.TaskResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, "task:"+t.NodeID)
	return nil
}

func (s *memorySink) AppendSample(runID string, sm record.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, "sample")
	return nil
}

func (s *memorySink) Sealed(rec *record.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, "sealed")
	s.sealed = append(s.sealed, rec)
	return nil
}

// captureProgress collects emitted events.
type captureProgress struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureProgress) WriteProgress(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *captureProgress) byType(t EventType) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, ev := range c.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func tinySpec(t *testing.T, id string) *scenario.Spec {
	t.Helper()
	g, err := scenario.NewGraph(
		[]scenario.Node{
			{ID: "a", Workload: scenario.Workload{Op: scenario.OpSleep, Duration: 2 * time.Millisecond}},
			{ID: "b", Workload: scenario.Workload{Op: scenario.OpSleep, Duration: 2 * time.Millisecond}},
		},
		[]scenario.Edge{{From: "a", To: "b"}},
	)
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	return &scenario.Spec{ID: id, Graph: g}
}

// succeededResult is the adapter-side view: declared durations are zero
// because the backend does not know the scenario graph.
func succeededResult(runID string) *record.RunRecord {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rec := &record.RunRecord{RunID: runID, ScenarioID: "tiny", BackendID: "fake", Start: base}
	rec.AddTask(record.TaskResult{NodeID: "a", Outcome: record.TaskSuccess, Start: base, End: base.Add(5 * time.Millisecond)})
	rec.AddTask(record.TaskResult{NodeID: "b", Outcome: record.TaskSuccess, Start: base.Add(5 * time.Millisecond), End: base.Add(12 * time.Millisecond)})
	rec.Seal(record.StateSucceeded, base.Add(12*time.Millisecond))
	return rec
}

func testOptions() Options {
	return Options{
		Parallelism:   2,
		PollInterval:  time.Millisecond,
		TimeoutFactor: 10000, // generous, timing tests override
		MaxAttempts:   3,
		BackoffBase:   time.Millisecond,
		BackoffCap:    5 * time.Millisecond,
	}
}

func TestRunSealsSucceededRecord(t *testing.T) {
	spec := tinySpec(t, "tiny")
	adapter := &fakeAdapter{
		name:         "fake",
		pollStatuses: []backend.Status{backend.StatusPending, backend.StatusRunning, backend.StatusSucceeded},
		result:       succeededResult("ignored"),
	}
	sink := &memorySink{}
	progress := &captureProgress{}
	h := New(sink, progress, nil, testOptions())

	records, err := h.Run(context.Background(), []*scenario.Spec{spec}, []backend.Adapter{adapter})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	rec := records[0]
	if !rec.Sealed || rec.State != record.StateSucceeded {
		t.Fatalf("record not sealed succeeded: %+v", rec)
	}
	if rec.Namespace != "bench_"+rec.RunID[:8] {
		t.Fatalf("namespace = %s", rec.Namespace)
	}
	// Declared durations come from the graph, not the backend.
	for _, task := range rec.Tasks {
		if task.Declared != 2*time.Millisecond {
			t.Fatalf("task %s declared = %s, want 2ms", task.NodeID, task.Declared)
		}
	}
	// a: 5ms-2ms, b: 7ms-2ms.
	if rec.Overhead != 8*time.Millisecond {
		t.Fatalf("overhead = %s, want 8ms", rec.Overhead)
	}

	if len(sink.sealed) != 1 {
		t.Fatalf("sink saw %d sealed records", len(sink.sealed))
	}
	if sink.events[0] != "begin" || sink.events[len(sink.events)-1] != "sealed" {
		t.Fatalf("unexpected sink event order: %v", sink.events)
	}
	if got := progress.byType(EventRunStarted); len(got) != 1 {
		t.Fatalf("run-started events = %d", len(got))
	}
	if got := progress.byType(EventRunSealed); len(got) != 1 || got[0].State != record.StateSucceeded {
		t.Fatalf("run-sealed events = %+v", got)
	}
	if got := progress.byType(EventTaskDone); len(got) != 2 {
		t.Fatalf("task events = %d, want 2", len(got))
	}
}

func TestSubmitRetriesConnectivityErrors(t *testing.T) {
	spec := tinySpec(t, "tiny")
	adapter := &fakeAdapter{
		name:         "fake",
		submitErrs:   []error{&backend.ConnectivityError{Backend: "fake", Err: errors.New("refused")}},
		pollStatuses: []backend.Status{backend.StatusSucceeded},
		result:       succeededResult("x"),
	}
	progress := &captureProgress{}
	h := New(&memorySink{}, progress, nil, testOptions())

	records, err := h.Run(context.Background(), []*scenario.Spec{spec}, []backend.Adapter{adapter})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if adapter.submits != 2 {
		t.Fatalf("submits = %d, want 2", adapter.submits)
	}
	if records[0].State != record.StateSucceeded {
		t.Fatalf("state = %s", records[0].State)
	}
	if got := progress.byType(EventRunRetrying); len(got) != 1 {
		t.Fatalf("retry events = %d, want 1", len(got))
	}
}

func TestSubmitGivesUpAfterMaxAttempts(t *testing.T) {
	spec := tinySpec(t, "tiny")
	adapter := &fakeAdapter{
		name: "fake",
		submitErrs: []error{
			&backend.ConnectivityError{Backend: "fake", Err: errors.New("refused")},
			&backend.ConnectivityError{Backend: "fake", Err: errors.New("refused")},
			&backend.ConnectivityError{Backend: "fake", Err: errors.New("refused")},
		},
	}
	h := New(&memorySink{}, nil, nil, testOptions())

	records, err := h.Run(context.Background(), []*scenario.Spec{spec}, []backend.Adapter{adapter})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	rec := records[0]
	if rec.State != record.StateAborted {
		t.Fatalf("state = %s, want aborted", rec.State)
	}
	if adapter.submits != 3 {
		t.Fatalf("submits = %d, want 3", adapter.submits)
	}
	if adapter.cancels != 0 {
		t.Fatal("nothing to cancel when submission never succeeded")
	}
}

func TestRunTimeoutAbortsAndCancels(t *testing.T) {
	spec := tinySpec(t, "tiny") // declared total 4ms
	adapter := &fakeAdapter{name: "fake"}
	opts := testOptions()
	opts.TimeoutFactor = 5 // 20ms timeout
	progress := &captureProgress{}
	h := New(&memorySink{}, progress, nil, opts)

	records, err := h.Run(context.Background(), []*scenario.Spec{spec}, []backend.Adapter{adapter})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	rec := records[0]
	if rec.State != record.StateAborted {
		t.Fatalf("state = %s, want aborted", rec.State)
	}
	if adapter.cancels != 1 {
		t.Fatalf("cancels = %d, want 1", adapter.cancels)
	}
	sealed := progress.byType(EventRunSealed)
	if len(sealed) != 1 || !strings.HasPrefix(sealed[0].Reason, "timeout") {
		t.Fatalf("sealed reason = %+v", sealed)
	}
}

func TestAbortedRunKeepsPartialTasks(t *testing.T) {
	spec := tinySpec(t, "tiny") // declared total 4ms
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	partial := &record.RunRecord{RunID: "native", ScenarioID: "tiny", BackendID: "fake", Start: base}
	partial.AddTask(record.TaskResult{NodeID: "a", Outcome: record.TaskSuccess, Start: base, End: base.Add(5 * time.Millisecond)})

	// Never terminal, but the backend holds task history for "a".
	adapter := &fakeAdapter{name: "fake", result: partial}
	opts := testOptions()
	opts.TimeoutFactor = 5 // 20ms timeout
	sink := &memorySink{}
	h := New(sink, nil, nil, opts)

	records, err := h.Run(context.Background(), []*scenario.Spec{spec}, []backend.Adapter{adapter})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	rec := records[0]
	if rec.State != record.StateAborted {
		t.Fatalf("state = %s, want aborted", rec.State)
	}
	if adapter.cancels != 1 {
		t.Fatalf("cancels = %d, want 1", adapter.cancels)
	}
	if len(rec.Tasks) != 1 || rec.Tasks[0].NodeID != "a" {
		t.Fatalf("aborted record must keep partial task outcomes, got %+v", rec.Tasks)
	}
	if rec.Tasks[0].Declared != 2*time.Millisecond {
		t.Fatalf("declared = %s, want 2ms", rec.Tasks[0].Declared)
	}
	if sink.events[len(sink.events)-1] != "sealed" || sink.events[len(sink.events)-2] != "task:a" {
		t.Fatalf("partial task must reach the sink before sealing: %v", sink.events)
	}
}

func TestContextCancelAbortsRun(t *testing.T) {
	spec := tinySpec(t, "tiny")
	adapter := &fakeAdapter{name: "fake"} // never terminal
	h := New(&memorySink{}, nil, nil, testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	records, err := h.Run(ctx, []*scenario.Spec{spec}, []backend.Adapter{adapter})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(records) != 1 || records[0].State != record.StateAborted {
		t.Fatalf("records = %+v", records)
	}
	if adapter.cancels != 1 {
		t.Fatalf("cancels = %d, want 1", adapter.cancels)
	}
}

func TestRepeatRunsAreSerializedPerPair(t *testing.T) {
	spec := tinySpec(t, "tiny")
	adapter := &fakeAdapter{
		name:         "fake",
		pollStatuses: []backend.Status{backend.StatusSucceeded},
		result:       succeededResult("x"),
	}
	opts := testOptions()
	opts.Repeat = 3
	h := New(&memorySink{}, nil, nil, opts)

	records, err := h.Run(context.Background(), []*scenario.Spec{spec}, []backend.Adapter{adapter})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	attempts := map[int]bool{}
	ids := map[string]bool{}
	for _, rec := range records {
		attempts[rec.Attempt] = true
		ids[rec.RunID] = true
	}
	for i := 1; i <= 3; i++ {
		if !attempts[i] {
			t.Fatalf("missing attempt %d: %v", i, attempts)
		}
	}
	if len(ids) != 3 {
		t.Fatal("run IDs must be unique per attempt")
	}
}

func TestRunRequiresWork(t *testing.T) {
	h := New(&memorySink{}, nil, nil, testOptions())
	if _, err := h.Run(context.Background(), nil, []backend.Adapter{&fakeAdapter{name: "fake"}}); err == nil {
		t.Fatal("expected error for empty scenario list")
	}
	if _, err := h.Run(context.Background(), []*scenario.Spec{tinySpec(t, "tiny")}, nil); err == nil {
		t.Fatal("expected error for empty adapter list")
	}
}
