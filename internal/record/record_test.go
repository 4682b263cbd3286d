package record

import (
	"errors"
	"testing"
	"time"
)

func sampleRecord(start time.Time) *RunRecord {
	return &RunRecord{
		RunID:      "run-1",
		ScenarioID: "simple-linear",
		BackendID:  "airflow",
		Attempt:    1,
		Namespace:  "bench_run1",
		Start:      start,
	}
}

func TestSealFreezesRecord(t *testing.T) {
	start := time.Unix(100, 0).UTC()
	rec := sampleRecord(start)

	task := TaskResult{
		NodeID:   "step-1",
		Outcome:  TaskSuccess,
		Start:    start,
		End:      start.Add(2100 * time.Millisecond),
		Declared: 2 * time.Second,
	}
	if err := rec.AddTask(task); err != nil {
		t.Fatalf("add task: %v", err)
	}
	cpu := 12.5
	if err := rec.AddSample(Sample{Timestamp: start.Add(time.Second), CPUPercent: &cpu}); err != nil {
		t.Fatalf("add sample: %v", err)
	}

	if err := rec.Seal(StateSucceeded, start.Add(3*time.Second)); err != nil {
		t.Fatalf("seal: %v", err)
	}
	if rec.Overhead != 100*time.Millisecond {
		t.Fatalf("overhead = %s, want 100ms", rec.Overhead)
	}
	if rec.OverheadClamped {
		t.Fatal("unexpected clamp flag")
	}

	if err := rec.AddTask(task); !errors.Is(err, ErrSealed) {
		t.Fatalf("expected ErrSealed on AddTask, got %v", err)
	}
	if err := rec.AddSample(Sample{}); !errors.Is(err, ErrSealed) {
		t.Fatalf("expected ErrSealed on AddSample, got %v", err)
	}
	if err := rec.Seal(StateFailed, start); !errors.Is(err, ErrSealed) {
		t.Fatalf("expected ErrSealed on re-seal, got %v", err)
	}
	if rec.State != StateSucceeded {
		t.Fatalf("state mutated after seal: %s", rec.State)
	}
}

func TestOverheadClampsClockSkew(t *testing.T) {
	start := time.Unix(100, 0).UTC()
	rec := sampleRecord(start)
	// Measured shorter than declared: only possible via clock skew.
	rec.AddTask(TaskResult{
		NodeID:   "skewed",
		Outcome:  TaskSuccess,
		Start:    start,
		End:      start.Add(time.Second),
		Declared: 2 * time.Second,
	})
	rec.AddTask(TaskResult{
		NodeID:   "normal",
		Outcome:  TaskSuccess,
		Start:    start,
		End:      start.Add(2500 * time.Millisecond),
		Declared: 2 * time.Second,
	})
	if err := rec.Seal(StateSucceeded, start.Add(4*time.Second)); err != nil {
		t.Fatalf("seal: %v", err)
	}
	if rec.Overhead != 500*time.Millisecond {
		t.Fatalf("overhead = %s, want 500ms", rec.Overhead)
	}
	if !rec.OverheadClamped {
		t.Fatal("expected clamp flag for negative per-task overhead")
	}
}
