package harness

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"orchbench/internal/record"
)

func replayLogFixture(t *testing.T) *bytes.Buffer {
	t.Helper()
	base := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
	run := &record.RunRecord{RunID: "r1", ScenarioID: "etl-diamond", BackendID: "dagster", Attempt: 2, Start: base}
	sealedRun := *run
	sealedRun.State = record.StateSucceeded
	sealedRun.Sealed = true
	sealedRun.Overhead = 4 * time.Second
	cpu := 12.5

	events := []record.Event{
		{Type: "begin", RunID: "r1", Timestamp: base, Run: run},
		{Type: "sample", RunID: "r1", Timestamp: base.Add(time.Second), Sample: &record.Sample{Timestamp: base.Add(time.Second), CPUPercent: &cpu}},
		{Type: "task", RunID: "r1", Timestamp: base.Add(2 * time.Second), Task: &record.TaskResult{NodeID: "extract", Outcome: record.TaskSuccess}},
		{Type: "seal", RunID: "r1", Timestamp: base.Add(3 * time.Second), Run: &sealedRun},
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	return &buf
}

func TestReplayLog(t *testing.T) {
	var slept []time.Duration
	orig := replaySleep
	replaySleep = func(d time.Duration) { slept = append(slept, d) }
	defer func() { replaySleep = orig }()

	w := &captureProgress{}
	if err := ReplayLog(replayLogFixture(t), w, 2); err != nil {
		t.Fatalf("replay: %v", err)
	}

	if len(w.events) != 4 {
		t.Fatalf("got %d events, want 4", len(w.events))
	}
	if w.events[0].Type != EventRunStarted || w.events[0].ScenarioID != "etl-diamond" {
		t.Fatalf("first event = %+v", w.events[0])
	}
	// Identity carries over to events that only name the run ID.
	if w.events[2].Type != EventTaskDone || w.events[2].BackendID != "dagster" || w.events[2].Attempt != 2 {
		t.Fatalf("task event = %+v", w.events[2])
	}
	last := w.events[3]
	if last.Type != EventRunSealed || last.State != record.StateSucceeded || last.Overhead != 4*time.Second {
		t.Fatalf("seal event = %+v", last)
	}

	// 1s gaps replayed at 2x pace.
	if len(slept) != 3 {
		t.Fatalf("slept %d times, want 3", len(slept))
	}
	for _, d := range slept {
		if d != 500*time.Millisecond {
			t.Fatalf("slept %s, want 500ms", d)
		}
	}
}

func TestReplayLogRejectsBrokenBegin(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(`{"type":"begin","run_id":"r1","ts":"2026-03-03T09:00:00Z"}` + "\n")
	if err := ReplayLog(&buf, &captureProgress{}, 0); err == nil {
		t.Fatal("expected error for begin event without run payload")
	}
}
