package harness

import (
	"fmt"
	"io"
	"time"

	"orchbench/internal/record"
)

// replaySleep is swapped out in tests.
var replaySleep = time.Sleep

// ReplayLog feeds a run's JSONL event log back through a progress writer,
// pacing events by their original timestamps divided by speed. speed <= 0
// replays at original pace.
func ReplayLog(r io.Reader, w ProgressWriter, speed float64) error {
	events, err := record.ReadEvents(r)
	if err != nil {
		return err
	}
	if speed <= 0 {
		speed = 1
	}

	var scenarioID, backendID string
	var attempt int
	var last time.Time
	for _, ev := range events {
		if !last.IsZero() && ev.Timestamp.After(last) {
			replaySleep(time.Duration(float64(ev.Timestamp.Sub(last)) / speed))
		}
		last = ev.Timestamp

		out := Event{Time: ev.Timestamp, RunID: ev.RunID, ScenarioID: scenarioID, BackendID: backendID, Attempt: attempt}
		switch ev.Type {
		case "begin":
			if ev.Run == nil {
				return fmt.Errorf("begin event for %s carries no run", ev.RunID)
			}
			scenarioID, backendID, attempt = ev.Run.ScenarioID, ev.Run.BackendID, ev.Run.Attempt
			out.ScenarioID, out.BackendID, out.Attempt = scenarioID, backendID, attempt
			out.Type = EventRunStarted
		case "task":
			out.Type = EventTaskDone
			out.Task = ev.Task
		case "sample":
			out.Type = EventSample
			out.Sample = ev.Sample
		case "seal":
			if ev.Run == nil {
				return fmt.Errorf("seal event for %s carries no run", ev.RunID)
			}
			out.Type = EventRunSealed
			out.State = ev.Run.State
			out.Overhead = ev.Run.Overhead
		default:
			continue
		}
		if err := w.WriteProgress(out); err != nil {
			return err
		}
	}
	return nil
}
