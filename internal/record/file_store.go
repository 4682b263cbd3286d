package record

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Event is one line of a run log file. Exactly one payload field is set,
// matching Type: "begin" and "seal" carry Run, "task" carries Task,
// "sample" carries Sample.
type Event struct {
	Type      string      `json:"type"`
	RunID     string      `json:"run_id"`
	Timestamp time.Time   `json:"ts"`
	Run       *RunRecord  `json:"run,omitempty"`
	Task      *TaskResult `json:"task,omitempty"`
	Sample    *Sample     `json:"sample,omitempty"`
}

// FileStore persists one JSONL log per run under a directory. Files are
// append-only while the run is active; the "seal" event is the last line and
// carries the full sealed record.
type FileStore struct {
	dir string

	mu   sync.Mutex
	open map[string]*runLog
}

type runLog struct {
	file *os.File
	enc  *json.Encoder
	meta *RunRecord
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir, open: make(map[string]*runLog)}, nil
}

func runFileName(rec *RunRecord) string {
	return fmt.Sprintf("%s_%s_%s.jsonl", rec.ScenarioID, rec.BackendID, rec.RunID)
}

// Begin opens the run's log file and writes the begin event.
func (s *FileStore) Begin(rec *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.Create(filepath.Join(s.dir, runFileName(rec)))
	if err != nil {
		return err
	}
	rl := &runLog{file: f, enc: json.NewEncoder(f), meta: rec}
	s.open[rec.RunID] = rl
	return rl.enc.Encode(Event{Type: "begin", RunID: rec.RunID, Timestamp: rec.Start, Run: rec})
}

// AppendTask writes a task event to the run's log.
func (s *FileStore) AppendTask(runID string, t TaskResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rl, ok := s.open[runID]
	if !ok {
		return fmt.Errorf("no open log for run %s", runID)
	}
	return rl.enc.Encode(Event{Type: "task", RunID: runID, Timestamp: t.End, Task: &t})
}

// AppendSample writes a sample event to the run's log.
func (s *FileStore) AppendSample(runID string, sm Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rl, ok := s.open[runID]
	if !ok {
		return fmt.Errorf("no open log for run %s", runID)
	}
	return rl.enc.Encode(Event{Type: "sample", RunID: runID, Timestamp: sm.Timestamp, Sample: &sm})
}

// Sealed writes the final event with the complete record and closes the file.
func (s *FileStore) Sealed(rec *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rl, ok := s.open[rec.RunID]
	if !ok {
		return fmt.Errorf("no open log for run %s", rec.RunID)
	}
	delete(s.open, rec.RunID)
	if err := rl.enc.Encode(Event{Type: "seal", RunID: rec.RunID, Timestamp: rec.End, Run: rec}); err != nil {
		rl.file.Close()
		return err
	}
	return rl.file.Close()
}

// ListSealed reads every run log in the directory and returns the sealed
// records, ordered by run start time. Logs without a seal event (crashed or
// still-active runs) are skipped.
func (s *FileStore) ListSealed() ([]*RunRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []*RunRecord
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		rec, err := readSealed(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		if rec != nil {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func readSealed(path string) (*RunRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var sealed *RunRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var ev Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			return nil, err
		}
		if ev.Type == "seal" {
			sealed = ev.Run
		}
	}
	return sealed, sc.Err()
}

// ReadEvents decodes a run log stream, e.g. for replay.
func ReadEvents(r io.Reader) ([]Event, error) {
	dec := json.NewDecoder(r)
	var events []Event
	for {
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			if err == io.EOF {
				return events, nil
			}
			return nil, err
		}
		events = append(events, ev)
	}
}
