// Status server: a small HTTP UI over the harness's live runs and the sealed
// record store.
package admin

import (
	"embed"
	"encoding/json"
	"html/template"
	"net/http"
	"sort"
	"sync"
	"time"

	"orchbench/internal/harness"
	"orchbench/internal/record"
	"orchbench/internal/report"
)

//go:embed templates/index.html
var content embed.FS

// RunStatus is the live view of one run, built from progress events.
type RunStatus struct {
	RunID      string          `json:"run_id"`
	ScenarioID string          `json:"scenario_id"`
	BackendID  string          `json:"backend_id"`
	Status     string          `json:"status"`
	State      record.RunState `json:"state,omitempty"`
	TasksDone  int             `json:"tasks_done"`
	Overhead   time.Duration   `json:"overhead,omitempty"`
	Started    time.Time       `json:"started"`
	Updated    time.Time       `json:"updated"`
}

// Server serves the status pages. It doubles as a progress writer so the
// harness can feed it directly.
type Server struct {
	reader record.Reader
	tpl    *template.Template

	mu      sync.Mutex
	runs    map[string]*RunStatus
	started time.Time
}

// NewServer builds a status server; reader supplies sealed records for the
// report endpoint and may be nil.
func NewServer(reader record.Reader) *Server {
	tpl := template.Must(template.New("index.html").Funcs(template.FuncMap{
		"dur": func(d time.Duration) string { return d.Round(time.Millisecond).String() },
	}).ParseFS(content, "templates/index.html"))
	return &Server{
		reader:  reader,
		tpl:     tpl,
		runs:    make(map[string]*RunStatus),
		started: time.Now().UTC(),
	}
}

// WriteProgress implements harness.ProgressWriter.
func (s *Server) WriteProgress(ev harness.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[ev.RunID]
	if !ok {
		run = &RunStatus{RunID: ev.RunID, ScenarioID: ev.ScenarioID, BackendID: ev.BackendID, Started: ev.Time}
		s.runs[ev.RunID] = run
	}
	run.Updated = ev.Time
	switch ev.Type {
	case harness.EventRunStarted:
		run.Status = "submitted"
	case harness.EventRunStatus:
		run.Status = string(ev.Status)
	case harness.EventTaskDone:
		run.TasksDone++
	case harness.EventRunRetrying:
		run.Status = "retrying"
	case harness.EventRunSealed:
		run.Status = string(ev.State)
		run.State = ev.State
		run.Overhead = ev.Overhead
	}
	return nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.handleIndex)
	mux.HandleFunc("GET /runs", s.handleRuns)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /report", s.handleReport)
	return mux
}

// Start serves until the listener fails.
func (s *Server) Start(addr string) error {
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) snapshot() []RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RunStatus, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	runs := s.snapshot()
	active := 0
	for _, run := range runs {
		if run.State == "" {
			active++
		}
	}
	data := struct {
		Runs    []RunStatus
		Active  int
		Sealed  int
		Started time.Time
	}{Runs: runs, Active: active, Sealed: len(runs) - active, Started: s.started}
	s.tpl.Execute(w, data)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	active := 0
	for _, run := range s.runs {
		if run.State == "" {
			active++
		}
	}
	total := len(s.runs)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"uptime":      time.Since(s.started).Round(time.Second).String(),
		"active_runs": active,
		"total_runs":  total,
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.reader == nil {
		http.Error(w, "no record store configured", http.StatusNotFound)
		return
	}
	records, err := s.reader.ListSealed()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	rep, err := report.Aggregate(records)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rep)
}
