// Run orchestration: submits scenarios to backends, polls them to a terminal
// state and seals uniform run records.
package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"orchbench/internal/backend"
	"orchbench/internal/chaos"
	"orchbench/internal/logging"
	"orchbench/internal/metrics"
	"orchbench/internal/record"
	"orchbench/internal/scenario"
)

// Options tune the orchestration loop. Zero values pick the defaults below.
type Options struct {
	// Parallelism caps concurrently active (scenario, backend) pairs.
	// Runs within one pair are always strictly serialized.
	Parallelism int
	// Repeat is the number of runs per pair.
	Repeat int

	PollInterval   time.Duration
	SampleInterval time.Duration

	// TimeoutFactor scales the scenario's declared total duration into the
	// harness-side run timeout. A run past its timeout is cancelled on the
	// backend and sealed aborted with whatever was collected.
	TimeoutFactor float64

	// MaxAttempts bounds retries of retryable adapter errors (connectivity,
	// submission timeout) per operation.
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

const (
	defaultParallelism   = 4
	defaultPollInterval  = 5 * time.Second
	defaultTimeoutFactor = 10
	defaultMaxAttempts   = 3
	defaultBackoffBase   = 2 * time.Second
	defaultBackoffCap    = 60 * time.Second
	// Timeout floor for scenarios whose graph declares no workload.
	minRunTimeout = 5 * time.Minute
)

func (o Options) withDefaults() Options {
	if o.Parallelism <= 0 {
		o.Parallelism = defaultParallelism
	}
	if o.Repeat <= 0 {
		o.Repeat = 1
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.TimeoutFactor <= 0 {
		o.TimeoutFactor = defaultTimeoutFactor
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = defaultBackoffBase
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = defaultBackoffCap
	}
	return o
}

// Harness fans scenarios out to backend adapters and collects run records.
type Harness struct {
	opts     Options
	sink     record.Sink
	progress ProgressWriter
	source   metrics.Source

	now      func() time.Time
	newRunID func() string

	mu        sync.Mutex
	pairLocks map[string]*sync.Mutex
}

// New builds a harness. sink receives run events as they happen; progress may
// be nil. source provides resource samples; nil disables sampling.
func New(sink record.Sink, progress ProgressWriter, source metrics.Source, opts Options) *Harness {
	if progress == nil {
		progress = NewMultiProgress()
	}
	return &Harness{
		opts:      opts.withDefaults(),
		sink:      sink,
		progress:  progress,
		source:    source,
		now:       time.Now,
		newRunID:  uuid.NewString,
		pairLocks: make(map[string]*sync.Mutex),
	}
}

type job struct {
	spec    *scenario.Spec
	adapter backend.Adapter
}

// Run executes every (scenario, backend) pair Repeat times and returns the
// sealed records. Scenario-level failures are captured in the records, not
// returned as errors; the error covers harness-level problems only.
func (h *Harness) Run(ctx context.Context, specs []*scenario.Spec, adapters []backend.Adapter) ([]*record.RunRecord, error) {
	if len(specs) == 0 {
		return nil, errors.New("no scenarios to run")
	}
	if len(adapters) == 0 {
		return nil, errors.New("no backends configured")
	}

	jobs := make(chan job)
	var wg sync.WaitGroup
	var recMu sync.Mutex
	var records []*record.RunRecord

	workers := h.opts.Parallelism
	if n := len(specs) * len(adapters); n < workers {
		workers = n
	}
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				lock := h.pairLock(j.spec.ID, j.adapter.Name())
				lock.Lock()
				for attempt := 1; attempt <= h.opts.Repeat; attempt++ {
					rec := h.runOne(ctx, j.spec, j.adapter, attempt)
					recMu.Lock()
					records = append(records, rec)
					recMu.Unlock()
					if ctx.Err() != nil {
						break
					}
				}
				lock.Unlock()
			}
		}()
	}

	for _, spec := range specs {
		for _, a := range adapters {
			jobs <- job{spec: spec, adapter: a}
		}
	}
	close(jobs)
	wg.Wait()
	return records, ctx.Err()
}

func (h *Harness) pairLock(scenarioID, backendID string) *sync.Mutex {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := scenarioID + "\x00" + backendID
	l, ok := h.pairLocks[key]
	if !ok {
		l = &sync.Mutex{}
		h.pairLocks[key] = l
	}
	return l
}

// runOne drives a single run through submit, poll and seal. It always returns
// a sealed record; failures along the way seal it aborted.
func (h *Harness) runOne(ctx context.Context, spec *scenario.Spec, adapter backend.Adapter, attempt int) *record.RunRecord {
	log := logging.FromContext(ctx).With("scenario", spec.ID, "backend", adapter.Name(), "attempt", attempt)

	runID := h.newRunID()
	rec := &record.RunRecord{
		RunID:      runID,
		ScenarioID: spec.ID,
		BackendID:  adapter.Name(),
		Attempt:    attempt,
		Namespace:  "bench_" + shortID(runID),
		Start:      h.now().UTC(),
	}
	if err := h.sink.Begin(rec); err != nil {
		log.Error("record begin failed", "error", err)
	}
	h.emit(Event{Type: EventRunStarted, Time: rec.Start, RunID: runID, ScenarioID: spec.ID, BackendID: rec.BackendID, Attempt: attempt})

	sub := backend.Submission{
		RunID:     runID,
		Spec:      spec,
		Namespace: rec.Namespace,
		Params:    chaos.TaskParams(spec.Failure),
	}
	handle, err := h.submit(ctx, adapter, sub, rec)
	if err != nil {
		log.Error("submission failed", "error", err)
		return h.seal(log, rec, record.StateAborted, "submit: "+err.Error())
	}
	log.Info("run submitted", "run_id", runID, "native_id", handle.NativeID)

	// Resource sampling runs for the whole life of the run.
	sampleCtx, stopSampling := context.WithCancel(context.Background())
	var sampleWG sync.WaitGroup
	if h.source != nil {
		collector := metrics.NewCollector(h.source, h.opts.SampleInterval)
		sampleWG.Add(1)
		go func() {
			defer sampleWG.Done()
			collector.Run(sampleCtx, func(s record.Sample) {
				if rec.AddSample(s) != nil {
					return
				}
				_ = h.sink.AppendSample(runID, s)
				h.emit(Event{Type: EventSample, Time: s.Timestamp, RunID: runID, ScenarioID: spec.ID, BackendID: rec.BackendID, Sample: &s})
			})
		}()
	}
	finishSampling := func() {
		stopSampling()
		sampleWG.Wait()
	}

	fetched, reason, err := h.poll(ctx, adapter, handle, rec, h.runTimeout(spec))
	finishSampling()
	if err != nil {
		log.Error("run aborted", "run_id", runID, "error", err)
		h.cancelRun(adapter, handle, log)
		// Aborted records still carry whatever per-task outcomes the
		// backend produced before the run was cut off.
		if partial := h.fetchPartial(adapter, handle, log); partial != nil {
			h.merge(spec, partial, rec)
		}
		return h.seal(log, rec, record.StateAborted, reason+": "+err.Error())
	}
	h.merge(spec, fetched, rec)
	if jerr := VerifyJoin(spec.Graph, rec.Tasks); jerr != nil {
		log.Warn("join ordering violated", "run_id", runID, "error", jerr)
	}
	log.Info("run finished", "run_id", runID, "state", fetched.State)
	return h.seal(log, rec, fetched.State, "")
}

// submit retries retryable submission errors with exponential backoff.
func (h *Harness) submit(ctx context.Context, adapter backend.Adapter, sub backend.Submission, rec *record.RunRecord) (backend.Handle, error) {
	var lastErr error
	for try := 0; try < h.opts.MaxAttempts; try++ {
		if try > 0 {
			h.emit(Event{Type: EventRunRetrying, Time: h.now().UTC(), RunID: sub.RunID, ScenarioID: rec.ScenarioID, BackendID: rec.BackendID, Reason: lastErr.Error()})
			if err := h.wait(ctx, h.backoff(try)); err != nil {
				return backend.Handle{}, err
			}
		}
		handle, err := adapter.Submit(ctx, sub)
		if err == nil {
			return handle, nil
		}
		lastErr = err
		if !backend.Retryable(err) {
			return backend.Handle{}, err
		}
	}
	return backend.Handle{}, fmt.Errorf("giving up after %d attempts: %w", h.opts.MaxAttempts, lastErr)
}

// poll watches the run until it is terminal, the timeout expires or ctx is
// cancelled, then fetches the backend's view of the result.
func (h *Harness) poll(ctx context.Context, adapter backend.Adapter, handle backend.Handle, rec *record.RunRecord, timeout time.Duration) (*record.RunRecord, string, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(h.opts.PollInterval)
	defer ticker.Stop()

	retries := 0
	for {
		select {
		case <-ctx.Done():
			return nil, "cancelled", ctx.Err()
		case <-deadline.C:
			return nil, "timeout", fmt.Errorf("run exceeded %s (%gx declared duration)", timeout, h.opts.TimeoutFactor)
		case <-ticker.C:
			status, err := adapter.Poll(ctx, handle)
			if err != nil {
				if backend.Retryable(err) && retries < h.opts.MaxAttempts {
					retries++
					h.emit(Event{Type: EventRunRetrying, Time: h.now().UTC(), RunID: rec.RunID, ScenarioID: rec.ScenarioID, BackendID: rec.BackendID, Reason: err.Error()})
					if werr := h.wait(ctx, h.backoff(retries)); werr != nil {
						return nil, "cancelled", werr
					}
					continue
				}
				return nil, "poll", err
			}
			retries = 0
			h.emit(Event{Type: EventRunStatus, Time: h.now().UTC(), RunID: rec.RunID, ScenarioID: rec.ScenarioID, BackendID: rec.BackendID, Status: status})
			if !status.Terminal() {
				continue
			}

			fetched, err := adapter.FetchResult(ctx, handle)
			if err != nil {
				var nr *backend.NotReadyError
				if errors.As(err, &nr) {
					// Status flapped terminal before results landed.
					continue
				}
				if backend.Retryable(err) && retries < h.opts.MaxAttempts {
					retries++
					if werr := h.wait(ctx, h.backoff(retries)); werr != nil {
						return nil, "cancelled", werr
					}
					continue
				}
				return nil, "fetch result", err
			}
			return fetched, "", nil
		}
	}
}

// merge copies the adapter's task results into the harness-owned record,
// filling declared durations from the scenario graph.
func (h *Harness) merge(spec *scenario.Spec, fetched, rec *record.RunRecord) {
	for _, t := range fetched.Tasks {
		if node, ok := spec.Graph.Node(t.NodeID); ok {
			t.Declared = node.Workload.Duration
		}
		if rec.AddTask(t) != nil {
			return
		}
		_ = h.sink.AppendTask(rec.RunID, t)
		h.emit(Event{Type: EventTaskDone, Time: h.now().UTC(), RunID: rec.RunID, ScenarioID: rec.ScenarioID, BackendID: rec.BackendID, Task: &t})
	}
}

func (h *Harness) seal(log *slog.Logger, rec *record.RunRecord, state record.RunState, reason string) *record.RunRecord {
	_ = rec.Seal(state, h.now().UTC())
	if err := h.sink.Sealed(rec); err != nil {
		log.Error("record seal write failed", "run_id", rec.RunID, "error", err)
	}
	h.emit(Event{
		Type: EventRunSealed, Time: rec.End, RunID: rec.RunID,
		ScenarioID: rec.ScenarioID, BackendID: rec.BackendID, Attempt: rec.Attempt,
		State: rec.State, Overhead: rec.Overhead, Reason: reason,
	})
	return rec
}

// fetchPartial asks the backend for the task history of a run the harness has
// cancelled or timed out. The run context may already be dead, so the fetch
// gets its own deadline; a backend with nothing to report is not an error.
func (h *Harness) fetchPartial(adapter backend.Adapter, handle backend.Handle, log *slog.Logger) *record.RunRecord {
	fctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	fetched, err := adapter.FetchResult(fctx, handle)
	if err != nil {
		var nr *backend.NotReadyError
		if !errors.As(err, &nr) {
			log.Warn("partial result fetch failed", "native_id", handle.NativeID, "error", err)
		}
		return nil
	}
	return fetched
}

// cancelRun tells the backend to stop a run the harness has given up on. The
// run context may already be dead, so cancellation gets its own deadline.
func (h *Harness) cancelRun(adapter backend.Adapter, handle backend.Handle, log *slog.Logger) {
	cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := adapter.Cancel(cctx, handle); err != nil {
		log.Warn("backend cancel failed", "native_id", handle.NativeID, "error", err)
	}
}

func (h *Harness) runTimeout(spec *scenario.Spec) time.Duration {
	declared := spec.Graph.DeclaredTotal()
	if declared <= 0 {
		return minRunTimeout
	}
	return time.Duration(h.opts.TimeoutFactor * float64(declared))
}

func (h *Harness) backoff(attempt int) time.Duration {
	d := h.opts.BackoffBase << (attempt - 1)
	if d > h.opts.BackoffCap || d <= 0 {
		d = h.opts.BackoffCap
	}
	return d
}

func (h *Harness) wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (h *Harness) emit(ev Event) {
	_ = h.progress.WriteProgress(ev)
}
