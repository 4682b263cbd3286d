// Aggregation of sealed run records into per-(scenario, backend) statistics.
package report

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"time"

	"orchbench/internal/record"
)

// InsufficientDataError reports an aggregation over no sealed records.
type InsufficientDataError struct {
	ScenarioID string
	BackendID  string
}

func (e *InsufficientDataError) Error() string {
	if e.ScenarioID == "" {
		return "no sealed run records to aggregate"
	}
	return fmt.Sprintf("no sealed run records for %s on %s", e.ScenarioID, e.BackendID)
}

// DurationStats summarizes a duration series. With a single value, mean,
// median and p95 all equal that value.
type DurationStats struct {
	Mean   time.Duration `json:"mean"`
	Median time.Duration `json:"median"`
	P95    time.Duration `json:"p95"`
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
}

// GroupStats is the aggregate for one (scenario, backend) pair.
type GroupStats struct {
	ScenarioID string `json:"scenario_id"`
	BackendID  string `json:"backend_id"`

	Runs      int `json:"runs"`
	Succeeded int `json:"succeeded"`
	Aborted   int `json:"aborted"`
	// SuccessRate counts fully succeeded runs over all runs in the group.
	SuccessRate float64 `json:"success_rate"`

	// Overhead and duration stats cover completed runs only; aborted runs
	// carry partial task data and would skew the distributions.
	OverheadStats DurationStats `json:"overhead"`
	DurationStats DurationStats `json:"duration"`

	TotalRetries    int  `json:"total_retries"`
	OverheadClamped bool `json:"overhead_clamped,omitempty"`
}

// Ranking orders backends for one scenario by mean overhead, lowest first.
type Ranking struct {
	ScenarioID string   `json:"scenario_id"`
	Backends   []string `json:"backends"`
}

// Report is the full comparison across scenarios and backends.
type Report struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Groups      []GroupStats `json:"groups"`
	Rankings    []Ranking    `json:"rankings"`
}

// Aggregate groups sealed records by (scenario, backend) and computes the
// comparison statistics. Unsealed records are skipped.
func Aggregate(records []*record.RunRecord) (*Report, error) {
	type bucket struct {
		stats     GroupStats
		overheads []time.Duration
		durations []time.Duration
	}
	buckets := make(map[string]*bucket)
	var order []string

	for _, rec := range records {
		if rec == nil || !rec.Sealed {
			continue
		}
		key := rec.ScenarioID + "\x00" + rec.BackendID
		b, ok := buckets[key]
		if !ok {
			b = &bucket{stats: GroupStats{ScenarioID: rec.ScenarioID, BackendID: rec.BackendID}}
			buckets[key] = b
			order = append(order, key)
		}
		b.stats.Runs++
		switch rec.State {
		case record.StateSucceeded:
			b.stats.Succeeded++
		case record.StateAborted:
			b.stats.Aborted++
		}
		if rec.OverheadClamped {
			b.stats.OverheadClamped = true
		}
		for _, t := range rec.Tasks {
			b.stats.TotalRetries += t.Retries
		}
		if rec.State != record.StateAborted {
			b.overheads = append(b.overheads, rec.Overhead)
			b.durations = append(b.durations, rec.Duration())
		}
	}

	if len(buckets) == 0 {
		return nil, &InsufficientDataError{}
	}

	rep := &Report{GeneratedAt: time.Now().UTC()}
	for _, key := range order {
		b := buckets[key]
		b.stats.SuccessRate = float64(b.stats.Succeeded) / float64(b.stats.Runs)
		b.stats.OverheadStats = summarize(b.overheads)
		b.stats.DurationStats = summarize(b.durations)
		rep.Groups = append(rep.Groups, b.stats)
	}
	sort.Slice(rep.Groups, func(i, j int) bool {
		if rep.Groups[i].ScenarioID != rep.Groups[j].ScenarioID {
			return rep.Groups[i].ScenarioID < rep.Groups[j].ScenarioID
		}
		return rep.Groups[i].BackendID < rep.Groups[j].BackendID
	})
	rep.Rankings = rank(rep.Groups)
	return rep, nil
}

// Group returns the aggregate for one pair.
func (r *Report) Group(scenarioID, backendID string) (GroupStats, error) {
	for _, g := range r.Groups {
		if g.ScenarioID == scenarioID && g.BackendID == backendID {
			return g, nil
		}
	}
	return GroupStats{}, &InsufficientDataError{ScenarioID: scenarioID, BackendID: backendID}
}

func summarize(vals []time.Duration) DurationStats {
	if len(vals) == 0 {
		return DurationStats{}
	}
	sorted := append([]time.Duration(nil), vals...)
	slices.Sort(sorted)

	var sum time.Duration
	for _, v := range sorted {
		sum += v
	}
	return DurationStats{
		Mean:   sum / time.Duration(len(sorted)),
		Median: sorted[len(sorted)/2],
		P95:    sorted[percentileIndex(len(sorted), 95)],
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
	}
}

// percentileIndex is the nearest-rank index for percentile p over n values.
func percentileIndex(n, p int) int {
	if n <= 1 || p <= 0 {
		return 0
	}
	if p >= 100 {
		return n - 1
	}
	rank := int(math.Ceil(float64(p) / 100.0 * float64(n)))
	idx := rank - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return idx
}

func rank(groups []GroupStats) []Ranking {
	byScenario := make(map[string][]GroupStats)
	var order []string
	for _, g := range groups {
		if _, ok := byScenario[g.ScenarioID]; !ok {
			order = append(order, g.ScenarioID)
		}
		byScenario[g.ScenarioID] = append(byScenario[g.ScenarioID], g)
	}

	rankings := make([]Ranking, 0, len(order))
	for _, id := range order {
		gs := byScenario[id]
		sort.SliceStable(gs, func(i, j int) bool {
			return gs[i].OverheadStats.Mean < gs[j].OverheadStats.Mean
		})
		r := Ranking{ScenarioID: id}
		for _, g := range gs {
			r.Backends = append(r.Backends, g.BackendID)
		}
		rankings = append(rankings, r)
	}
	return rankings
}
