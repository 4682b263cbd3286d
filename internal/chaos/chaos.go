// Deterministic failure injection for benchmark scenarios.
package chaos

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"

	"orchbench/internal/scenario"
)

// Outcome is the injector's decision for one task invocation.
type Outcome int

const (
	Pass Outcome = iota
	FailTransient
	FailPermanent
	Delay
)

func (o Outcome) String() string {
	switch o {
	case Pass:
		return "pass"
	case FailTransient:
		return "fail-transient"
	case FailPermanent:
		return "fail-permanent"
	case Delay:
		return "delay"
	default:
		return "unknown"
	}
}

// Decision carries the outcome and, for Delay, a timeout factor in (1, 3]
// by which the task's declared duration is stretched.
type Decision struct {
	Outcome       Outcome `json:"outcome"`
	TimeoutFactor float64 `json:"timeout_factor,omitempty"`
}

// Stats counts decisions by outcome.
type Stats struct {
	Total     uint64            `json:"total"`
	ByOutcome map[string]uint64 `json:"by_outcome"`
}

// Injector produces reproducible chaos decisions. The decision for a
// (scenario, node, attempt) tuple depends only on that tuple and the policy
// seed: never on wall-clock time or call order. Every backend therefore sees
// the identical failure pattern for the same scenario and seed.
type Injector struct {
	policy scenario.FailurePolicy

	mu        sync.Mutex
	total     uint64
	byOutcome map[Outcome]uint64
}

// New creates an injector for the given policy.
func New(policy scenario.FailurePolicy) *Injector {
	return &Injector{policy: policy, byOutcome: make(map[Outcome]uint64)}
}

// Decide returns the deterministic decision for one task invocation.
func (i *Injector) Decide(scenarioID, nodeID string, attempt int) Decision {
	d := decide(i.policy, scenarioID, nodeID, attempt)

	i.mu.Lock()
	i.total++
	i.byOutcome[d.Outcome]++
	i.mu.Unlock()
	return d
}

// Stats returns decision counts by outcome.
func (i *Injector) Stats() Stats {
	i.mu.Lock()
	defer i.mu.Unlock()
	s := Stats{Total: i.total, ByOutcome: make(map[string]uint64, len(i.byOutcome))}
	for o, n := range i.byOutcome {
		s.ByOutcome[o.String()] = n
	}
	return s
}

// decide is the pure decision function. Exposed to adapters via TaskParams so
// the task body a backend executes evaluates the same function the harness
// would.
func decide(p scenario.FailurePolicy, scenarioID, nodeID string, attempt int) Decision {
	if p.Probability <= 0 {
		return Decision{Outcome: Pass}
	}
	roll := keyedFloat(p.Seed, scenarioID, nodeID, attempt, "roll")
	if roll >= p.Probability {
		return Decision{Outcome: Pass}
	}
	switch p.Kind {
	case scenario.FailurePermanent:
		return Decision{Outcome: FailPermanent}
	case scenario.FailureTimeout:
		factor := 1 + 2*keyedFloat(p.Seed, scenarioID, nodeID, attempt, "factor")
		return Decision{Outcome: Delay, TimeoutFactor: factor}
	default:
		return Decision{Outcome: FailTransient}
	}
}

// keyedFloat hashes (seed, scenario, node, attempt, label) into [0, 1).
func keyedFloat(seed int64, scenarioID, nodeID string, attempt int, label string) float64 {
	h := sha256.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(seed))
	h.Write(buf[:])
	fmt.Fprintf(h, "%s\x00%s\x00%d\x00%s", scenarioID, nodeID, attempt, label)
	sum := h.Sum(nil)
	v := binary.BigEndian.Uint64(sum[:8])
	return float64(v>>11) / float64(1<<53)
}

// TaskParams renders a policy into the parameter map shipped with a backend
// submission, so injected tasks can replay the decision on the backend side.
func TaskParams(p scenario.FailurePolicy) map[string]any {
	return map[string]any{
		"failure_probability": p.Probability,
		"failure_seed":        p.Seed,
		"failure_kind":        string(p.Kind),
	}
}
