package scenario

import (
	"fmt"
	"time"
)

// BuiltIn returns the predefined benchmark scenarios in suite order.
func BuiltIn() []*Spec {
	return []*Spec{
		SimpleLinear(),
		FanOutFanIn(),
		RetryLogic(),
		DynamicTasks(11),
		ETLDiamond(),
	}
}

// SimpleLinear is a 5-node chain, 2s declared work per node, no chaos.
// Measures baseline scheduling overhead between sequential tasks.
func SimpleLinear() *Spec {
	nodes := make([]Node, 5)
	var edges []Edge
	for i := range nodes {
		nodes[i] = Node{
			ID:       fmt.Sprintf("step-%d", i+1),
			Workload: Workload{Duration: 2 * time.Second, Op: OpSleep},
		}
		if i > 0 {
			edges = append(edges, Edge{From: nodes[i-1].ID, To: nodes[i].ID})
		}
	}
	g, _ := NewGraph(nodes, edges)
	return &Spec{
		ID:          "simple-linear",
		Description: "Five sequential 2s tasks; baseline per-hop scheduling overhead.",
		Category:    "core",
		Graph:       g,
	}
}

// FanOutFanIn spreads a seed task into 10 parallel 3s tasks joined by an
// aggregate node that waits on all of them.
func FanOutFanIn() *Spec {
	nodes := []Node{{ID: "seed", Workload: Workload{Duration: time.Second, Op: OpSleep}}}
	var edges []Edge
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("branch-%d", i+1)
		nodes = append(nodes, Node{ID: id, Workload: Workload{Duration: 3 * time.Second, Op: OpArithmetic}})
		edges = append(edges, Edge{From: "seed", To: id})
		edges = append(edges, Edge{From: id, To: "aggregate"})
	}
	nodes = append(nodes, Node{ID: "aggregate", Join: true, Workload: Workload{Duration: time.Second, Op: OpArithmetic}})
	g, _ := NewGraph(nodes, edges)
	return &Spec{
		ID:          "fan-out-fan-in",
		Description: "Ten parallel 3s branches feeding one join; measures parallel dispatch and join latency.",
		Category:    "core",
		Graph:       g,
	}
}

// RetryLogic is a short chain with transient failures injected at 40%
// probability; exercises each backend's own retry machinery.
func RetryLogic() *Spec {
	nodes := []Node{
		{ID: "flaky-1", Workload: Workload{Duration: time.Second, Op: OpSleep}},
		{ID: "flaky-2", Workload: Workload{Duration: time.Second, Op: OpSleep}},
		{ID: "finalize", Workload: Workload{Duration: time.Second, Op: OpSleep}},
	}
	edges := []Edge{{From: "flaky-1", To: "flaky-2"}, {From: "flaky-2", To: "finalize"}}
	g, _ := NewGraph(nodes, edges)
	return &Spec{
		ID:          "retry-logic",
		Description: "Transient failures at p=0.4; backend retry configuration is the subject under test.",
		Category:    "core",
		Graph:       g,
		Failure:     FailurePolicy{Probability: 0.4, Seed: 1337, Kind: FailureTransient},
	}
}

// DynamicTasks fans out to a width derived from the scenario seed. The width
// is fixed at construction; registered specs stay immutable.
func DynamicTasks(seed int64) *Spec {
	width := int(seed%8) + 4
	nodes := []Node{{ID: "plan", Workload: Workload{Duration: time.Second, Op: OpArithmetic}}}
	var edges []Edge
	for i := 0; i < width; i++ {
		id := fmt.Sprintf("shard-%d", i+1)
		nodes = append(nodes, Node{ID: id, Workload: Workload{Duration: 2 * time.Second, Op: OpFileIO, Rows: 1000 * (i + 1)}})
		edges = append(edges, Edge{From: "plan", To: id}, Edge{From: id, To: "collect"})
	}
	nodes = append(nodes, Node{ID: "collect", Join: true, Workload: Workload{Duration: time.Second, Op: OpArithmetic}})
	g, _ := NewGraph(nodes, edges)
	return &Spec{
		ID:          "dynamic-tasks",
		Description: fmt.Sprintf("Seed-derived fan-out (%d shards); measures dynamic task mapping cost.", width),
		Category:    "core",
		Graph:       g,
		Failure:     FailurePolicy{Seed: seed},
	}
}

// ETLDiamond mirrors the transaction ETL pipeline shape: extract feeds
// transform, which splits into summary and load branches that meet again in
// a summary load followed by a metrics log step.
func ETLDiamond() *Spec {
	nodes := []Node{
		{ID: "extract", Workload: Workload{Duration: 2 * time.Second, Op: OpFileIO, Rows: 10000}},
		{ID: "transform", Workload: Workload{Duration: 3 * time.Second, Op: OpArithmetic, Rows: 10000}},
		{ID: "create-summary", Workload: Workload{Duration: time.Second, Op: OpArithmetic}},
		{ID: "load-transactions", Workload: Workload{Duration: 2 * time.Second, Op: OpFileIO, Rows: 10000}},
		{ID: "load-summary", Join: true, Workload: Workload{Duration: time.Second, Op: OpFileIO}},
		{ID: "log-metrics", Workload: Workload{Duration: 500 * time.Millisecond, Op: OpSleep}},
	}
	edges := []Edge{
		{From: "extract", To: "transform"},
		{From: "transform", To: "create-summary"},
		{From: "transform", To: "load-transactions"},
		{From: "create-summary", To: "load-summary"},
		{From: "load-transactions", To: "load-summary"},
		{From: "load-summary", To: "log-metrics"},
	}
	g, _ := NewGraph(nodes, edges)
	return &Spec{
		ID:          "etl-diamond",
		Description: "Extract/transform/load diamond with a summary branch, modeled on the transaction ETL pipeline.",
		Category:    "etl",
		Graph:       g,
	}
}

// DefaultRegistry returns a registry preloaded with the built-in suite.
func DefaultRegistry() (*Registry, error) {
	r := NewRegistry()
	for _, s := range BuiltIn() {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}
