package harness

import (
	"fmt"

	"orchbench/internal/record"
	"orchbench/internal/scenario"
)

// VerifyJoin checks that every join node in the graph started only after all
// of its upstream tasks had ended. A backend releasing a join early corrupts
// the overhead measurement for that run.
//
// Tasks missing from the record (skipped or never scheduled) and tasks
// without timestamps are ignored.
func VerifyJoin(g *scenario.Graph, tasks []record.TaskResult) error {
	byNode := make(map[string]record.TaskResult, len(tasks))
	for _, t := range tasks {
		byNode[t.NodeID] = t
	}
	for _, n := range g.Nodes {
		if !n.Join {
			continue
		}
		join, ok := byNode[n.ID]
		if !ok || join.Start.IsZero() {
			continue
		}
		for _, up := range g.Predecessors(n.ID) {
			pred, ok := byNode[up]
			if !ok || pred.End.IsZero() {
				continue
			}
			if join.Start.Before(pred.End) {
				return fmt.Errorf("join %q started %s before upstream %q finished",
					n.ID, pred.End.Sub(join.Start), up)
			}
		}
	}
	return nil
}
