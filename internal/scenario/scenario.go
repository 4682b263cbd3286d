package scenario

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FailureKind classifies an injected task failure.
type FailureKind string

const (
	FailureTransient FailureKind = "transient"
	FailurePermanent FailureKind = "permanent"
	FailureTimeout   FailureKind = "timeout"
)

// FailurePolicy configures deterministic chaos for a scenario. The same
// (policy, scenario, node, attempt) tuple always yields the same decision.
type FailurePolicy struct {
	Probability float64     `yaml:"probability"`
	Seed        int64       `yaml:"seed"`
	Kind        FailureKind `yaml:"kind,omitempty"`
}

// Spec is a named benchmark scenario. Specs are immutable once registered.
type Spec struct {
	ID          string        `yaml:"id"`
	Description string        `yaml:"description,omitempty"`
	Category    string        `yaml:"category,omitempty"`
	RequiresK8s bool          `yaml:"requires_k8s,omitempty"`
	Graph       *Graph        `yaml:"graph"`
	Failure     FailurePolicy `yaml:"failure,omitempty"`
}

// UnmarshalYAML parses a workload, accepting durations in time.ParseDuration
// notation ("2s", "500ms").
func (w *Workload) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Duration        string  `yaml:"duration"`
		Op              OpKind  `yaml:"op"`
		CPUHint         float64 `yaml:"cpu_hint"`
		MemoryHintBytes int64   `yaml:"memory_hint_bytes"`
		Rows            int     `yaml:"rows"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	w.Op = raw.Op
	w.CPUHint = raw.CPUHint
	w.MemoryHintBytes = raw.MemoryHintBytes
	w.Rows = raw.Rows
	if raw.Duration == "" {
		w.Duration = 0
		return nil
	}
	d, err := time.ParseDuration(raw.Duration)
	if err != nil {
		return fmt.Errorf("workload duration: %w", err)
	}
	w.Duration = d
	return nil
}

// Load reads a YAML scenario definition from disk and validates its graph.
func Load(path string) (*Spec, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var raw struct {
		ID          string        `yaml:"id"`
		Description string        `yaml:"description"`
		Category    string        `yaml:"category"`
		RequiresK8s bool          `yaml:"requires_k8s"`
		Nodes       []Node        `yaml:"nodes"`
		Edges       []Edge        `yaml:"edges"`
		Failure     FailurePolicy `yaml:"failure"`
	}
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if raw.ID == "" {
		return nil, fmt.Errorf("scenario %s: missing id", path)
	}
	g, err := NewGraph(raw.Nodes, raw.Edges)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", raw.ID, err)
	}
	return &Spec{
		ID:          raw.ID,
		Description: raw.Description,
		Category:    raw.Category,
		RequiresK8s: raw.RequiresK8s,
		Graph:       g,
		Failure:     raw.Failure,
	}, nil
}
