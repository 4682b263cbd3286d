package main

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"orchbench/internal/config"
	"orchbench/internal/harness"
	"orchbench/internal/record"
)

// newProgressWriter picks the progress output: TUI when asked for, JSON lines
// for pipelines, colored text on terminals and plain JSON otherwise.
func newProgressWriter(tui, jsonOut bool) (harness.ProgressWriter, func()) {
	cleanup := func() {}
	switch {
	case tui:
		w := harness.NewTUIWriter()
		return w, w.Close
	case jsonOut || !term.IsTerminal(int(os.Stdout.Fd())):
		return harness.NewJSONProgressWriter(), cleanup
	default:
		return harness.NewColorProgressWriter(), cleanup
	}
}

// newSinks builds the record sink chain from the store config. The JSONL file
// store is always active and doubles as the reader for reports.
func newSinks(store config.StoreConfig) (record.Sink, *record.FileStore, func(), error) {
	fs, err := record.NewFileStore(store.Dir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("run log dir: %w", err)
	}
	sinks := []record.Sink{fs}
	cleanup := func() {}

	if store.SQLitePath != "" {
		ss, err := record.NewSQLiteStore(store.SQLitePath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("sqlite store: %w", err)
		}
		sinks = append(sinks, ss)
		cleanup = func() { ss.Close() }
	}
	if store.Greptime.Endpoint != "" {
		db := store.Greptime.Database
		if db == "" {
			db = "public"
		}
		gw, err := record.NewGreptimeWriter(store.Greptime.Endpoint, db, "bench_samples", "bench_runs")
		if err != nil {
			return nil, nil, nil, fmt.Errorf("greptime writer: %w", err)
		}
		sinks = append(sinks, gw)
	}
	if len(sinks) == 1 {
		return fs, fs, cleanup, nil
	}
	return record.NewMultiSink(sinks...), fs, cleanup, nil
}
