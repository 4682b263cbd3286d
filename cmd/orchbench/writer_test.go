package main

import (
	"path/filepath"
	"testing"

	"orchbench/internal/config"
	"orchbench/internal/harness"
	"orchbench/internal/record"
)

func TestNewProgressWriterJSON(t *testing.T) {
	w, cleanup := newProgressWriter(false, true)
	defer cleanup()
	if _, ok := w.(*harness.JSONProgressWriter); !ok {
		t.Fatalf("expected *harness.JSONProgressWriter, got %T", w)
	}
}

func TestNewProgressWriterNonTerminalFallsBackToJSON(t *testing.T) {
	// Test binaries never run with a TTY on stdout.
	w, cleanup := newProgressWriter(false, false)
	defer cleanup()
	if _, ok := w.(*harness.JSONProgressWriter); !ok {
		t.Fatalf("expected *harness.JSONProgressWriter, got %T", w)
	}
}

func TestNewSinksFileOnly(t *testing.T) {
	dir := t.TempDir()
	sink, reader, cleanup, err := newSinks(config.StoreConfig{Dir: dir})
	if err != nil {
		t.Fatalf("newSinks returned error: %v", err)
	}
	defer cleanup()
	if _, ok := sink.(*record.FileStore); !ok {
		t.Fatalf("expected *record.FileStore, got %T", sink)
	}
	if reader == nil {
		t.Fatal("expected reader")
	}
}

func TestNewSinksWithSQLite(t *testing.T) {
	dir := t.TempDir()
	sink, _, cleanup, err := newSinks(config.StoreConfig{
		Dir:        dir,
		SQLitePath: filepath.Join(dir, "bench.db"),
	})
	if err != nil {
		t.Fatalf("newSinks returned error: %v", err)
	}
	defer cleanup()
	if _, ok := sink.(*record.MultiSink); !ok {
		t.Fatalf("expected *record.MultiSink, got %T", sink)
	}
}
