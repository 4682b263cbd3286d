package main

import (
	"context"
	"errors"
	"testing"
)

func TestRunExitError(t *testing.T) {
	if err := runExitError(nil); err != nil {
		t.Fatalf("completed run must exit zero, got %v", err)
	}
	err := runExitError(context.Canceled)
	if err == nil {
		t.Fatal("interrupted run must exit non-zero")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("cause must be preserved, got %v", err)
	}
}
