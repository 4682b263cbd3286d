package report

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"orchbench/internal/record"
)

func testReport(t *testing.T) *Report {
	t.Helper()
	rep, err := Aggregate([]*record.RunRecord{
		sealedRecord(t, "etl-diamond", "airflow", record.StateSucceeded, 4*time.Second, time.Minute),
		sealedRecord(t, "etl-diamond", "dagster", record.StateSucceeded, 2*time.Second, 50*time.Second),
	})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	return rep
}

func TestRenderCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderCSV(&buf, testReport(t)); err != nil {
		t.Fatalf("render: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want header + 2", len(rows))
	}
	if rows[0][0] != "scenario" || len(rows[0]) != len(csvHeader) {
		t.Fatalf("bad header %v", rows[0])
	}
	if rows[1][1] != "airflow" || rows[1][6] != "4000.000" {
		t.Fatalf("airflow row = %v", rows[1])
	}
}

func TestRenderHTML(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderHTML(&buf, testReport(t)); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"<table>", "etl-diamond", "airflow", "dagster", "4s", "Ranking"} {
		if !strings.Contains(out, want) {
			t.Fatalf("HTML missing %q", want)
		}
	}
}

func TestRenderText(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderText(&buf, testReport(t)); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"SCENARIO", "etl-diamond", "dagster", "Ranking by mean overhead"} {
		if !strings.Contains(out, want) {
			t.Fatalf("text output missing %q:\n%s", want, out)
		}
	}
	// dagster has the lower mean overhead and must rank first.
	rankIdx := strings.Index(out, "Ranking by mean overhead")
	ranked := out[rankIdx:]
	if strings.Index(ranked, "dagster") > strings.Index(ranked, "airflow") {
		t.Fatalf("expected dagster ranked before airflow:\n%s", ranked)
	}
}
