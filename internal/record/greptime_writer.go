package record

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	ingesterContext "github.com/GreptimeTeam/greptimedb-ingester-go/context"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"
)

// ingestClient abstracts the GreptimeDB ingester client for testing.
type ingestClient interface {
	Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error)
}

// GreptimeWriter ships resource samples and sealed run summaries to
// GreptimeDB so runs can be charted next to backend-level dashboards.
type GreptimeWriter struct {
	client      ingestClient
	sampleTable string
	runTable    string
}

// NewGreptimeWriter connects to GreptimeDB. endpoint is "host" or
// "host:port"; a bare host keeps the client's default gRPC port.
func NewGreptimeWriter(endpoint, database, sampleTable, runTable string) (*GreptimeWriter, error) {
	host, port := splitEndpoint(endpoint)
	cfg := greptime.NewConfig(host).WithDatabase(database)
	if port > 0 {
		cfg = cfg.WithPort(port)
	}
	client, err := greptime.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("greptime client for %q: %w", endpoint, err)
	}
	if sampleTable == "" {
		sampleTable = "bench_samples"
	}
	if runTable == "" {
		runTable = "bench_runs"
	}
	return &GreptimeWriter{client: client, sampleTable: sampleTable, runTable: runTable}, nil
}

func splitEndpoint(endpoint string) (host string, port int) {
	h, p, err := net.SplitHostPort(endpoint)
	if err != nil {
		return endpoint, 0
	}
	port, err = strconv.Atoi(p)
	if err != nil {
		return endpoint, 0
	}
	return h, port
}

// Begin is a no-op; Greptime only receives samples and sealed summaries.
func (w *GreptimeWriter) Begin(*RunRecord) error { return nil }

// AppendTask is a no-op.
func (w *GreptimeWriter) AppendTask(string, TaskResult) error { return nil }

// AppendSample inserts one resource sample row. Unavailable metrics are left
// out of the row's schema so they read back as nulls rather than zeros.
func (w *GreptimeWriter) AppendSample(runID string, s Sample) error {
	if s.CPUPercent == nil && s.MemoryBytes == nil {
		return nil
	}
	tbl, err := table.New(w.sampleTable)
	if err != nil {
		return err
	}
	if err := tbl.AddTagColumn("run_id", types.STRING); err != nil {
		return err
	}
	vals := []any{runID}
	if s.CPUPercent != nil {
		if err := tbl.AddFieldColumn("cpu_percent", types.FLOAT64); err != nil {
			return err
		}
		vals = append(vals, *s.CPUPercent)
	}
	if s.MemoryBytes != nil {
		if err := tbl.AddFieldColumn("memory_bytes", types.UINT64); err != nil {
			return err
		}
		vals = append(vals, *s.MemoryBytes)
	}
	if err := tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND); err != nil {
		return err
	}
	vals = append(vals, s.Timestamp)
	if err := tbl.AddRow(vals...); err != nil {
		return err
	}

	ctx := ingesterContext.New(context.Background())
	if _, err := w.client.Write(ctx, tbl); err != nil {
		log.Printf("[GreptimeWriter] sample write failed: %v", err)
		return err
	}
	return nil
}

// Sealed inserts a run summary row.
func (w *GreptimeWriter) Sealed(rec *RunRecord) error {
	tbl, err := table.New(w.runTable)
	if err != nil {
		return err
	}
	if err := tbl.AddTagColumn("scenario_id", types.STRING); err != nil {
		return err
	}
	if err := tbl.AddTagColumn("backend_id", types.STRING); err != nil {
		return err
	}
	for _, f := range []struct {
		name string
		typ  types.ColumnType
	}{
		{"run_id", types.STRING},
		{"state", types.STRING},
		{"duration_ms", types.INT64},
		{"overhead_ms", types.INT64},
		{"task_count", types.INT64},
	} {
		if err := tbl.AddFieldColumn(f.name, f.typ); err != nil {
			return err
		}
	}
	if err := tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND); err != nil {
		return err
	}
	if err := tbl.AddRow(
		rec.ScenarioID,
		rec.BackendID,
		rec.RunID,
		string(rec.State),
		rec.Duration().Milliseconds(),
		rec.Overhead.Milliseconds(),
		int64(len(rec.Tasks)),
		rec.End,
	); err != nil {
		return err
	}

	ctx := ingesterContext.New(context.Background())
	if _, err := w.client.Write(ctx, tbl); err != nil {
		log.Printf("[GreptimeWriter] run write failed: %v", err)
		return err
	}
	log.Printf("[GreptimeWriter] wrote run %s (%s/%s)", rec.RunID, rec.ScenarioID, rec.BackendID)
	return nil
}
