package record

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps sealed run records in a local SQLite database for
// queryable history across benchmark sessions. Active-run events other than
// Begin/Sealed are no-ops here; the file store is the append-only log.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
  run_id      TEXT PRIMARY KEY,
  scenario_id TEXT NOT NULL,
  backend_id  TEXT NOT NULL,
  attempt     INTEGER NOT NULL,
  namespace   TEXT,
  start_ts    INTEGER NOT NULL,
  end_ts      INTEGER,
  state       TEXT,
  sealed      INTEGER NOT NULL DEFAULT 0,
  overhead_ns INTEGER,
  clamped     INTEGER NOT NULL DEFAULT 0,
  tasks       TEXT,
  samples     TEXT
);
CREATE INDEX IF NOT EXISTS runs_pair ON runs (scenario_id, backend_id);
`

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Begin registers the run so aborted harness processes leave a trace.
func (s *SQLiteStore) Begin(rec *RunRecord) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO runs (run_id, scenario_id, backend_id, attempt, namespace, start_ts, sealed) VALUES (?, ?, ?, ?, ?, ?, 0)`,
		rec.RunID, rec.ScenarioID, rec.BackendID, rec.Attempt, rec.Namespace, rec.Start.UnixNano(),
	)
	return err
}

// AppendTask is a no-op; tasks are stored with the sealed record.
func (s *SQLiteStore) AppendTask(string, TaskResult) error { return nil }

// AppendSample is a no-op; samples are stored with the sealed record.
func (s *SQLiteStore) AppendSample(string, Sample) error { return nil }

// Sealed stores the complete sealed record.
func (s *SQLiteStore) Sealed(rec *RunRecord) error {
	tasks, err := json.Marshal(rec.Tasks)
	if err != nil {
		return err
	}
	samples, err := json.Marshal(rec.Samples)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`UPDATE runs SET end_ts = ?, state = ?, sealed = 1, overhead_ns = ?, clamped = ?, tasks = ?, samples = ? WHERE run_id = ?`,
		rec.End.UnixNano(), string(rec.State), int64(rec.Overhead), boolInt(rec.OverheadClamped), string(tasks), string(samples), rec.RunID,
	)
	return err
}

// ListSealed returns all sealed records ordered by start time.
func (s *SQLiteStore) ListSealed() ([]*RunRecord, error) {
	rows, err := s.db.Query(
		`SELECT run_id, scenario_id, backend_id, attempt, namespace, start_ts, end_ts, state, overhead_ns, clamped, tasks, samples
		 FROM runs WHERE sealed = 1 ORDER BY start_ts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*RunRecord
	for rows.Next() {
		var (
			rec                  RunRecord
			startNS, endNS, ovNS int64
			clamped              int
			state                string
			tasks, samples       string
		)
		if err := rows.Scan(&rec.RunID, &rec.ScenarioID, &rec.BackendID, &rec.Attempt, &rec.Namespace,
			&startNS, &endNS, &state, &ovNS, &clamped, &tasks, &samples); err != nil {
			return nil, err
		}
		rec.Start = time.Unix(0, startNS)
		rec.End = time.Unix(0, endNS)
		rec.State = RunState(state)
		rec.Overhead = time.Duration(ovNS)
		rec.OverheadClamped = clamped != 0
		rec.Sealed = true
		if err := json.Unmarshal([]byte(tasks), &rec.Tasks); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(samples), &rec.Samples); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
