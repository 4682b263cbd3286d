package metrics

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"orchbench/internal/record"
)

// ProcSource reads CPU and memory usage of the harness process from
// /proc/self/stat. CPU% is computed from utime+stime deltas between
// consecutive samples; the first sample has no delta and reports CPU as
// unavailable.
type ProcSource struct {
	statPath  string
	clockTick float64
	now       func() time.Time

	mu        sync.Mutex
	lastTicks uint64
	lastAt    time.Time
}

// NewProcSource returns a source for the current process.
func NewProcSource() *ProcSource {
	return &ProcSource{statPath: "/proc/self/stat", clockTick: 100, now: time.Now}
}

// Sample implements Source.
func (p *ProcSource) Sample() (record.Sample, error) {
	ts := p.now().UTC()
	ticks, rssBytes, err := p.readStat()
	if err != nil {
		// Whole read failed: report the sample as unavailable.
		return record.Sample{Timestamp: ts}, nil
	}

	s := record.Sample{Timestamp: ts, MemoryBytes: &rssBytes}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.lastAt.IsZero() {
		elapsed := ts.Sub(p.lastAt).Seconds()
		if elapsed > 0 && ticks >= p.lastTicks {
			cpu := float64(ticks-p.lastTicks) / p.clockTick / elapsed * 100
			s.CPUPercent = &cpu
		}
	}
	p.lastTicks = ticks
	p.lastAt = ts
	return s, nil
}

// readStat parses utime+stime (clock ticks) and RSS (bytes) from the stat
// line. Field numbering follows proc(5); the comm field may contain spaces
// and is skipped via its closing paren.
func (p *ProcSource) readStat() (ticks uint64, rss uint64, err error) {
	data, err := os.ReadFile(p.statPath)
	if err != nil {
		return 0, 0, err
	}
	line := string(data)
	close := strings.LastIndexByte(line, ')')
	if close < 0 {
		return 0, 0, fmt.Errorf("malformed stat line")
	}
	fields := strings.Fields(line[close+1:])
	// After comm: field 1 is state, utime is field 12, stime 13, rss 22
	// (1-based within the remainder).
	if len(fields) < 22 {
		return 0, 0, fmt.Errorf("short stat line: %d fields", len(fields))
	}
	utime, err := strconv.ParseUint(fields[11], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	stime, err := strconv.ParseUint(fields[12], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	rssPages, err := strconv.ParseUint(fields[21], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	return utime + stime, rssPages * uint64(os.Getpagesize()), nil
}
