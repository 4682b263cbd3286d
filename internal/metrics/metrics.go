// Resource sampling and overhead computation for benchmark runs.
package metrics

import (
	"context"
	"time"

	"orchbench/internal/record"
)

// Source produces one resource observation. A Source that cannot read a
// metric returns a sample with the corresponding field nil; it returns an
// error only when the whole read failed.
type Source interface {
	Sample() (record.Sample, error)
}

// Collector samples a Source at a fixed interval for the duration of a run,
// independent of task count.
type Collector struct {
	source   Source
	interval time.Duration
	now      func() time.Time
}

// NewCollector builds a collector; interval <= 0 defaults to 1s.
func NewCollector(source Source, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = time.Second
	}
	return &Collector{source: source, interval: interval, now: time.Now}
}

// Run samples until ctx is cancelled, delivering each sample to emit. A
// failed read still emits a sample with nil metric fields: the gap is
// recorded as unavailable, never as zero.
func (c *Collector) Run(ctx context.Context, emit func(record.Sample)) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s, err := c.source.Sample()
			if err != nil {
				s = record.Sample{Timestamp: c.now().UTC()}
			}
			if s.Timestamp.IsZero() {
				s.Timestamp = c.now().UTC()
			}
			emit(s)
		}
	}
}

// Overhead computes measured minus declared duration. A negative result can
// only come from clock skew; it is clamped to zero and flagged.
func Overhead(measured, declared time.Duration) (time.Duration, bool) {
	o := measured - declared
	if o < 0 {
		return 0, true
	}
	return o, false
}
