package record

// MultiSink fans every run event out to all configured sinks. The first
// error wins but remaining sinks still receive the event.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks; nil entries are dropped.
func NewMultiSink(sinks ...Sink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *MultiSink) each(fn func(Sink) error) error {
	var first error
	for _, s := range m.sinks {
		if err := fn(s); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *MultiSink) Begin(rec *RunRecord) error {
	return m.each(func(s Sink) error { return s.Begin(rec) })
}

func (m *MultiSink) AppendTask(runID string, t TaskResult) error {
	return m.each(func(s Sink) error { return s.AppendTask(runID, t) })
}

func (m *MultiSink) AppendSample(runID string, sm Sample) error {
	return m.each(func(s Sink) error { return s.AppendSample(runID, sm) })
}

func (m *MultiSink) Sealed(rec *RunRecord) error {
	return m.each(func(s Sink) error { return s.Sealed(rec) })
}
