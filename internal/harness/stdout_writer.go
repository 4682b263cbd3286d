// ColorProgressWriter prints human-friendly, colorized run progress to STDOUT.
package harness

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

const (
	colorReset   = "\x1b[0m"
	colorRed     = "\x1b[31m"
	colorGreen   = "\x1b[32m"
	colorYellow  = "\x1b[33m"
	colorBlue    = "\x1b[34m"
	colorMagenta = "\x1b[35m"
	colorCyan    = "\x1b[36m"
	colorGray    = "\x1b[90m"
)

var backendPalette = []string{colorGreen, colorBlue, colorMagenta, colorCyan, colorYellow}

// ColorProgressWriter prints progress events using ANSI colors. Backends are
// assigned a stable color in first-seen order.
type ColorProgressWriter struct {
	out           io.Writer
	mu            sync.Mutex
	backendColors map[string]string
	colorIdx      int
}

// NewColorProgressWriter creates a ColorProgressWriter writing to os.Stdout.
func NewColorProgressWriter() *ColorProgressWriter {
	return &ColorProgressWriter{out: os.Stdout, backendColors: make(map[string]string)}
}

func (w *ColorProgressWriter) getBackendColor(id string) string {
	if c, ok := w.backendColors[id]; ok {
		return c
	}
	c := backendPalette[w.colorIdx%len(backendPalette)]
	w.backendColors[id] = c
	w.colorIdx++
	return c
}

// WriteProgress outputs a single progress event in colorized format.
func (w *ColorProgressWriter) WriteProgress(ev Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	bColor := w.getBackendColor(ev.BackendID)
	prefix := fmt.Sprintf("%s[%s]%s %s%s%s %s/%s",
		colorGray, ev.Time.Format(time.RFC3339), colorReset,
		bColor, ev.BackendID, colorReset,
		ev.ScenarioID, shortID(ev.RunID),
	)

	var err error
	switch ev.Type {
	case EventRunStarted:
		_, err = fmt.Fprintf(w.out, "%s submitted\n", prefix)
	case EventRunStatus:
		_, err = fmt.Fprintf(w.out, "%s status=%s\n", prefix, ev.Status)
	case EventTaskDone:
		c := colorGreen
		if ev.Task.Outcome == "failed" || ev.Task.Outcome == "timed-out" {
			c = colorRed
		} else if ev.Task.Retries > 0 {
			c = colorYellow
		}
		_, err = fmt.Fprintf(w.out, "%s task=%s %s%s%s retries=%d measured=%s\n",
			prefix, ev.Task.NodeID, c, ev.Task.Outcome, colorReset, ev.Task.Retries, ev.Task.Measured().Round(time.Millisecond))
	case EventSample:
		line := prefix + " sample"
		if ev.Sample.CPUPercent != nil {
			line += fmt.Sprintf(" cpu=%.1f%%", *ev.Sample.CPUPercent)
		}
		if ev.Sample.MemoryBytes != nil {
			line += fmt.Sprintf(" mem=%dB", *ev.Sample.MemoryBytes)
		}
		_, err = fmt.Fprintf(w.out, "%s\n", line)
	case EventRunRetrying:
		_, err = fmt.Fprintf(w.out, "%s %sretrying%s: %s\n", prefix, colorYellow, colorReset, ev.Reason)
	case EventRunSealed:
		c := colorGreen
		if ev.State != "succeeded" {
			c = colorRed
		}
		line := fmt.Sprintf("%s %s%s%s overhead=%s", prefix, c, ev.State, colorReset, ev.Overhead.Round(time.Millisecond))
		if ev.Reason != "" {
			line += " reason=" + ev.Reason
		}
		_, err = fmt.Fprintf(w.out, "%s\n", line)
	}
	return err
}

// JSONProgressWriter prints progress events as one JSON object per line.
type JSONProgressWriter struct {
	out io.Writer
	mu  sync.Mutex
}

// NewJSONProgressWriter creates a JSONProgressWriter writing to os.Stdout.
func NewJSONProgressWriter() *JSONProgressWriter {
	return &JSONProgressWriter{out: os.Stdout}
}

// WriteProgress outputs a single event as JSON.
func (w *JSONProgressWriter) WriteProgress(ev Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w.out, string(data))
	return err
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
