package harness

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
)

// teaProgram abstracts bubbletea.Program for testing.
type teaProgram interface {
	Send(tea.Msg)
}

// eventMsg carries one progress event into the model.
type eventMsg struct{ ev Event }

// TUIWriter renders run progress using a bubbletea TUI.
type TUIWriter struct {
	program    teaProgram
	done       chan struct{}
	sendSignal atomic.Bool
}

// NewTUIWriter starts a bubbletea program and returns a TUIWriter. When the
// user quits the TUI, the process receives an interrupt so the harness winds
// down its runs.
func NewTUIWriter() *TUIWriter {
	w := &TUIWriter{done: make(chan struct{})}
	w.sendSignal.Store(true)
	p := tea.NewProgram(newTUIModel(), tea.WithAltScreen())
	w.program = p
	go func() {
		_, _ = p.Run()
		close(w.done)
		if w.sendSignal.Load() {
			if proc, err := os.FindProcess(os.Getpid()); err == nil {
				_ = proc.Signal(os.Interrupt)
			}
		}
	}()
	return w
}

// WriteProgress implements ProgressWriter.
func (w *TUIWriter) WriteProgress(ev Event) error {
	w.program.Send(eventMsg{ev: ev})
	return nil
}

// Close stops the TUI without signalling the process.
func (w *TUIWriter) Close() {
	w.sendSignal.Store(false)
	if p, ok := w.program.(*tea.Program); ok {
		p.Quit()
		<-w.done
	}
}

// runRow is the table state for one run.
type runRow struct {
	runID      string
	scenarioID string
	backendID  string
	status     string
	tasksDone  int
	overhead   time.Duration
	started    time.Time
}

type tuiModel struct {
	table      table.Model
	vp         viewport.Model
	runs       map[string]*runRow
	order      []string
	lines      []string
	wrap       bool
	autoscroll bool
	width      int
	height     int
}

var (
	tuiTitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	tuiFailStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	tuiOKStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	tuiBorderStyle = lipgloss.NewStyle().Border(lipgloss.NormalBorder(), true)
)

func newTUIModel() tuiModel {
	cols := []table.Column{
		{Title: "Run", Width: 8},
		{Title: "Scenario", Width: 18},
		{Title: "Backend", Width: 10},
		{Title: "Status", Width: 18},
		{Title: "Tasks", Width: 6},
		{Title: "Overhead", Width: 10},
	}
	t := table.New(table.WithColumns(cols), table.WithHeight(8))
	return tuiModel{
		table:      t,
		vp:         viewport.New(0, 0),
		runs:       make(map[string]*runRow),
		autoscroll: true,
		wrap:       true,
	}
}

func (m tuiModel) Init() tea.Cmd { return nil }

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(msg.Width)
		m.vp.Width = msg.Width - 2
		vpHeight := msg.Height - m.table.Height() - 6
		if vpHeight < 3 {
			vpHeight = 3
		}
		m.vp.Height = vpHeight
		m.refreshViewport()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "w":
			m.wrap = !m.wrap
			m.refreshViewport()
		case "a":
			m.autoscroll = !m.autoscroll
		case "up", "k":
			m.vp.LineUp(1)
		case "down", "j":
			m.vp.LineDown(1)
		}
	case eventMsg:
		m.apply(msg.ev)
	}
	return m, nil
}

func (m *tuiModel) apply(ev Event) {
	row, ok := m.runs[ev.RunID]
	if !ok {
		row = &runRow{runID: ev.RunID, scenarioID: ev.ScenarioID, backendID: ev.BackendID, started: ev.Time}
		m.runs[ev.RunID] = row
		m.order = append(m.order, ev.RunID)
	}

	switch ev.Type {
	case EventRunStarted:
		row.status = "submitted"
		m.appendLine(ev, "submitted")
	case EventRunStatus:
		row.status = string(ev.Status)
	case EventTaskDone:
		row.tasksDone++
		m.appendLine(ev, fmt.Sprintf("task %s %s retries=%d", ev.Task.NodeID, ev.Task.Outcome, ev.Task.Retries))
	case EventRunRetrying:
		row.status = "retrying"
		m.appendLine(ev, "retrying: "+ev.Reason)
	case EventRunSealed:
		row.status = string(ev.State)
		row.overhead = ev.Overhead
		line := fmt.Sprintf("%s overhead=%s", ev.State, ev.Overhead.Round(time.Millisecond))
		if ev.Reason != "" {
			line += " reason=" + ev.Reason
		}
		m.appendLine(ev, line)
	}
	m.refreshTable()
}

func (m *tuiModel) appendLine(ev Event, text string) {
	line := fmt.Sprintf("[%s] %s %s/%s %s",
		ev.Time.Format("15:04:05"), ev.BackendID, ev.ScenarioID, shortID(ev.RunID), text)
	m.lines = append(m.lines, line)
	if len(m.lines) > 500 {
		m.lines = m.lines[len(m.lines)-500:]
	}
	m.refreshViewport()
}

func (m *tuiModel) refreshTable() {
	rows := make([]table.Row, 0, len(m.order))
	// Sort stable by scenario then backend so the table does not jump around.
	ids := append([]string(nil), m.order...)
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := m.runs[ids[i]], m.runs[ids[j]]
		if a.scenarioID != b.scenarioID {
			return a.scenarioID < b.scenarioID
		}
		return a.backendID < b.backendID
	})
	for _, id := range ids {
		r := m.runs[id]
		overhead := ""
		if r.overhead > 0 {
			overhead = r.overhead.Round(time.Millisecond).String()
		}
		rows = append(rows, table.Row{
			shortID(r.runID), r.scenarioID, r.backendID, r.status,
			fmt.Sprintf("%d", r.tasksDone), overhead,
		})
	}
	m.table.SetRows(rows)
}

func (m *tuiModel) refreshViewport() {
	content := strings.Join(m.lines, "\n")
	if m.wrap && m.vp.Width > 0 {
		content = wordwrap.String(content, m.vp.Width)
	}
	m.vp.SetContent(content)
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m tuiModel) View() string {
	var b strings.Builder
	b.WriteString(tuiTitleStyle.Render("orchbench") + "  q quit · w wrap · a autoscroll\n")
	b.WriteString(m.table.View())
	b.WriteString("\n")
	b.WriteString(tuiBorderStyle.Width(m.vp.Width).Render(m.vp.View()))
	b.WriteString("\n" + m.summaryLine())
	return b.String()
}

func (m tuiModel) summaryLine() string {
	var active, sealed, failed int
	for _, r := range m.runs {
		switch r.status {
		case "succeeded":
			sealed++
		case "failed", "partially-failed", "aborted":
			sealed++
			failed++
		default:
			active++
		}
	}
	line := fmt.Sprintf("active %d · sealed %d", active, sealed)
	if failed > 0 {
		return line + " · " + tuiFailStyle.Render(fmt.Sprintf("failed %d", failed))
	}
	return line + " · " + tuiOKStyle.Render("all green")
}
