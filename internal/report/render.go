package report

import (
	"embed"
	"encoding/csv"
	"fmt"
	"html/template"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
)

//go:embed templates/report.html
var content embed.FS

var htmlTpl = template.Must(template.New("report.html").Funcs(template.FuncMap{
	"dur":     func(d time.Duration) string { return d.Round(time.Millisecond).String() },
	"percent": func(f float64) string { return fmt.Sprintf("%.0f%%", f*100) },
}).ParseFS(content, "templates/report.html"))

// RenderHTML writes the report as a standalone HTML page.
func RenderHTML(w io.Writer, r *Report) error {
	return htmlTpl.Execute(w, r)
}

var csvHeader = []string{
	"scenario", "backend", "runs", "succeeded", "aborted", "success_rate",
	"overhead_mean", "overhead_median", "overhead_p95",
	"duration_mean", "duration_median", "duration_p95",
	"total_retries", "overhead_clamped",
}

// RenderCSV writes one row per (scenario, backend) group. Durations are
// emitted in milliseconds for spreadsheet use.
func RenderCSV(w io.Writer, r *Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	ms := func(d time.Duration) string {
		return strconv.FormatFloat(float64(d)/float64(time.Millisecond), 'f', 3, 64)
	}
	for _, g := range r.Groups {
		row := []string{
			g.ScenarioID, g.BackendID,
			strconv.Itoa(g.Runs), strconv.Itoa(g.Succeeded), strconv.Itoa(g.Aborted),
			strconv.FormatFloat(g.SuccessRate, 'f', 4, 64),
			ms(g.OverheadStats.Mean), ms(g.OverheadStats.Median), ms(g.OverheadStats.P95),
			ms(g.DurationStats.Mean), ms(g.DurationStats.Median), ms(g.DurationStats.P95),
			strconv.Itoa(g.TotalRetries), strconv.FormatBool(g.OverheadClamped),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var (
	cliHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	cliWinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	cliWarnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

// RenderText writes a terminal-friendly comparison.
func RenderText(w io.Writer, r *Report) error {
	fmt.Fprintln(w, cliHeaderStyle.Render("Benchmark comparison")+"  generated "+r.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintln(w)

	rankedFirst := make(map[string]string, len(r.Rankings))
	for _, rk := range r.Rankings {
		if len(rk.Backends) > 0 {
			rankedFirst[rk.ScenarioID] = rk.Backends[0]
		}
	}

	fmt.Fprintf(w, "%-20s %-10s %5s %8s %12s %12s %12s\n",
		"SCENARIO", "BACKEND", "RUNS", "SUCCESS", "OVH MEAN", "OVH P95", "DUR MEAN")
	for _, g := range r.Groups {
		backend := g.BackendID
		if rankedFirst[g.ScenarioID] == g.BackendID {
			backend = cliWinnerStyle.Render(backend)
		}
		line := fmt.Sprintf("%-20s %-10s %5d %7.0f%% %12s %12s %12s",
			g.ScenarioID, backend, g.Runs, g.SuccessRate*100,
			g.OverheadStats.Mean.Round(time.Millisecond),
			g.OverheadStats.P95.Round(time.Millisecond),
			g.DurationStats.Mean.Round(time.Millisecond))
		if g.OverheadClamped {
			line += " " + cliWarnStyle.Render("clamped")
		}
		fmt.Fprintln(w, line)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, cliHeaderStyle.Render("Ranking by mean overhead"))
	for _, rk := range r.Rankings {
		fmt.Fprintf(w, "%-20s", rk.ScenarioID)
		for i, b := range rk.Backends {
			if i > 0 {
				fmt.Fprint(w, " > ")
			} else {
				fmt.Fprint(w, " ")
			}
			fmt.Fprint(w, b)
		}
		fmt.Fprintln(w)
	}
	return nil
}
