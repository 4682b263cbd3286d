package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"orchbench/internal/record"
	"orchbench/internal/report"
)

var (
	reportInput  string
	reportFormat string
	reportOutput string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Aggregate sealed run records into a comparison report",
	Long: "report reads sealed run records from a run log directory (JSONL) or a SQLite " +
		"store and renders the per-scenario backend comparison.",
	RunE: func(cmd *cobra.Command, args []string) error {
		reader, cleanup, err := openReader(reportInput)
		if err != nil {
			return err
		}
		defer cleanup()

		records, err := reader.ListSealed()
		if err != nil {
			return err
		}
		rep, err := report.Aggregate(records)
		if err != nil {
			return err
		}

		out := os.Stdout
		if reportOutput != "" {
			f, err := os.Create(reportOutput)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}

		switch reportFormat {
		case "html":
			return report.RenderHTML(out, rep)
		case "csv":
			return report.RenderCSV(out, rep)
		case "cli", "text":
			return report.RenderText(out, rep)
		default:
			return fmt.Errorf("unknown format %q (want html, csv or cli)", reportFormat)
		}
	},
}

// openReader picks the store type from the input path: .db files are SQLite,
// anything else is a JSONL run log directory.
func openReader(input string) (record.Reader, func(), error) {
	if strings.HasSuffix(input, ".db") || strings.HasSuffix(input, ".sqlite") {
		ss, err := record.NewSQLiteStore(input)
		if err != nil {
			return nil, nil, err
		}
		return ss, func() { ss.Close() }, nil
	}
	fs, err := record.NewFileStore(input)
	if err != nil {
		return nil, nil, err
	}
	return fs, func() {}, nil
}

func init() {
	reportCmd.Flags().StringVar(&reportInput, "input", "runs", "Run log directory or SQLite store path")
	reportCmd.Flags().StringVar(&reportFormat, "format", "cli", "Output format: html, csv or cli")
	reportCmd.Flags().StringVar(&reportOutput, "output", "", "Write the report to a file instead of STDOUT")
}
