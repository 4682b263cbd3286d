package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"orchbench/internal/harness"
)

var (
	replayInput string
	replaySpeed float64
	replayTUI   bool
	replayJSON  bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a run log through a progress writer",
	Long:  "replay feeds a sealed run's JSONL event log back through the progress output, paced by the original timestamps.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayInput == "" {
			return fmt.Errorf("input file required")
		}
		f, err := os.Open(replayInput)
		if err != nil {
			return err
		}
		defer f.Close()

		writer, cleanup := newProgressWriter(replayTUI, replayJSON)
		defer cleanup()
		return harness.ReplayLog(f, writer, replaySpeed)
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayInput, "input", "", "Path to a run JSONL log file")
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 1.0, "Playback speed multiplier")
	replayCmd.Flags().BoolVar(&replayTUI, "tui", false, "Render the replay in the terminal UI")
	replayCmd.Flags().BoolVar(&replayJSON, "json", false, "Emit replayed events as JSON lines")
	replayCmd.MarkFlagRequired("input")
}
