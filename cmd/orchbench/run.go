package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"orchbench/internal/admin"
	"orchbench/internal/backend"
	"orchbench/internal/config"
	"orchbench/internal/harness"
	"orchbench/internal/logging"
	"orchbench/internal/metrics"
	"orchbench/internal/record"
	"orchbench/internal/report"
	"orchbench/internal/scenario"
)

var (
	runConfigPath  string
	runSchemaPath  string
	runSuite       []string
	runCategory    string
	runBackends    []string
	runAllBackends bool
	runIncludeK8s  bool
	runParallelism int
	runRepeat      int
	runTUI         bool
	runJSON        bool
	runLogDir      string
	runScenarios   []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run benchmark scenarios against the configured backends",
	Long: "run submits each selected scenario to every selected backend, polls the runs " +
		"to completion and stores sealed run records for later reporting. The exit code " +
		"reflects harness health, not scenario outcomes.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		cfg, err := config.Load(runConfigPath, runSchemaPath)
		if err != nil {
			return err
		}
		if runLogDir != "" {
			cfg.Store.Dir = runLogDir
		}

		specs, err := selectScenarios()
		if err != nil {
			return err
		}
		adapters, err := selectBackends(cfg)
		if err != nil {
			return err
		}

		sink, reader, sinkCleanup, err := newSinks(cfg.Store)
		if err != nil {
			return err
		}
		defer sinkCleanup()

		progress, progressCleanup := newProgressWriter(runTUI, runJSON)
		defer progressCleanup()

		var writers []harness.ProgressWriter
		writers = append(writers, progress)
		if cfg.AdminAddr != "" {
			srv := admin.NewServer(reader)
			writers = append(writers, srv)
			go func() {
				log.Printf("[Admin] status UI listening on %s", cfg.AdminAddr)
				if err := srv.Start(cfg.AdminAddr); err != nil {
					log.Printf("[Admin] server stopped: %v", err)
				}
			}()
		}

		opts := cfg.HarnessOptions()
		if runParallelism > 0 {
			opts.Parallelism = runParallelism
		}
		if runRepeat > 0 {
			opts.Repeat = runRepeat
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		ctx = logging.NewContext(ctx, logging.New())

		h := harness.New(sink, harness.NewMultiProgress(writers...), metrics.NewProcSource(), opts)
		records, runErr := h.Run(ctx, specs, adapters)
		if runErr != nil {
			log.Printf("[Run] interrupted: %v", runErr)
		}

		printSummary(records)
		return runExitError(runErr)
	},
}

// runExitError maps the harness error to the command's exit status: exit 0 is
// reserved for a run where every scheduled benchmark completed. Scenario
// failures are data, not errors, and do not affect the exit code.
func runExitError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("benchmark run interrupted: %w", err)
}

func selectScenarios() ([]*scenario.Spec, error) {
	reg, err := scenario.DefaultRegistry()
	if err != nil {
		return nil, err
	}
	for _, path := range runScenarios {
		spec, err := scenario.Load(path)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(spec); err != nil {
			return nil, err
		}
	}

	var specs []*scenario.Spec
	for spec := range reg.List() {
		if len(runSuite) > 0 && !slices.Contains(runSuite, spec.ID) {
			continue
		}
		if runCategory != "" && spec.Category != runCategory {
			continue
		}
		if spec.RequiresK8s && !runIncludeK8s {
			continue
		}
		specs = append(specs, spec)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("no scenarios match the selection")
	}
	return specs, nil
}

func selectBackends(cfg *config.HarnessConfig) ([]backend.Adapter, error) {
	var adapters []backend.Adapter
	for _, bc := range cfg.BackendConfigs() {
		if !runAllBackends && len(runBackends) > 0 && !slices.Contains(runBackends, bc.Name) {
			continue
		}
		a, err := backend.New(bc)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	if len(adapters) == 0 {
		return nil, fmt.Errorf("no backends match the selection (configured: %s)", configuredNames(cfg))
	}
	return adapters, nil
}

func configuredNames(cfg *config.HarnessConfig) string {
	names := make([]string, 0, len(cfg.Backends))
	for _, b := range cfg.Backends {
		names = append(names, b.Name)
	}
	return strings.Join(names, ", ")
}

// printSummary writes the aggregate comparison to STDOUT once all runs sealed.
func printSummary(records []*record.RunRecord) {
	if len(records) == 0 {
		return
	}
	rep, err := report.Aggregate(records)
	if err != nil {
		log.Printf("[Run] no aggregate: %v", err)
		return
	}
	fmt.Println()
	if err := report.RenderText(os.Stdout, rep); err != nil {
		log.Printf("[Run] summary render failed: %v", err)
	}
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", "config/harness.yaml", "Path to harness configuration YAML")
	runCmd.Flags().StringVar(&runSchemaPath, "schema", "schemas/harness.cue", "Path to CUE schema file")
	runCmd.Flags().StringSliceVar(&runSuite, "suite", nil, "Scenario IDs to run (default: all registered)")
	runCmd.Flags().StringVar(&runCategory, "category", "", "Only run scenarios of this category")
	runCmd.Flags().StringSliceVar(&runBackends, "backend", nil, "Backends to target (default: all configured)")
	runCmd.Flags().BoolVar(&runAllBackends, "all-orchestrators", false, "Target every configured backend, overriding --backend")
	runCmd.Flags().BoolVar(&runIncludeK8s, "include-k8s", false, "Include scenarios that require a Kubernetes executor")
	runCmd.Flags().IntVar(&runParallelism, "parallelism", 0, "Max concurrently active (scenario, backend) pairs")
	runCmd.Flags().IntVar(&runRepeat, "repeat", 0, "Runs per (scenario, backend) pair")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Render live progress in a terminal UI")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Emit progress as JSON lines")
	runCmd.Flags().StringVar(&runLogDir, "log-dir", "", "Override the run log directory")
	runCmd.Flags().StringSliceVar(&runScenarios, "scenario-file", nil, "Extra scenario YAML files to register")
}
