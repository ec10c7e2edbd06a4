package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"mcpvet/internal/config"
	"mcpvet/internal/process"
	"mcpvet/internal/progress"
	"mcpvet/internal/report"
	"mcpvet/internal/security"
	"mcpvet/internal/tester"
	"mcpvet/internal/validate"
	"mcpvet/pkg/logging"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

type validateFlags struct {
	level           string
	configPath      string
	entryCommand    string
	workers         int
	timeout         time.Duration
	outputDir       string
	format          string
	quiet           bool
	debug           bool
	skipBenchmarks  bool
	skipIntegration bool
	skipLoad        bool
	skipSecurity    bool
}

// newValidateCmd creates the command that runs validation (and, at the
// comprehensive level, the full test battery) against a project directory.
func newValidateCmd() *cobra.Command {
	flags := &validateFlags{}

	cmd := &cobra.Command{
		Use:   "validate <project-path>",
		Short: "Validate an MCP server project",
		Long: `Validate runs the escalating checks against the server project at the
given path: startup, protocol handshake, and functionality probing. With
--level comprehensive it additionally benchmarks the server, simulates
multiple client profiles, runs a concurrent load test, and scans the
project sources for security issues.

The command exits 0 when the run passed overall and 1 otherwise.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args[0], flags)
		},
	}

	cmd.Flags().StringVarP(&flags.level, "level", "l", "standard", "validation level (basic, standard, comprehensive)")
	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "path to a config file (default: .mcpvet.yaml in the project or working directory)")
	cmd.Flags().StringVar(&flags.entryCommand, "entry", "", "explicit entry command, bypassing detection")
	cmd.Flags().IntVarP(&flags.workers, "workers", "w", 0, "load-test worker pool size (default from config)")
	cmd.Flags().DurationVarP(&flags.timeout, "timeout", "t", 0, "per-call timeout (default from config)")
	cmd.Flags().StringVarP(&flags.outputDir, "output", "o", "", "report output directory (default from config)")
	cmd.Flags().StringVarP(&flags.format, "format", "f", "", "output format: table or json (default from config)")
	cmd.Flags().BoolVarP(&flags.quiet, "quiet", "q", false, "suppress progress output")
	cmd.Flags().BoolVar(&flags.debug, "debug", false, "enable debug logging")
	cmd.Flags().BoolVar(&flags.skipBenchmarks, "skip-benchmarks", false, "skip performance benchmarks")
	cmd.Flags().BoolVar(&flags.skipIntegration, "skip-integration", false, "skip client integration tests")
	cmd.Flags().BoolVar(&flags.skipLoad, "skip-load", false, "skip the concurrent load test")
	cmd.Flags().BoolVar(&flags.skipSecurity, "skip-security", false, "skip the static security scan")

	return cmd
}

func runValidate(cmd *cobra.Command, projectArg string, flags *validateFlags) error {
	projectPath, err := filepath.Abs(projectArg)
	if err != nil {
		return fmt.Errorf("invalid project path %q: %w", projectArg, err)
	}

	level, err := validate.ParseLevel(flags.level)
	if err != nil {
		return err
	}

	logLevel := logging.LevelInfo
	if flags.debug {
		logLevel = logging.LevelDebug
	}
	var logOutput io.Writer = os.Stderr
	if flags.quiet {
		logOutput = io.Discard
	}
	logging.Init(logLevel, logOutput)

	cfg, err := loadConfig(projectPath, flags)
	if err != nil {
		return err
	}

	if cfg.Validation.CleanupPattern != "" {
		process.CleanupStale(cfg.Validation.CleanupPattern)
	}

	supervisor := process.NewSupervisor()
	engine := validate.NewEngine(supervisor, cfg.ValidateOptions(), progress.NewLogTracker(), nil)

	spin := startSpinner(cmd, flags, "validating "+filepath.Base(projectPath))
	defer stopSpinner(spin)

	ctx := cmd.Context()
	writer := report.NewWriter(cfg.Output.Directory)

	if level == validate.LevelComprehensive {
		testerOpts := cfg.TesterOptions()
		testerOpts.SkipBenchmarks = flags.skipBenchmarks
		testerOpts.SkipIntegration = flags.skipIntegration
		testerOpts.SkipLoad = flags.skipLoad
		testerOpts.SkipSecurity = flags.skipSecurity

		comprehensive, err := tester.NewTester(engine, security.NewScanner(), testerOpts, progress.NewLogTracker())
		if err != nil {
			return err
		}

		result := comprehensive.Run(ctx, projectPath)
		stopSpinner(spin)

		if _, err := writer.SaveComprehensive(result); err != nil {
			logging.Warn("cli", "failed to persist report: %v", err)
		}
		if err := emit(cmd.OutOrStdout(), cfg.Output.Format, result, func(w io.Writer) {
			report.RenderComprehensive(w, result)
		}); err != nil {
			return err
		}
		if !result.OverallSuccess {
			return fmt.Errorf("comprehensive testing did not pass")
		}
		return nil
	}

	result := engine.Validate(ctx, projectPath, level)
	supervisor.TerminateAll()
	stopSpinner(spin)

	if _, err := writer.SaveValidation(result); err != nil {
		logging.Warn("cli", "failed to persist report: %v", err)
	}
	if err := emit(cmd.OutOrStdout(), cfg.Output.Format, result, func(w io.Writer) {
		report.RenderValidation(w, result)
	}); err != nil {
		return err
	}
	if !result.OverallSuccess {
		return fmt.Errorf("validation did not pass")
	}
	return nil
}

func loadConfig(projectPath string, flags *validateFlags) (config.Config, error) {
	var cfg config.Config
	var err error
	if flags.configPath != "" {
		cfg, err = config.Load(flags.configPath)
	} else {
		cfg, err = config.LoadOrDefault(projectPath)
	}
	if err != nil {
		return cfg, err
	}

	// Flag overrides take precedence over file values.
	if flags.entryCommand != "" {
		cfg.Validation.EntryCommand = flags.entryCommand
	}
	if flags.workers > 0 {
		cfg.Testing.MaxWorkers = flags.workers
	}
	if flags.timeout > 0 {
		cfg.Validation.CallTimeout = config.Duration(flags.timeout)
	}
	if flags.outputDir != "" {
		cfg.Output.Directory = flags.outputDir
	}
	if flags.format != "" {
		cfg.Output.Format = flags.format
	}
	return cfg, cfg.Validate()
}

// emit writes the result either as indented JSON or through the table
// renderer.
func emit(out io.Writer, format string, result any, render func(io.Writer)) error {
	if format == "json" {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}
	render(out)
	return nil
}

func startSpinner(cmd *cobra.Command, flags *validateFlags, suffix string) *spinner.Spinner {
	if flags.quiet || flags.format == "json" {
		return nil
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
	s.Suffix = " " + suffix
	s.Start()
	return s
}

func stopSpinner(s *spinner.Spinner) {
	if s != nil {
		s.Stop()
	}
}
