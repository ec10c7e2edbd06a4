// Package config loads and validates the .mcpvet.yaml configuration.
// Every field has a default so zero-config runs work; explicit values are
// checked before any process is started.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"mcpvet/internal/tester"
	"mcpvet/internal/validate"
	"mcpvet/pkg/logging"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultFileName is looked up in the project directory and the working
// directory when no explicit config path is given.
const DefaultFileName = ".mcpvet.yaml"

// Duration wraps time.Duration with YAML string parsing ("500ms", "30s").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// ValidationConfig controls the basic validation phases.
type ValidationConfig struct {
	BaselineCapabilities []string `yaml:"baselineCapabilities"`
	StartupWindow        Duration `yaml:"startupWindow"`
	CallTimeout          Duration `yaml:"callTimeout"`
	StopGraceTimeout     Duration `yaml:"stopGraceTimeout"`
	AllowExit            bool     `yaml:"allowExit"`
	EntryCommand         string   `yaml:"entryCommand"`
	// CleanupPattern, when set, sweeps stale candidate processes from
	// aborted earlier runs (pgrep -f match) before a new run starts.
	CleanupPattern string `yaml:"cleanupPattern"`
}

// ThresholdConfig holds the recommendation thresholds of the
// comprehensive phases.
type ThresholdConfig struct {
	BenchmarkErrorRate float64  `yaml:"benchmarkErrorRate" validate:"gte=0,lte=1"`
	BenchmarkLatency   Duration `yaml:"benchmarkLatency"`
	Compatibility      float64  `yaml:"compatibility" validate:"gte=0,lte=1"`
	LoadErrorRate      float64  `yaml:"loadErrorRate" validate:"gte=0,lte=1"`
}

// TestingConfig controls the comprehensive test battery.
type TestingConfig struct {
	BenchmarkRequests int             `yaml:"benchmarkRequests" validate:"gt=0"`
	ConcurrentUsers   int             `yaml:"concurrentUsers" validate:"gt=0"`
	RequestsPerUser   int             `yaml:"requestsPerUser" validate:"gt=0"`
	MaxWorkers        int             `yaml:"maxWorkers" validate:"gt=0"`
	Thresholds        ThresholdConfig `yaml:"thresholds"`
}

// OutputConfig controls report persistence and rendering.
type OutputConfig struct {
	Directory string `yaml:"directory" validate:"required"`
	Format    string `yaml:"format" validate:"oneof=table json"`
}

// Config is the root of .mcpvet.yaml.
type Config struct {
	Validation ValidationConfig `yaml:"validation"`
	Testing    TestingConfig    `yaml:"testing"`
	Output     OutputConfig     `yaml:"output"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	vopts := validate.DefaultOptions()
	topts := tester.DefaultOptions()
	return Config{
		Validation: ValidationConfig{
			BaselineCapabilities: vopts.BaselineCapabilities,
			StartupWindow:        Duration(vopts.StartupWindow),
			CallTimeout:          Duration(vopts.CallTimeout),
			StopGraceTimeout:     Duration(vopts.StopGraceTimeout),
		},
		Testing: TestingConfig{
			BenchmarkRequests: topts.BenchmarkRequests,
			ConcurrentUsers:   topts.ConcurrentUsers,
			RequestsPerUser:   topts.RequestsPerUser,
			MaxWorkers:        topts.MaxWorkers,
			Thresholds: ThresholdConfig{
				BenchmarkErrorRate: topts.BenchmarkErrorRateLimit,
				BenchmarkLatency:   Duration(topts.BenchmarkLatencyLimit),
				Compatibility:      topts.CompatibilityThreshold,
				LoadErrorRate:      topts.LoadErrorRateLimit,
			},
		},
		Output: OutputConfig{
			Directory: "mcpvet-reports",
			Format:    "table",
		},
	}
}

// Load reads an explicit config file, overlays it on the defaults, and
// validates the result. A missing explicit path is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault searches projectDir and the working directory for
// DefaultFileName. When neither exists the defaults are returned.
func LoadOrDefault(projectDir string) (Config, error) {
	for _, dir := range []string{projectDir, "."} {
		path := filepath.Join(dir, DefaultFileName)
		if _, err := os.Stat(path); err == nil {
			logging.Debug("config", "loading configuration from %s", path)
			return Load(path)
		}
	}
	return Default(), nil
}

// Validate checks the struct-level constraints. Zero or negative worker
// counts are rejected here, synchronously, before any process starts.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Validation.StartupWindow <= 0 || c.Validation.CallTimeout <= 0 || c.Validation.StopGraceTimeout <= 0 {
		return fmt.Errorf("validation timeouts must be positive")
	}
	if c.Testing.Thresholds.BenchmarkLatency <= 0 {
		return fmt.Errorf("benchmark latency threshold must be positive")
	}
	return nil
}

// ValidateOptions maps the config onto the validation engine's options.
func (c Config) ValidateOptions() validate.Options {
	return validate.Options{
		BaselineCapabilities: c.Validation.BaselineCapabilities,
		StartupWindow:        c.Validation.StartupWindow.Std(),
		CallTimeout:          c.Validation.CallTimeout.Std(),
		StopGraceTimeout:     c.Validation.StopGraceTimeout.Std(),
		AllowExit:            c.Validation.AllowExit,
		EntryOverride:        c.Validation.EntryCommand,
	}
}

// TesterOptions maps the config onto the comprehensive tester's options.
func (c Config) TesterOptions() tester.Options {
	return tester.Options{
		BenchmarkRequests:       c.Testing.BenchmarkRequests,
		ConcurrentUsers:         c.Testing.ConcurrentUsers,
		RequestsPerUser:         c.Testing.RequestsPerUser,
		MaxWorkers:              c.Testing.MaxWorkers,
		BenchmarkErrorRateLimit: c.Testing.Thresholds.BenchmarkErrorRate,
		BenchmarkLatencyLimit:   c.Testing.Thresholds.BenchmarkLatency.Std(),
		CompatibilityThreshold:  c.Testing.Thresholds.Compatibility,
		LoadErrorRateLimit:      c.Testing.Thresholds.LoadErrorRate,
	}
}
