// YAML config loader with CUE validation integration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"orchbench/internal/backend"
	"orchbench/internal/harness"
)

// Duration wraps time.Duration so YAML can carry "30s" notation.
type Duration time.Duration

// UnmarshalYAML parses time.ParseDuration notation.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// BackendConfig describes one orchestrator endpoint.
type BackendConfig struct {
	Name          string   `yaml:"name"`
	Kind          string   `yaml:"kind"`
	Endpoint      string   `yaml:"endpoint"`
	Username      string   `yaml:"username,omitempty"`
	Password      string   `yaml:"password,omitempty"`
	Token         string   `yaml:"token,omitempty"`
	SubmitTimeout Duration `yaml:"submit_timeout,omitempty"`
}

// GreptimeConfig configures the optional GreptimeDB metrics sink.
type GreptimeConfig struct {
	Endpoint string `yaml:"endpoint,omitempty"`
	Database string `yaml:"database,omitempty"`
}

// StoreConfig selects where run records land. Dir is the JSONL run log
// directory and always active; the others are optional extra sinks.
type StoreConfig struct {
	Dir        string         `yaml:"dir"`
	SQLitePath string         `yaml:"sqlite_path,omitempty"`
	Greptime   GreptimeConfig `yaml:"greptime,omitempty"`
}

// HarnessConfig is the root configuration.
type HarnessConfig struct {
	Backends []BackendConfig `yaml:"backends"`
	Store    StoreConfig     `yaml:"store"`

	Parallelism    int      `yaml:"parallelism,omitempty"`
	Repeat         int      `yaml:"repeat,omitempty"`
	PollInterval   Duration `yaml:"poll_interval,omitempty"`
	SampleInterval Duration `yaml:"sample_interval,omitempty"`
	TimeoutFactor  float64  `yaml:"timeout_factor,omitempty"`
	MaxAttempts    int      `yaml:"max_attempts,omitempty"`
	BackoffBase    Duration `yaml:"backoff_base,omitempty"`
	BackoffCap     Duration `yaml:"backoff_cap,omitempty"`

	AdminAddr string `yaml:"admin_addr,omitempty"`
}

// Load loads YAML config, validates it against the CUE schema and applies
// environment overrides.
func Load(configPath, cueSchemaPath string) (*HarnessConfig, error) {
	if err := ValidateWithCue(configPath, cueSchemaPath); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	var cfg HarnessConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	if len(cfg.Backends) == 0 {
		return nil, fmt.Errorf("%s: no backends configured", configPath)
	}
	if cfg.Store.Dir == "" {
		cfg.Store.Dir = "runs"
	}
	return &cfg, nil
}

// applyEnv resolves secrets and endpoints from the environment. Credentials
// use ORCHBENCH_<NAME>_PASSWORD / ORCHBENCH_<NAME>_TOKEN so config files stay
// free of secrets.
func (c *HarnessConfig) applyEnv() {
	for i := range c.Backends {
		b := &c.Backends[i]
		key := strings.ToUpper(strings.ReplaceAll(b.Name, "-", "_"))
		if v := os.Getenv("ORCHBENCH_" + key + "_PASSWORD"); v != "" {
			b.Password = v
		}
		if v := os.Getenv("ORCHBENCH_" + key + "_TOKEN"); v != "" {
			b.Token = v
		}
	}
	if v := os.Getenv("GREPTIMEDB_ENDPOINT"); v != "" {
		c.Store.Greptime.Endpoint = v
	}
	if v := os.Getenv("GREPTIMEDB_DATABASE"); v != "" {
		c.Store.Greptime.Database = v
	}
}

// BackendConfigs converts to the adapter construction configs.
func (c *HarnessConfig) BackendConfigs() []backend.Config {
	out := make([]backend.Config, 0, len(c.Backends))
	for _, b := range c.Backends {
		out = append(out, backend.Config{
			Name:          b.Name,
			Kind:          b.Kind,
			Endpoint:      b.Endpoint,
			Username:      b.Username,
			Password:      b.Password,
			Token:         b.Token,
			SubmitTimeout: time.Duration(b.SubmitTimeout),
		})
	}
	return out
}

// HarnessOptions converts to run orchestration options.
func (c *HarnessConfig) HarnessOptions() harness.Options {
	return harness.Options{
		Parallelism:    c.Parallelism,
		Repeat:         c.Repeat,
		PollInterval:   time.Duration(c.PollInterval),
		SampleInterval: time.Duration(c.SampleInterval),
		TimeoutFactor:  c.TimeoutFactor,
		MaxAttempts:    c.MaxAttempts,
		BackoffBase:    time.Duration(c.BackoffBase),
		BackoffCap:     time.Duration(c.BackoffCap),
	}
}
