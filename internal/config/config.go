package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/worldland/worldland-launcher/internal/bench"
	"github.com/worldland/worldland-launcher/internal/logging"
)

// APIKeyEnv names the environment variable holding the endpoint bearer token
const APIKeyEnv = "OPENAI_API_KEY"

// Config holds the launcher configuration
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Hostfile  string          `yaml:"hostfile"`
	Allocator AllocatorConfig `yaml:"allocator"`
	Bench     BenchConfig     `yaml:"bench"`
	Serve     ServeConfig     `yaml:"serve"`

	// APIKey is read from OPENAI_API_KEY, never from the file
	APIKey string `yaml:"-"`
}

// LogConfig controls the logger
type LogConfig struct {
	// Level is a logrus level name
	// Default: "info"
	Level string `yaml:"level"`

	// Format is "text" or "json"
	// Default: "text"
	Format string `yaml:"format"`
}

// AllocatorConfig controls slot allocation
type AllocatorConfig struct {
	// Master is the coordinator node address
	// If empty, the first hostfile entry is used
	Master string `yaml:"master"`

	// ResourceType requested when none is given on the command line
	// Default: "gpu"
	ResourceType string `yaml:"resource_type"`
}

// BenchConfig describes one benchmark run
type BenchConfig struct {
	// APIURL must end with chat/completions or profile
	APIURL string `yaml:"api_url"`

	Model           string `yaml:"model"`
	ServedModelName string `yaml:"served_model_name"`

	// NumPrompts is the number of requests in the run
	// Default: 100
	NumPrompts int `yaml:"num_prompts"`

	// MaxConcurrency caps in-flight requests, 0 means unbounded
	MaxConcurrency int `yaml:"max_concurrency"`

	// Random dataset shape
	// Defaults: prefix 0, input 1024, output 128, range ratio 1.0, seed 0
	PrefixLen  int     `yaml:"prefix_len"`
	InputLen   int     `yaml:"input_len"`
	OutputLen  int     `yaml:"output_len"`
	RangeRatio float64 `yaml:"range_ratio"`
	Seed       uint64  `yaml:"seed"`

	IgnoreEOS bool           `yaml:"ignore_eos"`
	ExtraBody map[string]any `yaml:"extra_body"`

	// Metrics to report
	// Default: ttft, tpot, itl
	Metrics []string `yaml:"percentile_metrics"`

	// Percentiles to report for every metric
	// Default: 99
	Percentiles []float64 `yaml:"metric_percentiles"`

	// WaitTimeout bounds the readiness check, 0 skips it
	WaitTimeout time.Duration `yaml:"wait_timeout"`

	// ResultPath is a JSON file or directory, empty disables saving
	ResultPath string `yaml:"result_path"`
}

// ServeConfig controls the slot status server
type ServeConfig struct {
	// Addr to listen on
	// Default: ":8444"
	Addr string `yaml:"addr"`

	// TLS files, all three or none
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`
	TLSCA   string `yaml:"tls_ca"`
}

// Default returns the default configuration
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: logging.FormatText,
		},
		Allocator: AllocatorConfig{
			ResourceType: "gpu",
		},
		Bench: BenchConfig{
			NumPrompts:  100,
			InputLen:    1024,
			OutputLen:   128,
			RangeRatio:  1.0,
			Metrics:     []string{"ttft", "tpot", "itl"},
			Percentiles: []float64{99},
		},
		Serve: ServeConfig{
			Addr: ":8444",
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path returns
// the defaults. The API key always comes from the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to open config: %w", err)
		}
		defer f.Close()
		if err := decode(f, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	cfg.APIKey = os.Getenv(APIKeyEnv)
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks every section and reports all problems at once
func (c *Config) Validate() error {
	var errs error

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != logging.FormatText && c.Log.Format != logging.FormatJSON {
		errs = multierr.Append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.Allocator.ResourceType == "" {
		errs = multierr.Append(errs, errors.New("allocator.resource_type is empty"))
	}

	tls := 0
	for _, f := range []string{c.Serve.TLSCert, c.Serve.TLSKey, c.Serve.TLSCA} {
		if f != "" {
			tls++
		}
	}
	if tls != 0 && tls != 3 {
		errs = multierr.Append(errs, errors.New("serve: tls_cert, tls_key and tls_ca must be set together"))
	}

	return multierr.Append(errs, c.Bench.validate())
}

func (b *BenchConfig) validate() error {
	var errs error

	if b.APIURL != "" {
		spec := bench.RequestSpec{APIURL: b.APIURL, Model: "x"}
		if err := spec.Validate(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("bench.api_url: %w", err))
		}
	}
	if b.NumPrompts < 1 {
		errs = multierr.Append(errs, fmt.Errorf("bench.num_prompts must be positive, got %d", b.NumPrompts))
	}
	if b.PrefixLen < 0 || b.InputLen < 0 || b.OutputLen < 0 {
		errs = multierr.Append(errs, errors.New("bench: prefix_len, input_len and output_len must be non-negative"))
	}
	if b.RangeRatio <= 0 || b.RangeRatio > 1 {
		errs = multierr.Append(errs, fmt.Errorf("bench.range_ratio must be in (0, 1], got %v", b.RangeRatio))
	}
	if _, err := bench.ParseMetrics(strings.Join(b.Metrics, ",")); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("bench.percentile_metrics: %w", err))
	}
	for _, p := range b.Percentiles {
		if p < 0 || p > 100 {
			errs = multierr.Append(errs, fmt.Errorf("bench.metric_percentiles: %v out of range [0, 100]", p))
		}
	}
	if b.WaitTimeout < 0 {
		errs = multierr.Append(errs, errors.New("bench.wait_timeout must be non-negative"))
	}
	return errs
}

// MetricList returns the configured metrics in report order
func (b *BenchConfig) MetricList() []bench.Metric {
	metrics, _ := bench.ParseMetrics(strings.Join(b.Metrics, ","))
	return metrics
}
