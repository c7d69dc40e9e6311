package harness

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default budget split and early-termination settings.
const (
	DefaultTimeLimit     = 600 * time.Second
	DefaultExploreRatio  = 0.8
	DefaultCompressRatio = 0.2

	DefaultExploreEvaluations  = 4000
	DefaultCompressEvaluations = 1000
	DefaultBatchSize           = 8

	// Applied when early termination is requested.
	DefaultMaxConsecutiveFailures = 400
	DefaultFailDecayRatio         = 0.9
)

// Tuning holds optimizer settings that are not part of the request.
type Tuning struct {
	// ExploreEvaluations and CompressEvaluations bound the number of
	// candidate evaluations per phase, independent of the time budget.
	ExploreEvaluations  int `yaml:"explore_evaluations"`
	CompressEvaluations int `yaml:"compress_evaluations"`

	// BatchSize is the number of candidates evaluated in parallel per step.
	BatchSize int `yaml:"batch_size"`

	// MaxConsecutiveFailures ends the explore phase after this many
	// candidates in a row fail to improve. Zero disables the limit.
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`

	// FailDecayRatio shrinks the compress phase's perturbation strength after
	// every failed candidate. Zero keeps it constant.
	FailDecayRatio float64 `yaml:"fail_decay_ratio"`
}

// Config is the default configuration a request's overrides are merged into.
type Config struct {
	DefaultTimeLimit time.Duration `yaml:"default_time_limit"`
	ExploreRatio     float64       `yaml:"explore_ratio"`
	CompressRatio    float64       `yaml:"compress_ratio"`
	ShowPreview      bool          `yaml:"show_preview"`
	EarlyTermination bool          `yaml:"early_termination"`
	Tuning           Tuning        `yaml:"tuning"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTimeLimit: DefaultTimeLimit,
		ExploreRatio:     DefaultExploreRatio,
		CompressRatio:    DefaultCompressRatio,
		Tuning: Tuning{
			ExploreEvaluations:  DefaultExploreEvaluations,
			CompressEvaluations: DefaultCompressEvaluations,
			BatchSize:           DefaultBatchSize,
		},
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	var errs []error
	if c.DefaultTimeLimit <= 0 {
		errs = append(errs, fmt.Errorf("default_time_limit must be positive, got %s", c.DefaultTimeLimit))
	}
	if c.ExploreRatio <= 0 || c.CompressRatio < 0 || c.ExploreRatio+c.CompressRatio > 1 {
		errs = append(errs, fmt.Errorf("explore_ratio %v and compress_ratio %v must be non-negative, explore positive, sum at most 1",
			c.ExploreRatio, c.CompressRatio))
	}
	if c.Tuning.ExploreEvaluations < 0 || c.Tuning.CompressEvaluations < 0 {
		errs = append(errs, errors.New("evaluation budgets must not be negative"))
	}
	if c.Tuning.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch_size must be positive, got %d", c.Tuning.BatchSize))
	}
	if c.Tuning.FailDecayRatio < 0 || c.Tuning.FailDecayRatio >= 1 {
		errs = append(errs, fmt.Errorf("fail_decay_ratio must be in [0,1), got %v", c.Tuning.FailDecayRatio))
	}
	return errors.Join(errs...)
}

// LoadConfig reads YAML defaults from path on top of DefaultConfig. An empty
// path returns the built-in defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read harness config: %w", err)
	}
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return cfg, fmt.Errorf("parse harness config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid harness config: %w", err)
	}
	return cfg, nil
}

// Settings is the resolved configuration of one run.
type Settings struct {
	Explore          time.Duration
	Compress         time.Duration
	TimeLimitGiven   bool
	Seed             uint64
	SeedGiven        bool
	ShowPreview      bool
	EarlyTermination bool
	Tuning           Tuning
}

// Total is the whole time budget of the run.
func (s Settings) Total() time.Duration {
	return s.Explore + s.Compress
}

// Resolve merges req's overrides into c. When the request names no seed,
// drawSeed supplies one.
func (c Config) Resolve(req Request, drawSeed func() uint64) Settings {
	s := Settings{
		ShowPreview:      c.ShowPreview,
		EarlyTermination: c.EarlyTermination,
		Tuning:           c.Tuning,
	}

	total := c.DefaultTimeLimit
	if req.TimeLimitSeconds != nil {
		total = time.Duration(math.Round(*req.TimeLimitSeconds * float64(time.Second)))
		s.TimeLimitGiven = true
	}
	s.Explore = time.Duration(math.Round(float64(total) * c.ExploreRatio))
	s.Compress = time.Duration(math.Round(float64(total) * c.CompressRatio))

	if req.Seed != nil {
		s.Seed = *req.Seed
		s.SeedGiven = true
	} else {
		s.Seed = drawSeed()
	}

	if req.ShowPreview != nil {
		s.ShowPreview = *req.ShowPreview
	}
	if req.UseEarlyTermination != nil {
		s.EarlyTermination = *req.UseEarlyTermination
	}
	if s.EarlyTermination {
		if s.Tuning.MaxConsecutiveFailures == 0 {
			s.Tuning.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
		}
		if s.Tuning.FailDecayRatio == 0 {
			s.Tuning.FailDecayRatio = DefaultFailDecayRatio
		}
	}

	return s
}
