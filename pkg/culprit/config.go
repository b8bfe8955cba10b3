package culprit

import (
	"fmt"
	"io"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

// Search strategies selectable via [Config.Strategy].
const (
	StrategyBayesian = "bayesian" // Statistical search for transient failures
	StrategyBisect   = "bisect"   // Binary search for deterministic failures
)

// Config holds the parameters of one issue search. It is constructed once from user
// input, validated with [Config.Validate] and read-only afterwards.
type Config struct {
	// Cmd is the test command whose failure is being bisected. It is interpreted by
	// the shell, so multiple commands can be separated by ";".
	Cmd string `yaml:"cmd"`

	Strategy string `yaml:"strategy" default:"bayesian"`

	// Date bounds of the commit range, e.g. "2024-05-10". Before defaults to now.
	After  string `yaml:"after"`
	Before string `yaml:"before"`

	// Commit hash bounds of the range. Take precedence over the date bounds.
	// StartCommit is the older end and is itself excluded from the range.
	StartCommit string `yaml:"startCommit"`
	EndCommit   string `yaml:"endCommit"`

	// Known pass/fail counts for Cmd since the transient issue appeared. They
	// warm-start the bayesian estimator. Either both or neither must be given.
	Passed int `yaml:"passed"`
	Failed int `yaml:"failed"`

	// Confidence that the reported commit is the culprit, in (0, 1).
	Confidence float64 `yaml:"confidence" default:"0.99"`

	CommitsFilter string `yaml:"grepCommits"` // Only analyze commits whose message matches this pattern
	ErrorPattern  string `yaml:"grepError"`   // Only count a failure if stderr contains this text

	Parallel int           `yaml:"parallel" default:"1"` // Number of workers a single test batch fans out to
	Timeout  time.Duration `yaml:"timeout" default:"1h"` // Per-test-execution timeout

	SetupCmd          string `yaml:"setupCmd"`          // Run after every commit checkout
	PrepareCmd        string `yaml:"prepareCmd"`        // Run once before the whole search
	RunSetupEveryTime bool   `yaml:"runSetupEveryTime"` // Re-run SetupCmd before every test batch
}

// GetConfigFromFile reads a search config in yaml format from a reader and applies the
// documented defaults to all fields that were left out.
func GetConfigFromFile(r io.Reader) (*Config, error) {
	var config Config

	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&config); err != nil {
		return nil, err
	}

	if err := defaults.Set(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the config for contradictory parameters. It is called before any
// VCS interaction.
func (c *Config) Validate() error {
	if c.Cmd == "" {
		return fmt.Errorf("%w: no test command given", ErrInvalidConfig)
	}
	if c.Strategy != StrategyBayesian && c.Strategy != StrategyBisect {
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, c.Strategy)
	}
	if (c.Passed == 0) != (c.Failed == 0) {
		return fmt.Errorf("%w: passed and failed counts must be specified together for the same time period", ErrInvalidConfig)
	}
	if c.Passed < 0 || c.Failed < 0 {
		return fmt.Errorf("%w: passed and failed counts must not be negative", ErrInvalidConfig)
	}
	if c.Confidence <= 0 || c.Confidence >= 1 {
		return fmt.Errorf("%w: confidence %v outside of (0.0, 1.0)", ErrInvalidConfig, c.Confidence)
	}
	if c.Parallel < 1 {
		return fmt.Errorf("%w: parallel must be at least 1, got %d", ErrInvalidConfig, c.Parallel)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive, got %v", ErrInvalidConfig, c.Timeout)
	}
	return nil
}

// RangeSpec describes which commits the VCS collaborator should enumerate.
type RangeSpec struct {
	After  string
	Before string

	StartCommit string
	EndCommit   string

	MessageFilter string
}

// RangeSpec returns the commit range this config selects.
func (c *Config) RangeSpec() RangeSpec {
	return RangeSpec{
		After:  c.After,
		Before: c.Before,

		StartCommit: c.StartCommit,
		EndCommit:   c.EndCommit,

		MessageFilter: c.CommitsFilter,
	}
}
