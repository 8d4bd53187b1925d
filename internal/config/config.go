// Package config provides run configuration for the feature pipeline.
// A Config is an explicit value threaded into each component at
// construction; there is no process-global configuration, so concurrent
// runs with different settings cannot interfere.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	pipeerr "github.com/basketml/featurepipe/internal/errors"
)

// Partition labels the disjoint evaluation sets raw orders belong to.
type Partition string

const (
	PartitionPrior Partition = "prior"
	PartitionTrain Partition = "train"
	PartitionTest  Partition = "test"
)

// Valid reports whether p is a known partition label.
func (p Partition) Valid() bool {
	switch p {
	case PartitionPrior, PartitionTrain, PartitionTest:
		return true
	}
	return false
}

// Config holds the settings consumed by the pipeline core.
type Config struct {
	// FeaturePartition selects the orders features are computed from.
	FeaturePartition Partition `json:"feature_partition" yaml:"feature_partition"`
	// TargetPartition selects the orders that receive labels.
	TargetPartition Partition `json:"target_partition" yaml:"target_partition"`
	// Windows lists trailing window lengths in days, ascending.
	Windows []int `json:"windows" yaml:"windows"`
	// MinOrdersPerUser excludes users with fewer prior orders from user
	// and user-product statistics. Zero disables the threshold.
	MinOrdersPerUser int `json:"min_orders_per_user" yaml:"min_orders_per_user"`
	// StageTimeout bounds each stage's execution. Zero disables it.
	StageTimeout time.Duration `json:"stage_timeout" yaml:"stage_timeout"`
	// MaxRows is a sanity bound on output table sizes. Zero disables it.
	MaxRows int `json:"max_rows" yaml:"max_rows"`
	// Parallelism caps concurrently running independent stages.
	Parallelism int `json:"parallelism" yaml:"parallelism"`
}

// Default configuration values.
const (
	DefaultMinOrdersPerUser = 0
	DefaultStageTimeout     = 5 * time.Minute
	DefaultParallelism      = 3
)

// DefaultWindows returns the default trailing window lengths in days.
func DefaultWindows() []int {
	return []int{7, 30, 90}
}

// New creates a configuration with default values.
func New() Config {
	return Config{
		FeaturePartition: PartitionPrior,
		TargetPartition:  PartitionTrain,
		Windows:          DefaultWindows(),
		MinOrdersPerUser: DefaultMinOrdersPerUser,
		StageTimeout:     DefaultStageTimeout,
		Parallelism:      DefaultParallelism,
	}
}

// WithDefaults returns a copy with defaults filled in for zero values.
func (c Config) WithDefaults() Config {
	defaults := New()
	if c.FeaturePartition == "" {
		c.FeaturePartition = defaults.FeaturePartition
	}
	if c.TargetPartition == "" {
		c.TargetPartition = defaults.TargetPartition
	}
	if len(c.Windows) == 0 {
		c.Windows = defaults.Windows
	}
	if c.StageTimeout == 0 {
		c.StageTimeout = defaults.StageTimeout
	}
	if c.Parallelism == 0 {
		c.Parallelism = defaults.Parallelism
	}
	return c
}

// Validate checks the configuration before any aggregation runs.
// Every violation is a configuration error: fail fast, never retry.
func (c Config) Validate() error {
	if !c.FeaturePartition.Valid() {
		return pipeerr.NewConfigurationErrorf("unknown feature partition %q", c.FeaturePartition)
	}
	if !c.TargetPartition.Valid() {
		return pipeerr.NewConfigurationErrorf("unknown target partition %q", c.TargetPartition)
	}
	if c.FeaturePartition == c.TargetPartition {
		return pipeerr.NewConfigurationErrorf(
			"feature partition and target partition are both %q; labeling the partition features are computed from leaks the label",
			c.TargetPartition)
	}
	if len(c.Windows) == 0 {
		return pipeerr.NewConfigurationError("window list is empty")
	}
	prev := 0
	for _, w := range c.Windows {
		if w <= 0 {
			return pipeerr.NewConfigurationErrorf("window length %d is not positive", w)
		}
		if w <= prev {
			return pipeerr.NewConfigurationErrorf("window list must be strictly ascending, got %v", c.Windows)
		}
		prev = w
	}
	if c.MinOrdersPerUser < 0 {
		return pipeerr.NewConfigurationErrorf("min orders per user must be non-negative, got %d", c.MinOrdersPerUser)
	}
	if c.StageTimeout < 0 {
		return pipeerr.NewConfigurationErrorf("stage timeout must be non-negative, got %s", c.StageTimeout)
	}
	if c.MaxRows < 0 {
		return pipeerr.NewConfigurationErrorf("max rows must be non-negative, got %d", c.MaxRows)
	}
	if c.Parallelism <= 0 {
		return pipeerr.NewConfigurationErrorf("parallelism must be positive, got %d", c.Parallelism)
	}
	return nil
}

// LoadFromFile loads configuration from a JSON or YAML file.
func LoadFromFile(filename string) (Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, pipeerr.NewConfigurationErrorf("reading config file %s: %v", filename, err)
	}

	var c Config
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".json":
		err = json.Unmarshal(data, &c)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &c)
	default:
		return Config{}, pipeerr.NewConfigurationErrorf("unsupported config file format: %s", ext)
	}
	if err != nil {
		return Config{}, pipeerr.NewConfigurationErrorf("parsing config file %s: %v", filename, err)
	}

	return c.WithDefaults(), nil
}

// LoadFromEnv loads configuration from FEATUREPIPE_* environment
// variables on top of defaults.
func LoadFromEnv() Config {
	c := New()

	if val := os.Getenv("FEATUREPIPE_FEATURE_PARTITION"); val != "" {
		c.FeaturePartition = Partition(val)
	}
	if val := os.Getenv("FEATUREPIPE_TARGET_PARTITION"); val != "" {
		c.TargetPartition = Partition(val)
	}
	if val := os.Getenv("FEATUREPIPE_WINDOWS"); val != "" {
		var windows []int
		for _, part := range strings.Split(val, ",") {
			if parsed, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
				windows = append(windows, parsed)
			}
		}
		if len(windows) > 0 {
			c.Windows = windows
		}
	}
	if val := os.Getenv("FEATUREPIPE_MIN_ORDERS_PER_USER"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			c.MinOrdersPerUser = parsed
		}
	}
	if val := os.Getenv("FEATUREPIPE_STAGE_TIMEOUT"); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			c.StageTimeout = parsed
		}
	}
	if val := os.Getenv("FEATUREPIPE_MAX_ROWS"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			c.MaxRows = parsed
		}
	}
	if val := os.Getenv("FEATUREPIPE_PARALLELISM"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			c.Parallelism = parsed
		}
	}

	return c
}
