// Package featurepipe computes leakage-free behavioral features for
// reorder prediction from raw order and order-line event logs. A run
// stages the raw relations, aggregates base metrics, trailing-window
// aggregates and ranks over the feature partition only, composes four
// per-entity feature tables and assembles a labeled training table from
// the target partition.
package featurepipe

import (
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/zap"

	"github.com/basketml/featurepipe/internal/config"
	pipeerr "github.com/basketml/featurepipe/internal/errors"
	"github.com/basketml/featurepipe/internal/frame"
	"github.com/basketml/featurepipe/internal/series"
)

// Core types re-exported for callers of the facade.
type (
	// DataFrame is the columnar relation the pipeline consumes and produces.
	DataFrame = frame.DataFrame
	// Column is one named, typed, nullable column of a DataFrame.
	Column = frame.ISeries
	// Config holds run configuration.
	Config = config.Config
	// Partition labels the disjoint evaluation sets raw orders belong to.
	Partition = config.Partition
	// Warning records a non-fatal computation event collected on the run.
	Warning = pipeerr.Warning
	// PipelineError is the error type all pipeline failures unwrap to.
	PipelineError = pipeerr.PipelineError
)

// Partition labels.
const (
	PartitionPrior = config.PartitionPrior
	PartitionTrain = config.PartitionTrain
	PartitionTest  = config.PartitionTest
)

// NewConfig returns the default run configuration.
func NewConfig() Config {
	return config.New()
}

// LoadConfigFile loads configuration from a JSON or YAML file.
func LoadConfigFile(filename string) (Config, error) {
	return config.LoadFromFile(filename)
}

// LoadConfigFromEnv loads configuration from FEATUREPIPE_* environment
// variables on top of defaults.
func LoadConfigFromEnv() Config {
	return config.LoadFromEnv()
}

// IsConfigurationError reports whether err is a fail-fast configuration
// error. Configuration errors are never retried.
func IsConfigurationError(err error) bool {
	return pipeerr.IsKind(err, pipeerr.KindConfiguration)
}

// IsIntegrityError reports whether err is a violated output-table
// contract. An integrity error aborts the run before publication.
func IsIntegrityError(err error) bool {
	return pipeerr.IsKind(err, pipeerr.KindIntegrity)
}

// IsStageError reports whether err is an engine failure inside a stage,
// including a stage timeout.
func IsStageError(err error) bool {
	return pipeerr.IsKind(err, pipeerr.KindStage)
}

// NewFrame builds a DataFrame from columns.
func NewFrame(cols ...Column) *DataFrame {
	return frame.New(cols...)
}

// Int64Column builds an int64 column without nulls.
func Int64Column(name string, values []int64) Column {
	return series.New(name, values, memory.NewGoAllocator())
}

// Float64Column builds a float64 column without nulls.
func Float64Column(name string, values []float64) Column {
	return series.New(name, values, memory.NewGoAllocator())
}

// NullableFloat64Column builds a float64 column with a validity mask.
func NullableFloat64Column(name string, values []float64, valid []bool) Column {
	return series.NewNullable(name, values, valid, memory.NewGoAllocator())
}

// StringColumn builds a string column without nulls.
func StringColumn(name string, values []string) Column {
	return series.New(name, values, memory.NewGoAllocator())
}

// BoolColumn builds a bool column without nulls.
func BoolColumn(name string, values []bool) Column {
	return series.New(name, values, memory.NewGoAllocator())
}

// Inputs bundles the raw source relations for one run.
type Inputs struct {
	Orders      *DataFrame
	OrderLines  *DataFrame
	Products    *DataFrame
	Aisles      *DataFrame
	Departments *DataFrame
}

// Result carries the published output of one run. All five frames were
// validated by the integrity checker before publication.
type Result struct {
	// RunID tags this run's outputs so concurrent runs cannot interleave.
	RunID string
	// Reference is the fixed instant every trailing window was measured
	// against.
	Reference time.Time

	UserFeatures        *DataFrame
	ProductFeatures     *DataFrame
	OrderFeatures       *DataFrame
	UserProductFeatures *DataFrame
	Training            *DataFrame

	// Warnings are the non-fatal computation events of the run.
	Warnings []Warning
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the run logger. The default is a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(p *Pipeline) {
		p.log = log
	}
}

// WithReference pins the run's reference instant. The default is the
// wall clock at the start of Run. Every window in a run is measured
// against the same instant either way.
func WithReference(t time.Time) Option {
	return func(p *Pipeline) {
		p.reference = t
	}
}
