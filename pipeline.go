package featurepipe

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/basketml/featurepipe/internal/compose"
	"github.com/basketml/featurepipe/internal/config"
	pipeerr "github.com/basketml/featurepipe/internal/errors"
	"github.com/basketml/featurepipe/internal/frame"
	"github.com/basketml/featurepipe/internal/integrity"
	"github.com/basketml/featurepipe/internal/metrics"
	"github.com/basketml/featurepipe/internal/parallel"
	"github.com/basketml/featurepipe/internal/ranking"
	"github.com/basketml/featurepipe/internal/staging"
	"github.com/basketml/featurepipe/internal/training"
	"github.com/basketml/featurepipe/internal/window"
)

// Pipeline runs the feature DAG over one set of raw inputs.
type Pipeline struct {
	cfg       config.Config
	in        Inputs
	log       *zap.Logger
	reference time.Time
}

// New validates the configuration and builds a Pipeline. Configuration
// problems surface here, before any aggregation runs.
func New(cfg Config, in Inputs, opts ...Option) (*Pipeline, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{cfg: cfg, in: in, log: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// staged holds the partition-scoped relations the middle stages consume.
type staged struct {
	featureOrders *frame.DataFrame
	featureLines  *frame.DataFrame
	targetOrders  *frame.DataFrame
	targetLines   *frame.DataFrame
	products      *frame.DataFrame
}

// middleOut is one independent middle stage's contribution. Exactly one
// group of fields is set per task.
type middleOut struct {
	userMetrics        *frame.DataFrame
	productMetrics     *frame.DataFrame
	orderMetrics       *frame.DataFrame
	userProductMetrics *frame.DataFrame

	userWindows *frame.DataFrame

	peakHour        *frame.DataFrame
	preferredDay    *frame.DataFrame
	productPeakHour *frame.DataFrame
	dominantDayPart *frame.DataFrame
	dominantDow     *frame.DataFrame

	warnings []Warning
}

// Run executes the DAG: staging, then metric aggregation, window
// generation and ranking concurrently, then composition, integrity
// checks, training assembly and a final integrity check. Features are
// computed exclusively from the feature partition; the target partition
// contributes only the training spine, the label and order metadata.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	result := &Result{
		RunID:     uuid.NewString(),
		Reference: p.reference,
	}
	if result.Reference.IsZero() {
		result.Reference = time.Now().UTC()
	}
	log := p.log.With(zap.String("run_id", result.RunID))

	var st staged
	err := p.stage(ctx, log, "staging", func(ctx context.Context) error {
		return p.runStaging(result.Reference, &st)
	})
	if err != nil {
		return nil, err
	}

	aggregator := metrics.NewAggregator(p.cfg)
	outs, err := p.runMiddle(ctx, log, aggregator, &st, result.Reference)
	if err != nil {
		return nil, err
	}
	merged := mergeMiddle(outs)
	result.Warnings = append(result.Warnings, merged.warnings...)

	composer := compose.NewComposer()
	err = p.stage(ctx, log, "compose", func(ctx context.Context) error {
		return p.runCompose(composer, &st, &merged, result)
	})
	if err != nil {
		return nil, err
	}

	checker := integrity.NewChecker(p.cfg)
	err = p.stage(ctx, log, "integrity-compose", func(ctx context.Context) error {
		return checker.Verify(
			integrity.Check{Stage: "compose", Table: "user_features",
				Keys: []string{staging.ColUserID}, Frame: result.UserFeatures},
			integrity.Check{Stage: "compose", Table: "product_features",
				Keys: []string{staging.ColProductID}, Frame: result.ProductFeatures},
			integrity.Check{Stage: "compose", Table: "order_features",
				Keys: []string{staging.ColOrderID}, Frame: result.OrderFeatures},
			integrity.Check{Stage: "compose", Table: "user_product_features",
				Keys: []string{staging.ColUserID, staging.ColProductID}, Frame: result.UserProductFeatures},
		)
	})
	if err != nil {
		return nil, err
	}

	err = p.stage(ctx, log, "training", func(ctx context.Context) error {
		return p.runTraining(aggregator, composer, &st, &merged, result)
	})
	if err != nil {
		return nil, err
	}

	err = p.stage(ctx, log, "integrity-training", func(ctx context.Context) error {
		return checker.Verify(integrity.Check{
			Stage: "training", Table: "training",
			Keys:  []string{staging.ColOrderID, staging.ColProductID},
			Frame: result.Training,
		})
	})
	if err != nil {
		return nil, err
	}

	for _, w := range result.Warnings {
		log.Warn("computation warning",
			zap.String("stage", w.Stage),
			zap.String("table", w.Table),
			zap.String("column", w.Column),
			zap.String("message", w.Message))
	}
	log.Info("run finished",
		zap.Int("training_rows", result.Training.Len()),
		zap.Int("warnings", len(result.Warnings)))
	return result, nil
}

// runStaging normalizes the raw relations, derives per-order timestamps
// against the reference instant and scopes orders and lines to the
// feature and target partitions.
func (p *Pipeline) runStaging(reference time.Time, st *staged) error {
	normalized, err := staging.Normalize(staging.Raw{
		Orders:      p.in.Orders,
		OrderLines:  p.in.OrderLines,
		Products:    p.in.Products,
		Aisles:      p.in.Aisles,
		Departments: p.in.Departments,
	})
	if err != nil {
		return err
	}

	orders, err := staging.WithOrderTimestamps(normalized.Orders, reference)
	if err != nil {
		return err
	}

	if st.featureOrders, err = staging.FilterPartition(orders, p.cfg.FeaturePartition); err != nil {
		return err
	}
	if st.featureLines, err = staging.LinesForOrders(normalized.OrderLines, st.featureOrders); err != nil {
		return err
	}
	if st.targetOrders, err = staging.FilterPartition(orders, p.cfg.TargetPartition); err != nil {
		return err
	}
	if st.targetLines, err = staging.LinesForOrders(normalized.OrderLines, st.targetOrders); err != nil {
		return err
	}
	st.products = normalized.Products
	return nil
}

// runMiddle executes the three independent middle stages on the worker
// pool. A failure in any stage cancels the remaining ones.
func (p *Pipeline) runMiddle(
	ctx context.Context, log *zap.Logger,
	aggregator *metrics.Aggregator, st *staged, reference time.Time,
) ([]middleOut, error) {
	pool := parallel.NewWorkerPool(p.cfg.Parallelism)
	tasks := []func(context.Context) (middleOut, error){
		func(ctx context.Context) (middleOut, error) {
			var out middleOut
			err := p.stage(ctx, log, "metrics", func(context.Context) error {
				return p.runMetrics(aggregator, st, &out)
			})
			return out, err
		},
		func(ctx context.Context) (middleOut, error) {
			var out middleOut
			err := p.stage(ctx, log, "windows", func(context.Context) error {
				return p.runWindows(st, reference, &out)
			})
			return out, err
		},
		func(ctx context.Context) (middleOut, error) {
			var out middleOut
			err := p.stage(ctx, log, "ranking", func(context.Context) error {
				return p.runRanking(st, &out)
			})
			return out, err
		},
	}
	return parallel.Run(ctx, pool, tasks)
}

func (p *Pipeline) runMetrics(aggregator *metrics.Aggregator, st *staged, out *middleOut) error {
	var (
		warnings []pipeerr.Warning
		err      error
	)
	if out.userMetrics, warnings, err = aggregator.UserMetrics(st.featureOrders, st.featureLines); err != nil {
		return err
	}
	out.warnings = append(out.warnings, warnings...)

	if out.productMetrics, warnings, err = aggregator.ProductMetrics(st.featureOrders, st.featureLines); err != nil {
		return err
	}
	out.warnings = append(out.warnings, warnings...)

	if out.orderMetrics, warnings, err = aggregator.OrderMetrics(st.featureLines, st.products); err != nil {
		return err
	}
	out.warnings = append(out.warnings, warnings...)

	if out.userProductMetrics, warnings, err = aggregator.UserProductMetrics(st.featureOrders, st.featureLines); err != nil {
		return err
	}
	out.warnings = append(out.warnings, warnings...)
	return nil
}

// runWindows generates the per-user trailing basket-size aggregates.
func (p *Pipeline) runWindows(st *staged, reference time.Time, out *middleOut) error {
	userLines, err := metrics.LinesWithOrders(st.featureLines, st.featureOrders)
	if err != nil {
		return err
	}
	grouped, err := userLines.GroupBy(staging.ColUserID, staging.ColOrderID)
	if err != nil {
		return err
	}
	baskets, err := grouped.Agg(frame.Count(staging.ColProductID).As(metrics.ColBasketSize))
	if err != nil {
		return err
	}

	timestamps, err := st.featureOrders.Select(staging.ColOrderID, staging.ColOrderTsDay)
	if err != nil {
		return err
	}
	base, err := baskets.Join(timestamps, frame.On(frame.InnerJoin, staging.ColOrderID))
	if err != nil {
		return err
	}

	generator := window.NewGenerator(reference)
	out.userWindows, err = generator.Generate(base,
		[]string{staging.ColUserID}, staging.ColOrderTsDay,
		[]string{metrics.ColBasketSize}, p.cfg.Windows)
	return err
}

// runRanking resolves the modal buckets consumed by the composer.
func (p *Pipeline) runRanking(st *staged, out *middleOut) error {
	userKey := []string{staging.ColUserID}
	pairKeys := []string{staging.ColUserID, staging.ColProductID}

	var err error
	if out.peakHour, err = ranking.TypicalOrderHour(st.featureOrders, userKey, compose.ColTypicalOrderHour); err != nil {
		return err
	}
	if out.preferredDay, err = ranking.DominantDow(st.featureOrders, userKey, compose.ColPreferredOrderDay); err != nil {
		return err
	}

	userLines, err := metrics.LinesWithOrders(st.featureLines, st.featureOrders)
	if err != nil {
		return err
	}
	if out.productPeakHour, err = ranking.TypicalOrderHour(userLines,
		[]string{staging.ColProductID}, compose.ColProductPeakHour); err != nil {
		return err
	}
	if out.dominantDayPart, err = ranking.DominantDayPart(userLines, pairKeys,
		staging.ColOrderHour, compose.ColDominantDayPart); err != nil {
		return err
	}
	out.dominantDow, err = ranking.DominantDow(userLines, pairKeys, compose.ColDominantDow)
	return err
}

// runCompose builds the four published feature tables.
func (p *Pipeline) runCompose(composer *compose.Composer, st *staged, m *middleOut, result *Result) error {
	var (
		warnings []pipeerr.Warning
		err      error
	)
	if result.UserFeatures, warnings, err = composer.UserFeatures(
		m.userMetrics, m.peakHour, m.preferredDay, m.userWindows); err != nil {
		return err
	}
	result.Warnings = append(result.Warnings, warnings...)

	if result.ProductFeatures, warnings, err = composer.ProductFeatures(
		m.productMetrics, st.products, m.productPeakHour); err != nil {
		return err
	}
	result.Warnings = append(result.Warnings, warnings...)

	if result.OrderFeatures, warnings, err = composer.OrderFeatures(
		m.orderMetrics, st.featureOrders, m.userMetrics); err != nil {
		return err
	}
	result.Warnings = append(result.Warnings, warnings...)

	if result.UserProductFeatures, warnings, err = composer.UserProductFeatures(
		m.userProductMetrics, m.userMetrics, m.productMetrics,
		m.dominantDayPart, m.dominantDow); err != nil {
		return err
	}
	result.Warnings = append(result.Warnings, warnings...)
	return nil
}

// runTraining assembles the labeled training table. Target orders get
// their own order-level features, with the basket delta still measured
// against the feature-partition average.
func (p *Pipeline) runTraining(
	aggregator *metrics.Aggregator, composer *compose.Composer,
	st *staged, m *middleOut, result *Result,
) error {
	targetOrderMetrics, warnings, err := aggregator.OrderMetrics(st.targetLines, st.products)
	if err != nil {
		return err
	}
	result.Warnings = append(result.Warnings, warnings...)

	targetOrderFeatures, warnings, err := composer.OrderFeatures(
		targetOrderMetrics, st.targetOrders, m.userMetrics)
	if err != nil {
		return err
	}
	result.Warnings = append(result.Warnings, warnings...)

	assembler := training.NewAssembler()
	result.Training, err = assembler.Assemble(
		st.targetOrders, st.targetLines,
		result.UserFeatures, result.ProductFeatures, result.UserProductFeatures,
		targetOrderFeatures)
	return err
}

// mergeMiddle folds the middle stage outputs into one view.
func mergeMiddle(outs []middleOut) middleOut {
	var merged middleOut
	for _, out := range outs {
		if out.userMetrics != nil {
			merged.userMetrics = out.userMetrics
			merged.productMetrics = out.productMetrics
			merged.orderMetrics = out.orderMetrics
			merged.userProductMetrics = out.userProductMetrics
		}
		if out.userWindows != nil {
			merged.userWindows = out.userWindows
		}
		if out.peakHour != nil {
			merged.peakHour = out.peakHour
			merged.preferredDay = out.preferredDay
			merged.productPeakHour = out.productPeakHour
			merged.dominantDayPart = out.dominantDayPart
			merged.dominantDow = out.dominantDow
		}
		merged.warnings = append(merged.warnings, out.warnings...)
	}
	return merged
}

// stage wraps one stage with the configured timeout, logging and error
// classification. Errors already carrying pipeline context pass through;
// anything else becomes a stage error.
func (p *Pipeline) stage(ctx context.Context, log *zap.Logger, name string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return pipeerr.NewStageError(name, err)
	}
	if p.cfg.StageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.StageTimeout)
		defer cancel()
	}

	start := time.Now()
	log.Info("stage started", zap.String("stage", name))

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		var pe *pipeerr.PipelineError
		if !errors.As(err, &pe) {
			err = pipeerr.NewStageError(name, err)
		}
		log.Error("stage failed", zap.String("stage", name), zap.Error(err))
		return err
	}

	log.Info("stage finished",
		zap.String("stage", name),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}
