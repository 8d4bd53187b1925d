// Package training assembles the final training table: one row per
// target-partition order line, labeled with its reorder flag and
// enriched with the prior-derived feature tables. The assembler never
// aggregates the target partition; target rows only ever contribute the
// spine, the label and order metadata known at prediction time.
package training

import (
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/basketml/featurepipe/internal/compose"
	"github.com/basketml/featurepipe/internal/frame"
	"github.com/basketml/featurepipe/internal/metrics"
	"github.com/basketml/featurepipe/internal/ranking"
	"github.com/basketml/featurepipe/internal/series"
	"github.com/basketml/featurepipe/internal/staging"
)

// Derived training column names.
const (
	ColLabel                 = "label"
	ColIsPreferredDow        = "is_preferred_dow"
	ColIsPreferredTime       = "is_preferred_time"
	ColPurchaseRecencyBucket = "purchase_recency_bucket"
)

// Recency buckets over orders_since_last_purchase.
const (
	BucketRecent = "recent"
	BucketMedium = "medium"
	BucketOld    = "old"
)

// Assembler builds the training table.
type Assembler struct{}

// NewAssembler creates a training assembler.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// Assemble builds the training table from the target-partition spine and
// the prior-derived feature tables. Feature tables join left: a target
// row whose user or product never appeared in the feature partition
// keeps its label and carries null features.
func (a *Assembler) Assemble(
	targetOrders, targetLines *frame.DataFrame,
	userFeatures, productFeatures, upFeatures, targetOrderFeatures *frame.DataFrame,
) (*frame.DataFrame, error) {
	spine, err := metrics.LinesWithOrders(targetLines, targetOrders)
	if err != nil {
		return nil, err
	}
	spine, err = spine.Rename(staging.ColIsReordered, ColLabel)
	if err != nil {
		return nil, err
	}

	result, err := spine.Join(userFeatures, frame.On(frame.LeftJoin, staging.ColUserID))
	if err != nil {
		return nil, err
	}
	result, err = result.Join(productFeatures, frame.On(frame.LeftJoin, staging.ColProductID))
	if err != nil {
		return nil, err
	}
	result, err = result.Join(upFeatures, frame.On(frame.LeftJoin, staging.ColUserID, staging.ColProductID))
	if err != nil {
		return nil, err
	}
	result, err = result.Join(targetOrderFeatures, frame.On(frame.LeftJoin, staging.ColOrderID))
	if err != nil {
		return nil, err
	}

	result, err = withPreferredDow(result)
	if err != nil {
		return nil, err
	}
	result, err = withPreferredTime(result)
	if err != nil {
		return nil, err
	}
	return withRecencyBucket(result)
}

// withPreferredDow flags rows whose order day matches the pair's
// dominant day of week. Null where the pair has no dominant day.
func withPreferredDow(df *frame.DataFrame) (*frame.DataFrame, error) {
	dows, dowsValid, err := df.Int64Column(staging.ColOrderDow)
	if err != nil {
		return nil, err
	}
	dominant, dominantValid, err := df.Int64Column(compose.ColDominantDow)
	if err != nil {
		return nil, err
	}

	values := make([]bool, len(dows))
	valid := make([]bool, len(dows))
	for i := range dows {
		if dowsValid[i] && dominantValid[i] {
			values[i] = dows[i] == dominant[i]
			valid[i] = true
		}
	}
	return df.WithColumn(series.NewNullable(ColIsPreferredDow, values, valid, memory.NewGoAllocator()))
}

// withPreferredTime flags rows whose order hour falls inside the pair's
// dominant day-part bucket. Null where the pair has no dominant bucket.
func withPreferredTime(df *frame.DataFrame) (*frame.DataFrame, error) {
	hours, hoursValid, err := df.Int64Column(staging.ColOrderHour)
	if err != nil {
		return nil, err
	}
	dominant, dominantValid, err := df.StringColumn(compose.ColDominantDayPart)
	if err != nil {
		return nil, err
	}

	values := make([]bool, len(hours))
	valid := make([]bool, len(hours))
	for i := range hours {
		if hoursValid[i] && dominantValid[i] {
			values[i] = ranking.DayPart(hours[i]) == dominant[i]
			valid[i] = true
		}
	}
	return df.WithColumn(series.NewNullable(ColIsPreferredTime, values, valid, memory.NewGoAllocator()))
}

// withRecencyBucket buckets orders_since_last_purchase: recent is at
// most 1 order ago, medium 2-3, old otherwise. A pair with no purchase
// history buckets as old.
func withRecencyBucket(df *frame.DataFrame) (*frame.DataFrame, error) {
	since, sinceValid, err := df.Int64Column(compose.ColOrdersSinceLast)
	if err != nil {
		return nil, err
	}

	buckets := make([]string, len(since))
	for i := range since {
		switch {
		case !sinceValid[i]:
			buckets[i] = BucketOld
		case since[i] <= 1:
			buckets[i] = BucketRecent
		case since[i] <= 3:
			buckets[i] = BucketMedium
		default:
			buckets[i] = BucketOld
		}
	}
	return df.WithColumn(series.New(ColPurchaseRecencyBucket, buckets, memory.NewGoAllocator()))
}
