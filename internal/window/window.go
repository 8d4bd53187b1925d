// Package window generates trailing-window aggregates: for each metric
// column and each configured window width it emits the sum and average
// of the metric over the events whose timestamp falls within that many
// days of the run's reference instant. Larger windows therefore always
// cover at least the events of smaller ones.
package window

import (
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"

	pipeerr "github.com/basketml/featurepipe/internal/errors"
	"github.com/basketml/featurepipe/internal/frame"
	"github.com/basketml/featurepipe/internal/series"
)

// ColumnName renders the canonical name of one windowed aggregate,
// e.g. basket_size_sum_30d.
func ColumnName(metric, agg string, windowDays int) string {
	return fmt.Sprintf("%s_%s_%dd", metric, agg, windowDays)
}

// Generator produces windowed aggregates against a fixed reference instant.
// Reference is resolved once per run; every window is measured against it.
type Generator struct {
	reference time.Time
}

// NewGenerator creates a window generator anchored at the given instant.
func NewGenerator(reference time.Time) *Generator {
	return &Generator{reference: reference}
}

// Generate computes, for every metric column and window width, the sum and
// average of the metric over base rows whose tsCol lies within the window.
// The output has one row per distinct key combination in base; keys with
// no events inside a window get 0 for that window's aggregates, so the
// output never silently drops an entity.
func (g *Generator) Generate(
	base *frame.DataFrame, keys []string, tsCol string, metricCols []string, windows []int,
) (*frame.DataFrame, error) {
	if err := validateWindows(windows); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, pipeerr.NewConfigurationError("window generation requires at least one key column")
	}
	if len(metricCols) == 0 {
		return nil, pipeerr.NewConfigurationError("window generation requires at least one metric column")
	}

	result, err := distinctKeys(base, keys)
	if err != nil {
		return nil, err
	}

	refDay := g.reference.Unix() / (24 * 60 * 60)
	tsDays, tsValid, err := base.Int64Column(tsCol)
	if err != nil {
		return nil, err
	}

	for _, w := range windows {
		windowDays := int64(w)
		inWindow := base.Filter(func(row int) bool {
			if !tsValid[row] {
				return false
			}
			age := refDay - tsDays[row]
			return age >= 0 && age <= windowDays
		})

		agg, err := aggregateWindow(inWindow, keys, metricCols, w)
		if err != nil {
			return nil, err
		}

		result, err = result.Join(agg, frame.On(frame.LeftJoin, keys...))
		if err != nil {
			return nil, err
		}
		for _, metric := range metricCols {
			for _, op := range []string{"sum", "avg"} {
				result, err = CoalesceZero(result, ColumnName(metric, op, w))
				if err != nil {
					return nil, err
				}
			}
		}
	}
	return result, nil
}

// validateWindows rejects empty, non-positive or non-ascending window sets.
func validateWindows(windows []int) error {
	if len(windows) == 0 {
		return pipeerr.NewConfigurationError("no window widths configured")
	}
	prev := 0
	for _, w := range windows {
		if w <= 0 {
			return pipeerr.NewConfigurationErrorf("window width %d is not positive", w)
		}
		if w <= prev {
			return pipeerr.NewConfigurationErrorf("window widths must be strictly ascending, got %d after %d", w, prev)
		}
		prev = w
	}
	return nil
}

// distinctKeys returns one row per distinct key combination in base.
func distinctKeys(base *frame.DataFrame, keys []string) (*frame.DataFrame, error) {
	gb, err := base.GroupBy(keys...)
	if err != nil {
		return nil, err
	}
	spine, err := gb.Agg(frame.Count(keys[0]).As("_window_spine_count"))
	if err != nil {
		return nil, err
	}
	return spine.Drop("_window_spine_count"), nil
}

// aggregateWindow groups one window's rows by key and emits the sum and
// average of each metric under the canonical windowed column names.
func aggregateWindow(inWindow *frame.DataFrame, keys, metricCols []string, w int) (*frame.DataFrame, error) {
	gb, err := inWindow.GroupBy(keys...)
	if err != nil {
		return nil, err
	}
	specs := make([]frame.AggSpec, 0, 2*len(metricCols))
	for _, metric := range metricCols {
		specs = append(specs,
			frame.Sum(metric).As(ColumnName(metric, "sum", w)),
			frame.Mean(metric).As(ColumnName(metric, "avg", w)),
		)
	}
	return gb.Agg(specs...)
}

// CoalesceZero replaces nulls in a float64 column with 0. An entity with
// no events inside a window has a zero trailing aggregate, not an
// unknown one. The composer applies the same rule after re-joining
// windowed columns onto a wider entity spine.
func CoalesceZero(df *frame.DataFrame, col string) (*frame.DataFrame, error) {
	values, valid, err := df.Float64Column(col)
	if err != nil {
		return nil, err
	}
	allValid := true
	for _, v := range valid {
		if !v {
			allValid = false
			break
		}
	}
	if allValid {
		return df, nil
	}
	filled := make([]float64, len(values))
	for i, v := range values {
		if valid[i] {
			filled[i] = v
		}
	}
	return df.WithColumn(series.New(col, filled, memory.NewGoAllocator()))
}
