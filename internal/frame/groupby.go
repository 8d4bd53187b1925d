package frame

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/basketml/featurepipe/internal/series"
)

// AggOp identifies an aggregation operation.
type AggOp int

const (
	AggCount AggOp = iota
	AggCountDistinct
	AggSum
	AggMean
	AggMin
	AggMax
)

// AggSpec describes one named aggregation over a column. Specs are plain
// data so callers can assemble metric lists programmatically.
type AggSpec struct {
	Col   string
	Op    AggOp
	Alias string
}

// As sets the output column name.
func (a AggSpec) As(alias string) AggSpec {
	a.Alias = alias
	return a
}

// Count counts non-null values of col per group.
func Count(col string) AggSpec { return AggSpec{Col: col, Op: AggCount, Alias: "count_" + col} }

// CountDistinct counts distinct non-null values of col per group.
func CountDistinct(col string) AggSpec {
	return AggSpec{Col: col, Op: AggCountDistinct, Alias: "count_distinct_" + col}
}

// Sum sums non-null values of col per group; null when the group has none.
func Sum(col string) AggSpec { return AggSpec{Col: col, Op: AggSum, Alias: "sum_" + col} }

// Mean averages non-null values of col per group; null when the group has none.
func Mean(col string) AggSpec { return AggSpec{Col: col, Op: AggMean, Alias: "mean_" + col} }

// Min takes the minimum non-null value of col per group; null when the group has none.
func Min(col string) AggSpec { return AggSpec{Col: col, Op: AggMin, Alias: "min_" + col} }

// Max takes the maximum non-null value of col per group; null when the group has none.
func Max(col string) AggSpec { return AggSpec{Col: col, Op: AggMax, Alias: "max_" + col} }

// GroupBy represents a grouped DataFrame for aggregation operations.
type GroupBy struct {
	df     *DataFrame
	keys   []string
	groups map[string][]int // group key -> row indices
}

// GroupBy groups the DataFrame by the given key columns.
// Rows with a null in any key column are excluded from every group;
// a feature keyed on null would violate the non-null output contract.
func (df *DataFrame) GroupBy(keys ...string) (*GroupBy, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("group by: no key columns given")
	}
	for _, key := range keys {
		if !df.HasColumn(key) {
			return nil, fmt.Errorf("group by: key column %q does not exist", key)
		}
	}

	arrs := make([]arrow.Array, len(keys))
	for i, key := range keys {
		s, _ := df.Column(key)
		arrs[i] = s.Array()
	}
	defer func() {
		for _, arr := range arrs {
			arr.Release()
		}
	}()

	groups := make(map[string][]int)
rows:
	for row := 0; row < df.Len(); row++ {
		for _, arr := range arrs {
			if arr.IsNull(row) {
				continue rows
			}
		}
		key := rowKey(arrs, row)
		groups[key] = append(groups[key], row)
	}

	return &GroupBy{df: df, keys: keys, groups: groups}, nil
}

// NumGroups returns the number of distinct key combinations.
func (gb *GroupBy) NumGroups() int {
	return len(gb.groups)
}

// Agg computes the given aggregations per group. The result has one row per
// group, the key columns first (original types preserved), then one column
// per spec. Groups are emitted in sorted key order so repeated runs over
// identical input produce identical output.
func (gb *GroupBy) Agg(specs ...AggSpec) (*DataFrame, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("group by agg: no aggregations given")
	}
	for _, spec := range specs {
		if !gb.df.HasColumn(spec.Col) {
			return nil, fmt.Errorf("group by agg: column %q does not exist", spec.Col)
		}
	}

	groupKeys := maps.Keys(gb.groups)
	slices.Sort(groupKeys)

	// First row of each group carries the key values.
	firstRows := make([]int, len(groupKeys))
	for i, k := range groupKeys {
		firstRows[i] = gb.groups[k][0]
	}

	mem := memory.NewGoAllocator()
	cols := make([]ISeries, 0, len(gb.keys)+len(specs))
	for _, key := range gb.keys {
		s, _ := gb.df.Column(key)
		cols = append(cols, takeColumn(s, firstRows, mem))
	}

	for _, spec := range specs {
		col, err := gb.aggregate(spec, groupKeys, mem)
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}

	return New(cols...), nil
}

// aggregate computes one aggregation column across all groups.
func (gb *GroupBy) aggregate(spec AggSpec, groupKeys []string, mem memory.Allocator) (ISeries, error) {
	s, _ := gb.df.Column(spec.Col)
	arr := s.Array()
	defer arr.Release()

	switch spec.Op {
	case AggCount, AggCountDistinct:
		values := make([]int64, len(groupKeys))
		for i, k := range groupKeys {
			values[i] = countGroup(arr, gb.groups[k], spec.Op == AggCountDistinct)
		}
		return series.New(spec.Alias, values, mem), nil

	case AggSum, AggMean, AggMin, AggMax:
		values := make([]float64, len(groupKeys))
		valid := make([]bool, len(groupKeys))
		for i, k := range groupKeys {
			values[i], valid[i] = reduceGroup(arr, gb.groups[k], spec.Op)
		}
		return series.NewNullable(spec.Alias, values, valid, mem), nil

	default:
		return nil, fmt.Errorf("group by agg: unsupported operation %d", spec.Op)
	}
}

// countGroup counts (distinct) non-null values in a group.
func countGroup(arr arrow.Array, indices []int, distinct bool) int64 {
	if !distinct {
		var n int64
		for _, idx := range indices {
			if !arr.IsNull(idx) {
				n++
			}
		}
		return n
	}

	seen := make(map[string]struct{}, len(indices))
	for _, idx := range indices {
		if !arr.IsNull(idx) {
			seen[valueKey(arr, idx)] = struct{}{}
		}
	}
	return int64(len(seen))
}

// reduceGroup folds the non-null numeric values of a group. The ok result
// is false when the group has no non-null values; the caller emits null.
func reduceGroup(arr arrow.Array, indices []int, op AggOp) (float64, bool) {
	var acc float64
	var n int64
	for _, idx := range indices {
		v, ok := numericValue(arr, idx)
		if !ok {
			continue
		}
		if n == 0 {
			acc = v
		} else {
			switch op {
			case AggSum, AggMean:
				acc += v
			case AggMin:
				if v < acc {
					acc = v
				}
			case AggMax:
				if v > acc {
					acc = v
				}
			}
		}
		n++
	}

	if n == 0 {
		return 0, false
	}
	if op == AggMean {
		return acc / float64(n), true
	}
	return acc, true
}

// numericValue extracts a numeric value from an array slot.
func numericValue(arr arrow.Array, idx int) (float64, bool) {
	if idx >= arr.Len() || arr.IsNull(idx) {
		return 0, false
	}
	switch typed := arr.(type) {
	case *array.Int64:
		return float64(typed.Value(idx)), true
	case *array.Float64:
		return typed.Value(idx), true
	case *array.Boolean:
		if typed.Value(idx) {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// rowKey builds a composite group key for a row across the key arrays.
func rowKey(arrs []arrow.Array, row int) string {
	if len(arrs) == 1 {
		return valueKey(arrs[0], row)
	}
	parts := make([]string, len(arrs))
	for i, arr := range arrs {
		parts[i] = valueKey(arr, row)
	}
	return strings.Join(parts, "\x1f")
}

// valueKey renders one array slot as a key fragment.
func valueKey(arr arrow.Array, row int) string {
	switch typed := arr.(type) {
	case *array.Int64:
		return fmt.Sprintf("%020d", typed.Value(row))
	case *array.Float64:
		return fmt.Sprintf("%v", typed.Value(row))
	case *array.String:
		return typed.Value(row)
	case *array.Boolean:
		return fmt.Sprintf("%t", typed.Value(row))
	default:
		return "unknown"
	}
}
