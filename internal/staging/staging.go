// Package staging normalizes raw source relations into the canonical
// schemas the rest of the pipeline consumes. It renames and casts
// columns; it never aggregates.
package staging

import (
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/basketml/featurepipe/internal/config"
	pipeerr "github.com/basketml/featurepipe/internal/errors"
	"github.com/basketml/featurepipe/internal/frame"
	"github.com/basketml/featurepipe/internal/series"
)

// Canonical column names for staged orders.
const (
	ColOrderID        = "order_id"
	ColUserID         = "user_id"
	ColOrderNumber    = "order_number"
	ColOrderDow       = "order_dow"
	ColOrderHour      = "order_hour_of_day"
	ColDaysSincePrior = "days_since_prior_order"
	ColEvalSet        = "eval_set"
	ColOrderTsDay     = "order_ts_day"
)

// Canonical column names for staged order lines.
const (
	ColProductID    = "product_id"
	ColCartPosition = "cart_position"
	ColIsReordered  = "is_reordered"
)

// Canonical column names for staged reference tables.
const (
	ColProductName    = "product_name"
	ColAisleID        = "aisle_id"
	ColAisleName      = "aisle_name"
	ColDepartmentID   = "department_id"
	ColDepartmentName = "department_name"
)

// sourceRenames maps known raw source column names onto canonical ones.
// Already-canonical names pass through untouched.
var sourceRenames = map[string]string{
	"add_to_cart_order": ColCartPosition,
	"reordered":         ColIsReordered,
	"aisle":             ColAisleName,
	"department":        ColDepartmentName,
}

// Raw bundles the raw input relations as supplied by the ingestion layer.
type Raw struct {
	Orders      *frame.DataFrame
	OrderLines  *frame.DataFrame
	Products    *frame.DataFrame
	Aisles      *frame.DataFrame
	Departments *frame.DataFrame
}

// Staged bundles the normalized relations.
type Staged struct {
	Orders      *frame.DataFrame
	OrderLines  *frame.DataFrame
	Products    *frame.DataFrame
	Aisles      *frame.DataFrame
	Departments *frame.DataFrame
}

// Normalize renames raw columns to the canonical schema, casts the
// reorder flag to bool and validates the evaluation partition labels.
func Normalize(raw Raw) (*Staged, error) {
	orders, err := renameKnown(raw.Orders)
	if err != nil {
		return nil, fmt.Errorf("staging orders: %w", err)
	}
	if err := requireColumns(orders, ColOrderID, ColUserID, ColOrderNumber,
		ColOrderDow, ColOrderHour, ColDaysSincePrior, ColEvalSet); err != nil {
		return nil, fmt.Errorf("staging orders: %w", err)
	}
	if err := validatePartitions(orders); err != nil {
		return nil, err
	}
	orders, err = castDayGap(orders)
	if err != nil {
		return nil, fmt.Errorf("staging orders: %w", err)
	}

	lines, err := renameKnown(raw.OrderLines)
	if err != nil {
		return nil, fmt.Errorf("staging order lines: %w", err)
	}
	if err := requireColumns(lines, ColOrderID, ColProductID, ColCartPosition, ColIsReordered); err != nil {
		return nil, fmt.Errorf("staging order lines: %w", err)
	}
	lines, err = castReorderFlag(lines)
	if err != nil {
		return nil, fmt.Errorf("staging order lines: %w", err)
	}

	products, err := renameKnown(raw.Products)
	if err != nil {
		return nil, fmt.Errorf("staging products: %w", err)
	}
	if err := requireColumns(products, ColProductID, ColProductName, ColAisleID, ColDepartmentID); err != nil {
		return nil, fmt.Errorf("staging products: %w", err)
	}

	aisles, err := renameKnown(raw.Aisles)
	if err != nil {
		return nil, fmt.Errorf("staging aisles: %w", err)
	}
	if err := requireColumns(aisles, ColAisleID, ColAisleName); err != nil {
		return nil, fmt.Errorf("staging aisles: %w", err)
	}

	departments, err := renameKnown(raw.Departments)
	if err != nil {
		return nil, fmt.Errorf("staging departments: %w", err)
	}
	if err := requireColumns(departments, ColDepartmentID, ColDepartmentName); err != nil {
		return nil, fmt.Errorf("staging departments: %w", err)
	}

	return &Staged{
		Orders:      orders,
		OrderLines:  lines,
		Products:    products,
		Aisles:      aisles,
		Departments: departments,
	}, nil
}

// FilterPartition returns the orders belonging to one evaluation partition.
func FilterPartition(orders *frame.DataFrame, p config.Partition) (*frame.DataFrame, error) {
	labels, valid, err := orders.StringColumn(ColEvalSet)
	if err != nil {
		return nil, err
	}
	return orders.Filter(func(row int) bool {
		return valid[row] && labels[row] == string(p)
	}), nil
}

// LinesForOrders returns the order lines whose order_id appears in orders.
func LinesForOrders(lines, orders *frame.DataFrame) (*frame.DataFrame, error) {
	ids, valid, err := orders.Int64Column(ColOrderID)
	if err != nil {
		return nil, err
	}
	idSet := make(map[int64]bool, len(ids))
	for i, id := range ids {
		if valid[i] {
			idSet[id] = true
		}
	}

	lineIDs, lineValid, err := lines.Int64Column(ColOrderID)
	if err != nil {
		return nil, err
	}
	return lines.Filter(func(row int) bool {
		return lineValid[row] && idSet[lineIDs[row]]
	}), nil
}

// WithOrderTimestamps derives an epoch-day timestamp per order from the
// trailing day gaps: for each user, the most recent order maps to the
// reference day and each earlier order is pushed back by the gaps of
// the orders after it. A null gap counts as zero days. The resulting
// order_ts_day column is what the window generator measures age against,
// so the reference must be the one fixed instant of the run.
func WithOrderTimestamps(orders *frame.DataFrame, reference time.Time) (*frame.DataFrame, error) {
	sorted, err := orders.SortBy(
		frame.SortKey{Col: ColUserID, Ascending: true},
		frame.SortKey{Col: ColOrderNumber, Ascending: true},
	)
	if err != nil {
		return nil, err
	}

	users, _, err := sorted.Int64Column(ColUserID)
	if err != nil {
		return nil, err
	}
	gaps, gapValid, err := sorted.Float64Column(ColDaysSincePrior)
	if err != nil {
		return nil, err
	}

	refDay := epochDay(reference)
	n := sorted.Len()
	tsDays := make([]int64, n)

	// Walk each user's run backwards from their latest order.
	end := n
	for end > 0 {
		start := end - 1
		for start > 0 && users[start-1] == users[end-1] {
			start--
		}
		daysAgo := 0.0
		for i := end - 1; i >= start; i-- {
			tsDays[i] = refDay - int64(daysAgo)
			if gapValid[i] {
				daysAgo += gaps[i]
			}
		}
		end = start
	}

	mem := memory.NewGoAllocator()
	return sorted.WithColumn(series.New(ColOrderTsDay, tsDays, mem))
}

// epochDay converts an instant to whole days since the Unix epoch.
func epochDay(t time.Time) int64 {
	return t.Unix() / (24 * 60 * 60)
}

// renameKnown applies the raw-to-canonical column renames.
func renameKnown(df *frame.DataFrame) (*frame.DataFrame, error) {
	if df == nil {
		return nil, fmt.Errorf("input relation is nil")
	}
	out := df
	var err error
	for _, name := range df.Columns() {
		if canonical, ok := sourceRenames[name]; ok && !df.HasColumn(canonical) {
			out, err = out.Rename(name, canonical)
			if err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// requireColumns checks the canonical schema is complete.
func requireColumns(df *frame.DataFrame, names ...string) error {
	for _, name := range names {
		if !df.HasColumn(name) {
			return fmt.Errorf("missing required column %q", name)
		}
	}
	return nil
}

// validatePartitions rejects unknown evaluation partition labels up front.
func validatePartitions(orders *frame.DataFrame) error {
	labels, valid, err := orders.StringColumn(ColEvalSet)
	if err != nil {
		return pipeerr.NewConfigurationErrorf("orders eval_set: %v", err)
	}
	for i, label := range labels {
		if !valid[i] {
			return pipeerr.NewConfigurationError("orders eval_set contains null")
		}
		if !config.Partition(label).Valid() {
			return pipeerr.NewConfigurationErrorf("unknown evaluation partition %q in orders", label)
		}
	}
	return nil
}

// castDayGap converts an integer days_since_prior_order column to
// float64; nulls (first orders) are preserved.
func castDayGap(orders *frame.DataFrame) (*frame.DataFrame, error) {
	if _, _, err := orders.Float64Column(ColDaysSincePrior); err == nil {
		return orders, nil
	}

	raw, valid, err := orders.Int64Column(ColDaysSincePrior)
	if err != nil {
		return nil, fmt.Errorf("day gap is neither float64 nor int64: %w", err)
	}
	gaps := make([]float64, len(raw))
	for i, v := range raw {
		gaps[i] = float64(v)
	}

	mem := memory.NewGoAllocator()
	return orders.WithColumn(series.NewNullable(ColDaysSincePrior, gaps, valid, mem))
}

// castReorderFlag converts an integer 0/1 reorder column to bool.
// A flag already typed bool passes through.
func castReorderFlag(lines *frame.DataFrame) (*frame.DataFrame, error) {
	if _, _, err := lines.BoolColumn(ColIsReordered); err == nil {
		return lines, nil
	}

	raw, valid, err := lines.Int64Column(ColIsReordered)
	if err != nil {
		return nil, fmt.Errorf("reorder flag is neither bool nor int64: %w", err)
	}
	flags := make([]bool, len(raw))
	for i, v := range raw {
		if valid[i] && v != 0 && v != 1 {
			return nil, fmt.Errorf("reorder flag value %d at row %d is not 0 or 1", v, i)
		}
		flags[i] = v == 1
	}

	mem := memory.NewGoAllocator()
	return lines.WithColumn(series.NewNullable(ColIsReordered, flags, valid, mem))
}
