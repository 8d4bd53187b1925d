// Package testutil builds the small input frames the pipeline tests
// share. All builders produce frames in the raw source schema so tests
// exercise the staging renames and casts the same way production
// ingestion does.
package testutil

import (
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/basketml/featurepipe/internal/frame"
	"github.com/basketml/featurepipe/internal/series"
)

// OrderRow is one raw order event.
type OrderRow struct {
	OrderID        int64
	UserID         int64
	OrderNumber    int64
	Dow            int64
	Hour           int64
	DaysSincePrior *float64 // nil for a user's first order
	EvalSet        string
}

// LineRow is one raw order line.
type LineRow struct {
	OrderID      int64
	ProductID    int64
	CartPosition int64
	Reordered    bool
}

// ProductRow is one raw catalog product.
type ProductRow struct {
	ProductID    int64
	Name         string
	AisleID      int64
	DepartmentID int64
}

// Days returns a pointer to a day-gap value for OrderRow literals.
func Days(v float64) *float64 {
	return &v
}

// OrdersFrame builds a raw orders relation.
func OrdersFrame(rows ...OrderRow) *frame.DataFrame {
	n := len(rows)
	orderIDs := make([]int64, n)
	userIDs := make([]int64, n)
	orderNums := make([]int64, n)
	dows := make([]int64, n)
	hours := make([]int64, n)
	gaps := make([]float64, n)
	gapValid := make([]bool, n)
	evalSets := make([]string, n)

	for i, r := range rows {
		orderIDs[i] = r.OrderID
		userIDs[i] = r.UserID
		orderNums[i] = r.OrderNumber
		dows[i] = r.Dow
		hours[i] = r.Hour
		if r.DaysSincePrior != nil {
			gaps[i] = *r.DaysSincePrior
			gapValid[i] = true
		}
		evalSets[i] = r.EvalSet
	}

	mem := memory.NewGoAllocator()
	return frame.New(
		series.New("order_id", orderIDs, mem),
		series.New("user_id", userIDs, mem),
		series.New("order_number", orderNums, mem),
		series.New("order_dow", dows, mem),
		series.New("order_hour_of_day", hours, mem),
		series.NewNullable("days_since_prior_order", gaps, gapValid, mem),
		series.New("eval_set", evalSets, mem),
	)
}

// LinesFrame builds a raw order-lines relation using the source column
// names (add_to_cart_order, reordered).
func LinesFrame(rows ...LineRow) *frame.DataFrame {
	n := len(rows)
	orderIDs := make([]int64, n)
	productIDs := make([]int64, n)
	positions := make([]int64, n)
	reordered := make([]int64, n)

	for i, r := range rows {
		orderIDs[i] = r.OrderID
		productIDs[i] = r.ProductID
		positions[i] = r.CartPosition
		if r.Reordered {
			reordered[i] = 1
		}
	}

	mem := memory.NewGoAllocator()
	return frame.New(
		series.New("order_id", orderIDs, mem),
		series.New("product_id", productIDs, mem),
		series.New("add_to_cart_order", positions, mem),
		series.New("reordered", reordered, mem),
	)
}

// ProductsFrame builds a raw product catalog relation.
func ProductsFrame(rows ...ProductRow) *frame.DataFrame {
	n := len(rows)
	productIDs := make([]int64, n)
	names := make([]string, n)
	aisleIDs := make([]int64, n)
	deptIDs := make([]int64, n)

	for i, r := range rows {
		productIDs[i] = r.ProductID
		names[i] = r.Name
		aisleIDs[i] = r.AisleID
		deptIDs[i] = r.DepartmentID
	}

	mem := memory.NewGoAllocator()
	return frame.New(
		series.New("product_id", productIDs, mem),
		series.New("product_name", names, mem),
		series.New("aisle_id", aisleIDs, mem),
		series.New("department_id", deptIDs, mem),
	)
}

// AislesFrame builds a raw aisles relation using the source column name.
func AislesFrame(ids []int64, names []string) *frame.DataFrame {
	mem := memory.NewGoAllocator()
	return frame.New(
		series.New("aisle_id", ids, mem),
		series.New("aisle", names, mem),
	)
}

// DepartmentsFrame builds a raw departments relation using the source
// column name.
func DepartmentsFrame(ids []int64, names []string) *frame.DataFrame {
	mem := memory.NewGoAllocator()
	return frame.New(
		series.New("department_id", ids, mem),
		series.New("department", names, mem),
	)
}
