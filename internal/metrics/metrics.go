// Package metrics computes the per-entity base metrics the feature
// composer builds on: order counts, reorder counts and rates, basket
// sizes and cart-position statistics, grouped by user, product, order
// or user-product pair. All inputs must already be scoped to a single
// evaluation partition; every rate follows the safe-divide contract.
package metrics

import (
	"github.com/basketml/featurepipe/internal/config"
	pipeerr "github.com/basketml/featurepipe/internal/errors"
	"github.com/basketml/featurepipe/internal/frame"
	"github.com/basketml/featurepipe/internal/staging"
)

// Metric column names produced by the aggregator.
const (
	ColUserTotalOrders       = "user_total_orders"
	ColAvgDaysBetweenOrders  = "avg_days_between_orders"
	ColAvgBasketSize         = "avg_basket_size"
	ColDistinctProductsCount = "distinct_products_count"
	ColUserReorderRate       = "user_reorder_rate"

	ColProductOrders          = "product_orders"
	ColProductReorders        = "product_reorders"
	ColProductReorderRate     = "product_reorder_rate"
	ColProductAvgCartPosition = "product_avg_cart_position"
	ColProductDistinctUsers   = "product_distinct_users"

	ColBasketSize        = "basket_size"
	ColReorderRatio      = "reorder_ratio"
	ColUniqueAisles      = "unique_aisles"
	ColUniqueDepartments = "unique_departments"

	ColUpOrders          = "up_orders"
	ColUpReorders        = "up_reorders"
	ColUpAvgCartPosition = "up_avg_cart_position"
	ColUpFirstOrderNum   = "up_first_order_number"
	ColUpLastOrderNum    = "up_last_order_number"
)

const stageName = "metrics"

// Aggregator computes base metrics under one run configuration.
type Aggregator struct {
	cfg config.Config
}

// NewAggregator creates a metric aggregator.
func NewAggregator(cfg config.Config) *Aggregator {
	return &Aggregator{cfg: cfg}
}

// LinesWithOrders joins order lines to their orders' user, sequence
// number and calendar columns. Inner join: an order line without a
// backing order is an upstream integrity bug and must not survive.
func LinesWithOrders(lines, orders *frame.DataFrame) (*frame.DataFrame, error) {
	orderCols, err := orders.Select(
		staging.ColOrderID, staging.ColUserID, staging.ColOrderNumber,
		staging.ColOrderDow, staging.ColOrderHour,
	)
	if err != nil {
		return nil, err
	}
	return lines.Join(orderCols, frame.On(frame.InnerJoin, staging.ColOrderID))
}

// UserMetrics computes per-user base metrics from partition-scoped
// orders and their lines.
func (a *Aggregator) UserMetrics(orders, lines *frame.DataFrame) (*frame.DataFrame, []pipeerr.Warning, error) {
	var warnings []pipeerr.Warning

	ordersGrouped, err := orders.GroupBy(staging.ColUserID)
	if err != nil {
		return nil, nil, err
	}
	orderAgg, err := ordersGrouped.Agg(
		frame.CountDistinct(staging.ColOrderID).As(ColUserTotalOrders),
		frame.Mean(staging.ColDaysSincePrior).As(ColAvgDaysBetweenOrders),
	)
	if err != nil {
		return nil, nil, err
	}

	userLines, err := LinesWithOrders(lines, orders)
	if err != nil {
		return nil, nil, err
	}

	linesGrouped, err := userLines.GroupBy(staging.ColUserID)
	if err != nil {
		return nil, nil, err
	}
	lineAgg, err := linesGrouped.Agg(
		frame.CountDistinct(staging.ColProductID).As(ColDistinctProductsCount),
		frame.Sum(staging.ColIsReordered).As("reordered_lines"),
		frame.Count(staging.ColIsReordered).As("total_lines"),
	)
	if err != nil {
		return nil, nil, err
	}

	basketGrouped, err := userLines.GroupBy(staging.ColUserID, staging.ColOrderID)
	if err != nil {
		return nil, nil, err
	}
	perOrder, err := basketGrouped.Agg(frame.Count(staging.ColProductID).As(ColBasketSize))
	if err != nil {
		return nil, nil, err
	}
	basketByUser, err := perOrder.GroupBy(staging.ColUserID)
	if err != nil {
		return nil, nil, err
	}
	basketAgg, err := basketByUser.Agg(frame.Mean(ColBasketSize).As(ColAvgBasketSize))
	if err != nil {
		return nil, nil, err
	}

	result, err := orderAgg.Join(lineAgg, frame.On(frame.InnerJoin, staging.ColUserID))
	if err != nil {
		return nil, nil, err
	}
	result, err = result.Join(basketAgg, frame.On(frame.InnerJoin, staging.ColUserID))
	if err != nil {
		return nil, nil, err
	}

	result, ratioWarnings, err := RatioColumn(result,
		"reordered_lines", "total_lines", ColUserReorderRate, stageName, "user_metrics")
	if err != nil {
		return nil, nil, err
	}
	warnings = append(warnings, ratioWarnings...)

	result, err = a.applyMinOrders(result)
	if err != nil {
		return nil, nil, err
	}
	return result, warnings, nil
}

// ProductMetrics computes per-product base metrics.
func (a *Aggregator) ProductMetrics(orders, lines *frame.DataFrame) (*frame.DataFrame, []pipeerr.Warning, error) {
	userLines, err := LinesWithOrders(lines, orders)
	if err != nil {
		return nil, nil, err
	}

	grouped, err := userLines.GroupBy(staging.ColProductID)
	if err != nil {
		return nil, nil, err
	}
	agg, err := grouped.Agg(
		frame.CountDistinct(staging.ColOrderID).As(ColProductOrders),
		frame.Sum(staging.ColIsReordered).As("reordered_lines"),
		frame.Count(staging.ColIsReordered).As("total_lines"),
		frame.Mean(staging.ColCartPosition).As(ColProductAvgCartPosition),
		frame.CountDistinct(staging.ColUserID).As(ColProductDistinctUsers),
	)
	if err != nil {
		return nil, nil, err
	}

	// product_reorders is the summed flag; keep it alongside the rate.
	reorders, reordersValid, err := agg.NumericColumn("reordered_lines")
	if err != nil {
		return nil, nil, err
	}
	agg, err = withFloatColumn(agg, ColProductReorders, reorders, reordersValid)
	if err != nil {
		return nil, nil, err
	}

	result, warnings, err := RatioColumn(agg,
		"reordered_lines", "total_lines", ColProductReorderRate, stageName, "product_metrics")
	if err != nil {
		return nil, nil, err
	}
	return result, warnings, nil
}

// OrderMetrics computes per-order base metrics. Lines are joined to the
// product catalog to count the distinct aisles and departments spanned.
func (a *Aggregator) OrderMetrics(lines, products *frame.DataFrame) (*frame.DataFrame, []pipeerr.Warning, error) {
	catalog, err := products.Select(staging.ColProductID, staging.ColAisleID, staging.ColDepartmentID)
	if err != nil {
		return nil, nil, err
	}
	enriched, err := lines.Join(catalog, frame.On(frame.InnerJoin, staging.ColProductID))
	if err != nil {
		return nil, nil, err
	}

	grouped, err := enriched.GroupBy(staging.ColOrderID)
	if err != nil {
		return nil, nil, err
	}
	agg, err := grouped.Agg(
		frame.Count(staging.ColProductID).As(ColBasketSize),
		frame.Sum(staging.ColIsReordered).As("reordered_lines"),
		frame.Count(staging.ColIsReordered).As("total_lines"),
		frame.CountDistinct(staging.ColAisleID).As(ColUniqueAisles),
		frame.CountDistinct(staging.ColDepartmentID).As(ColUniqueDepartments),
	)
	if err != nil {
		return nil, nil, err
	}

	result, warnings, err := RatioColumn(agg,
		"reordered_lines", "total_lines", ColReorderRatio, stageName, "order_metrics")
	if err != nil {
		return nil, nil, err
	}
	return result, warnings, nil
}

// UserProductMetrics computes base metrics per user-product pair.
func (a *Aggregator) UserProductMetrics(orders, lines *frame.DataFrame) (*frame.DataFrame, []pipeerr.Warning, error) {
	userLines, err := LinesWithOrders(lines, orders)
	if err != nil {
		return nil, nil, err
	}

	grouped, err := userLines.GroupBy(staging.ColUserID, staging.ColProductID)
	if err != nil {
		return nil, nil, err
	}
	agg, err := grouped.Agg(
		frame.CountDistinct(staging.ColOrderID).As(ColUpOrders),
		frame.Sum(staging.ColIsReordered).As(ColUpReorders),
		frame.Mean(staging.ColCartPosition).As(ColUpAvgCartPosition),
		frame.Min(staging.ColOrderNumber).As(ColUpFirstOrderNum),
		frame.Max(staging.ColOrderNumber).As(ColUpLastOrderNum),
	)
	if err != nil {
		return nil, nil, err
	}

	result, err := a.applyMinOrdersByUserSet(agg, orders)
	if err != nil {
		return nil, nil, err
	}
	return result, nil, nil
}

// applyMinOrders drops users under the configured order threshold from a
// frame carrying user_total_orders.
func (a *Aggregator) applyMinOrders(userMetrics *frame.DataFrame) (*frame.DataFrame, error) {
	if a.cfg.MinOrdersPerUser <= 0 {
		return userMetrics, nil
	}
	totals, valid, err := userMetrics.Int64Column(ColUserTotalOrders)
	if err != nil {
		return nil, err
	}
	threshold := int64(a.cfg.MinOrdersPerUser)
	return userMetrics.Filter(func(row int) bool {
		return valid[row] && totals[row] >= threshold
	}), nil
}

// applyMinOrdersByUserSet drops rows of under-threshold users from any
// frame keyed by user_id.
func (a *Aggregator) applyMinOrdersByUserSet(df, orders *frame.DataFrame) (*frame.DataFrame, error) {
	if a.cfg.MinOrdersPerUser <= 0 {
		return df, nil
	}

	grouped, err := orders.GroupBy(staging.ColUserID)
	if err != nil {
		return nil, err
	}
	counts, err := grouped.Agg(frame.CountDistinct(staging.ColOrderID).As(ColUserTotalOrders))
	if err != nil {
		return nil, err
	}
	users, usersValid, err := counts.Int64Column(staging.ColUserID)
	if err != nil {
		return nil, err
	}
	totals, totalsValid, err := counts.Int64Column(ColUserTotalOrders)
	if err != nil {
		return nil, err
	}

	threshold := int64(a.cfg.MinOrdersPerUser)
	eligible := make(map[int64]bool, len(users))
	for i := range users {
		if usersValid[i] && totalsValid[i] && totals[i] >= threshold {
			eligible[users[i]] = true
		}
	}

	rowUsers, rowValid, err := df.Int64Column(staging.ColUserID)
	if err != nil {
		return nil, err
	}
	return df.Filter(func(row int) bool {
		return rowValid[row] && eligible[rowUsers[row]]
	}), nil
}
