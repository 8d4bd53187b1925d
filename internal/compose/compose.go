// Package compose assembles the per-entity feature tables from base
// metrics, windowed aggregates and ranking output. Every feature here
// derives exclusively from the feature partition; the composer never
// sees target-partition rows.
package compose

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/memory"

	pipeerr "github.com/basketml/featurepipe/internal/errors"
	"github.com/basketml/featurepipe/internal/frame"
	"github.com/basketml/featurepipe/internal/metrics"
	"github.com/basketml/featurepipe/internal/ranking"
	"github.com/basketml/featurepipe/internal/series"
	"github.com/basketml/featurepipe/internal/staging"
	"github.com/basketml/featurepipe/internal/window"
)

// Composed feature column names.
const (
	ColTypicalOrderHour     = "typical_order_hour"
	ColProductPeakHour      = "product_peak_hour"
	ColPreferredOrderDay    = "preferred_order_day"
	ColDeptPopularityRank   = "department_popularity_rank"
	ColAislePopularityRank  = "aisle_popularity_rank"
	ColDeptOrderShare       = "product_department_order_share"
	ColDayPart              = "day_part"
	ColBasketSizeDelta      = "basket_size_delta"
	ColOrdersSinceLast      = "orders_since_last_purchase"
	ColUpOrdersRatio        = "up_orders_ratio"
	ColUserRelativeFreq     = "user_relative_frequency"
	ColProductRelativeFreq  = "product_relative_frequency"
	ColDominantDayPart      = "dominant_day_part"
	ColDominantDow          = "dominant_dow"
	ColDepartmentTotalOrder = "department_total_orders"
)

const stageName = "compose"

// Composer builds the four feature tables.
type Composer struct{}

// NewComposer creates a feature composer.
func NewComposer() *Composer {
	return &Composer{}
}

// UserFeatures combines per-user metrics with the user's typical order
// hour, preferred order day and windowed basket aggregates. The modal
// frames come from the ranking stage; the window frame joins left and
// coalesces to zero so a user with no recent events still has a
// feature row.
func (c *Composer) UserFeatures(
	userMetrics, peakHour, preferredDay, userWindows *frame.DataFrame,
) (*frame.DataFrame, []pipeerr.Warning, error) {
	result, err := userMetrics.Join(peakHour, frame.On(frame.LeftJoin, staging.ColUserID))
	if err != nil {
		return nil, nil, err
	}
	result, err = result.Join(preferredDay, frame.On(frame.LeftJoin, staging.ColUserID))
	if err != nil {
		return nil, nil, err
	}

	if userWindows != nil {
		windowCols := windowColumns(userWindows, staging.ColUserID)
		result, err = result.Join(userWindows, frame.On(frame.LeftJoin, staging.ColUserID))
		if err != nil {
			return nil, nil, err
		}
		for _, col := range windowCols {
			result, err = window.CoalesceZero(result, col)
			if err != nil {
				return nil, nil, err
			}
		}
	}
	return result, nil, nil
}

// ProductFeatures combines per-product metrics with catalog placement,
// the product's peak order hour, both popularity ranks and the product's
// share of its department's order volume.
func (c *Composer) ProductFeatures(
	productMetrics, products, peakHour *frame.DataFrame,
) (*frame.DataFrame, []pipeerr.Warning, error) {
	catalog, err := products.Select(staging.ColProductID, staging.ColAisleID, staging.ColDepartmentID)
	if err != nil {
		return nil, nil, err
	}
	result, err := productMetrics.Join(catalog, frame.On(frame.InnerJoin, staging.ColProductID))
	if err != nil {
		return nil, nil, err
	}
	result, err = result.Join(peakHour, frame.On(frame.LeftJoin, staging.ColProductID))
	if err != nil {
		return nil, nil, err
	}

	result, err = ranking.PopularityRank(result,
		staging.ColDepartmentID, metrics.ColProductOrders, staging.ColProductID, ColDeptPopularityRank)
	if err != nil {
		return nil, nil, err
	}
	result, err = ranking.PopularityRank(result,
		staging.ColAisleID, metrics.ColProductOrders, staging.ColProductID, ColAislePopularityRank)
	if err != nil {
		return nil, nil, err
	}

	deptGrouped, err := result.GroupBy(staging.ColDepartmentID)
	if err != nil {
		return nil, nil, err
	}
	deptTotals, err := deptGrouped.Agg(frame.Sum(metrics.ColProductOrders).As(ColDepartmentTotalOrder))
	if err != nil {
		return nil, nil, err
	}
	result, err = result.Join(deptTotals, frame.On(frame.InnerJoin, staging.ColDepartmentID))
	if err != nil {
		return nil, nil, err
	}

	result, warnings, err := ratio(result,
		metrics.ColProductOrders, ColDepartmentTotalOrder, ColDeptOrderShare, "product_features")
	if err != nil {
		return nil, nil, err
	}
	return result.Drop(ColDepartmentTotalOrder), warnings, nil
}

// OrderFeatures combines per-order metrics with the order's day part and
// its basket size delta against the user's prior average. Users filtered
// out of the user metrics leave the delta null.
func (c *Composer) OrderFeatures(
	orderMetrics, orders, userMetrics *frame.DataFrame,
) (*frame.DataFrame, []pipeerr.Warning, error) {
	orderCols, err := orders.Select(staging.ColOrderID, staging.ColUserID, staging.ColOrderHour)
	if err != nil {
		return nil, nil, err
	}
	result, err := orderMetrics.Join(orderCols, frame.On(frame.InnerJoin, staging.ColOrderID))
	if err != nil {
		return nil, nil, err
	}

	result, err = withDayPart(result, staging.ColOrderHour, ColDayPart)
	if err != nil {
		return nil, nil, err
	}

	userAvg, err := userMetrics.Select(staging.ColUserID, metrics.ColAvgBasketSize)
	if err != nil {
		return nil, nil, err
	}
	result, err = result.Join(userAvg, frame.On(frame.LeftJoin, staging.ColUserID))
	if err != nil {
		return nil, nil, err
	}
	result, err = difference(result, metrics.ColBasketSize, metrics.ColAvgBasketSize, ColBasketSizeDelta)
	if err != nil {
		return nil, nil, err
	}

	return result.Drop(staging.ColOrderHour, staging.ColUserID, metrics.ColAvgBasketSize), nil, nil
}

// UserProductFeatures combines user-product metrics with recency and
// relative-frequency features and the pair's dominant shopping buckets
// resolved by the ranking stage.
func (c *Composer) UserProductFeatures(
	upMetrics, userMetrics, productMetrics, dominantDayPart, dominantDow *frame.DataFrame,
) (*frame.DataFrame, []pipeerr.Warning, error) {
	var warnings []pipeerr.Warning

	userTotals, err := userMetrics.Select(staging.ColUserID, metrics.ColUserTotalOrders)
	if err != nil {
		return nil, nil, err
	}
	result, err := upMetrics.Join(userTotals, frame.On(frame.InnerJoin, staging.ColUserID))
	if err != nil {
		return nil, nil, err
	}

	result, err = ranking.OrdersSinceLastPurchase(result,
		metrics.ColUserTotalOrders, metrics.ColUpLastOrderNum, ColOrdersSinceLast)
	if err != nil {
		return nil, nil, err
	}

	result, w, err := ratio(result, metrics.ColUpOrders, metrics.ColUserTotalOrders, ColUpOrdersRatio, "user_product_features")
	if err != nil {
		return nil, nil, err
	}
	warnings = append(warnings, w...)
	result, w, err = ratio(result, metrics.ColUpOrders, metrics.ColUserTotalOrders, ColUserRelativeFreq, "user_product_features")
	if err != nil {
		return nil, nil, err
	}
	warnings = append(warnings, w...)

	productTotals, err := productMetrics.Select(staging.ColProductID, metrics.ColProductOrders)
	if err != nil {
		return nil, nil, err
	}
	result, err = result.Join(productTotals, frame.On(frame.InnerJoin, staging.ColProductID))
	if err != nil {
		return nil, nil, err
	}
	result, w, err = ratio(result, metrics.ColUpOrders, metrics.ColProductOrders, ColProductRelativeFreq, "user_product_features")
	if err != nil {
		return nil, nil, err
	}
	warnings = append(warnings, w...)

	pairKeys := []string{staging.ColUserID, staging.ColProductID}
	result, err = result.Join(dominantDayPart, frame.On(frame.LeftJoin, pairKeys...))
	if err != nil {
		return nil, nil, err
	}
	result, err = result.Join(dominantDow, frame.On(frame.LeftJoin, pairKeys...))
	if err != nil {
		return nil, nil, err
	}

	return result.Drop(metrics.ColUserTotalOrders, metrics.ColProductOrders), warnings, nil
}

// windowColumns lists the columns of a window frame other than its keys.
func windowColumns(windows *frame.DataFrame, keys ...string) []string {
	keySet := make(map[string]bool, len(keys))
	for _, k := range keys {
		keySet[k] = true
	}
	var cols []string
	for _, name := range windows.Columns() {
		if !keySet[name] {
			cols = append(cols, name)
		}
	}
	return cols
}

// ratio appends outCol = numCol / denCol under the safe-divide contract,
// keeping both operand columns in place.
func ratio(df *frame.DataFrame, numCol, denCol, outCol, table string) (*frame.DataFrame, []pipeerr.Warning, error) {
	num, numValid, err := df.NumericColumn(numCol)
	if err != nil {
		return nil, nil, err
	}
	den, denValid, err := df.NumericColumn(denCol)
	if err != nil {
		return nil, nil, err
	}

	values, valid, zeroes := metrics.SafeDivide(num, den, numValid, denValid)

	var warnings []pipeerr.Warning
	if zeroes > 0 {
		warnings = append(warnings, pipeerr.Warning{
			Stage:   stageName,
			Table:   table,
			Column:  outCol,
			Message: fmt.Sprintf("%d zero denominators produced null ratios", zeroes),
		})
	}

	out, err := df.WithColumn(series.NewNullable(outCol, values, valid, memory.NewGoAllocator()))
	if err != nil {
		return nil, nil, err
	}
	return out, warnings, nil
}

// difference appends outCol = aCol - bCol; null on either side yields null.
func difference(df *frame.DataFrame, aCol, bCol, outCol string) (*frame.DataFrame, error) {
	a, aValid, err := df.NumericColumn(aCol)
	if err != nil {
		return nil, err
	}
	b, bValid, err := df.NumericColumn(bCol)
	if err != nil {
		return nil, err
	}

	values := make([]float64, len(a))
	valid := make([]bool, len(a))
	for i := range a {
		if aValid[i] && bValid[i] {
			values[i] = a[i] - b[i]
			valid[i] = true
		}
	}
	return df.WithColumn(series.NewNullable(outCol, values, valid, memory.NewGoAllocator()))
}

// withDayPart appends the day-part bucket of an hour column.
func withDayPart(df *frame.DataFrame, hourCol, outCol string) (*frame.DataFrame, error) {
	hours, hoursValid, err := df.Int64Column(hourCol)
	if err != nil {
		return nil, err
	}
	parts := make([]string, len(hours))
	for i, h := range hours {
		if hoursValid[i] {
			parts[i] = ranking.DayPart(h)
		}
	}
	return df.WithColumn(series.NewNullable(outCol, parts, hoursValid, memory.NewGoAllocator()))
}
