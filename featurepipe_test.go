package featurepipe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basketml/featurepipe/internal/compose"
	"github.com/basketml/featurepipe/internal/metrics"
	"github.com/basketml/featurepipe/internal/staging"
	"github.com/basketml/featurepipe/internal/testutil"
	"github.com/basketml/featurepipe/internal/training"
)

// referenceDay pins the run to day 20000 since the epoch.
var referenceDay = time.Unix(20000*24*60*60, 0).UTC()

// fiveOrderInputs builds one user with four prior orders and a fifth
// labeled train order, every order seven days apart.
func fiveOrderInputs() Inputs {
	return Inputs{
		Orders: testutil.OrdersFrame(
			testutil.OrderRow{OrderID: 1, UserID: 1, OrderNumber: 1, Dow: 1, Hour: 8, EvalSet: "prior"},
			testutil.OrderRow{OrderID: 2, UserID: 1, OrderNumber: 2, Dow: 1, Hour: 9, DaysSincePrior: testutil.Days(7), EvalSet: "prior"},
			testutil.OrderRow{OrderID: 3, UserID: 1, OrderNumber: 3, Dow: 2, Hour: 10, DaysSincePrior: testutil.Days(7), EvalSet: "prior"},
			testutil.OrderRow{OrderID: 4, UserID: 1, OrderNumber: 4, Dow: 1, Hour: 8, DaysSincePrior: testutil.Days(7), EvalSet: "prior"},
			testutil.OrderRow{OrderID: 5, UserID: 1, OrderNumber: 5, Dow: 1, Hour: 8, DaysSincePrior: testutil.Days(7), EvalSet: "train"},
		),
		OrderLines: testutil.LinesFrame(
			testutil.LineRow{OrderID: 1, ProductID: 101, CartPosition: 1},
			testutil.LineRow{OrderID: 1, ProductID: 102, CartPosition: 2},
			testutil.LineRow{OrderID: 2, ProductID: 101, CartPosition: 1, Reordered: true},
			testutil.LineRow{OrderID: 2, ProductID: 102, CartPosition: 2, Reordered: true},
			testutil.LineRow{OrderID: 3, ProductID: 101, CartPosition: 1, Reordered: true},
			testutil.LineRow{OrderID: 4, ProductID: 101, CartPosition: 1, Reordered: true},
			testutil.LineRow{OrderID: 4, ProductID: 102, CartPosition: 2, Reordered: true},
			testutil.LineRow{OrderID: 4, ProductID: 103, CartPosition: 3},
			testutil.LineRow{OrderID: 5, ProductID: 101, CartPosition: 1, Reordered: true},
			testutil.LineRow{OrderID: 5, ProductID: 102, CartPosition: 2, Reordered: true},
		),
		Products: testutil.ProductsFrame(
			testutil.ProductRow{ProductID: 101, Name: "Bananas", AisleID: 24, DepartmentID: 4},
			testutil.ProductRow{ProductID: 102, Name: "Whole Milk", AisleID: 84, DepartmentID: 16},
			testutil.ProductRow{ProductID: 103, Name: "Yogurt", AisleID: 120, DepartmentID: 16},
		),
		Aisles:      testutil.AislesFrame([]int64{24, 84, 120}, []string{"fresh fruits", "milk", "yogurt"}),
		Departments: testutil.DepartmentsFrame([]int64{4, 16}, []string{"produce", "dairy eggs"}),
	}
}

func TestNewRejectsLeakyConfig(t *testing.T) {
	cfg := NewConfig()
	cfg.FeaturePartition = PartitionTrain

	_, err := New(cfg, fiveOrderInputs())
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
}

func TestRunEndToEnd(t *testing.T) {
	p, err := New(NewConfig(), fiveOrderInputs(), WithReference(referenceDay))
	require.NoError(t, err)

	result, err := p.Run(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, result.RunID)
	assert.Equal(t, referenceDay, result.Reference)

	// Features come from the four prior orders only.
	require.Equal(t, 1, result.UserFeatures.Len())
	totals, _, err := result.UserFeatures.Int64Column(metrics.ColUserTotalOrders)
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, totals)

	hours, _, err := result.UserFeatures.Int64Column(compose.ColTypicalOrderHour)
	require.NoError(t, err)
	assert.Equal(t, []int64{8}, hours)

	days, _, err := result.UserFeatures.Int64Column(compose.ColPreferredOrderDay)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, days)

	// Prior orders sit 7, 14, 21 and 28 days before the reference with
	// baskets 2, 2, 1 and 3: only the newest falls in the 7d window.
	sum7, _, err := result.UserFeatures.Float64Column("basket_size_sum_7d")
	require.NoError(t, err)
	assert.Equal(t, []float64{3}, sum7)
	sum30, _, err := result.UserFeatures.Float64Column("basket_size_sum_30d")
	require.NoError(t, err)
	assert.Equal(t, []float64{8}, sum30)

	assert.Equal(t, 3, result.ProductFeatures.Len())
	assert.Equal(t, 4, result.OrderFeatures.Len())
	assert.Equal(t, 3, result.UserProductFeatures.Len())

	// Training spine: the two lines of the train order.
	require.Equal(t, 2, result.Training.Len())
	labels, _, err := result.Training.BoolColumn(training.ColLabel)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true}, labels)
}

func TestRunPointInTime(t *testing.T) {
	p, err := New(NewConfig(), fiveOrderInputs(), WithReference(referenceDay))
	require.NoError(t, err)
	result, err := p.Run(context.Background())
	require.NoError(t, err)

	// The train order never leaks into its own features: counts reflect
	// the four prior orders, not five.
	totals, _, err := result.Training.Int64Column(metrics.ColUserTotalOrders)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 4}, totals)

	upLast, _, err := result.Training.Float64Column(metrics.ColUpLastOrderNum)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 4}, upLast)

	// Prior baskets are 2, 2, 1, 3 so the prior-only average is 2; the
	// train order holds 2 products.
	deltas, valid, err := result.Training.Float64Column(compose.ColBasketSizeDelta)
	require.NoError(t, err)
	require.Equal(t, []bool{true, true}, valid)
	assert.Equal(t, []float64{0, 0}, deltas)

	// The pair bought one order ago buckets as recent.
	buckets, _, err := result.Training.StringColumn(training.ColPurchaseRecencyBucket)
	require.NoError(t, err)
	assert.Equal(t, []string{training.BucketRecent, training.BucketRecent}, buckets)

	preferred, _, err := result.Training.BoolColumn(training.ColIsPreferredDow)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true}, preferred)
}

func TestRunDeterministic(t *testing.T) {
	run := func() *Result {
		p, err := New(NewConfig(), fiveOrderInputs(), WithReference(referenceDay))
		require.NoError(t, err)
		result, err := p.Run(context.Background())
		require.NoError(t, err)
		return result
	}

	first := run()
	second := run()

	firstIDs, _, err := first.ProductFeatures.Int64Column(staging.ColProductID)
	require.NoError(t, err)
	secondIDs, _, err := second.ProductFeatures.Int64Column(staging.ColProductID)
	require.NoError(t, err)
	assert.Equal(t, firstIDs, secondIDs)

	firstRanks, _, err := first.ProductFeatures.Int64Column(compose.ColDeptPopularityRank)
	require.NoError(t, err)
	secondRanks, _, err := second.ProductFeatures.Int64Column(compose.ColDeptPopularityRank)
	require.NoError(t, err)
	assert.Equal(t, firstRanks, secondRanks)

	firstTotals, _, err := first.UserFeatures.Int64Column(metrics.ColUserTotalOrders)
	require.NoError(t, err)
	secondTotals, _, err := second.UserFeatures.Int64Column(metrics.ColUserTotalOrders)
	require.NoError(t, err)
	assert.Equal(t, firstTotals, secondTotals)
}

func TestRunAbortsOnEmptyTarget(t *testing.T) {
	cfg := NewConfig()
	// No orders carry the test label, so the training spine is empty.
	cfg.TargetPartition = PartitionTest

	p, err := New(cfg, fiveOrderInputs(), WithReference(referenceDay))
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsIntegrityError(err))

	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "training", pe.Stage)
	assert.Equal(t, "training", pe.Table)
}

func TestRunCancelledContext(t *testing.T) {
	p, err := New(NewConfig(), fiveOrderInputs(), WithReference(referenceDay))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = p.Run(ctx)
	require.Error(t, err)
	assert.True(t, IsStageError(err))
}
