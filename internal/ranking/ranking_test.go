package ranking

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basketml/featurepipe/internal/frame"
	"github.com/basketml/featurepipe/internal/series"
	"github.com/basketml/featurepipe/internal/staging"
)

func TestDayPart(t *testing.T) {
	tests := []struct {
		hour int64
		want string
	}{
		{5, "morning"}, {9, "morning"},
		{10, "midday"}, {14, "midday"},
		{15, "evening"}, {19, "evening"},
		{20, "night"}, {23, "night"}, {0, "night"}, {4, "night"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DayPart(tt.hour), "hour %d", tt.hour)
	}
}

func TestPopularityRank(t *testing.T) {
	mem := memory.NewGoAllocator()
	df := frame.New(
		series.New("department_id", []int64{1, 2, 1, 1}, mem),
		series.New("product_orders", []int64{10, 4, 10, 4}, mem),
		series.New("product_id", []int64{5, 9, 3, 7}, mem),
	)

	out, err := PopularityRank(df, "department_id", "product_orders", "product_id", "rank")
	require.NoError(t, err)

	ids, _, err := out.Int64Column("product_id")
	require.NoError(t, err)
	ranks, _, err := out.Int64Column("rank")
	require.NoError(t, err)

	// Department 1: tied counts resolve on product_id ascending, then the
	// rank restarts at 1 for department 2.
	assert.Equal(t, []int64{3, 5, 7, 9}, ids)
	assert.Equal(t, []int64{1, 2, 3, 1}, ranks)
}

func TestPopularityRankDeterministic(t *testing.T) {
	mem := memory.NewGoAllocator()
	df := frame.New(
		series.New("department_id", []int64{1, 1, 1}, mem),
		series.New("product_orders", []int64{6, 6, 6}, mem),
		series.New("product_id", []int64{30, 10, 20}, mem),
	)

	first, err := PopularityRank(df, "department_id", "product_orders", "product_id", "rank")
	require.NoError(t, err)
	second, err := PopularityRank(df, "department_id", "product_orders", "product_id", "rank")
	require.NoError(t, err)

	a, _, err := first.Int64Column("product_id")
	require.NoError(t, err)
	b, _, err := second.Int64Column("product_id")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, []int64{10, 20, 30}, a)
}

func TestModalValueTieBreaksLow(t *testing.T) {
	mem := memory.NewGoAllocator()
	df := frame.New(
		series.New("user_id", []int64{1, 1, 1, 1, 2}, mem),
		series.New("order_hour_of_day", []int64{16, 16, 8, 8, 22}, mem),
	)

	out, err := TypicalOrderHour(df, []string{"user_id"}, "peak_hour")
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())

	users, _, err := out.Int64Column("user_id")
	require.NoError(t, err)
	hours, _, err := out.Int64Column("peak_hour")
	require.NoError(t, err)

	byUser := map[int64]int64{}
	for i := range users {
		byUser[users[i]] = hours[i]
	}
	// 8 and 16 are tied twice each for user 1; the lower hour wins.
	assert.Equal(t, int64(8), byUser[1])
	assert.Equal(t, int64(22), byUser[2])
}

func TestDominantDayPartTieFavorsMorning(t *testing.T) {
	mem := memory.NewGoAllocator()
	// Five morning lines, five midday lines for the same pair.
	hours := []int64{6, 7, 8, 9, 5, 10, 11, 12, 13, 14}
	users := make([]int64, len(hours))
	products := make([]int64, len(hours))
	for i := range hours {
		users[i] = 1
		products[i] = 101
	}
	df := frame.New(
		series.New(staging.ColUserID, users, mem),
		series.New(staging.ColProductID, products, mem),
		series.New(staging.ColOrderHour, hours, mem),
	)

	out, err := DominantDayPart(df, []string{staging.ColUserID, staging.ColProductID},
		staging.ColOrderHour, "dominant_day_part")
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())

	parts, valid, err := out.StringColumn("dominant_day_part")
	require.NoError(t, err)
	require.True(t, valid[0])
	assert.Equal(t, "morning", parts[0])
}

func TestDominantDow(t *testing.T) {
	mem := memory.NewGoAllocator()
	df := frame.New(
		series.New(staging.ColUserID, []int64{1, 1, 1}, mem),
		series.New(staging.ColProductID, []int64{101, 101, 101}, mem),
		series.New(staging.ColOrderDow, []int64{3, 3, 5}, mem),
	)

	out, err := DominantDow(df, []string{staging.ColUserID, staging.ColProductID}, "dominant_dow")
	require.NoError(t, err)

	dows, _, err := out.Int64Column("dominant_dow")
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, dows)
}

func TestOrdersSinceLastPurchase(t *testing.T) {
	mem := memory.NewGoAllocator()
	df := frame.New(
		series.New("user_total_orders", []int64{10, 4}, mem),
		series.NewNullable("up_last_order_number", []float64{7, 0}, []bool{true, false}, mem),
	)

	out, err := OrdersSinceLastPurchase(df, "user_total_orders", "up_last_order_number", "orders_since_last_purchase")
	require.NoError(t, err)

	since, valid, err := out.Int64Column("orders_since_last_purchase")
	require.NoError(t, err)
	assert.Equal(t, int64(3), since[0])
	assert.False(t, valid[1])
}
