// Package ranking resolves ranks, modal buckets and recency measures.
// Every ordering in this package has a total, documented tie-break so
// repeated runs over the same input produce identical output.
package ranking

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/basketml/featurepipe/internal/frame"
	"github.com/basketml/featurepipe/internal/series"
	"github.com/basketml/featurepipe/internal/staging"
)

// Day-part buckets in declaration order. On a tied count the
// earlier-declared bucket wins, so "morning" beats "midday" at 5 vs 5.
var dayParts = []string{"morning", "midday", "evening", "night"}

// DayPart buckets an hour of day: morning 05-09, midday 10-14,
// evening 15-19, night 20-04.
func DayPart(hour int64) string {
	switch {
	case hour >= 5 && hour <= 9:
		return "morning"
	case hour >= 10 && hour <= 14:
		return "midday"
	case hour >= 15 && hour <= 19:
		return "evening"
	default:
		return "night"
	}
}

func dayPartIndex(part string) int64 {
	for i, p := range dayParts {
		if p == part {
			return int64(i)
		}
	}
	return int64(len(dayParts))
}

// PopularityRank appends rankCol with the 1-based rank of each row inside
// its partition, ordered by countCol descending. Ties break on idCol
// ascending, so ranks are consecutive and reproducible. Rows are returned
// ordered by partition, then rank.
func PopularityRank(df *frame.DataFrame, partitionCol, countCol, idCol, rankCol string) (*frame.DataFrame, error) {
	sorted, err := df.SortBy(
		frame.SortKey{Col: partitionCol, Ascending: true},
		frame.SortKey{Col: countCol, Ascending: false},
		frame.SortKey{Col: idCol, Ascending: true},
	)
	if err != nil {
		return nil, err
	}

	parts, partsValid, err := sorted.Int64Column(partitionCol)
	if err != nil {
		return nil, err
	}

	ranks := make([]int64, sorted.Len())
	rank := int64(0)
	for i := range ranks {
		if i == 0 || !samePartition(parts, partsValid, i) {
			rank = 0
		}
		rank++
		ranks[i] = rank
	}
	return sorted.WithColumn(series.New(rankCol, ranks, memory.NewGoAllocator()))
}

func samePartition(parts []int64, valid []bool, i int) bool {
	return valid[i] == valid[i-1] && parts[i] == parts[i-1]
}

// ModalValue computes, per key combination, the most frequent value of
// valueCol. A tied count resolves to the smaller value. Output carries
// the key columns plus outCol, one row per key combination.
func ModalValue(df *frame.DataFrame, keys []string, valueCol, outCol string) (*frame.DataFrame, error) {
	gb, err := df.GroupBy(append(append([]string(nil), keys...), valueCol)...)
	if err != nil {
		return nil, err
	}
	counts, err := gb.Agg(frame.Count(valueCol).As("_modal_count"))
	if err != nil {
		return nil, err
	}

	sortKeys := make([]frame.SortKey, 0, len(keys)+2)
	for _, k := range keys {
		sortKeys = append(sortKeys, frame.SortKey{Col: k, Ascending: true})
	}
	sortKeys = append(sortKeys,
		frame.SortKey{Col: "_modal_count", Ascending: false},
		frame.SortKey{Col: valueCol, Ascending: true},
	)
	sorted, err := counts.SortBy(sortKeys...)
	if err != nil {
		return nil, err
	}

	first, err := firstRowPerKey(sorted, keys)
	if err != nil {
		return nil, err
	}
	out, err := first.Rename(valueCol, outCol)
	if err != nil {
		return nil, err
	}
	return out.Drop("_modal_count"), nil
}

// firstRowPerKey keeps the first row of each run of equal key values.
// The frame must already be sorted by keys.
func firstRowPerKey(df *frame.DataFrame, keys []string) (*frame.DataFrame, error) {
	keyCols := make([][]int64, len(keys))
	keyValid := make([][]bool, len(keys))
	for i, k := range keys {
		vals, valid, err := df.Int64Column(k)
		if err != nil {
			return nil, fmt.Errorf("modal key %q: %w", k, err)
		}
		keyCols[i], keyValid[i] = vals, valid
	}

	return df.Filter(func(row int) bool {
		if row == 0 {
			return true
		}
		for i := range keyCols {
			if keyValid[i][row] != keyValid[i][row-1] || keyCols[i][row] != keyCols[i][row-1] {
				return true
			}
		}
		return false
	}), nil
}

// DominantDayPart computes, per key combination, the day-part bucket that
// covers the most rows of df. Ties resolve in bucket declaration order.
func DominantDayPart(df *frame.DataFrame, keys []string, hourCol, outCol string) (*frame.DataFrame, error) {
	hours, hoursValid, err := df.Int64Column(hourCol)
	if err != nil {
		return nil, err
	}
	indices := make([]int64, len(hours))
	for i, h := range hours {
		indices[i] = dayPartIndex(DayPart(h))
	}

	mem := memory.NewGoAllocator()
	indexed, err := df.WithColumn(series.NewNullable("_day_part_index", indices, hoursValid, mem))
	if err != nil {
		return nil, err
	}

	modal, err := ModalValue(indexed, keys, "_day_part_index", "_dominant_index")
	if err != nil {
		return nil, err
	}

	idx, idxValid, err := modal.Int64Column("_dominant_index")
	if err != nil {
		return nil, err
	}
	names := make([]string, len(idx))
	for i, v := range idx {
		if idxValid[i] && v >= 0 && v < int64(len(dayParts)) {
			names[i] = dayParts[v]
		}
	}
	out, err := modal.WithColumn(series.NewNullable(outCol, names, idxValid, mem))
	if err != nil {
		return nil, err
	}
	return out.Drop("_dominant_index"), nil
}

// DominantDow computes, per key combination, the day of week on which
// the most rows of df fall. Ties resolve to the lower day number.
func DominantDow(df *frame.DataFrame, keys []string, outCol string) (*frame.DataFrame, error) {
	return ModalValue(df, keys, staging.ColOrderDow, outCol)
}

// TypicalOrderHour computes, per key combination, the hour of day with
// the most rows of df. Ties resolve to the earlier hour.
func TypicalOrderHour(df *frame.DataFrame, keys []string, outCol string) (*frame.DataFrame, error) {
	return ModalValue(df, keys, staging.ColOrderHour, outCol)
}

// OrdersSinceLastPurchase appends outCol = totalCol - lastCol. A null on
// either side yields null.
func OrdersSinceLastPurchase(df *frame.DataFrame, totalCol, lastCol, outCol string) (*frame.DataFrame, error) {
	totals, totalsValid, err := df.NumericColumn(totalCol)
	if err != nil {
		return nil, err
	}
	lasts, lastsValid, err := df.NumericColumn(lastCol)
	if err != nil {
		return nil, err
	}

	values := make([]int64, len(totals))
	valid := make([]bool, len(totals))
	for i := range totals {
		if totalsValid[i] && lastsValid[i] {
			values[i] = int64(totals[i]) - int64(lasts[i])
			valid[i] = true
		}
	}
	return df.WithColumn(series.NewNullable(outCol, values, valid, memory.NewGoAllocator()))
}
