package frame

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basketml/featurepipe/internal/series"
)

func TestSortByMultipleKeys(t *testing.T) {
	mem := memory.NewGoAllocator()
	df := New(
		series.New("dept", []int64{2, 1, 1, 2}, mem),
		series.New("count", []int64{5, 9, 9, 7}, mem),
		series.New("id", []int64{40, 30, 10, 20}, mem),
	)

	out, err := df.SortBy(
		SortKey{Col: "dept", Ascending: true},
		SortKey{Col: "count", Ascending: false},
		SortKey{Col: "id", Ascending: true},
	)
	require.NoError(t, err)

	ids, _, err := out.Int64Column("id")
	require.NoError(t, err)
	// dept 1 first; its tied counts resolve on id ascending.
	assert.Equal(t, []int64{10, 30, 20, 40}, ids)
}

func TestSortNullsLast(t *testing.T) {
	mem := memory.NewGoAllocator()
	df := New(
		series.NewNullable("v", []float64{2, 0, 1}, []bool{true, false, true}, mem),
		series.New("id", []int64{1, 2, 3}, mem),
	)

	asc, err := df.SortBy(SortKey{Col: "v", Ascending: true})
	require.NoError(t, err)
	ids, _, err := asc.Int64Column("id")
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1, 2}, ids)

	desc, err := df.SortBy(SortKey{Col: "v", Ascending: false})
	require.NoError(t, err)
	ids, _, err = desc.Int64Column("id")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 2}, ids)
}

func TestSortDescendingNullsWithTiebreak(t *testing.T) {
	mem := memory.NewGoAllocator()
	df := New(
		series.NewNullable("count", []float64{5, 0, 5, 0}, []bool{true, false, true, false}, mem),
		series.New("id", []int64{4, 3, 2, 1}, mem),
	)

	out, err := df.SortBy(
		SortKey{Col: "count", Ascending: false},
		SortKey{Col: "id", Ascending: true},
	)
	require.NoError(t, err)

	ids, _, err := out.Int64Column("id")
	require.NoError(t, err)
	// Valid counts lead and resolve on id; the null rows trail and
	// resolve on id between themselves.
	assert.Equal(t, []int64{2, 4, 1, 3}, ids)
}

func TestSortErrors(t *testing.T) {
	df := New(series.New("x", []int64{1}, nil))

	_, err := df.SortBy()
	assert.Error(t, err)
	_, err = df.SortBy(SortKey{Col: "missing", Ascending: true})
	assert.Error(t, err)
}

func TestKeyIsUnique(t *testing.T) {
	mem := memory.NewGoAllocator()

	unique := New(
		series.New("u", []int64{1, 1, 2}, mem),
		series.New("p", []int64{7, 8, 7}, mem),
	)
	assert.NoError(t, KeyIsUnique(unique, "u", "p"))

	duplicated := New(series.New("u", []int64{1, 1}, mem))
	assert.Error(t, KeyIsUnique(duplicated, "u"))

	withNull := New(series.NewNullable("u", []int64{1, 0}, []bool{true, false}, mem))
	assert.Error(t, KeyIsUnique(withNull, "u"))

	assert.Error(t, KeyIsUnique(unique, "missing"))
}
