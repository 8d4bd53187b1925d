package frame

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basketml/featurepipe/internal/series"
)

func TestInnerJoin(t *testing.T) {
	mem := memory.NewGoAllocator()
	left := New(
		series.New("id", []int64{1, 2, 3}, mem),
		series.New("name", []string{"a", "b", "c"}, mem),
	)
	right := New(
		series.New("id", []int64{2, 3, 4}, mem),
		series.New("score", []float64{20, 30, 40}, mem),
	)

	out, err := left.Join(right, On(InnerJoin, "id"))
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())
	assert.Equal(t, []string{"id", "name", "score"}, out.Columns())

	ids, _, err := out.Int64Column("id")
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, ids)

	scores, _, err := out.Float64Column("score")
	require.NoError(t, err)
	assert.Equal(t, []float64{20, 30}, scores)
}

func TestLeftJoinUnmatchedIsNull(t *testing.T) {
	mem := memory.NewGoAllocator()
	left := New(series.New("id", []int64{1, 2}, mem))
	right := New(
		series.New("id", []int64{2}, mem),
		series.New("score", []float64{20}, mem),
	)

	out, err := left.Join(right, On(LeftJoin, "id"))
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())

	scores, valid, err := out.Float64Column("score")
	require.NoError(t, err)
	assert.False(t, valid[0])
	assert.True(t, valid[1])
	assert.Equal(t, 20.0, scores[1])
}

func TestJoinNullKeyNeverMatches(t *testing.T) {
	mem := memory.NewGoAllocator()
	left := New(series.NewNullable("id", []int64{1, 0}, []bool{true, false}, mem))
	right := New(
		series.NewNullable("id", []int64{1, 0}, []bool{true, false}, mem),
		series.New("v", []int64{10, 20}, mem),
	)

	inner, err := left.Join(right, On(InnerJoin, "id"))
	require.NoError(t, err)
	assert.Equal(t, 1, inner.Len())

	outer, err := left.Join(right, On(LeftJoin, "id"))
	require.NoError(t, err)
	require.Equal(t, 2, outer.Len())
	_, valid, err := outer.Int64Column("v")
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, valid)
}

func TestJoinMultiKeyFanOut(t *testing.T) {
	mem := memory.NewGoAllocator()
	left := New(
		series.New("u", []int64{1, 1}, mem),
		series.New("p", []int64{7, 8}, mem),
	)
	right := New(
		series.New("u", []int64{1, 1, 1}, mem),
		series.New("p", []int64{7, 7, 9}, mem),
		series.New("n", []int64{100, 200, 300}, mem),
	)

	out, err := left.Join(right, On(InnerJoin, "u", "p"))
	require.NoError(t, err)
	// (1,7) matches two right rows.
	require.Equal(t, 2, out.Len())
	n, _, err := out.Int64Column("n")
	require.NoError(t, err)
	assert.Equal(t, []int64{100, 200}, n)
}

func TestJoinColumnCollision(t *testing.T) {
	mem := memory.NewGoAllocator()
	left := New(
		series.New("id", []int64{1}, mem),
		series.New("v", []int64{1}, mem),
	)
	right := New(
		series.New("id", []int64{1}, mem),
		series.New("v", []int64{2}, mem),
	)

	_, err := left.Join(right, On(InnerJoin, "id"))
	assert.Error(t, err)
}

func TestJoinMissingKey(t *testing.T) {
	df := New(series.New("id", []int64{1}, nil))
	other := New(series.New("id", []int64{1}, nil))

	_, err := df.Join(other, On(InnerJoin, "nope"))
	assert.Error(t, err)
	_, err = df.Join(other, &JoinOptions{Type: InnerJoin, LeftKeys: []string{"id"}})
	assert.Error(t, err)
}
