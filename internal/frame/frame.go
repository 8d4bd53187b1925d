// Package frame provides the columnar relation the pipeline stages operate on:
// an eager DataFrame with row selection, stable multi-key sort, deterministic
// group-by aggregation and null-aware hash joins.
package frame

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/basketml/featurepipe/internal/series"
)

// DataFrame represents a table of data with typed, nullable columns.
type DataFrame struct {
	columns map[string]ISeries
	order   []string // maintains column order
}

// New creates a DataFrame from a list of columns.
func New(cols ...ISeries) *DataFrame {
	columns := make(map[string]ISeries, len(cols))
	order := make([]string, 0, len(cols))

	for _, s := range cols {
		name := s.Name()
		if _, exists := columns[name]; !exists {
			order = append(order, name)
		}
		columns[name] = s
	}

	return &DataFrame{columns: columns, order: order}
}

// Columns returns the column names in order.
func (df *DataFrame) Columns() []string {
	return append([]string(nil), df.order...)
}

// Len returns the number of rows.
func (df *DataFrame) Len() int {
	if len(df.order) == 0 {
		return 0
	}
	return df.columns[df.order[0]].Len()
}

// Width returns the number of columns.
func (df *DataFrame) Width() int {
	return len(df.columns)
}

// Column returns the column with the given name.
func (df *DataFrame) Column(name string) (ISeries, bool) {
	s, exists := df.columns[name]
	return s, exists
}

// HasColumn reports whether a column exists.
func (df *DataFrame) HasColumn(name string) bool {
	_, exists := df.columns[name]
	return exists
}

// Select returns a new DataFrame with only the specified columns.
// Unknown names are an error; silently dropping them hides schema bugs.
func (df *DataFrame) Select(names ...string) (*DataFrame, error) {
	cols := make([]ISeries, 0, len(names))
	for _, name := range names {
		s, exists := df.columns[name]
		if !exists {
			return nil, fmt.Errorf("select: column %q does not exist", name)
		}
		cols = append(cols, s)
	}
	return New(cols...), nil
}

// Drop returns a new DataFrame without the specified columns.
func (df *DataFrame) Drop(names ...string) *DataFrame {
	dropSet := make(map[string]bool, len(names))
	for _, name := range names {
		dropSet[name] = true
	}

	cols := make([]ISeries, 0, len(df.order))
	for _, name := range df.order {
		if !dropSet[name] {
			cols = append(cols, df.columns[name])
		}
	}
	return New(cols...)
}

// WithColumn returns a new DataFrame with col appended (or replaced when a
// column of the same name exists). col must match the frame's row count.
func (df *DataFrame) WithColumn(col ISeries) (*DataFrame, error) {
	if df.Len() != 0 && col.Len() != df.Len() {
		return nil, fmt.Errorf("with column %q: length %d does not match row count %d",
			col.Name(), col.Len(), df.Len())
	}

	cols := make([]ISeries, 0, len(df.order)+1)
	replaced := false
	for _, name := range df.order {
		if name == col.Name() {
			cols = append(cols, col)
			replaced = true
		} else {
			cols = append(cols, df.columns[name])
		}
	}
	if !replaced {
		cols = append(cols, col)
	}
	return New(cols...), nil
}

// Rename returns a new DataFrame with the column renamed.
func (df *DataFrame) Rename(from, to string) (*DataFrame, error) {
	src, exists := df.columns[from]
	if !exists {
		return nil, fmt.Errorf("rename: column %q does not exist", from)
	}

	cols := make([]ISeries, 0, len(df.order))
	for _, name := range df.order {
		if name == from {
			cols = append(cols, renameColumn(src, to))
		} else {
			cols = append(cols, df.columns[name])
		}
	}
	return New(cols...), nil
}

// String returns a short schema description of the DataFrame.
func (df *DataFrame) String() string {
	if len(df.columns) == 0 {
		return "DataFrame[empty]"
	}

	parts := []string{fmt.Sprintf("DataFrame[%dx%d]", df.Len(), df.Width())}
	for _, name := range df.order {
		parts = append(parts, fmt.Sprintf("  %s: %s", name, df.columns[name].DataType().String()))
	}
	return strings.Join(parts, "\n")
}

// Take returns a new DataFrame with rows gathered by index, in index order.
// A negative index produces a null row slot in every column.
func (df *DataFrame) Take(indices []int) *DataFrame {
	mem := memory.NewGoAllocator()
	cols := make([]ISeries, 0, len(df.order))
	for _, name := range df.order {
		cols = append(cols, takeColumn(df.columns[name], indices, mem))
	}
	return New(cols...)
}

// Filter returns a new DataFrame with the rows for which keep returns true.
func (df *DataFrame) Filter(keep func(row int) bool) *DataFrame {
	var indices []int
	for i := 0; i < df.Len(); i++ {
		if keep(i) {
			indices = append(indices, i)
		}
	}
	return df.Take(indices)
}

// Concat appends other's rows below df's. Both frames must carry the
// same columns with the same types.
func (df *DataFrame) Concat(other *DataFrame) (*DataFrame, error) {
	if df.Width() != other.Width() {
		return nil, fmt.Errorf("concat: width %d does not match %d", other.Width(), df.Width())
	}

	mem := memory.NewGoAllocator()
	cols := make([]ISeries, 0, len(df.order))
	for _, name := range df.order {
		left := df.columns[name]
		right, exists := other.columns[name]
		if !exists {
			return nil, fmt.Errorf("concat: column %q missing on the right side", name)
		}
		col, err := concatColumn(left, right, mem)
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}
	return New(cols...), nil
}

// concatColumn stacks two columns of the same type.
func concatColumn(left, right ISeries, mem memory.Allocator) (ISeries, error) {
	la := left.Array()
	defer la.Release()
	ra := right.Array()
	defer ra.Release()

	if !arrow.TypeEqual(la.DataType(), ra.DataType()) {
		return nil, fmt.Errorf("concat: column %q is %s on the left but %s on the right",
			left.Name(), la.DataType(), ra.DataType())
	}

	switch typed := la.(type) {
	case *array.Int64:
		return concatTyped(left.Name(), typed, ra.(*array.Int64), mem, typed.Value, ra.(*array.Int64).Value), nil
	case *array.Float64:
		return concatTyped(left.Name(), typed, ra.(*array.Float64), mem, typed.Value, ra.(*array.Float64).Value), nil
	case *array.String:
		return concatTyped(left.Name(), typed, ra.(*array.String), mem, typed.Value, ra.(*array.String).Value), nil
	case *array.Boolean:
		return concatTyped(left.Name(), typed, ra.(*array.Boolean), mem, typed.Value, ra.(*array.Boolean).Value), nil
	default:
		return nil, fmt.Errorf("concat: unsupported column type %T", la)
	}
}

// concatTyped builds the stacked series, preserving nulls from both sides.
func concatTyped[T any](
	name string, left, right arrow.Array, mem memory.Allocator,
	leftValue, rightValue func(int) T,
) ISeries {
	n := left.Len() + right.Len()
	values := make([]T, n)
	valid := make([]bool, n)
	for i := 0; i < left.Len(); i++ {
		if !left.IsNull(i) {
			values[i] = leftValue(i)
			valid[i] = true
		}
	}
	for i := 0; i < right.Len(); i++ {
		if !right.IsNull(i) {
			values[left.Len()+i] = rightValue(i)
			valid[left.Len()+i] = true
		}
	}
	return series.NewNullable(name, values, valid, mem)
}

// Release releases all underlying Arrow memory.
func (df *DataFrame) Release() {
	for _, s := range df.columns {
		s.Release()
	}
}

// Int64Column returns the values and validity of an int64 column.
func (df *DataFrame) Int64Column(name string) ([]int64, []bool, error) {
	s, exists := df.columns[name]
	if !exists {
		return nil, nil, fmt.Errorf("column %q does not exist", name)
	}
	arr := s.Array()
	defer arr.Release()

	typed, ok := arr.(*array.Int64)
	if !ok {
		return nil, nil, fmt.Errorf("column %q is %s, not int64", name, s.DataType().Name())
	}
	values := make([]int64, typed.Len())
	valid := make([]bool, typed.Len())
	for i := 0; i < typed.Len(); i++ {
		if !typed.IsNull(i) {
			values[i] = typed.Value(i)
			valid[i] = true
		}
	}
	return values, valid, nil
}

// Float64Column returns the values and validity of a float64 column.
func (df *DataFrame) Float64Column(name string) ([]float64, []bool, error) {
	s, exists := df.columns[name]
	if !exists {
		return nil, nil, fmt.Errorf("column %q does not exist", name)
	}
	arr := s.Array()
	defer arr.Release()

	typed, ok := arr.(*array.Float64)
	if !ok {
		return nil, nil, fmt.Errorf("column %q is %s, not float64", name, s.DataType().Name())
	}
	values := make([]float64, typed.Len())
	valid := make([]bool, typed.Len())
	for i := 0; i < typed.Len(); i++ {
		if !typed.IsNull(i) {
			values[i] = typed.Value(i)
			valid[i] = true
		}
	}
	return values, valid, nil
}

// NumericColumn returns any int64, float64 or bool column as float64
// values plus validity. Bools map to 1 and 0.
func (df *DataFrame) NumericColumn(name string) ([]float64, []bool, error) {
	s, exists := df.columns[name]
	if !exists {
		return nil, nil, fmt.Errorf("column %q does not exist", name)
	}
	arr := s.Array()
	defer arr.Release()

	switch arr.(type) {
	case *array.Int64, *array.Float64, *array.Boolean:
	default:
		return nil, nil, fmt.Errorf("column %q is %s, not numeric", name, s.DataType().Name())
	}

	values := make([]float64, arr.Len())
	valid := make([]bool, arr.Len())
	for i := 0; i < arr.Len(); i++ {
		values[i], valid[i] = numericValue(arr, i)
	}
	return values, valid, nil
}

// StringColumn returns the values and validity of a string column.
func (df *DataFrame) StringColumn(name string) ([]string, []bool, error) {
	s, exists := df.columns[name]
	if !exists {
		return nil, nil, fmt.Errorf("column %q does not exist", name)
	}
	arr := s.Array()
	defer arr.Release()

	typed, ok := arr.(*array.String)
	if !ok {
		return nil, nil, fmt.Errorf("column %q is %s, not string", name, s.DataType().Name())
	}
	values := make([]string, typed.Len())
	valid := make([]bool, typed.Len())
	for i := 0; i < typed.Len(); i++ {
		if !typed.IsNull(i) {
			values[i] = typed.Value(i)
			valid[i] = true
		}
	}
	return values, valid, nil
}

// BoolColumn returns the values and validity of a boolean column.
func (df *DataFrame) BoolColumn(name string) ([]bool, []bool, error) {
	s, exists := df.columns[name]
	if !exists {
		return nil, nil, fmt.Errorf("column %q does not exist", name)
	}
	arr := s.Array()
	defer arr.Release()

	typed, ok := arr.(*array.Boolean)
	if !ok {
		return nil, nil, fmt.Errorf("column %q is %s, not bool", name, s.DataType().Name())
	}
	values := make([]bool, typed.Len())
	valid := make([]bool, typed.Len())
	for i := 0; i < typed.Len(); i++ {
		if !typed.IsNull(i) {
			values[i] = typed.Value(i)
			valid[i] = true
		}
	}
	return values, valid, nil
}

// takeColumn gathers rows of a column by index; index -1 yields null.
func takeColumn(s ISeries, indices []int, mem memory.Allocator) ISeries {
	return takeColumnAs(s, s.Name(), indices, mem)
}

// takeColumnAs gathers rows of a column by index under a new column name.
func takeColumnAs(s ISeries, name string, indices []int, mem memory.Allocator) ISeries {
	arr := s.Array()
	defer arr.Release()

	switch typed := arr.(type) {
	case *array.Int64:
		return gather(name, typed, indices, mem, typed.Value)
	case *array.Float64:
		return gather(name, typed, indices, mem, typed.Value)
	case *array.String:
		return gather(name, typed, indices, mem, typed.Value)
	case *array.Boolean:
		return gather(name, typed, indices, mem, typed.Value)
	default:
		panic(fmt.Sprintf("unsupported column type: %T", arr))
	}
}

// gather builds a nullable series from the source array at the given indices.
func gather[T any](
	name string, arr arrow.Array, indices []int, mem memory.Allocator, value func(int) T,
) ISeries {
	values := make([]T, len(indices))
	valid := make([]bool, len(indices))
	for i, idx := range indices {
		if idx >= 0 && idx < arr.Len() && !arr.IsNull(idx) {
			values[i] = value(idx)
			valid[i] = true
		}
	}
	return series.NewNullable(name, values, valid, mem)
}

// renameColumn rebuilds a column under a new name.
func renameColumn(s ISeries, name string) ISeries {
	indices := make([]int, s.Len())
	for i := range indices {
		indices[i] = i
	}
	return takeColumnAs(s, name, indices, memory.NewGoAllocator())
}
