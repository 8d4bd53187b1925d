// Package series provides nullable typed columns backed by Apache Arrow arrays.
package series

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Series represents a typed data column with an Apache Arrow backend.
// Null slots are tracked through the Arrow validity buffer, so a null
// is distinguishable from a zero value.
type Series[T any] struct {
	name  string
	array arrow.Array
}

// New creates a Series from a slice of values with no nulls.
func New[T any](name string, values []T, mem memory.Allocator) *Series[T] {
	return NewNullable(name, values, nil, mem)
}

// NewNullable creates a Series from values plus a validity mask.
// valid may be nil (all values valid) or must match len(values);
// valid[i] == false marks slot i as null and values[i] is ignored.
func NewNullable[T any](name string, values []T, valid []bool, mem memory.Allocator) *Series[T] {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	if valid != nil && len(valid) != len(values) {
		panic(fmt.Sprintf("series %q: validity mask length %d does not match values length %d",
			name, len(valid), len(values)))
	}

	var arr arrow.Array

	switch v := any(values).(type) {
	case []int64:
		builder := array.NewInt64Builder(mem)
		defer builder.Release()
		builder.AppendValues(v, valid)
		arr = builder.NewArray()
	case []float64:
		builder := array.NewFloat64Builder(mem)
		defer builder.Release()
		builder.AppendValues(v, valid)
		arr = builder.NewArray()
	case []string:
		builder := array.NewStringBuilder(mem)
		defer builder.Release()
		builder.AppendValues(v, valid)
		arr = builder.NewArray()
	case []bool:
		builder := array.NewBooleanBuilder(mem)
		defer builder.Release()
		builder.AppendValues(v, valid)
		arr = builder.NewArray()
	default:
		panic(fmt.Sprintf("unsupported series type: %T", values))
	}

	return &Series[T]{name: name, array: arr}
}

// Name returns the column name.
func (s *Series[T]) Name() string {
	return s.name
}

// Len returns the number of slots, nulls included.
func (s *Series[T]) Len() int {
	return s.array.Len()
}

// NullCount returns the number of null slots.
func (s *Series[T]) NullCount() int {
	return s.array.NullN()
}

// IsNull reports whether the slot at index is null.
func (s *Series[T]) IsNull(index int) bool {
	return s.array.IsNull(index)
}

// Value returns the value at index and whether it is non-null.
func (s *Series[T]) Value(index int) (T, bool) {
	var result T
	if index < 0 || index >= s.array.Len() || s.array.IsNull(index) {
		return result, false
	}

	switch arr := s.array.(type) {
	case *array.Int64:
		if v, ok := any(&result).(*int64); ok {
			*v = arr.Value(index)
		}
	case *array.Float64:
		if v, ok := any(&result).(*float64); ok {
			*v = arr.Value(index)
		}
	case *array.String:
		if v, ok := any(&result).(*string); ok {
			*v = arr.Value(index)
		}
	case *array.Boolean:
		if v, ok := any(&result).(*bool); ok {
			*v = arr.Value(index)
		}
	default:
		panic(fmt.Sprintf("unsupported array type: %T", arr))
	}

	return result, true
}

// Values returns the data as a Go slice; null slots carry the zero value.
// Use Validity alongside when null positions matter.
func (s *Series[T]) Values() []T {
	result := make([]T, s.array.Len())
	for i := range result {
		if v, ok := s.Value(i); ok {
			result[i] = v
		}
	}
	return result
}

// Validity returns the validity mask: true means the slot holds a value.
func (s *Series[T]) Validity() []bool {
	valid := make([]bool, s.array.Len())
	for i := range valid {
		valid[i] = !s.array.IsNull(i)
	}
	return valid
}

// DataType returns the Arrow data type.
func (s *Series[T]) DataType() arrow.DataType {
	return s.array.DataType()
}

// String returns a short description of the series.
func (s *Series[T]) String() string {
	return fmt.Sprintf("Series[%s]: %s (len=%d, nulls=%d)",
		s.array.DataType().Name(), s.name, s.Len(), s.NullCount())
}

// Array returns the underlying Arrow array (retains a reference).
func (s *Series[T]) Array() arrow.Array {
	if s.array != nil {
		s.array.Retain()
		return s.array
	}
	return nil
}

// Release releases the underlying Arrow memory.
func (s *Series[T]) Release() {
	if s.array != nil {
		s.array.Release()
	}
}
