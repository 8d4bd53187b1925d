package frame

import (
	"fmt"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// SortKey describes one sort column and its direction.
type SortKey struct {
	Col       string
	Ascending bool
}

// SortBy returns a new DataFrame sorted by the given keys. The sort is
// stable and nulls order last regardless of direction, so tied rows keep
// their input order and a later tiebreak key can resolve them explicitly.
func (df *DataFrame) SortBy(keys ...SortKey) (*DataFrame, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("sort: no keys given")
	}

	arrs := make([]arrow.Array, len(keys))
	for i, key := range keys {
		s, exists := df.Column(key.Col)
		if !exists {
			return nil, fmt.Errorf("sort: column %q does not exist", key.Col)
		}
		arrs[i] = s.Array()
	}
	defer func() {
		for _, arr := range arrs {
			arr.Release()
		}
	}()

	indices := make([]int, df.Len())
	for i := range indices {
		indices[i] = i
	}

	sort.SliceStable(indices, func(a, b int) bool {
		ra, rb := indices[a], indices[b]
		for i, key := range keys {
			// Null-ness orders before the direction applies, so nulls
			// land last under descending keys too.
			aNull, bNull := arrs[i].IsNull(ra), arrs[i].IsNull(rb)
			if aNull || bNull {
				if aNull == bNull {
					continue
				}
				return bNull
			}
			c := compareSlots(arrs[i], ra, rb)
			if c == 0 {
				continue
			}
			if key.Ascending {
				return c < 0
			}
			return c > 0
		}
		return false
	})

	return df.Take(indices), nil
}

// compareSlots orders two non-null slots of one array.
func compareSlots(arr arrow.Array, a, b int) int {
	switch typed := arr.(type) {
	case *array.Int64:
		return compareOrdered(typed.Value(a), typed.Value(b))
	case *array.Float64:
		return compareOrdered(typed.Value(a), typed.Value(b))
	case *array.String:
		return compareOrdered(typed.Value(a), typed.Value(b))
	case *array.Boolean:
		va, vb := typed.Value(a), typed.Value(b)
		if va == vb {
			return 0
		}
		if !va {
			return -1
		}
		return 1
	default:
		return 0
	}
}

func compareOrdered[T int64 | float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// KeyIsUnique reports whether the given key columns identify each row
// uniquely and without nulls. Offending state is described in the error.
func KeyIsUnique(df *DataFrame, keys ...string) error {
	for _, key := range keys {
		s, exists := df.Column(key)
		if !exists {
			return fmt.Errorf("key column %q does not exist", key)
		}
		if s.NullCount() > 0 {
			return fmt.Errorf("key column %q has %d null values", key, s.NullCount())
		}
	}

	gb, err := df.GroupBy(keys...)
	if err != nil {
		return err
	}
	if gb.NumGroups() != df.Len() {
		return fmt.Errorf("key %v is not unique: %d rows but %d distinct keys",
			keys, df.Len(), gb.NumGroups())
	}
	return nil
}
