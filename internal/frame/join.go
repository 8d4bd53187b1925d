package frame

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	xxhash "github.com/cespare/xxhash/v2"
)

// JoinType represents the type of join operation.
type JoinType int

const (
	// InnerJoin keeps only rows with a match on both sides.
	InnerJoin JoinType = iota
	// LeftJoin keeps every left row; unmatched rows get null right columns.
	LeftJoin
)

// JoinOptions specifies parameters for join operations.
type JoinOptions struct {
	Type      JoinType
	LeftKeys  []string
	RightKeys []string
}

// On is a convenience constructor for joins on identically named keys.
func On(joinType JoinType, keys ...string) *JoinOptions {
	return &JoinOptions{Type: joinType, LeftKeys: keys, RightKeys: keys}
}

// hashBucket holds rows sharing an xxhash value; the raw key disambiguates
// hash collisions.
type hashBucket struct {
	key  string
	rows []int
}

// Join performs a hash join with another DataFrame. Rows whose key contains
// a null never match (and are dropped from inner joins, kept with null right
// columns in left joins). Right-side key columns with the same name as the
// corresponding left key are not duplicated in the result; any other column
// name collision is an error rather than a silent overwrite.
func (df *DataFrame) Join(right *DataFrame, opts *JoinOptions) (*DataFrame, error) {
	if len(opts.LeftKeys) == 0 || len(opts.LeftKeys) != len(opts.RightKeys) {
		return nil, fmt.Errorf("join: need matching key lists, got %d left and %d right",
			len(opts.LeftKeys), len(opts.RightKeys))
	}
	for _, key := range opts.LeftKeys {
		if !df.HasColumn(key) {
			return nil, fmt.Errorf("join: left frame missing key column %q", key)
		}
	}
	for _, key := range opts.RightKeys {
		if !right.HasColumn(key) {
			return nil, fmt.Errorf("join: right frame missing key column %q", key)
		}
	}

	rightHash, err := buildHashMap(right, opts.RightKeys)
	if err != nil {
		return nil, err
	}

	leftArrs, release, err := keyArrays(df, opts.LeftKeys)
	if err != nil {
		return nil, err
	}
	defer release()

	var leftIndices, rightIndices []int
	for row := 0; row < df.Len(); row++ {
		key, ok := joinKey(leftArrs, row)
		if ok {
			if bucket, exists := rightHash[xxhash.Sum64String(key)]; exists {
				matched := false
				for _, b := range bucket {
					if b.key != key {
						continue
					}
					for _, rightRow := range b.rows {
						leftIndices = append(leftIndices, row)
						rightIndices = append(rightIndices, rightRow)
					}
					matched = true
				}
				if matched {
					continue
				}
			}
		}
		if opts.Type == LeftJoin {
			leftIndices = append(leftIndices, row)
			rightIndices = append(rightIndices, -1)
		}
	}

	return df.buildJoinResult(right, opts, leftIndices, rightIndices)
}

// buildHashMap indexes the right frame's rows by composite key hash.
// Rows with a null key component are left out: they can never match.
func buildHashMap(df *DataFrame, keys []string) (map[uint64][]hashBucket, error) {
	arrs, release, err := keyArrays(df, keys)
	if err != nil {
		return nil, err
	}
	defer release()

	hashMap := make(map[uint64][]hashBucket)
	for row := 0; row < df.Len(); row++ {
		key, ok := joinKey(arrs, row)
		if !ok {
			continue
		}
		h := xxhash.Sum64String(key)
		buckets := hashMap[h]
		found := false
		for i := range buckets {
			if buckets[i].key == key {
				buckets[i].rows = append(buckets[i].rows, row)
				found = true
				break
			}
		}
		if !found {
			buckets = append(buckets, hashBucket{key: key, rows: []int{row}})
		}
		hashMap[h] = buckets
	}
	return hashMap, nil
}

// keyArrays returns the Arrow arrays for the key columns plus a release func.
func keyArrays(df *DataFrame, keys []string) ([]arrow.Array, func(), error) {
	arrs := make([]arrow.Array, len(keys))
	for i, key := range keys {
		s, exists := df.Column(key)
		if !exists {
			return nil, nil, fmt.Errorf("join: key column %q does not exist", key)
		}
		arrs[i] = s.Array()
	}
	return arrs, func() {
		for _, arr := range arrs {
			arr.Release()
		}
	}, nil
}

// joinKey builds the composite key for a row; ok is false when any key
// component is null.
func joinKey(arrs []arrow.Array, row int) (string, bool) {
	for _, arr := range arrs {
		if arr.IsNull(row) {
			return "", false
		}
	}
	if len(arrs) == 1 {
		return valueKey(arrs[0], row), true
	}
	parts := make([]string, len(arrs))
	for i, arr := range arrs {
		parts[i] = valueKey(arr, row)
	}
	return strings.Join(parts, "\x1f"), true
}

// buildJoinResult gathers the output columns for the matched index pairs.
func (df *DataFrame) buildJoinResult(
	right *DataFrame, opts *JoinOptions, leftIndices, rightIndices []int,
) (*DataFrame, error) {
	mem := memory.NewGoAllocator()

	rightKeySet := make(map[string]bool, len(opts.RightKeys))
	for i, key := range opts.RightKeys {
		if key == opts.LeftKeys[i] {
			rightKeySet[key] = true
		}
	}

	cols := make([]ISeries, 0, df.Width()+right.Width())
	for _, name := range df.Columns() {
		s, _ := df.Column(name)
		cols = append(cols, takeColumn(s, leftIndices, mem))
	}
	for _, name := range right.Columns() {
		if rightKeySet[name] {
			continue
		}
		if df.HasColumn(name) {
			return nil, fmt.Errorf("join: column %q exists on both sides", name)
		}
		s, _ := right.Column(name)
		cols = append(cols, takeColumn(s, rightIndices, mem))
	}

	return New(cols...), nil
}
