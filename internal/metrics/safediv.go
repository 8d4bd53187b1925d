package metrics

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/memory"

	pipeerr "github.com/basketml/featurepipe/internal/errors"
	"github.com/basketml/featurepipe/internal/frame"
	"github.com/basketml/featurepipe/internal/series"
)

// SafeDivide divides element-wise, producing null instead of an error or
// infinity wherever the denominator is zero or either side is null.
// The zeroDenominators count feeds a computation warning.
func SafeDivide(num, den []float64, numValid, denValid []bool) (values []float64, valid []bool, zeroDenominators int) {
	values = make([]float64, len(num))
	valid = make([]bool, len(num))
	for i := range num {
		if !numValid[i] || !denValid[i] {
			continue
		}
		if den[i] == 0 {
			zeroDenominators++
			continue
		}
		values[i] = num[i] / den[i]
		valid[i] = true
	}
	return values, valid, zeroDenominators
}

// RatioColumn appends outCol = numCol / denCol to df under the safe-divide
// contract and drops the numerator and denominator columns. A warning is
// recorded when any denominator was zero.
func RatioColumn(
	df *frame.DataFrame, numCol, denCol, outCol, stage, table string,
) (*frame.DataFrame, []pipeerr.Warning, error) {
	num, numValid, err := df.NumericColumn(numCol)
	if err != nil {
		return nil, nil, err
	}
	den, denValid, err := df.NumericColumn(denCol)
	if err != nil {
		return nil, nil, err
	}

	values, valid, zeroes := SafeDivide(num, den, numValid, denValid)

	var warnings []pipeerr.Warning
	if zeroes > 0 {
		warnings = append(warnings, pipeerr.Warning{
			Stage:   stage,
			Table:   table,
			Column:  outCol,
			Message: fmt.Sprintf("%d zero denominators produced null ratios", zeroes),
		})
	}

	out, err := withFloatColumn(df, outCol, values, valid)
	if err != nil {
		return nil, nil, err
	}
	return out.Drop(numCol, denCol), warnings, nil
}

// withFloatColumn appends a nullable float64 column to df.
func withFloatColumn(df *frame.DataFrame, name string, values []float64, valid []bool) (*frame.DataFrame, error) {
	mem := memory.NewGoAllocator()
	return df.WithColumn(series.NewNullable(name, values, valid, mem))
}
