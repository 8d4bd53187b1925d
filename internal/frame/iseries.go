package frame

import (
	"github.com/apache/arrow-go/v18/arrow"
)

// ISeries provides a type-erased interface over typed series columns.
type ISeries interface {
	Name() string
	Len() int
	NullCount() int
	DataType() arrow.DataType
	IsNull(index int) bool
	String() string
	Array() arrow.Array
	Release()
}
