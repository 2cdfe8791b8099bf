// Package tensor provides the numeric storage layer for the BFF
// optimizer: flat arrays of scalars held at a configurable storage
// precision, with elementwise operations that round to that precision
// on every write.
package tensor

import "fmt"

// DataType is the runtime storage precision of a tensor.
type DataType int

// Supported storage precisions.
//
// Float32 is the zero value: a zero-valued precision selector means
// full precision, which keeps optimizer configs usable as literals.
const (
	Float32 DataType = iota
	Float16
	BFloat16
	Int64
)

// Size returns the byte size of one element.
func (dt DataType) Size() int {
	switch dt {
	case Float32:
		return 4
	case Float16, BFloat16:
		return 2
	case Int64:
		return 8
	default:
		panic("tensor: unknown data type")
	}
}

// IsFloat reports whether dt is a floating-point storage format.
func (dt DataType) IsFloat() bool {
	return dt == Float32 || dt == Float16 || dt == BFloat16
}

// String returns the canonical name, also used in serialized headers
// and config files.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	case BFloat16:
		return "bfloat16"
	case Int64:
		return "int64"
	default:
		return "unknown"
	}
}

// ParseDataType is the inverse of String.
func ParseDataType(s string) (DataType, error) {
	switch s {
	case "float32":
		return Float32, nil
	case "float16":
		return Float16, nil
	case "bfloat16":
		return BFloat16, nil
	case "int64":
		return Int64, nil
	default:
		return 0, fmt.Errorf("unknown data type %q", s)
	}
}
