package tensor

import "fmt"

// Zeros creates a zero-filled dense tensor.
// Panics on an invalid shape; use NewRaw when the shape comes from
// untrusted input.
func Zeros(shape Shape, dtype DataType) *RawTensor {
	r, err := NewRaw(shape, dtype)
	if err != nil {
		panic(fmt.Sprintf("tensor: Zeros: %v", err))
	}
	return r
}

// FromSlice creates a dense tensor of the given dtype from float32
// data, rounding each element to the storage precision.
func FromSlice(data []float32, shape Shape, dtype DataType) (*RawTensor, error) {
	if !dtype.IsFloat() {
		return nil, fmt.Errorf("FromSlice requires a float dtype, got %v", dtype)
	}
	r, err := NewRaw(shape, dtype)
	if err != nil {
		return nil, err
	}
	if len(data) != r.NumElements() {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)",
			len(data), shape, r.NumElements())
	}
	for i, v := range data {
		r.SetFloatAt(i, v)
	}
	return r, nil
}

// Full creates a dense tensor with every element set to value.
func Full(shape Shape, value float32, dtype DataType) *RawTensor {
	r := Zeros(shape, dtype)
	for i := 0; i < r.NumElements(); i++ {
		r.SetFloatAt(i, value)
	}
	return r
}
