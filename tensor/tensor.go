// Copyright 2025 The BFF Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the public API for the numeric storage layer:
// flat arrays of scalars held at a configurable precision, where every
// write rounds to the storage format.
//
// Example:
//
//	m := tensor.Zeros(tensor.Shape{128}, tensor.BFloat16)
//	m.SetFloatAt(0, 0.3)        // rounds 0.3 to the nearest bfloat16
//	v := m.FloatAt(0)           // reads back the rounded value
package tensor

import (
	"github.com/bff-ml/bff/internal/tensor"
)

// DataType represents the storage precision of a tensor.
type DataType = tensor.DataType

// Data type constants.
const (
	Float32  DataType = tensor.Float32
	Float16  DataType = tensor.Float16
	BFloat16 DataType = tensor.BFloat16
	Int64    DataType = tensor.Int64
)

// ParseDataType converts a canonical dtype name ("bfloat16", ...)
// back to a DataType.
func ParseDataType(s string) (DataType, error) {
	return tensor.ParseDataType(s)
}

// Shape represents the dimensions of a tensor.
// Example: Shape{2, 3, 4} represents a 3D tensor with dimensions 2×3×4.
type Shape = tensor.Shape

// Layout describes how a tensor's elements are materialized.
type Layout = tensor.Layout

// Layout constants.
const (
	Dense     Layout = tensor.Dense
	SparseCOO Layout = tensor.SparseCOO
)

// RawTensor is a flat array of scalars stored at a fixed precision.
//
// RawTensor provides:
//   - Shape and precision information via Shape(), DType(), Layout()
//   - Rounding element access via FloatAt()/SetFloatAt()
//   - Elementwise kernel operations (MulScalar, AddScaled, ...)
//   - Bit-exact snapshots via Bytes()/SetBytes() and Clone()
type RawTensor = tensor.RawTensor

// NewRaw creates a zero-filled dense RawTensor.
func NewRaw(shape Shape, dtype DataType) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype)
}

// NewRawSparse creates a sparse COO tensor from flat element indices
// and values. The optimizer rejects sparse gradients; this exists for
// callers whose gradient producers emit them.
func NewRawSparse(shape Shape, indices []int, values []float32) (*RawTensor, error) {
	return tensor.NewRawSparse(shape, indices, values)
}

// Zeros creates a zero-filled dense tensor, panicking on an invalid
// shape.
func Zeros(shape Shape, dtype DataType) *RawTensor {
	return tensor.Zeros(shape, dtype)
}

// FromSlice creates a dense tensor from float32 data, rounding each
// element to the storage precision.
func FromSlice(data []float32, shape Shape, dtype DataType) (*RawTensor, error) {
	return tensor.FromSlice(data, shape, dtype)
}

// Full creates a dense tensor with every element set to value.
func Full(shape Shape, value float32, dtype DataType) *RawTensor {
	return tensor.Full(shape, value, dtype)
}
