package tensor

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/bff-ml/bff/internal/floatx"
)

// Layout describes how a tensor's elements are materialized.
//
// The optimizer requires dense gradients throughout; SparseCOO exists
// so a sparse gradient can be recognized and rejected before any state
// is touched.
type Layout int

// Supported layouts.
const (
	Dense Layout = iota
	SparseCOO
)

// String returns a human-readable layout name.
func (l Layout) String() string {
	switch l {
	case Dense:
		return "dense"
	case SparseCOO:
		return "sparse-coo"
	default:
		return "unknown"
	}
}

// RawTensor is a flat array of scalars stored at a fixed precision.
//
// Float32 and Int64 tensors store native values. Float16 and BFloat16
// tensors store 16-bit patterns; reads expand to float32 and every
// write rounds back to the storage format, so a RawTensor behaves like
// reduced-precision memory rather than a float32 array with a label.
type RawTensor struct {
	shape  Shape
	dtype  DataType
	layout Layout

	f32 []float32
	i64 []int64
	u16 []uint16 // Float16 / BFloat16 bit patterns

	// SparseCOO only: flat element indices paired with f32 values.
	indices []int
}

// NewRaw creates a zero-filled dense RawTensor.
func NewRaw(shape Shape, dtype DataType) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}

	r := &RawTensor{
		shape:  shape.Clone(),
		dtype:  dtype,
		layout: Dense,
	}
	n := shape.NumElements()
	switch dtype {
	case Float32:
		r.f32 = make([]float32, n)
	case Int64:
		r.i64 = make([]int64, n)
	case Float16, BFloat16:
		r.u16 = make([]uint16, n)
	default:
		return nil, fmt.Errorf("unsupported data type %v", dtype)
	}
	return r, nil
}

// NewRawSparse creates a sparse COO tensor from flat element indices
// and their values. Used by callers that produce sparse gradients; the
// optimizer itself only ever rejects these.
func NewRawSparse(shape Shape, indices []int, values []float32) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	if len(indices) != len(values) {
		return nil, fmt.Errorf("sparse tensor: %d indices but %d values", len(indices), len(values))
	}
	n := shape.NumElements()
	for _, idx := range indices {
		if idx < 0 || idx >= n {
			return nil, fmt.Errorf("sparse tensor: index %d out of range [0,%d)", idx, n)
		}
	}

	vals := make([]float32, len(values))
	copy(vals, values)
	idxs := make([]int, len(indices))
	copy(idxs, indices)

	return &RawTensor{
		shape:   shape.Clone(),
		dtype:   Float32,
		layout:  SparseCOO,
		f32:     vals,
		indices: idxs,
	}, nil
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// DType returns the tensor's storage precision.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// Layout returns the tensor's element layout.
func (r *RawTensor) Layout() Layout {
	return r.layout
}

// IsSparse reports whether the tensor uses a sparse layout.
func (r *RawTensor) IsSparse() bool {
	return r.layout != Dense
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// ByteSize returns the size of the stored data in bytes.
func (r *RawTensor) ByteSize() int {
	return r.NumElements() * r.dtype.Size()
}

// AsFloat32 returns the native float32 storage.
// Panics unless the tensor is a dense Float32 tensor.
func (r *RawTensor) AsFloat32() []float32 {
	if r.dtype != Float32 || r.layout != Dense {
		panic(fmt.Sprintf("tensor: AsFloat32 on %v/%v tensor", r.dtype, r.layout))
	}
	return r.f32
}

// AsInt64 returns the native int64 storage.
// Panics unless the tensor is an Int64 tensor.
func (r *RawTensor) AsInt64() []int64 {
	if r.dtype != Int64 {
		panic(fmt.Sprintf("tensor: AsInt64 on %v tensor", r.dtype))
	}
	return r.i64
}

// FloatAt reads element i, expanded to float32.
func (r *RawTensor) FloatAt(i int) float32 {
	switch r.dtype {
	case Float32:
		return r.f32[i]
	case Float16:
		return floatx.Float16(r.u16[i]).ToFloat32()
	case BFloat16:
		return floatx.BFloat16(r.u16[i]).ToFloat32()
	default:
		panic(fmt.Sprintf("tensor: FloatAt on %v tensor", r.dtype))
	}
}

// SetFloatAt writes element i, rounding v to the storage precision.
// This rounding write is the defining property of the storage layer:
// nothing survives a step at higher precision than its buffer.
func (r *RawTensor) SetFloatAt(i int, v float32) {
	switch r.dtype {
	case Float32:
		r.f32[i] = v
	case Float16:
		r.u16[i] = uint16(floatx.FromFloat32Half(v))
	case BFloat16:
		r.u16[i] = uint16(floatx.FromFloat32(v))
	default:
		panic(fmt.Sprintf("tensor: SetFloatAt on %v tensor", r.dtype))
	}
}

// Clone returns a deep copy sharing no storage with r.
func (r *RawTensor) Clone() *RawTensor {
	c := &RawTensor{
		shape:  r.shape.Clone(),
		dtype:  r.dtype,
		layout: r.layout,
	}
	if r.f32 != nil {
		c.f32 = make([]float32, len(r.f32))
		copy(c.f32, r.f32)
	}
	if r.i64 != nil {
		c.i64 = make([]int64, len(r.i64))
		copy(c.i64, r.i64)
	}
	if r.u16 != nil {
		c.u16 = make([]uint16, len(r.u16))
		copy(c.u16, r.u16)
	}
	if r.indices != nil {
		c.indices = make([]int, len(r.indices))
		copy(c.indices, r.indices)
	}
	return c
}

// Bytes serializes the stored bit patterns little-endian. Because the
// stored patterns are serialized, not float32 expansions, a round trip
// through Bytes/SetBytes is bit-exact at any precision.
func (r *RawTensor) Bytes() []byte {
	buf := make([]byte, 0, r.ByteSize())
	switch r.dtype {
	case Float32:
		for _, v := range r.f32 {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
		}
	case Int64:
		for _, v := range r.i64 {
			buf = binary.LittleEndian.AppendUint64(buf, uint64(v))
		}
	case Float16, BFloat16:
		for _, v := range r.u16 {
			buf = binary.LittleEndian.AppendUint16(buf, v)
		}
	}
	return buf
}

// SetBytes restores stored bit patterns written by Bytes.
func (r *RawTensor) SetBytes(data []byte) error {
	if len(data) != r.ByteSize() {
		return fmt.Errorf("tensor data size mismatch: got %d bytes, want %d", len(data), r.ByteSize())
	}
	switch r.dtype {
	case Float32:
		for i := range r.f32 {
			r.f32[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
		}
	case Int64:
		for i := range r.i64 {
			r.i64[i] = int64(binary.LittleEndian.Uint64(data[8*i:]))
		}
	case Float16, BFloat16:
		for i := range r.u16 {
			r.u16[i] = binary.LittleEndian.Uint16(data[2*i:])
		}
	}
	return nil
}
