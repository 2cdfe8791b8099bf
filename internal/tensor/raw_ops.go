package tensor

import (
	"fmt"
	"math"
)

// Elementwise operations over dense tensors. The destination receives
// one rounding write per element (SetFloatAt), operands are read
// expanded to float32 and the arithmetic itself runs in float32.
// Shape or layout mismatches are programming errors and panic.

func (r *RawTensor) mustDenseFloat(op string) {
	if r.layout != Dense {
		panic(fmt.Sprintf("tensor: %s on %v tensor", op, r.layout))
	}
	if !r.dtype.IsFloat() {
		panic(fmt.Sprintf("tensor: %s on %v tensor", op, r.dtype))
	}
}

func (r *RawTensor) mustMatch(op string, others ...*RawTensor) {
	r.mustDenseFloat(op)
	for _, o := range others {
		o.mustDenseFloat(op)
		if !r.shape.Equal(o.shape) {
			panic(fmt.Sprintf("tensor: %s shape mismatch: %v vs %v", op, r.shape, o.shape))
		}
	}
}

// Zero sets every element to zero.
func (r *RawTensor) Zero() {
	r.mustDenseFloat("Zero")
	for i := 0; i < r.NumElements(); i++ {
		r.SetFloatAt(i, 0)
	}
}

// CopyFrom overwrites r with src, rounding into r's precision.
func (r *RawTensor) CopyFrom(src *RawTensor) {
	r.mustMatch("CopyFrom", src)
	for i := 0; i < r.NumElements(); i++ {
		r.SetFloatAt(i, src.FloatAt(i))
	}
}

// MulScalar computes r ← alpha·r.
func (r *RawTensor) MulScalar(alpha float32) {
	r.mustDenseFloat("MulScalar")
	for i := 0; i < r.NumElements(); i++ {
		r.SetFloatAt(i, alpha*r.FloatAt(i))
	}
}

// Add computes r ← r + y.
func (r *RawTensor) Add(y *RawTensor) {
	r.mustMatch("Add", y)
	for i := 0; i < r.NumElements(); i++ {
		r.SetFloatAt(i, r.FloatAt(i)+y.FloatAt(i))
	}
}

// AddScaled computes r ← r + alpha·y.
func (r *RawTensor) AddScaled(y *RawTensor, alpha float32) {
	r.mustMatch("AddScaled", y)
	for i := 0; i < r.NumElements(); i++ {
		r.SetFloatAt(i, r.FloatAt(i)+alpha*y.FloatAt(i))
	}
}

// AddSquaredScaled computes r ← r + alpha·y².
func (r *RawTensor) AddSquaredScaled(y *RawTensor, alpha float32) {
	r.mustMatch("AddSquaredScaled", y)
	for i := 0; i < r.NumElements(); i++ {
		g := y.FloatAt(i)
		r.SetFloatAt(i, r.FloatAt(i)+alpha*g*g)
	}
}

// AddQuotientScaled computes r ← r + alpha·num/den.
func (r *RawTensor) AddQuotientScaled(num, den *RawTensor, alpha float32) {
	r.mustMatch("AddQuotientScaled", num, den)
	for i := 0; i < r.NumElements(); i++ {
		r.SetFloatAt(i, r.FloatAt(i)+alpha*num.FloatAt(i)/den.FloatAt(i))
	}
}

// AddDifference computes r ← r + (a − b).
func (r *RawTensor) AddDifference(a, b *RawTensor) {
	r.mustMatch("AddDifference", a, b)
	for i := 0; i < r.NumElements(); i++ {
		r.SetFloatAt(i, r.FloatAt(i)+(a.FloatAt(i)-b.FloatAt(i)))
	}
}

// SqrtScaleAdd computes r ← sqrt(src)·scale + bias, overwriting r.
func (r *RawTensor) SqrtScaleAdd(src *RawTensor, scale, bias float32) {
	r.mustMatch("SqrtScaleAdd", src)
	for i := 0; i < r.NumElements(); i++ {
		r.SetFloatAt(i, float32(math.Sqrt(float64(src.FloatAt(i))))*scale+bias)
	}
}
