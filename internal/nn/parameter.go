// Package nn provides the parameter handle the optimizer operates on.
package nn

import (
	"fmt"

	"github.com/bff-ml/bff/internal/tensor"
)

// Parameter is a named, borrowed view of a model weight array.
//
// The model owns the tensor; the optimizer mutates it in place and
// never allocates or frees it. The name is the stable handle used to
// key optimizer state, gradients, and checkpoint entries, so it must be
// unique among the parameters handed to one optimizer (e.g.
// "encoder.0.weight").
type Parameter struct {
	name string
	data *tensor.RawTensor
}

// NewParameter wraps a dense float tensor as a trainable parameter.
// The tensor's own dtype is the precision weights are stored at; a
// bfloat16 parameter is the pure-BF16 training setup the Kahan
// compensation path exists for.
func NewParameter(name string, data *tensor.RawTensor) (*Parameter, error) {
	if name == "" {
		return nil, fmt.Errorf("parameter name must not be empty")
	}
	if data == nil {
		return nil, fmt.Errorf("parameter %q: nil tensor", name)
	}
	if data.IsSparse() {
		return nil, fmt.Errorf("parameter %q: sparse tensors cannot be parameters", name)
	}
	if !data.DType().IsFloat() {
		return nil, fmt.Errorf("parameter %q: dtype %v is not a float format", name, data.DType())
	}
	return &Parameter{name: name, data: data}, nil
}

// Name returns the parameter's stable handle.
func (p *Parameter) Name() string {
	return p.name
}

// Data returns the borrowed weight tensor.
func (p *Parameter) Data() *tensor.RawTensor {
	return p.data
}

// Shape returns the weight tensor's shape.
func (p *Parameter) Shape() tensor.Shape {
	return p.data.Shape()
}
