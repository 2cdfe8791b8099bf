// Copyright 2025 The BFF Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides the parameter handle the optimizer operates on.
package nn

import (
	"github.com/bff-ml/bff/internal/nn"
	"github.com/bff-ml/bff/tensor"
)

// Parameter is a named, borrowed view of a model weight array. The
// model owns the tensor; the optimizer mutates it in place. The name
// is the stable handle keying gradients, optimizer state, and
// checkpoint entries.
//
// Example:
//
//	w, _ := tensor.FromSlice(weights, tensor.Shape{784, 10}, tensor.BFloat16)
//	param, _ := nn.NewParameter("linear.weight", w)
type Parameter = nn.Parameter

// NewParameter wraps a dense float tensor as a trainable parameter.
// Names must be unique among the parameters handed to one optimizer.
func NewParameter(name string, data *tensor.RawTensor) (*Parameter, error) {
	return nn.NewParameter(name, data)
}
