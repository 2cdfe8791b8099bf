// Copyright 2025 The BFF Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package optim

import (
	"github.com/bff-ml/bff/internal/nn"
	"github.com/bff-ml/bff/internal/optim"
)

// Optimizer is the base interface for optimization algorithms.
type Optimizer = optim.Optimizer

// ErrSparseGradient is returned when a gradient arrives in a sparse
// layout; the kernel has no sparse code path and the call mutates
// nothing.
var ErrSparseGradient = optim.ErrSparseGradient

// BFF

// BFF is the pure-BFloat16 AdamW optimizer with optional Kahan
// summation.
type BFF = optim.BFF

// Config holds the hyperparameters of one parameter group. Every field
// is taken literally, including explicit zeros; zero-valued precision
// selectors mean float32 storage.
type Config = optim.Config

// Group pairs parameters with the hyperparameters governing them.
type Group = optim.Group

// DefaultConfig returns the stock BFF configuration: AdamW defaults
// with Kahan summation on and every state buffer in BFloat16.
func DefaultConfig() Config {
	return optim.DefaultConfig()
}

// New creates a BFF optimizer for a single parameter group.
//
// Example:
//
//	opt, err := optim.New(params, optim.DefaultConfig())
//	...
//	err = opt.Step(grads) // grads: map[string]*tensor.RawTensor
func New(params []*nn.Parameter, cfg Config) (*BFF, error) {
	return optim.New(params, cfg)
}

// NewGroups creates a BFF optimizer over several parameter groups,
// each with its own hyperparameters.
func NewGroups(groups []Group) (*BFF, error) {
	return optim.NewGroups(groups)
}
