// Copyright 2025 The BFF Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim provides the BFF optimizer: AdamW with decoupled
// weight decay whose persistent state lives at configurable reduced
// precision, plus an optional Kahan summation buffer that recovers the
// rounding error of reduced-precision weight updates.
//
// # Overview
//
// BFF keeps three buffers per parameter, each at its own storage
// precision (BFloat16 by default):
//   - exp_avg: exponential moving average of gradients (momentum)
//   - exp_avg_sq: EMA of squared gradients (uncentered variance)
//   - compensation: Kahan error accumulator (optional)
//
// With Kahan summation enabled, a model held entirely in BFloat16 can
// track full-precision convergence: updates smaller than the weight's
// storage resolution accumulate in the compensation buffer instead of
// rounding away.
//
// # Basic Usage
//
//	import (
//	    "github.com/bff-ml/bff/nn"
//	    "github.com/bff-ml/bff/optim"
//	    "github.com/bff-ml/bff/tensor"
//	)
//
//	func main() {
//	    w, _ := tensor.FromSlice(weights, tensor.Shape{784, 10}, tensor.BFloat16)
//	    param, _ := nn.NewParameter("linear.weight", w)
//
//	    opt, _ := optim.New([]*nn.Parameter{param}, optim.DefaultConfig())
//
//	    for step := 0; step < steps; step++ {
//	        grads := computeGradients() // map[string]*tensor.RawTensor
//	        if err := opt.Step(grads); err != nil {
//	            log.Fatal(err)
//	        }
//	    }
//	}
//
// # Reverting to plain AdamW
//
// Leaving the precision selectors and Kahan toggle unset gives
// standard full-precision AdamW; hyperparameters are always explicit
// and an explicit zero (eps, a beta) is honored as configured:
//
//	opt, _ := optim.New(params, optim.Config{
//	    LR:    1e-3,
//	    Betas: [2]float32{0.9, 0.999},
//	    Eps:   1e-8,
//	})
//
// # Checkpointing
//
// StateDict/LoadStateDict export and restore the per-parameter state
// {step, exp_avg, exp_avg_sq, compensation?} bit-for-bit, keyed by
// parameter name; internal/serialization persists it on disk.
package optim
