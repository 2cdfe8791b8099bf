// Package optim implements the BFF optimizer: an AdamW-family update
// kernel whose persistent state (momentum, variance, and optionally a
// Kahan compensation buffer) is stored at independently configurable
// reduced precisions.
//
// Gradients are produced by an external differentiation process and
// handed to Step as a map keyed by parameter name; the optimizer never
// owns parameters or gradients. A parameter absent from the map is
// frozen for that step and left completely untouched.
//
// Example usage:
//
//	w, _ := tensor.FromSlice(weights, tensor.Shape{784, 10}, tensor.BFloat16)
//	param, _ := nn.NewParameter("linear.weight", w)
//
//	opt, _ := optim.New([]*nn.Parameter{param}, optim.DefaultConfig())
//
//	for step := range steps {
//	    grads := computeGradients()
//	    if err := opt.Step(grads); err != nil {
//	        return err
//	    }
//	}
package optim

import (
	"errors"
	"fmt"

	"github.com/bff-ml/bff/internal/tensor"
)

// ErrSparseGradient is returned when a gradient arrives in a sparse
// layout. The kernel is dense elementwise arithmetic throughout and has
// no sparse code path; the call fails before any state is mutated.
var ErrSparseGradient = errors.New("optim: BFF does not support sparse gradients")

// Optimizer is the base interface for optimization algorithms.
type Optimizer interface {
	// Step applies one gradient update to every parameter whose name
	// appears in grads. Absent names are skipped silently.
	Step(grads map[string]*tensor.RawTensor) error

	// GetLR returns the current learning rate (of the first group).
	GetLR() float32
}

// Config holds the hyperparameters of one parameter group.
//
// Every field is taken literally: an explicit zero is a real value
// (Eps 0 floors nothing, a zero beta disables that EMA), never a
// request for a default. Start from DefaultConfig for the stock setup.
// Zero-valued precision selectors mean float32 storage, so leaving the
// dtype fields unset gives plain full-precision AdamW.
type Config struct {
	LR          float32    // Learning rate; must be > 0
	Betas       [2]float32 // EMA coefficients, each in [0, 1)
	Eps         float32    // Denominator floor; 0 disables it
	WeightDecay float32    // Decoupled weight decay coefficient

	// UseKahanSummation enables the compensation buffer that recovers
	// rounding error lost when applying updates to reduced-precision
	// parameters.
	UseKahanSummation bool

	// Storage precisions for the persistent state buffers, chosen
	// independently of each other and of the parameter's own dtype.
	// Fixed at state creation for the life of the state.
	MomentumDType     tensor.DataType
	VarianceDType     tensor.DataType
	CompensationDType tensor.DataType
}

// DefaultConfig returns the stock BFF configuration: AdamW defaults
// with Kahan summation on and every state buffer in BFloat16.
func DefaultConfig() Config {
	return Config{
		LR:                1e-3,
		Betas:             [2]float32{0.9, 0.999},
		Eps:               1e-8,
		WeightDecay:       0,
		UseKahanSummation: true,
		MomentumDType:     tensor.BFloat16,
		VarianceDType:     tensor.BFloat16,
		CompensationDType: tensor.BFloat16,
	}
}

// Validate checks hyperparameter ranges.
func (c Config) Validate() error {
	if c.LR <= 0 {
		return fmt.Errorf("optim: learning rate must be > 0, got %g", c.LR)
	}
	for i, b := range c.Betas {
		if b < 0 || b >= 1 {
			return fmt.Errorf("optim: beta%d must be in [0,1), got %g", i+1, b)
		}
	}
	if c.Eps < 0 {
		return fmt.Errorf("optim: eps must be >= 0, got %g", c.Eps)
	}
	if c.WeightDecay < 0 {
		return fmt.Errorf("optim: weight decay must be >= 0, got %g", c.WeightDecay)
	}
	for _, dt := range []tensor.DataType{c.MomentumDType, c.VarianceDType, c.CompensationDType} {
		if !dt.IsFloat() {
			return fmt.Errorf("optim: state buffer dtype %v is not a float format", dt)
		}
	}
	return nil
}
