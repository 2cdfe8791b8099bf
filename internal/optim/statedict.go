package optim

import (
	"fmt"

	"github.com/bff-ml/bff/internal/tensor"
)

// State dict keys follow "<field>.<parameter name>", mirroring the
// persisted record {step, exp_avg, exp_avg_sq, compensation?}.
const (
	keyStep         = "step."
	keyExpAvg       = "exp_avg."
	keyExpAvgSq     = "exp_avg_sq."
	keyCompensation = "compensation."
)

// StateDict exports the optimizer state for checkpointing.
//
// The returned map references the live state buffers; serialize it
// before calling Step again. Parameters that have never seen a
// gradient have no state and contribute no entries.
func (b *BFF) StateDict() map[string]*tensor.RawTensor {
	dict := make(map[string]*tensor.RawTensor)
	for name, st := range b.states {
		step := tensor.Zeros(tensor.Shape{1}, tensor.Int64)
		step.AsInt64()[0] = st.step
		dict[keyStep+name] = step
		dict[keyExpAvg+name] = st.expAvg
		dict[keyExpAvgSq+name] = st.expAvgSq
		if st.comp != nil {
			dict[keyCompensation+name] = st.comp
		}
	}
	return dict
}

// LoadStateDict restores optimizer state from a checkpoint.
//
// Buffers are adopted by copy, bit-for-bit, so a restored run continues
// the exact numerical trajectory of the interrupted one. Every entry
// must match the parameter's shape and the group's configured buffer
// precisions; parameters without entries stay uninitialized and get
// fresh state on their next gradient. The existing arena is replaced.
func (b *BFF) LoadStateDict(dict map[string]*tensor.RawTensor) error {
	states := make(map[string]*bffState)

	for name, slot := range b.byName {
		stepRaw, ok := dict[keyStep+name]
		if !ok {
			continue
		}
		if stepRaw.DType() != tensor.Int64 || stepRaw.NumElements() != 1 {
			return fmt.Errorf("optim: malformed step entry for %q", name)
		}

		cfg := slot.cfg
		expAvg, err := adoptBuffer(dict, keyExpAvg+name, slot.param.Shape(), cfg.MomentumDType)
		if err != nil {
			return err
		}
		expAvgSq, err := adoptBuffer(dict, keyExpAvgSq+name, slot.param.Shape(), cfg.VarianceDType)
		if err != nil {
			return err
		}

		st := newState(slot.param, cfg)
		st.step = stepRaw.AsInt64()[0]
		st.expAvg = expAvg
		st.expAvgSq = expAvgSq

		if cfg.UseKahanSummation {
			comp, err := adoptBuffer(dict, keyCompensation+name, slot.param.Shape(), cfg.CompensationDType)
			if err != nil {
				return err
			}
			st.comp = comp
		} else if _, stray := dict[keyCompensation+name]; stray {
			return fmt.Errorf("optim: checkpoint has compensation for %q but Kahan summation is disabled", name)
		}

		states[name] = st
	}

	b.states = states
	return nil
}

// adoptBuffer validates a checkpoint entry against the expected shape
// and precision and returns a private copy.
func adoptBuffer(dict map[string]*tensor.RawTensor, key string, shape tensor.Shape, dtype tensor.DataType) (*tensor.RawTensor, error) {
	raw, ok := dict[key]
	if !ok {
		return nil, fmt.Errorf("optim: checkpoint missing %q", key)
	}
	if !raw.Shape().Equal(shape) {
		return nil, fmt.Errorf("optim: %q shape %v, want %v", key, raw.Shape(), shape)
	}
	if raw.DType() != dtype {
		return nil, fmt.Errorf("optim: %q dtype %v, want %v", key, raw.DType(), dtype)
	}
	return raw.Clone(), nil
}
