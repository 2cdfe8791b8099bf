package optim

import (
	"fmt"
	"math"

	"github.com/bff-ml/bff/internal/nn"
	"github.com/bff-ml/bff/internal/parallel"
	"github.com/bff-ml/bff/internal/tensor"
)

// BFF implements AdamW with decoupled weight decay and optional Kahan
// summation over reduced-precision state.
//
// Update rule per element, at step t:
//
//	p        ← p · (1 − lr·wd)                       // decoupled decay
//	m        ← β1·m + (1−β1)·g                       // momentum EMA
//	v        ← β2·v + (1−β2)·g²                      // variance EMA
//	stepSize = lr / (1 − β1^t)
//	denom    = sqrt(v) / sqrt(1 − β2^t) + eps
//	p        ← p − stepSize · m / denom
//
// With Kahan summation the final apply instead accumulates the intended
// update into a compensation buffer, adds that buffer into the
// parameter (rounding to the parameter's precision), and folds the
// rounded-away remainder back into the buffer for the next step. Every
// write to m, v, c and p rounds to that buffer's storage precision.
//
// BFF is not goroutine-safe: one Step call at a time. Internally a Step
// may update distinct parameters on worker goroutines, which is safe
// because each parameter's state is exclusively owned.
type BFF struct {
	groups []bffGroup
	byName map[string]bffSlot
	states map[string]*bffState
	par    parallel.Config
}

type bffGroup struct {
	params []*nn.Parameter
	cfg    Config
}

// bffSlot locates a parameter and its group config by name.
type bffSlot struct {
	param *nn.Parameter
	cfg   *Config
}

// bffState is the persistent per-parameter record. It is created
// lazily on the first update that sees a gradient for the parameter
// and lives until the optimizer is dropped or LoadStateDict replaces
// it. Buffer precisions are fixed here, once, at creation.
type bffState struct {
	step     int64
	expAvg   *tensor.RawTensor // momentum, EMA of gradients
	expAvgSq *tensor.RawTensor // uncentered variance, EMA of squared gradients
	comp     *tensor.RawTensor // Kahan compensation; nil when disabled

	// Scratch, reused every step, never persisted.
	//
	// centered is deliberately float32 regardless of the variance
	// dtype: only the persistent state rounds to reduced precision,
	// the transient denominator does not. A reduced-precision scratch
	// would add a rounding step the stored state never sees.
	centered *tensor.RawTensor // float32: sqrt(v)/denomCorrection + eps
	snapshot *tensor.RawTensor // parameter dtype; Kahan only
}

// New creates a BFF optimizer for a single parameter group.
func New(params []*nn.Parameter, cfg Config) (*BFF, error) {
	return NewGroups([]Group{{Params: params, Config: cfg}})
}

// Group pairs parameters with the hyperparameters governing them.
type Group struct {
	Params []*nn.Parameter
	Config Config
}

// NewGroups creates a BFF optimizer over several parameter groups,
// each with its own hyperparameters. Parameter names must be unique
// across all groups; they key gradients, state, and checkpoints.
func NewGroups(groups []Group) (*BFF, error) {
	if len(groups) == 0 {
		return nil, fmt.Errorf("optim: no parameter groups")
	}

	b := &BFF{
		byName: make(map[string]bffSlot),
		states: make(map[string]*bffState),
		par:    parallel.DefaultConfig(),
	}
	for gi, g := range groups {
		if err := g.Config.Validate(); err != nil {
			return nil, fmt.Errorf("group %d: %w", gi, err)
		}
		b.groups = append(b.groups, bffGroup{cfg: g.Config, params: g.Params})
	}
	for gi := range b.groups {
		g := &b.groups[gi]
		for _, p := range g.params {
			if p == nil {
				return nil, fmt.Errorf("group %d: nil parameter", gi)
			}
			if _, dup := b.byName[p.Name()]; dup {
				return nil, fmt.Errorf("duplicate parameter name %q", p.Name())
			}
			b.byName[p.Name()] = bffSlot{param: p, cfg: &g.cfg}
		}
	}
	if len(b.byName) == 0 {
		return nil, fmt.Errorf("optim: no parameters to optimize")
	}
	return b, nil
}

// SetParallelism overrides how Step distributes parameter updates
// across goroutines. The default uses all CPUs.
func (b *BFF) SetParallelism(cfg parallel.Config) {
	b.par = cfg
}

// GetLR returns the learning rate of the first group.
func (b *BFF) GetLR() float32 {
	return b.groups[0].cfg.LR
}

// SetLR updates the learning rate of every group.
// Useful for learning rate scheduling during training.
func (b *BFF) SetLR(lr float32) {
	for i := range b.groups {
		b.groups[i].cfg.LR = lr
	}
}

// GetTimestep returns the number of updates applied to the named
// parameter, and false if no state exists yet.
func (b *BFF) GetTimestep(name string) (int64, bool) {
	st, ok := b.states[name]
	if !ok {
		return 0, false
	}
	return st.step, true
}

// Step applies one optimization step.
//
// grads maps parameter name to a dense gradient of the parameter's
// shape. Parameters missing from the map (or mapped to nil) are frozen
// for this step: state, step counter and weights are left untouched.
// A sparse gradient or an unknown name fails the whole call before any
// parameter is mutated.
func (b *BFF) Step(grads map[string]*tensor.RawTensor) error {
	_, err := b.StepClosure(nil, grads)
	return err
}

// StepClosure is Step with an optional closure that re-evaluates the
// model loss before the elementwise phase begins. The closure runs
// exactly once, synchronously; its result is returned to the caller
// and not consumed by the kernel.
func (b *BFF) StepClosure(closure func() float32, grads map[string]*tensor.RawTensor) (float32, error) {
	var loss float32
	if closure != nil {
		loss = closure()
	}

	// Validate the whole batch of gradients up front so a failure
	// leaves no partial update behind.
	active := make([]bffSlot, 0, len(grads))
	activeGrads := make([]*tensor.RawTensor, 0, len(grads))
	for name, g := range grads {
		slot, ok := b.byName[name]
		if !ok {
			return loss, fmt.Errorf("optim: gradient for unknown parameter %q", name)
		}
		if g == nil {
			continue // treated as absent
		}
		if g.IsSparse() {
			return loss, fmt.Errorf("%w (parameter %q)", ErrSparseGradient, name)
		}
		if !g.Shape().Equal(slot.param.Shape()) {
			// Shape mismatch is a programming error, not a runtime
			// condition to recover from.
			panic(fmt.Sprintf("optim: gradient shape %v does not match parameter %q shape %v",
				g.Shape(), name, slot.param.Shape()))
		}
		active = append(active, slot)
		activeGrads = append(activeGrads, g)
	}

	// State creation touches the shared arena, so it happens here, on
	// the calling goroutine, before fanning out.
	states := make([]*bffState, len(active))
	for i, slot := range active {
		states[i] = b.getOrCreate(slot.param, slot.cfg)
	}

	// Parameters are independent: their states are exclusively owned,
	// so updates parallelize across parameters. Order within one
	// parameter's update is strict and stays inside updateParameter.
	parallel.For(len(active), b.par, func(i int) {
		updateParameter(active[i].param, activeGrads[i], states[i], active[i].cfg)
	})
	return loss, nil
}

// updateParameter runs the full kernel for one parameter. The op order
// is load-bearing: float addition is non-associative, so reordering
// changes the numerical trajectory.
func updateParameter(p *nn.Parameter, grad *tensor.RawTensor, st *bffState, cfg *Config) {
	st.step++
	t := st.step

	beta1, beta2 := cfg.Betas[0], cfg.Betas[1]
	lr := cfg.LR

	// Weight decay, AdamW style: multiplicative shrink of the
	// parameter, decoupled from the gradient. Skipped entirely at
	// wd == 0.
	if cfg.WeightDecay != 0 {
		p.Data().MulScalar(1 - lr*cfg.WeightDecay)
	}

	// Momentum: m ← β1·m + (1−β1)·g
	st.expAvg.MulScalar(beta1)
	st.expAvg.AddScaled(grad, 1-beta1)

	// Uncentered variance: v ← β2·v + (1−β2)·g²
	st.expAvgSq.MulScalar(beta2)
	st.expAvgSq.AddSquaredScaled(grad, 1-beta2)

	// Bias corrections.
	biasCorrection1 := 1 - float32(math.Pow(float64(beta1), float64(t)))
	stepSize := lr / biasCorrection1
	denomCorrection := float32(math.Sqrt(1 - math.Pow(float64(beta2), float64(t))))

	// denom = sqrt(v)/denomCorrection + eps, into float32 scratch.
	st.centered.SqrtScaleAdd(st.expAvgSq, 1/denomCorrection, cfg.Eps)

	if cfg.UseKahanSummation {
		// (1) accumulate the intended update into the compensation
		// buffer instead of applying it directly
		st.comp.AddQuotientScaled(st.expAvg, st.centered, -stepSize)
		// (2) snapshot the parameter
		st.snapshot.CopyFrom(p.Data())
		// (3) apply the running total, rounding to the parameter's
		// precision
		p.Data().Add(st.comp)
		// (4) recover exactly what the rounding in (3) discarded and
		// carry it into the next step
		st.comp.AddDifference(st.snapshot, p.Data())
	} else {
		// Direct apply: update magnitudes below the parameter's
		// resolution are silently lost.
		p.Data().AddQuotientScaled(st.expAvg, st.centered, -stepSize)
	}
}

// getOrCreate returns the parameter's state, allocating it zero-filled
// at the configured precisions on first use.
func (b *BFF) getOrCreate(p *nn.Parameter, cfg *Config) *bffState {
	if st, ok := b.states[p.Name()]; ok {
		return st
	}
	st := newState(p, cfg)
	b.states[p.Name()] = st
	return st
}

func newState(p *nn.Parameter, cfg *Config) *bffState {
	shape := p.Shape()
	st := &bffState{
		expAvg:   tensor.Zeros(shape, cfg.MomentumDType),
		expAvgSq: tensor.Zeros(shape, cfg.VarianceDType),
		centered: tensor.Zeros(shape, tensor.Float32),
	}
	if cfg.UseKahanSummation {
		st.comp = tensor.Zeros(shape, cfg.CompensationDType)
		st.snapshot = tensor.Zeros(shape, p.Data().DType())
	}
	return st
}
