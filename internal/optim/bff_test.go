package optim_test

import (
	"errors"
	"math"
	"testing"

	"github.com/bff-ml/bff/internal/nn"
	"github.com/bff-ml/bff/internal/optim"
	"github.com/bff-ml/bff/internal/parallel"
	"github.com/bff-ml/bff/internal/tensor"
)

// Helper to check float equality with tolerance.
func floatEqual(a, b, eps float32) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff < eps
}

func newParam(t *testing.T, name string, values []float32, dtype tensor.DataType) *nn.Parameter {
	t.Helper()
	data, err := tensor.FromSlice(values, tensor.Shape{len(values)}, dtype)
	if err != nil {
		t.Fatalf("FromSlice: %v", err)
	}
	p, err := nn.NewParameter(name, data)
	if err != nil {
		t.Fatalf("NewParameter: %v", err)
	}
	return p
}

func grad(t *testing.T, values []float32) *tensor.RawTensor {
	t.Helper()
	g, err := tensor.FromSlice(values, tensor.Shape{len(values)}, tensor.Float32)
	if err != nil {
		t.Fatalf("FromSlice: %v", err)
	}
	return g
}

// fullPrecision is plain AdamW with stock hyperparameters: float32
// buffers, no Kahan summation.
func fullPrecision(lr, wd float32) optim.Config {
	return optim.Config{
		LR:          lr,
		Betas:       [2]float32{0.9, 0.999},
		Eps:         1e-8,
		WeightDecay: wd,
	}
}

// TestBFF_ClosedFormFirstStep pins the classic bias-corrected Adam
// scenario: p=1.0, g=2.0, lr=0.1 gives momentum 0.2, variance 0.004,
// stepSize 1.0, denominator ~2.00000001 and p ~0.9 after one step.
func TestBFF_ClosedFormFirstStep(t *testing.T) {
	p := newParam(t, "w", []float32{1.0}, tensor.Float32)
	opt, err := optim.New([]*nn.Parameter{p}, fullPrecision(0.1, 0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := opt.Step(map[string]*tensor.RawTensor{"w": grad(t, []float32{2.0})}); err != nil {
		t.Fatalf("Step: %v", err)
	}

	dict := opt.StateDict()
	if got := dict["exp_avg.w"].FloatAt(0); !floatEqual(got, 0.2, 1e-7) {
		t.Errorf("momentum: got %g, want 0.2", got)
	}
	if got := dict["exp_avg_sq.w"].FloatAt(0); !floatEqual(got, 0.004, 1e-7) {
		t.Errorf("variance: got %g, want 0.004", got)
	}
	if got := dict["step.w"].AsInt64()[0]; got != 1 {
		t.Errorf("step: got %d, want 1", got)
	}

	// update = -(lr/bc1) * m / (sqrt(v)/sqrt(1-beta2) + eps)
	//        = -1.0 * 0.2 / 2.00000001 ~ -0.1
	if got := p.Data().FloatAt(0); !floatEqual(got, 0.9, 1e-6) {
		t.Errorf("parameter: got %g, want 0.9", got)
	}
}

// TestBFF_ZeroEpsClosedForm: eps=0 is a real configuration, not an
// unset field. Without the floor the denominator is exactly
// sqrt(v)/sqrt(1-beta2^t), so the first step is the closed-form
// bias-corrected update with no eps perturbation: p=1.0, g=2.0, lr=0.1
// gives denominator exactly 2 and p exactly 0.9. A tiny gradient pins
// the distinction: at g=1e-8 the update is still -lr (the ratio
// m/denom is scale-invariant), whereas a silently restored eps=1e-8
// would halve it.
func TestBFF_ZeroEpsClosedForm(t *testing.T) {
	cfg := fullPrecision(0.1, 0)
	cfg.Eps = 0

	p := newParam(t, "w", []float32{1.0}, tensor.Float32)
	opt, err := optim.New([]*nn.Parameter{p}, cfg)
	if err != nil {
		t.Fatalf("New rejected eps=0: %v", err)
	}
	if err := opt.Step(map[string]*tensor.RawTensor{"w": grad(t, []float32{2.0})}); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := p.Data().FloatAt(0); !floatEqual(got, 0.9, 1e-6) {
		t.Errorf("parameter: got %g, want 0.9", got)
	}

	q := newParam(t, "w", []float32{1.0}, tensor.Float32)
	opt, err = optim.New([]*nn.Parameter{q}, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := opt.Step(map[string]*tensor.RawTensor{"w": grad(t, []float32{1e-8})}); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := q.Data().FloatAt(0); !floatEqual(got, 0.9, 1e-6) {
		t.Errorf("tiny-gradient parameter: got %g, want 0.9 (eps=0 must not be replaced)", got)
	}
}

// TestBFF_ZeroBeta1NoMomentum: beta1=0 is valid per [0,1) and means no
// momentum smoothing at all: the moment equals the raw gradient, with
// bias correction 1-0^t = 1.
func TestBFF_ZeroBeta1NoMomentum(t *testing.T) {
	cfg := fullPrecision(0.1, 0)
	cfg.Betas[0] = 0

	p := newParam(t, "w", []float32{1.0}, tensor.Float32)
	opt, err := optim.New([]*nn.Parameter{p}, cfg)
	if err != nil {
		t.Fatalf("New rejected beta1=0: %v", err)
	}
	if err := opt.Step(map[string]*tensor.RawTensor{"w": grad(t, []float32{2.0})}); err != nil {
		t.Fatalf("Step: %v", err)
	}

	if got := opt.StateDict()["exp_avg.w"].FloatAt(0); got != 2.0 {
		t.Errorf("momentum: got %g, want exactly 2.0 (beta1=0 must not be replaced)", got)
	}
	// denom = sqrt(0.004)/sqrt(0.001) + 1e-8 ~ 2, update = -0.1*2/2.
	if got := p.Data().FloatAt(0); !floatEqual(got, 0.9, 1e-6) {
		t.Errorf("parameter: got %g, want 0.9", got)
	}
}

// TestBFF_StepCounting verifies step counts exactly the calls with a
// present gradient; absent-gradient calls leave everything untouched.
func TestBFF_StepCounting(t *testing.T) {
	p := newParam(t, "w", []float32{1.0}, tensor.Float32)
	opt, _ := optim.New([]*nn.Parameter{p}, fullPrecision(0.01, 0))

	if _, ok := opt.GetTimestep("w"); ok {
		t.Error("state exists before any update with a gradient")
	}

	present := 0
	for i := 0; i < 10; i++ {
		grads := map[string]*tensor.RawTensor{}
		if i%3 != 0 { // skip every third call
			grads["w"] = grad(t, []float32{0.5})
			present++
		}
		before := p.Data().FloatAt(0)
		if err := opt.Step(grads); err != nil {
			t.Fatalf("Step %d: %v", i, err)
		}
		if i%3 == 0 && p.Data().FloatAt(0) != before {
			t.Errorf("call %d: absent gradient mutated the parameter", i)
		}
	}

	step, ok := opt.GetTimestep("w")
	if !ok || step != int64(present) {
		t.Errorf("step: got %d (ok=%v), want %d", step, ok, present)
	}
}

// TestBFF_WeightDecayWithZeroGradient: decay applies even when the
// gradient is present but zero, before any gradient-based update.
func TestBFF_WeightDecayWithZeroGradient(t *testing.T) {
	p := newParam(t, "w", []float32{2.0}, tensor.Float32)
	opt, _ := optim.New([]*nn.Parameter{p}, fullPrecision(0.1, 0.1))

	if err := opt.Step(map[string]*tensor.RawTensor{"w": grad(t, []float32{0})}); err != nil {
		t.Fatalf("Step: %v", err)
	}

	// p = 2.0 * (1 - 0.1*0.1) = 1.98; the zero gradient contributes
	// nothing (momentum stays 0, so the adaptive update is 0/eps = 0).
	if got := p.Data().FloatAt(0); !floatEqual(got, 1.98, 1e-6) {
		t.Errorf("parameter: got %g, want 1.98", got)
	}
}

// TestBFF_NoDecaySkipsMultiply: wd=0 must leave a parameter with zero
// gradient bit-identical (no wasted multiply drifting the value).
func TestBFF_NoDecaySkipsMultiply(t *testing.T) {
	p := newParam(t, "w", []float32{1.0 / 3.0}, tensor.Float32)
	before := p.Data().FloatAt(0)
	opt, _ := optim.New([]*nn.Parameter{p}, fullPrecision(0.1, 0))

	if err := opt.Step(map[string]*tensor.RawTensor{"w": grad(t, []float32{0})}); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := p.Data().FloatAt(0); got != before {
		t.Errorf("parameter moved under zero gradient and zero decay: %g -> %g", before, got)
	}
}

// TestBFF_SparseGradientFails: a sparse gradient fails the call and
// mutates nothing, including other parameters in the same call.
func TestBFF_SparseGradientFails(t *testing.T) {
	a := newParam(t, "a", []float32{1, 2, 3}, tensor.Float32)
	b := newParam(t, "b", []float32{4, 5}, tensor.Float32)
	opt, _ := optim.New([]*nn.Parameter{a, b}, fullPrecision(0.1, 0))

	sparse, err := tensor.NewRawSparse(tensor.Shape{3}, []int{1}, []float32{0.5})
	if err != nil {
		t.Fatalf("NewRawSparse: %v", err)
	}

	err = opt.Step(map[string]*tensor.RawTensor{
		"a": sparse,
		"b": grad(t, []float32{1, 1}),
	})
	if !errors.Is(err, optim.ErrSparseGradient) {
		t.Fatalf("Step: got %v, want ErrSparseGradient", err)
	}

	for i, want := range []float32{1, 2, 3} {
		if a.Data().FloatAt(i) != want {
			t.Errorf("a[%d] mutated: %g", i, a.Data().FloatAt(i))
		}
	}
	for i, want := range []float32{4, 5} {
		if b.Data().FloatAt(i) != want {
			t.Errorf("b[%d] mutated despite failed call: %g", i, b.Data().FloatAt(i))
		}
	}
	if _, ok := opt.GetTimestep("a"); ok {
		t.Error("state created by failed call")
	}
	if _, ok := opt.GetTimestep("b"); ok {
		t.Error("state created for sibling parameter by failed call")
	}
}

// TestBFF_UnknownParameterFails verifies a gradient for a name the
// optimizer does not manage is an error.
func TestBFF_UnknownParameterFails(t *testing.T) {
	p := newParam(t, "w", []float32{1}, tensor.Float32)
	opt, _ := optim.New([]*nn.Parameter{p}, fullPrecision(0.1, 0))

	err := opt.Step(map[string]*tensor.RawTensor{"nope": grad(t, []float32{1})})
	if err == nil {
		t.Fatal("gradient for unknown parameter accepted")
	}
}

// TestBFF_ZeroGradientDecay: with zero gradients and wd=0, moments
// decay geometrically under the beta multipliers, deterministically.
func TestBFF_ZeroGradientDecay(t *testing.T) {
	run := func() (float32, float32, float32) {
		p := newParam(t, "w", []float32{1.0}, tensor.Float32)
		opt, _ := optim.New([]*nn.Parameter{p}, fullPrecision(0.01, 0))

		// Seed the moments with one real gradient, then starve them.
		if err := opt.Step(map[string]*tensor.RawTensor{"w": grad(t, []float32{2.0})}); err != nil {
			t.Fatal(err)
		}
		for _i := 0; _i < 2; _i++ {
			if err := opt.Step(map[string]*tensor.RawTensor{"w": grad(t, []float32{0})}); err != nil {
				t.Fatal(err)
			}
		}
		dict := opt.StateDict()
		return dict["exp_avg.w"].FloatAt(0), dict["exp_avg_sq.w"].FloatAt(0), p.Data().FloatAt(0)
	}

	m1, v1, p1 := run()
	m2, v2, p2 := run()
	if m1 != m2 || v1 != v2 || p1 != p2 {
		t.Error("identical runs diverged")
	}

	// m = 0.2 * 0.9^2, v = 0.004 * 0.999^2 after two zero-grad steps.
	if want := float32(0.2 * 0.9 * 0.9); !floatEqual(m1, want, 1e-7) {
		t.Errorf("momentum: got %g, want %g", m1, want)
	}
	if want := float32(0.004 * 0.999 * 0.999); !floatEqual(v1, want, 1e-7) {
		t.Errorf("variance: got %g, want %g", v1, want)
	}
}

// TestBFF_GroupsAndParallelism: per-group hyperparameters hold, and a
// parallel Step computes the same result as a sequential one.
func TestBFF_GroupsAndParallelism(t *testing.T) {
	build := func(par parallel.Config) ([]*nn.Parameter, *optim.BFF) {
		params := make([]*nn.Parameter, 0, 8)
		groups := []optim.Group{
			{Config: fullPrecision(0.1, 0)},
			{Config: fullPrecision(0.01, 0.5)},
		}
		for i := 0; i < 8; i++ {
			vals := make([]float32, 32)
			for j := range vals {
				vals[j] = float32(i*32+j) / 100
			}
			p := newParam(t, string(rune('a'+i)), vals, tensor.Float32)
			params = append(params, p)
			groups[i%2].Params = append(groups[i%2].Params, p)
		}
		opt, err := optim.NewGroups(groups)
		if err != nil {
			t.Fatalf("NewGroups: %v", err)
		}
		opt.SetParallelism(par)
		return params, opt
	}

	step := func(params []*nn.Parameter, opt *optim.BFF) {
		grads := make(map[string]*tensor.RawTensor)
		for _, p := range params {
			vals := make([]float32, 32)
			for j := range vals {
				vals[j] = float32(j%5) * 0.1
			}
			grads[p.Name()] = grad(t, vals)
		}
		if err := opt.Step(grads); err != nil {
			t.Fatal(err)
		}
	}

	seqParams, seqOpt := build(parallel.Sequential())
	parParams, parOpt := build(parallel.Config{Enabled: true, NumWorkers: 4, MinPerGo: 1})
	for _i := 0; _i < 3; _i++ {
		step(seqParams, seqOpt)
		step(parParams, parOpt)
	}

	for i := range seqParams {
		for j := 0; j < 32; j++ {
			s, pv := seqParams[i].Data().FloatAt(j), parParams[i].Data().FloatAt(j)
			if s != pv {
				t.Fatalf("param %d[%d]: sequential %g != parallel %g", i, j, s, pv)
			}
		}
	}
}

// TestBFF_Closure: the closure runs exactly once per call and its loss
// is handed back untouched.
func TestBFF_Closure(t *testing.T) {
	p := newParam(t, "w", []float32{1}, tensor.Float32)
	opt, _ := optim.New([]*nn.Parameter{p}, fullPrecision(0.1, 0))

	calls := 0
	loss, err := opt.StepClosure(func() float32 {
		calls++
		return 3.5
	}, map[string]*tensor.RawTensor{"w": grad(t, []float32{1})})
	if err != nil {
		t.Fatalf("StepClosure: %v", err)
	}
	if calls != 1 {
		t.Errorf("closure ran %d times", calls)
	}
	if loss != 3.5 {
		t.Errorf("loss: got %g", loss)
	}
}

// TestBFF_ConfigValidation covers the hyperparameter ranges.
func TestBFF_ConfigValidation(t *testing.T) {
	p := newParam(t, "w", []float32{1}, tensor.Float32)

	bad := []optim.Config{
		{LR: -1},
		{LR: 0.1, Betas: [2]float32{1.0, 0.999}},
		{LR: 0.1, Betas: [2]float32{0.9, -0.1}},
		{LR: 0.1, Eps: -1e-8},
		{LR: 0.1, WeightDecay: -0.5},
		{LR: 0.1, MomentumDType: tensor.Int64},
	}
	for i, cfg := range bad {
		if _, err := optim.New([]*nn.Parameter{p}, cfg); err == nil {
			t.Errorf("config %d accepted: %+v", i, cfg)
		}
	}

	if _, err := optim.New(nil, fullPrecision(0.1, 0)); err == nil {
		t.Error("empty parameter list accepted")
	}

	q := newParam(t, "w", []float32{2}, tensor.Float32)
	if _, err := optim.New([]*nn.Parameter{p, q}, fullPrecision(0.1, 0)); err == nil {
		t.Error("duplicate parameter names accepted")
	}
}

// TestBFF_LRSchedule exercises GetLR/SetLR.
func TestBFF_LRSchedule(t *testing.T) {
	p := newParam(t, "w", []float32{1}, tensor.Float32)
	opt, _ := optim.New([]*nn.Parameter{p}, fullPrecision(0.1, 0))
	if got := opt.GetLR(); got != 0.1 {
		t.Errorf("GetLR: got %g", got)
	}
	opt.SetLR(0.05)
	if got := opt.GetLR(); got != 0.05 {
		t.Errorf("GetLR after SetLR: got %g", got)
	}
}

// TestBFF_DefaultsMatchStock verifies DefaultConfig carries the stock
// BFF settings.
func TestBFF_DefaultsMatchStock(t *testing.T) {
	cfg := optim.DefaultConfig()
	if cfg.LR != 1e-3 || cfg.Betas != [2]float32{0.9, 0.999} || cfg.Eps != 1e-8 {
		t.Errorf("unexpected AdamW defaults: %+v", cfg)
	}
	if !cfg.UseKahanSummation {
		t.Error("Kahan summation off by default")
	}
	for _, dt := range []tensor.DataType{cfg.MomentumDType, cfg.VarianceDType, cfg.CompensationDType} {
		if dt != tensor.BFloat16 {
			t.Errorf("state dtype: got %v, want bfloat16", dt)
		}
	}
}

// TestBFF_MultiStepConvergence sanity-checks that repeated steps on a
// quadratic objective walk the parameter toward its minimum.
func TestBFF_MultiStepConvergence(t *testing.T) {
	p := newParam(t, "w", []float32{5.0}, tensor.Float32)
	opt, _ := optim.New([]*nn.Parameter{p}, fullPrecision(0.1, 0))

	// loss = (w-2)^2 / 2, grad = w - 2
	for _i := 0; _i < 500; _i++ {
		g := p.Data().FloatAt(0) - 2.0
		if err := opt.Step(map[string]*tensor.RawTensor{"w": grad(t, []float32{g})}); err != nil {
			t.Fatal(err)
		}
	}
	if got := p.Data().FloatAt(0); math.Abs(float64(got-2.0)) > 0.05 {
		t.Errorf("did not converge: w = %g, want ~2.0", got)
	}
}
