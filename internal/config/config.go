// Package config loads the YAML run configuration for the bff CLI.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bff-ml/bff/internal/optim"
	"github.com/bff-ml/bff/internal/tensor"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	LR          float32 `yaml:"lr"`
	Beta1       float32 `yaml:"beta1"`
	Beta2       float32 `yaml:"beta2"`
	Eps         float32 `yaml:"eps"`
	WeightDecay float32 `yaml:"weight_decay"`

	KahanSummation    *bool  `yaml:"kahan_summation"`    // default true
	ParamDType        string `yaml:"param_dtype"`        // default bfloat16
	MomentumDType     string `yaml:"momentum_dtype"`     // default bfloat16
	VarianceDType     string `yaml:"variance_dtype"`     // default bfloat16
	CompensationDType string `yaml:"compensation_dtype"` // default bfloat16

	Steps      int    `yaml:"steps"`
	Seed       int64  `yaml:"seed"`
	LogEvery   int    `yaml:"log_every"`
	Checkpoint string `yaml:"checkpoint"` // optional state dict path
}

// Default returns the stock run configuration: BFF defaults, 1000
// steps.
func Default() Config {
	kahan := true
	return Config{
		LR:                1e-3,
		Beta1:             0.9,
		Beta2:             0.999,
		Eps:               1e-8,
		KahanSummation:    &kahan,
		ParamDType:        tensor.BFloat16.String(),
		MomentumDType:     tensor.BFloat16.String(),
		VarianceDType:     tensor.BFloat16.String(),
		CompensationDType: tensor.BFloat16.String(),
		Steps:             1000,
		Seed:              1,
		LogEvery:          100,
	}
}

// Load reads a Config from YAML at path, filling unset fields from
// Default and validating the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes into a validated Config.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and dtype names.
func (c Config) Validate() error {
	if c.LR <= 0 {
		return fmt.Errorf("config: lr must be > 0, got %g", c.LR)
	}
	if c.Steps <= 0 {
		return fmt.Errorf("config: steps must be > 0, got %d", c.Steps)
	}
	if c.LogEvery < 0 {
		return fmt.Errorf("config: log_every must be >= 0, got %d", c.LogEvery)
	}
	for _, name := range []string{c.ParamDType, c.MomentumDType, c.VarianceDType, c.CompensationDType} {
		dt, err := tensor.ParseDataType(name)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		if !dt.IsFloat() {
			return fmt.Errorf("config: dtype %q is not a float format", name)
		}
	}
	// Hyperparameter ranges are re-checked by the optimizer; fail fast
	// here with the same rules.
	return c.optimConfigUnchecked().Validate()
}

// ParamDataType returns the parameter storage precision.
func (c Config) ParamDataType() tensor.DataType {
	dt, _ := tensor.ParseDataType(c.ParamDType)
	return dt
}

// OptimConfig converts the run configuration into optimizer
// hyperparameters. Call Validate first (Load and Parse already do).
func (c Config) OptimConfig() optim.Config {
	return c.optimConfigUnchecked()
}

func (c Config) optimConfigUnchecked() optim.Config {
	kahan := true
	if c.KahanSummation != nil {
		kahan = *c.KahanSummation
	}
	momentum, _ := tensor.ParseDataType(c.MomentumDType)
	variance, _ := tensor.ParseDataType(c.VarianceDType)
	comp, _ := tensor.ParseDataType(c.CompensationDType)
	return optim.Config{
		LR:                c.LR,
		Betas:             [2]float32{c.Beta1, c.Beta2},
		Eps:               c.Eps,
		WeightDecay:       c.WeightDecay,
		UseKahanSummation: kahan,
		MomentumDType:     momentum,
		VarianceDType:     variance,
		CompensationDType: comp,
	}
}
