// Package main provides the bff CLI: a demo driver for the BFF
// optimizer that fits a small linear model and exercises checkpoint
// save/resume.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"

	"github.com/bff-ml/bff/internal/config"
	"github.com/bff-ml/bff/internal/nn"
	"github.com/bff-ml/bff/internal/optim"
	"github.com/bff-ml/bff/internal/serialization"
	"github.com/bff-ml/bff/internal/tensor"
)

const version = "v0.1.0-dev"

func main() {
	log.SetFlags(0)
	log.SetPrefix("bff: ")

	if len(os.Args) < 2 {
		usage()
		return
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("bff %s\n", version)
	case "train":
		if err := runTrain(os.Args[2:]); err != nil {
			log.Fatal(err)
		}
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Println("bff - pure-BFloat16 AdamW with Kahan summation")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Commands:")
	fmt.Println("  version            Show version")
	fmt.Println("  train [flags]      Fit a demo linear model")
	fmt.Println("")
	fmt.Println("Train flags:")
	fmt.Println("  -config path       YAML run configuration")
	fmt.Println("  -steps n           Override step count")
}

func runTrain(args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML run configuration")
	steps := fs.Int("steps", 0, "override step count")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if *steps > 0 {
		cfg.Steps = *steps
	}

	return train(cfg)
}

// train fits weights to a fixed random linear target with analytic
// mean-squared-error gradients. The gradient producer stands in for
// the external autodiff engine a real training loop would use.
func train(cfg config.Config) error {
	const dim = 16
	rng := rand.New(rand.NewSource(cfg.Seed))

	target := make([]float32, dim)
	init := make([]float32, dim)
	for i := range target {
		target[i] = float32(rng.NormFloat64())
		init[i] = float32(rng.NormFloat64())
	}

	data, err := tensor.FromSlice(init, tensor.Shape{dim}, cfg.ParamDataType())
	if err != nil {
		return err
	}
	param, err := nn.NewParameter("linear.weight", data)
	if err != nil {
		return err
	}

	opt, err := optim.New([]*nn.Parameter{param}, cfg.OptimConfig())
	if err != nil {
		return err
	}

	if cfg.Checkpoint != "" {
		if err := restore(opt, cfg.Checkpoint); err != nil {
			return err
		}
	}

	gradBuf := make([]float32, dim)
	for step := 1; step <= cfg.Steps; step++ {
		loss := float32(0)
		for i := 0; i < dim; i++ {
			diff := param.Data().FloatAt(i) - target[i]
			gradBuf[i] = diff
			loss += diff * diff / 2
		}
		g, err := tensor.FromSlice(gradBuf, tensor.Shape{dim}, tensor.Float32)
		if err != nil {
			return err
		}
		if err := opt.Step(map[string]*tensor.RawTensor{"linear.weight": g}); err != nil {
			return err
		}
		if cfg.LogEvery > 0 && step%cfg.LogEvery == 0 {
			log.Printf("step %d/%d loss %.6g lr %g", step, cfg.Steps, loss, opt.GetLR())
		}
	}

	if cfg.Checkpoint != "" {
		meta := map[string]string{"steps": fmt.Sprint(cfg.Steps), "lr": fmt.Sprint(cfg.LR)}
		if err := serialization.WriteFile(cfg.Checkpoint, opt.StateDict(), meta); err != nil {
			return err
		}
		log.Printf("wrote optimizer state to %s", cfg.Checkpoint)
	}
	return nil
}

// restore loads optimizer state if a checkpoint exists; a missing file
// just means a fresh run.
func restore(opt *optim.BFF, path string) error {
	dict, header, err := serialization.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := opt.LoadStateDict(dict); err != nil {
		return err
	}
	log.Printf("resumed optimizer state from %s (written %s)", path, header.CreatedAt.Format("2006-01-02 15:04:05"))
	return nil
}
