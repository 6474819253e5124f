package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	doc := `
directory: runs/test
policy:
  name: scale_basic
  config:
    init_lr: 0.5
outer:
  name: sgd
  config:
    learning_rate: 0.1
problems:
  - name: constant
    config:
      value: 2.0
strategy:
  kind: simple
  epochs_per_period: 3
  unroll: 5
  max_periods: 2
replicas: 4
seed: 7
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Policy.Name != "scale_basic" {
		t.Errorf("policy = %q, want scale_basic", cfg.Policy.Name)
	}
	if cfg.Strategy.EpochsPerPeriod != 3 || cfg.Strategy.Unroll != 5 {
		t.Errorf("strategy = %+v, want epochs 3 unroll 5", cfg.Strategy)
	}
	if cfg.Replicas != 4 || cfg.Seed != 7 {
		t.Errorf("replicas %d seed %d, want 4 and 7", cfg.Replicas, cfg.Seed)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("Validate rejected a loadable config: %v", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.yaml")
	cfg := Default()
	cfg.Directory = "runs/roundtrip"
	cfg.Teachers = []Spec{Named("rmsprop")}
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	back, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if back.Directory != cfg.Directory {
		t.Errorf("directory = %q, want %q", back.Directory, cfg.Directory)
	}
	if len(back.Teachers) != 1 || back.Teachers[0].Name != "rmsprop" {
		t.Errorf("teachers = %+v, want one rmsprop", back.Teachers)
	}
}

func TestResolveComponents(t *testing.T) {
	t.Run("optimizers", func(t *testing.T) {
		for _, name := range []string{"sgd", "adam", "rmsprop"} {
			if _, err := ResolveOptimizer(Named(name)); err != nil {
				t.Errorf("ResolveOptimizer(%q) failed: %v", name, err)
			}
		}
		if _, err := ResolveOptimizer(Named("lbfgs")); err == nil {
			t.Error("ResolveOptimizer accepted an unknown name")
		}
	})

	t.Run("optimizer settings", func(t *testing.T) {
		opt, err := ResolveOptimizer(Spec{Name: "sgd", Config: map[string]interface{}{
			"learning_rate": 0.5,
		}})
		if err != nil {
			t.Fatalf("ResolveOptimizer failed: %v", err)
		}
		if opt.Name() != "SGD" {
			t.Errorf("resolved %q, want SGD", opt.Name())
		}
	})

	t.Run("policies", func(t *testing.T) {
		ptb, err := ResolvePerturbation(nil, 1)
		if err != nil {
			t.Fatalf("ResolvePerturbation failed: %v", err)
		}
		for _, name := range []string{"choice", "scale_basic"} {
			if _, err := ResolvePolicy(Named(name), ptb); err != nil {
				t.Errorf("ResolvePolicy(%q) failed: %v", name, err)
			}
		}
	})

	t.Run("perturbations", func(t *testing.T) {
		specs := []Spec{
			{Name: "random", Config: map[string]interface{}{"noise_stddev": 0.1}},
			{Name: "fgsm", Config: map[string]interface{}{"step_size": 0.01}},
			{Name: "pgd", Config: map[string]interface{}{"steps": 2, "norm": "inf"}},
		}
		for _, spec := range specs {
			spec := spec
			if _, err := ResolvePerturbation(&spec, 1); err != nil {
				t.Errorf("ResolvePerturbation(%q) failed: %v", spec.Name, err)
			}
		}
	})

	t.Run("problems", func(t *testing.T) {
		probs, err := ResolveProblems([]Spec{
			Named("quadratic"),
			{Name: "noisy_quadratic", Config: map[string]interface{}{"ndim": 8}},
			{Name: "constant", Config: map[string]interface{}{"value": 3.0}},
		})
		if err != nil {
			t.Fatalf("ResolveProblems failed: %v", err)
		}
		if len(probs) != 3 {
			t.Fatalf("resolved %d problems, want 3", len(probs))
		}
	})
}

func TestResolveTeachersFactoryIsolation(t *testing.T) {
	factory := ResolveTeachers([]Spec{Named("adam"), Named("sgd")})
	first, err := factory()
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}
	second, err := factory()
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("factories built %d and %d teachers, want 2 each", len(first), len(second))
	}
	if first[0] == second[0] {
		t.Error("factory calls shared a teacher instance")
	}
}

func TestApplyPreset(t *testing.T) {
	cfg := Default()
	if err := ApplyPreset(&cfg, "imitate-adam"); err != nil {
		t.Fatalf("ApplyPreset failed: %v", err)
	}
	if len(cfg.Teachers) != 1 || cfg.Teachers[0].Name != "adam" {
		t.Errorf("preset teachers = %+v, want one adam", cfg.Teachers)
	}
	if cfg.Strategy.Kind != "curriculum" {
		t.Errorf("preset strategy kind = %q, want curriculum", cfg.Strategy.Kind)
	}
	if err := ApplyPreset(&cfg, "nope"); err == nil {
		t.Error("ApplyPreset accepted an unknown preset")
	}
}

func TestValidateRejectsBrokenConfigs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no directory", func(c *Config) { c.Directory = "" }},
		{"no policy", func(c *Config) { c.Policy = Spec{} }},
		{"no problems", func(c *Config) { c.Problems = nil }},
		{"bad strategy", func(c *Config) { c.Strategy.Kind = "magic" }},
		{"curriculum without stages", func(c *Config) {
			c.Strategy.Kind = "curriculum"
			c.Strategy.NumStages = 0
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := Validate(cfg); err == nil {
				t.Error("Validate accepted a broken config")
			}
		})
	}
}
