package config

import (
	"fmt"
	"sort"
)

// presets are named run configurations applied over the defaults. Each is a
// mutation so presets compose with config files and flags.
var presets = map[string]func(*Config){
	// quadratic-simple meta-trains the choice policy on a plain quadratic
	// with no teachers.
	"quadratic-simple": func(c *Config) {
		c.Problems = []Spec{{Name: "quadratic", Config: map[string]interface{}{"ndim": 20}}}
		c.Strategy = StrategyConfig{Kind: "simple", EpochsPerPeriod: 10, Unroll: 20, MaxPeriods: 20}
	},

	// noisy-curriculum runs the staged curriculum on noisy quadratics with
	// doubling unrolls.
	"noisy-curriculum": func(c *Config) {
		c.Problems = []Spec{{Name: "noisy_quadratic", Config: map[string]interface{}{
			"ndim": 20, "noise_stddev": 0.1,
		}}}
		c.Strategy = StrategyConfig{
			Kind:            "curriculum",
			EpochsPerPeriod: 10,
			Unroll:          10,
			NumStages:       4,
			MaxRepeat:       3,
			RepeatThreshold: 0.01,
			NumPeriods:      20,
		}
	},

	// imitate-adam anneals from imitating an Adam teacher toward the meta
	// objective.
	"imitate-adam": func(c *Config) {
		c.Teachers = []Spec{Named("adam")}
		c.Schedule = ScheduleConfig{Kind: "annealing", InitialImitation: 0.9, Decay: 0.5, WarmupEpochs: 5}
		c.Strategy = StrategyConfig{
			Kind:            "curriculum",
			EpochsPerPeriod: 10,
			Unroll:          10,
			NumStages:       3,
			MaxRepeat:       3,
			RepeatThreshold: 0.01,
			NumPeriods:      15,
		}
	},

	// adversarial stresses the policy with a PGD perturbation.
	"adversarial": func(c *Config) {
		c.Perturbation = &Spec{Name: "pgd", Config: map[string]interface{}{
			"steps": 3, "magnitude": 0.05, "norm": "l2", "learning_rate": 0.01,
		}}
	},
}

// ApplyPreset mutates cfg with the named preset.
func ApplyPreset(cfg *Config, name string) error {
	apply, ok := presets[name]
	if !ok {
		return fmt.Errorf("unknown preset %q (available: %v)", name, PresetNames())
	}
	apply(cfg)
	return nil
}

// PresetNames lists the available presets, sorted.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
