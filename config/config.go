// Package config loads training runs from YAML files and resolves the
// named/configured component specs they contain into live policies,
// optimizers, perturbations and problems.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Spec selects a component either by bare name, taking its defaults, or by
// name plus explicit settings. Exactly one form; a nil Config means the
// defaults.
type Spec struct {
	Name   string                 `mapstructure:"name" yaml:"name"`
	Config map[string]interface{} `mapstructure:"config" yaml:"config,omitempty"`
}

// Named builds a defaults-only spec.
func Named(name string) Spec { return Spec{Name: name} }

// StrategyConfig selects and tunes the training strategy.
type StrategyConfig struct {
	// Kind is "simple" or "curriculum".
	Kind string `mapstructure:"kind" yaml:"kind"`

	EpochsPerPeriod  int     `mapstructure:"epochs_per_period" yaml:"epochs_per_period"`
	Unroll           int     `mapstructure:"unroll" yaml:"unroll"`
	MaxPeriods       int     `mapstructure:"max_periods" yaml:"max_periods"`
	NumStages        int     `mapstructure:"num_stages" yaml:"num_stages"`
	MaxRepeat        int     `mapstructure:"max_repeat" yaml:"max_repeat"`
	RepeatThreshold  float64 `mapstructure:"repeat_threshold" yaml:"repeat_threshold"`
	NumPeriods       int     `mapstructure:"num_periods" yaml:"num_periods"`
	Improvement      string  `mapstructure:"improvement" yaml:"improvement,omitempty"`
	UnrollMultiplier int     `mapstructure:"unroll_multiplier" yaml:"unroll_multiplier,omitempty"`
}

// ScheduleConfig tunes the meta/imitation blend over the curriculum.
type ScheduleConfig struct {
	// Kind is "constant" or "annealing".
	Kind             string  `mapstructure:"kind" yaml:"kind"`
	MetaWeight       float64 `mapstructure:"meta_weight" yaml:"meta_weight"`
	ImitationWeight  float64 `mapstructure:"imitation_weight" yaml:"imitation_weight"`
	InitialImitation float64 `mapstructure:"initial_imitation" yaml:"initial_imitation"`
	Decay            float64 `mapstructure:"decay" yaml:"decay"`
	WarmupEpochs     int     `mapstructure:"warmup_epochs" yaml:"warmup_epochs"`
}

// Config is one full training run.
type Config struct {
	Directory string `mapstructure:"directory" yaml:"directory"`

	Policy       Spec  `mapstructure:"policy" yaml:"policy"`
	Perturbation *Spec `mapstructure:"perturbation" yaml:"perturbation,omitempty"`
	Outer        Spec  `mapstructure:"outer" yaml:"outer"`

	Teachers []Spec `mapstructure:"teachers" yaml:"teachers,omitempty"`

	Problems           []Spec `mapstructure:"problems" yaml:"problems"`
	ValidationProblems []Spec `mapstructure:"validation_problems" yaml:"validation_problems,omitempty"`

	Strategy StrategyConfig `mapstructure:"strategy" yaml:"strategy"`
	Schedule ScheduleConfig `mapstructure:"schedule" yaml:"schedule"`

	Replicas        int     `mapstructure:"replicas" yaml:"replicas"`
	WeightProfile   string  `mapstructure:"weight_profile" yaml:"weight_profile,omitempty"`
	TeacherReduce   string  `mapstructure:"teacher_reduce" yaml:"teacher_reduce,omitempty"`
	UseLogObjective bool    `mapstructure:"use_log_objective" yaml:"use_log_objective,omitempty"`
	ParamScale      float64 `mapstructure:"param_scale" yaml:"param_scale,omitempty"`
	GradClipNorm    float64 `mapstructure:"grad_clip_norm" yaml:"grad_clip_norm,omitempty"`
	Seed            int64   `mapstructure:"seed" yaml:"seed"`
	ValidationSeed  int64   `mapstructure:"validation_seed" yaml:"validation_seed"`
}

// Default is the starting configuration presets and files are applied over.
func Default() Config {
	return Config{
		Directory: "runs/default",
		Policy:    Named("choice"),
		Outer:     Named("adam"),
		Problems:  []Spec{Named("quadratic")},
		Strategy: StrategyConfig{
			Kind:            "simple",
			EpochsPerPeriod: 10,
			Unroll:          20,
			MaxPeriods:      10,
		},
		Schedule:       ScheduleConfig{Kind: "constant", MetaWeight: 1},
		Replicas:       1,
		Seed:           42,
		ValidationSeed: 1717,
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg as YAML, so a run directory carries the exact
// configuration it was trained with.
func Save(cfg Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects configurations no component can be built from.
func Validate(cfg Config) error {
	if cfg.Directory == "" {
		return fmt.Errorf("config has no working directory")
	}
	if cfg.Policy.Name == "" {
		return fmt.Errorf("config has no policy")
	}
	if len(cfg.Problems) == 0 {
		return fmt.Errorf("config has no problems")
	}
	switch cfg.Strategy.Kind {
	case "simple", "curriculum":
	default:
		return fmt.Errorf("unknown strategy kind %q", cfg.Strategy.Kind)
	}
	if cfg.Strategy.Kind == "curriculum" && cfg.Strategy.NumStages <= 0 {
		return fmt.Errorf("curriculum strategy requires num_stages")
	}
	return nil
}
