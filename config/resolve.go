package config

import (
	"fmt"

	"github.com/ponder-lab/l2o/optimizer"
	"github.com/ponder-lab/l2o/policies"
	"github.com/ponder-lab/l2o/problems"
	"github.com/ponder-lab/l2o/training"
)

// settings wraps a spec's raw config map with typed, defaulted reads.
type settings map[string]interface{}

func (s settings) float(key string, def float64) float64 {
	v, ok := s[key]
	if !ok {
		return def
	}
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case int64:
		return float64(x)
	default:
		return def
	}
}

func (s settings) integer(key string, def int) int {
	return int(s.float(key, float64(def)))
}

func (s settings) str(key, def string) string {
	if v, ok := s[key].(string); ok {
		return v
	}
	return def
}

// ResolveOptimizer builds a hand-designed optimizer from a spec. Teachers
// and the outer optimizer share this namespace.
func ResolveOptimizer(spec Spec) (optimizer.Optimizer, error) {
	s := settings(spec.Config)
	switch spec.Name {
	case "sgd":
		cfg := optimizer.DefaultSGDConfig()
		cfg.LearningRate = s.float("learning_rate", cfg.LearningRate)
		cfg.Momentum = s.float("momentum", cfg.Momentum)
		cfg.WeightDecay = s.float("weight_decay", cfg.WeightDecay)
		return optimizer.NewSGD(cfg)
	case "adam":
		cfg := optimizer.DefaultAdamConfig()
		cfg.LearningRate = s.float("learning_rate", cfg.LearningRate)
		cfg.Beta1 = s.float("beta1", cfg.Beta1)
		cfg.Beta2 = s.float("beta2", cfg.Beta2)
		cfg.Epsilon = s.float("epsilon", cfg.Epsilon)
		return optimizer.NewAdam(cfg)
	case "rmsprop":
		cfg := optimizer.DefaultRMSPropConfig()
		cfg.LearningRate = s.float("learning_rate", cfg.LearningRate)
		cfg.Rho = s.float("rho", cfg.Rho)
		cfg.Epsilon = s.float("epsilon", cfg.Epsilon)
		cfg.Momentum = s.float("momentum", cfg.Momentum)
		return optimizer.NewRMSProp(cfg)
	default:
		return nil, fmt.Errorf("unknown optimizer %q", spec.Name)
	}
}

// ResolveTeachers builds a factory producing fresh teacher sets, one
// independent set per call.
func ResolveTeachers(specs []Spec) training.TeacherFactory {
	if len(specs) == 0 {
		return nil
	}
	return func() ([]optimizer.Teacher, error) {
		teachers := make([]optimizer.Teacher, len(specs))
		for i, spec := range specs {
			opt, err := ResolveOptimizer(spec)
			if err != nil {
				return nil, fmt.Errorf("teacher %d: %w", i, err)
			}
			teacher, ok := opt.(optimizer.Teacher)
			if !ok {
				return nil, fmt.Errorf("teacher %d: %q cannot drive a trajectory", i, spec.Name)
			}
			teachers[i] = teacher
		}
		return teachers, nil
	}
}

// ResolvePerturbation builds a perturbation from a spec; nil means none.
func ResolvePerturbation(spec *Spec, seed int64) (policies.Perturbation, error) {
	if spec == nil {
		return &policies.NullPerturbation{}, nil
	}
	s := settings(spec.Config)
	switch spec.Name {
	case "none":
		return &policies.NullPerturbation{}, nil
	case "random":
		return policies.NewRandomPerturbation(s.float("noise_stddev", 0.01), seed), nil
	case "fgsm":
		return policies.NewFGSMPerturbation(s.float("step_size", 0.01))
	case "pgd":
		return policies.NewPGDPerturbation(
			s.integer("steps", 5),
			s.float("magnitude", 0.1),
			policies.PGDNorm(s.str("norm", string(policies.PGDNormL2))),
			s.float("learning_rate", 0.01),
		)
	default:
		return nil, fmt.Errorf("unknown perturbation %q", spec.Name)
	}
}

// ResolvePolicy builds a learned-optimizer policy with its perturbation
// attached.
func ResolvePolicy(spec Spec, ptb policies.Perturbation) (policies.Policy, error) {
	s := settings(spec.Config)
	switch spec.Name {
	case "choice":
		cfg := policies.DefaultChoiceConfig()
		cfg.Beta1 = s.float("beta1", cfg.Beta1)
		cfg.Beta2 = s.float("beta2", cfg.Beta2)
		cfg.Epsilon = s.float("epsilon", cfg.Epsilon)
		cfg.LearningRate = s.float("learning_rate", cfg.LearningRate)
		return policies.NewChoicePolicy(cfg, ptb)
	case "scale_basic":
		cfg := policies.DefaultScaleBasicConfig()
		cfg.InitLR = s.float("init_lr", cfg.InitLR)
		cfg.Decay = s.float("decay", cfg.Decay)
		cfg.Epsilon = s.float("epsilon", cfg.Epsilon)
		return policies.NewScaleBasicPolicy(cfg, ptb)
	default:
		return nil, fmt.Errorf("unknown policy %q", spec.Name)
	}
}

// ResolveProblem builds an inner problem from a spec.
func ResolveProblem(spec Spec) (problems.Problem, error) {
	s := settings(spec.Config)
	switch spec.Name {
	case "quadratic":
		return problems.NewQuadratic(s.integer("ndim", 20), int64(s.integer("seed", 1)))
	case "noisy_quadratic":
		return problems.NewNoisyQuadratic(
			s.integer("ndim", 20),
			s.float("noise_stddev", 0.1),
			int64(s.integer("seed", 1)),
		)
	case "constant":
		return problems.NewConstant(s.float("value", 1), s.integer("dim", 1)), nil
	default:
		return nil, fmt.Errorf("unknown problem %q", spec.Name)
	}
}

// ResolveProblems builds every problem in specs.
func ResolveProblems(specs []Spec) ([]problems.Problem, error) {
	out := make([]problems.Problem, len(specs))
	for i, spec := range specs {
		p, err := ResolveProblem(spec)
		if err != nil {
			return nil, fmt.Errorf("problem %d: %w", i, err)
		}
		out[i] = p
	}
	return out, nil
}

// ResolveSchedule builds the meta/imitation blend schedule.
func ResolveSchedule(cfg ScheduleConfig) (training.Schedule, error) {
	switch cfg.Kind {
	case "", "constant":
		meta := cfg.MetaWeight
		if meta == 0 && cfg.ImitationWeight == 0 {
			meta = 1
		}
		return training.ConstantSchedule{Meta: meta, Imitation: cfg.ImitationWeight}, nil
	case "annealing":
		decay := cfg.Decay
		if decay == 0 {
			decay = 0.5
		}
		return training.AnnealingSchedule{
			InitialImitation: cfg.InitialImitation,
			Decay:            decay,
			WarmupEpochs:     cfg.WarmupEpochs,
		}, nil
	default:
		return nil, fmt.Errorf("unknown schedule kind %q", cfg.Kind)
	}
}

// ResolveClipper builds the outer gradient clipper.
func ResolveClipper(cfg Config) optimizer.Clipper {
	if cfg.GradClipNorm > 0 {
		return optimizer.GlobalNormClipper{MaxNorm: cfg.GradClipNorm}
	}
	return optimizer.NoClip{}
}
