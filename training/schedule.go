package training

import (
	"fmt"
	"math"
)

// WeightProfile names a per-step unroll weight shape.
type WeightProfile string

const (
	// WeightsMean weighs every step 1/n: the loss is the mean objective.
	WeightsMean WeightProfile = "mean"
	// WeightsSum weighs every step 1: the loss is the summed objective.
	WeightsSum WeightProfile = "sum"
	// WeightsLast puts all weight on the final step.
	WeightsLast WeightProfile = "last"
	// WeightsLinear ramps weights linearly toward the final step,
	// normalized to sum to one.
	WeightsLinear WeightProfile = "linear"
)

// UnrollWeights materializes a weight profile for an n-step unroll.
func UnrollWeights(profile WeightProfile, n int) ([]float64, error) {
	if n <= 0 {
		return nil, fmt.Errorf("unroll length must be positive, got %d", n)
	}
	w := make([]float64, n)
	switch profile {
	case WeightsMean, "":
		for i := range w {
			w[i] = 1 / float64(n)
		}
	case WeightsSum:
		for i := range w {
			w[i] = 1
		}
	case WeightsLast:
		w[n-1] = 1
	case WeightsLinear:
		total := float64(n*(n+1)) / 2
		for i := range w {
			w[i] = float64(i+1) / total
		}
	default:
		return nil, fmt.Errorf("unknown weight profile %q", profile)
	}
	return w, nil
}

// Schedule yields the meta/imitation blend for a given curriculum position.
// Strategies consult it once per epoch.
type Schedule interface {
	Name() string
	Weights(stage, epoch int) (metaWeight, imitationWeight float64)
}

// ConstantSchedule blends the two losses with fixed weights everywhere.
type ConstantSchedule struct {
	Meta      float64
	Imitation float64
}

func (s ConstantSchedule) Name() string { return "constant" }

func (s ConstantSchedule) Weights(stage, epoch int) (float64, float64) {
	return s.Meta, s.Imitation
}

// AnnealingSchedule starts imitation-heavy and decays the imitation weight
// geometrically per stage, with an optional per-stage warmup that ramps the
// blend in over the first epochs. The meta weight is the complement, so the
// blend always sums to one.
type AnnealingSchedule struct {
	// InitialImitation is the imitation weight at stage zero, in [0, 1].
	InitialImitation float64
	// Decay multiplies the imitation weight once per stage, in (0, 1].
	Decay float64
	// WarmupEpochs ramps each stage's blend in linearly; zero disables.
	WarmupEpochs int
}

func (s AnnealingSchedule) Name() string { return "annealing" }

func (s AnnealingSchedule) Weights(stage, epoch int) (float64, float64) {
	imit := s.InitialImitation * math.Pow(s.Decay, float64(stage))
	if s.WarmupEpochs > 0 && epoch < s.WarmupEpochs {
		imit *= float64(epoch+1) / float64(s.WarmupEpochs)
	}
	return 1 - imit, imit
}
