package optimizer

import (
	"fmt"
	"math"

	"github.com/ponder-lab/l2o/tensor"
)

// AdamConfig holds configuration for the Adam optimizer.
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
}

// DefaultAdamConfig returns default Adam configuration.
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
	}
}

// Adam implements the Adam optimizer with bias-corrected first and second
// moment estimates.
type Adam struct {
	config AdamConfig
	step   int64
	m      map[*tensor.Tensor]*tensor.Tensor
	v      map[*tensor.Tensor]*tensor.Tensor
}

// NewAdam creates a new Adam optimizer.
func NewAdam(config AdamConfig) (*Adam, error) {
	if config.LearningRate <= 0 {
		return nil, fmt.Errorf("adam requires a positive learning rate, got %g", config.LearningRate)
	}
	if config.Beta1 < 0 || config.Beta1 >= 1 || config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("adam betas must lie in [0, 1), got %g/%g", config.Beta1, config.Beta2)
	}
	return &Adam{
		config: config,
		m:      make(map[*tensor.Tensor]*tensor.Tensor),
		v:      make(map[*tensor.Tensor]*tensor.Tensor),
	}, nil
}

func (a *Adam) Name() string { return "Adam" }

// ApplyGradients performs one Adam step on vars in place.
func (a *Adam) ApplyGradients(vars, grads []*tensor.Tensor) error {
	if err := checkParallel(vars, grads); err != nil {
		return err
	}

	a.step++
	bias1 := 1 - math.Pow(a.config.Beta1, float64(a.step))
	bias2 := 1 - math.Pow(a.config.Beta2, float64(a.step))

	for i, param := range vars {
		grad := grads[i]
		if grad == nil {
			continue
		}

		m, ok := a.m[param]
		if !ok {
			m = tensor.ZerosLike(param)
			a.m[param] = m
		}
		v, ok := a.v[param]
		if !ok {
			v = tensor.ZerosLike(param)
			a.v[param] = v
		}

		for j := range param.Data {
			g := grad.Data[j]
			if a.config.WeightDecay > 0 {
				g += a.config.WeightDecay * param.Data[j]
			}
			m.Data[j] = a.config.Beta1*m.Data[j] + (1-a.config.Beta1)*g
			v.Data[j] = a.config.Beta2*v.Data[j] + (1-a.config.Beta2)*g*g

			mHat := m.Data[j] / bias1
			vHat := v.Data[j] / bias2
			param.Data[j] -= a.config.LearningRate * mHat / (math.Sqrt(vHat) + a.config.Epsilon)
		}
	}
	return nil
}

// Reset drops all moment state and the step counter.
func (a *Adam) Reset() {
	a.step = 0
	a.m = make(map[*tensor.Tensor]*tensor.Tensor)
	a.v = make(map[*tensor.Tensor]*tensor.Tensor)
}

// Minimize implements Teacher.
func (a *Adam) Minimize(grad GradFn, vars []*tensor.Tensor) error {
	return minimize(a, grad, vars)
}
