package optimizer

import (
	"fmt"

	"github.com/ponder-lab/l2o/tensor"
)

// SGDConfig holds configuration for the SGD optimizer.
type SGDConfig struct {
	LearningRate float64
	Momentum     float64
	WeightDecay  float64
	Nesterov     bool
}

// DefaultSGDConfig returns default SGD configuration.
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{LearningRate: 0.01}
}

// SGD implements stochastic gradient descent with optional momentum,
// weight decay and Nesterov acceleration.
type SGD struct {
	config     SGDConfig
	velocities map[*tensor.Tensor]*tensor.Tensor
}

// NewSGD creates a new SGD optimizer.
func NewSGD(config SGDConfig) (*SGD, error) {
	if config.LearningRate <= 0 {
		return nil, fmt.Errorf("sgd requires a positive learning rate, got %g", config.LearningRate)
	}
	return &SGD{
		config:     config,
		velocities: make(map[*tensor.Tensor]*tensor.Tensor),
	}, nil
}

func (s *SGD) Name() string { return "SGD" }

// ApplyGradients performs one descent step on vars in place.
func (s *SGD) ApplyGradients(vars, grads []*tensor.Tensor) error {
	if err := checkParallel(vars, grads); err != nil {
		return err
	}
	for i, param := range vars {
		grad := grads[i]
		if grad == nil {
			continue
		}

		step := grad.Clone()
		if s.config.WeightDecay > 0 {
			if err := tensor.AddScaled(step, param, s.config.WeightDecay); err != nil {
				return err
			}
		}

		if s.config.Momentum > 0 {
			velocity, ok := s.velocities[param]
			if !ok {
				velocity = tensor.ZerosLike(param)
				s.velocities[param] = velocity
			}
			// velocity = momentum * velocity + step
			for j := range velocity.Data {
				velocity.Data[j] = s.config.Momentum*velocity.Data[j] + step.Data[j]
			}
			if s.config.Nesterov {
				if err := tensor.AddScaled(step, velocity, s.config.Momentum); err != nil {
					return err
				}
			} else {
				step = velocity
			}
		}

		if err := tensor.AddScaled(param, step, -s.config.LearningRate); err != nil {
			return err
		}
	}
	return nil
}

// Reset drops all momentum state.
func (s *SGD) Reset() {
	s.velocities = make(map[*tensor.Tensor]*tensor.Tensor)
}

// Minimize implements Teacher.
func (s *SGD) Minimize(grad GradFn, vars []*tensor.Tensor) error {
	return minimize(s, grad, vars)
}
