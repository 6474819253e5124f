package optimizer

import (
	"fmt"
	"math"

	"github.com/ponder-lab/l2o/tensor"
)

// RMSPropConfig holds configuration for the RMSProp optimizer.
type RMSPropConfig struct {
	LearningRate float64
	Rho          float64 // smoothing constant for the squared gradient average
	Epsilon      float64
	Momentum     float64
	Centered     bool // subtract the mean gradient estimate from the variance
}

// DefaultRMSPropConfig returns default RMSProp configuration.
func DefaultRMSPropConfig() RMSPropConfig {
	return RMSPropConfig{
		LearningRate: 0.001,
		Rho:          0.9,
		Epsilon:      1e-8,
	}
}

// RMSProp implements the RMSProp optimizer, optionally centered and with
// momentum.
type RMSProp struct {
	config         RMSPropConfig
	squaredGradAvg map[*tensor.Tensor]*tensor.Tensor
	gradAvg        map[*tensor.Tensor]*tensor.Tensor
	momentum       map[*tensor.Tensor]*tensor.Tensor
}

// NewRMSProp creates a new RMSProp optimizer.
func NewRMSProp(config RMSPropConfig) (*RMSProp, error) {
	if config.LearningRate <= 0 {
		return nil, fmt.Errorf("rmsprop requires a positive learning rate, got %g", config.LearningRate)
	}
	if config.Rho <= 0 || config.Rho >= 1 {
		return nil, fmt.Errorf("rmsprop rho must lie in (0, 1), got %g", config.Rho)
	}
	return &RMSProp{
		config:         config,
		squaredGradAvg: make(map[*tensor.Tensor]*tensor.Tensor),
		gradAvg:        make(map[*tensor.Tensor]*tensor.Tensor),
		momentum:       make(map[*tensor.Tensor]*tensor.Tensor),
	}, nil
}

func (r *RMSProp) Name() string { return "RMSProp" }

// ApplyGradients performs one RMSProp step on vars in place.
func (r *RMSProp) ApplyGradients(vars, grads []*tensor.Tensor) error {
	if err := checkParallel(vars, grads); err != nil {
		return err
	}
	for i, param := range vars {
		grad := grads[i]
		if grad == nil {
			continue
		}

		sq, ok := r.squaredGradAvg[param]
		if !ok {
			sq = tensor.ZerosLike(param)
			r.squaredGradAvg[param] = sq
		}

		var avg *tensor.Tensor
		if r.config.Centered {
			avg, ok = r.gradAvg[param]
			if !ok {
				avg = tensor.ZerosLike(param)
				r.gradAvg[param] = avg
			}
		}

		var mom *tensor.Tensor
		if r.config.Momentum > 0 {
			mom, ok = r.momentum[param]
			if !ok {
				mom = tensor.ZerosLike(param)
				r.momentum[param] = mom
			}
		}

		for j := range param.Data {
			g := grad.Data[j]
			sq.Data[j] = r.config.Rho*sq.Data[j] + (1-r.config.Rho)*g*g

			denom := sq.Data[j]
			if r.config.Centered {
				avg.Data[j] = r.config.Rho*avg.Data[j] + (1-r.config.Rho)*g
				denom -= avg.Data[j] * avg.Data[j]
			}

			step := g / (math.Sqrt(denom) + r.config.Epsilon)
			if mom != nil {
				mom.Data[j] = r.config.Momentum*mom.Data[j] + step
				step = mom.Data[j]
			}
			param.Data[j] -= r.config.LearningRate * step
		}
	}
	return nil
}

// Reset drops all running averages and momentum state.
func (r *RMSProp) Reset() {
	r.squaredGradAvg = make(map[*tensor.Tensor]*tensor.Tensor)
	r.gradAvg = make(map[*tensor.Tensor]*tensor.Tensor)
	r.momentum = make(map[*tensor.Tensor]*tensor.Tensor)
}

// Minimize implements Teacher.
func (r *RMSProp) Minimize(grad GradFn, vars []*tensor.Tensor) error {
	return minimize(r, grad, vars)
}
