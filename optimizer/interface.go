// Package optimizer implements the hand-designed optimizers used around the
// learned one: the outer optimizer that trains policy weights, and the
// teacher optimizers that imitation targets are generated with.
package optimizer

import (
	"fmt"

	"github.com/ponder-lab/l2o/tensor"
)

// Optimizer applies gradients to variables. State (momentum, moments) is
// keyed per variable pointer and allocated lazily, so one instance can serve
// any variable set it is consistently applied to.
type Optimizer interface {
	// Name identifies the optimizer for logging and config resolution.
	Name() string

	// ApplyGradients updates vars in place from grads. The slices must be
	// parallel.
	ApplyGradients(vars, grads []*tensor.Tensor) error

	// Reset drops all per-variable state and the step counter.
	Reset()
}

// GradFn evaluates the gradient of some loss at the given variables. Teacher
// optimizers consume it instead of a loss closure since all problems expose
// analytic gradients.
type GradFn func(vars []*tensor.Tensor) ([]*tensor.Tensor, error)

// Teacher is a reference optimizer that imitation trajectories are compared
// against. Minimize takes one descent step on vars.
type Teacher interface {
	Name() string
	Minimize(grad GradFn, vars []*tensor.Tensor) error
}

// minimize implements Teacher.Minimize on top of any Optimizer.
func minimize(opt Optimizer, grad GradFn, vars []*tensor.Tensor) error {
	grads, err := grad(vars)
	if err != nil {
		return fmt.Errorf("teacher gradient evaluation failed: %w", err)
	}
	if len(grads) != len(vars) {
		return fmt.Errorf("teacher gradient count %d does not match %d variables", len(grads), len(vars))
	}
	return opt.ApplyGradients(vars, grads)
}

func checkParallel(vars, grads []*tensor.Tensor) error {
	if len(vars) != len(grads) {
		return fmt.Errorf("gradient count %d does not match %d variables", len(grads), len(vars))
	}
	for i := range vars {
		if grads[i] == nil {
			continue
		}
		if !tensor.ShapesEqual(vars[i].Shape, grads[i].Shape) {
			return fmt.Errorf("gradient %d shape %v does not match variable %v", i, grads[i].Shape, vars[i].Shape)
		}
	}
	return nil
}
