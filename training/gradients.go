package training

import (
	"fmt"

	"github.com/ponder-lab/l2o/tensor"
)

// DefaultFiniteDiffEps is the default half-width of the central difference
// stencil used for meta gradients.
const DefaultFiniteDiffEps = 1e-6

// numericGradients estimates the gradient of loss with respect to vars by
// central finite differences, one coordinate at a time. The loss closure
// must be pure: repeated evaluations at the same variable values must return
// the same value. vars are restored to their original values exactly, bit
// for bit, before returning.
func numericGradients(loss func() (float64, error), vars []*tensor.Tensor, eps float64) ([]*tensor.Tensor, error) {
	if eps <= 0 {
		return nil, fmt.Errorf("finite difference epsilon must be positive, got %g", eps)
	}
	grads := make([]*tensor.Tensor, len(vars))
	for i, v := range vars {
		g := tensor.ZerosLike(v)
		for j := range v.Data {
			orig := v.Data[j]

			v.Data[j] = orig + eps
			up, err := loss()
			if err != nil {
				v.Data[j] = orig
				return nil, fmt.Errorf("loss at +eps (variable %d, element %d): %w", i, j, err)
			}

			v.Data[j] = orig - eps
			down, err := loss()
			if err != nil {
				v.Data[j] = orig
				return nil, fmt.Errorf("loss at -eps (variable %d, element %d): %w", i, j, err)
			}

			v.Data[j] = orig
			g.Data[j] = (up - down) / (2 * eps)
		}
		grads[i] = g
	}
	return grads, nil
}
