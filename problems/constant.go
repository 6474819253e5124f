package problems

import (
	"github.com/ponder-lab/l2o/tensor"
)

// Constant is a degenerate problem whose objective is a fixed value
// regardless of parameters. Its gradient is identically zero. Used for
// orchestration smoke runs where the loss surface must be exactly known.
type Constant struct {
	Value float64
	Dim   int
}

// NewConstant creates a constant-objective problem with a single variable
// group of the given dimension.
func NewConstant(value float64, dim int) *Constant {
	if dim <= 0 {
		dim = 1
	}
	return &Constant{Value: value, Dim: dim}
}

func (c *Constant) Name() string { return "Constant" }

func (c *Constant) TrainableVariables() []*tensor.Tensor {
	return []*tensor.Tensor{tensor.Zeros([]int{c.Dim})}
}

func (c *Constant) InitialParams(seed int64) []*tensor.Tensor {
	return []*tensor.Tensor{tensor.Zeros([]int{c.Dim})}
}

func (c *Constant) Objective(params []*tensor.Tensor, batch Batch) (float64, error) {
	return c.Value, nil
}

func (c *Constant) Gradient(params []*tensor.Tensor, batch Batch) ([]*tensor.Tensor, error) {
	return tensor.ZerosLikeAll(params), nil
}

func (c *Constant) Clone() Problem {
	return &Constant{Value: c.Value, Dim: c.Dim}
}

func (c *Constant) Batched() bool { return false }

func (c *Constant) Dataset(unroll int, seed int64) []Batch { return nil }
