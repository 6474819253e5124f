package optimizer

import (
	"math"

	"github.com/ponder-lab/l2o/tensor"
)

// Clipper rescales gradients before they reach the outer optimizer.
// Implementations must not mutate the input gradients.
type Clipper interface {
	Name() string
	Clip(vars, grads []*tensor.Tensor) []*tensor.Tensor
}

// NoClip passes gradients through unchanged.
type NoClip struct{}

func (NoClip) Name() string { return "none" }

func (NoClip) Clip(vars, grads []*tensor.Tensor) []*tensor.Tensor { return grads }

// GlobalNormClipper rescales the whole gradient set so its global L2 norm
// does not exceed MaxNorm.
type GlobalNormClipper struct {
	MaxNorm float64
}

func (c GlobalNormClipper) Name() string { return "global_norm" }

func (c GlobalNormClipper) Clip(vars, grads []*tensor.Tensor) []*tensor.Tensor {
	norm := tensor.GlobalNorm(grads)
	if norm <= c.MaxNorm || norm == 0 {
		return grads
	}
	scale := c.MaxNorm / norm
	out := make([]*tensor.Tensor, len(grads))
	for i, g := range grads {
		if g == nil {
			continue
		}
		out[i] = tensor.Scale(g, scale)
	}
	return out
}

// ValueClipper clamps each gradient element into [-Limit, Limit].
type ValueClipper struct {
	Limit float64
}

func (c ValueClipper) Name() string { return "value" }

func (c ValueClipper) Clip(vars, grads []*tensor.Tensor) []*tensor.Tensor {
	out := make([]*tensor.Tensor, len(grads))
	for i, g := range grads {
		if g == nil {
			continue
		}
		clipped := g.Clone()
		for j, v := range clipped.Data {
			clipped.Data[j] = math.Max(-c.Limit, math.Min(c.Limit, v))
		}
		out[i] = clipped
	}
	return out
}
