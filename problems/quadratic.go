package problems

import (
	"fmt"
	"math/rand"

	"github.com/ponder-lab/l2o/tensor"
)

// Quadratic is the quadratic bowl L(x) = 0.5 * ||Wx - y||^2 with a single
// variable group x of dimension ndim. W and y are fixed at construction so
// clones share the same landscape.
type Quadratic struct {
	W    *tensor.Tensor // [ndim, ndim]
	Y    *tensor.Tensor // [ndim]
	ndim int
}

// NewQuadratic creates a quadratic bowl with W and y drawn from a standard
// normal using the given seed.
func NewQuadratic(ndim int, seed int64) (*Quadratic, error) {
	if ndim <= 0 {
		return nil, fmt.Errorf("quadratic requires a positive dimension, got %d", ndim)
	}
	rng := rand.New(rand.NewSource(seed))
	return &Quadratic{
		W:    tensor.Randn([]int{ndim, ndim}, rng),
		Y:    tensor.Randn([]int{ndim}, rng),
		ndim: ndim,
	}, nil
}

func (q *Quadratic) Name() string { return "Quadratic" }

func (q *Quadratic) TrainableVariables() []*tensor.Tensor {
	return []*tensor.Tensor{tensor.Zeros([]int{q.ndim})}
}

// InitialParams starts every unroll at the origin, matching the zero
// initializer of the reference problem.
func (q *Quadratic) InitialParams(seed int64) []*tensor.Tensor {
	return []*tensor.Tensor{tensor.Zeros([]int{q.ndim})}
}

func (q *Quadratic) residual(params []*tensor.Tensor) (*tensor.Tensor, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("quadratic expects one variable group, got %d", len(params))
	}
	wx, err := tensor.MatVec(q.W, params[0])
	if err != nil {
		return nil, err
	}
	return tensor.Sub(wx, q.Y)
}

func (q *Quadratic) Objective(params []*tensor.Tensor, batch Batch) (float64, error) {
	r, err := q.residual(params)
	if err != nil {
		return 0, err
	}
	return 0.5 * tensor.SumSquares(r), nil
}

// Gradient returns W^T (Wx - y).
func (q *Quadratic) Gradient(params []*tensor.Tensor, batch Batch) ([]*tensor.Tensor, error) {
	r, err := q.residual(params)
	if err != nil {
		return nil, err
	}
	g, err := tensor.MatVecT(q.W, r)
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{g}, nil
}

func (q *Quadratic) Clone() Problem {
	return &Quadratic{W: q.W, Y: q.Y, ndim: q.ndim}
}

func (q *Quadratic) Batched() bool { return false }

func (q *Quadratic) Dataset(unroll int, seed int64) []Batch { return nil }

// NoisyQuadratic is a mini-batch variant of Quadratic: each inner step sees
// the objective 0.5 * ||Wx - y + b_i||^2 where b_i is the step's data slice.
type NoisyQuadratic struct {
	Quadratic
	NoiseStddev float64
}

// NewNoisyQuadratic creates a mini-batch quadratic with per-step gaussian
// offsets of the given stddev.
func NewNoisyQuadratic(ndim int, noiseStddev float64, seed int64) (*NoisyQuadratic, error) {
	q, err := NewQuadratic(ndim, seed)
	if err != nil {
		return nil, err
	}
	return &NoisyQuadratic{Quadratic: *q, NoiseStddev: noiseStddev}, nil
}

func (q *NoisyQuadratic) Name() string { return "NoisyQuadratic" }

func (q *NoisyQuadratic) noisyResidual(params []*tensor.Tensor, batch Batch) (*tensor.Tensor, error) {
	r, err := q.residual(params)
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return r, nil
	}
	return tensor.Add(r, batch[0])
}

func (q *NoisyQuadratic) Objective(params []*tensor.Tensor, batch Batch) (float64, error) {
	r, err := q.noisyResidual(params, batch)
	if err != nil {
		return 0, err
	}
	return 0.5 * tensor.SumSquares(r), nil
}

func (q *NoisyQuadratic) Gradient(params []*tensor.Tensor, batch Batch) ([]*tensor.Tensor, error) {
	r, err := q.noisyResidual(params, batch)
	if err != nil {
		return nil, err
	}
	g, err := tensor.MatVecT(q.W, r)
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{g}, nil
}

func (q *NoisyQuadratic) Clone() Problem {
	return &NoisyQuadratic{
		Quadratic:   Quadratic{W: q.W, Y: q.Y, ndim: q.ndim},
		NoiseStddev: q.NoiseStddev,
	}
}

func (q *NoisyQuadratic) Batched() bool { return true }

func (q *NoisyQuadratic) Dataset(unroll int, seed int64) []Batch {
	rng := rand.New(rand.NewSource(seed))
	batches := make([]Batch, unroll)
	for i := range batches {
		noise := tensor.Randn([]int{q.ndim}, rng)
		batches[i] = Batch{tensor.Scale(noise, q.NoiseStddev)}
	}
	return batches
}
