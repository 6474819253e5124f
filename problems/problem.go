// Package problems defines the inner optimization targets that learned
// optimizers are meta-trained on, together with their analytic gradients.
package problems

import (
	"github.com/ponder-lab/l2o/tensor"
)

// Batch is one per-step data slice for mini-batch problems. Full-batch
// problems receive a nil Batch.
type Batch []*tensor.Tensor

// Problem is an inner optimization target. Implementations expose their
// objective and its analytic gradient with respect to the trainable
// variables, and support cloning so teacher optimizers can run independent
// trajectories over identical copies.
type Problem interface {
	// Name identifies the problem for logging and ledger rows.
	Name() string

	// TrainableVariables returns the problem's variable groups in a fixed
	// order. The returned tensors define the shapes an UnrollState must
	// match; they are templates, not live parameters.
	TrainableVariables() []*tensor.Tensor

	// InitialParams allocates fresh parameter values for a new unroll,
	// deterministically from the seed.
	InitialParams(seed int64) []*tensor.Tensor

	// Objective evaluates the loss at params. batch is nil for full-batch
	// problems.
	Objective(params []*tensor.Tensor, batch Batch) (float64, error)

	// Gradient evaluates the analytic gradient of the objective at params,
	// parallel to TrainableVariables.
	Gradient(params []*tensor.Tensor, batch Batch) ([]*tensor.Tensor, error)

	// Clone returns an independent copy sharing the problem's fixed data
	// (e.g. the quadratic's W and y) but nothing mutable.
	Clone() Problem

	// Batched reports whether the problem consumes per-step data slices.
	Batched() bool

	// Dataset produces unroll per-step batches for batched problems,
	// deterministically from the seed. Full-batch problems return nil.
	Dataset(unroll int, seed int64) []Batch
}
