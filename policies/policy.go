// Package policies implements learned-optimizer policies: small trainable
// update rules applied coordinatewise to each problem parameter, plus the
// adversarial perturbations used to stress them during meta-training.
package policies

import (
	"github.com/ponder-lab/l2o/tensor"
)

// State holds a policy's per-variable hidden state, keyed by string names
// chosen by the policy itself. The orchestrator treats it as opaque.
type State map[string]*tensor.Tensor

// Clone deep-copies a state map.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v.Clone()
	}
	return out
}

// Policy is a learned update rule. Call maps (parameter, gradient, hidden
// state) to a descent delta; the caller applies param <- param - delta.
type Policy interface {
	// Name identifies the policy for logging and checkpoints.
	Name() string

	// GetInitialState allocates fresh hidden state for one variable group.
	GetInitialState(v *tensor.Tensor) State

	// Call computes the update for one variable group and returns the delta
	// together with the successor hidden state.
	Call(param, grad *tensor.Tensor, state State) (*tensor.Tensor, State, error)

	// TrainableWeights exposes the policy's own weights for meta-training.
	// The returned tensors are the live weights; mutating them changes the
	// policy.
	TrainableWeights() []*tensor.Tensor

	// Perturbation returns the adversarial perturbation attached to this
	// policy. Never nil; policies without one return NullPerturbation.
	Perturbation() Perturbation
}

// WeightedPolicy is implemented by policies that can bulk-load weights, used
// by checkpoint restore.
type WeightedPolicy interface {
	Policy
	SetWeights(weights []*tensor.Tensor) error
}

func setWeights(dst, src []*tensor.Tensor) error {
	if len(dst) != len(src) {
		return errWeightCount(len(dst), len(src))
	}
	for i := range dst {
		if err := dst[i].CopyFrom(src[i]); err != nil {
			return err
		}
	}
	return nil
}
