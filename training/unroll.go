package training

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/ponder-lab/l2o/policies"
	"github.com/ponder-lab/l2o/problems"
	"github.com/ponder-lab/l2o/tensor"
)

// UnrollState carries everything an inner optimization needs to run or
// resume: the problem parameters, the per-variable policy state, an
// optional global policy state, and one cloned parameter set per teacher
// optimizer. States are plain values owned by exactly one goroutine; the
// step executor never shares a state between replicas.
type UnrollState struct {
	Params      []*tensor.Tensor
	PolicyState []policies.State
	GlobalState policies.State

	// TeacherParams holds one full parameter clone per teacher. Teachers
	// descend on their own copies so the imitation distance compares
	// trajectories from a shared starting point.
	TeacherParams [][]*tensor.Tensor
}

// Clone deep-copies the state so one prepared starting point can seed many
// loss evaluations.
func (s UnrollState) Clone() UnrollState {
	out := UnrollState{}
	if s.Params != nil {
		out.Params = tensor.CloneAll(s.Params)
	}
	if s.PolicyState != nil {
		out.PolicyState = make([]policies.State, len(s.PolicyState))
		for i, ps := range s.PolicyState {
			if ps != nil {
				out.PolicyState[i] = ps.Clone()
			}
		}
	}
	if s.GlobalState != nil {
		out.GlobalState = s.GlobalState.Clone()
	}
	if s.TeacherParams != nil {
		out.TeacherParams = make([][]*tensor.Tensor, len(s.TeacherParams))
		for t, group := range s.TeacherParams {
			out.TeacherParams[t] = tensor.CloneAll(group)
		}
	}
	return out
}

// StateMask selects which components of an UnrollState survive a masking
// pass. A cleared component comes back nil and is rebuilt from scratch on
// the next rehydrate.
type StateMask struct {
	Params      bool
	PolicyState bool
	Global      bool
	Teachers    bool
}

// KeepAll returns a mask that preserves every component.
func KeepAll() StateMask {
	return StateMask{Params: true, PolicyState: true, Global: true, Teachers: true}
}

// UnrollStateManager builds, validates and masks unroll states for one
// policy. It is stateless apart from the policy handle and safe for
// concurrent use.
type UnrollStateManager struct {
	policy policies.Policy
}

func NewUnrollStateManager(policy policies.Policy) *UnrollStateManager {
	return &UnrollStateManager{policy: policy}
}

// GetInitialState builds a fresh state for prob: parameters drawn from the
// problem's initializer, zeroed policy slots, and numTeachers parameter
// clones sharing the learner's starting point.
func (m *UnrollStateManager) GetInitialState(prob problems.Problem, seed int64, numTeachers int) (UnrollState, error) {
	params := prob.InitialParams(seed)
	st := UnrollState{Params: params}
	st.PolicyState = make([]policies.State, len(params))
	for i, p := range params {
		st.PolicyState[i] = m.policy.GetInitialState(p)
	}
	st.TeacherParams = make([][]*tensor.Tensor, numTeachers)
	for t := range st.TeacherParams {
		st.TeacherParams[t] = tensor.CloneAll(params)
	}
	return st, nil
}

// Rehydrate completes a possibly partial external state against prob. Nil
// components are rebuilt the same way GetInitialState builds them; present
// components are validated against the problem's variable shapes. A shape
// that does not line up is fatal and reported as ErrShapeMismatch.
func (m *UnrollStateManager) Rehydrate(prob problems.Problem, st UnrollState, seed int64, numTeachers int) (UnrollState, error) {
	templates := prob.TrainableVariables()

	if st.Params == nil {
		st.Params = prob.InitialParams(seed)
	} else {
		if len(st.Params) != len(templates) {
			return UnrollState{}, shapeMismatchf("state has %d parameter tensors, problem %q has %d",
				len(st.Params), prob.Name(), len(templates))
		}
		for i, p := range st.Params {
			if !tensor.ShapesEqual(p.Shape, templates[i].Shape) {
				return UnrollState{}, shapeMismatchf("parameter %d: state shape %v, problem shape %v",
					i, p.Shape, templates[i].Shape)
			}
		}
	}

	if st.PolicyState == nil {
		st.PolicyState = make([]policies.State, len(st.Params))
		for i, p := range st.Params {
			st.PolicyState[i] = m.policy.GetInitialState(p)
		}
	} else if len(st.PolicyState) != len(st.Params) {
		return UnrollState{}, shapeMismatchf("state has %d policy slots for %d parameters",
			len(st.PolicyState), len(st.Params))
	}

	if st.TeacherParams == nil {
		st.TeacherParams = make([][]*tensor.Tensor, numTeachers)
		for t := range st.TeacherParams {
			st.TeacherParams[t] = tensor.CloneAll(st.Params)
		}
	} else if len(st.TeacherParams) != numTeachers {
		return UnrollState{}, teacherMismatchf("state carries %d teacher groups, engine has %d teachers",
			len(st.TeacherParams), numTeachers)
	} else {
		for t, group := range st.TeacherParams {
			if len(group) != len(st.Params) {
				return UnrollState{}, shapeMismatchf("teacher group %d has %d tensors for %d parameters",
					t, len(group), len(st.Params))
			}
			for i, p := range group {
				if !tensor.ShapesEqual(p.Shape, st.Params[i].Shape) {
					return UnrollState{}, shapeMismatchf("teacher group %d parameter %d: shape %v, want %v",
						t, i, p.Shape, st.Params[i].Shape)
				}
			}
		}
	}
	return st, nil
}

// Mask returns st with every component not selected by mask cleared.
// Kept components are carried over as-is; the state keeps single-owner
// semantics, so no copies are taken.
func (m *UnrollStateManager) Mask(st UnrollState, mask StateMask) UnrollState {
	out := UnrollState{}
	if mask.Params {
		out.Params = st.Params
	}
	if mask.PolicyState {
		out.PolicyState = st.PolicyState
	}
	if mask.Global {
		out.GlobalState = st.GlobalState
	}
	if mask.Teachers {
		out.TeacherParams = st.TeacherParams
	}
	return out
}

// scaleParams multiplies each parameter tensor by its per-variable scale
// factor. Used to randomize the starting magnitude of an unroll.
func scaleParams(params, scale []*tensor.Tensor) error {
	if len(scale) != len(params) {
		return shapeMismatchf("%d scale tensors for %d parameters", len(scale), len(params))
	}
	for i, s := range scale {
		scaled, err := tensor.Mul(params[i], s)
		if err != nil {
			return fmt.Errorf("scale parameter %d: %w", i, err)
		}
		params[i].CopyFrom(scaled)
	}
	return nil
}

// RandomScale draws log-uniform per-variable scale factors in
// [1/spread, spread], one scalar tensor per variable, broadcast by
// scaleParams across the variable. spread <= 1 yields unit scales.
func RandomScale(templates []*tensor.Tensor, spread float64, rng *rand.Rand) []*tensor.Tensor {
	out := make([]*tensor.Tensor, len(templates))
	for i, tpl := range templates {
		v := 1.0
		if spread > 1 {
			v = spreadSample(spread, rng)
		}
		out[i] = tensor.Full(tpl.Shape, v)
	}
	return out
}

func spreadSample(spread float64, rng *rand.Rand) float64 {
	lo := 1.0 / spread
	// log-uniform between lo and spread
	u := rng.Float64()
	return lo * math.Pow(spread/lo, u)
}
