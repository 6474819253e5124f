package training

import (
	"fmt"
	"math"

	"github.com/ponder-lab/l2o/problems"
	"github.com/ponder-lab/l2o/tensor"
)

// ImitationLoss unrolls the learner and every teacher side by side from the
// state's shared starting point and returns the weighted sum of per-step
// trajectory distances. The distance at a step is the squared L2 distance
// between the learner's parameters and the teacher's, summed over variable
// groups; multiple teachers are reduced by the engine's configured
// reduction. st is consumed and the advanced state returned.
func (e *LossEngine) ImitationLoss(weights []float64, data []problems.Batch, st UnrollState) (float64, UnrollState, error) {
	if len(e.teachers) == 0 {
		return 0, st, teacherMismatchf("imitation loss requested with no teachers configured")
	}
	if len(st.TeacherParams) != len(e.teachers) {
		return 0, st, teacherMismatchf("state carries %d teacher groups, engine has %d teachers",
			len(st.TeacherParams), len(e.teachers))
	}
	if err := e.checkInputs(weights, data, st); err != nil {
		return 0, st, err
	}
	// Teacher state is keyed per parameter pointer; dropping it here keeps
	// repeated evaluations over cloned states from accumulating entries.
	for _, teacher := range e.teachers {
		if r, ok := teacher.(interface{ Reset() }); ok {
			r.Reset()
		}
	}

	var loss float64
	for i := range weights {
		batch := batchAt(data, i)
		if _, err := e.innerStep(&st, batch); err != nil {
			return 0, st, fmt.Errorf("unroll step %d: %w", i, err)
		}
		dists := make([]float64, len(e.teachers))
		for t, teacher := range e.teachers {
			if err := e.teacherStep(t, batch, st.TeacherParams[t]); err != nil {
				return 0, st, fmt.Errorf("teacher %q step %d: %w", teacher.Name(), i, err)
			}
			d, err := trajectoryDistance(st.Params, st.TeacherParams[t])
			if err != nil {
				return 0, st, err
			}
			dists[t] = d
		}
		d := reduceDistances(dists, e.reduction)
		if e.useLog {
			d = math.Log(d)
		}
		loss += weights[i] * d
	}
	return loss, st, nil
}

// teacherStep advances teacher t's parameter copy by one step of its own
// optimizer, using the gradient of the teacher's problem clone.
func (e *LossEngine) teacherStep(t int, batch problems.Batch, params []*tensor.Tensor) error {
	prob := e.teacherProblems[t]
	grad := func(vars []*tensor.Tensor) ([]*tensor.Tensor, error) {
		return prob.Gradient(vars, batch)
	}
	return e.teachers[t].Minimize(grad, params)
}

// trajectoryDistance is the squared L2 distance between two parameter sets,
// summed over variable groups.
func trajectoryDistance(a, b []*tensor.Tensor) (float64, error) {
	var sum float64
	for j := range a {
		diff, err := tensor.Sub(a[j], b[j])
		if err != nil {
			return 0, shapeMismatchf("teacher trajectory variable %d: %v", j, err)
		}
		sum += tensor.SumSquares(diff)
	}
	return sum, nil
}
