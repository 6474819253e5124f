package training

import (
	"fmt"
	"math"

	"github.com/ponder-lab/l2o/optimizer"
	"github.com/ponder-lab/l2o/policies"
	"github.com/ponder-lab/l2o/problems"
	"github.com/ponder-lab/l2o/tensor"
)

// TeacherReduction selects how per-teacher imitation distances are combined
// when more than one teacher is configured.
type TeacherReduction string

const (
	ReduceMean TeacherReduction = "mean"
	ReduceMax  TeacherReduction = "max"
)

// LossEngine evaluates the meta and imitation losses for one replica of one
// problem. Engines are not safe for concurrent use; the step executor builds
// one per replica so teacher optimizer state and perturbation reads never
// cross goroutines.
type LossEngine struct {
	policy   policies.Policy
	problem  problems.Problem
	teachers []optimizer.Teacher

	// teacherProblems are clones sharing the problem's landscape, one per
	// teacher, used to evaluate teacher gradients at the teacher's own
	// parameter copy.
	teacherProblems []problems.Problem

	reduction TeacherReduction
	useLog    bool

	// perturb gates Perturbation.Add during parameter reads. Validation
	// engines run unperturbed.
	perturb bool
}

// LossEngineConfig configures a LossEngine.
type LossEngineConfig struct {
	Teachers        []optimizer.Teacher
	Reduction       TeacherReduction
	UseLogObjective bool
	Perturb         bool
}

// NewLossEngine binds a policy to a problem instance.
func NewLossEngine(policy policies.Policy, prob problems.Problem, cfg LossEngineConfig) (*LossEngine, error) {
	if policy == nil {
		return nil, fmt.Errorf("loss engine requires a policy")
	}
	if prob == nil {
		return nil, fmt.Errorf("loss engine requires a problem")
	}
	reduction := cfg.Reduction
	if reduction == "" {
		reduction = ReduceMean
	}
	switch reduction {
	case ReduceMean, ReduceMax:
	default:
		return nil, fmt.Errorf("unknown teacher reduction %q", reduction)
	}
	e := &LossEngine{
		policy:    policy,
		problem:   prob,
		teachers:  cfg.Teachers,
		reduction: reduction,
		useLog:    cfg.UseLogObjective,
		perturb:   cfg.Perturb,
	}
	e.teacherProblems = make([]problems.Problem, len(cfg.Teachers))
	for t := range cfg.Teachers {
		e.teacherProblems[t] = prob.Clone()
	}
	return e, nil
}

// NumTeachers reports how many teacher optimizers the engine carries.
func (e *LossEngine) NumTeachers() int { return len(e.teachers) }

// Problem returns the bound problem.
func (e *LossEngine) Problem() problems.Problem { return e.problem }

// effectiveParams returns the parameter views the objective sees: the raw
// parameters, or the perturbed reads when the engine runs perturbed.
func (e *LossEngine) effectiveParams(params []*tensor.Tensor) []*tensor.Tensor {
	if !e.perturb {
		return params
	}
	ptb := e.policy.Perturbation()
	out := make([]*tensor.Tensor, len(params))
	for i, p := range params {
		out[i] = ptb.Add(i, p)
	}
	return out
}

// innerStep runs one step of the inner optimization in place: evaluate the
// objective and gradient at the (possibly perturbed) parameters, then apply
// the policy update to every variable group in order. Returns the objective
// value before the update.
func (e *LossEngine) innerStep(st *UnrollState, batch problems.Batch) (float64, error) {
	eff := e.effectiveParams(st.Params)
	obj, err := e.problem.Objective(eff, batch)
	if err != nil {
		return 0, err
	}
	grads, err := e.problem.Gradient(eff, batch)
	if err != nil {
		return 0, err
	}
	if len(grads) != len(st.Params) {
		return 0, shapeMismatchf("problem %q returned %d gradients for %d parameters",
			e.problem.Name(), len(grads), len(st.Params))
	}
	for i := range st.Params {
		delta, next, err := e.policy.Call(st.Params[i], grads[i], st.PolicyState[i])
		if err != nil {
			return 0, fmt.Errorf("policy %q on variable %d: %w", e.policy.Name(), i, err)
		}
		if err := tensor.AddScaled(st.Params[i], delta, -1); err != nil {
			return 0, err
		}
		st.PolicyState[i] = next
	}
	return obj, nil
}

// MetaLoss unrolls the inner optimization for len(weights) steps and returns
// the weighted sum of per-step objective values, accumulated in step order.
// st is consumed and the advanced state returned.
func (e *LossEngine) MetaLoss(weights []float64, data []problems.Batch, st UnrollState) (float64, UnrollState, error) {
	if err := e.checkInputs(weights, data, st); err != nil {
		return 0, st, err
	}
	var loss float64
	for i := range weights {
		obj, err := e.innerStep(&st, batchAt(data, i))
		if err != nil {
			return 0, st, fmt.Errorf("unroll step %d: %w", i, err)
		}
		v := obj
		if e.useLog {
			v = math.Log(obj)
		}
		loss += weights[i] * v
	}
	return loss, st, nil
}

// FinalObjective evaluates the unperturbed objective at the state's current
// parameters without stepping. Used by validation summaries and evaluation.
func (e *LossEngine) FinalObjective(st UnrollState, batch problems.Batch) (float64, error) {
	return e.problem.Objective(st.Params, batch)
}

func (e *LossEngine) checkInputs(weights []float64, data []problems.Batch, st UnrollState) error {
	if len(weights) == 0 {
		return fmt.Errorf("empty unroll weight vector")
	}
	if e.problem.Batched() && len(data) < len(weights) {
		return fmt.Errorf("problem %q: %d batches for a %d-step unroll",
			e.problem.Name(), len(data), len(weights))
	}
	templates := e.problem.TrainableVariables()
	if len(st.Params) != len(templates) {
		return shapeMismatchf("state has %d parameter tensors, problem %q has %d",
			len(st.Params), e.problem.Name(), len(templates))
	}
	for i, p := range st.Params {
		if !tensor.ShapesEqual(p.Shape, templates[i].Shape) {
			return shapeMismatchf("parameter %d: state shape %v, problem shape %v",
				i, p.Shape, templates[i].Shape)
		}
	}
	return nil
}

func batchAt(data []problems.Batch, i int) problems.Batch {
	if i < len(data) {
		return data[i]
	}
	return nil
}

func reduceDistances(dists []float64, reduction TeacherReduction) float64 {
	switch reduction {
	case ReduceMax:
		m := dists[0]
		for _, d := range dists[1:] {
			m = math.Max(m, d)
		}
		return m
	default:
		var sum float64
		for _, d := range dists {
			sum += d
		}
		return sum / float64(len(dists))
	}
}
