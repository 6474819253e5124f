package training

import (
	"errors"
	"math"
	"testing"

	"github.com/ponder-lab/l2o/optimizer"
	"github.com/ponder-lab/l2o/policies"
	"github.com/ponder-lab/l2o/problems"
	"github.com/ponder-lab/l2o/tensor"
)

func testPolicy(t *testing.T) *policies.ChoicePolicy {
	t.Helper()
	policy, err := policies.NewChoicePolicy(policies.DefaultChoiceConfig(), &policies.NullPerturbation{})
	if err != nil {
		t.Fatalf("NewChoicePolicy failed: %v", err)
	}
	return policy
}

func testQuadratic(t *testing.T) *problems.Quadratic {
	t.Helper()
	prob, err := problems.NewQuadratic(4, 7)
	if err != nil {
		t.Fatalf("NewQuadratic failed: %v", err)
	}
	return prob
}

// The meta loss must be the weighted sum of per-step objectives in step
// order: evaluating with a full weight vector must equal the sum of one-hot
// evaluations.
func TestMetaLossIsWeightedSum(t *testing.T) {
	policy := testPolicy(t)
	prob := testQuadratic(t)
	eng, err := NewLossEngine(policy, prob, LossEngineConfig{})
	if err != nil {
		t.Fatalf("NewLossEngine failed: %v", err)
	}
	mgr := NewUnrollStateManager(policy)
	initial, err := mgr.GetInitialState(prob, 3, 0)
	if err != nil {
		t.Fatalf("GetInitialState failed: %v", err)
	}

	weights := []float64{0.5, 0.25, 2.0, 0.125}
	full, _, err := eng.MetaLoss(weights, nil, initial.Clone())
	if err != nil {
		t.Fatalf("MetaLoss failed: %v", err)
	}

	var sum float64
	for i, w := range weights {
		oneHot := make([]float64, len(weights))
		oneHot[i] = w
		part, _, err := eng.MetaLoss(oneHot, nil, initial.Clone())
		if err != nil {
			t.Fatalf("MetaLoss one-hot %d failed: %v", i, err)
		}
		sum += part
	}
	if math.Abs(full-sum) > 1e-12 {
		t.Errorf("weighted sum mismatch: full %v, decomposed %v", full, sum)
	}
}

// With a single teacher and weights [1, 0, ...] the imitation loss must be
// exactly the squared L2 distance between the learner's and the teacher's
// parameters after one step each from the shared starting point.
func TestImitationLossSingleStepDistance(t *testing.T) {
	policy := testPolicy(t)
	prob := testQuadratic(t)

	sgdCfg := optimizer.DefaultSGDConfig()
	sgdCfg.LearningRate = 0.1
	sgdCfg.Momentum = 0
	teacher, err := optimizer.NewSGD(sgdCfg)
	if err != nil {
		t.Fatalf("NewSGD failed: %v", err)
	}

	eng, err := NewLossEngine(policy, prob, LossEngineConfig{
		Teachers: []optimizer.Teacher{teacher},
	})
	if err != nil {
		t.Fatalf("NewLossEngine failed: %v", err)
	}
	mgr := NewUnrollStateManager(policy)
	initial, err := mgr.GetInitialState(prob, 11, 1)
	if err != nil {
		t.Fatalf("GetInitialState failed: %v", err)
	}

	got, _, err := eng.ImitationLoss([]float64{1, 0, 0}, nil, initial.Clone())
	if err != nil {
		t.Fatalf("ImitationLoss failed: %v", err)
	}

	// Replicate one step of each trajectory by hand.
	p0 := initial.Params[0].Clone()
	grads, err := prob.Gradient([]*tensor.Tensor{p0}, nil)
	if err != nil {
		t.Fatalf("Gradient failed: %v", err)
	}
	delta, _, err := policy.Call(p0, grads[0], policy.GetInitialState(p0))
	if err != nil {
		t.Fatalf("policy Call failed: %v", err)
	}
	learner := p0.Clone()
	if err := tensor.AddScaled(learner, delta, -1); err != nil {
		t.Fatalf("AddScaled failed: %v", err)
	}
	teacherParam := p0.Clone()
	if err := tensor.AddScaled(teacherParam, grads[0], -0.1); err != nil {
		t.Fatalf("AddScaled failed: %v", err)
	}
	diff, err := tensor.Sub(learner, teacherParam)
	if err != nil {
		t.Fatalf("Sub failed: %v", err)
	}
	want := tensor.SumSquares(diff)

	if math.Abs(got-want) > 1e-12 {
		t.Errorf("imitation loss = %v, want single-step distance %v", got, want)
	}
}

func TestImitationLossWithoutTeachers(t *testing.T) {
	policy := testPolicy(t)
	eng, err := NewLossEngine(policy, testQuadratic(t), LossEngineConfig{})
	if err != nil {
		t.Fatalf("NewLossEngine failed: %v", err)
	}
	mgr := NewUnrollStateManager(policy)
	st, err := mgr.GetInitialState(eng.Problem(), 1, 0)
	if err != nil {
		t.Fatalf("GetInitialState failed: %v", err)
	}
	_, _, err = eng.ImitationLoss([]float64{1}, nil, st)
	if !errors.Is(err, ErrTeacherMismatch) {
		t.Errorf("expected ErrTeacherMismatch, got %v", err)
	}
}

func TestImitationLossTeacherGroupMismatch(t *testing.T) {
	policy := testPolicy(t)
	prob := testQuadratic(t)
	sgd, err := optimizer.NewSGD(optimizer.DefaultSGDConfig())
	if err != nil {
		t.Fatalf("NewSGD failed: %v", err)
	}
	eng, err := NewLossEngine(policy, prob, LossEngineConfig{
		Teachers: []optimizer.Teacher{sgd},
	})
	if err != nil {
		t.Fatalf("NewLossEngine failed: %v", err)
	}
	mgr := NewUnrollStateManager(policy)
	// Build a state carrying two teacher groups against a one-teacher engine.
	st, err := mgr.GetInitialState(prob, 1, 2)
	if err != nil {
		t.Fatalf("GetInitialState failed: %v", err)
	}
	_, _, err = eng.ImitationLoss([]float64{1}, nil, st)
	if !errors.Is(err, ErrTeacherMismatch) {
		t.Errorf("expected ErrTeacherMismatch, got %v", err)
	}
}

// Mean and max reductions over multiple teachers must bracket each other:
// with identical teachers both reductions agree, with different teachers
// max dominates mean.
func TestTeacherReduction(t *testing.T) {
	dists := []float64{2, 6}
	if got := reduceDistances(dists, ReduceMean); got != 4 {
		t.Errorf("mean reduction = %v, want 4", got)
	}
	if got := reduceDistances(dists, ReduceMax); got != 6 {
		t.Errorf("max reduction = %v, want 6", got)
	}
}

func TestMetaLossLogObjective(t *testing.T) {
	policy := testPolicy(t)
	prob := problems.NewConstant(math.E, 2)
	eng, err := NewLossEngine(policy, prob, LossEngineConfig{UseLogObjective: true})
	if err != nil {
		t.Fatalf("NewLossEngine failed: %v", err)
	}
	mgr := NewUnrollStateManager(policy)
	st, err := mgr.GetInitialState(prob, 1, 0)
	if err != nil {
		t.Fatalf("GetInitialState failed: %v", err)
	}
	got, _, err := eng.MetaLoss([]float64{1, 1}, nil, st)
	if err != nil {
		t.Fatalf("MetaLoss failed: %v", err)
	}
	if math.Abs(got-2) > 1e-12 {
		t.Errorf("log objective loss = %v, want 2", got)
	}
}

func TestRehydrateShapeMismatch(t *testing.T) {
	policy := testPolicy(t)
	prob := testQuadratic(t)
	mgr := NewUnrollStateManager(policy)

	bad := UnrollState{Params: []*tensor.Tensor{tensor.Zeros([]int{7})}}
	_, err := mgr.Rehydrate(prob, bad, 1, 0)
	if !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestRehydrateFillsMissingComponents(t *testing.T) {
	policy := testPolicy(t)
	prob := testQuadratic(t)
	mgr := NewUnrollStateManager(policy)

	st, err := mgr.GetInitialState(prob, 5, 1)
	if err != nil {
		t.Fatalf("GetInitialState failed: %v", err)
	}
	masked := mgr.Mask(st, StateMask{Params: true})
	if masked.PolicyState != nil || masked.TeacherParams != nil {
		t.Fatal("mask did not clear unselected components")
	}
	back, err := mgr.Rehydrate(prob, masked, 5, 1)
	if err != nil {
		t.Fatalf("Rehydrate failed: %v", err)
	}
	if len(back.PolicyState) != len(back.Params) {
		t.Errorf("rehydrate rebuilt %d policy slots for %d params", len(back.PolicyState), len(back.Params))
	}
	if len(back.TeacherParams) != 1 {
		t.Errorf("rehydrate rebuilt %d teacher groups, want 1", len(back.TeacherParams))
	}
	if back.Params[0] != st.Params[0] {
		t.Error("rehydrate replaced kept parameters")
	}
}

func TestNumericGradientsQuadratic(t *testing.T) {
	v := tensor.Full([]int{3}, 2)
	loss := func() (float64, error) {
		return 0.5 * tensor.SumSquares(v), nil
	}
	grads, err := numericGradients(loss, []*tensor.Tensor{v}, 1e-6)
	if err != nil {
		t.Fatalf("numericGradients failed: %v", err)
	}
	for i, g := range grads[0].Data {
		if math.Abs(g-2) > 1e-6 {
			t.Errorf("gradient[%d] = %v, want 2", i, g)
		}
		if v.Data[i] != 2 {
			t.Errorf("variable[%d] not restored: %v", i, v.Data[i])
		}
	}
}
