package training

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ponder-lab/l2o/optimizer"
	"github.com/ponder-lab/l2o/policies"
	"github.com/ponder-lab/l2o/problems"
	"github.com/ponder-lab/l2o/tensor"
)

// TeacherFactory builds a fresh set of teacher optimizers. The executor
// calls it once per replica so teacher state never crosses goroutines.
type TeacherFactory func() ([]optimizer.Teacher, error)

// ReplicaResult is one replica's contribution to a step.
type ReplicaResult struct {
	MetaLoss      float64
	ImitationLoss float64
	State         UnrollState
}

// StepResult summarizes one executed step. Loss values are means across
// replicas; per-replica detail stays available in Replicas.
type StepResult struct {
	Loss          float64
	MetaLoss      float64
	ImitationLoss float64
	Replicas      []ReplicaResult
	Extra         map[string]float64
}

// StepCallback derives extra named metrics from the per-replica results of a
// step. Callbacks must combine replica values by mean.
type StepCallback interface {
	Name() string
	Summarize(replicas []ReplicaResult) map[string]float64
}

// StepInputs are the per-invocation inputs to a bound step.
type StepInputs struct {
	// Weights are the per-step loss weights; length must equal the bound
	// unroll.
	Weights []float64

	// MetaWeight and ImitationWeight blend the two losses into the scalar
	// the outer optimizer descends on.
	MetaWeight      float64
	ImitationWeight float64

	// States optionally resumes each replica from an external state. Nil
	// means every replica starts fresh; when set, its length must equal the
	// replica count and nil entries still start fresh.
	States []UnrollState

	// Scale optionally multiplies freshly initialized parameters, one
	// tensor per variable group.
	Scale []*tensor.Tensor

	// Keep masks the states returned in the replica results, clearing the
	// components the caller does not track across steps. Nil keeps every
	// component.
	Keep *StateMask
}

// ExecutorConfig configures a step executor.
type ExecutorConfig struct {
	Policy   policies.Policy
	Outer    optimizer.Optimizer
	Clipper  optimizer.Clipper
	Teachers TeacherFactory

	Replicas        int
	Reduction       TeacherReduction
	UseLogObjective bool
	FiniteDiffEps   float64

	// Seed drives executor-local randomness (parameter scale draws).
	Seed int64

	Callbacks []StepCallback
	Log       *logrus.Entry
}

// Executor binds and runs training and validation steps. Binding a
// MetaIteration resolves everything derivable from the descriptor (per
// replica engines, teacher sets, the shape signature); running a bound step
// only validates inputs against that signature and executes.
type Executor struct {
	policy    policies.Policy
	outer     optimizer.Optimizer
	clipper   optimizer.Clipper
	teachers  TeacherFactory
	replicas  int
	reduction TeacherReduction
	useLog    bool
	eps       float64
	callbacks []StepCallback
	log       *logrus.Entry
	mgr       *UnrollStateManager
	scaleRng  *rand.Rand

	mu    sync.Mutex
	steps map[MetaIteration]*BoundStep
}

// NewExecutor creates an Executor.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if cfg.Policy == nil {
		return nil, fmt.Errorf("executor requires a policy")
	}
	if cfg.Replicas < 0 {
		return nil, fmt.Errorf("replica count must be non-negative, got %d", cfg.Replicas)
	}
	replicas := cfg.Replicas
	if replicas == 0 {
		replicas = 1
	}
	clipper := cfg.Clipper
	if clipper == nil {
		clipper = optimizer.NoClip{}
	}
	eps := cfg.FiniteDiffEps
	if eps == 0 {
		eps = DefaultFiniteDiffEps
	}
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Executor{
		policy:    cfg.Policy,
		outer:     cfg.Outer,
		clipper:   clipper,
		teachers:  cfg.Teachers,
		replicas:  replicas,
		reduction: cfg.Reduction,
		useLog:    cfg.UseLogObjective,
		eps:       eps,
		callbacks: cfg.Callbacks,
		log:       log,
		mgr:       NewUnrollStateManager(cfg.Policy),
		scaleRng:  rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Replicas reports the executor's replica count.
func (ex *Executor) Replicas() int { return ex.replicas }

// rng is the executor-local randomness source for parameter scale draws.
// Strategies run single-threaded between steps, so no locking.
func (ex *Executor) rng() *rand.Rand { return ex.scaleRng }

// StateManager exposes the executor's unroll state manager.
func (ex *Executor) StateManager() *UnrollStateManager { return ex.mgr }

// BindStep resolves meta against prob into an executable step. Bound steps
// are cached by descriptor; binding the same iteration twice returns the
// same step. prob.Name() must match the descriptor.
func (ex *Executor) BindStep(meta MetaIteration, prob problems.Problem) (*BoundStep, error) {
	if err := meta.validate(); err != nil {
		return nil, err
	}
	if prob.Name() != meta.Problem {
		return nil, graphBuildf("problem %q bound under descriptor for %q", prob.Name(), meta.Problem)
	}

	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.steps == nil {
		ex.steps = make(map[MetaIteration]*BoundStep)
	}
	if s, ok := ex.steps[meta]; ok {
		return s, nil
	}

	engines := make([]*LossEngine, ex.replicas)
	for r := range engines {
		var teachers []optimizer.Teacher
		if ex.teachers != nil {
			var err error
			teachers, err = ex.teachers()
			if err != nil {
				return nil, fmt.Errorf("teacher factory for replica %d: %w", r, err)
			}
		}
		eng, err := NewLossEngine(ex.policy, prob.Clone(), LossEngineConfig{
			Teachers:        teachers,
			Reduction:       ex.reduction,
			UseLogObjective: ex.useLog,
			Perturb:         !meta.Validation,
		})
		if err != nil {
			return nil, err
		}
		engines[r] = eng
	}

	templates := prob.TrainableVariables()
	shapes := make([][]int, len(templates))
	for i, t := range templates {
		shapes[i] = t.Shape
	}
	s := &BoundStep{
		ex:      ex,
		meta:    meta,
		problem: prob,
		engines: engines,
		shapes:  shapes,
	}
	ex.steps[meta] = s
	ex.log.WithFields(logrus.Fields{
		"step":     meta.String(),
		"replicas": ex.replicas,
	}).Debug("bound step")
	return s, nil
}

// BoundStep is a MetaIteration resolved against a concrete problem,
// replicated and ready to run.
type BoundStep struct {
	ex      *Executor
	meta    MetaIteration
	problem problems.Problem
	engines []*LossEngine
	shapes  [][]int

	// calls counts Train invocations so successive epochs draw distinct
	// data deterministically from the descriptor seed. Validation steps
	// never consult it.
	calls int64
}

// Meta returns the descriptor the step was bound under.
func (s *BoundStep) Meta() MetaIteration { return s.meta }

func (s *BoundStep) checkSignature(in StepInputs) error {
	if len(in.Weights) != s.meta.Unroll {
		return graphBuildf("step %s: %d loss weights for a %d-step unroll",
			s.meta, len(in.Weights), s.meta.Unroll)
	}
	if in.States != nil && len(in.States) != len(s.engines) {
		return graphBuildf("step %s: %d external states for %d replicas",
			s.meta, len(in.States), len(s.engines))
	}
	if in.Scale != nil && len(in.Scale) != len(s.shapes) {
		return graphBuildf("step %s: %d scale tensors for %d variable groups",
			s.meta, len(in.Scale), len(s.shapes))
	}
	return nil
}

// prepare builds each replica's starting state and dataset. External states
// are rehydrated and validated; missing ones are created fresh from replica
// distinct seeds. Training advances the data seed with the call counter so
// successive epochs draw distinct data; validation always draws from the
// descriptor seed so scores across periods stay comparable.
func (s *BoundStep) prepare(in StepInputs) ([]UnrollState, [][]problems.Batch, error) {
	seedBase := s.meta.Seed
	if !s.meta.Validation {
		seedBase += 1000003 * s.calls
	}
	states := make([]UnrollState, len(s.engines))
	data := make([][]problems.Batch, len(s.engines))
	for r, eng := range s.engines {
		seed := seedBase + int64(r)
		var ext UnrollState
		if in.States != nil {
			ext = in.States[r]
		}
		fresh := ext.Params == nil
		st, err := s.ex.mgr.Rehydrate(eng.Problem(), ext, seed, eng.NumTeachers())
		if err != nil {
			return nil, nil, fmt.Errorf("replica %d: %w", r, err)
		}
		if fresh && in.Scale != nil {
			if err := scaleParams(st.Params, in.Scale); err != nil {
				return nil, nil, fmt.Errorf("replica %d: %w", r, err)
			}
		}
		states[r] = st
		data[r] = eng.Problem().Dataset(s.meta.Unroll, seed)
	}
	return states, data, nil
}

// evaluate runs every replica concurrently from clones of the prepared
// states and returns the per-replica results plus the combined loss, reduced
// across replicas by mean.
func (s *BoundStep) evaluate(ctx context.Context, in StepInputs, states []UnrollState, data [][]problems.Batch) ([]ReplicaResult, float64, error) {
	keep := KeepAll()
	if in.Keep != nil {
		keep = *in.Keep
	}
	results := make([]ReplicaResult, len(s.engines))
	g, ctx := errgroup.WithContext(ctx)
	for r := range s.engines {
		r := r
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			eng := s.engines[r]

			meta, final, err := eng.MetaLoss(in.Weights, data[r], states[r].Clone())
			if err != nil {
				return fmt.Errorf("replica %d meta loss: %w", r, err)
			}

			var imit float64
			if eng.NumTeachers() > 0 {
				imit, final, err = eng.ImitationLoss(in.Weights, data[r], states[r].Clone())
				if err != nil {
					return fmt.Errorf("replica %d imitation loss: %w", r, err)
				}
			}

			results[r] = ReplicaResult{
				MetaLoss:      meta,
				ImitationLoss: imit,
				State:         s.ex.mgr.Mask(final, keep),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	var combined float64
	for _, res := range results {
		combined += in.MetaWeight*res.MetaLoss + in.ImitationWeight*res.ImitationLoss
	}
	combined /= float64(len(results))
	return results, combined, nil
}

// Train runs one meta-training step: the adversarial sub-loop, the meta
// gradient against the policy weights, clipping, and the outer update. The
// policy's weights are mutated only after every loss evaluation and gradient
// has succeeded; any error leaves them untouched.
func (s *BoundStep) Train(ctx context.Context, in StepInputs) (StepResult, error) {
	if s.meta.Validation {
		return StepResult{}, graphBuildf("step %s bound for validation cannot train", s.meta)
	}
	if s.ex.outer == nil {
		return StepResult{}, fmt.Errorf("executor has no outer optimizer")
	}
	if err := s.checkSignature(in); err != nil {
		return StepResult{}, err
	}
	states, data, err := s.prepare(in)
	if err != nil {
		return StepResult{}, err
	}
	s.calls++

	lossAt := func() (float64, error) {
		_, combined, err := s.evaluate(ctx, in, states, data)
		return combined, err
	}

	ptb := s.ex.policy.Perturbation()
	ptb.Build(s.problem.TrainableVariables())
	ptb.Reset()
	for round := 0; round < ptb.AttackSteps(); round++ {
		vars := ptb.Variables()
		if len(vars) == 0 {
			break
		}
		grads, err := numericGradients(lossAt, vars, s.ex.eps)
		if err != nil {
			ptb.Reset()
			return StepResult{}, fmt.Errorf("attack round %d: %w", round, err)
		}
		if err := ptb.ApplyGradients(grads); err != nil {
			ptb.Reset()
			return StepResult{}, fmt.Errorf("attack round %d: %w", round, err)
		}
	}

	results, combined, err := s.evaluate(ctx, in, states, data)
	if err != nil {
		ptb.Reset()
		return StepResult{}, err
	}

	weights := s.ex.policy.TrainableWeights()
	grads, err := numericGradients(lossAt, weights, s.ex.eps)
	if err != nil {
		ptb.Reset()
		return StepResult{}, fmt.Errorf("meta gradient: %w", err)
	}
	clipped := s.ex.clipper.Clip(weights, grads)
	if err := s.ex.outer.ApplyGradients(weights, clipped); err != nil {
		ptb.Reset()
		return StepResult{}, fmt.Errorf("outer update: %w", err)
	}
	ptb.Reset()

	return s.summarize(results, combined), nil
}

// Validate runs the identical loss computation without perturbation,
// gradients or weight updates.
func (s *BoundStep) Validate(ctx context.Context, in StepInputs) (StepResult, error) {
	if !s.meta.Validation {
		return StepResult{}, graphBuildf("step %s bound for training cannot validate", s.meta)
	}
	if err := s.checkSignature(in); err != nil {
		return StepResult{}, err
	}
	states, data, err := s.prepare(in)
	if err != nil {
		return StepResult{}, err
	}

	results, combined, err := s.evaluate(ctx, in, states, data)
	if err != nil {
		return StepResult{}, err
	}
	return s.summarize(results, combined), nil
}

func (s *BoundStep) summarize(results []ReplicaResult, combined float64) StepResult {
	out := StepResult{Loss: combined, Replicas: results}
	out.MetaLoss = meanMetaLoss(results)
	for _, res := range results {
		out.ImitationLoss += res.ImitationLoss
	}
	out.ImitationLoss /= float64(len(results))
	if len(s.ex.callbacks) > 0 {
		out.Extra = make(map[string]float64)
		for _, cb := range s.ex.callbacks {
			for k, v := range cb.Summarize(results) {
				out.Extra[k] = v
			}
		}
	}
	return out
}

// meanMetaLoss reduces per-replica meta losses by mean. Replicas contribute
// averaged, never summed, so the loss scale is independent of the replica
// count.
func meanMetaLoss(results []ReplicaResult) float64 {
	var sum float64
	for _, res := range results {
		sum += res.MetaLoss
	}
	return sum / float64(len(results))
}
