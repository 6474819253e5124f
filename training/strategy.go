package training

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/ponder-lab/l2o/checkpoints"
	"github.com/ponder-lab/l2o/policies"
	"github.com/ponder-lab/l2o/problems"
)

// NextAction is a strategy's decision after recording a period.
type NextAction int

const (
	// ActionRepeat runs another period at the current curriculum position.
	ActionRepeat NextAction = iota
	// ActionAdvanceStage moves to the next curriculum stage.
	ActionAdvanceStage
	// ActionComplete ends training.
	ActionComplete
)

func (a NextAction) String() string {
	switch a {
	case ActionRepeat:
		return "repeat"
	case ActionAdvanceStage:
		return "advance"
	case ActionComplete:
		return "complete"
	default:
		return fmt.Sprintf("NextAction(%d)", int(a))
	}
}

// Strategy sequences learning periods over a working directory it owns
// exclusively. Train runs exactly one period: its epochs, the validation
// pass, the ledger append, the checkpoint, and the advancement decision, in
// that order. A strategy resumed over an existing directory reconstructs its
// position purely from the ledger.
type Strategy interface {
	// Train runs one learning period. Calling Train on a completed
	// strategy is an error.
	Train(ctx context.Context) error

	// Done reports whether the strategy has decided ActionComplete.
	Done() bool

	// Directory returns the working directory the strategy owns.
	Directory() string
}

// claimDirectory takes ownership of dir for a strategy. A missing directory
// is created; a directory holding a ledger is resumed; an empty directory is
// claimed fresh. Anything else belongs to someone else and is reported as
// ErrDirectoryConflict.
func claimDirectory(dir string) error {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrDirectoryConflict, dir)
	}
	if SummaryExists(dir) {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return fmt.Errorf("%w: %s holds %d unrelated entries and no ledger",
			ErrDirectoryConflict, dir, len(entries))
	}
	return nil
}

// strategyCore carries what every strategy shares: the executor, the problem
// sets, the ledger and the checkpoint saver.
type strategyCore struct {
	executor *Executor
	policy   policies.Policy

	trainProblems []problems.Problem
	validProblems []problems.Problem

	epochsPerPeriod int
	weightProfile   WeightProfile
	schedule        Schedule
	paramScale      float64
	validationSeed  int64

	directory string
	summary   *Summary
	saver     *checkpoints.CheckpointSaver
	log       *logrus.Entry
}

func newStrategyCore(executor *Executor, train, valid []problems.Problem,
	epochsPerPeriod int, profile WeightProfile, schedule Schedule, paramScale float64,
	validationSeed int64, dir string, extraColumns []string, log *logrus.Entry) (*strategyCore, error) {

	if executor == nil {
		return nil, fmt.Errorf("strategy requires an executor")
	}
	if len(train) == 0 {
		return nil, fmt.Errorf("strategy requires at least one training problem")
	}
	if len(valid) == 0 {
		valid = train
	}
	if epochsPerPeriod <= 0 {
		return nil, fmt.Errorf("epochs per period must be positive, got %d", epochsPerPeriod)
	}
	if schedule == nil {
		schedule = ConstantSchedule{Meta: 1}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	if err := claimDirectory(dir); err != nil {
		return nil, err
	}
	summary, err := OpenSummary(dir, epochsPerPeriod, extraColumns)
	if err != nil {
		return nil, err
	}
	return &strategyCore{
		executor:        executor,
		policy:          executor.policy,
		trainProblems:   train,
		validProblems:   valid,
		epochsPerPeriod: epochsPerPeriod,
		weightProfile:   profile,
		schedule:        schedule,
		paramScale:      paramScale,
		validationSeed:  validationSeed,
		directory:       dir,
		summary:         summary,
		saver:           checkpoints.NewCheckpointSaver(dir),
		log:             log.WithField("dir", dir),
	}, nil
}

// trainEpoch runs one training step per problem and returns the mean loss.
func (c *strategyCore) trainEpoch(ctx context.Context, stage, epoch, unroll int, seed int64) (float64, error) {
	weights, err := UnrollWeights(c.weightProfile, unroll)
	if err != nil {
		return 0, err
	}
	metaW, imitW := c.schedule.Weights(stage, epoch)

	var sum float64
	for _, prob := range c.trainProblems {
		step, err := c.executor.BindStep(MetaIteration{
			Problem: prob.Name(),
			Unroll:  unroll,
			Seed:    seed,
		}, prob)
		if err != nil {
			return 0, err
		}
		in := StepInputs{Weights: weights, MetaWeight: metaW, ImitationWeight: imitW}
		if c.paramScale > 1 {
			in.Scale = RandomScale(prob.TrainableVariables(), c.paramScale, c.executor.rng())
		}
		res, err := step.Train(ctx, in)
		if err != nil {
			return 0, fmt.Errorf("problem %q: %w", prob.Name(), err)
		}
		for name, v := range res.Extra {
			c.log.WithFields(logrus.Fields{
				"problem": prob.Name(),
				name:      v,
			}).Debug("step metric")
		}
		sum += res.MetaLoss
	}
	return sum / float64(len(c.trainProblems)), nil
}

// validate runs one validation step per validation problem and returns the
// mean meta loss. Validation always reuses the fixed validation seed so
// scores across periods are comparable.
func (c *strategyCore) validate(ctx context.Context, unroll int) (float64, error) {
	weights, err := UnrollWeights(c.weightProfile, unroll)
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, prob := range c.validProblems {
		step, err := c.executor.BindStep(MetaIteration{
			Problem:    prob.Name(),
			Unroll:     unroll,
			Validation: true,
			Seed:       c.validationSeed,
		}, prob)
		if err != nil {
			return 0, err
		}
		res, err := step.Validate(ctx, StepInputs{Weights: weights, MetaWeight: 1})
		if err != nil {
			return 0, fmt.Errorf("validation problem %q: %w", prob.Name(), err)
		}
		sum += res.MetaLoss
	}
	return sum / float64(len(c.validProblems)), nil
}

// learningPeriod runs a full period at the given curriculum position:
// epochsPerPeriod training epochs followed by one validation pass.
func (c *strategyCore) learningPeriod(ctx context.Context, stage, unroll int, seed int64) (TrainingPeriod, error) {
	p := TrainingPeriod{TrainingLoss: make([]float64, 0, c.epochsPerPeriod)}
	for epoch := 0; epoch < c.epochsPerPeriod; epoch++ {
		if err := ctx.Err(); err != nil {
			return p, err
		}
		loss, err := c.trainEpoch(ctx, stage, epoch, unroll, seed)
		if err != nil {
			return p, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		p.TrainingLoss = append(p.TrainingLoss, loss)
		c.log.WithFields(logrus.Fields{
			"stage": stage,
			"epoch": epoch,
			"loss":  loss,
		}).Debug("training epoch complete")
	}
	val, err := c.validate(ctx, unroll)
	if err != nil {
		return p, fmt.Errorf("validation: %w", err)
	}
	p.ValidationLoss = val
	return p, nil
}

// checkpoint snapshots the policy at the given curriculum coordinates.
func (c *strategyCore) checkpoint(path string, stage, period int, validationLoss float64) error {
	ckpt := &checkpoints.Checkpoint{
		Policy:  c.policy.Name(),
		Weights: checkpoints.ExtractWeights(c.policy),
		TrainingState: checkpoints.TrainingState{
			Stage:          stage,
			Period:         period,
			ValidationLoss: validationLoss,
		},
	}
	return c.saver.SaveCheckpoint(ckpt, path)
}

// restore reloads the policy weights recorded at path. A missing checkpoint
// is tolerated: the ledger stays authoritative for position, and training
// continues from the live weights.
func (c *strategyCore) restore(path string) {
	ckpt, err := c.saver.LoadCheckpoint(path)
	if err != nil {
		c.log.WithError(err).Warn("resume without checkpoint, keeping live weights")
		return
	}
	if err := checkpoints.LoadWeightsInto(ckpt.Weights, c.policy); err != nil {
		c.log.WithError(err).Warn("checkpoint weights not restorable, keeping live weights")
		return
	}
	c.log.WithField("checkpoint", path).Info("restored policy weights")
}

// Close releases the ledger.
func (c *strategyCore) Close() error { return c.summary.Close() }
