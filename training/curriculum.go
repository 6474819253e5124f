package training

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/ponder-lab/l2o/problems"
)

// ImprovementPolicy selects the baseline a period's validation loss is
// measured against when deciding whether the period improved.
type ImprovementPolicy string

const (
	// ImproveOverBest measures improvement against the best validation
	// loss seen at the current stage.
	ImproveOverBest ImprovementPolicy = "best"
	// ImproveOverPrevious measures improvement against the immediately
	// preceding period.
	ImproveOverPrevious ImprovementPolicy = "previous"
)

// CurriculumConfig configures a CurriculumStrategy.
type CurriculumConfig struct {
	Directory       string
	EpochsPerPeriod int

	// NumStages is the number of curriculum stages before completion.
	NumStages int
	// MaxRepeat advances the stage after this many consecutive
	// non-improving periods.
	MaxRepeat int
	// RepeatThreshold is the minimum improvement that counts; a period
	// improving by no more than this counts against MaxRepeat.
	RepeatThreshold float64
	// NumPeriods caps the periods run at one stage regardless of
	// improvement; zero means uncapped.
	NumPeriods int
	// Improvement selects the improvement baseline; defaults to
	// ImproveOverBest.
	Improvement ImprovementPolicy

	// UnrollBase is the unroll length at stage zero; each stage multiplies
	// it by UnrollMultiplier (default 2).
	UnrollBase       int
	UnrollMultiplier int

	WeightProfile  WeightProfile
	Schedule       Schedule
	ParamScale     float64
	Seed           int64
	ValidationSeed int64
}

// CurriculumStrategy runs learning periods through a staged curriculum:
// each stage doubles (by default) the unroll length, a stage is repeated
// while validation keeps improving, and training completes after the last
// stage. The position in the curriculum is never persisted directly; it is
// reconstructed by replaying the advancement decision over the ledger, so a
// resumed run continues exactly where the rows say it stopped.
type CurriculumStrategy struct {
	core *strategyCore
	cfg  CurriculumConfig

	stage          int
	repeat         int
	periodsAtStage int
	best           float64
	prev           float64
	done           bool
}

// NewCurriculumStrategy claims cfg.Directory and replays any existing
// ledger to reconstruct the curriculum position.
func NewCurriculumStrategy(cfg CurriculumConfig, executor *Executor,
	train, valid []problems.Problem, log *logrus.Entry) (*CurriculumStrategy, error) {

	if cfg.NumStages <= 0 {
		return nil, fmt.Errorf("curriculum requires at least one stage, got %d", cfg.NumStages)
	}
	if cfg.MaxRepeat <= 0 && cfg.NumPeriods <= 0 {
		return nil, fmt.Errorf("curriculum requires max repeat or a period cap, otherwise stages never advance")
	}
	if cfg.UnrollBase <= 0 {
		return nil, fmt.Errorf("curriculum requires a positive base unroll, got %d", cfg.UnrollBase)
	}
	if cfg.UnrollMultiplier <= 0 {
		cfg.UnrollMultiplier = 2
	}
	switch cfg.Improvement {
	case "":
		cfg.Improvement = ImproveOverBest
	case ImproveOverBest, ImproveOverPrevious:
	default:
		return nil, fmt.Errorf("unknown improvement policy %q", cfg.Improvement)
	}

	core, err := newStrategyCore(executor, train, valid,
		cfg.EpochsPerPeriod, cfg.WeightProfile, cfg.Schedule, cfg.ParamScale,
		cfg.ValidationSeed, cfg.Directory, []string{"stage", "repeat", "period"}, log)
	if err != nil {
		return nil, err
	}
	s := &CurriculumStrategy{core: core, cfg: cfg}
	s.resetStageCounters()
	s.replay()
	return s, nil
}

func (s *CurriculumStrategy) Directory() string { return s.core.directory }

func (s *CurriculumStrategy) Done() bool { return s.done }

// Stage reports the current curriculum stage.
func (s *CurriculumStrategy) Stage() int { return s.stage }

// UnrollForStage is the unroll length used at the given stage.
func (s *CurriculumStrategy) UnrollForStage(stage int) int {
	unroll := s.cfg.UnrollBase
	for i := 0; i < stage; i++ {
		unroll *= s.cfg.UnrollMultiplier
	}
	return unroll
}

func (s *CurriculumStrategy) resetStageCounters() {
	s.repeat = 0
	s.periodsAtStage = 0
	s.best = math.Inf(1)
	s.prev = math.Inf(1)
}

// record applies the advancement rule to one period's validation loss and
// moves the curriculum position. It is the single decision procedure: live
// training and ledger replay both go through it.
func (s *CurriculumStrategy) record(validationLoss float64) NextAction {
	s.periodsAtStage++

	baseline := s.best
	if s.cfg.Improvement == ImproveOverPrevious {
		baseline = s.prev
	}
	if baseline-validationLoss > s.cfg.RepeatThreshold {
		s.repeat = 0
	} else {
		s.repeat++
	}
	if validationLoss < s.best {
		s.best = validationLoss
	}
	s.prev = validationLoss

	exhausted := s.cfg.MaxRepeat > 0 && s.repeat >= s.cfg.MaxRepeat
	capped := s.cfg.NumPeriods > 0 && s.periodsAtStage >= s.cfg.NumPeriods
	if !exhausted && !capped {
		return ActionRepeat
	}

	s.stage++
	s.resetStageCounters()
	if s.stage >= s.cfg.NumStages {
		s.done = true
		return ActionComplete
	}
	return ActionAdvanceStage
}

// replay reconstructs the curriculum position from the ledger by re-running
// the advancement decision over every recorded validation loss.
func (s *CurriculumStrategy) replay() {
	rows := s.core.summary.Rows()
	for i, row := range rows {
		if got := int(row["stage"]); got != s.stage {
			s.core.log.WithFields(logrus.Fields{
				"row":      i,
				"recorded": got,
				"replayed": s.stage,
			}).Warn("ledger stage diverges from replayed decision; following replay")
		}
		s.record(row["validation_loss"])
	}
	if len(rows) > 0 {
		s.core.log.WithFields(logrus.Fields{
			"rows":   len(rows),
			"stage":  s.stage,
			"repeat": s.repeat,
			"done":   s.done,
		}).Info("resumed from ledger")
		last := rows[len(rows)-1]
		s.core.restore(s.core.saver.StagePath(int(last["stage"]), int(last["period"])))
	}
}

// Train runs one learning period at the current stage.
func (s *CurriculumStrategy) Train(ctx context.Context) error {
	if s.done {
		return fmt.Errorf("curriculum in %s is complete", s.core.directory)
	}
	stage, period := s.stage, s.periodsAtStage
	unroll := s.UnrollForStage(stage)

	p, err := s.core.learningPeriod(ctx, stage, unroll, s.cfg.Seed+int64(stage))
	if err != nil {
		return fmt.Errorf("stage %d period %d: %w", stage, period, err)
	}
	extra := Row{
		"stage":  float64(stage),
		"repeat": float64(s.repeat),
		"period": float64(period),
	}
	if err := s.core.summary.Append(p, extra); err != nil {
		return err
	}
	if err := s.core.checkpoint(s.core.saver.StagePath(stage, period), stage, period, p.ValidationLoss); err != nil {
		return err
	}

	action := s.record(p.ValidationLoss)
	s.core.log.WithFields(logrus.Fields{
		"stage":           stage,
		"period":          period,
		"unroll":          unroll,
		"training_loss":   p.TrainingLossMean(),
		"validation_loss": p.ValidationLoss,
		"next":            action.String(),
	}).Info("period complete")
	return nil
}

// Close releases the strategy's ledger.
func (s *CurriculumStrategy) Close() error { return s.core.Close() }
