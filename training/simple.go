package training

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ponder-lab/l2o/problems"
)

// SimpleConfig configures a SimpleStrategy.
type SimpleConfig struct {
	Directory       string
	EpochsPerPeriod int
	Unroll          int

	// MaxPeriods caps the run; zero means the caller decides when to stop.
	MaxPeriods int

	WeightProfile  WeightProfile
	Schedule       Schedule
	ParamScale     float64
	Seed           int64
	ValidationSeed int64
}

// SimpleStrategy runs a flat sequence of identical learning periods with a
// fixed unroll length. Each Train call runs one period, appends one ledger
// row and writes one checkpoint; resuming over an existing directory picks
// up at the row count.
type SimpleStrategy struct {
	core   *strategyCore
	cfg    SimpleConfig
	period int
	done   bool
}

// NewSimpleStrategy claims cfg.Directory and positions the strategy after
// the last recorded period.
func NewSimpleStrategy(cfg SimpleConfig, executor *Executor,
	train, valid []problems.Problem, log *logrus.Entry) (*SimpleStrategy, error) {

	if cfg.Unroll <= 0 {
		return nil, fmt.Errorf("simple strategy requires a positive unroll, got %d", cfg.Unroll)
	}
	core, err := newStrategyCore(executor, train, valid,
		cfg.EpochsPerPeriod, cfg.WeightProfile, cfg.Schedule, cfg.ParamScale,
		cfg.ValidationSeed, cfg.Directory, []string{"period"}, log)
	if err != nil {
		return nil, err
	}
	s := &SimpleStrategy{core: core, cfg: cfg}
	s.period = core.summary.Len()
	if cfg.MaxPeriods > 0 && s.period >= cfg.MaxPeriods {
		s.done = true
	}
	if s.period > 0 {
		core.log.WithField("period", s.period).Info("resumed from ledger")
		core.restore(core.saver.PeriodPath(s.period - 1))
	}
	return s, nil
}

func (s *SimpleStrategy) Directory() string { return s.core.directory }

func (s *SimpleStrategy) Done() bool { return s.done }

// Train runs one learning period.
func (s *SimpleStrategy) Train(ctx context.Context) error {
	if s.done {
		return fmt.Errorf("strategy in %s is complete", s.core.directory)
	}
	p, err := s.core.learningPeriod(ctx, 0, s.cfg.Unroll, s.cfg.Seed)
	if err != nil {
		return fmt.Errorf("period %d: %w", s.period, err)
	}
	if err := s.core.summary.Append(p, Row{"period": float64(s.period)}); err != nil {
		return err
	}
	if err := s.core.checkpoint(s.core.saver.PeriodPath(s.period), 0, s.period, p.ValidationLoss); err != nil {
		return err
	}
	s.core.log.WithFields(logrus.Fields{
		"period":          s.period,
		"training_loss":   p.TrainingLossMean(),
		"validation_loss": p.ValidationLoss,
	}).Info("period complete")

	s.period++
	if s.cfg.MaxPeriods > 0 && s.period >= s.cfg.MaxPeriods {
		s.done = true
	}
	return nil
}

// Close releases the strategy's ledger.
func (s *SimpleStrategy) Close() error { return s.core.Close() }
