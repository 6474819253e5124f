package training

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ponder-lab/l2o/problems"
)

func TestClaimDirectory(t *testing.T) {
	t.Run("creates missing", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "run")
		if err := claimDirectory(dir); err != nil {
			t.Fatalf("claimDirectory failed: %v", err)
		}
		if _, err := os.Stat(dir); err != nil {
			t.Errorf("directory not created: %v", err)
		}
	})

	t.Run("claims empty", func(t *testing.T) {
		if err := claimDirectory(t.TempDir()); err != nil {
			t.Errorf("claimDirectory on empty dir failed: %v", err)
		}
	})

	t.Run("resumes with ledger", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, SummaryFile), []byte("training_loss_mean\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := claimDirectory(dir); err != nil {
			t.Errorf("claimDirectory on resumable dir failed: %v", err)
		}
	})

	t.Run("rejects foreign files", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		err := claimDirectory(dir)
		if !errors.Is(err, ErrDirectoryConflict) {
			t.Errorf("expected ErrDirectoryConflict, got %v", err)
		}
	})
}

func TestSummaryAppendAndReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenSummary(dir, 2, []string{"period"})
	if err != nil {
		t.Fatalf("OpenSummary failed: %v", err)
	}
	p := TrainingPeriod{TrainingLoss: []float64{2, 4}, ValidationLoss: 3.5}
	if err := s.Append(p, Row{"period": 0}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := OpenSummary(dir, 2, []string{"period"})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	if reopened.Len() != 1 {
		t.Fatalf("reopened ledger has %d rows, want 1", reopened.Len())
	}
	row := reopened.Rows()[0]
	if row["training_loss_mean"] != 3 {
		t.Errorf("training_loss_mean = %v, want 3", row["training_loss_mean"])
	}
	if row["training_loss_0"] != 2 || row["training_loss_1"] != 4 {
		t.Errorf("per-epoch losses = %v, %v, want 2, 4", row["training_loss_0"], row["training_loss_1"])
	}
	if row["validation_loss"] != 3.5 {
		t.Errorf("validation_loss = %v, want 3.5", row["validation_loss"])
	}
}

func TestSummaryLookupMostRecent(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenSummary(dir, 1, []string{"stage", "period"})
	if err != nil {
		t.Fatalf("OpenSummary failed: %v", err)
	}
	defer s.Close()
	for i, val := range []float64{5, 4, 6} {
		p := TrainingPeriod{TrainingLoss: []float64{val}, ValidationLoss: val}
		if err := s.Append(p, Row{"stage": 0, "period": float64(i)}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	row, ok := s.Lookup(Row{"stage": 0})
	if !ok {
		t.Fatal("Lookup found nothing")
	}
	if row["period"] != 2 {
		t.Errorf("Lookup returned period %v, want most recent 2", row["period"])
	}
	if _, ok := s.Lookup(Row{"stage": 3}); ok {
		t.Error("Lookup matched a stage that was never recorded")
	}
}

func TestSummaryRejectsForeignHeader(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, SummaryFile), []byte("a,b\n1,2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenSummary(dir, 1, nil); err == nil {
		t.Error("OpenSummary accepted a mismatched header")
	}
}

func TestUnrollWeights(t *testing.T) {
	cases := []struct {
		profile WeightProfile
		n       int
		want    []float64
	}{
		{WeightsMean, 4, []float64{0.25, 0.25, 0.25, 0.25}},
		{WeightsSum, 3, []float64{1, 1, 1}},
		{WeightsLast, 3, []float64{0, 0, 1}},
		{WeightsLinear, 3, []float64{1.0 / 6, 2.0 / 6, 3.0 / 6}},
	}
	for _, tc := range cases {
		t.Run(string(tc.profile), func(t *testing.T) {
			got, err := UnrollWeights(tc.profile, tc.n)
			if err != nil {
				t.Fatalf("UnrollWeights failed: %v", err)
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Errorf("weight[%d] = %v, want %v", i, got[i], tc.want[i])
				}
			}
		})
	}
	if _, err := UnrollWeights("bogus", 3); err == nil {
		t.Error("UnrollWeights accepted an unknown profile")
	}
}

func TestAnnealingSchedule(t *testing.T) {
	s := AnnealingSchedule{InitialImitation: 0.8, Decay: 0.5, WarmupEpochs: 2}

	_, imit0 := s.Weights(0, 5)
	_, imit1 := s.Weights(1, 5)
	if imit1 != imit0/2 {
		t.Errorf("stage decay: imitation went %v -> %v, want halved", imit0, imit1)
	}

	meta, imit := s.Weights(0, 0)
	if imit != 0.4 {
		t.Errorf("warmup epoch 0 imitation = %v, want 0.4", imit)
	}
	if meta+imit != 1 {
		t.Errorf("blend sums to %v, want 1", meta+imit)
	}
}

// With threshold 0.9 and max repeat 2, two consecutive periods that fail to
// improve by more than 0.9 advance the stage and reset the repeat counter.
func TestCurriculumRepeatThresholdAdvancement(t *testing.T) {
	s := &CurriculumStrategy{cfg: CurriculumConfig{
		NumStages:       3,
		MaxRepeat:       2,
		RepeatThreshold: 0.9,
		Improvement:     ImproveOverBest,
	}}
	s.resetStageCounters()

	if got := s.record(10); got != ActionRepeat {
		t.Fatalf("first period: %v, want repeat", got)
	}
	if got := s.record(9.5); got != ActionRepeat {
		t.Fatalf("non-improving period 1: %v, want repeat", got)
	}
	if s.repeat != 1 {
		t.Fatalf("repeat = %d after one non-improving period, want 1", s.repeat)
	}
	if got := s.record(9.4); got != ActionAdvanceStage {
		t.Fatalf("non-improving period 2: %v, want advance", got)
	}
	if s.stage != 1 || s.repeat != 0 {
		t.Errorf("after advance: stage %d repeat %d, want stage 1 repeat 0", s.stage, s.repeat)
	}

	// Large improvement keeps the stage.
	if got := s.record(5); got != ActionRepeat {
		t.Errorf("improving period: %v, want repeat", got)
	}
}

func TestCurriculumPeriodCapAdvances(t *testing.T) {
	s := &CurriculumStrategy{cfg: CurriculumConfig{
		NumStages:       2,
		MaxRepeat:       10,
		RepeatThreshold: 0,
		NumPeriods:      2,
		Improvement:     ImproveOverBest,
	}}
	s.resetStageCounters()

	if got := s.record(10); got != ActionRepeat {
		t.Fatalf("period 0: %v, want repeat", got)
	}
	if got := s.record(1); got != ActionAdvanceStage {
		t.Fatalf("period cap reached: %v, want advance", got)
	}
	if got := s.record(10); got != ActionRepeat {
		t.Fatalf("stage 1 period 0: %v, want repeat", got)
	}
	if got := s.record(1); got != ActionComplete {
		t.Fatalf("last stage exhausted: %v, want complete", got)
	}
	if !s.done {
		t.Error("strategy not done after completing the last stage")
	}
}

func curriculumConfig(dir string) CurriculumConfig {
	return CurriculumConfig{
		Directory:       dir,
		EpochsPerPeriod: 1,
		NumStages:       2,
		MaxRepeat:       2,
		RepeatThreshold: 0.9,
		UnrollBase:      2,
		Seed:            5,
		ValidationSeed:  17,
	}
}

// Reconstructing a strategy from its ledger must be idempotent: reopening
// the same directory any number of times yields the same curriculum
// position.
func TestCurriculumReplayIdempotent(t *testing.T) {
	dir := t.TempDir()
	prob := []problems.Problem{problems.NewConstant(1, 2)}

	first, err := NewCurriculumStrategy(curriculumConfig(dir), testExecutor(t, 1), prob, nil, nil)
	if err != nil {
		t.Fatalf("NewCurriculumStrategy failed: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := first.Train(ctx); err != nil {
			t.Fatalf("Train %d failed: %v", i, err)
		}
	}
	wantStage, wantRepeat, wantPeriods := first.stage, first.repeat, first.periodsAtStage
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		again, err := NewCurriculumStrategy(curriculumConfig(dir), testExecutor(t, 1), prob, nil, nil)
		if err != nil {
			t.Fatalf("reopen %d failed: %v", i, err)
		}
		if again.stage != wantStage || again.repeat != wantRepeat || again.periodsAtStage != wantPeriods {
			t.Errorf("reopen %d: position (%d,%d,%d), want (%d,%d,%d)", i,
				again.stage, again.repeat, again.periodsAtStage, wantStage, wantRepeat, wantPeriods)
		}
		if err := again.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}
}

// A run on the constant-1 problem pins every ledger value: one Train call
// with two epochs per period must record training losses [1, 1], their mean
// 1, validation loss 1, one ledger row and one checkpoint.
func TestSimpleStrategyConstantEndToEnd(t *testing.T) {
	dir := t.TempDir()
	cfg := SimpleConfig{
		Directory:       dir,
		EpochsPerPeriod: 2,
		Unroll:          2,
		Seed:            3,
		ValidationSeed:  13,
	}
	prob := []problems.Problem{problems.NewConstant(1, 2)}
	s, err := NewSimpleStrategy(cfg, testExecutor(t, 1), prob, nil, nil)
	if err != nil {
		t.Fatalf("NewSimpleStrategy failed: %v", err)
	}
	defer s.Close()

	if err := s.Train(context.Background()); err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	if s.core.summary.Len() != 1 {
		t.Fatalf("ledger has %d rows, want 1", s.core.summary.Len())
	}
	row := s.core.summary.Rows()[0]
	if row["training_loss_mean"] != 1 {
		t.Errorf("training_loss_mean = %v, want 1", row["training_loss_mean"])
	}
	if row["training_loss_0"] != 1 || row["training_loss_1"] != 1 {
		t.Errorf("training losses = [%v, %v], want [1, 1]", row["training_loss_0"], row["training_loss_1"])
	}
	if row["validation_loss"] != 1 {
		t.Errorf("validation_loss = %v, want 1", row["validation_loss"])
	}
	if row["period"] != 0 {
		t.Errorf("period = %v, want 0", row["period"])
	}

	if _, err := os.Stat(filepath.Join(dir, "period_0.json")); err != nil {
		t.Errorf("checkpoint missing: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	// summary.csv plus exactly one checkpoint.
	if len(entries) != 2 {
		t.Errorf("directory holds %d entries, want 2", len(entries))
	}
}

func TestSimpleStrategyResume(t *testing.T) {
	dir := t.TempDir()
	cfg := SimpleConfig{
		Directory:       dir,
		EpochsPerPeriod: 1,
		Unroll:          2,
		MaxPeriods:      2,
	}
	prob := []problems.Problem{problems.NewConstant(1, 2)}

	s, err := NewSimpleStrategy(cfg, testExecutor(t, 1), prob, nil, nil)
	if err != nil {
		t.Fatalf("NewSimpleStrategy failed: %v", err)
	}
	if err := s.Train(context.Background()); err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	s.Close()

	resumed, err := NewSimpleStrategy(cfg, testExecutor(t, 1), prob, nil, nil)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	defer resumed.Close()
	if resumed.period != 1 {
		t.Fatalf("resumed at period %d, want 1", resumed.period)
	}
	if err := resumed.Train(context.Background()); err != nil {
		t.Fatalf("Train after resume failed: %v", err)
	}
	if !resumed.Done() {
		t.Error("strategy not done after max periods")
	}
	if err := resumed.Train(context.Background()); err == nil {
		t.Error("Train on a completed strategy succeeded")
	}
}

func TestEvaluateDescendsQuadratic(t *testing.T) {
	res, err := Evaluate(testPolicy(t), testQuadratic(t), 20, 3)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(res.LossCurve) != 20 {
		t.Fatalf("loss curve has %d points, want 20", len(res.LossCurve))
	}
	if res.FinalLoss >= res.LossCurve[0] {
		t.Errorf("policy did not descend: first %v, final %v", res.LossCurve[0], res.FinalLoss)
	}
}
