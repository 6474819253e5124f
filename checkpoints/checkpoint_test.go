package checkpoints

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ponder-lab/l2o/policies"
)

func testPolicy(t *testing.T) *policies.ChoicePolicy {
	t.Helper()
	policy, err := policies.NewChoicePolicy(policies.DefaultChoiceConfig(), &policies.NullPerturbation{})
	if err != nil {
		t.Fatalf("NewChoicePolicy failed: %v", err)
	}
	return policy
}

func TestCheckpointSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	saver := NewCheckpointSaver(dir)
	policy := testPolicy(t)

	// Nudge the weights so the round trip carries non-default values.
	policy.TrainableWeights()[0].Data[0] = 0.75

	original := &Checkpoint{
		Policy:  policy.Name(),
		Weights: ExtractWeights(policy),
		TrainingState: TrainingState{
			Stage:          1,
			Period:         3,
			ValidationLoss: 0.125,
		},
	}
	path := saver.StagePath(1, 3)
	if err := saver.SaveCheckpoint(original, path); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	loaded, err := saver.LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if loaded.Policy != original.Policy {
		t.Errorf("policy = %q, want %q", loaded.Policy, original.Policy)
	}
	if loaded.TrainingState != original.TrainingState {
		t.Errorf("training state = %+v, want %+v", loaded.TrainingState, original.TrainingState)
	}
	if len(loaded.Weights) != len(original.Weights) {
		t.Fatalf("weight count = %d, want %d", len(loaded.Weights), len(original.Weights))
	}
	if loaded.Weights[0].Data[0] != 0.75 {
		t.Errorf("weight[0][0] = %v, want 0.75", loaded.Weights[0].Data[0])
	}
	if loaded.Metadata.Framework != "l2o" {
		t.Errorf("framework = %q, want l2o", loaded.Metadata.Framework)
	}
}

func TestLoadWeightsIntoPolicy(t *testing.T) {
	source := testPolicy(t)
	source.TrainableWeights()[0].Data[0] = -1.5
	weights := ExtractWeights(source)

	target := testPolicy(t)
	if err := LoadWeightsInto(weights, target); err != nil {
		t.Fatalf("LoadWeightsInto failed: %v", err)
	}
	if got := target.TrainableWeights()[0].Data[0]; got != -1.5 {
		t.Errorf("restored weight = %v, want -1.5", got)
	}

	// Weight snapshots must be copies, never views of the live tensors.
	source.TrainableWeights()[0].Data[0] = 9
	if weights[0].Data[0] == 9 {
		t.Error("extracted weights alias the live policy tensors")
	}
}

func TestLoadWeightsShapeMismatch(t *testing.T) {
	weights := []WeightTensor{{Name: "bad", Shape: []int{5}, Data: make([]float64, 5)}}
	if err := LoadWeightsInto(weights, testPolicy(t)); err == nil {
		t.Error("LoadWeightsInto accepted mismatched shapes")
	}
}

func TestLoadCheckpointMissingFile(t *testing.T) {
	saver := NewCheckpointSaver(t.TempDir())
	if _, err := saver.LoadCheckpoint(saver.PeriodPath(0)); err == nil {
		t.Error("LoadCheckpoint succeeded on a missing file")
	}
}

func TestCheckpointPaths(t *testing.T) {
	saver := NewCheckpointSaver("work")
	if got := saver.PeriodPath(2); got != filepath.Join("work", "period_2.json") {
		t.Errorf("PeriodPath = %q", got)
	}
	if got := saver.StagePath(1, 4); got != filepath.Join("work", "stage_1", "period_4.json") {
		t.Errorf("StagePath = %q", got)
	}
}

func TestSaveCreatesParentDirectories(t *testing.T) {
	dir := t.TempDir()
	saver := NewCheckpointSaver(dir)
	ckpt := &Checkpoint{Policy: "choice"}
	path := saver.StagePath(3, 0)
	if err := saver.SaveCheckpoint(ckpt, path); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "stage_3")); err != nil {
		t.Errorf("stage directory not created: %v", err)
	}
}
