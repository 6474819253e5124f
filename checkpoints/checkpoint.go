// Package checkpoints serializes learned-optimizer weights and training
// progress to JSON files keyed by curriculum coordinates.
package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ponder-lab/l2o/policies"
	"github.com/ponder-lab/l2o/tensor"
)

// Checkpoint represents a complete policy state: its weights plus the
// training progress that produced them.
type Checkpoint struct {
	Policy  string         `json:"policy"`
	Weights []WeightTensor `json:"weights"`

	TrainingState TrainingState `json:"training_state"`

	Metadata CheckpointMetadata `json:"metadata"`
}

// WeightTensor represents one policy weight tensor with its data.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// TrainingState captures where in the curriculum the checkpoint was taken.
type TrainingState struct {
	Stage          int     `json:"stage"`
	Period         int     `json:"period"`
	ValidationLoss float64 `json:"validation_loss"`
}

// CheckpointMetadata contains checkpoint provenance.
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// CheckpointSaver handles saving and loading policy checkpoints.
type CheckpointSaver struct {
	dir string
}

// NewCheckpointSaver creates a saver rooted at dir.
func NewCheckpointSaver(dir string) *CheckpointSaver {
	return &CheckpointSaver{dir: dir}
}

// PeriodPath names the checkpoint for a flat (stageless) period.
func (cs *CheckpointSaver) PeriodPath(period int) string {
	return filepath.Join(cs.dir, fmt.Sprintf("period_%d.json", period))
}

// StagePath names the checkpoint for one period of one curriculum stage.
func (cs *CheckpointSaver) StagePath(stage, period int) string {
	return filepath.Join(cs.dir, fmt.Sprintf("stage_%d", stage), fmt.Sprintf("period_%d.json", period))
}

// SaveCheckpoint writes checkpoint to path, creating parent directories as
// needed.
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) error {
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = "l2o"
		checkpoint.Metadata.Version = "1.0.0"
		checkpoint.Metadata.CreatedAt = time.Now()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %v", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %v", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(checkpoint); err != nil {
		return fmt.Errorf("failed to encode checkpoint: %v", err)
	}

	return nil
}

// LoadCheckpoint reads a checkpoint from path.
func (cs *CheckpointSaver) LoadCheckpoint(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %v", err)
	}
	defer file.Close()

	var checkpoint Checkpoint
	decoder := json.NewDecoder(file)

	if err := decoder.Decode(&checkpoint); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
	}

	return &checkpoint, nil
}

// ExtractWeights snapshots a policy's trainable weights.
func ExtractWeights(policy policies.Policy) []WeightTensor {
	live := policy.TrainableWeights()
	weights := make([]WeightTensor, len(live))
	for i, w := range live {
		weights[i] = WeightTensor{
			Name:  fmt.Sprintf("%s/weight_%d", policy.Name(), i),
			Shape: append([]int(nil), w.Shape...),
			Data:  append([]float64(nil), w.Data...),
		}
	}
	return weights
}

// LoadWeightsInto restores checkpoint weights into a policy. The policy must
// accept bulk weight loads and its weight shapes must match the checkpoint.
func LoadWeightsInto(weights []WeightTensor, policy policies.Policy) error {
	wp, ok := policy.(policies.WeightedPolicy)
	if !ok {
		return fmt.Errorf("policy %q does not support weight restore", policy.Name())
	}
	tensors := make([]*tensor.Tensor, len(weights))
	for i, w := range weights {
		t, err := tensor.New(w.Shape, w.Data)
		if err != nil {
			return fmt.Errorf("checkpoint weight %q: %v", w.Name, err)
		}
		tensors[i] = t
	}
	if err := wp.SetWeights(tensors); err != nil {
		return fmt.Errorf("failed to restore weights into %q: %v", policy.Name(), err)
	}
	return nil
}
