package training

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ponder-lab/l2o/checkpoints"
	"github.com/ponder-lab/l2o/policies"
	"github.com/ponder-lab/l2o/problems"
)

// EvalResult is one problem's evaluation: the objective at every step of an
// unperturbed unroll driven by the policy.
type EvalResult struct {
	Problem   string    `json:"problem"`
	Unroll    int       `json:"unroll"`
	Seed      int64     `json:"seed"`
	LossCurve []float64 `json:"loss_curve"`
	FinalLoss float64   `json:"final_loss"`
	MeanLoss  float64   `json:"mean_loss"`
}

// Evaluate unrolls the policy on a problem for the given number of steps,
// without teachers, perturbation or weight updates, and records the loss
// curve.
func Evaluate(policy policies.Policy, prob problems.Problem, unroll int, seed int64) (EvalResult, error) {
	eng, err := NewLossEngine(policy, prob.Clone(), LossEngineConfig{})
	if err != nil {
		return EvalResult{}, err
	}
	mgr := NewUnrollStateManager(policy)
	st, err := mgr.GetInitialState(eng.Problem(), seed, 0)
	if err != nil {
		return EvalResult{}, err
	}
	data := eng.Problem().Dataset(unroll, seed)

	res := EvalResult{
		Problem:   prob.Name(),
		Unroll:    unroll,
		Seed:      seed,
		LossCurve: make([]float64, 0, unroll),
	}
	var sum float64
	for i := 0; i < unroll; i++ {
		obj, err := eng.innerStep(&st, batchAt(data, i))
		if err != nil {
			return EvalResult{}, fmt.Errorf("step %d: %w", i, err)
		}
		res.LossCurve = append(res.LossCurve, obj)
		sum += obj
	}
	final, err := eng.FinalObjective(st, batchAt(data, unroll-1))
	if err != nil {
		return EvalResult{}, err
	}
	res.FinalLoss = final
	res.MeanLoss = sum / float64(unroll)
	return res, nil
}

// EvaluateCheckpoint restores a checkpoint into the policy, evaluates it on
// every problem, and writes the results as JSON beside the checkpoint.
func EvaluateCheckpoint(saver *checkpoints.CheckpointSaver, path string, policy policies.Policy,
	probs []problems.Problem, unroll int, seed int64) ([]EvalResult, error) {

	ckpt, err := saver.LoadCheckpoint(path)
	if err != nil {
		return nil, err
	}
	if err := checkpoints.LoadWeightsInto(ckpt.Weights, policy); err != nil {
		return nil, err
	}

	results := make([]EvalResult, 0, len(probs))
	for _, prob := range probs {
		r, err := Evaluate(policy, prob, unroll, seed)
		if err != nil {
			return nil, fmt.Errorf("problem %q: %w", prob.Name(), err)
		}
		results = append(results, r)
	}

	out := path + ".eval.json"
	file, err := os.Create(out)
	if err != nil {
		return nil, fmt.Errorf("write evaluation results: %w", err)
	}
	defer file.Close()
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return nil, fmt.Errorf("encode evaluation results: %w", err)
	}
	return results, nil
}
