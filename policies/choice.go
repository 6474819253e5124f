package policies

import (
	"fmt"
	"math"

	"github.com/ponder-lab/l2o/tensor"
)

// ChoiceConfig configures a ChoicePolicy.
type ChoiceConfig struct {
	Beta1        float64 // momentum decay constant
	Beta2        float64 // variance decay constant
	Epsilon      float64 // denominator epsilon
	LearningRate float64 // initial step size (trained in log space)
}

// DefaultChoiceConfig returns the standard ChoicePolicy hyperparameters.
func DefaultChoiceConfig() ChoiceConfig {
	return ChoiceConfig{
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-10,
		LearningRate: 0.001,
	}
}

// ChoicePolicy interpolates between an Adam-style and an RMSProp-style update
// at every iteration. Its trainable weights are the two mixing logits and the
// log step size; the per-coordinate hidden state carries the m/v moment
// estimates.
type ChoicePolicy struct {
	beta1   float64
	beta2   float64
	epsilon float64

	logits *tensor.Tensor // [2]: adam weight, rmsprop weight
	logLR  *tensor.Tensor // [1]: log step size

	perturbation Perturbation
}

// NewChoicePolicy creates a ChoicePolicy with the given configuration and
// perturbation. A nil perturbation defaults to NullPerturbation.
func NewChoicePolicy(config ChoiceConfig, ptb Perturbation) (*ChoicePolicy, error) {
	if config.LearningRate <= 0 {
		return nil, fmt.Errorf("choice policy requires a positive learning rate, got %g", config.LearningRate)
	}
	if ptb == nil {
		ptb = &NullPerturbation{}
	}
	return &ChoicePolicy{
		beta1:        config.Beta1,
		beta2:        config.Beta2,
		epsilon:      config.Epsilon,
		logits:       tensor.Zeros([]int{2}),
		logLR:        tensor.Full([]int{1}, math.Log(config.LearningRate)),
		perturbation: ptb,
	}, nil
}

func (p *ChoicePolicy) Name() string { return "Choice" }

// GetInitialState allocates zeroed m/v moment estimates for one variable.
func (p *ChoicePolicy) GetInitialState(v *tensor.Tensor) State {
	return State{
		"m": tensor.ZerosLike(v),
		"v": tensor.ZerosLike(v),
	}
}

// Call computes the blended Adam/RMSProp descent delta for one variable.
func (p *ChoicePolicy) Call(param, grad *tensor.Tensor, state State) (*tensor.Tensor, State, error) {
	m, okM := state["m"]
	v, okV := state["v"]
	if !okM || !okV {
		return nil, nil, fmt.Errorf("choice policy state missing m/v moments")
	}
	if !tensor.ShapesEqual(grad.Shape, m.Shape) {
		return nil, nil, fmt.Errorf("choice policy state shape %v does not match gradient %v", m.Shape, grad.Shape)
	}

	mNew, vNew := rmsMomentum(grad, m, v, p.beta1, p.beta2)

	wAdam, wRMS := softmax2(p.logits.Data[0], p.logits.Data[1])
	lr := math.Exp(p.logLR.Data[0])

	update := tensor.ZerosLike(param)
	for i := range grad.Data {
		mHat := mNew.Data[i] / (1 - p.beta1)
		vHat := vNew.Data[i] / (1 - p.beta2)
		denom := math.Sqrt(vHat + p.epsilon)
		mTilde := mHat / denom
		gTilde := grad.Data[i] / denom
		update.Data[i] = lr * (wAdam*mTilde + wRMS*gTilde)
	}

	return update, State{"m": mNew, "v": vNew}, nil
}

func (p *ChoicePolicy) TrainableWeights() []*tensor.Tensor {
	return []*tensor.Tensor{p.logits, p.logLR}
}

// SetWeights bulk-loads the policy weights, used by checkpoint restore.
func (p *ChoicePolicy) SetWeights(weights []*tensor.Tensor) error {
	return setWeights(p.TrainableWeights(), weights)
}

func (p *ChoicePolicy) Perturbation() Perturbation { return p.perturbation }
