package policies

import (
	"fmt"
	"math"

	"github.com/ponder-lab/l2o/tensor"
)

// ScaleBasicConfig configures a ScaleBasicPolicy.
type ScaleBasicConfig struct {
	InitLR  float64 // initial per-step size
	Decay   float64 // initial RMS decay, in (0, 1)
	Epsilon float64
}

// DefaultScaleBasicConfig returns the standard ScaleBasicPolicy
// hyperparameters.
func DefaultScaleBasicConfig() ScaleBasicConfig {
	return ScaleBasicConfig{
		InitLR:  0.1,
		Decay:   0.9,
		Epsilon: 1e-10,
	}
}

// ScaleBasicPolicy applies an RMS-scaled gradient step whose step size and
// decay constant are trainable (in log and logit space respectively). The
// hidden state carries the running RMS estimate.
type ScaleBasicPolicy struct {
	epsilon float64

	logLR      *tensor.Tensor // [1]: log step size
	decayLogit *tensor.Tensor // [1]: sigmoid^-1 of RMS decay

	perturbation Perturbation
}

// NewScaleBasicPolicy creates a ScaleBasicPolicy. A nil perturbation defaults
// to NullPerturbation.
func NewScaleBasicPolicy(config ScaleBasicConfig, ptb Perturbation) (*ScaleBasicPolicy, error) {
	if config.InitLR <= 0 {
		return nil, fmt.Errorf("scale basic policy requires a positive initial learning rate, got %g", config.InitLR)
	}
	if config.Decay <= 0 || config.Decay >= 1 {
		return nil, fmt.Errorf("scale basic policy requires decay in (0, 1), got %g", config.Decay)
	}
	if ptb == nil {
		ptb = &NullPerturbation{}
	}
	return &ScaleBasicPolicy{
		epsilon:      config.Epsilon,
		logLR:        tensor.Full([]int{1}, math.Log(config.InitLR)),
		decayLogit:   tensor.Full([]int{1}, math.Log(config.Decay/(1-config.Decay))),
		perturbation: ptb,
	}, nil
}

func (p *ScaleBasicPolicy) Name() string { return "ScaleBasic" }

// GetInitialState allocates a zeroed RMS accumulator for one variable.
func (p *ScaleBasicPolicy) GetInitialState(v *tensor.Tensor) State {
	return State{"rms": tensor.ZerosLike(v)}
}

// Call computes the RMS-scaled descent delta for one variable.
func (p *ScaleBasicPolicy) Call(param, grad *tensor.Tensor, state State) (*tensor.Tensor, State, error) {
	rms, ok := state["rms"]
	if !ok {
		return nil, nil, fmt.Errorf("scale basic policy state missing rms accumulator")
	}
	if !tensor.ShapesEqual(grad.Shape, rms.Shape) {
		return nil, nil, fmt.Errorf("scale basic policy state shape %v does not match gradient %v", rms.Shape, grad.Shape)
	}

	decay := sigmoid(p.decayLogit.Data[0])
	lr := math.Exp(p.logLR.Data[0])

	scaled, rmsNew := rmsScaling(grad, rms, decay, p.epsilon)
	update := tensor.Scale(scaled, lr)

	return update, State{"rms": rmsNew}, nil
}

func (p *ScaleBasicPolicy) TrainableWeights() []*tensor.Tensor {
	return []*tensor.Tensor{p.logLR, p.decayLogit}
}

// SetWeights bulk-loads the policy weights, used by checkpoint restore.
func (p *ScaleBasicPolicy) SetWeights(weights []*tensor.Tensor) error {
	return setWeights(p.TrainableWeights(), weights)
}

func (p *ScaleBasicPolicy) Perturbation() Perturbation { return p.perturbation }
