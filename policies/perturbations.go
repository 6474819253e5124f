package policies

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/ponder-lab/l2o/tensor"
)

// Perturbation is a transient adversarial offset applied to problem
// parameters while a loss is evaluated. Perturbation variables are never part
// of the policy's trainable weights, and must be fully reset before weight
// gradients are computed and again after the outer update.
type Perturbation interface {
	// AttackSteps is the number of gradient-ascent rounds the step executor
	// runs against the perturbation variables. Zero disables the sub-loop.
	AttackSteps() int

	// Build allocates perturbation variables matching the problem's variable
	// group shapes. Must be called before Add or ApplyGradients.
	Build(vars []*tensor.Tensor)

	// Add returns the perturbed view of variable group i. The input is not
	// modified.
	Add(i int, param *tensor.Tensor) *tensor.Tensor

	// Reset zeroes all perturbation variables. Idempotent.
	Reset()

	// Variables exposes the perturbation variables for gradient computation.
	Variables() []*tensor.Tensor

	// ApplyGradients takes one ascent step on the perturbation variables.
	// grads must parallel Variables().
	ApplyGradients(grads []*tensor.Tensor) error
}

// NullPerturbation is the identity perturbation.
type NullPerturbation struct{}

func (p *NullPerturbation) AttackSteps() int                            { return 0 }
func (p *NullPerturbation) Build(vars []*tensor.Tensor)                 {}
func (p *NullPerturbation) Add(i int, t *tensor.Tensor) *tensor.Tensor  { return t }
func (p *NullPerturbation) Reset()                                      {}
func (p *NullPerturbation) Variables() []*tensor.Tensor                 { return nil }
func (p *NullPerturbation) ApplyGradients(grads []*tensor.Tensor) error { return nil }

// RandomPerturbation offsets every parameter read by gaussian noise sampled
// once per step: the first Add after a Reset draws each variable group's
// offset, and every later read of that group sees the identical offset.
// Repeated loss evaluations inside one step must agree, or finite-difference
// gradients through the perturbed parameters turn into amplified noise.
// Reset discards the sample. The noise store is guarded so concurrent
// replicas can share one instance.
type RandomPerturbation struct {
	NoiseStddev float64
	Rand        *rand.Rand

	mu    sync.Mutex
	noise map[int]*tensor.Tensor
}

// NewRandomPerturbation creates a RandomPerturbation with the given stddev
// and seed.
func NewRandomPerturbation(stddev float64, seed int64) *RandomPerturbation {
	return &RandomPerturbation{NoiseStddev: stddev, Rand: rand.New(rand.NewSource(seed))}
}

func (p *RandomPerturbation) AttackSteps() int            { return 0 }
func (p *RandomPerturbation) Build(vars []*tensor.Tensor) {}

func (p *RandomPerturbation) Add(i int, t *tensor.Tensor) *tensor.Tensor {
	p.mu.Lock()
	n, ok := p.noise[i]
	if !ok || !tensor.ShapesEqual(n.Shape, t.Shape) {
		n = tensor.Scale(tensor.Randn(t.Shape, p.Rand), p.NoiseStddev)
		if p.noise == nil {
			p.noise = make(map[int]*tensor.Tensor)
		}
		p.noise[i] = n
	}
	p.mu.Unlock()

	out, err := tensor.Add(t, n)
	if err != nil {
		return t
	}
	return out
}

func (p *RandomPerturbation) Reset() {
	p.mu.Lock()
	p.noise = nil
	p.mu.Unlock()
}

func (p *RandomPerturbation) Variables() []*tensor.Tensor                 { return nil }
func (p *RandomPerturbation) ApplyGradients(grads []*tensor.Tensor) error { return nil }

// FGSMPerturbation implements the fast gradient sign method: one ascent round
// stepping each perturbation variable by sign(grad) * StepSize.
type FGSMPerturbation struct {
	StepSize float64
	vars     []*tensor.Tensor
}

// NewFGSMPerturbation creates an FGSMPerturbation. StepSize must be positive.
func NewFGSMPerturbation(stepSize float64) (*FGSMPerturbation, error) {
	if stepSize <= 0 {
		return nil, fmt.Errorf("fgsm perturbation requires a positive step size, got %g", stepSize)
	}
	return &FGSMPerturbation{StepSize: stepSize}, nil
}

func (p *FGSMPerturbation) AttackSteps() int { return 1 }

func (p *FGSMPerturbation) Build(vars []*tensor.Tensor) {
	p.vars = tensor.ZerosLikeAll(vars)
}

func (p *FGSMPerturbation) Add(i int, t *tensor.Tensor) *tensor.Tensor {
	if i >= len(p.vars) {
		return t
	}
	out, err := tensor.Add(t, p.vars[i])
	if err != nil {
		return t
	}
	return out
}

func (p *FGSMPerturbation) Reset() {
	for _, v := range p.vars {
		v.Zero()
	}
}

func (p *FGSMPerturbation) Variables() []*tensor.Tensor { return p.vars }

func (p *FGSMPerturbation) ApplyGradients(grads []*tensor.Tensor) error {
	if len(grads) != len(p.vars) {
		return fmt.Errorf("fgsm: %d gradients for %d perturbation variables", len(grads), len(p.vars))
	}
	for i, g := range grads {
		if err := tensor.AddScaled(p.vars[i], tensor.Sign(g), p.StepSize); err != nil {
			return err
		}
	}
	return nil
}

// PGDNorm selects the projection norm for PGDPerturbation.
type PGDNorm string

const (
	PGDNormL2    PGDNorm = "l2"    // ordinary L2 ball
	PGDNormScale PGDNorm = "scale" // L2 ball scaled by parameter count
	PGDNormInf   PGDNorm = "inf"   // L-infinity box
)

// PGDPerturbation implements projected gradient descent: Steps ascent rounds
// of LearningRate-sized steps, each projected back onto the configured ball.
type PGDPerturbation struct {
	Steps        int
	Magnitude    float64
	Norm         PGDNorm
	LearningRate float64

	vars []*tensor.Tensor
}

// NewPGDPerturbation creates a PGDPerturbation.
func NewPGDPerturbation(steps int, magnitude float64, norm PGDNorm, learningRate float64) (*PGDPerturbation, error) {
	if steps <= 0 {
		return nil, fmt.Errorf("pgd perturbation requires at least one step, got %d", steps)
	}
	switch norm {
	case PGDNormL2, PGDNormScale, PGDNormInf:
	default:
		return nil, fmt.Errorf("unknown pgd norm %q", norm)
	}
	return &PGDPerturbation{
		Steps:        steps,
		Magnitude:    magnitude,
		Norm:         norm,
		LearningRate: learningRate,
	}, nil
}

func (p *PGDPerturbation) AttackSteps() int { return p.Steps }

func (p *PGDPerturbation) Build(vars []*tensor.Tensor) {
	p.vars = tensor.ZerosLikeAll(vars)
}

func (p *PGDPerturbation) Add(i int, t *tensor.Tensor) *tensor.Tensor {
	if i >= len(p.vars) {
		return t
	}
	out, err := tensor.Add(t, p.vars[i])
	if err != nil {
		return t
	}
	return out
}

func (p *PGDPerturbation) Reset() {
	for _, v := range p.vars {
		v.Zero()
	}
}

func (p *PGDPerturbation) Variables() []*tensor.Tensor { return p.vars }

func (p *PGDPerturbation) ApplyGradients(grads []*tensor.Tensor) error {
	if len(grads) != len(p.vars) {
		return fmt.Errorf("pgd: %d gradients for %d perturbation variables", len(grads), len(p.vars))
	}
	for i, g := range grads {
		v := p.vars[i]
		if err := tensor.AddScaled(v, g, p.LearningRate); err != nil {
			return err
		}
		switch p.Norm {
		case PGDNormL2:
			tensor.ClipByNorm(v, p.Magnitude)
		case PGDNormScale:
			tensor.ClipByNorm(v, p.Magnitude*float64(v.Size()))
		case PGDNormInf:
			tensor.ClipByValue(v, p.Magnitude)
		}
	}
	return nil
}

// projection sanity helper used in tests.
func maxAbs(t *tensor.Tensor) float64 {
	var m float64
	for _, v := range t.Data {
		m = math.Max(m, math.Abs(v))
	}
	return m
}
