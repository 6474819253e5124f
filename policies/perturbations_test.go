package policies

import (
	"math"
	"testing"

	"github.com/ponder-lab/l2o/tensor"
)

func TestFGSMResetIdempotent(t *testing.T) {
	ptb, err := NewFGSMPerturbation(0.01)
	if err != nil {
		t.Fatalf("constructor failed: %v", err)
	}
	vars := []*tensor.Tensor{tensor.Full([]int{3}, 1.0), tensor.Full([]int{2}, 1.0)}
	ptb.Build(vars)

	grads := []*tensor.Tensor{tensor.Full([]int{3}, -2.0), tensor.Full([]int{2}, 5.0)}
	if err := ptb.ApplyGradients(grads); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if ptb.Variables()[0].Data[0] != -0.01 {
		t.Errorf("expected -0.01 after sign ascent, got %f", ptb.Variables()[0].Data[0])
	}

	ptb.Reset()
	ptb.Reset()
	for _, v := range ptb.Variables() {
		for _, x := range v.Data {
			if x != 0 {
				t.Fatal("reset(); reset() must leave all perturbation variables at zero")
			}
		}
	}
}

func TestFGSMAddDoesNotMutateInput(t *testing.T) {
	ptb, _ := NewFGSMPerturbation(0.5)
	vars := []*tensor.Tensor{tensor.Zeros([]int{2})}
	ptb.Build(vars)
	ptb.Variables()[0].Data[0] = 0.5

	param := tensor.Full([]int{2}, 1.0)
	out := ptb.Add(0, param)
	if out.Data[0] != 1.5 {
		t.Errorf("expected perturbed value 1.5, got %f", out.Data[0])
	}
	if param.Data[0] != 1.0 {
		t.Error("Add must not mutate the input parameter")
	}
}

func TestPGDProjection(t *testing.T) {
	tests := []struct {
		name  string
		norm  PGDNorm
		check func(v *tensor.Tensor) bool
	}{
		{"l2", PGDNormL2, func(v *tensor.Tensor) bool {
			return math.Sqrt(tensor.SumSquares(v)) <= 0.1+1e-12
		}},
		{"inf", PGDNormInf, func(v *tensor.Tensor) bool {
			return maxAbs(v) <= 0.1+1e-12
		}},
		{"scale", PGDNormScale, func(v *tensor.Tensor) bool {
			return math.Sqrt(tensor.SumSquares(v)) <= 0.1*float64(v.Size())+1e-12
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ptb, err := NewPGDPerturbation(3, 0.1, tt.norm, 10.0)
			if err != nil {
				t.Fatalf("constructor failed: %v", err)
			}
			vars := []*tensor.Tensor{tensor.Zeros([]int{4})}
			ptb.Build(vars)

			grads := []*tensor.Tensor{tensor.Full([]int{4}, 3.0)}
			for i := 0; i < ptb.AttackSteps(); i++ {
				if err := ptb.ApplyGradients(grads); err != nil {
					t.Fatalf("apply failed: %v", err)
				}
			}
			if !tt.check(ptb.Variables()[0]) {
				t.Errorf("perturbation escaped the %s ball: %v", tt.norm, ptb.Variables()[0].Data)
			}
		})
	}
}

// One gaussian sample per step: every read of a variable group between
// resets sees the identical offset, so repeated loss evaluations agree, and
// the offset never leaks into the input.
func TestRandomPerturbationStableBetweenResets(t *testing.T) {
	ptb := NewRandomPerturbation(0.1, 3)
	param := tensor.Full([]int{4}, 2.0)

	first := ptb.Add(0, param)
	second := ptb.Add(0, param)
	for i := range first.Data {
		if first.Data[i] != second.Data[i] {
			t.Fatalf("offset resampled between reads: %v then %v", first.Data, second.Data)
		}
	}
	if param.Data[0] != 2.0 {
		t.Error("Add must not mutate the input parameter")
	}

	ptb.Reset()
	fresh := ptb.Add(0, param)
	same := true
	for i := range fresh.Data {
		if fresh.Data[i] != first.Data[i] {
			same = false
		}
	}
	if same {
		t.Error("reset must discard the sampled offset")
	}
}

func TestNullPerturbationIsIdentity(t *testing.T) {
	ptb := &NullPerturbation{}
	param := tensor.Full([]int{2}, 7.0)
	if out := ptb.Add(0, param); out != param {
		t.Error("null perturbation must return the parameter unchanged")
	}
	if ptb.AttackSteps() != 0 {
		t.Error("null perturbation must not request attack steps")
	}
}
