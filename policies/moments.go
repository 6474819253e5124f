package policies

import (
	"fmt"
	"math"

	"github.com/ponder-lab/l2o/tensor"
)

func errWeightCount(want, got int) error {
	return fmt.Errorf("policy weight count mismatch: have %d slots, got %d tensors", want, got)
}

// rmsMomentum updates running first and second moment estimates in the style
// of Adam: m <- b1*m + (1-b1)*g, v <- b2*v + (1-b2)*g^2.
func rmsMomentum(grad, m, v *tensor.Tensor, beta1, beta2 float64) (*tensor.Tensor, *tensor.Tensor) {
	mNew := tensor.ZerosLike(m)
	vNew := tensor.ZerosLike(v)
	for i := range grad.Data {
		g := grad.Data[i]
		mNew.Data[i] = beta1*m.Data[i] + (1-beta1)*g
		vNew.Data[i] = beta2*v.Data[i] + (1-beta2)*g*g
	}
	return mNew, vNew
}

// rmsScaling normalizes a gradient by a running RMS estimate:
// rms <- decay*rms + (1-decay)*g^2, out = g / sqrt(rms + eps).
func rmsScaling(grad, rms *tensor.Tensor, decay, eps float64) (*tensor.Tensor, *tensor.Tensor) {
	rmsNew := tensor.ZerosLike(rms)
	out := tensor.ZerosLike(grad)
	for i := range grad.Data {
		g := grad.Data[i]
		rmsNew.Data[i] = decay*rms.Data[i] + (1-decay)*g*g
		out.Data[i] = g / math.Sqrt(rmsNew.Data[i]+eps)
	}
	return out, rmsNew
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func softmax2(a, b float64) (float64, float64) {
	m := math.Max(a, b)
	ea := math.Exp(a - m)
	eb := math.Exp(b - m)
	z := ea + eb
	return ea / z, eb / z
}
