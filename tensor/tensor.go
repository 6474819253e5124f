package tensor

import (
	"fmt"
	"math"
	"math/rand"
)

// Tensor is a dense CPU tensor of float64 values with row-major layout.
// All meta-training state (problem parameters, policy hidden state, policy
// weights) is held in Tensors.
type Tensor struct {
	Shape []int
	Data  []float64
}

// New creates a tensor with the given shape and data. The data length must
// match the shape's element count.
func New(shape []int, data []float64) (*Tensor, error) {
	n := numElements(shape)
	if len(data) != n {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(data), shape, n)
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: data}, nil
}

// Zeros creates a zero-filled tensor with the given shape.
func Zeros(shape []int) *Tensor {
	return &Tensor{
		Shape: append([]int(nil), shape...),
		Data:  make([]float64, numElements(shape)),
	}
}

// ZerosLike creates a zero-filled tensor with the same shape as t.
func ZerosLike(t *Tensor) *Tensor {
	return Zeros(t.Shape)
}

// Full creates a tensor with every element set to value.
func Full(shape []int, value float64) *Tensor {
	t := Zeros(shape)
	for i := range t.Data {
		t.Data[i] = value
	}
	return t
}

// Scalar creates a rank-1 tensor holding a single value.
func Scalar(value float64) *Tensor {
	return &Tensor{Shape: []int{1}, Data: []float64{value}}
}

// Randn creates a tensor with elements drawn from a standard normal
// distribution using the supplied source.
func Randn(shape []int, rng *rand.Rand) *Tensor {
	t := Zeros(shape)
	for i := range t.Data {
		t.Data[i] = rng.NormFloat64()
	}
	return t
}

// Clone returns a deep copy of t.
func (t *Tensor) Clone() *Tensor {
	c := Zeros(t.Shape)
	copy(c.Data, t.Data)
	return c
}

// Size returns the number of elements in t.
func (t *Tensor) Size() int {
	return len(t.Data)
}

// Item returns the single element of a one-element tensor.
func (t *Tensor) Item() (float64, error) {
	if len(t.Data) != 1 {
		return 0, fmt.Errorf("Item requires a one-element tensor, got %d elements", len(t.Data))
	}
	return t.Data[0], nil
}

// Zero resets all elements of t to zero in place.
func (t *Tensor) Zero() {
	for i := range t.Data {
		t.Data[i] = 0
	}
}

// CopyFrom overwrites t's data with src's data. Shapes must match.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if !ShapesEqual(t.Shape, src.Shape) {
		return fmt.Errorf("shape mismatch: %v vs %v", t.Shape, src.Shape)
	}
	copy(t.Data, src.Data)
	return nil
}

// ShapesEqual reports whether two shapes describe the same dimensions.
func ShapesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// CloneAll deep-copies a slice of tensors.
func CloneAll(ts []*Tensor) []*Tensor {
	out := make([]*Tensor, len(ts))
	for i, t := range ts {
		out[i] = t.Clone()
	}
	return out
}

// ZerosLikeAll creates zero tensors matching the shapes of ts.
func ZerosLikeAll(ts []*Tensor) []*Tensor {
	out := make([]*Tensor, len(ts))
	for i, t := range ts {
		out[i] = ZerosLike(t)
	}
	return out
}

// GlobalNorm computes the global L2 norm over all elements of all tensors.
func GlobalNorm(ts []*Tensor) float64 {
	var sum float64
	for _, t := range ts {
		if t == nil {
			continue
		}
		for _, v := range t.Data {
			sum += v * v
		}
	}
	return math.Sqrt(sum)
}

func numElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
