package tensor

import (
	"fmt"
	"math"
)

// Add returns a + b elementwise.
func Add(a, b *Tensor) (*Tensor, error) {
	if !ShapesEqual(a.Shape, b.Shape) {
		return nil, fmt.Errorf("add: shape mismatch %v vs %v", a.Shape, b.Shape)
	}
	out := Zeros(a.Shape)
	for i := range a.Data {
		out.Data[i] = a.Data[i] + b.Data[i]
	}
	return out, nil
}

// Sub returns a - b elementwise.
func Sub(a, b *Tensor) (*Tensor, error) {
	if !ShapesEqual(a.Shape, b.Shape) {
		return nil, fmt.Errorf("sub: shape mismatch %v vs %v", a.Shape, b.Shape)
	}
	out := Zeros(a.Shape)
	for i := range a.Data {
		out.Data[i] = a.Data[i] - b.Data[i]
	}
	return out, nil
}

// Mul returns a * b elementwise.
func Mul(a, b *Tensor) (*Tensor, error) {
	if !ShapesEqual(a.Shape, b.Shape) {
		return nil, fmt.Errorf("mul: shape mismatch %v vs %v", a.Shape, b.Shape)
	}
	out := Zeros(a.Shape)
	for i := range a.Data {
		out.Data[i] = a.Data[i] * b.Data[i]
	}
	return out, nil
}

// Scale returns a * s elementwise.
func Scale(a *Tensor, s float64) *Tensor {
	out := Zeros(a.Shape)
	for i := range a.Data {
		out.Data[i] = a.Data[i] * s
	}
	return out
}

// AddScaled performs dst += s * src in place. Shapes must match.
func AddScaled(dst, src *Tensor, s float64) error {
	if !ShapesEqual(dst.Shape, src.Shape) {
		return fmt.Errorf("addScaled: shape mismatch %v vs %v", dst.Shape, src.Shape)
	}
	for i := range dst.Data {
		dst.Data[i] += s * src.Data[i]
	}
	return nil
}

// Dot returns the inner product of a and b over all elements.
func Dot(a, b *Tensor) (float64, error) {
	if !ShapesEqual(a.Shape, b.Shape) {
		return 0, fmt.Errorf("dot: shape mismatch %v vs %v", a.Shape, b.Shape)
	}
	var sum float64
	for i := range a.Data {
		sum += a.Data[i] * b.Data[i]
	}
	return sum, nil
}

// SumSquares returns the sum of squared elements of t.
func SumSquares(t *Tensor) float64 {
	var sum float64
	for _, v := range t.Data {
		sum += v * v
	}
	return sum
}

// Sign returns the elementwise sign of t.
func Sign(t *Tensor) *Tensor {
	out := Zeros(t.Shape)
	for i, v := range t.Data {
		switch {
		case v > 0:
			out.Data[i] = 1
		case v < 0:
			out.Data[i] = -1
		}
	}
	return out
}

// MatVec computes w @ x for a [m, n] matrix and an [n] vector, producing [m].
func MatVec(w, x *Tensor) (*Tensor, error) {
	if len(w.Shape) != 2 {
		return nil, fmt.Errorf("matvec: expected rank-2 matrix, got shape %v", w.Shape)
	}
	m, n := w.Shape[0], w.Shape[1]
	if x.Size() != n {
		return nil, fmt.Errorf("matvec: matrix %v incompatible with vector of %d elements", w.Shape, x.Size())
	}
	out := Zeros([]int{m})
	for i := 0; i < m; i++ {
		row := w.Data[i*n : (i+1)*n]
		var sum float64
		for j := 0; j < n; j++ {
			sum += row[j] * x.Data[j]
		}
		out.Data[i] = sum
	}
	return out, nil
}

// MatVecT computes transpose(w) @ x for a [m, n] matrix and an [m] vector,
// producing [n].
func MatVecT(w, x *Tensor) (*Tensor, error) {
	if len(w.Shape) != 2 {
		return nil, fmt.Errorf("matvecT: expected rank-2 matrix, got shape %v", w.Shape)
	}
	m, n := w.Shape[0], w.Shape[1]
	if x.Size() != m {
		return nil, fmt.Errorf("matvecT: matrix %v incompatible with vector of %d elements", w.Shape, x.Size())
	}
	out := Zeros([]int{n})
	for i := 0; i < m; i++ {
		row := w.Data[i*n : (i+1)*n]
		for j := 0; j < n; j++ {
			out.Data[j] += row[j] * x.Data[i]
		}
	}
	return out, nil
}

// ClipByNorm rescales t in place so its L2 norm does not exceed maxNorm.
func ClipByNorm(t *Tensor, maxNorm float64) {
	norm := math.Sqrt(SumSquares(t))
	if norm > maxNorm && norm > 0 {
		s := maxNorm / norm
		for i := range t.Data {
			t.Data[i] *= s
		}
	}
}

// ClipByValue clamps each element of t into [-limit, limit] in place.
func ClipByValue(t *Tensor, limit float64) {
	for i, v := range t.Data {
		if v > limit {
			t.Data[i] = limit
		} else if v < -limit {
			t.Data[i] = -limit
		}
	}
}
