package vector

import "math"

// DefaultNormEpsilon is the tolerance used by IsUnit when none is configured.
const DefaultNormEpsilon = 1e-3

// InnerProduct returns the inner product of two equal-length vectors, accumulated in
// float64. For unit vectors this equals cosine similarity. Mismatched lengths return 0.
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// IsUnit reports whether the norm of x is within epsilon of 1.
func IsUnit(x []float32, epsilon float64) bool {
	return math.Abs(L2Norm(x)-1) <= epsilon
}

// Finite reports whether every component of x is a finite number.
func Finite(x []float32) bool {
	for _, v := range x {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
