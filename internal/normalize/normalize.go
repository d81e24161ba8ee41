// Package normalize rescales embedding vectors to unit L2 norm so that
// inner-product similarity scores stay comparable between index time and
// query time.
package normalize

import (
	"math"

	"github.com/kailas-cloud/kbpipe/internal/domain"
)

// Dense returns v rescaled to unit Euclidean norm. A zero vector cannot be
// normalized: it is returned unchanged with ok=false so the caller can flag
// the provider anomaly.
func Dense(v []float32) (out []float32, ok bool) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v, false
	}

	norm := math.Sqrt(sum)
	out = make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, true
}

// Sparse rescales the values of v to unit norm; indices are untouched.
// Zero vectors are returned unchanged with ok=false.
func Sparse(v domain.SparseVector) (domain.SparseVector, bool) {
	values, ok := Dense(v.Values)
	if !ok {
		return v, false
	}
	return domain.SparseVector{Indices: v.Indices, Values: values}, true
}
