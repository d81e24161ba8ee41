package domain

import "context"

// TaskType tells a provider whether it is embedding indexed content or a
// search query. Some providers tune the two differently.
type TaskType string

const (
	// TaskDocument marks texts embedded for storage in the index.
	TaskDocument TaskType = "document"
	// TaskQuery marks texts embedded for retrieval.
	TaskQuery TaskType = "query"
)

// DenseEmbedder converts batches of texts into fixed-dimension real vectors.
type DenseEmbedder interface {
	EmbedDense(ctx context.Context, texts []string, task TaskType) ([][]float32, error)
	// MaxBatchSize is the provider's hard cap on texts per call.
	// Callers must partition before calling.
	MaxBatchSize() int
}

// SparseEmbedder converts batches of texts into sparse (index, value) vectors.
type SparseEmbedder interface {
	EmbedSparse(ctx context.Context, texts []string, task TaskType) ([]SparseVector, error)
	MaxBatchSize() int
}

// HealthChecker verifies embedding provider availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// SparseVector is a keyword-level embedding: most dimensions are implicitly
// zero. Indices are unique and sorted ascending; len(Indices) == len(Values).
type SparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

// IsZero reports whether the vector has no non-zero component.
func (v SparseVector) IsZero() bool {
	for _, val := range v.Values {
		if val != 0 {
			return false
		}
	}
	return true
}

// Dot computes the dot product with another sparse vector.
// Both operands must have sorted indices.
func (v SparseVector) Dot(o SparseVector) float64 {
	var sum float64
	i, j := 0, 0
	for i < len(v.Indices) && j < len(o.Indices) {
		switch {
		case v.Indices[i] == o.Indices[j]:
			sum += float64(v.Values[i]) * float64(o.Values[j])
			i++
			j++
		case v.Indices[i] < o.Indices[j]:
			i++
		default:
			j++
		}
	}
	return sum
}

// Batches partitions n items into consecutive index ranges of at most size
// elements, preserving order. Returned as [start, end) pairs.
func Batches(n, size int) [][2]int {
	if n <= 0 || size <= 0 {
		return nil
	}
	out := make([][2]int, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}
