// Package vector provides cosine-similarity search over the embedding matrix
// that is row-aligned with the corpus.
//
// Two backends implement Index: Flat, an exact linear scan, and HNSW, an
// approximate graph built with coder/hnsw. Empty stands in when no usable
// matrix exists; it answers every query with no results.
package vector

import (
	"cmp"
	"math"
	"slices"
)

// NormFloor is the minimum norm used as a cosine denominator for both stored
// rows and queries.
const NormFloor = 1e-12

// Result is one ranked row.
type Result struct {
	ID    int     `json:"id"`
	Score float64 `json:"score"`
}

// Index is nearest-neighbor search by cosine similarity.
//
// Implementations are immutable after construction and safe for concurrent
// use. TopK never returns NaN or Inf scores; a degenerate query (zero vector,
// non-finite values, wrong dimensionality) yields no results.
type Index interface {
	// TopK returns up to k rows by descending score, ties by ascending id.
	TopK(query []float32, k int) []Result

	// Similarity recomputes the cosine score of one row from the stored
	// vectors, independently of any ranking-time state.
	Similarity(id int, query []float32) (float64, bool)

	// Len returns the number of rows.
	Len() int

	// Dimensions returns the row width, or 0 for an empty index.
	Dimensions() int

	// Backend names the implementation ("flat", "hnsw", "empty").
	Backend() string
}

// Empty is the index used when the matrix is missing, corrupt or misaligned.
type Empty struct {
	// Reason explains why no matrix is available.
	Reason string
}

func (Empty) TopK([]float32, int) []Result             { return nil }
func (Empty) Similarity(int, []float32) (float64, bool) { return 0, false }
func (Empty) Len() int                                  { return 0 }
func (Empty) Dimensions() int                           { return 0 }
func (Empty) Backend() string                           { return "empty" }

// IsEmpty reports whether idx can never produce results.
func IsEmpty(idx Index) bool {
	return idx == nil || idx.Len() == 0
}

// Norm returns the Euclidean norm of v in float64.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		f := float64(x)
		sum += f * f
	}
	return math.Sqrt(sum)
}

// clampNorm applies NormFloor.
func clampNorm(n float64) float64 {
	if n < NormFloor {
		return NormFloor
	}
	return n
}

// Cosine computes dot(a, b) / (max(|a|, floor) * max(|b|, floor)).
// Vectors of different length score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	return cosineWithNorms(a, clampNorm(Norm(a)), b, clampNorm(Norm(b)))
}

func cosineWithNorms(row []float32, rowNorm float64, q []float32, qNorm float64) float64 {
	var dot float64
	for i, x := range row {
		dot += float64(x) * float64(q[i])
	}
	s := dot / (rowNorm * qNorm)
	// rounding can push a self-match just past 1
	return math.Max(-1, math.Min(1, s))
}

// queryNorm validates q against dims and returns its clamped norm.
// ok is false for a dimension mismatch, non-finite values or a zero vector.
func queryNorm(q []float32, dims int) (float64, bool) {
	if dims == 0 || len(q) != dims {
		return 0, false
	}
	for _, x := range q {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return 0, false
		}
	}
	n := Norm(q)
	if n == 0 {
		return 0, false
	}
	return clampNorm(n), true
}

// rank sorts results by descending score then ascending id, and truncates to k.
func rank(results []Result, k int) []Result {
	slices.SortFunc(results, func(a, b Result) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if k < len(results) {
		results = results[:k]
	}
	return results
}
