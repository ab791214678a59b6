// Package vector provides vector math operations for ipfskg.
//
// This package consolidates the similarity and distance calculations used by
// the vector index, entity resolution, edge prediction and hybrid search.
// Use these functions instead of implementing your own so every component
// scores vectors the same way.
//
// Main Functions:
//   - CosineSimilarity: standard similarity for float32 vectors
//   - DotProduct: inner product with float64 accumulation
//   - Distance / SquaredDistance: Euclidean (L2) distance
//   - Normalize / NormalizeInPlace: unit-length scaling
//   - Delta, Mean: embedding arithmetic for analogy scoring
package vector

import (
	"math"

	"github.com/viterin/vek/vek32"
)

// CosineSimilarity calculates cosine similarity between two float32 vectors.
// Returns value in range [-1, 1] where 1 = identical, 0 = orthogonal, -1 = opposite.
// Mismatched lengths, empty vectors and zero vectors return 0.
//
// Uses float64 accumulation for precision even with float32 inputs.
//
// Example:
//
//	a := []float32{1.0, 2.0, 3.0}
//	b := []float32{4.0, 5.0, 6.0}
//	sim := CosineSimilarity(a, b)  // Returns 0.9746318461970762
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProd, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dotProd += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProd / (math.Sqrt(normA) * math.Sqrt(normB))
}

// DotProduct calculates the dot product of two float32 vectors.
// Returns float64 for precision. Mismatched lengths return 0.
//
// For normalized vectors, dot product equals cosine similarity.
func DotProduct(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// SquaredDistance returns the squared Euclidean distance between a and b.
func SquaredDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}

	var sum float64
	for i := range a {
		diff := float64(a[i]) - float64(b[i])
		sum += diff * diff
	}
	return sum
}

// Distance returns the Euclidean distance between a and b.
func Distance(a, b []float32) float64 {
	return math.Sqrt(SquaredDistance(a, b))
}

// EuclideanSimilarity maps Euclidean distance into (0, 1] as 1 / (1 + d).
func EuclideanSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return 1.0 / (1.0 + Distance(a, b))
}

// Norm returns the Euclidean length of v.
func Norm(v []float32) float64 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	return math.Sqrt(sumSquares)
}

// Normalize returns a normalized copy of the vector.
// The input vector is not modified. A zero vector normalizes to zeros.
//
// Example:
//
//	original := []float32{3.0, 4.0}
//	normalized := Normalize(original)  // Returns [0.6, 0.8]
func Normalize(vec []float32) []float32 {
	out := make([]float32, len(vec))
	copy(out, vec)
	NormalizeInPlace(out)
	return out
}

// NormalizeInPlace normalizes a vector in-place (modifies the input).
//
// WARNING: Modifies the input slice. Use Normalize() to preserve original.
func NormalizeInPlace(vec []float32) {
	norm := Norm(vec)
	if norm == 0 {
		return
	}
	for i, v := range vec {
		vec[i] = float32(float64(v) / norm)
	}
}

// Delta returns b - a as a new vector.
func Delta(a, b []float32) []float32 {
	if len(a) != len(b) {
		return nil
	}
	return vek32.Sub(b, a)
}

// Mean returns the element-wise mean of vecs. All vectors must share the
// length of the first; others are skipped.
func Mean(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	sum := make([]float32, len(vecs[0]))
	n := 0
	for _, v := range vecs {
		if len(v) != len(sum) {
			continue
		}
		vek32.Add_Inplace(sum, v)
		n++
	}
	if n == 0 {
		return nil
	}
	vek32.MulNumber_Inplace(sum, 1/float32(n))
	return sum
}

// Copy returns a copy of v.
func Copy(v []float32) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
