package vector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a        []float32
		b        []float32
		expected float64
	}{
		{"identical vectors", []float32{1, 0, 0}, []float32{1, 0, 0}, 1},
		{"orthogonal vectors", []float32{1, 0, 0}, []float32{0, 1, 0}, 0},
		{"opposite vectors", []float32{1, 0, 0}, []float32{-1, 0, 0}, -1},
		{"similar vectors", []float32{1, 2, 3}, []float32{4, 5, 6}, 0.9746318461970762},
		{"empty vectors", []float32{}, []float32{}, 0},
		{"mismatched dimensions", []float32{1, 2}, []float32{1, 2, 3}, 0},
		{"zero vector", []float32{0, 0, 0}, []float32{1, 2, 3}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, CosineSimilarity(tt.a, tt.b), 1e-6)
		})
	}
}

func TestDotProduct(t *testing.T) {
	assert.InDelta(t, 32.0, DotProduct([]float32{1, 2, 3}, []float32{4, 5, 6}), 1e-9)
	assert.Equal(t, 0.0, DotProduct([]float32{1}, []float32{1, 2}))
}

func TestDistance(t *testing.T) {
	assert.InDelta(t, 5.0, Distance([]float32{0, 0}, []float32{3, 4}), 1e-9)
	assert.InDelta(t, 25.0, SquaredDistance([]float32{0, 0}, []float32{3, 4}), 1e-9)
	assert.True(t, math.IsInf(SquaredDistance([]float32{0}, []float32{0, 1}), 1))
	assert.InDelta(t, 1.0/6.0, EuclideanSimilarity([]float32{0, 0}, []float32{3, 4}), 1e-9)
}

func TestNormalize(t *testing.T) {
	original := []float32{3, 4}
	normalized := Normalize(original)
	assert.Equal(t, []float32{3, 4}, original, "input is not modified")
	assert.InDelta(t, 0.6, normalized[0], 1e-6)
	assert.InDelta(t, 0.8, normalized[1], 1e-6)

	zero := Normalize([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, zero)

	v := []float32{0, 5}
	NormalizeInPlace(v)
	assert.InDelta(t, 1.0, v[1], 1e-6)
}

func TestNormalizeUnitLength(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := rapid.SliceOfN(rapid.Float32Range(-100, 100), 1, 32).Draw(t, "v")
		if Norm(v) < 1e-3 {
			t.Skip("near-zero vector")
		}
		if n := Norm(Normalize(v)); math.Abs(n-1) > 1e-4 {
			t.Fatalf("normalized length %v", n)
		}
	})
}

func TestDeltaAndMean(t *testing.T) {
	assert.Equal(t, []float32{3, -1}, Delta([]float32{1, 2}, []float32{4, 1}))
	assert.Nil(t, Delta([]float32{1}, []float32{1, 2}))

	mean := Mean([][]float32{{1, 2}, {3, 4}, {9}})
	assert.InDeltaSlice(t, []float32{2, 3}, mean, 1e-6)
	assert.Nil(t, Mean(nil))

	orig := []float32{1, 2}
	cp := Copy(orig)
	cp[0] = 9
	assert.Equal(t, float32(1), orig[0])
}

func BenchmarkCosineSimilarity(b *testing.B) {
	x := make([]float32, 1024)
	y := make([]float32, 1024)
	for i := range x {
		x[i] = float32(i) * 0.001
		y[i] = float32(1024-i) * 0.001
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		CosineSimilarity(x, y)
	}
}
