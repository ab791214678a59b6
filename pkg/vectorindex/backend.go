package vectorindex

import (
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"

	"github.com/endomorphosis/ipfskg/pkg/math/vector"
	"github.com/endomorphosis/ipfskg/pkg/pool"
)

// Backend computes raw per-row values for a query. Rows are appended in the
// order the index stores them; Raw fills out[i] for row i with the dot
// product (cosine, inner product) or the Euclidean distance (l2).
//
// Ranking, filtering and score conversion happen in Index, so any two
// backends that agree on raw values produce the same results.
type Backend interface {
	Name() string
	// Available reports whether the backend can run in this process.
	Available() bool
	Reset(dim int)
	Add(vec []float32)
	Len() int
	Raw(query []float32, metric Metric, out []float64)
}

// Backend names accepted by NewBackend.
const (
	BackendAuto       = "auto"
	BackendBLAS       = "blas"
	BackendBruteForce = "bruteforce"
)

// NewBackend returns the backend for name. "auto" picks the BLAS backend
// when it is available and brute force otherwise.
func NewBackend(name string) (Backend, error) {
	switch name {
	case "", BackendAuto:
		if b := NewBLASBackend(); b.Available() {
			return b, nil
		}
		return NewBruteForceBackend(), nil
	case BackendBLAS:
		b := NewBLASBackend()
		if !b.Available() {
			return nil, ErrBackendUnavailable
		}
		return b, nil
	case BackendBruteForce:
		return NewBruteForceBackend(), nil
	}
	return nil, ErrUnknownBackend
}

// BruteForceBackend scans every stored vector with float64 accumulation.
type BruteForceBackend struct {
	rows [][]float32
}

// NewBruteForceBackend returns an empty brute-force backend.
func NewBruteForceBackend() *BruteForceBackend {
	return &BruteForceBackend{}
}

func (b *BruteForceBackend) Name() string    { return BackendBruteForce }
func (b *BruteForceBackend) Available() bool { return true }
func (b *BruteForceBackend) Len() int        { return len(b.rows) }

func (b *BruteForceBackend) Reset(int) {
	b.rows = nil
}

func (b *BruteForceBackend) Add(vec []float32) {
	b.rows = append(b.rows, vec)
}

func (b *BruteForceBackend) Raw(query []float32, metric Metric, out []float64) {
	for i, row := range b.rows {
		if metric == MetricL2 {
			out[i] = vector.Distance(query, row)
		} else {
			out[i] = vector.DotProduct(query, row)
		}
	}
}

// BLASBackend keeps all vectors in one row-major float64 matrix and
// computes every dot product with a single matrix-vector multiply.
// Euclidean distance is accumulated per row as sum((row-q)^2) in float64, in
// the same order as BruteForceBackend, so both backends produce the same
// distances bit for bit.
type BLASBackend struct {
	dim  int
	n    int
	flat []float64
}

// NewBLASBackend returns an empty BLAS backend.
func NewBLASBackend() *BLASBackend {
	return &BLASBackend{}
}

func (b *BLASBackend) Name() string { return BackendBLAS }

// Available reports whether a BLAS implementation is registered.
func (b *BLASBackend) Available() bool {
	return blas64.Implementation() != nil
}

func (b *BLASBackend) Len() int { return b.n }

func (b *BLASBackend) Reset(dim int) {
	b.dim = dim
	b.n = 0
	b.flat = b.flat[:0]
}

func (b *BLASBackend) Add(vec []float32) {
	for _, x := range vec {
		b.flat = append(b.flat, float64(x))
	}
	b.n++
}

func (b *BLASBackend) Raw(query []float32, metric Metric, out []float64) {
	if b.n == 0 {
		return
	}
	if metric == MetricL2 {
		for i := 0; i < b.n; i++ {
			row := b.flat[i*b.dim : (i+1)*b.dim]
			var sum float64
			for j, x := range row {
				d := float64(query[j]) - x
				sum += d * d
			}
			out[i] = math.Sqrt(sum)
		}
		return
	}

	q := pool.GetFloat64s(b.dim)
	defer pool.PutFloat64s(q)
	for j, x := range query {
		q[j] = float64(x)
	}
	blas64.Gemv(
		blas.NoTrans, 1.0,
		blas64.General{Rows: b.n, Cols: b.dim, Stride: b.dim, Data: b.flat},
		blas64.Vector{N: b.dim, Inc: 1, Data: q}, 0.0,
		blas64.Vector{N: b.n, Inc: 1, Data: out[:b.n]},
	)
}
