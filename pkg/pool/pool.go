// Package pool provides scratch-buffer pooling for vector scoring.
//
// Every vector search scores the query against every stored vector, so each
// call needs one float buffer per index entry. Pooling those buffers keeps
// repeated searches from allocating index-sized slices.
//
// Usage:
//
//	raw := pool.GetFloat64s(n)
//	defer pool.PutFloat64s(raw)
//
//	backend.Raw(query, metric, raw)
package pool

import (
	"sync"
)

// Config configures buffer pooling.
type Config struct {
	// Enabled controls whether pooling is active
	Enabled bool

	// MaxSize is the largest buffer capacity (in elements) kept for reuse
	MaxSize int
}

var (
	configMu     sync.RWMutex
	globalConfig = Config{
		Enabled: true,
		MaxSize: 1 << 22,
	}
)

// Configure sets the global pool configuration.
func Configure(config Config) {
	configMu.Lock()
	globalConfig = config
	configMu.Unlock()
}

func current() Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

// IsEnabled returns whether pooling is enabled.
func IsEnabled() bool {
	return current().Enabled
}

// =============================================================================
// float64 buffers (raw scores, query copies)
// =============================================================================

var float64Pool = sync.Pool{
	New: func() any {
		s := make([]float64, 0, 1024)
		return &s
	},
}

// GetFloat64s returns a zeroed slice of length n.
// Call PutFloat64s when done.
func GetFloat64s(n int) []float64 {
	if !IsEnabled() {
		return make([]float64, n)
	}
	p := float64Pool.Get().(*[]float64)
	s := *p
	if cap(s) < n {
		return make([]float64, n)
	}
	s = s[:n]
	clear(s)
	return s
}

// PutFloat64s returns a buffer to the pool.
func PutFloat64s(s []float64) {
	cfg := current()
	if !cfg.Enabled || s == nil || cap(s) > cfg.MaxSize {
		return
	}
	s = s[:0]
	float64Pool.Put(&s)
}
