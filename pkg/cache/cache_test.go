package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// Construction
// =============================================================================

func TestNew(t *testing.T) {
	t.Run("valid parameters", func(t *testing.T) {
		c := New[int](100, 5*time.Minute)
		if c.maxSize != 100 {
			t.Errorf("maxSize = %d, want 100", c.maxSize)
		}
		if c.ttl != 5*time.Minute {
			t.Errorf("ttl = %v, want 5m", c.ttl)
		}
		if !c.enabled.Load() {
			t.Error("cache should be enabled by default")
		}
	})

	t.Run("non-positive maxSize uses default", func(t *testing.T) {
		for _, size := range []int{0, -10} {
			if c := New[int](size, 0); c.maxSize != DefaultMaxSize {
				t.Errorf("New(%d).maxSize = %d, want %d", size, c.maxSize, DefaultMaxSize)
			}
		}
	})
}

// =============================================================================
// Keys
// =============================================================================

func TestKey(t *testing.T) {
	base := func() *Key {
		return NewKey().Uint64(7).String("ada").Float32s([]float32{1, 0, 0}).Int(5).Float64(0.5)
	}

	if base().Sum() != base().Sum() {
		t.Error("identical components produced different keys")
	}

	variants := map[string]uint64{
		"generation": NewKey().Uint64(8).String("ada").Float32s([]float32{1, 0, 0}).Int(5).Float64(0.5).Sum(),
		"text":       NewKey().Uint64(7).String("adb").Float32s([]float32{1, 0, 0}).Int(5).Float64(0.5).Sum(),
		"vector":     NewKey().Uint64(7).String("ada").Float32s([]float32{0, 1, 0}).Int(5).Float64(0.5).Sum(),
		"int":        NewKey().Uint64(7).String("ada").Float32s([]float32{1, 0, 0}).Int(6).Float64(0.5).Sum(),
		"float":      NewKey().Uint64(7).String("ada").Float32s([]float32{1, 0, 0}).Int(5).Float64(0.25).Sum(),
	}
	want := base().Sum()
	for name, got := range variants {
		if got == want {
			t.Errorf("changing %s did not change the key", name)
		}
	}

	// Length prefixes keep boundaries distinct.
	if NewKey().String("ab").String("c").Sum() == NewKey().String("a").String("bc").Sum() {
		t.Error("string boundaries collapsed")
	}
}

// =============================================================================
// Get / Put
// =============================================================================

func TestGetPut(t *testing.T) {
	c := New[string](10, 0)

	if _, ok := c.Get(1); ok {
		t.Fatal("empty cache returned a hit")
	}
	c.Put(1, "one")
	if v, ok := c.Get(1); !ok || v != "one" {
		t.Fatalf("Get(1) = %q, %v", v, ok)
	}
	c.Put(1, "uno")
	if v, _ := c.Get(1); v != "uno" {
		t.Errorf("overwrite: got %q", v)
	}

	c.Remove(1)
	if _, ok := c.Get(1); ok {
		t.Error("removed key still cached")
	}

	st := c.Stats()
	if st.Hits != 2 || st.Misses != 2 {
		t.Errorf("stats = %+v, want 2 hits and 2 misses", st)
	}
	if st.HitRate != 50 {
		t.Errorf("hit rate = %v, want 50", st.HitRate)
	}
}

func TestLRUEviction(t *testing.T) {
	c := New[int](2, 0)
	c.Put(1, 1)
	c.Put(2, 2)
	c.Get(1) // 2 is now least recently used
	c.Put(3, 3)

	if _, ok := c.Get(2); ok {
		t.Error("least recently used entry was not evicted")
	}
	for _, k := range []uint64{1, 3} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("key %d evicted", k)
		}
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}

func TestTTLExpiration(t *testing.T) {
	c := New[int](10, 20*time.Millisecond)
	c.Put(1, 1)
	if _, ok := c.Get(1); !ok {
		t.Fatal("fresh entry missing")
	}
	time.Sleep(60 * time.Millisecond)
	if _, ok := c.Get(1); ok {
		t.Error("expired entry returned")
	}
}

func TestDisabledAndClear(t *testing.T) {
	c := New[int](10, 0)
	c.Put(1, 1)

	c.SetEnabled(false)
	if _, ok := c.Get(1); ok {
		t.Error("disabled cache returned a hit")
	}
	c.Put(2, 2)
	c.SetEnabled(true)
	if _, ok := c.Get(2); ok {
		t.Error("disabled cache stored a value")
	}
	if _, ok := c.Get(1); !ok {
		t.Error("entries should survive disable/enable")
	}

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len after Clear = %d", c.Len())
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New[string](64, 0)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := uint64(i % 80)
				c.Put(key, fmt.Sprint(g, i))
				c.Get(key)
			}
		}(g)
	}
	wg.Wait()

	if c.Len() > 64 {
		t.Errorf("Len = %d exceeds max size", c.Len())
	}
	st := c.Stats()
	if st.Hits+st.Misses != 8*200 {
		t.Errorf("lookups = %d, want %d", st.Hits+st.Misses, 8*200)
	}
}
