package vm

import (
	"sync"
	"testing"
)

func TestAnalysisCacheSharing(t *testing.T) {
	cache, err := NewAnalysisCache(16)
	if err != nil {
		t.Fatalf("NewAnalysisCache: %v", err)
	}
	code := []byte{0x60, 0x01, 0x60, 0x01, 0x01}
	hash := Analyzed(t, code).CodeHash()

	a1, err := cache.Get(code, hash, Cancun, true)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	a2, err := cache.Get(code, hash, Cancun, true)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a1 != a2 {
		t.Error("cache returned distinct artifacts for the same key")
	}
	if cache.Len() != 1 {
		t.Errorf("Len() = %d, want 1", cache.Len())
	}
}

func TestAnalysisCacheKeyedByFork(t *testing.T) {
	cache, _ := NewAnalysisCache(16)
	code := []byte{0x5f} // PUSH0: valid Shanghai+, INVALID before
	hash := Analyzed(t, code).CodeHash()

	aShanghai, _ := cache.Get(code, hash, Shanghai, true)
	aBerlin, _ := cache.Get(code, hash, Berlin, true)
	if aShanghai == aBerlin {
		t.Error("fork must be part of the cache key")
	}
	if cache.Len() != 2 {
		t.Errorf("Len() = %d, want 2", cache.Len())
	}
}

func TestAnalysisCacheConcurrent(t *testing.T) {
	cache, _ := NewAnalysisCache(16)
	code := []byte{0x60, 0x01}
	hash := Analyzed(t, code).CodeHash()

	var wg sync.WaitGroup
	results := make([]*Analysis, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			an, err := cache.Get(code, hash, Cancun, true)
			if err != nil {
				t.Errorf("Get: %v", err)
				return
			}
			results[i] = an
		}(i)
	}
	wg.Wait()
	for i := 1; i < len(results); i++ {
		if results[i] != results[0] {
			t.Fatal("concurrent gets returned distinct artifacts")
		}
	}
}

// Analyzed is a test helper returning the analysis of code under Cancun.
func Analyzed(t *testing.T, code []byte) *Analysis {
	t.Helper()
	an, err := Analyze(code, Cancun)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	return an
}
