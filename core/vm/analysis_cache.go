package vm

// analysis_cache.go caches analysis artifacts by code hash. Artifacts are
// content-addressed and immutable, so the cache is a plain LRU with
// singleflight coalescing for concurrent misses on the same code.

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/embervm/ember/core/types"
)

// DefaultAnalysisCacheSize holds roughly 1 GiB of artifacts at the
// 24 KiB deployed-code limit.
const DefaultAnalysisCacheSize = 32768

var (
	cacheHits   = metrics.NewCounter("ember_analysis_cache_hits_total")
	cacheMisses = metrics.NewCounter("ember_analysis_cache_misses_total")
)

// analysisKey identifies an artifact: the code hash plus the rule inputs
// that shape the stream.
type analysisKey struct {
	hash   types.Hash
	fork   Hardfork
	fusion bool
}

// AnalysisCache is a shared, concurrency-safe cache of analysis
// artifacts. Entries are immutable; readers share them without copying.
type AnalysisCache struct {
	entries *lru.Cache[analysisKey, *Analysis]
	group   singleflight.Group
}

// NewAnalysisCache creates a cache holding up to size artifacts.
func NewAnalysisCache(size int) (*AnalysisCache, error) {
	if size <= 0 {
		size = DefaultAnalysisCacheSize
	}
	entries, err := lru.New[analysisKey, *Analysis](size)
	if err != nil {
		return nil, fmt.Errorf("analysis cache: %w", err)
	}
	return &AnalysisCache{entries: entries}, nil
}

// Get returns the artifact for (codeHash, fork, fusion), analyzing the
// code on a miss. Concurrent misses for the same key run one analysis.
func (c *AnalysisCache) Get(code []byte, codeHash types.Hash, fork Hardfork, fusion bool) (*Analysis, error) {
	key := analysisKey{hash: codeHash, fork: fork, fusion: fusion}
	if an, ok := c.entries.Get(key); ok {
		cacheHits.Inc()
		return an, nil
	}
	cacheMisses.Inc()

	sfKey := fmt.Sprintf("%x/%d/%t", codeHash[:8], fork, fusion)
	v, err, _ := c.group.Do(sfKey, func() (any, error) {
		if an, ok := c.entries.Get(key); ok {
			return an, nil
		}
		an, err := analyze(code, fork, fusion)
		if err != nil {
			return nil, err
		}
		c.entries.Add(key, an)
		return an, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Analysis), nil
}

// Len returns the number of cached artifacts.
func (c *AnalysisCache) Len() int {
	return c.entries.Len()
}

// Purge drops all cached artifacts.
func (c *AnalysisCache) Purge() {
	c.entries.Purge()
}
