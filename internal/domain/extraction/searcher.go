package extraction

import (
	"context"
	"fmt"
	"time"

	applog "docgate/internal/platform/log"
)

// Searcher 语义检索引擎：query 向量化后在向量索引中做 kNN。
type Searcher struct {
	cfg      *Config
	embedder Embedder
	index    VectorIndex
	cache    SearchCache // 可选
}

// NewSearcher 创建检索引擎
func NewSearcher(cfg *Config, embedder Embedder, index VectorIndex) *Searcher {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Searcher{cfg: cfg, embedder: embedder, index: index}
}

// SetCache 设置检索缓存
func (s *Searcher) SetCache(c SearchCache) {
	s.cache = c
}

// Search 执行语义检索，结果按相似度降序。
// 调用方的请求不被修改，top_k 缺省值只作用于内部副本。
func (s *Searcher) Search(ctx context.Context, req *SearchRequest) ([]SearchResult, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("empty search query")
	}
	q := *req
	if q.TopK <= 0 {
		q.TopK = s.cfg.DefaultTopK
	}

	applog.Info("[Extraction/Searcher] Search",
		"query", q.Query,
		"top_k", q.TopK,
		"media_type", q.MediaType,
		"has_cache", s.cache != nil,
	)

	// 查询缓存
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, &q); ok {
			return cached, nil
		}
	}

	policy := s.cfg.RetryPolicy()

	// 1. Embed query
	var vectors [][]float32
	err := policy.Do(ctx, "embed-query", func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout())
		defer cancel()
		var err error
		vectors, err = s.embedder.Embed(callCtx, []string{q.Query})
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, E(KindEmbeddingProvider, "expected 1 query vector, got %d", len(vectors))
	}
	if len(vectors[0]) != s.embedder.Dims() {
		return nil, E(KindDimensionMismatch,
			"query vector has %d dimensions, expected %d", len(vectors[0]), s.embedder.Dims())
	}

	// 2. kNN 检索
	var filter *SearchFilter
	if q.MediaType != "" {
		filter = &SearchFilter{MediaType: q.MediaType}
	}
	var results []SearchResult
	err = policy.Do(ctx, "index-search", func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout())
		defer cancel()
		var err error
		results, err = s.index.Search(callCtx, vectors[0], q.TopK, filter)
		return err
	})
	if err != nil {
		return nil, err
	}

	// 写入缓存（异步，不阻塞响应）
	if s.cache != nil {
		cacheReq := q
		cacheResults := make([]SearchResult, len(results))
		copy(cacheResults, results)
		go func() {
			cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.cache.Set(cacheCtx, &cacheReq, cacheResults)
		}()
	}

	return results, nil
}
