package redisdb

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"docgate/internal/domain/extraction"
	applog "docgate/internal/platform/log"
)

// SearchCache 检索结果 Redis 缓存。
// 提取运行成功或文档删除后整体失效，保证不返回过期结果。
type SearchCache struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
}

// NewSearchCache 创建检索缓存
func NewSearchCache(rdb *redis.Client, ttlSeconds int) *SearchCache {
	ttl := 5 * time.Minute
	if ttlSeconds > 0 {
		ttl = time.Duration(ttlSeconds) * time.Second
	}
	return &SearchCache{
		redis:  rdb,
		ttl:    ttl,
		prefix: "docgate:search:",
	}
}

// Get 从缓存获取检索结果
func (c *SearchCache) Get(ctx context.Context, req *extraction.SearchRequest) ([]extraction.SearchResult, bool) {
	key := c.cacheKey(req)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}

	var results []extraction.SearchResult
	if err := json.Unmarshal(data, &results); err != nil {
		applog.Warn("[Search/Cache] Failed to unmarshal cached result", "error", err)
		return nil, false
	}

	applog.Debug("[Search/Cache] Hit", "key", key)
	return results, true
}

// Set 写入检索结果到缓存
func (c *SearchCache) Set(ctx context.Context, req *extraction.SearchRequest, results []extraction.SearchResult) {
	key := c.cacheKey(req)
	data, err := json.Marshal(results)
	if err != nil {
		return
	}

	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		applog.Warn("[Search/Cache] Failed to set cache", "key", key, "error", err)
	}
}

// Invalidate 清除全部检索缓存（SCAN + DEL）
func (c *SearchCache) Invalidate(ctx context.Context) {
	pattern := c.prefix + "*"
	iter := c.redis.Scan(ctx, 0, pattern, 500).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		applog.Warn("[Search/Cache] Scan failed during invalidation", "error", err)
	}
	if len(keys) > 0 {
		c.redis.Del(ctx, keys...)
		applog.Info("[Search/Cache] Invalidated", "keys_deleted", len(keys))
	}
}

// cacheKey 生成缓存 key = hash(query + topk + media_type)
func (c *SearchCache) cacheKey(req *extraction.SearchRequest) string {
	raw := fmt.Sprintf("%s|%d|%s", req.Query, req.TopK, req.MediaType)
	hash := sha256.Sum256([]byte(raw))
	return c.prefix + fmt.Sprintf("%x", hash[:12])
}
