package extraction

import "context"

// ObjectStore 原始字节的对象存储端口（MinIO 实现见 internal/db/minio）
type ObjectStore interface {
	Put(ctx context.Context, loc Location, data []byte, contentType string) error
	Get(ctx context.Context, loc Location) ([]byte, error)
	Delete(ctx context.Context, loc Location) error
}

// VectorIndex 向量索引端口（Qdrant 实现见 internal/db/qdrant）
type VectorIndex interface {
	EnsureCollection(ctx context.Context, dims int) error
	Upsert(ctx context.Context, chunks []EmbeddedChunk) error
	DeleteByDocID(ctx context.Context, docID string) error
	Search(ctx context.Context, vector []float32, topK int, filter *SearchFilter) ([]SearchResult, error)
}

// SearchFilter 检索过滤条件（payload 精确匹配）
type SearchFilter struct {
	DocID     string
	MediaType string
}

// DocumentRepo 文档元数据端口（PostgreSQL 实现见 internal/db/postgres）
type DocumentRepo interface {
	Create(ctx context.Context, doc *Document) error
	Get(ctx context.Context, id string) (*Document, error)
	List(ctx context.Context) ([]Document, error)
	UpdateStatus(ctx context.Context, id, status string, chunkCount int) error
	Delete(ctx context.Context, id string) error
}

// Embedder 向量生成端口
type Embedder interface {
	// Embed 将文本列表转为向量，保序、等长
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dims 返回向量维度
	Dims() int
}

// SearchCache 检索结果缓存端口（Redis 实现见 internal/db/redis）。
// 任何成功的提取运行或文档删除后必须整体失效。
type SearchCache interface {
	Get(ctx context.Context, req *SearchRequest) ([]SearchResult, bool)
	Set(ctx context.Context, req *SearchRequest, results []SearchResult)
	Invalidate(ctx context.Context)
}
