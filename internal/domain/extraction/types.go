package extraction

import "time"

// SegmentHint 文本段结构提示
type SegmentHint string

const (
	HintHeading SegmentHint = "heading"
	HintBody    SegmentHint = "body"
	HintTable   SegmentHint = "table"
	HintPage    SegmentHint = "page"
)

// Document 已上传文档元数据。字节内容存对象存储，向量存 Qdrant，
// 这里只是两者的索引入口。
type Document struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	MediaType  string    `json:"media_type"`
	ByteSize   int64     `json:"byte_size"`
	Location   Location  `json:"location"`
	Status     string    `json:"status"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// 文档状态
const (
	StatusPending   = "pending"
	StatusStored    = "stored" // 仅存储、不提取（图片/演示文稿）
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Location 对象存储位置（bucket + key）
type Location struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// TextSegment 提取出的有序文本段（段落/页/表格行），不落盘
type TextSegment struct {
	Index int         `json:"index"`
	Text  string      `json:"text"`
	Hint  SegmentHint `json:"hint"`
}

// Chunk 分块结果。Start/End 为拼接后全文中的 rune 偏移，
// 相邻块按配置重叠，按 Index 排序可还原段落顺序。
type Chunk struct {
	DocID string `json:"document_id"`
	Index int    `json:"chunk_index"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

// EmbeddedChunk Chunk + 向量 + 入库 payload
type EmbeddedChunk struct {
	Chunk
	Vector    []float32   `json:"vector"`
	MediaType string      `json:"media_type"`
	Hint      SegmentHint `json:"hint,omitempty"`
}

// SearchRequest 语义检索请求
type SearchRequest struct {
	Query     string `json:"query"`
	TopK      int    `json:"top_k,omitempty"`
	MediaType string `json:"media_type,omitempty"`
}

// SearchResult 单条检索结果，按相似度降序
type SearchResult struct {
	DocID      string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float32 `json:"score"`
	Text       string  `json:"text"`
}

// RunState 提取运行状态机
type RunState string

const (
	StateFetching   RunState = "fetching"
	StateExtracting RunState = "extracting"
	StateChunking   RunState = "chunking"
	StateEmbedding  RunState = "embedding"
	StateIndexing   RunState = "indexing"
	StateCompleted  RunState = "completed"
	StateFailed     RunState = "failed"
)

// RunSummary 单次提取运行的结果摘要
type RunSummary struct {
	DocID      string        `json:"document_id"`
	State      RunState      `json:"state"`
	ChunkCount int           `json:"chunk_count"`
	Elapsed    time.Duration `json:"-"`
	ElapsedMs  int64         `json:"elapsed_ms"`
	ErrKind    Kind          `json:"error_kind,omitempty"`
}
