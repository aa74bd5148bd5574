package extraction

import "time"

// Config 提取管线配置。启动时由 platform/config 装配后注入，
// 管线内部不读环境变量。
type Config struct {
	// Chunker 配置
	ChunkSize    int `json:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap"`

	// Embedding 批量与并发
	EmbeddingBatchSize int `json:"embedding_batch_size"`
	EmbedConcurrency   int `json:"embed_concurrency"`

	// 外部调用重试
	RetryMaxAttempts int `json:"retry_max_attempts"`
	RetryBaseDelayMs int `json:"retry_base_delay_ms"`

	// 单次外部调用超时（秒）
	CallTimeoutSeconds int `json:"call_timeout_seconds"`

	// 检索配置
	DefaultTopK int `json:"default_top_k"`

	// 上传限制（MB）
	MaxFileSizeMB int `json:"max_file_size_mb"`
}

// DefaultConfig 默认配置（与原系统对齐：800/100 分块、批量 64）
func DefaultConfig() *Config {
	return &Config{
		ChunkSize:          800,
		ChunkOverlap:       100,
		EmbeddingBatchSize: 64,
		EmbedConcurrency:   5,
		RetryMaxAttempts:   3,
		RetryBaseDelayMs:   200,
		CallTimeoutSeconds: 60,
		DefaultTopK:        5,
		MaxFileSizeMB:      20,
	}
}

// CallTimeout 单次外部调用超时
func (c *Config) CallTimeout() time.Duration {
	if c.CallTimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}

// RetryPolicy 由配置构造的重试策略
func (c *Config) RetryPolicy() Policy {
	return Policy{
		MaxAttempts: c.RetryMaxAttempts,
		BaseDelay:   time.Duration(c.RetryBaseDelayMs) * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}
