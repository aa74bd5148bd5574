package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	applog "docgate/internal/platform/log"
)

// ── OpenAI 兼容 Embedder 实现 ─────────────────────────────────

// OpenAIEmbedder 调用 OpenAI 兼容 /v1/embeddings API。
// 每次 Embed 发一次请求，批量切分与并发由 Orchestrator 控制。
type OpenAIEmbedder struct {
	baseURL string
	apiKey  string
	model   string
	dims    int
	client  *http.Client
}

// OpenAIEmbedderConfig 配置
type OpenAIEmbedderConfig struct {
	BaseURL string // e.g. https://api.openai.com/v1
	APIKey  string
	Model   string // e.g. text-embedding-3-small
	Dims    int    // 向量维度
	Timeout time.Duration
}

// NewOpenAIEmbedder 创建 OpenAI 兼容 Embedder
func NewOpenAIEmbedder(cfg OpenAIEmbedderConfig) *OpenAIEmbedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Dims <= 0 {
		cfg.Dims = 768
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &OpenAIEmbedder{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		dims:    cfg.Dims,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// Dims 返回向量维度
func (e *OpenAIEmbedder) Dims() int {
	return e.dims
}

// ── 内部请求/响应结构 ──────────────────────────────────────────

type embeddingRequest struct {
	Input          []string `json:"input"`
	Model          string   `json:"model"`
	Dimensions     int      `json:"dimensions,omitempty"`
	EncodingFormat string   `json:"encoding_format,omitempty"`
}

type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Model string          `json:"model"`
	Usage embeddingUsage  `json:"usage"`
}

type embeddingData struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type embeddingUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Embed 对一批文本生成向量，保序、等长。
// 网络与 API 错误归为 EmbeddingProviderError（可重试）。
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	start := time.Now()

	reqBody := embeddingRequest{
		Input:          texts,
		Model:          e.model,
		EncodingFormat: "float",
	}
	// 若使用支持 dimensions 参数的模型（如 text-embedding-3-*）
	if strings.Contains(e.model, "embedding-3") {
		reqBody.Dimensions = e.dims
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, E(KindEmbeddingProvider, "marshal request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, E(KindEmbeddingProvider, "create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, E(KindEmbeddingProvider, "embedding request: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, E(KindEmbeddingProvider, "read response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, E(KindEmbeddingProvider, "embedding API error (%d): %s", resp.StatusCode, truncate(string(respBody), 512))
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(respBody, &embResp); err != nil {
		return nil, E(KindEmbeddingProvider, "parse response: %v", err)
	}
	if len(embResp.Data) != len(texts) {
		return nil, E(KindEmbeddingProvider, "expected %d embeddings, got %d", len(texts), len(embResp.Data))
	}

	// 按 index 排序确保顺序正确
	vectors := make([][]float32, len(texts))
	for _, d := range embResp.Data {
		if d.Index >= 0 && d.Index < len(vectors) {
			vectors[d.Index] = d.Embedding
		}
	}

	// 验证所有向量都已填充
	for i, v := range vectors {
		if v == nil {
			return nil, E(KindEmbeddingProvider, "missing embedding for text index %d", i)
		}
	}

	applog.Debug("[Extraction/Embedder] Batch embedded",
		"count", len(texts),
		"dims", len(vectors[0]),
		"tokens", embResp.Usage.TotalTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	return vectors, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s... (%d bytes total)", s[:n], len(s))
}
