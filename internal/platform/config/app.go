package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"docgate/internal/domain/extraction"
)

// AppConfig 全局配置。启动时统一加载，再按模块提取使用。
type AppConfig struct {
	LogLevel   string            `json:"log_level"`
	LogFormat  string            `json:"log_format"`
	Server     ServerConfig      `json:"server"`
	Database   DatabaseConfig    `json:"database"`
	Redis      RedisConfig       `json:"redis"`
	Minio      MinioConfig       `json:"minio"`
	Qdrant     QdrantConfig      `json:"qdrant"`
	Embedding  EmbeddingConfig   `json:"embedding"`
	Extraction extraction.Config `json:"extraction"`
}

type ServerConfig struct {
	Host                string `json:"host"`
	Port                int    `json:"port"`
	ReadTimeoutSeconds  int    `json:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `json:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	URL                    string `json:"url"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

type RedisConfig struct {
	URL             string `json:"url"`
	CacheTTLSeconds int    `json:"cache_ttl_seconds"`
}

type MinioConfig struct {
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	UseSSL    bool   `json:"use_ssl"`
}

type QdrantConfig struct {
	Addr       string `json:"addr"`
	Collection string `json:"collection"`
}

type EmbeddingConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
	Dims    int    `json:"dims"`
}

// Default 返回默认配置。
func Default() *AppConfig {
	return &AppConfig{
		LogLevel:  "info",
		LogFormat: "text",
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8080,
			ReadTimeoutSeconds:  30,
			WriteTimeoutSeconds: 300,
		},
		Database: DatabaseConfig{
			MaxOpenConns:           25,
			MaxIdleConns:           5,
			ConnMaxLifetimeSeconds: 300,
		},
		Redis: RedisConfig{
			CacheTTLSeconds: 300,
		},
		Minio: MinioConfig{
			Bucket: "documents",
		},
		Qdrant: QdrantConfig{
			Addr:       "localhost:6334",
			Collection: "documents",
		},
		Embedding: EmbeddingConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "text-embedding-3-small",
			Dims:    768,
		},
		Extraction: *extraction.DefaultConfig(),
	}
}

// Load 加载全局配置：默认值 -> 配置文件 -> 环境变量。
// 配置文件路径通过 APP_CONFIG_FILE 指定（JSON）。
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		// .env 非必需，忽略错误
	}

	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("APP_CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read APP_CONFIG_FILE %q failed: %w", path, err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse APP_CONFIG_FILE %q failed: %w", path, err)
	}
	return nil
}

func (c *AppConfig) applyEnv() {
	applyString("LOG_LEVEL", &c.LogLevel)
	applyString("LOG_FORMAT", &c.LogFormat)

	applyString("HOST", &c.Server.Host)
	applyInt("PORT", &c.Server.Port)
	applyInt("SERVER_READ_TIMEOUT", &c.Server.ReadTimeoutSeconds)
	applyInt("SERVER_WRITE_TIMEOUT", &c.Server.WriteTimeoutSeconds)

	applyString("DATABASE_URL", &c.Database.URL)
	applyInt("DATABASE_MAX_OPEN_CONNS", &c.Database.MaxOpenConns)
	applyInt("DATABASE_MAX_IDLE_CONNS", &c.Database.MaxIdleConns)
	applyInt("DATABASE_CONN_MAX_LIFETIME", &c.Database.ConnMaxLifetimeSeconds)

	applyString("REDIS_URL", &c.Redis.URL)
	applyInt("SEARCH_CACHE_TTL", &c.Redis.CacheTTLSeconds)

	applyString("MINIO_ENDPOINT", &c.Minio.Endpoint)
	applyString("MINIO_ACCESS_KEY", &c.Minio.AccessKey)
	applyString("MINIO_SECRET_KEY", &c.Minio.SecretKey)
	applyString("MINIO_BUCKET", &c.Minio.Bucket)
	applyBool("MINIO_USE_SSL", &c.Minio.UseSSL)

	applyString("QDRANT_ADDR", &c.Qdrant.Addr)
	applyString("QDRANT_COLLECTION", &c.Qdrant.Collection)

	applyString("EMBEDDING_BASE_URL", &c.Embedding.BaseURL)
	applyString("EMBEDDING_API_KEY", &c.Embedding.APIKey)
	applyString("EMBEDDING_MODEL", &c.Embedding.Model)
	applyInt("EMBEDDING_DIMS", &c.Embedding.Dims)

	applyInt("CHUNK_SIZE", &c.Extraction.ChunkSize)
	applyInt("CHUNK_OVERLAP", &c.Extraction.ChunkOverlap)
	applyInt("EMBEDDING_BATCH_SIZE", &c.Extraction.EmbeddingBatchSize)
	applyInt("EMBED_CONCURRENCY", &c.Extraction.EmbedConcurrency)
	applyInt("RETRY_MAX_ATTEMPTS", &c.Extraction.RetryMaxAttempts)
	applyInt("RETRY_BASE_DELAY_MS", &c.Extraction.RetryBaseDelayMs)
	applyInt("CALL_TIMEOUT", &c.Extraction.CallTimeoutSeconds)
	applyInt("SEARCH_DEFAULT_TOP_K", &c.Extraction.DefaultTopK)
	applyInt("MAX_FILE_SIZE", &c.Extraction.MaxFileSizeMB)
}

func (c *AppConfig) normalize() {
	if c.Embedding.BaseURL == "" {
		c.Embedding.BaseURL = "https://api.openai.com/v1"
	}
	if c.Minio.Bucket == "" {
		c.Minio.Bucket = "documents"
	}
	if c.Qdrant.Collection == "" {
		c.Qdrant.Collection = "documents"
	}
}

func (c *AppConfig) validate() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if strings.TrimSpace(c.Minio.Endpoint) == "" {
		return fmt.Errorf("MINIO_ENDPOINT is required")
	}
	if c.Extraction.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive")
	}
	if c.Extraction.ChunkOverlap < 0 || c.Extraction.ChunkOverlap >= c.Extraction.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE)")
	}
	if c.Embedding.Dims <= 0 {
		return fmt.Errorf("EMBEDDING_DIMS must be positive")
	}
	return nil
}

func applyString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func applyInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func applyBool(key string, target *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}
