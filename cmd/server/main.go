package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"

	"docgate/internal/api"
	miniodb "docgate/internal/db/minio"
	"docgate/internal/db/postgres"
	qdrantdb "docgate/internal/db/qdrant"
	redisdb "docgate/internal/db/redis"
	"docgate/internal/domain/extraction"
	"docgate/internal/platform/config"
	applog "docgate/internal/platform/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Config load failed: %v\n", err)
		os.Exit(1)
	}

	applog.Init(applog.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	// PostgreSQL：文档元数据
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		applog.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetimeSeconds) * time.Second)

	if err := db.Ping(); err != nil {
		applog.Fatalf("❌ Failed to ping database: %v", err)
	}
	applog.Info("✅ Connected to PostgreSQL")

	repo := postgres.NewRepository(db)
	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer migrateCancel()
	if err := repo.EnsureTables(migrateCtx); err != nil {
		applog.Fatalf("❌ Failed to ensure documents table: %v", err)
	}
	applog.Info("✅ Documents table ready")

	// MinIO：原始文档字节
	store, err := miniodb.NewObjectStore(miniodb.Config{
		Endpoint:  cfg.Minio.Endpoint,
		AccessKey: cfg.Minio.AccessKey,
		SecretKey: cfg.Minio.SecretKey,
		Bucket:    cfg.Minio.Bucket,
		UseSSL:    cfg.Minio.UseSSL,
	})
	if err != nil {
		applog.Fatalf("❌ Failed to connect to MinIO: %v", err)
	}
	bucketCtx, bucketCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer bucketCancel()
	if err := store.EnsureBucket(bucketCtx); err != nil {
		applog.Fatalf("❌ Failed to ensure bucket: %v", err)
	}
	applog.Infof("✅ Connected to MinIO (bucket: %s)", cfg.Minio.Bucket)

	// Embedder
	embedder := extraction.NewOpenAIEmbedder(extraction.OpenAIEmbedderConfig{
		BaseURL: cfg.Embedding.BaseURL,
		APIKey:  cfg.Embedding.APIKey,
		Model:   cfg.Embedding.Model,
		Dims:    cfg.Embedding.Dims,
		Timeout: cfg.Extraction.CallTimeout(),
	})
	applog.Infof("✅ Embedder initialized (model: %s, dims: %d)", cfg.Embedding.Model, embedder.Dims())

	// Qdrant：向量索引
	index, err := qdrantdb.NewVectorIndex(qdrantdb.Config{
		Addr:       cfg.Qdrant.Addr,
		Collection: cfg.Qdrant.Collection,
	})
	if err != nil {
		applog.Fatalf("❌ Failed to connect to Qdrant: %v", err)
	}
	defer index.Close()

	collCtx, collCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer collCancel()
	if err := index.EnsureCollection(collCtx, embedder.Dims()); err != nil {
		applog.Fatalf("❌ Failed to ensure Qdrant collection: %v", err)
	}
	applog.Infof("✅ Connected to Qdrant (collection: %s)", cfg.Qdrant.Collection)

	// Redis：检索缓存（可选）
	var cache extraction.SearchCache
	if cfg.Redis.URL != "" {
		if opt, err := goredis.ParseURL(cfg.Redis.URL); err == nil {
			redisClient := goredis.NewClient(opt)
			pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
			err = redisClient.Ping(pingCtx).Err()
			pingCancel()
			if err != nil {
				applog.Warnf("⚠️  Redis ping failed: %v (search cache disabled)", err)
			} else {
				cache = redisdb.NewSearchCache(redisClient, cfg.Redis.CacheTTLSeconds)
				applog.Infof("✅ Search cache initialized (TTL: %ds)", cfg.Redis.CacheTTLSeconds)
			}
		} else {
			applog.Warnf("⚠️  Redis URL invalid, search cache disabled: %v", err)
		}
	} else {
		applog.Info("ℹ️  No REDIS_URL set, search cache disabled")
	}

	registry := extraction.NewRegistry()
	orchestrator := extraction.NewOrchestrator(
		&cfg.Extraction, store, repo, registry, embedder, index, cache)
	searcher := extraction.NewSearcher(&cfg.Extraction, embedder, index)
	if cache != nil {
		searcher.SetCache(cache)
	}
	applog.Infof("✅ Extraction pipeline ready (chunk: %d/%d, batch: %d)",
		cfg.Extraction.ChunkSize, cfg.Extraction.ChunkOverlap, cfg.Extraction.EmbeddingBatchSize)

	serverConfig := api.DefaultServerConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	serverConfig.ReadTimeout = time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second
	serverConfig.WriteTimeout = time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second
	server := api.NewServer(serverConfig, orchestrator, searcher, cfg.Minio.Bucket, cfg.Extraction.MaxFileSizeMB)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		applog.Info("🔄 Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := server.Stop(ctx); err != nil {
			applog.Errorf("❌ Server shutdown error: %v", err)
		}
	}()

	if err := server.Start(); err != nil && err.Error() != "http: Server closed" {
		applog.Fatalf("❌ Server error: %v", err)
	}

	applog.Info("👋 Server stopped")
}
