package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"docgate/internal/domain/extraction"
)

// Repository PostgreSQL 文档元数据仓储
type Repository struct {
	db *sql.DB
}

// NewRepository 创建 PostgreSQL 仓储
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// EnsureTables 确保 documents 表存在
func (r *Repository) EnsureTables(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS documents (
		id          UUID PRIMARY KEY,
		name        VARCHAR(512) NOT NULL,
		media_type  VARCHAR(128) NOT NULL,
		byte_size   BIGINT NOT NULL DEFAULT 0,
		bucket      VARCHAR(128) NOT NULL,
		object_key  VARCHAR(768) NOT NULL,
		status      VARCHAR(32) NOT NULL DEFAULT 'pending',
		chunk_count INT NOT NULL DEFAULT 0,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
	CREATE INDEX IF NOT EXISTS idx_documents_created ON documents(created_at DESC);
	`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Create 写入文档元数据。同 ID 重传覆盖原记录并重置状态。
func (r *Repository) Create(ctx context.Context, doc *extraction.Document) error {
	query := `
	INSERT INTO documents (id, name, media_type, byte_size, bucket, object_key, status, chunk_count, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $8)
	ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name,
		media_type = EXCLUDED.media_type,
		byte_size = EXCLUDED.byte_size,
		bucket = EXCLUDED.bucket,
		object_key = EXCLUDED.object_key,
		status = EXCLUDED.status,
		chunk_count = 0,
		updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		doc.ID, doc.Name, doc.MediaType, doc.ByteSize,
		doc.Location.Bucket, doc.Location.Key, doc.Status, time.Now())
	if err != nil {
		return fmt.Errorf("insert document %s: %w", doc.ID, err)
	}
	return nil
}

// Get 读取单个文档元数据
func (r *Repository) Get(ctx context.Context, id string) (*extraction.Document, error) {
	query := `
	SELECT id, name, media_type, byte_size, bucket, object_key, status, chunk_count, created_at, updated_at
	FROM documents WHERE id = $1
	`
	doc, err := scanDocument(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, extraction.E(extraction.KindNotFound, "document %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query document %s: %w", id, err)
	}
	return doc, nil
}

// List 列出全部文档元数据，按创建时间降序
func (r *Repository) List(ctx context.Context) ([]extraction.Document, error) {
	query := `
	SELECT id, name, media_type, byte_size, bucket, object_key, status, chunk_count, created_at, updated_at
	FROM documents ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []extraction.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// UpdateStatus 更新文档状态与块数
func (r *Repository) UpdateStatus(ctx context.Context, id, status string, chunkCount int) error {
	query := `UPDATE documents SET status = $2, chunk_count = $3, updated_at = NOW() WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, status, chunkCount)
	if err != nil {
		return fmt.Errorf("update document %s status: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return extraction.E(extraction.KindNotFound, "document %s not found", id)
	}
	return nil
}

// Delete 删除文档元数据
func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return extraction.E(extraction.KindNotFound, "document %s not found", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*extraction.Document, error) {
	var doc extraction.Document
	err := row.Scan(
		&doc.ID, &doc.Name, &doc.MediaType, &doc.ByteSize,
		&doc.Location.Bucket, &doc.Location.Key,
		&doc.Status, &doc.ChunkCount, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}
