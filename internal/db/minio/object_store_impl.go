package miniodb

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"docgate/internal/domain/extraction"
	applog "docgate/internal/platform/log"
)

// ObjectStore MinIO 对象存储实现，保存上传文档的原始字节
type ObjectStore struct {
	client *minio.Client
	bucket string
}

// Config MinIO 连接配置
type Config struct {
	Endpoint  string // host:port
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewObjectStore 建立 MinIO 连接
func NewObjectStore(cfg Config) (*ObjectStore, error) {
	if cfg.Bucket == "" {
		cfg.Bucket = "documents"
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect minio at %s: %w", cfg.Endpoint, err)
	}
	return &ObjectStore{client: client, bucket: cfg.Bucket}, nil
}

// Bucket 默认桶名
func (s *ObjectStore) Bucket() string {
	return s.bucket
}

// EnsureBucket 确保桶存在，不存在则创建
func (s *ObjectStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	applog.Info("[MinIO] Bucket created", "bucket", s.bucket)
	return nil
}

// Put 写入对象
func (s *ObjectStore) Put(ctx context.Context, loc extraction.Location, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucketOf(loc), loc.Key,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put object %s/%s: %w", s.bucketOf(loc), loc.Key, err)
	}
	return nil
}

// Get 读取对象完整字节。对象不存在返回 NotFound。
func (s *ObjectStore) Get(ctx context.Context, loc extraction.Location) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucketOf(loc), loc.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s/%s: %w", s.bucketOf(loc), loc.Key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		// minio 的 GetObject 懒加载，NoSuchKey 在读取时才暴露
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
			return nil, extraction.E(extraction.KindNotFound, "object %s/%s not found", s.bucketOf(loc), loc.Key)
		}
		return nil, fmt.Errorf("read object %s/%s: %w", s.bucketOf(loc), loc.Key, err)
	}
	return data, nil
}

// Delete 删除对象。删除不存在的对象不报错。
func (s *ObjectStore) Delete(ctx context.Context, loc extraction.Location) error {
	err := s.client.RemoveObject(ctx, s.bucketOf(loc), loc.Key, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("remove object %s/%s: %w", s.bucketOf(loc), loc.Key, err)
	}
	return nil
}

func (s *ObjectStore) bucketOf(loc extraction.Location) string {
	if loc.Bucket != "" {
		return loc.Bucket
	}
	return s.bucket
}
