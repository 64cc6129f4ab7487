// Package blob 知识包归档的对象存储
//
// 知识包本体（模块代码与测试的归档）按 rootHash 存放于 MinIO，
// 数据库只保存元数据与 rootHash 指纹。
package blob

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config MinIO 连接配置
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Store 知识包归档存储
type Store struct {
	mc     *minio.Client
	bucket string
}

// NewStore 创建归档存储客户端
func NewStore(cfg Config) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("minio access_key and secret_key are required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "nervix-knowledge"
	}

	return &Store{mc: mc, bucket: bucket}, nil
}

// archiveKey 归档对象的存储路径
func archiveKey(rootHash string) string {
	return fmt.Sprintf("archives/%s.tar.gz", rootHash)
}

// EnsureBucket 确保 bucket 存在
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.mc.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.mc.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		log.Printf("[blob] Created bucket: %s", s.bucket)
	}
	return nil
}

// PutArchive 按 rootHash 上传知识包归档
func (s *Store) PutArchive(ctx context.Context, rootHash string, reader io.Reader, size int64) error {
	_, err := s.mc.PutObject(ctx, s.bucket, archiveKey(rootHash), reader, size, minio.PutObjectOptions{
		ContentType: "application/gzip",
	})
	if err != nil {
		return fmt.Errorf("put archive %s: %w", rootHash, err)
	}
	return nil
}

// GetArchive 下载知识包归档，调用方负责关闭返回的 ReadCloser
func (s *Store) GetArchive(ctx context.Context, rootHash string) (io.ReadCloser, error) {
	obj, err := s.mc.GetObject(ctx, s.bucket, archiveKey(rootHash), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get archive %s: %w", rootHash, err)
	}
	// 验证对象存在（GetObject 不会立即返回错误）
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, fmt.Errorf("stat archive %s: %w", rootHash, err)
	}
	return obj, nil
}

// ArchiveExists 检查归档是否已上传
func (s *Store) ArchiveExists(ctx context.Context, rootHash string) (bool, error) {
	_, err := s.mc.StatObject(ctx, s.bucket, archiveKey(rootHash), minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// PresignArchive 生成限时下载链接（易货完成后交付给受让方）
func (s *Store) PresignArchive(ctx context.Context, rootHash string, expiry time.Duration) (*url.URL, error) {
	u, err := s.mc.PresignedGetObject(ctx, s.bucket, archiveKey(rootHash), expiry, nil)
	if err != nil {
		return nil, fmt.Errorf("presign archive %s: %w", rootHash, err)
	}
	return u, nil
}

// DeleteArchive 删除归档
func (s *Store) DeleteArchive(ctx context.Context, rootHash string) error {
	return s.mc.RemoveObject(ctx, s.bucket, archiveKey(rootHash), minio.RemoveObjectOptions{})
}
