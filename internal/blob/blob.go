package blob

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store 是消息核心消费的对象存储边界：保存字节拿回引用，按引用取回字节。
type Store interface {
	Put(ctx context.Context, logicalName, contentType string, r io.Reader, size int64) (string, error)
	Get(ctx context.Context, object string) (io.ReadCloser, string, error)
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioStore 基于 MinIO / S3 兼容接口实现 Store。
type MinioStore struct {
	cfg    Config
	client *minio.Client
}

func New(cfg Config) (*MinioStore, error) {
	cl, err := minio.New(strings.TrimPrefix(cfg.Endpoint, "http://"), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	return &MinioStore{cfg: cfg, client: cl}, nil
}

// EnsureBucket 启动时保证桶存在。
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return err
	}
	if !exists {
		return s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{})
	}
	return nil
}

// Put 写入对象并返回对象键。键用 uuid 前缀避免同名覆盖，保留扩展名便于排查。
func (s *MinioStore) Put(ctx context.Context, logicalName, contentType string, r io.Reader, size int64) (string, error) {
	key := fmt.Sprintf("%s%s", uuid.NewString(), sanitizeExt(logicalName))
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, key, r, size,
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", err
	}
	return key, nil
}

// Get 按对象键取回内容和 Content-Type。
func (s *MinioStore) Get(ctx context.Context, object string) (io.ReadCloser, string, error) {
	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", err
	}
	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, "", err
	}
	return obj, stat.ContentType, nil
}

func sanitizeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	for _, r := range ext {
		if !(r == '.' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return ""
		}
	}
	return ext
}
