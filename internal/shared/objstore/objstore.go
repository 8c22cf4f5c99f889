// Package objstore 封装MinIO对象存储。附件本体放对象存储，
// 数据库只留元数据行。
package objstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/choihyunjun/JEM-SCM-sub000/internal/config"
)

// Store MinIO客户端与桶的组合
type Store struct {
	client *minio.Client
	bucket string
}

// New 创建对象存储客户端。endpoint未配置时返回nil，
// 调用方按未配置处理而不是启动失败。
func New(cfg config.MinIOConfig) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// ObjectName 生成存储路径：前缀/日期/随机段+原扩展名
func ObjectName(prefix, fileName string) string {
	return fmt.Sprintf("%s/%s/%s%s", prefix, time.Now().Format("2006/01/02"), uuid.New().String()[:8], filepath.Ext(fileName))
}

// Put 上传对象
func (s *Store) Put(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("upload object: %w", err)
	}
	return nil
}

// Get 下载对象
func (s *Store) Get(ctx context.Context, objectName string) (io.ReadCloser, error) {
	object, err := s.client.GetObject(ctx, s.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	return object, nil
}

// PresignedGetURL 生成限时下载链接，下载文件名通过响应头指定
func (s *Store) PresignedGetURL(ctx context.Context, objectName, fileName string, expiry time.Duration) (string, error) {
	reqParams := make(url.Values)
	reqParams.Set("response-content-disposition", fmt.Sprintf(`attachment; filename="%s"`, fileName))

	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, expiry, reqParams)
	if err != nil {
		return "", fmt.Errorf("presign object: %w", err)
	}
	return u.String(), nil
}

// Remove 删除对象
func (s *Store) Remove(ctx context.Context, objectName string) error {
	return s.client.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{})
}
