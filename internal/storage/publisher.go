package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
)

// ObjectStore 是 Publisher 依赖的对象存储操作，*Client 满足该接口。
type ObjectStore interface {
	UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error)
	GeneratePresignedURL(ctx context.Context, objectKey string, duration time.Duration, params map[string]string) (string, error)
	DeleteObject(ctx context.Context, objectKey string) error
}

// Publisher 上传本地压缩包并返回限时下载链接。
type Publisher struct {
	store  ObjectStore
	ttl    time.Duration
	logger *slog.Logger
}

// NewPublisher 创建 Publisher，ttl 为下载链接有效期。
func NewPublisher(store ObjectStore, ttl time.Duration, logger *slog.Logger) *Publisher {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Publisher{store: store, ttl: ttl, logger: logger}
}

// Publish 上传 localPath 为 objectName，下载时保留原始文件名。
// 签发链接失败时删除刚上传的对象。
func (p *Publisher) Publish(ctx context.Context, localPath, objectName string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat archive: %w", err)
	}

	if _, err := p.store.UploadFile(ctx, objectName, f, info.Size(), "application/zip"); err != nil {
		return "", publishError("upload archive", err)
	}

	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": path.Base(objectName)})
	url, err := p.store.GeneratePresignedURL(ctx, objectName, p.ttl, map[string]string{
		"response-content-disposition": disposition,
	})
	if err != nil {
		if delErr := p.store.DeleteObject(context.WithoutCancel(ctx), objectName); delErr != nil {
			p.logger.Warn("delete unpublished archive failed", slog.String("object", objectName), slog.Any("error", delErr))
		}
		return "", publishError("presign archive", err)
	}

	p.logger.Info("archive published", slog.String("object", objectName), slog.Int64("bytes", info.Size()))
	return url, nil
}
