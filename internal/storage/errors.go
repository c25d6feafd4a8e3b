package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
)

var (
	// ErrAccessDenied 表示 MinIO 拒绝了凭据或签名，需要检查部署配置。
	ErrAccessDenied = errors.New("object storage denied access")
	// ErrBucketMissing 表示压缩包 Bucket 在运行中被删除。
	ErrBucketMissing = errors.New("archive bucket not found")
)

func responseCode(err error) string {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return strings.ToLower(strings.TrimSpace(resp.Code))
	}
	return ""
}

// IsNoSuchKey 报告压缩包对象是否已不存在。
func IsNoSuchKey(err error) bool {
	if err == nil {
		return false
	}
	switch responseCode(err) {
	case "nosuchkey", "notfound":
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "specified key does not exist")
}

// publishError 给发布阶段的错误加上步骤名，凭据与 Bucket 问题归入对应的哨兵错误，
// 批量任务消息里能直接看出是配置问题。
func publishError(step string, err error) error {
	switch responseCode(err) {
	case "accessdenied", "invalidaccesskeyid", "signaturedoesnotmatch":
		return fmt.Errorf("%s: %w: %v", step, ErrAccessDenied, err)
	case "nosuchbucket":
		return fmt.Errorf("%s: %w: %v", step, ErrBucketMissing, err)
	}
	return fmt.Errorf("%s: %w", step, err)
}
