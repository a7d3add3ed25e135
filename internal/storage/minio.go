package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"
	"time"

	"resume-extractor/internal/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
)

// MinIO 提供对象存储功能：原始简历与导出文件
type MinIO struct {
	client         *minio.Client
	cfg            *config.MinIOConfig
	originalBucket string
	exportBucket   string
	logger         *log.Logger
}

// NewMinIO 创建MinIO客户端
func NewMinIO(cfg *config.MinIOConfig, logger *log.Logger) (*MinIO, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MinIO配置不能为空")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("MinIO endpoint 未配置")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	logger.Printf("[MinIO] Initializing client: endpoint=%s, originals=%s, exports=%s", cfg.Endpoint, cfg.OriginalsBucket, cfg.ExportsBucket)

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	m := &MinIO{
		client:         client,
		cfg:            cfg,
		originalBucket: firstNonEmpty(cfg.OriginalsBucket, "originals"),
		exportBucket:   firstNonEmpty(cfg.ExportsBucket, "exports"),
		logger:         logger,
	}

	ctx := context.Background()
	for _, bucket := range []string{m.originalBucket, m.exportBucket} {
		if err := m.ensureBucketExists(ctx, bucket, cfg.Location); err != nil {
			return nil, err
		}
	}

	if err := m.setupLifecycleRules(ctx); err != nil {
		logger.Printf("[MinIO] Warning: failed to set up lifecycle rules: %v", err)
	}

	logger.Printf("[MinIO] Client initialized for endpoint: %s", cfg.Endpoint)
	return m, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ensureBucketExists 确保存储桶存在
func (m *MinIO) ensureBucketExists(ctx context.Context, bucketName, location string) error {
	exists, err := m.client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("检查存储桶 %s 是否存在时出错: %w", bucketName, err)
	}
	if exists {
		return nil
	}
	m.logger.Printf("[MinIO] Bucket %s does not exist, creating...", bucketName)
	if err := m.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{Region: location}); err != nil {
		return fmt.Errorf("创建存储桶 %s 失败: %w", bucketName, err)
	}
	return nil
}

// setupLifecycleRules 为两个存储桶设置过期规则
func (m *MinIO) setupLifecycleRules(ctx context.Context) error {
	if m.cfg.OriginalFileExpireDays > 0 {
		if err := m.setupBucketLifecycle(ctx, m.originalBucket, "expire-originals", m.cfg.OriginalFileExpireDays); err != nil {
			return fmt.Errorf("为原始文件存储桶 %s 设置生命周期失败: %w", m.originalBucket, err)
		}
	}
	if m.cfg.ExportFileExpireDays > 0 {
		if err := m.setupBucketLifecycle(ctx, m.exportBucket, "expire-exports", m.cfg.ExportFileExpireDays); err != nil {
			return fmt.Errorf("为导出文件存储桶 %s 设置生命周期失败: %w", m.exportBucket, err)
		}
	}
	return nil
}

func (m *MinIO) setupBucketLifecycle(ctx context.Context, bucketName, ruleID string, expiryDays int) error {
	cfg := lifecycle.NewConfiguration()
	cfg.Rules = []lifecycle.Rule{
		{
			ID:     ruleID,
			Status: "Enabled",
			Expiration: lifecycle.Expiration{
				Days: lifecycle.ExpirationDays(expiryDays),
			},
		},
	}
	return m.client.SetBucketLifecycle(ctx, bucketName, cfg)
}

// ResumeObjectKey 原始简历的对象键，例如 resume/<uuid>/original.pdf
func ResumeObjectKey(submissionUUID, fileName string) string {
	return fmt.Sprintf("resume/%s/original%s", submissionUUID, strings.ToLower(filepath.Ext(fileName)))
}

// UploadResumeFile 上传原始简历，返回对象键
func (m *MinIO) UploadResumeFile(ctx context.Context, submissionUUID, fileName string, data []byte) (string, error) {
	objectName := ResumeObjectKey(submissionUUID, fileName)
	opts := minio.PutObjectOptions{
		ContentType:  ContentTypeFor(filepath.Ext(fileName)),
		UserMetadata: map[string]string{"original-filename": filepath.Base(fileName)},
	}
	if _, err := m.client.PutObject(ctx, m.originalBucket, objectName, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return "", fmt.Errorf("上传简历 %s 到存储桶 %s 失败: %w", objectName, m.originalBucket, err)
	}
	if m.cfg.EnableTestLogging {
		m.logger.Printf("[MinIO] Uploaded %s (%d bytes) to %s", objectName, len(data), m.originalBucket)
	}
	return objectName, nil
}

// GetResumeFile 下载原始简历
func (m *MinIO) GetResumeFile(ctx context.Context, objectKey string) ([]byte, error) {
	return m.download(ctx, m.originalBucket, objectKey)
}

// UploadExport 上传导出文件，返回对象键
func (m *MinIO) UploadExport(ctx context.Context, fileName string, data []byte) (string, error) {
	objectName := fmt.Sprintf("exports/%s/%s", time.Now().Format("20060102-150405"), filepath.Base(fileName))
	opts := minio.PutObjectOptions{ContentType: ContentTypeFor(filepath.Ext(fileName))}
	if _, err := m.client.PutObject(ctx, m.exportBucket, objectName, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return "", fmt.Errorf("上传导出文件 %s 失败: %w", objectName, err)
	}
	return objectName, nil
}

// GetExportURL 获取导出文件的预签名下载地址
func (m *MinIO) GetExportURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	presignedURL, err := m.client.PresignedGetObject(ctx, m.exportBucket, objectKey, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("生成预签名URL失败: %w", err)
	}
	return presignedURL.String(), nil
}

// DeleteResumeFile 删除原始简历
func (m *MinIO) DeleteResumeFile(ctx context.Context, objectKey string) error {
	return m.client.RemoveObject(ctx, m.originalBucket, objectKey, minio.RemoveObjectOptions{})
}

func (m *MinIO) download(ctx context.Context, bucketName, objectKey string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, bucketName, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("获取对象 %s/%s 失败: %w", bucketName, objectKey, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("读取对象 %s/%s 失败: %w", bucketName, objectKey, err)
	}
	return data, nil
}

// ContentTypeFor 根据扩展名返回内容类型
func ContentTypeFor(ext string) string {
	switch strings.ToLower(ext) {
	case ".pdf":
		return "application/pdf"
	case ".doc":
		return "application/msword"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".txt":
		return "text/plain"
	case ".json":
		return "application/json"
	case ".jsonl":
		return "application/x-ndjson"
	case ".csv":
		return "text/csv"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}
