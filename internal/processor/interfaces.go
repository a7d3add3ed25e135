package processor

import (
	"context"
	"io"
	"time"

	"resume-extractor/internal/storage/models"
	"resume-extractor/internal/types"
)

//
// 远程抽取服务相关接口
//

// ExtractionService 远程文档智能服务，由 extraction.Client 实现
type ExtractionService interface {
	// CreateDocument 提交文档内容，返回远程文档ID与初始状态
	CreateDocument(ctx context.Context, fileName string, content io.Reader, metadata map[string]any) (*types.RemoteDocument, error)

	// GetDocument 查询文档处理状态
	GetDocument(ctx context.Context, documentID string) (*types.RemoteDocument, error)

	// ListDocumentEntities 列出文档的全部实体片段
	ListDocumentEntities(ctx context.Context, documentID string) ([]types.EntityRecord, error)

	// CreateInstruction 定义抽取指令
	CreateInstruction(ctx context.Context, schema types.ExtractionSchema) (*types.Instruction, error)

	// ListInstructions 列出已有抽取指令
	ListInstructions(ctx context.Context) ([]types.Instruction, error)
}

//
// 服务模式下的存储相关接口
//

// ObjectStore 原始简历文件存储
type ObjectStore interface {
	UploadResumeFile(ctx context.Context, submissionUUID, fileName string, data []byte) (string, error)
	GetResumeFile(ctx context.Context, objectKey string) ([]byte, error)
	DeleteResumeFile(ctx context.Context, objectKey string) error
}

// SubmissionStore 提交记录与 outbox 持久化
type SubmissionStore interface {
	// CreateSubmissionWithOutbox 在同一事务中写入提交记录和待投递消息
	CreateSubmissionWithOutbox(ctx context.Context, submission *models.ResumeSubmission, outbox *models.OutboxMessage) error
	GetSubmission(ctx context.Context, submissionUUID string) (*models.ResumeSubmission, error)
	ListSubmissions(ctx context.Context, submissionUUIDs []string, limit int) ([]models.ResumeSubmission, error)
	UpdateStatus(ctx context.Context, submissionUUID, status string) error
	SaveResult(ctx context.Context, submissionUUID string, update models.ResultUpdate) error
}

// DedupCache 文件去重与结果缓存
type DedupCache interface {
	// CheckAndSetFileMD5 原子地登记文件MD5，已存在时返回之前的提交UUID
	CheckAndSetFileMD5(ctx context.Context, md5Hex, submissionUUID string, expiry time.Duration) (existingUUID string, exists bool, err error)
	RemoveFileMD5(ctx context.Context, md5Hex string) error
	CacheProfileResult(ctx context.Context, result types.ProfileResult, ttl time.Duration) error
	GetProfileResult(ctx context.Context, submissionUUID string) (*types.ProfileResult, error)
}
