package processor

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"resume-extractor/internal/config"
	"resume-extractor/internal/constants"
	"resume-extractor/internal/logger"
	"resume-extractor/internal/storage"
	"resume-extractor/internal/storage/models"
	"resume-extractor/internal/tracing"
	"resume-extractor/internal/types"

	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrSubmissionNotFound 提交记录不存在
var ErrSubmissionNotFound = errors.New("submission not found")

// ServiceSettings 服务模式的纯配置项
type ServiceSettings struct {
	ResumeEventsExchange string
	UploadedRoutingKey   string
	SourceChannel        string
	MD5Expiry            time.Duration
	ProfileCacheTTL      time.Duration
	MaxFileSize          int64
}

// ServiceSettingsFromConfig 从配置构建服务设置
func ServiceSettingsFromConfig(cfg *config.Config) ServiceSettings {
	return ServiceSettings{
		ResumeEventsExchange: cfg.RabbitMQ.ResumeEventsExchange,
		UploadedRoutingKey:   cfg.RabbitMQ.UploadedRoutingKey,
		SourceChannel:        "api",
		MD5Expiry:            time.Duration(cfg.Redis.MD5RecordExpireDays) * 24 * time.Hour,
		ProfileCacheTTL:      time.Duration(cfg.Redis.ProfileCacheTTLHours) * time.Hour,
		MaxFileSize:          int64(cfg.Processing.MaxFileSizeMB) << 20,
	}
}

// UploadResult 上传接口的返回
type UploadResult struct {
	SubmissionUUID string `json:"submission_uuid"`
	Status         string `json:"status"`
	Duplicate      bool   `json:"duplicate,omitempty"`
}

// ResumeService 服务模式：上传入库、异步抽取、结果查询
type ResumeService struct {
	processor   *ResumeProcessor
	objects     ObjectStore
	submissions SubmissionStore
	cache       DedupCache // 可选
	settings    ServiceSettings
}

// NewResumeService 创建服务实例，cache 可以为 nil
func NewResumeService(processor *ResumeProcessor, objects ObjectStore, submissions SubmissionStore, cache DedupCache, settings ServiceSettings) (*ResumeService, error) {
	if processor == nil {
		return nil, fmt.Errorf("processor 不能为空")
	}
	if objects == nil || submissions == nil {
		return nil, ErrStorageNotInit
	}
	return &ResumeService{
		processor:   processor,
		objects:     objects,
		submissions: submissions,
		cache:       cache,
		settings:    settings,
	}, nil
}

// NewResumeServiceFromStorage 使用聚合存储创建服务
func NewResumeServiceFromStorage(processor *ResumeProcessor, s *storage.Storage, settings ServiceSettings) (*ResumeService, error) {
	if s == nil || s.MinIO == nil || s.MySQL == nil {
		return nil, ErrStorageNotInit
	}
	var cache DedupCache
	if s.Redis != nil {
		cache = s.Redis
	}
	return NewResumeService(processor, s.MinIO, s.MySQL, cache, settings)
}

// Processor 返回内部的抽取处理器
func (s *ResumeService) Processor() *ResumeProcessor {
	return s.processor
}

// SubmitUpload 保存上传的简历并登记异步抽取任务。
// 同一文件（MD5相同）重复上传时返回已有的提交UUID与 DUPLICATE_FILE 状态。
func (s *ResumeService) SubmitUpload(ctx context.Context, fileName string, data []byte) (*UploadResult, error) {
	ctx, span := tracer.Start(ctx, "SubmitUpload", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.SetAttributes(attribute.String("file_name", tracing.SafeFileName(fileName)), attribute.Int("file_size", len(data)))

	if !s.processor.isAllowed(fileName) {
		return nil, NewUnsupportedTypeError(fileName)
	}
	if s.settings.MaxFileSize > 0 && int64(len(data)) > s.settings.MaxFileSize {
		return nil, NewFileTooLargeError(fileName, int64(len(data)), s.settings.MaxFileSize)
	}

	sum := md5.Sum(data)
	md5Hex := hex.EncodeToString(sum[:])

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("生成提交UUID失败: %w", err)
	}
	submissionUUID := id.String()
	span.SetAttributes(attribute.String("submission_uuid", submissionUUID))

	if s.cache != nil {
		existing, exists, err := s.cache.CheckAndSetFileMD5(ctx, md5Hex, submissionUUID, s.settings.MD5Expiry)
		if err != nil {
			// Redis 不可用时跳过去重
			logger.Warn().Err(err).Str("file_name", fileName).Msg("文件去重检查失败，继续处理")
		} else if exists {
			logger.Info().Str("file_name", fileName).Str("submission_uuid", existing).Msg("检测到重复文件")
			return &UploadResult{SubmissionUUID: existing, Status: constants.StatusDuplicateFile, Duplicate: true}, nil
		}
	}

	rollbackMD5 := func() {
		if s.cache == nil {
			return
		}
		if err := s.cache.RemoveFileMD5(context.WithoutCancel(ctx), md5Hex); err != nil {
			logger.Warn().Err(err).Str("md5", md5Hex).Msg("释放文件MD5记录失败")
		}
	}

	objectKey, err := s.objects.UploadResumeFile(ctx, submissionUUID, fileName, data)
	if err != nil {
		rollbackMD5()
		span.RecordError(err)
		span.SetStatus(codes.Error, "上传原始文件失败")
		return nil, fmt.Errorf("上传原始文件失败: %w", err)
	}

	now := time.Now()
	message := storage.ResumeUploadMessage{
		SubmissionUUID:      submissionUUID,
		SubmissionTimestamp: now,
		SourceChannel:       s.settings.SourceChannel,
		OriginalFilename:    fileName,
		OriginalFilePathOSS: objectKey,
		RawFileMD5:          md5Hex,
	}
	payload, err := json.Marshal(message)
	if err != nil {
		rollbackMD5()
		return nil, fmt.Errorf("序列化outbox payload失败: %w", err)
	}

	submission := &models.ResumeSubmission{
		SubmissionUUID:      submissionUUID,
		SubmissionTimestamp: now,
		SourceChannel:       s.settings.SourceChannel,
		OriginalFilename:    fileName,
		OriginalFilePathOSS: objectKey,
		RawFileMD5:          md5Hex,
		ProcessingStatus:    constants.StatusPendingExtraction,
	}
	outbox := &models.OutboxMessage{
		AggregateID:      submissionUUID,
		EventType:        constants.EventTypeResumeUploaded,
		Payload:          string(payload),
		TargetExchange:   s.settings.ResumeEventsExchange,
		TargetRoutingKey: s.settings.UploadedRoutingKey,
	}
	if err := s.submissions.CreateSubmissionWithOutbox(ctx, submission, outbox); err != nil {
		rollbackMD5()
		// 没有提交记录引用的原始文件直接删除
		if delErr := s.objects.DeleteResumeFile(context.WithoutCancel(ctx), objectKey); delErr != nil {
			logger.Warn().Err(delErr).Str("object_key", objectKey).Msg("删除孤立的原始文件失败")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "写入提交记录失败")
		return nil, NewDatabaseError(submissionUUID, "写入提交记录与outbox失败", err)
	}

	logger.Info().Str("submission_uuid", submissionUUID).Str("file_name", fileName).Msg("简历已登记，等待抽取")
	return &UploadResult{SubmissionUUID: submissionUUID, Status: constants.StatusPendingExtraction}, nil
}

// HandleUploadedMessage 消费上传消息：下载原始文件、远程抽取、保存结果。
// 抽取本身的失败记录在提交状态中并返回 nil；只有基础设施错误才返回 error 以便重新投递。
func (s *ResumeService) HandleUploadedMessage(ctx context.Context, message storage.ResumeUploadMessage) error {
	ctx, span := tracer.Start(ctx, "HandleUploadedMessage", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(attribute.String("submission_uuid", message.SubmissionUUID))

	log := logger.Logger.With().Str("submission_uuid", message.SubmissionUUID).Logger()

	submission, err := s.submissions.GetSubmission(ctx, message.SubmissionUUID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrSubmissionNotFound, message.SubmissionUUID)
		}
		return NewDatabaseError(message.SubmissionUUID, "查询提交记录失败", err)
	}
	if constants.IsTerminalStatus(submission.ProcessingStatus) {
		log.Info().Str("status", submission.ProcessingStatus).Msg("提交已处理完成，跳过重复消息")
		return nil
	}

	if err := s.submissions.UpdateStatus(ctx, message.SubmissionUUID, constants.StatusExtracting); err != nil {
		return NewDatabaseError(message.SubmissionUUID, "更新状态为EXTRACTING失败", err)
	}

	objectKey := message.OriginalFilePathOSS
	if objectKey == "" {
		objectKey = submission.OriginalFilePathOSS
	}
	data, err := s.objects.GetResumeFile(ctx, objectKey)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("下载原始简历失败: %w", err)
	}

	fileName := message.OriginalFilename
	if fileName == "" {
		fileName = submission.OriginalFilename
	}
	result := s.processor.ProcessDocument(ctx, BytesDocument(fileName, data))
	result.SubmissionUUID = message.SubmissionUUID

	// 进程退出导致的取消不落库，消息会被重新投递
	if ctx.Err() != nil {
		return ctx.Err()
	}

	update := models.ResultUpdate{
		Status:        result.Status,
		DocumentID:    result.DocumentID,
		InstructionID: s.processor.InstructionID(),
		EntityCount:   result.EntityCount,
		Profile:       result.Profile,
		Warnings:      result.Warnings,
		ErrorMessage:  result.Error,
	}
	if err := s.submissions.SaveResult(ctx, message.SubmissionUUID, update); err != nil {
		return NewDatabaseError(message.SubmissionUUID, "保存抽取结果失败", err)
	}

	if s.cache != nil {
		if err := s.cache.CacheProfileResult(ctx, result, s.settings.ProfileCacheTTL); err != nil {
			log.Warn().Err(err).Msg("缓存抽取结果失败")
		}
		// 可重试的失败释放去重记录，允许重新上传同一文件
		if isRetryableFailure(result.Err) && message.RawFileMD5 != "" {
			if err := s.cache.RemoveFileMD5(ctx, message.RawFileMD5); err != nil {
				log.Warn().Err(err).Msg("释放文件MD5记录失败")
			}
		}
	}

	span.SetAttributes(attribute.String("result.status", result.Status))
	log.Info().Str("status", result.Status).Int("entities", result.EntityCount).Msg("抽取结果已保存")
	return nil
}

func isRetryableFailure(err error) bool {
	return errors.Is(err, ErrSubmissionFailed) ||
		errors.Is(err, ErrRemoteProcessingFailed) ||
		errors.Is(err, ErrProcessingTimeout) ||
		errors.Is(err, ErrStatusQueryFailed) ||
		errors.Is(err, ErrEntityQueryFailed)
}

// GetResult 查询单个提交的处理结果，优先读取缓存
func (s *ResumeService) GetResult(ctx context.Context, submissionUUID string) (*types.ProfileResult, error) {
	if s.cache != nil {
		cached, err := s.cache.GetProfileResult(ctx, submissionUUID)
		if err != nil {
			logger.Warn().Err(err).Str("submission_uuid", submissionUUID).Msg("读取结果缓存失败")
		} else if cached != nil {
			return cached, nil
		}
	}

	submission, err := s.submissions.GetSubmission(ctx, submissionUUID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrSubmissionNotFound
		}
		return nil, NewDatabaseError(submissionUUID, "查询提交记录失败", err)
	}
	result, err := submission.ToProfileResult()
	if err != nil {
		return nil, fmt.Errorf("解码保存的抽取结果失败: %w", err)
	}

	if s.cache != nil && constants.IsTerminalStatus(result.Status) {
		if err := s.cache.CacheProfileResult(ctx, result, s.settings.ProfileCacheTTL); err != nil {
			logger.Warn().Err(err).Str("submission_uuid", submissionUUID).Msg("缓存抽取结果失败")
		}
	}
	return &result, nil
}

// ListResults 列出已保存的处理结果；uuids 为空时按提交时间倒序取最近 limit 条
func (s *ResumeService) ListResults(ctx context.Context, submissionUUIDs []string, limit int) ([]types.ProfileResult, error) {
	submissions, err := s.submissions.ListSubmissions(ctx, submissionUUIDs, limit)
	if err != nil {
		return nil, NewDatabaseError("", "查询提交记录列表失败", err)
	}

	results := make([]types.ProfileResult, 0, len(submissions))
	for i := range submissions {
		result, err := submissions[i].ToProfileResult()
		if err != nil {
			logger.Warn().Err(err).Str("submission_uuid", submissions[i].SubmissionUUID).Msg("跳过无法解码的抽取结果")
			continue
		}
		results = append(results, result)
	}
	return results, nil
}
