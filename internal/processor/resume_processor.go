package processor // 简历抽取流程：提交远程服务、等待处理完成、合并实体为候选人档案

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"resume-extractor/internal/constants"
	"resume-extractor/internal/extraction"
	"resume-extractor/internal/logger"
	"resume-extractor/internal/parser"
	"resume-extractor/internal/tracing"
	"resume-extractor/internal/types"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("resume-extractor/processor")

// Document 待处理的一份简历
type Document struct {
	FileName string
	Open     func() (io.ReadCloser, error)
}

// FileDocument 本地文件
func FileDocument(path string) Document {
	return Document{
		FileName: filepath.Base(path),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}
}

// BytesDocument 内存中的文件内容（例如HTTP上传）
func BytesDocument(fileName string, data []byte) Document {
	return Document{
		FileName: fileName,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// UnreadableDocument 读取失败的文件，处理时以 err 结束，不影响同批其他文件
func UnreadableDocument(fileName string, err error) Document {
	return Document{
		FileName: fileName,
		Open: func() (io.ReadCloser, error) {
			return nil, err
		},
	}
}

// ResumeProcessor 简历抽取处理器。结果由调用方持有，处理器本身只保存抽取指令ID。
type ResumeProcessor struct {
	extractor             ExtractionService
	poll                  PollPolicy
	workers               int
	namePrefix            string
	autoCreateInstruction bool
	allowedExtensions     []string
	metadata              map[string]any
	now                   func() time.Time

	mu            sync.Mutex
	instructionID string
}

// NewResumeProcessor 创建处理器
func NewResumeProcessor(extractor ExtractionService, options ...ProcessorOption) *ResumeProcessor {
	rp := &ResumeProcessor{
		extractor:             extractor,
		poll:                  DefaultPollPolicy(),
		workers:               1,
		namePrefix:            "Resume Parser",
		autoCreateInstruction: true,
		now:                   time.Now,
	}
	for _, option := range options {
		option(rp)
	}
	return rp
}

// InstructionID 当前使用的抽取指令ID，尚未创建时为空
func (rp *ResumeProcessor) InstructionID() string {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return rp.instructionID
}

// CreateSchema 创建一个新的简历抽取指令并作为当前指令
func (rp *ResumeProcessor) CreateSchema(ctx context.Context) (*types.Instruction, error) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return rp.createInstructionLocked(ctx)
}

// createInstructionLocked 调用方需持有 rp.mu
func (rp *ResumeProcessor) createInstructionLocked(ctx context.Context) (*types.Instruction, error) {
	schema := extraction.NewResumeExtractionSchema(rp.namePrefix, rp.now())
	if err := extraction.ValidateExtractionSchema(schema); err != nil {
		return nil, NewSchemaError("指令定义无效", err)
	}

	instruction, err := rp.extractor.CreateInstruction(ctx, schema)
	if err != nil {
		return nil, NewSchemaError(schema.Name, err)
	}
	rp.instructionID = instruction.ID

	logger.Info().Str("instruction_id", instruction.ID).Str("name", schema.Name).Msg("抽取指令创建成功")
	return instruction, nil
}

// ListSchemas 列出远程服务中的抽取指令
func (rp *ResumeProcessor) ListSchemas(ctx context.Context) ([]types.Instruction, error) {
	return rp.extractor.ListInstructions(ctx)
}

// EnsureInstruction 首次提交前确保存在抽取指令。
// 已配置或已创建时直接返回；创建失败时返回 ErrSchemaCreationFailed，下次调用会再次尝试。
func (rp *ResumeProcessor) EnsureInstruction(ctx context.Context) (string, error) {
	// 串行化创建，避免并发处理时重复创建指令
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if rp.instructionID != "" || !rp.autoCreateInstruction {
		return rp.instructionID, nil
	}

	instruction, err := rp.createInstructionLocked(ctx)
	if err != nil {
		return "", err
	}
	return instruction.ID, nil
}

func (rp *ResumeProcessor) isAllowed(fileName string) bool {
	if len(rp.allowedExtensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	for _, allowed := range rp.allowedExtensions {
		if strings.ToLower(allowed) == ext {
			return true
		}
	}
	return false
}

// ProcessDocument 处理单份简历：提交、等待、查询实体、合并。
// 任何失败都记录在返回结果的 Err/Status 中，不会向上抛出。
func (rp *ResumeProcessor) ProcessDocument(ctx context.Context, doc Document) types.ProfileResult {
	ctx, span := tracer.Start(ctx, "ProcessDocument", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.SetAttributes(attribute.String("file_name", tracing.SafeFileName(doc.FileName)))

	result := types.ProfileResult{FileName: doc.FileName}
	start := time.Now()
	log := logger.Logger.With().Str("file_name", doc.FileName).Logger()

	err := rp.process(ctx, doc, &result)
	result.Err = err
	result.Status = StatusForError(err)
	if err != nil {
		result.Error = err.Error()
		tracing.RecordErrorWithInfo(span, err, errorTypeFor(err), attribute.String("result.status", result.Status))
		log.Warn().Err(err).Str("status", result.Status).Str("document_id", result.DocumentID).
			Dur("elapsed", time.Since(start)).Msg("简历未能得到抽取结果")
		return result
	}

	span.SetAttributes(attribute.Int("entities.count", result.EntityCount))
	log.Info().Str("document_id", result.DocumentID).Int("entities", result.EntityCount).
		Dur("elapsed", time.Since(start)).Msg("简历抽取完成")
	return result
}

func (rp *ResumeProcessor) process(ctx context.Context, doc Document, result *types.ProfileResult) error {
	if !rp.isAllowed(doc.FileName) {
		return NewUnsupportedTypeError(doc.FileName)
	}

	content, err := doc.Open()
	if err != nil {
		if errors.Is(err, ErrFileTooLarge) || errors.Is(err, ErrFileUnreadable) {
			return err
		}
		return NewFileError(doc.FileName, err)
	}
	defer content.Close()

	// 指令创建失败只记录告警，继续提交文档
	if _, err := rp.EnsureInstruction(ctx); err != nil {
		logger.Error().Err(err).Msg("抽取指令不可用，继续处理文档")
		result.Warnings = append(result.Warnings, err.Error())
	}

	metadata := map[string]any{"file_name": doc.FileName, "source": constants.ServiceName}
	for k, v := range rp.metadata {
		metadata[k] = v
	}

	remote, err := rp.extractor.CreateDocument(ctx, doc.FileName, content, metadata)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return NewSubmissionError(doc.FileName, err)
	}
	result.DocumentID = remote.ID

	if !remote.Status.IsReady() {
		if _, err := WaitForDocument(ctx, rp.extractor, doc.FileName, remote.ID, rp.poll); err != nil {
			return err
		}
	}

	records, err := rp.extractor.ListDocumentEntities(ctx, remote.ID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return NewEntityQueryError(doc.FileName, remote.ID, err)
	}
	result.EntityCount = len(records)
	if len(records) == 0 {
		return NewNoEntitiesError(doc.FileName, remote.ID)
	}

	profile := parser.AggregateProfile(records)
	if profile == nil {
		return NewEmptyProfileError(doc.FileName, remote.ID, len(records))
	}
	result.Profile = profile
	return nil
}

// ProcessBatch 批量处理，返回与输入顺序一致的结果。
// 单个文档失败不影响其他文档；workers > 1 时按文档并发。
func (rp *ResumeProcessor) ProcessBatch(ctx context.Context, docs []Document) []types.ProfileResult {
	results := make([]types.ProfileResult, len(docs))
	if len(docs) == 0 {
		return results
	}

	ctx, span := tracer.Start(ctx, "ProcessBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("batch.size", len(docs)), attribute.Int("batch.workers", rp.workers))

	// 先确保指令存在，避免并发时每个文档都尝试创建
	var ensureWarning string
	if _, err := rp.EnsureInstruction(ctx); err != nil {
		logger.Error().Err(err).Msg("抽取指令不可用，继续处理文档")
		ensureWarning = err.Error()
	}

	run := func(i int) {
		if err := ctx.Err(); err != nil {
			results[i] = types.ProfileResult{
				FileName: docs[i].FileName,
				Status:   StatusForError(err),
				Error:    err.Error(),
				Err:      err,
			}
			return
		}
		results[i] = rp.ProcessDocument(ctx, docs[i])
		if ensureWarning != "" && !containsString(results[i].Warnings, ensureWarning) {
			results[i].Warnings = append([]string{ensureWarning}, results[i].Warnings...)
		}
	}

	if rp.workers <= 1 {
		for i := range docs {
			run(i)
		}
	} else {
		// 使用信号量控制并发
		semaphore := make(chan struct{}, rp.workers)
		var wg sync.WaitGroup
		for i := range docs {
			wg.Add(1)
			semaphore <- struct{}{}
			go func(i int) {
				defer func() {
					<-semaphore
					wg.Done()
				}()
				run(i)
			}(i)
		}
		wg.Wait()
	}

	succeeded := 0
	for _, r := range results {
		if r.HasProfile() {
			succeeded++
		}
	}
	span.SetAttributes(attribute.Int("batch.succeeded", succeeded))
	logger.Info().Int("total", len(docs)).Int("succeeded", succeeded).Msg("批量处理完成")
	return results
}

// ProcessFiles 批量处理本地文件
func (rp *ResumeProcessor) ProcessFiles(ctx context.Context, paths []string) []types.ProfileResult {
	docs := make([]Document, 0, len(paths))
	for _, p := range paths {
		docs = append(docs, FileDocument(p))
	}
	return rp.ProcessBatch(ctx, docs)
}

// SuccessfulResults 过滤出得到档案的结果，用于导出
func SuccessfulResults(results []types.ProfileResult) []types.ProfileResult {
	out := make([]types.ProfileResult, 0, len(results))
	for _, r := range results {
		if r.HasProfile() {
			out = append(out, r)
		}
	}
	return out
}

// Summary 按状态统计结果
func Summary(results []types.ProfileResult) map[string]int {
	counts := make(map[string]int)
	for _, r := range results {
		counts[r.Status]++
	}
	return counts
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
