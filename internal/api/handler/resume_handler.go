package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strconv"
	"strings"
	"time"

	"resume-extractor/internal/config"
	"resume-extractor/internal/export"
	"resume-extractor/internal/logger"
	"resume-extractor/internal/processor"
	"resume-extractor/internal/storage"
	"resume-extractor/internal/types"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// ResumeService 服务模式下的简历提交与结果查询，由 processor.ResumeService 实现
type ResumeService interface {
	SubmitUpload(ctx context.Context, fileName string, data []byte) (*processor.UploadResult, error)
	HandleUploadedMessage(ctx context.Context, message storage.ResumeUploadMessage) error
	GetResult(ctx context.Context, submissionUUID string) (*types.ProfileResult, error)
	ListResults(ctx context.Context, submissionUUIDs []string, limit int) ([]types.ProfileResult, error)
}

// BatchProcessor 同步批量抽取与抽取模式管理，由 processor.ResumeProcessor 实现
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, docs []processor.Document) []types.ProfileResult
	CreateSchema(ctx context.Context) (*types.Instruction, error)
	ListSchemas(ctx context.Context) ([]types.Instruction, error)
}

// ExportStore 保存导出文件并生成下载地址，由 storage.MinIO 实现
type ExportStore interface {
	UploadExport(ctx context.Context, fileName string, data []byte) (string, error)
	GetExportURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}

var (
	_ ResumeService  = (*processor.ResumeService)(nil)
	_ BatchProcessor = (*processor.ResumeProcessor)(nil)
	_ ExportStore    = (*storage.MinIO)(nil)
)

const (
	defaultExportLimit = 500
	exportURLExpiry    = time.Hour
)

// ResumeHandler 简历相关的 HTTP 接口
type ResumeHandler struct {
	service        ResumeService // 未配置存储时为 nil，仅同步解析可用
	processor      BatchProcessor
	exports        ExportStore
	maxUploadBytes int64
	maxBatchFiles  int
}

// HandlerOption 配置 ResumeHandler
type HandlerOption func(*ResumeHandler)

// WithExportStore 启用导出文件保存到对象存储
func WithExportStore(store ExportStore) HandlerOption {
	return func(h *ResumeHandler) {
		h.exports = store
	}
}

// WithMaxBatchFiles 同步解析单次最多接受的文件数
func WithMaxBatchFiles(n int) HandlerOption {
	return func(h *ResumeHandler) {
		if n > 0 {
			h.maxBatchFiles = n
		}
	}
}

// NewResumeHandler 创建简历处理器
func NewResumeHandler(cfg *config.Config, service ResumeService, batch BatchProcessor, opts ...HandlerOption) *ResumeHandler {
	h := &ResumeHandler{
		service:       service,
		processor:     batch,
		maxBatchFiles: 20,
	}
	if cfg != nil && cfg.Processing.MaxFileSizeMB > 0 {
		h.maxUploadBytes = int64(cfg.Processing.MaxFileSizeMB) << 20
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ResumeUploadResponse 简历上传响应
type ResumeUploadResponse struct {
	SubmissionUUID string `json:"submission_uuid"`
	Status         string `json:"status"`
	Duplicate      bool   `json:"duplicate,omitempty"`
}

// ResultResponse 单个处理结果及其展示视图
type ResultResponse struct {
	types.ProfileResult
	View *export.ProfileView `json:"view,omitempty"`
}

func newResultResponse(r types.ProfileResult) ResultResponse {
	resp := ResultResponse{ProfileResult: r}
	if r.HasProfile() {
		view := export.NewProfileView(r.FileName, r.Profile)
		resp.View = &view
	}
	return resp
}

// ParseResponse 同步解析的响应
type ParseResponse struct {
	Results []ResultResponse `json:"results"`
	Summary map[string]int   `json:"summary"`
}

// statusForError 把业务错误映射为 HTTP 状态码
func statusForError(err error) int {
	switch {
	case errors.Is(err, processor.ErrUnsupportedFileType), errors.Is(err, processor.ErrFileUnreadable),
		errors.Is(err, export.ErrUnknownFormat):
		return consts.StatusBadRequest
	case errors.Is(err, processor.ErrFileTooLarge):
		return consts.StatusRequestEntityTooLarge
	case errors.Is(err, processor.ErrSubmissionNotFound):
		return consts.StatusNotFound
	case errors.Is(err, processor.ErrStorageNotInit):
		return consts.StatusServiceUnavailable
	case errors.Is(err, processor.ErrSchemaCreationFailed), errors.Is(err, processor.ErrSubmissionFailed):
		return consts.StatusBadGateway
	default:
		return consts.StatusInternalServerError
	}
}

func writeError(c *app.RequestContext, err error) {
	c.JSON(statusForError(err), utils.H{"error": err.Error()})
}

func (h *ResumeHandler) requireService(c *app.RequestContext) bool {
	if h.service == nil {
		writeError(c, processor.ErrStorageNotInit)
		return false
	}
	return true
}

func (h *ResumeHandler) readFile(fh *multipart.FileHeader) ([]byte, error) {
	if h.maxUploadBytes > 0 && fh.Size > h.maxUploadBytes {
		return nil, processor.NewFileTooLargeError(fh.Filename, fh.Size, h.maxUploadBytes)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, processor.NewFileError(fh.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, processor.NewFileError(fh.Filename, err)
	}
	return data, nil
}

// HandleUpload 上传一份简历并登记异步抽取
func (h *ResumeHandler) HandleUpload(ctx context.Context, c *app.RequestContext) {
	if !h.requireService(c) {
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "文件未找到"})
		return
	}
	data, err := h.readFile(fileHeader)
	if err != nil {
		writeError(c, err)
		return
	}

	result, err := h.service.SubmitUpload(ctx, fileHeader.Filename, data)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("file_name", fileHeader.Filename).Msg("简历上传失败")
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, ResumeUploadResponse{
		SubmissionUUID: result.SubmissionUUID,
		Status:         result.Status,
		Duplicate:      result.Duplicate,
	})
}

// HandleGetResult 查询单个提交的处理状态与档案
func (h *ResumeHandler) HandleGetResult(ctx context.Context, c *app.RequestContext) {
	if !h.requireService(c) {
		return
	}
	submissionUUID := c.Param("uuid")
	result, err := h.service.GetResult(ctx, submissionUUID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, newResultResponse(*result))
}

func splitUUIDs(raw string) []string {
	var uuids []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			uuids = append(uuids, part)
		}
	}
	return uuids
}

// HandleExport 导出已保存的档案。
// ?format=json|jsonl|csv|xlsx&uuid=a,b&limit=N；store=true 时保存到对象存储并返回下载地址。
func (h *ResumeHandler) HandleExport(ctx context.Context, c *app.RequestContext) {
	if !h.requireService(c) {
		return
	}
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		writeError(c, err)
		return
	}
	limit := defaultExportLimit
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		limit = v
	}

	results, err := h.service.ListResults(ctx, splitUUIDs(c.Query("uuid")), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	h.writeExport(ctx, c, format, results, c.Query("store") == "true")
}

func (h *ResumeHandler) writeExport(ctx context.Context, c *app.RequestContext, format export.Format, results []types.ProfileResult, store bool) {
	data, err := export.Bytes(format, results)
	if err != nil {
		writeError(c, err)
		return
	}

	if store {
		if h.exports == nil {
			writeError(c, processor.ErrStorageNotInit)
			return
		}
		key, err := h.exports.UploadExport(ctx, format.FileName(), data)
		if err != nil {
			writeError(c, err)
			return
		}
		url, err := h.exports.GetExportURL(ctx, key, exportURLExpiry)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(consts.StatusOK, utils.H{"object_key": key, "url": url, "records": len(export.Records(results))})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, format.FileName()))
	c.Data(consts.StatusOK, format.ContentType(), data)
}

// HandleParse 同步解析多份简历（表单字段 files），返回每份文件的结果。
// 指定 ?format= 时直接返回导出文件。
func (h *ResumeHandler) HandleParse(ctx context.Context, c *app.RequestContext) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "需要 multipart 表单"})
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "文件未找到"})
		return
	}
	if len(files) > h.maxBatchFiles {
		c.JSON(consts.StatusBadRequest, utils.H{"error": fmt.Sprintf("单次最多解析 %d 份文件", h.maxBatchFiles)})
		return
	}

	docs := make([]processor.Document, 0, len(files))
	for _, fh := range files {
		data, err := h.readFile(fh)
		if err != nil {
			// 单个文件读取失败记为该文件的结果，其余文件照常解析
			logger.Ctx(ctx).Warn().Err(err).Str("file_name", fh.Filename).Msg("读取上传文件失败")
			docs = append(docs, processor.UnreadableDocument(fh.Filename, err))
			continue
		}
		docs = append(docs, processor.BytesDocument(fh.Filename, data))
	}

	results := h.processor.ProcessBatch(ctx, docs)

	if rawFormat := c.Query("format"); rawFormat != "" {
		format, err := export.ParseFormat(rawFormat)
		if err != nil {
			writeError(c, err)
			return
		}
		h.writeExport(ctx, c, format, results, false)
		return
	}

	resp := ParseResponse{
		Results: make([]ResultResponse, 0, len(results)),
		Summary: processor.Summary(results),
	}
	for _, r := range results {
		resp.Results = append(resp.Results, newResultResponse(r))
	}
	c.JSON(consts.StatusOK, resp)
}
