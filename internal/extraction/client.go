package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"resume-extractor/internal/config"
	"resume-extractor/internal/logger"
	"resume-extractor/internal/ratelimit"
	"resume-extractor/internal/tracing"
	"resume-extractor/internal/types"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("resume-extractor/extraction")

// ErrMissingAPIKey 未配置访问令牌
var ErrMissingAPIKey = errors.New("缺少远程服务访问令牌 (RAGIE_AUTH_TOKEN)")

const entitiesPageSize = 100

// APIError 远程服务返回的非2xx响应
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s 失败: HTTP %d: %s", e.Op, e.StatusCode, tracing.TruncateString(e.Body, 300))
}

// Client 远程文档智能服务（Ragie REST API）客户端
type Client struct {
	BaseURL   string
	Client    *http.Client
	apiKey    string
	partition string
	limiter   *ratelimit.TokenBucket
	userAgent string
}

// Option 客户端配置选项
type Option func(*Client)

// WithTimeout 配置单次HTTP请求超时
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.Client.Timeout = timeout
		}
	}
}

// WithHTTPClient 替换底层HTTP客户端
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.Client = httpClient
		}
	}
}

// WithRateLimiter 配置限流器
func WithRateLimiter(limiter *ratelimit.TokenBucket) Option {
	return func(c *Client) {
		c.limiter = limiter
	}
}

// WithPartition 指定文档分区
func WithPartition(partition string) Option {
	return func(c *Client) {
		c.partition = partition
	}
}

// NewClient 创建客户端。apiKey 为空时返回 ErrMissingAPIKey。
func NewClient(baseURL, apiKey string, options ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrMissingAPIKey
	}

	c := &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		Client:    &http.Client{Timeout: 60 * time.Second},
		apiKey:    apiKey,
		userAgent: "resume-extractor/1.0",
	}
	for _, option := range options {
		option(c)
	}
	return c, nil
}

// NewClientFromConfig 按配置创建客户端，QPM > 0 时启用令牌桶限流
func NewClientFromConfig(cfg config.ExtractionConfig) (*Client, error) {
	options := []Option{
		WithTimeout(time.Duration(cfg.RequestTimeoutSeconds) * time.Second),
		WithPartition(cfg.Partition),
	}
	if cfg.QPM > 0 {
		options = append(options, WithRateLimiter(ratelimit.NewTokenBucket(cfg.QPM, 0)))
	}
	return NewClient(cfg.BaseURL, cfg.APIKey, options...)
}

// CreateDocument 上传文档，返回远程文档（含ID与初始状态）
func (c *Client) CreateDocument(ctx context.Context, fileName string, content io.Reader, metadata map[string]any) (*types.RemoteDocument, error) {
	ctx, span := tracer.Start(ctx, "Extraction.CreateDocument", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("document.file_name", fileName))

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filepath.Base(fileName))
	if err != nil {
		return nil, fmt.Errorf("创建表单文件字段失败: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("写入文件内容失败: %w", err)
	}
	if err := writer.WriteField("name", filepath.Base(fileName)); err != nil {
		return nil, fmt.Errorf("写入表单字段失败: %w", err)
	}
	if len(metadata) > 0 {
		metaJSON, err := json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("序列化文档元数据失败: %w", err)
		}
		if err := writer.WriteField("metadata", string(metaJSON)); err != nil {
			return nil, fmt.Errorf("写入表单字段失败: %w", err)
		}
	}
	if c.partition != "" {
		if err := writer.WriteField("partition", c.partition); err != nil {
			return nil, fmt.Errorf("写入表单字段失败: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("关闭multipart writer失败: %w", err)
	}

	var doc types.RemoteDocument
	if err := c.do(ctx, span, "上传文档", http.MethodPost, "/documents", body, writer.FormDataContentType(), &doc); err != nil {
		return nil, err
	}
	if doc.ID == "" {
		err := fmt.Errorf("上传文档成功但响应中缺少文档ID")
		tracing.RecordError(span, err, tracing.ErrorTypeExternal)
		return nil, err
	}

	span.SetAttributes(attribute.String("document.id", doc.ID))
	logger.Debug().Str("document_id", doc.ID).Str("file_name", fileName).Msg("文档上传成功")
	return &doc, nil
}

// GetDocument 查询文档处理状态
func (c *Client) GetDocument(ctx context.Context, documentID string) (*types.RemoteDocument, error) {
	ctx, span := tracer.Start(ctx, "Extraction.GetDocument", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("document.id", documentID))

	var doc types.RemoteDocument
	path := "/documents/" + url.PathEscape(documentID)
	if err := c.do(ctx, span, "查询文档状态", http.MethodGet, path, nil, "", &doc); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("document.status", string(doc.Status)))
	return &doc, nil
}

type entitiesPage struct {
	Entities   []types.EntityRecord `json:"entities"`
	Pagination struct {
		NextCursor string `json:"next_cursor"`
	} `json:"pagination"`
}

// ListDocumentEntities 列出某文档的全部实体片段，自动翻页
func (c *Client) ListDocumentEntities(ctx context.Context, documentID string) ([]types.EntityRecord, error) {
	ctx, span := tracer.Start(ctx, "Extraction.ListDocumentEntities", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("document.id", documentID))

	var all []types.EntityRecord
	cursor := ""
	for page := 0; ; page++ {
		query := url.Values{}
		query.Set("page_size", fmt.Sprint(entitiesPageSize))
		if cursor != "" {
			query.Set("cursor", cursor)
		}
		path := "/documents/" + url.PathEscape(documentID) + "/entities?" + query.Encode()

		var resp entitiesPage
		if err := c.do(ctx, span, "查询文档实体", http.MethodGet, path, nil, "", &resp); err != nil {
			return nil, err
		}
		for _, entity := range resp.Entities {
			if entity.DocumentID == "" {
				entity.DocumentID = documentID
			}
			all = append(all, entity)
		}

		next := resp.Pagination.NextCursor
		if next == "" || next == cursor || len(resp.Entities) == 0 {
			break
		}
		cursor = next
	}

	span.SetAttributes(attribute.Int("entities.count", len(all)))
	return all, nil
}

// CreateInstruction 创建抽取指令
func (c *Client) CreateInstruction(ctx context.Context, schema types.ExtractionSchema) (*types.Instruction, error) {
	ctx, span := tracer.Start(ctx, "Extraction.CreateInstruction", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("instruction.name", schema.Name))

	payload, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("序列化抽取指令失败: %w", err)
	}

	var instruction types.Instruction
	if err := c.do(ctx, span, "创建抽取指令", http.MethodPost, "/instructions", bytes.NewReader(payload), "application/json", &instruction); err != nil {
		return nil, err
	}
	if instruction.ID == "" {
		return nil, fmt.Errorf("创建抽取指令成功但响应中缺少ID")
	}
	return &instruction, nil
}

// ListInstructions 列出全部抽取指令
func (c *Client) ListInstructions(ctx context.Context) ([]types.Instruction, error) {
	ctx, span := tracer.Start(ctx, "Extraction.ListInstructions", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	var raw json.RawMessage
	if err := c.do(ctx, span, "查询抽取指令", http.MethodGet, "/instructions", nil, "", &raw); err != nil {
		return nil, err
	}

	// 兼容数组与 {"instructions": [...]} 两种响应
	var instructions []types.Instruction
	if err := json.Unmarshal(raw, &instructions); err == nil {
		return instructions, nil
	}
	var wrapped struct {
		Instructions []types.Instruction `json:"instructions"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("解析抽取指令列表失败: %w", err)
	}
	return wrapped.Instructions, nil
}

// do 发送请求并把JSON响应解码到 out
func (c *Client) do(ctx context.Context, span trace.Span, op, method, path string, body io.Reader, contentType string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: 等待限流令牌失败: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: 创建请求失败: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.partition != "" && method == http.MethodGet {
		req.Header.Set("partition", c.partition)
	}

	start := time.Now()
	resp, err := c.Client.Do(req)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeExternal)
		return fmt.Errorf("%s: 请求远程服务失败: %w", op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeExternal)
		return fmt.Errorf("%s: 读取响应失败: %w", op, err)
	}

	logger.Debug().
		Str("op", op).
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("远程服务调用完成")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Op: op, StatusCode: resp.StatusCode, Body: string(respBody)}
		tracing.RecordHTTPError(span, apiErr, resp.StatusCode)
		return apiErr
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeExternal)
		return fmt.Errorf("%s: 解析响应失败: %w", op, err)
	}
	return nil
}
