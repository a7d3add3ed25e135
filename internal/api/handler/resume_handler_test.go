package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"resume-extractor/internal/api/handler"
	"resume-extractor/internal/api/router"
	"resume-extractor/internal/config"
	"resume-extractor/internal/constants"
	"resume-extractor/internal/processor"
	"resume-extractor/internal/storage"
	"resume-extractor/internal/types"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockResumeService 内存中的简历服务
type mockResumeService struct {
	mu        sync.Mutex
	uploads   map[string][]byte
	results   map[string]types.ProfileResult
	handled   []storage.ResumeUploadMessage
	submitErr error
	handleErr error
	listUUIDs []string
	listLimit int
}

func newMockResumeService() *mockResumeService {
	return &mockResumeService{
		uploads: make(map[string][]byte),
		results: make(map[string]types.ProfileResult),
	}
}

func (m *mockResumeService) SubmitUpload(ctx context.Context, fileName string, data []byte) (*processor.UploadResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	m.uploads[fileName] = data
	return &processor.UploadResult{SubmissionUUID: "uuid-" + fileName, Status: constants.StatusPendingExtraction}, nil
}

func (m *mockResumeService) HandleUploadedMessage(ctx context.Context, message storage.ResumeUploadMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handled = append(m.handled, message)
	return m.handleErr
}

func (m *mockResumeService) GetResult(ctx context.Context, submissionUUID string) (*types.ProfileResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[submissionUUID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", processor.ErrSubmissionNotFound, submissionUUID)
	}
	return &r, nil
}

func (m *mockResumeService) ListResults(ctx context.Context, submissionUUIDs []string, limit int) ([]types.ProfileResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listUUIDs = submissionUUIDs
	m.listLimit = limit
	var out []types.ProfileResult
	for _, id := range []string{"u1", "u2"} {
		if r, ok := m.results[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// mockBatchProcessor 按文件名返回预设结果
type mockBatchProcessor struct {
	instructions []types.Instruction
	createErr    error
}

func (m *mockBatchProcessor) ProcessBatch(ctx context.Context, docs []processor.Document) []types.ProfileResult {
	results := make([]types.ProfileResult, 0, len(docs))
	for _, d := range docs {
		content, err := d.Open()
		if err != nil {
			results = append(results, types.ProfileResult{
				FileName: d.FileName, Status: processor.StatusForError(err), Error: err.Error(), Err: err,
			})
			continue
		}
		_ = content.Close()
		if strings.HasSuffix(d.FileName, ".txt") {
			results = append(results, types.ProfileResult{FileName: d.FileName, Status: constants.StatusNoEntities, Error: "no entities"})
			continue
		}
		results = append(results, types.ProfileResult{
			FileName: d.FileName,
			Status:   constants.StatusCompleted,
			Profile:  &types.CandidateProfile{FirstName: "Ada", Email: "ada@example.com", Skills: []string{"Go"}},
		})
	}
	return results
}

func (m *mockBatchProcessor) CreateSchema(ctx context.Context) (*types.Instruction, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	inst := types.Instruction{ID: "inst-new", Name: "resume_extraction_1"}
	m.instructions = append(m.instructions, inst)
	return &inst, nil
}

func (m *mockBatchProcessor) ListSchemas(ctx context.Context) ([]types.Instruction, error) {
	return m.instructions, nil
}

// mockExportStore 记录保存的导出文件
type mockExportStore struct {
	saved map[string][]byte
}

func (m *mockExportStore) UploadExport(ctx context.Context, fileName string, data []byte) (string, error) {
	if m.saved == nil {
		m.saved = make(map[string][]byte)
	}
	key := "exports/test/" + fileName
	m.saved[key] = data
	return key, nil
}

func (m *mockExportStore) GetExportURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	return "http://minio.local/" + objectKey, nil
}

type testServer struct {
	engine  *server.Hertz
	service *mockResumeService
	batch   *mockBatchProcessor
	exports *mockExportStore
}

func newTestServer(t *testing.T, withService bool, apiKeys ...string) *testServer {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Processing.MaxFileSizeMB = 1

	ts := &testServer{
		service: newMockResumeService(),
		batch:   &mockBatchProcessor{},
		exports: &mockExportStore{},
	}
	var svc handler.ResumeService
	if withService {
		svc = ts.service
	}
	resumeHandler := handler.NewResumeHandler(cfg, svc, ts.batch,
		handler.WithExportStore(ts.exports), handler.WithMaxBatchFiles(3))
	schemaHandler := handler.NewSchemaHandler(ts.batch)

	ts.engine = server.New(server.WithHostPorts("127.0.0.1:0"))
	router.RegisterRoutes(ts.engine, resumeHandler, schemaHandler, apiKeys)
	return ts
}

// createMultipartFormWithContent 通过字节内容创建 multipart 表单，field 为文件字段名
func createMultipartFormWithContent(t *testing.T, field string, files map[string][]byte) (*bytes.Buffer, string) {
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)

	for name, content := range files {
		part, err := writer.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = io.Copy(part, bytes.NewReader(content))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestHandleUpload_Success(t *testing.T) {
	ts := newTestServer(t, true)
	body, contentType := createMultipartFormWithContent(t, "file", map[string][]byte{"ada.pdf": []byte("%PDF-1.4 dummy")})

	resp := ut.PerformRequest(ts.engine.Engine, "POST", "/api/v1/resumes/upload",
		&ut.Body{Body: body, Len: body.Len()},
		ut.Header{Key: "Content-Type", Value: contentType},
	)
	require.Equal(t, http.StatusOK, resp.Code)

	var uploadResp handler.ResumeUploadResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &uploadResp))
	assert.Equal(t, "uuid-ada.pdf", uploadResp.SubmissionUUID)
	assert.Equal(t, constants.StatusPendingExtraction, uploadResp.Status)
	assert.Equal(t, []byte("%PDF-1.4 dummy"), ts.service.uploads["ada.pdf"])
}

func TestHandleUpload_MissingFile(t *testing.T) {
	ts := newTestServer(t, true)
	body, contentType := createMultipartFormWithContent(t, "other", map[string][]byte{"ada.pdf": []byte("x")})

	resp := ut.PerformRequest(ts.engine.Engine, "POST", "/api/v1/resumes/upload",
		&ut.Body{Body: body, Len: body.Len()},
		ut.Header{Key: "Content-Type", Value: contentType},
	)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestHandleUpload_UnsupportedType(t *testing.T) {
	ts := newTestServer(t, true)
	ts.service.submitErr = processor.NewUnsupportedTypeError("notes.exe")
	body, contentType := createMultipartFormWithContent(t, "file", map[string][]byte{"notes.exe": []byte("MZ")})

	resp := ut.PerformRequest(ts.engine.Engine, "POST", "/api/v1/resumes/upload",
		&ut.Body{Body: body, Len: body.Len()},
		ut.Header{Key: "Content-Type", Value: contentType},
	)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Body.String(), "error")
}

func TestHandleUpload_TooLarge(t *testing.T) {
	ts := newTestServer(t, true)
	big := bytes.Repeat([]byte("a"), (1<<20)+1)
	body, contentType := createMultipartFormWithContent(t, "file", map[string][]byte{"big.pdf": big})

	resp := ut.PerformRequest(ts.engine.Engine, "POST", "/api/v1/resumes/upload",
		&ut.Body{Body: body, Len: body.Len()},
		ut.Header{Key: "Content-Type", Value: contentType},
	)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.Code)
	assert.Contains(t, resp.Body.String(), "文件超过大小上限")
	assert.NotContains(t, resp.Body.String(), "不支持的文件类型")
	assert.Empty(t, ts.service.uploads)
}

func TestHandleUpload_NoStorage(t *testing.T) {
	ts := newTestServer(t, false)
	body, contentType := createMultipartFormWithContent(t, "file", map[string][]byte{"ada.pdf": []byte("x")})

	resp := ut.PerformRequest(ts.engine.Engine, "POST", "/api/v1/resumes/upload",
		&ut.Body{Body: body, Len: body.Len()},
		ut.Header{Key: "Content-Type", Value: contentType},
	)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestHandleGetResult(t *testing.T) {
	ts := newTestServer(t, true)
	ts.service.results["u1"] = types.ProfileResult{
		FileName:       "ada.pdf",
		SubmissionUUID: "u1",
		Status:         constants.StatusCompleted,
		Profile:        &types.CandidateProfile{FirstName: "Ada"},
	}

	resp := ut.PerformRequest(ts.engine.Engine, "GET", "/api/v1/resumes/u1", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var got handler.ResultResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &got))
	assert.Equal(t, constants.StatusCompleted, got.Status)
	require.NotNil(t, got.Profile)
	assert.Equal(t, "Ada", got.Profile.FirstName)
	require.NotNil(t, got.View)
	assert.Equal(t, "Ada N/A", got.View.Name)

	resp = ut.PerformRequest(ts.engine.Engine, "GET", "/api/v1/resumes/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestHandleExport_CSVAttachment(t *testing.T) {
	ts := newTestServer(t, true)
	ts.service.results["u1"] = types.ProfileResult{FileName: "ada.pdf", Status: constants.StatusCompleted,
		Profile: &types.CandidateProfile{FirstName: "Ada", Skills: []string{"Go", "SQL"}}}
	ts.service.results["u2"] = types.ProfileResult{FileName: "x.pdf", Status: constants.StatusNoEntities}

	resp := ut.PerformRequest(ts.engine.Engine, "GET", "/api/v1/resumes/export?format=csv&uuid=u1,%20u2,&limit=10", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	assert.Equal(t, []string{"u1", "u2"}, ts.service.listUUIDs)
	assert.Equal(t, 10, ts.service.listLimit)
	assert.Contains(t, string(resp.Header().Get("Content-Disposition")), "resume_parsing_results.csv")

	lines := strings.Split(strings.TrimSpace(resp.Body.String()), "\n")
	require.Len(t, lines, 2, "没有档案的结果不导出")
	assert.True(t, strings.HasPrefix(lines[0], "file_name,first_name"))
	assert.Contains(t, lines[1], `"Go, SQL"`)
}

func TestHandleExport_UnknownFormat(t *testing.T) {
	ts := newTestServer(t, true)
	resp := ut.PerformRequest(ts.engine.Engine, "GET", "/api/v1/resumes/export?format=pdf", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestHandleExport_StoreReturnsURL(t *testing.T) {
	ts := newTestServer(t, true)
	ts.service.results["u1"] = types.ProfileResult{FileName: "ada.pdf", Status: constants.StatusCompleted,
		Profile: &types.CandidateProfile{FirstName: "Ada"}}

	resp := ut.PerformRequest(ts.engine.Engine, "GET", "/api/v1/resumes/export?format=jsonl&store=true", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &got))
	assert.Equal(t, "exports/test/resume_parsing_results.jsonl", got["object_key"])
	assert.Equal(t, "http://minio.local/exports/test/resume_parsing_results.jsonl", got["url"])
	assert.EqualValues(t, 1, got["records"])
	assert.Contains(t, string(ts.exports.saved["exports/test/resume_parsing_results.jsonl"]), `"file_name":"ada.pdf"`)
}

func TestHandleParse_ResultsAndSummary(t *testing.T) {
	ts := newTestServer(t, false)
	body, contentType := createMultipartFormWithContent(t, "files", map[string][]byte{
		"ada.pdf":   []byte("%PDF"),
		"notes.txt": []byte("plain"),
	})

	resp := ut.PerformRequest(ts.engine.Engine, "POST", "/api/v1/resumes/parse",
		&ut.Body{Body: body, Len: body.Len()},
		ut.Header{Key: "Content-Type", Value: contentType},
	)
	require.Equal(t, http.StatusOK, resp.Code)

	var got handler.ParseResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &got))
	require.Len(t, got.Results, 2)
	assert.Equal(t, 1, got.Summary[constants.StatusCompleted])
	assert.Equal(t, 1, got.Summary[constants.StatusNoEntities])
	for _, r := range got.Results {
		if r.FileName == "ada.pdf" {
			require.NotNil(t, r.View)
			assert.Equal(t, "ada@example.com", r.View.Email)
		} else {
			assert.Nil(t, r.View)
			assert.Equal(t, "no entities", r.Error)
		}
	}
}

func TestHandleParse_OversizedFileDoesNotAbortBatch(t *testing.T) {
	ts := newTestServer(t, false)
	body, contentType := createMultipartFormWithContent(t, "files", map[string][]byte{
		"ok.pdf":  []byte("%PDF"),
		"big.pdf": bytes.Repeat([]byte("a"), 2<<20),
	})

	resp := ut.PerformRequest(ts.engine.Engine, "POST", "/api/v1/resumes/parse",
		&ut.Body{Body: body, Len: body.Len()},
		ut.Header{Key: "Content-Type", Value: contentType},
	)
	require.Equal(t, http.StatusOK, resp.Code)

	var got handler.ParseResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &got))
	require.Len(t, got.Results, 2)
	assert.Equal(t, 1, got.Summary[constants.StatusCompleted])
	assert.Equal(t, 1, got.Summary[constants.StatusSubmissionFailed])
	for _, r := range got.Results {
		switch r.FileName {
		case "ok.pdf":
			assert.Equal(t, constants.StatusCompleted, r.Status)
			require.NotNil(t, r.Profile)
		case "big.pdf":
			assert.Equal(t, constants.StatusSubmissionFailed, r.Status)
			assert.Contains(t, r.Error, "文件超过大小上限")
			assert.Nil(t, r.Profile)
		default:
			t.Fatalf("unexpected file %s", r.FileName)
		}
	}
}

func TestHandleParse_DownloadFormat(t *testing.T) {
	ts := newTestServer(t, false)
	body, contentType := createMultipartFormWithContent(t, "files", map[string][]byte{"ada.pdf": []byte("%PDF")})

	resp := ut.PerformRequest(ts.engine.Engine, "POST", "/api/v1/resumes/parse?format=json",
		&ut.Body{Body: body, Len: body.Len()},
		ut.Header{Key: "Content-Type", Value: contentType},
	)
	require.Equal(t, http.StatusOK, resp.Code)

	var records []map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "ada.pdf", records[0]["file_name"])
}

func TestHandleParse_TooManyFiles(t *testing.T) {
	ts := newTestServer(t, false)
	files := map[string][]byte{}
	for i := 0; i < 4; i++ {
		files[fmt.Sprintf("r%d.pdf", i)] = []byte("%PDF")
	}
	body, contentType := createMultipartFormWithContent(t, "files", files)

	resp := ut.PerformRequest(ts.engine.Engine, "POST", "/api/v1/resumes/parse",
		&ut.Body{Body: body, Len: body.Len()},
		ut.Header{Key: "Content-Type", Value: contentType},
	)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestSchemaHandlers(t *testing.T) {
	ts := newTestServer(t, false)

	resp := ut.PerformRequest(ts.engine.Engine, "POST", "/api/v1/schemas", nil)
	require.Equal(t, http.StatusCreated, resp.Code)
	var created handler.SchemaResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &created))
	assert.Equal(t, "inst-new", created.ID)

	resp = ut.PerformRequest(ts.engine.Engine, "GET", "/api/v1/schemas", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var list []handler.SchemaResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "resume_extraction_1", list[0].Name)

	ts.batch.createErr = processor.NewSchemaError("remote rejected", errors.New("400"))
	resp = ut.PerformRequest(ts.engine.Engine, "POST", "/api/v1/schemas", nil)
	assert.Equal(t, http.StatusBadGateway, resp.Code)
}

func TestAPIKeyAuth(t *testing.T) {
	ts := newTestServer(t, false, "secret-key")

	resp := ut.PerformRequest(ts.engine.Engine, "GET", "/api/v1/schemas", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = ut.PerformRequest(ts.engine.Engine, "GET", "/api/v1/schemas", nil,
		ut.Header{Key: "Authorization", Value: "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = ut.PerformRequest(ts.engine.Engine, "GET", "/api/v1/schemas", nil,
		ut.Header{Key: "Authorization", Value: "Bearer secret-key"})
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = ut.PerformRequest(ts.engine.Engine, "GET", "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, resp.Code, "健康检查不需要密钥")
}
