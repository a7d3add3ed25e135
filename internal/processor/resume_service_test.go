package processor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"resume-extractor/internal/constants"
	"resume-extractor/internal/storage"
	"resume-extractor/internal/storage/models"
	"resume-extractor/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

// MockObjectStore 内存对象存储
type MockObjectStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploadErr error
}

func NewMockObjectStore() *MockObjectStore {
	return &MockObjectStore{objects: make(map[string][]byte)}
}

func (m *MockObjectStore) UploadResumeFile(ctx context.Context, submissionUUID, fileName string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploadErr != nil {
		return "", m.uploadErr
	}
	key := "resumes/" + submissionUUID + "/" + fileName
	m.objects[key] = data
	return key, nil
}

func (m *MockObjectStore) DeleteResumeFile(ctx context.Context, objectKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, objectKey)
	return nil
}

func (m *MockObjectStore) GetResumeFile(ctx context.Context, objectKey string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[objectKey]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

// MockSubmissionStore 内存提交记录
type MockSubmissionStore struct {
	mu          sync.Mutex
	submissions map[string]*models.ResumeSubmission
	outbox      []models.OutboxMessage
	createErr   error
}

func NewMockSubmissionStore() *MockSubmissionStore {
	return &MockSubmissionStore{submissions: make(map[string]*models.ResumeSubmission)}
}

func (m *MockSubmissionStore) CreateSubmissionWithOutbox(ctx context.Context, submission *models.ResumeSubmission, outbox *models.OutboxMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	copied := *submission
	m.submissions[submission.SubmissionUUID] = &copied
	m.outbox = append(m.outbox, *outbox)
	return nil
}

func (m *MockSubmissionStore) GetSubmission(ctx context.Context, submissionUUID string) (*models.ResumeSubmission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[submissionUUID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *s
	return &copied, nil
}

func (m *MockSubmissionStore) ListSubmissions(ctx context.Context, submissionUUIDs []string, limit int) ([]models.ResumeSubmission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ResumeSubmission
	for _, id := range submissionUUIDs {
		if s, ok := m.submissions[id]; ok {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *MockSubmissionStore) UpdateStatus(ctx context.Context, submissionUUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[submissionUUID]
	if !ok {
		return storage.ErrNotFound
	}
	s.ProcessingStatus = status
	return nil
}

func (m *MockSubmissionStore) SaveResult(ctx context.Context, submissionUUID string, update models.ResultUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[submissionUUID]
	if !ok {
		return storage.ErrNotFound
	}
	columns, err := update.Columns(time.Now())
	if err != nil {
		return err
	}
	s.ProcessingStatus = update.Status
	s.DocumentID = update.DocumentID
	s.InstructionID = update.InstructionID
	s.EntityCount = update.EntityCount
	s.ErrorMessage = update.ErrorMessage
	if v, ok := columns["profile_json"]; ok {
		s.ProfileJSON = v.(datatypes.JSON)
	}
	if v, ok := columns["warnings_json"]; ok {
		s.WarningsJSON = v.(datatypes.JSON)
	}
	return nil
}

// MockDedupCache 内存去重与结果缓存
type MockDedupCache struct {
	mu      sync.Mutex
	md5s    map[string]string
	results map[string]types.ProfileResult
	failAll bool
}

func NewMockDedupCache() *MockDedupCache {
	return &MockDedupCache{md5s: make(map[string]string), results: make(map[string]types.ProfileResult)}
}

func (m *MockDedupCache) CheckAndSetFileMD5(ctx context.Context, md5Hex, submissionUUID string, expiry time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return "", false, errors.New("redis down")
	}
	if existing, ok := m.md5s[md5Hex]; ok {
		return existing, true, nil
	}
	m.md5s[md5Hex] = submissionUUID
	return "", false, nil
}

func (m *MockDedupCache) RemoveFileMD5(ctx context.Context, md5Hex string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.md5s, md5Hex)
	return nil
}

func (m *MockDedupCache) CacheProfileResult(ctx context.Context, result types.ProfileResult, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[result.SubmissionUUID] = result
	return nil
}

func (m *MockDedupCache) GetProfileResult(ctx context.Context, submissionUUID string) (*types.ProfileResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return nil, errors.New("redis down")
	}
	r, ok := m.results[submissionUUID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

type serviceFixture struct {
	extractor   *MockExtractionService
	objects     *MockObjectStore
	submissions *MockSubmissionStore
	cache       *MockDedupCache
	service     *ResumeService
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		extractor:   NewMockExtractionService(),
		objects:     NewMockObjectStore(),
		submissions: NewMockSubmissionStore(),
		cache:       NewMockDedupCache(),
	}
	settings := ServiceSettings{
		ResumeEventsExchange: "resume.events.exchange",
		UploadedRoutingKey:   "resume.uploaded",
		SourceChannel:        "test",
		MD5Expiry:            time.Hour,
		ProfileCacheTTL:      time.Hour,
		MaxFileSize:          1 << 20,
	}
	service, err := NewResumeService(newTestProcessor(f.extractor), f.objects, f.submissions, f.cache, settings)
	require.NoError(t, err)
	f.service = service
	return f
}

// uploadedMessage 取出 outbox 中最后一条消息
func (f *serviceFixture) uploadedMessage(t *testing.T) storage.ResumeUploadMessage {
	t.Helper()
	require.NotEmpty(t, f.submissions.outbox)
	var msg storage.ResumeUploadMessage
	require.NoError(t, json.Unmarshal([]byte(f.submissions.outbox[len(f.submissions.outbox)-1].Payload), &msg))
	return msg
}

func TestNewResumeService_RequiresStorage(t *testing.T) {
	_, err := NewResumeService(newTestProcessor(NewMockExtractionService()), nil, NewMockSubmissionStore(), nil, ServiceSettings{})
	assert.ErrorIs(t, err, ErrStorageNotInit)

	_, err = NewResumeService(nil, NewMockObjectStore(), NewMockSubmissionStore(), nil, ServiceSettings{})
	assert.Error(t, err)
}

func TestSubmitUpload_AndConsume(t *testing.T) {
	f := newServiceFixture(t)
	f.extractor.withDocument("bob.pdf", &mockDocument{entities: []types.EntityRecord{
		entity(map[string]any{"firstName": "Bob", "skills": []any{"Go", "Go"}}),
	}})
	ctx := context.Background()

	upload, err := f.service.SubmitUpload(ctx, "bob.pdf", []byte("%PDF bob"))
	require.NoError(t, err)
	assert.Equal(t, constants.StatusPendingExtraction, upload.Status)
	assert.False(t, upload.Duplicate)

	require.Len(t, f.submissions.outbox, 1)
	outbox := f.submissions.outbox[0]
	assert.Equal(t, upload.SubmissionUUID, outbox.AggregateID)
	assert.Equal(t, constants.EventTypeResumeUploaded, outbox.EventType)
	assert.Equal(t, "resume.events.exchange", outbox.TargetExchange)
	assert.Equal(t, "resume.uploaded", outbox.TargetRoutingKey)

	msg := f.uploadedMessage(t)
	assert.Equal(t, "bob.pdf", msg.OriginalFilename)
	assert.NotEmpty(t, msg.RawFileMD5)

	require.NoError(t, f.service.HandleUploadedMessage(ctx, msg))

	saved := f.submissions.submissions[upload.SubmissionUUID]
	assert.Equal(t, constants.StatusCompleted, saved.ProcessingStatus)
	assert.Equal(t, "doc-bob.pdf", saved.DocumentID)
	assert.Equal(t, "ins-1", saved.InstructionID)

	result, err := f.service.GetResult(ctx, upload.SubmissionUUID)
	require.NoError(t, err)
	require.NotNil(t, result.Profile)
	assert.Equal(t, "Bob", result.Profile.FirstName)
	assert.Equal(t, []string{"Go"}, result.Profile.Skills)

	// 重复消息不会再次处理
	require.NoError(t, f.service.HandleUploadedMessage(ctx, msg))
	assert.Len(t, f.extractor.submitted, 1)
}

func TestSubmitUpload_Duplicate(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	first, err := f.service.SubmitUpload(ctx, "a.pdf", []byte("same bytes"))
	require.NoError(t, err)
	second, err := f.service.SubmitUpload(ctx, "renamed.pdf", []byte("same bytes"))
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, constants.StatusDuplicateFile, second.Status)
	assert.Equal(t, first.SubmissionUUID, second.SubmissionUUID)
	assert.Len(t, f.submissions.outbox, 1)
}

func TestSubmitUpload_Validation(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.service.SubmitUpload(context.Background(), "virus.exe", []byte("x"))
	assert.ErrorIs(t, err, ErrUnsupportedFileType)

	_, err = f.service.SubmitUpload(context.Background(), "huge.pdf", make([]byte, 2<<20))
	assert.ErrorIs(t, err, ErrFileTooLarge)
	assert.NotErrorIs(t, err, ErrUnsupportedFileType)
	assert.Equal(t, constants.StatusSubmissionFailed, StatusForError(err))
	assert.Empty(t, f.objects.objects)
}

func TestSubmitUpload_RollsBackMD5OnFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.submissions.createErr = errors.New("deadlock")

	_, err := f.service.SubmitUpload(context.Background(), "a.pdf", []byte("bytes"))
	assert.ErrorIs(t, err, ErrDatabaseFailed)
	assert.Empty(t, f.cache.md5s, "失败时释放MD5记录，允许重新上传")
	assert.Empty(t, f.objects.objects, "删除没有提交记录的原始文件")

	f.submissions.createErr = nil
	f.objects.uploadErr = errors.New("minio down")
	_, err = f.service.SubmitUpload(context.Background(), "a.pdf", []byte("bytes"))
	assert.Error(t, err)
	assert.Empty(t, f.cache.md5s)
}

func TestSubmitUpload_CacheDownSkipsDedup(t *testing.T) {
	f := newServiceFixture(t)
	f.cache.failAll = true

	upload, err := f.service.SubmitUpload(context.Background(), "a.pdf", []byte("bytes"))
	require.NoError(t, err)
	assert.Equal(t, constants.StatusPendingExtraction, upload.Status)
}

func TestHandleUploadedMessage_FailureRecordedAndMD5Released(t *testing.T) {
	f := newServiceFixture(t)
	f.extractor.createErr["c.pdf"] = errors.New("503 service unavailable")
	ctx := context.Background()

	upload, err := f.service.SubmitUpload(ctx, "c.pdf", []byte("cv"))
	require.NoError(t, err)
	msg := f.uploadedMessage(t)

	require.NoError(t, f.service.HandleUploadedMessage(ctx, msg), "抽取失败记录在状态中，不需要重新投递")

	saved := f.submissions.submissions[upload.SubmissionUUID]
	assert.Equal(t, constants.StatusSubmissionFailed, saved.ProcessingStatus)
	assert.Contains(t, saved.ErrorMessage, "503")
	assert.Empty(t, f.cache.md5s, "可重试的失败释放去重记录")

	result, err := f.service.GetResult(ctx, upload.SubmissionUUID)
	require.NoError(t, err)
	assert.Nil(t, result.Profile)
	assert.Equal(t, constants.StatusSubmissionFailed, result.Status)
}

func TestHandleUploadedMessage_UnknownSubmission(t *testing.T) {
	f := newServiceFixture(t)
	err := f.service.HandleUploadedMessage(context.Background(), storage.ResumeUploadMessage{SubmissionUUID: "nope"})
	assert.ErrorIs(t, err, ErrSubmissionNotFound)
}

func TestHandleUploadedMessage_MissingObjectIsRetried(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	_, err := f.service.SubmitUpload(ctx, "d.pdf", []byte("cv"))
	require.NoError(t, err)
	msg := f.uploadedMessage(t)
	f.objects.objects = map[string][]byte{}

	err = f.service.HandleUploadedMessage(ctx, msg)
	assert.Error(t, err)
	assert.Equal(t, constants.StatusExtracting, f.submissions.submissions[msg.SubmissionUUID].ProcessingStatus)
}

func TestGetResult_NotFound(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.service.GetResult(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSubmissionNotFound)
}

func TestListResults(t *testing.T) {
	f := newServiceFixture(t)
	f.extractor.withDocument("e.pdf", &mockDocument{entities: []types.EntityRecord{entity(map[string]any{"email": "e@x.com"})}})
	ctx := context.Background()

	upload, err := f.service.SubmitUpload(ctx, "e.pdf", []byte("cv-e"))
	require.NoError(t, err)
	require.NoError(t, f.service.HandleUploadedMessage(ctx, f.uploadedMessage(t)))

	results, err := f.service.ListResults(ctx, []string{upload.SubmissionUUID, "unknown"}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "e@x.com", results[0].Profile.Email)
	assert.Equal(t, "e.pdf", results[0].FileName)
}
