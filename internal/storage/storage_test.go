package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"resume-extractor/internal/config"
	"resume-extractor/internal/constants"
	"resume-extractor/internal/storage/models"
	"resume-extractor/internal/types"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
)

func TestResumeObjectKey(t *testing.T) {
	assert.Equal(t, "resume/abc/original.pdf", ResumeObjectKey("abc", "My CV.PDF"))
	assert.Equal(t, "resume/abc/original", ResumeObjectKey("abc", "README"))
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "application/pdf", ContentTypeFor(".PDF"))
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.wordprocessingml.document", ContentTypeFor(".docx"))
	assert.Equal(t, "application/octet-stream", ContentTypeFor(".bin"))
}

func TestHeaderCarrier_PropagatesTraceContext(t *testing.T) {
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	prop := propagation.TraceContext{}
	headers := amqp.Table{}
	prop.Inject(ctx, headerCarrier(headers))
	require.Contains(t, headers, "traceparent")

	extracted := trace.SpanContextFromContext(prop.Extract(context.Background(), headerCarrier(headers)))
	assert.Equal(t, traceID, extracted.TraceID())
	assert.True(t, extracted.IsRemote())

	// 非字符串的消息头不影响读取
	headers["x-retry"] = int32(2)
	assert.Equal(t, "", headerCarrier(headers).Get("x-retry"))
	assert.Len(t, headerCarrier(headers).Keys(), 2)
}

func TestResultUpdateColumns(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	update := models.ResultUpdate{
		Status:      constants.StatusCompleted,
		DocumentID:  "doc-1",
		EntityCount: 3,
		Profile:     &types.CandidateProfile{FirstName: "Ada"},
		Warnings:    []string{"email 有多个候选值"},
	}

	cols, err := update.Columns(now)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusCompleted, cols["processing_status"])
	assert.Equal(t, now, cols["completed_at"])
	assert.JSONEq(t, `{"firstName":"Ada"}`, string(cols["profile_json"].(datatypes.JSON)))
	assert.Contains(t, cols, "warnings_json")

	cols, err = models.ResultUpdate{Status: constants.StatusNoEntities}.Columns(now)
	require.NoError(t, err)
	assert.NotContains(t, cols, "profile_json")
	assert.NotContains(t, cols, "warnings_json")
}

// newTestRedis 连接本地 Redis，不可用时跳过
func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Redis 不可用，跳过: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisWithClient(client, &config.RedisConfig{})
}

func TestRedis_CheckAndSetFileMD5(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()
	md5Hex := fmt.Sprintf("test-md5-%d", time.Now().UnixNano())
	t.Cleanup(func() { _ = r.RemoveFileMD5(ctx, md5Hex) })

	existing, exists, err := r.CheckAndSetFileMD5(ctx, md5Hex, "uuid-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Empty(t, existing)

	existing, exists, err = r.CheckAndSetFileMD5(ctx, md5Hex, "uuid-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, "uuid-1", existing)

	require.NoError(t, r.RemoveFileMD5(ctx, md5Hex))
	_, exists, err = r.CheckAndSetFileMD5(ctx, md5Hex, "uuid-3", time.Minute)
	require.NoError(t, err)
	assert.False(t, exists, "释放后可以重新登记")
}

func TestRedis_ProfileResultCache(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()
	id := fmt.Sprintf("test-sub-%d", time.Now().UnixNano())
	t.Cleanup(func() { r.Client.Del(ctx, fmt.Sprintf(constants.KeyProfileResult, id)) })

	got, err := r.GetProfileResult(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, r.CacheProfileResult(ctx, types.ProfileResult{
		SubmissionUUID: id,
		FileName:       "ada.pdf",
		Status:         constants.StatusCompleted,
		Profile:        &types.CandidateProfile{FirstName: "Ada"},
	}, time.Minute))

	got, err = r.GetProfileResult(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ada.pdf", got.FileName)
	assert.Equal(t, "Ada", got.Profile.FirstName)
}
