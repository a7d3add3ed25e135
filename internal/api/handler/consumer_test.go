package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"resume-extractor/internal/api/handler"
	"resume-extractor/internal/config"
	"resume-extractor/internal/processor"
	"resume-extractor/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQueue 记录消费者启动参数，done 通道随 ctx 关闭
type fakeQueue struct {
	setupErr  error
	started   int
	queueName string
	prefetch  int
	handler   storage.MessageHandler
}

func (q *fakeQueue) SetupResumeTopology() error { return q.setupErr }

func (q *fakeQueue) StartConsumer(ctx context.Context, queueName string, prefetchCount int, h storage.MessageHandler) (<-chan struct{}, error) {
	q.started++
	q.queueName = queueName
	q.prefetch = prefetchCount
	q.handler = h
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(done)
	}()
	return done, nil
}

func testRabbitConfig() config.RabbitMQConfig {
	return config.RabbitMQConfig{
		ExtractionQueue: "q.test",
		PrefetchCount:   4,
		ConsumerWorkers: 3,
		RetryInterval:   "10ms",
	}
}

func TestExtractionConsumer_StartAndStop(t *testing.T) {
	q := &fakeQueue{}
	c := handler.NewExtractionConsumer(testRabbitConfig(), newMockResumeService(), q)

	ctx, cancel := context.WithCancel(context.Background())
	done, err := c.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, q.started)
	assert.Equal(t, "q.test", q.queueName)
	assert.Equal(t, 4, q.prefetch)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("消费者未在取消后退出")
	}
}

func TestExtractionConsumer_TopologyError(t *testing.T) {
	q := &fakeQueue{setupErr: errors.New("channel closed")}
	c := handler.NewExtractionConsumer(testRabbitConfig(), newMockResumeService(), q)

	_, err := c.Start(context.Background())
	require.Error(t, err)
	assert.Zero(t, q.started)
}

func TestExtractionConsumer_Handle(t *testing.T) {
	body, err := json.Marshal(storage.ResumeUploadMessage{SubmissionUUID: "u1", OriginalFilename: "ada.pdf"})
	require.NoError(t, err)

	t.Run("成功确认", func(t *testing.T) {
		svc := newMockResumeService()
		c := handler.NewExtractionConsumer(testRabbitConfig(), svc, &fakeQueue{})
		assert.True(t, c.Handle(context.Background(), body))
		require.Len(t, svc.handled, 1)
		assert.Equal(t, "ada.pdf", svc.handled[0].OriginalFilename)
	})

	t.Run("无法解析的消息直接确认", func(t *testing.T) {
		svc := newMockResumeService()
		c := handler.NewExtractionConsumer(testRabbitConfig(), svc, &fakeQueue{})
		assert.True(t, c.Handle(context.Background(), []byte("{not json")))
		assert.True(t, c.Handle(context.Background(), []byte(`{"original_filename":"x.pdf"}`)))
		assert.Empty(t, svc.handled)
	})

	t.Run("提交记录不存在时确认", func(t *testing.T) {
		svc := newMockResumeService()
		svc.handleErr = fmt.Errorf("%w: u1", processor.ErrSubmissionNotFound)
		c := handler.NewExtractionConsumer(testRabbitConfig(), svc, &fakeQueue{})
		assert.True(t, c.Handle(context.Background(), body))
	})

	t.Run("基础设施错误重新入队", func(t *testing.T) {
		svc := newMockResumeService()
		svc.handleErr = processor.NewDatabaseError("u1", "保存抽取结果失败", errors.New("connection refused"))
		c := handler.NewExtractionConsumer(testRabbitConfig(), svc, &fakeQueue{})

		start := time.Now()
		assert.False(t, c.Handle(context.Background(), body))
		assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	})
}
