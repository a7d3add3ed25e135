package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"resume-extractor/internal/config"
	"resume-extractor/internal/logger"
	"resume-extractor/internal/processor"
	"resume-extractor/internal/storage"
)

// MessageConsumer 消息队列消费端，由 storage.RabbitMQ 实现
type MessageConsumer interface {
	SetupResumeTopology() error
	StartConsumer(ctx context.Context, queueName string, prefetchCount int, handler storage.MessageHandler) (<-chan struct{}, error)
}

var _ MessageConsumer = (*storage.RabbitMQ)(nil)

// ExtractionConsumer 消费上传消息并执行抽取
type ExtractionConsumer struct {
	service       ResumeService
	queue         MessageConsumer
	queueName     string
	prefetch      int
	workers       int
	retryInterval time.Duration
}

// NewExtractionConsumer 按 RabbitMQ 配置创建消费者
func NewExtractionConsumer(cfg config.RabbitMQConfig, service ResumeService, queue MessageConsumer) *ExtractionConsumer {
	c := &ExtractionConsumer{
		service:       service,
		queue:         queue,
		queueName:     cfg.ExtractionQueue,
		prefetch:      cfg.PrefetchCount,
		workers:       cfg.ConsumerWorkers,
		retryInterval: config.GetDuration(cfg.RetryInterval, 5*time.Second),
	}
	if c.workers <= 0 {
		c.workers = 1
	}
	if c.prefetch <= 0 {
		c.prefetch = 1
	}
	return c
}

// Start 声明拓扑并启动 workers 个消费者，返回全部消费者退出后关闭的通道
func (c *ExtractionConsumer) Start(ctx context.Context) (<-chan struct{}, error) {
	if err := c.queue.SetupResumeTopology(); err != nil {
		return nil, fmt.Errorf("声明消息拓扑失败: %w", err)
	}

	dones := make([]<-chan struct{}, 0, c.workers)
	for i := 0; i < c.workers; i++ {
		done, err := c.queue.StartConsumer(ctx, c.queueName, c.prefetch, c.Handle)
		if err != nil {
			return nil, fmt.Errorf("启动第 %d 个消费者失败: %w", i+1, err)
		}
		dones = append(dones, done)
	}
	logger.Info().Str("queue", c.queueName).Int("workers", c.workers).Msg("抽取消费者已启动")

	all := make(chan struct{})
	go func() {
		for _, d := range dones {
			<-d
		}
		close(all)
	}()
	return all, nil
}

// Handle 处理一条消息，返回 true 表示确认，false 表示重新入队
func (c *ExtractionConsumer) Handle(ctx context.Context, body []byte) bool {
	var msg storage.ResumeUploadMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		// 无法解析的消息重投也不会成功
		logger.Error().Err(err).Bytes("body", truncateBody(body)).Msg("丢弃无法解析的上传消息")
		return true
	}
	if msg.SubmissionUUID == "" {
		logger.Error().Msg("丢弃缺少 submission_uuid 的上传消息")
		return true
	}

	err := c.service.HandleUploadedMessage(ctx, msg)
	if err == nil {
		return true
	}
	if errors.Is(err, processor.ErrSubmissionNotFound) {
		logger.Warn().Str("submission_uuid", msg.SubmissionUUID).Msg("提交记录不存在，丢弃消息")
		return true
	}

	logger.Ctx(ctx).Error().Err(err).Str("submission_uuid", msg.SubmissionUUID).
		Dur("retry_in", c.retryInterval).Msg("处理上传消息失败，稍后重新投递")
	select {
	case <-time.After(c.retryInterval):
	case <-ctx.Done():
	}
	return false
}

func truncateBody(body []byte) []byte {
	const max = 256
	if len(body) > max {
		return body[:max]
	}
	return body
}
