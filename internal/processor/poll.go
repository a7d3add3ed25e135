package processor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"resume-extractor/internal/config"
	"resume-extractor/internal/extraction"
	"resume-extractor/internal/logger"
	"resume-extractor/internal/types"

	"go.opentelemetry.io/otel/attribute"
)

// PollPolicy 等待远程处理完成的指数退避策略
type PollPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Timeout         time.Duration
}

// DefaultPollPolicy 默认轮询策略
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		InitialInterval: time.Second,
		MaxInterval:     10 * time.Second,
		Multiplier:      2,
		Timeout:         2 * time.Minute,
	}
}

// PollPolicyFromConfig 由配置构建轮询策略，缺省项使用默认值
func PollPolicyFromConfig(cfg config.PollConfig) PollPolicy {
	def := DefaultPollPolicy()
	policy := PollPolicy{
		InitialInterval: config.GetDuration(cfg.InitialInterval, def.InitialInterval),
		MaxInterval:     config.GetDuration(cfg.MaxInterval, def.MaxInterval),
		Multiplier:      cfg.Multiplier,
		Timeout:         config.GetDuration(cfg.Timeout, def.Timeout),
	}
	return policy.normalized()
}

func (p PollPolicy) normalized() PollPolicy {
	def := DefaultPollPolicy()
	if p.InitialInterval <= 0 {
		p.InitialInterval = def.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = def.MaxInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.Timeout <= 0 {
		p.Timeout = def.Timeout
	}
	return p
}

func (p PollPolicy) String() string {
	return fmt.Sprintf("initial=%s max=%s x%.1f timeout=%s", p.InitialInterval, p.MaxInterval, p.Multiplier, p.Timeout)
}

// next 计算下一次等待间隔
func (p PollPolicy) next(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * p.Multiplier)
	if next > p.MaxInterval {
		return p.MaxInterval
	}
	return next
}

// WaitForDocument 轮询文档状态直到 ready / failed / 超时。
// 超时返回 ErrProcessingTimeout，远程失败返回 ErrRemoteProcessingFailed，
// 状态查询失败返回 ErrStatusQueryFailed，ctx 取消时返回 ctx.Err()。
// 从未查询到状态就到期时不算超时，而是返回最后一次查询错误。
func WaitForDocument(ctx context.Context, svc ExtractionService, fileName, documentID string, policy PollPolicy) (*types.RemoteDocument, error) {
	policy = policy.normalized()
	ctx, span := tracer.Start(ctx, "WaitForDocument")
	defer span.End()
	span.SetAttributes(
		attribute.String("document.id", documentID),
		attribute.String("poll.timeout", policy.Timeout.String()),
	)

	deadline := time.NewTimer(policy.Timeout)
	defer deadline.Stop()

	interval := policy.InitialInterval
	lastStatus := types.DocumentStatusPending
	observed := false
	var lastErr error
	attempts := 0

	for {
		attempts++
		doc, err := svc.GetDocument(ctx, documentID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if isPermanentQueryError(err) {
				span.SetAttributes(attribute.Int("poll.attempts", attempts))
				return nil, NewStatusQueryError(fileName, documentID, err)
			}
			lastErr = err
			logger.Warn().Err(err).Str("document_id", documentID).Int("attempt", attempts).Msg("查询文档状态失败，稍后重试")
		case doc.Status.IsReady():
			span.SetAttributes(attribute.Int("poll.attempts", attempts))
			return doc, nil
		case doc.Status.IsFailed():
			span.SetAttributes(attribute.Int("poll.attempts", attempts))
			return doc, NewRemoteFailedError(fileName, documentID)
		default:
			observed = true
			lastErr = nil
			lastStatus = doc.Status
			logger.Debug().Str("document_id", documentID).Str("status", string(doc.Status)).
				Dur("next_wait", interval).Msg("文档仍在处理中")
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-deadline.C:
			timer.Stop()
			span.SetAttributes(attribute.Int("poll.attempts", attempts))
			if !observed && lastErr != nil {
				return nil, NewStatusQueryError(fileName, documentID, lastErr)
			}
			return nil, NewTimeoutError(fileName, documentID, string(lastStatus))
		case <-timer.C:
		}
		interval = policy.next(interval)
	}
}

// isPermanentQueryError 4xx（429 除外）重试也不会成功
func isPermanentQueryError(err error) bool {
	var apiErr *extraction.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests
}
