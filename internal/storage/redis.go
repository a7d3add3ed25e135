package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"resume-extractor/internal/config"
	"resume-extractor/internal/constants"
	"resume-extractor/internal/tracing"
	"resume-extractor/internal/types"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

var redisTracer = otel.Tracer("resume-extractor/storage/redis")

// Redis 封装 go-redis 客户端，提供去重与结果缓存
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
}

// NewRedisAdapter 创建Redis连接并注册 OpenTelemetry 钩子
func NewRedisAdapter(ctx context.Context, cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,

		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,

		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: time.Duration(cfg.MinRetryBackoffMS) * time.Millisecond,
		MaxRetryBackoff: time.Duration(cfg.MaxRetryBackoffMS) * time.Millisecond,
	})

	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("failed to instrument Redis with OpenTelemetry: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.Ping(pingCtx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	return &Redis{
		Client: client,
		config: cfg,
	}, nil
}

// NewRedisWithClient 使用已有客户端构建，主要用于测试
func NewRedisWithClient(client *redis.Client, cfg *config.RedisConfig) *Redis {
	if cfg == nil {
		cfg = &config.RedisConfig{}
	}
	return &Redis{Client: client, config: cfg}
}

// Close closes the Redis client connection
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Ping checks the Redis connection
func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return r.Client.Ping(ctx).Err()
}

// GetMD5ExpireDuration 返回配置的MD5记录过期时间
func (r *Redis) GetMD5ExpireDuration() time.Duration {
	days := r.config.MD5RecordExpireDays
	if days <= 0 {
		days = 365
	}
	return time.Duration(days) * 24 * time.Hour
}

// ProfileCacheTTL 返回配置的结果缓存时间
func (r *Redis) ProfileCacheTTL() time.Duration {
	hours := r.config.ProfileCacheTTLHours
	if hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}

func (r *Redis) startSpan(ctx context.Context, name, operation, key string) (context.Context, trace.Span) {
	ctx, span := redisTracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		semconv.DBSystemRedis,
		attribute.String("db.redis.database", fmt.Sprintf("%d", r.config.DB)),
		attribute.String("net.peer.name", r.config.Address),
		attribute.String("db.operation", operation),
		attribute.String("db.redis.key", tracing.SafeRedisKey(key)),
	)
	return ctx, span
}

// checkAndSetScript 原子地写入 md5->uuid 映射并加入去重集合，已存在时返回旧的 uuid
var checkAndSetScript = redis.NewScript(`
	local existing = redis.call('GET', KEYS[1])
	if existing then
		return existing
	end
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
	redis.call('SADD', KEYS[2], ARGV[3])
	redis.call('PEXPIRE', KEYS[2], ARGV[2])
	return false
`)

// CheckAndSetFileMD5 检查文件MD5是否已提交过，未提交时记录为当前 submissionUUID。
// expiry <= 0 时使用配置的过期时间。
func (r *Redis) CheckAndSetFileMD5(ctx context.Context, md5Hex, submissionUUID string, expiry time.Duration) (string, bool, error) {
	mapKey := fmt.Sprintf(constants.KeyFileMD5ToSubmissionUUID, md5Hex)
	ctx, span := r.startSpan(ctx, "Redis.CheckAndSetFileMD5", "EVAL", mapKey)
	defer span.End()

	if r.Client == nil {
		err := fmt.Errorf("redis client is not initialized")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", false, err
	}
	if expiry <= 0 {
		expiry = r.GetMD5ExpireDuration()
	}

	res, err := checkAndSetScript.Run(ctx, r.Client,
		[]string{mapKey, constants.KeyFileMD5Set},
		submissionUUID, expiry.Milliseconds(), md5Hex).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", false, fmt.Errorf("执行原子检查和添加操作失败: %w", err)
	}

	existing, _ := res.(string)
	exists := existing != ""
	span.SetAttributes(attribute.Bool("already_exists", exists))
	span.SetStatus(codes.Ok, "")
	return existing, exists, nil
}

// RemoveFileMD5 删除MD5记录，允许同一文件重新提交
func (r *Redis) RemoveFileMD5(ctx context.Context, md5Hex string) error {
	mapKey := fmt.Sprintf(constants.KeyFileMD5ToSubmissionUUID, md5Hex)
	ctx, span := r.startSpan(ctx, "Redis.RemoveFileMD5", "DEL", mapKey)
	defer span.End()

	pipe := r.Client.TxPipeline()
	pipe.Del(ctx, mapKey)
	pipe.SRem(ctx, constants.KeyFileMD5Set, md5Hex)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("移除MD5记录失败: %w", err)
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// CacheProfileResult 缓存一次处理结果，ttl <= 0 时使用配置值
func (r *Redis) CacheProfileResult(ctx context.Context, result types.ProfileResult, ttl time.Duration) error {
	if result.SubmissionUUID == "" {
		return fmt.Errorf("缓存结果缺少 submission uuid")
	}
	key := fmt.Sprintf(constants.KeyProfileResult, result.SubmissionUUID)
	ctx, span := r.startSpan(ctx, "Redis.CacheProfileResult", "SET", key)
	defer span.End()

	data, err := json.Marshal(result)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("序列化处理结果失败: %w", err)
	}
	if ttl <= 0 {
		ttl = r.ProfileCacheTTL()
	}
	if err := r.Client.Set(ctx, key, data, ttl).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// GetProfileResult 读取缓存的处理结果，未命中返回 nil, nil
func (r *Redis) GetProfileResult(ctx context.Context, submissionUUID string) (*types.ProfileResult, error) {
	key := fmt.Sprintf(constants.KeyProfileResult, submissionUUID)
	ctx, span := r.startSpan(ctx, "Redis.GetProfileResult", "GET", key)
	defer span.End()

	data, err := r.Client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			span.SetAttributes(attribute.Bool("db.redis.key_exists", false))
			span.SetStatus(codes.Ok, "key not found")
			return nil, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var result types.ProfileResult
	if err := json.Unmarshal(data, &result); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("解析缓存结果失败: %w", err)
	}
	span.SetAttributes(attribute.Bool("db.redis.key_exists", true))
	span.SetStatus(codes.Ok, "")
	return &result, nil
}
