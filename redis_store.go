/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-18 21:02:33
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-04-02 23:17:54
 * @FilePath: \go-quantx\redis_store.go
 * @Description: Redis 结果存储适配器（RedisStore）
 * 接口映射到 Redis 客户端调用主要职责：
 *  - 提供 Redis 版本的 Get/Set/Del/GetTTL 实现，返回和接受 []byte
 *    以保持与抽象 `Store` 的兼容性
 *  - 大值使用 Zlib 压缩以节省 Redis 内存，读取时自动解压
 *  - 写入时应用 TTL 随机抖动，避免大批结果同时失效引发缓存雪崩
 *  - 写入失败时按配置重试（指数场景交给 retry 包）
 *  - 适合作为多实例共享的结果存储使用，过期由 Redis 原生完成
 *
 * 使用注意：
 *  - 值以二进制形式写入 Redis，序列化/反序列化由调用方负责
 *  - 调用方应管理好配置与凭据（`RedisConfig`），并注意 Redis 客户端的生命周期
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package quantx

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/kamalyes/go-logger"
	"github.com/kamalyes/go-toolbox/pkg/mathx"
	"github.com/kamalyes/go-toolbox/pkg/retry"
	"github.com/kamalyes/go-toolbox/pkg/zipx"
	"github.com/redis/go-redis/v9"
)

// RedisConfig 是 Redis 的连接配置结构
type RedisConfig struct {
	Host     string
	Port     int
	DB       int
	Username string
	Password string
}

// LoadRedisConfigFromFile 从文件加载 Redis 配置
func LoadRedisConfigFromFile(configPath string) (*RedisConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	c := &RedisConfig{}
	if err := jsoniter.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return c, nil
}

// RedisStoreConfig 是 RedisStore 的行为配置
type RedisStoreConfig struct {
	Namespace         string         // 键名命名空间前缀，默认 "quantx"
	CompressThreshold int            // 压缩阈值（字节），值达到该大小才压缩；<0 表示禁用压缩，默认 1024
	JitterPercent     float64        // TTL 随机抖动百分比（0-1），默认 0.005 即 ±0.5%
	MaxRetries        int            // 写入失败的重试次数，默认 2
	RetryDelay        time.Duration  // 重试间隔，默认 50ms
	Logger            logger.ILogger // 日志记录器（可选，不设置则使用默认）
}

// RedisStore 是 Redis 结果存储的实现，实现 Store 接口
type RedisStore struct {
	client    redis.UniversalClient
	config    RedisStoreConfig
	ownClient bool
	closed    atomic.Bool
	logger    logger.ILogger
}

// NewRedisStore 基于已有客户端创建 RedisStore（客户端生命周期由调用方管理）
func NewRedisStore(client redis.UniversalClient, config ...RedisStoreConfig) *RedisStore {
	cfg := RedisStoreConfig{}
	if len(config) > 0 {
		cfg = config[0]
	}
	cfg.Namespace = mathx.IfNotEmpty(cfg.Namespace, "quantx")
	if cfg.CompressThreshold == 0 {
		cfg.CompressThreshold = 1024
	}
	if cfg.JitterPercent <= 0 {
		cfg.JitterPercent = 0.005
	}
	cfg.JitterPercent = mathx.Between(cfg.JitterPercent, 0.0, 1.0)
	cfg.MaxRetries = mathx.IF(cfg.MaxRetries > 0, cfg.MaxRetries, 2)
	cfg.RetryDelay = mathx.IfNotZero(cfg.RetryDelay, 50*time.Millisecond)

	return &RedisStore{
		client: client,
		config: cfg,
		logger: mathx.IfEmpty(cfg.Logger, NewDefaultQuantxLogger()),
	}
}

// NewRedisStoreFromConfig 根据连接配置创建 RedisStore（客户端由 Store 持有并随 Close 释放）
func NewRedisStoreFromConfig(cfg *RedisConfig, config ...RedisStoreConfig) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	s := NewRedisStore(client, config...)
	s.ownClient = true
	return s
}

// storeKey 获取带命名空间的键名
func (s *RedisStore) storeKey(key string) string {
	return fmt.Sprintf("%s:result:%s", s.config.Namespace, key)
}

// Get 读取值，不存在返回ErrNotFound；压缩数据自动解压
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateBasicOp(key, s.closed.Load()); err != nil {
		return nil, err
	}

	data, err := s.client.Get(ctx, s.storeKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	// 尝试解压，失败则视为未压缩的原始数据
	if decompressed, derr := zipx.ZlibDecompress(data); derr == nil {
		return decompressed, nil
	}
	return data, nil
}

// Set 写入值并设置TTL，按阈值压缩、按配置抖动TTL，写入失败时重试
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ValidateWriteOp(key, value, ttl, s.closed.Load()); err != nil {
		return err
	}

	payload := value
	if s.config.CompressThreshold >= 0 && len(value) >= s.config.CompressThreshold {
		compressed, err := zipx.ZlibCompress(value)
		if err != nil {
			// 压缩失败不致命，降级为原始数据写入
			s.logger.Warnf("RedisStore compress failed for key %s: %v, storing raw", key, err)
		} else {
			payload = compressed
		}
	}

	expiration := s.jitterTTL(ttl)

	retrier := retry.NewRetryWithCtx(ctx).
		SetAttemptCount(s.config.MaxRetries + 1).
		SetInterval(s.config.RetryDelay).
		SetCaller(fmt.Sprintf("RedisStore.Set(%s)", key))
	retrier.SetErrCallback(func(nowAttemptCount, remainCount int, err error, funcName ...string) {
		s.logger.Warnf("Set attempt %d failed for key %s: %v", nowAttemptCount, key, err)
	})

	return retrier.Do(func() error {
		return s.client.Set(ctx, s.storeKey(key), payload, expiration).Err()
	})
}

// jitterTTL 对 TTL 应用随机抖动，ttl<=0 时原样返回（-1 在 redis 中表示不过期）
func (s *RedisStore) jitterTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		if ttl == -1 {
			return 0 // redis 中 0 表示不过期
		}
		return ttl
	}
	jitterRange := float64(ttl) * s.config.JitterPercent
	if jitterRange < 1 {
		return ttl
	}
	jitter := rand.Int63n(int64(jitterRange*2)) - int64(jitterRange)
	result := ttl + time.Duration(jitter)
	if result <= 0 {
		result = time.Second
	}
	return result
}

// Del 删除指定键
func (s *RedisStore) Del(ctx context.Context, key string) error {
	if err := ValidateBasicOp(key, s.closed.Load()); err != nil {
		return err
	}
	return s.client.Del(ctx, s.storeKey(key)).Err()
}

// GetTTL 返回剩余TTL（0 表示无TTL），不存在返回ErrNotFound
func (s *RedisStore) GetTTL(ctx context.Context, key string) (time.Duration, error) {
	if err := ValidateBasicOp(key, s.closed.Load()); err != nil {
		return 0, err
	}

	ttl, err := s.client.TTL(ctx, s.storeKey(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis ttl failed: %w", err)
	}
	if ttl < 0 {
		// -1 表示无过期时间，-2 表示键不存在
		if ttl == -1 || ttl == -time.Second {
			return 0, nil
		}
		return 0, ErrNotFound
	}
	return ttl, nil
}

// SweepExpired Redis 原生完成过期清理，这里始终返回0
func (s *RedisStore) SweepExpired(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	return 0, nil
}

// Stats 返回存储统计信息
func (s *RedisStore) Stats() map[string]interface{} {
	return map[string]interface{}{
		"store_type": "redis",
		"namespace":  s.config.Namespace,
		"closed":     s.closed.Load(),
	}
}

// Close 关闭存储；仅在客户端由本实例创建时关闭底层连接
func (s *RedisStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.ownClient {
		return s.client.Close()
	}
	return nil
}
