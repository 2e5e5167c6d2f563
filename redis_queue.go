/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-25 21:14:33
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-04-10 20:28:56
 * @FilePath: \go-quantx\redis_queue.go
 * @Description: 基于 Redis List 的FIFO任务队列
 *
 * RPUSH + BLPOP 天然保证先进先出；容量检查（LLEN）与入队之间存在窗口，
 * 多实例并发提交时队列可能短暂超出容量上限，背压语义按尽力而为处理
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package quantx

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/kamalyes/go-logger"
	"github.com/kamalyes/go-toolbox/pkg/mathx"
	"github.com/redis/go-redis/v9"
)

// RedisQueueConfig Redis 队列配置
type RedisQueueConfig struct {
	Name        string         // 队列名，默认 "default"
	Namespace   string         // 键名命名空间，默认 "quantx"
	Capacity    int            // 容量上限，默认 256
	PopTimeout  time.Duration  // 单次BLPOP的阻塞时长，默认 1s
	Logger      logger.ILogger // 日志记录器（可选）
}

// RedisQueue 基于 Redis List 的任务队列，可在多实例间共享
type RedisQueue struct {
	client redis.UniversalClient
	key    string
	config RedisQueueConfig
	closed atomic.Bool
	logger logger.ILogger
}

// NewRedisQueue 创建 Redis 队列（客户端生命周期由调用方管理）
func NewRedisQueue(client redis.UniversalClient, config ...RedisQueueConfig) *RedisQueue {
	cfg := RedisQueueConfig{}
	if len(config) > 0 {
		cfg = config[0]
	}
	cfg.Name = mathx.IfNotEmpty(cfg.Name, "default")
	cfg.Namespace = mathx.IfNotEmpty(cfg.Namespace, "quantx")
	cfg.Capacity = mathx.IF(cfg.Capacity > 0, cfg.Capacity, 256)
	cfg.PopTimeout = mathx.IfNotZero(cfg.PopTimeout, time.Second)

	return &RedisQueue{
		client: client,
		key:    fmt.Sprintf("%s:queue:fifo:%s", cfg.Namespace, cfg.Name),
		config: cfg,
		logger: mathx.IfEmpty(cfg.Logger, NewDefaultQuantxLogger()),
	}
}

// Enqueue 非阻塞入队，超过容量返回ErrQueueFull
func (q *RedisQueue) Enqueue(ctx context.Context, taskID string) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}

	length, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return fmt.Errorf("redis llen failed: %w", err)
	}
	if length >= int64(q.config.Capacity) {
		return ErrQueueFull
	}

	if err := q.client.RPush(ctx, q.key, taskID).Err(); err != nil {
		return fmt.Errorf("redis rpush failed: %w", err)
	}
	return nil
}

// Dequeue 出队；空队列阻塞至多PopTimeout后返回ok=false让调用方检查关闭状态
func (q *RedisQueue) Dequeue(ctx context.Context) (string, bool, error) {
	if q.closed.Load() {
		return "", false, ErrQueueClosed
	}

	vals, err := q.client.BLPop(ctx, q.config.PopTimeout, q.key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", false, nil
		}
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		return "", false, fmt.Errorf("redis blpop failed: %w", err)
	}
	// BLPOP 返回 [key, value]
	if len(vals) < 2 {
		return "", false, nil
	}
	return vals[1], true, nil
}

// Len 返回当前排队数量
func (q *RedisQueue) Len() int {
	length, err := q.client.LLen(context.Background(), q.key).Result()
	if err != nil {
		q.logger.Warnf("redis llen failed for %s: %v", q.key, err)
		return 0
	}
	return int(length)
}

// Close 标记队列关闭；列表数据保留在 Redis 中供其他实例继续消费
func (q *RedisQueue) Close() error {
	q.closed.Store(true)
	return nil
}
