/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-20 20:55:41
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-03-14 22:30:18
 * @FilePath: \go-quantx\lock.go
 * @Description: 基于 Redis SetNX 的计算互斥锁
 *
 * 单飞协调器只能合并同一进程内的并发计算；当多个实例共享 RedisStore 时，
 * 可选启用本锁在实例之间去重同一键的计算：第一个拿到锁的实例执行计算，
 * 其余实例轮询缓存等待结果，超时后降级为直接计算
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package quantx

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/kamalyes/go-logger"
	"github.com/kamalyes/go-toolbox/pkg/mathx"
	"github.com/redis/go-redis/v9"
)

// ComputeLockConfig 计算锁配置
type ComputeLockConfig struct {
	TTL           time.Duration  // 锁的过期时间，默认 30s（应大于计算超时）
	RetryInterval time.Duration  // 等待重试间隔，默认 50ms
	Namespace     string         // 键名命名空间，默认 "quantx"
	Logger        logger.ILogger // 日志记录器（可选）
}

// ComputeLock 计算互斥锁
type ComputeLock struct {
	client redis.UniversalClient
	key    string
	token  string
	config ComputeLockConfig
	logger logger.ILogger
}

// NewComputeLock 创建计算锁实例
func NewComputeLock(client redis.UniversalClient, key string, config ComputeLockConfig) *ComputeLock {
	config.TTL = mathx.IfNotZero(config.TTL, 30*time.Second)
	config.RetryInterval = mathx.IfNotZero(config.RetryInterval, 50*time.Millisecond)
	config.Namespace = mathx.IfNotEmpty(config.Namespace, "quantx")

	return &ComputeLock{
		client: client,
		key:    fmt.Sprintf("%s:lock:%s", config.Namespace, key),
		config: config,
		logger: mathx.IfEmpty(config.Logger, NewDefaultQuantxLogger()),
	}
}

// generateLockToken 生成锁令牌，保证只有持有者能释放自己的锁
func generateLockToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// TryLock 尝试获取锁（非阻塞）
func (l *ComputeLock) TryLock(ctx context.Context) (bool, error) {
	// 重新生成token确保每次获取锁都有唯一标识
	l.token = generateLockToken()

	// 使用SET命令的NX和EX选项原子性地设置锁
	result, err := l.client.SetNX(ctx, l.key, l.token, l.config.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}

	if result {
		l.logger.Debugf("compute lock acquired for %s, token: %s", l.key, l.token)
	}
	return result, nil
}

// Unlock 释放锁
func (l *ComputeLock) Unlock(ctx context.Context) error {
	// 使用Lua脚本确保只能释放自己持有的锁
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`

	return l.client.Eval(ctx, script, []string{l.key}, l.token).Err()
}
