/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-16 21:40:12
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-04-18 22:03:45
 * @FilePath: \go-quantx\quantx.go
 * @Description: 核心类型与错误定义
 *
 * go-quantx 是面向证券分析结果的计算缓存与异步任务执行子系统：
 *  - 热数据直接从缓存返回（亚毫秒级）
 *  - 冷数据通过单飞协调器合并并发计算，防止缓存击穿
 *  - 异步请求进入有界FIFO任务队列，由固定工作池消费
 *  - 预计算调度器周期性刷新热点键，保持缓存常温
 *
 * 外部协作方（不在本模块范围内）：行情数据源、具体分析算法、Web前端
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package quantx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound 表示在缓存中找不到请求的键
	// 条目不存在或已过期时返回此错误（过期条目在逻辑上视为不存在）
	ErrNotFound = errors.New("key not found in cache")

	// ErrClosed 表示组件已关闭
	// 当尝试在已关闭的实例上执行操作时返回此错误
	ErrClosed = errors.New("component is closed")

	// ErrInvalidKey 表示使用了无效的分析键
	// 当symbol或strategy为空时返回此错误
	ErrInvalidKey = errors.New("invalid analysis key")

	// ErrInvalidValue 表示使用了无效的值
	// 当传入的缓存值为nil时返回此错误
	ErrInvalidValue = errors.New("invalid cache value")

	// ErrInvalidTTL 表示使用了无效的 TTL 值
	// 当传入的过期时间为负数或其他无效值时返回此错误
	ErrInvalidTTL = errors.New("invalid TTL value")

	// ErrQueueFull 表示任务队列已满（背压信号）
	// submit快速失败而不是无界增长，调用方应稍后重试或降级为同步模式
	ErrQueueFull = errors.New("task queue is full")

	// ErrQueueClosed 表示任务队列已关闭
	// 工作协程收到此错误后退出消费循环
	ErrQueueClosed = errors.New("task queue is closed")

	// ErrTaskNotFound 表示任务不存在或已超过保留窗口
	// 调用方应视为"结果未知"，而不是任务失败
	ErrTaskNotFound = errors.New("task not found or expired")

	// ErrComputeTimeout 表示外部计算超过了截止时间
	// 超时结果不会写入缓存
	ErrComputeTimeout = errors.New("compute exceeded deadline")

	// ErrComputeMissing 表示未配置计算函数
	// 构建Dispatcher或Resolver时必须提供ComputeFunc
	ErrComputeMissing = errors.New("compute function not configured")
)

// AnalysisKey 分析计算的复合键：标的代码 + 策略名
// 例如 ("AAPL", "growth")；存储层使用其String()形式作为不透明键
type AnalysisKey struct {
	Symbol   string `json:"symbol"`   // 标的代码
	Strategy string `json:"strategy"` // 分析策略名
}

// NewAnalysisKey 创建分析键
func NewAnalysisKey(symbol, strategy string) AnalysisKey {
	return AnalysisKey{Symbol: symbol, Strategy: strategy}
}

// String 返回存储层使用的键名形式，如 "AAPL:growth"
func (k AnalysisKey) String() string {
	return k.Symbol + ":" + k.Strategy
}

// Validate 校验键的两个部分均非空
func (k AnalysisKey) Validate() error {
	if k.Symbol == "" || k.Strategy == "" {
		return ErrInvalidKey
	}
	return nil
}

// ParseAnalysisKey 从 "symbol:strategy" 形式解析分析键
func ParseAnalysisKey(s string) (AnalysisKey, error) {
	idx := strings.IndexByte(s, ':')
	if idx <= 0 || idx == len(s)-1 {
		return AnalysisKey{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	return AnalysisKey{Symbol: s[:idx], Strategy: s[idx+1:]}, nil
}

// ComputeFunc 外部分析计算函数
// 昂贵（秒级）、可能不稳定；必须遵守ctx截止时间
// 本子系统保证同一键不会被并发调用两次（不同键可以并发）
type ComputeFunc func(ctx context.Context, key AnalysisKey) ([]byte, error)

// Store 结果缓存存储接口
// 值为不透明的[]byte，由调用方负责序列化；过期条目绝不对外返回
type Store interface {
	// Get 读取值，不存在或已过期返回ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Set 无条件覆盖写入并重置TTL窗口
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Del 删除指定键（显式失效）
	Del(ctx context.Context, key string) error

	// GetTTL 返回剩余TTL（0表示无TTL），不存在返回ErrNotFound
	GetTTL(ctx context.Context, key string) (time.Duration, error)

	// SweepExpired 主动清理过期条目，返回清理数量
	SweepExpired(ctx context.Context) (int, error)

	// Stats 返回存储统计信息
	Stats() map[string]interface{}

	// Close 关闭存储并释放资源
	Close() error
}
