/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-03-01 20:12:27
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-04-25 22:41:09
 * @FilePath: \go-quantx\dispatcher.go
 * @Description: 请求分发器，子系统的统一入口
 *
 * 同步与异步两条路径共享同一套缓存、单飞与工作池：
 *  - Analyze：命中立即返回；未命中经单飞计算后返回（阻塞至多计算超时）
 *  - AnalyzeAsync：命中返回已完成的任务；未命中入队并返回PENDING任务，
 *    调用方凭任务ID轮询 TaskStatus
 * 两条路径对同一键并发时由单飞合并为一次计算
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package quantx

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/kamalyes/go-logger"
)

// DispatcherHealth 子系统健康快照
type DispatcherHealth struct {
	Status    string                 `json:"status"`          // "ok" 或 "closed"
	Hits      int64                  `json:"hits"`            // 缓存命中次数
	Misses    int64                  `json:"misses"`          // 缓存未命中次数
	HitRate   float64                `json:"hit_rate"`        // 命中率（0-1）
	InFlight  int                    `json:"in_flight"`       // 进行中的计算数
	HotKeys   int                    `json:"hot_keys"`        // 热点集合的键总数
	Pool      PoolHealth             `json:"pool"`            // 工作池快照
	Scheduler PrecomputerStats       `json:"scheduler"`       // 调度器累计统计
	Store     map[string]interface{} `json:"store,omitempty"` // 存储统计
}

// Dispatcher 请求分发器
type Dispatcher struct {
	store       Store
	resolver    *Resolver
	pool        *WorkerPool
	precomputer *Precomputer
	hotset      *HotSet
	ownStore    bool
	logger      logger.ILogger

	hits   atomic.Int64
	misses atomic.Int64
	closed atomic.Bool
}

// Analyze 同步解析：命中缓存立即返回，未命中则计算（经单飞合并）
func (d *Dispatcher) Analyze(ctx context.Context, key AnalysisKey) ([]byte, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}

	if v, err := d.store.Get(ctx, key.String()); err == nil {
		d.hits.Add(1)
		return v, nil
	} else if !errors.Is(err, ErrNotFound) {
		d.logger.Warnf("cache read failed for %s: %v, falling through to compute", key.String(), err)
	}

	d.misses.Add(1)
	return d.resolver.Resolve(ctx, key)
}

// AnalyzeAsync 异步解析：命中返回COMPLETED任务，未命中入队返回PENDING任务
// 队列满返回ErrQueueFull，调用方应稍后重试
func (d *Dispatcher) AnalyzeAsync(ctx context.Context, key AnalysisKey) (Task, error) {
	if d.closed.Load() {
		return Task{}, ErrClosed
	}
	if err := key.Validate(); err != nil {
		return Task{}, err
	}

	if v, err := d.store.Get(ctx, key.String()); err == nil {
		d.hits.Add(1)
		return d.pool.SubmitCompleted(key, v)
	}

	d.misses.Add(1)
	return d.pool.Submit(ctx, key)
}

// TaskStatus 返回任务快照；不存在或超过保留窗口返回ErrTaskNotFound
func (d *Dispatcher) TaskStatus(taskID string) (Task, error) {
	if d.closed.Load() {
		return Task{}, ErrClosed
	}
	return d.pool.Task(taskID)
}

// Invalidate 主动失效键的缓存结果，下一次请求会重新计算
func (d *Dispatcher) Invalidate(ctx context.Context, key AnalysisKey) error {
	if d.closed.Load() {
		return ErrClosed
	}
	if err := key.Validate(); err != nil {
		return err
	}
	return d.store.Del(ctx, key.String())
}

// TriggerPrecompute 手动触发一轮全层级预计算巡检，返回提交的刷新数
func (d *Dispatcher) TriggerPrecompute(ctx context.Context) int {
	if d.closed.Load() || d.precomputer == nil {
		return 0
	}
	return d.precomputer.Trigger(ctx)
}

// HotSet 返回热点集合，供运行时增删预计算键
func (d *Dispatcher) HotSet() *HotSet {
	return d.hotset
}

// Health 返回子系统健康快照
func (d *Dispatcher) Health() DispatcherHealth {
	hits := d.hits.Load()
	misses := d.misses.Load()
	hitRate := 0.0
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}

	h := DispatcherHealth{
		Status:   "ok",
		Hits:     hits,
		Misses:   misses,
		HitRate:  hitRate,
		InFlight: d.resolver.InFlight(),
		Pool:     d.pool.Health(),
		Store:    d.store.Stats(),
	}
	if d.closed.Load() {
		h.Status = "closed"
	}
	if d.hotset != nil {
		h.HotKeys = d.hotset.Len()
	}
	if d.precomputer != nil {
		h.Scheduler = d.precomputer.Stats()
	}
	return h
}

// Close 按依赖顺序关闭：先停调度器，再停工作池，最后关存储
func (d *Dispatcher) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}

	if d.precomputer != nil {
		d.precomputer.Stop()
	}
	if d.hotset != nil {
		d.hotset.Stop()
	}
	if err := d.pool.Close(); err != nil {
		d.logger.Warnf("worker pool close failed: %v", err)
	}
	if d.ownStore {
		return d.store.Close()
	}
	return nil
}
