/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-28 20:26:48
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-04-22 23:08:12
 * @FilePath: \go-quantx\scheduler.go
 * @Description: 预计算调度器
 *
 * 按层级节奏巡检热点集合，把缺失或临近过期的结果提前刷新，
 * 让热点键的请求几乎总是命中缓存：
 *  - 缓存缺失 -> 立即刷新
 *  - 剩余TTL低于阈值 -> 刷新（阈值按结果TTL的比例计算）
 *  - 无过期时间的条目跳过
 * 刷新任务走工作池的同一条队列，受同样的容量与并发上限约束；
 * 队列满时放弃本轮刷新并记录，等待下一轮巡检重试
 * 全局限速器约束刷新提交速率，防止巡检风暴挤占用户请求
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package quantx

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kamalyes/go-logger"
	"github.com/kamalyes/go-toolbox/pkg/mathx"
	"github.com/kamalyes/go-toolbox/pkg/syncx"
	"golang.org/x/time/rate"
)

// TierConfig 单个调度层级的配置
type TierConfig struct {
	Name             string        // 层级名，对应热点集合中的层级
	Interval         time.Duration // 巡检间隔，默认 1m
	RefreshThreshold float64       // 刷新阈值（结果TTL的比例），默认 0.2
}

// PrecomputerConfig 预计算调度器配置
type PrecomputerConfig struct {
	Tiers     []TierConfig   // 调度层级，默认 hot(5m)/warm(15m)
	ResultTTL time.Duration  // 结果缓存时长，用于计算刷新阈值，默认 5m
	RateLimit rate.Limit     // 刷新提交的全局速率上限（次/秒），默认 50
	RateBurst int            // 速率突发额度，默认 10
	Logger    logger.ILogger // 日志记录器（可选）
}

// PrecomputerStats 调度器累计统计
type PrecomputerStats struct {
	RefreshQueued  int64 `json:"refresh_queued"`   // 已提交的刷新任务数
	RefreshSkipped int64 `json:"refresh_skipped"`  // TTL充足被跳过的键数
	QueueFullDrops int64 `json:"queue_full_drops"` // 因队列满被放弃的刷新数
}

// Precomputer 预计算调度器
type Precomputer struct {
	store   Store
	pool    *WorkerPool
	hotset  *HotSet
	config  PrecomputerConfig
	limiter *rate.Limiter
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   logger.ILogger

	refreshQueued  atomic.Int64
	refreshSkipped atomic.Int64
	queueFullDrops atomic.Int64
}

// NewPrecomputer 创建并启动预计算调度器
func NewPrecomputer(store Store, pool *WorkerPool, hotset *HotSet, config ...PrecomputerConfig) *Precomputer {
	cfg := PrecomputerConfig{}
	if len(config) > 0 {
		cfg = config[0]
	}
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = []TierConfig{
			{Name: "hot", Interval: 5 * time.Minute, RefreshThreshold: 0.2},
			{Name: "warm", Interval: 15 * time.Minute, RefreshThreshold: 0.2},
		}
	}
	for i := range cfg.Tiers {
		cfg.Tiers[i].Interval = mathx.IfNotZero(cfg.Tiers[i].Interval, time.Minute)
		if cfg.Tiers[i].RefreshThreshold <= 0 || cfg.Tiers[i].RefreshThreshold >= 1 {
			cfg.Tiers[i].RefreshThreshold = 0.2
		}
	}
	cfg.ResultTTL = mathx.IfNotZero(cfg.ResultTTL, 5*time.Minute)
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = rate.Limit(50)
	}
	cfg.RateBurst = mathx.IF(cfg.RateBurst > 0, cfg.RateBurst, 10)

	p := &Precomputer{
		store:   store,
		pool:    pool,
		hotset:  hotset,
		config:  cfg,
		limiter: rate.NewLimiter(cfg.RateLimit, cfg.RateBurst),
		stop:    make(chan struct{}),
		logger:  mathx.IfEmpty(cfg.Logger, NewDefaultQuantxLogger()),
	}

	for _, tier := range cfg.Tiers {
		tc := tier
		p.wg.Add(1)
		syncx.Go().
			OnPanic(func(rec interface{}) {
				p.logger.Errorf("Panic in precompute tier %s: %v", tc.Name, rec)
			}).
			Exec(func() {
				p.tierLoop(tc)
			})
	}
	p.logger.Infof("precomputer started with %d tiers", len(cfg.Tiers))
	return p
}

// tierLoop 单层级的巡检循环
func (p *Precomputer) tierLoop(tier TierConfig) {
	defer p.wg.Done()
	ticker := time.NewTicker(tier.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			queued := p.sweepTier(context.Background(), tier)
			if queued > 0 {
				p.logger.Debugf("precompute tier %s queued %d refreshes", tier.Name, queued)
			}
		case <-p.stop:
			return
		}
	}
}

// sweepTier 巡检一个层级，返回本轮提交的刷新任务数
func (p *Precomputer) sweepTier(ctx context.Context, tier TierConfig) int {
	keys := p.hotset.Keys(tier.Name)
	if len(keys) == 0 {
		return 0
	}

	threshold := time.Duration(float64(p.config.ResultTTL) * tier.RefreshThreshold)
	queued := 0
	for _, key := range keys {
		select {
		case <-p.stop:
			return queued
		case <-ctx.Done():
			return queued
		default:
		}

		if !p.needsRefresh(ctx, key, threshold) {
			p.refreshSkipped.Add(1)
			continue
		}

		// 限速：巡检风暴不能挤占用户请求的队列与工作协程
		if err := p.limiter.Wait(ctx); err != nil {
			return queued
		}

		if _, err := p.pool.SubmitRefresh(ctx, key); err != nil {
			if errors.Is(err, ErrQueueFull) {
				// 队列满说明系统已经忙不过来，放弃本轮等下一轮巡检
				p.queueFullDrops.Add(1)
				p.logger.Warnf("precompute tier %s dropped refresh for %s: queue full", tier.Name, key.String())
				continue
			}
			p.logger.Warnf("precompute tier %s submit failed for %s: %v", tier.Name, key.String(), err)
			continue
		}
		p.refreshQueued.Add(1)
		queued++
	}
	return queued
}

// needsRefresh 判断键是否需要刷新：缺失或剩余TTL低于阈值
func (p *Precomputer) needsRefresh(ctx context.Context, key AnalysisKey, threshold time.Duration) bool {
	ttl, err := p.store.GetTTL(ctx, key.String())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return true
		}
		p.logger.Warnf("precompute ttl probe failed for %s: %v", key.String(), err)
		return false
	}
	// ttl==0 表示无过期时间，永远不需要刷新
	if ttl == 0 {
		return false
	}
	return ttl < threshold
}

// Trigger 手动触发全部层级的一轮巡检，返回提交的刷新任务总数
func (p *Precomputer) Trigger(ctx context.Context) int {
	total := 0
	for _, tier := range p.config.Tiers {
		total += p.sweepTier(ctx, tier)
	}
	return total
}

// TriggerTier 手动触发指定层级的一轮巡检
func (p *Precomputer) TriggerTier(ctx context.Context, name string) int {
	for _, tier := range p.config.Tiers {
		if tier.Name == name {
			return p.sweepTier(ctx, tier)
		}
	}
	return 0
}

// Stats 返回调度器累计统计
func (p *Precomputer) Stats() PrecomputerStats {
	return PrecomputerStats{
		RefreshQueued:  p.refreshQueued.Load(),
		RefreshSkipped: p.refreshSkipped.Load(),
		QueueFullDrops: p.queueFullDrops.Load(),
	}
}

// Stop 停止全部巡检循环
func (p *Precomputer) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
	})
	p.wg.Wait()
}
